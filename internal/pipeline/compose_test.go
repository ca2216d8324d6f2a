package pipeline

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/overlays"
	"github.com/keagan/reelcut/internal/session"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestBlendModes(t *testing.T) {
	base := color.RGBA{R: 200, G: 100, B: 0, A: 255}
	top := color.RGBA{R: 100, G: 200, B: 255, A: 255}

	tests := []struct {
		mode    overlays.Blend
		opacity float64
		want    color.RGBA
	}{
		{overlays.BlendNormal, 1, top},
		{overlays.BlendNormal, 0.5, color.RGBA{R: 150, G: 150, B: 128, A: 255}},
		{overlays.BlendMultiply, 1, color.RGBA{R: 78, G: 78, B: 0, A: 255}},
		{overlays.BlendScreen, 1, color.RGBA{R: 222, G: 222, B: 255, A: 255}},
		{overlays.BlendLighten, 1, color.RGBA{R: 200, G: 200, B: 255, A: 255}},
		{overlays.BlendDarken, 1, color.RGBA{R: 100, G: 100, B: 0, A: 255}},
		{overlays.BlendDarken, 0.5, color.RGBA{R: 150, G: 100, B: 0, A: 255}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			dst := solid(4, 4, base)
			blend(dst, solid(2, 2, top), image.Pt(1, 1), tt.opacity, tt.mode)
			if got := dst.RGBAAt(1, 1); !closeColor(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if got := dst.RGBAAt(0, 0); got != base {
				t.Errorf("pixels outside the layer changed: %v", got)
			}
		})
	}
}

func closeColor(a, b color.RGBA) bool {
	d := func(x, y uint8) bool { return x-y <= 1 || y-x <= 1 }
	return d(a.R, b.R) && d(a.G, b.G) && d(a.B, b.B) && a.A == b.A
}

func TestBlendClipsToFrame(t *testing.T) {
	dst := solid(4, 4, color.RGBA{A: 255})
	blend(dst, solid(4, 4, color.RGBA{R: 255, A: 255}), image.Pt(2, -2), 1, overlays.BlendScreen)
	if got := dst.RGBAAt(3, 1); got.R != 255 {
		t.Errorf("expected the visible corner drawn, got %v", got)
	}
	if got := dst.RGBAAt(1, 1); got.R != 0 {
		t.Errorf("expected left half untouched, got %v", got)
	}
	// fully off-frame is a no-op
	blend(dst, solid(2, 2, color.RGBA{G: 255, A: 255}), image.Pt(10, 10), 1, overlays.BlendNormal)
}

func TestComposeText(t *testing.T) {
	dst := solid(200, 60, color.RGBA{A: 255})
	o := overlays.NewText("Hi", 0, overlays.Position{X: 10, Y: 10})
	c := NewCompositor(nil)
	c.Compose(dst, []*overlays.OverlayClip{o})

	lit := 0
	for y := 0; y < 60; y++ {
		for x := 0; x < 200; x++ {
			if px := dst.RGBAAt(x, y); px.R > 0 {
				if x < 10 || y < 10 {
					t.Fatalf("text drawn outside its position at %d,%d", x, y)
				}
				lit++
			}
		}
	}
	if lit == 0 {
		t.Fatal("expected text pixels")
	}
	if len(c.cache) != 1 {
		t.Errorf("expected the raster cached, got %d entries", len(c.cache))
	}
	c.Compose(dst, []*overlays.OverlayClip{o})
	if len(c.cache) != 1 {
		t.Error("unchanged text should reuse the cached raster")
	}
}

func TestRasterizeTextScalesToFontSize(t *testing.T) {
	small := rasterizeText(overlays.TextPayload{Text: "ab\ncd", FontSize: 13, Color: "#f00"}, 1).Bounds()
	large := rasterizeText(overlays.TextPayload{Text: "ab\ncd", FontSize: 26, Color: "#f00"}, 1).Bounds()
	if large.Dx() <= small.Dx() || large.Dy() <= small.Dy() {
		t.Fatalf("26px raster %v not larger than 13px %v", large, small)
	}
	if d := large.Dy() - 2*small.Dy(); d < -2 || d > 2 {
		t.Errorf("expected height to double, got %d and %d", small.Dy(), large.Dy())
	}

	scaled := rasterizeText(overlays.TextPayload{Text: "ab\ncd", FontSize: 13, Color: "#f00"}, 2).Bounds()
	if scaled.Dx() != large.Dx() || scaled.Dy() != large.Dy() {
		t.Errorf("13px at scale 2 = %v, want %v", scaled, large)
	}
}

func TestRasterizeTextUsesFamily(t *testing.T) {
	regular := rasterizeText(overlays.TextPayload{Text: "iiii", FontSize: 32, FontFamily: "Arial"}, 1).Bounds()
	mono := rasterizeText(overlays.TextPayload{Text: "iiii", FontSize: 32, FontFamily: "Courier New"}, 1).Bounds()
	if mono.Dx() <= regular.Dx() {
		t.Errorf("monospace i should be wider: mono %d, regular %d", mono.Dx(), regular.Dx())
	}

	for _, family := range []string{"", "Arial", "Go Mono Bold Italic", "Helvetica Medium"} {
		if _, err := fontFor(family); err != nil {
			t.Errorf("fontFor(%q): %v", family, err)
		}
	}
}

func TestComposeSkipsUnregisteredImage(t *testing.T) {
	dst := solid(4, 4, color.RGBA{A: 255})
	o := overlays.NewImage("missing.png", 0, overlays.Position{})
	NewCompositor(overlays.NewRegistry()).Compose(dst, []*overlays.OverlayClip{o})
	if dst.RGBAAt(0, 0) != (color.RGBA{A: 255}) {
		t.Error("an image that never loaded must not be drawn")
	}
}

func TestComposeScalesImage(t *testing.T) {
	reg := overlays.NewRegistry()
	reg.Register("dot.png", solid(2, 2, color.RGBA{G: 255, A: 255}))
	o := overlays.NewImage("dot.png", 0, overlays.Position{})
	o.Scale = 2

	dst := solid(8, 8, color.RGBA{A: 255})
	NewCompositor(reg).Compose(dst, []*overlays.OverlayClip{o})
	if dst.RGBAAt(3, 3).G != 255 || dst.RGBAAt(5, 5).G != 0 {
		t.Errorf("expected a 4x4 layer, got %v at 3,3 and %v at 5,5", dst.RGBAAt(3, 3), dst.RGBAAt(5, 5))
	}
}

func TestParseColor(t *testing.T) {
	tests := map[string]color.Color{
		"#ff8000": color.RGBA{R: 255, G: 128, A: 255},
		"#0f0":    color.RGBA{G: 255, A: 255},
		"nope":    color.White,
		"#zzzzzz": color.White,
	}
	for in, want := range tests {
		if got := parseColor(in); got != want {
			t.Errorf("parseColor(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoadImagesSkipsOutOfRangeAndBroken(t *testing.T) {
	dir := t.TempDir()
	good := dir + "/good.png"
	writePNG(t, good, solid(2, 2, color.RGBA{R: 255, A: 255}))
	broken := dir + "/broken.png"
	if err := os.WriteFile(broken, []byte("not a png"), 0644); err != nil {
		t.Fatal(err)
	}

	inRange := overlays.NewImage(good, 0, overlays.Position{})
	bad := overlays.NewImage(broken, 0, overlays.Position{})
	late := overlays.NewImage(dir+"/late.png", 20, overlays.Position{})

	reg := LoadImages(zerolog.Nop(), []*overlays.OverlayClip{inRange, bad, late}, 0, 10)
	if got := reg.List(); len(got) != 1 || got[0] != good {
		t.Errorf("expected only the decodable in-range image, got %v", got)
	}
}

func TestOnLoopRunsSuspendOnLoop(t *testing.T) {
	loop := session.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	inner := &fakeSuspender{}
	restore := OnLoop(loop, inner).Suspend()
	if inner.suspended != 1 {
		t.Fatal("suspend should have run before returning")
	}
	restore()
	if inner.restored != 1 {
		t.Error("restore should have run before returning")
	}
}
