package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/nfnt/resize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonobolditalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/keagan/reelcut/internal/overlays"
)

// Compositor draws overlays over decoded frames.
type Compositor struct {
	images *overlays.Registry
	cache  map[string]image.Image
}

// NewCompositor draws image overlays from images.
func NewCompositor(images *overlays.Registry) *Compositor {
	if images == nil {
		images = overlays.NewRegistry()
	}
	return &Compositor{
		images: images,
		cache:  make(map[string]image.Image),
	}
}

// Compose draws list in order over dst. Overlays whose image was never
// registered are skipped.
func (c *Compositor) Compose(dst *image.RGBA, list []*overlays.OverlayClip) {
	for _, o := range list {
		if o.Opacity <= 0 {
			continue
		}
		layer := c.layer(o)
		if layer == nil {
			continue
		}
		blend(dst, layer, image.Pt(o.Position.X, o.Position.Y), o.Opacity, o.Blend)
	}
}

// layer returns the overlay rasterized at its scale.
func (c *Compositor) layer(o *overlays.OverlayClip) image.Image {
	scale := o.Scale
	if scale <= 0 {
		scale = 1
	}

	switch p := o.Payload.(type) {
	case overlays.TextPayload:
		key := fmt.Sprintf("text|%s|%d|%s|%s|%.3f", p.Text, p.FontSize, p.FontFamily, p.Color, scale)
		if img, ok := c.cache[key]; ok {
			return img
		}
		img := rasterizeText(p, scale)
		c.cache[key] = img
		return img

	case overlays.ImagePayload:
		src, ok := c.images.Get(p.Source)
		if !ok {
			return nil
		}
		if scale == 1 {
			return src
		}
		key := fmt.Sprintf("image|%s|%.3f", p.Source, scale)
		if img, ok := c.cache[key]; ok {
			return img
		}
		b := src.Bounds()
		w := uint(math.Max(1, math.Round(float64(b.Dx())*scale)))
		h := uint(math.Max(1, math.Round(float64(b.Dy())*scale)))
		img := resize.Resize(w, h, src, resize.Bilinear)
		c.cache[key] = img
		return img
	}
	return nil
}

// rasterizeText draws p with the Go font matching its family at the
// requested size times scale.
func rasterizeText(p overlays.TextPayload, scale float64) image.Image {
	size := float64(p.FontSize)
	if size <= 0 {
		size = overlays.DefaultFontSize
	}
	f, err := fontFor(p.FontFamily)
	if err != nil {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    math.Max(1, size*scale),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	defer face.Close()

	lines := strings.Split(p.Text, "\n")
	width := 1
	for _, line := range lines {
		if w := font.MeasureString(face, line).Ceil(); w > width {
			width = w
		}
	}
	m := face.Metrics()
	lineHeight := m.Height.Ceil()
	img := image.NewRGBA(image.Rect(0, 0, width, lineHeight*len(lines)))

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(parseColor(p.Color)),
		Face: face,
	}
	ascent := m.Ascent.Ceil()
	for i, line := range lines {
		d.Dot = fixed.P(0, i*lineHeight+ascent)
		d.DrawString(line)
	}
	return img
}

var (
	fontsMu sync.Mutex
	fonts   = map[string]*opentype.Font{}
)

// fontFor maps a family name onto the bundled Go fonts. Monospace families
// get Go Mono, and bold or italic in the name picks that style.
func fontFor(family string) (*opentype.Font, error) {
	name := strings.ToLower(family)
	mono := strings.Contains(name, "mono") || strings.Contains(name, "courier") || strings.Contains(name, "consol")
	bold := strings.Contains(name, "bold") || strings.Contains(name, "black")
	italic := strings.Contains(name, "italic") || strings.Contains(name, "oblique")

	var key string
	var ttf []byte
	switch {
	case mono && bold && italic:
		key, ttf = "gomonobolditalic", gomonobolditalic.TTF
	case mono && bold:
		key, ttf = "gomonobold", gomonobold.TTF
	case mono && italic:
		key, ttf = "gomonoitalic", gomonoitalic.TTF
	case mono:
		key, ttf = "gomono", gomono.TTF
	case bold && italic:
		key, ttf = "gobolditalic", gobolditalic.TTF
	case bold:
		key, ttf = "gobold", gobold.TTF
	case italic:
		key, ttf = "goitalic", goitalic.TTF
	case strings.Contains(name, "medium"):
		key, ttf = "gomedium", gomedium.TTF
	default:
		key, ttf = "goregular", goregular.TTF
	}

	fontsMu.Lock()
	defer fontsMu.Unlock()
	if f, ok := fonts[key]; ok {
		return f, nil
	}
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	fonts[key] = f
	return f, nil
}

// parseColor accepts #rgb and #rrggbb. Anything else is white.
func parseColor(s string) color.Color {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return color.White
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.White
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

// blend draws src onto dst with its top-left at at. dst stays opaque.
func blend(dst *image.RGBA, src image.Image, at image.Point, opacity float64, mode overlays.Blend) {
	opacity = math.Min(1, opacity)
	sb := src.Bounds()
	r := image.Rectangle{Min: at, Max: at.Add(sb.Size())}.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	sp := sb.Min.Add(r.Min.Sub(at))

	if mode == overlays.BlendNormal || mode == "" {
		mask := image.NewUniform(color.Alpha{A: uint8(math.Round(opacity * 255))})
		draw.DrawMask(dst, r, src, sp, mask, image.Point{}, draw.Over)
		return
	}

	fn := blendFuncs[mode]
	if fn == nil {
		fn = blendFuncs[overlays.BlendNormal]
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			s := color.NRGBAModel.Convert(src.At(sp.X+x-r.Min.X, sp.Y+y-r.Min.Y)).(color.NRGBA)
			if s.A == 0 {
				continue
			}
			a := float64(s.A) / 255 * opacity
			i := dst.PixOffset(x, y)
			px := dst.Pix[i : i+3 : i+3]
			px[0] = mix(px[0], fn(px[0], s.R), a)
			px[1] = mix(px[1], fn(px[1], s.G), a)
			px[2] = mix(px[2], fn(px[2], s.B), a)
		}
	}
}

type blendFunc func(d, s uint8) uint8

var blendFuncs = map[overlays.Blend]blendFunc{
	overlays.BlendNormal: func(_, s uint8) uint8 { return s },
	overlays.BlendMultiply: func(d, s uint8) uint8 {
		return uint8((int(d)*int(s) + 127) / 255)
	},
	overlays.BlendScreen: func(d, s uint8) uint8 {
		return 255 - uint8(((255-int(d))*(255-int(s))+127)/255)
	},
	overlays.BlendLighten: func(d, s uint8) uint8 { return max(d, s) },
	overlays.BlendDarken:  func(d, s uint8) uint8 { return min(d, s) },
}

func mix(d, b uint8, a float64) uint8 {
	return uint8(math.Round(float64(d)*(1-a) + float64(b)*a))
}
