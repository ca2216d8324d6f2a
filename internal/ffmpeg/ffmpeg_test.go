package ffmpeg

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH")
	}
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	skipIfNoFFmpeg(t)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).Level(zerolog.InfoLevel)
	exec, err := New(logger, 2)
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	return exec
}

// makeSample renders a 2 second 320x240 test pattern with a sine tone.
func makeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.mp4")
	cmd := exec.Command("ffmpeg", "-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=duration=2:size=320x240:rate=30",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=2",
		"-pix_fmt", "yuv420p", "-shortest", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("could not generate sample: %v: %s", err, out)
	}
	return path
}

func TestFilterBuilder(t *testing.T) {
	tests := []struct {
		name string
		fb   *FilterBuilder
		want string
	}{
		{"empty", NewFilterBuilder(), ""},
		{"scale and fps", NewFilterBuilder().Scale(1920, 1080).FPS(30), "scale=1920:1080,fps=30.000000"},
		{"invalid scale skipped", NewFilterBuilder().Scale(0, 1080).FPS(60), "fps=60.000000"},
		{"fit", NewFilterBuilder().Fit(640, 360),
			"scale=640:360:force_original_aspect_ratio=decrease,pad=640:360:(ow-iw)/2:(oh-ih)/2:color=black,setsar=1"},
		{"volume", NewFilterBuilder().Volume(0.5).Custom(""), "volume=0.500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fb.Build(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestStreamOutputProgress(t *testing.T) {
	e := &Executor{logger: zerolog.Nop()}
	input := strings.Join([]string{
		"frame=30",
		"fps=29.5",
		"bitrate=1200.0kbits/s",
		"out_time_us=1000000",
		"out_time=00:00:01.000000",
		"speed=1.5x",
		"progress=continue",
		"frame=60",
		"out_time_us=2000000",
		"progress=end",
	}, "\n")

	var got []Progress
	var lines int
	e.streamOutput(strings.NewReader(input), 4, func(p *Progress) { got = append(got, *p) }, func(string) { lines++ })

	if lines != 10 {
		t.Errorf("expected every line forwarded, got %d", lines)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 progress blocks, got %d", len(got))
	}
	if got[0].Frame != 30 || got[0].Seconds != 1 || got[0].Percentage != 25 || got[0].Speed != "1.5x" {
		t.Errorf("unexpected first block: %+v", got[0])
	}
	if got[1].Percentage != 50 || got[1].Speed != "" {
		t.Errorf("blocks should not leak fields: %+v", got[1])
	}
}

func TestParseProbe(t *testing.T) {
	raw := []byte(`{
		"format": {"duration": "12.500000", "bit_rate": "800000"},
		"streams": [
			{"codec_type": "video", "codec_name": "mjpeg", "width": 64, "height": 64, "disposition": {"attached_pic": 1}},
			{"codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720, "r_frame_rate": "30000/1001"},
			{"codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "channels": 2}
		]
	}`)
	info, err := parseProbe("in.mp4", raw)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if info.Duration != 12.5 || info.Width != 1280 || info.VideoCodec != "h264" {
		t.Errorf("cover art should be skipped, got %+v", info)
	}
	if math.Abs(info.FPS-29.97) > 0.01 || !info.HasAudio || info.SampleRate != 48000 {
		t.Errorf("unexpected stream info: %+v", info)
	}

	if _, err := parseProbe("x", []byte(`{"streams": []}`)); err == nil {
		t.Error("expected error for a file without streams")
	}
}

func TestParseProbeStreamDuration(t *testing.T) {
	raw := []byte(`{"format": {}, "streams": [{"codec_type": "audio", "duration": "3.25"}]}`)
	info, err := parseProbe("a.wav", raw)
	if err != nil {
		t.Fatal(err)
	}
	if info.Duration != 3.25 || info.HasVideo {
		t.Errorf("expected stream duration fallback, got %+v", info)
	}
}

func TestF32Streamer(t *testing.T) {
	var raw bytes.Buffer
	for _, v := range []float32{0.5, -0.5, 1, -1, 0.25} {
		_ = binary.Write(&raw, binary.LittleEndian, v)
	}
	s := &f32Streamer{r: &raw}
	samples := make([][2]float64, 4)
	n, ok := s.Stream(samples)
	if n != 2 || !ok {
		t.Fatalf("expected 2 whole frames, got n=%d ok=%v", n, ok)
	}
	if samples[0] != [2]float64{0.5, -0.5} || samples[1] != [2]float64{1, -1} {
		t.Errorf("unexpected samples %v", samples[:2])
	}
	if n, ok := s.Stream(samples); n != 0 || ok {
		t.Errorf("expected drained streamer, got n=%d ok=%v", n, ok)
	}
	if s.Err() != nil {
		t.Errorf("short trailing frame is not an error: %v", s.Err())
	}
}

func TestWriteJoinListQuotes(t *testing.T) {
	e := &Executor{logger: zerolog.Nop()}
	list, err := e.writeJoinList([]string{"/tmp/it's.mp4", "/tmp/b.mp4"})
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(list)

	data, err := os.ReadFile(list)
	if err != nil {
		t.Fatal(err)
	}
	want := "file '/tmp/it'\\''s.mp4'\nfile '/tmp/b.mp4'\n"
	if string(data) != want {
		t.Errorf("expected %q, got %q", want, data)
	}
}

func TestCodecDefaults(t *testing.T) {
	args := strings.Join(Codec{}.args(), " ")
	if args != "-c:v libx264 -crf 23 -preset medium -pix_fmt yuv420p -c:a aac" {
		t.Errorf("unexpected default codec args %q", args)
	}
	if err := (Codec{CRF: 60}).Validate(); err == nil {
		t.Error("CRF 60 should be rejected")
	}
}

func TestProbe(t *testing.T) {
	exec := newTestExecutor(t)
	path := makeSample(t)

	info, err := exec.Probe(context.Background(), path)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if info.Width != 320 || info.Height != 240 {
		t.Errorf("expected 320x240, got %dx%d", info.Width, info.Height)
	}
	if math.Abs(info.Duration-2) > 0.1 || !info.HasAudio {
		t.Errorf("unexpected info %+v", info)
	}

	d, err := exec.Duration(context.Background(), path)
	if err != nil || math.Abs(d-2) > 0.1 {
		t.Errorf("Duration = %v, %v", d, err)
	}
}

func TestProbeInvalidFile(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	if _, err := exec.Probe(ctx, "nonexistent.mp4"); err == nil {
		t.Error("Probe should fail for non-existent file")
	}

	invalid := filepath.Join(t.TempDir(), "invalid.txt")
	if err := os.WriteFile(invalid, []byte("not a video"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := exec.Duration(ctx, invalid); err == nil {
		t.Error("Duration should fail for an invalid file")
	}
}

func TestOpenFramesWindow(t *testing.T) {
	exec := newTestExecutor(t)
	path := makeSample(t)

	r, err := exec.OpenFrames(context.Background(), FrameRequest{
		Source: path, Start: 0.5, Duration: 1, Width: 160, Height: 90, FPS: 30,
	})
	if err != nil {
		t.Fatalf("OpenFrames: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 160, 90))
	frames := 0
	for {
		err := r.Next(img)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		frames++
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if frames < 29 || frames > 31 {
		t.Errorf("expected ~30 frames for one second, got %d", frames)
	}
	// 4:3 into 16:9 is pillarboxed
	if img.RGBAAt(0, 45).R != 0 || img.RGBAAt(0, 45).A != 255 {
		t.Errorf("expected black padding, got %v", img.RGBAAt(0, 45))
	}
}

func TestDecodePCM(t *testing.T) {
	exec := newTestExecutor(t)
	path := makeSample(t)

	buf, err := exec.DecodePCM(context.Background(), PCMRequest{Source: path, Start: 0.5, Duration: 1, SampleRate: 8000})
	if err != nil {
		t.Fatalf("DecodePCM: %v", err)
	}
	if n := buf.Len(); n < 7900 || n > 8100 {
		t.Errorf("expected ~8000 samples, got %d", n)
	}
	if buf.Format().SampleRate != 8000 {
		t.Errorf("unexpected format %+v", buf.Format())
	}
}

func TestStreamEncoderRoundTrip(t *testing.T) {
	exec := newTestExecutor(t)
	out := filepath.Join(t.TempDir(), "nested", "out.mp4")

	enc, err := exec.NewStreamEncoder(context.Background(), StreamOptions{
		Output: out, Width: 64, Height: 48, FPS: 10, SampleRate: 8000,
		Codec: Codec{Preset: "ultrafast"},
	})
	if err != nil {
		t.Fatalf("NewStreamEncoder: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	silence := make([][2]float64, 800)
	for i := 0; i < 10; i++ {
		if err := enc.WriteFrame(img); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		if err := enc.WriteAudio(silence); err != nil {
			t.Fatalf("WriteAudio: %v", err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := exec.Probe(context.Background(), out)
	if err != nil {
		t.Fatalf("Probe output: %v", err)
	}
	if info.Width != 64 || !info.HasAudio || math.Abs(info.Duration-1) > 0.15 {
		t.Errorf("unexpected output %+v", info)
	}
}

func TestStreamEncoderAbortRemovesOutput(t *testing.T) {
	exec := newTestExecutor(t)
	out := filepath.Join(t.TempDir(), "partial.mp4")

	enc, err := exec.NewStreamEncoder(context.Background(), StreamOptions{Output: out, Width: 32, Height: 32, FPS: 5})
	if err != nil {
		t.Fatalf("NewStreamEncoder: %v", err)
	}
	_ = enc.WriteFrame(image.NewRGBA(image.Rect(0, 0, 32, 32)))
	enc.Abort()

	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("partial output should be removed, stat err = %v", err)
	}
	if enc.Close() == nil {
		t.Error("Close after Abort should report the abort")
	}
}

func TestTrimAndJoin(t *testing.T) {
	exec := newTestExecutor(t)
	path := makeSample(t)
	dir := t.TempDir()
	ctx := context.Background()

	first := filepath.Join(dir, "first.mp4")
	if err := exec.Trim(ctx, path, TrimOptions{Start: 0, End: 1, Output: first, Codec: Codec{Preset: "ultrafast"}}); err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if err := exec.Trim(ctx, path, TrimOptions{Start: 1, End: 1, Output: first}); err == nil {
		t.Error("empty trim range should be rejected")
	}

	joined := filepath.Join(dir, "joined.mp4")
	if err := exec.Concat(ctx, ConcatOptions{Inputs: []string{first, first}, Output: joined}); err != nil {
		t.Fatalf("Concat: %v", err)
	}
	d, err := exec.Duration(ctx, joined)
	if err != nil || math.Abs(d-2) > 0.2 {
		t.Errorf("expected ~2s joined output, got %v %v", d, err)
	}
}
