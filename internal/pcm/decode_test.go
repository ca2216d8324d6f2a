package pcm

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// writeTone writes n stereo samples of constant level as 16-bit WAV.
func writeTone(t *testing.T, path string, rate, n int, level float64) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	left := n
	tone := beep.StreamerFunc(func(s [][2]float64) (int, bool) {
		if left == 0 {
			return 0, false
		}
		k := min(len(s), left)
		for i := 0; i < k; i++ {
			s[i] = [2]float64{level, level}
		}
		left -= k
		return k, true
	})
	format := beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 2, Precision: 2}
	if err := wav.Encode(f, tone, format); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestDecodeFileWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeTone(t, path, 8000, 8000, 0.5)

	buf, err := DecodeFile(path, 8000)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if buf.Len() != 8000 {
		t.Fatalf("expected 8000 samples, got %d", buf.Len())
	}
	s := make([][2]float64, 1)
	buf.Streamer(100, 101).Stream(s)
	if math.Abs(s[0][0]-0.5) > 1e-3 {
		t.Errorf("expected level 0.5, got %v", s[0])
	}
}

func TestDecodeFileResamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeTone(t, path, 8000, 8000, 0.5)

	buf, err := DecodeFile(path, 16000)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if d := buf.Len() - 16000; d < -16 || d > 16 {
		t.Errorf("expected about 16000 samples after resampling, got %d", buf.Len())
	}
	if buf.Format().SampleRate != 16000 {
		t.Errorf("format rate = %v", buf.Format().SampleRate)
	}
}

func TestWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeTone(t, path, 8000, 16000, 0.25)

	buf, err := Window(path, 8000, 0.5, 1)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if buf.Len() != 8000 {
		t.Errorf("expected one second, got %d samples", buf.Len())
	}
	tail, err := Window(path, 8000, 1.5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if tail.Len() != 4000 {
		t.Errorf("expected the remaining half second, got %d", tail.Len())
	}
}

func TestDecodeFileUnsupported(t *testing.T) {
	if _, err := DecodeFile("clip.webm", 8000); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
	if Supported("clip.webm") || !Supported("Voice.WAV") {
		t.Error("Supported mismatch")
	}
	if _, err := DecodeFile(filepath.Join(t.TempDir(), "missing.wav"), 8000); err == nil {
		t.Error("expected an error for a missing file")
	}
}
