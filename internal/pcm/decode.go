// Package pcm decodes common audio containers in process, without ffmpeg.
package pcm

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"
)

// ResampleQuality is the beep resampler quality used when a source rate
// differs from the requested one.
const ResampleQuality = 4

// ErrUnsupported is returned for extensions with no native decoder.
var ErrUnsupported = errors.New("no native decoder for this format")

// Format is the layout DecodeFile produces at rate.
func Format(rate int) beep.Format {
	return beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 2, Precision: 4}
}

// Supported reports whether path has an extension DecodeFile can read.
func Supported(path string) bool {
	_, ok := decoders[strings.ToLower(filepath.Ext(path))]
	return ok
}

type decodeFunc func(f *os.File) (beep.StreamSeekCloser, beep.Format, error)

var decoders = map[string]decodeFunc{
	".wav":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return wav.Decode(f) },
	".flac": func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return flac.Decode(f) },
	".mp3":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return mp3.Decode(f) },
	".ogg":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return vorbis.Decode(f) },
	".oga":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return vorbis.Decode(f) },
}

// DecodeFile decodes the whole of path to stereo samples at rate.
func DecodeFile(path string, rate int) (*beep.Buffer, error) {
	decode, ok := decoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupported)
	}
	if rate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", rate)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	stream, format, err := decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	// closing the decoder closes f
	defer stream.Close()

	var s beep.Streamer = stream
	if format.SampleRate != beep.SampleRate(rate) {
		s = beep.Resample(ResampleQuality, format.SampleRate, beep.SampleRate(rate), stream)
	}
	buf := beep.NewBuffer(Format(rate))
	buf.Append(s)
	if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return buf, nil
}

// Window decodes path and returns the samples covering
// [start, start+duration) of the source. A zero duration runs to the end.
func Window(path string, rate int, start, duration float64) (*beep.Buffer, error) {
	buf, err := DecodeFile(path, rate)
	if err != nil {
		return nil, err
	}
	from := min(max(0, int(math.Round(start*float64(rate)))), buf.Len())
	to := buf.Len()
	if duration > 0 {
		to = min(from+int(math.Round(duration*float64(rate))), buf.Len())
	}
	out := beep.NewBuffer(buf.Format())
	out.Append(buf.Streamer(from, to))
	return out, nil
}
