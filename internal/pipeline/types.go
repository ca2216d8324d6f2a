package pipeline

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/gopxl/beep"

	"github.com/keagan/reelcut/internal/clips"
	"github.com/keagan/reelcut/internal/ffmpeg"
)

var (
	// ErrRenderBusy is returned while another render holds the lock.
	ErrRenderBusy = errors.New("a render is already running")
	// ErrEmptyRange is returned when the range holds no frames.
	ErrEmptyRange = errors.New("render range is empty")
)

// Config holds pipeline-wide defaults. Options override non-zero fields.
type Config struct {
	// LockPath is the file lock shared by every reelcut process.
	LockPath   string
	Width      int
	Height     int
	SampleRate int
	Codec      ffmpeg.Codec
}

// DefaultConfig renders 1280x720 at 48kHz.
func DefaultConfig() Config {
	return Config{
		Width:      1280,
		Height:     720,
		SampleRate: ffmpeg.DefaultSampleRate,
	}
}

// Options configures a single render.
type Options struct {
	// Start and End bound the rendered range. When both are zero the
	// project's in/out range is used.
	Start  float64
	End    float64
	Output string
	Width  int
	Height int
	// FPS defaults to the project frame rate.
	FPS        float64
	SampleRate int
	Codec      ffmpeg.Codec
	// Suspend pauses interactive playback for the duration of the render.
	Suspend  Suspender
	Progress func(Progress)
}

// Progress reports encoder position after each frame.
type Progress struct {
	Frame  int
	Frames int
	Time   float64
}

// Result describes a finished render.
type Result struct {
	Output   string
	Frames   int
	Samples  int
	Duration float64
	Elapsed  time.Duration
	// Degraded lists audio clips missing from the output that fell back to a
	// live handle.
	Degraded []string
}

// FrameStream yields consecutive decoded frames at the output size.
type FrameStream interface {
	Next(dst *image.RGBA) error
	Close() error
}

// Encoder consumes composited frames and mixed audio.
type Encoder interface {
	WriteFrame(img *image.RGBA) error
	WriteAudio(samples [][2]float64) error
	Close() error
	Abort()
}

// Media is the decode and encode backend.
type Media interface {
	OpenFrames(ctx context.Context, req ffmpeg.FrameRequest) (FrameStream, error)
	DecodePCM(ctx context.Context, req ffmpeg.PCMRequest) (*beep.Buffer, error)
	NewEncoder(ctx context.Context, opts ffmpeg.StreamOptions) (Encoder, error)
}

// Suspender pauses playback and returns a function restoring it.
type Suspender interface {
	Suspend() (restore func())
}

// Fallback plays an audio clip live when it could not be decoded for the
// mixing graph. delay is measured from the start of the render and length is
// how much of the clip falls inside it.
type Fallback interface {
	Schedule(ctx context.Context, clip *clips.AudioClip, offset float64, delay, length time.Duration)
}
