package ffmpeg

import (
	"errors"
	"strconv"
)

// MediaInfo contains metadata about a media file
type MediaInfo struct {
	FilePath   string
	Duration   float64
	Width      int
	Height     int
	FPS        float64
	Bitrate    int64
	HasVideo   bool
	VideoCodec string
	HasAudio   bool
	AudioCodec string
	SampleRate int
	Channels   int
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame      int
	FPS        float64
	Bitrate    string
	Time       string
	Seconds    float64
	Speed      string
	Percentage float64
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args []string
	// Total is the expected output duration in seconds, used for Percentage.
	Total           float64
	ProgressHandler func(*Progress)
	LogHandler      func(line string)
}

// Default encoding settings
const (
	DefaultCRF        = 23
	DefaultPreset     = "medium"
	DefaultVideoCodec = "libx264"
	DefaultAudioCodec = "aac"
	DefaultSampleRate = 48000
)

// ProgressFunc is a callback for progress updates during ffmpeg operations.
// Called periodically with progress information as the operation executes.
type ProgressFunc func(*Progress)

// Codec selects encoder settings. Zero values fall back to the defaults.
type Codec struct {
	VideoCodec string
	AudioCodec string
	CRF        int
	Preset     string
}

func (c Codec) withDefaults() Codec {
	if c.VideoCodec == "" {
		c.VideoCodec = DefaultVideoCodec
	}
	if c.AudioCodec == "" {
		c.AudioCodec = DefaultAudioCodec
	}
	if c.CRF == 0 {
		c.CRF = DefaultCRF
	}
	if c.Preset == "" {
		c.Preset = DefaultPreset
	}
	return c
}

func (c Codec) args() []string {
	c = c.withDefaults()
	return []string{
		"-c:v", c.VideoCodec,
		"-crf", strconv.Itoa(c.CRF),
		"-preset", c.Preset,
		"-pix_fmt", "yuv420p",
		"-c:a", c.AudioCodec,
	}
}

// Validate rejects settings ffmpeg would refuse.
func (c Codec) Validate() error {
	if c.CRF < 0 || c.CRF > 51 {
		return errCRF
	}
	return nil
}

var errCRF = errors.New("CRF must be between 0 and 51")
