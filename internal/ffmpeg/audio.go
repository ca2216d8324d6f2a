package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/gopxl/beep"

	"github.com/keagan/reelcut/pkg/util"
)

// PCMRequest selects a window of a source decoded to stereo float samples.
type PCMRequest struct {
	Source     string
	Start      float64
	Duration   float64
	SampleRate int
}

// PCMFormat is the sample layout DecodePCM produces at sampleRate.
func PCMFormat(sampleRate int) beep.Format {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return beep.Format{SampleRate: beep.SampleRate(sampleRate), NumChannels: 2, Precision: 4}
}

// DecodePCM decodes the requested window fully into memory.
func (e *Executor) DecodePCM(ctx context.Context, req PCMRequest) (*beep.Buffer, error) {
	if req.Source == "" {
		return nil, fmt.Errorf("source is required")
	}
	format := PCMFormat(req.SampleRate)

	args := []string{"-ss", util.FormatTimecode(req.Start), "-i", req.Source}
	if req.Duration > 0 {
		args = append(args, "-t", util.FormatTimecode(req.Duration))
	}
	args = append(args,
		"-vn",
		"-f", "f32le",
		"-ac", "2",
		"-ar", strconv.Itoa(int(format.SampleRate)),
		"pipe:1",
	)

	cmd := e.command(ctx, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start audio decoder: %w", err)
	}

	buf := beep.NewBuffer(format)
	src := &f32Streamer{r: bufio.NewReaderSize(stdout, 64*1024)}
	buf.Append(src)

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("decode audio %s: %w: %s", req.Source, err, bytes.TrimSpace(stderr.Bytes()))
	}
	if src.err != nil {
		return nil, fmt.Errorf("decode audio %s: %w", req.Source, src.err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("decode audio %s: no samples", req.Source)
	}

	e.logger.Debug().
		Str("source", req.Source).
		Int("samples", buf.Len()).
		Msg("audio decoded")
	return buf, nil
}

// f32Streamer reads interleaved little-endian stereo float32 frames.
type f32Streamer struct {
	r   io.Reader
	raw [8]byte
	err error
}

func (s *f32Streamer) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		if _, err := io.ReadFull(s.r, s.raw[:]); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				s.err = err
			}
			return n, n > 0
		}
		samples[i][0] = float64(math.Float32frombits(binary.LittleEndian.Uint32(s.raw[0:4])))
		samples[i][1] = float64(math.Float32frombits(binary.LittleEndian.Uint32(s.raw[4:8])))
		n++
	}
	return n, true
}

func (s *f32Streamer) Err() error { return s.err }

// AddAudioOptions lays an audio track over a video.
type AddAudioOptions struct {
	Video string
	Audio string
	// Offset delays the audio on the output timeline, in seconds.
	Offset float64
	// Volume scales the added track; zero keeps it at unity.
	Volume float64
	// Mix keeps the video's own audio and mixes the new track in.
	Mix          bool
	Output       string
	Codec        Codec
	ProgressFunc ProgressFunc
}

// AddAudio muxes an audio file onto a video, copying the picture.
func (e *Executor) AddAudio(ctx context.Context, opts AddAudioOptions) error {
	if opts.Video == "" || opts.Audio == "" {
		return fmt.Errorf("video and audio inputs are required")
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}

	e.logger.Info().
		Str("video", opts.Video).
		Str("audio", opts.Audio).
		Str("output", opts.Output).
		Msg("adding audio")

	args := []string{"-i", opts.Video}
	if opts.Offset > 0 {
		args = append(args, "-itsoffset", util.FormatTimecode(opts.Offset))
	}
	args = append(args, "-i", opts.Audio)

	added := NewFilterBuilder()
	if opts.Volume > 0 {
		added.Volume(opts.Volume)
	} else {
		added.Custom("anull")
	}
	graph := "[1:a]" + added.Build() + "[added]"
	if opts.Mix {
		graph += ";[0:a][added]amix=inputs=2:duration=first:dropout_transition=0[aout]"
	} else {
		graph += ";[added]apad[aout]"
	}

	codec := opts.Codec.withDefaults()
	args = append(args,
		"-filter_complex", graph,
		"-map", "0:v:0",
		"-map", "[aout]",
		"-c:v", "copy",
		"-c:a", codec.AudioCodec,
		"-shortest",
		opts.Output,
	)

	runOpts := RunOptions{
		Args:            args,
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("add audio")
		},
	}
	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("add audio failed: %w", err)
	}

	e.logger.Info().Str("output", opts.Output).Msg("audio added")
	return nil
}
