package ffmpeg

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/keagan/reelcut/pkg/util"
)

// StreamOptions configures a piped encode: raw RGBA frames on stdin and
// stereo float32 audio on a second pipe.
type StreamOptions struct {
	Output     string
	Width      int
	Height     int
	FPS        float64
	SampleRate int
	Codec      Codec
}

func (o StreamOptions) validate() error {
	if o.Output == "" {
		return fmt.Errorf("output path is required")
	}
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", o.Width, o.Height)
	}
	if o.FPS <= 0 {
		return fmt.Errorf("frame rate must be positive")
	}
	return o.Codec.Validate()
}

// StreamEncoder writes one output file from pushed frames and samples.
type StreamEncoder struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	output string
	stderr bytes.Buffer

	video *os.File
	audio *os.File
	// writers drain these so a slow input never blocks the other
	videoCh chan []byte
	audioCh chan []byte
	wg      sync.WaitGroup

	mu      sync.Mutex
	err     error
	closed  bool
	frameSz int
}

// NewStreamEncoder starts ffmpeg waiting for input.
func (e *Executor) NewStreamEncoder(ctx context.Context, opts StreamOptions) (*StreamEncoder, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid stream options: %w", err)
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if err := util.EnsureParent(opts.Output); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	videoR, videoW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("video pipe: %w", err)
	}
	audioR, audioW, err := os.Pipe()
	if err != nil {
		videoR.Close()
		videoW.Close()
		return nil, fmt.Errorf("audio pipe: %w", err)
	}

	rate := strconv.FormatFloat(opts.FPS, 'f', -1, 64)
	args := []string{
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-r", rate,
		"-i", "pipe:3",
		"-f", "f32le",
		"-ar", strconv.Itoa(opts.SampleRate),
		"-ac", "2",
		"-i", "pipe:4",
		"-map", "0:v:0",
		"-map", "1:a:0",
	}
	args = append(args, opts.Codec.args()...)
	args = append(args, "-r", rate, "-movflags", "+faststart", opts.Output)

	ctx, cancel := context.WithCancel(ctx)
	enc := &StreamEncoder{
		cancel:  cancel,
		output:  opts.Output,
		video:   videoW,
		audio:   audioW,
		videoCh: make(chan []byte, 8),
		audioCh: make(chan []byte, 64),
		frameSz: opts.Width * opts.Height * 4,
	}
	enc.cmd = e.command(ctx, args...)
	enc.cmd.Stderr = &enc.stderr
	enc.cmd.ExtraFiles = []*os.File{videoR, audioR}

	err = enc.cmd.Start()
	// the child holds its own copies of the read ends
	videoR.Close()
	audioR.Close()
	if err != nil {
		cancel()
		videoW.Close()
		audioW.Close()
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}

	enc.wg.Add(2)
	go enc.drain(enc.video, enc.videoCh)
	go enc.drain(enc.audio, enc.audioCh)

	e.logger.Info().
		Str("output", opts.Output).
		Int("width", opts.Width).
		Int("height", opts.Height).
		Float64("fps", opts.FPS).
		Msg("encoder started")
	return enc, nil
}

func (s *StreamEncoder) drain(f *os.File, ch <-chan []byte) {
	defer s.wg.Done()
	defer f.Close()
	for chunk := range ch {
		if s.failed() {
			continue
		}
		if _, err := f.Write(chunk); err != nil {
			s.fail(fmt.Errorf("encoder input: %w", err))
		}
	}
}

// WriteFrame queues one frame. img must match the configured size.
func (s *StreamEncoder) WriteFrame(img *image.RGBA) error {
	if err := s.Err(); err != nil {
		return err
	}
	if len(img.Pix) < s.frameSz {
		return fmt.Errorf("frame has %d bytes, want %d", len(img.Pix), s.frameSz)
	}
	chunk := make([]byte, s.frameSz)
	copy(chunk, img.Pix)
	s.videoCh <- chunk
	return nil
}

// WriteAudio queues stereo samples.
func (s *StreamEncoder) WriteAudio(samples [][2]float64) error {
	if err := s.Err(); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}
	chunk := make([]byte, len(samples)*8)
	for i, smp := range samples {
		binary.LittleEndian.PutUint32(chunk[i*8:], math.Float32bits(float32(clamp(smp[0]))))
		binary.LittleEndian.PutUint32(chunk[i*8+4:], math.Float32bits(float32(clamp(smp[1]))))
	}
	s.audioCh <- chunk
	return nil
}

// Close flushes the inputs and waits for ffmpeg to finalize the file.
func (s *StreamEncoder) Close() error {
	if !s.closeInputs() {
		return s.Err()
	}
	s.wg.Wait()
	err := s.cmd.Wait()
	s.cancel()
	if err != nil {
		s.fail(fmt.Errorf("encoder: %w: %s", err, bytes.TrimSpace(s.stderr.Bytes())))
	}
	return s.Err()
}

// Abort kills the encoder and removes the partial output.
func (s *StreamEncoder) Abort() {
	s.fail(errors.New("encode aborted"))
	s.cancel()
	if s.closeInputs() {
		s.wg.Wait()
		_ = s.cmd.Wait()
	}
	util.CleanupFiles(s.output)
}

// Err is the first failure seen by the encoder.
func (s *StreamEncoder) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *StreamEncoder) closeInputs() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.videoCh)
	close(s.audioCh)
	return true
}

func (s *StreamEncoder) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *StreamEncoder) failed() bool { return s.Err() != nil }

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// ExportOptions re-encodes a file at a target size and rate.
type ExportOptions struct {
	Input        string
	Output       string
	Width        int
	Height       int
	FPS          float64
	Codec        Codec
	ProgressFunc ProgressFunc
}

// Export performs a full re-encode of Input.
func (e *Executor) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Input == "" {
		return fmt.Errorf("input path is required")
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}
	if opts.FPS < 0 {
		return fmt.Errorf("FPS cannot be negative")
	}
	if err := opts.Codec.Validate(); err != nil {
		return fmt.Errorf("invalid export options: %w", err)
	}

	e.logger.Info().
		Str("input", opts.Input).
		Str("output", opts.Output).
		Msg("starting export")

	args := []string{"-i", opts.Input}
	if vf := NewFilterBuilder().Fit(opts.Width, opts.Height).FPS(opts.FPS).Build(); vf != "" {
		args = append(args, "-vf", vf)
	}
	args = append(args, opts.Codec.args()...)
	args = append(args, opts.Output)

	var total float64
	if info, err := e.Probe(ctx, opts.Input); err == nil {
		total = info.Duration
	}

	runOpts := RunOptions{
		Args:            args,
		Total:           total,
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("export output")
		},
	}
	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	e.logger.Info().Str("output", opts.Output).Msg("export completed")
	return nil
}
