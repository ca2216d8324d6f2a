package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"

	"github.com/keagan/reelcut/pkg/util"
)

// FrameRequest selects a window of a source decoded to raw RGBA frames.
type FrameRequest struct {
	Source   string
	Start    float64
	Duration float64
	Width    int
	Height   int
	FPS      float64
}

func (r FrameRequest) validate() error {
	if r.Source == "" {
		return fmt.Errorf("source is required")
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", r.Width, r.Height)
	}
	if r.FPS <= 0 {
		return fmt.Errorf("frame rate must be positive")
	}
	return nil
}

// FrameReader yields consecutive frames of one decode window.
type FrameReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	cancel context.CancelFunc
	width  int
	height int
	frames int
}

// OpenFrames starts decoding req. Frames are letterboxed to the requested
// size and resampled to the requested rate.
func (e *Executor) OpenFrames(ctx context.Context, req FrameRequest) (*FrameReader, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("invalid frame request: %w", err)
	}

	args := []string{"-ss", util.FormatTimecode(req.Start), "-i", req.Source}
	if req.Duration > 0 {
		args = append(args, "-t", util.FormatTimecode(req.Duration))
	}
	args = append(args,
		"-an",
		"-vf", NewFilterBuilder().FPS(req.FPS).Fit(req.Width, req.Height).Build(),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)

	ctx, cancel := context.WithCancel(ctx)
	r := &FrameReader{cancel: cancel, width: req.Width, height: req.Height}
	r.cmd = e.command(ctx, args...)
	r.cmd.Stderr = &r.stderr

	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	r.stdout = stdout

	if err := r.cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start frame decoder: %w", err)
	}
	return r, nil
}

// Next fills dst with the next frame. It returns io.EOF once the window is
// exhausted. dst must match the requested size.
func (r *FrameReader) Next(dst *image.RGBA) error {
	if b := dst.Bounds(); b.Dx() != r.width || b.Dy() != r.height {
		return fmt.Errorf("frame buffer is %dx%d, decoder emits %dx%d", b.Dx(), b.Dy(), r.width, r.height)
	}
	n := r.width * r.height * 4
	if _, err := io.ReadFull(r.stdout, dst.Pix[:n]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read frame %d: %w", r.frames, err)
	}
	r.frames++
	return nil
}

// Close stops the decoder. Frames not yet read are discarded.
func (r *FrameReader) Close() error {
	r.cancel()
	_ = r.stdout.Close()
	err := r.cmd.Wait()
	if err != nil && r.frames == 0 {
		return fmt.Errorf("frame decoder: %w: %s", err, bytes.TrimSpace(r.stderr.Bytes()))
	}
	return nil
}

// Still decodes the single frame shown at position seconds into source.
func (e *Executor) Still(ctx context.Context, source string, position float64, width, height int) (*image.RGBA, error) {
	r, err := e.OpenFrames(ctx, FrameRequest{
		Source: source,
		Start:  position,
		Width:  width,
		Height: height,
		FPS:    1,
	})
	if err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	readErr := r.Next(img)
	closeErr := r.Close()
	if readErr != nil {
		if closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("no frame at %s in %s: %w", strconv.FormatFloat(position, 'f', 3, 64), source, readErr)
	}
	return img, nil
}
