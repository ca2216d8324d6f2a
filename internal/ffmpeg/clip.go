package ffmpeg

import (
	"context"
	"fmt"

	"github.com/keagan/reelcut/pkg/util"
)

// TrimOptions defines a segment cut, times in seconds.
type TrimOptions struct {
	Start float64
	End   float64
	// CopyCodec cuts on keyframes without re-encoding.
	CopyCodec    bool
	Output       string
	Codec        Codec
	ProgressFunc ProgressFunc
}

// Trim cuts [Start, End) from input.
func (e *Executor) Trim(ctx context.Context, input string, opts TrimOptions) error {
	duration := opts.End - opts.Start
	if opts.Start < 0 || duration <= 0 {
		return fmt.Errorf("invalid trim range %.3f-%.3f: end must be after start", opts.Start, opts.End)
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}

	e.logger.Info().
		Str("input", input).
		Str("output", opts.Output).
		Float64("start", opts.Start).
		Float64("duration", duration).
		Bool("copy_codec", opts.CopyCodec).
		Msg("trimming")

	args := []string{
		"-ss", util.FormatTimecode(opts.Start),
		"-i", input,
		"-t", util.FormatTimecode(duration),
	}
	if opts.CopyCodec {
		args = append(args, "-c", "copy")
	} else {
		if err := opts.Codec.Validate(); err != nil {
			return err
		}
		args = append(args, opts.Codec.args()...)
	}
	args = append(args, opts.Output)

	runOpts := RunOptions{
		Args:            args,
		Total:           duration,
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("trim")
		},
	}
	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("trim failed: %w", err)
	}

	e.logger.Info().Str("output", opts.Output).Msg("trim complete")
	return nil
}
