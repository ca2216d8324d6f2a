package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/keagan/reelcut/pkg/util"
)

// ConcatOptions defines concatenation parameters
type ConcatOptions struct {
	Inputs []string
	Output string
	// ReEncode is required when inputs differ in codec or size.
	ReEncode     bool
	Codec        Codec
	ProgressFunc ProgressFunc
}

// Concat joins files end to end using the concat demuxer.
func (e *Executor) Concat(ctx context.Context, opts ConcatOptions) error {
	if len(opts.Inputs) == 0 {
		return fmt.Errorf("no input files provided")
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}

	e.logger.Info().
		Int("inputs", len(opts.Inputs)).
		Str("output", opts.Output).
		Msg("joining")

	// Create temporary concat file list
	concatFile, err := e.writeJoinList(opts.Inputs)
	if err != nil {
		return fmt.Errorf("failed to create concat file: %w", err)
	}
	defer os.Remove(concatFile)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", concatFile,
	}

	if opts.ReEncode {
		if err := opts.Codec.Validate(); err != nil {
			return err
		}
		args = append(args, opts.Codec.args()...)
	} else {
		args = append(args, "-c", "copy")
	}

	args = append(args, opts.Output)

	runOpts := RunOptions{
		Args:            args,
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("join")
		},
	}
	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("join failed: %w", err)
	}
	return nil
}

// writeJoinList writes the concat demuxer input list.
func (e *Executor) writeJoinList(inputs []string) (string, error) {
	tmpFile, err := util.TempFile("", "reelcut-join-", ".txt")
	if err != nil {
		return "", err
	}
	defer tmpFile.Close()

	for _, input := range inputs {
		absPath, err := filepath.Abs(input)
		if err != nil {
			return "", err
		}
		// the concat demuxer quotes with ' and escapes it as '\''
		quoted := strings.ReplaceAll(absPath, "'", `'\''`)
		if _, err := fmt.Fprintf(tmpFile, "file '%s'\n", quoted); err != nil {
			return "", err
		}
	}

	return tmpFile.Name(), nil
}
