package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Executor runs ffmpeg and ffprobe subprocesses for probing, decoding,
// encoding and the render-service file operations.
type Executor struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	threads     int
}

// New creates an executor using ffmpeg and ffprobe from PATH.
func New(logger zerolog.Logger, threads int) (*Executor, error) {
	return NewWithPaths(logger, "", "", threads)
}

// NewWithPaths creates an executor with explicit binaries. Empty paths are
// looked up in PATH.
func NewWithPaths(logger zerolog.Logger, ffmpegPath, ffprobePath string, threads int) (*Executor, error) {
	ffmpegPath, err := lookPath(ffmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobePath, err = lookPath(ffprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}

	return &Executor{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		threads:     threads,
	}, nil
}

func lookPath(explicit, name string) (string, error) {
	if explicit == "" {
		explicit = name
	}
	p, err := exec.LookPath(explicit)
	if err != nil {
		return "", fmt.Errorf("%s not found: %w", name, err)
	}
	return p, nil
}

// Run executes ffmpeg with the given arguments and streams progress
func (e *Executor) Run(ctx context.Context, opts RunOptions) error {
	if len(opts.Args) == 0 {
		return fmt.Errorf("no arguments provided")
	}

	args := append(e.baseArgs("info"), "-progress", "pipe:2")
	args = append(args, opts.Args...)

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		e.streamOutput(stderr, opts.Total, opts.ProgressHandler, opts.LogHandler)
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if opts.LogHandler != nil {
				opts.LogHandler(scanner.Text())
			}
		}
	}()

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg execution failed: %w", err)
	}

	e.logger.Debug().Msg("ffmpeg execution completed")
	return nil
}

// command prepares a quiet ffmpeg process whose stdio the caller wires up.
func (e *Executor) command(ctx context.Context, args ...string) *exec.Cmd {
	full := append(e.baseArgs("error"), args...)
	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", full).
		Msg("starting ffmpeg stream")
	return exec.CommandContext(ctx, e.ffmpegPath, full...)
}

func (e *Executor) baseArgs(level string) []string {
	args := []string{"-y", "-hide_banner", "-nostdin", "-loglevel", level}
	if e.threads > 0 {
		args = append(args, "-threads", strconv.Itoa(e.threads))
	}
	return args
}

// streamOutput parses ffmpeg -progress blocks and forwards every line to
// logHandler. total, when positive, is the expected output length in seconds.
func (e *Executor) streamOutput(r io.Reader, total float64, progressHandler func(*Progress), logHandler func(string)) {
	scanner := bufio.NewScanner(r)
	progress := &Progress{}

	for scanner.Scan() {
		line := scanner.Text()
		if logHandler != nil {
			logHandler(line)
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch key {
		case "frame":
			progress.Frame, _ = strconv.Atoi(value)
		case "fps":
			progress.FPS, _ = strconv.ParseFloat(value, 64)
		case "bitrate":
			progress.Bitrate = value
		case "out_time":
			progress.Time = value
		case "out_time_us", "out_time_ms":
			// both keys carry microseconds
			if us, err := strconv.ParseInt(value, 10, 64); err == nil {
				progress.Seconds = float64(us) / 1e6
			}
		case "speed":
			progress.Speed = value
		case "progress":
			if total > 0 {
				progress.Percentage = min(100, progress.Seconds/total*100)
			}
			if progressHandler != nil && (progress.Frame > 0 || progress.Seconds > 0) {
				progressHandler(progress)
			}
			progress = &Progress{}
		}
	}
}
