package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gopxl/beep"
	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/activation"
	"github.com/keagan/reelcut/internal/audioout"
	"github.com/keagan/reelcut/internal/audiomux"
	"github.com/keagan/reelcut/internal/commands"
	"github.com/keagan/reelcut/internal/config"
	"github.com/keagan/reelcut/internal/edit"
	"github.com/keagan/reelcut/internal/ffmpeg"
	"github.com/keagan/reelcut/internal/history"
	"github.com/keagan/reelcut/internal/media"
	"github.com/keagan/reelcut/internal/pcm"
	"github.com/keagan/reelcut/internal/pipeline"
	"github.com/keagan/reelcut/internal/playback"
	"github.com/keagan/reelcut/internal/session"
	"github.com/keagan/reelcut/internal/timeline"
	"github.com/keagan/reelcut/pkg/util"
)

// editorStack is one interactive editor: a session and everything that runs
// on its loop.
type editorStack struct {
	loop     *session.Loop
	sess     *session.EditorSession
	editor   *edit.Editor
	sched    *playback.Scheduler
	cmds     *commands.Dispatcher
	importer *edit.Importer
}

func newExecutor(logger zerolog.Logger, cfg *config.Config) (*ffmpeg.Executor, error) {
	return ffmpeg.NewWithPaths(logger, cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath, cfg.FFmpeg.Threads)
}

// headlessBackend plays sources on the wall clock after probing them.
func headlessBackend(exec *ffmpeg.Executor) func() media.Backend {
	return func() media.Backend { return media.NewClockBackend(exec.Duration) }
}

type pcmDecoder interface {
	DecodePCM(ctx context.Context, req ffmpeg.PCMRequest) (*beep.Buffer, error)
}

// decodeAudio reads a whole source through ffmpeg, then through the native
// decoders when ffmpeg cannot.
func decodeAudio(dec pcmDecoder) media.PCMDecoder {
	return func(ctx context.Context, source string, rate int) (*beep.Buffer, error) {
		buf, err := dec.DecodePCM(ctx, ffmpeg.PCMRequest{Source: source, SampleRate: rate})
		if err == nil || !pcm.Supported(source) {
			return buf, err
		}
		return pcm.DecodeFile(source, rate)
	}
}

// audioBackend plays audio clips on the sound device, opened on first use.
// Without a device it falls back to headless playback.
func audioBackend(logger zerolog.Logger, cfg *config.Config, exec *ffmpeg.Executor) func() media.Backend {
	headless := headlessBackend(exec)
	if cfg.Editor.Headless {
		return headless
	}
	var once sync.Once
	var out media.Output
	return func() media.Backend {
		once.Do(func() {
			sp, err := audioout.Open(cfg.Render.SampleRate, audioout.DefaultLatency)
			if err != nil {
				logger.Warn().Err(err).Msg("audio device unavailable, audio clips will be silent")
				return
			}
			out = sp
		})
		if out == nil {
			return headless()
		}
		return media.NewPCMBackend(decodeAudio(exec), out)
	}
}

func newEditorStack(ctx context.Context, logger zerolog.Logger, cfg *config.Config, exec *ffmpeg.Executor, p *timeline.Project) *editorStack {
	loop := session.NewLoop()
	sess := session.New(p)
	sess.SnapTolerance = cfg.Editor.SnapTolerance
	sess.Ripple = cfg.Editor.Ripple

	hist := history.New(logger, sess, cfg.Editor.HistoryDepth)
	ed := edit.New(logger, sess, hist)
	act := activation.New(ctx, logger, sess, loop, headlessBackend(exec))
	audio := audiomux.New(ctx, logger, sess, loop, audioBackend(logger, cfg, exec))
	sched := playback.New(logger, sess, act, audio)

	importer := edit.NewImporter(logger, ed, loop, exec.Duration)
	importer.SetTimeout(cfg.ProbeTimeoutDuration())

	return &editorStack{
		loop:     loop,
		sess:     sess,
		editor:   ed,
		sched:    sched,
		cmds:     commands.New(logger, ed, sched),
		importer: importer,
	}
}

func newPipeline(logger zerolog.Logger, cfg *config.Config, exec *ffmpeg.Executor) *pipeline.Pipeline {
	pipe := pipeline.New(logger, pipeline.Config{
		LockPath:   cfg.Render.LockPath,
		Width:      cfg.Render.Width,
		Height:     cfg.Render.Height,
		SampleRate: cfg.Render.SampleRate,
		Codec: ffmpeg.Codec{
			CRF:    cfg.FFmpeg.CRF,
			Preset: cfg.FFmpeg.Preset,
		},
	}, pipeline.FFmpeg(exec))
	pipe.SetFallback(pipeline.NewLiveFallback(logger, audioBackend(logger, cfg, exec)))
	return pipe
}

// parseParams reads key=value pairs; numbers and booleans keep their type.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("param %q is not key=value", pair)
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			params[key] = f
			continue
		}
		if b, err := strconv.ParseBool(value); err == nil {
			params[key] = b
			continue
		}
		params[key] = value
	}
	return params, nil
}

// parseTime reads an optional timecode flag; empty means zero.
func parseTime(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return util.ParseTimecode(s)
}
