package renderservice

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/ffmpeg"
	"github.com/keagan/reelcut/internal/jobstore"
	"github.com/keagan/reelcut/pkg/util"
)

// Runner is the ffmpeg surface the local service drives. *ffmpeg.Executor
// satisfies it.
type Runner interface {
	Trim(ctx context.Context, input string, opts ffmpeg.TrimOptions) error
	Concat(ctx context.Context, opts ffmpeg.ConcatOptions) error
	AddAudio(ctx context.Context, opts ffmpeg.AddAudioOptions) error
	Export(ctx context.Context, opts ffmpeg.ExportOptions) error
}

// Recorder keeps a ledger of operations. *jobstore.Store satisfies it.
type Recorder interface {
	Start(ctx context.Context, kind string, inputs []string, output string) (*jobstore.Job, error)
	Finish(ctx context.Context, id string, out jobstore.Outcome) error
}

// Local runs operations in-process.
type Local struct {
	logger   zerolog.Logger
	runner   Runner
	recorder Recorder
	progress ffmpeg.ProgressFunc
}

// NewLocal creates a service over runner. recorder may be nil.
func NewLocal(logger zerolog.Logger, runner Runner, recorder Recorder) *Local {
	return &Local{
		logger:   logger.With().Str("component", "renderservice").Logger(),
		runner:   runner,
		recorder: recorder,
	}
}

// OnProgress sets the progress callback passed to every operation.
func (l *Local) OnProgress(fn ffmpeg.ProgressFunc) {
	l.progress = fn
}

// Do validates and runs req.
func (l *Local) Do(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Failure(err), err
	}
	if err := util.EnsureParent(req.OutputPath); err != nil {
		err = fmt.Errorf("create output directory: %w", err)
		return Failure(err), err
	}

	var job *jobstore.Job
	if l.recorder != nil {
		var err error
		job, err = l.recorder.Start(ctx, string(req.Operation), req.Inputs, req.OutputPath)
		if err != nil {
			l.logger.Warn().Err(err).Msg("failed to record job")
		}
	}

	start := time.Now()
	err := l.run(ctx, req)
	l.finish(job, err, time.Since(start))

	if err != nil {
		l.logger.Error().Err(err).Str("operation", string(req.Operation)).Msg("operation failed")
		resp := Failure(err)
		if job != nil {
			resp.JobID = job.ID
		}
		return resp, err
	}

	resp := Response{Success: true, OutputPath: req.OutputPath}
	if job != nil {
		resp.JobID = job.ID
	}
	return resp, nil
}

func (l *Local) run(ctx context.Context, req Request) error {
	codec, err := codecParams(req)
	if err != nil {
		return err
	}

	switch req.Operation {
	case OpTrim:
		opts, err := trimParams(req)
		if err != nil {
			return err
		}
		opts.Output, opts.Codec, opts.ProgressFunc = req.OutputPath, codec, l.progress
		return l.runner.Trim(ctx, req.Inputs[0], opts)

	case OpJoin:
		reencode, err := req.Bool("reencode", false)
		if err != nil {
			return err
		}
		return l.runner.Concat(ctx, ffmpeg.ConcatOptions{
			Inputs:       req.Inputs,
			Output:       req.OutputPath,
			ReEncode:     reencode,
			Codec:        codec,
			ProgressFunc: l.progress,
		})

	case OpAddAudio:
		offset, err := req.Float("offset", 0)
		if err != nil {
			return err
		}
		volume, err := req.Float("volume", 0)
		if err != nil {
			return err
		}
		mix, err := req.Bool("mix", false)
		if err != nil {
			return err
		}
		return l.runner.AddAudio(ctx, ffmpeg.AddAudioOptions{
			Video:        req.Inputs[0],
			Audio:        req.Inputs[1],
			Offset:       offset,
			Volume:       volume,
			Mix:          mix,
			Output:       req.OutputPath,
			Codec:        codec,
			ProgressFunc: l.progress,
		})

	case OpExport:
		width, err := req.Int("width", 0)
		if err != nil {
			return err
		}
		height, err := req.Int("height", 0)
		if err != nil {
			return err
		}
		fps, err := req.Float("fps", 0)
		if err != nil {
			return err
		}
		return l.runner.Export(ctx, ffmpeg.ExportOptions{
			Input:        req.Inputs[0],
			Output:       req.OutputPath,
			Width:        width,
			Height:       height,
			FPS:          fps,
			Codec:        codec,
			ProgressFunc: l.progress,
		})
	}
	return fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation)
}

func (l *Local) finish(job *jobstore.Job, err error, elapsed time.Duration) {
	if job == nil {
		return
	}
	// The request context may already be cancelled; the ledger entry still closes.
	if ferr := l.recorder.Finish(context.Background(), job.ID, jobstore.Outcome{Err: err, Elapsed: elapsed}); ferr != nil {
		l.logger.Warn().Err(ferr).Str("job", job.ID).Msg("failed to close job record")
	}
}

// trimParams accepts start with either end or duration, matching the
// editor's (start, duration) trim call.
func trimParams(req Request) (ffmpeg.TrimOptions, error) {
	start, err := req.Float("start", 0)
	if err != nil {
		return ffmpeg.TrimOptions{}, err
	}
	end, err := req.Float("end", 0)
	if err != nil {
		return ffmpeg.TrimOptions{}, err
	}
	if _, ok := req.Params["end"]; !ok {
		duration, err := req.Float("duration", 0)
		if err != nil {
			return ffmpeg.TrimOptions{}, err
		}
		if duration <= 0 {
			return ffmpeg.TrimOptions{}, fmt.Errorf("%w: trim needs end or a positive duration", ErrInvalidRequest)
		}
		end = start + duration
	}
	if end <= start || start < 0 {
		return ffmpeg.TrimOptions{}, fmt.Errorf("%w: trim range %.3f-%.3f", ErrInvalidRequest, start, end)
	}
	copyCodec, err := req.Bool("copy", false)
	if err != nil {
		return ffmpeg.TrimOptions{}, err
	}
	return ffmpeg.TrimOptions{Start: start, End: end, CopyCodec: copyCodec}, nil
}

func codecParams(req Request) (ffmpeg.Codec, error) {
	crf, err := req.Int("crf", 0)
	if err != nil {
		return ffmpeg.Codec{}, err
	}
	codec := ffmpeg.Codec{
		VideoCodec: req.String("videoCodec", ""),
		AudioCodec: req.String("audioCodec", ""),
		CRF:        crf,
		Preset:     req.String("preset", ""),
	}
	if err := codec.Validate(); err != nil {
		return ffmpeg.Codec{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return codec, nil
}
