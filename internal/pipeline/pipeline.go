// Package pipeline renders a timeline range to a file. It runs on its own
// synthetic clock, the count of audio samples mixed so far, so the output
// never depends on interactive playback.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"math"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/clips"
	"github.com/keagan/reelcut/internal/ffmpeg"
	"github.com/keagan/reelcut/internal/timeline"
	"github.com/keagan/reelcut/pkg/util"
)

// Pipeline renders one job at a time per process and, through the lock
// file, per machine.
type Pipeline struct {
	logger   zerolog.Logger
	config   Config
	media    Media
	fallback Fallback

	mu   sync.Mutex
	lock *flock.Flock
}

// New creates a pipeline over the given backend.
func New(logger zerolog.Logger, cfg Config, m Media) *Pipeline {
	p := &Pipeline{
		logger: logger.With().Str("component", "pipeline").Logger(),
		config: cfg,
		media:  m,
	}
	if cfg.LockPath != "" {
		p.lock = flock.New(cfg.LockPath)
	}
	return p
}

// SetFallback installs the live playback used for undecodable audio.
func (p *Pipeline) SetFallback(f Fallback) {
	p.fallback = f
}

// Render encodes [opts.Start, opts.End] of project. The project must not be
// mutated while the render runs; pass a Clone when it is live.
func (p *Pipeline) Render(ctx context.Context, project *timeline.Project, opts Options) (*Result, error) {
	if project == nil {
		return nil, fmt.Errorf("project cannot be nil")
	}
	if opts.Output == "" {
		return nil, fmt.Errorf("output path cannot be empty")
	}
	opts = p.resolve(project, opts)
	if err := opts.Codec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid render options: %w", err)
	}

	frames := int(math.Round((opts.End - opts.Start) * opts.FPS))
	if frames <= 0 {
		return nil, fmt.Errorf("%w: %.3f-%.3f", ErrEmptyRange, opts.Start, opts.End)
	}

	unlock, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer unlock()

	if opts.Suspend != nil {
		restore := opts.Suspend.Suspend()
		defer restore()
	}

	live := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.logger.Info().
		Str("output", opts.Output).
		Float64("start", opts.Start).
		Float64("end", opts.End).
		Int("frames", frames).
		Int("width", opts.Width).
		Int("height", opts.Height).
		Float64("fps", opts.FPS).
		Msg("starting render")

	began := time.Now()
	res, err := p.render(ctx, live, project, opts, frames)
	if err != nil {
		p.logger.Error().Err(err).Str("output", opts.Output).Msg("render failed")
		return nil, err
	}
	res.Elapsed = time.Since(began)

	p.logger.Info().
		Str("output", res.Output).
		Int("frames", res.Frames).
		Dur("elapsed", res.Elapsed).
		Strs("degraded", res.Degraded).
		Msg("render complete")
	return res, nil
}

// render runs the frame loop under ctx. Live fallback playback is bound to
// live so it can outlast the call.
func (p *Pipeline) render(ctx, live context.Context, project *timeline.Project, opts Options, frames int) (*Result, error) {
	images := LoadImages(p.logger, project.Overlays, opts.Start, opts.End)
	comp := NewCompositor(images)
	mix := p.buildMix(ctx, live, project.AudioClips, opts.Start, opts.End, opts.SampleRate)

	enc, err := p.media.NewEncoder(ctx, ffmpeg.StreamOptions{
		Output:     opts.Output,
		Width:      opts.Width,
		Height:     opts.Height,
		FPS:        opts.FPS,
		SampleRate: opts.SampleRate,
		Codec:      opts.Codec,
	})
	if err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}

	video := &videoTrack{
		ctx:    ctx,
		logger: p.logger,
		media:  p.media,
		width:  opts.Width,
		height: opts.Height,
		fps:    opts.FPS,
		end:    opts.End,
	}
	defer video.close()

	frame := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	rate := float64(opts.SampleRate)
	samples := make([][2]float64, int(math.Ceil(rate/opts.FPS))+1)
	mixed := 0

	fail := func(err error) (*Result, error) {
		enc.Abort()
		util.CleanupFiles(opts.Output)
		return nil, err
	}

	for i := 0; i < frames; i++ {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("render cancelled at frame %d: %w", i, err))
		}

		// the frame shows the instant the mixer has reached
		t := opts.Start + float64(mixed)/rate
		video.draw(frame, project.FindClipAt(t), t)
		comp.Compose(frame, project.ActiveOverlays(t))

		if err := enc.WriteFrame(frame); err != nil {
			return fail(fmt.Errorf("encode frame %d: %w", i, err))
		}

		boundary := int(math.Round(float64(i+1) * rate / opts.FPS))
		chunk := samples[:boundary-mixed]
		mix.pull(chunk)
		if err := enc.WriteAudio(chunk); err != nil {
			return fail(fmt.Errorf("encode audio at frame %d: %w", i, err))
		}
		mixed = boundary

		if opts.Progress != nil {
			opts.Progress(Progress{Frame: i + 1, Frames: frames, Time: t})
		}
	}

	if err := enc.Close(); err != nil {
		util.CleanupFiles(opts.Output)
		return nil, fmt.Errorf("finalize %s: %w", opts.Output, err)
	}

	return &Result{
		Output:   opts.Output,
		Frames:   frames,
		Samples:  mixed,
		Duration: float64(mixed) / rate,
		Degraded: mix.degraded,
	}, nil
}

// resolve fills zero options from the project and the pipeline config.
func (p *Pipeline) resolve(project *timeline.Project, opts Options) Options {
	if opts.Start == 0 && opts.End == 0 {
		opts.Start, opts.End = project.EffectiveStart(), project.EffectiveEnd()
	}
	opts.Start = math.Max(0, opts.Start)
	if opts.FPS <= 0 {
		opts.FPS = 1 / project.FrameInterval()
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = p.config.Width, p.config.Height
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		def := DefaultConfig()
		opts.Width, opts.Height = def.Width, def.Height
	}
	// yuv420p needs even dimensions
	opts.Width += opts.Width % 2
	opts.Height += opts.Height % 2
	if opts.SampleRate <= 0 {
		opts.SampleRate = p.config.SampleRate
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = ffmpeg.DefaultSampleRate
	}
	if opts.Codec == (ffmpeg.Codec{}) {
		opts.Codec = p.config.Codec
	}
	return opts
}

// acquire takes the process mutex and then the machine-wide lock file.
func (p *Pipeline) acquire() (func(), error) {
	if !p.mu.TryLock() {
		return nil, ErrRenderBusy
	}
	if p.lock == nil {
		return p.mu.Unlock, nil
	}
	if err := util.EnsureParent(p.lock.Path()); err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("render lock: %w", err)
	}
	locked, err := p.lock.TryLock()
	if err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("render lock: %w", err)
	}
	if !locked {
		p.mu.Unlock()
		return nil, ErrRenderBusy
	}
	return func() {
		if err := p.lock.Unlock(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to release render lock")
		}
		p.mu.Unlock()
	}, nil
}

// videoTrack keeps one frame stream open per contiguous run of a clip.
type videoTrack struct {
	ctx    context.Context
	logger zerolog.Logger
	media  Media
	width  int
	height int
	fps    float64
	end    float64

	clipID string
	stream FrameStream
	dead   bool
}

// draw fills dst with the frame of c at t, or black.
func (v *videoTrack) draw(dst *image.RGBA, c *clips.VideoClip, t float64) {
	if c == nil {
		v.close()
		v.clipID = ""
		black(dst)
		return
	}
	if c.ID != v.clipID {
		v.open(c, t)
	}
	if v.stream == nil || v.dead {
		black(dst)
		return
	}
	if err := v.stream.Next(dst); err != nil {
		if !errors.Is(err, io.EOF) {
			v.logger.Warn().Err(err).Str("clip", c.ID).Msg("frame decode failed")
		}
		v.dead = true
		black(dst)
	}
}

func (v *videoTrack) open(c *clips.VideoClip, t float64) {
	v.close()
	v.clipID = c.ID
	v.dead = false

	stream, err := v.media.OpenFrames(v.ctx, ffmpeg.FrameRequest{
		Source:   c.Source,
		Start:    c.SourceTime(t),
		Duration: math.Min(c.TimelineEnd, v.end) - t + 1/v.fps,
		Width:    v.width,
		Height:   v.height,
		FPS:      v.fps,
	})
	if err != nil {
		v.logger.Warn().Err(err).Str("clip", c.ID).Msg("clip could not be decoded, rendering black")
		v.dead = true
		return
	}
	v.stream = stream
}

func (v *videoTrack) close() {
	if v.stream != nil {
		_ = v.stream.Close()
		v.stream = nil
	}
}

func black(dst *image.RGBA) {
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)
}
