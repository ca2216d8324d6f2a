package pipeline

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/clips"
	"github.com/keagan/reelcut/internal/ffmpeg"
	"github.com/keagan/reelcut/internal/media"
	"github.com/keagan/reelcut/internal/pcm"
)

// mixGraph schedules every audio clip of the range sample-accurately.
type mixGraph struct {
	mixer    *beep.Mixer
	rate     int
	degraded []string
}

// buildMix decodes each audio clip overlapping [start, end) and places it
// on the mixer at its offset from start. A clip ffmpeg cannot decode is read
// with the native decoders when its container allows, and otherwise handed
// to the fallback bound to live.
func (p *Pipeline) buildMix(ctx, live context.Context, list []*clips.AudioClip, start, end float64, rate int) *mixGraph {
	g := &mixGraph{mixer: &beep.Mixer{}, rate: rate}

	for _, a := range list {
		from := math.Max(a.TimelineOffset, start)
		to := math.Min(a.End(), end)
		if to-from <= 0 {
			continue
		}
		vol := a.EffectiveVolume()
		if vol <= 0 {
			continue
		}

		delay := int(math.Round((from - start) * float64(rate)))
		length := int(math.Round((to - from) * float64(rate)))

		buf, err := p.media.DecodePCM(ctx, ffmpeg.PCMRequest{
			Source:     a.Source,
			Start:      a.SourceOffset(from),
			Duration:   to - from,
			SampleRate: rate,
		})
		if err != nil && pcm.Supported(a.Source) {
			p.logger.Warn().Err(err).Str("clip", a.ID).Msg("ffmpeg audio decode failed, using native decoder")
			buf, err = pcm.Window(a.Source, rate, a.SourceOffset(from), to-from)
		}
		if err != nil {
			p.logger.Warn().Err(err).Str("clip", a.ID).Msg("audio decode failed, falling back to live playback")
			g.degraded = append(g.degraded, a.ID)
			if p.fallback != nil {
				p.fallback.Schedule(live, a, a.SourceOffset(from), seconds(from-start), seconds(to-from))
			}
			continue
		}

		var s beep.Streamer = buf.Streamer(0, buf.Len())
		if vol != 1 {
			s = &effects.Volume{Streamer: s, Base: 2, Volume: math.Log2(vol)}
		}
		g.mixer.Add(beep.Seq(beep.Silence(delay), beep.Take(length, s)))

		p.logger.Debug().
			Str("clip", a.ID).
			Int("delay", delay).
			Int("samples", length).
			Float64("volume", vol).
			Msg("audio scheduled")
	}
	return g
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// pull fills samples from the mixer. Positions past every clip are silent.
func (g *mixGraph) pull(samples [][2]float64) {
	filled := 0
	for filled < len(samples) {
		n, ok := g.mixer.Stream(samples[filled:])
		filled += n
		if !ok || n == 0 {
			break
		}
	}
	clear(samples[filled:])
}

// LiveFallback plays undecodable clips through a live backend handle. The
// result is not captured by the encoder, so the render is degraded. Playback
// outlives the render call and follows the context given to Schedule.
type LiveFallback struct {
	logger  zerolog.Logger
	factory func() media.Backend

	mu      sync.Mutex
	pending []*time.Timer
}

// NewLiveFallback creates a fallback that opens backends from factory.
func NewLiveFallback(logger zerolog.Logger, factory func() media.Backend) *LiveFallback {
	return &LiveFallback{
		logger:  logger.With().Str("component", "render-fallback").Logger(),
		factory: factory,
	}
}

// Schedule loads clip now and starts it after delay. The handle is released
// once it has played for length or ctx ends.
func (f *LiveFallback) Schedule(ctx context.Context, clip *clips.AudioClip, offset float64, delay, length time.Duration) {
	b := f.factory()
	loadCtx, cancel := context.WithTimeout(ctx, media.DefaultLoadTimeout)
	_, err := b.Load(loadCtx, clip.Source)
	cancel()
	if err != nil {
		f.logger.Error().Err(err).Str("clip", clip.ID).Msg("fallback load failed, clip will be silent")
		b.Release()
		return
	}
	_ = b.Seek(offset)
	b.SetVolume(clip.EffectiveVolume())

	start := time.AfterFunc(delay, func() {
		if ctx.Err() == nil {
			_ = b.Play()
		}
	})
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			start.Stop()
			b.Release()
			close(done)
		})
	}
	end := time.AfterFunc(delay+length, stop)

	f.mu.Lock()
	f.pending = append(f.pending, start)
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			end.Stop()
			stop()
		case <-done:
		}
	}()
	f.logger.Warn().
		Str("clip", clip.ID).
		Dur("delay", delay).
		Dur("length", length).
		Msg("clip scheduled for live playback")
}

// Scheduled reports how many clips were handed to the fallback.
func (f *LiveFallback) Scheduled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}
