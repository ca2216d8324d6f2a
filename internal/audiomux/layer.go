// Package audiomux keeps one live handle per audio clip overlapping the
// timeline clock and holds each within a drift tolerance of its ideal offset.
package audiomux

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/media"
	"github.com/keagan/reelcut/internal/session"
)

// DriftTolerance is how far a live handle may wander before a hard seek.
const DriftTolerance = 0.25

// Factory creates one decoder per live audio clip.
type Factory func() media.Backend

// Layer multiplexes overlapping audio clips.
type Layer struct {
	ctx     context.Context
	logger  zerolog.Logger
	sess    *session.EditorSession
	disp    session.Dispatcher
	factory Factory

	live map[string]*media.Handle
}

// New creates an empty layer.
func New(ctx context.Context, logger zerolog.Logger, sess *session.EditorSession, disp session.Dispatcher, factory Factory) *Layer {
	return &Layer{
		ctx:     ctx,
		logger:  logger.With().Str("component", "audiomux").Logger(),
		sess:    sess,
		disp:    disp,
		factory: factory,
		live:    make(map[string]*media.Handle),
	}
}

// Sync brings the set of live handles in line with the clips overlapping t.
func (l *Layer) Sync(t float64) {
	active := make(map[string]bool)
	for _, a := range l.sess.Project.AudioClips {
		if !a.Active(t) {
			continue
		}
		active[a.ID] = true
		want := a.SourceOffset(t)

		h, ok := l.live[a.ID]
		if !ok {
			l.open(a.ID, a.Source, a.SourceDuration, a.EffectiveVolume())
			continue
		}
		if v := a.EffectiveVolume(); h.Volume() != v {
			h.SetVolume(v)
		}
		if !loaded(h) {
			continue
		}
		if math.Abs(h.Position()-want) > DriftTolerance {
			l.logger.Debug().Str("clip", a.ID).Float64("pos", h.Position()).Float64("want", want).Msg("resyncing audio")
			h.Seek(want)
		}
		if l.sess.Playing && h.State() != media.StatePlaying {
			h.Play()
		}
	}

	for id, h := range l.live {
		if !active[id] {
			h.Release()
			delete(l.live, id)
		}
	}
}

// StopAll releases every live handle.
func (l *Layer) StopAll() {
	for id, h := range l.live {
		h.Release()
		delete(l.live, id)
	}
}

// Live returns the handle for an audio clip, if any.
func (l *Layer) Live(id string) (*media.Handle, bool) {
	h, ok := l.live[id]
	return h, ok
}

// Count is the number of live handles.
func (l *Layer) Count() int { return len(l.live) }

func (l *Layer) open(id, source string, duration, volume float64) {
	h := media.NewHandle(l.logger, l.disp, l.factory(), id)
	h.SetVolume(volume)
	l.live[id] = h

	h.Load(l.ctx, id, source, duration).Then(func(_ float64, err error) {
		if err != nil || l.live[id] != h {
			return
		}
		a := l.sess.Project.Audio(id)
		if a == nil {
			return
		}
		h.Seek(a.SourceOffset(l.sess.GlobalTime))
		if l.sess.Playing {
			h.Play()
		}
	})
}

func loaded(h *media.Handle) bool {
	switch h.State() {
	case media.StateReady, media.StatePlaying, media.StatePaused:
		return true
	default:
		return false
	}
}
