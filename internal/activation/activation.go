// Package activation keeps the active video clip loaded and the following
// clip preloaded so playback can hand off between clips without a stall.
package activation

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/clips"
	"github.com/keagan/reelcut/internal/media"
	"github.com/keagan/reelcut/internal/session"
)

// PreloadMargin is how close to the end of the current clip the next one
// starts loading, in seconds.
const PreloadMargin = 0.6

// BackendFactory creates one decoder per handle.
type BackendFactory func() media.Backend

// Manager owns the current and next handles.
type Manager struct {
	ctx    context.Context
	logger zerolog.Logger
	sess   *session.EditorSession
	disp   session.Dispatcher

	current  *media.Handle
	next     *media.Handle
	curLoad  *media.Future[float64]
	nextLoad *media.Future[float64]

	onSwap []func(current *media.Handle)
}

// New creates a manager with two empty handles.
func New(ctx context.Context, logger zerolog.Logger, sess *session.EditorSession, disp session.Dispatcher, factory BackendFactory) *Manager {
	logger = logger.With().Str("component", "activation").Logger()
	return &Manager{
		ctx:     ctx,
		logger:  logger,
		sess:    sess,
		disp:    disp,
		current: media.NewHandle(logger, disp, factory(), "current"),
		next:    media.NewHandle(logger, disp, factory(), "next"),
	}
}

// Current is the handle presenting the active clip.
func (m *Manager) Current() *media.Handle { return m.current }

// Next is the preload handle.
func (m *Manager) Next() *media.Handle { return m.next }

// OnSwap registers fn to run when a preloaded handle becomes current.
func (m *Manager) OnSwap(fn func(current *media.Handle)) {
	m.onSwap = append(m.onSwap, fn)
}

// ActiveClipID is the clip bound to the current handle.
func (m *Manager) ActiveClipID() string { return m.current.ClipID() }

// Failed reports whether the current handle failed to load c.
func (m *Manager) Failed(c *clips.VideoClip) bool {
	return m.current.Holds(c.ID) && m.current.Failed()
}

// Ready reports whether the current handle has c loaded.
func (m *Manager) Ready(c *clips.VideoClip) bool {
	if !m.current.Holds(c.ID) {
		return false
	}
	switch m.current.State() {
	case media.StateReady, media.StatePlaying, media.StatePaused:
		return true
	default:
		return false
	}
}

// Activate makes c the current clip. The decoder is positioned at the clip
// start when force is set, otherwise at the global time, and starts playing if
// the session is playing. A clip already preloaded is promoted without
// reloading.
func (m *Manager) Activate(c *clips.VideoClip, force bool) *media.Future[float64] {
	if m.next.Holds(c.ID) && !m.next.Failed() {
		m.current.Release()
		m.current, m.next = m.next, m.current
		m.curLoad, m.nextLoad = m.nextLoad, nil
		m.current.SetVolume(1)
		m.logger.Debug().Str("clip", c.ID).Msg("promoted preloaded clip")
		for _, fn := range m.onSwap {
			fn(m.current)
		}
		if m.Ready(c) {
			m.start(c, force)
			return media.Resolved(m.disp, m.current.Duration(), nil)
		}
		if fut := m.curLoad; fut != nil {
			m.startWhenLoaded(fut, c, force)
			return fut
		}
	}

	if m.Ready(c) {
		m.start(c, force)
		return media.Resolved(m.disp, m.current.Duration(), nil)
	}
	if m.current.Holds(c.ID) && m.current.State() == media.StateLoading && m.curLoad != nil {
		m.startWhenLoaded(m.curLoad, c, force)
		return m.curLoad
	}

	m.logger.Debug().Str("clip", c.ID).Str("source", c.Source).Msg("loading clip")
	m.current.SetVolume(1)
	fut := m.current.Load(m.ctx, c.ID, c.Source, c.SourceDuration)
	m.curLoad = fut
	m.startWhenLoaded(fut, c, force)
	return fut
}

// startWhenLoaded positions c once fut resolves. Callbacks run in
// registration order, so the latest Activate decides the start point.
func (m *Manager) startWhenLoaded(fut *media.Future[float64], c *clips.VideoClip, force bool) {
	fut.Then(func(_ float64, err error) {
		if err == nil && m.current.Holds(c.ID) {
			m.start(c, force)
		}
	})
}

// SchedulePreload loads the clip after c into the next handle once the clock
// is within PreloadMargin of c's end. With no following clip the next handle
// is cleared.
func (m *Manager) SchedulePreload(c *clips.VideoClip) {
	nc := m.sess.Project.NextClipAfter(c)
	if nc == nil {
		m.next.Release()
		m.nextLoad = nil
		return
	}
	if m.next.Holds(nc.ID) {
		return
	}
	if c.TimelineEnd-m.sess.GlobalTime >= PreloadMargin {
		return
	}

	m.logger.Debug().Str("clip", nc.ID).Msg("preloading next clip")
	m.next.SetVolume(0)
	fut := m.next.Load(m.ctx, nc.ID, nc.Source, nc.SourceDuration)
	m.nextLoad = fut
	fut.Then(func(_ float64, err error) {
		if err == nil && m.next.Holds(nc.ID) {
			m.next.Seek(nc.TrimIn)
		}
	})
}

// Pause stops the current handle.
func (m *Manager) Pause() {
	m.current.Pause()
}

// Resume continues the current handle from where it is.
func (m *Manager) Resume() {
	m.current.Play()
}

// Clear releases both handles.
func (m *Manager) Clear() {
	m.current.Release()
	m.next.Release()
	m.curLoad, m.nextLoad = nil, nil
}

// DecoderTime returns the current decoder position mapped onto the timeline
// for c.
func (m *Manager) DecoderTime(c *clips.VideoClip) float64 {
	return c.TimelineStart + (m.current.Position() - c.TrimIn)
}

func (m *Manager) start(c *clips.VideoClip, force bool) {
	offset := 0.0
	if !force {
		offset = math.Max(0, m.sess.GlobalTime-c.TimelineStart)
	}
	if err := m.current.Seek(c.TrimIn + offset); err != nil {
		m.logger.Warn().Err(err).Str("clip", c.ID).Msg("seek failed")
		return
	}
	if m.sess.Playing {
		if err := m.current.Play(); err != nil {
			m.logger.Warn().Err(err).Str("clip", c.ID).Msg("play failed")
		}
	} else {
		m.current.Pause()
	}
}
