// Package playback owns the timeline clock. While a clip is on screen the
// decoder position is authoritative; across gaps the clock runs on wall time.
package playback

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/activation"
	"github.com/keagan/reelcut/internal/audiomux"
	"github.com/keagan/reelcut/internal/clips"
	"github.com/keagan/reelcut/internal/media"
	"github.com/keagan/reelcut/internal/session"
)

// Clock tolerances in seconds.
const (
	EndEpsilon    = 1e-4
	RewindEpsilon = 1e-6
	ResumeDrift   = 0.06
)

// DefaultTickInterval is the wall-clock tick used by Drive.
const DefaultTickInterval = 16 * time.Millisecond

// Scheduler advances the session clock and hands playback between clips.
type Scheduler struct {
	logger zerolog.Logger
	sess   *session.EditorSession
	act    *activation.Manager
	audio  *audiomux.Layer

	activeID string
	gap      bool
	frameSub *media.Subscription
	onTick   []func(t float64)
}

// New wires a scheduler to its activation manager and audio layer.
func New(logger zerolog.Logger, sess *session.EditorSession, act *activation.Manager, audio *audiomux.Layer) *Scheduler {
	s := &Scheduler{
		logger: logger.With().Str("component", "playback").Logger(),
		sess:   sess,
		act:    act,
		audio:  audio,
	}
	act.OnSwap(func(*media.Handle) {
		if s.frameSub != nil {
			s.subscribe()
		}
	})
	return s
}

// OnTick registers fn to run whenever the clock moves.
func (s *Scheduler) OnTick(fn func(t float64)) {
	s.onTick = append(s.onTick, fn)
}

// InGap reports whether the clock is running on wall time.
func (s *Scheduler) InGap() bool { return s.gap }

// ActiveClipID is the clip the scheduler is presenting.
func (s *Scheduler) ActiveClipID() string { return s.activeID }

// Play starts playback from the current time, rewinding to the effective
// start when already at the end.
func (s *Scheduler) Play() {
	if s.sess.Playing {
		return
	}
	p := s.sess.Project
	if s.sess.GlobalTime >= p.EffectiveEnd()-RewindEpsilon {
		s.sess.GlobalTime = p.EffectiveStart()
	}
	s.sess.Playing = true
	s.logger.Debug().Float64("t", s.sess.GlobalTime).Msg("play")

	s.startAt(s.sess.GlobalTime)
	s.subscribe()
	s.audio.Sync(s.sess.GlobalTime)
	s.notify()
}

// Pause stops every output. Loads in flight complete silently.
func (s *Scheduler) Pause() {
	s.sess.Playing = false
	s.gap = false
	s.act.Pause()
	s.frameSub.Cancel()
	s.frameSub = nil
	s.audio.StopAll()
	s.notify()
}

// TogglePlay flips between Play and Pause.
func (s *Scheduler) TogglePlay() {
	if s.sess.Playing {
		s.Pause()
		return
	}
	s.Play()
}

// Replay rewinds to the effective start and plays.
func (s *Scheduler) Replay() {
	s.Pause()
	s.sess.GlobalTime = s.sess.Project.EffectiveStart()
	s.Play()
}

// Seek moves the clock to t, clamped to the project.
func (s *Scheduler) Seek(t float64) {
	t = s.sess.Clamp(t)
	s.sess.GlobalTime = t
	s.present(t)
	if s.sess.Playing {
		s.audio.Sync(t)
	}
	s.notify()
}

// StepFrame pauses and moves one frame forward (dir > 0) or back.
func (s *Scheduler) StepFrame(dir int) {
	if s.sess.Playing {
		s.Pause()
	}
	p := s.sess.Project
	t := s.sess.GlobalTime
	if dir >= 0 {
		t += p.FrameInterval()
	} else {
		t -= p.FrameInterval()
	}
	t = math.Max(0, math.Min(t, p.EffectiveEnd()))
	s.sess.GlobalTime = t
	s.present(t)
	s.notify()
}

// Tick advances the clock by elapsed wall seconds.
func (s *Scheduler) Tick(elapsed float64) {
	if !s.sess.Playing {
		return
	}
	p := s.sess.Project

	if s.gap {
		s.tickGap(elapsed)
		return
	}

	c := p.Video(s.activeID)
	if c == nil {
		s.startAt(s.sess.GlobalTime)
		s.audio.Sync(s.sess.GlobalTime)
		s.notify()
		return
	}
	if !s.act.Ready(c) {
		if s.act.Failed(c) {
			s.logger.Warn().Str("clip", c.ID).Msg("clip failed to load, crossing on wall clock")
			s.gap = true
			s.tickGap(elapsed)
		}
		return
	}

	t := s.act.DecoderTime(c)
	if t < c.TimelineStart {
		t = c.TimelineStart
	}
	s.sess.GlobalTime = t

	switch {
	case t >= p.EffectiveEnd()-EndEpsilon:
		s.reachEnd()
		return
	case t >= c.TimelineEnd-EndEpsilon:
		s.handOff(c)
	default:
		s.act.SchedulePreload(c)
	}
	s.audio.Sync(s.sess.GlobalTime)
	s.notify()
}

// Drive posts Tick to disp at the given interval until ctx is done.
func (s *Scheduler) Drive(ctx context.Context, disp session.Dispatcher, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			disp.Post(func() { s.Tick(dt) })
		}
	}
}

// Suspend pauses playback and returns a function restoring the previous
// clock position and play state.
func (s *Scheduler) Suspend() (restore func()) {
	t, playing := s.sess.GlobalTime, s.sess.Playing
	s.Pause()
	return func() {
		s.Seek(t)
		if playing {
			s.Play()
		}
	}
}

func (s *Scheduler) tickGap(elapsed float64) {
	p := s.sess.Project
	t := s.sess.GlobalTime + elapsed
	if t >= p.EffectiveEnd()-EndEpsilon {
		s.sess.GlobalTime = p.EffectiveEnd()
		s.reachEnd()
		return
	}
	s.sess.GlobalTime = t

	// A clip that failed to load is crossed like a gap.
	if c := p.FindClipAt(t); c != nil && (c.ID != s.activeID || !s.act.Failed(c)) {
		s.logger.Debug().Str("clip", c.ID).Float64("t", t).Msg("leaving gap")
		s.gap = false
		s.activeID = c.ID
		s.act.Activate(c, false)
	}
	s.audio.Sync(t)
	s.notify()
}

func (s *Scheduler) handOff(c *clips.VideoClip) {
	p := s.sess.Project
	next := p.NextClipAfter(c)
	if next != nil && next.TimelineStart <= c.TimelineEnd+EndEpsilon {
		s.sess.GlobalTime = next.TimelineStart
		s.activeID = next.ID
		s.logger.Debug().Str("from", c.ID).Str("to", next.ID).Msg("clip hand-off")
		s.act.Activate(next, true)
		return
	}
	s.sess.GlobalTime = c.TimelineEnd
	s.enterGap()
}

func (s *Scheduler) reachEnd() {
	p := s.sess.Project
	if p.Loop {
		start := p.EffectiveStart()
		s.logger.Debug().Float64("t", start).Msg("loop")
		s.sess.GlobalTime = start
		s.audio.StopAll()
		s.startAt(start)
		s.audio.Sync(start)
		s.notify()
		return
	}
	s.sess.GlobalTime = p.EffectiveEnd()
	s.Pause()
}

// startAt activates whatever covers t for playing.
func (s *Scheduler) startAt(t float64) {
	c := s.sess.Project.FindClipAt(t)
	if c == nil {
		s.enterGap()
		return
	}
	s.gap = false
	s.activeID = c.ID

	switch {
	case s.act.Ready(c):
		if math.Abs(s.act.DecoderTime(c)-t) > ResumeDrift {
			s.act.Current().Seek(c.SourceTime(t))
		}
		s.act.Resume()
	case s.act.Failed(c):
		s.gap = true
	default:
		s.act.Activate(c, false)
	}
}

// present shows the frame at t without starting playback.
func (s *Scheduler) present(t float64) {
	c := s.sess.Project.FindClipAt(t)
	if c == nil {
		s.activeID = ""
		if s.sess.Playing {
			s.enterGap()
		}
		return
	}
	s.activeID = c.ID
	if s.act.Ready(c) {
		s.act.Current().Seek(c.SourceTime(t))
		if s.sess.Playing {
			s.act.Resume()
		}
	} else {
		s.act.Activate(c, false)
	}
	if s.sess.Playing {
		s.gap = s.act.Failed(c)
	}
}

func (s *Scheduler) enterGap() {
	if !s.gap {
		s.logger.Debug().Float64("t", s.sess.GlobalTime).Msg("entering gap")
	}
	s.gap = true
	s.act.Pause()
}

func (s *Scheduler) subscribe() {
	s.frameSub.Cancel()
	s.frameSub = s.act.Current().OnFrame(s.onFrame)
}

// onFrame re-reads the decoder rather than trusting the reported position,
// which may predate a seek queued behind it.
func (s *Scheduler) onFrame(float64) {
	if !s.sess.Playing || s.gap {
		return
	}
	c := s.sess.Project.Video(s.activeID)
	if c == nil || !s.act.Ready(c) {
		return
	}
	t := s.act.DecoderTime(c)
	if t < c.TimelineStart || t > c.TimelineEnd {
		return
	}
	s.sess.GlobalTime = t
	s.notify()
}

func (s *Scheduler) notify() {
	for _, fn := range s.onTick {
		fn(s.sess.GlobalTime)
	}
}
