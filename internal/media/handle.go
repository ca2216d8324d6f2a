// Package media wraps a platform decoder behind a small playback handle with
// an explicit state machine, typed events and futures for its transitions.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/session"
)

// ErrSuperseded resolves a load that was overtaken by a later load or a release.
var ErrSuperseded = errors.New("load superseded")

// State is the lifecycle position of a Handle.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind enumerates handle notifications.
type EventKind int

const (
	EventLoaded EventKind = iota
	EventLoadFailed
	EventStateChanged
	EventReleased
)

// Event is delivered to subscribers on the session loop.
type Event struct {
	Kind   EventKind
	State  State
	ClipID string
	Err    error
}

// Backend is one decoder instance. Load may block and may still be running
// when Release or another Load is called; the last call wins. The remaining
// calls are expected to return promptly.
type Backend interface {
	Load(ctx context.Context, source string) (duration float64, err error)
	Seek(position float64) error
	Play() error
	Pause() error
	Position() float64
	SetVolume(v float64)
	Release()
}

// FrameNotifier is implemented by backends that can report presented frames.
// The callback may fire on any goroutine.
type FrameNotifier interface {
	SetFrameCallback(fn func(position float64))
}

// DefaultLoadTimeout bounds a single backend load.
const DefaultLoadTimeout = 8 * time.Second

// Handle is a decoder slot. All methods must be called on the session loop.
type Handle struct {
	logger  zerolog.Logger
	disp    session.Dispatcher
	backend Backend
	timeout time.Duration

	state    State
	clipID   string
	source   string
	duration float64
	failed   bool
	volume   float64
	gen      uint64

	listeners []func(Event)
	frameSubs map[int]func(float64)
	nextSub   int
}

// NewHandle wraps a backend.
func NewHandle(logger zerolog.Logger, disp session.Dispatcher, backend Backend, name string) *Handle {
	h := &Handle{
		logger:    logger.With().Str("component", "media").Str("handle", name).Logger(),
		disp:      disp,
		backend:   backend,
		timeout:   DefaultLoadTimeout,
		volume:    1,
		frameSubs: make(map[int]func(float64)),
	}
	if fn, ok := backend.(FrameNotifier); ok {
		fn.SetFrameCallback(func(pos float64) {
			disp.Post(func() { h.notifyFrame(pos) })
		})
	}
	return h
}

// State returns the current lifecycle state.
func (h *Handle) State() State { return h.state }

// ClipID returns the clip currently bound to the handle.
func (h *Handle) ClipID() string { return h.clipID }

// Holds reports whether the handle is bound to clipID, loaded or not.
func (h *Handle) Holds(clipID string) bool {
	return clipID != "" && h.clipID == clipID
}

// Failed reports whether the last load failed.
func (h *Handle) Failed() bool { return h.failed }

// Duration is the decoder-reported duration, or the fallback given to Load
// until the decoder has reported one.
func (h *Handle) Duration() float64 { return h.duration }

// Subscribe registers an event listener.
func (h *Handle) Subscribe(fn func(Event)) {
	h.listeners = append(h.listeners, fn)
}

// Load binds the handle to a clip source. fallback is used as the duration
// until the decoder reports one, and kept if it never does. A load overtaken
// by another Load or Release resolves with ErrSuperseded and changes nothing.
func (h *Handle) Load(ctx context.Context, clipID, source string, fallback float64) *Future[float64] {
	h.gen++
	gen := h.gen
	h.clipID, h.source = clipID, source
	h.duration = fallback
	h.failed = false
	h.setState(StateLoading)

	fut := newFuture[float64](h.disp)
	go func() {
		lctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		d, err := h.backend.Load(lctx, source)

		h.disp.Post(func() {
			if gen != h.gen {
				fut.resolve(0, ErrSuperseded)
				return
			}
			if err != nil {
				h.failed = true
				h.setState(StateEmpty)
				h.logger.Warn().Err(err).Str("clip", clipID).Str("source", source).Msg("load failed")
				h.emit(Event{Kind: EventLoadFailed, State: h.state, ClipID: clipID, Err: err})
				fut.resolve(h.duration, fmt.Errorf("failed to load %s: %w", source, err))
				return
			}
			if d > 0 {
				h.duration = d
			}
			h.backend.SetVolume(h.volume)
			h.setState(StateReady)
			h.emit(Event{Kind: EventLoaded, State: h.state, ClipID: clipID})
			fut.resolve(h.duration, nil)
		})
	}()
	return fut
}

// Seek moves the decoder, clamped to the best-known duration.
func (h *Handle) Seek(position float64) error {
	if !h.loaded() {
		return fmt.Errorf("seek on %s handle", h.state)
	}
	if position < 0 {
		position = 0
	}
	if h.duration > 0 && position > h.duration {
		position = h.duration
	}
	return h.backend.Seek(position)
}

// Play starts presentation.
func (h *Handle) Play() error {
	if !h.loaded() {
		return fmt.Errorf("play on %s handle", h.state)
	}
	if err := h.backend.Play(); err != nil {
		return err
	}
	h.setState(StatePlaying)
	return nil
}

// Pause stops presentation, keeping the position.
func (h *Handle) Pause() error {
	if !h.loaded() {
		return nil
	}
	if err := h.backend.Pause(); err != nil {
		return err
	}
	h.setState(StatePaused)
	return nil
}

// Position is the decoder position in source seconds.
func (h *Handle) Position() float64 {
	if !h.loaded() {
		return 0
	}
	return h.backend.Position()
}

// SetVolume sets the output gain, applied now if loaded and on every later load.
func (h *Handle) SetVolume(v float64) {
	h.volume = v
	if h.loaded() {
		h.backend.SetVolume(v)
	}
}

// Volume returns the last gain set.
func (h *Handle) Volume() float64 { return h.volume }

// Release unbinds the handle. Any load in flight completes silently.
func (h *Handle) Release() {
	if h.state == StateEmpty && h.clipID == "" {
		return
	}
	h.gen++
	h.backend.Release()
	id := h.clipID
	h.clipID, h.source = "", ""
	h.duration = 0
	h.failed = false
	h.setState(StateEmpty)
	h.emit(Event{Kind: EventReleased, State: h.state, ClipID: id})
}

// Subscription cancels a frame callback.
type Subscription struct {
	cancel func()
}

// Cancel stops further callbacks. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s != nil && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// OnFrame registers fn for every presented frame.
func (h *Handle) OnFrame(fn func(position float64)) *Subscription {
	id := h.nextSub
	h.nextSub++
	h.frameSubs[id] = fn
	return &Subscription{cancel: func() { delete(h.frameSubs, id) }}
}

func (h *Handle) notifyFrame(pos float64) {
	if h.state != StatePlaying {
		return
	}
	for _, fn := range h.frameSubs {
		fn(pos)
	}
}

func (h *Handle) loaded() bool {
	return h.state == StateReady || h.state == StatePlaying || h.state == StatePaused
}

func (h *Handle) setState(s State) {
	if h.state == s {
		return
	}
	h.state = s
	h.emit(Event{Kind: EventStateChanged, State: s, ClipID: h.clipID})
}

func (h *Handle) emit(ev Event) {
	for _, fn := range h.listeners {
		fn(ev)
	}
}
