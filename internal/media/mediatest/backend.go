// Package mediatest provides a scriptable media backend for tests.
package mediatest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/keagan/reelcut/internal/media"
	"github.com/keagan/reelcut/internal/session"
)

// Library is the set of sources the fake backends can open.
type Library struct {
	mu        sync.Mutex
	durations map[string]float64
	errs      map[string]error
	gates     map[string]chan struct{}
	backends  []*Backend
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{
		durations: make(map[string]float64),
		errs:      make(map[string]error),
		gates:     make(map[string]chan struct{}),
	}
}

// Add registers a source with its duration.
func (l *Library) Add(source string, duration float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.durations[source] = duration
}

// Fail makes every load of source fail with err.
func (l *Library) Fail(source string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs[source] = err
}

// Block holds loads of source until Unblock is called.
func (l *Library) Block(source string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gates[source] = make(chan struct{})
}

// Unblock releases loads of source held by Block.
func (l *Library) Unblock(source string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if g, ok := l.gates[source]; ok {
		close(g)
		delete(l.gates, source)
	}
}

// Backend creates a new fake decoder bound to the library.
func (l *Library) Backend() media.Backend {
	b := &Backend{lib: l, volume: 1}
	l.mu.Lock()
	l.backends = append(l.backends, b)
	l.mu.Unlock()
	return b
}

// Backends returns every backend created so far.
func (l *Library) Backends() []*Backend {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Backend(nil), l.backends...)
}

// Playing returns the backends currently playing the given source.
func (l *Library) Playing(source string) []*Backend {
	var out []*Backend
	for _, b := range l.Backends() {
		if b.Source() == source && b.IsPlaying() {
			out = append(out, b)
		}
	}
	return out
}

// Backend is a fake decoder whose position only moves through Advance.
type Backend struct {
	lib *Library

	mu       sync.Mutex
	source   string
	duration float64
	pos      float64
	playing  bool
	volume   float64
	loads    []string
	seeks    []float64
	released int
	onFrame  func(float64)
}

func (b *Backend) Load(ctx context.Context, source string) (float64, error) {
	b.mu.Lock()
	b.loads = append(b.loads, source)
	b.mu.Unlock()

	b.lib.mu.Lock()
	gate := b.lib.gates[source]
	d, known := b.lib.durations[source]
	err := b.lib.errs[source]
	b.lib.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}
	if !known {
		return 0, fmt.Errorf("unknown source %q", source)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.source, b.duration, b.pos, b.playing = source, d, 0, false
	return d, nil
}

func (b *Backend) Seek(position float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pos = position
	b.seeks = append(b.seeks, position)
	return nil
}

func (b *Backend) Play() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.playing = true
	return nil
}

func (b *Backend) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.playing = false
	return nil
}

func (b *Backend) Position() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos
}

func (b *Backend) SetVolume(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.volume = v
}

func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.source, b.pos, b.playing = "", 0, false
	b.released++
}

func (b *Backend) SetFrameCallback(fn func(float64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFrame = fn
}

// Advance moves a playing decoder forward by dt, capped at its duration, and
// reports the new position as a presented frame.
func (b *Backend) Advance(dt float64) {
	b.mu.Lock()
	if !b.playing {
		b.mu.Unlock()
		return
	}
	b.pos += dt
	if b.pos > b.duration {
		b.pos = b.duration
	}
	pos, fn := b.pos, b.onFrame
	b.mu.Unlock()
	if fn != nil {
		fn(pos)
	}
}

// SetPosition forces the decoder position.
func (b *Backend) SetPosition(pos float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pos = pos
}

// Source returns the loaded source.
func (b *Backend) Source() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.source
}

// IsPlaying reports whether Play was called since the last Pause.
func (b *Backend) IsPlaying() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playing
}

// Volume returns the last gain set.
func (b *Backend) Volume() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volume
}

// Seeks returns every seek target in order.
func (b *Backend) Seeks() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]float64(nil), b.seeks...)
}

// Loads returns every requested source in order.
func (b *Backend) Loads() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.loads...)
}

// Released counts Release calls.
func (b *Backend) Released() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// Settle drains loop until done is closed, failing after a second.
func Settle(t testing.TB, loop *session.Loop, done <-chan struct{}) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		loop.Drain()
		select {
		case <-done:
			loop.Drain()
			return
		default:
		}
		select {
		case <-loop.Wake():
		case <-done:
		case <-deadline:
			t.Fatal("timed out waiting for the session loop")
		}
	}
}
