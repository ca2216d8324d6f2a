package media

import (
	"context"
	"sync"
	"time"
)

// ProbeFunc reports the intrinsic duration of a source in seconds.
type ProbeFunc func(ctx context.Context, source string) (float64, error)

// ClockBackend is a headless decoder: it learns the duration from a probe and
// advances its position with the wall clock while playing. It drives the
// scheduler when no picture is presented, and stands in for audio outputs in
// that mode.
type ClockBackend struct {
	probe ProbeFunc
	now   func() time.Time

	mu       sync.Mutex
	duration float64
	base     float64
	started  time.Time
	playing  bool
	volume   float64
	gen      uint64
}

// NewClockBackend creates a backend that probes sources with probe.
func NewClockBackend(probe ProbeFunc) *ClockBackend {
	return &ClockBackend{probe: probe, now: time.Now, volume: 1}
}

// Load probes source. A load overtaken by another Load or Release returns
// ErrSuperseded and leaves the newer state alone.
func (b *ClockBackend) Load(ctx context.Context, source string) (float64, error) {
	b.mu.Lock()
	b.gen++
	gen := b.gen
	b.mu.Unlock()

	d, err := b.probe(ctx, source)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		return 0, ErrSuperseded
	}
	b.duration = d
	b.base = 0
	b.playing = false
	return d, nil
}

func (b *ClockBackend) Seek(position float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.base = position
	b.started = b.now()
	return nil
}

func (b *ClockBackend) Play() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.playing {
		b.started = b.now()
		b.playing = true
	}
	return nil
}

func (b *ClockBackend) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.base = b.positionLocked()
	b.playing = false
	return nil
}

func (b *ClockBackend) Position() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positionLocked()
}

func (b *ClockBackend) SetVolume(v float64) {
	b.mu.Lock()
	b.volume = v
	b.mu.Unlock()
}

func (b *ClockBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	b.duration, b.base, b.playing = 0, 0, false
}

func (b *ClockBackend) positionLocked() float64 {
	pos := b.base
	if b.playing {
		pos += b.now().Sub(b.started).Seconds()
	}
	if b.duration > 0 && pos > b.duration {
		pos = b.duration
	}
	return pos
}
