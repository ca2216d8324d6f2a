package media

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClockBackendAdvancesWhilePlaying(t *testing.T) {
	now := time.Unix(100, 0)
	b := NewClockBackend(func(context.Context, string) (float64, error) { return 4, nil })
	b.now = func() time.Time { return now }

	if d, err := b.Load(context.Background(), "a.mp4"); err != nil || d != 4 {
		t.Fatalf("Load = %v, %v", d, err)
	}
	b.Seek(1)
	b.Play()
	now = now.Add(1500 * time.Millisecond)
	if pos := b.Position(); pos != 2.5 {
		t.Errorf("position = %v, want 2.5", pos)
	}
	b.Pause()
	now = now.Add(time.Second)
	if pos := b.Position(); pos != 2.5 {
		t.Errorf("paused position moved to %v", pos)
	}
	b.Play()
	now = now.Add(10 * time.Second)
	if pos := b.Position(); pos != 4 {
		t.Errorf("position = %v, want clamp at 4", pos)
	}
}

func TestClockBackendStaleLoad(t *testing.T) {
	release := make(chan struct{})
	durations := map[string]float64{"slow.mp4": 9, "fast.mp4": 3}
	b := NewClockBackend(func(ctx context.Context, source string) (float64, error) {
		if source == "slow.mp4" {
			<-release
		}
		return durations[source], nil
	})

	type result struct {
		d   float64
		err error
	}
	slow := make(chan result, 1)
	started := make(chan struct{})
	go func() {
		close(started)
		d, err := b.Load(context.Background(), "slow.mp4")
		slow <- result{d, err}
	}()
	<-started
	// wait until the slow load has taken its generation
	deadline := time.Now().Add(time.Second)
	for {
		b.mu.Lock()
		gen := b.gen
		b.mu.Unlock()
		if gen == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if d, err := b.Load(context.Background(), "fast.mp4"); err != nil || d != 3 {
		t.Fatalf("Load(fast) = %v, %v", d, err)
	}
	b.Seek(1)
	close(release)

	r := <-slow
	if !errors.Is(r.err, ErrSuperseded) {
		t.Errorf("stale load returned %v, %v", r.d, r.err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.duration != 3 || b.base != 1 {
		t.Errorf("stale load overwrote state: duration=%v base=%v", b.duration, b.base)
	}
}
