package media

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
)

// PCMDecoder decodes a whole source to stereo samples at rate.
type PCMDecoder func(ctx context.Context, source string, rate int) (*beep.Buffer, error)

// Output is a device mixing every voice played on it. Lock and Unlock
// guard state the device reads while streaming.
type Output interface {
	SampleRate() int
	Play(s beep.Streamer)
	Lock()
	Unlock()
}

// PCMBackend decodes a source into memory and plays it on an Output.
type PCMBackend struct {
	decode PCMDecoder
	out    Output

	mu     sync.Mutex
	gen    uint64
	voice  *voice
	volume float64
}

// NewPCMBackend creates a backend decoding with decode and playing on out.
func NewPCMBackend(decode PCMDecoder, out Output) *PCMBackend {
	return &PCMBackend{decode: decode, out: out, volume: 1}
}

func (b *PCMBackend) Load(ctx context.Context, source string) (float64, error) {
	b.mu.Lock()
	b.gen++
	gen := b.gen
	b.mu.Unlock()

	rate := b.out.SampleRate()
	buf, err := b.decode(ctx, source, rate)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		return 0, ErrSuperseded
	}
	b.stopLocked()
	v := newVoice(buf)
	v.setVolume(b.volume)
	b.voice = v
	b.out.Play(v)
	return float64(buf.Len()) / float64(rate), nil
}

func (b *PCMBackend) Seek(position float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.voice == nil {
		return fmt.Errorf("no source loaded")
	}
	n := int(math.Round(position * float64(b.out.SampleRate())))
	b.out.Lock()
	defer b.out.Unlock()
	return b.voice.seeker.Seek(min(max(0, n), b.voice.seeker.Len()))
}

func (b *PCMBackend) Play() error  { return b.setPaused(false) }
func (b *PCMBackend) Pause() error { return b.setPaused(true) }

func (b *PCMBackend) setPaused(paused bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.voice == nil {
		return fmt.Errorf("no source loaded")
	}
	b.out.Lock()
	b.voice.ctrl.Paused = paused
	b.out.Unlock()
	return nil
}

func (b *PCMBackend) Position() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.voice == nil {
		return 0
	}
	b.out.Lock()
	n := b.voice.seeker.Position()
	b.out.Unlock()
	return float64(n) / float64(b.out.SampleRate())
}

func (b *PCMBackend) SetVolume(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.volume = v
	if b.voice == nil {
		return
	}
	b.out.Lock()
	b.voice.setVolume(v)
	b.out.Unlock()
}

func (b *PCMBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	b.stopLocked()
}

func (b *PCMBackend) stopLocked() {
	if b.voice == nil {
		return
	}
	b.out.Lock()
	b.voice.done = true
	b.out.Unlock()
	b.voice = nil
}

// voice is one source on the output. It pads with silence past the end of
// the source so the output keeps it until it is released.
type voice struct {
	seeker beep.StreamSeeker
	ctrl   *beep.Ctrl
	vol    *effects.Volume
	done   bool
}

func newVoice(buf *beep.Buffer) *voice {
	seeker := buf.Streamer(0, buf.Len())
	ctrl := &beep.Ctrl{Streamer: seeker, Paused: true}
	return &voice{
		seeker: seeker,
		ctrl:   ctrl,
		vol:    &effects.Volume{Streamer: ctrl, Base: 2},
	}
}

// setVolume maps a linear gain onto the log2 volume effect.
func (v *voice) setVolume(gain float64) {
	v.vol.Silent = gain <= 0
	if gain > 0 {
		v.vol.Volume = math.Log2(gain)
	}
}

func (v *voice) Stream(samples [][2]float64) (int, bool) {
	if v.done {
		return 0, false
	}
	n, _ := v.vol.Stream(samples)
	clear(samples[n:])
	return len(samples), true
}

func (v *voice) Err() error { return nil }
