// Package audioout plays voices on the system audio device.
package audioout

import (
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
)

// DefaultLatency is the device buffer length.
const DefaultLatency = 100 * time.Millisecond

var (
	initOnce sync.Once
	initErr  error
	device   *Speaker
)

// Speaker is the process-wide output device. The first Open fixes its
// sample rate.
type Speaker struct {
	rate beep.SampleRate
}

// Open initializes the device at rate, or returns the one already open.
func Open(rate int, latency time.Duration) (*Speaker, error) {
	initOnce.Do(func() {
		if rate <= 0 {
			initErr = fmt.Errorf("invalid sample rate %d", rate)
			return
		}
		if latency <= 0 {
			latency = DefaultLatency
		}
		sr := beep.SampleRate(rate)
		if err := speaker.Init(sr, sr.N(latency)); err != nil {
			initErr = fmt.Errorf("failed to open audio device: %w", err)
			return
		}
		device = &Speaker{rate: sr}
	})
	return device, initErr
}

func (s *Speaker) SampleRate() int      { return int(s.rate) }
func (s *Speaker) Play(v beep.Streamer) { speaker.Play(v) }
func (s *Speaker) Lock()                { speaker.Lock() }
func (s *Speaker) Unlock()              { speaker.Unlock() }
