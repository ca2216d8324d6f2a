package clips

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Tolerance is the float slack used when checking timing invariants.
const Tolerance = 1e-9

// VideoClip is a window [TrimIn, TrimOut) of a source placed on the video track.
type VideoClip struct {
	ID             string  `json:"id"`
	Source         string  `json:"source"`
	Name           string  `json:"name"`
	SourceDuration float64 `json:"sourceDuration"`
	TrimIn         float64 `json:"trimIn"`
	TrimOut        float64 `json:"trimOut"`
	TimelineStart  float64 `json:"timelineStart"`
	TimelineEnd    float64 `json:"timelineEnd"`
	// Provisional is set while the source duration has not been probed yet.
	Provisional bool `json:"provisional,omitempty"`
}

// NewVideoClip places the whole of a source at start.
func NewVideoClip(source, name string, duration, start float64) *VideoClip {
	return &VideoClip{
		ID:             NewID("v"),
		Source:         source,
		Name:           name,
		SourceDuration: duration,
		TrimIn:         0,
		TrimOut:        duration,
		TimelineStart:  start,
		TimelineEnd:    start + duration,
	}
}

// Duration returns the on-screen length of the clip.
func (c *VideoClip) Duration() float64 {
	return c.TrimOut - c.TrimIn
}

// Contains reports whether t falls inside [TimelineStart, TimelineEnd).
func (c *VideoClip) Contains(t float64) bool {
	return t >= c.TimelineStart && t < c.TimelineEnd
}

// LocalOffset is the time elapsed since the clip started on the timeline.
func (c *VideoClip) LocalOffset(t float64) float64 {
	return t - c.TimelineStart
}

// SourceTime maps a timeline time to the matching position inside the source.
func (c *VideoClip) SourceTime(t float64) float64 {
	return c.TrimIn + (t - c.TimelineStart)
}

// Reflow recomputes TimelineEnd from the trim window.
func (c *VideoClip) Reflow() {
	c.TimelineEnd = c.TimelineStart + (c.TrimOut - c.TrimIn)
}

// MoveTo repositions the clip keeping its duration.
func (c *VideoClip) MoveTo(start float64) {
	c.TimelineStart = start
	c.Reflow()
}

// Validate checks the clip invariants.
func (c *VideoClip) Validate() error {
	if c.TrimIn < 0 {
		return fmt.Errorf("clip %s: trim in %.3f is negative", c.ID, c.TrimIn)
	}
	if c.TrimOut <= c.TrimIn {
		return fmt.Errorf("clip %s: trim out %.3f not after trim in %.3f", c.ID, c.TrimOut, c.TrimIn)
	}
	if c.TrimOut > c.SourceDuration+Tolerance {
		return fmt.Errorf("clip %s: trim out %.3f beyond source duration %.3f", c.ID, c.TrimOut, c.SourceDuration)
	}
	if math.Abs((c.TimelineEnd-c.TimelineStart)-(c.TrimOut-c.TrimIn)) > 1e-6 {
		return fmt.Errorf("clip %s: timeline span does not match trim window", c.ID)
	}
	return nil
}

// AudioClip is a source placed on the audio track starting at TimelineOffset.
type AudioClip struct {
	ID             string  `json:"id"`
	Source         string  `json:"source"`
	Name           string  `json:"name"`
	SourceDuration float64 `json:"sourceDuration"`
	TimelineOffset float64 `json:"timelineOffset"`
	PlayDuration   float64 `json:"playDuration"`
	Volume         float64 `json:"volume"`
	Muted          bool    `json:"muted"`
	VoiceOver      bool    `json:"voiceOver,omitempty"`
}

// NewAudioClip places a full-volume source at offset.
func NewAudioClip(source, name string, duration, offset float64) *AudioClip {
	return &AudioClip{
		ID:             NewID("a"),
		Source:         source,
		Name:           name,
		SourceDuration: duration,
		TimelineOffset: offset,
		PlayDuration:   duration,
		Volume:         1,
	}
}

// End returns the timeline time at which the clip stops.
func (a *AudioClip) End() float64 {
	return a.TimelineOffset + a.PlayDuration
}

// Active reports whether t falls inside [TimelineOffset, End()).
func (a *AudioClip) Active(t float64) bool {
	return t >= a.TimelineOffset && t < a.End()
}

// SourceOffset maps a timeline time to the position inside the source.
func (a *AudioClip) SourceOffset(t float64) float64 {
	return t - a.TimelineOffset
}

// EffectiveVolume is zero while muted.
func (a *AudioClip) EffectiveVolume() float64 {
	if a.Muted {
		return 0
	}
	return a.Volume
}

// Validate checks the clip invariants.
func (a *AudioClip) Validate() error {
	if a.PlayDuration <= 0 {
		return fmt.Errorf("audio clip %s: play duration %.3f must be positive", a.ID, a.PlayDuration)
	}
	if a.Volume < 0 {
		return fmt.Errorf("audio clip %s: negative volume", a.ID)
	}
	return nil
}

// NewID returns a short unique id with the given prefix.
func NewID(prefix string) string {
	id := uuid.NewString()
	return prefix + "_" + id[:8]
}
