// Package timeline holds the project aggregate: the three clip tracks, the
// in/out range and the queries every other component runs against them.
package timeline

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/keagan/reelcut/internal/clips"
	"github.com/keagan/reelcut/internal/overlays"
)

// Defaults for a fresh project.
const (
	DefaultPixelsPerSecond = 60
	DefaultFrameRate       = 30.0
	// MinRange is the smallest in/out span accepted; a shorter span is widened.
	MinRange = 0.05
)

// Settings are persisted with the project. PixelsPerSecond is only used by views.
type Settings struct {
	PixelsPerSecond int     `json:"pixelsPerSecond"`
	FrameRate       float64 `json:"frameRate"`
}

// Project is the root aggregate owned by one editor session.
type Project struct {
	VideoClips []*clips.VideoClip      `json:"videoClips"`
	AudioClips []*clips.AudioClip      `json:"audioClips"`
	Overlays   []*overlays.OverlayClip `json:"overlays"`
	InPoint    *float64                `json:"inPoint"`
	OutPoint   *float64                `json:"outPoint"`
	Loop       bool                    `json:"loop"`
	Settings   Settings                `json:"settings"`
}

// New returns an empty project with default settings.
func New() *Project {
	return &Project{
		VideoClips: []*clips.VideoClip{},
		AudioClips: []*clips.AudioClip{},
		Overlays:   []*overlays.OverlayClip{},
		Settings: Settings{
			PixelsPerSecond: DefaultPixelsPerSecond,
			FrameRate:       DefaultFrameRate,
		},
	}
}

// Duration is the largest end time across the three tracks.
func (p *Project) Duration() float64 {
	var m float64
	for _, c := range p.VideoClips {
		if c.TimelineEnd > m {
			m = c.TimelineEnd
		}
	}
	for _, a := range p.AudioClips {
		if e := a.End(); e > m {
			m = e
		}
	}
	for _, o := range p.Overlays {
		if o.TimelineEnd > m {
			m = o.TimelineEnd
		}
	}
	return m
}

// EffectiveStart is the in point or the project start.
func (p *Project) EffectiveStart() float64 {
	if p.InPoint != nil {
		return *p.InPoint
	}
	return 0
}

// EffectiveEnd is the out point or the project end.
func (p *Project) EffectiveEnd() float64 {
	if p.OutPoint != nil {
		return *p.OutPoint
	}
	return p.Duration()
}

// SetInPoint sets the in point and re-validates the range.
func (p *Project) SetInPoint(t float64) {
	p.InPoint = &t
	p.ValidateRange()
}

// SetOutPoint sets the out point and re-validates the range.
func (p *Project) SetOutPoint(t float64) {
	p.OutPoint = &t
	p.ValidateRange()
}

// ClearRange removes both in and out points.
func (p *Project) ClearRange() {
	p.InPoint = nil
	p.OutPoint = nil
}

// ValidateRange widens an out point that is not after the in point.
func (p *Project) ValidateRange() {
	if p.InPoint != nil && p.OutPoint != nil && *p.OutPoint <= *p.InPoint {
		out := *p.InPoint + MinRange
		p.OutPoint = &out
	}
}

// FrameInterval returns one frame in seconds.
func (p *Project) FrameInterval() float64 {
	fps := p.Settings.FrameRate
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	return 1 / fps
}

// FindClipAt returns the first video clip covering t.
func (p *Project) FindClipAt(t float64) *clips.VideoClip {
	for _, c := range p.VideoClips {
		if c.Contains(t) {
			return c
		}
	}
	return nil
}

// NextClipAfter returns the clip following c in track order.
func (p *Project) NextClipAfter(c *clips.VideoClip) *clips.VideoClip {
	if c == nil {
		return nil
	}
	i := p.VideoIndex(c.ID)
	if i < 0 || i+1 >= len(p.VideoClips) {
		return nil
	}
	return p.VideoClips[i+1]
}

// VideoIndex returns the track position of a video clip or -1.
func (p *Project) VideoIndex(id string) int {
	for i, c := range p.VideoClips {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// Video looks a video clip up by id.
func (p *Project) Video(id string) *clips.VideoClip {
	if i := p.VideoIndex(id); i >= 0 {
		return p.VideoClips[i]
	}
	return nil
}

// Audio looks an audio clip up by id.
func (p *Project) Audio(id string) *clips.AudioClip {
	for _, a := range p.AudioClips {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// Overlay looks an overlay up by id.
func (p *Project) Overlay(id string) *overlays.OverlayClip {
	for _, o := range p.Overlays {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// ActiveAudio returns the audio clips overlapping t.
func (p *Project) ActiveAudio(t float64) []*clips.AudioClip {
	var out []*clips.AudioClip
	for _, a := range p.AudioClips {
		if a.Active(t) {
			out = append(out, a)
		}
	}
	return out
}

// ActiveOverlays returns the visible overlays at t in z-order.
func (p *Project) ActiveOverlays(t float64) []*overlays.OverlayClip {
	var out []*overlays.OverlayClip
	for _, o := range p.Overlays {
		if o.Active(t) {
			out = append(out, o)
		}
	}
	return out
}

// VideoTrackEnd is where an appended video clip starts.
func (p *Project) VideoTrackEnd() float64 {
	if len(p.VideoClips) == 0 {
		return 0
	}
	return p.VideoClips[len(p.VideoClips)-1].TimelineEnd
}

// AudioTrackEnd is where an appended audio clip starts.
func (p *Project) AudioTrackEnd() float64 {
	if len(p.AudioClips) == 0 {
		return 0
	}
	return p.AudioClips[len(p.AudioClips)-1].End()
}

// Validate checks every clip invariant.
func (p *Project) Validate() error {
	for i, c := range p.VideoClips {
		if err := c.Validate(); err != nil {
			return err
		}
		if i > 0 && c.TimelineStart < p.VideoClips[i-1].TimelineEnd-clips.Tolerance {
			return fmt.Errorf("video clip %s overlaps %s", c.ID, p.VideoClips[i-1].ID)
		}
	}
	for _, a := range p.AudioClips {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	for _, o := range p.Overlays {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of the project.
func (p *Project) Clone() *Project {
	out := &Project{
		VideoClips: make([]*clips.VideoClip, len(p.VideoClips)),
		AudioClips: make([]*clips.AudioClip, len(p.AudioClips)),
		Overlays:   make([]*overlays.OverlayClip, len(p.Overlays)),
		Loop:       p.Loop,
		Settings:   p.Settings,
	}
	for i, c := range p.VideoClips {
		cp := *c
		out.VideoClips[i] = &cp
	}
	for i, a := range p.AudioClips {
		cp := *a
		out.AudioClips[i] = &cp
	}
	for i, o := range p.Overlays {
		cp := *o
		out.Overlays[i] = &cp
	}
	if p.InPoint != nil {
		v := *p.InPoint
		out.InPoint = &v
	}
	if p.OutPoint != nil {
		v := *p.OutPoint
		out.OutPoint = &v
	}
	return out
}

// Marshal encodes the project in its interchange format.
func (p *Project) Marshal() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// Unmarshal decodes and validates a project.
func Unmarshal(data []byte) (*Project, error) {
	p := New()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse project: %w", err)
	}
	if p.VideoClips == nil {
		p.VideoClips = []*clips.VideoClip{}
	}
	if p.AudioClips == nil {
		p.AudioClips = []*clips.AudioClip{}
	}
	if p.Overlays == nil {
		p.Overlays = []*overlays.OverlayClip{}
	}
	if p.Settings.FrameRate <= 0 {
		p.Settings.FrameRate = DefaultFrameRate
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}
	return p, nil
}

// Load reads a project file.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

// Save writes a project file.
func (p *Project) Save(path string) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
