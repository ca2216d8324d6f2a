package edit

import (
	"github.com/keagan/reelcut/internal/clips"
	"github.com/keagan/reelcut/internal/overlays"
	"github.com/keagan/reelcut/internal/session"
)

// Split cuts a video clip at timeline time t into two clips whose trim
// windows partition the original, replacing it in place.
func (e *Editor) Split(id string, t float64) bool {
	p := e.sess.Project
	i := p.VideoIndex(id)
	if i < 0 {
		return false
	}
	c := p.VideoClips[i]
	if t <= c.TimelineStart+SplitMargin || t >= c.TimelineEnd-SplitMargin {
		return false
	}

	e.begin()
	rel := c.SourceTime(t)

	first := *c
	first.ID = clips.NewID("v1")
	first.TrimOut = rel
	first.Reflow()

	second := *c
	second.ID = clips.NewID("v2")
	second.TrimIn = rel
	second.TimelineStart = first.TimelineEnd
	second.Reflow()

	p.VideoClips = append(p.VideoClips[:i], append([]*clips.VideoClip{&first, &second}, p.VideoClips[i+1:]...)...)
	e.sess.Select(session.SelectVideo, first.ID)
	e.commit("split")
	return true
}

// SplitAtPlayhead splits the selected video clip at the current time.
func (e *Editor) SplitAtPlayhead() bool {
	sel := e.sess.Selection
	if sel.Kind != session.SelectVideo {
		return false
	}
	return e.Split(sel.ID, e.sess.GlobalTime)
}

// DeleteVideo removes a video clip. With ripple on, every later clip shifts
// left by the removed duration.
func (e *Editor) DeleteVideo(id string) bool {
	p := e.sess.Project
	i := p.VideoIndex(id)
	if i < 0 {
		return false
	}

	e.begin()
	removed := p.VideoClips[i].Duration()
	p.VideoClips = append(p.VideoClips[:i], p.VideoClips[i+1:]...)
	if e.sess.Ripple {
		for _, c := range p.VideoClips[i:] {
			c.TimelineStart -= removed
			c.TimelineEnd -= removed
		}
	}
	e.sess.ClearSelection()
	e.commit("delClip")
	return true
}

// DeleteAudio removes an audio clip.
func (e *Editor) DeleteAudio(id string) bool {
	p := e.sess.Project
	for i, a := range p.AudioClips {
		if a.ID != id {
			continue
		}
		e.begin()
		p.AudioClips = append(p.AudioClips[:i], p.AudioClips[i+1:]...)
		e.sess.ClearSelection()
		e.commit("delAudio")
		return true
	}
	return false
}

// DeleteOverlay removes an overlay.
func (e *Editor) DeleteOverlay(id string) bool {
	p := e.sess.Project
	for i, o := range p.Overlays {
		if o.ID != id {
			continue
		}
		e.begin()
		p.Overlays = append(p.Overlays[:i], p.Overlays[i+1:]...)
		e.sess.ClearSelection()
		e.commit("delOverlay")
		return true
	}
	return false
}

// DeleteSelected removes whatever the selection points at.
func (e *Editor) DeleteSelected() bool {
	sel := e.sess.Selection
	switch sel.Kind {
	case session.SelectVideo:
		return e.DeleteVideo(sel.ID)
	case session.SelectAudio:
		return e.DeleteAudio(sel.ID)
	case session.SelectOverlay:
		return e.DeleteOverlay(sel.ID)
	default:
		return false
	}
}

// DuplicateSelected copies the selected video clip to the end of the track or
// the selected overlay one offset step down and right.
func (e *Editor) DuplicateSelected() bool {
	p := e.sess.Project
	sel := e.sess.Selection

	switch sel.Kind {
	case session.SelectVideo:
		c := p.Video(sel.ID)
		if c == nil {
			return false
		}
		e.begin()
		dup := *c
		dup.ID = clips.NewID("vdup")
		dup.MoveTo(p.VideoTrackEnd())
		p.VideoClips = append(p.VideoClips, &dup)
		e.sess.Select(session.SelectVideo, dup.ID)
		e.commit("dupVid")
		return true
	case session.SelectOverlay:
		o := p.Overlay(sel.ID)
		if o == nil {
			return false
		}
		e.begin()
		dup := *o
		dup.ID = clips.NewID("ovdup")
		dup.Position.X += OverlayOffsetStep
		dup.Position.Y += OverlayOffsetStep
		p.Overlays = append(p.Overlays, &dup)
		e.sess.Select(session.SelectOverlay, dup.ID)
		e.commit("dupOv")
		return true
	default:
		return false
	}
}

// SetClipInAtPlayhead moves the selected clip's trim-in to the playhead,
// keeping its timeline start.
func (e *Editor) SetClipInAtPlayhead() bool {
	c := e.selectedVideo()
	if c == nil {
		return false
	}
	rel := c.SourceTime(e.sess.GlobalTime)
	if rel < 0 || rel >= c.TrimOut-SetPointMargin {
		return false
	}
	e.begin()
	c.TrimIn = rel
	c.Reflow()
	e.commit("trimIn")
	return true
}

// SetClipOutAtPlayhead moves the selected clip's trim-out to the playhead.
func (e *Editor) SetClipOutAtPlayhead() bool {
	c := e.selectedVideo()
	if c == nil {
		return false
	}
	rel := c.SourceTime(e.sess.GlobalTime)
	if rel <= c.TrimIn+SetPointMargin || rel > c.SourceDuration {
		return false
	}
	e.begin()
	c.TrimOut = rel
	c.Reflow()
	e.commit("trimOut")
	return true
}

// FitToRange resizes and moves the selected clip to cover the in/out range.
func (e *Editor) FitToRange() bool {
	p := e.sess.Project
	c := e.selectedVideo()
	if c == nil || p.InPoint == nil || p.OutPoint == nil {
		return false
	}
	length := *p.OutPoint - *p.InPoint
	if length < SetPointMargin || length > c.SourceDuration {
		return false
	}

	trimIn := c.TrimIn
	if trimIn > c.SourceDuration-length {
		trimIn = c.SourceDuration - length
	}
	start, end := *p.InPoint, *p.InPoint+length
	for _, other := range p.VideoClips {
		if other.ID != c.ID && start < other.TimelineEnd && end > other.TimelineStart {
			return false
		}
	}

	e.begin()
	c.TrimIn = trimIn
	c.TrimOut = trimIn + length
	c.MoveTo(start)
	sortVideo(p.VideoClips)
	e.commit("fitRange")
	return true
}

// SetInAtPlayhead marks the in point.
func (e *Editor) SetInAtPlayhead() {
	e.begin()
	e.sess.Project.SetInPoint(e.sess.GlobalTime)
	e.commit("setIn")
}

// SetOutAtPlayhead marks the out point.
func (e *Editor) SetOutAtPlayhead() {
	e.begin()
	e.sess.Project.SetOutPoint(e.sess.GlobalTime)
	e.commit("setOut")
}

// ClearRange removes the in/out points.
func (e *Editor) ClearRange() {
	e.begin()
	e.sess.Project.ClearRange()
	e.commit("clearRange")
}

// ToggleLoop flips looping playback.
func (e *Editor) ToggleLoop() bool {
	e.begin()
	e.sess.Project.Loop = !e.sess.Project.Loop
	e.commit("loop")
	return e.sess.Project.Loop
}

// ToggleRipple flips ripple delete. It is a session preference and not recorded.
func (e *Editor) ToggleRipple() bool {
	e.sess.Ripple = !e.sess.Ripple
	return e.sess.Ripple
}

// AppendVideo places a clip at the end of the video track.
func (e *Editor) AppendVideo(c *clips.VideoClip, label string) {
	e.begin()
	p := e.sess.Project
	c.MoveTo(p.VideoTrackEnd())
	p.VideoClips = append(p.VideoClips, c)
	if label != "" {
		e.commit(label)
	} else {
		e.sess.Changed()
	}
}

// AddAudio adds an audio clip at its own offset.
func (e *Editor) AddAudio(a *clips.AudioClip, label string) bool {
	if a.Validate() != nil {
		return false
	}
	e.begin()
	e.sess.Project.AudioClips = append(e.sess.Project.AudioClips, a)
	e.commit(label)
	return true
}

// AddOverlay puts an overlay on top of the stack.
func (e *Editor) AddOverlay(o *overlays.OverlayClip, label string) bool {
	if o.Validate() != nil {
		return false
	}
	e.begin()
	e.sess.Project.Overlays = append(e.sess.Project.Overlays, o)
	e.sess.Select(session.SelectOverlay, o.ID)
	e.commit(label)
	return true
}

// AddTextAtPlayhead adds a text overlay at the playhead, stepping it away from
// other overlays that start at the same time.
func (e *Editor) AddTextAtPlayhead(text string) *overlays.OverlayClip {
	t := e.sess.GlobalTime
	count := 0
	for _, o := range e.sess.Project.Overlays {
		if o.TimelineStart-t < 0.001 && t-o.TimelineStart < 0.001 {
			count++
		}
	}
	idx := min(count, overlays.MaxAutoOffset)
	if text == "" {
		text = overlays.DefaultTextLabel
	}
	o := overlays.NewText(text, t, overlays.Position{
		X: 100 + idx*overlays.OffsetStep,
		Y: 100 + idx*overlays.OffsetStep,
	})
	e.AddOverlay(o, "addText")
	return o
}

// AddImagesAtPlayhead adds one image overlay per source, cascading positions.
func (e *Editor) AddImagesAtPlayhead(sources []string) []*overlays.OverlayClip {
	if len(sources) == 0 {
		return nil
	}
	e.begin()
	t := e.sess.GlobalTime
	out := make([]*overlays.OverlayClip, 0, len(sources))
	for i, src := range sources {
		o := overlays.NewImage(src, t, overlays.Position{
			X: 120 + i*overlays.OffsetStep,
			Y: 120 + i*overlays.OffsetStep,
		})
		e.sess.Project.Overlays = append(e.sess.Project.Overlays, o)
		out = append(out, o)
	}
	e.commit("importImages")
	return out
}

// UpdateAudio applies an inspector change to an audio clip. Changes that break
// the clip invariants are reverted.
func (e *Editor) UpdateAudio(id string, fn func(a *clips.AudioClip)) bool {
	a := e.sess.Project.Audio(id)
	if a == nil {
		return false
	}
	before := *a
	fn(a)
	if a.Validate() != nil || *a == before {
		*a = before
		return false
	}
	after := *a
	*a = before
	e.begin()
	*a = after
	e.commit("audioProps")
	return true
}

// UpdateOverlay applies an inspector change to an overlay. Changes that break
// the overlay invariants are reverted.
func (e *Editor) UpdateOverlay(id string, fn func(o *overlays.OverlayClip)) bool {
	o := e.sess.Project.Overlay(id)
	if o == nil {
		return false
	}
	before := *o
	fn(o)
	if o.Validate() != nil || *o == before {
		*o = before
		return false
	}
	after := *o
	*o = before
	e.begin()
	*o = after
	e.commit("overlayProps")
	return true
}

// RaiseOverlay moves an overlay one step up the z-order.
func (e *Editor) RaiseOverlay(id string) bool {
	list := e.sess.Project.Overlays
	for i, o := range list {
		if o.ID == id && i+1 < len(list) {
			e.begin()
			list[i], list[i+1] = list[i+1], list[i]
			e.commit("raiseOverlay")
			return true
		}
	}
	return false
}

// LowerOverlay moves an overlay one step down the z-order.
func (e *Editor) LowerOverlay(id string) bool {
	list := e.sess.Project.Overlays
	for i, o := range list {
		if o.ID == id && i > 0 {
			e.begin()
			list[i], list[i-1] = list[i-1], list[i]
			e.commit("lowerOverlay")
			return true
		}
	}
	return false
}

func (e *Editor) selectedVideo() *clips.VideoClip {
	sel := e.sess.Selection
	if sel.Kind != session.SelectVideo {
		return nil
	}
	return e.sess.Project.Video(sel.ID)
}

func sortVideo(list []*clips.VideoClip) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].TimelineStart < list[j-1].TimelineStart; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

// AddVoiceOver places a recorded take after the end of the audio track.
func (e *Editor) AddVoiceOver(source string, duration float64) *clips.AudioClip {
	if duration <= 0 {
		return nil
	}
	a := clips.NewAudioClip(source, "Voice-over", duration, e.sess.Project.AudioTrackEnd())
	a.ID = clips.NewID("vo")
	a.VoiceOver = true
	if !e.AddAudio(a, "voiceOver") {
		return nil
	}
	e.sess.Select(session.SelectAudio, a.ID)
	return a
}

// DiscardLastVoiceOver removes the most recently added voice-over take.
func (e *Editor) DiscardLastVoiceOver() bool {
	list := e.sess.Project.AudioClips
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].VoiceOver {
			return e.DeleteAudio(list[i].ID)
		}
	}
	return false
}
