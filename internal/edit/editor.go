// Package edit implements snap-aware edit operations on the session project.
//
// Every operation validates its parameters against the same bounds callers
// use to pre-validate; a rejected operation returns false and leaves both the
// project and the history untouched.
package edit

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/history"
	"github.com/keagan/reelcut/internal/session"
)

// Edit limits in seconds.
const (
	MinTrimLength     = 0.1
	SplitMargin       = 0.05
	SetPointMargin    = 0.05
	MinAudioLength    = 0.2
	MinOverlayLength  = 0.05
	OverlayOffsetStep = 30
)

// Edge selects which part of a clip a drag grabs.
type Edge int

const (
	EdgeBody Edge = iota
	EdgeLeft
	EdgeRight
)

func (e Edge) String() string {
	switch e {
	case EdgeLeft:
		return "left"
	case EdgeRight:
		return "right"
	default:
		return "body"
	}
}

// drag captures the clip state at gesture start so every move is computed
// from the origin instead of accumulating float error.
type drag struct {
	kind    session.SelectionKind
	id      string
	edge    Edge
	start   float64
	end     float64
	trimIn  float64
	trimOut float64
	length  float64
}

// Editor applies edits to an EditorSession and records them in history.
type Editor struct {
	logger zerolog.Logger
	sess   *session.EditorSession
	hist   *history.Manager
	drag   *drag
}

// New creates an editor bound to a session and its history.
func New(logger zerolog.Logger, sess *session.EditorSession, hist *history.Manager) *Editor {
	return &Editor{
		logger: logger.With().Str("component", "editor").Logger(),
		sess:   sess,
		hist:   hist,
	}
}

// Session returns the bound session.
func (e *Editor) Session() *session.EditorSession { return e.sess }

// History returns the bound history manager.
func (e *Editor) History() *history.Manager { return e.hist }

// Undo reverts the last step.
func (e *Editor) Undo() bool {
	e.drag = nil
	return e.hist.Undo()
}

// Redo re-applies the last undone step.
func (e *Editor) Redo() bool {
	e.drag = nil
	return e.hist.Redo()
}

// begin flushes any pending gesture before an immediate structural edit.
func (e *Editor) begin() {
	e.drag = nil
	e.hist.Flush()
}

// commit records an immediate edit and notifies listeners.
func (e *Editor) commit(label string) {
	e.hist.Commit(label)
	e.sess.Changed()
	e.logger.Debug().Str("op", label).Msg("edit applied")
}

// BeginDrag starts a continuous edit on a clip. Locked overlays are rejected.
func (e *Editor) BeginDrag(kind session.SelectionKind, id string, edge Edge) bool {
	p := e.sess.Project
	d := &drag{kind: kind, id: id, edge: edge}

	switch kind {
	case session.SelectVideo:
		c := p.Video(id)
		if c == nil {
			return false
		}
		d.start, d.end, d.trimIn, d.trimOut = c.TimelineStart, c.TimelineEnd, c.TrimIn, c.TrimOut
	case session.SelectAudio:
		a := p.Audio(id)
		if a == nil {
			return false
		}
		d.start, d.length = a.TimelineOffset, a.PlayDuration
	case session.SelectOverlay:
		o := p.Overlay(id)
		if o == nil || o.Locked {
			return false
		}
		d.start, d.end = o.TimelineStart, o.TimelineEnd
	default:
		return false
	}

	e.hist.Defer(dragLabel(kind))
	e.sess.Select(kind, id)
	e.drag = d
	return true
}

// DragBy moves the active gesture dt seconds away from where it started.
func (e *Editor) DragBy(dt float64) bool {
	d := e.drag
	if d == nil {
		return false
	}

	var ok bool
	switch d.kind {
	case session.SelectVideo:
		ok = e.dragVideo(d, dt)
	case session.SelectAudio:
		ok = e.dragAudio(d, dt)
	case session.SelectOverlay:
		ok = e.dragOverlay(d, dt)
	}
	if ok {
		e.sess.Changed()
	}
	return ok
}

// EndDrag finishes the gesture and records it as a single undo step.
func (e *Editor) EndDrag() {
	e.drag = nil
	e.hist.Flush()
	e.sess.Changed()
}

// Dragging reports whether a gesture is active.
func (e *Editor) Dragging() bool { return e.drag != nil }

func (e *Editor) dragVideo(d *drag, dt float64) bool {
	p := e.sess.Project
	i := p.VideoIndex(d.id)
	if i < 0 {
		return false
	}
	c := p.VideoClips[i]

	lower, upper := 0.0, math.Inf(1)
	if i > 0 {
		lower = p.VideoClips[i-1].TimelineEnd
	}
	if i+1 < len(p.VideoClips) {
		upper = p.VideoClips[i+1].TimelineStart
	}

	switch d.edge {
	case EdgeLeft:
		// The content window slides with the left edge: trimIn and
		// timelineStart move by the same delta.
		minIn := math.Max(0, d.trimIn-(d.start-lower))
		newIn := math.Min(d.trimOut-MinTrimLength, math.Max(minIn, d.trimIn+dt))
		if newIn < 0 {
			return false
		}
		start := e.sess.Snap(d.start + (newIn - d.trimIn))
		if start < lower {
			start = lower
		}
		if length := d.trimOut - newIn; start+length > upper {
			start = upper - length
		}
		c.TrimIn = newIn
		c.TimelineStart = start
		c.Reflow()
	case EdgeRight:
		newOut := math.Max(d.trimIn+MinTrimLength, d.trimOut+dt)
		if newOut > c.SourceDuration {
			newOut = c.SourceDuration
		}
		if end := d.start + (newOut - d.trimIn); end > upper {
			newOut = d.trimIn + (upper - d.start)
		}
		if newOut <= c.TrimIn {
			return false
		}
		c.TrimOut = newOut
		c.Reflow()
	default:
		length := d.trimOut - d.trimIn
		start := e.sess.Snap(math.Max(0, d.start+dt))
		if start < lower {
			start = lower
		}
		if start+length > upper {
			start = upper - length
		}
		if start < lower {
			return false
		}
		c.MoveTo(start)
	}
	return true
}

func (e *Editor) dragAudio(d *drag, dt float64) bool {
	a := e.sess.Project.Audio(d.id)
	if a == nil {
		return false
	}
	switch d.edge {
	case EdgeRight:
		length := math.Max(MinAudioLength, d.length+dt)
		if a.SourceDuration > 0 && length > a.SourceDuration {
			length = math.Max(MinAudioLength, a.SourceDuration)
		}
		a.PlayDuration = length
	default:
		a.TimelineOffset = e.sess.Snap(math.Max(0, d.start+dt))
	}
	return true
}

func (e *Editor) dragOverlay(d *drag, dt float64) bool {
	o := e.sess.Project.Overlay(d.id)
	if o == nil || o.Locked {
		return false
	}
	switch d.edge {
	case EdgeLeft:
		start := e.sess.Snap(math.Max(0, d.start+dt))
		if start > o.TimelineEnd-MinOverlayLength {
			start = o.TimelineEnd - MinOverlayLength
		}
		o.TimelineStart = start
	case EdgeRight:
		end := e.sess.Snap(math.Max(o.TimelineStart+MinOverlayLength, d.end+dt))
		if end < o.TimelineStart+MinOverlayLength {
			end = o.TimelineStart + MinOverlayLength
		}
		o.TimelineEnd = end
	default:
		length := d.end - d.start
		o.TimelineStart = e.sess.Snap(math.Max(0, d.start+dt))
		o.TimelineEnd = o.TimelineStart + length
	}
	return true
}

func dragLabel(kind session.SelectionKind) string {
	switch kind {
	case session.SelectVideo:
		return "clipDrag"
	case session.SelectAudio:
		return "audioDrag"
	default:
		return "overlayDrag"
	}
}

// TrimLeft sets a video clip's trim-in, moving its timeline start by the same delta.
func (e *Editor) TrimLeft(id string, trimIn float64) bool {
	c := e.sess.Project.Video(id)
	if c == nil || trimIn < 0 || trimIn > c.TrimOut-MinTrimLength {
		return false
	}
	return e.oneShot(session.SelectVideo, id, EdgeLeft, trimIn-c.TrimIn)
}

// TrimRight sets a video clip's trim-out.
func (e *Editor) TrimRight(id string, trimOut float64) bool {
	c := e.sess.Project.Video(id)
	if c == nil || trimOut < c.TrimIn+MinTrimLength || trimOut > c.SourceDuration {
		return false
	}
	return e.oneShot(session.SelectVideo, id, EdgeRight, trimOut-c.TrimOut)
}

// MoveVideo drags a whole video clip to start, snapped.
func (e *Editor) MoveVideo(id string, start float64) bool {
	c := e.sess.Project.Video(id)
	if c == nil || start < 0 {
		return false
	}
	return e.oneShot(session.SelectVideo, id, EdgeBody, start-c.TimelineStart)
}

// MoveAudio drags an audio clip to offset, snapped.
func (e *Editor) MoveAudio(id string, offset float64) bool {
	a := e.sess.Project.Audio(id)
	if a == nil || offset < 0 {
		return false
	}
	return e.oneShot(session.SelectAudio, id, EdgeBody, offset-a.TimelineOffset)
}

// MoveOverlay drags an overlay to start, snapped.
func (e *Editor) MoveOverlay(id string, start float64) bool {
	o := e.sess.Project.Overlay(id)
	if o == nil || start < 0 {
		return false
	}
	return e.oneShot(session.SelectOverlay, id, EdgeBody, start-o.TimelineStart)
}

func (e *Editor) oneShot(kind session.SelectionKind, id string, edge Edge, dt float64) bool {
	if !e.BeginDrag(kind, id, edge) {
		return false
	}
	ok := e.DragBy(dt)
	e.EndDrag()
	return ok
}
