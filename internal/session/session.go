// Package session holds the EditorSession, the explicit context object every
// engine component reads and writes instead of sharing ambient globals.
package session

import (
	"github.com/keagan/reelcut/internal/timeline"
)

// SelectionKind names which track the selection points into.
type SelectionKind int

const (
	SelectNone SelectionKind = iota
	SelectVideo
	SelectAudio
	SelectOverlay
)

// Selection is at most one clip across the three tracks.
type Selection struct {
	Kind SelectionKind
	ID   string
}

// EditorSession is the mutable state of one running editor. It is only touched
// from the session loop goroutine.
type EditorSession struct {
	Project       *timeline.Project
	GlobalTime    float64
	Playing       bool
	Selection     Selection
	Ripple        bool
	SnapTolerance float64

	listeners []func()
}

// New wraps a project in a fresh session.
func New(p *timeline.Project) *EditorSession {
	if p == nil {
		p = timeline.New()
	}
	return &EditorSession{
		Project:       p,
		SnapTolerance: timeline.DefaultSnapTolerance,
	}
}

// OnChange registers a callback fired after every structural change.
func (s *EditorSession) OnChange(fn func()) {
	s.listeners = append(s.listeners, fn)
}

// Changed clamps the clock to the new project bounds and notifies listeners.
func (s *EditorSession) Changed() {
	s.GlobalTime = s.Clamp(s.GlobalTime)
	for _, fn := range s.listeners {
		fn()
	}
}

// Replace swaps the live project, used by undo and redo.
func (s *EditorSession) Replace(p *timeline.Project) {
	s.Project = p
	if !s.selectionExists() {
		s.Selection = Selection{}
	}
	s.Changed()
}

// Clamp limits t to [0, project duration].
func (s *EditorSession) Clamp(t float64) float64 {
	if t < 0 {
		return 0
	}
	if d := s.Project.Duration(); t > d {
		return d
	}
	return t
}

// Snap snaps raw against the project edit points and the playhead.
func (s *EditorSession) Snap(raw float64) float64 {
	return s.Project.Snap(raw, s.GlobalTime, s.SnapTolerance)
}

// Select points the selection at a clip.
func (s *EditorSession) Select(kind SelectionKind, id string) {
	s.Selection = Selection{Kind: kind, ID: id}
}

// ClearSelection empties the selection.
func (s *EditorSession) ClearSelection() {
	s.Selection = Selection{}
}

func (s *EditorSession) selectionExists() bool {
	switch s.Selection.Kind {
	case SelectVideo:
		return s.Project.Video(s.Selection.ID) != nil
	case SelectAudio:
		return s.Project.Audio(s.Selection.ID) != nil
	case SelectOverlay:
		return s.Project.Overlay(s.Selection.ID) != nil
	default:
		return true
	}
}
