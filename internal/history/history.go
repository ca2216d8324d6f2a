// Package history implements bounded undo/redo over project snapshots.
//
// Snapshots are immutable. Clip records that did not change between two
// consecutive snapshots are shared instead of copied, so a long session of
// small edits costs roughly one clip record per edit rather than one project
// per edit.
package history

import (
	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/clips"
	"github.com/keagan/reelcut/internal/overlays"
	"github.com/keagan/reelcut/internal/session"
	"github.com/keagan/reelcut/internal/timeline"
)

// DefaultDepth bounds the undo stack.
const DefaultDepth = 120

type snapshot struct {
	label    string
	video    []*clips.VideoClip
	audio    []*clips.AudioClip
	overlays []*overlays.OverlayClip
	inPoint  *float64
	outPoint *float64
	loop     bool
	settings timeline.Settings
}

// Manager records edits against an EditorSession.
type Manager struct {
	logger   zerolog.Logger
	sess     *session.EditorSession
	depth    int
	undo     []*snapshot
	redo     []*snapshot
	baseline *snapshot
	pending  string
}

// New creates a manager whose baseline is the session's current project.
func New(logger zerolog.Logger, sess *session.EditorSession, depth int) *Manager {
	if depth <= 0 {
		depth = DefaultDepth
	}
	m := &Manager{
		logger: logger.With().Str("component", "history").Logger(),
		sess:   sess,
		depth:  depth,
	}
	m.Reset()
	return m
}

// Reset drops both stacks and takes the current project as the baseline.
func (m *Manager) Reset() {
	m.undo = nil
	m.redo = nil
	m.pending = ""
	m.baseline = m.freeze("init")
}

// Commit records the changes made since the last commit as one undo step.
func (m *Manager) Commit(label string) {
	m.pending = ""
	next := m.freeze(label)
	if next.equal(m.baseline) {
		return
	}

	m.undo = append(m.undo, m.baseline)
	if len(m.undo) > m.depth {
		m.undo = append(m.undo[:0:0], m.undo[len(m.undo)-m.depth:]...)
	}
	m.redo = nil
	m.baseline = next

	m.logger.Debug().Str("label", label).Int("undo", len(m.undo)).Msg("edit recorded")
}

// Defer marks a continuous edit in progress. A different pending edit is
// committed first so unrelated gestures never merge.
func (m *Manager) Defer(label string) {
	if m.pending != "" && m.pending != label {
		m.Flush()
	}
	m.pending = label
}

// Flush commits the pending continuous edit, if any.
func (m *Manager) Flush() {
	if m.pending == "" {
		return
	}
	m.Commit(m.pending)
}

// Pending returns the label of the uncommitted continuous edit.
func (m *Manager) Pending() string {
	return m.pending
}

// Undo restores the state before the most recent step.
func (m *Manager) Undo() bool {
	m.Flush()
	if len(m.undo) == 0 {
		return false
	}
	prev := m.undo[len(m.undo)-1]
	m.undo = m.undo[:len(m.undo)-1]
	m.redo = append(m.redo, m.freeze(m.baseline.label))
	m.restore(prev)
	m.logger.Debug().Str("label", prev.label).Msg("undo")
	return true
}

// Redo re-applies the most recently undone step.
func (m *Manager) Redo() bool {
	m.Flush()
	if len(m.redo) == 0 {
		return false
	}
	next := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]
	m.undo = append(m.undo, m.freeze(m.baseline.label))
	m.restore(next)
	m.logger.Debug().Str("label", next.label).Msg("redo")
	return true
}

// CanUndo reports whether an undo step exists.
func (m *Manager) CanUndo() bool { return len(m.undo) > 0 || m.pending != "" }

// CanRedo reports whether a redo step exists.
func (m *Manager) CanRedo() bool { return len(m.redo) > 0 }

// Depths returns the undo and redo stack sizes.
func (m *Manager) Depths() (undo, redo int) { return len(m.undo), len(m.redo) }

func (m *Manager) restore(s *snapshot) {
	m.baseline = s
	m.sess.Replace(s.thaw())
}

// freeze captures the live project, sharing records unchanged since the baseline.
func (m *Manager) freeze(label string) *snapshot {
	p := m.sess.Project
	s := &snapshot{
		label:    label,
		loop:     p.Loop,
		settings: p.Settings,
		inPoint:  copyPtr(p.InPoint),
		outPoint: copyPtr(p.OutPoint),
	}

	var prev *snapshot
	if m.baseline != nil {
		prev = m.baseline
	} else {
		prev = &snapshot{}
	}
	s.video = shareRecords(prev.video, p.VideoClips, func(c *clips.VideoClip) string { return c.ID })
	s.audio = shareRecords(prev.audio, p.AudioClips, func(a *clips.AudioClip) string { return a.ID })
	s.overlays = shareRecords(prev.overlays, p.Overlays, func(o *overlays.OverlayClip) string { return o.ID })
	return s
}

func (s *snapshot) thaw() *timeline.Project {
	p := &timeline.Project{
		VideoClips: make([]*clips.VideoClip, len(s.video)),
		AudioClips: make([]*clips.AudioClip, len(s.audio)),
		Overlays:   make([]*overlays.OverlayClip, len(s.overlays)),
		InPoint:    copyPtr(s.inPoint),
		OutPoint:   copyPtr(s.outPoint),
		Loop:       s.loop,
		Settings:   s.settings,
	}
	for i, c := range s.video {
		cp := *c
		p.VideoClips[i] = &cp
	}
	for i, a := range s.audio {
		cp := *a
		p.AudioClips[i] = &cp
	}
	for i, o := range s.overlays {
		cp := *o
		p.Overlays[i] = &cp
	}
	return p
}

func (s *snapshot) equal(o *snapshot) bool {
	if o == nil {
		return false
	}
	return s.loop == o.loop &&
		s.settings == o.settings &&
		ptrEqual(s.inPoint, o.inPoint) &&
		ptrEqual(s.outPoint, o.outPoint) &&
		sameRecords(s.video, o.video) &&
		sameRecords(s.audio, o.audio) &&
		sameRecords(s.overlays, o.overlays)
}

// shareRecords freezes live records, reusing the previous frozen record when
// its value is unchanged and the whole previous slice when nothing changed.
func shareRecords[T comparable](prev []*T, live []*T, id func(*T) string) []*T {
	byID := make(map[string]*T, len(prev))
	for _, r := range prev {
		byID[id(r)] = r
	}

	out := make([]*T, len(live))
	for i, r := range live {
		if f, ok := byID[id(r)]; ok && *f == *r {
			out[i] = f
			continue
		}
		cp := *r
		out[i] = &cp
	}
	if sameRecords(out, prev) {
		return prev
	}
	return out
}

func sameRecords[T any](a, b []*T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func copyPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func ptrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
