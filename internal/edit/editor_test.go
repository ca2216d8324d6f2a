package edit

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/clips"
	"github.com/keagan/reelcut/internal/history"
	"github.com/keagan/reelcut/internal/overlays"
	"github.com/keagan/reelcut/internal/session"
	"github.com/keagan/reelcut/internal/timeline"
)

func newEditor(p *timeline.Project) *Editor {
	sess := session.New(p)
	return New(zerolog.Nop(), sess, history.New(zerolog.Nop(), sess, 0))
}

// threeClips lays out clips of 2s, 3s and 1.5s back to back.
func threeClips() (*timeline.Project, []*clips.VideoClip) {
	p := timeline.New()
	a := clips.NewVideoClip("a.mp4", "a", 2, 0)
	b := clips.NewVideoClip("b.mp4", "b", 3, 2)
	c := clips.NewVideoClip("c.mp4", "c", 1.5, 5)
	p.VideoClips = append(p.VideoClips, a, b, c)
	return p, []*clips.VideoClip{a, b, c}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func mustValid(t *testing.T, e *Editor) {
	t.Helper()
	if err := e.Session().Project.Validate(); err != nil {
		t.Fatalf("project invalid: %v", err)
	}
}

func TestSplitPartitionsClip(t *testing.T) {
	p := timeline.New()
	c := clips.NewVideoClip("a.mp4", "a", 10, 0)
	c.TrimIn = 1
	c.Reflow()
	p.VideoClips = append(p.VideoClips, c)
	e := newEditor(p)

	if !e.Split(c.ID, 4) {
		t.Fatal("expected split to succeed")
	}
	mustValid(t, e)

	list := e.Session().Project.VideoClips
	if len(list) != 2 {
		t.Fatalf("expected 2 clips, got %d", len(list))
	}
	first, second := list[0], list[1]
	if !near(first.TrimIn, 1) || !near(first.TrimOut, 5) || !near(first.TimelineEnd, 4) {
		t.Errorf("unexpected first half %+v", *first)
	}
	if !near(second.TrimIn, 5) || !near(second.TrimOut, 10) || !near(second.TimelineStart, 4) || !near(second.TimelineEnd, 9) {
		t.Errorf("unexpected second half %+v", *second)
	}
	if first.ID == c.ID || second.ID == c.ID || first.ID == second.ID {
		t.Error("expected fresh ids on both halves")
	}
	if sel := e.Session().Selection; sel.Kind != session.SelectVideo || sel.ID != first.ID {
		t.Errorf("expected first half selected, got %+v", sel)
	}

	if !e.Undo() {
		t.Fatal("expected undo")
	}
	if got := e.Session().Project.VideoClips; len(got) != 1 || got[0].ID != c.ID {
		t.Errorf("undo did not restore the original clip: %+v", got)
	}
}

func TestSplitRejectsNearEdges(t *testing.T) {
	p, list := threeClips()
	e := newEditor(p)

	for _, at := range []float64{0.03, 1.97, 2.5} {
		if e.Split(list[0].ID, at) {
			t.Errorf("split at %v should be rejected", at)
		}
	}
	if e.History().CanUndo() {
		t.Error("rejected splits must not record history")
	}
}

func TestTrimRightLeavesNextClip(t *testing.T) {
	p := timeline.New()
	a := clips.NewVideoClip("a.mp4", "a", 10, 0)
	a.TrimOut = 5
	a.Reflow()
	b := clips.NewVideoClip("b.mp4", "b", 3, 5)
	p.VideoClips = append(p.VideoClips, a, b)
	e := newEditor(p)

	if !e.TrimRight(a.ID, 4) {
		t.Fatal("expected trim to succeed")
	}
	mustValid(t, e)
	if !near(a.TimelineEnd, 4) || !near(b.TimelineStart, 5) {
		t.Errorf("expected gap before next clip, got a.end=%v b.start=%v", a.TimelineEnd, b.TimelineStart)
	}

	if !e.TrimRight(a.ID, 9) {
		t.Fatal("expected clamped trim to succeed")
	}
	mustValid(t, e)
	if !near(a.TimelineEnd, 5) {
		t.Errorf("expected trim clamped at next clip, got end %v", a.TimelineEnd)
	}
}

func TestTrimLeftShiftsStart(t *testing.T) {
	p := timeline.New()
	c := clips.NewVideoClip("a.mp4", "a", 10, 0)
	p.VideoClips = append(p.VideoClips, c)
	e := newEditor(p)

	if !e.TrimLeft(c.ID, 2) {
		t.Fatal("expected trim to succeed")
	}
	mustValid(t, e)
	if !near(c.TrimIn, 2) || !near(c.TimelineStart, 2) || !near(c.TimelineEnd, 10) {
		t.Errorf("unexpected clip after trim %+v", *c)
	}
	if e.TrimLeft(c.ID, 9.95) {
		t.Error("trim leaving less than the minimum length should be rejected")
	}
}

func TestRippleDelete(t *testing.T) {
	tests := []struct {
		name      string
		ripple    bool
		wantStart float64
	}{
		{"ripple", true, 2},
		{"no ripple", false, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, list := threeClips()
			e := newEditor(p)
			e.Session().Ripple = tt.ripple

			if !e.DeleteVideo(list[1].ID) {
				t.Fatal("expected delete to succeed")
			}
			mustValid(t, e)
			last := e.Session().Project.VideoClips[1]
			if !near(last.TimelineStart, tt.wantStart) || !near(last.Duration(), 1.5) {
				t.Errorf("expected last clip at %v, got %+v", tt.wantStart, *last)
			}
		})
	}
}

func TestDragCoalescesIntoOneStep(t *testing.T) {
	p := timeline.New()
	c := clips.NewVideoClip("a.mp4", "a", 2, 0)
	p.VideoClips = append(p.VideoClips, c)
	e := newEditor(p)

	if !e.BeginDrag(session.SelectVideo, c.ID, EdgeBody) {
		t.Fatal("expected drag to start")
	}
	for _, dt := range []float64{1, 2, 3} {
		if !e.DragBy(dt) {
			t.Fatalf("drag by %v failed", dt)
		}
		mustValid(t, e)
	}
	e.EndDrag()

	if undo, _ := e.History().Depths(); undo != 1 {
		t.Fatalf("expected one undo step, got %d", undo)
	}
	if !near(c.TimelineStart, 3) {
		t.Errorf("expected clip at 3, got %v", c.TimelineStart)
	}
	e.Undo()
	if got := e.Session().Project.VideoClips[0]; !near(got.TimelineStart, 0) {
		t.Errorf("expected undo back to 0, got %v", got.TimelineStart)
	}
}

func TestMoveVideoStaysBetweenNeighbours(t *testing.T) {
	p := timeline.New()
	a := clips.NewVideoClip("a.mp4", "a", 2, 0)
	b := clips.NewVideoClip("b.mp4", "b", 1, 4)
	c := clips.NewVideoClip("c.mp4", "c", 2, 6)
	p.VideoClips = append(p.VideoClips, a, b, c)
	e := newEditor(p)

	if !e.MoveVideo(b.ID, 5.7) {
		t.Fatal("expected move to succeed")
	}
	mustValid(t, e)
	if !near(b.TimelineStart, 5) {
		t.Errorf("expected clip clamped against next clip at 5, got %v", b.TimelineStart)
	}

	e.MoveVideo(b.ID, 0.5)
	mustValid(t, e)
	if !near(b.TimelineStart, 2) {
		t.Errorf("expected clip clamped against previous clip at 2, got %v", b.TimelineStart)
	}
}

func TestRejectedOpsLeaveNoHistory(t *testing.T) {
	p, _ := threeClips()
	e := newEditor(p)

	if e.DeleteVideo("missing") || e.Split("missing", 1) || e.TrimRight("missing", 1) {
		t.Fatal("ops on a missing clip must fail")
	}
	if e.SetClipInAtPlayhead() || e.FitToRange() || e.DuplicateSelected() {
		t.Fatal("selection ops without a selection must fail")
	}
	if e.History().CanUndo() || e.Undo() {
		t.Error("rejected ops must not record history")
	}
}

func TestInvariantHoldsAcrossOps(t *testing.T) {
	p, list := threeClips()
	p.AudioClips = append(p.AudioClips, clips.NewAudioClip("m.wav", "m", 6, 0))
	e := newEditor(p)
	sess := e.Session()

	steps := []func(){
		func() { e.Split(list[1].ID, 3.5) },
		func() { sess.GlobalTime = 1; e.SetInAtPlayhead() },
		func() { sess.GlobalTime = 4; e.SetOutAtPlayhead() },
		func() { e.ToggleLoop() },
		func() { e.AddTextAtPlayhead("") },
		func() { sess.Select(session.SelectVideo, list[0].ID); e.DuplicateSelected() },
		func() { e.MoveAudio(sess.Project.AudioClips[0].ID, 1.3) },
		func() { e.TrimRight(list[2].ID, 1.0) },
		func() { sess.Ripple = true; e.DeleteVideo(list[0].ID) },
		func() { e.Undo() },
		func() { e.Redo() },
	}
	for i, step := range steps {
		step()
		if err := sess.Project.Validate(); err != nil {
			t.Fatalf("step %d broke the project: %v", i, err)
		}
	}
}

func TestDuplicateVideoAppendsAtTrackEnd(t *testing.T) {
	p, list := threeClips()
	e := newEditor(p)
	e.Session().Select(session.SelectVideo, list[0].ID)

	if !e.DuplicateSelected() {
		t.Fatal("expected duplicate")
	}
	mustValid(t, e)
	vids := e.Session().Project.VideoClips
	dup := vids[len(vids)-1]
	if !near(dup.TimelineStart, 6.5) || !near(dup.Duration(), 2) || dup.Source != "a.mp4" {
		t.Errorf("unexpected duplicate %+v", *dup)
	}
}

func TestAddTextStepsAwayFromOverlaysAtPlayhead(t *testing.T) {
	e := newEditor(timeline.New())
	e.Session().GlobalTime = 0

	var xs []int
	for i := 0; i < 3; i++ {
		xs = append(xs, e.AddTextAtPlayhead("hi").Position.X)
	}
	if xs[0] != 100 || xs[1] != 130 || xs[2] != 160 {
		t.Errorf("unexpected offsets %v", xs)
	}
	if undo, _ := e.History().Depths(); undo != 3 {
		t.Errorf("expected 3 undo steps, got %d", undo)
	}
}

func TestUpdateRevertsInvalidChanges(t *testing.T) {
	p := timeline.New()
	a := clips.NewAudioClip("m.wav", "m", 4, 0)
	o := overlays.NewText("t", 0, overlays.Position{})
	p.AudioClips = append(p.AudioClips, a)
	p.Overlays = append(p.Overlays, o)
	e := newEditor(p)

	if e.UpdateAudio(a.ID, func(a *clips.AudioClip) { a.PlayDuration = -1 }) {
		t.Error("negative duration should be rejected")
	}
	if a.PlayDuration != 4 {
		t.Errorf("expected revert, got %v", a.PlayDuration)
	}
	if e.UpdateOverlay(o.ID, func(o *overlays.OverlayClip) { o.TimelineEnd = o.TimelineStart }) {
		t.Error("empty overlay window should be rejected")
	}
	if e.History().CanUndo() {
		t.Error("rejected updates must not record history")
	}

	if !e.UpdateAudio(a.ID, func(a *clips.AudioClip) { a.Muted = true }) {
		t.Fatal("expected mute to apply")
	}
	e.Undo()
	if e.Session().Project.AudioClips[0].Muted {
		t.Error("expected undo to unmute")
	}
}

func TestLockedOverlayCannotBeDragged(t *testing.T) {
	p := timeline.New()
	o := overlays.NewText("t", 0, overlays.Position{})
	o.Locked = true
	p.Overlays = append(p.Overlays, o)
	e := newEditor(p)

	if e.MoveOverlay(o.ID, 2) {
		t.Error("locked overlay moved")
	}
}

func TestFitToRange(t *testing.T) {
	p := timeline.New()
	c := clips.NewVideoClip("a.mp4", "a", 10, 0)
	c.TrimOut = 2
	c.Reflow()
	p.VideoClips = append(p.VideoClips, c)
	e := newEditor(p)
	e.Session().Select(session.SelectVideo, c.ID)
	p.SetInPoint(3)
	p.SetOutPoint(7)

	if !e.FitToRange() {
		t.Fatal("expected fit to succeed")
	}
	mustValid(t, e)
	if !near(c.TimelineStart, 3) || !near(c.TimelineEnd, 7) || !near(c.Duration(), 4) {
		t.Errorf("unexpected clip after fit %+v", *c)
	}
}

func TestVoiceOverAddAndDiscard(t *testing.T) {
	p := timeline.New()
	p.AudioClips = append(p.AudioClips, clips.NewAudioClip("m.wav", "m", 4, 1))
	e := newEditor(p)

	vo := e.AddVoiceOver("take1.wav", 2)
	if vo == nil {
		t.Fatal("expected voice-over clip")
	}
	if !near(vo.TimelineOffset, 5) || !vo.VoiceOver {
		t.Errorf("unexpected voice-over %+v", *vo)
	}
	if !e.DiscardLastVoiceOver() {
		t.Fatal("expected discard")
	}
	if len(e.Session().Project.AudioClips) != 1 {
		t.Error("voice-over not removed")
	}
	if e.DiscardLastVoiceOver() {
		t.Error("nothing left to discard")
	}
}
