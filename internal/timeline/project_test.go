package timeline

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"github.com/keagan/reelcut/internal/clips"
	"github.com/keagan/reelcut/internal/overlays"
)

func threeClipProject() *Project {
	p := New()
	start := 0.0
	for _, d := range []float64{2, 3, 1.5} {
		c := clips.NewVideoClip("src.mp4", "clip", d, start)
		p.VideoClips = append(p.VideoClips, c)
		start = c.TimelineEnd
	}
	return p
}

func TestDurationAndFindClipAt(t *testing.T) {
	p := threeClipProject()

	if got := p.Duration(); got != 6.5 {
		t.Fatalf("expected duration 6.5, got %v", got)
	}

	c := p.FindClipAt(2.4)
	if c == nil || c.ID != p.VideoClips[1].ID {
		t.Fatalf("expected second clip at 2.4, got %+v", c)
	}
	if off := c.LocalOffset(2.4); math.Abs(off-0.4) > 1e-9 {
		t.Errorf("expected local offset 0.4, got %v", off)
	}
	if p.FindClipAt(6.5) != nil {
		t.Error("expected no clip at project end")
	}
	if next := p.NextClipAfter(p.VideoClips[1]); next != p.VideoClips[2] {
		t.Error("expected third clip after second")
	}
	if p.NextClipAfter(p.VideoClips[2]) != nil {
		t.Error("expected no clip after the last one")
	}
}

func TestDurationSpansAllTracks(t *testing.T) {
	p := threeClipProject()

	a := clips.NewAudioClip("a.wav", "a", 4, 5)
	p.AudioClips = append(p.AudioClips, a)
	if got := p.Duration(); got != 9 {
		t.Errorf("expected audio to extend duration to 9, got %v", got)
	}

	o := overlays.NewText("t", 8, overlays.Position{})
	p.Overlays = append(p.Overlays, o)
	if got := p.Duration(); got != 13 {
		t.Errorf("expected overlay to extend duration to 13, got %v", got)
	}

	p.Overlays = nil
	a.TimelineOffset = 0
	if got := p.Duration(); got != 6.5 {
		t.Errorf("expected duration back to 6.5, got %v", got)
	}
}

func TestEffectiveRange(t *testing.T) {
	p := threeClipProject()
	if p.EffectiveStart() != 0 || p.EffectiveEnd() != 6.5 {
		t.Fatalf("unexpected default range [%v,%v]", p.EffectiveStart(), p.EffectiveEnd())
	}

	p.SetInPoint(3)
	p.SetOutPoint(2)
	if p.EffectiveEnd() != 3+MinRange {
		t.Errorf("expected out point widened to %v, got %v", 3+MinRange, p.EffectiveEnd())
	}

	p.ClearRange()
	if p.InPoint != nil || p.OutPoint != nil {
		t.Error("expected range cleared")
	}
}

func TestSnapIdempotent(t *testing.T) {
	p := threeClipProject()
	playhead := 4.2

	for _, raw := range []float64{0.03, 1.95, 2.06, 3.0, 4.25, 4.31, 6.47, 7.9} {
		once := p.Snap(raw, playhead, DefaultSnapTolerance)
		twice := p.Snap(once, playhead, DefaultSnapTolerance)
		if once != twice {
			t.Errorf("snap not idempotent for %v: %v then %v", raw, once, twice)
		}
	}

	if got := p.Snap(1.95, playhead, DefaultSnapTolerance); got != 2 {
		t.Errorf("expected 1.95 to snap to 2, got %v", got)
	}
	if got := p.Snap(4.25, playhead, DefaultSnapTolerance); got != playhead {
		t.Errorf("expected 4.25 to snap to playhead, got %v", got)
	}
	if got := p.Snap(3.5, playhead, DefaultSnapTolerance); got != 3.5 {
		t.Errorf("expected 3.5 unchanged, got %v", got)
	}
}

func TestProjectSaveLoad(t *testing.T) {
	p := threeClipProject()
	p.AudioClips = append(p.AudioClips, clips.NewAudioClip("a.wav", "a", 4, 1))
	p.Overlays = append(p.Overlays, overlays.NewImage("logo.png", 0, overlays.Position{X: 1, Y: 2}))
	p.SetInPoint(1)
	p.Loop = true

	path := filepath.Join(t.TempDir(), "project.json")
	if err := p.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	a, _ := p.Marshal()
	b, _ := back.Marshal()
	if !bytes.Equal(a, b) {
		t.Errorf("project changed across save/load:\n%s\n%s", a, b)
	}
	for _, field := range []string{`"videoClips"`, `"audioClips"`, `"overlays"`, `"inPoint"`, `"outPoint"`, `"pixelsPerSecond"`, `"frameRate"`} {
		if !bytes.Contains(a, []byte(field)) {
			t.Errorf("export format missing %s", field)
		}
	}
}

func TestUnmarshalRejectsBrokenInvariant(t *testing.T) {
	data := []byte(`{"videoClips":[{"id":"v","sourceDuration":5,"trimIn":0,"trimOut":2,"timelineStart":0,"timelineEnd":3}]}`)
	if _, err := Unmarshal(data); err == nil {
		t.Fatal("expected invariant error")
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := threeClipProject()
	p.SetInPoint(1)
	cp := p.Clone()
	cp.VideoClips[0].TrimOut = 1
	*cp.InPoint = 2

	if p.VideoClips[0].TrimOut != 2 || *p.InPoint != 1 {
		t.Error("clone shares state with original")
	}
}
