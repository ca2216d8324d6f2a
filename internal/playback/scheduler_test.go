package playback

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/activation"
	"github.com/keagan/reelcut/internal/audiomux"
	"github.com/keagan/reelcut/internal/clips"
	"github.com/keagan/reelcut/internal/media"
	"github.com/keagan/reelcut/internal/media/mediatest"
	"github.com/keagan/reelcut/internal/session"
	"github.com/keagan/reelcut/internal/timeline"
)

type fixture struct {
	t     *testing.T
	lib   *mediatest.Library
	loop  *session.Loop
	sess  *session.EditorSession
	act   *activation.Manager
	audio *audiomux.Layer
	sched *Scheduler
}

func newFixture(t *testing.T, p *timeline.Project) *fixture {
	t.Helper()
	lib := mediatest.NewLibrary()
	for _, src := range []string{"a.mp4", "b.mp4", "music.wav"} {
		lib.Add(src, 10)
	}
	loop := session.NewLoop()
	sess := session.New(p)
	act := activation.New(context.Background(), zerolog.Nop(), sess, loop, lib.Backend)
	audio := audiomux.New(context.Background(), zerolog.Nop(), sess, loop, lib.Backend)
	return &fixture{
		t:     t,
		lib:   lib,
		loop:  loop,
		sess:  sess,
		act:   act,
		audio: audio,
		sched: New(zerolog.Nop(), sess, act, audio),
	}
}

// settle drains the loop until neither handle is loading.
func (f *fixture) settle() {
	f.t.Helper()
	deadline := time.After(time.Second)
	for {
		f.loop.Drain()
		if f.act.Current().State() != media.StateLoading && f.act.Next().State() != media.StateLoading {
			return
		}
		select {
		case <-f.loop.Wake():
		case <-deadline:
			f.t.Fatal("handles never settled")
		}
	}
}

func (f *fixture) playing(source string) *mediatest.Backend {
	f.t.Helper()
	list := f.lib.Playing(source)
	if len(list) != 1 {
		f.t.Fatalf("expected exactly one playing %s, got %d", source, len(list))
	}
	return list[0]
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

// twoClips places a.mp4[0,2) at 0 and b.mp4[1,4) at 2.
func twoClips() *timeline.Project {
	p := timeline.New()
	a := clips.NewVideoClip("a.mp4", "a", 10, 0)
	a.TrimOut = 2
	a.Reflow()
	b := clips.NewVideoClip("b.mp4", "b", 10, 2)
	b.TrimIn, b.TrimOut = 1, 4
	b.Reflow()
	p.VideoClips = append(p.VideoClips, a, b)
	return p
}

func TestDecoderDrivesClock(t *testing.T) {
	f := newFixture(t, twoClips())
	f.sched.Play()
	f.settle()

	a := f.playing("a.mp4")
	a.Advance(1.0)
	f.loop.Drain()
	if !near(f.sess.GlobalTime, 1.0) {
		t.Errorf("frame callback should move the clock to 1.0, got %v", f.sess.GlobalTime)
	}

	a.Advance(0.25)
	f.sched.Tick(0.016)
	if !near(f.sess.GlobalTime, 1.25) {
		t.Errorf("expected decoder time 1.25, got %v", f.sess.GlobalTime)
	}
}

func TestHandOffToPreloadedClip(t *testing.T) {
	p := twoClips()
	f := newFixture(t, p)
	f.sched.Play()
	f.settle()

	a := f.playing("a.mp4")
	a.Advance(1.5)
	f.sched.Tick(0.016)
	f.settle()
	if !f.act.Next().Holds(p.VideoClips[1].ID) {
		t.Fatal("expected next clip preloaded inside the margin")
	}

	a.Advance(0.5)
	f.sched.Tick(0.016)
	f.settle()

	if f.sched.ActiveClipID() != p.VideoClips[1].ID {
		t.Fatalf("expected hand-off to b, active %s", f.sched.ActiveClipID())
	}
	if !near(f.sess.GlobalTime, 2) {
		t.Errorf("expected clock at 2, got %v", f.sess.GlobalTime)
	}
	b := f.playing("b.mp4")
	if !near(b.Position(), 1) {
		t.Errorf("expected b at its trimIn 1, got %v", b.Position())
	}
	if got := len(b.Loads()); got != 1 {
		t.Errorf("expected b loaded once, got %d", got)
	}

	b.Advance(0.5)
	f.sched.Tick(0.016)
	if !near(f.sess.GlobalTime, 2.5) {
		t.Errorf("expected 2.5 after hand-off, got %v", f.sess.GlobalTime)
	}
}

func TestStopAtEndAndRewindOnPlay(t *testing.T) {
	p := timeline.New()
	a := clips.NewVideoClip("a.mp4", "a", 10, 0)
	a.TrimOut = 2
	a.Reflow()
	p.VideoClips = append(p.VideoClips, a)
	f := newFixture(t, p)

	f.sched.Play()
	f.settle()
	f.playing("a.mp4").Advance(2)
	f.sched.Tick(0.016)

	if f.sess.Playing || !near(f.sess.GlobalTime, 2) {
		t.Fatalf("expected stop at 2, playing=%v t=%v", f.sess.Playing, f.sess.GlobalTime)
	}

	f.sched.Play()
	f.settle()
	if !near(f.sess.GlobalTime, 0) {
		t.Errorf("expected rewind to 0, got %v", f.sess.GlobalTime)
	}
	if pos := f.playing("a.mp4").Position(); !near(pos, 0) {
		t.Errorf("expected decoder rewound, got %v", pos)
	}
}

func TestLoopWrapsToEffectiveStart(t *testing.T) {
	p := twoClips()
	p.Loop = true
	p.SetInPoint(0.5)
	p.SetOutPoint(1.5)
	f := newFixture(t, p)

	f.sess.GlobalTime = 0.5
	f.sched.Play()
	f.settle()
	a := f.playing("a.mp4")
	if !near(a.Position(), 0.5) {
		t.Fatalf("expected start at 0.5, got %v", a.Position())
	}

	a.Advance(1.0)
	f.sched.Tick(0.016)
	f.settle()
	if !f.sess.Playing || !near(f.sess.GlobalTime, 0.5) {
		t.Errorf("expected loop back to 0.5 while playing, got playing=%v t=%v", f.sess.Playing, f.sess.GlobalTime)
	}
	if pos := f.playing("a.mp4").Position(); !near(pos, 0.5) {
		t.Errorf("expected decoder re-seeked to 0.5, got %v", pos)
	}
}

func TestOutPointStopsMidClip(t *testing.T) {
	p := twoClips()
	p.SetOutPoint(1)
	f := newFixture(t, p)

	f.sched.Play()
	f.settle()
	f.playing("a.mp4").Advance(1)
	f.sched.Tick(0.016)

	if f.sess.Playing || !near(f.sess.GlobalTime, 1) {
		t.Errorf("expected stop at the out point, playing=%v t=%v", f.sess.Playing, f.sess.GlobalTime)
	}
}

func TestGapAdvancesOnWallClockAndEntersClip(t *testing.T) {
	p := timeline.New()
	a := clips.NewVideoClip("a.mp4", "a", 1, 0)
	b := clips.NewVideoClip("b.mp4", "b", 1, 2)
	p.VideoClips = append(p.VideoClips, a, b)
	f := newFixture(t, p)

	f.sched.Seek(1.2)
	f.sched.Play()
	if !f.sched.InGap() {
		t.Fatal("expected gap mode between clips")
	}
	f.sched.Tick(0.5)
	if !near(f.sess.GlobalTime, 1.7) || !f.sched.InGap() {
		t.Fatalf("expected wall-clock advance to 1.7, got %v", f.sess.GlobalTime)
	}

	f.sched.Tick(0.5)
	f.settle()
	if f.sched.InGap() || f.sched.ActiveClipID() != b.ID {
		t.Fatal("expected the clip to activate when the clock enters it")
	}
	if pos := f.playing("b.mp4").Position(); !near(pos, 0.2) {
		t.Errorf("expected b seeked 0.2 into its window, got %v", pos)
	}
}

func TestSeekWhilePlayingResumesDecoder(t *testing.T) {
	p := timeline.New()
	a := clips.NewVideoClip("a.mp4", "a", 1, 0)
	b := clips.NewVideoClip("b.mp4", "b", 1, 2)
	p.VideoClips = append(p.VideoClips, a, b)
	f := newFixture(t, p)

	f.sched.Play()
	f.settle()
	f.playing("a.mp4").Advance(1.0)
	f.loop.Drain()
	f.sched.Tick(0.016)
	if !f.sched.InGap() {
		t.Fatal("expected gap after a ends")
	}

	// back into a from the gap
	f.sched.Seek(0.5)
	f.settle()
	if f.sched.InGap() || f.sched.ActiveClipID() != a.ID {
		t.Fatalf("expected a active after seek, gap=%v active=%s", f.sched.InGap(), f.sched.ActiveClipID())
	}
	dec := f.playing("a.mp4")
	dec.Advance(0.3)
	f.loop.Drain()
	f.sched.Tick(0.3)
	if !near(f.sess.GlobalTime, 0.8) {
		t.Fatalf("clock frozen after seek from gap, t=%v", f.sess.GlobalTime)
	}

	// within the clip
	f.sched.Seek(0.2)
	f.settle()
	dec = f.playing("a.mp4")
	dec.Advance(0.3)
	f.loop.Drain()
	f.sched.Tick(0.3)
	if !near(f.sess.GlobalTime, 0.5) {
		t.Errorf("expected 0.5 after seek within clip, got %v", f.sess.GlobalTime)
	}
}

func TestFailedClipCrossedOnWallClock(t *testing.T) {
	p := timeline.New()
	a := clips.NewVideoClip("a.mp4", "a", 2, 0)
	b := clips.NewVideoClip("b.mp4", "b", 1, 2)
	p.VideoClips = append(p.VideoClips, a, b)
	f := newFixture(t, p)
	f.lib.Fail("a.mp4", errors.New("decode error"))

	f.sched.Play()
	f.settle()

	f.sched.Tick(0.5)
	if !near(f.sess.GlobalTime, 0.5) || !f.sched.InGap() {
		t.Fatalf("expected failed clip crossed on wall clock, got t=%v gap=%v", f.sess.GlobalTime, f.sched.InGap())
	}
	f.sched.Tick(1.6)
	f.settle()
	if f.sched.ActiveClipID() != b.ID || f.sched.InGap() {
		t.Errorf("expected b active after crossing, got %s", f.sched.ActiveClipID())
	}
}

func TestStepFrame(t *testing.T) {
	f := newFixture(t, twoClips())
	f.sched.StepFrame(1)
	f.settle()
	if !near(f.sess.GlobalTime, 1.0/30) || f.sess.Playing {
		t.Errorf("expected one paused frame forward, got %v playing=%v", f.sess.GlobalTime, f.sess.Playing)
	}
	f.sched.StepFrame(-1)
	f.sched.StepFrame(-1)
	if f.sess.GlobalTime != 0 {
		t.Errorf("expected clamp at 0, got %v", f.sess.GlobalTime)
	}
	if len(f.lib.Playing("a.mp4")) != 0 {
		t.Error("frame stepping must not start playback")
	}
}

func TestPauseStopsAudio(t *testing.T) {
	p := twoClips()
	p.AudioClips = append(p.AudioClips, clips.NewAudioClip("music.wav", "m", 10, 0))
	f := newFixture(t, p)

	f.sched.Play()
	f.settle()
	if f.audio.Count() != 1 {
		t.Fatalf("expected live audio, got %d", f.audio.Count())
	}
	f.sched.Pause()
	if f.audio.Count() != 0 || f.sess.Playing {
		t.Error("pause must release audio and stop the clock")
	}
	before := f.sess.GlobalTime
	f.sched.Tick(1)
	if f.sess.GlobalTime != before {
		t.Error("tick while paused moved the clock")
	}
}

func TestSuspendRestores(t *testing.T) {
	f := newFixture(t, twoClips())
	f.sched.Seek(0.75)
	f.sched.Play()
	f.settle()

	restore := f.sched.Suspend()
	if f.sess.Playing {
		t.Fatal("suspend should pause")
	}
	f.sess.GlobalTime = 3
	restore()
	f.settle()
	if !f.sess.Playing || !near(f.sess.GlobalTime, 0.75) {
		t.Errorf("expected playing at 0.75, got playing=%v t=%v", f.sess.Playing, f.sess.GlobalTime)
	}
}
