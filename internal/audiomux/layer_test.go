package audiomux

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/clips"
	"github.com/keagan/reelcut/internal/media"
	"github.com/keagan/reelcut/internal/media/mediatest"
	"github.com/keagan/reelcut/internal/session"
	"github.com/keagan/reelcut/internal/timeline"
)

func setup(t *testing.T) (*Layer, *session.EditorSession, *session.Loop, *mediatest.Library, *clips.AudioClip) {
	t.Helper()
	lib := mediatest.NewLibrary()
	lib.Add("music.wav", 10)

	p := timeline.New()
	a := clips.NewAudioClip("music.wav", "music", 10, 5)
	a.PlayDuration = 4
	p.AudioClips = append(p.AudioClips, a)

	sess := session.New(p)
	loop := session.NewLoop()
	return New(context.Background(), zerolog.Nop(), sess, loop, lib.Backend), sess, loop, lib, a
}

func waitLoaded(t *testing.T, loop *session.Loop, h *media.Handle) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		loop.Drain()
		if h.State() != media.StateLoading {
			return
		}
		select {
		case <-loop.Wake():
		case <-deadline:
			t.Fatal("audio never loaded")
		}
	}
}

func TestSyncSeedsHandleAtClipOffset(t *testing.T) {
	layer, sess, loop, lib, a := setup(t)
	sess.Playing = true
	sess.GlobalTime = 7

	layer.Sync(7)
	h, ok := layer.Live(a.ID)
	if !ok {
		t.Fatal("expected a live handle inside the clip window")
	}
	waitLoaded(t, loop, h)

	playing := lib.Playing("music.wav")
	if len(playing) != 1 {
		t.Fatalf("expected one playing handle, got %d", len(playing))
	}
	if pos := playing[0].Position(); pos != 2 {
		t.Errorf("expected source offset 2, got %v", pos)
	}
}

func TestSyncDriftTolerance(t *testing.T) {
	layer, sess, loop, lib, a := setup(t)
	sess.GlobalTime = 7
	layer.Sync(7)
	h, _ := layer.Live(a.ID)
	waitLoaded(t, loop, h)
	b := lib.Backends()[0]

	seeks := len(b.Seeks())
	b.SetPosition(2.1)
	layer.Sync(7.2)
	if len(b.Seeks()) != seeks {
		t.Error("drift within tolerance should not seek")
	}

	b.SetPosition(1.5)
	layer.Sync(7.2)
	got := b.Seeks()
	if len(got) != seeks+1 || got[len(got)-1] < 2.2-1e-9 || got[len(got)-1] > 2.2+1e-9 {
		t.Errorf("expected a hard seek to 2.2, got %v", got)
	}
}

func TestSyncReleasesOutsideWindow(t *testing.T) {
	layer, _, _, _, a := setup(t)
	layer.Sync(6)
	if layer.Count() != 1 {
		t.Fatal("expected one live handle")
	}
	layer.Sync(9)
	if _, ok := layer.Live(a.ID); ok {
		t.Error("end is exclusive, handle should be released")
	}
	layer.Sync(4.99)
	if layer.Count() != 0 {
		t.Error("no clip overlaps 4.99")
	}
}

func TestMutedClipKeepsHandleAtZeroVolume(t *testing.T) {
	layer, _, loop, lib, a := setup(t)
	layer.Sync(6)
	h, _ := layer.Live(a.ID)
	waitLoaded(t, loop, h)

	a.Muted = true
	layer.Sync(6.1)
	if _, ok := layer.Live(a.ID); !ok {
		t.Fatal("muted clip should keep its handle")
	}
	if v := lib.Backends()[0].Volume(); v != 0 {
		t.Errorf("expected volume 0, got %v", v)
	}
}

func TestStopAll(t *testing.T) {
	layer, sess, _, _, _ := setup(t)
	sess.Project.AudioClips = append(sess.Project.AudioClips, clips.NewAudioClip("music.wav", "again", 10, 6))
	layer.Sync(6.5)
	if layer.Count() != 2 {
		t.Fatalf("expected two overlapping clips live, got %d", layer.Count())
	}
	layer.StopAll()
	if layer.Count() != 0 {
		t.Error("expected everything released")
	}
}
