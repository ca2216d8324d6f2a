package edit

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/clips"
	"github.com/keagan/reelcut/internal/media"
	"github.com/keagan/reelcut/internal/session"
)

// Import defaults.
const (
	ProvisionalDuration   = 0.3
	MinAcceptedDuration   = 0.05
	AudioFallbackDuration = 1.0
	DefaultProbeTimeout   = 8 * time.Second
)

// Importer adds media to the project. Video clips appear immediately with a
// provisional length and grow once their probe answers; audio clips are
// added when their probe answers.
type Importer struct {
	logger  zerolog.Logger
	ed      *Editor
	disp    session.Dispatcher
	probe   media.ProbeFunc
	timeout time.Duration
}

// NewImporter creates an importer. Results are applied through disp.
func NewImporter(logger zerolog.Logger, ed *Editor, disp session.Dispatcher, probe media.ProbeFunc) *Importer {
	return &Importer{
		logger:  logger.With().Str("component", "import").Logger(),
		ed:      ed,
		disp:    disp,
		probe:   probe,
		timeout: DefaultProbeTimeout,
	}
}

// SetTimeout bounds each probe.
func (im *Importer) SetTimeout(d time.Duration) {
	if d > 0 {
		im.timeout = d
	}
}

// ImportVideos appends one provisional clip per path at the end of the video
// track. The returned channel is closed once every probe has been applied
// and the import recorded as one undo step. Must be called on the loop.
func (im *Importer) ImportVideos(ctx context.Context, paths []string) <-chan struct{} {
	done := make(chan struct{})
	if len(paths) == 0 {
		close(done)
		return done
	}

	ids := make([]string, len(paths))
	for i, path := range paths {
		c := clips.NewVideoClip(path, filepath.Base(path), ProvisionalDuration, 0)
		c.Provisional = true
		im.ed.AppendVideo(c, "")
		ids[i] = c.ID
	}
	im.logger.Info().Int("files", len(paths)).Msg("importing video")

	remaining := len(paths)
	for i, path := range paths {
		id := ids[i]
		im.probeAsync(ctx, path, func(d float64, err error) {
			im.finalizeVideo(id, path, d, err)
			remaining--
			if remaining == 0 {
				im.ed.commit("importVideo")
				im.ed.sess.Select(session.SelectVideo, ids[len(ids)-1])
				close(done)
			}
		})
	}
	return done
}

// finalizeVideo resizes a provisional clip to its probed duration and shifts
// the clips after it so the track stays free of overlaps.
func (im *Importer) finalizeVideo(id, path string, d float64, err error) {
	p := im.ed.sess.Project
	c := p.Video(id)
	if c == nil {
		return
	}
	c.Provisional = false

	if err != nil || math.IsNaN(d) || math.IsInf(d, 0) || d < MinAcceptedDuration {
		im.logger.Warn().Err(err).Str("file", path).Float64("duration", c.SourceDuration).Msg("keeping provisional duration")
		return
	}

	oldEnd := c.TimelineEnd
	untouched := c.TrimOut >= c.SourceDuration-clips.Tolerance
	c.SourceDuration = d
	if untouched || c.TrimOut > d {
		c.TrimOut = d
	}
	if c.TrimIn >= c.TrimOut {
		c.TrimIn = 0
	}
	c.Reflow()

	if delta := c.TimelineEnd - oldEnd; delta != 0 {
		for _, other := range p.VideoClips {
			if other != c && other.TimelineStart >= oldEnd-clips.Tolerance {
				other.MoveTo(other.TimelineStart + delta)
			}
		}
	}
	im.ed.sess.Changed()
	im.logger.Debug().Str("file", path).Float64("duration", d).Msg("video probed")
}

// ImportAudio probes each path and appends it after the end of the audio
// track in completion order. Sources without a usable duration get
// AudioFallbackDuration. Must be called on the loop.
func (im *Importer) ImportAudio(ctx context.Context, paths []string) <-chan struct{} {
	done := make(chan struct{})
	if len(paths) == 0 {
		close(done)
		return done
	}
	im.logger.Info().Int("files", len(paths)).Msg("importing audio")

	remaining := len(paths)
	im.ed.begin()
	for _, path := range paths {
		path := path
		im.probeAsync(ctx, path, func(d float64, err error) {
			if err != nil || math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
				im.logger.Warn().Err(err).Str("file", path).Msg("using fallback audio duration")
				d = AudioFallbackDuration
			}
			p := im.ed.sess.Project
			a := clips.NewAudioClip(path, filepath.Base(path), d, p.AudioTrackEnd())
			p.AudioClips = append(p.AudioClips, a)
			im.ed.sess.Changed()

			remaining--
			if remaining == 0 {
				im.ed.commit("importAudio")
				close(done)
			}
		})
	}
	return done
}

// ImportImages places image overlays at the playhead. Images need no probe.
func (im *Importer) ImportImages(paths []string) int {
	return len(im.ed.AddImagesAtPlayhead(paths))
}

// probeAsync runs the probe off the loop and posts fn back to it. The
// timeout holds even for a probe that ignores its context.
func (im *Importer) probeAsync(ctx context.Context, path string, fn func(float64, error)) {
	type result struct {
		d   float64
		err error
	}
	go func() {
		pctx, cancel := context.WithTimeout(ctx, im.timeout)
		defer cancel()

		ch := make(chan result, 1)
		go func() {
			d, err := im.probe(pctx, path)
			ch <- result{d, err}
		}()

		var r result
		select {
		case r = <-ch:
		case <-pctx.Done():
			r.err = fmt.Errorf("probe %s: %w", path, pctx.Err())
		}
		im.disp.Post(func() { fn(r.d, r.err) })
	}()
}
