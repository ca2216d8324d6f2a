package pipeline

import (
	"context"
	"image"

	"github.com/rs/zerolog"

	"github.com/keagan/reelcut/internal/overlays"
	"github.com/keagan/reelcut/internal/timeline"
)

// StillSource decodes one frame of a source. *ffmpeg.Executor satisfies it.
type StillSource interface {
	Still(ctx context.Context, source string, position float64, width, height int) (*image.RGBA, error)
}

// PreviewRequest is a self-contained description of one preview frame. It
// holds copies so it can leave the session loop.
type PreviewRequest struct {
	Time     float64
	Source   string
	Position float64
	Overlays []overlays.OverlayClip
}

// PreviewAt describes the frame the project shows at t. Call it on the
// session loop.
func PreviewAt(p *timeline.Project, t float64) PreviewRequest {
	req := PreviewRequest{Time: t}
	if c := p.FindClipAt(t); c != nil {
		req.Source = c.Source
		req.Position = c.SourceTime(t)
	}
	for _, o := range p.ActiveOverlays(t) {
		req.Overlays = append(req.Overlays, *o)
	}
	return req
}

// Previewer renders single composited frames off the session loop. Only the
// newest request is kept while a frame is being decoded.
type Previewer struct {
	logger zerolog.Logger
	stills StillSource
	width  int
	height int

	reqs   chan PreviewRequest
	images *overlays.Registry
	failed map[string]bool
	comp   *Compositor
}

// NewPreviewer renders width x height frames from stills.
func NewPreviewer(logger zerolog.Logger, stills StillSource, width, height int) *Previewer {
	images := overlays.NewRegistry()
	return &Previewer{
		logger: logger.With().Str("component", "preview").Logger(),
		stills: stills,
		width:  width,
		height: height,
		reqs:   make(chan PreviewRequest, 1),
		images: images,
		failed: make(map[string]bool),
		comp:   NewCompositor(images),
	}
}

// Request queues req, replacing any request not yet picked up.
func (pv *Previewer) Request(req PreviewRequest) {
	select {
	case <-pv.reqs:
	default:
	}
	select {
	case pv.reqs <- req:
	default:
	}
}

// Run renders queued requests and hands each frame to out until ctx is done.
func (pv *Previewer) Run(ctx context.Context, out func(*image.RGBA)) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-pv.reqs:
			out(pv.Frame(ctx, req))
		}
	}
}

// Frame renders req synchronously. A frame that cannot be decoded is black.
func (pv *Previewer) Frame(ctx context.Context, req PreviewRequest) *image.RGBA {
	var frame *image.RGBA
	if req.Source != "" {
		img, err := pv.stills.Still(ctx, req.Source, req.Position, pv.width, pv.height)
		if err != nil {
			pv.logger.Debug().Err(err).Str("source", req.Source).Float64("position", req.Position).Msg("preview frame unavailable")
		} else if img.Bounds().Dx() == pv.width && img.Bounds().Dy() == pv.height {
			frame = img
		}
	}
	if frame == nil {
		frame = image.NewRGBA(image.Rect(0, 0, pv.width, pv.height))
		black(frame)
	}

	list := make([]*overlays.OverlayClip, len(req.Overlays))
	for i := range req.Overlays {
		list[i] = &req.Overlays[i]
	}
	pv.loadImages(list)
	pv.comp.Compose(frame, list)
	return frame
}

func (pv *Previewer) loadImages(list []*overlays.OverlayClip) {
	for _, src := range overlays.ImageSources(list) {
		if _, ok := pv.images.Get(src); ok || pv.failed[src] {
			continue
		}
		img, err := decodeImage(src)
		if err != nil {
			pv.logger.Warn().Err(err).Str("source", src).Msg("overlay image skipped")
			pv.failed[src] = true
			continue
		}
		pv.images.Register(src, img)
	}
}
