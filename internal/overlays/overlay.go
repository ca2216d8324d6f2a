package overlays

import (
	"encoding/json"
	"fmt"
	"image"
	"sort"

	"github.com/keagan/reelcut/internal/clips"
)

// Kind discriminates the overlay payload.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Blend selects how an overlay is combined with what is beneath it.
type Blend string

const (
	BlendNormal   Blend = "normal"
	BlendMultiply Blend = "multiply"
	BlendScreen   Blend = "screen"
	BlendLighten  Blend = "lighten"
	BlendDarken   Blend = "darken"
)

// Overlay placement defaults.
const (
	OffsetStep       = 30
	MaxAutoOffset    = 8
	DefaultLength    = 5.0
	MinLength        = 0.05
	DefaultFontSize  = 32
	DefaultColor     = "#ffffff"
	DefaultFontName  = "Arial"
	DefaultTextLabel = "New Text"
)

// Position defines overlay placement in output pixels.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Payload is the kind-specific part of an overlay.
type Payload interface {
	Kind() Kind
}

// TextPayload is rasterized directly by the compositor.
type TextPayload struct {
	Text       string `json:"text"`
	FontSize   int    `json:"fontSize"`
	Color      string `json:"color"`
	FontFamily string `json:"fontFamily"`
}

func (TextPayload) Kind() Kind { return KindText }

// ImagePayload references an image that must be decoded before rendering.
type ImagePayload struct {
	Source string `json:"source"`
}

func (ImagePayload) Kind() Kind { return KindImage }

// OverlayClip is a text or image layer shown during [TimelineStart, TimelineEnd).
type OverlayClip struct {
	ID            string
	TimelineStart float64
	TimelineEnd   float64
	Position      Position
	Scale         float64
	Opacity       float64
	Visible       bool
	Locked        bool
	Blend         Blend
	Payload       Payload
}

// Kind returns the payload discriminator.
func (o *OverlayClip) Kind() Kind {
	if o.Payload == nil {
		return ""
	}
	return o.Payload.Kind()
}

// NewText creates a visible text overlay of the default length.
func NewText(text string, start float64, pos Position) *OverlayClip {
	return &OverlayClip{
		ID:            clips.NewID("txt"),
		TimelineStart: start,
		TimelineEnd:   start + DefaultLength,
		Position:      pos,
		Scale:         1,
		Opacity:       1,
		Visible:       true,
		Blend:         BlendNormal,
		Payload: TextPayload{
			Text:       text,
			FontSize:   DefaultFontSize,
			Color:      DefaultColor,
			FontFamily: DefaultFontName,
		},
	}
}

// NewImage creates a visible image overlay of the default length.
func NewImage(source string, start float64, pos Position) *OverlayClip {
	return &OverlayClip{
		ID:            clips.NewID("img"),
		TimelineStart: start,
		TimelineEnd:   start + DefaultLength,
		Position:      pos,
		Scale:         1,
		Opacity:       1,
		Visible:       true,
		Blend:         BlendNormal,
		Payload:       ImagePayload{Source: source},
	}
}

// Active reports whether the overlay is drawn at t.
func (o *OverlayClip) Active(t float64) bool {
	return o.Visible && t >= o.TimelineStart && t < o.TimelineEnd
}

// Length returns the on-screen duration.
func (o *OverlayClip) Length() float64 {
	return o.TimelineEnd - o.TimelineStart
}

// Validate checks the overlay invariants.
func (o *OverlayClip) Validate() error {
	if o.TimelineEnd <= o.TimelineStart {
		return fmt.Errorf("overlay %s: end %.3f not after start %.3f", o.ID, o.TimelineEnd, o.TimelineStart)
	}
	switch p := o.Payload.(type) {
	case TextPayload:
		return nil
	case ImagePayload:
		if p.Source == "" {
			return fmt.Errorf("overlay %s: image source is empty", o.ID)
		}
		return nil
	default:
		return fmt.Errorf("overlay %s: unknown payload %T", o.ID, o.Payload)
	}
}

type overlayJSON struct {
	ID            string        `json:"id"`
	Kind          Kind          `json:"kind"`
	TimelineStart float64       `json:"timelineStart"`
	TimelineEnd   float64       `json:"timelineEnd"`
	Position      Position      `json:"position"`
	Scale         float64       `json:"scale"`
	Opacity       float64       `json:"opacity"`
	Visible       bool          `json:"visible"`
	Locked        bool          `json:"locked"`
	Blend         Blend         `json:"blend"`
	Text          *TextPayload  `json:"text,omitempty"`
	Image         *ImagePayload `json:"image,omitempty"`
}

// MarshalJSON writes the kind discriminator next to the matching payload.
func (o OverlayClip) MarshalJSON() ([]byte, error) {
	out := overlayJSON{
		ID:            o.ID,
		Kind:          o.Kind(),
		TimelineStart: o.TimelineStart,
		TimelineEnd:   o.TimelineEnd,
		Position:      o.Position,
		Scale:         o.Scale,
		Opacity:       o.Opacity,
		Visible:       o.Visible,
		Locked:        o.Locked,
		Blend:         o.Blend,
	}
	switch p := o.Payload.(type) {
	case TextPayload:
		out.Text = &p
	case ImagePayload:
		out.Image = &p
	default:
		return nil, fmt.Errorf("overlay %s: unknown payload %T", o.ID, o.Payload)
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the payload selected by the kind discriminator.
func (o *OverlayClip) UnmarshalJSON(data []byte) error {
	var in overlayJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	*o = OverlayClip{
		ID:            in.ID,
		TimelineStart: in.TimelineStart,
		TimelineEnd:   in.TimelineEnd,
		Position:      in.Position,
		Scale:         in.Scale,
		Opacity:       in.Opacity,
		Visible:       in.Visible,
		Locked:        in.Locked,
		Blend:         in.Blend,
	}
	if o.Blend == "" {
		o.Blend = BlendNormal
	}

	switch in.Kind {
	case KindText:
		if in.Text == nil {
			return fmt.Errorf("overlay %s: text kind without text payload", in.ID)
		}
		o.Payload = *in.Text
	case KindImage:
		if in.Image == nil {
			return fmt.Errorf("overlay %s: image kind without image payload", in.ID)
		}
		o.Payload = *in.Image
	default:
		return fmt.Errorf("overlay %s: unknown kind %q", in.ID, in.Kind)
	}
	return nil
}

// Registry holds decoded overlay images keyed by source.
type Registry struct {
	images map[string]image.Image
}

// NewRegistry creates an empty image registry.
func NewRegistry() *Registry {
	return &Registry{
		images: make(map[string]image.Image),
	}
}

// Register stores a decoded image for a source.
func (r *Registry) Register(source string, img image.Image) {
	r.images[source] = img
}

// Get retrieves a decoded image by source.
func (r *Registry) Get(source string) (image.Image, bool) {
	img, ok := r.images[source]
	return img, ok
}

// List returns all registered sources in sorted order.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.images))
	for name := range r.images {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ImageSources returns the distinct image sources referenced by overlays.
func ImageSources(list []*OverlayClip) []string {
	seen := make(map[string]bool)
	var out []string
	for _, o := range list {
		switch p := o.Payload.(type) {
		case ImagePayload:
			if !seen[p.Source] {
				seen[p.Source] = true
				out = append(out, p.Source)
			}
		case TextPayload:
		}
	}
	return out
}
