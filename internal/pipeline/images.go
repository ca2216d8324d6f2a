package pipeline

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/keagan/reelcut/internal/overlays"
)

// LoadImages decodes every image referenced by an overlay visible inside
// [start, end). Sources that fail to decode are logged and left out, so
// their overlays are not drawn.
func LoadImages(logger zerolog.Logger, list []*overlays.OverlayClip, start, end float64) *overlays.Registry {
	reg := overlays.NewRegistry()

	var visible []*overlays.OverlayClip
	for _, o := range list {
		if o.Visible && o.TimelineEnd > start && o.TimelineStart < end {
			visible = append(visible, o)
		}
	}

	for _, src := range overlays.ImageSources(visible) {
		img, err := decodeImage(src)
		if err != nil {
			logger.Warn().Err(err).Str("source", src).Msg("overlay image skipped")
			continue
		}
		reg.Register(src, img)
	}
	return reg
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
