package runtime

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"os"

	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"

	"upscaled/internal/registry"
	"upscaled/pkg/types"
)

// ResampleLoader validates the weight file and serves a Catmull-Rom
// resampler at the model's scale. It needs no accelerator.
type ResampleLoader struct {
	log zerolog.Logger
}

func NewResampleLoader(log zerolog.Logger) *ResampleLoader { return &ResampleLoader{log: log} }

func (l *ResampleLoader) Load(ctx context.Context, key types.ModelKey) (Enhancer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkWeights(key.Path); err != nil {
		return nil, err
	}
	scale := registry.ScaleFor(key)
	l.log.Debug().Str("model", key.Name()).Int("scale", scale).Msg("resample runtime ready")
	return &resampler{scale: scale}, nil
}

func checkWeights(path string) error {
	if path == "" {
		return fmt.Errorf("no weights path")
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("weights: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("weights: %s is not a regular file", path)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("weights: %s is empty", path)
	}
	return nil
}

type resampler struct {
	scale int
}

func (r *resampler) Scale() int { return r.scale }

func (r *resampler) Enhance(ctx context.Context, img image.Image) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*r.scale, b.Dy()*r.scale))
	if r.scale == 1 {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst, nil
	}
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst, nil
}
