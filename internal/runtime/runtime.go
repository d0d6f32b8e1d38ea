// Package runtime provides the Enhancer implementations behind a model key:
// a CPU resampling reference runtime and a subprocess runtime driving
// ncnn-vulkan style command line tools.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/rs/zerolog"

	"upscaled/pkg/types"
)

// ErrResourceExhausted is wrapped by runtimes when the accelerator (or host)
// ran out of memory while executing a model.
var ErrResourceExhausted = errors.New("resource exhausted")

// Enhancer runs one loaded model. Implementations must be safe for
// concurrent Enhance calls.
type Enhancer interface {
	// Scale is the output/input size ratio (1 for restoration-only models).
	Scale() int
	Enhance(ctx context.Context, img image.Image) (image.Image, error)
}

// Loader turns a model key into a ready Enhancer.
type Loader interface {
	Load(ctx context.Context, key types.ModelKey) (Enhancer, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, key types.ModelKey) (Enhancer, error)

func (f LoaderFunc) Load(ctx context.Context, key types.ModelKey) (Enhancer, error) {
	return f(ctx, key)
}

const (
	KindResample = "resample"
	KindNCNN     = "ncnn"
)

// Config selects and configures a runtime.
type Config struct {
	Kind       string
	Binary     string
	FaceBinary string
	GPUID      int
	Logger     zerolog.Logger
}

// New returns the Loader for cfg.Kind.
func New(cfg Config) (Loader, error) {
	switch cfg.Kind {
	case "", KindResample:
		return NewResampleLoader(cfg.Logger), nil
	case KindNCNN:
		return NewNCNNLoader(cfg)
	default:
		return nil, fmt.Errorf("unknown runtime kind %q", cfg.Kind)
	}
}
