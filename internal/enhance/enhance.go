// Package enhance runs a loaded model over an image, splitting large inputs
// into padded tiles and stitching the results.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"upscaled/internal/modelcache"
	"upscaled/internal/runtime"
	"upscaled/pkg/types"
)

const (
	DefaultAutoThresholdPx  = 1500
	DefaultAutoTileSize     = 1024
	DefaultTilePad          = 10
	DefaultInferenceTimeout = 5 * time.Minute
)

var (
	inferenceSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "upscaled",
			Subsystem: "enhance",
			Name:      "inference_seconds",
			Help:      "Model execution time per call (whole image or tile)",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"model"},
	)
	tilesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "upscaled",
		Subsystem: "enhance",
		Name:      "tiles_total",
		Help:      "Tiles processed",
	})
)

func init() {
	prometheus.MustRegister(inferenceSeconds, tilesTotal)
}

// Config tunes tiling and per-call limits. Zero values take defaults;
// TilePad < 0 disables padding.
type Config struct {
	AutoThresholdPx  int
	AutoTileSize     int
	TilePad          int
	InferenceTimeout time.Duration
	Logger           zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.AutoThresholdPx <= 0 {
		c.AutoThresholdPx = DefaultAutoThresholdPx
	}
	if c.AutoTileSize <= 0 {
		c.AutoTileSize = DefaultAutoTileSize
	}
	switch {
	case c.TilePad < 0:
		c.TilePad = 0
	case c.TilePad == 0:
		c.TilePad = DefaultTilePad
	}
	if c.InferenceTimeout <= 0 {
		c.InferenceTimeout = DefaultInferenceTimeout
	}
	return c
}

// ModelSet carries the handles an item may need. Standard holds the
// resolved variant model when a variant was requested.
type ModelSet struct {
	Standard *modelcache.Handle
	Anime    *modelcache.Handle
	Face     *modelcache.Handle
}

// Info describes a completed enhancement.
type Info struct {
	Width    int
	Height   int
	TileSize int
	Tiles    int
	Model    string
}

// Engine applies models to images. It holds no per-call state.
type Engine struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{cfg: cfg, log: cfg.Logger}
}

// TileSizeFor returns the tile edge to use for a w×h image: the caller's
// size, or AutoTileSize when none was given and the image is larger than
// AutoThresholdPx on either side. 0 means no tiling.
func (e *Engine) TileSizeFor(w, h int, opts types.Options) int {
	if opts.FaceEnhance {
		return 0
	}
	if opts.TileSize == 0 && max(w, h) > e.cfg.AutoThresholdPx {
		return e.cfg.AutoTileSize
	}
	return max(opts.TileSize, 0)
}

// Enhance selects the model from opts and runs it over img.
func (e *Engine) Enhance(ctx context.Context, img image.Image, models ModelSet, opts types.Options) (image.Image, Info, error) {
	var h *modelcache.Handle
	switch {
	case opts.FaceEnhance:
		h = models.Face
	case opts.Anime:
		h = models.Anime
	default:
		h = models.Standard
	}
	if h == nil || h.Enhancer == nil {
		return nil, Info{}, &InferenceError{Model: "none", Err: ErrNoModel}
	}

	b := img.Bounds()
	tile := e.TileSizeFor(b.Dx(), b.Dy(), opts)
	info := Info{TileSize: tile, Model: h.Key.Name()}

	var (
		out image.Image
		err error
	)
	if tile == 0 || (b.Dx() <= tile && b.Dy() <= tile) {
		out, err = e.run(ctx, h, img)
		info.Tiles = 1
	} else {
		out, info.Tiles, err = e.tiled(ctx, h, img, tile)
	}
	if err != nil {
		return nil, info, err
	}
	info.Width, info.Height = out.Bounds().Dx(), out.Bounds().Dy()
	return out, info, nil
}

// run executes one model call under the inference timeout and checks the
// output geometry.
func (e *Engine) run(ctx context.Context, h *modelcache.Handle, img image.Image) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := h.Key.Name()
	cctx, cancel := context.WithTimeout(ctx, e.cfg.InferenceTimeout)
	defer cancel()

	start := time.Now()
	out, err := h.Enhancer.Enhance(cctx, img)
	inferenceSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, &InferenceError{Model: name, Err: fmt.Errorf("timed out after %s: %w", e.cfg.InferenceTimeout, err)}
		}
		return nil, &InferenceError{Model: name, Err: err, ResourceExhausted: runtime.IsResourceExhausted(err)}
	}
	if out == nil {
		return nil, &InferenceError{Model: name, Err: errors.New("model returned no image")}
	}
	b, ob := img.Bounds(), out.Bounds()
	if ob.Dx() != b.Dx()*h.Scale || ob.Dy() != b.Dy()*h.Scale {
		return nil, &InferenceError{Model: name, Err: fmt.Errorf("output %dx%d, want %dx%d", ob.Dx(), ob.Dy(), b.Dx()*h.Scale, b.Dy()*h.Scale)}
	}
	return out, nil
}

// tiled splits img into tile×tile regions, runs each with TilePad pixels of
// surrounding context and pastes the un-padded part of each result.
func (e *Engine) tiled(ctx context.Context, h *modelcache.Handle, img image.Image, tile int) (image.Image, int, error) {
	b := img.Bounds()
	s := h.Scale
	pad := e.cfg.TilePad
	out := image.NewRGBA(image.Rect(0, 0, b.Dx()*s, b.Dy()*s))

	n := 0
	for y0 := b.Min.Y; y0 < b.Max.Y; y0 += tile {
		for x0 := b.Min.X; x0 < b.Max.X; x0 += tile {
			core := image.Rect(x0, y0, min(x0+tile, b.Max.X), min(y0+tile, b.Max.Y))
			padded := image.Rect(
				max(core.Min.X-pad, b.Min.X), max(core.Min.Y-pad, b.Min.Y),
				min(core.Max.X+pad, b.Max.X), min(core.Max.Y+pad, b.Max.Y),
			)
			res, err := e.run(ctx, h, crop(img, padded))
			if err != nil {
				return nil, n, err
			}
			rb := res.Bounds()
			src := image.Pt(rb.Min.X+(core.Min.X-padded.Min.X)*s, rb.Min.Y+(core.Min.Y-padded.Min.Y)*s)
			dst := image.Rect(
				(core.Min.X-b.Min.X)*s, (core.Min.Y-b.Min.Y)*s,
				(core.Max.X-b.Min.X)*s, (core.Max.Y-b.Min.Y)*s,
			)
			draw.Draw(out, dst, res, src, draw.Src)
			n++
			tilesTotal.Inc()
		}
	}
	e.log.Debug().Str("model", h.Key.Name()).Int("tile", tile).Int("tiles", n).Msg("tiled enhance")
	return out, n, nil
}

// crop copies r out of img into a new zero-origin image.
func crop(img image.Image, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// EnhanceFile decodes src, enhances it and encodes the result to dst.
func (e *Engine) EnhanceFile(ctx context.Context, src, dst string, models ModelSet, opts types.Options) (Info, error) {
	if _, err := encoderFor(dst); err != nil {
		return Info{}, &EncodeError{Path: dst, Err: err}
	}
	img, format, err := Decode(src)
	if err != nil {
		return Info{}, &DecodeError{Path: src, Err: err}
	}
	e.log.Debug().Str("src", src).Str("format", format).
		Int("w", img.Bounds().Dx()).Int("h", img.Bounds().Dy()).Msg("decoded")

	out, info, err := e.Enhance(ctx, img, models, opts)
	if err != nil {
		return info, err
	}
	if err := Encode(dst, out); err != nil {
		return info, &EncodeError{Path: dst, Err: err}
	}
	return info, nil
}
