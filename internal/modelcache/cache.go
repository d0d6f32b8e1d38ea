// Package modelcache keeps loaded enhancement models resident for the
// lifetime of the process. Loads are single-flight per key; failures are
// not remembered so a later request may retry.
package modelcache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"upscaled/internal/runtime"
	"upscaled/pkg/types"
)

// Handle is an immutable, shared reference to a loaded model.
type Handle struct {
	Key          types.ModelKey
	Enhancer     runtime.Enhancer
	Scale        int
	LoadDuration time.Duration
	LoadedAt     time.Time
}

// Config wires a Cache.
type Config struct {
	Loader runtime.Loader
	// MarkerDir receives advisory <name>.json records of loaded models.
	// Empty disables markers.
	MarkerDir string
	Logger    zerolog.Logger
}

// Cache maps model keys to loaded handles.
type Cache struct {
	mu      sync.RWMutex
	handles map[types.ModelKey]*Handle
	group   singleflight.Group
	loader  runtime.Loader
	marker  string
	log     zerolog.Logger
	loads   atomic.Int64
}

func New(cfg Config) (*Cache, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("modelcache: loader is required")
	}
	return &Cache{
		handles: make(map[types.ModelKey]*Handle),
		loader:  cfg.Loader,
		marker:  cfg.MarkerDir,
		log:     cfg.Logger,
	}, nil
}

// Resolve returns the handle for key, loading it on first use. Concurrent
// callers for the same key share one load. The load runs detached from
// ctx; ctx only bounds how long this caller waits.
func (c *Cache) Resolve(ctx context.Context, key types.ModelKey) (*Handle, error) {
	if !key.Family.Known() {
		return nil, UnsupportedKindError{Family: key.Family}
	}
	if h, ok := c.get(key); ok {
		return h, nil
	}

	ch := c.group.DoChan(key.String(), func() (any, error) {
		if h, ok := c.get(key); ok {
			return h, nil
		}
		return c.load(context.WithoutCancel(ctx), key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	}
}

func (c *Cache) get(key types.ModelKey) (*Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handles[key]
	return h, ok
}

func (c *Cache) load(ctx context.Context, key types.ModelKey) (*Handle, error) {
	family := string(key.Family)
	start := time.Now()
	c.log.Info().Str("model", key.Name()).Str("path", key.Path).Msg("loading model")
	enh, err := c.loader.Load(ctx, key)
	elapsed := time.Since(start)
	modelLoadSeconds.WithLabelValues(family).Observe(elapsed.Seconds())
	if err != nil {
		modelLoadsTotal.WithLabelValues(family, "error").Inc()
		c.log.Error().Err(err).Str("model", key.Name()).Msg("model load failed")
		return nil, ModelLoadError{Key: key, Err: err}
	}
	if enh == nil {
		modelLoadsTotal.WithLabelValues(family, "error").Inc()
		return nil, ModelLoadError{Key: key, Err: fmt.Errorf("loader returned no model")}
	}
	c.loads.Add(1)
	modelLoadsTotal.WithLabelValues(family, "ok").Inc()

	scale := enh.Scale()
	if scale < 1 {
		scale = 1
	}
	h := &Handle{Key: key, Enhancer: enh, Scale: scale, LoadDuration: elapsed, LoadedAt: time.Now()}
	c.mu.Lock()
	c.handles[key] = h
	n := len(c.handles)
	c.mu.Unlock()
	modelsResident.Set(float64(n))

	c.log.Info().Str("model", key.Name()).Int("scale", scale).Dur("took", elapsed).Msg("model loaded")
	c.writeMarker(h)
	return h, nil
}

// Loaded lists resident handles ordered by name.
func (c *Cache) Loaded() []*Handle {
	c.mu.RLock()
	out := make([]*Handle, 0, len(c.handles))
	for _, h := range c.handles {
		out = append(out, h)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Loads is the number of successful loader runs since start.
func (c *Cache) Loads() int64 { return c.loads.Load() }

// Close releases every handle whose Enhancer holds resources.
func (c *Cache) Close() error {
	c.mu.Lock()
	handles := c.handles
	c.handles = make(map[types.ModelKey]*Handle)
	c.mu.Unlock()
	modelsResident.Set(0)
	var first error
	for _, h := range handles {
		if cl, ok := h.Enhancer.(io.Closer); ok {
			if err := cl.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

type markerRecord struct {
	Family   string `json:"family"`
	Variant  string `json:"variant,omitempty"`
	Path     string `json:"path"`
	Scale    int    `json:"scale"`
	LoadMS   int64  `json:"load_ms"`
	LoadedAt int64  `json:"loaded_at_unix"`
}

// writeMarker records the load on disk. Failures are logged only.
func (c *Cache) writeMarker(h *Handle) {
	if c.marker == "" {
		return
	}
	if err := os.MkdirAll(c.marker, 0o755); err != nil {
		c.log.Warn().Err(err).Msg("model marker dir")
		return
	}
	b, err := json.MarshalIndent(markerRecord{
		Family:   string(h.Key.Family),
		Variant:  h.Key.Variant,
		Path:     h.Key.Path,
		Scale:    h.Scale,
		LoadMS:   h.LoadDuration.Milliseconds(),
		LoadedAt: h.LoadedAt.Unix(),
	}, "", "  ")
	if err != nil {
		return
	}
	p := filepath.Join(c.marker, h.Key.Name()+".json")
	if err := os.WriteFile(p, b, 0o644); err != nil {
		c.log.Warn().Err(err).Str("path", p).Msg("write model marker")
	}
}
