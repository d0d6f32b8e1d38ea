package modelcache

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upscaled/internal/runtime"
	"upscaled/pkg/types"
)

type stubEnhancer struct {
	scale  int
	closed atomic.Bool
}

func (s *stubEnhancer) Scale() int { return s.scale }

func (s *stubEnhancer) Enhance(_ context.Context, img image.Image) (image.Image, error) {
	return img, nil
}

func (s *stubEnhancer) Close() error {
	s.closed.Store(true)
	return nil
}

type countingLoader struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (l *countingLoader) Load(ctx context.Context, key types.ModelKey) (runtime.Enhancer, error) {
	l.calls.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.err != nil {
		return nil, l.err
	}
	return &stubEnhancer{scale: 4}, nil
}

func newCache(t *testing.T, l runtime.Loader, markerDir string) *Cache {
	t.Helper()
	c, err := New(Config{Loader: l, MarkerDir: markerDir, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return c
}

var stdKey = types.ModelKey{Family: types.FamilyStandardSR, Path: "/models/RealESRGAN_x4plus.pth"}

func TestResolve_LoadsOnceConcurrently(t *testing.T) {
	l := &countingLoader{delay: 50 * time.Millisecond}
	c := newCache(t, l, "")

	var wg sync.WaitGroup
	handles := make([]*Handle, 32)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := c.Resolve(context.Background(), stdKey)
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, l.calls.Load())
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.EqualValues(t, 1, c.Loads())

	_, err := c.Resolve(context.Background(), stdKey)
	require.NoError(t, err)
	assert.EqualValues(t, 1, l.calls.Load())
}

func TestResolve_UnsupportedFamilyNeverCallsLoader(t *testing.T) {
	l := &countingLoader{}
	c := newCache(t, l, "")
	for i := 0; i < 3; i++ {
		_, err := c.Resolve(context.Background(), types.ModelKey{Family: "video_sr"})
		require.Error(t, err)
		assert.True(t, IsUnsupportedKind(err))
	}
	assert.Zero(t, l.calls.Load())
}

func TestResolve_FailureIsNotMemoized(t *testing.T) {
	l := &countingLoader{err: errors.New("weights missing")}
	c := newCache(t, l, "")

	_, err := c.Resolve(context.Background(), stdKey)
	require.Error(t, err)
	assert.True(t, IsModelLoad(err))
	var le ModelLoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, stdKey, le.Key)

	l.err = nil
	h, err := c.Resolve(context.Background(), stdKey)
	require.NoError(t, err)
	assert.Equal(t, 4, h.Scale)
	assert.EqualValues(t, 2, l.calls.Load())
}

func TestResolve_DistinctKeysLoadSeparately(t *testing.T) {
	l := &countingLoader{}
	c := newCache(t, l, "")
	keys := []types.ModelKey{
		stdKey,
		{Family: types.FamilyAnimeSR, Path: "/models/realesr-animevideov3.pth"},
		{Family: types.FamilyVariant, Variant: "real_sr", Path: "/models/sw.pth"},
		{Family: types.FamilyVariant, Variant: "color_dn", Path: "/models/dn.pth"},
	}
	for _, k := range keys {
		_, err := c.Resolve(context.Background(), k)
		require.NoError(t, err)
	}
	assert.EqualValues(t, len(keys), l.calls.Load())
	assert.Len(t, c.Loaded(), len(keys))
}

func TestResolve_CallerContextBoundsWait(t *testing.T) {
	l := &countingLoader{delay: 200 * time.Millisecond}
	c := newCache(t, l, "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Resolve(ctx, stdKey)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The detached load still completes and is reused.
	h, err := c.Resolve(context.Background(), stdKey)
	require.NoError(t, err)
	assert.NotNil(t, h)
	assert.EqualValues(t, 1, l.calls.Load())
}

func TestResolve_WritesMarker(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "markers")
	c := newCache(t, &countingLoader{}, dir)
	key := types.ModelKey{Family: types.FamilyVariant, Variant: "jpeg_car", Path: "/models/j.pth"}
	_, err := c.Resolve(context.Background(), key)
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "variant-jpeg_car.json"))
	require.NoError(t, err)
	var rec markerRecord
	require.NoError(t, json.Unmarshal(b, &rec))
	assert.Equal(t, "variant", rec.Family)
	assert.Equal(t, "jpeg_car", rec.Variant)
	assert.Equal(t, "/models/j.pth", rec.Path)
}

func TestClose_ReleasesHandles(t *testing.T) {
	c := newCache(t, &countingLoader{}, "")
	h, err := c.Resolve(context.Background(), stdKey)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.True(t, h.Enhancer.(*stubEnhancer).closed.Load())
	assert.Empty(t, c.Loaded())
}

func TestNew_RequiresLoader(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
