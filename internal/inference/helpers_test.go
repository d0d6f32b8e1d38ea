package inference

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"upscaled/internal/admission"
	"upscaled/internal/blob"
	"upscaled/internal/enhance"
	"upscaled/internal/modelcache"
	"upscaled/internal/registry"
	"upscaled/internal/runtime"
)

type mapStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMapStore() *mapStore { return &mapStore{objects: map[string][]byte{}} }

func (m *mapStore) Stat(_ context.Context, bucket, key string) (blob.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[bucket+"/"+key]
	if !ok {
		return blob.ObjectInfo{}, fmt.Errorf("%w: %s/%s", blob.ErrObjectNotFound, bucket, key)
	}
	return blob.ObjectInfo{Key: key, Size: int64(len(b))}, nil
}

func (m *mapStore) Get(_ context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", blob.ErrObjectNotFound, bucket, key)
	}
	end := int64(len(b))
	if length > 0 {
		end = min(offset+length, end)
	}
	return io.NopCloser(bytes.NewReader(b[offset:end])), nil
}

func (m *mapStore) Put(_ context.Context, bucket, key string, r io.Reader, _ int64, _ blob.PutOptions) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
	return nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 10), uint8(y * 10), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeImage(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, pngBytes(t, w, h), 0o644))
	return p
}

func imageSize(t *testing.T, path string) (int, int) {
	t.Helper()
	img, _, err := enhance.Decode(path)
	require.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

type fixture struct {
	svc    *Service
	dir    string
	cache  string
	store  *mapStore
	events *MemoryPublisher
}

// newFixture builds a service over the resample runtime with standard,
// face and color_dn weights on disk (no anime weights).
func newFixture(t *testing.T, mut func(*Config)) *fixture {
	t.Helper()
	dir := t.TempDir()
	models := filepath.Join(dir, "models")
	require.NoError(t, os.MkdirAll(models, 0o755))
	for _, name := range []string{"RealESRGAN_x4plus.pth", "GFPGANv1.3.pth", "Swin2SR_ColorDN_DFWB_s128w8_PSNR.pth"} {
		require.NoError(t, os.WriteFile(filepath.Join(models, name), []byte("weights"), 0o644))
	}
	reg, err := registry.LoadDir(models)
	require.NoError(t, err)
	mc, err := modelcache.New(modelcache.Config{Loader: runtime.NewResampleLoader(zerolog.Nop())})
	require.NoError(t, err)

	cache := filepath.Join(dir, "cache")
	store := newMapStore()
	tr, err := blob.New(store, blob.Config{CacheDir: cache})
	require.NoError(t, err)

	pub := NewMemoryPublisher()
	cfg := Config{
		Registry:      reg,
		Models:        mc,
		Transfer:      tr,
		Admission:     admission.NewController(admission.ControllerConfig{Probe: admission.CPUProbe{}}),
		Engine:        enhance.New(enhance.Config{}),
		ImageCacheDir: cache,
		Device:        "cpu",
		Publisher:     pub,
		Logger:        zerolog.Nop(),
	}
	if mut != nil {
		mut(&cfg)
	}
	svc, err := New(cfg)
	require.NoError(t, err)
	return &fixture{svc: svc, dir: dir, cache: cache, store: store, events: pub}
}
