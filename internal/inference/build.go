package inference

import (
	"fmt"

	"github.com/rs/zerolog"

	"upscaled/internal/admission"
	"upscaled/internal/blob"
	"upscaled/internal/config"
	"upscaled/internal/enhance"
	"upscaled/internal/modelcache"
	"upscaled/internal/registry"
	"upscaled/internal/runtime"
	"upscaled/pkg/types"
)

// Build constructs every component from cfg and returns the Service. The
// object store client is created without contacting the endpoint.
func Build(cfg config.Config, log zerolog.Logger) (*Service, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	component := func(name string) zerolog.Logger {
		return log.With().Str("component", name).Logger()
	}

	reg, err := registry.LoadDir(cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("models dir: %w", err)
	}

	loader, err := runtime.New(runtime.Config{
		Kind:       cfg.Runtime.Kind,
		Binary:     cfg.Runtime.Binary,
		FaceBinary: cfg.Runtime.FaceBinary,
		GPUID:      cfg.Runtime.GPUID,
		Logger:     component("runtime"),
	})
	if err != nil {
		return nil, err
	}
	cache, err := modelcache.New(modelcache.Config{
		Loader:    loader,
		MarkerDir: cfg.ModelCacheDir,
		Logger:    component("modelcache"),
	})
	if err != nil {
		return nil, err
	}

	store, err := blob.NewMinioStore(blob.MinioConfig{
		Endpoint:           cfg.Transfer.Endpoint,
		Region:             cfg.Transfer.Region,
		AccessKey:          cfg.Transfer.AccessKey,
		SecretKey:          cfg.Transfer.SecretKey,
		UseSSL:             cfg.Transfer.SSL(),
		Accelerate:         cfg.Transfer.UseAcceleration,
		MaxRetries:         cfg.Transfer.MaxRetries,
		MaxPoolConnections: cfg.Transfer.MaxPoolConnections,
	})
	if err != nil {
		return nil, err
	}
	transfer, err := blob.New(store, blob.Config{
		CacheDir:           cfg.ImageCacheDir,
		UseCompression:     cfg.Transfer.UseCompression,
		MultipartThreshold: int64(cfg.Transfer.MultipartThreshold) << 20,
		MultipartChunk:     int64(cfg.Transfer.MultipartChunk) << 20,
		MaxConcurrency:     cfg.MaxConcurrency,
		VerifyCache:        cfg.Transfer.VerifyCache,
		Logger:             component("blob"),
	})
	if err != nil {
		return nil, err
	}

	ctrl := admission.NewController(admission.ControllerConfig{
		Probe: admission.NewProbe(cfg.Device, cfg.Runtime.GPUID),
		Policy: admission.Policy{
			PerItemBytes: int64(cfg.Admission.PerItemMB) << 20,
			SafetyMargin: cfg.Admission.SafetyMargin,
			MaxBatch:     cfg.Admission.MaxBatch,
			DefaultBatch: cfg.Admission.DefaultBatch,
		},
		Interval: cfg.ProbeInterval(),
		Logger:   component("admission"),
	})

	// config keeps 0 for "no padding"; the engine reads 0 as "default".
	pad := cfg.Tiling.TilePad
	if pad == 0 {
		pad = -1
	}
	engine := enhance.New(enhance.Config{
		AutoThresholdPx:  cfg.Tiling.AutoThresholdPx,
		AutoTileSize:     cfg.Tiling.AutoTileSize,
		TilePad:          pad,
		InferenceTimeout: cfg.InferenceTimeout(),
		Logger:           component("enhance"),
	})

	var warm []types.ModelFamily
	for _, f := range cfg.WarmupFamilies {
		mf := types.ModelFamily(f)
		if !mf.Known() {
			return nil, fmt.Errorf("warmup_families: unknown family %q", f)
		}
		warm = append(warm, mf)
	}

	return New(Config{
		Registry:       reg,
		Models:         cache,
		Transfer:       transfer,
		Admission:      ctrl,
		Engine:         engine,
		ImageCacheDir:  cfg.ImageCacheDir,
		Device:         cfg.Device,
		MaxConcurrency: cfg.MaxConcurrency,
		WarmupFamilies: warm,
		Logger:         component("inference"),
	})
}

// Admission exposes the controller so callers can run its probe loop.
func (s *Service) Admission() *admission.Controller { return s.admission }
