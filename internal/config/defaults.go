package config

import (
	"fmt"
	"strings"
	"time"
)

// Defaults applied by WithDefaults when the corresponding field is unset.
const (
	DefaultAddr               = ":8080"
	DefaultModelsDir          = "/opt/ml/model"
	DefaultModelCacheDir      = "/tmp/model_cache"
	DefaultImageCacheDir      = "/tmp/image_cache"
	DefaultDevice             = "auto"
	DefaultRuntime            = "resample"
	DefaultMaxConcurrency     = 10
	DefaultInferenceTimeout   = 5 * time.Minute
	DefaultRegion             = "us-east-1"
	DefaultEndpoint           = "s3.amazonaws.com"
	DefaultMaxRetries         = 10
	DefaultMaxPoolConnections = 100
	DefaultMultipartThreshold = 100 // MiB
	DefaultMultipartChunk     = 25  // MiB
	DefaultPerItemMB          = 500
	DefaultSafetyMargin       = 0.8
	DefaultMaxBatch           = 16
	DefaultBatch              = 4
	DefaultProbeInterval      = 10 * time.Second
	DefaultAutoThresholdPx    = 1500
	DefaultAutoTileSize       = 1024
	DefaultTilePad            = 10
)

// WithDefaults returns a copy of c with unset fields filled in.
func (c Config) WithDefaults() Config {
	setStr := func(p *string, def string) {
		if strings.TrimSpace(*p) == "" {
			*p = def
		}
	}
	setInt := func(p *int, def int) {
		if *p <= 0 {
			*p = def
		}
	}
	setStr(&c.Addr, DefaultAddr)
	setStr(&c.ModelsDir, DefaultModelsDir)
	setStr(&c.ModelCacheDir, DefaultModelCacheDir)
	setStr(&c.ImageCacheDir, DefaultImageCacheDir)
	setStr(&c.Device, DefaultDevice)
	setStr(&c.LogLevel, "info")
	setStr(&c.LogFormat, "json")
	setInt(&c.MaxConcurrency, DefaultMaxConcurrency)
	setInt(&c.InferenceTimeoutSec, int(DefaultInferenceTimeout/time.Second))
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}

	setStr(&c.Runtime.Kind, DefaultRuntime)

	setStr(&c.Transfer.Region, DefaultRegion)
	setStr(&c.Transfer.Endpoint, DefaultEndpoint)
	setInt(&c.Transfer.MaxRetries, DefaultMaxRetries)
	setInt(&c.Transfer.MaxPoolConnections, DefaultMaxPoolConnections)
	setInt(&c.Transfer.MultipartThreshold, DefaultMultipartThreshold)
	setInt(&c.Transfer.MultipartChunk, DefaultMultipartChunk)

	setInt(&c.Admission.PerItemMB, DefaultPerItemMB)
	if c.Admission.SafetyMargin <= 0 {
		c.Admission.SafetyMargin = DefaultSafetyMargin
	}
	setInt(&c.Admission.MaxBatch, DefaultMaxBatch)
	setInt(&c.Admission.DefaultBatch, DefaultBatch)
	setInt(&c.Admission.ProbeIntervalSec, int(DefaultProbeInterval/time.Second))

	setInt(&c.Tiling.AutoThresholdPx, DefaultAutoThresholdPx)
	setInt(&c.Tiling.AutoTileSize, DefaultAutoTileSize)
	if c.Tiling.TilePad < 0 {
		c.Tiling.TilePad = 0
	} else if c.Tiling.TilePad == 0 {
		c.Tiling.TilePad = DefaultTilePad
	}
	return c
}

// Default returns a fully populated configuration.
func Default() Config { return Config{}.WithDefaults() }

// InferenceTimeout returns the per-call inference timeout.
func (c Config) InferenceTimeout() time.Duration {
	return time.Duration(c.InferenceTimeoutSec) * time.Second
}

// InvocationTimeout returns the whole-request timeout (0 = none).
func (c Config) InvocationTimeout() time.Duration {
	if c.InvocationTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(c.InvocationTimeoutSec) * time.Second
}

// ProbeInterval returns the device probe refresh interval.
func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.Admission.ProbeIntervalSec) * time.Second
}

// SSL reports whether the blob store endpoint should use TLS (default true).
func (t TransferConfig) SSL() bool {
	if t.UseSSL == nil {
		return true
	}
	return *t.UseSSL
}

// Validate rejects values no component can work with.
func (c Config) Validate() error {
	switch c.Device {
	case "auto", "cpu", "cuda":
	default:
		return fmt.Errorf("device must be auto, cpu or cuda: %q", c.Device)
	}
	switch c.Runtime.Kind {
	case "resample":
	case "ncnn":
		if strings.TrimSpace(c.Runtime.Binary) == "" {
			return fmt.Errorf("runtime.binary is required for the ncnn runtime")
		}
	default:
		return fmt.Errorf("unsupported runtime kind: %q", c.Runtime.Kind)
	}
	if c.Admission.SafetyMargin > 1 {
		return fmt.Errorf("admission.safety_margin must be within (0,1]: %v", c.Admission.SafetyMargin)
	}
	if c.Admission.DefaultBatch > c.Admission.MaxBatch {
		return fmt.Errorf("admission.default_batch (%d) exceeds max_batch (%d)", c.Admission.DefaultBatch, c.Admission.MaxBatch)
	}
	if c.Transfer.MultipartChunk > c.Transfer.MultipartThreshold {
		return fmt.Errorf("transfer.multipart_chunk_mb (%d) exceeds multipart_threshold_mb (%d)", c.Transfer.MultipartChunk, c.Transfer.MultipartThreshold)
	}
	if c.Transfer.MultipartChunk < 5 {
		// S3 rejects multipart parts below 5 MiB.
		return fmt.Errorf("transfer.multipart_chunk_mb must be >= 5: %d", c.Transfer.MultipartChunk)
	}
	return nil
}
