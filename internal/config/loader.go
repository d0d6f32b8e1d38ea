package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr          string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir     string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	ModelCacheDir string `json:"model_cache_dir" yaml:"model_cache_dir" toml:"model_cache_dir"`
	ImageCacheDir string `json:"image_cache_dir" yaml:"image_cache_dir" toml:"image_cache_dir"`
	// Device selects the accelerator policy: auto, cpu or cuda.
	Device   string `json:"device" yaml:"device" toml:"device"`
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
	// LogFormat is json (default) or console.
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
	// MaxConcurrency caps workers per sub-batch and parallel transfer parts.
	MaxConcurrency      int   `json:"max_concurrency" yaml:"max_concurrency" toml:"max_concurrency"`
	InferenceTimeoutSec int   `json:"inference_timeout_sec" yaml:"inference_timeout_sec" toml:"inference_timeout_sec"`
	MaxBodyBytes        int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	// InvocationTimeoutSec bounds a whole /invocations request; 0 disables.
	InvocationTimeoutSec int `json:"invocation_timeout_sec" yaml:"invocation_timeout_sec" toml:"invocation_timeout_sec"`
	// WarmupFamilies lists the families resolved at startup; empty means all
	// families that have weights in ModelsDir.
	WarmupFamilies []string `json:"warmup_families" yaml:"warmup_families" toml:"warmup_families"`

	Runtime   RuntimeConfig   `json:"runtime" yaml:"runtime" toml:"runtime"`
	Transfer  TransferConfig  `json:"transfer" yaml:"transfer" toml:"transfer"`
	Admission AdmissionConfig `json:"admission" yaml:"admission" toml:"admission"`
	Tiling    TilingConfig    `json:"tiling" yaml:"tiling" toml:"tiling"`
	CORS      CORSConfig      `json:"cors" yaml:"cors" toml:"cors"`
}

// RuntimeConfig selects the Enhancer implementation.
type RuntimeConfig struct {
	// Kind is resample (CPU reference) or ncnn (subprocess CLI).
	Kind string `json:"kind" yaml:"kind" toml:"kind"`
	// Binary is the realesrgan-ncnn-vulkan compatible executable.
	Binary string `json:"binary" yaml:"binary" toml:"binary"`
	// FaceBinary runs the face restoration path (same -i/-o/-s flags).
	FaceBinary string `json:"face_binary" yaml:"face_binary" toml:"face_binary"`
	GPUID      int    `json:"gpu_id" yaml:"gpu_id" toml:"gpu_id"`
}

// TransferConfig tunes the blob store client and transfer strategy.
type TransferConfig struct {
	Endpoint           string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	Region             string `json:"region" yaml:"region" toml:"region"`
	AccessKey          string `json:"access_key" yaml:"access_key" toml:"access_key"`
	SecretKey          string `json:"secret_key" yaml:"secret_key" toml:"secret_key"`
	UseSSL             *bool  `json:"use_ssl,omitempty" yaml:"use_ssl,omitempty" toml:"use_ssl,omitempty"`
	UseCompression     bool   `json:"use_compression" yaml:"use_compression" toml:"use_compression"`
	UseAcceleration    bool   `json:"use_acceleration" yaml:"use_acceleration" toml:"use_acceleration"`
	VerifyCache        bool   `json:"verify_cache" yaml:"verify_cache" toml:"verify_cache"`
	MaxRetries         int    `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	MaxPoolConnections int    `json:"max_pool_connections" yaml:"max_pool_connections" toml:"max_pool_connections"`
	MultipartThreshold int    `json:"multipart_threshold_mb" yaml:"multipart_threshold_mb" toml:"multipart_threshold_mb"`
	MultipartChunk     int    `json:"multipart_chunk_mb" yaml:"multipart_chunk_mb" toml:"multipart_chunk_mb"`
}

// AdmissionConfig tunes batch sizing.
type AdmissionConfig struct {
	PerItemMB        int     `json:"per_item_mb" yaml:"per_item_mb" toml:"per_item_mb"`
	SafetyMargin     float64 `json:"safety_margin" yaml:"safety_margin" toml:"safety_margin"`
	MaxBatch         int     `json:"max_batch" yaml:"max_batch" toml:"max_batch"`
	DefaultBatch     int     `json:"default_batch" yaml:"default_batch" toml:"default_batch"`
	ProbeIntervalSec int     `json:"probe_interval_sec" yaml:"probe_interval_sec" toml:"probe_interval_sec"`
}

// TilingConfig holds the automatic tiling thresholds.
type TilingConfig struct {
	AutoThresholdPx int `json:"auto_threshold_px" yaml:"auto_threshold_px" toml:"auto_threshold_px"`
	AutoTileSize    int `json:"auto_tile_size" yaml:"auto_tile_size" toml:"auto_tile_size"`
	TilePad         int `json:"tile_pad" yaml:"tile_pad" toml:"tile_pad"`
}

// CORSConfig is opt-in.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
