package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// without overriding variables already present in the environment.
// Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	str := func(key string, p *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*p = v
		}
	}
	num := func(key string, p *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*p = n
			}
		}
	}
	flag := func(key string, p *bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*p = parseBool(v)
		}
	}

	str("UPSCALED_ADDR", &cfg.Addr)
	str("UPSCALED_MODELS_DIR", &cfg.ModelsDir)
	str("UPSCALED_MODEL_CACHE_DIR", &cfg.ModelCacheDir)
	str("UPSCALED_IMAGE_CACHE_DIR", &cfg.ImageCacheDir)
	str("UPSCALED_DEVICE", &cfg.Device)
	str("UPSCALED_LOG_LEVEL", &cfg.LogLevel)
	str("UPSCALED_RUNTIME", &cfg.Runtime.Kind)
	str("UPSCALED_RUNTIME_BINARY", &cfg.Runtime.Binary)
	num("UPSCALED_MAX_CONCURRENCY", &cfg.MaxConcurrency)

	flag("USE_COMPRESSION", &cfg.Transfer.UseCompression)
	flag("USE_S3_ACCELERATION", &cfg.Transfer.UseAcceleration)
	str("AWS_REGION", &cfg.Transfer.Region)
	str("S3_ENDPOINT", &cfg.Transfer.Endpoint)
	str("AWS_ACCESS_KEY_ID", &cfg.Transfer.AccessKey)
	str("AWS_SECRET_ACCESS_KEY", &cfg.Transfer.SecretKey)
	num("S3_MAX_RETRIES", &cfg.Transfer.MaxRetries)
	num("S3_MAX_POOL_CONNECTIONS", &cfg.Transfer.MaxPoolConnections)
	if v := strings.TrimSpace(os.Getenv("S3_USE_SSL")); v != "" {
		b := parseBool(v)
		cfg.Transfer.UseSSL = &b
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
