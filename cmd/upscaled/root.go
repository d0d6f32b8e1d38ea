package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"upscaled/internal/config"
)

// options carries the persistent flags shared by all subcommands.
type options struct {
	configPath string
	envFiles   []string

	addr           string
	modelsDir      string
	imageCacheDir  string
	device         string
	runtime        string
	runtimeBinary  string
	logLevel       string
	logFormat      string
	maxConcurrency int
	corsOrigins    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "upscaled",
		Short:         "Image upscaling inference server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bindFlags(root.PersistentFlags(), opts)
	root.AddCommand(newServeCmd(opts), newEnhanceCmd(opts), newVersionCmd())
	return root
}

func bindFlags(pf *pflag.FlagSet, opts *options) {
	pf.StringVarP(&opts.configPath, "config", "c", "", "Config file (.yaml, .yml, .json, .toml)")
	pf.StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load (default .env)")
	pf.StringVar(&opts.addr, "addr", "", "HTTP listen address (default "+config.DefaultAddr+")")
	pf.StringVar(&opts.modelsDir, "models-dir", "", "Directory holding the weight files")
	pf.StringVar(&opts.imageCacheDir, "image-cache-dir", "", "Local cache for downloaded and produced images")
	pf.StringVar(&opts.device, "device", "", "Accelerator policy: auto|cpu|cuda")
	pf.StringVar(&opts.runtime, "runtime", "", "Enhancer runtime: resample|ncnn")
	pf.StringVar(&opts.runtimeBinary, "runtime-binary", "", "Executable for the ncnn runtime")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: json|console")
	pf.IntVar(&opts.maxConcurrency, "max-concurrency", 0, "Workers per sub-batch and parallel transfer parts")
	pf.StringVar(&opts.corsOrigins, "cors-origins", "", "Comma-separated allowed origins; enables CORS")
}

// loadConfig layers defaults, the config file, dotenv/environment and
// explicitly set flags, in that order.
func loadConfig(flags *pflag.FlagSet, opts *options) (config.Config, error) {
	var cfg config.Config
	if opts.configPath != "" {
		c, err := config.Load(opts.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	config.LoadDotEnv(opts.envFiles...)
	config.ApplyEnv(&cfg)

	str := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	str("addr", &cfg.Addr, opts.addr)
	str("models-dir", &cfg.ModelsDir, opts.modelsDir)
	str("image-cache-dir", &cfg.ImageCacheDir, opts.imageCacheDir)
	str("device", &cfg.Device, opts.device)
	str("runtime", &cfg.Runtime.Kind, opts.runtime)
	str("runtime-binary", &cfg.Runtime.Binary, opts.runtimeBinary)
	str("log-level", &cfg.LogLevel, opts.logLevel)
	str("log-format", &cfg.LogFormat, opts.logFormat)
	if flags.Changed("max-concurrency") {
		cfg.MaxConcurrency = opts.maxConcurrency
	}
	if flags.Changed("cors-origins") {
		cfg.CORS.Enabled = true
		cfg.CORS.Origins = splitCSV(opts.corsOrigins)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newLogger builds the root logger. Unknown levels fall back to info.
func newLogger(level, format string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "upscaled").Logger()
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "upscaled", version)
		},
	}
}
