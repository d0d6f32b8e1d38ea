package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"upscaled/internal/registry"
	"upscaled/pkg/types"
)

// NCNNLoader runs models through an external realesrgan-ncnn-vulkan
// compatible executable. Weights are addressed by directory (-m) and model
// name (-n), both derived from the key path.
type NCNNLoader struct {
	binary     string
	faceBinary string
	gpuID      int
	log        zerolog.Logger
}

func NewNCNNLoader(cfg Config) (*NCNNLoader, error) {
	if strings.TrimSpace(cfg.Binary) == "" {
		return nil, fmt.Errorf("ncnn runtime: binary is required")
	}
	return &NCNNLoader{binary: cfg.Binary, faceBinary: cfg.FaceBinary, gpuID: cfg.GPUID, log: cfg.Logger}, nil
}

func (l *NCNNLoader) Load(ctx context.Context, key types.ModelKey) (Enhancer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bin := l.binary
	if key.Family == types.FamilyFaceEnhance {
		if l.faceBinary == "" {
			return nil, fmt.Errorf("ncnn runtime: no face binary configured")
		}
		bin = l.faceBinary
	}
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("ncnn runtime: %w", err)
	}
	if err := checkWeights(key.Path); err != nil {
		return nil, err
	}
	return &ncnnModel{
		binary:   resolved,
		modelDir: filepath.Dir(key.Path),
		name:     strings.TrimSuffix(filepath.Base(key.Path), filepath.Ext(key.Path)),
		scale:    registry.ScaleFor(key),
		gpuID:    l.gpuID,
		log:      l.log,
	}, nil
}

type ncnnModel struct {
	binary   string
	modelDir string
	name     string
	scale    int
	gpuID    int
	log      zerolog.Logger
}

func (m *ncnnModel) Scale() int { return m.scale }

func (m *ncnnModel) Enhance(ctx context.Context, img image.Image) (image.Image, error) {
	dir, err := os.MkdirTemp("", "upscaled-ncnn-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.png")
	out := filepath.Join(dir, "out.png")
	if err := writePNG(in, img); err != nil {
		return nil, err
	}

	args := []string{
		"-i", in,
		"-o", out,
		"-s", strconv.Itoa(m.scale),
		"-m", m.modelDir,
		"-n", m.name,
		"-g", strconv.Itoa(m.gpuID),
		"-t", "0",
	}
	cmd := exec.CommandContext(ctx, m.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		m.log.Warn().Err(err).Str("model", m.name).Str("stderr", msg).Msg("ncnn run failed")
		if isOOM(msg) {
			return nil, fmt.Errorf("%s: %w: %s", m.name, ErrResourceExhausted, msg)
		}
		return nil, fmt.Errorf("%s: %w: %s", m.name, err, msg)
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("%s: no output: %w", m.name, err)
	}
	defer f.Close()
	res, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: read output: %w", m.name, err)
	}
	return res, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func isOOM(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "out of memory") || strings.Contains(m, "vkallocatememory failed")
}

// IsResourceExhausted reports whether err signals memory exhaustion.
func IsResourceExhausted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrResourceExhausted) || isOOM(err.Error())
}
