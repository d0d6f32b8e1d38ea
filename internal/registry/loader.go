package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"upscaled/internal/common/fsutil"
	"upscaled/pkg/types"
)

// DefaultVariant is used when a variant-family request names no variant.
const DefaultVariant = "real_sr"

// weightSpec describes a weight file this server knows how to serve.
type weightSpec struct {
	file        string
	id          string
	family      types.ModelFamily
	variant     string
	scale       int
	description string
}

var knownWeights = []weightSpec{
	{file: "RealESRGAN_x4plus.pth", id: "realesrgan_x4plus", family: types.FamilyStandardSR, scale: 4, description: "General-purpose super-resolution (4x)"},
	{file: "realesr-animevideov3.pth", id: "realesrgan_anime", family: types.FamilyAnimeSR, scale: 4, description: "Anime/video super-resolution (4x)"},
	{file: "GFPGANv1.3.pth", id: "gfpgan_v1.3", family: types.FamilyFaceEnhance, scale: 4, description: "Face restoration with background upscaling (4x)"},
	{file: "Swin2SR_RealworldSR_X4_64_BSRGAN_PSNR.pth", id: "swin2sr_real_sr", family: types.FamilyVariant, variant: "real_sr", scale: 4, description: "Real-world image super-resolution (4x)"},
	{file: "Swin2SR_ClassicalSR_X4_64_PSNR.pth", id: "swin2sr_classical_sr", family: types.FamilyVariant, variant: "classical_sr", scale: 4, description: "Classical image super-resolution (4x)"},
	{file: "Swin2SR_Lightweight_X4_64_PSNR.pth", id: "swin2sr_lightweight_sr", family: types.FamilyVariant, variant: "lightweight_sr", scale: 4, description: "Lightweight image super-resolution (4x)"},
	{file: "Swin2SR_ColorDN_DFWB_s128w8_PSNR.pth", id: "swin2sr_color_dn", family: types.FamilyVariant, variant: "color_dn", scale: 1, description: "Color image denoising"},
	{file: "Swin2SR_ColorJPEG_s126w7_PSNR.pth", id: "swin2sr_jpeg_car", family: types.FamilyVariant, variant: "jpeg_car", scale: 1, description: "JPEG compression artifact reduction"},
}

func specByFile(name string) (weightSpec, bool) {
	for _, spec := range knownWeights {
		if strings.EqualFold(spec.file, name) {
			return spec, true
		}
	}
	return weightSpec{}, false
}

func specByKey(family types.ModelFamily, variant string) (weightSpec, bool) {
	for _, spec := range knownWeights {
		if spec.family == family && spec.variant == variant {
			return spec, true
		}
	}
	return weightSpec{}, false
}

// Registry is the catalogue of weight files found on disk.
type Registry struct {
	dir    string
	models []types.Model
}

// LoadDir scans dir for known weight files and builds a Registry.
// Unrecognised files are ignored.
func LoadDir(dir string) (*Registry, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		spec, ok := specByFile(e.Name())
		if !ok {
			continue
		}
		models = append(models, types.Model{
			ID:          spec.id,
			Name:        e.Name(),
			Path:        filepath.Join(abs, e.Name()),
			Family:      spec.family,
			Variant:     spec.variant,
			Scale:       spec.scale,
			Description: spec.description,
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return &Registry{dir: abs, models: models}, nil
}

// New builds a Registry from an explicit model list (tests, embedding).
func New(models ...types.Model) *Registry {
	out := make([]types.Model, len(models))
	copy(out, models)
	return &Registry{models: out}
}

// Dir returns the scanned directory, if any.
func (r *Registry) Dir() string { return r.dir }

// Models returns a copy of the catalogue.
func (r *Registry) Models() []types.Model {
	out := make([]types.Model, len(r.models))
	copy(out, r.models)
	return out
}

// Lookup finds the model for family (and variant, for FamilyVariant).
func (r *Registry) Lookup(family types.ModelFamily, variant string) (types.Model, bool) {
	if family == types.FamilyVariant && variant == "" {
		variant = DefaultVariant
	}
	for _, m := range r.models {
		if m.Family != family {
			continue
		}
		if family == types.FamilyVariant && m.Variant != variant {
			continue
		}
		return m, true
	}
	return types.Model{}, false
}

// KeyFor returns the cache key for family/variant. When no weights were
// found the key still carries the family so callers get a proper load error
// for the missing path instead of a silent fallback.
func (r *Registry) KeyFor(family types.ModelFamily, variant string) types.ModelKey {
	if m, ok := r.Lookup(family, variant); ok {
		return m.Key()
	}
	key := types.ModelKey{Family: family}
	if family == types.FamilyVariant {
		if variant == "" {
			variant = DefaultVariant
		}
		key.Variant = variant
	}
	if spec, ok := specByKey(family, key.Variant); ok && r.dir != "" {
		key.Path = filepath.Join(r.dir, spec.file)
	}
	return key
}

// ScaleFor returns the known output scale for key (4 when unknown).
func ScaleFor(key types.ModelKey) int {
	if spec, ok := specByFile(filepath.Base(key.Path)); ok {
		return spec.scale
	}
	if spec, ok := specByKey(key.Family, key.Variant); ok {
		return spec.scale
	}
	return 4
}

// KnownVariant reports whether name is a recognised restoration variant.
func KnownVariant(name string) bool {
	_, ok := specByKey(types.FamilyVariant, name)
	return ok
}
