package registry

import (
	"os"
	"path/filepath"
	"testing"

	"upscaled/pkg/types"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte(""), 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
}

func TestLoadDir_FiltersKnownWeights(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"RealESRGAN_x4plus.pth",
		"REALESR-ANIMEVIDEOV3.PTH", // case-insensitive
		"GFPGANv1.3.pth",
		"Swin2SR_ColorDN_DFWB_s128w8_PSNR.pth",
		"notes.txt",
		"other.pth",
	)
	if err := os.Mkdir(filepath.Join(dir, "RealESRGAN_x4plus.pth.d"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	reg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	models := reg.Models()
	if len(models) != 4 {
		t.Fatalf("expected 4 models, got %d: %+v", len(models), models)
	}
	for i := 1; i < len(models); i++ {
		if models[i-1].ID > models[i].ID {
			t.Fatalf("models not sorted by id: %+v", models)
		}
	}
	anime, ok := reg.Lookup(types.FamilyAnimeSR, "")
	if !ok || anime.Scale != 4 || filepath.Dir(anime.Path) != reg.Dir() {
		t.Fatalf("unexpected anime model: %+v ok=%v", anime, ok)
	}
	dn, ok := reg.Lookup(types.FamilyVariant, "color_dn")
	if !ok || dn.Scale != 1 {
		t.Fatalf("unexpected color_dn model: %+v ok=%v", dn, ok)
	}
	if _, ok := reg.Lookup(types.FamilyVariant, ""); ok {
		t.Fatalf("default variant real_sr is not on disk")
	}
}

func TestLoadDir_Missing(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestModelsReturnsCopy(t *testing.T) {
	reg := New(types.Model{ID: "a", Family: types.FamilyStandardSR}, types.Model{ID: "b", Family: types.FamilyAnimeSR})
	out := reg.Models()
	out[0].ID = "z"
	if reg.Models()[0].ID != "a" {
		t.Fatalf("registry mutated via returned slice")
	}
}

func TestKeyFor(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "RealESRGAN_x4plus.pth")
	reg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	k := reg.KeyFor(types.FamilyStandardSR, "")
	if k.Family != types.FamilyStandardSR || k.Path != filepath.Join(reg.Dir(), "RealESRGAN_x4plus.pth") {
		t.Fatalf("unexpected key: %+v", k)
	}
	// missing weights still produce a resolvable key pointing at the expected file
	f := reg.KeyFor(types.FamilyFaceEnhance, "")
	if f.Path != filepath.Join(reg.Dir(), "GFPGANv1.3.pth") {
		t.Fatalf("unexpected face key: %+v", f)
	}
	v := reg.KeyFor(types.FamilyVariant, "")
	if v.Variant != DefaultVariant {
		t.Fatalf("expected default variant, got %+v", v)
	}
}

func TestScaleForAndKnownVariant(t *testing.T) {
	if s := ScaleFor(types.ModelKey{Family: types.FamilyVariant, Variant: "jpeg_car"}); s != 1 {
		t.Fatalf("jpeg_car scale=%d", s)
	}
	if s := ScaleFor(types.ModelKey{Family: types.FamilyStandardSR, Path: "/m/RealESRGAN_x4plus.pth"}); s != 4 {
		t.Fatalf("standard scale=%d", s)
	}
	if s := ScaleFor(types.ModelKey{Family: "mystery"}); s != 4 {
		t.Fatalf("unknown scale=%d", s)
	}
	if !KnownVariant("lightweight_sr") || KnownVariant("turbo") {
		t.Fatalf("KnownVariant mismatch")
	}
}
