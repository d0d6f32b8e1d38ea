package types

import "time"

// ModelFamily identifies which kind of enhancement network a model is.
type ModelFamily string

const (
	FamilyStandardSR  ModelFamily = "standard_sr"
	FamilyAnimeSR     ModelFamily = "anime_sr"
	FamilyFaceEnhance ModelFamily = "face_enhance"
	// FamilyVariant covers named restoration variants (e.g. real_sr, color_dn).
	FamilyVariant ModelFamily = "variant"
)

// Known reports whether f is one of the recognised families.
func (f ModelFamily) Known() bool {
	switch f {
	case FamilyStandardSR, FamilyAnimeSR, FamilyFaceEnhance, FamilyVariant:
		return true
	}
	return false
}

// ModelKey uniquely identifies a loadable model. Variant is only set for
// FamilyVariant keys.
type ModelKey struct {
	Family  ModelFamily
	Variant string
	Path    string
}

// Name is a filesystem-safe label for the key.
func (k ModelKey) Name() string {
	if k.Variant != "" {
		return string(k.Family) + "-" + k.Variant
	}
	return string(k.Family)
}

func (k ModelKey) String() string { return k.Name() + "@" + k.Path }

// Model represents a weight file discovered on disk.
type Model struct {
	// Stable identifier for the model.
	// example: realesrgan_x4plus
	ID string `json:"id" example:"realesrgan_x4plus"`
	// Weight file name.
	// example: RealESRGAN_x4plus.pth
	Name string `json:"name" example:"RealESRGAN_x4plus.pth"`
	// Absolute path to the weight file on disk.
	// example: /opt/ml/model/RealESRGAN_x4plus.pth
	Path string `json:"path" example:"/opt/ml/model/RealESRGAN_x4plus.pth"`
	// Model family.
	// example: standard_sr
	Family ModelFamily `json:"family" example:"standard_sr"`
	// Variant name for variant-family models.
	// example: real_sr
	Variant string `json:"variant,omitempty" example:"real_sr"`
	// Output scale factor.
	// example: 4
	Scale int `json:"scale" example:"4"`
	// Human-friendly description.
	Description string `json:"description,omitempty"`
}

// Key returns the cache key for the model.
func (m Model) Key() ModelKey {
	return ModelKey{Family: m.Family, Variant: m.Variant, Path: m.Path}
}

// Options are the typed per-item enhancement switches.
type Options struct {
	FaceEnhance  bool
	Anime        bool
	TileSize     int // 0 = automatic
	ModelVariant string
}

// EnhancementRequest is one unit of work. JobID and ItemID are echoed back
// to the caller and need not be unique; Slot is the item's position within
// its batch and is empty for single requests.
type EnhancementRequest struct {
	Source  string
	Dest    string
	JobID   string
	ItemID  string
	Slot    string
	Options Options
}

// BatchRequest is an ordered set of requests sharing a job id.
type BatchRequest struct {
	JobID string
	Items []EnhancementRequest
}

// ResultStatus is the terminal outcome of an item.
type ResultStatus string

const (
	StatusOK     ResultStatus = "ok"
	StatusFailed ResultStatus = "failed"
)

// ErrorKind classifies a failed item.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindModelLoad         ErrorKind = "model_load"
	KindUnsupportedModel  ErrorKind = "unsupported_model"
	KindTransfer          ErrorKind = "transfer"
	KindDecode            ErrorKind = "decode"
	KindInference         ErrorKind = "inference"
	KindResourceExhausted ErrorKind = "resource_exhausted"
	KindEncode            ErrorKind = "encode"
	KindCanceled          ErrorKind = "canceled"
	KindInternal          ErrorKind = "internal"
)

// EnhancementResult is produced exactly once per EnhancementRequest.
type EnhancementResult struct {
	JobID     string
	ItemID    string
	Source    string
	Status    ResultStatus
	Dest      string
	ErrorKind ErrorKind
	Message   string
	Width     int
	Height    int
	TileSize  int
	Duration  time.Duration
}

// OK reports whether the item succeeded.
func (r EnhancementResult) OK() bool { return r.Status == StatusOK }

// Failed builds a failed result for req.
func Failed(req EnhancementRequest, kind ErrorKind, msg string) EnhancementResult {
	return EnhancementResult{
		JobID:     req.JobID,
		ItemID:    req.ItemID,
		Source:    req.Source,
		Status:    StatusFailed,
		ErrorKind: kind,
		Message:   msg,
	}
}
