// Package admission decides how many images may be in flight at once given
// the accelerator's free memory.
package admission

const mib = 1 << 20

// DeviceKind is the accelerator class.
type DeviceKind string

const (
	DeviceCPU  DeviceKind = "cpu"
	DeviceCUDA DeviceKind = "cuda"
)

// DeviceInfo is a point-in-time memory snapshot. Valid is false when the
// probe could not produce an estimate.
type DeviceInfo struct {
	Kind       DeviceKind
	Name       string
	TotalBytes int64
	UsedBytes  int64
	FreeBytes  int64
	Valid      bool
}

// Free returns the free memory estimate, preferring the reported free
// figure over total minus used.
func (d DeviceInfo) Free() int64 {
	if d.FreeBytes > 0 {
		return d.FreeBytes
	}
	return d.TotalBytes - d.UsedBytes
}

// Policy holds the sizing constants.
type Policy struct {
	PerItemBytes int64
	SafetyMargin float64
	MaxBatch     int
	DefaultBatch int
}

const (
	DefaultPerItemBytes = 500 * mib
	DefaultSafetyMargin = 0.8
	DefaultMaxBatch     = 16
	DefaultDefaultBatch = 4
)

// DefaultPolicy returns the stock sizing constants.
func DefaultPolicy() Policy {
	return Policy{
		PerItemBytes: DefaultPerItemBytes,
		SafetyMargin: DefaultSafetyMargin,
		MaxBatch:     DefaultMaxBatch,
		DefaultBatch: DefaultDefaultBatch,
	}
}

func (p Policy) withDefaults() Policy {
	if p.PerItemBytes <= 0 {
		p.PerItemBytes = DefaultPerItemBytes
	}
	if p.SafetyMargin <= 0 || p.SafetyMargin > 1 {
		p.SafetyMargin = DefaultSafetyMargin
	}
	if p.MaxBatch <= 0 {
		p.MaxBatch = DefaultMaxBatch
	}
	if p.DefaultBatch <= 0 {
		p.DefaultBatch = DefaultDefaultBatch
	}
	if p.DefaultBatch > p.MaxBatch {
		p.DefaultBatch = p.MaxBatch
	}
	return p
}

// SafeBatchSize returns how many items may run concurrently. On an
// accelerator it is floor(free*margin/perItem) clamped to [1, MaxBatch];
// otherwise, or when the snapshot is unusable, DefaultBatch.
func SafeBatchSize(info DeviceInfo, p Policy) int {
	p = p.withDefaults()
	if info.Kind != DeviceCUDA || !info.Valid {
		return p.DefaultBatch
	}
	free := info.Free()
	if free < 0 {
		return p.DefaultBatch
	}
	n := int(float64(free) * p.SafetyMargin / float64(p.PerItemBytes))
	if n < 1 {
		return 1
	}
	if n > p.MaxBatch {
		return p.MaxBatch
	}
	return n
}
