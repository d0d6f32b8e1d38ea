package admission

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	batchSizeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "upscaled",
		Subsystem: "admission",
		Name:      "batch_size",
		Help:      "Last computed safe batch size",
	})
	deviceFreeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "upscaled",
		Subsystem: "admission",
		Name:      "device_free_bytes",
		Help:      "Free accelerator memory at the last probe",
	})
	probeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "upscaled",
		Subsystem: "admission",
		Name:      "probe_errors_total",
		Help:      "Failed device probes",
	})
)

func init() {
	prometheus.MustRegister(batchSizeGauge, deviceFreeBytes, probeErrorsTotal)
}

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	Probe    Probe
	Policy   Policy
	Interval time.Duration
	Logger   zerolog.Logger
}

// Controller serves batch sizes from the latest device snapshot. Reads never
// block on the probe.
type Controller struct {
	probe    Probe
	policy   Policy
	interval time.Duration
	log      zerolog.Logger
	snap     atomic.Pointer[DeviceInfo]
}

func NewController(cfg ControllerConfig) *Controller {
	p := cfg.Probe
	if p == nil {
		p = CPUProbe{}
	}
	iv := cfg.Interval
	if iv <= 0 {
		iv = 10 * time.Second
	}
	return &Controller{probe: p, policy: cfg.Policy.withDefaults(), interval: iv, log: cfg.Logger}
}

// Refresh samples the probe once. On error the snapshot is marked invalid
// so sizing falls back to the default.
func (c *Controller) Refresh(ctx context.Context) error {
	info, err := c.probe.Probe(ctx)
	if err != nil {
		probeErrorsTotal.Inc()
		c.log.Warn().Err(err).Msg("device probe failed")
		info.Valid = false
	}
	c.snap.Store(&info)
	deviceFreeBytes.Set(float64(max(info.Free(), 0)))
	return err
}

// Run refreshes on every interval until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	_ = c.Refresh(ctx)
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = c.Refresh(ctx)
		}
	}
}

// Device returns the last snapshot (zero value before the first probe).
func (c *Controller) Device() DeviceInfo {
	if p := c.snap.Load(); p != nil {
		return *p
	}
	return DeviceInfo{}
}

// SafeBatchSize returns the batch size for the last snapshot.
func (c *Controller) SafeBatchSize() int {
	n := SafeBatchSize(c.Device(), c.policy)
	batchSizeGauge.Set(float64(n))
	return n
}

// Policy returns the effective policy.
func (c *Controller) Policy() Policy { return c.policy }
