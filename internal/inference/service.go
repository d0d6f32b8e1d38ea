package inference

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"upscaled/internal/admission"
	"upscaled/internal/blob"
	"upscaled/internal/dispatch"
	"upscaled/internal/enhance"
	"upscaled/internal/modelcache"
	"upscaled/internal/registry"
	"upscaled/pkg/types"
)

// State is the service lifecycle state.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Config wires a Service from already constructed components.
type Config struct {
	Registry  *registry.Registry
	Models    *modelcache.Cache
	Transfer  *blob.Transfer
	Admission *admission.Controller
	Engine    *enhance.Engine
	// ImageCacheDir holds enhanced outputs under out/<job>/<item>/.
	ImageCacheDir  string
	Device         string
	MaxConcurrency int
	// WarmupFamilies are resolved by Warmup; nil means every family with
	// weights in the registry.
	WarmupFamilies []types.ModelFamily
	Publisher      EventPublisher
	Logger         zerolog.Logger
}

// Service processes enhancement invocations.
type Service struct {
	mu      sync.RWMutex
	state   State
	lastErr string

	reg        *registry.Registry
	models     *modelcache.Cache
	transfer   *blob.Transfer
	admission  *admission.Controller
	engine     *enhance.Engine
	dispatcher *dispatch.Dispatcher
	events     EventPublisher
	log        zerolog.Logger

	outDir  string
	device  string
	warmups []types.ModelFamily

	inflight    atomic.Int64
	itemsOK     atomic.Uint64
	itemsFailed atomic.Uint64
	startTime   time.Time
}

// New validates cfg and builds a Service in the loading state.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Registry == nil:
		return nil, fmt.Errorf("inference: registry is required")
	case cfg.Models == nil:
		return nil, fmt.Errorf("inference: model cache is required")
	case cfg.Transfer == nil:
		return nil, fmt.Errorf("inference: transfer is required")
	case cfg.Engine == nil:
		return nil, fmt.Errorf("inference: engine is required")
	case cfg.ImageCacheDir == "":
		return nil, fmt.Errorf("inference: image cache dir is required")
	}
	adm := cfg.Admission
	if adm == nil {
		adm = admission.NewController(admission.ControllerConfig{Logger: cfg.Logger})
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	s := &Service{
		state:     StateLoading,
		reg:       cfg.Registry,
		models:    cfg.Models,
		transfer:  cfg.Transfer,
		admission: adm,
		engine:    cfg.Engine,
		events:    pub,
		log:       cfg.Logger,
		outDir:    cfg.ImageCacheDir,
		device:    cfg.Device,
		warmups:   cfg.WarmupFamilies,
		startTime: time.Now(),
	}
	s.dispatcher = dispatch.New(s.processItem, dispatch.Config{MaxConcurrency: cfg.MaxConcurrency, Logger: cfg.Logger})
	return s, nil
}

// Warmup resolves the configured families so the first request does not
// pay for model loads. Any failure puts the service in the error state and
// is returned.
func (s *Service) Warmup(ctx context.Context) error {
	families := s.warmups
	if families == nil {
		seen := map[types.ModelFamily]bool{}
		for _, m := range s.reg.Models() {
			if m.Family == types.FamilyVariant || seen[m.Family] {
				continue
			}
			seen[m.Family] = true
			families = append(families, m.Family)
		}
	}
	s.events.Publish(Event{Name: EventWarmupStart, Fields: map[string]any{"families": len(families)}})
	_ = s.admission.Refresh(ctx)
	for _, f := range families {
		key := s.reg.KeyFor(f, "")
		if _, err := s.models.Resolve(ctx, key); err != nil {
			s.setError(err)
			s.events.Publish(Event{Name: EventWarmupError, Fields: map[string]any{"family": string(f), "error": err.Error()}})
			return fmt.Errorf("warmup %s: %w", f, err)
		}
	}
	s.mu.Lock()
	s.state = StateReady
	s.mu.Unlock()
	s.events.Publish(Event{Name: EventWarmupDone})
	s.log.Info().Int("families", len(families)).Int("batch_size", s.admission.SafeBatchSize()).Msg("warmup complete")
	return nil
}

// Ready reports whether Warmup has completed successfully.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateReady
}

// ListModels returns the registry catalogue.
func (s *Service) ListModels() []types.Model { return s.reg.Models() }

// Close releases loaded models.
func (s *Service) Close() error { return s.models.Close() }

func (s *Service) setError(err error) {
	s.mu.Lock()
	s.state = StateError
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func (s *Service) noteError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}
