package inference

import (
	"time"

	"upscaled/internal/admission"
	"upscaled/pkg/types"
)

// Status builds a detailed status response for /status.
func (s *Service) Status() types.StatusResponse {
	s.mu.RLock()
	state, lastErr := s.state, s.lastErr
	s.mu.RUnlock()

	dev := s.admission.Device()
	resp := types.StatusResponse{
		State:          string(state),
		Device:         s.device,
		Accelerator:    dev.Kind == admission.DeviceCUDA && dev.Valid,
		TotalMB:        dev.TotalBytes >> 20,
		FreeMB:         max(dev.Free(), 0) >> 20,
		BatchSize:      s.admission.SafeBatchSize(),
		Inflight:       s.inflight.Load(),
		ItemsOK:        s.itemsOK.Load(),
		ItemsFailed:    s.itemsFailed.Load(),
		LoadsTotal:     uint64(s.models.Loads()),
		LastError:      lastErr,
		UptimeSeconds:  int64(time.Since(s.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	loaded := s.models.Loaded()
	resp.Models = make([]types.LoadedModel, 0, len(loaded))
	for _, h := range loaded {
		resp.Models = append(resp.Models, types.LoadedModel{
			Name:   h.Key.Name(),
			Path:   h.Key.Path,
			Scale:  h.Scale,
			LoadMS: h.LoadDuration.Milliseconds(),
		})
	}
	return resp
}
