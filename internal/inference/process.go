package inference

import (
	"context"
	"net/http"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"upscaled/internal/enhance"
	"upscaled/internal/registry"
	"upscaled/pkg/types"
)

// resolveModels loads only the model the options select.
func (s *Service) resolveModels(ctx context.Context, opts types.Options) (enhance.ModelSet, error) {
	var set enhance.ModelSet
	switch {
	case opts.FaceEnhance:
		h, err := s.models.Resolve(ctx, s.reg.KeyFor(types.FamilyFaceEnhance, ""))
		if err != nil {
			return set, err
		}
		set.Face = h
	case opts.Anime:
		h, err := s.models.Resolve(ctx, s.reg.KeyFor(types.FamilyAnimeSR, ""))
		if err != nil {
			return set, err
		}
		set.Anime = h
	default:
		key := s.reg.KeyFor(types.FamilyStandardSR, "")
		if v := opts.ModelVariant; v != "" {
			if registry.KnownVariant(v) {
				key = s.reg.KeyFor(types.FamilyVariant, v)
			} else {
				s.log.Warn().Str("model_variant", v).Msg("unknown model variant, using standard model")
			}
		}
		h, err := s.models.Resolve(ctx, key)
		if err != nil {
			return set, err
		}
		set.Standard = h
	}
	return set, nil
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func pathSegment(s, def string) string {
	s = unsafeSegment.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return def
	}
	return s
}

// outputPath is where the enhanced image is written locally:
// <cache>/out/<job>/<item>/<name>_upscaled<ext>. Batch items prefix <item>
// with their slot so repeated item ids never share a directory. The
// extension follows the destination, falling back to the source and then
// to .png.
func (s *Service) outputPath(req types.EnhancementRequest, local string) string {
	base := filepath.Base(local)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	ext := ""
	if req.Dest != "" {
		ext = path.Ext(req.Dest)
	}
	if ext == "" {
		ext = filepath.Ext(base)
		if !enhance.SupportedOutput(base) {
			ext = ".png"
		}
	}
	item := pathSegment(req.ItemID, "0")
	if req.Slot != "" {
		item = req.Slot + "_" + item
	}
	return filepath.Join(s.outDir, "out", pathSegment(req.JobID, "default"), item, name+"_upscaled"+ext)
}

// processItem is the per-item pipeline: resolve, fetch, enhance, store.
func (s *Service) processItem(ctx context.Context, req types.EnhancementRequest) types.EnhancementResult {
	start := time.Now()
	s.inflight.Add(1)
	itemsInflight.Inc()
	defer func() {
		s.inflight.Add(-1)
		itemsInflight.Dec()
	}()

	res := s.runItem(ctx, req)
	res.Duration = time.Since(start)
	s.record(ctx, res)
	return res
}

func (s *Service) runItem(ctx context.Context, req types.EnhancementRequest) types.EnhancementResult {
	log := s.log.With().Str("job_id", req.JobID).Str("item_id", req.ItemID).Logger()

	models, err := s.resolveModels(ctx, req.Options)
	if err != nil {
		return s.fail(ctx, req, err)
	}
	local, err := s.transfer.Fetch(ctx, req.Source)
	if err != nil {
		return s.fail(ctx, req, err)
	}
	out := s.outputPath(req, local)
	info, err := s.engine.EnhanceFile(ctx, local, out, models, req.Options)
	if err != nil {
		return s.fail(ctx, req, err)
	}
	dest := req.Dest
	if dest == "" {
		dest = out
	}
	final, err := s.transfer.Store(ctx, out, dest)
	if err != nil {
		return s.fail(ctx, req, err)
	}
	log.Info().Str("src", req.Source).Str("dest", final).Str("model", info.Model).
		Int("width", info.Width).Int("height", info.Height).Int("tiles", info.Tiles).Msg("enhanced")
	return types.EnhancementResult{
		JobID:    req.JobID,
		ItemID:   req.ItemID,
		Source:   req.Source,
		Status:   types.StatusOK,
		Dest:     final,
		Width:    info.Width,
		Height:   info.Height,
		TileSize: info.TileSize,
	}
}

func (s *Service) fail(ctx context.Context, req types.EnhancementRequest, err error) types.EnhancementResult {
	kind := kindOf(err)
	if ctx.Err() != nil {
		kind = types.KindCanceled
	}
	s.noteError(err)
	s.log.Warn().Err(err).Str("job_id", req.JobID).Str("item_id", req.ItemID).Str("kind", string(kind)).Msg("item failed")
	return types.Failed(req, kind, err.Error())
}

func (s *Service) record(_ context.Context, res types.EnhancementResult) {
	status := string(res.Status)
	if res.OK() {
		s.itemsOK.Add(1)
	} else {
		s.itemsFailed.Add(1)
	}
	itemsTotal.WithLabelValues(status, string(res.ErrorKind)).Inc()
	itemDuration.WithLabelValues(status).Observe(res.Duration.Seconds())
	s.events.Publish(Event{Name: EventItemDone, JobID: res.JobID, ItemID: res.ItemID, Fields: map[string]any{
		"status": status,
		"kind":   string(res.ErrorKind),
	}})
}

// ProcessSingle runs one item on the calling goroutine.
func (s *Service) ProcessSingle(ctx context.Context, req types.EnhancementRequest) types.EnhancementResult {
	return s.dispatcher.Run(ctx, types.BatchRequest{JobID: req.JobID, Items: []types.EnhancementRequest{req}}, 1)[0]
}

// ProcessBatch runs a batch in sub-batches sized by admission and returns
// one result per item in completion order.
func (s *Service) ProcessBatch(ctx context.Context, batch types.BatchRequest) []types.EnhancementResult {
	size := s.admission.SafeBatchSize()
	batchItems.Observe(float64(len(batch.Items)))
	s.events.Publish(Event{Name: EventBatchStart, JobID: batch.JobID, Fields: map[string]any{"items": len(batch.Items), "batch_size": size}})
	s.log.Info().Str("job_id", batch.JobID).Int("items", len(batch.Items)).Int("batch_size", size).Msg("processing batch")

	results := s.dispatcher.Run(ctx, batch, size)

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	s.events.Publish(Event{Name: EventBatchDone, JobID: batch.JobID, Fields: map[string]any{"items": len(results), "failed": failed}})
	return results
}

// Reply is the outcome of Invoke: the HTTP status and the JSON body
// (*types.ItemResponse or *types.BatchResponse).
type Reply struct {
	Status int
	Body   any
}

// Invoke validates and runs an invocation. The error is non-nil only for
// requests rejected as a whole (ValidationError); item failures are part of
// the reply.
func (s *Service) Invoke(ctx context.Context, req types.InvocationRequest) (Reply, error) {
	if !req.IsBatch() {
		item, err := ParseSingle(req)
		if err != nil {
			return Reply{}, err
		}
		res := s.ProcessSingle(ctx, item)
		body := itemResponse(res, false)
		return Reply{Status: body.Status, Body: &body}, nil
	}

	batch, rejected, err := ParseBatch(req)
	if err != nil {
		return Reply{}, err
	}
	results := s.ProcessBatch(ctx, batch)
	results = append(results, rejected...)
	for _, r := range rejected {
		s.record(ctx, r)
	}
	body := types.BatchResponse{
		Status:         http.StatusOK,
		JobID:          batch.JobID,
		TotalProcessed: len(results),
		BatchResults:   make([]types.ItemResponse, 0, len(results)),
	}
	for _, r := range results {
		body.BatchResults = append(body.BatchResults, itemResponse(r, true))
	}
	return Reply{Status: http.StatusOK, Body: &body}, nil
}

func itemResponse(r types.EnhancementResult, inBatch bool) types.ItemResponse {
	out := types.ItemResponse{JobID: r.JobID, BatchID: r.ItemID}
	if r.OK() {
		out.Status = http.StatusOK
		out.OutputFilePath = r.Dest
		return out
	}
	out.Status = http.StatusInternalServerError
	out.Error = r.Message
	out.ErrorKind = string(r.ErrorKind)
	if inBatch {
		out.InputFilePath = r.Source
	}
	return out
}
