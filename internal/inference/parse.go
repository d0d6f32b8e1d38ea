package inference

import (
	"fmt"
	"strconv"
	"strings"

	"upscaled/pkg/types"
)

// DefaultBatchJobID is used when a batch carries no job_id.
const DefaultBatchJobID = "batch_job"

// parseFlag accepts yes/no/true/false/1/0 in any case; empty means false.
func parseFlag(field string, v types.FlexString) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(string(v))) {
	case "", "no", "false", "0":
		return false, nil
	case "yes", "true", "1":
		return true, nil
	default:
		return false, errValidation(fmt.Sprintf("%s: expected yes/no/true/false, got %q", field, string(v)))
	}
}

func parseItem(r types.InvocationRequest, jobID, itemID string) (types.EnhancementRequest, error) {
	req := types.EnhancementRequest{
		Source: strings.TrimSpace(r.InputFilePath),
		Dest:   strings.TrimSpace(r.OutputFilePath),
		JobID:  jobID,
		ItemID: itemID,
	}
	if r.Batch != nil {
		return req, errValidation("nested batch is not allowed")
	}
	if req.Source == "" {
		return req, errValidation("input_file_path is required")
	}
	face, err := parseFlag("face_enhanced", r.FaceEnhanced)
	if err != nil {
		return req, err
	}
	anime, err := parseFlag("is_anime", r.IsAnime)
	if err != nil {
		return req, err
	}
	if r.TileSize < 0 {
		return req, errValidation(fmt.Sprintf("tile_size must be >= 0, got %d", r.TileSize))
	}
	req.Options = types.Options{
		FaceEnhance:  face,
		Anime:        anime,
		TileSize:     r.TileSize,
		ModelVariant: strings.ToLower(strings.TrimSpace(r.ModelVariant)),
	}
	return req, nil
}

// ParseSingle converts a single-item invocation.
func ParseSingle(r types.InvocationRequest) (types.EnhancementRequest, error) {
	if r.IsBatch() {
		return types.EnhancementRequest{}, errValidation("expected a single item, got a batch")
	}
	return parseItem(r, r.JobID.String(), r.BatchID.String())
}

// ParseBatch converts a batch invocation. Items that fail validation are
// returned as Failed results in rejected; the rest form the batch. Item ids
// default to the item's index. Repeated ids are kept as given; each item
// still gets its own slot.
func ParseBatch(r types.InvocationRequest) (batch types.BatchRequest, rejected []types.EnhancementResult, err error) {
	if !r.IsBatch() {
		return batch, nil, errValidation("expected a batch")
	}
	batch.JobID = strings.TrimSpace(r.JobID.String())
	if batch.JobID == "" {
		batch.JobID = DefaultBatchJobID
	}
	for i, item := range r.Batch {
		itemID := strings.TrimSpace(item.BatchID.String())
		if itemID == "" {
			itemID = strconv.Itoa(i)
		}
		req, perr := parseItem(item, batch.JobID, itemID)
		req.Slot = strconv.Itoa(i)
		if perr != nil {
			rejected = append(rejected, types.Failed(req, types.KindInvalidRequest, perr.Error()))
			continue
		}
		batch.Items = append(batch.Items, req)
	}
	return batch, rejected, nil
}
