// Package dispatch fans a batch out to a bounded worker pool and collects
// exactly one result per item.
package dispatch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"upscaled/pkg/types"
)

// DefaultMaxConcurrency bounds workers per sub-batch.
const DefaultMaxConcurrency = 10

// Worker processes one item. It must not return without a result; the
// dispatcher recovers panics into Failed results.
type Worker func(ctx context.Context, req types.EnhancementRequest) types.EnhancementResult

// Config tunes the pool.
type Config struct {
	MaxConcurrency int
	Logger         zerolog.Logger
}

// Dispatcher runs batches through a Worker.
type Dispatcher struct {
	work    Worker
	maxConc int
	log     zerolog.Logger
}

func New(work Worker, cfg Config) *Dispatcher {
	n := cfg.MaxConcurrency
	if n <= 0 {
		n = DefaultMaxConcurrency
	}
	return &Dispatcher{work: work, maxConc: n, log: cfg.Logger}
}

// Run processes batch in sequential sub-batches of subBatchSize. Within a
// sub-batch items run concurrently and results are appended in completion
// order. A single item runs on the calling goroutine. Items not started when
// ctx is done come back as Failed with KindCanceled.
func (d *Dispatcher) Run(ctx context.Context, batch types.BatchRequest, subBatchSize int) []types.EnhancementResult {
	items := batch.Items
	switch len(items) {
	case 0:
		return nil
	case 1:
		if err := ctx.Err(); err != nil {
			return []types.EnhancementResult{canceled(items[0], err)}
		}
		return []types.EnhancementResult{d.safe(ctx, items[0])}
	}
	if subBatchSize < 1 {
		subBatchSize = 1
	}

	out := make([]types.EnhancementResult, 0, len(items))
	for start := 0; start < len(items); start += subBatchSize {
		sub := items[start:min(start+subBatchSize, len(items))]
		if err := ctx.Err(); err != nil {
			for _, req := range sub {
				out = append(out, canceled(req, err))
			}
			continue
		}
		d.log.Debug().Str("job_id", batch.JobID).Int("offset", start).Int("size", len(sub)).Msg("sub-batch")
		out = append(out, d.runSub(ctx, sub)...)
	}
	return out
}

// runSub fans sub out on an errgroup capped at maxConc. Workers always
// return nil so a failed item never cancels its siblings; every outcome
// travels on results instead.
func (d *Dispatcher) runSub(ctx context.Context, sub []types.EnhancementRequest) []types.EnhancementResult {
	results := make(chan types.EnhancementResult, len(sub))

	var g errgroup.Group
	g.SetLimit(min(len(sub), d.maxConc))
	for i, req := range sub {
		if err := ctx.Err(); err != nil {
			for _, rest := range sub[i:] {
				results <- canceled(rest, err)
			}
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results <- canceled(req, err)
				return nil
			}
			results <- d.safe(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	out := make([]types.EnhancementResult, 0, len(sub))
	for res := range results {
		out = append(out, res)
	}
	return out
}

// safe runs the worker, converting a panic into a Failed result and pinning
// the result identity to the request.
func (d *Dispatcher) safe(ctx context.Context, req types.EnhancementRequest) (res types.EnhancementResult) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("job_id", req.JobID).Str("item_id", req.ItemID).Msg("worker panic")
			res = types.Failed(req, types.KindInternal, fmt.Sprintf("panic: %v", r))
		}
	}()
	res = d.work(ctx, req)
	res.JobID, res.ItemID = req.JobID, req.ItemID
	if res.Source == "" {
		res.Source = req.Source
	}
	if res.Status == "" {
		res.Status = types.StatusFailed
		res.ErrorKind = types.KindInternal
		res.Message = "worker returned no status"
	}
	return res
}

func canceled(req types.EnhancementRequest, err error) types.EnhancementResult {
	return types.Failed(req, types.KindCanceled, err.Error())
}
