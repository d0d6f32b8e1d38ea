package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upscaled/pkg/types"
)

func batchOf(n int) types.BatchRequest {
	b := types.BatchRequest{JobID: "job"}
	for i := 0; i < n; i++ {
		b.Items = append(b.Items, types.EnhancementRequest{JobID: "job", ItemID: strconv.Itoa(i), Source: fmt.Sprintf("in-%d.png", i)})
	}
	return b
}

func okWorker(_ context.Context, req types.EnhancementRequest) types.EnhancementResult {
	return types.EnhancementResult{Status: types.StatusOK, Dest: req.Source + ".out"}
}

func ids(results []types.EnhancementResult) map[string]int {
	m := map[string]int{}
	for _, r := range results {
		m[r.ItemID]++
	}
	return m
}

func TestRun_OneResultPerItem(t *testing.T) {
	work := func(ctx context.Context, req types.EnhancementRequest) types.EnhancementResult {
		n, _ := strconv.Atoi(req.ItemID)
		switch n % 3 {
		case 1:
			return types.Failed(req, types.KindDecode, "bad image")
		case 2:
			panic(errors.New("boom"))
		}
		return okWorker(ctx, req)
	}
	d := New(work, Config{MaxConcurrency: 4})
	for _, n := range []int{0, 1, 2, 7, 31} {
		for _, size := range []int{1, 3, 16} {
			res := d.Run(context.Background(), batchOf(n), size)
			require.Len(t, res, n, "n=%d size=%d", n, size)
			m := ids(res)
			for i := 0; i < n; i++ {
				assert.Equal(t, 1, m[strconv.Itoa(i)])
			}
			for _, r := range res {
				assert.Equal(t, "job", r.JobID)
				idx, _ := strconv.Atoi(r.ItemID)
				switch idx % 3 {
				case 0:
					assert.True(t, r.OK())
				case 1:
					assert.Equal(t, types.KindDecode, r.ErrorKind)
				case 2:
					assert.Equal(t, types.KindInternal, r.ErrorKind)
					assert.Contains(t, r.Message, "boom")
				}
			}
		}
	}
}

func TestRun_ConcurrencyBound(t *testing.T) {
	var cur, peak atomic.Int32
	work := func(ctx context.Context, req types.EnhancementRequest) types.EnhancementResult {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		cur.Add(-1)
		return okWorker(ctx, req)
	}
	New(work, Config{MaxConcurrency: 3}).Run(context.Background(), batchOf(20), 8)
	assert.LessOrEqual(t, peak.Load(), int32(3))

	peak.Store(0)
	New(work, Config{MaxConcurrency: 10}).Run(context.Background(), batchOf(20), 2)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_SubBatchesAreSequential(t *testing.T) {
	var mu sync.Mutex
	var order []string
	work := func(ctx context.Context, req types.EnhancementRequest) types.EnhancementResult {
		mu.Lock()
		order = append(order, req.ItemID)
		mu.Unlock()
		return okWorker(ctx, req)
	}
	New(work, Config{MaxConcurrency: 4}).Run(context.Background(), batchOf(6), 2)
	require.Len(t, order, 6)
	seen := map[string]int{}
	for pos, id := range order {
		seen[id] = pos
	}
	// every item of sub-batch k starts before any item of sub-batch k+1
	assert.Less(t, max(seen["0"], seen["1"]), min(seen["2"], seen["3"]))
	assert.Less(t, max(seen["2"], seen["3"]), min(seen["4"], seen["5"]))
}

func TestRun_CompletionOrder(t *testing.T) {
	work := func(ctx context.Context, req types.EnhancementRequest) types.EnhancementResult {
		if req.ItemID == "0" {
			time.Sleep(50 * time.Millisecond)
		}
		return okWorker(ctx, req)
	}
	res := New(work, Config{}).Run(context.Background(), batchOf(3), 3)
	require.Len(t, res, 3)
	assert.Equal(t, "0", res[2].ItemID)
}

func TestRun_SingleItemInline(t *testing.T) {
	var calls atomic.Int32
	work := func(ctx context.Context, req types.EnhancementRequest) types.EnhancementResult {
		calls.Add(1)
		return okWorker(ctx, req)
	}
	res := New(work, Config{}).Run(context.Background(), batchOf(1), 4)
	require.Len(t, res, 1)
	assert.True(t, res[0].OK())
	assert.EqualValues(t, 1, calls.Load())
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var started atomic.Int32
	work := func(ctx context.Context, req types.EnhancementRequest) types.EnhancementResult {
		if started.Add(1) == 2 {
			cancel()
		}
		return okWorker(ctx, req)
	}
	res := New(work, Config{MaxConcurrency: 1}).Run(ctx, batchOf(10), 3)
	require.Len(t, res, 10)
	var ok, canceledN int
	for _, r := range res {
		if r.OK() {
			ok++
		} else {
			assert.Equal(t, types.KindCanceled, r.ErrorKind)
			canceledN++
		}
	}
	assert.Equal(t, 10, ok+canceledN)
	assert.GreaterOrEqual(t, canceledN, 7)

	res = New(work, Config{}).Run(ctx, batchOf(1), 1)
	require.Len(t, res, 1)
	assert.Equal(t, types.KindCanceled, res[0].ErrorKind)
}

func TestRun_FailureDoesNotCancelSiblings(t *testing.T) {
	work := func(ctx context.Context, req types.EnhancementRequest) types.EnhancementResult {
		switch req.ItemID {
		case "0":
			panic("decoder exploded")
		case "1":
			return types.Failed(req, types.KindDecode, "bad header")
		}
		time.Sleep(10 * time.Millisecond)
		if ctx.Err() != nil {
			return types.Failed(req, types.KindCanceled, ctx.Err().Error())
		}
		return okWorker(ctx, req)
	}
	res := New(work, Config{MaxConcurrency: 2}).Run(context.Background(), batchOf(8), 8)
	require.Len(t, res, 8)
	ok := 0
	for _, r := range res {
		if r.OK() {
			ok++
		}
	}
	assert.Equal(t, 6, ok)
}

func TestRun_RepeatedItemIDs(t *testing.T) {
	b := batchOf(4)
	for i := range b.Items {
		b.Items[i].ItemID = "same"
		b.Items[i].Slot = strconv.Itoa(i)
	}
	var mu sync.Mutex
	slots := map[string]int{}
	work := func(ctx context.Context, req types.EnhancementRequest) types.EnhancementResult {
		mu.Lock()
		slots[req.Slot]++
		mu.Unlock()
		return okWorker(ctx, req)
	}
	res := New(work, Config{}).Run(context.Background(), b, 4)
	require.Len(t, res, 4)
	assert.Equal(t, map[string]int{"same": 4}, ids(res))
	assert.Equal(t, map[string]int{"0": 1, "1": 1, "2": 1, "3": 1}, slots)
}

func TestRun_MissingStatusIsFailed(t *testing.T) {
	work := func(context.Context, types.EnhancementRequest) types.EnhancementResult {
		return types.EnhancementResult{}
	}
	res := New(work, Config{}).Run(context.Background(), batchOf(2), 2)
	for _, r := range res {
		assert.Equal(t, types.StatusFailed, r.Status)
		assert.Equal(t, "in-"+r.ItemID+".png", r.Source)
	}
}
