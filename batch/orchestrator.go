// Package batch runs many requests through the pipeline with bounded
// parallelism. Items are isolated: one failure becomes one failed
// result, never an aborted batch.
package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"claude-gateway/logger"
	"claude-gateway/metrics"
	"claude-gateway/types"
)

// Item is one batch entry. Index is the caller's position for
// reassembly. A nil Request marks an item that failed structural
// decoding upstream; it fails validation without touching the pipeline.
type Item struct {
	Index   int
	Request *types.CanonicalRequest
}

// Result is the outcome of one item. Exactly one of Response and Err is
// set. Err is always a BatchItemError carrying the item index.
type Result struct {
	Index    int
	Success  bool
	Response *types.CanonicalResponse
	Err      error
}

// Options tunes one batch run.
type Options struct {
	// MaxConcurrency caps the number of items in flight.
	MaxConcurrency int

	// StreamingThreshold is the item count above which results are
	// delivered through OnChunk instead of accumulating in the
	// summary, keeping memory proportional to ChunkSize.
	StreamingThreshold int

	// ChunkSize is the delivery unit for chunked mode.
	ChunkSize int

	// OnChunk receives completed results in chunked mode, in
	// completion order. Chunked delivery only happens when OnChunk is
	// set and the item count exceeds StreamingThreshold.
	OnChunk func(results []Result)
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 4
	}
	if o.StreamingThreshold <= 0 {
		o.StreamingThreshold = 100
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 20
	}
	return o
}

// Summary aggregates one batch run. Results is ordered by item index
// and empty in chunked mode, where results went out through OnChunk.
type Summary struct {
	BatchID        string
	TotalItems     int
	SuccessCount   int
	FailureCount   int
	SuccessRate    float64
	CompletionTime time.Duration
	Results        []Result
}

// PipelineFunc executes one request. The orchestrator treats the
// returned error as that item's failure.
type PipelineFunc func(ctx context.Context, req *types.CanonicalRequest) (*types.CanonicalResponse, error)

// Orchestrator fans batch items out over the pipeline.
type Orchestrator struct {
	run  PipelineFunc
	log  logger.Logger
	mets *metrics.Metrics
	obs  *logger.ObservabilityLogger
}

// New creates an orchestrator around a pipeline function.
func New(run PipelineFunc, log logger.Logger, mets *metrics.Metrics) *Orchestrator {
	if log == nil {
		log = logger.NewNop()
	}
	if mets == nil {
		mets = metrics.New(nil)
	}
	return &Orchestrator{run: run, log: log, mets: mets}
}

// SetObservabilityLogger wires structured logging for batch lifecycle
// events.
func (o *Orchestrator) SetObservabilityLogger(obs *logger.ObservabilityLogger) {
	o.obs = obs
}

// Run executes all items and returns the aggregate summary. A counting
// semaphore bounds parallelism. Canceling ctx stops new dispatches;
// items already running finish and the undispatched rest fail with the
// cancellation cause, so the summary always accounts for every item.
func (o *Orchestrator) Run(ctx context.Context, items []Item, opts Options) (*Summary, error) {
	if o.run == nil {
		return nil, fmt.Errorf("orchestrator has no pipeline")
	}

	start := time.Now()
	opts = opts.withDefaults()
	batchID := fmt.Sprintf("batch_%x", start.UnixNano())
	total := len(items)

	o.log.Info("📦 Batch %s started: items=%d concurrency=%d", batchID, total, opts.MaxConcurrency)
	if o.obs != nil {
		o.obs.LogBatchStart(batchID, total, opts.MaxConcurrency)
	}

	chunked := opts.OnChunk != nil && total > opts.StreamingThreshold

	results := make(chan Result, opts.MaxConcurrency)
	sem := semaphore.NewWeighted(int64(opts.MaxConcurrency))

	go func() {
		var wg sync.WaitGroup
		for _, item := range items {
			item := item
			if err := sem.Acquire(ctx, 1); err != nil {
				results <- Result{Index: item.Index, Err: &types.BatchItemError{Index: item.Index, Err: err}}
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)
				results <- o.runItem(ctx, item)
			}()
		}
		wg.Wait()
		close(results)
	}()

	var (
		successCount int
		failureCount int
		collected    []Result
		chunk        []Result
	)

	for result := range results {
		if result.Success {
			successCount++
		} else {
			failureCount++
		}

		if chunked {
			chunk = append(chunk, result)
			if len(chunk) >= opts.ChunkSize {
				opts.OnChunk(chunk)
				chunk = nil
			}
		} else {
			collected = append(collected, result)
		}
	}

	if chunked && len(chunk) > 0 {
		opts.OnChunk(chunk)
	}

	summary := &Summary{
		BatchID:        batchID,
		TotalItems:     total,
		SuccessCount:   successCount,
		FailureCount:   failureCount,
		CompletionTime: time.Since(start),
	}
	if total > 0 {
		summary.SuccessRate = float64(successCount) / float64(total)
	}
	if !chunked {
		sort.Slice(collected, func(i, j int) bool { return collected[i].Index < collected[j].Index })
		summary.Results = collected
	}

	o.log.Info("📊 Batch %s complete: success=%d failure=%d duration=%s",
		batchID, successCount, failureCount, summary.CompletionTime.Round(time.Millisecond))
	if o.obs != nil {
		o.obs.LogBatchComplete(batchID, successCount, failureCount, summary.CompletionTime)
	}

	return summary, nil
}

func (o *Orchestrator) runItem(ctx context.Context, item Item) Result {
	o.mets.BatchInFlight.Inc()
	defer o.mets.BatchInFlight.Dec()

	if item.Request == nil {
		o.mets.BatchItemsTotal.WithLabelValues("failure").Inc()
		return Result{
			Index: item.Index,
			Err:   &types.BatchItemError{Index: item.Index, Err: types.NewValidationError("request", "missing or malformed")},
		}
	}

	resp, err := o.run(ctx, item.Request)
	if err != nil {
		o.log.Warn("⚠️ Batch item %d failed: %v", item.Index, err)
		o.mets.BatchItemsTotal.WithLabelValues("failure").Inc()
		return Result{Index: item.Index, Err: &types.BatchItemError{Index: item.Index, Err: err}}
	}

	o.mets.BatchItemsTotal.WithLabelValues("success").Inc()
	return Result{Index: item.Index, Success: true, Response: resp}
}
