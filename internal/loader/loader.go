// Package loader implements the bulk ingestion pipeline from
// spec.md §4.4: chunk -> encode (parallel) -> write (serialized).
//
// Grounded on the staged, backpressured snapshot-ingestion pipeline in
// turbo/snapshotsync/snapshotsync.go (download stage feeding a bounded
// channel into a decode/index stage feeding a single-writer commit
// stage). Worker fan-out uses golang.org/x/sync/errgroup, matching the
// teacher's own use of errgroup for bounded parallel stages; batch
// sizing under a memory budget uses github.com/pbnjay/memory the same
// way the teacher probes OS memory before picking cache/batch sizes.
package loader

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kvgraph/triplestore/internal/adapter"
	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/telemetry"
)

const (
	defaultBatchSize = 10_000
	minBatchSize     = 100
	maxBatchSize     = 100_000
)

// MemoryBudget selects a batch-size tier; Auto probes OS memory via
// pbnjay/memory (spec.md §4.4 "auto probes OS memory").
type MemoryBudget int

const (
	BudgetAuto MemoryBudget = iota
	BudgetLow
	BudgetMedium
	BudgetHigh
)

// ProgressAction is the value a progress callback returns to request
// cancellation (spec.md §4.4 "Callback returns :continue or :halt").
type ProgressAction int

const (
	Continue ProgressAction = iota
	Halt
)

// Progress is delivered to the optional callback every Interval batches.
type Progress struct {
	TriplesLoaded int64
	BatchNumber   int64
	Elapsed       time.Duration
	RatePerSecond float64
}

// Options configure a Loader run.
type Options struct {
	BatchSize int
	Budget    MemoryBudget
	// Stages is the encoder worker count; default = CPU count, clamped 1..64.
	Stages int
	// Bulk enables sync=false per-batch writes plus a trailing durable
	// flush_wal (spec.md §4.4 "Bulk mode").
	Bulk bool
	// Interval is how many batches elapse between progress callbacks.
	Interval   int
	OnProgress func(Progress) ProgressAction
}

func (o Options) resolve() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = sizeForBudget(o.Budget)
	}
	if o.BatchSize < minBatchSize {
		o.BatchSize = minBatchSize
	}
	if o.BatchSize > maxBatchSize {
		o.BatchSize = maxBatchSize
	}
	if o.Stages <= 0 {
		o.Stages = runtime.NumCPU()
	}
	if o.Stages < 1 {
		o.Stages = 1
	}
	if o.Stages > 64 {
		o.Stages = 64
	}
	if o.Interval <= 0 {
		o.Interval = 1
	}
	return o
}

func sizeForBudget(b MemoryBudget) int {
	switch b {
	case BudgetLow:
		return minBatchSize * 10
	case BudgetHigh:
		return maxBatchSize
	case BudgetMedium:
		return defaultBatchSize
	default:
		return autoSize()
	}
}

// Result is the outcome of Run: either loaded_count on completion, or
// halted_count if a progress callback requested cancellation
// (spec.md §4.4 "Contract").
type Result struct {
	LoadedCount int64
	Halted      bool
}

// Loader drives the chunker/encoder/writer pipeline over one Adapter+Index pair.
type Loader struct {
	adapter *adapter.Adapter
	index   *index.Index
	tel     *telemetry.Telemetry
}

func New(a *adapter.Adapter, ix *index.Index, tel *telemetry.Telemetry) *Loader {
	return &Loader{adapter: a, index: ix, tel: tel}
}

// Run ingests every triple produced by next (returns false when
// exhausted), in chunks, through the encoder/writer pipeline.
func (l *Loader) Run(ctx context.Context, opts Options, next func() (adapter.TripleTerms, bool, error)) (Result, error) {
	opts = opts.resolve()
	done := l.tel.ObserveOp("store.loader.run")
	defer done(time.Now())
	l.tel.Event("store.loader.start")

	var halted atomic.Bool
	var loaded atomic.Int64
	var batchNum atomic.Int64
	start := time.Now()

	batches := make(chan []adapter.TripleTerms, opts.Stages*2)
	encoded := make(chan []index.Triple, opts.Stages*2)

	g, gctx := errgroup.WithContext(ctx)

	// Chunker: reads next() into fixed-size batches.
	g.Go(func() error {
		defer close(batches)
		var cur []adapter.TripleTerms
		for {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if halted.Load() {
				return nil
			}
			tt, ok, err := next()
			if err != nil {
				return errs.Wrap(errs.ParseError, "loader.chunker", "reading input triple", err)
			}
			if !ok {
				if len(cur) > 0 {
					select {
					case batches <- cur:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
				return nil
			}
			cur = append(cur, tt)
			if len(cur) >= opts.BatchSize {
				select {
				case batches <- cur:
				case <-gctx.Done():
					return gctx.Err()
				}
				cur = nil
			}
		}
	})

	// Encoder: Stages parallel workers converting term batches to id batches.
	for i := 0; i < opts.Stages; i++ {
		g.Go(func() error {
			for batch := range batches {
				if halted.Load() {
					continue
				}
				ts, err := l.adapter.EncodeTriples(batch)
				if err != nil {
					return errs.Wrap(errs.ResourceError, "loader.encoder", "encoding batch", err)
				}
				select {
				case encoded <- ts:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	// Writer: single serialized stage applying each encoded batch.
	writerDone := make(chan error, 1)
	go func() {
		var err error
		for ts := range encoded {
			if halted.Load() {
				continue
			}
			if werr := l.index.InsertTriples(ts, !opts.Bulk); werr != nil {
				err = errs.Wrap(errs.ResourceError, "loader.writer", "writing batch", werr)
				halted.Store(true)
				continue
			}
			loaded.Add(int64(len(ts)))
			n := batchNum.Add(1)
			l.tel.Event("store.loader.batch")
			if opts.OnProgress != nil && n%int64(opts.Interval) == 0 {
				elapsed := time.Since(start)
				rate := float64(loaded.Load()) / elapsed.Seconds()
				action := opts.OnProgress(Progress{
					TriplesLoaded: loaded.Load(), BatchNumber: n,
					Elapsed: elapsed, RatePerSecond: rate,
				})
				if action == Halt {
					halted.Store(true)
				}
			}
		}
		writerDone <- err
	}()

	// Close encoded once every encoder worker has finished, without
	// racing the encoder goroutines (mirrors turbo/snapshotsync's
	// fan-in-then-close pattern).
	closeOnce := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(encoded)
		close(closeOnce)
	}()
	<-closeOnce
	writerErr := <-writerDone

	if err := g.Wait(); err != nil && writerErr == nil {
		l.tel.Event("store.loader.exception")
		return Result{LoadedCount: loaded.Load(), Halted: halted.Load()}, err
	}
	if writerErr != nil {
		l.tel.Event("store.loader.exception")
		return Result{LoadedCount: loaded.Load(), Halted: halted.Load()}, writerErr
	}
	if opts.Bulk {
		if err := l.index.FlushWAL(); err != nil {
			l.tel.Event("store.loader.exception")
			return Result{LoadedCount: loaded.Load(), Halted: halted.Load()}, err
		}
	}
	l.tel.Event("store.loader.stop")
	return Result{LoadedCount: loaded.Load(), Halted: halted.Load()}, nil
}
