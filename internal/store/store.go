// Package store composes every subsystem under spec.md §2 into the
// library surface §6 names: open/close, insert/delete, query,
// prepare+execute, update, load/export, materialize/clear_derived,
// backup/restore, stats/health. There is no stream_query call; Query
// returns its result whole.
//
// Grounded on the teacher's top-level service-wiring shape — one
// struct owning every subsystem constructed in dependency order, none
// of them reaching back into Store — adapted from the same "own
// everything, expose a thin method surface" shape erigon's top-level
// Ethereum/backend struct uses to assemble its own chain of owned
// components (state, txpool, p2p) rather than having each one look
// its neighbors up dynamically.
package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kvgraph/triplestore/internal/adapter"
	"github.com/kvgraph/triplestore/internal/cache"
	"github.com/kvgraph/triplestore/internal/dictionary"
	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/exec"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
	"github.com/kvgraph/triplestore/internal/loader"
	"github.com/kvgraph/triplestore/internal/optimizer"
	"github.com/kvgraph/triplestore/internal/reason/incremental"
	"github.com/kvgraph/triplestore/internal/reason/rules"
	"github.com/kvgraph/triplestore/internal/reason/seminaive"
	"github.com/kvgraph/triplestore/internal/reason/tbox"
	"github.com/kvgraph/triplestore/internal/stats"
	"github.com/kvgraph/triplestore/internal/telemetry"
	"github.com/kvgraph/triplestore/internal/term"
	"github.com/kvgraph/triplestore/internal/txn"
	"github.com/kvgraph/triplestore/internal/update"
)

// ReasoningConfig mirrors spec.md §3's "Reasoning configuration" value:
// which profile(s) to compile and whether inserts/deletes trigger
// incremental maintenance synchronously.
type ReasoningConfig struct {
	Profiles map[rules.Profile]bool
	// AutoMaintain runs add-with-reasoning / incremental delete
	// maintenance inline on every Insert/Delete; when false, derived
	// facts only change via an explicit Materialize call.
	AutoMaintain bool
	SeminaiveLimits   seminaive.Limits
	IncrementalLimits incremental.Limits
}

func DefaultReasoningConfig() ReasoningConfig {
	return ReasoningConfig{
		Profiles:          map[rules.Profile]bool{rules.ProfileRDFS: true, rules.ProfileOWL2RL: true},
		AutoMaintain:      false,
		SeminaiveLimits:   seminaive.DefaultLimits(),
		IncrementalLimits: incremental.DefaultLimits(),
	}
}

// Options configures Open. Every field has a documented default.
type Options struct {
	TableCfg                  kvstore.TableCfg
	MapSize                   int64
	DictionaryOptions         dictionary.Options
	ExecLimits                exec.Limits
	TxnOptions                txn.Options
	OptimizerCacheCapacity    int
	QueryResultCacheCapacity  int
	QueryResultTTL            time.Duration
	QueryResultMaxRows        int
	SubjectPropertiesCapacity int
	Reasoning                 ReasoningConfig
	Logger                    *zap.Logger
	Registerer                prometheus.Registerer
}

func (o Options) withDefaults() Options {
	if o.TableCfg == nil {
		o.TableCfg = kvstore.DefaultTableCfg
	}
	if o.OptimizerCacheCapacity <= 0 {
		o.OptimizerCacheCapacity = optimizer.DefaultCacheCapacity
	}
	if o.QueryResultCacheCapacity <= 0 {
		o.QueryResultCacheCapacity = cache.DefaultQueryResultCapacity
	}
	if o.QueryResultTTL <= 0 {
		o.QueryResultTTL = cache.DefaultQueryResultTTL
	}
	if o.QueryResultMaxRows <= 0 {
		o.QueryResultMaxRows = cache.DefaultMaxResultSize
	}
	if o.SubjectPropertiesCapacity <= 0 {
		o.SubjectPropertiesCapacity = cache.DefaultSubjectPropertiesCapacity
	}
	if o.Reasoning.Profiles == nil {
		o.Reasoning = DefaultReasoningConfig()
	}
	return o
}

// Store owns every subsystem and is the sole entry point the external
// interfaces in spec.md §6 are implemented against.
type Store struct {
	opts Options

	env  *kvstore.Env
	dict *dictionary.Dictionary
	ix   *index.Index
	ad   *adapter.Adapter
	opt  *optimizer.Optimizer

	statsCollector *stats.Collector
	tel            *telemetry.Telemetry

	ld      *loader.Loader
	updater *update.Updater
	txnMgr  *txn.Manager

	queryCache *cache.QueryResultCache
	subjCache  *cache.SubjectPropertiesCache
	numericIdx *cache.NumericRangeIndex

	tboxCache *tbox.Cache

	reasonMu      sync.RWMutex
	reasonCfg     ReasoningConfig
	compiledRules []rules.Rule
	materializer  *seminaive.Materializer
	incMaintainer *incremental.Maintainer

	lastStatsMu      sync.RWMutex
	lastStatsRefresh time.Time

	closed atomic.Bool
}

// Open opens (creating if necessary) a store rooted at path.
func Open(path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	tel, err := telemetry.New(opts.Logger, opts.Registerer)
	if err != nil {
		return nil, err
	}

	env, err := kvstore.Open(kvstore.Options{Path: path, MapSize: opts.MapSize}, opts.TableCfg)
	if err != nil {
		return nil, err
	}

	dict, err := dictionary.Open(env, opts.DictionaryOptions, tel, opts.Logger)
	if err != nil {
		_ = env.Close()
		return nil, err
	}

	ix := index.New(env)
	ad := adapter.New(dict)

	opt, err := optimizer.New(opts.OptimizerCacheCapacity)
	if err != nil {
		_ = env.Close()
		return nil, err
	}

	statsCollector, err := stats.New(env, ix)
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	if _, err := statsCollector.Collect(); err != nil {
		_ = env.Close()
		return nil, err
	}

	ld := loader.New(ad, ix, tel)
	updater := update.New(ix, ad, opt, ld, tel)
	txnMgr := txn.New(env, opts.TxnOptions, tel)

	queryCache, err := cache.NewQueryResultCache(opts.QueryResultCacheCapacity, opts.QueryResultTTL, opts.QueryResultMaxRows, tel)
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	subjCache, err := cache.NewSubjectPropertiesCache(opts.SubjectPropertiesCapacity, tel)
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	numericIdx := cache.NewNumericRangeIndex()
	if err := rebuildNumericIndex(env, numericIdx); err != nil {
		_ = env.Close()
		return nil, err
	}

	txnMgr.Register(opt)
	txnMgr.Register(queryCache)

	s := &Store{
		opts:           opts,
		env:            env,
		dict:           dict,
		ix:             ix,
		ad:             ad,
		opt:            opt,
		statsCollector: statsCollector,
		tel:            tel,
		ld:             ld,
		updater:        updater,
		txnMgr:         txnMgr,
		queryCache:     queryCache,
		subjCache:      subjCache,
		numericIdx:     numericIdx,
		tboxCache:      tbox.New(),
		reasonCfg:      opts.Reasoning,
	}
	if err := s.recompileRules(); err != nil {
		_ = env.Close()
		return nil, err
	}
	return s, nil
}

// rebuildNumericIndex replays the persisted numeric_range column
// family into idx — the in-memory ordered structure is rebuilt from
// the durable CF on every open rather than persisted itself.
func rebuildNumericIndex(env *kvstore.Env, idx *cache.NumericRangeIndex) error {
	snap, err := env.NewSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()
	it, err := snap.PrefixIterator(kvstore.TableNumericRange, nil)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		p, v, s := cache.DecodeNumericRangeKey(it.Key())
		idx.Insert(p, v, s)
	}
	return it.Err()
}

// recompileRules refreshes the TBox cache from current statistics and
// recompiles the rule table, rebuilding the seminaive/incremental
// engines against it — called at Open and whenever the reasoning
// configuration or schema changes (spec.md §4.13 "schema-driven
// filtering/specialization").
func (s *Store) recompileRules() error {
	snap, err := s.env.NewSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()

	if err := s.tboxCache.Refresh(s.ad, s.ix, snap, s.statsCollector.Current()); err != nil {
		return err
	}

	resolver := func(iri string) (ids.ID, bool, error) {
		return s.ad.LookupTerm(term.NewIRI(iri))
	}

	s.reasonMu.Lock()
	defer s.reasonMu.Unlock()
	compiled, err := rules.Compile(resolver, s.tboxCache.RuleSchema(), s.reasonCfg.Profiles)
	if err != nil {
		return err
	}
	s.compiledRules = compiled
	s.materializer = seminaive.New(s.ix, compiled, s.tel, s.reasonCfg.SeminaiveLimits)
	s.incMaintainer = incremental.New(s.ix, compiled, s.reasonCfg.IncrementalLimits)
	return nil
}

// Close flushes the dictionary counter, stops the sweeper, and
// releases the MDBX environment. Idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.txnMgr.Stop()
	if err := s.dict.Flush(); err != nil {
		return err
	}
	return s.env.Close()
}

func (s *Store) checkOpen(op string) error {
	if s.closed.Load() {
		return errs.New(errs.AlreadyClosed, op, "store is closed")
	}
	return nil
}

// CacheStats is one cache's diagnostic snapshot for Health.
type CacheStats struct {
	Entries int
}

// Health reports spec.md §3.U's undetailed store.Health() surface:
// a non-blocking diagnostic read, never contending with writers.
type Health struct {
	OK               bool
	Counter          uint64
	OpenSnapshots    int
	LastStatsRefresh time.Time
	CacheStats       map[string]CacheStats
}

func (s *Store) Health() Health {
	s.lastStatsMu.RLock()
	last := s.lastStatsRefresh
	s.lastStatsMu.RUnlock()
	return Health{
		OK:               !s.closed.Load(),
		Counter:          s.dict.CurrentCounter(),
		OpenSnapshots:    s.txnMgr.OpenReadCount(),
		LastStatsRefresh: last,
		CacheStats: map[string]CacheStats{
			"numeric_range": {Entries: s.numericIdx.Len()},
		},
	}
}

// Stats returns the most recently collected Statistics value
// (spec.md §3 "Statistics"). RefreshStats recomputes it from a fresh
// snapshot and re-derives the TBox cache/rule table from it.
func (s *Store) Stats() *stats.Statistics { return s.statsCollector.Current() }

func (s *Store) RefreshStats(ctx context.Context) (*stats.Statistics, error) {
	if err := s.checkOpen("store.refresh_stats"); err != nil {
		return nil, err
	}
	st, err := s.statsCollector.Collect()
	if err != nil {
		return nil, err
	}
	s.lastStatsMu.Lock()
	s.lastStatsRefresh = time.Now()
	s.lastStatsMu.Unlock()
	if err := s.recompileRules(); err != nil {
		return nil, err
	}
	return st, nil
}
