// write.go implements Store's mutation surface: Insert/Delete of raw
// triples (optionally with reasoning maintenance), Update (SPARQL
// Update delegated to internal/update.Updater), and Load (bulk
// ingestion delegated to internal/loader via the same Updater).
package store

import (
	"context"
	"time"

	"github.com/kvgraph/triplestore/internal/adapter"
	"github.com/kvgraph/triplestore/internal/cache"
	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/exec"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
	"github.com/kvgraph/triplestore/internal/loader"
	"github.com/kvgraph/triplestore/internal/sparql/parser"
)

// Result reports what one mutating call changed, mirroring
// internal/update.Result plus reasoning-maintenance counts.
type Result struct {
	Inserted       int
	Deleted        int
	Loaded         int64
	DerivedAdded   int
	DerivedRemoved int
}

// Insert writes ts as explicit triples. When the store's reasoning
// config has AutoMaintain set, it also runs incremental
// materialization over the delta (spec.md §5 "add_with_reasoning").
func (s *Store) Insert(ctx context.Context, ts []adapter.TripleTerms) (Result, error) {
	if err := s.checkOpen("store.insert"); err != nil {
		return Result{}, err
	}
	defer s.tel.ObserveOp("store.insert")(time.Now())

	encoded, err := s.ad.EncodeTriples(ts)
	if err != nil {
		return Result{}, err
	}

	touched := predicatesOf(encoded)
	err = s.txnMgr.Do(func() error {
		if err := s.ix.InsertTriples(encoded, true); err != nil {
			return err
		}
		return s.mirrorNumeric(encoded, true)
	}, setToSlice(touched))
	if err != nil {
		s.tel.OpError("store.insert", errs.KindOf(err).String())
		return Result{}, err
	}
	s.invalidateSubjects(encoded)

	res := Result{Inserted: len(encoded)}
	s.reasonMu.RLock()
	autoMaintain := s.reasonCfg.AutoMaintain
	materializer := s.materializer
	s.reasonMu.RUnlock()
	if autoMaintain && materializer != nil {
		rt, err := s.txnMgr.BeginRead()
		if err != nil {
			return res, err
		}
		defer rt.Release()
		snap, err := rt.Snapshot()
		if err != nil {
			return res, err
		}
		mr, err := materializer.MaterializeDelta(ctx, snap, encoded)
		if err != nil {
			return res, err
		}
		res.DerivedAdded = mr.FactsAdded
		s.queryCache.InvalidateAll()
		s.subjCache.InvalidateAll()
	}
	return res, nil
}

// Delete removes ts from the explicit store. When AutoMaintain is
// set, it also runs incremental.Maintainer.Delete to retract any
// derived fact that loses its last supporting derivation (spec.md §5
// "delete_with_reasoning", §8's worked example).
func (s *Store) Delete(ctx context.Context, ts []adapter.TripleTerms) (Result, error) {
	if err := s.checkOpen("store.delete"); err != nil {
		return Result{}, err
	}
	defer s.tel.ObserveOp("store.delete")(time.Now())

	encoded, found, err := s.ad.LookupTriples(ts)
	if err != nil {
		return Result{}, err
	}
	var present []index.Triple
	for i, ok := range found {
		if ok {
			present = append(present, encoded[i])
		}
	}
	if len(present) == 0 {
		return Result{}, nil
	}

	touched := predicatesOf(present)
	err = s.txnMgr.Do(func() error {
		if err := s.ix.DeleteTriples(present, true); err != nil {
			return err
		}
		return s.mirrorNumeric(present, false)
	}, setToSlice(touched))
	if err != nil {
		s.tel.OpError("store.delete", errs.KindOf(err).String())
		return Result{}, err
	}
	s.invalidateSubjects(present)

	res := Result{Deleted: len(present)}
	s.reasonMu.RLock()
	autoMaintain := s.reasonCfg.AutoMaintain
	maintainer := s.incMaintainer
	s.reasonMu.RUnlock()
	if autoMaintain && maintainer != nil {
		rt, err := s.txnMgr.BeginRead()
		if err != nil {
			return res, err
		}
		defer rt.Release()
		snap, err := rt.Snapshot()
		if err != nil {
			return res, err
		}
		dr, err := maintainer.Delete(ctx, snap, present)
		if err != nil {
			return res, err
		}
		res.DerivedRemoved = len(dr.Removed)
		s.queryCache.InvalidateAll()
		s.subjCache.InvalidateAll()
	}
	return res, nil
}

// Update parses and applies one SPARQL Update request. internal/update.
// Updater invalidates the plan cache itself (predicate-granular); since
// Updater has no knowledge of queryCache/subjCache, Store invalidates
// those unconditionally afterward — coarser than predicate-granular,
// but always safe.
func (s *Store) Update(ctx context.Context, text string) (Result, error) {
	if err := s.checkOpen("store.update"); err != nil {
		return Result{}, err
	}
	defer s.tel.ObserveOp("store.update")(time.Now())

	p, err := parser.New(text)
	if err != nil {
		return Result{}, errs.Wrap(errs.ParseError, "store.update", "invalid update", err)
	}
	upd, err := p.ParseUpdate()
	if err != nil {
		return Result{}, errs.Wrap(errs.ParseError, "store.update", "invalid update", err)
	}

	rt, err := s.txnMgr.BeginRead()
	if err != nil {
		return Result{}, err
	}
	defer rt.Release()
	snap, err := rt.Snapshot()
	if err != nil {
		return Result{}, err
	}
	ex := exec.New(s.ix, snap, s.ad, s.opt, s.statsCollector.Current(), s.tel, s.opts.ExecLimits).WithNumericIndex(s.numericIdx)

	r, err := s.updater.Apply(ctx, upd, snap, ex)
	if err != nil {
		s.tel.OpError("store.update", errs.KindOf(err).String())
		return Result{}, err
	}
	s.queryCache.InvalidateAll()
	s.subjCache.InvalidateAll()
	return Result{Inserted: r.Inserted, Deleted: r.Deleted}, nil
}

// Load bulk-ingests triples produced by next through internal/loader,
// invalidating caches unconditionally on success (loads typically
// touch a large, unpredictable predicate set).
func (s *Store) Load(ctx context.Context, opts loader.Options, next func() (adapter.TripleTerms, bool, error)) (Result, error) {
	if err := s.checkOpen("store.load"); err != nil {
		return Result{}, err
	}
	defer s.tel.ObserveOp("store.load")(time.Now())

	r, err := s.updater.Load(ctx, opts, next)
	if err != nil {
		s.tel.OpError("store.load", errs.KindOf(err).String())
		return Result{}, err
	}
	s.queryCache.InvalidateAll()
	s.subjCache.InvalidateAll()
	return Result{Loaded: r.LoadedCount}, nil
}

// Export streams every explicit triple to sink in SPO order. Surface
// RDF syntax (Turtle/N-Triples/etc) is out of scope (see spec.md
// Non-goals); callers needing a serialized form wrap sink themselves.
func (s *Store) Export(ctx context.Context, sink func(adapter.TripleTerms) error) error {
	if err := s.checkOpen("store.export"); err != nil {
		return err
	}
	rt, err := s.txnMgr.BeginRead()
	if err != nil {
		return err
	}
	defer rt.Release()
	snap, err := rt.Snapshot()
	if err != nil {
		return err
	}
	cur, err := s.ix.Lookup(snap, index.Pattern{}, kvstore.TableSPO)
	if err != nil {
		return err
	}
	defer cur.Close()
	for cur.Next() {
		tt, err := s.ad.DecodeTriples([]index.Triple{cur.Triple()})
		if err != nil {
			return err
		}
		if err := sink(tt[0]); err != nil {
			return err
		}
	}
	return cur.Err()
}

func predicatesOf(ts []index.Triple) map[ids.ID]struct{} {
	out := map[ids.ID]struct{}{}
	for _, t := range ts {
		out[t.P] = struct{}{}
	}
	return out
}

func setToSlice(set map[ids.ID]struct{}) []ids.ID {
	out := make([]ids.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// mirrorNumeric keeps NumericRangeIndex (and its durable
// kvstore.TableNumericRange backing) synchronized with every triple
// insert/delete whose object is an inline numeric id — spec.md §4.14
// "maintained synchronously with triple insert/delete". Called from
// inside the same txn.Manager.Do critical section as the main
// SPO/POS/OSP write so the two never interleave with a concurrent
// writer.
func (s *Store) mirrorNumeric(ts []index.Triple, inserted bool) error {
	var b *kvstore.Batch
	for _, t := range ts {
		if !t.O.IsInline() {
			continue
		}
		if inserted {
			s.numericIdx.Insert(t.P, t.O, t.S)
		} else {
			s.numericIdx.Delete(t.P, t.O, t.S)
		}
		if b == nil {
			b = kvstore.NewBatch()
		}
		key := cache.EncodeNumericRangeKey(t.P, t.O, t.S)
		if inserted {
			b.Put(kvstore.TableNumericRange, key, []byte{1})
		} else {
			b.Delete(kvstore.TableNumericRange, key)
		}
	}
	if b == nil {
		return nil
	}
	return s.env.Apply(b, kvstore.ApplyOptions{Sync: false})
}

func (s *Store) invalidateSubjects(ts []index.Triple) {
	seen := map[ids.ID]struct{}{}
	for _, t := range ts {
		if _, ok := seen[t.S]; ok {
			continue
		}
		seen[t.S] = struct{}{}
		s.subjCache.Invalidate(t.S)
	}
}
