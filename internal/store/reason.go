// reason.go exposes the explicit reasoning controls spec.md §6 names
// outside of Insert/Delete's optional AutoMaintain path: a full
// materialization run, clearing every derived fact, and reconfiguring
// which rule profiles are active.
package store

import (
	"context"
	"time"

	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/reason/rules"
	"github.com/kvgraph/triplestore/internal/reason/seminaive"
)

// Materialize runs a full forward-chaining pass to fixpoint over the
// current rule set (spec.md §4.13 full materialization), refreshing
// the TBox cache first so schema changes since the last run are
// picked up before rules are evaluated.
func (s *Store) Materialize(ctx context.Context) (seminaive.Result, error) {
	if err := s.checkOpen("store.materialize"); err != nil {
		return seminaive.Result{}, err
	}
	defer s.tel.ObserveOp("store.materialize")(time.Now())

	// RefreshStats re-collects statistics and then recompiles the rules,
	// so predicates inserted since the last refresh are seen as present.
	if _, err := s.RefreshStats(ctx); err != nil {
		return seminaive.Result{}, err
	}

	rt, err := s.txnMgr.BeginRead()
	if err != nil {
		return seminaive.Result{}, err
	}
	defer rt.Release()
	snap, err := rt.Snapshot()
	if err != nil {
		return seminaive.Result{}, err
	}

	s.reasonMu.RLock()
	m := s.materializer
	s.reasonMu.RUnlock()

	res, err := m.MaterializeAll(ctx, snap)
	if err != nil {
		s.tel.OpError("store.materialize", errs.KindOf(err).String())
		return res, err
	}
	s.queryCache.InvalidateAll()
	s.subjCache.InvalidateAll()
	return res, nil
}

// ClearDerived drops every derived triple, leaving the explicit store
// untouched (spec.md §6 "clear_derived").
func (s *Store) ClearDerived(ctx context.Context) error {
	if err := s.checkOpen("store.clear_derived"); err != nil {
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
	if err := s.ix.ClearDerived(snap); err != nil {
		return err
	}
	s.queryCache.InvalidateAll()
	s.subjCache.InvalidateAll()
	return nil
}

// SetReasoningProfiles swaps which rule profiles (RDFS / OWL 2 RL) are
// active and recompiles the rule table against them. Previously
// materialized facts from a disabled profile are left in place until
// the next ClearDerived + Materialize; this call only changes what
// future materialization runs produce.
func (s *Store) SetReasoningProfiles(profiles map[rules.Profile]bool) error {
	if err := s.checkOpen("store.set_reasoning_profiles"); err != nil {
		return err
	}
	s.reasonMu.Lock()
	s.reasonCfg.Profiles = profiles
	s.reasonMu.Unlock()
	return s.recompileRules()
}

// SetAutoMaintain toggles whether Insert/Delete trigger incremental
// reasoning maintenance inline.
func (s *Store) SetAutoMaintain(on bool) {
	s.reasonMu.Lock()
	defer s.reasonMu.Unlock()
	s.reasonCfg.AutoMaintain = on
}
