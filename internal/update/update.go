// Package update implements spec.md §4.12's SPARQL Update engine:
// INSERT/DELETE DATA, DELETE/INSERT WHERE, LOAD, and CLEAR, each one
// atomic write batch over internal/index.
//
// Grounded on internal/loader's staged-pipeline module doc and on
// erigon-lib/kv/tables.go's single-writer-transaction discipline: an
// UPDATE here is exactly one call into internal/index (or, for LOAD,
// one delegated Loader.Run), never a sequence of independently
// committed writes a crash could tear in half.
package update

import (
	"context"

	"github.com/kvgraph/triplestore/internal/adapter"
	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/exec"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
	"github.com/kvgraph/triplestore/internal/loader"
	"github.com/kvgraph/triplestore/internal/optimizer"
	"github.com/kvgraph/triplestore/internal/sparql/algebra"
	"github.com/kvgraph/triplestore/internal/sparql/ast"
	"github.com/kvgraph/triplestore/internal/telemetry"
	"github.com/kvgraph/triplestore/internal/term"
)

// Result reports what one UPDATE changed.
type Result struct {
	Deleted int
	Inserted int
	Loaded   int64
}

// Updater applies parsed ast.Update statements against the store's
// index/adapter/optimizer, invalidating the plan cache by the
// predicates each statement actually touched.
type Updater struct {
	ix  *index.Index
	ad  *adapter.Adapter
	opt *optimizer.Optimizer
	ld  *loader.Loader
	tel *telemetry.Telemetry
}

func New(ix *index.Index, ad *adapter.Adapter, opt *optimizer.Optimizer, ld *loader.Loader, tel *telemetry.Telemetry) *Updater {
	return &Updater{ix: ix, ad: ad, opt: opt, ld: ld, tel: tel}
}

// Apply executes one parsed update statement. snap must be a snapshot
// taken immediately before the call (used by DELETE/INSERT WHERE to
// evaluate its WHERE clause under the pre-update state, spec.md
// §4.12); ex is an Executor already bound to that same snapshot.
func (u *Updater) Apply(ctx context.Context, upd *ast.Update, snap *kvstore.Snapshot, ex *exec.Executor) (Result, error) {
	switch upd.Op {
	case ast.OpInsertData:
		n, err := u.insertData(upd.InsertData)
		return Result{Inserted: n}, err
	case ast.OpDeleteData:
		n, err := u.deleteData(upd.DeleteData)
		return Result{Deleted: n}, err
	case ast.OpDeleteInsertWhere:
		return u.deleteInsertWhere(upd, ex)
	case ast.OpLoad:
		return Result{}, errs.New(errs.ConfigError, "update.apply", "LOAD must be issued via Updater.Load, which takes the resolved triple-stream reader for upd.Source")
	case ast.OpClear:
		return Result{}, u.clear(snap)
	default:
		return Result{}, errs.New(errs.Fatal, "update.apply", "unknown update operation")
	}
}

func (u *Updater) insertData(patterns []algebra.TriplePattern) (int, error) {
	triples, err := u.groundTriples(patterns)
	if err != nil {
		return 0, err
	}
	encoded, err := u.ad.EncodeTriples(triples)
	if err != nil {
		return 0, err
	}
	if err := u.ix.InsertTriples(encoded, true); err != nil {
		return 0, err
	}
	u.invalidate(encoded)
	return len(encoded), nil
}

func (u *Updater) deleteData(patterns []algebra.TriplePattern) (int, error) {
	triples, err := u.groundTriples(patterns)
	if err != nil {
		return 0, err
	}
	// DELETE DATA must never allocate a dictionary entry for a term
	// that was never stored — a pattern naming an unknown term simply
	// deletes nothing for that triple (spec.md §4.3).
	resolved, found, err := u.ad.LookupTriples(triples)
	if err != nil {
		return 0, err
	}
	var toDelete []index.Triple
	for i, ok := range found {
		if ok {
			toDelete = append(toDelete, resolved[i])
		}
	}
	if err := u.ix.DeleteTriples(toDelete, true); err != nil {
		return 0, err
	}
	u.invalidate(toDelete)
	return len(toDelete), nil
}

// groundTriples converts INSERT/DELETE DATA's patterns, which the
// grammar restricts to ground triples (no variables), to term space.
func (u *Updater) groundTriples(patterns []algebra.TriplePattern) ([]adapter.TripleTerms, error) {
	out := make([]adapter.TripleTerms, len(patterns))
	for i, p := range patterns {
		if p.S.IsVar() || p.P.IsVar() || p.O.IsVar() {
			return nil, errs.New(errs.ParseError, "update.ground", "INSERT/DELETE DATA patterns must not contain variables")
		}
		out[i] = adapter.TripleTerms{S: p.S.Term, P: p.P.Term, O: p.O.Term}
	}
	return out, nil
}

// deleteInsertWhere runs upd.Where once under the pre-update
// snapshot, instantiates every solution against both templates, and
// applies the resulting delete and insert sets as one atomic batch
// (spec.md §4.12 "delete-then-insert so matching overlapping triples
// is well-defined").
func (u *Updater) deleteInsertWhere(upd *ast.Update, ex *exec.Executor) (Result, error) {
	bindings, err := ex.Eval(upd.Where)
	if err != nil {
		return Result{}, err
	}

	dels, err := u.instantiateTemplate(upd.DeleteTmpl, bindings)
	if err != nil {
		return Result{}, err
	}
	inserts, err := u.instantiateTemplate(upd.InsertTmpl, bindings)
	if err != nil {
		return Result{}, err
	}

	encodedDel, err := u.ad.EncodeTriples(dels)
	if err != nil {
		return Result{}, err
	}
	encodedIns, err := u.ad.EncodeTriples(inserts)
	if err != nil {
		return Result{}, err
	}
	if err := u.ix.ApplyDeltas(encodedDel, encodedIns, true); err != nil {
		return Result{}, err
	}
	u.invalidate(encodedDel)
	u.invalidate(encodedIns)
	return Result{Deleted: len(encodedDel), Inserted: len(encodedIns)}, nil
}

// instantiateTemplate substitutes every solution's bindings into tmpl,
// dropping any instance whose variable slot has no binding (a
// template may legitimately reference a variable the WHERE clause
// never binds on some branch — matching FILTER's error-exclusion
// convention rather than failing the whole UPDATE).
func (u *Updater) instantiateTemplate(tmpl []algebra.TriplePattern, bindings []exec.Binding) ([]adapter.TripleTerms, error) {
	var out []adapter.TripleTerms
	for _, b := range bindings {
		for _, tp := range tmpl {
			s, ok, err := u.resolveSlot(tp.S, b)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			p, ok, err := u.resolveSlot(tp.P, b)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			o, ok, err := u.resolveSlot(tp.O, b)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			out = append(out, adapter.TripleTerms{S: s, P: p, O: o})
		}
	}
	return out, nil
}

func (u *Updater) resolveSlot(pt algebra.PatternTerm, b exec.Binding) (term.Term, bool, error) {
	if !pt.IsVar() {
		return pt.Term, true, nil
	}
	id, ok := b[pt.Var]
	if !ok {
		return term.Term{}, false, nil
	}
	t, err := u.ad.DecodeTerm(id)
	if err != nil {
		return term.Term{}, false, err
	}
	return t, true, nil
}

// Load delegates to the shared Loader for a LOAD statement whose
// source IRI the caller has already resolved to a triple stream
// (surface-syntax parsing and IRI fetch are external collaborators,
// spec.md's Out of scope list) — LOAD's own contribution is just
// "delegates to Loader" (spec.md §4.12).
func (u *Updater) Load(ctx context.Context, opts loader.Options, next func() (adapter.TripleTerms, bool, error)) (Result, error) {
	res, err := u.ld.Run(ctx, opts, next)
	if err != nil {
		return Result{}, err
	}
	u.opt.InvalidateAll()
	return Result{Loaded: res.LoadedCount}, nil
}

// clear empties the default graph (spec.md §4.12 "CLEAR empties the
// default graph"), leaving derived facts untouched — ClearDerived is
// the reasoner's own, separate operation.
func (u *Updater) clear(snap *kvstore.Snapshot) error {
	if err := u.ix.ClearAll(snap); err != nil {
		return err
	}
	u.opt.InvalidateAll()
	return nil
}

// invalidate evicts cached plans touching any predicate these triples
// carry (spec.md §4.7 "invalidated on any UPDATE... predicate-granular
// when possible").
func (u *Updater) invalidate(triples []index.Triple) {
	seen := map[uint64]struct{}{}
	for _, t := range triples {
		key := uint64(t.P)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		u.opt.InvalidatePredicate(t.P)
	}
}
