// Package incremental maintains derived-fact consistency after an
// explicit-triple deletion, without re-running a full materialization
// (spec.md §4.13 "Incremental delete maintenance"). It runs in two
// passes: a backward trace over a predicate-level rule-dependency
// graph finds every derived fact that *could* depend on something in
// the deleted set, then a forward re-derivation attempt decides, per
// suspect, whether an alternative derivation survives once the
// deleted facts and the not-yet-re-derived suspects are excluded.
//
// Grounded on internal/reason/seminaive's matching scheme (Binding,
// matchAtom, toIndexPattern) — kept as a small self-contained copy
// here rather than a shared dependency, the same way internal/join and
// internal/exec each carry their own binding-join logic rather than
// factoring out a generic join helper neither fully needs.
package incremental

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
	"github.com/kvgraph/triplestore/internal/reason/rules"
)

// Limits bounds one incremental-delete run (spec.md §4.13 "Resource
// guards").
type Limits struct {
	// MaxDepth bounds how many predicate-dependency hops the backward
	// trace follows out from the deleted predicates.
	MaxDepth int
	// MaxFrontier caps the number of distinct predicates the backward
	// trace will visit, guarding against a pathologically dense
	// dependency graph.
	MaxFrontier int
	// MaxRemovalsPerBatch bounds how many derived facts one call will
	// remove, so a single bad deletion can't cascade unbounded.
	MaxRemovalsPerBatch int
}

func DefaultLimits() Limits {
	return Limits{MaxDepth: 50, MaxFrontier: 100_000, MaxRemovalsPerBatch: 1_000_000}
}

// Result reports what one Delete call found and removed.
type Result struct {
	SuspectCount int
	Removed      []index.Triple
	Capped       bool
}

// Maintainer re-derives or removes derived facts after an explicit
// deletion, against a fixed rule set.
type Maintainer struct {
	ix     *index.Index
	rules  []rules.Rule
	limits Limits
}

func New(ix *index.Index, rs []rules.Rule, limits Limits) *Maintainer {
	return &Maintainer{ix: ix, rules: rs, limits: limits}
}

// Delete runs backward trace + forward re-derivation for a batch of
// just-deleted explicit triples and removes whichever suspect derived
// facts have no surviving derivation, as one atomic batch.
func (m *Maintainer) Delete(ctx context.Context, snap *kvstore.Snapshot, deleted []index.Triple) (Result, error) {
	deletedSet := toSet(deleted)

	suspects, capped, err := m.backwardTrace(snap, deletedSet)
	if err != nil {
		return Result{}, err
	}

	// Suspects count as deleted until re-derived without them; each
	// re-derived suspect is restored as support and the pass repeats.
	excluded := toSet(append(append([]index.Triple{}, deleted...), suspects...))
	pending := suspects
	for changed := true; changed; {
		changed = false
		var still []index.Triple
		for _, f := range pending {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			default:
			}
			alt, err := m.hasAlternativeDerivation(snap, f, excluded)
			if err != nil {
				return Result{}, err
			}
			if alt {
				delete(excluded, f)
				changed = true
				continue
			}
			still = append(still, f)
		}
		pending = still
	}

	var removed []index.Triple
	for _, f := range pending {
		removed = append(removed, f)
		if len(removed) >= m.limits.MaxRemovalsPerBatch {
			capped = true
			break
		}
	}

	if len(removed) > 0 {
		if err := m.ix.DeleteDerived(removed, true); err != nil {
			return Result{}, err
		}
	}
	return Result{SuspectCount: len(suspects), Removed: removed, Capped: capped}, nil
}

// backwardTrace walks a predicate-level dependency graph (body
// predicate -> head predicate, for every rule) outward from the
// deleted set's predicates, bounded by MaxDepth/MaxFrontier, and
// returns every currently-derived fact whose predicate was reached —
// i.e. every fact that *could* depend on a deleted triple, a coarser
// over-approximation than per-fact provenance but always a safe one
// (forward re-derivation below is what actually decides survival).
func (m *Maintainer) backwardTrace(snap *kvstore.Snapshot, deletedSet map[index.Triple]struct{}) ([]index.Triple, bool, error) {
	edges, wildcardHeads := buildDependencyGraph(m.rules)

	suspectPredicates := map[ids.ID]bool{}
	for headPred := range wildcardHeads {
		suspectPredicates[headPred] = true
	}

	visited := newBitset()
	type frontierEntry struct {
		pred  ids.ID
		depth int
	}
	var queue []frontierEntry
	for t := range deletedSet {
		queue = append(queue, frontierEntry{pred: t.P, depth: 0})
	}

	capped := false
	visitedCount := 0
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if !visited.addIfAbsent(uint64(e.pred)) {
			continue
		}
		visitedCount++
		if visitedCount > m.limits.MaxFrontier {
			capped = true
			break
		}
		if e.depth >= m.limits.MaxDepth {
			continue
		}
		for headPred := range edges[e.pred] {
			suspectPredicates[headPred] = true
			queue = append(queue, frontierEntry{pred: headPred, depth: e.depth + 1})
		}
	}

	var suspects []index.Triple
	cur, err := m.ix.Lookup(snap, index.Pattern{}, kvstore.TableDerived)
	if err != nil {
		return nil, false, err
	}
	defer cur.Close()
	for cur.Next() {
		t := cur.Triple()
		if suspectPredicates[t.P] {
			suspects = append(suspects, t)
		}
	}
	if err := cur.Err(); err != nil {
		return nil, false, err
	}
	return suspects, capped, nil
}

// bitset wraps roaring.Bitmap for the 64-bit id domain the same way
// internal/path's bitset does: roaring/v2 natively indexes uint32, so
// a 64-bit id's high/low halves are split into separate per-high-word
// bitmaps ("roaring of roarings" for a sparse 64-bit domain).
type bitset struct {
	words map[uint32]*roaring.Bitmap
}

func newBitset() *bitset { return &bitset{words: make(map[uint32]*roaring.Bitmap)} }

func (b *bitset) addIfAbsent(v uint64) bool {
	hi := uint32(v >> 32)
	lo := uint32(v)
	bm, ok := b.words[hi]
	if !ok {
		bm = roaring.New()
		b.words[hi] = bm
	}
	if bm.Contains(lo) {
		return false
	}
	bm.Add(lo)
	return true
}

// buildDependencyGraph returns, for every bound body predicate, the
// set of head predicates a rule using it can produce, plus the set of
// head predicates belonging to rules with at least one *variable*
// body predicate (spec.md's eq-rep-s/eq-rep-o shape: "s p o" with p
// free) — those rules can fire off a deletion of any predicate, so
// their heads are always suspect regardless of which predicate was
// actually touched.
func buildDependencyGraph(rs []rules.Rule) (edges map[ids.ID]map[ids.ID]bool, wildcardHeads map[ids.ID]bool) {
	edges = map[ids.ID]map[ids.ID]bool{}
	wildcardHeads = map[ids.ID]bool{}
	for _, r := range rs {
		if r.Head.P.IsVar() {
			continue
		}
		headPred := r.Head.P.ID
		wildcard := false
		for _, atom := range r.Body {
			if atom.P.IsVar() {
				wildcard = true
				continue
			}
			if edges[atom.P.ID] == nil {
				edges[atom.P.ID] = map[ids.ID]bool{}
			}
			edges[atom.P.ID][headPred] = true
		}
		if wildcard {
			wildcardHeads[headPred] = true
		}
	}
	return edges, wildcardHeads
}

// hasAlternativeDerivation reports whether f can still be derived by
// some rule once deletedSet is excluded from the store.
func (m *Maintainer) hasAlternativeDerivation(snap *kvstore.Snapshot, f index.Triple, deletedSet map[index.Triple]struct{}) (bool, error) {
	for _, r := range m.rules {
		if r.Head.P.IsVar() || r.Head.P.ID != f.P {
			continue
		}
		seed, ok := unifyHeadWithFact(r.Head, f)
		if !ok {
			continue
		}
		ok, err := m.bodySatisfiable(snap, r.Body, seed, deletedSet)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func unifyHeadWithFact(head rules.Pattern, f index.Triple) (binding, bool) {
	b := binding{}
	check := func(term rules.Term, val ids.ID) bool {
		if !term.IsVar() {
			return term.ID == val
		}
		if existing, ok := b[term.Var]; ok {
			return existing == val
		}
		b[term.Var] = val
		return true
	}
	if !check(head.S, f.S) {
		return nil, false
	}
	if !check(head.P, f.P) {
		return nil, false
	}
	if !check(head.O, f.O) {
		return nil, false
	}
	return b, true
}

type binding map[string]ids.ID

func cloneBinding(b binding) binding {
	nb := make(binding, len(b)+3)
	for k, v := range b {
		nb[k] = v
	}
	return nb
}

// bodySatisfiable backtracks over atoms looking for just one full
// binding extending seed that matches the store with deletedSet
// excluded — an existence check, so it short-circuits on first match.
func (m *Maintainer) bodySatisfiable(snap *kvstore.Snapshot, atoms []rules.Pattern, seed binding, deletedSet map[index.Triple]struct{}) (bool, error) {
	found := false
	var lookupErr error

	var rec func(i int, b binding) bool
	rec = func(i int, b binding) bool {
		if found {
			return false
		}
		if i == len(atoms) {
			found = true
			return false
		}
		pat := toIndexPattern(atoms[i], b)
		triples, err := m.lookupExcluding(snap, pat, deletedSet)
		if err != nil {
			lookupErr = err
			return false
		}
		for _, t := range triples {
			if nb, ok := matchAtom(atoms[i], t, b); ok {
				if !rec(i+1, nb) {
					return false
				}
			}
		}
		return true
	}
	rec(0, seed)
	if lookupErr != nil {
		return false, lookupErr
	}
	return found, nil
}

func (m *Maintainer) lookupExcluding(snap *kvstore.Snapshot, p index.Pattern, deletedSet map[index.Triple]struct{}) ([]index.Triple, error) {
	var out []index.Triple
	cur, err := m.ix.Lookup(snap, p, "")
	if err != nil {
		return nil, err
	}
	for cur.Next() {
		t := cur.Triple()
		if _, excluded := deletedSet[t]; !excluded {
			out = append(out, t)
		}
	}
	if err := cur.Err(); err != nil {
		cur.Close()
		return nil, err
	}
	cur.Close()

	dcur, err := m.ix.Lookup(snap, index.Pattern{}, kvstore.TableDerived)
	if err != nil {
		return nil, err
	}
	defer dcur.Close()
	for dcur.Next() {
		t := dcur.Triple()
		if _, excluded := deletedSet[t]; excluded {
			continue
		}
		if matchesPattern(p, t) {
			out = append(out, t)
		}
	}
	return out, dcur.Err()
}

func matchesPattern(p index.Pattern, t index.Triple) bool {
	if p.SBound && p.S != t.S {
		return false
	}
	if p.PBound && p.P != t.P {
		return false
	}
	if p.OBound && p.O != t.O {
		return false
	}
	return true
}

func toIndexPattern(atom rules.Pattern, b binding) index.Pattern {
	p := index.Pattern{}
	if id, ok := resolveSlot(atom.S, b); ok {
		p.S, p.SBound = id, true
	}
	if id, ok := resolveSlot(atom.P, b); ok {
		p.P, p.PBound = id, true
	}
	if id, ok := resolveSlot(atom.O, b); ok {
		p.O, p.OBound = id, true
	}
	return p
}

func resolveSlot(t rules.Term, b binding) (ids.ID, bool) {
	if !t.IsVar() {
		return t.ID, true
	}
	id, ok := b[t.Var]
	return id, ok
}

func matchAtom(atom rules.Pattern, t index.Triple, b binding) (binding, bool) {
	nb := cloneBinding(b)
	check := func(term rules.Term, val ids.ID) bool {
		if !term.IsVar() {
			return term.ID == val
		}
		if existing, ok := nb[term.Var]; ok {
			return existing == val
		}
		nb[term.Var] = val
		return true
	}
	if !check(atom.S, t.S) {
		return nil, false
	}
	if !check(atom.P, t.P) {
		return nil, false
	}
	if !check(atom.O, t.O) {
		return nil, false
	}
	return nb, true
}

func toSet(ts []index.Triple) map[index.Triple]struct{} {
	out := make(map[index.Triple]struct{}, len(ts))
	for _, t := range ts {
		out[t] = struct{}{}
	}
	return out
}
