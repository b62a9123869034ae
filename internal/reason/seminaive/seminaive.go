// Package seminaive implements spec.md §4.13's delta-driven fixpoint
// evaluator: given a compiled rules.Rule table and a starting delta of
// facts, it materializes every derivable fact into the derived column
// family, re-deriving only combinations that involve at least one fact
// from the previous round's delta (the "semi-naive" trick — full
// re-evaluation from scratch on every round would recompute the same
// cross products over and over).
//
// Per-rule evaluation runs concurrently via golang.org/x/sync/errgroup,
// one goroutine per rule joined by errgroup.Wait; the merge back into one delta is by
// rule index in table order, so the result never depends on which
// goroutine happens to finish first (spec.md's "deterministic
// commutative-associative union merge").
package seminaive

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
	"github.com/kvgraph/triplestore/internal/reason/rules"
	"github.com/kvgraph/triplestore/internal/telemetry"
)

// Binding maps a rule's variable names to bound ids within one
// candidate solution.
type Binding map[string]ids.ID

func cloneBinding(b Binding) Binding {
	nb := make(Binding, len(b)+3)
	for k, v := range b {
		nb[k] = v
	}
	return nb
}

// Limits bounds one materialization run so a misbehaving or
// pathologically joined rule set cannot run forever or exhaust memory
// (spec.md §4.13 "Resource guards").
type Limits struct {
	MaxIterations      int
	MaxFacts           int
	MaxBindingsPerRule int
	RuleTimeout        time.Duration
}

// DefaultLimits are generous enough for interactive use while still
// bounding worst-case pathological rule sets.
func DefaultLimits() Limits {
	return Limits{
		MaxIterations:      200,
		MaxFacts:           5_000_000,
		MaxBindingsPerRule: 200_000,
		RuleTimeout:        30 * time.Second,
	}
}

// Result reports what one materialization run did.
type Result struct {
	Iterations int
	FactsAdded int
	// Capped is true if the run stopped due to MaxIterations/MaxFacts
	// rather than reaching a genuine fixpoint (Δ_prev = ∅).
	Capped bool
}

// Materializer evaluates one compiled rule set against an index.
type Materializer struct {
	ix     *index.Index
	rules  []rules.Rule
	tel    *telemetry.Telemetry
	limits Limits
}

func New(ix *index.Index, rs []rules.Rule, tel *telemetry.Telemetry, limits Limits) *Materializer {
	return &Materializer{ix: ix, rules: rs, tel: tel, limits: limits}
}

// MaterializeAll runs the fixpoint from scratch, with Δ₀ equal to the
// whole explicit store (spec.md §4.13 "initial delta Δ₀... the whole
// explicit store on first materialization").
func (m *Materializer) MaterializeAll(ctx context.Context, snap *kvstore.Snapshot) (Result, error) {
	delta0, err := m.loadAllExplicit(snap)
	if err != nil {
		return Result{}, err
	}
	accumulated, err := m.loadAllDerived(snap)
	if err != nil {
		return Result{}, err
	}
	return m.run(ctx, delta0, accumulated, snap)
}

// MaterializeDelta runs the fixpoint seeded with only the facts added
// since the last materialization (spec.md §4.13 "Δ₀... newly added
// facts"), reusing whatever was already derived.
func (m *Materializer) MaterializeDelta(ctx context.Context, snap *kvstore.Snapshot, added []index.Triple) (Result, error) {
	accumulated, err := m.loadAllDerived(snap)
	if err != nil {
		return Result{}, err
	}
	return m.run(ctx, added, accumulated, snap)
}

// run drives the Δ_new/Δ_prev loop. accumulated holds every fact
// (explicit facts are NOT included — those are queried straight off
// snap — only derived facts, old and newly produced this run) known to
// be true so far; it doubles as both the "already derived, don't
// re-derive" set and, relative to its state on entry, the set of
// genuinely new facts to persist at the end.
//
// accumulated is read/written only from this goroutine between rounds
// (each round's writers are per-rule goroutines that return their
// results rather than mutate it directly), so no locking is needed —
// the derived facts MDBX snapshot taken at materialization start would
// otherwise go stale the moment this run writes its own derivations,
// which is why new facts are tracked in memory and persisted once at
// the end rather than incrementally through snap.
func (m *Materializer) run(ctx context.Context, delta0 []index.Triple, accumulated map[index.Triple]struct{}, snap *kvstore.Snapshot) (Result, error) {
	baselineCount := len(accumulated)
	deltaPrev := dedupeTriples(delta0)

	iterations := 0
	capped := false
	for len(deltaPrev) > 0 {
		iterations++
		if iterations > m.limits.MaxIterations {
			capped = true
			break
		}

		results := make([][]index.Triple, len(m.rules))
		g, gctx := errgroup.WithContext(ctx)
		for i, r := range m.rules {
			i, r := i, r
			g.Go(func() error {
				rctx, cancel := context.WithTimeout(gctx, m.limits.RuleTimeout)
				defer cancel()
				facts, err := m.evalRule(rctx, r, deltaPrev, snap, accumulated)
				if err != nil {
					return err
				}
				results[i] = facts
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Result{}, err
		}

		var deltaNew []index.Triple
		for _, facts := range results {
			for _, f := range facts {
				if _, known := accumulated[f]; known {
					continue
				}
				accumulated[f] = struct{}{}
				deltaNew = append(deltaNew, f)
			}
		}
		if len(deltaNew) == 0 {
			break
		}
		if len(accumulated)-baselineCount >= m.limits.MaxFacts {
			capped = true
			break
		}
		deltaPrev = deltaNew
	}

	// Persist exactly the facts not already committed to the derived CF
	// before this run — re-reading that baseline rather than trusting
	// baselineCount's bookkeeping keeps this correct even if a future
	// caller seeds accumulated from something other than loadAllDerived.
	seenBaseline, err := m.loadAllDerived(snap)
	if err != nil {
		return Result{}, err
	}
	toPersist := make([]index.Triple, 0, len(accumulated)-baselineCount)
	for t := range accumulated {
		if _, existed := seenBaseline[t]; !existed {
			toPersist = append(toPersist, t)
		}
	}

	if len(toPersist) > 0 {
		if err := m.ix.InsertDerived(toPersist, true); err != nil {
			return Result{}, err
		}
	}
	return Result{Iterations: iterations, FactsAdded: len(toPersist), Capped: capped}, nil
}

// evalRule computes every new fact one rule derives this round. Per
// spec.md §4.13, for a body of N atoms the rule is tried once per
// choice of which atom must come from Δ_prev (the others match against
// the full accumulated store) — this is what makes the evaluation
// "semi-naive" rather than recomputing the whole cross product fresh.
func (m *Materializer) evalRule(ctx context.Context, r rules.Rule, deltaPrev []index.Triple, snap *kvstore.Snapshot, accumulated map[index.Triple]struct{}) ([]index.Triple, error) {
	var out []index.Triple
	for deltaIdx := range r.Body {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		bindings, err := m.solve(r.Body, deltaIdx, deltaPrev, snap, accumulated)
		if err != nil {
			return nil, err
		}
		if len(bindings) > m.limits.MaxBindingsPerRule {
			bindings = bindings[:m.limits.MaxBindingsPerRule]
		}
		for _, b := range bindings {
			if !conditionsHold(r.Conditions, b) {
				continue
			}
			t, ok := instantiateHead(r.Head, b)
			if !ok {
				continue
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// solve backtracks over r's body atoms left to right; the atom at
// deltaIdx matches only against delta, every other atom matches
// against the full current store (explicit ∪ accumulated derived).
func (m *Materializer) solve(atoms []rules.Pattern, deltaIdx int, delta []index.Triple, snap *kvstore.Snapshot, accumulated map[index.Triple]struct{}) ([]Binding, error) {
	var results []Binding
	var lookupErr error

	var rec func(i int, b Binding) bool
	rec = func(i int, b Binding) bool {
		if i == len(atoms) {
			results = append(results, b)
			return true
		}
		atom := atoms[i]
		if i == deltaIdx {
			for _, t := range delta {
				if nb, ok := matchAtom(atom, t, b); ok {
					if !rec(i+1, nb) {
						return false
					}
				}
			}
			return true
		}
		triples, err := m.lookupCombined(snap, toIndexPattern(atom, b), accumulated)
		if err != nil {
			lookupErr = err
			return false
		}
		for _, t := range triples {
			if nb, ok := matchAtom(atom, t, b); ok {
				if !rec(i+1, nb) {
					return false
				}
			}
		}
		return true
	}
	rec(0, Binding{})
	if lookupErr != nil {
		return nil, lookupErr
	}
	return results, nil
}

// lookupCombined answers a bound pattern against the explicit store
// (via the properly-indexed SPO/POS/OSP lookup) plus the derived facts
// known so far, which only ever live in the SPO-shaped derived CF —
// hence the in-memory accumulated set rather than a second indexed
// lookup, since a P- or O-only pattern has no efficient physical
// ordering to scan there.
func (m *Materializer) lookupCombined(snap *kvstore.Snapshot, p index.Pattern, accumulated map[index.Triple]struct{}) ([]index.Triple, error) {
	var out []index.Triple
	cur, err := m.ix.Lookup(snap, p, "")
	if err != nil {
		return nil, err
	}
	for cur.Next() {
		out = append(out, cur.Triple())
	}
	err = cur.Err()
	cur.Close()
	if err != nil {
		return nil, err
	}
	for t := range accumulated {
		if matchesPattern(p, t) {
			out = append(out, t)
		}
	}
	return out, nil
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

func toIndexPattern(atom rules.Pattern, b Binding) index.Pattern {
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

func resolveSlot(t rules.Term, b Binding) (ids.ID, bool) {
	if !t.IsVar() {
		return t.ID, true
	}
	id, ok := b[t.Var]
	return id, ok
}

// matchAtom extends b with whatever atom's variables bind to in t,
// failing if a variable already bound to a different id or a bound
// slot doesn't match t's value.
func matchAtom(atom rules.Pattern, t index.Triple, b Binding) (Binding, bool) {
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

func conditionsHold(conds []rules.Condition, b Binding) bool {
	for _, c := range conds {
		switch c.Kind {
		case rules.CondNotEqual:
			av, aok := b[c.A]
			bv, bok := b[c.B]
			if aok && bok && av == bv {
				return false
			}
		}
	}
	return true
}

func instantiateHead(head rules.Pattern, b Binding) (index.Triple, bool) {
	s, ok := resolveSlot(head.S, b)
	if !ok {
		return index.Triple{}, false
	}
	p, ok := resolveSlot(head.P, b)
	if !ok {
		return index.Triple{}, false
	}
	o, ok := resolveSlot(head.O, b)
	if !ok {
		return index.Triple{}, false
	}
	return index.Triple{S: s, P: p, O: o}, true
}

func dedupeTriples(ts []index.Triple) []index.Triple {
	seen := make(map[index.Triple]struct{}, len(ts))
	out := make([]index.Triple, 0, len(ts))
	for _, t := range ts {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func (m *Materializer) loadAllExplicit(snap *kvstore.Snapshot) ([]index.Triple, error) {
	cur, err := m.ix.Lookup(snap, index.Pattern{}, "")
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	var out []index.Triple
	for cur.Next() {
		out = append(out, cur.Triple())
	}
	return out, cur.Err()
}

func (m *Materializer) loadAllDerived(snap *kvstore.Snapshot) (map[index.Triple]struct{}, error) {
	cur, err := m.ix.Lookup(snap, index.Pattern{}, kvstore.TableDerived)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	out := map[index.Triple]struct{}{}
	for cur.Next() {
		out[cur.Triple()] = struct{}{}
	}
	return out, cur.Err()
}
