package join

import (
	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
)

// Limits bounds a Leapfrog Triejoin's work, guarding against
// pathological variable orderings or runaway Cartesian growth
// (spec.md §4.8 "guards on total iteration count / visited-set size /
// variable count").
type Limits struct {
	MaxIterations int
	MaxResults    int
	MaxVariables  int
}

var DefaultLimits = Limits{
	MaxIterations: 10_000_000,
	MaxResults:    1_000_000,
	MaxVariables:  64,
}

// maxID is the sentinel used when advancing an iterator would
// overflow past the largest representable id; the iterator is simply
// marked exhausted rather than wrapping around to zero.
const maxID = ids.ID(^uint64(0))

// tableForSlot names the physical index whose leading (major) key
// component equals the given logical slot, letting a hub variable's
// scan be opened as a monotonically increasing sequence regardless of
// which slot of the pattern it occupies.
func tableForSlot(slot int) string {
	switch slot {
	case slotS:
		return kvstore.TableSPO
	case slotP:
		return kvstore.TablePOS
	case slotO:
		return kvstore.TableOSP
	default:
		return kvstore.TableSPO
	}
}

const (
	slotS = iota
	slotP
	slotO
)

// hubIter is one scanner's contribution to a variable level: a
// hub-major full-table cursor (major component = the hub variable).
// It applies no filter of its own; the caller (search) confirms each
// agreed hub value with existsUnder.
//
// There is no fourth, PSO-style index in this store (spec.md §3 lists
// only SPO/POS/OSP), so a scan ordered purely by "subject, given a
// fixed predicate" doesn't exist as a single index lookup. Rather than
// require Leapfrog's classical single-unbound-slot invariant — which
// breaks on star joins like `?x p1 ?a . ?x p2 ?b . ?x p3 ?c`, where
// every pattern still has a second free variable at the `x` level —
// this implementation opens the hub variable's slot as a full
// major-ordered scan of whichever table has that slot leading; once
// all iterators agree on a hub value, a narrow lookup (existsUnder)
// applies the other slots' constants and already-bound variables.
// This trades scan efficiency for correctness: a scan that could in
// principle be a narrow range becomes a full table walk.
type hubIter struct {
	sc      *Scanner
	slot    int
	cur     *index.Cursor
	current ids.ID
	atEnd   bool
}

func slotOf(sc *Scanner, v string) int {
	switch v {
	case sc.SVar:
		return slotS
	case sc.PVar:
		return slotP
	case sc.OVar:
		return slotO
	}
	return -1
}

func openHubIter(ix *index.Index, snap *kvstore.Snapshot, sc *Scanner, hubVar string) (*hubIter, error) {
	slot := slotOf(sc, hubVar)
	table := tableForSlot(slot)
	cur, err := ix.Lookup(snap, index.Pattern{}, table)
	if err != nil {
		return nil, err
	}
	h := &hubIter{sc: sc, slot: slot, cur: cur}
	h.advanceToMatch()
	return h, nil
}

// hubValue extracts the slot on which h was opened from a triple.
func (h *hubIter) hubValue(t index.Triple) ids.ID {
	switch h.slot {
	case slotS:
		return t.S
	case slotP:
		return t.P
	default:
		return t.O
	}
}

// advanceToMatch moves the freshly opened cursor to its first row with
// Next, marking h exhausted if there is none; later moves go through
// seek (SeekMajor). Filtering by non-hub slots happens at
// the caller (search), since it depends on the binding state at the
// current recursion level, not just this iterator alone.
func (h *hubIter) advanceToMatch() {
	if !h.cur.Next() {
		h.atEnd = true
		return
	}
	h.current = h.hubValue(h.cur.Triple())
}

// seek advances h until its hub value is >= target.
func (h *hubIter) seek(target ids.ID) {
	if h.atEnd {
		return
	}
	if h.current >= target {
		return
	}
	if target == maxID {
		// Any further advance risks wraparound; treat as exhausted
		// rather than looping forever on an unreachable seek target.
		h.atEnd = true
		return
	}
	if !h.cur.SeekMajor(target) {
		h.atEnd = true
		return
	}
	h.current = h.hubValue(h.cur.Triple())
}

func (h *hubIter) next() {
	if h.atEnd {
		return
	}
	if h.current == maxID {
		h.atEnd = true
		return
	}
	h.seek(h.current + 1)
}

func (h *hubIter) close() { h.cur.Close() }

// LeapfrogJoin intersects scanners on varOrder, used exactly as the
// caller supplies it; internal/exec passes the clique's hub variable
// first and the remaining variables in pattern order, with no
// selectivity or frequency ranking. Only
// variables that are the designated hub at some scanner's slot
// participate in the leapfrog search proper; any pattern slot left
// unconstrained after all levels are bound is resolved with a
// trailing per-binding nested-loop probe.
func LeapfrogJoin(ix *index.Index, snap *kvstore.Snapshot, scanners []*Scanner, varOrder []string, limits Limits) ([]Binding, error) {
	if len(varOrder) == 0 || len(varOrder) > limits.MaxVariables {
		return nil, errs.New(errs.LimitExceeded, "join.leapfrog", "variable count outside limits")
	}

	byVar := map[string][]*Scanner{}
	for _, sc := range scanners {
		for _, v := range []string{sc.SVar, sc.PVar, sc.OVar} {
			if v != "" {
				byVar[v] = append(byVar[v], sc)
			}
		}
	}

	var results []Binding
	iterations := 0

	var search func(level int, bound Binding) error
	search = func(level int, bound Binding) error {
		if level == len(varOrder) {
			extended, err := resolveRemaining(ix, snap, scanners, bound)
			if err != nil {
				return err
			}
			for _, b := range extended {
				if len(results) >= limits.MaxResults {
					return errs.New(errs.LimitExceeded, "join.leapfrog", "result count exceeded")
				}
				results = append(results, b)
			}
			return nil
		}

		v := varOrder[level]
		owners := byVar[v]
		if len(owners) == 0 {
			return search(level+1, bound)
		}

		var iters []*hubIter
		defer func() {
			for _, it := range iters {
				it.close()
			}
		}()
		for _, sc := range owners {
			it, err := openHubIter(ix, snap, sc, v)
			if err != nil {
				return err
			}
			iters = append(iters, it)
		}

		for {
			iterations++
			if iterations > limits.MaxIterations {
				return errs.New(errs.LimitExceeded, "join.leapfrog", "iteration count exceeded")
			}

			if anyAtEnd(iters) {
				return nil
			}

			lo, hi := minMax(iters)
			if lo == hi {
				// The hub iterators only guarantee agreement on the
				// hub variable's value — the row each cursor happens
				// to be parked on after a full-table seek carries no
				// guarantee about the scanner's own constant/bound
				// slots (a predicate-major scan landing at S=lo may
				// be sitting on a different predicate's row entirely).
				// Confirm each owner actually has a matching triple at
				// this hub value with a direct probe rather than
				// trusting the scan cursor's current row.
				candidate := bound.Clone()
				candidate[v] = lo
				match := true
				for _, sc := range owners {
					ok, err := existsUnder(ix, snap, sc, candidate)
					if err != nil {
						return err
					}
					if !ok {
						match = false
						break
					}
				}
				if match {
					if err := search(level+1, candidate); err != nil {
						return err
					}
				}
				advanceAll(iters)
				continue
			}
			seekLagging(iters, hi)
		}
	}

	if err := search(0, Binding{}); err != nil {
		return nil, err
	}
	return results, nil
}

func anyAtEnd(iters []*hubIter) bool {
	for _, it := range iters {
		if it.atEnd {
			return true
		}
	}
	return false
}

func minMax(iters []*hubIter) (lo, hi ids.ID) {
	lo, hi = iters[0].current, iters[0].current
	for _, it := range iters[1:] {
		if it.current < lo {
			lo = it.current
		}
		if it.current > hi {
			hi = it.current
		}
	}
	return lo, hi
}

func advanceAll(iters []*hubIter) {
	for _, it := range iters {
		it.next()
	}
}

// existsUnder reports whether sc has at least one matching triple
// given bound's already-assigned variables (including the hub
// variable just agreed on), via a direct index lookup rather than
// the full-table hub scan.
func existsUnder(ix *index.Index, snap *kvstore.Snapshot, sc *Scanner, bound Binding) (bool, error) {
	cur, err := sc.Open(ix, snap, bound)
	if err != nil {
		return false, err
	}
	defer cur.Close()
	ok := cur.Next()
	if err := cur.Err(); err != nil {
		return false, err
	}
	return ok, nil
}

func seekLagging(iters []*hubIter, target ids.ID) {
	for _, it := range iters {
		if it.current < target {
			it.seek(target)
		}
	}
}

// resolveRemaining handles any pattern slot not bound by the
// leapfrog search itself — typically a non-hub free variable unique
// to one pattern (e.g. `?a` in `?x p1 ?a` when the join only walked
// the `x` level) — via a per-scanner trailing nested-loop probe under
// the fully leapfrog-bound binding.
func resolveRemaining(ix *index.Index, snap *kvstore.Snapshot, scanners []*Scanner, bound Binding) ([]Binding, error) {
	frontier := []Binding{bound}
	for _, sc := range scanners {
		if len(frontier) == 0 {
			return nil, nil
		}
		if allBound(sc, frontier[0]) {
			continue
		}
		next, err := NestedLoop(ix, snap, frontier, sc)
		if err != nil {
			return nil, err
		}
		frontier = next
		if len(frontier) == 0 {
			return nil, nil
		}
	}
	return frontier, nil
}

func allBound(sc *Scanner, b Binding) bool {
	for _, v := range []string{sc.SVar, sc.PVar, sc.OVar} {
		if v == "" {
			continue
		}
		if _, ok := b[v]; !ok {
			return false
		}
	}
	return true
}
