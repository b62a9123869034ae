// Package path evaluates SPARQL 1.1 property paths over the index
// layer — spec.md §4.10. Sequence/alternative/inverse/zero-or-one
// compile structurally; the Kleene operators (`+`, `*`) run a forward
// BFS from the start node bounded by depth and frontier size, stopping
// early once a bound end node is reached. No backward search from the
// end node is made.
//
// Grounded on the frontier/visited-set bound pattern spec.md §4.10
// names directly; RoaringBitmap/roaring/v2 backs the visited sets
// because ids.ID already fits uint32-compressible runs once a query's
// working set is known, and the pack's reasoner component needs the
// same bitmap type for its backward-trace frontier — sharing it here
// keeps one bitmap idiom across the whole module instead of two.
package path

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
	"github.com/kvgraph/triplestore/internal/telemetry"
)

// Op discriminates the path expression operators from spec.md §4.10.
type Op int

const (
	OpPredicate Op = iota
	OpSequence
	OpAlternative
	OpInverse
	OpNegatedSet
	OpZeroOrOne
	OpOneOrMore
	OpZeroOrMore
)

// Expr is a property path expression tree.
type Expr struct {
	Op       Op
	Pred     ids.ID   // OpPredicate
	Negated  []ids.ID // OpNegatedSet
	Children []Expr   // OpSequence/OpAlternative
	Inner    *Expr    // OpInverse/OpZeroOrOne/OpOneOrMore/OpZeroOrMore
}

// Limits bound the Kleene-star/plus search (spec.md §4.10 "Depth limit
// and frontier-size limit both enforced").
type Limits struct {
	MaxDepth     int
	MaxFrontier  int
	MaxResults   int
}

var DefaultLimits = Limits{MaxDepth: 64, MaxFrontier: 1 << 20, MaxResults: 1 << 20}

func (l Limits) resolve() Limits {
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultLimits.MaxDepth
	}
	if l.MaxFrontier <= 0 {
		l.MaxFrontier = DefaultLimits.MaxFrontier
	}
	if l.MaxResults <= 0 {
		l.MaxResults = DefaultLimits.MaxResults
	}
	return l
}

// Evaluator resolves path expressions against one index snapshot.
type Evaluator struct {
	ix     *index.Index
	snap   *kvstore.Snapshot
	limits Limits
	tel    *telemetry.Telemetry
}

func NewEvaluator(ix *index.Index, snap *kvstore.Snapshot, limits Limits, tel *telemetry.Telemetry) *Evaluator {
	return &Evaluator{ix: ix, snap: snap, limits: limits.resolve(), tel: tel}
}

// step1 returns the direct neighbors of from along a single-predicate
// edge (or its inverse), used as the atomic move in every composite
// operator.
func (e *Evaluator) step1(from ids.ID, pred ids.ID, inverse bool) ([]ids.ID, error) {
	var pat index.Pattern
	if inverse {
		pat = index.Pattern{O: from, OBound: true, P: pred, PBound: true}
	} else {
		pat = index.Pattern{S: from, SBound: true, P: pred, PBound: true}
	}
	cur, err := e.ix.Lookup(e.snap, pat, "")
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	var out []ids.ID
	for cur.Next() {
		tr := cur.Triple()
		if inverse {
			out = append(out, tr.S)
		} else {
			out = append(out, tr.O)
		}
	}
	return out, cur.Err()
}

// Eval returns every node reachable from start via expr. When end is
// bound (boundEnd=true), a Kleene BFS stops as soon as it reaches end;
// the search is forward-only in every case.
func (e *Evaluator) Eval(expr Expr, start ids.ID, boundEnd bool, end ids.ID) ([]ids.ID, error) {
	switch expr.Op {
	case OpPredicate:
		return e.step1(start, expr.Pred, false)
	case OpInverse:
		if expr.Inner.Op != OpPredicate {
			return nil, errs.New(errs.ParseError, "path.eval", "inverse of a non-predicate path is not supported")
		}
		return e.step1(start, expr.Inner.Pred, true)
	case OpNegatedSet:
		return e.negatedSet(start, expr.Negated)
	case OpSequence:
		return e.sequence(expr.Children, start)
	case OpAlternative:
		return e.alternative(expr.Children, start)
	case OpZeroOrOne:
		out := []ids.ID{start}
		rest, err := e.Eval(*expr.Inner, start, boundEnd, end)
		if err != nil {
			return nil, err
		}
		return dedupeAppend(out, rest), nil
	case OpOneOrMore:
		return e.bfs(*expr.Inner, start, boundEnd, end, false)
	case OpZeroOrMore:
		return e.bfs(*expr.Inner, start, boundEnd, end, true)
	default:
		return nil, errs.New(errs.ParseError, "path.eval", "unknown path operator")
	}
}

func (e *Evaluator) sequence(children []Expr, start ids.ID) ([]ids.ID, error) {
	frontier := []ids.ID{start}
	for _, child := range children {
		seen := roaring64New()
		var next []ids.ID
		for _, f := range frontier {
			reached, err := e.Eval(child, f, false, 0)
			if err != nil {
				return nil, err
			}
			for _, r := range reached {
				if seen.addIfAbsent(uint64(r)) {
					next = append(next, r)
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			return nil, nil
		}
	}
	return frontier, nil
}

func (e *Evaluator) alternative(children []Expr, start ids.ID) ([]ids.ID, error) {
	seen := roaring64New()
	var out []ids.ID
	for _, child := range children {
		reached, err := e.Eval(child, start, false, 0)
		if err != nil {
			return nil, err
		}
		for _, r := range reached {
			if seen.addIfAbsent(uint64(r)) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (e *Evaluator) negatedSet(start ids.ID, negated []ids.ID) ([]ids.ID, error) {
	excluded := make(map[ids.ID]struct{}, len(negated))
	for _, p := range negated {
		excluded[p] = struct{}{}
	}
	pat := index.Pattern{S: start, SBound: true}
	cur, err := e.ix.Lookup(e.snap, pat, "")
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	seen := roaring64New()
	var out []ids.ID
	for cur.Next() {
		tr := cur.Triple()
		if _, bad := excluded[tr.P]; bad {
			continue
		}
		if seen.addIfAbsent(uint64(tr.O)) {
			out = append(out, tr.O)
		}
	}
	return out, cur.Err()
}

// bfs implements p+ (includeStart=false) and p* (includeStart=true)
// as a forward BFS from start; when boundEnd is set it stops once end
// is reached, with no backward search from end. Frontier/depth limits apply throughout;
// overflow truncates the result and emits a telemetry event rather
// than erroring (spec.md "on overflow the operator returns current
// results and records a telemetry event").
func (e *Evaluator) bfs(inner Expr, start ids.ID, boundEnd bool, end ids.ID, includeStart bool) ([]ids.ID, error) {
	visited := roaring64New()
	var out []ids.ID
	if includeStart {
		out = append(out, start)
		visited.addIfAbsent(uint64(start))
	}

	frontier := []ids.ID{start}
	visited.addIfAbsent(uint64(start))
	depth := 0
	for len(frontier) > 0 && depth < e.limits.MaxDepth {
		depth++
		var next []ids.ID
		for _, f := range frontier {
			reached, err := e.Eval(inner, f, false, 0)
			if err != nil {
				return nil, err
			}
			for _, r := range reached {
				if visited.addIfAbsent(uint64(r)) {
					out = append(out, r)
					next = append(next, r)
					if boundEnd && r == end {
						return out, nil
					}
					if len(out) >= e.limits.MaxResults {
						e.tel.Event("store.query.path_overflow")
						return out, nil
					}
				}
			}
		}
		if len(next) > e.limits.MaxFrontier {
			e.tel.Event("store.query.path_overflow")
			next = next[:e.limits.MaxFrontier]
		}
		frontier = next
	}
	return out, nil
}

func dedupeAppend(out []ids.ID, more []ids.ID) []ids.ID {
	seen := make(map[ids.ID]struct{}, len(out))
	for _, v := range out {
		seen[v] = struct{}{}
	}
	for _, v := range more {
		if _, ok := seen[v]; !ok {
			out = append(out, v)
			seen[v] = struct{}{}
		}
	}
	return out
}

// bitset wraps roaring.Bitmap with the 64-bit id domain this store
// needs (ids.ID is a 64-bit value; roaring/v2 natively indexes
// uint32, so high/low halves are split into separate per-high-word
// bitmaps, matching the "roaring of roarings" idiom used for sparse
// 64-bit domains).
type bitset struct {
	words map[uint32]*roaring.Bitmap
}

func roaring64New() *bitset { return &bitset{words: make(map[uint32]*roaring.Bitmap)} }

// addIfAbsent adds v and reports whether it was newly added.
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
