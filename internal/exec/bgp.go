package exec

import (
	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/join"
	"github.com/kvgraph/triplestore/internal/optimizer"
	"github.com/kvgraph/triplestore/internal/path"
	"github.com/kvgraph/triplestore/internal/sparql/algebra"
)

// resolvePatternRefs converts a BGP's term-space triple patterns into
// optimizer.PatternRef values, resolving each bound term to an id via
// the Adapter's non-allocating lookup (spec.md §4.3 "queries never
// allocate new ids"). A bound term with no dictionary entry can never
// match anything, so the whole BGP short-circuits to zero results.
func (e *Executor) resolvePatternRefs(patterns []algebra.TriplePattern) ([]optimizer.PatternRef, bool, error) {
	refs := make([]optimizer.PatternRef, len(patterns))
	for i, tp := range patterns {
		var pat index.Pattern
		var svar, pvar, ovar string

		if tp.S.IsVar() {
			svar = tp.S.Var
		} else {
			id, ok, err := e.ad.LookupTerm(tp.S.Term)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			pat.S, pat.SBound = id, true
		}
		if tp.P.IsVar() {
			pvar = tp.P.Var
		} else {
			id, ok, err := e.ad.LookupTerm(tp.P.Term)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			pat.P, pat.PBound = id, true
		}
		if tp.O.IsVar() {
			ovar = tp.O.Var
		} else {
			id, ok, err := e.ad.LookupTerm(tp.O.Term)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			pat.O, pat.OBound = id, true
		}
		refs[i] = optimizer.PatternRef{Pattern: pat, SVar: svar, PVar: pvar, OVar: ovar, OrigIndex: i}
	}
	return refs, true, nil
}

// evalBGP plans and executes a basic graph pattern via the optimizer's
// chosen join tree, executing each Plan node with the join engine the
// optimizer decided on (spec.md §4.7/§4.8).
func (e *Executor) evalBGP(node *algebra.Node) ([]Binding, error) {
	refs, ok, err := e.resolvePatternRefs(node.Patterns)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var bindings []Binding
	if len(refs) > 0 {
		key := e.planCacheKey(node)
		chosen, ok := e.opt.Lookup(key)
		if !ok {
			chosen = optimizer.PlanBGP(refs, e.st)
			e.opt.Store(key, chosen, refs)
		}
		bindings, err = e.execPlan(chosen)
		if err != nil {
			return nil, err
		}
	} else {
		bindings = []Binding{{}}
	}

	if len(node.Paths) == 0 {
		return bindings, nil
	}
	for _, pp := range node.Paths {
		bindings, err = e.evalPathPattern(pp, bindings)
		if err != nil {
			return nil, err
		}
		if len(bindings) == 0 {
			return nil, nil
		}
	}
	return bindings, nil
}

// planCacheKey identifies a BGP for the optimizer's plan cache. The
// node pointer's identity is stable for the lifetime of one parsed
// query, which is the cache's intended scope (spec.md §4.7 "keyed per
// prepared query, invalidated on schema/predicate changes").
func (e *Executor) planCacheKey(node *algebra.Node) string {
	return ptrKey(node)
}

func (e *Executor) execPlan(p *optimizer.Plan) ([]Binding, error) {
	if err := e.checkDeadline(); err != nil {
		return nil, err
	}
	switch p.Strategy {
	case optimizer.StrategyScan:
		sc := join.NewScanner(p.Leaf.Pattern, p.Leaf.SVar, p.Leaf.PVar, p.Leaf.OVar)
		return e.scanAll(sc)
	case optimizer.StrategyLeapfrog:
		scanners := make([]*join.Scanner, len(p.Clique))
		for i, ref := range p.Clique {
			scanners[i] = join.NewScanner(ref.Pattern, ref.SVar, ref.PVar, ref.OVar)
		}
		varOrder := leapfrogVarOrder(p.Clique, p.SharedVar)
		return join.LeapfrogJoin(e.ix, e.snap, scanners, varOrder, e.limits.JoinLimits)
	case optimizer.StrategyNestedLoop, optimizer.StrategyHashJoin:
		left, err := e.execPlan(p.Left)
		if err != nil {
			return nil, err
		}
		if len(left) == 0 {
			return nil, nil
		}
		if p.Right.Strategy == optimizer.StrategyScan && p.Strategy == optimizer.StrategyNestedLoop {
			sc := join.NewScanner(p.Right.Leaf.Pattern, p.Right.Leaf.SVar, p.Right.Leaf.PVar, p.Right.Leaf.OVar)
			return join.NestedLoop(e.ix, e.snap, left, sc)
		}
		right, err := e.execPlan(p.Right)
		if err != nil {
			return nil, err
		}
		if len(right) == 0 {
			return nil, nil
		}
		if p.Strategy == optimizer.StrategyHashJoin {
			shared := sharedVars(left, right)
			return join.HashJoin(left, right, shared), nil
		}
		return nestedLoopOverBindings(left, right), nil
	default:
		return nil, errs.New(errs.Fatal, "exec.plan", "unknown join strategy")
	}
}

func (e *Executor) scanAll(sc *join.Scanner) ([]Binding, error) {
	cur, err := sc.Open(e.ix, e.snap, Binding{})
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	var out []Binding
	for cur.Next() {
		b, ok := cur.Binding()
		if ok {
			out = append(out, b)
		}
	}
	return out, cur.Err()
}

// nestedLoopOverBindings combines two already-materialized binding
// slices whose source plans were each evaluated independently (used
// when the right side of a nested-loop plan node is itself a join,
// not a bare scan) by compatible-merging on shared variables.
func nestedLoopOverBindings(left, right []Binding) []Binding {
	var out []Binding
	for _, l := range left {
		for _, r := range right {
			if merged, ok := compatibleMerge(l, r); ok {
				out = append(out, merged)
			}
		}
	}
	return out
}

// leapfrogVarOrder orders the clique's shared hub variable first, then
// every other variable touched by the clique's patterns, giving the
// join engine a deterministic level order.
func leapfrogVarOrder(clique []optimizer.PatternRef, hub string) []string {
	order := []string{hub}
	seen := map[string]bool{hub: true}
	for _, ref := range clique {
		for _, v := range []string{ref.SVar, ref.PVar, ref.OVar} {
			if v != "" && !seen[v] {
				seen[v] = true
				order = append(order, v)
			}
		}
	}
	return order
}

// evalPathPattern resolves one property-path triple pattern against
// the current binding frontier, extending each binding with the
// path's object (or enumerating subjects too, when both endpoints are
// unbound).
func (e *Executor) evalPathPattern(pp algebra.PathPattern, frontier []Binding) ([]Binding, error) {
	pathExpr, err := e.compilePath(pp.Path)
	if err != nil {
		return nil, err
	}
	ev := path.NewEvaluator(e.ix, e.snap, e.limits.PathLimits, e.tel)

	var out []Binding
	for _, b := range frontier {
		starts, startBound, err := e.pathStarts(pp.S, b)
		if err != nil {
			return nil, err
		}
		if !startBound {
			starts, err = e.enumerateSubjects()
			if err != nil {
				return nil, err
			}
		}
		for _, start := range starts {
			ends, err := ev.Eval(pathExpr, start, false, 0)
			if err != nil {
				return nil, err
			}
			for _, end := range ends {
				candidate := b.Clone()
				if pp.S.IsVar() {
					if existing, ok := candidate[pp.S.Var]; ok && existing != start {
						continue
					}
					candidate[pp.S.Var] = start
				}
				if pp.O.IsVar() {
					if existing, ok := candidate[pp.O.Var]; ok && existing != end {
						continue
					}
					candidate[pp.O.Var] = end
				} else {
					endID, ok, err := e.ad.LookupTerm(pp.O.Term)
					if err != nil {
						return nil, err
					}
					if !ok || endID != end {
						continue
					}
				}
				out = append(out, candidate)
			}
		}
	}
	return out, nil
}

// pathStarts resolves the path's subject slot to a single bound id
// under b, reporting startBound=false when the subject is an
// as-yet-unbound variable.
func (e *Executor) pathStarts(s algebra.PatternTerm, b Binding) ([]ids.ID, bool, error) {
	if !s.IsVar() {
		id, ok, err := e.ad.LookupTerm(s.Term)
		if err != nil || !ok {
			return nil, true, err
		}
		return []ids.ID{id}, true, nil
	}
	if id, ok := b[s.Var]; ok {
		return []ids.ID{id}, true, nil
	}
	return nil, false, nil
}

// enumerateSubjects returns a bounded, distinct set of candidate start
// subjects for a path pattern whose subject is unbound — spec.md
// §4.10 "cross-product only when both are unbound and then only
// within bounded frontier/result sizes".
func (e *Executor) enumerateSubjects() ([]ids.ID, error) {
	cur, err := e.ix.Lookup(e.snap, index.Pattern{}, "")
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	limit := e.limits.PathLimits.MaxFrontier
	seen := map[ids.ID]bool{}
	var out []ids.ID
	for cur.Next() && len(out) < limit {
		s := cur.Triple().S
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// compilePath resolves an algebra.PathExpr's term-space predicates to
// ids, producing the internal/path representation the Evaluator
// consumes.
func (e *Executor) compilePath(p algebra.PathExpr) (path.Expr, error) {
	out := path.Expr{Op: path.Op(p.Op)}
	if p.Op == algebra.PathPredicate {
		id, ok, err := e.ad.LookupTerm(p.Pred)
		if err != nil {
			return path.Expr{}, err
		}
		if !ok {
			// No such predicate exists in the dictionary: the path can
			// never match anything, represented as a predicate id that
			// will simply find no triples.
			out.Pred = ids.ID(0)
			return out, nil
		}
		out.Pred = id
	}
	for _, neg := range p.Negated {
		id, ok, err := e.ad.LookupTerm(neg)
		if err != nil {
			return path.Expr{}, err
		}
		if ok {
			out.Negated = append(out.Negated, id)
		}
	}
	for _, c := range p.Children {
		child, err := e.compilePath(c)
		if err != nil {
			return path.Expr{}, err
		}
		out.Children = append(out.Children, child)
	}
	if p.Inner != nil {
		inner, err := e.compilePath(*p.Inner)
		if err != nil {
			return path.Expr{}, err
		}
		out.Inner = &inner
	}
	return out, nil
}
