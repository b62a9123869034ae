package optimizer

import "github.com/kvgraph/triplestore/internal/stats"

// planExhaustive tries every left-deep join order (n ≤ exhaustiveLimit
// so n! is always small) plus a whole-BGP Leapfrog candidate, keeping
// the minimum-cost result.
func planExhaustive(patterns []PatternRef, st *stats.Statistics) *Plan {
	best := bestLeftDeepOrder(patterns, st)
	if lf, ok := leapfrogPlan(patterns, st); ok && lf.EstCost < best.EstCost {
		best = lf
	}
	return best
}

func bestLeftDeepOrder(patterns []PatternRef, st *stats.Statistics) *Plan {
	idx := make([]int, len(patterns))
	for i := range idx {
		idx[i] = i
	}
	var best *Plan
	permute(idx, 0, func(order []int) {
		plan := buildLeftDeep(patterns, order, st)
		if plan == nil {
			return
		}
		if best == nil || plan.EstCost < best.EstCost {
			best = plan
		}
	})
	return best
}

// buildLeftDeep folds patterns, in the given order, left to right.
// An order whose later pattern shares no variable with the
// accumulated plan is still valid (falls back to a cartesian
// combine), but the cost model penalizes it heavily via the product
// cardinality from stats.EstimateJoin's sharedVars==0 branch, so the
// search naturally avoids it when a connected order exists.
func buildLeftDeep(patterns []PatternRef, order []int, st *stats.Statistics) *Plan {
	acc := scanPlan(patterns[order[0]], st)
	for _, i := range order[1:] {
		next := scanPlan(patterns[i], st)
		acc = combine(acc, next, st)
	}
	return acc
}

// permute calls visit once per permutation of idx (recursive swap, then undo).
func permute(idx []int, k int, visit func([]int)) {
	if k == len(idx) {
		cp := append([]int{}, idx...)
		visit(cp)
		return
	}
	for i := k; i < len(idx); i++ {
		idx[k], idx[i] = idx[i], idx[k]
		permute(idx, k+1, visit)
		idx[k], idx[i] = idx[i], idx[k]
	}
}
