package optimizer

import (
	"math/bits"
	"sort"

	"github.com/kvgraph/triplestore/internal/stats"
)

// maxDPccpPatterns bounds the bitmask DP to BGPs small enough for
// submask enumeration to stay tractable; larger BGPs fall back to a
// selectivity-ordered greedy left-deep plan rather than paying
// exponential planning cost on an adversarial query.
const maxDPccpPatterns = 16

// planDPccp implements spec.md §4.7's DPccp: dynamic programming over
// connected subgraphs of the BGP's shared-variable graph, avoiding
// cartesian products by only combining two subsets that are each
// internally connected and adjacent to each other.
func planDPccp(patterns []PatternRef, st *stats.Statistics) *Plan {
	n := len(patterns)
	if n > maxDPccpPatterns {
		return greedyPlan(patterns, st)
	}

	adj := buildAdjacency(patterns)
	dp := make([]*Plan, 1<<uint(n))
	for i := range patterns {
		dp[1<<uint(i)] = scanPlan(patterns[i], st)
	}

	for mask := 1; mask < (1 << uint(n)); mask++ {
		if bits.OnesCount(uint(mask)) < 2 {
			continue
		}
		if !connectedMask(mask, adj) {
			continue
		}
		var best *Plan
		for sub := (mask - 1) & mask; sub > 0; sub = (sub - 1) & mask {
			comp := mask &^ sub
			if comp == 0 || sub >= comp {
				continue
			}
			if dp[sub] == nil || dp[comp] == nil {
				continue
			}
			if !adjacentMasks(sub, comp, adj) {
				continue
			}
			cand := combine(dp[sub], dp[comp], st)
			if best == nil || cand.EstCost < best.EstCost {
				best = cand
			}
		}
		if best != nil {
			dp[mask] = best
		}
	}

	full := (1 << uint(n)) - 1
	best := dp[full]
	if lf, ok := leapfrogPlan(patterns, st); ok && (best == nil || lf.EstCost < best.EstCost) {
		best = lf
	}
	if best == nil {
		// The variable graph was disconnected (no shared variables tie
		// every pattern together): fall back to a greedy cartesian order.
		return greedyPlan(patterns, st)
	}
	return best
}

func buildAdjacency(patterns []PatternRef) [][]bool {
	n := len(patterns)
	adj := make([][]bool, n)
	for i := range adj {
		adj[i] = make([]bool, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if len(sharedVars(patterns[i].vars(), patterns[j].vars())) > 0 {
				adj[i][j], adj[j][i] = true, true
			}
		}
	}
	return adj
}

func connectedMask(mask int, adj [][]bool) bool {
	first := bits.TrailingZeros(uint(mask))
	visited := 1 << uint(first)
	stack := []int{first}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for j := range adj[v] {
			bit := 1 << uint(j)
			if mask&bit == 0 || visited&bit != 0 || !adj[v][j] {
				continue
			}
			visited |= bit
			stack = append(stack, j)
		}
	}
	return visited == mask
}

func adjacentMasks(a, b int, adj [][]bool) bool {
	for i := range adj {
		if a&(1<<uint(i)) == 0 {
			continue
		}
		for j := range adj[i] {
			if b&(1<<uint(j)) != 0 && adj[i][j] {
				return true
			}
		}
	}
	return false
}

// greedyPlan orders patterns by ascending estimated cardinality
// (most-selective-first) and folds them left-deep; used when the BGP
// exceeds maxDPccpPatterns.
func greedyPlan(patterns []PatternRef, st *stats.Statistics) *Plan {
	type scored struct {
		ref  PatternRef
		card uint64
	}
	scoredList := make([]scored, len(patterns))
	for i, p := range patterns {
		scoredList[i] = scored{p, stats.EstimatePattern(p.Pattern, st)}
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].card < scoredList[j].card })

	acc := scanPlan(scoredList[0].ref, st)
	for _, s := range scoredList[1:] {
		acc = combine(acc, scanPlan(s.ref, st), st)
	}
	return acc
}
