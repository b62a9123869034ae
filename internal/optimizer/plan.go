// Package optimizer implements spec.md §4.7: a cardinality-guided,
// cost-based optimizer over a basic graph pattern (BGP) — index-scan
// costs, pairwise nested-loop/hash-join costs, Leapfrog Triejoin costs
// for wide shared-variable cliques, exhaustive join enumeration for
// small BGPs, and a bitmask dynamic program over connected subgraphs
// (DPccp) beyond that.
//
// Grounded on erigon's own hand-rolled bitmask-DP idiom (bit-layout
// state machines such as `hasTree`/`hasState` in
// erigon-lib/kv/tables.go) for the DPccp subset enumeration — no pack
// library implements connected-subgraph join-order DP, so the bitmask
// walk here is native `uint64` bit arithmetic, matching the teacher's
// own approach to this class of problem.
package optimizer

import (
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/stats"
)

// exhaustiveLimit is the largest BGP size for which every join order is
// tried (spec.md §4.7 "Exhaustive for ≤5 patterns").
const exhaustiveLimit = 5

// leapfrogMinSharedVars is the minimum number of patterns that must
// share a single variable for Leapfrog to be considered for a clique
// (spec.md §4.7 "≥3 shared variables").
const leapfrogMinSharedVars = 3

// StrategyKind names the physical join/scan strategy chosen for a Plan node.
type StrategyKind int

const (
	StrategyScan StrategyKind = iota
	StrategyNestedLoop
	StrategyHashJoin
	StrategyLeapfrog
)

// PatternRef is one BGP triple pattern with its variable names
// recorded per slot (empty string means the slot is bound) and the
// resolved index.Pattern used for cardinality estimation and scanning.
// OrigIndex is the pattern's position in the original BGP, threaded
// through so the executor can map a Plan leaf back to its source
// algebra.TriplePattern.
type PatternRef struct {
	Pattern             index.Pattern
	SVar, PVar, OVar     string
	OrigIndex            int
}

func (r PatternRef) vars() []string {
	var vs []string
	if r.SVar != "" {
		vs = append(vs, r.SVar)
	}
	if r.PVar != "" {
		vs = append(vs, r.PVar)
	}
	if r.OVar != "" {
		vs = append(vs, r.OVar)
	}
	return vs
}

// Plan is one node of the chosen join tree.
type Plan struct {
	Strategy StrategyKind

	// StrategyScan: exactly one leaf pattern.
	Leaf *PatternRef

	// NestedLoop/HashJoin: binary tree.
	Left, Right *Plan

	// Leapfrog: a flat clique of patterns joined n-way on SharedVar.
	Clique    []PatternRef
	SharedVar string

	SharedVars []string
	EstCard    uint64
	EstCost    float64
}

// alpha is the per-row scan cost constant (spec.md §4.7 cost model).
const alpha = 1.0

func scanCost(p index.Pattern, card uint64) float64 {
	if p.SBound && p.PBound && p.OBound {
		return 1 // point lookup
	}
	if !p.SBound && !p.PBound && !p.OBound {
		return alpha * float64(card) // full scan
	}
	return alpha * float64(card) // prefix scan
}

// PlanBGP chooses a join tree for the given patterns using the
// exhaustive enumerator up to exhaustiveLimit patterns, and the DPccp
// bitmask DP above it.
func PlanBGP(patterns []PatternRef, st *stats.Statistics) *Plan {
	n := len(patterns)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return scanPlan(patterns[0], st)
	}
	if n <= exhaustiveLimit {
		return planExhaustive(patterns, st)
	}
	return planDPccp(patterns, st)
}

func scanPlan(p PatternRef, st *stats.Statistics) *Plan {
	card := stats.EstimatePattern(p.Pattern, st)
	leaf := p
	return &Plan{Strategy: StrategyScan, Leaf: &leaf, SharedVars: p.vars(), EstCard: card, EstCost: scanCost(p.Pattern, card)}
}

func sharedVars(a, b []string) []string {
	set := map[string]struct{}{}
	for _, v := range a {
		set[v] = struct{}{}
	}
	var shared []string
	for _, v := range b {
		if _, ok := set[v]; ok {
			shared = append(shared, v)
		}
	}
	return shared
}

func unionVars(a, b []string) []string {
	set := map[string]struct{}{}
	var out []string
	for _, v := range append(append([]string{}, a...), b...) {
		if _, ok := set[v]; !ok {
			set[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// combine picks the minimum-cost strategy between two already-planned
// subtrees sharing ≥1 variable: nested-loop or hash join (spec.md
// §4.7's strategy selector). Leapfrog is evaluated separately for
// whole cliques, not pairwise combination.
func combine(l, r *Plan, st *stats.Statistics) *Plan {
	shared := sharedVars(l.SharedVars, r.SharedVars)
	joinCard := stats.EstimateJoin(l.EstCard, r.EstCard, len(shared), st)

	nestedCost := float64(l.EstCard) * (r.EstCost / float64(maxU64(r.EstCard, 1)))
	hashCost := float64(l.EstCard + r.EstCard)

	if nestedCost <= hashCost {
		return &Plan{Strategy: StrategyNestedLoop, Left: l, Right: r, SharedVars: unionVars(l.SharedVars, r.SharedVars), EstCard: joinCard, EstCost: l.EstCost + r.EstCost + nestedCost}
	}
	return &Plan{Strategy: StrategyHashJoin, Left: l, Right: r, SharedVars: unionVars(l.SharedVars, r.SharedVars), EstCard: joinCard, EstCost: l.EstCost + r.EstCost + hashCost}
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// leapfrogPlan evaluates a whole clique as a single n-way Leapfrog
// join when some variable is shared by at least leapfrogMinSharedVars
// patterns; cost is proportional to the sum, over every variable of the clique, of
// the minimum estimated cardinality among patterns containing that
// variable (spec.md §4.7 "AGM-bound based").
func leapfrogPlan(patterns []PatternRef, st *stats.Statistics) (*Plan, bool) {
	varCount := map[string]int{}
	for _, p := range patterns {
		for _, v := range p.vars() {
			varCount[v]++
		}
	}
	var best string
	bestCount := 0
	for v, c := range varCount {
		if c > bestCount {
			best, bestCount = v, c
		}
	}
	if bestCount < leapfrogMinSharedVars {
		return nil, false
	}

	cards := make([]uint64, len(patterns))
	for i, p := range patterns {
		cards[i] = stats.EstimatePattern(p.Pattern, st)
	}

	var cost float64
	var allVars []string
	seen := map[string]struct{}{}
	for _, p := range patterns {
		for _, v := range p.vars() {
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				allVars = append(allVars, v)
			}
		}
	}
	for _, v := range allVars {
		minCard := ^uint64(0)
		for i, p := range patterns {
			for _, pv := range p.vars() {
				if pv == v && cards[i] < minCard {
					minCard = cards[i]
				}
			}
		}
		if minCard != ^uint64(0) {
			cost += float64(minCard)
		}
	}

	totalCard := uint64(1)
	for _, c := range cards {
		if c < totalCard || totalCard == 1 {
			totalCard = c
		}
	}
	return &Plan{Strategy: StrategyLeapfrog, Clique: append([]PatternRef{}, patterns...), SharedVar: best, SharedVars: allVars, EstCard: totalCard, EstCost: cost}, true
}
