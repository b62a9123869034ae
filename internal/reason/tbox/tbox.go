// Package tbox maintains the reasoner's TBox cache: the schema summary
// rules.Compile specializes against, plus precomputed transitive
// closures over subClassOf/subPropertyOf for fast ancestor lookups
// (spec.md §4.13 "TBox cache... precomputes/memoizes transitive
// closures for class/property hierarchies... stored under stable keys
// with a version token, invalidated selectively when an UPDATE touches
// TBox-relevant predicates").
//
// Version tokens use google/uuid, the same library internal/optimizer
// already uses for its plan-cache generation token — a TBox refresh is
// exactly the same "roll a fresh opaque token forward" shape as a full
// plan-cache invalidation, just scoped to schema-derived state instead
// of query plans.
package tbox

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kvgraph/triplestore/internal/adapter"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
	"github.com/kvgraph/triplestore/internal/reason/rules"
	"github.com/kvgraph/triplestore/internal/stats"
	"github.com/kvgraph/triplestore/internal/term"
)

// Summary extends rules.SchemaSummary with the raw subClassOf edges
// needed for the hierarchy-closure cache below — rules.SchemaSummary
// itself has no ClassParents field because the subclass-entailment
// rules operate generically over the subClassOf predicate rather than
// being specialized per class pair.
type Summary struct {
	rules.SchemaSummary
	ClassParents map[ids.ID][]ids.ID

	// RelevantPredicates is the set of predicate ids this summary was
	// built from; an UPDATE touching any of them invalidates the cache.
	RelevantPredicates map[ids.ID]bool
}

// Cache holds one materialized Summary plus memoized transitive
// closures, all replaced atomically on Refresh.
type Cache struct {
	mu           sync.RWMutex
	version      string
	summary      Summary
	classClosure map[ids.ID]map[ids.ID]bool
	propClosure  map[ids.ID]map[ids.ID]bool
}

func New() *Cache {
	return &Cache{version: uuid.NewString()}
}

// Version returns the current opaque token; callers comparing a
// previously-read token against this one can tell whether anything
// schema-relevant changed without re-running a diff.
func (c *Cache) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// RuleSchema returns the rules.SchemaSummary half, ready to hand to
// rules.Compile.
func (c *Cache) RuleSchema() rules.SchemaSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.summary.SchemaSummary
}

// Ancestors returns every class transitively reachable from class via
// subClassOf, deduplicated even across diamond-shaped hierarchies,
// in a stable sorted order.
func (c *Cache) Ancestors(class ids.ID) []ids.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.classClosure[class])
}

// PropertyAncestors is Ancestors' subPropertyOf analogue.
func (c *Cache) PropertyAncestors(prop ids.ID) []ids.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.propClosure[prop])
}

// NeedsRefresh reports whether any of the given predicates (typically
// the ones an UPDATE just touched) are part of the schema this cache
// was last built from — the selective-invalidation test spec.md §4.13
// asks for, leaving the caller (internal/store's write path) to decide
// when to actually call Refresh.
func (c *Cache) NeedsRefresh(touched []ids.ID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range touched {
		if c.summary.RelevantPredicates[p] {
			return true
		}
	}
	return false
}

// Refresh rebuilds the schema summary and closures from the store
// under snap and bumps the version token. Safe to call even when
// nothing changed — the new summary will simply equal the old one,
// modulo the token.
func (c *Cache) Refresh(ad *adapter.Adapter, ix *index.Index, snap *kvstore.Snapshot, st *stats.Statistics) error {
	summary, err := extractSummary(ad, ix, snap, st)
	if err != nil {
		return err
	}
	classClosure := closeTransitive(summary.ClassParents)
	propClosure := closeTransitive(summary.SubPropertyOf)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary = summary
	c.classClosure = classClosure
	c.propClosure = propClosure
	c.version = uuid.NewString()
	return nil
}

func sortedKeys(m map[ids.ID]bool) []ids.ID {
	out := make([]ids.ID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// closeTransitive computes, for every node with at least one outgoing
// edge, the full set of nodes reachable by following edges — an
// iterative-by-memoization fixpoint that naturally collapses diamond
// inheritance (multiple paths to the same ancestor count once) and
// tolerates cycles in malformed schemas (a node mid-recursion is never
// re-entered, so a cycle just stops contributing new ancestors rather
// than looping forever).
func closeTransitive(edges map[ids.ID][]ids.ID) map[ids.ID]map[ids.ID]bool {
	memo := map[ids.ID]map[ids.ID]bool{}
	inProgress := map[ids.ID]bool{}

	var visit func(n ids.ID) map[ids.ID]bool
	visit = func(n ids.ID) map[ids.ID]bool {
		if m, ok := memo[n]; ok {
			return m
		}
		if inProgress[n] {
			return map[ids.ID]bool{}
		}
		inProgress[n] = true
		acc := map[ids.ID]bool{}
		for _, next := range edges[n] {
			acc[next] = true
			for anc := range visit(next) {
				acc[anc] = true
			}
		}
		delete(inProgress, n)
		memo[n] = acc
		return acc
	}

	closure := make(map[ids.ID]map[ids.ID]bool, len(edges))
	for n := range edges {
		closure[n] = visit(n)
	}
	return closure
}

// extractSummary scans the explicit store for the handful of
// RDFS/OWL schema predicates and characteristic declarations spec.md
// §4.13 names, building both the rule-compiler's SchemaSummary and the
// raw subClassOf edges the closure cache needs.
func extractSummary(ad *adapter.Adapter, ix *index.Index, snap *kvstore.Snapshot, st *stats.Statistics) (Summary, error) {
	predicatePresent := make(map[ids.ID]bool, len(st.PredicateCounts))
	for p := range st.PredicateCounts {
		predicatePresent[ids.ID(p)] = true
	}

	relevant := map[ids.ID]bool{}
	rememberRelevant := func(id ids.ID, ok bool) {
		if ok {
			relevant[id] = true
		}
	}

	typeID, typeOK, err := lookupWellKnown(ad, rules.RDFType)
	if err != nil {
		return Summary{}, err
	}
	subClassID, subClassOK, err := lookupWellKnown(ad, rules.RDFSSubClassOf)
	if err != nil {
		return Summary{}, err
	}
	subPropID, subPropOK, err := lookupWellKnown(ad, rules.RDFSSubPropertyOf)
	if err != nil {
		return Summary{}, err
	}
	domainID, domainOK, err := lookupWellKnown(ad, rules.RDFSDomain)
	if err != nil {
		return Summary{}, err
	}
	rangeID, rangeOK, err := lookupWellKnown(ad, rules.RDFSRange)
	if err != nil {
		return Summary{}, err
	}
	inverseOfID, inverseOfOK, err := lookupWellKnown(ad, rules.OWLInverseOf)
	if err != nil {
		return Summary{}, err
	}
	transitiveClassID, transitiveOK, err := lookupWellKnown(ad, rules.OWLTransitiveProperty)
	if err != nil {
		return Summary{}, err
	}
	symmetricClassID, symmetricOK, err := lookupWellKnown(ad, rules.OWLSymmetricProperty)
	if err != nil {
		return Summary{}, err
	}
	functionalClassID, functionalOK, err := lookupWellKnown(ad, rules.OWLFunctionalProperty)
	if err != nil {
		return Summary{}, err
	}
	inverseFunctionalClassID, inverseFunctionalOK, err := lookupWellKnown(ad, rules.OWLInverseFunctional)
	if err != nil {
		return Summary{}, err
	}

	rememberRelevant(typeID, typeOK)
	rememberRelevant(subClassID, subClassOK)
	rememberRelevant(subPropID, subPropOK)
	rememberRelevant(domainID, domainOK)
	rememberRelevant(rangeID, rangeOK)
	rememberRelevant(inverseOfID, inverseOfOK)

	summary := Summary{
		SchemaSummary: rules.SchemaSummary{
			PredicatePresent: predicatePresent,
			SubPropertyOf:    map[ids.ID][]ids.ID{},
			Domain:           map[ids.ID][]ids.ID{},
			Range:            map[ids.ID][]ids.ID{},
			InverseOf:        map[ids.ID][]ids.ID{},
			Transitive:       map[ids.ID]bool{},
			Symmetric:        map[ids.ID]bool{},
			Functional:       map[ids.ID]bool{},
			InverseFunctional: map[ids.ID]bool{},
		},
		ClassParents:       map[ids.ID][]ids.ID{},
		RelevantPredicates: relevant,
	}

	if subClassOK {
		if err := scanPairs(ix, snap, subClassID, func(s, o ids.ID) {
			summary.ClassParents[s] = append(summary.ClassParents[s], o)
		}); err != nil {
			return Summary{}, err
		}
	}
	if subPropOK {
		if err := scanPairs(ix, snap, subPropID, func(s, o ids.ID) {
			summary.SubPropertyOf[s] = append(summary.SubPropertyOf[s], o)
		}); err != nil {
			return Summary{}, err
		}
	}
	if domainOK {
		if err := scanPairs(ix, snap, domainID, func(s, o ids.ID) {
			summary.Domain[s] = append(summary.Domain[s], o)
		}); err != nil {
			return Summary{}, err
		}
	}
	if rangeOK {
		if err := scanPairs(ix, snap, rangeID, func(s, o ids.ID) {
			summary.Range[s] = append(summary.Range[s], o)
		}); err != nil {
			return Summary{}, err
		}
	}
	if inverseOfOK {
		if err := scanPairs(ix, snap, inverseOfID, func(s, o ids.ID) {
			// owl:inverseOf is symmetric: p inverseOf q implies q inverseOf p.
			summary.InverseOf[s] = append(summary.InverseOf[s], o)
			summary.InverseOf[o] = append(summary.InverseOf[o], s)
		}); err != nil {
			return Summary{}, err
		}
	}

	if typeOK {
		if transitiveOK {
			if err := scanTypeMembers(ix, snap, typeID, transitiveClassID, summary.Transitive); err != nil {
				return Summary{}, err
			}
		}
		if symmetricOK {
			if err := scanTypeMembers(ix, snap, typeID, symmetricClassID, summary.Symmetric); err != nil {
				return Summary{}, err
			}
		}
		if functionalOK {
			if err := scanTypeMembers(ix, snap, typeID, functionalClassID, summary.Functional); err != nil {
				return Summary{}, err
			}
		}
		if inverseFunctionalOK {
			if err := scanTypeMembers(ix, snap, typeID, inverseFunctionalClassID, summary.InverseFunctional); err != nil {
				return Summary{}, err
			}
		}
	}

	return summary, nil
}

func lookupWellKnown(ad *adapter.Adapter, iri string) (ids.ID, bool, error) {
	return ad.LookupTerm(term.NewIRI(iri))
}

// scanPairs visits every (s, o) under predicate p, via the properly
// indexed POS lookup (p bound, s/o free).
func scanPairs(ix *index.Index, snap *kvstore.Snapshot, p ids.ID, visit func(s, o ids.ID)) error {
	cur, err := ix.Lookup(snap, index.Pattern{P: p, PBound: true}, "")
	if err != nil {
		return err
	}
	defer cur.Close()
	for cur.Next() {
		t := cur.Triple()
		visit(t.S, t.O)
	}
	return cur.Err()
}

// scanTypeMembers collects every subject of `? typeID classID` into set.
func scanTypeMembers(ix *index.Index, snap *kvstore.Snapshot, typeID, classID ids.ID, set map[ids.ID]bool) error {
	cur, err := ix.Lookup(snap, index.Pattern{P: typeID, O: classID, PBound: true, OBound: true}, "")
	if err != nil {
		return err
	}
	defer cur.Close()
	for cur.Next() {
		set[cur.Triple().S] = true
	}
	return cur.Err()
}
