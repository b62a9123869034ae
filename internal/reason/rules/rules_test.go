package rules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvgraph/triplestore/internal/ids"
)

func fakeResolver(known map[string]ids.ID) TermResolver {
	return func(iri string) (ids.ID, bool, error) {
		id, ok := known[iri]
		return id, ok, nil
	}
}

func TestCompileRDFSDropsRulesWhoseTriggerIsAbsent(t *testing.T) {
	resolve := fakeResolver(map[string]ids.ID{
		RDFType: 1,
		// RDFSSubClassOf and RDFSSubPropertyOf deliberately absent.
	})
	schema := SchemaSummary{PredicatePresent: map[ids.ID]bool{1: true}}

	out, err := Compile(resolve, schema, map[Profile]bool{ProfileRDFS: true})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestCompileRDFSProducesTransitivityAndInheritanceRules(t *testing.T) {
	resolve := fakeResolver(map[string]ids.ID{
		RDFType:           1,
		RDFSSubClassOf:    2,
		RDFSSubPropertyOf: 3,
	})
	schema := SchemaSummary{
		PredicatePresent: map[ids.ID]bool{1: true, 2: true, 3: true},
		SubPropertyOf:    map[ids.ID][]ids.ID{10: {11}},
		Domain:           map[ids.ID][]ids.ID{20: {100}},
		Range:            map[ids.ID][]ids.ID{20: {200}},
	}

	out, err := Compile(resolve, schema, map[Profile]bool{ProfileRDFS: true})
	require.NoError(t, err)

	ids := map[string]Rule{}
	for _, r := range out {
		ids[r.ID] = r
	}
	require.Contains(t, ids, "rdfs:subclass-trans")
	require.Contains(t, ids, "rdfs:type-subclass")
	require.Contains(t, ids, "rdfs:subprop-trans")
	require.Contains(t, ids, "rdfs:subprop-inherit#a-b")
	require.Contains(t, ids, "rdfs:domain#14-64")
	require.Contains(t, ids, "rdfs:range#14-c8")

	domainRule := ids["rdfs:domain#14-64"]
	require.Len(t, domainRule.Body, 1)
	require.False(t, domainRule.Body[0].P.IsVar())
	require.Equal(t, Pattern{S: V("s"), P: B(1), O: B(100)}, domainRule.Head)
}

func TestCompileOWL2RLSpecializesCharacteristicsPerProperty(t *testing.T) {
	resolve := fakeResolver(map[string]ids.ID{
		OWLSameAs: 5,
	})
	schema := SchemaSummary{
		PredicatePresent: map[ids.ID]bool{5: true},
		Transitive:       map[ids.ID]bool{42: true},
		Symmetric:        map[ids.ID]bool{43: true},
		Functional:       map[ids.ID]bool{44: true},
		InverseFunctional: map[ids.ID]bool{45: true},
	}

	out, err := Compile(resolve, schema, map[Profile]bool{ProfileOWL2RL: true})
	require.NoError(t, err)

	byID := map[string]Rule{}
	for _, r := range out {
		byID[r.ID] = r
	}
	require.Contains(t, byID, "owl:eq-sym")
	require.Contains(t, byID, "owl:eq-trans")
	require.Contains(t, byID, "owl:prp-trp#2a")
	require.Contains(t, byID, "owl:prp-symp#2b")
	require.Contains(t, byID, "owl:prp-fp#2c")
	require.Contains(t, byID, "owl:prp-ifp#2d")

	fp := byID["owl:prp-fp#2c"]
	require.Len(t, fp.Conditions, 1)
	require.Equal(t, CondNotEqual, fp.Conditions[0].Kind)
	require.Equal(t, Pattern{S: V("y1"), P: B(5), O: V("y2")}, fp.Head)
}

func TestCompileOWL2RLSkipsFunctionalRulesWithoutSameAs(t *testing.T) {
	resolve := fakeResolver(map[string]ids.ID{})
	schema := SchemaSummary{
		PredicatePresent: map[ids.ID]bool{},
		Functional:       map[ids.ID]bool{44: true},
	}

	out, err := Compile(resolve, schema, map[Profile]bool{ProfileOWL2RL: true})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestIdKeyRoundTripsThroughHexDigits(t *testing.T) {
	require.Equal(t, "0", idKey(0))
	require.Equal(t, "a", idKey(10))
	require.Equal(t, "ff", idKey(255))
}
