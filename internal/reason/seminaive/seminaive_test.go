package seminaive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvgraph/triplestore/internal/adapter"
	"github.com/kvgraph/triplestore/internal/dictionary"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
	"github.com/kvgraph/triplestore/internal/reason/rules"
	"github.com/kvgraph/triplestore/internal/telemetry"
	"github.com/kvgraph/triplestore/internal/term"
)

type testEnv struct {
	env *kvstore.Env
	ix  *index.Index
	ad  *adapter.Adapter
}

func openTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env, err := kvstore.Open(kvstore.Options{Path: filepath.Join(t.TempDir(), "db")}, kvstore.DefaultTableCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })

	dict, err := dictionary.Open(env, dictionary.DefaultOptions, telemetry.Noop(), nil)
	require.NoError(t, err)
	ad := adapter.New(dict)
	ix := index.New(env)
	return &testEnv{env: env, ix: ix, ad: ad}
}

func (e *testEnv) insert(t *testing.T, triples []adapter.TripleTerms) {
	t.Helper()
	resolved, err := e.ad.EncodeTriples(triples)
	require.NoError(t, err)
	require.NoError(t, e.ix.InsertTriples(resolved, true))
}

func (e *testEnv) snapshot(t *testing.T) *kvstore.Snapshot {
	t.Helper()
	snap, err := e.env.NewSnapshot()
	require.NoError(t, err)
	t.Cleanup(func() { snap.Release() })
	return snap
}

// TestMaterializeAllDerivesTransitiveSubclassChain reproduces the
// worked example from spec.md §8: Student subClassOf Person subClassOf
// Agent, alice type Student, must derive alice type Person and alice
// type Agent.
func TestMaterializeAllDerivesTransitiveSubclassChain(t *testing.T) {
	env := openTestEnv(t)
	iri := term.NewIRI
	subClassOf := iri("http://ex/subClassOf")
	rdfType := iri("http://ex/type")
	student := iri("http://ex/Student")
	person := iri("http://ex/Person")
	agent := iri("http://ex/Agent")
	alice := iri("http://ex/alice")

	env.insert(t, []adapter.TripleTerms{
		{S: student, P: subClassOf, O: person},
		{S: person, P: subClassOf, O: agent},
		{S: alice, P: rdfType, O: student},
	})

	subClassID, _, err := env.ad.LookupTerm(subClassOf)
	require.NoError(t, err)
	typeID, _, err := env.ad.LookupTerm(rdfType)
	require.NoError(t, err)

	rs := []rules.Rule{
		{
			ID: "subclass-trans",
			Body: []rules.Pattern{
				{S: rules.V("x"), P: rules.B(subClassID), O: rules.V("y")},
				{S: rules.V("y"), P: rules.B(subClassID), O: rules.V("z")},
			},
			Head: rules.Pattern{S: rules.V("x"), P: rules.B(subClassID), O: rules.V("z")},
		},
		{
			ID: "type-subclass",
			Body: []rules.Pattern{
				{S: rules.V("x"), P: rules.B(typeID), O: rules.V("c")},
				{S: rules.V("c"), P: rules.B(subClassID), O: rules.V("d")},
			},
			Head: rules.Pattern{S: rules.V("x"), P: rules.B(typeID), O: rules.V("d")},
		},
	}

	m := New(env.ix, rs, telemetry.Noop(), DefaultLimits())
	snap := env.snapshot(t)
	res, err := m.MaterializeAll(context.Background(), snap)
	require.NoError(t, err)
	require.Greater(t, res.FactsAdded, 0)
	require.False(t, res.Capped)

	after := env.snapshot(t)
	personID, _, err := env.ad.LookupTerm(person)
	require.NoError(t, err)
	agentID, _, err := env.ad.LookupTerm(agent)
	require.NoError(t, err)
	aliceID, _, err := env.ad.LookupTerm(alice)
	require.NoError(t, err)

	derived, err := env.ix.Lookup(after, index.Pattern{}, kvstore.TableDerived)
	require.NoError(t, err)
	defer derived.Close()
	found := map[index.Triple]bool{}
	for derived.Next() {
		found[derived.Triple()] = true
	}
	require.True(t, found[index.Triple{S: aliceID, P: typeID, O: personID}])
	require.True(t, found[index.Triple{S: aliceID, P: typeID, O: agentID}])
}

func TestMaterializeAllStopsAtFixpointWithNoCycles(t *testing.T) {
	env := openTestEnv(t)
	iri := term.NewIRI
	subClassOf := iri("http://ex/subClassOf")
	a := iri("http://ex/A")
	b := iri("http://ex/B")
	env.insert(t, []adapter.TripleTerms{{S: a, P: subClassOf, O: b}})

	subClassID, _, err := env.ad.LookupTerm(subClassOf)
	require.NoError(t, err)

	rs := []rules.Rule{{
		ID: "subclass-trans",
		Body: []rules.Pattern{
			{S: rules.V("x"), P: rules.B(subClassID), O: rules.V("y")},
			{S: rules.V("y"), P: rules.B(subClassID), O: rules.V("z")},
		},
		Head: rules.Pattern{S: rules.V("x"), P: rules.B(subClassID), O: rules.V("z")},
	}}

	m := New(env.ix, rs, telemetry.Noop(), DefaultLimits())
	res, err := m.MaterializeAll(context.Background(), env.snapshot(t))
	require.NoError(t, err)
	require.Equal(t, 0, res.FactsAdded)
	require.False(t, res.Capped)
}
