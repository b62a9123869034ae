package incremental

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
	"github.com/kvgraph/triplestore/internal/reason/seminaive"
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
	return &testEnv{env: env, ix: index.New(env), ad: adapter.New(dict)}
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

// TestDeleteRemovesDerivedFactsWithNoAlternativeDerivation reproduces
// spec.md §8's worked example: removing Student subClassOf Person,
// when alice type Student is the only other source fact, must remove
// both alice type Person and alice type Agent from the derived set,
// since no alternative derivation of either survives.
func TestDeleteRemovesDerivedFactsWithNoAlternativeDerivation(t *testing.T) {
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

	mat := seminaive.New(env.ix, rs, telemetry.Noop(), seminaive.DefaultLimits())
	_, err = mat.MaterializeAll(context.Background(), env.snapshot(t))
	require.NoError(t, err)

	// Sanity: derived facts are present before the deletion.
	personID, _, err := env.ad.LookupTerm(person)
	require.NoError(t, err)
	agentID, _, err := env.ad.LookupTerm(agent)
	require.NoError(t, err)
	aliceID, _, err := env.ad.LookupTerm(alice)
	require.NoError(t, err)
	studentID, _, err := env.ad.LookupTerm(student)
	require.NoError(t, err)

	before := env.snapshot(t)
	derivedBefore := scanDerived(t, env.ix, before)
	require.True(t, derivedBefore[index.Triple{S: aliceID, P: typeID, O: personID}])
	require.True(t, derivedBefore[index.Triple{S: aliceID, P: typeID, O: agentID}])

	// Delete the Student subClassOf Person link from the explicit store.
	deleted := []index.Triple{{S: studentID, P: subClassID, O: personID}}
	require.NoError(t, env.ix.DeleteTriples(deleted, true))

	after := env.snapshot(t)
	maintainer := New(env.ix, rs, DefaultLimits())
	res, err := maintainer.Delete(context.Background(), after, deleted)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res.Removed), 2)

	final := env.snapshot(t)
	derivedAfter := scanDerived(t, env.ix, final)
	require.False(t, derivedAfter[index.Triple{S: aliceID, P: typeID, O: personID}])
	require.False(t, derivedAfter[index.Triple{S: aliceID, P: typeID, O: agentID}])
}

func scanDerived(t *testing.T, ix *index.Index, snap *kvstore.Snapshot) map[index.Triple]bool {
	t.Helper()
	cur, err := ix.Lookup(snap, index.Pattern{}, kvstore.TableDerived)
	require.NoError(t, err)
	defer cur.Close()
	out := map[index.Triple]bool{}
	for cur.Next() {
		out[cur.Triple()] = true
	}
	require.NoError(t, cur.Err())
	return out
}
