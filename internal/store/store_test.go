package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvgraph/triplestore/internal/adapter"
	"github.com/kvgraph/triplestore/internal/reason/rules"
	"github.com/kvgraph/triplestore/internal/term"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertThenQueryRoundTrips(t *testing.T) {
	s := openTestStore(t)
	iri := term.NewIRI
	alice, knows, bob := iri("http://ex/alice"), iri("http://ex/knows"), iri("http://ex/bob")

	_, err := s.Insert(context.Background(), []adapter.TripleTerms{{S: alice, P: knows, O: bob}})
	require.NoError(t, err)

	res, err := s.Query(context.Background(), "SELECT ?o WHERE { <http://ex/alice> <http://ex/knows> ?o }")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, bob, res.Rows[0]["o"])
}

func TestQueryCacheServesSecondCallWithoutReEvaluating(t *testing.T) {
	s := openTestStore(t)
	iri := term.NewIRI
	alice, knows, bob := iri("http://ex/alice"), iri("http://ex/knows"), iri("http://ex/bob")
	_, err := s.Insert(context.Background(), []adapter.TripleTerms{{S: alice, P: knows, O: bob}})
	require.NoError(t, err)

	q := "SELECT ?o WHERE { <http://ex/alice> <http://ex/knows> ?o }"
	first, err := s.Query(context.Background(), q)
	require.NoError(t, err)
	second, err := s.Query(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, first.Rows, second.Rows)
	_, cached := s.queryCache.Get(queryCacheKey(q))
	require.True(t, cached)

	// A write touching the same predicate must evict the cached entry.
	_, err = s.Insert(context.Background(), []adapter.TripleTerms{{S: bob, P: knows, O: alice}})
	require.NoError(t, err)
	_, cached = s.queryCache.Get(queryCacheKey(q))
	require.False(t, cached)
	third, err := s.Query(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, third.Rows, 1)
}

func TestDeleteThenQueryReturnsNoRows(t *testing.T) {
	s := openTestStore(t)
	iri := term.NewIRI
	alice, knows, bob := iri("http://ex/alice"), iri("http://ex/knows"), iri("http://ex/bob")
	tt := adapter.TripleTerms{S: alice, P: knows, O: bob}

	_, err := s.Insert(context.Background(), []adapter.TripleTerms{tt})
	require.NoError(t, err)
	_, err = s.Delete(context.Background(), []adapter.TripleTerms{tt})
	require.NoError(t, err)

	res, err := s.Query(context.Background(), "ASK { <http://ex/alice> <http://ex/knows> <http://ex/bob> }")
	require.NoError(t, err)
	require.False(t, res.Ask)
}

func TestUpdateInsertDataThenAsk(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Update(context.Background(), "INSERT DATA { <http://ex/a> <http://ex/p> <http://ex/b> }")
	require.NoError(t, err)

	res, err := s.Query(context.Background(), "ASK { <http://ex/a> <http://ex/p> <http://ex/b> }")
	require.NoError(t, err)
	require.True(t, res.Ask)
}

// TestMaterializeDerivesTransitiveSubclassChain reproduces spec.md
// §8's worked example end-to-end through the Store surface: Student
// subClassOf Person subClassOf Agent, alice type Student, materialize,
// then delete Student subClassOf Person and confirm both alice type
// Person and alice type Agent are retracted since neither has a
// surviving alternative derivation.
func TestMaterializeDerivesTransitiveSubclassChain(t *testing.T) {
	s := openTestStore(t)
	s.SetAutoMaintain(true)
	require.NoError(t, s.SetReasoningProfiles(map[rules.Profile]bool{rules.ProfileRDFS: true}))

	iri := term.NewIRI
	subClassOf := iri("http://www.w3.org/2000/01/rdf-schema#subClassOf")
	rdfType := iri("http://www.w3.org/1999/02/22-rdf-syntax-ns#type")
	student := iri("http://ex/Student")
	person := iri("http://ex/Person")
	agent := iri("http://ex/Agent")
	alice := iri("http://ex/alice")

	studentSubPerson := adapter.TripleTerms{S: student, P: subClassOf, O: person}
	ctx := context.Background()
	_, err := s.Insert(ctx, []adapter.TripleTerms{
		studentSubPerson,
		{S: person, P: subClassOf, O: agent},
		{S: alice, P: rdfType, O: student},
	})
	require.NoError(t, err)

	_, err = s.Materialize(ctx)
	require.NoError(t, err)

	askPerson := "ASK { <http://ex/alice> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://ex/Person> }"
	askAgent := "ASK { <http://ex/alice> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://ex/Agent> }"

	res, err := s.Query(ctx, askPerson)
	require.NoError(t, err)
	require.True(t, res.Ask)
	res, err = s.Query(ctx, askAgent)
	require.NoError(t, err)
	require.True(t, res.Ask)

	_, err = s.Delete(ctx, []adapter.TripleTerms{studentSubPerson})
	require.NoError(t, err)

	res, err = s.Query(ctx, askPerson)
	require.NoError(t, err)
	require.False(t, res.Ask)
	res, err = s.Query(ctx, askAgent)
	require.NoError(t, err)
	require.False(t, res.Ask)
}

func TestHealthReportsOpenAfterOpen(t *testing.T) {
	s := openTestStore(t)
	h := s.Health()
	require.True(t, h.OK)
	require.NotNil(t, h.CacheStats)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "db"), Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestExportStreamsInsertedTriples(t *testing.T) {
	s := openTestStore(t)
	iri := term.NewIRI
	tt := adapter.TripleTerms{S: iri("http://ex/a"), P: iri("http://ex/p"), O: iri("http://ex/b")}
	_, err := s.Insert(context.Background(), []adapter.TripleTerms{tt})
	require.NoError(t, err)

	var got []adapter.TripleTerms
	err = s.Export(context.Background(), func(t adapter.TripleTerms) error {
		got = append(got, t)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, tt.S, got[0].S)
	require.Equal(t, tt.P, got[0].P)
	require.Equal(t, tt.O, got[0].O)
}
