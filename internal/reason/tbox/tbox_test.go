package tbox

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvgraph/triplestore/internal/adapter"
	"github.com/kvgraph/triplestore/internal/dictionary"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
	"github.com/kvgraph/triplestore/internal/reason/rules"
	"github.com/kvgraph/triplestore/internal/stats"
	"github.com/kvgraph/triplestore/internal/telemetry"
	"github.com/kvgraph/triplestore/internal/term"
)

func openTestEnv(t *testing.T) (*kvstore.Env, *index.Index, *adapter.Adapter) {
	t.Helper()
	env, err := kvstore.Open(kvstore.Options{Path: filepath.Join(t.TempDir(), "db")}, kvstore.DefaultTableCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })

	dict, err := dictionary.Open(env, dictionary.DefaultOptions, telemetry.Noop(), nil)
	require.NoError(t, err)
	ad := adapter.New(dict)
	ix := index.New(env)
	return env, ix, ad
}

func TestRefreshExtractsDiamondSubclassClosure(t *testing.T) {
	env, ix, ad := openTestEnv(t)
	iri := term.NewIRI
	subClassOf := iri(rules.RDFSSubClassOf)

	// D subClassOf B, D subClassOf C, B subClassOf A, C subClassOf A —
	// a diamond: D's closure must list A exactly once.
	a, b, c, d := iri("http://ex/A"), iri("http://ex/B"), iri("http://ex/C"), iri("http://ex/D")
	triples, err := ad.EncodeTriples([]adapter.TripleTerms{
		{S: d, P: subClassOf, O: b},
		{S: d, P: subClassOf, O: c},
		{S: b, P: subClassOf, O: a},
		{S: c, P: subClassOf, O: a},
	})
	require.NoError(t, err)
	require.NoError(t, ix.InsertTriples(triples, true))

	snap, err := env.NewSnapshot()
	require.NoError(t, err)
	defer snap.Release()

	st := &stats.Statistics{PredicateCounts: map[uint64]uint64{}}
	subClassID, _, err := ad.LookupTerm(subClassOf)
	require.NoError(t, err)
	st.PredicateCounts[uint64(subClassID)] = 4

	cache := New()
	before := cache.Version()
	require.NoError(t, cache.Refresh(ad, ix, snap, st))
	require.NotEqual(t, before, cache.Version())

	dID, _, err := ad.LookupTerm(d)
	require.NoError(t, err)
	aID, _, err := ad.LookupTerm(a)
	require.NoError(t, err)
	bID, _, err := ad.LookupTerm(b)
	require.NoError(t, err)
	cID, _, err := ad.LookupTerm(c)
	require.NoError(t, err)

	ancestors := cache.Ancestors(dID)
	require.ElementsMatch(t, []ids.ID{aID, bID, cID}, ancestors)

	require.True(t, cache.NeedsRefresh([]ids.ID{subClassID}))
	require.False(t, cache.NeedsRefresh([]ids.ID{ids.ID(999999)}))
}
