package stats

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
)

func openFixture(t *testing.T) (*kvstore.Env, *index.Index) {
	t.Helper()
	env, err := kvstore.Open(kvstore.Options{Path: filepath.Join(t.TempDir(), "db")}, kvstore.DefaultTableCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env, index.New(env)
}

func TestCollectCountsTriplesAndDistincts(t *testing.T) {
	env, ix := openFixture(t)
	require.NoError(t, ix.InsertTriples([]index.Triple{
		{S: ids.ID(1), P: ids.ID(10), O: ids.ID(100)},
		{S: ids.ID(2), P: ids.ID(10), O: ids.ID(200)},
		{S: ids.ID(1), P: ids.ID(20), O: ids.ID(300)},
	}, true))

	c, err := New(env, ix)
	require.NoError(t, err)
	st, err := c.Collect()
	require.NoError(t, err)
	require.Equal(t, uint64(3), st.TotalTriples)
	require.Equal(t, uint64(2), st.DistinctSubjects)
	require.Equal(t, uint64(2), st.DistinctPreds)
	require.Equal(t, uint64(2), st.PredicateCounts[uint64(ids.ID(10))])
}

func TestPersistedStatisticsSurviveReopen(t *testing.T) {
	env, ix := openFixture(t)
	require.NoError(t, ix.InsertTriples([]index.Triple{
		{S: ids.ID(1), P: ids.ID(10), O: ids.ID(100)},
	}, true))
	c, err := New(env, ix)
	require.NoError(t, err)
	_, err = c.Collect()
	require.NoError(t, err)

	c2, err := New(env, ix)
	require.NoError(t, err)
	require.Equal(t, uint64(1), c2.Current().TotalTriples)
}

func TestEstimatePatternUsesPredicateCount(t *testing.T) {
	st := empty()
	st.PredicateCounts[uint64(ids.ID(10))] = 40
	st.TotalTriples = 1000
	est := EstimatePattern(index.Pattern{P: ids.ID(10), PBound: true}, st)
	require.Equal(t, uint64(40), est)
}
