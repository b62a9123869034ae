package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/kvstore"
)

func openTestEnv(t *testing.T) *kvstore.Env {
	t.Helper()
	env, err := kvstore.Open(kvstore.Options{Path: filepath.Join(t.TempDir(), "db")}, kvstore.DefaultTableCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func TestInsertTriplesPresentInAllThreeIndices(t *testing.T) {
	env := openTestEnv(t)
	ix := New(env)
	tr := Triple{S: ids.ID(1), P: ids.ID(2), O: ids.ID(3)}
	require.NoError(t, ix.InsertTriples([]Triple{tr}, true))

	snap, err := env.NewSnapshot()
	require.NoError(t, err)
	defer snap.Release()

	ok, err := ix.Exists(snap, tr)
	require.NoError(t, err)
	require.True(t, ok)

	for _, tbl := range []string{kvstore.TableSPO, kvstore.TablePOS, kvstore.TableOSP} {
		it, err := snap.PrefixIterator(tbl, nil)
		require.NoError(t, err)
		require.True(t, it.Next(), "expected a row in %s", tbl)
		it.Close()
	}
}

func TestDeleteTriplesRemovesFromAllIndices(t *testing.T) {
	env := openTestEnv(t)
	ix := New(env)
	tr := Triple{S: ids.ID(1), P: ids.ID(2), O: ids.ID(3)}
	require.NoError(t, ix.InsertTriples([]Triple{tr}, true))
	require.NoError(t, ix.DeleteTriples([]Triple{tr}, true))

	snap, err := env.NewSnapshot()
	require.NoError(t, err)
	defer snap.Release()

	ok, err := ix.Exists(snap, tr)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLookupByPatternSelectsExpectedIndex(t *testing.T) {
	env := openTestEnv(t)
	ix := New(env)
	triples := []Triple{
		{S: ids.ID(1), P: ids.ID(10), O: ids.ID(100)},
		{S: ids.ID(1), P: ids.ID(10), O: ids.ID(200)},
		{S: ids.ID(2), P: ids.ID(20), O: ids.ID(300)},
	}
	require.NoError(t, ix.InsertTriples(triples, true))

	snap, err := env.NewSnapshot()
	require.NoError(t, err)
	defer snap.Release()

	cur, err := ix.Lookup(snap, Pattern{S: ids.ID(1), SBound: true}, "")
	require.NoError(t, err)
	defer cur.Close()

	var got []Triple
	for cur.Next() {
		got = append(got, cur.Triple())
	}
	require.NoError(t, cur.Err())
	require.Len(t, got, 2)
	for _, tr := range got {
		require.Equal(t, ids.ID(1), tr.S)
	}
}

func TestClearDerivedLeavesExplicitTriplesIntact(t *testing.T) {
	env := openTestEnv(t)
	ix := New(env)
	explicit := Triple{S: ids.ID(1), P: ids.ID(2), O: ids.ID(3)}
	derived := Triple{S: ids.ID(4), P: ids.ID(5), O: ids.ID(6)}
	require.NoError(t, ix.InsertTriples([]Triple{explicit}, true))
	require.NoError(t, ix.InsertDerived([]Triple{derived}, true))

	snap, err := env.NewSnapshot()
	require.NoError(t, err)
	require.NoError(t, ix.ClearDerived(snap))
	snap.Release()

	snap2, err := env.NewSnapshot()
	require.NoError(t, err)
	defer snap2.Release()

	ok, err := ix.Exists(snap2, explicit)
	require.NoError(t, err)
	require.True(t, ok)

	it, err := snap2.PrefixIterator(kvstore.TableDerived, nil)
	require.NoError(t, err)
	defer it.Close()
	require.False(t, it.Next())
}
