package join

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
)

func openTestEnv(t *testing.T) *kvstore.Env {
	t.Helper()
	env, err := kvstore.Open(kvstore.Options{Path: filepath.Join(t.TempDir(), "db")}, kvstore.DefaultTableCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func TestNestedLoopJoinsOnSharedVariable(t *testing.T) {
	env := openTestEnv(t)
	ix := index.New(env)
	// ?x knows ?y ; ?y age ?a
	knows, age := ids.ID(1), ids.ID(2)
	require.NoError(t, ix.InsertTriples([]index.Triple{
		{S: ids.ID(10), P: knows, O: ids.ID(20)},
		{S: ids.ID(10), P: knows, O: ids.ID(21)},
		{S: ids.ID(20), P: age, O: ids.ID(30)},
		{S: ids.ID(21), P: age, O: ids.ID(31)},
	}, true))

	snap, err := env.NewSnapshot()
	require.NoError(t, err)
	defer snap.Release()

	left := []Binding{{}}
	knowsScanner := NewScanner(index.Pattern{P: knows, PBound: true}, "x", "", "y")
	afterKnows, err := NestedLoop(ix, snap, left, knowsScanner)
	require.NoError(t, err)
	require.Len(t, afterKnows, 2)

	ageScanner := NewScanner(index.Pattern{P: age, PBound: true}, "y", "", "a")
	final, err := NestedLoop(ix, snap, afterKnows, ageScanner)
	require.NoError(t, err)
	require.Len(t, final, 2)

	var ages []ids.ID
	for _, b := range final {
		ages = append(ages, b["a"])
	}
	sort.Slice(ages, func(i, j int) bool { return ages[i] < ages[j] })
	require.Equal(t, []ids.ID{30, 31}, ages)
}

func TestHashJoinRejectsConflictingBindings(t *testing.T) {
	left := []Binding{
		{"x": 1, "y": 10},
		{"x": 2, "y": 20},
	}
	right := []Binding{
		{"y": 10, "z": 100},
		{"y": 99, "z": 999},
	}
	out := HashJoin(left, right, []string{"y"})
	require.Len(t, out, 1)
	require.Equal(t, ids.ID(1), out[0]["x"])
	require.Equal(t, ids.ID(100), out[0]["z"])
}

func TestLeapfrogJoinStarPattern(t *testing.T) {
	env := openTestEnv(t)
	ix := index.New(env)
	p1, p2, p3 := ids.ID(1), ids.ID(2), ids.ID(3)
	hub1, hub2 := ids.ID(100), ids.ID(200)
	require.NoError(t, ix.InsertTriples([]index.Triple{
		{S: hub1, P: p1, O: ids.ID(1001)},
		{S: hub1, P: p2, O: ids.ID(1002)},
		{S: hub1, P: p3, O: ids.ID(1003)},
		// hub2 only has p1 and p2 -- must not appear in the join result.
		{S: hub2, P: p1, O: ids.ID(2001)},
		{S: hub2, P: p2, O: ids.ID(2002)},
	}, true))

	snap, err := env.NewSnapshot()
	require.NoError(t, err)
	defer snap.Release()

	scanners := []*Scanner{
		NewScanner(index.Pattern{P: p1, PBound: true}, "x", "", "a"),
		NewScanner(index.Pattern{P: p2, PBound: true}, "x", "", "b"),
		NewScanner(index.Pattern{P: p3, PBound: true}, "x", "", "c"),
	}

	results, err := LeapfrogJoin(ix, snap, scanners, []string{"x"}, DefaultLimits)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, hub1, results[0]["x"])
	require.Equal(t, ids.ID(1001), results[0]["a"])
	require.Equal(t, ids.ID(1002), results[0]["b"])
	require.Equal(t, ids.ID(1003), results[0]["c"])
}

func TestLeapfrogJoinEnforcesIterationLimit(t *testing.T) {
	env := openTestEnv(t)
	ix := index.New(env)
	p1, p2 := ids.ID(1), ids.ID(2)
	require.NoError(t, ix.InsertTriples([]index.Triple{
		{S: ids.ID(5), P: p1, O: ids.ID(50)},
		{S: ids.ID(5), P: p2, O: ids.ID(60)},
	}, true))

	snap, err := env.NewSnapshot()
	require.NoError(t, err)
	defer snap.Release()

	scanners := []*Scanner{
		NewScanner(index.Pattern{P: p1, PBound: true}, "x", "", "a"),
		NewScanner(index.Pattern{P: p2, PBound: true}, "x", "", "b"),
	}

	_, err = LeapfrogJoin(ix, snap, scanners, []string{"x"}, Limits{MaxIterations: 0, MaxResults: 10, MaxVariables: 10})
	require.Error(t, err)
}
