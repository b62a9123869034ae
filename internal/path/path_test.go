package path

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
	"github.com/kvgraph/triplestore/internal/telemetry"
)

func openFixture(t *testing.T) (*index.Index, *kvstore.Snapshot) {
	t.Helper()
	env, err := kvstore.Open(kvstore.Options{Path: filepath.Join(t.TempDir(), "db")}, kvstore.DefaultTableCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	ix := index.New(env)
	// chain: 1 -knows-> 2 -knows-> 3 -knows-> 4
	knows := ids.ID(100)
	require.NoError(t, ix.InsertTriples([]index.Triple{
		{S: ids.ID(1), P: knows, O: ids.ID(2)},
		{S: ids.ID(2), P: knows, O: ids.ID(3)},
		{S: ids.ID(3), P: knows, O: ids.ID(4)},
	}, true))
	snap, err := env.NewSnapshot()
	require.NoError(t, err)
	t.Cleanup(snap.Release)
	return ix, snap
}

func TestSinglePredicateStep(t *testing.T) {
	ix, snap := openFixture(t)
	ev := NewEvaluator(ix, snap, DefaultLimits, telemetry.Noop())
	out, err := ev.Eval(Expr{Op: OpPredicate, Pred: ids.ID(100)}, ids.ID(1), false, 0)
	require.NoError(t, err)
	require.Equal(t, []ids.ID{ids.ID(2)}, out)
}

func TestOneOrMoreReachesTransitiveClosure(t *testing.T) {
	ix, snap := openFixture(t)
	ev := NewEvaluator(ix, snap, DefaultLimits, telemetry.Noop())
	out, err := ev.Eval(Expr{Op: OpOneOrMore, Inner: &Expr{Op: OpPredicate, Pred: ids.ID(100)}}, ids.ID(1), false, 0)
	require.NoError(t, err)
	require.ElementsMatch(t, []ids.ID{ids.ID(2), ids.ID(3), ids.ID(4)}, out)
}

func TestZeroOrOneIncludesStart(t *testing.T) {
	ix, snap := openFixture(t)
	ev := NewEvaluator(ix, snap, DefaultLimits, telemetry.Noop())
	out, err := ev.Eval(Expr{Op: OpZeroOrOne, Inner: &Expr{Op: OpPredicate, Pred: ids.ID(100)}}, ids.ID(1), false, 0)
	require.NoError(t, err)
	require.Contains(t, out, ids.ID(1))
	require.Contains(t, out, ids.ID(2))
}

func TestInverseSwapsDirection(t *testing.T) {
	ix, snap := openFixture(t)
	ev := NewEvaluator(ix, snap, DefaultLimits, telemetry.Noop())
	out, err := ev.Eval(Expr{Op: OpInverse, Inner: &Expr{Op: OpPredicate, Pred: ids.ID(100)}}, ids.ID(2), false, 0)
	require.NoError(t, err)
	require.Equal(t, []ids.ID{ids.ID(1)}, out)
}
