package update

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvgraph/triplestore/internal/adapter"
	"github.com/kvgraph/triplestore/internal/dictionary"
	"github.com/kvgraph/triplestore/internal/exec"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
	"github.com/kvgraph/triplestore/internal/loader"
	"github.com/kvgraph/triplestore/internal/optimizer"
	"github.com/kvgraph/triplestore/internal/sparql/ast"
	"github.com/kvgraph/triplestore/internal/sparql/parser"
	"github.com/kvgraph/triplestore/internal/stats"
	"github.com/kvgraph/triplestore/internal/telemetry"
	"github.com/kvgraph/triplestore/internal/term"
)

type testEnv struct {
	env *kvstore.Env
	ix  *index.Index
	ad  *adapter.Adapter
	opt *optimizer.Optimizer
	upd *Updater
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
	opt, err := optimizer.New(optimizer.DefaultCacheCapacity)
	require.NoError(t, err)
	ld := loader.New(ad, ix, telemetry.Noop())
	upd := New(ix, ad, opt, ld, telemetry.Noop())

	return &testEnv{env: env, ix: ix, ad: ad, opt: opt, upd: upd}
}

func (e *testEnv) snapshot(t *testing.T) *kvstore.Snapshot {
	t.Helper()
	snap, err := e.env.NewSnapshot()
	require.NoError(t, err)
	t.Cleanup(func() { snap.Release() })
	return snap
}

func (e *testEnv) executor(t *testing.T) *exec.Executor {
	return exec.New(e.ix, e.snapshot(t), e.ad, e.opt, &stats.Statistics{PredicateCounts: map[uint64]uint64{}}, telemetry.Noop(), exec.DefaultLimits)
}

func mustParseUpdate(t *testing.T, q string) *ast.Update {
	t.Helper()
	p, err := parser.New(q)
	require.NoError(t, err)
	u, err := p.ParseUpdate()
	require.NoError(t, err)
	return u
}

func TestInsertDataWritesTriples(t *testing.T) {
	env := openTestEnv(t)
	upd := mustParseUpdate(t, `INSERT DATA { <http://ex/a> <http://ex/p> <http://ex/b> }`)

	res, err := env.upd.Apply(context.Background(), upd, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)

	snap := env.snapshot(t)
	found, found2, err := env.ad.LookupTriples([]adapter.TripleTerms{
		{S: term.NewIRI("http://ex/a"), P: term.NewIRI("http://ex/p"), O: term.NewIRI("http://ex/b")},
	})
	require.NoError(t, err)
	require.True(t, found2[0])
	exists, err := env.ix.Exists(snap, found[0])
	require.NoError(t, err)
	require.True(t, exists)
}

func TestDeleteDataRemovesOnlyMatchingTriples(t *testing.T) {
	env := openTestEnv(t)
	ins := mustParseUpdate(t, `INSERT DATA { <http://ex/a> <http://ex/p> <http://ex/b> . <http://ex/a> <http://ex/p> <http://ex/c> }`)
	_, err := env.upd.Apply(context.Background(), ins, nil, nil)
	require.NoError(t, err)

	del := mustParseUpdate(t, `DELETE DATA { <http://ex/a> <http://ex/p> <http://ex/b> . <http://ex/nope> <http://ex/p> <http://ex/nope> }`)
	res, err := env.upd.Apply(context.Background(), del, nil, nil)
	require.NoError(t, err)
	// The second pattern names terms never stored, so only the first
	// actually deletes anything.
	require.Equal(t, 1, res.Deleted)

	snap := env.snapshot(t)
	resolved, found, err := env.ad.LookupTriples([]adapter.TripleTerms{
		{S: term.NewIRI("http://ex/a"), P: term.NewIRI("http://ex/p"), O: term.NewIRI("http://ex/b")},
		{S: term.NewIRI("http://ex/a"), P: term.NewIRI("http://ex/p"), O: term.NewIRI("http://ex/c")},
	})
	require.NoError(t, err)
	require.True(t, found[0] && found[1])
	gone, err := env.ix.Exists(snap, resolved[0])
	require.NoError(t, err)
	require.False(t, gone)
	still, err := env.ix.Exists(snap, resolved[1])
	require.NoError(t, err)
	require.True(t, still)
}

func TestDeleteInsertWhereRewritesMatchingTriples(t *testing.T) {
	env := openTestEnv(t)
	ins := mustParseUpdate(t, `INSERT DATA { <http://ex/a> <http://ex/status> <http://ex/draft> }`)
	_, err := env.upd.Apply(context.Background(), ins, nil, nil)
	require.NoError(t, err)

	diw := mustParseUpdate(t, `DELETE { ?s <http://ex/status> <http://ex/draft> }
INSERT { ?s <http://ex/status> <http://ex/published> }
WHERE { ?s <http://ex/status> <http://ex/draft> }`)

	snap := env.snapshot(t)
	ex := exec.New(env.ix, snap, env.ad, env.opt, &stats.Statistics{PredicateCounts: map[uint64]uint64{}}, telemetry.Noop(), exec.DefaultLimits)
	res, err := env.upd.Apply(context.Background(), diw, snap, ex)
	require.NoError(t, err)
	require.Equal(t, 1, res.Deleted)
	require.Equal(t, 1, res.Inserted)

	after := env.snapshot(t)
	resolved, found, err := env.ad.LookupTriples([]adapter.TripleTerms{
		{S: term.NewIRI("http://ex/a"), P: term.NewIRI("http://ex/status"), O: term.NewIRI("http://ex/draft")},
		{S: term.NewIRI("http://ex/a"), P: term.NewIRI("http://ex/status"), O: term.NewIRI("http://ex/published")},
	})
	require.NoError(t, err)
	require.True(t, found[0] && found[1])
	draftGone, err := env.ix.Exists(after, resolved[0])
	require.NoError(t, err)
	require.False(t, draftGone)
	publishedThere, err := env.ix.Exists(after, resolved[1])
	require.NoError(t, err)
	require.True(t, publishedThere)
}

func TestClearEmptiesExplicitTriplesOnly(t *testing.T) {
	env := openTestEnv(t)
	ins := mustParseUpdate(t, `INSERT DATA { <http://ex/a> <http://ex/p> <http://ex/b> }`)
	_, err := env.upd.Apply(context.Background(), ins, nil, nil)
	require.NoError(t, err)

	require.NoError(t, env.ix.InsertDerived([]index.Triple{{S: 1, P: 2, O: 3}}, true))

	snap := env.snapshot(t)
	clear := mustParseUpdate(t, `CLEAR DEFAULT`)
	_, err = env.upd.Apply(context.Background(), clear, snap, nil)
	require.NoError(t, err)

	after := env.snapshot(t)
	resolved, found, err := env.ad.LookupTriples([]adapter.TripleTerms{
		{S: term.NewIRI("http://ex/a"), P: term.NewIRI("http://ex/p"), O: term.NewIRI("http://ex/b")},
	})
	require.NoError(t, err)
	require.True(t, found[0])
	gone, err := env.ix.Exists(after, resolved[0])
	require.NoError(t, err)
	require.False(t, gone)

	derivedCur, err := env.ix.Lookup(after, index.Pattern{}, kvstore.TableDerived)
	require.NoError(t, err)
	defer derivedCur.Close()
	require.True(t, derivedCur.Next())
}

func TestLoadDelegatesToLoader(t *testing.T) {
	env := openTestEnv(t)
	rows := []adapter.TripleTerms{
		{S: term.NewIRI("http://ex/a"), P: term.NewIRI("http://ex/p"), O: term.NewIRI("http://ex/b")},
		{S: term.NewIRI("http://ex/c"), P: term.NewIRI("http://ex/p"), O: term.NewIRI("http://ex/d")},
	}
	i := 0
	next := func() (adapter.TripleTerms, bool, error) {
		if i >= len(rows) {
			return adapter.TripleTerms{}, false, nil
		}
		r := rows[i]
		i++
		return r, true, nil
	}

	res, err := env.upd.Load(context.Background(), loader.Options{}, next)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Loaded)
}
