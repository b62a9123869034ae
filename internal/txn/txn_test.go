package txn

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/kvstore"
	"github.com/kvgraph/triplestore/internal/telemetry"
)

func openTestEnv(t *testing.T) *kvstore.Env {
	t.Helper()
	env, err := kvstore.Open(kvstore.Options{Path: filepath.Join(t.TempDir(), "db")}, kvstore.DefaultTableCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

type fakeInvalidator struct {
	invalidated []ids.ID
	allCalls    int
}

func (f *fakeInvalidator) InvalidatePredicate(pred ids.ID) { f.invalidated = append(f.invalidated, pred) }
func (f *fakeInvalidator) InvalidateAll()                  { f.allCalls++ }

func TestWriteNotifiesInvalidatorsOnlyOnSuccess(t *testing.T) {
	env := openTestEnv(t)
	m := New(env, Options{}, telemetry.Noop())
	defer m.Stop()

	inv := &fakeInvalidator{}
	m.Register(inv)

	err := m.Write(func(b *kvstore.Batch) error {
		b.Put(kvstore.TableSPO, []byte("k1"), nil)
		return nil
	}, kvstore.ApplyOptions{Sync: true}, []ids.ID{7})
	require.NoError(t, err)
	require.Equal(t, []ids.ID{7}, inv.invalidated)

	buildErr := m.Write(func(b *kvstore.Batch) error {
		return require.AnError
	}, kvstore.ApplyOptions{Sync: true}, []ids.ID{9})
	require.Error(t, buildErr)
	require.Equal(t, []ids.ID{7}, inv.invalidated) // unchanged
}

func TestDoNotifiesInvalidatorsOnlyOnSuccess(t *testing.T) {
	env := openTestEnv(t)
	m := New(env, Options{}, telemetry.Noop())
	defer m.Stop()

	inv := &fakeInvalidator{}
	m.Register(inv)

	err := m.Do(func() error {
		b := kvstore.NewBatch()
		b.Put(kvstore.TableSPO, []byte("k1"), nil)
		return env.Apply(b, kvstore.ApplyOptions{Sync: true})
	}, []ids.ID{3})
	require.NoError(t, err)
	require.Equal(t, []ids.ID{3}, inv.invalidated)

	err = m.Do(func() error { return require.AnError }, []ids.ID{4})
	require.Error(t, err)
	require.Equal(t, []ids.ID{3}, inv.invalidated) // unchanged
}

func TestInvalidateAllCallsEveryRegisteredInvalidator(t *testing.T) {
	env := openTestEnv(t)
	m := New(env, Options{}, telemetry.Noop())
	defer m.Stop()

	inv1, inv2 := &fakeInvalidator{}, &fakeInvalidator{}
	m.Register(inv1)
	m.Register(inv2)
	m.InvalidateAll()
	require.Equal(t, 1, inv1.allCalls)
	require.Equal(t, 1, inv2.allCalls)
}

func TestBeginReadObservesConsistentSnapshot(t *testing.T) {
	env := openTestEnv(t)
	m := New(env, Options{}, telemetry.Noop())
	defer m.Stop()

	rt, err := m.BeginRead()
	require.NoError(t, err)
	defer rt.Release()

	snap, err := rt.Snapshot()
	require.NoError(t, err)
	_, found, err := snap.Get(kvstore.TableSPO, []byte("absent"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestSweepOnceForceReleasesExpiredSnapshots(t *testing.T) {
	env := openTestEnv(t)
	m := New(env, Options{MaxSnapshotLifetime: time.Millisecond}, telemetry.Noop())
	defer m.Stop()

	rt, err := m.BeginRead()
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	n := m.sweepOnce(time.Now())
	require.Equal(t, 1, n)

	_, err = rt.Snapshot()
	require.Error(t, err)
}
