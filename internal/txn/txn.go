// Package txn implements spec.md §4.13/§5's transaction layer:
// snapshot-isolated reads, serialized writes, and cache invalidation
// at commit time, plus a background sweeper bounding how long any one
// read snapshot may stay open.
//
// Grounded on internal/kvstore's MDBX wrapper, which already gives a
// single-writer/many-readers transaction model (Env.Apply serializes
// through MDBX's own write lock, Env.NewSnapshot opens a read-only
// MDBX transaction); this package adds the explicit serialization
// point for cache-invalidation ordering and the sweeper spec.md §5
// names ("a background sweeper enforces a max snapshot lifetime to
// unblock compaction"), neither of which kvstore itself knows about.
package txn

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/kvstore"
	"github.com/kvgraph/triplestore/internal/telemetry"
)

// DefaultMaxSnapshotLifetime bounds how long a read transaction may
// stay open before the sweeper force-releases it.
const DefaultMaxSnapshotLifetime = 5 * time.Minute

// DefaultSweepInterval is how often the sweeper checks for expired
// snapshots.
const DefaultSweepInterval = 30 * time.Second

// PredicateInvalidator is anything a commit must notify so stale
// cache entries don't survive a write — satisfied by both
// internal/optimizer.Optimizer and internal/cache.QueryResultCache
// without either package depending on this one.
type PredicateInvalidator interface {
	InvalidatePredicate(pred ids.ID)
	InvalidateAll()
}

// Options configures a Manager.
type Options struct {
	MaxSnapshotLifetime time.Duration
	SweepInterval       time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxSnapshotLifetime <= 0 {
		o.MaxSnapshotLifetime = DefaultMaxSnapshotLifetime
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	return o
}

// Manager owns write serialization, read-snapshot bookkeeping, and the
// registered cache invalidators notified on every committed write.
type Manager struct {
	env  *kvstore.Env
	opts Options
	tel  *telemetry.Telemetry

	writeMu sync.Mutex

	readMu  sync.Mutex
	reads   map[uint64]*ReadTxn
	nextID  uint64

	invMu        sync.Mutex
	invalidators []PredicateInvalidator

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(env *kvstore.Env, opts Options, tel *telemetry.Telemetry) *Manager {
	m := &Manager{
		env:    env,
		opts:   opts.withDefaults(),
		tel:    tel,
		reads:  make(map[uint64]*ReadTxn),
		stopCh: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.sweepLoop()
	return m
}

// Register adds inv to the set notified on every committed write.
// Safe to call concurrently with writes: it takes the same lock that
// guards the invalidator set when a write notifies it.
func (m *Manager) Register(inv PredicateInvalidator) {
	m.invMu.Lock()
	defer m.invMu.Unlock()
	m.invalidators = append(m.invalidators, inv)
}

// OpenReadCount reports how many read transactions are currently
// outstanding, for store.Health's diagnostic surface.
func (m *Manager) OpenReadCount() int {
	m.readMu.Lock()
	defer m.readMu.Unlock()
	return len(m.reads)
}

// Stop halts the sweeper goroutine. Safe to call once; Manager is
// unusable afterward.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// ReadTxn wraps a kvstore.Snapshot with the bookkeeping the sweeper
// needs: a start time and an expiry flag the sweeper sets if it
// force-releases the snapshot ahead of the caller.
type ReadTxn struct {
	id        uint64
	snap      *kvstore.Snapshot
	startedAt time.Time
	expired   atomic.Bool
	mgr       *Manager
}

// BeginRead opens a new snapshot-isolated read transaction — spec.md
// §5 "Reads in an open transaction observe a consistent snapshot taken
// at transaction start."
func (m *Manager) BeginRead() (*ReadTxn, error) {
	snap, err := m.env.NewSnapshot()
	if err != nil {
		return nil, err
	}
	m.readMu.Lock()
	m.nextID++
	id := m.nextID
	rt := &ReadTxn{id: id, snap: snap, startedAt: time.Now(), mgr: m}
	m.reads[id] = rt
	m.readMu.Unlock()
	return rt, nil
}

// Snapshot returns the underlying read-only view, or an already_closed
// error if the sweeper force-released it for exceeding
// MaxSnapshotLifetime.
func (rt *ReadTxn) Snapshot() (*kvstore.Snapshot, error) {
	if rt.expired.Load() {
		return nil, errs.New(errs.AlreadyClosed, "txn.read", "snapshot exceeded max lifetime and was released by the sweeper")
	}
	return rt.snap, nil
}

// Release ends the read transaction. Safe to call once; a second call
// (or one racing the sweeper) is a no-op.
func (rt *ReadTxn) Release() {
	rt.mgr.readMu.Lock()
	_, live := rt.mgr.reads[rt.id]
	delete(rt.mgr.reads, rt.id)
	rt.mgr.readMu.Unlock()
	if live {
		rt.snap.Release()
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	t := time.NewTicker(m.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.sweepOnce(time.Now())
		}
	}
}

// sweepOnce force-releases every read transaction older than
// MaxSnapshotLifetime, unblocking MDBX's free-space reclamation from a
// reader a caller forgot to release (spec.md §5).
func (m *Manager) sweepOnce(now time.Time) int {
	m.readMu.Lock()
	var expired []*ReadTxn
	for id, rt := range m.reads {
		if now.Sub(rt.startedAt) > m.opts.MaxSnapshotLifetime {
			expired = append(expired, rt)
			delete(m.reads, id)
		}
	}
	m.readMu.Unlock()

	for _, rt := range expired {
		rt.expired.Store(true)
		rt.snap.Release()
		m.tel.Event("store.txn.snapshot_expired")
	}
	return len(expired)
}

// Write serializes build against every other writer, applies it as
// one atomic MDBX batch, and — only on success — notifies every
// registered invalidator for each predicate in touched. Cache
// invalidation never runs for a failed write, since no change becomes
// visible to readers in that case.
func (m *Manager) Write(build func(*kvstore.Batch) error, apply kvstore.ApplyOptions, touched []ids.ID) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	b := kvstore.NewBatch()
	if err := build(b); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}
	if err := m.env.Apply(b, apply); err != nil {
		return err
	}

	m.invMu.Lock()
	defer m.invMu.Unlock()
	for _, pred := range touched {
		for _, inv := range m.invalidators {
			inv.InvalidatePredicate(pred)
		}
	}
	return nil
}

// Do serializes fn against every other writer and, only if fn
// succeeds, notifies every registered invalidator for each predicate
// in touched. Unlike Write, fn manages its own durable write(s)
// internally rather than populating a caller-supplied kvstore.Batch —
// for callers such as internal/index.InsertTriples/DeleteTriples,
// which already maintain SPO/POS/OSP atomically through their own
// env.Apply call and would gain nothing from building a second,
// redundant batch here.
func (m *Manager) Do(fn func() error, touched []ids.ID) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := fn(); err != nil {
		return err
	}

	m.invMu.Lock()
	defer m.invMu.Unlock()
	for _, pred := range touched {
		for _, inv := range m.invalidators {
			inv.InvalidatePredicate(pred)
		}
	}
	return nil
}

// InvalidateAll calls InvalidateAll on every registered invalidator,
// for a change that touches the whole schema rather than a small set
// of predicates.
func (m *Manager) InvalidateAll() {
	m.invMu.Lock()
	defer m.invMu.Unlock()
	for _, inv := range m.invalidators {
		inv.InvalidateAll()
	}
}
