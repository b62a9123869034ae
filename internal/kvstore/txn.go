package kvstore

import (
	"bytes"

	"github.com/erigontech/mdbx-go/mdbx"

	"github.com/kvgraph/triplestore/internal/errs"
)

// Batch accumulates puts/deletes across one or more tables for atomic
// application in a single MDBX write transaction — spec.md §4.2
// "builds a write batch touching SPO, POS, OSP CFs with identical set
// of keys; one atomic apply".
type Batch struct {
	ops []batchOp
}

type batchOp struct {
	table  string
	key    []byte
	value  []byte
	delete bool
}

func NewBatch() *Batch { return &Batch{} }

func (b *Batch) Put(table string, key, value []byte) {
	b.ops = append(b.ops, batchOp{table: table, key: key, value: value})
}

func (b *Batch) Delete(table string, key []byte) {
	b.ops = append(b.ops, batchOp{table: table, key: key, delete: true})
}

func (b *Batch) Len() int { return len(b.ops) }

// Sync controls whether Apply forces MDBX to flush its WAL durably
// before returning. Default true; Loader's bulk mode sets it false per
// batch and calls FlushWAL(true) once at the end (spec.md §4.2, §4.4).
type ApplyOptions struct {
	Sync bool
}

// Apply commits b as a single MDBX write transaction. On success every
// op in b is durable (subject to ApplyOptions.Sync); on failure no op
// in b is visible (MDBX transactions are all-or-nothing).
func (e *Env) Apply(b *Batch, opts ApplyOptions) error {
	if e.closed {
		return errs.New(errs.AlreadyClosed, "kvstore.apply", "store is closed")
	}
	txn, err := e.env.BeginTxn(nil, 0)
	if err != nil {
		return errs.Wrap(errs.ResourceError, "kvstore.apply", "beginning write transaction", err)
	}
	if !opts.Sync {
		txn.Flags |= mdbx.TxNoSync
	}
	for _, op := range b.ops {
		dbi, ok := e.dbis[op.table]
		if !ok {
			txn.Abort()
			return errs.New(errs.ResourceError, "kvstore.apply", "unknown table "+op.table)
		}
		if op.delete {
			if delErr := txn.Del(dbi, op.key, nil); delErr != nil && delErr != mdbx.NotFound {
				txn.Abort()
				return errs.Wrap(errs.ResourceError, "kvstore.apply", "deleting key", delErr)
			}
			continue
		}
		if putErr := txn.Put(dbi, op.key, op.value, 0); putErr != nil {
			txn.Abort()
			return errs.Wrap(errs.ResourceError, "kvstore.apply", "writing key", putErr)
		}
	}
	if _, err := txn.Commit(); err != nil {
		return errs.Wrap(errs.ResourceError, "kvstore.apply", "committing write transaction", err)
	}
	return nil
}

// FlushWAL forces a durable flush of MDBX's write-ahead state. Called
// once at the end of a bulk load (spec.md §4.2 "flush_wal(sync=true)").
func (e *Env) FlushWAL(sync bool) error {
	return e.env.Sync(sync, false)
}

// Snapshot is a read-only view taken at a point in time, backing both
// ad-hoc lookups and the transaction layer's snapshot isolation
// (spec.md §4.13/§5). It must be released; a background sweeper in
// internal/txn enforces a bounded lifetime so long-lived snapshots
// don't block MDBX's free-space reclamation.
type Snapshot struct {
	txn *mdbx.Txn
	env *Env
}

// NewSnapshot begins a read-only MDBX transaction.
func (e *Env) NewSnapshot() (*Snapshot, error) {
	if e.closed {
		return nil, errs.New(errs.AlreadyClosed, "kvstore.snapshot", "store is closed")
	}
	txn, err := e.env.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		return nil, errs.Wrap(errs.ResourceError, "kvstore.snapshot", "beginning read transaction", err)
	}
	return &Snapshot{txn: txn, env: e}, nil
}

// Release ends the read transaction. Safe to call once; calling twice
// is a caller bug but does not panic.
func (s *Snapshot) Release() {
	if s.txn != nil {
		s.txn.Abort()
		s.txn = nil
	}
}

// Get returns the value for key in table, or (nil, false) if absent —
// "not found" is not an error in lookup paths (spec.md §7).
func (s *Snapshot) Get(table string, key []byte) ([]byte, bool, error) {
	dbi, ok := s.env.dbis[table]
	if !ok {
		return nil, false, errs.New(errs.ResourceError, "kvstore.get", "unknown table "+table)
	}
	v, err := s.txn.Get(dbi, key)
	if err == mdbx.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.ResourceError, "kvstore.get", "reading key", err)
	}
	return v, true, nil
}

// Iterator is a bounded prefix iterator over one table, built on an
// MDBX cursor — spec.md §4.2 "All scans use bounded prefix iterators;
// results are yielded lazily."
type Iterator struct {
	cur     *mdbx.Cursor
	prefix  []byte
	started bool
	done    bool
	key     []byte
	value   []byte
	err     error
}

// PrefixIterator returns an Iterator over every key in table starting
// with prefix, in ascending lexicographic order. The cursor is not
// positioned until the first call to Next, matching the idiomatic Go
// `for it.Next() { ... }` loop shape.
func (s *Snapshot) PrefixIterator(table string, prefix []byte) (*Iterator, error) {
	dbi, ok := s.env.dbis[table]
	if !ok {
		return nil, errs.New(errs.ResourceError, "kvstore.iterator", "unknown table "+table)
	}
	cur, err := s.txn.OpenCursor(dbi)
	if err != nil {
		return nil, errs.Wrap(errs.ResourceError, "kvstore.iterator", "opening cursor", err)
	}
	return &Iterator{cur: cur, prefix: prefix}, nil
}

func (it *Iterator) advance(key, val []byte, err error) {
	if err == mdbx.NotFound {
		it.done = true
		it.key, it.value = nil, nil
		return
	}
	if err != nil {
		it.err = err
		it.done = true
		it.key, it.value = nil, nil
		return
	}
	if len(it.prefix) > 0 && !bytes.HasPrefix(key, it.prefix) {
		it.done = true
		it.key, it.value = nil, nil
		return
	}
	it.key, it.value = key, val
}

// Next advances the iterator, returning false when exhausted. Check
// Err after Next returns false to distinguish natural exhaustion from
// a backend error.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if !it.started {
		it.started = true
		var op mdbx.CursorOp
		var k []byte
		if len(it.prefix) == 0 {
			op = mdbx.First
		} else {
			op = mdbx.SetRange
			k = it.prefix
		}
		key, val, err := it.cur.Get(k, nil, op)
		it.advance(key, val, err)
		return !it.done
	}
	key, val, err := it.cur.Get(nil, nil, mdbx.Next)
	it.advance(key, val, err)
	return !it.done
}

func (it *Iterator) Key() []byte   { return it.key }
func (it *Iterator) Value() []byte { return it.value }
func (it *Iterator) Err() error    { return it.err }

// Seek repositions the cursor at the first key ≥ target, honoring the
// iterator's prefix bound. It reports whether a matching key was
// found; false means exhausted (check Err). Used by the Leapfrog
// Triejoin's trie-iterator `seek(v)` operation (spec.md §4.8).
func (it *Iterator) Seek(target []byte) bool {
	if it.done {
		return false
	}
	it.started = true
	key, val, err := it.cur.Get(target, nil, mdbx.SetRange)
	it.advance(key, val, err)
	return !it.done
}

func (it *Iterator) Close() {
	if it.cur != nil {
		it.cur.Close()
		it.cur = nil
	}
}
