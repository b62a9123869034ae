// Package index implements the three fixed triple orderings (SPO,
// POS, OSP) plus the derived-facts column family — spec.md §3 "Index
// keys" and §4.2. Every explicit triple is present, with an empty
// value payload, in all three orderings; derived facts live only in
// the SPO-shaped derived CF.
//
// Grounded on the prefix-addressed, big-endian key layout implied by
// erigon's PlainState/history tables (erigon-lib/kv/tables.go):
// lexicographic byte order over a big-endian key equals numeric
// order, which is exactly what a range/prefix scan over (S,P,O)
// combinations needs.
package index

import (
	"encoding/binary"

	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/kvstore"
)

// Triple is an explicit or derived fact in id space.
type Triple struct {
	S, P, O ids.ID
}

// KeyLen is the fixed width of every index key: three 8-byte big-endian ids.
const KeyLen = 24

func encodeKey(a, b, c ids.ID) []byte {
	buf := make([]byte, KeyLen)
	binary.BigEndian.PutUint64(buf[0:8], uint64(a))
	binary.BigEndian.PutUint64(buf[8:16], uint64(b))
	binary.BigEndian.PutUint64(buf[16:24], uint64(c))
	return buf
}

func decodeKey(buf []byte) (a, b, c ids.ID) {
	return ids.ID(binary.BigEndian.Uint64(buf[0:8])),
		ids.ID(binary.BigEndian.Uint64(buf[8:16])),
		ids.ID(binary.BigEndian.Uint64(buf[16:24]))
}

func spoKey(t Triple) []byte { return encodeKey(t.S, t.P, t.O) }
func posKey(t Triple) []byte { return encodeKey(t.P, t.O, t.S) }
func ospKey(t Triple) []byte { return encodeKey(t.O, t.S, t.P) }

// Index owns the SPO/POS/OSP/derived column families over one kvstore.Env.
type Index struct {
	env *kvstore.Env
}

func New(env *kvstore.Env) *Index { return &Index{env: env} }

// InsertTriples writes every triple in ts into SPO, POS, and OSP in a
// single atomic batch (spec.md §4.2 "identical set of keys; one
// atomic apply").
func (ix *Index) InsertTriples(ts []Triple, sync bool) error {
	b := kvstore.NewBatch()
	for _, t := range ts {
		b.Put(kvstore.TableSPO, spoKey(t), nil)
		b.Put(kvstore.TablePOS, posKey(t), nil)
		b.Put(kvstore.TableOSP, ospKey(t), nil)
	}
	return ix.env.Apply(b, kvstore.ApplyOptions{Sync: sync})
}

// DeleteTriples removes every triple in ts from all three indices,
// symmetric with InsertTriples.
func (ix *Index) DeleteTriples(ts []Triple, sync bool) error {
	b := kvstore.NewBatch()
	for _, t := range ts {
		b.Delete(kvstore.TableSPO, spoKey(t))
		b.Delete(kvstore.TablePOS, posKey(t))
		b.Delete(kvstore.TableOSP, ospKey(t))
	}
	return ix.env.Apply(b, kvstore.ApplyOptions{Sync: sync})
}

// ApplyDeltas removes dels and then writes inserts, all within one
// atomic MDBX transaction — used by DELETE/INSERT WHERE, where the
// delete-then-insert ordering must be applied as a single batch so
// that a triple matching both templates is well-defined (spec.md
// §4.12).
func (ix *Index) ApplyDeltas(dels, inserts []Triple, sync bool) error {
	b := kvstore.NewBatch()
	for _, t := range dels {
		b.Delete(kvstore.TableSPO, spoKey(t))
		b.Delete(kvstore.TablePOS, posKey(t))
		b.Delete(kvstore.TableOSP, ospKey(t))
	}
	for _, t := range inserts {
		b.Put(kvstore.TableSPO, spoKey(t), nil)
		b.Put(kvstore.TablePOS, posKey(t), nil)
		b.Put(kvstore.TableOSP, ospKey(t), nil)
	}
	if b.Len() == 0 {
		return nil
	}
	return ix.env.Apply(b, kvstore.ApplyOptions{Sync: sync})
}

// ClearAll wipes every explicit triple from SPO/POS/OSP, leaving the
// derived CF untouched — CLEAR's "empties the default graph" (spec.md
// §4.12), mirroring ClearDerived's scan-then-delete shape but over
// all three column families via the canonical SPO ordering.
func (ix *Index) ClearAll(snap *kvstore.Snapshot) error {
	it, err := snap.PrefixIterator(kvstore.TableSPO, nil)
	if err != nil {
		return err
	}
	defer it.Close()
	b := kvstore.NewBatch()
	for it.Next() {
		s, p, o := decodeKey(it.Key())
		t := Triple{S: s, P: p, O: o}
		b.Delete(kvstore.TableSPO, spoKey(t))
		b.Delete(kvstore.TablePOS, posKey(t))
		b.Delete(kvstore.TableOSP, ospKey(t))
	}
	if err := it.Err(); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}
	return ix.env.Apply(b, kvstore.ApplyOptions{Sync: true})
}

// InsertDerived/DeleteDerived maintain the derived-facts CF, which
// uses the same SPO key layout but is a logically disjoint set
// (spec.md §3 "Derived-facts CF"); clear_derived must be able to wipe
// exactly this CF without touching explicit triples.
func (ix *Index) InsertDerived(ts []Triple, sync bool) error {
	b := kvstore.NewBatch()
	for _, t := range ts {
		b.Put(kvstore.TableDerived, spoKey(t), nil)
	}
	return ix.env.Apply(b, kvstore.ApplyOptions{Sync: sync})
}

func (ix *Index) DeleteDerived(ts []Triple, sync bool) error {
	b := kvstore.NewBatch()
	for _, t := range ts {
		b.Delete(kvstore.TableDerived, spoKey(t))
	}
	return ix.env.Apply(b, kvstore.ApplyOptions{Sync: sync})
}

// ClearDerived wipes every row in the derived CF by scanning the
// empty prefix and deleting each key, leaving explicit triples
// untouched (spec.md §3 invariant).
func (ix *Index) ClearDerived(snap *kvstore.Snapshot) error {
	it, err := snap.PrefixIterator(kvstore.TableDerived, nil)
	if err != nil {
		return err
	}
	defer it.Close()
	b := kvstore.NewBatch()
	for it.Next() {
		key := append([]byte(nil), it.Key()...)
		b.Delete(kvstore.TableDerived, key)
	}
	if err := it.Err(); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}
	return ix.env.Apply(b, kvstore.ApplyOptions{Sync: true})
}

// Pattern is a triple pattern with each slot bound or variable;
// SBound/PBound/OBound report which of S/P/O carry a concrete id.
type Pattern struct {
	S, P, O       ids.ID
	SBound, PBound, OBound bool
}

// chosenIndex names which CF + prefix Lookup should scan, per the
// table in spec.md §4.2.
type chosenIndex struct {
	table  string
	prefix []byte
}

func (p Pattern) chooseIndex() chosenIndex {
	switch {
	case p.SBound && p.PBound && p.OBound:
		return chosenIndex{kvstore.TableSPO, encodeKey(p.S, p.P, p.O)}
	case p.SBound && p.PBound:
		return chosenIndex{kvstore.TableSPO, encodeKey(p.S, p.P, 0)[:16]}
	case p.PBound && p.OBound:
		return chosenIndex{kvstore.TablePOS, encodeKey(p.P, p.O, 0)[:16]}
	case p.OBound && p.SBound:
		return chosenIndex{kvstore.TableOSP, encodeKey(p.O, p.S, 0)[:16]}
	case p.SBound:
		return chosenIndex{kvstore.TableSPO, encodeKey(p.S, 0, 0)[:8]}
	case p.PBound:
		return chosenIndex{kvstore.TablePOS, encodeKey(p.P, 0, 0)[:8]}
	case p.OBound:
		return chosenIndex{kvstore.TableOSP, encodeKey(p.O, 0, 0)[:8]}
	default:
		return chosenIndex{kvstore.TableSPO, nil}
	}
}

// Cursor iterates the triples matching a pattern, lazily, over a
// bounded prefix scan (spec.md §4.2 "results are yielded lazily").
type Cursor struct {
	it    *kvstore.Iterator
	table string
}

// Lookup opens a Cursor for pattern against snap, selecting the index
// and prefix per the spec.md §4.2 table. override, if non-empty,
// forces a specific table (used by internal/join's Leapfrog hub scans
// and by the reasoner's derived-table scans).
func (ix *Index) Lookup(snap *kvstore.Snapshot, pattern Pattern, overrideTable string) (*Cursor, error) {
	chosen := pattern.chooseIndex()
	table := chosen.table
	if overrideTable != "" {
		table = overrideTable
	}
	it, err := snap.PrefixIterator(table, chosen.prefix)
	if err != nil {
		return nil, err
	}
	return &Cursor{it: it, table: table}, nil
}

// Next advances the cursor; false means exhausted (check Err).
func (c *Cursor) Next() bool { return c.it.Next() }

// Triple decodes the current key into a Triple in (S,P,O) order
// regardless of which physical index is backing the cursor.
func (c *Cursor) Triple() Triple {
	key := c.it.Key()
	a, b, cc := decodeKey(key)
	switch c.table {
	case kvstore.TableSPO, kvstore.TableDerived:
		return Triple{S: a, P: b, O: cc}
	case kvstore.TablePOS:
		return Triple{P: a, O: b, S: cc}
	case kvstore.TableOSP:
		return Triple{O: a, S: b, P: cc}
	default:
		return Triple{}
	}
}

func (c *Cursor) Err() error { return c.it.Err() }
func (c *Cursor) Close()     { c.it.Close() }

// SeekMajor repositions the cursor at the first row whose leading
// (major) key component is ≥ target, regardless of the remaining two
// components. Only meaningful on a Cursor opened with an empty
// prefix (a full-table scan), which is how the Leapfrog join engine
// opens its per-variable hub iterators — the major component is
// exactly the variable it intersects on (spec.md §4.8's trie-iterator
// `seek(v)`).
func (c *Cursor) SeekMajor(target ids.ID) bool {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(target))
	ok := c.it.Seek(buf)
	return ok
}

// FlushWAL forces a durable flush, used once at the end of a bulk
// load after a run of sync=false batches (spec.md §4.4 "Bulk mode").
func (ix *Index) FlushWAL() error { return ix.env.FlushWAL(true) }

// Exists checks whether a fully-bound triple is present in SPO, the
// canonical existence-check path (spec.md §4.2 "full — existence check").
func (ix *Index) Exists(snap *kvstore.Snapshot, t Triple) (bool, error) {
	_, ok, err := snap.Get(kvstore.TableSPO, spoKey(t))
	if err != nil {
		return false, errs.Wrap(errs.ResourceError, "index.exists", "reading spo", err)
	}
	return ok, nil
}
