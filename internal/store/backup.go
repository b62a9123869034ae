// backup.go implements streaming backup/restore over every column
// family (spec.md §6 "backup/restore"): a zstd-compressed archive with
// a small header (magic, schema version), then the table list and one
// length-prefixed record per key/value pair, table by table, followed
// by a trailing CRC32 checksum over that body so Restore can detect
// truncation or corruption before trusting any of it.
//
// Grounded on internal/loader's chunked-streaming-pipeline idiom
// (bounded buffers, no whole-dataset materialization) and on
// klauspost/compress/zstd's io.Writer/io.Reader wrapping, the same
// streaming-codec shape internal/loader uses for its encoder stage.
package store

import (
	"bufio"
	"encoding/binary"
	"hash"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/kvstore"
)

// backupMagic identifies a valid archive; backupSchemaVersion is
// bumped whenever the on-disk table/key encoding changes incompatibly.
const (
	backupMagic         = "TPLSB01"
	backupSchemaVersion = 1
)

// Backup streams every row of every column family to w, compressed
// with zstd. The store remains open and readable throughout — Backup
// reads from one consistent snapshot, the same isolation Query uses.
func (s *Store) Backup(w io.Writer) error {
	if err := s.checkOpen("store.backup"); err != nil {
		return err
	}
	rt, err := s.txnMgr.BeginRead()
	if err != nil {
		return err
	}
	defer rt.Release()
	snap, err := rt.Snapshot()
	if err != nil {
		return err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return errs.Wrap(errs.Fatal, "store.backup", "opening zstd writer", err)
	}
	defer zw.Close()
	bw := bufio.NewWriter(zw)

	if err := writeHeader(bw); err != nil {
		return err
	}

	// hw checksums the table list and every record written after the
	// header (not the header itself), so Restore can detect truncation
	// or corruption in the body before trusting any of it.
	hw := newHashingWriter(bw)

	for _, table := range kvstore.AllTables {
		if err := writeStringField(hw, table); err != nil {
			return err
		}
		it, err := snap.PrefixIterator(table, nil)
		if err != nil {
			return err
		}
		var count uint64
		for it.Next() {
			if err := writeRecord(hw, it.Key(), it.Value()); err != nil {
				it.Close()
				return err
			}
			count++
		}
		err = it.Err()
		it.Close()
		if err != nil {
			return err
		}
		if err := writeRecord(hw, nil, nil); err != nil { // end-of-table sentinel
			return err
		}
		s.tel.Event("store.backup.table_done")
	}

	if err := binary.Write(bw, binary.BigEndian, hw.Sum32()); err != nil {
		return err
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	return zw.Close()
}

// Restore replaces the store's entire persisted content with the
// archive read from r. The store must have no other concurrent
// writers; callers typically call this immediately after Open on an
// otherwise-empty store.
func (s *Store) Restore(r io.Reader) error {
	if err := s.checkOpen("store.restore"); err != nil {
		return err
	}
	zr, err := zstd.NewReader(r)
	if err != nil {
		return errs.Wrap(errs.Fatal, "store.restore", "opening zstd reader", err)
	}
	defer zr.Close()
	br := bufio.NewReader(zr)

	if err := readAndCheckHeader(br); err != nil {
		return err
	}

	hr := newHashingReader(br)

	for _, wantTable := range kvstore.AllTables {
		table, err := readStringField(hr)
		if err != nil {
			return err
		}
		if table != wantTable {
			return errs.New(errs.Fatal, "store.restore", "archive table order does not match this schema version")
		}
		b := kvstore.NewBatch()
		for {
			key, val, err := readRecord(hr)
			if err != nil {
				return err
			}
			if key == nil { // end-of-table sentinel
				break
			}
			b.Put(table, key, val)
			if b.Len() >= restoreBatchRows {
				if err := s.env.Apply(b, kvstore.ApplyOptions{Sync: false}); err != nil {
					return err
				}
				b = kvstore.NewBatch()
			}
		}
		if b.Len() > 0 {
			if err := s.env.Apply(b, kvstore.ApplyOptions{Sync: false}); err != nil {
				return err
			}
		}
	}

	var wantSum uint32
	if err := binary.Read(br, binary.BigEndian, &wantSum); err != nil {
		return errs.Wrap(errs.Fatal, "store.restore", "reading archive checksum", err)
	}
	if hr.Sum32() != wantSum {
		return errs.New(errs.Fatal, "store.restore", "archive checksum mismatch: truncated or corrupt")
	}

	if err := s.env.FlushWAL(true); err != nil {
		return err
	}
	s.queryCache.InvalidateAll()
	s.subjCache.InvalidateAll()
	return s.recompileRules()
}

// restoreBatchRows bounds how many rows accumulate in one write batch
// during Restore, matching internal/loader's BatchSize-style chunking
// rather than applying a batch per row or buffering the whole archive.
const restoreBatchRows = 10_000

func writeHeader(w io.Writer) error {
	if _, err := io.WriteString(w, backupMagic); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, uint32(backupSchemaVersion))
}

func readAndCheckHeader(r io.Reader) error {
	magic := make([]byte, len(backupMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return errs.Wrap(errs.Fatal, "store.restore", "reading archive magic", err)
	}
	if string(magic) != backupMagic {
		return errs.New(errs.Fatal, "store.restore", "not a valid archive")
	}
	var version uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return errs.Wrap(errs.Fatal, "store.restore", "reading archive version", err)
	}
	if version != backupSchemaVersion {
		return errs.New(errs.Fatal, "store.restore", "unsupported archive schema version")
	}
	return nil
}

func writeStringField(w io.Writer, s string) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readStringField(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// writeRecord writes one length-prefixed (key, value) pair. A nil key
// marks the end of a table's records.
func writeRecord(w io.Writer, key, val []byte) error {
	if key == nil {
		return binary.Write(w, binary.BigEndian, int32(-1))
	}
	if err := binary.Write(w, binary.BigEndian, int32(len(key))); err != nil {
		return err
	}
	if _, err := w.Write(key); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(val))); err != nil {
		return err
	}
	_, err := w.Write(val)
	return err
}

// hashingWriter tees every Write through a running CRC32 accumulator
// without buffering, so Backup can checksum the body as it streams
// rather than holding the archive in memory to hash it afterward.
type hashingWriter struct {
	w io.Writer
	h hash.Hash32
}

func newHashingWriter(w io.Writer) *hashingWriter {
	return &hashingWriter{w: w, h: crc32.NewIEEE()}
}

func (hw *hashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		hw.h.Write(p[:n])
	}
	return n, err
}

func (hw *hashingWriter) Sum32() uint32 { return hw.h.Sum32() }

// hashingReader is hashingWriter's read-side counterpart, used by
// Restore to recompute the same CRC32 while streaming records in.
type hashingReader struct {
	r io.Reader
	h hash.Hash32
}

func newHashingReader(r io.Reader) *hashingReader {
	return &hashingReader{r: r, h: crc32.NewIEEE()}
}

func (hr *hashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
	}
	return n, err
}

func (hr *hashingReader) Sum32() uint32 { return hr.h.Sum32() }

func readRecord(r io.Reader) (key, val []byte, err error) {
	var klen int32
	if err := binary.Read(r, binary.BigEndian, &klen); err != nil {
		return nil, nil, err
	}
	if klen < 0 {
		return nil, nil, nil
	}
	key = make([]byte, klen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, nil, err
	}
	var vlen uint32
	if err := binary.Read(r, binary.BigEndian, &vlen); err != nil {
		return nil, nil, err
	}
	val = make([]byte, vlen)
	if _, err := io.ReadFull(r, val); err != nil {
		return nil, nil, err
	}
	return key, val, nil
}
