// Package kvstore wraps an ordered, column-family-capable, ACID
// key-value backend (MDBX via github.com/erigontech/mdbx-go) behind
// the minimal surface the rest of the store needs: open/close,
// read/write transactions, write batches, snapshots, and bounded
// prefix iteration.
//
// Table (column-family) layout and the TableCfg registration idiom are
// adapted from erigon-lib/kv/tables.go (ChaindataTablesCfg, TableFlags,
// DupSort/IntegerKey constants) — same shape, renamed to the triple
// store's eight column families from spec.md §6.
package kvstore

// Column family names, exactly as spec.md §6 "Persistent layout" names them.
const (
	TableSPO         = "spo"
	TablePOS         = "pos"
	TableOSP         = "osp"
	TableDerived     = "derived"
	TableTermToID    = "term_to_id"
	TableIDToTerm    = "id_to_term"
	TableNumericRange = "numeric_range"
	TableMeta        = "meta"
)

// AllTables enumerates every column family the store opens at startup,
// in the order erigon enumerates ChaindataTables: deterministic, so DBI
// handles are assigned the same way on every run.
var AllTables = []string{
	TableSPO, TablePOS, TableOSP, TableDerived,
	TableTermToID, TableIDToTerm, TableNumericRange, TableMeta,
}

// Flags mirror the handful of erigon-lib/kv.TableFlags this store
// actually needs; DupSort is unused here (triples keys are already
// globally unique 24-byte tuples) but kept for parity with the
// teacher's flag vocabulary and documented as available to future
// tables.
type Flags uint

const (
	Default Flags = 0x00
	DupSort Flags = 0x04
)

// TableCfgItem mirrors erigon-lib/kv.TableCfgItem, trimmed to the
// fields this store uses.
type TableCfgItem struct {
	Flags Flags
}

// TableCfg is the per-table configuration consulted when the store
// opens its MDBX environment and creates/re-opens each DBI.
type TableCfg map[string]TableCfgItem

// DefaultTableCfg is this store's analogue of erigon's
// ChaindataTablesCfg: every table uses default (non-DupSort) flags
// because every CF here stores fixed-shape, globally-unique keys.
var DefaultTableCfg = TableCfg{
	TableSPO:          {Flags: Default},
	TablePOS:          {Flags: Default},
	TableOSP:          {Flags: Default},
	TableDerived:      {Flags: Default},
	TableTermToID:     {Flags: Default},
	TableIDToTerm:     {Flags: Default},
	TableNumericRange: {Flags: Default},
	TableMeta:         {Flags: Default},
}

// Meta-table key namespaces, per spec.md §6 "Persistent layout".
const (
	MetaSeqCounter  = "seq:counter"
	MetaStatsPrefix = "stats:"
	MetaTBoxPrefix  = "tbox:"
)
