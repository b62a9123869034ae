// Package exec compiles an algebra.Node into a bound result — the
// iterator pipeline spec.md §4.9 describes: BGP, JOIN, OPTIONAL,
// UNION, MINUS, FILTER, EXTEND, GRAPH, GROUP/AGGREGATE, ORDER BY,
// DISTINCT, SLICE, PROJECT, then result serialization for SELECT,
// ASK, CONSTRUCT, and DESCRIBE.
//
// Every stage is evaluated eagerly: Eval returns a fully materialized
// []Binding for its node, and the package has no pull-based iterator
// type. The join engines underneath (internal/join) are batch-oriented
// in the same way, so rows are not streamed from the MDBX cursor to
// the caller.
package exec

import (
	"time"

	"github.com/kvgraph/triplestore/internal/adapter"
	"github.com/kvgraph/triplestore/internal/cache"
	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/join"
	"github.com/kvgraph/triplestore/internal/kvstore"
	"github.com/kvgraph/triplestore/internal/optimizer"
	"github.com/kvgraph/triplestore/internal/path"
	"github.com/kvgraph/triplestore/internal/stats"
	"github.com/kvgraph/triplestore/internal/telemetry"
)

// Binding is the pipeline's working representation: a partial
// variable→id map, identical to internal/join's.
type Binding = join.Binding

// Limits bounds a single query's execution (spec.md §4.9
// "Executor-level safeguards").
type Limits struct {
	Timeout            time.Duration
	MaxResults         int // DISTINCT/ORDER BY materialization ceiling
	MaxCartesian       int // self-join/Cartesian explosion guard
	PathLimits         path.Limits
	JoinLimits         join.Limits
	MaxDescribeDepth   int
	MaxDescribeTriples int
}

var DefaultLimits = Limits{
	Timeout:            30 * time.Second,
	MaxResults:         1_000_000,
	MaxCartesian:       10_000_000,
	PathLimits:         path.DefaultLimits,
	JoinLimits:         join.DefaultLimits,
	MaxDescribeDepth:   8,
	MaxDescribeTriples: 100_000,
}

func (l Limits) resolve() Limits {
	d := DefaultLimits
	if l.Timeout <= 0 {
		l.Timeout = d.Timeout
	}
	if l.MaxResults <= 0 {
		l.MaxResults = d.MaxResults
	}
	if l.MaxCartesian <= 0 {
		l.MaxCartesian = d.MaxCartesian
	}
	if l.MaxDescribeDepth <= 0 {
		l.MaxDescribeDepth = d.MaxDescribeDepth
	}
	if l.MaxDescribeTriples <= 0 {
		l.MaxDescribeTriples = d.MaxDescribeTriples
	}
	return l
}

// Executor evaluates one query or update WHERE clause against a fixed
// snapshot, under a wall-clock deadline established at construction.
type Executor struct {
	ix       *index.Index
	snap     *kvstore.Snapshot
	ad       *adapter.Adapter
	opt      *optimizer.Optimizer
	st       *stats.Statistics
	tel      *telemetry.Telemetry
	limits   Limits
	deadline time.Time

	// numericIdx backs evalFilter's range-pushdown fast path
	// (filter.go), nil unless WithNumericIndex was called — executors
	// built without one simply never take that path.
	numericIdx *cache.NumericRangeIndex

	// groups backs groupTagVar lookups for aggregate evaluation (see
	// group.go); populated by evalGroup/evalExtend, scoped to one Eval
	// call tree since this module has no correlated subqueries.
	groups   map[ids.ID][]Binding
	groupSeq uint64
}

func New(ix *index.Index, snap *kvstore.Snapshot, ad *adapter.Adapter, opt *optimizer.Optimizer, st *stats.Statistics, tel *telemetry.Telemetry, limits Limits) *Executor {
	limits = limits.resolve()
	return &Executor{
		ix: ix, snap: snap, ad: ad, opt: opt, st: st, tel: tel, limits: limits,
		deadline: time.Now().Add(limits.Timeout),
	}
}

// WithNumericIndex attaches the store's numeric-range auxiliary index
// (spec.md §4.14), enabling evalFilter to serve a bound numeric-range
// FILTER from NumericRangeIndex.RangeQuery instead of a full BGP scan.
// Returns e for chaining at the New(...) call site.
func (e *Executor) WithNumericIndex(idx *cache.NumericRangeIndex) *Executor {
	e.numericIdx = idx
	return e
}

// checkDeadline returns errs.Timeout once the executor's wall-clock
// budget is spent; called at the top of every recursive Eval so a
// long-running query fails fast rather than free-running.
func (e *Executor) checkDeadline() error {
	if time.Now().After(e.deadline) {
		return errs.New(errs.Timeout, "exec.eval", "query exceeded its wall-clock budget")
	}
	return nil
}
