// Package stats implements spec.md §4.5: a single-pass collector
// producing cardinality/selectivity estimates for the optimizer, plus
// equal-width numeric histograms. During Collect each predicate's
// inline integer values are gathered in memory and then bucketed; they
// are not streamed into the histogram.
//
// Grounded on erigon's versioned, schema-checked persistence idiom for
// anything stored under a reserved meta key (ChaindataTablesCfg's
// schema-version discipline) — deserializing untrusted bytes is
// rejected on any structural mismatch, never best-effort parsed.
package stats

import (
	"encoding/binary"
	"encoding/json"
	"sync/atomic"

	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
)

// schemaVersion guards the persisted Statistics blob's shape.
const schemaVersion = 1

// Histogram is an equal-width numeric histogram for one predicate.
type Histogram struct {
	Min, Max    float64
	BucketCount int
	Buckets     []uint64
}

func (h *Histogram) bucketFor(v float64) int {
	if h.BucketCount <= 0 || h.Max <= h.Min {
		return 0
	}
	width := (h.Max - h.Min) / float64(h.BucketCount)
	if width <= 0 {
		return 0
	}
	idx := int((v - h.Min) / width)
	if idx < 0 {
		idx = 0
	}
	if idx >= h.BucketCount {
		idx = h.BucketCount - 1
	}
	return idx
}

// Statistics is the persisted value from spec.md §3 "Statistics".
type Statistics struct {
	SchemaVersion    int
	TotalTriples     uint64
	DistinctSubjects uint64
	DistinctPreds    uint64
	DistinctObjects  uint64
	PredicateCounts  map[uint64]uint64
	Histograms       map[uint64]*Histogram // keyed by predicate id
}

func empty() *Statistics {
	return &Statistics{
		SchemaVersion:   schemaVersion,
		PredicateCounts: map[uint64]uint64{},
		Histograms:      map[uint64]*Histogram{},
	}
}

// Collector owns the current in-memory Statistics and coordinates
// refresh against an Index snapshot.
type Collector struct {
	env       *kvstore.Env
	ix        *index.Index
	current   atomic.Pointer[Statistics]
	refreshing atomic.Bool
}

func New(env *kvstore.Env, ix *index.Index) (*Collector, error) {
	c := &Collector{env: env, ix: ix}
	loaded, err := load(env)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		loaded = empty()
	}
	c.current.Store(loaded)
	return c, nil
}

// Current returns the most recently collected Statistics snapshot.
func (c *Collector) Current() *Statistics { return c.current.Load() }

// Collect performs a single pass over SPO, building fresh Statistics.
// An atomic guard is set *before* the scan begins (spec.md §4.5
// "guarded by an atomic flag set before the scan begins"); a call made
// while another is running returns the current Statistics without
// scanning.
func (c *Collector) Collect() (*Statistics, error) {
	if !c.refreshing.CompareAndSwap(false, true) {
		return c.current.Load(), nil
	}
	defer c.refreshing.Store(false)

	snap, err := c.env.NewSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	st := empty()
	subjects := map[ids.ID]struct{}{}
	predicates := map[ids.ID]struct{}{}
	objects := map[ids.ID]struct{}{}
	numericVals := map[ids.ID][]float64{}

	cur, err := c.ix.Lookup(snap, index.Pattern{}, kvstore.TableSPO)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	for cur.Next() {
		tr := cur.Triple()
		st.TotalTriples++
		subjects[tr.S] = struct{}{}
		predicates[tr.P] = struct{}{}
		objects[tr.O] = struct{}{}
		st.PredicateCounts[uint64(tr.P)]++
		if tr.O.Tag() == ids.TagInlineInteger {
			if v, err := ids.DecodeInlineInteger(tr.O); err == nil {
				numericVals[tr.P] = append(numericVals[tr.P], float64(v))
			}
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	st.DistinctSubjects = uint64(len(subjects))
	st.DistinctPreds = uint64(len(predicates))
	st.DistinctObjects = uint64(len(objects))

	for pred, vals := range numericVals {
		st.Histograms[uint64(pred)] = buildHistogram(vals, 16)
	}

	if err := persist(c.env, st); err != nil {
		return nil, err
	}
	c.current.Store(st)
	return st, nil
}

func buildHistogram(vals []float64, buckets int) *Histogram {
	h := &Histogram{BucketCount: buckets, Buckets: make([]uint64, buckets)}
	if len(vals) == 0 {
		return h
	}
	h.Min, h.Max = vals[0], vals[0]
	for _, v := range vals {
		if v < h.Min {
			h.Min = v
		}
		if v > h.Max {
			h.Max = v
		}
	}
	for _, v := range vals {
		h.Buckets[h.bucketFor(v)]++
	}
	return h
}

// EstimatePattern returns an expected cardinality per spec.md §4.5.
func EstimatePattern(p index.Pattern, st *Statistics) uint64 {
	switch {
	case p.PBound:
		if c, ok := st.PredicateCounts[uint64(p.P)]; ok {
			if p.SBound || p.OBound {
				// selectivity constant for an additional bound slot
				const selectivity = 10
				est := c / selectivity
				if est == 0 {
					est = 1
				}
				return est
			}
			return c
		}
		return 1
	case p.SBound || p.OBound:
		const selectivity = 100
		est := st.TotalTriples / selectivity
		if est == 0 {
			est = 1
		}
		return est
	default:
		return st.TotalTriples
	}
}

// EstimateJoin combines two pattern estimates over their shared
// variable count using a product-times-min-selectivity model
// (spec.md §4.5).
func EstimateJoin(lhs, rhs uint64, sharedVars int, st *Statistics) uint64 {
	if sharedVars <= 0 {
		return lhs * rhs
	}
	product := lhs * rhs
	minCard := lhs
	if rhs < minCard {
		minCard = rhs
	}
	if minCard == 0 {
		return 0
	}
	est := product / minCard
	if est == 0 {
		est = 1
	}
	return est
}

func metaKey() []byte { return []byte(kvstore.MetaStatsPrefix + "current") }

func persist(env *kvstore.Env, st *Statistics) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return errs.Wrap(errs.ResourceError, "stats.persist", "marshaling statistics", err)
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], schemaVersion)
	copy(buf[4:], payload)
	b := kvstore.NewBatch()
	b.Put(kvstore.TableMeta, metaKey(), buf)
	return env.Apply(b, kvstore.ApplyOptions{Sync: true})
}

// load deserializes Statistics, rejecting any structurally invalid or
// version-mismatched blob rather than best-effort parsing it
// (spec.md §4.5 "deserializing untrusted bytes is forbidden").
func load(env *kvstore.Env) (*Statistics, error) {
	snap, err := env.NewSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	v, ok, err := snap.Get(kvstore.TableMeta, metaKey())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if len(v) < 4 {
		return nil, errs.New(errs.Fatal, "stats.load", "truncated statistics record")
	}
	version := binary.BigEndian.Uint32(v[:4])
	if version != schemaVersion {
		return nil, errs.New(errs.Fatal, "stats.load", "unsupported statistics schema version")
	}
	var st Statistics
	if err := json.Unmarshal(v[4:], &st); err != nil {
		return nil, errs.Wrap(errs.Fatal, "stats.load", "malformed statistics record", err)
	}
	if st.PredicateCounts == nil || st.Histograms == nil {
		return nil, errs.New(errs.Fatal, "stats.load", "statistics record missing required fields")
	}
	return &st, nil
}
