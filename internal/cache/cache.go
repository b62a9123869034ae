// Package cache implements the caches named in spec.md §4.14 that
// don't already own their own package: the query-result cache, the
// subject-properties cache, and the numeric-range index. (The plan
// cache lives in internal/optimizer; the statistics cache is
// internal/stats.Collector's atomic.Pointer — both already carry their
// own generation-token invalidation and are composed here rather than
// duplicated.)
//
// Grounded on internal/optimizer/cache.go's shape: an LRU body plus a
// reverse predicate->keys index for predicate-granular invalidation,
// and on erigon's commented btree.Item idiom in
// core/state/history_reader_v3.go for the numeric-range ordered index.
package cache

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/telemetry"
)

// NumericRangeKeyLen matches index.KeyLen: three 8-byte big-endian ids
// (predicate, value, subject), the on-disk shape of the reserved
// kvstore.TableNumericRange column family named in spec.md §6
// "Persistent layout". NumericRangeIndex itself is the in-memory
// ordered structure actually serving range queries; Store is
// responsible for writing/removing the same rows under this key
// encoding in TableNumericRange so the index can be rebuilt after a
// restart, the same persist/rebuild split internal/stats.Collector
// uses for its own in-memory Statistics.
const NumericRangeKeyLen = 24

// EncodeNumericRangeKey builds the on-disk key for one (predicate,
// value, subject) entry.
func EncodeNumericRangeKey(predicate, value, subject ids.ID) []byte {
	buf := make([]byte, NumericRangeKeyLen)
	binary.BigEndian.PutUint64(buf[0:8], uint64(predicate))
	binary.BigEndian.PutUint64(buf[8:16], uint64(value))
	binary.BigEndian.PutUint64(buf[16:24], uint64(subject))
	return buf
}

// DecodeNumericRangeKey reverses EncodeNumericRangeKey.
func DecodeNumericRangeKey(buf []byte) (predicate, value, subject ids.ID) {
	return ids.ID(binary.BigEndian.Uint64(buf[0:8])),
		ids.ID(binary.BigEndian.Uint64(buf[8:16])),
		ids.ID(binary.BigEndian.Uint64(buf[16:24]))
}

// DefaultQueryResultCapacity bounds the number of distinct queries the
// result cache holds at once.
const DefaultQueryResultCapacity = 256

// DefaultSubjectPropertiesCapacity bounds the subject-properties LRU.
const DefaultSubjectPropertiesCapacity = 4096

// DefaultMaxResultSize skips caching a result wider than this many
// rows (spec.md §4.14 "Result size cap — skip caching oversize
// results").
const DefaultMaxResultSize = 10_000

// DefaultQueryResultTTL bounds how long a cached result stays fresh
// absent any invalidating write.
const DefaultQueryResultTTL = 5 * time.Minute

type queryResultEntry struct {
	rows       [][]ids.ID
	predicates map[ids.ID]struct{}
	expiresAt  time.Time
}

// QueryResultCache holds materialized SPARQL result sets keyed by a
// caller-supplied query hash, invalidated per spec.md §4.14: "on
// UPDATE, any entry intersecting the update's predicates is evicted."
type QueryResultCache struct {
	mu          sync.Mutex
	cache       *lru.Cache[string, *queryResultEntry]
	reverse     map[ids.ID]map[string]struct{}
	maxRowCount int
	ttl         time.Duration
	tel         *telemetry.Telemetry
}

func NewQueryResultCache(capacity int, ttl time.Duration, maxRowCount int, tel *telemetry.Telemetry) (*QueryResultCache, error) {
	if capacity <= 0 {
		capacity = DefaultQueryResultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultQueryResultTTL
	}
	if maxRowCount <= 0 {
		maxRowCount = DefaultMaxResultSize
	}
	c, err := lru.New[string, *queryResultEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &QueryResultCache{
		cache:       c,
		reverse:     map[ids.ID]map[string]struct{}{},
		maxRowCount: maxRowCount,
		ttl:         ttl,
		tel:         tel,
	}, nil
}

// Get returns the cached rows for key if present and not expired.
func (c *QueryResultCache) Get(key string) ([][]ids.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache.Get(key)
	if !ok || time.Now().After(e.expiresAt) {
		c.tel.CacheEvent("query_result", false)
		return nil, false
	}
	c.tel.CacheEvent("query_result", true)
	return e.rows, true
}

// Put caches rows under key along with the set of predicate ids the
// query touched. A result wider than maxRowCount is not cached.
func (c *QueryResultCache) Put(key string, rows [][]ids.ID, touched map[ids.ID]struct{}) {
	if len(rows) > c.maxRowCount {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	preds := make(map[ids.ID]struct{}, len(touched))
	for p := range touched {
		preds[p] = struct{}{}
	}
	c.cache.Add(key, &queryResultEntry{rows: rows, predicates: preds, expiresAt: time.Now().Add(c.ttl)})
	for p := range preds {
		set, ok := c.reverse[p]
		if !ok {
			set = map[string]struct{}{}
			c.reverse[p] = set
		}
		set[key] = struct{}{}
	}
}

// InvalidatePredicate evicts every cached result that touched pred.
func (c *QueryResultCache) InvalidatePredicate(pred ids.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.reverse[pred]
	if !ok {
		return
	}
	for key := range keys {
		c.cache.Remove(key)
	}
	delete(c.reverse, pred)
}

// InvalidateAll drops every cached result, e.g. after clear_derived or
// a schema-wide materialization run.
func (c *QueryResultCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
	c.reverse = map[ids.ID]map[string]struct{}{}
}

// PropValue is one (predicate, object) pair for a cached subject.
type PropValue struct {
	P, O ids.ID
}

// SubjectPropertiesCache caches a subject's full property list for
// repeated multi-property lookups on the same subject — spec.md
// §4.14's example is CONSTRUCT, which typically re-fetches every
// bound subject's properties once per template.
type SubjectPropertiesCache struct {
	cache *lru.Cache[ids.ID, []PropValue]
	tel   *telemetry.Telemetry
}

func NewSubjectPropertiesCache(capacity int, tel *telemetry.Telemetry) (*SubjectPropertiesCache, error) {
	if capacity <= 0 {
		capacity = DefaultSubjectPropertiesCapacity
	}
	c, err := lru.New[ids.ID, []PropValue](capacity)
	if err != nil {
		return nil, err
	}
	return &SubjectPropertiesCache{cache: c, tel: tel}, nil
}

func (c *SubjectPropertiesCache) Get(subject ids.ID) ([]PropValue, bool) {
	v, ok := c.cache.Get(subject)
	c.tel.CacheEvent("subject_properties", ok)
	return v, ok
}

func (c *SubjectPropertiesCache) Put(subject ids.ID, props []PropValue) {
	c.cache.Add(subject, props)
}

// Invalidate evicts subject's cached property list, e.g. after an
// insert/delete touching that subject.
func (c *SubjectPropertiesCache) Invalidate(subject ids.ID) {
	c.cache.Remove(subject)
}

func (c *SubjectPropertiesCache) InvalidateAll() {
	c.cache.Purge()
}

// rangeItem is one numeric-range index entry: (predicate, sortable
// value, subject). ids.ID's inline-numeric encoding preserves value
// order within a single tag (integer, datetime), but InlineDecimal's
// raw payload packs scale ahead of the mantissa and so is NOT
// monotonic in value across differing scales, and a predicate can mix
// integer/decimal/double objects across subjects. rangeItem therefore
// orders by ids.CompareInlineValue (true numeric value, cross-tag)
// rather than by raw id/payload comparison.
type rangeItem struct {
	predicate ids.ID
	value     ids.ID
	subject   ids.ID
}

func (a *rangeItem) Less(than btree.Item) bool {
	b := than.(*rangeItem)
	if a.predicate != b.predicate {
		return a.predicate < b.predicate
	}
	if cmp := ids.CompareInlineValue(a.value, b.value); cmp != 0 {
		return cmp < 0
	}
	return a.subject < b.subject
}

// degree is the btree.New fan-out, matching the constant erigon's
// ForEachStorage helper uses for its in-memory override tree.
const degree = 16

// NumericRangeIndex is the auxiliary ordered index spec.md §4.14
// names: "(predicate-id, sortable-value, subject-id)... maintained
// synchronously with triple insert/delete", enabling a FILTER over a
// numeric predicate to become a bounded range scan instead of a full
// pattern scan + per-row evaluation.
type NumericRangeIndex struct {
	mu   sync.Mutex
	tree *btree.BTree
}

func NewNumericRangeIndex() *NumericRangeIndex {
	return &NumericRangeIndex{tree: btree.New(degree)}
}

// Insert records that subject has value for predicate. Callers
// guard this to only numeric-eligible predicates/objects — the index
// is an optimization, not a source of truth.
func (n *NumericRangeIndex) Insert(predicate, value, subject ids.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tree.ReplaceOrInsert(&rangeItem{predicate: predicate, value: value, subject: subject})
}

func (n *NumericRangeIndex) Delete(predicate, value, subject ids.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tree.Delete(&rangeItem{predicate: predicate, value: value, subject: subject})
}

// RangeQuery returns every (subject, value) pair for predicate whose
// value lies in [low, high] by true numeric value (ids.CompareInlineValue),
// ascending by value. Both bounds are inclusive ids.ID values produced
// by the same inline-numeric encoding used to store them; use
// ids.MinInlineNumeric/MaxInlineNumeric for an unbounded side.
func (n *NumericRangeIndex) RangeQuery(predicate, low, high ids.ID) []index.Triple {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []index.Triple
	pivot := &rangeItem{predicate: predicate, value: low, subject: 0}
	n.tree.AscendGreaterOrEqual(pivot, func(i btree.Item) bool {
		item := i.(*rangeItem)
		if item.predicate != predicate {
			return false
		}
		if ids.CompareInlineValue(item.value, high) > 0 {
			return false
		}
		out = append(out, index.Triple{S: item.subject, P: item.predicate, O: item.value})
		return true
	})
	return out
}

func (n *NumericRangeIndex) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tree.Len()
}
