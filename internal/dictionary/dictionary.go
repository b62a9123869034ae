// Package dictionary implements the term↔id bijection and the
// sharded, crash-safe id allocator from spec.md §4.1.
//
// Grounded on erigon's "highest allocated id" durable counter idiom
// implied by its versioned meta-keyspace (erigon-lib/kv/tables.go) and
// on the sharded-shared-counter design spec.md §4.1 specifies
// directly. Sharded read caches use hashicorp/golang-lru/arc/v2 (ARC
// eviction — adapts to scan-heavy vs point-lookup-heavy workloads
// automatically, which a plain LRU would not, satisfying the
// "documented eviction" requirement without hand-rolling one).
package dictionary

import (
	"hash/fnv"

	"go.uber.org/zap"

	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/kvstore"
	"github.com/kvgraph/triplestore/internal/telemetry"
	"github.com/kvgraph/triplestore/internal/term"
)

// Options configure a Dictionary.
type Options struct {
	// Shards is the number of independent shards; spec.md §4.1 calls
	// this N, "chosen at startup".
	Shards int
	// ChunkSize is the contiguous id range a shard reserves from the
	// shared counter each time its local range is exhausted.
	ChunkSize int
	// ShardCacheSize bounds each shard's forward/reverse read cache.
	ShardCacheSize int
}

// DefaultOptions match common production sizing: enough shards to
// avoid counter contention under typical loader parallelism, chunks
// large enough that allocation almost never synchronizes.
var DefaultOptions = Options{Shards: 16, ChunkSize: 4096, ShardCacheSize: 1 << 16}

func (o Options) validate() (Options, error) {
	if o.Shards <= 0 {
		o.Shards = DefaultOptions.Shards
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultOptions.ChunkSize
	}
	if o.ShardCacheSize <= 0 {
		o.ShardCacheSize = DefaultOptions.ShardCacheSize
	}
	if uint64(o.ChunkSize) > SafetyMargin {
		return o, errs.New(errs.ConfigError, "dictionary.options", "chunkSize must not exceed the counter safety margin")
	}
	return o, nil
}

// Dictionary is the term↔id bijection plus allocator.
type Dictionary struct {
	env     *kvstore.Env
	counter *counter
	shards  []*shard
	tel     *telemetry.Telemetry
	log     *zap.Logger
}

// Open restores the Dictionary, recovering its counter from the meta
// table (spec.md §4.1 "On restart, recovered counter = persisted +
// safety_margin").
func Open(env *kvstore.Env, opts Options, tel *telemetry.Telemetry, log *zap.Logger) (*Dictionary, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}
	c, err := openCounter(env, uint64(opts.ChunkSize))
	if err != nil {
		return nil, err
	}
	shards := make([]*shard, opts.Shards)
	for i := range shards {
		sh, err := newShard(c, opts.ChunkSize, opts.ShardCacheSize)
		if err != nil {
			return nil, err
		}
		shards[i] = sh
	}
	return &Dictionary{env: env, counter: c, shards: shards, tel: tel, log: log}, nil
}

// Flush forces the counter's in-memory high-water mark to durable
// storage (spec.md §4.1 "flushed ... on explicit flush").
func (d *Dictionary) Flush() error { return d.counter.flush() }

// CurrentCounter reports the counter's in-memory high-water mark (one
// past the last sequence number reserved by any shard's chunk), for
// store.Health's diagnostic surface.
func (d *Dictionary) CurrentCounter() uint64 { return d.counter.next.Load() }

func (d *Dictionary) shardFor(canonical []byte) *shard {
	h := fnv.New64a()
	_, _ = h.Write(canonical)
	idx := h.Sum64() % uint64(len(d.shards))
	return d.shards[idx]
}

// GetOrCreateIDs resolves ids.ID for every term in terms, in order,
// allocating new dictionary entries for any term seen for the first
// time. Inline-eligible terms never touch the KV store (spec.md §4.1).
func (d *Dictionary) GetOrCreateIDs(terms []term.Term) ([]ids.ID, error) {
	out := make([]ids.ID, len(terms))
	var toWrite []pendingTerm
	pendingByCanon := map[string]int{} // canonical -> index into toWrite
	var repeats [][2]int               // (position in terms, index into toWrite)
	for i, t := range terms {
		if err := t.Validate(); err != nil {
			return nil, errs.Wrap(errs.ConfigError, "dictionary.get_or_create", "invalid term", err)
		}
		if id, ok := tryInline(t); ok {
			out[i] = id
			continue
		}
		canonical := t.Canonical()
		sh := d.shardFor(canonical)
		if id, ok := sh.cacheGet(string(canonical)); ok {
			d.tel.CacheEvent("dictionary", true)
			out[i] = id
			continue
		}
		d.tel.CacheEvent("dictionary", false)
		snap, err := d.env.NewSnapshot()
		if err != nil {
			return nil, err
		}
		v, ok, err := snap.Get(kvstore.TableTermToID, canonical)
		snap.Release()
		if err != nil {
			return nil, err
		}
		if ok {
			id := ids.ID(beUint64(v))
			sh.cachePut(string(canonical), id)
			out[i] = id
			continue
		}
		if j, ok := pendingByCanon[string(canonical)]; ok {
			repeats = append(repeats, [2]int{i, j})
			continue
		}
		pendingByCanon[string(canonical)] = len(toWrite)
		toWrite = append(toWrite, pendingTerm{index: i, canonical: canonical, shard: sh})
	}

	for _, p := range toWrite {
		seq, err := p.shard.nextSeq()
		if err != nil {
			return nil, err
		}
		id, err := ids.FromSequence(ids.TagForTerm(terms[p.index]), seq)
		if err != nil {
			return nil, err
		}
		b := kvstore.NewBatch()
		b.Put(kvstore.TableTermToID, p.canonical, beBytes(uint64(id)))
		b.Put(kvstore.TableIDToTerm, beBytes(uint64(id)), p.canonical)
		if err := d.env.Apply(b, kvstore.ApplyOptions{Sync: true}); err != nil {
			return nil, err
		}
		p.shard.cachePut(string(p.canonical), id)
		out[p.index] = id
	}
	for _, r := range repeats {
		out[r[0]] = out[toWrite[r[1]].index]
	}
	return out, nil
}

type pendingTerm struct {
	index     int
	canonical []byte
	shard     *shard
}

// LookupIDs resolves ids for terms without allocating; terms not
// present resolve to (0, false) at the corresponding index.
func (d *Dictionary) LookupIDs(terms []term.Term) ([]ids.ID, []bool, error) {
	out := make([]ids.ID, len(terms))
	found := make([]bool, len(terms))
	for i, t := range terms {
		if id, ok := tryInline(t); ok {
			out[i], found[i] = id, true
			continue
		}
		canonical := t.Canonical()
		sh := d.shardFor(canonical)
		if id, ok := sh.cacheGet(string(canonical)); ok {
			out[i], found[i] = id, true
			continue
		}
		snap, err := d.env.NewSnapshot()
		if err != nil {
			return nil, nil, err
		}
		v, ok, err := snap.Get(kvstore.TableTermToID, canonical)
		snap.Release()
		if err != nil {
			return nil, nil, err
		}
		if ok {
			id := ids.ID(beUint64(v))
			sh.cachePut(string(canonical), id)
			out[i], found[i] = id, true
		}
	}
	return out, found, nil
}

// LookupTerms resolves terms for the given ids, preferring inline
// decoding, then the reverse cache, then the id_to_term table.
func (d *Dictionary) LookupTerms(idList []ids.ID) ([]term.Term, []bool, error) {
	out := make([]term.Term, len(idList))
	found := make([]bool, len(idList))
	for i, id := range idList {
		if t, ok := decodeInline(id); ok {
			out[i], found[i] = t, true
			continue
		}
		sh := d.shardByID(id)
		if canon, ok := sh.reverseCacheGet(id); ok {
			out[i], found[i] = decodeCanonical(canon), true
			continue
		}
		snap, err := d.env.NewSnapshot()
		if err != nil {
			return nil, nil, err
		}
		v, ok, err := snap.Get(kvstore.TableIDToTerm, beBytes(uint64(id)))
		snap.Release()
		if err != nil {
			return nil, nil, err
		}
		if ok {
			sh.cachePut(string(v), id)
			out[i], found[i] = decodeCanonical(string(v)), true
		}
	}
	return out, found, nil
}

// shardByID picks the shard whose reverse cache LookupTerms consults
// and fills. Shard assignment for forward entries is a hash of the
// canonical bytes, which a reverse lookup doesn't have yet, so the
// shard is chosen from the id itself (id mod shard count). Only that
// one shard is consulted: an id cached by GetOrCreateIDs/LookupIDs
// under its canonical-hash shard is found here only if both choices
// happen to coincide.
func (d *Dictionary) shardByID(id ids.ID) *shard {
	return d.shards[uint64(id)%uint64(len(d.shards))]
}

func tryInline(t term.Term) (ids.ID, bool) {
	if !t.IsInlineEligible() {
		return 0, false
	}
	switch t.NumericKind() {
	case term.NumInteger:
		v, err := parseInt(t.Lexical())
		if err != nil {
			return 0, false
		}
		return ids.InlineInteger(v)
	case term.NumDateTime:
		tm, err := parseDateTime(t.Lexical())
		if err != nil {
			return 0, false
		}
		return ids.InlineDateTime(tm)
	case term.NumDecimal:
		m, s, err := parseDecimalParts(t.Lexical())
		if err != nil {
			return 0, false
		}
		return ids.InlineDecimal(m, s)
	case term.NumDouble:
		v, err := parseDouble(t.Lexical())
		if err != nil {
			return 0, false
		}
		return ids.InlineDouble(v)
	default:
		return 0, false
	}
}

func decodeInline(id ids.ID) (term.Term, bool) {
	switch id.Tag() {
	case ids.TagInlineInteger:
		v, err := ids.DecodeInlineInteger(id)
		if err != nil {
			return term.Term{}, false
		}
		return term.NewNumeric(formatInt(v), term.XSDInteger, term.NumInteger), true
	case ids.TagInlineDateTime:
		tm, err := ids.DecodeInlineDateTime(id)
		if err != nil {
			return term.Term{}, false
		}
		return term.NewNumeric(formatDateTime(tm), term.XSDDateTime, term.NumDateTime), true
	case ids.TagInlineDecimal:
		m, s, err := ids.DecodeInlineDecimal(id)
		if err != nil {
			return term.Term{}, false
		}
		return term.NewNumeric(formatDecimalParts(m, s), term.XSDDecimal, term.NumDecimal), true
	case ids.TagInlineDouble:
		v, err := ids.DecodeInlineDouble(id)
		if err != nil {
			return term.Term{}, false
		}
		return term.NewNumeric(formatDouble(v), term.XSDDouble, term.NumDouble), true
	default:
		return term.Term{}, false
	}
}
