package optimizer

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"

	"github.com/kvgraph/triplestore/internal/ids"
)

// DefaultCacheCapacity is the plan cache's default LRU capacity.
const DefaultCacheCapacity = 1024

type cacheEntry struct {
	plan       *Plan
	generation string
	predicates map[uint64]struct{}
}

// Optimizer owns the plan cache and its predicate-granular invalidation
// index (spec.md §4.7 "invalidated on any UPDATE... via a reverse index
// from predicate-id → set of plans touching it").
type Optimizer struct {
	mu         sync.Mutex
	cache      *lru.Cache[string, *cacheEntry]
	generation string
	reverse    map[uint64]map[string]struct{}
}

func New(capacity int) (*Optimizer, error) {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	c, err := lru.New[string, *cacheEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &Optimizer{
		cache:      c,
		generation: uuid.NewString(),
		reverse:    map[uint64]map[string]struct{}{},
	}, nil
}

// Lookup returns a cached plan for key if present and from the
// current generation.
func (o *Optimizer) Lookup(key string) (*Plan, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.cache.Get(key)
	if !ok || e.generation != o.generation {
		return nil, false
	}
	return e.plan, true
}

// Store caches plan under key, recording which predicate ids the BGP
// touched so a later predicate-granular invalidation can evict it.
func (o *Optimizer) Store(key string, plan *Plan, patterns []PatternRef) {
	o.mu.Lock()
	defer o.mu.Unlock()
	preds := map[uint64]struct{}{}
	for _, p := range patterns {
		if p.PVar == "" {
			preds[uint64(p.Pattern.P)] = struct{}{}
		}
	}
	o.cache.Add(key, &cacheEntry{plan: plan, generation: o.generation, predicates: preds})
	for pred := range preds {
		set, ok := o.reverse[pred]
		if !ok {
			set = map[string]struct{}{}
			o.reverse[pred] = set
		}
		set[key] = struct{}{}
	}
}

// InvalidateAll drops every cached plan by rolling the generation
// token forward; stale entries are evicted lazily on next Lookup
// rather than walked and deleted eagerly.
func (o *Optimizer) InvalidateAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.generation = uuid.NewString()
	o.reverse = map[uint64]map[string]struct{}{}
}

// InvalidatePredicate evicts only the cached plans whose BGP touched
// pred, leaving plans for unrelated predicates warm.
func (o *Optimizer) InvalidatePredicate(pred ids.ID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	keys, ok := o.reverse[uint64(pred)]
	if !ok {
		return
	}
	for key := range keys {
		o.cache.Remove(key)
	}
	delete(o.reverse, uint64(pred))
}
