package dictionary

import (
	"sync"

	arc "github.com/hashicorp/golang-lru/arc/v2"

	"github.com/kvgraph/triplestore/internal/ids"
)

// shard owns one partition of the dictionary's key space and its own
// bounded read cache. Shards are independent: a write to shard i never
// blocks a read from shard j (spec.md §4.1 "Concurrency").
type shard struct {
	mu      sync.Mutex
	cache   *arc.ARCCache[string, ids.ID] // canonical term bytes -> id
	revCache *arc.ARCCache[ids.ID, string] // id -> canonical term bytes

	counter   *counter
	localNext uint64
	localEnd  uint64
	chunk     uint64
}

func newShard(c *counter, chunkSize, cacheSize int) (*shard, error) {
	fwd, err := arc.NewARC[string, ids.ID](cacheSize)
	if err != nil {
		return nil, err
	}
	rev, err := arc.NewARC[ids.ID, string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &shard{cache: fwd, revCache: rev, counter: c, chunk: uint64(chunkSize)}, nil
}

// nextSeq hands out the next sequence number for this shard, reserving
// a new chunk from the shared atomic counter whenever the shard's
// local range is exhausted (spec.md §4.1 "batch pre-allocation").
func (s *shard) nextSeq() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localNext >= s.localEnd {
		start, err := s.counter.reserve(s.chunk)
		if err != nil {
			return 0, err
		}
		s.localNext, s.localEnd = start, start+s.chunk
	}
	v := s.localNext
	s.localNext++
	return v, nil
}

func (s *shard) cacheGet(canonical string) (ids.ID, bool) {
	return s.cache.Get(canonical)
}

func (s *shard) cachePut(canonical string, id ids.ID) {
	s.cache.Add(canonical, id)
	s.revCache.Add(id, canonical)
}

func (s *shard) reverseCacheGet(id ids.ID) (string, bool) {
	return s.revCache.Get(id)
}
