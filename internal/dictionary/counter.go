package dictionary

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/kvstore"
)

// SafetyMargin is added to the last persisted counter value on
// recovery, covering any chunk that was in flight when the process
// died (spec.md §4.1 "Persistence"). It must be >= the largest chunk
// size ever configured.
const SafetyMargin = 1_000_000

// counter is the crash-safe, chunk-preallocating sequence counter
// shared by every shard. Its durable value is the highest *allocated*
// id, flushed when a chunk is exhausted and on explicit Flush
// (spec.md §4.1 "Persistence").
type counter struct {
	env       *kvstore.Env
	next      atomic.Uint64 // next id to hand out, in-memory
	persisted atomic.Uint64 // last value written to the meta table
	chunkSize uint64
}

func openCounter(env *kvstore.Env, chunkSize uint64) (*counter, error) {
	c := &counter{env: env, chunkSize: chunkSize}
	snap, err := env.NewSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	v, ok, err := snap.Get(kvstore.TableMeta, []byte(kvstore.MetaSeqCounter))
	if err != nil {
		return nil, err
	}
	var last uint64
	if ok {
		last = binary.BigEndian.Uint64(v)
	}
	recovered := last + SafetyMargin
	c.next.Store(recovered)
	c.persisted.Store(recovered)
	if err := c.persist(recovered); err != nil {
		return nil, err
	}
	return c, nil
}

// reserve hands out a contiguous range [start, start+n) of ids,
// persisting the new high-water mark before returning so that a crash
// immediately after reserve never allocates an id below the durable
// counter (spec.md §4.1 invariant).
func (c *counter) reserve(n uint64) (uint64, error) {
	start := c.next.Add(n) - n
	end := start + n
	if end > ids.MaxSequence {
		return 0, errs.New(errs.Fatal, "dictionary.reserve", "sequence counter would overflow the 60-bit id payload")
	}
	if err := c.persist(end); err != nil {
		return 0, err
	}
	return start, nil
}

func (c *counter) persist(v uint64) error {
	if prev := c.persisted.Load(); v <= prev {
		return nil
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	b := kvstore.NewBatch()
	b.Put(kvstore.TableMeta, []byte(kvstore.MetaSeqCounter), buf)
	if err := c.env.Apply(b, kvstore.ApplyOptions{Sync: true}); err != nil {
		return err
	}
	c.persisted.Store(v)
	return nil
}

// Flush forces the current in-memory high-water mark to durable
// storage, used by Store.Close and by Dictionary.Flush.
func (c *counter) flush() error {
	return c.persist(c.next.Load())
}
