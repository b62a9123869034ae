package join

import (
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
)

// NestedLoop probes right once per binding in left, extending each
// compatible right-hand triple into a new Binding — spec.md §4.8's
// baseline join strategy, used whenever the optimizer's cost model
// doesn't prefer a hash join or Leapfrog.
func NestedLoop(ix *index.Index, snap *kvstore.Snapshot, left []Binding, right *Scanner) ([]Binding, error) {
	var out []Binding
	for _, outer := range left {
		cur, err := right.Open(ix, snap, outer)
		if err != nil {
			return nil, err
		}
		for cur.Next() {
			b, ok := cur.Binding()
			if ok {
				out = append(out, b)
			}
		}
		err = cur.Err()
		cur.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
