package join

import (
	"encoding/binary"
)

// hashKey encodes a binding's values for vars, in order, into a
// comparable byte string usable as a Go map key.
func hashKey(b Binding, vars []string) (string, bool) {
	buf := make([]byte, 0, 8*len(vars))
	tmp := make([]byte, 8)
	for _, v := range vars {
		id, ok := b[v]
		if !ok {
			return "", false
		}
		binary.BigEndian.PutUint64(tmp, uint64(id))
		buf = append(buf, tmp...)
	}
	return string(buf), true
}

// merge combines two bindings that agree on shared variables. ok is
// false if any variable present in both disagrees.
func merge(a, b Binding) (Binding, bool) {
	out := a.Clone()
	for k, v := range b {
		if existing, ok := out[k]; ok {
			if existing != v {
				return nil, false
			}
			continue
		}
		out[k] = v
	}
	return out, true
}

// HashJoin builds a hash table on the smaller side keyed by the
// shared-variable tuple, then probes it with the larger side — spec.md
// §4.7's "|L|+|R|" cost model, chosen by the optimizer over nested
// loop when both sides are large relative to the shared-variable
// selectivity.
func HashJoin(left, right []Binding, shared []string) []Binding {
	build, probe := left, right
	if len(right) < len(left) {
		build, probe = right, left
	}

	table := make(map[string][]Binding, len(build))
	for _, b := range build {
		key, ok := hashKey(b, shared)
		if !ok {
			continue
		}
		table[key] = append(table[key], b)
	}

	var out []Binding
	for _, p := range probe {
		key, ok := hashKey(p, shared)
		if !ok {
			continue
		}
		for _, candidate := range table[key] {
			merged, ok := merge(candidate, p)
			if ok {
				out = append(out, merged)
			}
		}
	}
	return out
}
