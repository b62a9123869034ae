// Package join implements spec.md §4.8's three join engines over
// internal/index cursors: nested-loop, hash join, and Leapfrog
// Triejoin. All three consume and produce Binding values — the same
// partial variable→id assignment the executor's iterator pipeline
// threads through every algebra node.
//
// Grounded on the cursor/seek shape already present in MDBX
// (mdbx-go's cursor Get/SetRange, exposed here as
// index.Cursor.SeekMajor) — reused directly as the Leapfrog trie
// iterator's seek primitive rather than inventing a second cursor
// abstraction.
package join

import (
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/kvstore"
)

// Binding is a partial variable→id assignment.
type Binding map[string]ids.ID

func (b Binding) Clone() Binding {
	cp := make(Binding, len(b))
	for k, v := range b {
		cp[k] = v
	}
	return cp
}

// Scanner is one BGP triple pattern augmented with its variable
// names; empty SVar/PVar/OVar mean that slot is a bound constant
// carried in base.
type Scanner struct {
	SVar, PVar, OVar string
	base             index.Pattern
}

func NewScanner(base index.Pattern, sVar, pVar, oVar string) *Scanner {
	return &Scanner{SVar: sVar, PVar: pVar, OVar: oVar, base: base}
}

// resolve merges already-bound outer variables into base, producing
// the concrete index.Pattern to scan — spec.md §4.9 "JOIN... empty
// right on bound keys".
func (s *Scanner) resolve(outer Binding) index.Pattern {
	p := s.base
	if s.SVar != "" {
		if v, ok := outer[s.SVar]; ok {
			p.S, p.SBound = v, true
		}
	}
	if s.PVar != "" {
		if v, ok := outer[s.PVar]; ok {
			p.P, p.PBound = v, true
		}
	}
	if s.OVar != "" {
		if v, ok := outer[s.OVar]; ok {
			p.O, p.OBound = v, true
		}
	}
	return p
}

// Cursor wraps an index.Cursor, yielding Binding values that extend
// outer with this pattern's variable slots.
type Cursor struct {
	ix    *index.Cursor
	sc    *Scanner
	outer Binding
}

// Open scans the pattern under outer's already-bound variables.
func (s *Scanner) Open(ix *index.Index, snap *kvstore.Snapshot, outer Binding) (*Cursor, error) {
	pattern := s.resolve(outer)
	cur, err := ix.Lookup(snap, pattern, "")
	if err != nil {
		return nil, err
	}
	return &Cursor{ix: cur, sc: s, outer: outer}, nil
}

func (c *Cursor) Next() bool { return c.ix.Next() }
func (c *Cursor) Err() error { return c.ix.Err() }
func (c *Cursor) Close()     { c.ix.Close() }

// Binding decodes the current triple into a binding extending outer
// with this pattern's variable slots. ok is false if the same
// variable appears twice in this pattern (e.g. ?x p ?x) and the
// triple's two occurrences disagree.
func (c *Cursor) Binding() (Binding, bool) {
	t := c.ix.Triple()
	b := c.outer.Clone()
	if !assign(b, c.sc.SVar, t.S) {
		return nil, false
	}
	if !assign(b, c.sc.PVar, t.P) {
		return nil, false
	}
	if !assign(b, c.sc.OVar, t.O) {
		return nil, false
	}
	return b, true
}

func assign(b Binding, v string, id ids.ID) bool {
	if v == "" {
		return true
	}
	if existing, ok := b[v]; ok {
		return existing == id
	}
	b[v] = id
	return true
}
