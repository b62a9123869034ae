// Package adapter provides the Term<->id conversion seam shared by
// the Loader, Executor, and Reasoner — spec.md §4.3. It is the only
// place outside internal/dictionary that is allowed to hold a
// *dictionary.Dictionary reference, keeping every other subsystem
// working purely in id space.
//
// Grounded on the narrow StateReader/StateWriter adapter struct
// threaded through callers in core/state/history_reader_v3.go: a thin
// seam type, not a god object, injected wherever term<->id conversion
// is needed.
package adapter

import (
	"github.com/kvgraph/triplestore/internal/dictionary"
	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/term"
)

// Adapter converts between term.Term and ids.ID, batching through a
// shared Dictionary so that inline-eligible terms never pay for a
// dictionary round-trip (spec.md §4.3 "an inline id round-trips
// without dictionary I/O").
type Adapter struct {
	dict *dictionary.Dictionary
}

func New(dict *dictionary.Dictionary) *Adapter { return &Adapter{dict: dict} }

// TripleTerms is the term-space counterpart of index.Triple.
type TripleTerms struct {
	S, P, O term.Term
}

// EncodeTriples converts a batch of term-space triples into id-space
// triples, allocating dictionary entries for any term encountered for
// the first time. All three positions of every triple are resolved in
// a single dictionary batch (spec.md §4.3 "converts three terms in
// one dictionary batch" — extended here to the whole input batch, not
// just one triple, since GetOrCreateIDs is itself batch-oriented).
func (a *Adapter) EncodeTriples(ts []TripleTerms) ([]index.Triple, error) {
	terms := make([]term.Term, 0, len(ts)*3)
	for _, t := range ts {
		terms = append(terms, t.S, t.P, t.O)
	}
	resolved, err := a.dict.GetOrCreateIDs(terms)
	if err != nil {
		return nil, err
	}
	out := make([]index.Triple, len(ts))
	for i := range ts {
		out[i] = index.Triple{S: resolved[i*3], P: resolved[i*3+1], O: resolved[i*3+2]}
	}
	return out, nil
}

// LookupTriples is EncodeTriples without allocation: any term not
// already in the dictionary causes the whole conversion to report
// ok=false for that triple's index (used by delete, which must never
// create new dictionary entries for terms it won't find in the store).
func (a *Adapter) LookupTriples(ts []TripleTerms) ([]index.Triple, []bool, error) {
	terms := make([]term.Term, 0, len(ts)*3)
	for _, t := range ts {
		terms = append(terms, t.S, t.P, t.O)
	}
	resolved, found, err := a.dict.LookupIDs(terms)
	if err != nil {
		return nil, nil, err
	}
	out := make([]index.Triple, len(ts))
	ok := make([]bool, len(ts))
	for i := range ts {
		s, p, o := 3*i, 3*i+1, 3*i+2
		ok[i] = found[s] && found[p] && found[o]
		if ok[i] {
			out[i] = index.Triple{S: resolved[s], P: resolved[p], O: resolved[o]}
		}
	}
	return out, ok, nil
}

// DecodeTriples converts id-space triples back to term-space. Every
// id must resolve; a missing id indicates index/dictionary corruption
// and is reported as a fatal error rather than silently dropped.
func (a *Adapter) DecodeTriples(ts []index.Triple) ([]TripleTerms, error) {
	idList := make([]ids.ID, 0, len(ts)*3)
	for _, t := range ts {
		idList = append(idList, t.S, t.P, t.O)
	}
	resolved, found, err := a.dict.LookupTerms(idList)
	if err != nil {
		return nil, err
	}
	out := make([]TripleTerms, len(ts))
	for i := range ts {
		s, p, o := 3*i, 3*i+1, 3*i+2
		if !found[s] || !found[p] || !found[o] {
			return nil, errs.New(errs.Fatal, "adapter.decode_triples", "index references an id with no dictionary entry")
		}
		out[i] = TripleTerms{S: resolved[s], P: resolved[p], O: resolved[o]}
	}
	return out, nil
}

// EncodeTerm/DecodeTerm are the single-value conveniences used by the
// executor's binding materialization path.
func (a *Adapter) EncodeTerm(t term.Term) (ids.ID, error) {
	out, err := a.dict.GetOrCreateIDs([]term.Term{t})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// LookupTerm resolves t to its id without creating a dictionary entry
// if absent — used by the executor to resolve a query's bound
// constants, which must never mutate the dictionary (spec.md §4.3
// "queries never allocate new ids").
func (a *Adapter) LookupTerm(t term.Term) (ids.ID, bool, error) {
	out, found, err := a.dict.LookupIDs([]term.Term{t})
	if err != nil {
		return 0, false, err
	}
	return out[0], found[0], nil
}

func (a *Adapter) DecodeTerm(id ids.ID) (term.Term, error) {
	out, found, err := a.dict.LookupTerms([]ids.ID{id})
	if err != nil {
		return term.Term{}, err
	}
	if !found[0] {
		return term.Term{}, errs.New(errs.NotFound, "adapter.decode_term", "no dictionary entry for id")
	}
	return out[0], nil
}
