// Package ast holds the parsed query/update envelope around an
// algebra.Node: query form, projected variables, and prologue
// (PREFIX/BASE) resolution — the thin layer the parser emits before
// the optimizer ever sees the tree.
package ast

import "github.com/kvgraph/triplestore/internal/sparql/algebra"

// Form is the SPARQL query form.
type Form int

const (
	FormSelect Form = iota
	FormAsk
	FormConstruct
	FormDescribe
)

// Query is a fully parsed SPARQL query, ready for the optimizer.
type Query struct {
	Form      Form
	Vars      []string // SELECT projection; nil/empty means "*"
	Star      bool
	Where     *algebra.Node
	Template  []algebra.TriplePattern // CONSTRUCT template
	DescribeTerms []algebra.PatternTerm
}

// UpdateOp is one operation in a SPARQL Update request (spec.md §4.12).
type UpdateOp int

const (
	OpInsertData UpdateOp = iota
	OpDeleteData
	OpDeleteInsertWhere
	OpLoad
	OpClear
)

type Update struct {
	Op          UpdateOp
	InsertData  []algebra.TriplePattern
	DeleteData  []algebra.TriplePattern
	DeleteTmpl  []algebra.TriplePattern
	InsertTmpl  []algebra.TriplePattern
	Where       *algebra.Node
	Source      string // LOAD
	Silent      bool
}
