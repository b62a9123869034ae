// Package algebra defines the tagged-variant algebra tree spec.md
// §4.6 names directly: bgp, join, left_join, union, minus, filter,
// extend, graph, group, aggregate, order_by, distinct, reduced,
// slice, project, path, plus a separate expression tree for
// comparisons/arithmetic/booleans/regex/IN/EXISTS.
//
// Struct-tagged variants (a Kind enum plus the union of fields any
// variant needs) rather than an interface hierarchy, matching the
// internal/path.Expr idiom already used for property paths elsewhere
// in this module.
package algebra

import "github.com/kvgraph/triplestore/internal/term"

// PatternTerm is a triple-pattern slot: either a bound term or a
// variable reference.
type PatternTerm struct {
	Var  string
	Term term.Term
}

func Bound(t term.Term) PatternTerm { return PatternTerm{Term: t} }
func Variable(name string) PatternTerm { return PatternTerm{Var: name} }
func (p PatternTerm) IsVar() bool    { return p.Var != "" }

// TriplePattern is one (S, P, O) pattern inside a BGP.
type TriplePattern struct {
	S, P, O PatternTerm
}

// PathOp mirrors internal/path.Op but operates on unresolved term
// predicates; the executor resolves each Pred to an ids.ID via the
// Adapter immediately before handing the expression to internal/path.
type PathOp int

const (
	PathPredicate PathOp = iota
	PathSequence
	PathAlternative
	PathInverse
	PathNegatedSet
	PathZeroOrOne
	PathOneOrMore
	PathZeroOrMore
)

type PathExpr struct {
	Op       PathOp
	Pred     term.Term
	Negated  []term.Term
	Children []PathExpr
	Inner    *PathExpr
}

// PathPattern is a triple pattern whose predicate position is a
// property path rather than a single IRI.
type PathPattern struct {
	S, O PatternTerm
	Path PathExpr
}

// Kind discriminates algebra Node variants.
type Kind int

const (
	KindBGP Kind = iota
	KindJoin
	KindLeftJoin
	KindUnion
	KindMinus
	KindFilter
	KindExtend
	KindGraph
	KindGroup
	KindAggregate
	KindOrderBy
	KindDistinct
	KindReduced
	KindSlice
	KindProject
	KindValues
)

// AggKind is one of the SPARQL aggregate functions.
type AggKind int

const (
	AggCount AggKind = iota
	AggSum
	AggMin
	AggMax
	AggAvg
	AggSample
	AggGroupConcat
)

type Aggregate struct {
	Kind      AggKind
	Arg       *Expr // nil for COUNT(*)
	Distinct  bool
	As        string
	Separator string // GROUP_CONCAT
}

type OrderKey struct {
	Expr *Expr
	Desc bool
}

// Node is one algebra operator. Only the fields relevant to Kind are
// populated; this mirrors the teacher's own tagged-struct plan nodes
// rather than a full interface hierarchy, keeping the executor's
// dispatch a single switch on Kind.
type Node struct {
	Kind Kind

	// BGP
	Patterns []TriplePattern
	Paths    []PathPattern

	// Join/LeftJoin/Union/Minus: Left/Right. LeftJoin's filter (the
	// OPTIONAL{...FILTER...} clause) rides in Filter.
	Left, Right *Node
	Filter      *Expr

	// Filter (standalone)/Extend inner pattern
	Inner *Node

	// Extend (BIND ... AS ?v)
	BindVar  string
	BindExpr *Expr

	// Graph
	GraphTerm PatternTerm

	// Group
	GroupKeys []*Expr

	// Aggregate
	Aggregates []Aggregate

	// OrderBy
	OrderKeys []OrderKey

	// Slice
	Offset, Limit int64
	HasLimit      bool

	// Project
	ProjectVars []string

	// Values
	ValuesVars []string
	ValuesRows [][]PatternTerm
}

// ExprKind discriminates expression-tree nodes.
type ExprKind int

const (
	EVar ExprKind = iota
	ELiteral
	ECall // Op names the function/operator; Args its operands
	EExists
	ENotExists
)

// Expr is a SPARQL expression (FILTER/BIND/HAVING/aggregate-argument
// bodies). Op holds the operator or builtin-function name for ECall
// ("+", "-", "*", "/", "=", "!=", "<", "<=", ">", ">=", "&&", "||",
// "!", "bound", "isiri", "isblank", "isliteral", "str", "lang",
// "datatype", "sameterm", "regex", "strdt", "strlang", "in").
type Expr struct {
	Kind    ExprKind
	Var     string
	Literal term.Term
	Op      string
	Args    []*Expr
	Pattern *Node // EXISTS/NOT EXISTS inner pattern
}
