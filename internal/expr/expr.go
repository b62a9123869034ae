// Package expr implements the SPARQL expression evaluator from
// spec.md §4.11: three-valued boolean logic, XSD-aware numeric
// promotion, and the built-in function set.
//
// Grounded on shopspring/decimal for exact decimal arithmetic (the
// same library internal/dictionary uses for inline-decimal encoding)
// and dlclark/regexp2 for REGEX, which — unlike the stdlib regexp —
// exposes a MatchTimeout so a pathological pattern degrades to a
// bounded `:timeout` rather than hanging the evaluator goroutine.
package expr

import (
	"time"

	"github.com/dlclark/regexp2"
	"github.com/shopspring/decimal"

	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/term"
)

// Bool is SPARQL's three-valued logic result (spec.md §4.11).
type Bool int

const (
	BFalse Bool = iota
	BTrue
	BError
)

func boolOf(b bool) Bool {
	if b {
		return BTrue
	}
	return BFalse
}

// And/Or/Not implement the SPARQL truth tables, where Error propagates
// except where short-circuiting allows it not to (false AND error =
// false; true OR error = true).
func And(a, b Bool) Bool {
	if a == BFalse || b == BFalse {
		return BFalse
	}
	if a == BError || b == BError {
		return BError
	}
	return BTrue
}

func Or(a, b Bool) Bool {
	if a == BTrue || b == BTrue {
		return BTrue
	}
	if a == BError || b == BError {
		return BError
	}
	return BFalse
}

func Not(a Bool) Bool {
	switch a {
	case BTrue:
		return BFalse
	case BFalse:
		return BTrue
	default:
		return BError
	}
}

// Value is an evaluated expression result: a term plus its effective
// boolean value (EBV) cached alongside it.
type Value struct {
	Term term.Term
	// numeric holds the parsed value for numeric terms, shared between
	// comparisons and arithmetic so we never re-parse a lexical form.
	numeric *decimal.Decimal
	isNum   bool
}

func NumericValue(d decimal.Decimal, datatype string) Value {
	return Value{Term: term.NewNumeric(d.String(), datatype, numKindFor(datatype)), numeric: &d, isNum: true}
}

func numKindFor(datatype string) term.NumericKind {
	switch datatype {
	case term.XSDInteger:
		return term.NumInteger
	case term.XSDDouble:
		return term.NumDouble
	case term.XSDDateTime:
		return term.NumDateTime
	default:
		return term.NumDecimal
	}
}

func TermValue(t term.Term) Value {
	v := Value{Term: t}
	if t.Kind() == term.KindNumeric {
		if d, err := decimal.NewFromString(t.Lexical()); err == nil {
			v.numeric = &d
			v.isNum = true
		}
	}
	return v
}

// EBV computes the effective boolean value per the XPath/SPARQL rules:
// booleans by value, numerics by nonzero, strings by nonempty; any
// other type yields a type error (spec.md §4.11).
func EBV(v Value) (Bool, error) {
	switch v.Term.Datatype() {
	case term.XSDBoolean:
		return boolOf(v.Term.Lexical() == "true" || v.Term.Lexical() == "1"), nil
	}
	if v.isNum {
		return boolOf(!v.numeric.IsZero()), nil
	}
	if v.Term.IsLiteral() {
		return boolOf(v.Term.Lexical() != ""), nil
	}
	return BError, errs.New(errs.TypeError, "expr.ebv", "value has no effective boolean value")
}

// SameTerm reports raw RDF term identity (spec.md "sameTerm").
func SameTerm(a, b Value) bool { return a.Term.Equal(b.Term) }

// Equals implements SPARQL's `=` operator: numeric promotion for
// numerics, and plain-literal/xsd:string equivalence (spec.md §4.11
// "Comparisons normalize plain literals and xsd:string as equal").
func Equals(a, b Value) (Bool, error) {
	if a.isNum && b.isNum {
		return boolOf(a.numeric.Equal(*b.numeric)), nil
	}
	if isStringLike(a.Term) && isStringLike(b.Term) {
		return boolOf(a.Term.Lexical() == b.Term.Lexical()), nil
	}
	if a.Term.Kind() != b.Term.Kind() {
		return BFalse, nil
	}
	return boolOf(a.Term.Equal(b.Term)), nil
}

func isStringLike(t term.Term) bool {
	return t.Kind() == term.KindPlainLiteral || t.Datatype() == term.XSDString
}

// Compare implements `<`, `<=`, `>`, `>=` over numerics and strings;
// other combinations are a type error.
func Compare(a, b Value) (int, error) {
	if a.isNum && b.isNum {
		return a.numeric.Cmp(*b.numeric), nil
	}
	if isStringLike(a.Term) && isStringLike(b.Term) {
		switch {
		case a.Term.Lexical() < b.Term.Lexical():
			return -1, nil
		case a.Term.Lexical() > b.Term.Lexical():
			return 1, nil
		default:
			return 0, nil
		}
	}
	return 0, errs.New(errs.TypeError, "expr.compare", "values are not comparable")
}

// Arithmetic operators, typed per XSD numeric promotion (integer op
// integer stays integer when possible; any decimal/double operand
// promotes the result).
func Add(a, b Value) (Value, error) { return arith(a, b, func(x, y decimal.Decimal) decimal.Decimal { return x.Add(y) }) }
func Sub(a, b Value) (Value, error) { return arith(a, b, func(x, y decimal.Decimal) decimal.Decimal { return x.Sub(y) }) }
func Mul(a, b Value) (Value, error) { return arith(a, b, func(x, y decimal.Decimal) decimal.Decimal { return x.Mul(y) }) }
func Div(a, b Value) (Value, error) {
	if b.isNum && b.numeric.IsZero() {
		return Value{}, errs.New(errs.TypeError, "expr.div", "division by zero")
	}
	return arith(a, b, func(x, y decimal.Decimal) decimal.Decimal { return x.DivRound(y, 20) })
}

func arith(a, b Value, op func(x, y decimal.Decimal) decimal.Decimal) (Value, error) {
	if !a.isNum || !b.isNum {
		return Value{}, errs.New(errs.TypeError, "expr.arith", "operand is not numeric")
	}
	result := op(*a.numeric, *b.numeric)
	datatype := term.XSDDecimal
	if a.Term.Datatype() == term.XSDInteger && b.Term.Datatype() == term.XSDInteger && result.Equal(result.Truncate(0)) {
		datatype = term.XSDInteger
	}
	if a.Term.Datatype() == term.XSDDouble || b.Term.Datatype() == term.XSDDouble {
		datatype = term.XSDDouble
	}
	return NumericValue(result, datatype), nil
}

// Built-in predicates.
func Bound(v Value, isBound bool) Bool { return boolOf(isBound) }
func IsIRI(v Value) Bool               { return boolOf(v.Term.IsIRI()) }
func IsBlank(v Value) Bool             { return boolOf(v.Term.IsBlank()) }
func IsLiteral(v Value) Bool           { return boolOf(v.Term.IsLiteral()) }
func Datatype(v Value) Value           { return TermValue(term.NewIRI(v.Term.Datatype())) }
func Lang(v Value) Value               { return TermValue(term.NewPlain(v.Term.Lang())) }
func StrDt(lex string, datatype Value) Value {
	return TermValue(term.NewTypedLiteral(lex, datatype.Term.Lexical()))
}
func StrLang(lex, lang string) Value { return TermValue(term.NewLangLiteral(lex, lang)) }

// In implements the IN(...) construct: true if v equals any of set,
// BError if no equality succeeded and at least one comparison errored
// (SPARQL's documented IN semantics).
func In(v Value, set []Value) (Bool, error) {
	sawError := false
	for _, s := range set {
		eq, err := Equals(v, s)
		if err != nil {
			sawError = true
			continue
		}
		if eq == BTrue {
			return BTrue, nil
		}
	}
	if sawError {
		return BError, errs.New(errs.TypeError, "expr.in", "IN comparison failed for at least one member")
	}
	return BFalse, nil
}

// RegexOptions bounds REGEX evaluation (spec.md §4.11 "refuses
// patterns whose syntactic complexity exceeds a threshold and runs
// with a wall-clock cap").
type RegexOptions struct {
	MaxPatternLength int
	Timeout          time.Duration
}

var DefaultRegexOptions = RegexOptions{MaxPatternLength: 1024, Timeout: 200 * time.Millisecond}

// Regex evaluates REGEX(subject, pattern, flags).
func Regex(subject, pattern, flags string, opts RegexOptions) (Bool, error) {
	if opts.MaxPatternLength <= 0 {
		opts = DefaultRegexOptions
	}
	if len(pattern) > opts.MaxPatternLength {
		return BError, errs.New(errs.LimitExceeded, "expr.regex", "pattern exceeds configured complexity threshold")
	}
	reopts := regexp2.RE2
	if containsRune(flags, 'i') {
		reopts |= regexp2.IgnoreCase
	}
	if containsRune(flags, 's') {
		reopts |= regexp2.Singleline
	}
	if containsRune(flags, 'm') {
		reopts |= regexp2.Multiline
	}
	re, err := regexp2.Compile(pattern, reopts)
	if err != nil {
		return BError, errs.Wrap(errs.ParseError, "expr.regex", "invalid regex pattern", err)
	}
	re.MatchTimeout = opts.Timeout
	matched, err := re.MatchString(subject)
	if err != nil {
		return BError, errs.Wrap(errs.Timeout, "expr.regex", "regex evaluation exceeded its time budget", err)
	}
	return boolOf(matched), nil
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}
