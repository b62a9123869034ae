package exec

import (
	"github.com/shopspring/decimal"

	"github.com/kvgraph/triplestore/internal/expr"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/sparql/algebra"
	"github.com/kvgraph/triplestore/internal/term"
)

// evalFilter evaluates Inner, then keeps only the bindings whose
// Filter expression has an effective boolean value of true — an
// evaluation error or unbound variable silently excludes the binding
// rather than failing the whole query (spec.md §4.9/§4.11 "FILTER
// errors exclude the binding").
//
// Inner is scanned via NumericRangeIndex.RangeQuery instead of a full
// BGP scan when it matches the narrow shape numericRangeScan
// recognizes (spec.md §8 scenario 6: a bound numeric-range FILTER over
// a single-pattern BGP must bound the scan, not read every triple for
// the predicate). The range scan only narrows which candidate rows are
// considered — applyFilter still runs the exact Filter expression
// against them afterward, so a loose or missed bound extraction can
// only cost performance, never correctness.
func (e *Executor) evalFilter(node *algebra.Node) ([]Binding, error) {
	if e.numericIdx != nil {
		if bindings, ok, err := e.numericRangeScan(node); err != nil {
			return nil, err
		} else if ok {
			return e.applyFilter(bindings, node.Filter), nil
		}
	}
	bindings, err := e.Eval(node.Inner)
	if err != nil {
		return nil, err
	}
	return e.applyFilter(bindings, node.Filter), nil
}

func (e *Executor) applyFilter(bindings []Binding, filterExpr *algebra.Expr) []Binding {
	var out []Binding
	for _, b := range bindings {
		v, err := e.evalExpr(b, filterExpr)
		if err != nil {
			continue
		}
		ok, err := expr.EBV(v)
		if err != nil || ok != expr.BTrue {
			continue
		}
		out = append(out, b)
	}
	return out
}

// numericRangeScan recognizes node.Inner as a single-pattern BGP
// `?s <boundPredicate> ?o` whose FILTER conjunction bounds ?o between
// numeric literals, and serves candidate bindings from
// NumericRangeIndex.RangeQuery keyed on the resolved predicate id.
// ok is false for every other shape (joins, path patterns, a variable
// predicate, a non-numeric or unbound-variable comparison, ...), in
// which case the caller falls back to Eval(node.Inner) unchanged.
func (e *Executor) numericRangeScan(node *algebra.Node) ([]Binding, bool, error) {
	inner := node.Inner
	if inner == nil || inner.Kind != algebra.KindBGP || len(inner.Paths) != 0 || len(inner.Patterns) != 1 {
		return nil, false, nil
	}
	pat := inner.Patterns[0]
	if pat.P.IsVar() || !pat.O.IsVar() {
		return nil, false, nil
	}

	low, high, ok := numericBounds(node.Filter, pat.O.Var)
	if !ok {
		return nil, false, nil
	}
	lowID, highID, ok := resolveRangeBounds(low, high)
	if !ok {
		return nil, false, nil
	}

	predID, found, err := e.ad.LookupTerm(pat.P.Term)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return []Binding{}, true, nil
	}

	triples := e.numericIdx.RangeQuery(predID, lowID, highID)
	out := make([]Binding, 0, len(triples))
	for _, t := range triples {
		if pat.S.IsVar() {
			out = append(out, Binding{pat.S.Var: t.S, pat.O.Var: t.O})
			continue
		}
		sID, ok, err := e.ad.LookupTerm(pat.S.Term)
		if err != nil {
			return nil, false, err
		}
		if !ok || sID != t.S {
			continue
		}
		out = append(out, Binding{pat.O.Var: t.O})
	}
	return out, true, nil
}

// numericBounds scans filterExpr's top-level conjunction (top-level
// "&&" only — any other connective, e.g. "||", is left for the
// post-filter and does not narrow the scan) for simple comparisons
// between objVar and a numeric literal, returning the tightest
// lower/upper bound found. ok is false when no such comparison exists.
func numericBounds(filterExpr *algebra.Expr, objVar string) (low, high *decimal.Decimal, ok bool) {
	for _, conjunct := range flattenAnd(filterExpr) {
		lit, op, match := matchVarLiteral(conjunct, objVar)
		if !match {
			continue
		}
		d, derr := decimal.NewFromString(lit.Lexical())
		if derr != nil {
			continue
		}
		switch op {
		case ">=", ">":
			if low == nil || d.GreaterThan(*low) {
				low = &d
			}
			ok = true
		case "<=", "<":
			if high == nil || d.LessThan(*high) {
				high = &d
			}
			ok = true
		}
	}
	return low, high, ok
}

func flattenAnd(e *algebra.Expr) []*algebra.Expr {
	if e == nil {
		return nil
	}
	if e.Kind == algebra.ECall && e.Op == "&&" {
		var out []*algebra.Expr
		for _, a := range e.Args {
			out = append(out, flattenAnd(a)...)
		}
		return out
	}
	return []*algebra.Expr{e}
}

// matchVarLiteral reports whether e is a "<","<=",">",">=" comparison
// between objVar and a numeric literal, returning that literal and the
// operator oriented so objVar is always the left-hand side (e.g.
// "5 < ?p" becomes ?p > 5).
func matchVarLiteral(e *algebra.Expr, objVar string) (lit term.Term, op string, ok bool) {
	if e == nil || e.Kind != algebra.ECall || len(e.Args) != 2 {
		return term.Term{}, "", false
	}
	switch e.Op {
	case "<", "<=", ">", ">=":
	default:
		return term.Term{}, "", false
	}
	l, r := e.Args[0], e.Args[1]
	if l.Kind == algebra.EVar && l.Var == objVar && r.Kind == algebra.ELiteral && r.Literal.IsInlineEligible() {
		return r.Literal, e.Op, true
	}
	if r.Kind == algebra.EVar && r.Var == objVar && l.Kind == algebra.ELiteral && l.Literal.IsInlineEligible() {
		return l.Literal, flipOp(e.Op), true
	}
	return term.Term{}, "", false
}

func flipOp(op string) string {
	switch op {
	case "<":
		return ">"
	case "<=":
		return ">="
	case ">":
		return "<"
	case ">=":
		return "<="
	}
	return op
}

// resolveRangeBounds encodes low/high as inline-numeric ids for
// NumericRangeIndex.RangeQuery, using ids.MinInlineNumeric/
// MaxInlineNumeric sentinels for an unbounded side. ok is false when a
// bound's coefficient doesn't fit the inline payload (e.g. overflows
// int64), in which case the caller falls back to a full scan rather
// than risk an incorrect range.
func resolveRangeBounds(low, high *decimal.Decimal) (lowID, highID ids.ID, ok bool) {
	lowID = ids.MinInlineNumeric()
	highID = ids.MaxInlineNumeric()
	if low != nil {
		id, enc := decimalToInlineID(*low)
		if !enc {
			return 0, 0, false
		}
		lowID = id
	}
	if high != nil {
		id, enc := decimalToInlineID(*high)
		if !enc {
			return 0, 0, false
		}
		highID = id
	}
	return lowID, highID, true
}

// decimalToInlineID mirrors internal/dictionary's parseDecimalParts:
// mantissa * 10^-scale, normalizing a positive exponent to scale 0.
func decimalToInlineID(d decimal.Decimal) (ids.ID, bool) {
	exp := d.Exponent()
	if exp > 0 {
		d = d.Rescale(0)
		exp = 0
	}
	coeff := d.Coefficient()
	if !coeff.IsInt64() {
		return 0, false
	}
	return ids.InlineDecimal(coeff.Int64(), uint(-exp))
}

// evalExtend evaluates Inner, then binds BindVar to BindExpr's result
// for each binding — BIND and aliased SELECT-list projections both
// compile to this node (spec.md §4.9 "EXTEND"). A binding whose
// expression errors or whose BindVar is already bound to a different
// value is dropped (BIND re-binding an in-scope variable is a SPARQL
// error condition; here it silently excludes the row, matching
// FILTER's error-exclusion convention).
func (e *Executor) evalExtend(node *algebra.Node) ([]Binding, error) {
	bindings, err := e.Eval(node.Inner)
	if err != nil {
		return nil, err
	}
	// An aggregate call with no preceding GROUP BY implicitly groups the
	// whole input into one group (spec.md §4.9's aggregate-without-GROUP
	// semantics); bindings reaching here from an explicit Group node
	// already carry groupTagVar.
	if containsAggregate(node.BindExpr) && !bindingsHaveGroupTag(bindings) {
		gid := e.newGroup(bindings)
		bindings = []Binding{{groupTagVar: gid}}
	}
	var out []Binding
	for _, b := range bindings {
		v, err := e.evalExpr(b, node.BindExpr)
		if err != nil {
			continue
		}
		id, err := e.ad.EncodeTerm(v.Term)
		if err != nil {
			return nil, err
		}
		if existing, ok := b[node.BindVar]; ok {
			if existing != id {
				continue
			}
			out = append(out, b)
			continue
		}
		extended := b.Clone()
		extended[node.BindVar] = id
		out = append(out, extended)
	}
	return out, nil
}
