package exec

import (
	"strings"

	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/expr"
	"github.com/kvgraph/triplestore/internal/sparql/algebra"
	"github.com/kvgraph/triplestore/internal/term"
)

// evalExpr bridges algebra.Expr (term-space, used by FILTER/BIND/
// HAVING/ORDER-BY-expression/aggregate-argument bodies) to
// internal/expr's Value/Bool evaluator, resolving EVar references
// through the current binding and the Adapter's id->term decode.
func (e *Executor) evalExpr(b Binding, ex *algebra.Expr) (expr.Value, error) {
	if err := e.checkDeadline(); err != nil {
		return expr.Value{}, err
	}
	switch ex.Kind {
	case algebra.EVar:
		id, ok := b[ex.Var]
		if !ok {
			return expr.Value{}, errs.New(errs.TypeError, "exec.expr", "variable is unbound")
		}
		t, err := e.ad.DecodeTerm(id)
		if err != nil {
			return expr.Value{}, err
		}
		return expr.TermValue(t), nil
	case algebra.ELiteral:
		return expr.TermValue(ex.Literal), nil
	case algebra.ECall:
		return e.evalCall(b, ex)
	case algebra.EExists:
		ok, err := e.evalExists(b, ex.Pattern)
		if err != nil {
			return expr.Value{}, err
		}
		return expr.TermValue(boolTerm(ok)), nil
	case algebra.ENotExists:
		ok, err := e.evalExists(b, ex.Pattern)
		if err != nil {
			return expr.Value{}, err
		}
		return expr.TermValue(boolTerm(!ok)), nil
	default:
		return expr.Value{}, errs.New(errs.Fatal, "exec.expr", "unknown expression kind")
	}
}

func (e *Executor) evalCall(b Binding, ex *algebra.Expr) (expr.Value, error) {
	if strings.HasPrefix(ex.Op, "agg_") {
		gid, ok := b[groupTagVar]
		if !ok {
			return expr.Value{}, errs.New(errs.TypeError, "exec.expr", "aggregate referenced outside a group")
		}
		return e.evalAggregate(ex, e.groups[gid])
	}

	args := make([]expr.Value, len(ex.Args))
	for i, a := range ex.Args {
		// bound/not-bound must not fail on an unbound variable.
		if ex.Op == "bound" && a.Kind == algebra.EVar {
			_, ok := b[a.Var]
			return expr.TermValue(boolTerm(ok)), nil
		}
		v, err := e.evalExpr(b, a)
		if err != nil {
			return expr.Value{}, err
		}
		args[i] = v
	}

	switch ex.Op {
	case "+":
		return expr.Add(args[0], args[1])
	case "-":
		if len(args) == 1 {
			return expr.Sub(expr.TermValue(zeroTerm()), args[0])
		}
		return expr.Sub(args[0], args[1])
	case "*":
		return expr.Mul(args[0], args[1])
	case "/":
		return expr.Div(args[0], args[1])
	case "=":
		return boolCallResult(expr.Equals(args[0], args[1]))
	case "!=":
		v, err := expr.Equals(args[0], args[1])
		if err != nil {
			return expr.Value{}, err
		}
		return expr.TermValue(boolTerm(expr.Not(v) == expr.BTrue)), nil
	case "<", "<=", ">", ">=":
		return compareCallResult(ex.Op, args[0], args[1])
	case "&&":
		l, err := expr.EBV(args[0])
		if err != nil {
			return expr.Value{}, err
		}
		r, err := expr.EBV(args[1])
		if err != nil {
			return expr.Value{}, err
		}
		return boolVal(expr.And(l, r))
	case "||":
		l, err := expr.EBV(args[0])
		if err != nil {
			return expr.Value{}, err
		}
		r, err := expr.EBV(args[1])
		if err != nil {
			return expr.Value{}, err
		}
		return boolVal(expr.Or(l, r))
	case "!":
		v, err := expr.EBV(args[0])
		if err != nil {
			return expr.Value{}, err
		}
		return boolVal(expr.Not(v))
	case "sameterm":
		return expr.TermValue(boolTerm(expr.SameTerm(args[0], args[1]))), nil
	case "isiri", "isuri":
		return expr.TermValue(boolTerm(expr.IsIRI(args[0]) == expr.BTrue)), nil
	case "isblank":
		return expr.TermValue(boolTerm(expr.IsBlank(args[0]) == expr.BTrue)), nil
	case "isliteral":
		return expr.TermValue(boolTerm(expr.IsLiteral(args[0]) == expr.BTrue)), nil
	case "str":
		return expr.TermValue(strTerm(args[0].Term.Lexical())), nil
	case "lang":
		return expr.Lang(args[0]), nil
	case "datatype":
		return expr.Datatype(args[0]), nil
	case "strdt":
		return expr.StrDt(args[0].Term.Lexical(), args[1]), nil
	case "strlang":
		return expr.StrLang(args[0].Term.Lexical(), args[1].Term.Lexical()), nil
	case "regex":
		subject, pattern := args[0].Term.Lexical(), args[1].Term.Lexical()
		flags := ""
		if len(args) > 2 {
			flags = args[2].Term.Lexical()
		}
		v, err := expr.Regex(subject, pattern, flags, expr.DefaultRegexOptions)
		if err != nil {
			return expr.Value{}, err
		}
		return boolVal(v)
	case "in":
		v, err := expr.In(args[0], args[1:])
		if err != nil {
			return expr.Value{}, err
		}
		return boolVal(v)
	default:
		return expr.Value{}, errs.New(errs.ParseError, "exec.expr", "unsupported builtin function")
	}
}

func boolCallResult(b expr.Bool, err error) (expr.Value, error) {
	if err != nil {
		return expr.Value{}, err
	}
	return expr.TermValue(boolTerm(b == expr.BTrue)), nil
}

func compareCallResult(op string, a, b expr.Value) (expr.Value, error) {
	cmp, err := expr.Compare(a, b)
	if err != nil {
		return expr.Value{}, err
	}
	var ok bool
	switch op {
	case "<":
		ok = cmp < 0
	case "<=":
		ok = cmp <= 0
	case ">":
		ok = cmp > 0
	case ">=":
		ok = cmp >= 0
	}
	return expr.TermValue(boolTerm(ok)), nil
}

func boolVal(b expr.Bool) (expr.Value, error) {
	if b == expr.BError {
		return expr.Value{}, errs.New(errs.TypeError, "exec.expr", "boolean operand had no effective boolean value")
	}
	return expr.TermValue(boolTerm(b == expr.BTrue)), nil
}

// evalExists evaluates pattern on its own, without substituting b's
// values into it, and reports whether at least one of its results is
// compatible with b — EXISTS's documented semantics (spec.md §4.11).
// The pattern is re-evaluated on every call, so a FILTER EXISTS runs it
// once per outer binding.
func (e *Executor) evalExists(b Binding, pattern *algebra.Node) (bool, error) {
	results, err := e.Eval(pattern)
	if err != nil {
		return false, err
	}
	for _, r := range results {
		if _, ok := compatibleMerge(b, r); ok {
			return true, nil
		}
	}
	return false, nil
}

func boolTerm(v bool) term.Term {
	if v {
		return term.NewTypedLiteral("true", term.XSDBoolean)
	}
	return term.NewTypedLiteral("false", term.XSDBoolean)
}

func zeroTerm() term.Term { return term.NewTypedLiteral("0", term.XSDInteger) }

func strTerm(s string) term.Term { return term.NewPlain(s) }

func compatibleFilterPasses(v expr.Value) (bool, error) {
	b, err := expr.EBV(v)
	if err != nil {
		return false, err
	}
	return b == expr.BTrue, nil
}
