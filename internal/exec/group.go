package exec

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/expr"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/sparql/algebra"
	"github.com/kvgraph/triplestore/internal/term"
)

// groupTagVar is a reserved binding key (never producible by the
// lexer, which only emits "?name"-shaped variables) carrying the id
// of this row's aggregate group, looked up in Executor.groups by any
// "agg_*" call encountered while evaluating an expression against
// that row — spec.md §4.9's GROUP/aggregate semantics, bridged across
// the separate Group/Filter(HAVING)/Extend(SELECT-alias) algebra
// nodes the parser produces rather than a single combined node.
const groupTagVar = "\x00group"

func (e *Executor) newGroup(members []Binding) ids.ID {
	if e.groups == nil {
		e.groups = map[ids.ID][]Binding{}
	}
	e.groupSeq++
	gid := ids.ID(e.groupSeq)
	e.groups[gid] = members
	return gid
}

// evalGroup partitions Inner's bindings by GroupKeys, producing one
// representative binding per distinct key tuple — bound to the key's
// variable when the key is a bare EVar (the overwhelmingly common
// case; a computed, unaliased GROUP BY key has no variable to expose
// downstream and is used only for partitioning). Each representative
// binding carries groupTagVar so later HAVING/aggregate-SELECT-item
// evaluation can recover its member rows.
func (e *Executor) evalGroup(node *algebra.Node) ([]Binding, error) {
	members, err := e.Eval(node.Inner)
	if err != nil {
		return nil, err
	}
	if len(node.GroupKeys) == 0 {
		gid := e.newGroup(members)
		return []Binding{{groupTagVar: gid}}, nil
	}

	type bucket struct {
		key  string
		repr Binding
		rows []Binding
	}
	order := []string{}
	buckets := map[string]*bucket{}
	for _, m := range members {
		keyParts := make([]ids.ID, len(node.GroupKeys))
		repr := Binding{}
		ok := true
		for i, k := range node.GroupKeys {
			v, err := e.evalExpr(m, k)
			if err != nil {
				ok = false
				break
			}
			id, err := e.ad.EncodeTerm(v.Term)
			if err != nil {
				return nil, err
			}
			keyParts[i] = id
			if k.Kind == algebra.EVar {
				repr[k.Var] = id
			}
		}
		if !ok {
			continue
		}
		key := idsKey(keyParts)
		b, found := buckets[key]
		if !found {
			b = &bucket{key: key, repr: repr}
			buckets[key] = b
			order = append(order, key)
		}
		b.rows = append(b.rows, m)
	}

	out := make([]Binding, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		gid := e.newGroup(b.rows)
		result := b.repr.Clone()
		result[groupTagVar] = gid
		out = append(out, result)
	}
	return out, nil
}

func idsKey(ids_ []ids.ID) string {
	var sb strings.Builder
	for _, id := range ids_ {
		sb.WriteByte(byte(id >> 56))
		sb.WriteByte(byte(id >> 48))
		sb.WriteByte(byte(id >> 40))
		sb.WriteByte(byte(id >> 32))
		sb.WriteByte(byte(id >> 24))
		sb.WriteByte(byte(id >> 16))
		sb.WriteByte(byte(id >> 8))
		sb.WriteByte(byte(id))
	}
	return sb.String()
}

func bindingsHaveGroupTag(bindings []Binding) bool {
	if len(bindings) == 0 {
		return false
	}
	_, ok := bindings[0][groupTagVar]
	return ok
}

func containsAggregate(ex *algebra.Expr) bool {
	if ex == nil {
		return false
	}
	if ex.Kind == algebra.ECall && strings.HasPrefix(ex.Op, "agg_") {
		return true
	}
	for _, a := range ex.Args {
		if containsAggregate(a) {
			return true
		}
	}
	return false
}

// evalAggregate computes one "agg_*" call's value over a group's
// member rows.
func (e *Executor) evalAggregate(ex *algebra.Expr, members []Binding) (expr.Value, error) {
	op := strings.TrimPrefix(ex.Op, "agg_")
	distinct := false
	if strings.HasSuffix(op, "_distinct") {
		distinct = true
		op = strings.TrimSuffix(op, "_distinct")
	}
	var arg *algebra.Expr
	if len(ex.Args) > 0 {
		arg = ex.Args[0]
	}

	values := func() []expr.Value {
		var out []expr.Value
		seen := map[string]bool{}
		for _, m := range members {
			if arg == nil {
				continue
			}
			v, err := e.evalExpr(m, arg)
			if err != nil {
				continue
			}
			if distinct {
				key := v.Term.String()
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			out = append(out, v)
		}
		return out
	}

	switch op {
	case "count":
		if arg == nil {
			n := len(members)
			if distinct {
				seen := map[string]bool{}
				for _, m := range members {
					seen[bindingKey(m)] = true
				}
				n = len(seen)
			}
			return expr.NumericValue(decimal.NewFromInt(int64(n)), term.XSDInteger), nil
		}
		return expr.NumericValue(decimal.NewFromInt(int64(len(values()))), term.XSDInteger), nil
	case "sum":
		acc := decimal.Zero
		for _, v := range values() {
			n, err := decimal.NewFromString(v.Term.Lexical())
			if err != nil {
				continue
			}
			acc = acc.Add(n)
		}
		return expr.NumericValue(acc, term.XSDDecimal), nil
	case "avg":
		vs := values()
		if len(vs) == 0 {
			return expr.NumericValue(decimal.Zero, term.XSDInteger), nil
		}
		acc := decimal.Zero
		count := 0
		for _, v := range vs {
			n, err := decimal.NewFromString(v.Term.Lexical())
			if err != nil {
				continue
			}
			acc = acc.Add(n)
			count++
		}
		if count == 0 {
			return expr.NumericValue(decimal.Zero, term.XSDInteger), nil
		}
		return expr.NumericValue(acc.Div(decimal.NewFromInt(int64(count))), term.XSDDecimal), nil
	case "min":
		vs := values()
		if len(vs) == 0 {
			return expr.Value{}, errs.New(errs.NotFound, "exec.aggregate", "MIN over an empty group has no value")
		}
		best := vs[0]
		for _, v := range vs[1:] {
			cmp, err := expr.Compare(v, best)
			if err == nil && cmp < 0 {
				best = v
			}
		}
		return best, nil
	case "max":
		vs := values()
		if len(vs) == 0 {
			return expr.Value{}, errs.New(errs.NotFound, "exec.aggregate", "MAX over an empty group has no value")
		}
		best := vs[0]
		for _, v := range vs[1:] {
			cmp, err := expr.Compare(v, best)
			if err == nil && cmp > 0 {
				best = v
			}
		}
		return best, nil
	case "sample":
		vs := values()
		if len(vs) == 0 {
			return expr.Value{}, errs.New(errs.NotFound, "exec.aggregate", "SAMPLE over an empty group has no value")
		}
		return vs[0], nil
	case "group_concat":
		sep := " "
		if len(ex.Args) > 1 {
			sep = ex.Args[1].Literal.Lexical()
		}
		var parts []string
		for _, v := range values() {
			parts = append(parts, v.Term.Lexical())
		}
		return expr.TermValue(term.NewPlain(strings.Join(parts, sep))), nil
	default:
		return expr.Value{}, errs.New(errs.ParseError, "exec.aggregate", "unsupported aggregate function")
	}
}

func bindingKey(b Binding) string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte(0)
		id := b[k]
		sb.WriteByte(byte(id >> 56))
		sb.WriteByte(byte(id >> 48))
		sb.WriteByte(byte(id >> 40))
		sb.WriteByte(byte(id >> 32))
		sb.WriteByte(byte(id >> 24))
		sb.WriteByte(byte(id >> 16))
		sb.WriteByte(byte(id >> 8))
		sb.WriteByte(byte(id))
	}
	return sb.String()
}
