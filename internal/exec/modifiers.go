package exec

import (
	"sort"

	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/expr"
	"github.com/kvgraph/triplestore/internal/sparql/algebra"
)

// evalOrderBy evaluates Inner, then sorts by OrderKeys in order,
// ascending unless Desc; a comparison error between two rows' key
// values falls back to treating them as equal (stable, rather than
// failing the whole query — spec.md §4.9 makes no guarantee about
// ordering among incomparable values).
func (e *Executor) evalOrderBy(node *algebra.Node) ([]Binding, error) {
	bindings, err := e.Eval(node.Inner)
	if err != nil {
		return nil, err
	}
	if len(bindings) > e.limits.MaxResults {
		return nil, errs.New(errs.LimitExceeded, "exec.orderby", "result set exceeds the configured materialization ceiling")
	}
	sort.SliceStable(bindings, func(i, j int) bool {
		for _, k := range node.OrderKeys {
			vi, erri := e.evalExpr(bindings[i], k.Expr)
			vj, errj := e.evalExpr(bindings[j], k.Expr)
			if erri != nil || errj != nil {
				continue
			}
			cmp, err := expr.Compare(vi, vj)
			if err != nil || cmp == 0 {
				continue
			}
			if k.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return bindings, nil
}

// evalDistinct evaluates Inner, then removes duplicate rows, keeping
// the first occurrence of each distinct binding (stable, matching
// REDUCED/DISTINCT's "same multiset of variable bindings" semantics).
// The dedup set is bounded by Limits.MaxResults, the same ceiling
// evalOrderBy applies.
func (e *Executor) evalDistinct(node *algebra.Node) ([]Binding, error) {
	bindings, err := e.Eval(node.Inner)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	out := make([]Binding, 0, len(bindings))
	for _, b := range bindings {
		key := bindingKey(b)
		if seen[key] {
			continue
		}
		seen[key] = true
		if len(seen) > e.limits.MaxResults {
			return nil, errs.New(errs.LimitExceeded, "exec.distinct", "distinct set exceeds the configured materialization ceiling")
		}
		out = append(out, b)
	}
	return out, nil
}

// evalSlice applies LIMIT/OFFSET to Inner's result.
func (e *Executor) evalSlice(node *algebra.Node) ([]Binding, error) {
	bindings, err := e.Eval(node.Inner)
	if err != nil {
		return nil, err
	}
	offset := int(node.Offset)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(bindings) {
		return nil, nil
	}
	bindings = bindings[offset:]
	if node.HasLimit && int(node.Limit) < len(bindings) {
		if node.Limit < 0 {
			return nil, nil
		}
		bindings = bindings[:node.Limit]
	}
	return bindings, nil
}

// evalProject restricts each binding to ProjectVars, dropping every
// other key (including the internal groupTagVar).
func (e *Executor) evalProject(node *algebra.Node) ([]Binding, error) {
	bindings, err := e.Eval(node.Inner)
	if err != nil {
		return nil, err
	}
	out := make([]Binding, len(bindings))
	for i, b := range bindings {
		p := Binding{}
		for _, v := range node.ProjectVars {
			if id, ok := b[v]; ok {
				p[v] = id
			}
		}
		out[i] = p
	}
	return out, nil
}

// evalValues resolves a VALUES data block's literal rows into
// bindings, one per row; a row slot naming a term absent from the
// dictionary is left unbound for that variable rather than allocating
// a new entry (spec.md §4.3) or discarding the whole row — it behaves
// like an explicit UNDEF for that column.
func (e *Executor) evalValues(node *algebra.Node) ([]Binding, error) {
	out := make([]Binding, 0, len(node.ValuesRows))
	for _, row := range node.ValuesRows {
		b := Binding{}
		for i, pt := range row {
			if i >= len(node.ValuesVars) {
				break
			}
			if pt.IsVar() {
				continue
			}
			id, ok, err := e.ad.LookupTerm(pt.Term)
			if err != nil {
				return nil, err
			}
			if ok {
				b[node.ValuesVars[i]] = id
			}
		}
		out = append(out, b)
	}
	return out, nil
}
