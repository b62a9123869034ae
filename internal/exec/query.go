// query.go assembles one parsed ast.Query into a Result by evaluating
// its Where clause and then serializing per its Form — SELECT rows,
// ASK boolean, or CONSTRUCT/DESCRIBE triple sets (spec.md §4.9's
// "result serialization" stage).
package exec

import (
	"strconv"

	"github.com/kvgraph/triplestore/internal/adapter"
	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/index"
	"github.com/kvgraph/triplestore/internal/sparql/algebra"
	"github.com/kvgraph/triplestore/internal/sparql/ast"
	"github.com/kvgraph/triplestore/internal/term"
)

// Result is the fully materialized outcome of one query's execution.
type Result struct {
	Vars    []string
	Rows    []map[string]term.Term
	Ask     bool
	Triples []adapter.TripleTerms
}

// Execute evaluates q per its Form, producing a serialized Result.
func (e *Executor) Execute(q *ast.Query) (*Result, error) {
	switch q.Form {
	case ast.FormSelect:
		return e.executeSelect(q)
	case ast.FormAsk:
		return e.executeAsk(q)
	case ast.FormConstruct:
		return e.executeConstruct(q)
	case ast.FormDescribe:
		return e.executeDescribe(q)
	default:
		return nil, errs.New(errs.Fatal, "exec.execute", "unknown query form")
	}
}

func (e *Executor) executeSelect(q *ast.Query) (*Result, error) {
	bindings, err := e.Eval(q.Where)
	if err != nil {
		return nil, err
	}
	vars := q.Vars
	if q.Star {
		vars = unionVars(bindings)
	}
	rows := make([]map[string]term.Term, 0, len(bindings))
	for _, b := range bindings {
		row := map[string]term.Term{}
		for _, v := range vars {
			id, ok := b[v]
			if !ok {
				continue
			}
			t, err := e.ad.DecodeTerm(id)
			if err != nil {
				return nil, err
			}
			row[v] = t
		}
		rows = append(rows, row)
	}
	return &Result{Vars: vars, Rows: rows}, nil
}

func unionVars(bindings []Binding) []string {
	seen := map[string]bool{}
	var out []string
	for _, b := range bindings {
		for k := range b {
			if k == groupTagVar || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func (e *Executor) executeAsk(q *ast.Query) (*Result, error) {
	bindings, err := e.Eval(q.Where)
	if err != nil {
		return nil, err
	}
	return &Result{Ask: len(bindings) > 0}, nil
}

func (e *Executor) executeConstruct(q *ast.Query) (*Result, error) {
	bindings, err := e.Eval(q.Where)
	if err != nil {
		return nil, err
	}
	var out []adapter.TripleTerms
	for row, b := range bindings {
		for _, tp := range q.Template {
			s, ok, err := e.resolveTemplateTerm(tp.S, b, row)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			p, ok, err := e.resolveTemplateTerm(tp.P, b, row)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			o, ok, err := e.resolveTemplateTerm(tp.O, b, row)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			out = append(out, adapter.TripleTerms{S: s, P: p, O: o})
			if len(out) > e.limits.MaxDescribeTriples {
				return nil, errs.New(errs.LimitExceeded, "exec.construct", "result exceeds the configured triple ceiling")
			}
		}
	}
	return &Result{Triples: out}, nil
}

// resolveTemplateTerm instantiates one CONSTRUCT template slot under
// binding b. A blank node template term is freshened per solution row
// (row is folded into its label) so that two solutions never alias
// the same output blank node, while repeated uses of the same label
// within one row still refer to the same node.
func (e *Executor) resolveTemplateTerm(pt algebra.PatternTerm, b Binding, row int) (term.Term, bool, error) {
	if !pt.IsVar() {
		if pt.Term.IsBlank() {
			return term.NewBlank(pt.Term.Lexical() + "#" + strconv.Itoa(row)), true, nil
		}
		return pt.Term, true, nil
	}
	id, ok := b[pt.Var]
	if !ok {
		return term.Term{}, false, nil
	}
	t, err := e.ad.DecodeTerm(id)
	if err != nil {
		return term.Term{}, false, err
	}
	return t, true, nil
}

func (e *Executor) executeDescribe(q *ast.Query) (*Result, error) {
	var subjects []ids.ID
	seen := map[ids.ID]bool{}
	addSubject := func(id ids.ID) {
		if !seen[id] {
			seen[id] = true
			subjects = append(subjects, id)
		}
	}

	if q.Where != nil {
		bindings, err := e.Eval(q.Where)
		if err != nil {
			return nil, err
		}
		if q.Star {
			for _, b := range bindings {
				for k, id := range b {
					if k != groupTagVar {
						addSubject(id)
					}
				}
			}
		} else {
			for _, b := range bindings {
				for _, dt := range q.DescribeTerms {
					if !dt.IsVar() {
						continue
					}
					if id, ok := b[dt.Var]; ok {
						addSubject(id)
					}
				}
			}
		}
	}
	for _, dt := range q.DescribeTerms {
		if dt.IsVar() {
			continue
		}
		id, ok, err := e.ad.LookupTerm(dt.Term)
		if err != nil {
			return nil, err
		}
		if ok {
			addSubject(id)
		}
	}

	triples, err := e.conciseBoundedDescription(subjects)
	if err != nil {
		return nil, err
	}
	return &Result{Triples: triples}, nil
}

// conciseBoundedDescription gathers every triple whose subject is one
// of roots, then follows blank-node objects outward up to
// MaxDescribeDepth — the standard CBD algorithm, bounded per spec.md
// §4.9's DESCRIBE safeguards.
func (e *Executor) conciseBoundedDescription(roots []ids.ID) ([]adapter.TripleTerms, error) {
	var out []index.Triple
	visited := map[ids.ID]bool{}
	frontier := roots
	for depth := 0; depth <= e.limits.MaxDescribeDepth && len(frontier) > 0; depth++ {
		var next []ids.ID
		for _, s := range frontier {
			if visited[s] {
				continue
			}
			visited[s] = true
			cur, err := e.ix.Lookup(e.snap, index.Pattern{S: s, SBound: true}, "")
			if err != nil {
				return nil, err
			}
			for cur.Next() {
				t := cur.Triple()
				out = append(out, t)
				if len(out) > e.limits.MaxDescribeTriples {
					cur.Close()
					return nil, errs.New(errs.LimitExceeded, "exec.describe", "description exceeds the configured triple ceiling")
				}
				if !visited[t.O] {
					ot, err := e.ad.DecodeTerm(t.O)
					if err == nil && ot.IsBlank() {
						next = append(next, t.O)
					}
				}
			}
			if err := cur.Err(); err != nil {
				cur.Close()
				return nil, err
			}
			cur.Close()
		}
		frontier = next
	}

	terms, err := e.ad.DecodeTriples(out)
	if err != nil {
		return nil, err
	}
	return terms, nil
}
