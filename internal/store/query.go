// query.go implements Store's read surface: Query and the
// Prepare/Execute split for repeated execution of the same parsed
// query against successive snapshots (spec.md §6 "prepare/execute").
// Results are returned whole; there is no streaming query call.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/kvgraph/triplestore/internal/adapter"
	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/exec"
	"github.com/kvgraph/triplestore/internal/ids"
	"github.com/kvgraph/triplestore/internal/sparql/algebra"
	"github.com/kvgraph/triplestore/internal/sparql/ast"
	"github.com/kvgraph/triplestore/internal/sparql/parser"
	"github.com/kvgraph/triplestore/internal/term"
)

// PreparedQuery is a parsed query bound to no particular snapshot yet;
// Execute evaluates it against the store's current state.
type PreparedQuery struct {
	text string
	q    *ast.Query
}

// Prepare parses text once so repeated Execute calls skip re-parsing.
func (s *Store) Prepare(text string) (*PreparedQuery, error) {
	if err := s.checkOpen("store.prepare"); err != nil {
		return nil, err
	}
	p, err := parser.New(text)
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, "store.prepare", "invalid query", err)
	}
	q, err := p.ParseQuery()
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, "store.prepare", "invalid query", err)
	}
	return &PreparedQuery{text: text, q: q}, nil
}

// Execute evaluates a PreparedQuery against the store's current state.
func (s *Store) Execute(ctx context.Context, pq *PreparedQuery) (*exec.Result, error) {
	return s.runQuery(ctx, pq.text, pq.q)
}

// Query parses and evaluates text in one call, caching SELECT/ASK
// result sets under a hash of the query text (spec.md §4.14's
// query-result cache).
func (s *Store) Query(ctx context.Context, text string) (*exec.Result, error) {
	if err := s.checkOpen("store.query"); err != nil {
		return nil, err
	}
	p, err := parser.New(text)
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, "store.query", "invalid query", err)
	}
	q, err := p.ParseQuery()
	if err != nil {
		return nil, errs.Wrap(errs.ParseError, "store.query", "invalid query", err)
	}
	return s.runQuery(ctx, text, q)
}

func queryCacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (s *Store) runQuery(ctx context.Context, text string, q *ast.Query) (*exec.Result, error) {
	defer s.tel.ObserveOp("store.query")(time.Now())

	key := queryCacheKey(text)
	// SELECT * is not cached: its projected variable list is only
	// known after evaluation, and the cache stores rows keyed to a
	// fixed, pre-known Vars order.
	cacheable := q.Form == ast.FormAsk || (q.Form == ast.FormSelect && !q.Star)
	if cacheable {
		if rows, ok := s.queryCache.Get(key); ok {
			return decodeCachedRows(q, rows, s.ad)
		}
	}

	rt, err := s.txnMgr.BeginRead()
	if err != nil {
		return nil, err
	}
	defer rt.Release()
	snap, err := rt.Snapshot()
	if err != nil {
		return nil, err
	}

	ex := exec.New(s.ix, snap, s.ad, s.opt, s.statsCollector.Current(), s.tel, s.opts.ExecLimits).WithNumericIndex(s.numericIdx)
	res, err := ex.Execute(q)
	if err != nil {
		s.tel.OpError("store.query", errs.KindOf(err).String())
		return nil, err
	}

	if cacheable {
		rows, err := encodeResultRows(q, res, s.ad)
		if err == nil {
			s.queryCache.Put(key, rows, boundPredicates(q.Where, s.ad))
		}
	}
	return res, nil
}

// encodeResultRows projects a Result's term rows down to raw ids in
// Vars order, the representation the query-result cache stores so a
// cache hit never needs the dictionary again except to decode back.
func encodeResultRows(q *ast.Query, res *exec.Result, ad *adapter.Adapter) ([][]ids.ID, error) {
	vars := res.Vars
	if q.Form == ast.FormAsk {
		if res.Ask {
			return [][]ids.ID{{}}, nil
		}
		return [][]ids.ID{}, nil
	}
	rows := make([][]ids.ID, 0, len(res.Rows))
	for _, row := range res.Rows {
		encoded := make([]ids.ID, len(vars))
		for i, v := range vars {
			t, ok := row[v]
			if !ok {
				encoded[i] = 0
				continue
			}
			id, err := ad.EncodeTerm(t)
			if err != nil {
				return nil, err
			}
			encoded[i] = id
		}
		rows = append(rows, encoded)
	}
	return rows, nil
}

func decodeCachedRows(q *ast.Query, rows [][]ids.ID, ad *adapter.Adapter) (*exec.Result, error) {
	if q.Form == ast.FormAsk {
		return &exec.Result{Ask: len(rows) > 0}, nil
	}
	out := make([]map[string]term.Term, 0, len(rows))
	for _, r := range rows {
		row := map[string]term.Term{}
		for i, v := range q.Vars {
			if i >= len(r) || r[i] == 0 {
				continue
			}
			t, err := ad.DecodeTerm(r[i])
			if err != nil {
				return nil, err
			}
			row[v] = t
		}
		out = append(out, row)
	}
	return &exec.Result{Vars: q.Vars, Rows: out}, nil
}

// boundPredicates walks an algebra tree collecting every constant
// predicate a BGP pattern touches, the same "predicate the plan
// touched" notion internal/optimizer.Optimizer.Store derives for its
// own reverse index — reused here so a write invalidating predicate p
// evicts every cached result whose BGP read p, not just plans.
func boundPredicates(n *algebra.Node, ad *adapter.Adapter) map[ids.ID]struct{} {
	out := map[ids.ID]struct{}{}
	collectBoundPredicates(n, ad, out)
	return out
}

func collectBoundPredicates(n *algebra.Node, ad *adapter.Adapter, out map[ids.ID]struct{}) {
	if n == nil {
		return
	}
	for _, p := range n.Patterns {
		if p.P.IsVar() {
			continue
		}
		if id, err := ad.EncodeTerm(p.P.Term); err == nil {
			out[id] = struct{}{}
		}
	}
	collectBoundPredicates(n.Left, ad, out)
	collectBoundPredicates(n.Right, ad, out)
	collectBoundPredicates(n.Inner, ad, out)
}
