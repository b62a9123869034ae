package parser

import (
	"testing"

	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/sparql/algebra"
	"github.com/kvgraph/triplestore/internal/sparql/ast"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleSelect(t *testing.T) {
	p, err := New(`PREFIX ex: <http://example.org/>
SELECT ?s ?o WHERE { ?s ex:knows ?o . FILTER(?o != ex:Bob) }`)
	require.NoError(t, err)
	q, err := p.ParseQuery()
	require.NoError(t, err)
	require.Equal(t, ast.FormSelect, q.Form)
	require.Equal(t, []string{"s", "o"}, q.Vars)
	require.Equal(t, algebra.KindFilter, q.Where.Kind)
	require.NotNil(t, q.Where.Inner)
	require.Equal(t, algebra.KindBGP, q.Where.Inner.Kind)
	require.Len(t, q.Where.Inner.Patterns, 1)
}

func TestParseOptionalUnionMinus(t *testing.T) {
	p, err := New(`SELECT * WHERE {
		?s <http://ex/p1> ?o .
		OPTIONAL { ?s <http://ex/p2> ?o2 }
		{ ?s <http://ex/p3> ?o3 } UNION { ?s <http://ex/p4> ?o4 }
		MINUS { ?s <http://ex/p5> ?o5 }
	}`)
	require.NoError(t, err)
	q, err := p.ParseQuery()
	require.NoError(t, err)
	require.True(t, q.Star)
	require.Equal(t, algebra.KindMinus, q.Where.Kind)
}

func TestParsePropertyPath(t *testing.T) {
	p, err := New(`SELECT ?x WHERE { ?x <http://ex/p>+ <http://ex/target> }`)
	require.NoError(t, err)
	q, err := p.ParseQuery()
	require.NoError(t, err)
	require.Equal(t, algebra.KindBGP, q.Where.Kind)
	require.Len(t, q.Where.Paths, 1)
	require.Equal(t, algebra.PathOneOrMore, q.Where.Paths[0].Path.Op)
}

func TestParseGroupByAggregateOrderLimit(t *testing.T) {
	p, err := New(`SELECT ?s (COUNT(?o) AS ?c) WHERE { ?s <http://ex/p> ?o } GROUP BY ?s ORDER BY DESC(?s) LIMIT 10 OFFSET 5`)
	require.NoError(t, err)
	q, err := p.ParseQuery()
	require.NoError(t, err)
	// Slice wraps OrderBy wraps Extend(?c) wraps Group wraps BGP.
	require.Equal(t, algebra.KindSlice, q.Where.Kind)
	require.True(t, q.Where.HasLimit)
	require.Equal(t, int64(10), q.Where.Limit)
	require.Equal(t, int64(5), q.Where.Offset)
	ob := q.Where.Inner
	require.Equal(t, algebra.KindOrderBy, ob.Kind)
	require.True(t, ob.OrderKeys[0].Desc)
	ext := ob.Inner
	require.Equal(t, algebra.KindExtend, ext.Kind)
	require.Equal(t, "c", ext.BindVar)
	grp := ext.Inner
	require.Equal(t, algebra.KindGroup, grp.Kind)
}

func TestParseHavingDistinctAndAliasedSelect(t *testing.T) {
	p, err := New(`SELECT DISTINCT ?s (AVG(?o) AS ?avg) WHERE { ?s <http://ex/p> ?o } GROUP BY ?s HAVING (AVG(?o) > 1) ORDER BY ?s`)
	require.NoError(t, err)
	q, err := p.ParseQuery()
	require.NoError(t, err)
	// Distinct wraps OrderBy wraps Extend(?avg) wraps Having(Filter) wraps Group wraps BGP.
	require.Equal(t, algebra.KindDistinct, q.Where.Kind)
	ob := q.Where.Inner
	require.Equal(t, algebra.KindOrderBy, ob.Kind)
	ext := ob.Inner
	require.Equal(t, algebra.KindExtend, ext.Kind)
	require.Equal(t, "avg", ext.BindVar)
	having := ext.Inner
	require.Equal(t, algebra.KindFilter, having.Kind)
	grp := having.Inner
	require.Equal(t, algebra.KindGroup, grp.Kind)
}

func TestParseInsertData(t *testing.T) {
	p, err := New(`PREFIX ex: <http://example.org/>
INSERT DATA { ex:a ex:b ex:c }`)
	require.NoError(t, err)
	u, err := p.ParseUpdate()
	require.NoError(t, err)
	require.Equal(t, ast.OpInsertData, u.Op)
	require.Len(t, u.InsertData, 1)
}

func TestParseDeleteInsertWhere(t *testing.T) {
	p, err := New(`PREFIX ex: <http://example.org/>
DELETE { ?s ex:p ?o } INSERT { ?s ex:q ?o } WHERE { ?s ex:p ?o }`)
	require.NoError(t, err)
	u, err := p.ParseUpdate()
	require.NoError(t, err)
	require.Equal(t, ast.OpDeleteInsertWhere, u.Op)
	require.Len(t, u.DeleteTmpl, 1)
	require.Len(t, u.InsertTmpl, 1)
	require.NotNil(t, u.Where)
}

func TestParseErrorCarriesLineAndColumn(t *testing.T) {
	p, err := New("SELECT ?x WHERE {\n ?x <http://ex/p> \n}")
	require.NoError(t, err)
	_, err = p.ParseQuery()
	require.Error(t, err)
	var perr *errs.Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, 3, perr.Line)
	require.Equal(t, 1, perr.Col)
}
