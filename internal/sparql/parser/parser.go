// Package parser implements a recursive-descent SPARQL 1.1 parser,
// grounded on the token-stream/precedence-climbing shape of
// ha1tch-tsqlparser's parser.go (peek/expect/advance helpers,
// Pratt-style expression precedence table) adapted to SPARQL's
// grammar: prologue, the four query forms, group graph patterns,
// property paths, and the standard expression precedence ladder.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kvgraph/triplestore/internal/errs"
	"github.com/kvgraph/triplestore/internal/sparql/algebra"
	"github.com/kvgraph/triplestore/internal/sparql/ast"
	"github.com/kvgraph/triplestore/internal/sparql/lexer"
	"github.com/kvgraph/triplestore/internal/sparql/token"
	"github.com/kvgraph/triplestore/internal/term"
)

// MaxDepth bounds recursive-descent nesting (spec.md §4.6 "Parser
// depth is bounded").
const MaxDepth = 128

type Parser struct {
	lex     *lexer.Lexer
	cur     token.Token
	next    token.Token
	prefixes map[string]string
	base    string
	depth   int
	varCounter int
}

func New(input string) (*Parser, error) {
	l, err := lexer.New(input)
	if err != nil {
		return nil, err
	}
	p := &Parser{lex: l, prefixes: map[string]string{}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	p.cur = p.next
	t, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.next = t
	return nil
}

func (p *Parser) errf(format string, args ...interface{}) error {
	return errs.New(errs.ParseError, "sparql.parser", fmt.Sprintf(format, args...)).WithPos(p.cur.Line, p.cur.Col)
}

func (p *Parser) expect(t token.Type) (token.Token, error) {
	if p.cur.Type != t {
		return token.Token{}, p.errf("unexpected token %q, expected a different token", p.cur.Literal)
	}
	tok := p.cur
	if err := p.advance(); err != nil {
		return token.Token{}, err
	}
	return tok, nil
}

func (p *Parser) enter() error {
	p.depth++
	if p.depth > MaxDepth {
		return errs.New(errs.LimitExceeded, "sparql.parser", "query nesting exceeds the configured depth limit")
	}
	return nil
}
func (p *Parser) leave() { p.depth-- }

func (p *Parser) freshVar() string {
	p.varCounter++
	return fmt.Sprintf("_path%d", p.varCounter)
}

// ParseQuery parses a complete SPARQL query, prologue included.
func (p *Parser) ParseQuery() (*ast.Query, error) {
	if err := p.parsePrologue(); err != nil {
		return nil, err
	}
	switch p.cur.Type {
	case token.SELECT:
		return p.parseSelect()
	case token.ASK:
		return p.parseAsk()
	case token.CONSTRUCT:
		return p.parseConstruct()
	case token.DESCRIBE:
		return p.parseDescribe()
	default:
		return nil, p.errf("expected SELECT, ASK, CONSTRUCT, or DESCRIBE")
	}
}

func (p *Parser) parsePrologue() error {
	for {
		switch p.cur.Type {
		case token.PREFIX:
			if err := p.advance(); err != nil {
				return err
			}
			name, err := p.expect(token.PNAME)
			if err != nil {
				return err
			}
			iri, err := p.expect(token.IRI)
			if err != nil {
				return err
			}
			p.prefixes[strings.TrimSuffix(name.Literal, ":")] = iri.Literal
		case token.BASE:
			if err := p.advance(); err != nil {
				return err
			}
			iri, err := p.expect(token.IRI)
			if err != nil {
				return err
			}
			p.base = iri.Literal
		default:
			return nil
		}
	}
}

func (p *Parser) resolveIRI(pname string) (string, error) {
	i := strings.IndexByte(pname, ':')
	prefix, local := pname[:i], pname[i+1:]
	ns, ok := p.prefixes[prefix]
	if !ok {
		return "", p.errf("undefined prefix %q", prefix)
	}
	return ns + local, nil
}

func (p *Parser) parseSelect() (*ast.Query, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	q := &ast.Query{Form: ast.FormSelect}
	distinct, reduced := false, false
	switch p.cur.Type {
	case token.DISTINCT:
		distinct = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	case token.REDUCED:
		reduced = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	var items []selectItem
	if p.cur.Type == token.STAR {
		q.Star = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else {
		for p.cur.Type == token.VAR || p.cur.Type == token.LPAREN {
			if p.cur.Type == token.VAR {
				items = append(items, selectItem{Var: p.cur.Literal})
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			if err := p.advance(); err != nil { // '('
				return nil, err
			}
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.AS); err != nil {
				return nil, err
			}
			v, err := p.expect(token.VAR)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.RPAREN); err != nil {
				return nil, err
			}
			items = append(items, selectItem{Var: v.Literal, Expr: e})
		}
		for _, it := range items {
			q.Vars = append(q.Vars, it.Var)
		}
	}
	where, err := p.parseWhereAndModifiersMod(items, distinct, reduced)
	if err != nil {
		return nil, err
	}
	q.Where = where
	return q, nil
}

func (p *Parser) parseAsk() (*ast.Query, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	where, err := p.parseWhereAndModifiers(nil)
	if err != nil {
		return nil, err
	}
	return &ast.Query{Form: ast.FormAsk, Where: where}, nil
}

func (p *Parser) parseConstruct() (*ast.Query, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}
	tmpl, err := p.parseTriplesBlock()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RBRACE); err != nil {
		return nil, err
	}
	where, err := p.parseWhereAndModifiers(nil)
	if err != nil {
		return nil, err
	}
	return &ast.Query{Form: ast.FormConstruct, Template: tmpl, Where: where}, nil
}

func (p *Parser) parseDescribe() (*ast.Query, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	q := &ast.Query{Form: ast.FormDescribe}
	if p.cur.Type == token.STAR {
		q.Star = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else {
		for p.cur.Type == token.VAR || p.cur.Type == token.IRI || p.cur.Type == token.PNAME {
			pt, err := p.parseVarOrTerm()
			if err != nil {
				return nil, err
			}
			q.DescribeTerms = append(q.DescribeTerms, pt)
		}
	}
	if p.cur.Type == token.WHERE || p.cur.Type == token.LBRACE {
		where, err := p.parseWhereAndModifiers(nil)
		if err != nil {
			return nil, err
		}
		q.Where = where
	}
	return q, nil
}

// selectItem is one SELECT projection entry: a bare "?var" (Expr nil)
// or an aliased "(Expr AS ?var)".
type selectItem struct {
	Var  string
	Expr *algebra.Expr
}

// parseWhereAndModifiers parses WHERE { ... } plus GROUP BY / HAVING /
// the SELECT list's aliased expressions / ORDER BY / LIMIT / OFFSET,
// wrapping the base pattern in the corresponding algebra nodes
// outside-in (Slice(Distinct(OrderBy(Extend(Having(Group(...))))))).
// selectItems is nil for ASK/CONSTRUCT/DESCRIBE and for a bare "*" or
// all-plain-variable SELECT list.
func (p *Parser) parseWhereAndModifiers(selectItems []selectItem) (*algebra.Node, error) {
	return p.parseWhereAndModifiersMod(selectItems, false, false)
}

func (p *Parser) parseWhereAndModifiersMod(selectItems []selectItem, distinct, reduced bool) (*algebra.Node, error) {
	if p.cur.Type == token.WHERE {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	pattern, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}

	if p.cur.Type == token.GROUP {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if _, err := p.expect(token.BY); err != nil {
			return nil, err
		}
		var keys []*algebra.Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			keys = append(keys, e)
			if p.cur.Type != token.VAR && p.cur.Type != token.LPAREN && p.isExprStart() == false {
				break
			}
			if !p.isExprStart() {
				break
			}
		}
		pattern = &algebra.Node{Kind: algebra.KindGroup, Inner: pattern, GroupKeys: keys}
	}

	if p.cur.Type == token.HAVING {
		if err := p.advance(); err != nil {
			return nil, err
		}
		cond, err := p.parseConstraint()
		if err != nil {
			return nil, err
		}
		pattern = &algebra.Node{Kind: algebra.KindFilter, Inner: pattern, Filter: cond}
	}

	for _, it := range selectItems {
		if it.Expr == nil {
			continue
		}
		pattern = &algebra.Node{Kind: algebra.KindExtend, Inner: pattern, BindVar: it.Var, BindExpr: it.Expr}
	}

	if p.cur.Type == token.ORDER {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if _, err := p.expect(token.BY); err != nil {
			return nil, err
		}
		var keys []algebra.OrderKey
		for p.isExprStart() || p.cur.Type == token.ASC || p.cur.Type == token.DESC {
			desc := false
			if p.cur.Type == token.ASC || p.cur.Type == token.DESC {
				desc = p.cur.Type == token.DESC
				if err := p.advance(); err != nil {
					return nil, err
				}
				if _, err := p.expect(token.LPAREN); err != nil {
					return nil, err
				}
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				if _, err := p.expect(token.RPAREN); err != nil {
					return nil, err
				}
				keys = append(keys, algebra.OrderKey{Expr: e, Desc: desc})
				continue
			}
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			keys = append(keys, algebra.OrderKey{Expr: e, Desc: false})
		}
		pattern = &algebra.Node{Kind: algebra.KindOrderBy, Inner: pattern, OrderKeys: keys}
	}

	if distinct {
		pattern = &algebra.Node{Kind: algebra.KindDistinct, Inner: pattern}
	}
	if reduced {
		pattern = &algebra.Node{Kind: algebra.KindReduced, Inner: pattern}
	}

	var limit, offset int64
	hasLimit := false
	for p.cur.Type == token.LIMIT || p.cur.Type == token.OFFSET {
		if p.cur.Type == token.LIMIT {
			if err := p.advance(); err != nil {
				return nil, err
			}
			n, err := p.expectInt()
			if err != nil {
				return nil, err
			}
			limit, hasLimit = n, true
		} else {
			if err := p.advance(); err != nil {
				return nil, err
			}
			n, err := p.expectInt()
			if err != nil {
				return nil, err
			}
			offset = n
		}
	}
	if hasLimit || offset != 0 {
		pattern = &algebra.Node{Kind: algebra.KindSlice, Inner: pattern, Limit: limit, Offset: offset, HasLimit: hasLimit}
	}
	return pattern, nil
}

func (p *Parser) expectInt() (int64, error) {
	if p.cur.Type != token.INTEGER {
		return 0, p.errf("expected an integer literal")
	}
	n, err := strconv.ParseInt(p.cur.Literal, 10, 64)
	if err != nil {
		return 0, p.errf("invalid integer literal %q", p.cur.Literal)
	}
	if err := p.advance(); err != nil {
		return 0, err
	}
	return n, nil
}

// parseGroupGraphPattern parses '{' GroupGraphPatternSub '}'.
func (p *Parser) parseGroupGraphPattern() (*algebra.Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}
	node, err := p.parseGroupGraphPatternSub()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RBRACE); err != nil {
		return nil, err
	}
	return node, nil
}

func joinNodes(a, b *algebra.Node) *algebra.Node {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return &algebra.Node{Kind: algebra.KindJoin, Left: a, Right: b}
}

func (p *Parser) parseGroupGraphPatternSub() (*algebra.Node, error) {
	var result *algebra.Node
	for {
		switch p.cur.Type {
		case token.RBRACE:
			return result, nil
		case token.OPTIONAL:
			if err := p.advance(); err != nil {
				return nil, err
			}
			inner, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			result = &algebra.Node{Kind: algebra.KindLeftJoin, Left: result, Right: inner}
		case token.MINUS_KW:
			if err := p.advance(); err != nil {
				return nil, err
			}
			inner, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			result = &algebra.Node{Kind: algebra.KindMinus, Left: result, Right: inner}
		case token.FILTER:
			if err := p.advance(); err != nil {
				return nil, err
			}
			e, err := p.parseConstraint()
			if err != nil {
				return nil, err
			}
			result = &algebra.Node{Kind: algebra.KindFilter, Inner: result, Filter: e}
		case token.BIND:
			if err := p.advance(); err != nil {
				return nil, err
			}
			if _, err := p.expect(token.LPAREN); err != nil {
				return nil, err
			}
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.AS); err != nil {
				return nil, err
			}
			v, err := p.expect(token.VAR)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.RPAREN); err != nil {
				return nil, err
			}
			result = &algebra.Node{Kind: algebra.KindExtend, Inner: result, BindVar: v.Literal, BindExpr: e}
		case token.GRAPH:
			if err := p.advance(); err != nil {
				return nil, err
			}
			g, err := p.parseVarOrTerm()
			if err != nil {
				return nil, err
			}
			inner, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			result = joinNodes(result, &algebra.Node{Kind: algebra.KindGraph, Inner: inner, GraphTerm: g})
		case token.VALUES:
			if err := p.advance(); err != nil {
				return nil, err
			}
			node, err := p.parseValuesClause()
			if err != nil {
				return nil, err
			}
			result = joinNodes(result, node)
		case token.LBRACE:
			first, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			branch := first
			for p.cur.Type == token.UNION {
				if err := p.advance(); err != nil {
					return nil, err
				}
				rhs, err := p.parseGroupGraphPattern()
				if err != nil {
					return nil, err
				}
				branch = &algebra.Node{Kind: algebra.KindUnion, Left: branch, Right: rhs}
			}
			result = joinNodes(result, branch)
		case token.DOT:
			if err := p.advance(); err != nil {
				return nil, err
			}
		default:
			bgp, err := p.parseTriplesBlockAsBGP()
			if err != nil {
				return nil, err
			}
			result = joinNodes(result, bgp)
		}
	}
}

func (p *Parser) parseValuesClause() (*algebra.Node, error) {
	var vars []string
	if p.cur.Type == token.LPAREN {
		if err := p.advance(); err != nil {
			return nil, err
		}
		for p.cur.Type == token.VAR {
			vars = append(vars, p.cur.Literal)
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
	} else {
		v, err := p.expect(token.VAR)
		if err != nil {
			return nil, err
		}
		vars = []string{v.Literal}
	}
	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}
	var rows [][]algebra.PatternTerm
	for p.cur.Type != token.RBRACE {
		var row []algebra.PatternTerm
		grouped := p.cur.Type == token.LPAREN
		if grouped {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		for p.cur.Type != token.RPAREN && p.cur.Type != token.RBRACE {
			pt, err := p.parseVarOrTerm()
			if err != nil {
				return nil, err
			}
			row = append(row, pt)
			if !grouped {
				break
			}
		}
		if grouped {
			if _, err := p.expect(token.RPAREN); err != nil {
				return nil, err
			}
		}
		rows = append(rows, row)
	}
	if _, err := p.expect(token.RBRACE); err != nil {
		return nil, err
	}
	return &algebra.Node{Kind: algebra.KindValues, ValuesVars: vars, ValuesRows: rows}, nil
}

// parseConstraint parses FILTER's argument: either a bracketted
// expression or a bare BuiltInCall.
func (p *Parser) parseConstraint() (*algebra.Expr, error) {
	if p.cur.Type == token.LPAREN {
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return e, nil
	}
	return p.parsePrimaryExpr()
}

func (p *Parser) isExprStart() bool {
	switch p.cur.Type {
	case token.VAR, token.IRI, token.PNAME, token.STRING, token.INTEGER, token.DECIMAL, token.DOUBLE,
		token.TRUE, token.FALSE, token.LPAREN, token.BANG, token.PLUS, token.MINUS,
		token.BOUND, token.ISIRI, token.ISBLANK, token.ISLITERAL, token.STR, token.LANG,
		token.DATATYPE, token.SAMETERM, token.REGEX, token.STRDT, token.STRLANG, token.EXISTS, token.NOT,
		token.COUNT, token.SUM, token.MIN, token.MAX, token.AVG, token.SAMPLE, token.GROUP_CONCAT:
		return true
	default:
		return false
	}
}

// --- Triples blocks (BGP + property paths) ---------------------------------

func (p *Parser) parseTriplesBlockAsBGP() (*algebra.Node, error) {
	patterns, paths, err := p.parseTriplesBlockRaw()
	if err != nil {
		return nil, err
	}
	node := &algebra.Node{Kind: algebra.KindBGP, Patterns: patterns, Paths: paths}
	return node, nil
}

// parseTriplesBlock is used by CONSTRUCT, which wants the flat
// TriplePattern slice rather than a wrapped algebra.Node.
func (p *Parser) parseTriplesBlock() ([]algebra.TriplePattern, error) {
	patterns, paths, err := p.parseTriplesBlockRaw()
	if err != nil {
		return nil, err
	}
	for _, pp := range paths {
		if pp.Path.Op == algebra.PathPredicate {
			patterns = append(patterns, algebra.TriplePattern{S: pp.S, P: algebra.Bound(pp.Path.Pred), O: pp.O})
		}
	}
	return patterns, nil
}

func (p *Parser) parseTriplesBlockRaw() ([]algebra.TriplePattern, []algebra.PathPattern, error) {
	var patterns []algebra.TriplePattern
	var paths []algebra.PathPattern
	for {
		if !p.isTermStart() {
			return patterns, paths, nil
		}
		s, err := p.parseVarOrTerm()
		if err != nil {
			return nil, nil, err
		}
		pp, ppp, err := p.parsePredicateObjectList(s)
		if err != nil {
			return nil, nil, err
		}
		patterns = append(patterns, pp...)
		paths = append(paths, ppp...)
		if p.cur.Type != token.DOT {
			return patterns, paths, nil
		}
		if err := p.advance(); err != nil {
			return nil, nil, err
		}
	}
}

func (p *Parser) isTermStart() bool {
	switch p.cur.Type {
	case token.IRI, token.PNAME, token.VAR, token.BLANK, token.A, token.STRING,
		token.INTEGER, token.DECIMAL, token.DOUBLE, token.TRUE, token.FALSE, token.LBRACKET:
		return true
	default:
		return false
	}
}

// parsePredicateObjectList parses "verb objectList (';' verb objectList)*"
// for a fixed subject, returning both plain triple patterns and any
// patterns whose predicate position was a property path.
func (p *Parser) parsePredicateObjectList(s algebra.PatternTerm) ([]algebra.TriplePattern, []algebra.PathPattern, error) {
	var patterns []algebra.TriplePattern
	var paths []algebra.PathPattern
	for {
		path, isSimple, pred, err := p.parsePath()
		if err != nil {
			return nil, nil, err
		}
		objs, err := p.parseObjectList()
		if err != nil {
			return nil, nil, err
		}
		for _, o := range objs {
			if isSimple {
				patterns = append(patterns, algebra.TriplePattern{S: s, P: algebra.Bound(pred), O: o})
			} else {
				paths = append(paths, algebra.PathPattern{S: s, O: o, Path: path})
			}
		}
		if p.cur.Type != token.SEMICOLON {
			return patterns, paths, nil
		}
		if err := p.advance(); err != nil {
			return nil, nil, err
		}
		if !p.isVerbStart() {
			return patterns, paths, nil
		}
	}
}

func (p *Parser) isVerbStart() bool {
	switch p.cur.Type {
	case token.IRI, token.PNAME, token.A, token.CARET, token.BANG, token.LPAREN, token.VAR:
		return true
	default:
		return false
	}
}

func (p *Parser) parseObjectList() ([]algebra.PatternTerm, error) {
	var objs []algebra.PatternTerm
	for {
		o, err := p.parseVarOrTerm()
		if err != nil {
			return nil, err
		}
		objs = append(objs, o)
		if p.cur.Type != token.COMMA {
			return objs, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
}

// parseVarOrTerm parses a single GraphTerm or Var, including the empty
// blank node '[]' via a fresh variable. A blank node property list
// ('[' with content) is a parse error.
func (p *Parser) parseVarOrTerm() (algebra.PatternTerm, error) {
	switch p.cur.Type {
	case token.VAR:
		v := p.cur.Literal
		if err := p.advance(); err != nil {
			return algebra.PatternTerm{}, err
		}
		return algebra.Variable(v), nil
	case token.IRI:
		iri := p.cur.Literal
		if err := p.advance(); err != nil {
			return algebra.PatternTerm{}, err
		}
		return algebra.Bound(term.NewIRI(iri)), nil
	case token.PNAME:
		iri, err := p.resolveIRI(p.cur.Literal)
		if err != nil {
			return algebra.PatternTerm{}, err
		}
		if err := p.advance(); err != nil {
			return algebra.PatternTerm{}, err
		}
		return algebra.Bound(term.NewIRI(iri)), nil
	case token.A:
		if err := p.advance(); err != nil {
			return algebra.PatternTerm{}, err
		}
		return algebra.Bound(term.NewIRI("http://www.w3.org/1999/02/22-rdf-syntax-ns#type")), nil
	case token.BLANK:
		label := p.cur.Literal
		if err := p.advance(); err != nil {
			return algebra.PatternTerm{}, err
		}
		return algebra.Bound(term.NewBlank(label)), nil
	case token.LBRACKET:
		if err := p.advance(); err != nil {
			return algebra.PatternTerm{}, err
		}
		if _, err := p.expect(token.RBRACKET); err != nil {
			return algebra.PatternTerm{}, err
		}
		return algebra.Variable(p.freshVar()), nil
	case token.STRING:
		lit, err := p.parseRDFLiteral()
		return algebra.Bound(lit), err
	case token.INTEGER, token.DECIMAL, token.DOUBLE:
		lit, err := p.parseNumericLiteral()
		return algebra.Bound(lit), err
	case token.TRUE:
		if err := p.advance(); err != nil {
			return algebra.PatternTerm{}, err
		}
		return algebra.Bound(term.NewTypedLiteral("true", term.XSDBoolean)), nil
	case token.FALSE:
		if err := p.advance(); err != nil {
			return algebra.PatternTerm{}, err
		}
		return algebra.Bound(term.NewTypedLiteral("false", term.XSDBoolean)), nil
	default:
		return algebra.PatternTerm{}, p.errf("expected a term or variable, found %q", p.cur.Literal)
	}
}

func (p *Parser) parseRDFLiteral() (term.Term, error) {
	val := p.cur.Literal
	if err := p.advance(); err != nil {
		return term.Term{}, err
	}
	switch p.cur.Type {
	case token.LANGTAG:
		lang := p.cur.Literal
		if err := p.advance(); err != nil {
			return term.Term{}, err
		}
		return term.NewLangLiteral(val, lang), nil
	case token.DOUBLE_CARET:
		if err := p.advance(); err != nil {
			return term.Term{}, err
		}
		dt, err := p.parseDatatypeIRI()
		if err != nil {
			return term.Term{}, err
		}
		return term.NewTypedLiteral(val, dt), nil
	default:
		return term.NewPlain(val), nil
	}
}

func (p *Parser) parseDatatypeIRI() (string, error) {
	switch p.cur.Type {
	case token.IRI:
		iri := p.cur.Literal
		if err := p.advance(); err != nil {
			return "", err
		}
		return iri, nil
	case token.PNAME:
		iri, err := p.resolveIRI(p.cur.Literal)
		if err != nil {
			return "", err
		}
		if err := p.advance(); err != nil {
			return "", err
		}
		return iri, nil
	default:
		return "", p.errf("expected a datatype IRI")
	}
}

func (p *Parser) parseNumericLiteral() (term.Term, error) {
	lit := p.cur.Literal
	switch p.cur.Type {
	case token.INTEGER:
		if err := p.advance(); err != nil {
			return term.Term{}, err
		}
		return term.NewNumeric(lit, term.XSDInteger, term.NumInteger), nil
	case token.DECIMAL:
		if err := p.advance(); err != nil {
			return term.Term{}, err
		}
		return term.NewNumeric(lit, term.XSDDecimal, term.NumDecimal), nil
	default:
		if err := p.advance(); err != nil {
			return term.Term{}, err
		}
		return term.NewNumeric(lit, term.XSDDouble, term.NumDouble), nil
	}
}

// --- Property paths ---------------------------------------------------------
//
// Grammar (precedence low to high): Alternative ('|' Alternative)*,
// Sequence ('/' Sequence)*, unary prefix ('^' inverse, '!' negated
// set), primary (IRI | 'a' | '(' Path ')'), postfix ('?', '+', '*').
//
// parsePath reports (expr, isSimplePredicate, predicateTerm). A bare
// IRI predicate with no path operators at all is reported as
// isSimplePredicate so callers can emit a plain TriplePattern instead
// of paying the PathPattern/internal/path evaluation cost.

func (p *Parser) parsePath() (algebra.PathExpr, bool, term.Term, error) {
	expr, err := p.parsePathAlternative()
	if err != nil {
		return algebra.PathExpr{}, false, term.Term{}, err
	}
	if expr.Op == algebra.PathPredicate {
		return expr, true, expr.Pred, nil
	}
	return expr, false, term.Term{}, nil
}

func (p *Parser) parsePathAlternative() (algebra.PathExpr, error) {
	first, err := p.parsePathSequence()
	if err != nil {
		return algebra.PathExpr{}, err
	}
	if p.cur.Type != token.PIPE {
		return first, nil
	}
	children := []algebra.PathExpr{first}
	for p.cur.Type == token.PIPE {
		if err := p.advance(); err != nil {
			return algebra.PathExpr{}, err
		}
		next, err := p.parsePathSequence()
		if err != nil {
			return algebra.PathExpr{}, err
		}
		children = append(children, next)
	}
	return algebra.PathExpr{Op: algebra.PathAlternative, Children: children}, nil
}

func (p *Parser) parsePathSequence() (algebra.PathExpr, error) {
	first, err := p.parsePathUnary()
	if err != nil {
		return algebra.PathExpr{}, err
	}
	if p.cur.Type != token.SLASH {
		return first, nil
	}
	children := []algebra.PathExpr{first}
	for p.cur.Type == token.SLASH {
		if err := p.advance(); err != nil {
			return algebra.PathExpr{}, err
		}
		next, err := p.parsePathUnary()
		if err != nil {
			return algebra.PathExpr{}, err
		}
		children = append(children, next)
	}
	return algebra.PathExpr{Op: algebra.PathSequence, Children: children}, nil
}

func (p *Parser) parsePathUnary() (algebra.PathExpr, error) {
	switch p.cur.Type {
	case token.CARET:
		if err := p.advance(); err != nil {
			return algebra.PathExpr{}, err
		}
		inner, err := p.parsePathPrimary()
		if err != nil {
			return algebra.PathExpr{}, err
		}
		return p.parsePathPostfix(algebra.PathExpr{Op: algebra.PathInverse, Inner: &inner})
	case token.BANG:
		if err := p.advance(); err != nil {
			return algebra.PathExpr{}, err
		}
		negated, err := p.parseNegatedPathSet()
		if err != nil {
			return algebra.PathExpr{}, err
		}
		return p.parsePathPostfix(algebra.PathExpr{Op: algebra.PathNegatedSet, Negated: negated})
	default:
		prim, err := p.parsePathPrimary()
		if err != nil {
			return algebra.PathExpr{}, err
		}
		return p.parsePathPostfix(prim)
	}
}

func (p *Parser) parseNegatedPathSet() ([]term.Term, error) {
	if p.cur.Type == token.LPAREN {
		if err := p.advance(); err != nil {
			return nil, err
		}
		var preds []term.Term
		for {
			pt, err := p.parseVarOrTerm()
			if err != nil {
				return nil, err
			}
			preds = append(preds, pt.Term)
			if p.cur.Type != token.PIPE {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return preds, nil
	}
	pt, err := p.parseVarOrTerm()
	if err != nil {
		return nil, err
	}
	return []term.Term{pt.Term}, nil
}

func (p *Parser) parsePathPrimary() (algebra.PathExpr, error) {
	if p.cur.Type == token.LPAREN {
		if err := p.advance(); err != nil {
			return algebra.PathExpr{}, err
		}
		inner, err := p.parsePathAlternative()
		if err != nil {
			return algebra.PathExpr{}, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return algebra.PathExpr{}, err
		}
		return inner, nil
	}
	pt, err := p.parseVarOrTerm()
	if err != nil {
		return algebra.PathExpr{}, err
	}
	return algebra.PathExpr{Op: algebra.PathPredicate, Pred: pt.Term}, nil
}

func (p *Parser) parsePathPostfix(inner algebra.PathExpr) (algebra.PathExpr, error) {
	switch p.cur.Type {
	case token.QMARK:
		if err := p.advance(); err != nil {
			return algebra.PathExpr{}, err
		}
		return algebra.PathExpr{Op: algebra.PathZeroOrOne, Inner: &inner}, nil
	case token.PLUS:
		if err := p.advance(); err != nil {
			return algebra.PathExpr{}, err
		}
		return algebra.PathExpr{Op: algebra.PathOneOrMore, Inner: &inner}, nil
	case token.STAR:
		if err := p.advance(); err != nil {
			return algebra.PathExpr{}, err
		}
		return algebra.PathExpr{Op: algebra.PathZeroOrMore, Inner: &inner}, nil
	default:
		return inner, nil
	}
}

// --- Expressions -------------------------------------------------------------
//
// Precedence, low to high: ConditionalOr ('||'), ConditionalAnd ('&&'),
// Relational (=,!=,<,<=,>,>=, IN, NOT IN), Additive (+,-), Multiplicative
// (*,/), Unary (!,+,-), Primary.

func (p *Parser) parseExpr() (*algebra.Expr, error) {
	return p.parseConditionalOr()
}

func (p *Parser) parseConditionalOr() (*algebra.Expr, error) {
	left, err := p.parseConditionalAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == token.OROR {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseConditionalAnd()
		if err != nil {
			return nil, err
		}
		left = &algebra.Expr{Kind: algebra.ECall, Op: "||", Args: []*algebra.Expr{left, right}}
	}
	return left, nil
}

func (p *Parser) parseConditionalAnd() (*algebra.Expr, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == token.ANDAND {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = &algebra.Expr{Kind: algebra.ECall, Op: "&&", Args: []*algebra.Expr{left, right}}
	}
	return left, nil
}

var relOps = map[token.Type]string{
	token.EQ: "=", token.NEQ: "!=", token.LT: "<", token.GT: ">", token.LTE: "<=", token.GTE: ">=",
}

func (p *Parser) parseRelational() (*algebra.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if op, ok := relOps[p.cur.Type]; ok {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &algebra.Expr{Kind: algebra.ECall, Op: op, Args: []*algebra.Expr{left, right}}, nil
	}
	if p.cur.Type == token.IN {
		if err := p.advance(); err != nil {
			return nil, err
		}
		args, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		return &algebra.Expr{Kind: algebra.ECall, Op: "in", Args: append([]*algebra.Expr{left}, args...)}, nil
	}
	if p.cur.Type == token.NOT {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if _, err := p.expect(token.IN); err != nil {
			return nil, err
		}
		args, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		in := &algebra.Expr{Kind: algebra.ECall, Op: "in", Args: append([]*algebra.Expr{left}, args...)}
		return &algebra.Expr{Kind: algebra.ECall, Op: "!", Args: []*algebra.Expr{in}}, nil
	}
	return left, nil
}

func (p *Parser) parseExprList() ([]*algebra.Expr, error) {
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	var args []*algebra.Expr
	for p.cur.Type != token.RPAREN {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		if p.cur.Type == token.COMMA {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *Parser) parseAdditive() (*algebra.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == token.PLUS || p.cur.Type == token.MINUS {
		op := "+"
		if p.cur.Type == token.MINUS {
			op = "-"
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &algebra.Expr{Kind: algebra.ECall, Op: op, Args: []*algebra.Expr{left, right}}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (*algebra.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == token.STAR || p.cur.Type == token.SLASH {
		op := "*"
		if p.cur.Type == token.SLASH {
			op = "/"
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &algebra.Expr{Kind: algebra.ECall, Op: op, Args: []*algebra.Expr{left, right}}
	}
	return left, nil
}

func (p *Parser) parseUnary() (*algebra.Expr, error) {
	switch p.cur.Type {
	case token.BANG:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &algebra.Expr{Kind: algebra.ECall, Op: "!", Args: []*algebra.Expr{e}}, nil
	case token.PLUS:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.parseUnary()
	case token.MINUS:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		zero := &algebra.Expr{Kind: algebra.ELiteral, Literal: term.NewNumeric("0", term.XSDInteger, term.NumInteger)}
		return &algebra.Expr{Kind: algebra.ECall, Op: "-", Args: []*algebra.Expr{zero, e}}, nil
	default:
		return p.parsePrimaryExpr()
	}
}

func (p *Parser) parsePrimaryExpr() (*algebra.Expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	switch p.cur.Type {
	case token.LPAREN:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return e, nil
	case token.VAR:
		v := p.cur.Literal
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &algebra.Expr{Kind: algebra.EVar, Var: v}, nil
	case token.STRING:
		lit, err := p.parseRDFLiteral()
		if err != nil {
			return nil, err
		}
		return &algebra.Expr{Kind: algebra.ELiteral, Literal: lit}, nil
	case token.INTEGER, token.DECIMAL, token.DOUBLE:
		lit, err := p.parseNumericLiteral()
		if err != nil {
			return nil, err
		}
		return &algebra.Expr{Kind: algebra.ELiteral, Literal: lit}, nil
	case token.TRUE:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &algebra.Expr{Kind: algebra.ELiteral, Literal: term.NewTypedLiteral("true", term.XSDBoolean)}, nil
	case token.FALSE:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &algebra.Expr{Kind: algebra.ELiteral, Literal: term.NewTypedLiteral("false", term.XSDBoolean)}, nil
	case token.IRI, token.PNAME:
		pt, err := p.parseVarOrTerm()
		if err != nil {
			return nil, err
		}
		return &algebra.Expr{Kind: algebra.ELiteral, Literal: pt.Term}, nil
	case token.NOT:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if _, err := p.expect(token.EXISTS); err != nil {
			return nil, err
		}
		pattern, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		return &algebra.Expr{Kind: algebra.ENotExists, Pattern: pattern}, nil
	case token.EXISTS:
		if err := p.advance(); err != nil {
			return nil, err
		}
		pattern, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		return &algebra.Expr{Kind: algebra.EExists, Pattern: pattern}, nil
	case token.BOUND:
		return p.parseUnaryBuiltin("bound")
	case token.ISIRI:
		return p.parseUnaryBuiltin("isiri")
	case token.ISBLANK:
		return p.parseUnaryBuiltin("isblank")
	case token.ISLITERAL:
		return p.parseUnaryBuiltin("isliteral")
	case token.STR:
		return p.parseUnaryBuiltin("str")
	case token.LANG:
		return p.parseUnaryBuiltin("lang")
	case token.DATATYPE:
		return p.parseUnaryBuiltin("datatype")
	case token.SAMETERM:
		return p.parseBinaryBuiltin("sameterm")
	case token.STRDT:
		return p.parseBinaryBuiltin("strdt")
	case token.STRLANG:
		return p.parseBinaryBuiltin("strlang")
	case token.REGEX:
		return p.parseRegexCall()
	case token.COUNT, token.SUM, token.MIN, token.MAX, token.AVG, token.SAMPLE, token.GROUP_CONCAT:
		return p.parseAggregateCall()
	default:
		return nil, p.errf("unexpected token %q in expression", p.cur.Literal)
	}
}

func (p *Parser) parseUnaryBuiltin(name string) (*algebra.Expr, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	return &algebra.Expr{Kind: algebra.ECall, Op: name, Args: []*algebra.Expr{e}}, nil
}

func (p *Parser) parseBinaryBuiltin(name string) (*algebra.Expr, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	a, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.COMMA); err != nil {
		return nil, err
	}
	b, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	return &algebra.Expr{Kind: algebra.ECall, Op: name, Args: []*algebra.Expr{a, b}}, nil
}

func (p *Parser) parseRegexCall() (*algebra.Expr, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	subj, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.COMMA); err != nil {
		return nil, err
	}
	pat, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	args := []*algebra.Expr{subj, pat}
	if p.cur.Type == token.COMMA {
		if err := p.advance(); err != nil {
			return nil, err
		}
		flags, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, flags)
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	return &algebra.Expr{Kind: algebra.ECall, Op: "regex", Args: args}, nil
}

// parseAggregateCall parses an aggregate function call occurring
// inside an expression context (e.g. HAVING, or SELECT's expression
// list); it is represented as an ordinary ECall whose Op names the
// aggregate so that internal/exec's group evaluation can recognize
// and lift it out of the expression tree.
func (p *Parser) parseAggregateCall() (*algebra.Expr, error) {
	name := strings.ToLower(p.cur.Literal)
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	distinct := false
	if p.cur.Type == token.DISTINCT {
		distinct = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	var args []*algebra.Expr
	if p.cur.Type == token.STAR {
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		for p.cur.Type == token.SEPARATOR {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if _, err := p.expect(token.EQ); err != nil {
				return nil, err
			}
			if p.cur.Type == token.STRING {
				sep := p.cur.Literal
				if err := p.advance(); err != nil {
					return nil, err
				}
				args = append(args, &algebra.Expr{Kind: algebra.ELiteral, Literal: term.NewPlain(sep)})
			}
		}
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	op := "agg_" + name
	if distinct {
		op = op + "_distinct"
	}
	return &algebra.Expr{Kind: algebra.ECall, Op: op, Args: args}, nil
}

// --- SPARQL Update ------------------------------------------------------------

// ParseUpdate parses a single SPARQL Update operation (spec.md §4.12):
// INSERT DATA, DELETE DATA, DELETE/INSERT WHERE, LOAD, CLEAR.
func (p *Parser) ParseUpdate() (*ast.Update, error) {
	if err := p.parsePrologue(); err != nil {
		return nil, err
	}
	switch p.cur.Type {
	case token.INSERT:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.Type == token.DATA {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if _, err := p.expect(token.LBRACE); err != nil {
				return nil, err
			}
			tmpl, err := p.parseTriplesBlock()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.RBRACE); err != nil {
				return nil, err
			}
			return &ast.Update{Op: ast.OpInsertData, InsertData: tmpl}, nil
		}
		return p.parseModifyWhere(nil, true)
	case token.DELETE:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.Type == token.DATA {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if _, err := p.expect(token.LBRACE); err != nil {
				return nil, err
			}
			tmpl, err := p.parseTriplesBlock()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.RBRACE); err != nil {
				return nil, err
			}
			return &ast.Update{Op: ast.OpDeleteData, DeleteData: tmpl}, nil
		}
		if _, err := p.expect(token.LBRACE); err != nil {
			return nil, err
		}
		delTmpl, err := p.parseTriplesBlock()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RBRACE); err != nil {
			return nil, err
		}
		return p.parseModifyWhere(delTmpl, false)
	case token.LOAD:
		if err := p.advance(); err != nil {
			return nil, err
		}
		silent := false
		if p.cur.Type == token.SILENT {
			silent = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		src, err := p.expect(token.IRI)
		if err != nil {
			return nil, err
		}
		return &ast.Update{Op: ast.OpLoad, Source: src.Literal, Silent: silent}, nil
	case token.CLEAR:
		if err := p.advance(); err != nil {
			return nil, err
		}
		silent := false
		if p.cur.Type == token.SILENT {
			silent = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if p.cur.Type == token.DEFAULT || p.cur.Type == token.ALL {
			if err := p.advance(); err != nil {
				return nil, err
			}
		} else if p.cur.Type == token.GRAPH {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if _, err := p.expect(token.IRI); err != nil {
				return nil, err
			}
		}
		return &ast.Update{Op: ast.OpClear, Silent: silent}, nil
	default:
		return nil, p.errf("expected an update operation (INSERT/DELETE/LOAD/CLEAR)")
	}
}

// parseModifyWhere handles "INSERT { tmpl } WHERE { pattern }" and the
// continuation of "DELETE { tmpl } [INSERT { tmpl }] WHERE { pattern }".
func (p *Parser) parseModifyWhere(delTmpl []algebra.TriplePattern, insertFirst bool) (*ast.Update, error) {
	var insTmpl []algebra.TriplePattern
	if insertFirst || p.cur.Type == token.INSERT {
		if p.cur.Type == token.INSERT {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(token.LBRACE); err != nil {
			return nil, err
		}
		var err error
		insTmpl, err = p.parseTriplesBlock()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RBRACE); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(token.WHERE); err != nil {
		return nil, err
	}
	where, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	return &ast.Update{Op: ast.OpDeleteInsertWhere, DeleteTmpl: delTmpl, InsertTmpl: insTmpl, Where: where}, nil
}
