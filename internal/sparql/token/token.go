// Package token defines the lexical tokens of SPARQL 1.1 query
// syntax, grounded file-for-file on the T-SQL tokenizer's shape
// (a Type enum over iota, keyword lookup table, Token{Type, Literal,
// Line, Col}) — same idiom, SPARQL's much smaller keyword set.
package token

// Type is a lexical token category.
type Type int

const (
	ILLEGAL Type = iota
	EOF

	IRI       // <http://...>
	PNAME     // prefix:local
	BLANK     // _:label
	VAR       // ?x or $x
	INTEGER   // 42
	DECIMAL   // 4.2
	DOUBLE    // 4.2e10
	STRING    // 'literal' or "literal"
	LANGTAG   // @en

	// Punctuation
	LBRACE // {
	RBRACE // }
	LPAREN // (
	RPAREN // )
	LBRACKET
	RBRACKET
	DOT
	COMMA
	SEMICOLON
	PIPE   // | (alternative path / logical or)
	SLASH  // / (sequence path / arithmetic divide)
	CARET  // ^ (inverse path)
	BANG   // ! (negated path set / logical not)
	QMARK  // ? (zero-or-one path; also VAR sigil, disambiguated by lexer)
	PLUS   // + (one-or-more path / arithmetic)
	STAR   // * (zero-or-more path / arithmetic)
	MINUS
	EQ
	NEQ
	LT
	GT
	LTE
	GTE
	ANDAND
	OROR
	DOUBLE_CARET // ^^ datatype annotation
	AT           // @ (language tag sigil, consumed into LANGTAG)

	keywordBeg
	SELECT
	CONSTRUCT
	DESCRIBE
	ASK
	WHERE
	PREFIX
	BASE
	DISTINCT
	REDUCED
	FROM
	NAMED
	GROUP
	BY
	HAVING
	ORDER
	ASC
	DESC
	LIMIT
	OFFSET
	OPTIONAL
	UNION
	MINUS_KW
	FILTER
	GRAPH
	BIND
	AS
	VALUES
	SERVICE
	A // rdf:type abbreviation

	INSERT
	DELETE
	DATA
	LOAD
	CLEAR
	DEFAULT
	ALL
	SILENT

	TRUE
	FALSE

	AND_KW
	OR_KW
	NOT
	IN
	EXISTS
	SUM
	MIN
	MAX
	AVG
	COUNT
	SAMPLE
	GROUP_CONCAT
	SEPARATOR
	BOUND
	ISIRI
	ISBLANK
	ISLITERAL
	STR
	LANG
	DATATYPE
	SAMETERM
	REGEX
	STRDT
	STRLANG
	keywordEnd
)

var keywords = map[string]Type{
	"SELECT": SELECT, "CONSTRUCT": CONSTRUCT, "DESCRIBE": DESCRIBE, "ASK": ASK,
	"WHERE": WHERE, "PREFIX": PREFIX, "BASE": BASE, "DISTINCT": DISTINCT,
	"REDUCED": REDUCED, "FROM": FROM, "NAMED": NAMED, "GROUP": GROUP, "BY": BY,
	"HAVING": HAVING, "ORDER": ORDER, "ASC": ASC, "DESC": DESC, "LIMIT": LIMIT,
	"OFFSET": OFFSET, "OPTIONAL": OPTIONAL, "UNION": UNION, "MINUS": MINUS_KW,
	"FILTER": FILTER, "GRAPH": GRAPH, "BIND": BIND, "AS": AS, "VALUES": VALUES,
	"SERVICE": SERVICE, "A": A, "INSERT": INSERT, "DELETE": DELETE, "DATA": DATA,
	"LOAD": LOAD, "CLEAR": CLEAR, "DEFAULT": DEFAULT, "ALL": ALL, "SILENT": SILENT,
	"TRUE": TRUE, "FALSE": FALSE, "AND": AND_KW, "OR": OR_KW, "NOT": NOT, "IN": IN,
	"EXISTS": EXISTS, "SUM": SUM, "MIN": MIN, "MAX": MAX, "AVG": AVG, "COUNT": COUNT,
	"SAMPLE": SAMPLE, "GROUP_CONCAT": GROUP_CONCAT, "SEPARATOR": SEPARATOR,
	"BOUND": BOUND, "ISIRI": ISIRI, "ISURI": ISIRI, "ISBLANK": ISBLANK,
	"ISLITERAL": ISLITERAL, "STR": STR, "LANG": LANG, "DATATYPE": DATATYPE,
	"SAMETERM": SAMETERM, "REGEX": REGEX, "STRDT": STRDT, "STRLANG": STRLANG,
}

// Lookup resolves an identifier to a keyword Type, case-insensitively
// per SPARQL's grammar; it reports false if no keyword matches.
func Lookup(ident string) (Type, bool) {
	t, ok := keywords[upper(ident)]
	return t, ok
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}

// Token is one lexical unit with its source position for diagnostics
// (spec.md §4.6 "errors carrying line/column").
type Token struct {
	Type    Type
	Literal string
	Line    int
	Col     int
}
