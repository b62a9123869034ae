// Package term defines the RDF term model: the polymorphic value type
// that appears in subject/predicate/object position, plus its
// canonical byte serialization used as dictionary keys.
//
// Grounded on the Term variant shape in
// other_examples/767a0eaa_knakk-rdf__ttl.go (IRI/blank/literal
// triple.Subject/Predicate/Object interfaces) and adapted to the
// dictionary/inline-encoding split required by spec.md §3.
package term

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind discriminates the term variants.
type Kind uint8

const (
	KindIRI Kind = iota
	KindBlank
	KindPlainLiteral
	KindTypedLiteral
	KindLangLiteral
	KindNumeric
)

// NumericKind refines KindNumeric terms further; only numeric terms
// are eligible for inline id encoding (spec.md §3).
type NumericKind uint8

const (
	NumInteger NumericKind = iota
	NumDecimal
	NumDouble
	NumDateTime
)

// Well-known XSD datatype IRIs, interned once.
const (
	XSDString   = "http://www.w3.org/2001/XMLSchema#string"
	XSDInteger  = "http://www.w3.org/2001/XMLSchema#integer"
	XSDDecimal  = "http://www.w3.org/2001/XMLSchema#decimal"
	XSDDouble   = "http://www.w3.org/2001/XMLSchema#double"
	XSDBoolean  = "http://www.w3.org/2001/XMLSchema#boolean"
	XSDDateTime = "http://www.w3.org/2001/XMLSchema#dateTime"
	RDFLangString = "http://www.w3.org/1999/02/22-rdf-syntax-ns#langString"
)

// MaxTermBytes is the documented maximum encoded length of a term
// (spec.md §4.1 "Policies").
const MaxTermBytes = 16 * 1024

// Term is an immutable RDF term. Subject/object/predicate slots in a
// triple pattern all share this type; predicate position is
// conventionally restricted to IRIs by callers, not by the type
// itself (matches SPARQL's relaxed internal representation, which
// allows variables to bind any term to any position via property
// paths / quoted triples extensions).
type Term struct {
	kind     Kind
	lex      string // lexical form (IRI string, blank node label, literal value)
	datatype string // set for KindTypedLiteral / KindNumeric
	lang     string // set for KindLangLiteral
	numKind  NumericKind
}

func NewIRI(iri string) Term       { return Term{kind: KindIRI, lex: iri} }
func NewBlank(label string) Term   { return Term{kind: KindBlank, lex: label} }
func NewPlain(value string) Term   { return Term{kind: KindPlainLiteral, lex: value, datatype: XSDString} }
func NewLangLiteral(value, lang string) Term {
	return Term{kind: KindLangLiteral, lex: value, lang: lang, datatype: RDFLangString}
}
func NewTypedLiteral(value, datatype string) Term {
	return Term{kind: KindTypedLiteral, lex: value, datatype: datatype}
}
func NewNumeric(lex, datatype string, nk NumericKind) Term {
	return Term{kind: KindNumeric, lex: lex, datatype: datatype, numKind: nk}
}

func (t Term) Kind() Kind             { return t.kind }
func (t Term) Lexical() string        { return t.lex }
func (t Term) Datatype() string       { return t.datatype }
func (t Term) Lang() string           { return t.lang }
func (t Term) NumericKind() NumericKind { return t.numKind }
func (t Term) IsIRI() bool            { return t.kind == KindIRI }
func (t Term) IsBlank() bool          { return t.kind == KindBlank }
func (t Term) IsLiteral() bool {
	switch t.kind {
	case KindPlainLiteral, KindTypedLiteral, KindLangLiteral, KindNumeric:
		return true
	}
	return false
}

// IsInlineEligible reports whether this term never needs a dictionary
// entry: numeric and datetime literals encode directly into the id.
func (t Term) IsInlineEligible() bool { return t.kind == KindNumeric }

func (t Term) String() string {
	switch t.kind {
	case KindIRI:
		return "<" + t.lex + ">"
	case KindBlank:
		return "_:" + t.lex
	case KindLangLiteral:
		return fmt.Sprintf("%q@%s", t.lex, t.lang)
	case KindTypedLiteral, KindNumeric:
		return fmt.Sprintf("%q^^<%s>", t.lex, t.datatype)
	default:
		return fmt.Sprintf("%q", t.lex)
	}
}

// Validate enforces the term-level policies from spec.md §4.1: UTF-8
// validity, absence of NUL bytes, and the maximum byte-length cap.
func (t Term) Validate() error {
	for _, s := range []string{t.lex, t.datatype, t.lang} {
		if !utf8.ValidString(s) {
			return fmt.Errorf("term: invalid UTF-8")
		}
		if strings.IndexByte(s, 0) >= 0 {
			return fmt.Errorf("term: embedded NUL byte")
		}
	}
	if len(t.lex) > MaxTermBytes {
		return fmt.Errorf("term: lexical form exceeds %d bytes", MaxTermBytes)
	}
	return nil
}

// Canonical returns the canonical byte serialization used as the key
// in the term→id dictionary CF: a one-byte type tag followed by the
// term body. Two terms that are RDF-equal produce identical bytes.
func (t Term) Canonical() []byte {
	var b strings.Builder
	b.WriteByte(byte(t.kind))
	switch t.kind {
	case KindIRI, KindBlank, KindPlainLiteral:
		b.WriteString(t.lex)
	case KindLangLiteral:
		b.WriteString(t.lang)
		b.WriteByte(0)
		b.WriteString(t.lex)
	case KindTypedLiteral, KindNumeric:
		b.WriteString(t.datatype)
		b.WriteByte(0)
		b.WriteString(t.lex)
	}
	return []byte(b.String())
}

// DecodeCanonical reverses Canonical, reconstructing the Term a
// dictionary row's key bytes represent. It is the id_to_term read
// path's counterpart to the term_to_id write path's Canonical().
func DecodeCanonical(b []byte) (Term, error) {
	if len(b) == 0 {
		return Term{}, fmt.Errorf("term: empty canonical form")
	}
	kind := Kind(b[0])
	body := b[1:]
	switch kind {
	case KindIRI:
		return NewIRI(string(body)), nil
	case KindBlank:
		return NewBlank(string(body)), nil
	case KindPlainLiteral:
		return NewPlain(string(body)), nil
	case KindLangLiteral:
		i := strings.IndexByte(string(body), 0)
		if i < 0 {
			return Term{}, fmt.Errorf("term: malformed lang-literal canonical form")
		}
		return NewLangLiteral(string(body[i+1:]), string(body[:i])), nil
	case KindTypedLiteral:
		i := strings.IndexByte(string(body), 0)
		if i < 0 {
			return Term{}, fmt.Errorf("term: malformed typed-literal canonical form")
		}
		return NewTypedLiteral(string(body[i+1:]), string(body[:i])), nil
	case KindNumeric:
		i := strings.IndexByte(string(body), 0)
		if i < 0 {
			return Term{}, fmt.Errorf("term: malformed numeric canonical form")
		}
		datatype := string(body[:i])
		return NewNumeric(string(body[i+1:]), datatype, numericKindForDatatype(datatype)), nil
	default:
		return Term{}, fmt.Errorf("term: unknown kind byte %d", kind)
	}
}

func numericKindForDatatype(dt string) NumericKind {
	switch dt {
	case XSDInteger:
		return NumInteger
	case XSDDecimal:
		return NumDecimal
	case XSDDouble:
		return NumDouble
	case XSDDateTime:
		return NumDateTime
	default:
		return NumInteger
	}
}

// Equal reports RDF term equality (same kind, lexical form, datatype/lang).
func (t Term) Equal(o Term) bool {
	return t.kind == o.kind && t.lex == o.lex && t.datatype == o.datatype && t.lang == o.lang
}
