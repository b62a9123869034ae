// Package rules builds the reasoner's rule table: RDFS entailment plus
// a representative slice of OWL 2 RL (spec.md §4.13). A Rule is
// `head ← body, conditions`, body atoms are fixed arity-3 triple
// patterns over variables and bound ids, and conditions are the safe
// side-predicates (currently just disequality) the spec allows.
//
// Grounded on other_examples/ee0a0909_kevinawalsh-datalog's Literal/Term
// model: that engine gives every variable and constant a pointer-identity
// id (`DistinctVar`/`DistinctConst`) because Go has no interned symbol
// table, and tags literals by a variant string (`tag()`) to detect
// alpha-equivalence. A triple pattern here has a fixed, tiny arity, so
// the same "have to compare on something stable, not pointer equality
// across runs" problem is solved with plain interned strings instead of
// pointer identity — rule ids and variable names are strings throughout,
// never language-level symbols, exactly so the schema-driven
// specialization step below (one rule instance per concrete property)
// doesn't grow an unbounded symbol table as the schema changes.
package rules

import "github.com/kvgraph/triplestore/internal/ids"

// Profile identifies which entailment regime a rule belongs to.
type Profile int

const (
	ProfileRDFS Profile = iota
	ProfileOWL2RL
)

func (p Profile) String() string {
	if p == ProfileOWL2RL {
		return "owl2rl"
	}
	return "rdfs"
}

// Category classifies a rule for reporting/telemetry and for the
// schema-summary specialization pass below.
type Category int

const (
	CategoryClassHierarchy Category = iota
	CategoryPropertyHierarchy
	CategoryEquality
	CategoryRestriction
	CategoryCharacteristic
)

// TermKind distinguishes a pattern slot that's a free variable from one
// bound to a fixed schema id (set at specialization time).
type TermKind int

const (
	TermVar TermKind = iota
	TermBound
)

// Term is one slot of a Pattern.
type Term struct {
	Kind TermKind
	Var  string
	ID   ids.ID
}

// V builds a variable slot.
func V(name string) Term { return Term{Kind: TermVar, Var: name} }

// B builds a slot bound to a fixed id — used when a rule is
// specialized for one concrete property or class.
func B(id ids.ID) Term { return Term{Kind: TermBound, ID: id} }

func (t Term) IsVar() bool { return t.Kind == TermVar }

// Pattern is one triple-pattern atom in a rule's body or head.
type Pattern struct {
	S, P, O Term
}

// ConditionKind enumerates the safe side-predicates conditions can
// express (spec.md §4.13 "conditions — safe predicates: type checks,
// inequality, schema-set membership").
type ConditionKind int

const (
	// CondNotEqual holds when the two named variables are bound to
	// different ids — used by prp-fp/prp-ifp to avoid deriving a
	// trivial x sameAs x.
	CondNotEqual ConditionKind = iota
)

// Condition is evaluated against a rule's current variable bindings
// after its body atoms already matched.
type Condition struct {
	Kind ConditionKind
	A, B string
}

// Rule is one entry of the compiled rule table: an implication from
// Body (joined left to right) plus Conditions to Head.
type Rule struct {
	ID         string
	Profile    Profile
	Category   Category
	Body       []Pattern
	Head       Pattern
	Conditions []Condition
}

// TermResolver resolves a well-known IRI string to its dictionary id,
// reporting false if that term was never stored — the caller uses this
// to decide whether a rule's triggering predicate is present at all
// (spec.md §4.13 "drop rules whose triggering predicate is absent").
type TermResolver func(iri string) (ids.ID, bool, error)

// Well-known RDF/RDFS/OWL vocabulary IRIs the rule table is built from.
const (
	RDFType               = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	RDFSSubClassOf        = "http://www.w3.org/2000/01/rdf-schema#subClassOf"
	RDFSSubPropertyOf     = "http://www.w3.org/2000/01/rdf-schema#subPropertyOf"
	RDFSDomain            = "http://www.w3.org/2000/01/rdf-schema#domain"
	RDFSRange             = "http://www.w3.org/2000/01/rdf-schema#range"
	OWLSameAs             = "http://www.w3.org/2002/07/owl#sameAs"
	OWLEquivalentClass    = "http://www.w3.org/2002/07/owl#equivalentClass"
	OWLEquivalentProperty = "http://www.w3.org/2002/07/owl#equivalentProperty"
	OWLInverseOf          = "http://www.w3.org/2002/07/owl#inverseOf"
	OWLTransitiveProperty = "http://www.w3.org/2002/07/owl#TransitiveProperty"
	OWLSymmetricProperty  = "http://www.w3.org/2002/07/owl#SymmetricProperty"
	OWLFunctionalProperty = "http://www.w3.org/2002/07/owl#FunctionalProperty"
	OWLInverseFunctional  = "http://www.w3.org/2002/07/owl#InverseFunctionalProperty"
)

// SchemaSummary is the compiled-down view of the TBox the rule
// compiler specializes against (spec.md §4.13 "Rule compilation
// extracts a schema summary... and uses it to... specialize rules per
// concrete property"). internal/reason/tbox is responsible for keeping
// one of these current; Compile only reads it.
type SchemaSummary struct {
	// PredicatePresent reports whether at least one triple uses this
	// predicate — used to drop rules whose trigger is vacuous.
	PredicatePresent map[ids.ID]bool

	// SubPropertyOf/Domain/Range/InverseOf are multi-valued: a property
	// can legitimately declare more than one superproperty, domain,
	// range, or inverse (diamond inheritance), and each needs its own
	// specialized rule instance.
	SubPropertyOf     map[ids.ID][]ids.ID // p -> [q...], p subPropertyOf q
	Domain            map[ids.ID][]ids.ID // p -> [c...], p rdfs:domain c
	Range             map[ids.ID][]ids.ID // p -> [c...], p rdfs:range c
	InverseOf         map[ids.ID][]ids.ID // p -> [q...], p owl:inverseOf q (both directions present)
	Transitive        map[ids.ID]bool
	Symmetric         map[ids.ID]bool
	Functional        map[ids.ID]bool
	InverseFunctional map[ids.ID]bool
}

// Compile builds the full rule table for the requested profiles,
// resolving well-known vocabulary terms via resolve and specializing
// per-property rules from schema. A profile whose generic rules all
// depend on an absent predicate contributes nothing.
func Compile(resolve TermResolver, schema SchemaSummary, profiles map[Profile]bool) ([]Rule, error) {
	var out []Rule

	if profiles[ProfileRDFS] {
		rdfs, err := compileRDFS(resolve, schema)
		if err != nil {
			return nil, err
		}
		out = append(out, rdfs...)
	}
	if profiles[ProfileOWL2RL] {
		owl, err := compileOWL2RL(resolve, schema)
		if err != nil {
			return nil, err
		}
		out = append(out, owl...)
	}
	return out, nil
}

func compileRDFS(resolve TermResolver, schema SchemaSummary) ([]Rule, error) {
	typeID, ok, err := resolve(RDFType)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	subClassID, ok, err := resolve(RDFSSubClassOf)
	if err != nil {
		return nil, err
	}
	subPropID, subPropOK, err := resolve(RDFSSubPropertyOf)
	if err != nil {
		return nil, err
	}

	var out []Rule

	if ok && schema.PredicatePresent[subClassID] {
		// rdfs11: x subClassOf y, y subClassOf z => x subClassOf z
		out = append(out, Rule{
			ID:       "rdfs:subclass-trans",
			Profile:  ProfileRDFS,
			Category: CategoryClassHierarchy,
			Body: []Pattern{
				{S: V("x"), P: B(subClassID), O: V("y")},
				{S: V("y"), P: B(subClassID), O: V("z")},
			},
			Head: Pattern{S: V("x"), P: B(subClassID), O: V("z")},
		})

		// rdfs9: x type c, c subClassOf d => x type d
		if schema.PredicatePresent[typeID] {
			out = append(out, Rule{
				ID:       "rdfs:type-subclass",
				Profile:  ProfileRDFS,
				Category: CategoryClassHierarchy,
				Body: []Pattern{
					{S: V("x"), P: B(typeID), O: V("c")},
					{S: V("c"), P: B(subClassID), O: V("d")},
				},
				Head: Pattern{S: V("x"), P: B(typeID), O: V("d")},
			})
		}
	}

	if subPropOK && schema.PredicatePresent[subPropID] {
		// rdfs5: p subPropertyOf q, q subPropertyOf r => p subPropertyOf r
		out = append(out, Rule{
			ID:       "rdfs:subprop-trans",
			Profile:  ProfileRDFS,
			Category: CategoryPropertyHierarchy,
			Body: []Pattern{
				{S: V("p"), P: B(subPropID), O: V("q")},
				{S: V("q"), P: B(subPropID), O: V("r")},
			},
			Head: Pattern{S: V("p"), P: B(subPropID), O: V("r")},
		})

		// rdfs7, specialized per concrete (p,q) pair so the data atom
		// never needs a variable predicate scan: s p o, p subPropertyOf q => s q o
		for p, qs := range schema.SubPropertyOf {
			for _, q := range qs {
				out = append(out, Rule{
					ID:       "rdfs:subprop-inherit#" + idKey(p) + "-" + idKey(q),
					Profile:  ProfileRDFS,
					Category: CategoryPropertyHierarchy,
					Body: []Pattern{
						{S: V("s"), P: B(p), O: V("o")},
					},
					Head: Pattern{S: V("s"), P: B(q), O: V("o")},
				})
			}
		}
	}

	// rdfs2/rdfs3, specialized per concrete (p,c) domain/range pair.
	if schema.PredicatePresent[typeID] {
		for p, cs := range schema.Domain {
			for _, c := range cs {
				out = append(out, Rule{
					ID:       "rdfs:domain#" + idKey(p) + "-" + idKey(c),
					Profile:  ProfileRDFS,
					Category: CategoryPropertyHierarchy,
					Body: []Pattern{
						{S: V("s"), P: B(p), O: V("o")},
					},
					Head: Pattern{S: V("s"), P: B(typeID), O: B(c)},
				})
			}
		}
		for p, cs := range schema.Range {
			for _, c := range cs {
				out = append(out, Rule{
					ID:       "rdfs:range#" + idKey(p) + "-" + idKey(c),
					Profile:  ProfileRDFS,
					Category: CategoryPropertyHierarchy,
					Body: []Pattern{
						{S: V("s"), P: B(p), O: V("o")},
					},
					Head: Pattern{S: V("o"), P: B(typeID), O: B(c)},
				})
			}
		}
	}

	return out, nil
}

func compileOWL2RL(resolve TermResolver, schema SchemaSummary) ([]Rule, error) {
	sameAs, sameAsOK, err := resolve(OWLSameAs)
	if err != nil {
		return nil, err
	}
	eqClass, eqClassOK, err := resolve(OWLEquivalentClass)
	if err != nil {
		return nil, err
	}
	eqProp, eqPropOK, err := resolve(OWLEquivalentProperty)
	if err != nil {
		return nil, err
	}
	subClassID, subClassOK, err := resolve(RDFSSubClassOf)
	if err != nil {
		return nil, err
	}
	subPropID, subPropOK, err := resolve(RDFSSubPropertyOf)
	if err != nil {
		return nil, err
	}

	var out []Rule

	if sameAsOK && schema.PredicatePresent[sameAs] {
		// eq-sym: x sameAs y => y sameAs x
		out = append(out, Rule{
			ID: "owl:eq-sym", Profile: ProfileOWL2RL, Category: CategoryEquality,
			Body: []Pattern{{S: V("x"), P: B(sameAs), O: V("y")}},
			Head: Pattern{S: V("y"), P: B(sameAs), O: V("x")},
		})
		// eq-trans: x sameAs y, y sameAs z => x sameAs z
		out = append(out, Rule{
			ID: "owl:eq-trans", Profile: ProfileOWL2RL, Category: CategoryEquality,
			Body: []Pattern{
				{S: V("x"), P: B(sameAs), O: V("y")},
				{S: V("y"), P: B(sameAs), O: V("z")},
			},
			Head: Pattern{S: V("x"), P: B(sameAs), O: V("z")},
		})
		// eq-rep-s: x sameAs x2, x p o => x2 p o
		out = append(out, Rule{
			ID: "owl:eq-rep-s", Profile: ProfileOWL2RL, Category: CategoryEquality,
			Body: []Pattern{
				{S: V("x"), P: B(sameAs), O: V("x2")},
				{S: V("x"), P: V("p"), O: V("o")},
			},
			Head: Pattern{S: V("x2"), P: V("p"), O: V("o")},
		})
		// eq-rep-o: o sameAs o2, s p o => s p o2
		out = append(out, Rule{
			ID: "owl:eq-rep-o", Profile: ProfileOWL2RL, Category: CategoryEquality,
			Body: []Pattern{
				{S: V("o"), P: B(sameAs), O: V("o2")},
				{S: V("s"), P: V("p"), O: V("o")},
			},
			Head: Pattern{S: V("s"), P: V("p"), O: V("o2")},
		})
	}

	if eqClassOK && schema.PredicatePresent[eqClass] && subClassOK {
		out = append(out, Rule{
			ID: "owl:cax-eqc1", Profile: ProfileOWL2RL, Category: CategoryRestriction,
			Body: []Pattern{{S: V("c"), P: B(eqClass), O: V("d")}},
			Head: Pattern{S: V("c"), P: B(subClassID), O: V("d")},
		})
		out = append(out, Rule{
			ID: "owl:cax-eqc2", Profile: ProfileOWL2RL, Category: CategoryRestriction,
			Body: []Pattern{{S: V("c"), P: B(eqClass), O: V("d")}},
			Head: Pattern{S: V("d"), P: B(subClassID), O: V("c")},
		})
	}

	if eqPropOK && schema.PredicatePresent[eqProp] && subPropOK {
		out = append(out, Rule{
			ID: "owl:prp-eqp1", Profile: ProfileOWL2RL, Category: CategoryPropertyHierarchy,
			Body: []Pattern{{S: V("p"), P: B(eqProp), O: V("q")}},
			Head: Pattern{S: V("p"), P: B(subPropID), O: V("q")},
		})
		out = append(out, Rule{
			ID: "owl:prp-eqp2", Profile: ProfileOWL2RL, Category: CategoryPropertyHierarchy,
			Body: []Pattern{{S: V("p"), P: B(eqProp), O: V("q")}},
			Head: Pattern{S: V("q"), P: B(subPropID), O: V("p")},
		})
	}

	// One rule instance per concrete property carrying each OWL
	// characteristic — the "specialize per concrete property" half of
	// schema-summary compilation (spec.md §4.13).
	for p := range schema.Transitive {
		out = append(out, Rule{
			ID: "owl:prp-trp#" + idKey(p), Profile: ProfileOWL2RL, Category: CategoryCharacteristic,
			Body: []Pattern{
				{S: V("x"), P: B(p), O: V("y")},
				{S: V("y"), P: B(p), O: V("z")},
			},
			Head: Pattern{S: V("x"), P: B(p), O: V("z")},
		})
	}
	for p := range schema.Symmetric {
		out = append(out, Rule{
			ID: "owl:prp-symp#" + idKey(p), Profile: ProfileOWL2RL, Category: CategoryCharacteristic,
			Body: []Pattern{{S: V("x"), P: B(p), O: V("y")}},
			Head: Pattern{S: V("y"), P: B(p), O: V("x")},
		})
	}
	if sameAsOK {
		for p := range schema.Functional {
			out = append(out, Rule{
				ID: "owl:prp-fp#" + idKey(p), Profile: ProfileOWL2RL, Category: CategoryCharacteristic,
				Body: []Pattern{
					{S: V("x"), P: B(p), O: V("y1")},
					{S: V("x"), P: B(p), O: V("y2")},
				},
				Head:       Pattern{S: V("y1"), P: B(sameAs), O: V("y2")},
				Conditions: []Condition{{Kind: CondNotEqual, A: "y1", B: "y2"}},
			})
		}
		for p := range schema.InverseFunctional {
			out = append(out, Rule{
				ID: "owl:prp-ifp#" + idKey(p), Profile: ProfileOWL2RL, Category: CategoryCharacteristic,
				Body: []Pattern{
					{S: V("x1"), P: B(p), O: V("y")},
					{S: V("x2"), P: B(p), O: V("y")},
				},
				Head:       Pattern{S: V("x1"), P: B(sameAs), O: V("x2")},
				Conditions: []Condition{{Kind: CondNotEqual, A: "x1", B: "x2"}},
			})
		}
	}
	for p, qs := range schema.InverseOf {
		for _, q := range qs {
			// prp-inv: p inverseOf q, x p y => y q x
			out = append(out, Rule{
				ID: "owl:prp-inv#" + idKey(p) + "-" + idKey(q), Profile: ProfileOWL2RL, Category: CategoryCharacteristic,
				Body: []Pattern{{S: V("x"), P: B(p), O: V("y")}},
				Head: Pattern{S: V("y"), P: B(q), O: V("x")},
			})
		}
	}

	return out, nil
}

func idKey(id ids.ID) string {
	const hex = "0123456789abcdef"
	if id == 0 {
		return "0"
	}
	buf := make([]byte, 0, 16)
	for id > 0 {
		buf = append([]byte{hex[id&0xF]}, buf...)
		id >>= 4
	}
	return string(buf)
}
