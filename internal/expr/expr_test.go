package expr

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kvgraph/triplestore/internal/term"
)

func TestAndOrTruthTables(t *testing.T) {
	require.Equal(t, BFalse, And(BFalse, BError))
	require.Equal(t, BError, And(BTrue, BError))
	require.Equal(t, BTrue, Or(BTrue, BError))
	require.Equal(t, BError, Or(BFalse, BError))
}

func TestEqualsNormalizesPlainAndXSDString(t *testing.T) {
	a := TermValue(term.NewPlain("hello"))
	b := TermValue(term.NewTypedLiteral("hello", term.XSDString))
	eq, err := Equals(a, b)
	require.NoError(t, err)
	require.Equal(t, BTrue, eq)
}

func TestArithmeticPreservesIntegerType(t *testing.T) {
	a := NumericValue(decimal.NewFromInt(2), term.XSDInteger)
	b := NumericValue(decimal.NewFromInt(3), term.XSDInteger)
	sum, err := Add(a, b)
	require.NoError(t, err)
	require.Equal(t, term.XSDInteger, sum.Term.Datatype())
	require.Equal(t, "5", sum.Term.Lexical())
}

func TestRegexRejectsOversizePattern(t *testing.T) {
	_, err := Regex("abc", "a", "", RegexOptions{MaxPatternLength: 0})
	require.NoError(t, err) // zero length falls back to defaults, "a" is fine
	_, err = Regex("abc", "(a+)+", "", RegexOptions{MaxPatternLength: 1, Timeout: DefaultRegexOptions.Timeout})
	require.Error(t, err)
}
