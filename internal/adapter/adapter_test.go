package adapter

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvgraph/triplestore/internal/dictionary"
	"github.com/kvgraph/triplestore/internal/kvstore"
	"github.com/kvgraph/triplestore/internal/telemetry"
	"github.com/kvgraph/triplestore/internal/term"
)

func openTestDict(t *testing.T) *dictionary.Dictionary {
	t.Helper()
	env, err := kvstore.Open(kvstore.Options{Path: filepath.Join(t.TempDir(), "db")}, kvstore.DefaultTableCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	dict, err := dictionary.Open(env, dictionary.DefaultOptions, telemetry.Noop(), nil)
	require.NoError(t, err)
	return dict
}

func TestEncodeTriplesRoundTrips(t *testing.T) {
	a := New(openTestDict(t))
	in := []TripleTerms{
		{S: term.NewIRI("http://ex/s"), P: term.NewIRI("http://ex/p"), O: term.NewPlain("hello")},
	}
	encoded, err := a.EncodeTriples(in)
	require.NoError(t, err)
	require.Len(t, encoded, 1)

	decoded, err := a.DecodeTriples(encoded)
	require.NoError(t, err)
	require.True(t, in[0].S.Equal(decoded[0].S))
	require.True(t, in[0].P.Equal(decoded[0].P))
	require.True(t, in[0].O.Equal(decoded[0].O))
}

func TestEncodeTriplesInlineNumericNeverAllocatesDictionaryRow(t *testing.T) {
	a := New(openTestDict(t))
	in := []TripleTerms{
		{S: term.NewIRI("http://ex/s"), P: term.NewIRI("http://ex/age"), O: term.NewNumeric("42", term.XSDInteger, term.NumInteger)},
	}
	encoded, err := a.EncodeTriples(in)
	require.NoError(t, err)
	require.True(t, encoded[0].O.IsInline())

	decoded, err := a.DecodeTriples(encoded)
	require.NoError(t, err)
	require.Equal(t, "42", decoded[0].O.Lexical())
}

func TestLookupTriplesReportsNotFoundWithoutAllocating(t *testing.T) {
	a := New(openTestDict(t))
	missing := []TripleTerms{
		{S: term.NewIRI("http://ex/unknown-s"), P: term.NewIRI("http://ex/unknown-p"), O: term.NewPlain("unknown")},
	}
	_, ok, err := a.LookupTriples(missing)
	require.NoError(t, err)
	require.False(t, ok[0])
}
