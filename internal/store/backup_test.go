package store

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/require"

	"github.com/kvgraph/triplestore/internal/adapter"
	"github.com/kvgraph/triplestore/internal/term"
)

func exportAll(t *testing.T, s *Store) []adapter.TripleTerms {
	t.Helper()
	var got []adapter.TripleTerms
	err := s.Export(context.Background(), func(tt adapter.TripleTerms) error {
		got = append(got, tt)
		return nil
	})
	require.NoError(t, err)
	return got
}

// TestBackupRestoreRoundTrips checks that every explicit triple
// survives a Backup into an otherwise-empty store's Restore. deep.Equal
// is used instead of require.Equal so a mismatch (a dropped/reordered
// triple) prints which fields actually differ rather than two opaque
// slice dumps — useful here since a regression would most likely be a
// subtle record-framing bug, not a wholesale failure.
func TestBackupRestoreRoundTrips(t *testing.T) {
	src := openTestStore(t)
	iri := term.NewIRI
	triples := []adapter.TripleTerms{
		{S: iri("http://ex/alice"), P: iri("http://ex/knows"), O: iri("http://ex/bob")},
		{S: iri("http://ex/bob"), P: iri("http://ex/knows"), O: iri("http://ex/carol")},
		{S: iri("http://ex/alice"), P: iri("http://ex/age"), O: term.NewNumeric("42", term.XSDInteger, term.NumInteger)},
	}
	_, err := src.Insert(context.Background(), triples)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.Backup(&buf))

	dst, err := Open(filepath.Join(t.TempDir(), "restored"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dst.Close() })
	require.NoError(t, dst.Restore(&buf))

	want := exportAll(t, src)
	got := exportAll(t, dst)
	if diff := deep.Equal(want, got); diff != nil {
		t.Fatalf("restored triples differ from source: %v", diff)
	}
}

// TestRestoreRejectsTruncatedArchive checks that a truncated archive
// (the trailing checksum, or a full record, cut off mid-stream) fails
// Restore instead of silently applying a partial dataset.
func TestRestoreRejectsTruncatedArchive(t *testing.T) {
	src := openTestStore(t)
	iri := term.NewIRI
	_, err := src.Insert(context.Background(), []adapter.TripleTerms{
		{S: iri("http://ex/a"), P: iri("http://ex/p"), O: iri("http://ex/b")},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.Backup(&buf))
	truncated := buf.Bytes()[:buf.Len()-4]

	dst, err := Open(filepath.Join(t.TempDir(), "restored"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dst.Close() })
	require.Error(t, dst.Restore(bytes.NewReader(truncated)))
}
