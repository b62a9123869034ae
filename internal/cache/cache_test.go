package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kvgraph/triplestore/internal/ids"
)

func TestNumericRangeKeyRoundTrips(t *testing.T) {
	key := EncodeNumericRangeKey(ids.ID(7), ids.ID(42), ids.ID(9001))
	p, v, s := DecodeNumericRangeKey(key)
	require.Equal(t, ids.ID(7), p)
	require.Equal(t, ids.ID(42), v)
	require.Equal(t, ids.ID(9001), s)
}

func TestQueryResultCacheInvalidatesOnlyTouchedPredicate(t *testing.T) {
	c, err := NewQueryResultCache(8, time.Minute, 100, nil)
	require.NoError(t, err)

	predA, predB := ids.ID(1), ids.ID(2)
	c.Put("q1", [][]ids.ID{{1, 2}}, map[ids.ID]struct{}{predA: {}})
	c.Put("q2", [][]ids.ID{{3, 4}}, map[ids.ID]struct{}{predB: {}})

	c.InvalidatePredicate(predA)

	_, ok := c.Get("q1")
	require.False(t, ok)
	rows, ok := c.Get("q2")
	require.True(t, ok)
	require.Equal(t, [][]ids.ID{{3, 4}}, rows)
}

func TestQueryResultCacheExpiresByTTL(t *testing.T) {
	c, err := NewQueryResultCache(8, time.Millisecond, 100, nil)
	require.NoError(t, err)
	c.Put("q1", [][]ids.ID{{1}}, nil)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("q1")
	require.False(t, ok)
}

func TestQueryResultCacheSkipsOversizeResults(t *testing.T) {
	c, err := NewQueryResultCache(8, time.Minute, 1, nil)
	require.NoError(t, err)
	c.Put("q1", [][]ids.ID{{1}, {2}}, nil)
	_, ok := c.Get("q1")
	require.False(t, ok)
}

func TestSubjectPropertiesCacheRoundTrips(t *testing.T) {
	c, err := NewSubjectPropertiesCache(8, nil)
	require.NoError(t, err)
	subj := ids.ID(42)
	c.Put(subj, []PropValue{{P: 1, O: 2}})
	got, ok := c.Get(subj)
	require.True(t, ok)
	require.Equal(t, []PropValue{{P: 1, O: 2}}, got)

	c.Invalidate(subj)
	_, ok = c.Get(subj)
	require.False(t, ok)
}

func TestNumericRangeIndexReturnsOnlyInBoundValuesForPredicate(t *testing.T) {
	idx := NewNumericRangeIndex()
	pred, other := ids.ID(10), ids.ID(20)
	idx.Insert(pred, 5, 100)
	idx.Insert(pred, 15, 101)
	idx.Insert(pred, 25, 102)
	idx.Insert(other, 15, 200)

	res := idx.RangeQuery(pred, 10, 20)
	require.Len(t, res, 1)
	require.Equal(t, ids.ID(101), res[0].S)
	require.Equal(t, ids.ID(15), res[0].O)

	idx.Delete(pred, 15, 101)
	res = idx.RangeQuery(pred, 10, 20)
	require.Empty(t, res)
}

// TestNumericRangeIndexOrdersByValueAcrossDecimalScales pins the fix
// for InlineDecimal's payload not being monotonic in value across
// differing scales: 19.99 must sort (and range-filter) between 10 and
// 100 by true numeric value, even though its raw payload packs a
// larger scale nibble than 100's.
func TestNumericRangeIndexOrdersByValueAcrossDecimalScales(t *testing.T) {
	idx := NewNumericRangeIndex()
	pred := ids.ID(10)
	ten, _ := ids.InlineDecimal(10, 0)     // 10
	mid, _ := ids.InlineDecimal(1999, 2)   // 19.99
	hundred, _ := ids.InlineDecimal(100, 0) // 100

	idx.Insert(pred, hundred, 1)
	idx.Insert(pred, mid, 2)
	idx.Insert(pred, ten, 3)

	res := idx.RangeQuery(pred, ten, mid)
	gotSubjects := []ids.ID{}
	for _, r := range res {
		gotSubjects = append(gotSubjects, r.S)
	}
	require.ElementsMatch(t, []ids.ID{2, 3}, gotSubjects)
}
