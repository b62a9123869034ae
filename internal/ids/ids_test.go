package ids

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestInlineIntegerRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		v := rapid.Int64Range(-(int64(1) << 59), int64(1)<<59-1).Draw(rt, "v")
		id, ok := InlineInteger(v)
		require.True(rt, ok)
		require.Equal(rt, TagInlineInteger, id.Tag())
		got, err := DecodeInlineInteger(id)
		require.NoError(rt, err)
		require.Equal(rt, v, got)
	})
}

func TestInlineIntegerOrderPreserved(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.Int64Range(-(int64(1) << 59), int64(1)<<59-1).Draw(rt, "a")
		b := rapid.Int64Range(-(int64(1) << 59), int64(1)<<59-1).Draw(rt, "b")
		idA, _ := InlineInteger(a)
		idB, _ := InlineInteger(b)
		if a < b {
			require.Less(rt, idA.Payload(), idB.Payload())
		} else if a > b {
			require.Greater(rt, idA.Payload(), idB.Payload())
		} else {
			require.Equal(rt, idA.Payload(), idB.Payload())
		}
	})
}

func TestInlineIntegerOverflowFallsBack(t *testing.T) {
	_, ok := InlineInteger(int64(1) << 60)
	require.False(t, ok)
}

func TestInlineDateTimeRoundTrip(t *testing.T) {
	tm := time.Date(2024, 3, 14, 15, 9, 26, 0, time.UTC)
	id, ok := InlineDateTime(tm)
	require.True(t, ok)
	got, err := DecodeInlineDateTime(id)
	require.NoError(t, err)
	require.True(t, tm.Equal(got))
}

func TestInlineDateTimeSubMicrosecondFallsBack(t *testing.T) {
	tm := time.Date(2024, 3, 14, 15, 9, 26, 123, time.UTC) // 123ns, not a multiple of 1000
	_, ok := InlineDateTime(tm)
	require.False(t, ok)
}

func TestInlineDecimalRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		scale := rapid.UintRange(0, maxDecimalScale).Draw(rt, "scale")
		bound := int64(1) << (mantissaBits - 1)
		mantissa := rapid.Int64Range(-bound, bound-1).Draw(rt, "mantissa")
		id, ok := InlineDecimal(mantissa, scale)
		require.True(rt, ok)
		gotM, gotS, err := DecodeInlineDecimal(id)
		require.NoError(rt, err)
		require.Equal(rt, mantissa, gotM)
		require.Equal(rt, scale, gotS)
	})
}

func TestFromSequenceOverflowIsFatal(t *testing.T) {
	_, err := FromSequence(TagIRI, MaxSequence+1)
	require.Error(t, err)
}

func TestFromSequenceWithinBudget(t *testing.T) {
	id, err := FromSequence(TagIRI, 42)
	require.NoError(t, err)
	require.Equal(t, TagIRI, id.Tag())
	require.Equal(t, uint64(42), id.Payload())
}

func TestSortableDoubleBitsPreservesOrder(t *testing.T) {
	// -1.0 < 0.0 < 1.0 in IEEE-754 bit order after the sortable transform.
	neg := SortableDoubleBits(math.Float64bits(-1))
	zero := SortableDoubleBits(math.Float64bits(0))
	pos := SortableDoubleBits(math.Float64bits(1))
	require.Less(t, neg, zero)
	require.Less(t, zero, pos)
}

func TestInlineDoubleRoundTrip(t *testing.T) {
	for _, v := range []float64{0, 1, -1, 2.5, -2.5, 100} {
		id, ok := InlineDouble(v)
		require.True(t, ok, "expected %v to inline", v)
		require.Equal(t, TagInlineDouble, id.Tag())
		got, err := DecodeInlineDouble(id)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestInlineDoubleFallsBackWhenNotExactlyRepresentable(t *testing.T) {
	_, ok := InlineDouble(math.Pi)
	require.False(t, ok)
}

func TestInlineDoubleRejectsNaN(t *testing.T) {
	_, ok := InlineDouble(math.NaN())
	require.False(t, ok)
}

func TestInlineDoubleOrderPreserved(t *testing.T) {
	lo, _ := InlineDouble(-2.5)
	mid, _ := InlineDouble(0)
	hi, _ := InlineDouble(2.5)
	require.Less(t, lo.Payload(), mid.Payload())
	require.Less(t, mid.Payload(), hi.Payload())
}

func TestCompareInlineValueCrossScaleDecimal(t *testing.T) {
	// 19.99 (mantissa=1999, scale=2) must compare less than 100
	// (mantissa=100, scale=0) despite 100's raw payload packing a
	// smaller scale nibble ahead of a smaller mantissa.
	small, ok := InlineDecimal(1999, 2)
	require.True(t, ok)
	big, ok := InlineDecimal(100, 0)
	require.True(t, ok)
	require.Less(t, CompareInlineValue(small, big), 0)
	require.Greater(t, CompareInlineValue(big, small), 0)
}

func TestCompareInlineValueCrossType(t *testing.T) {
	intID, _ := InlineInteger(5)
	decID, _ := InlineDecimal(450, 2) // 4.50
	require.Greater(t, CompareInlineValue(intID, decID), 0)
	require.Less(t, CompareInlineValue(decID, intID), 0)
}

func TestDistinctIDsNeverCollide(t *testing.T) {
	seen := map[ID]bool{}
	for i := int64(0); i < 1000; i++ {
		id, ok := InlineInteger(i)
		require.True(t, ok)
		require.False(t, seen[id])
		seen[id] = true
	}
	for i := uint64(0); i < 1000; i++ {
		id, err := FromSequence(TagIRI, i)
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
	}
}
