package dictionary

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kvgraph/triplestore/internal/term"
)

func beUint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

func beBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeCanonical(b string) term.Term {
	t, err := term.DecodeCanonical([]byte(b))
	if err != nil {
		// A corrupt reverse-cache or id_to_term row is a storage
		// invariant violation, not a user-facing parse error; callers
		// that hit this would already be chasing a fatal bug elsewhere,
		// so surface it as an empty IRI rather than panic mid-lookup.
		return term.NewIRI("")
	}
	return t
}

func parseInt(lex string) (int64, error) {
	return strconv.ParseInt(lex, 10, 64)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func parseDateTime(lex string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, lex)
}

func formatDateTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseDecimalParts returns the mantissa/scale pair shopspring/decimal
// uses internally (value == mantissa * 10^-scale), matching the
// encoding ids.InlineDecimal expects.
func parseDecimalParts(lex string) (mantissa int64, scale uint, err error) {
	d, err := decimal.NewFromString(lex)
	if err != nil {
		return 0, 0, err
	}
	exp := d.Exponent()
	if exp > 0 {
		// Normalize a positive exponent (e.g. "1E2") into scale 0 by
		// rescaling the coefficient; InlineDecimal only models scale>=0.
		d = d.Rescale(0)
		exp = 0
	}
	coeff := d.Coefficient()
	if !coeff.IsInt64() {
		return 0, 0, errOverflow
	}
	return coeff.Int64(), uint(-exp), nil
}

func formatDecimalParts(mantissa int64, scale uint) string {
	return decimal.New(mantissa, int32(-scale)).String()
}

func parseDouble(lex string) (float64, error) {
	return strconv.ParseFloat(lex, 64)
}

func formatDouble(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var errOverflow = &overflowError{}

type overflowError struct{}

func (*overflowError) Error() string { return "dictionary: decimal coefficient overflows int64" }
