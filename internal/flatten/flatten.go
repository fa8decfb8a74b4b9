// Package flatten turns a decoded record into the string-only key/value form
// that stream sinks store natively.
//
// Scalars keep their natural text: strings as-is, booleans as "True"/"False",
// numbers in their canonical decimal form. Null, arrays and objects are
// serialized back to JSON text so nested structure survives as a string.
// Rendering follows the conventions existing stream consumers already parse
// (capitalised booleans, "1.0" style floats, json.dumps style separators).
package flatten

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/logbridge/pkg/types"
)

// ErrNotObject is returned when asked to flatten a record that is not an object
var ErrNotObject = errors.New("flatten: record is not an object")

// Record flattens every top-level member of rec into a string field.
// An empty object yields an empty FlatRecord.
func Record(rec types.Record) (types.FlatRecord, error) {
	if rec.Kind() != types.KindObject {
		return nil, ErrNotObject
	}

	members := rec.Members()
	flat := make(types.FlatRecord, 0, len(members))
	for _, m := range members {
		flat = append(flat, types.Field{Key: m.Key, Value: Value(m.Value)})
	}
	return flat, nil
}

// Value renders a single value as stored in a flat record
func Value(v types.Value) string {
	switch v.Kind() {
	case types.KindString:
		return v.Text()
	case types.KindBool:
		if v.Bool() {
			return "True"
		}
		return "False"
	case types.KindInteger:
		return formatInteger(v.Text())
	case types.KindFloat:
		return formatFloat(v.Float())
	default:
		return JSON(v)
	}
}

func formatInteger(digits string) string {
	if digits == "-0" {
		return "0"
	}
	return digits
}

// formatFloat produces the shortest text that round-trips, in fixed notation
// for decimal exponents in [-4, 16) and exponent notation otherwise. Integral
// values in fixed notation keep a ".0" suffix.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}

	e := strconv.FormatFloat(f, 'e', -1, 64)
	exp, _ := strconv.Atoi(e[strings.IndexByte(e, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return e
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}
