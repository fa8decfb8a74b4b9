package flatten

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/therealutkarshpriyadarshi/logbridge/pkg/types"
)

const hexDigits = "0123456789abcdef"

// JSON serializes v as JSON text with ", " and ": " separators and every
// non-ASCII character escaped, preserving object member order.
func JSON(v types.Value) string {
	var sb strings.Builder
	writeJSON(&sb, v)
	return sb.String()
}

func writeJSON(sb *strings.Builder, v types.Value) {
	switch v.Kind() {
	case types.KindNull:
		sb.WriteString("null")
	case types.KindBool:
		if v.Bool() {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case types.KindInteger:
		sb.WriteString(formatInteger(v.Text()))
	case types.KindFloat:
		f := v.Float()
		switch {
		case math.IsNaN(f):
			sb.WriteString("NaN")
		case math.IsInf(f, 1):
			sb.WriteString("Infinity")
		case math.IsInf(f, -1):
			sb.WriteString("-Infinity")
		default:
			sb.WriteString(formatFloat(f))
		}
	case types.KindString:
		writeString(sb, v.Text())
	case types.KindArray:
		sb.WriteByte('[')
		for i, item := range v.Items() {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeJSON(sb, item)
		}
		sb.WriteByte(']')
	case types.KindObject:
		sb.WriteByte('{')
		for i, m := range v.Members() {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeString(sb, m.Key)
			sb.WriteString(": ")
			writeJSON(sb, m.Value)
		}
		sb.WriteByte('}')
	}
}

func writeString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		default:
			switch {
			case r >= 0x20 && r < 0x7f:
				sb.WriteRune(r)
			case r > 0xffff:
				// Encode as a UTF-16 surrogate pair.
				r -= 0x10000
				writeEscape(sb, 0xd800+(r>>10)&0x3ff)
				writeEscape(sb, 0xdc00+r&0x3ff)
			case r == utf8.RuneError:
				writeEscape(sb, 0xfffd)
			default:
				writeEscape(sb, r)
			}
		}
	}
	sb.WriteByte('"')
}

func writeEscape(sb *strings.Builder, r rune) {
	sb.WriteString(`\u`)
	sb.WriteByte(hexDigits[(r>>12)&0xf])
	sb.WriteByte(hexDigits[(r>>8)&0xf])
	sb.WriteByte(hexDigits[(r>>4)&0xf])
	sb.WriteByte(hexDigits[r&0xf])
}
