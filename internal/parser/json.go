package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/therealutkarshpriyadarshi/logbridge/pkg/types"
)

// ErrUnpairedSurrogate is returned for a \u escape naming half of a UTF-16
// surrogate pair with no matching half. Such text has no UTF-8 form.
var ErrUnpairedSurrogate = errors.New("unpaired surrogate escape")

// JSONParser parses JSON-lines records into the closed Value variant
type JSONParser struct {
	pool fastjson.ParserPool
}

// NewJSONParser creates a new JSON parser
func NewJSONParser() *JSONParser {
	return &JSONParser{}
}

// Parse parses a JSON log line. The top-level value must be an object.
// Only strict JSON is accepted: NaN and Infinity literals, malformed numbers
// such as +1 or 01, and unpaired surrogate escapes are all errors.
func (p *JSONParser) Parse(line string) (types.Record, error) {
	if strings.TrimSpace(line) == "" {
		return types.Record{}, ErrEmptyLine
	}

	// Parse alone tolerates non-standard numbers, so validate first.
	if err := fastjson.Validate(line); err != nil {
		return types.Record{}, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if err := checkSurrogates(line); err != nil {
		return types.Record{}, fmt.Errorf("failed to parse JSON: %w", err)
	}

	fp := p.pool.Get()
	defer p.pool.Put(fp)

	v, err := fp.Parse(line)
	if err != nil {
		return types.Record{}, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if v.Type() != fastjson.TypeObject {
		return types.Record{}, fmt.Errorf("%w: got %s", ErrNotObject, v.Type())
	}

	// fastjson values point into parser-owned memory; convert copies them out
	// before the parser goes back to the pool.
	val, err := convert(v)
	if err != nil {
		return types.Record{}, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return types.Record{Value: val}, nil
}

// Name returns the parser name
func (p *JSONParser) Name() string {
	return "json"
}

func convert(v *fastjson.Value) (types.Value, error) {
	switch v.Type() {
	case fastjson.TypeNull:
		return types.Null(), nil
	case fastjson.TypeTrue:
		return types.Bool(true), nil
	case fastjson.TypeFalse:
		return types.Bool(false), nil
	case fastjson.TypeString:
		return types.String(string(v.GetStringBytes())), nil
	case fastjson.TypeNumber:
		raw := v.String()
		if isIntegerLiteral(raw) {
			return types.Integer(raw), nil
		}
		f, err := v.Float64()
		if err != nil {
			return types.Value{}, err
		}
		return types.Float(f), nil
	case fastjson.TypeArray:
		arr, _ := v.Array()
		items := make([]types.Value, 0, len(arr))
		for _, item := range arr {
			iv, err := convert(item)
			if err != nil {
				return types.Value{}, err
			}
			items = append(items, iv)
		}
		return types.Array(items...), nil
	case fastjson.TypeObject:
		obj, _ := v.Object()
		members := make([]types.Member, 0, obj.Len())
		index := make(map[string]int, obj.Len())
		var err error
		obj.Visit(func(key []byte, val *fastjson.Value) {
			if err != nil {
				return
			}
			mv, cerr := convert(val)
			if cerr != nil {
				err = cerr
				return
			}
			k := string(key)
			// A repeated key keeps its first position and takes the last value.
			if i, ok := index[k]; ok {
				members[i].Value = mv
				return
			}
			index[k] = len(members)
			members = append(members, types.Member{Key: k, Value: mv})
		})
		if err != nil {
			return types.Value{}, err
		}
		return types.Object(members...), nil
	default:
		return types.Value{}, fmt.Errorf("unexpected JSON type %s", v.Type())
	}
}

// checkSurrogates scans the string literals of an already validated line and
// rejects \uD800-\uDFFF escapes that do not form a high/low pair.
func checkSurrogates(line string) error {
	inString := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			continue
		}
		switch c {
		case '"':
			inString = false
		case '\\':
			i++
			if i >= len(line) || line[i] != 'u' {
				continue
			}
			r, ok := hexEscape(line, i+1)
			if !ok {
				continue
			}
			i += 4
			switch {
			case r >= 0xdc00 && r <= 0xdfff:
				return fmt.Errorf("%w: \\u%04x", ErrUnpairedSurrogate, r)
			case r >= 0xd800 && r <= 0xdbff:
				if i+2 >= len(line) || line[i+1] != '\\' || line[i+2] != 'u' {
					return fmt.Errorf("%w: \\u%04x", ErrUnpairedSurrogate, r)
				}
				low, ok := hexEscape(line, i+3)
				if !ok || low < 0xdc00 || low > 0xdfff {
					return fmt.Errorf("%w: \\u%04x", ErrUnpairedSurrogate, r)
				}
				i += 6
			}
		}
	}
	return nil
}

// hexEscape decodes the four hex digits starting at line[at]
func hexEscape(line string, at int) (rune, bool) {
	if at+4 > len(line) {
		return 0, false
	}
	n, err := strconv.ParseUint(line[at:at+4], 16, 16)
	if err != nil {
		return 0, false
	}
	return rune(n), true
}

// isIntegerLiteral reports whether a JSON number has no fraction or exponent
func isIntegerLiteral(s string) bool {
	if strings.HasPrefix(s, "-") {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
