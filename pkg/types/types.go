package types

// Kind identifies the variant held by a Value
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInteger
	KindFloat
	KindString
	KindArray
	KindObject
)

// String returns the lower-case kind name
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a decoded JSON value. Exactly one payload is meaningful,
// selected by Kind. The zero Value is null.
type Value struct {
	kind    Kind
	boolean bool
	float   float64
	text    string // string payload, or the decimal digits of an integer
	items   []Value
	members []Member
}

// Member is a single key/value pair of an object, in source order
type Member struct {
	Key   string
	Value Value
}

// Null returns the null value
func Null() Value { return Value{} }

// Bool returns a boolean value
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Integer returns an integer value from its decimal text. The text is kept
// verbatim so integers beyond 64 bits survive untouched.
func Integer(digits string) Value { return Value{kind: KindInteger, text: digits} }

// Float returns a floating-point value
func Float(f float64) Value { return Value{kind: KindFloat, float: f} }

// String returns a string value
func String(s string) Value { return Value{kind: KindString, text: s} }

// Array returns an array value
func Array(items ...Value) Value { return Value{kind: KindArray, items: items} }

// Object returns an object value. Members are used as given.
func Object(members ...Member) Value { return Value{kind: KindObject, members: members} }

// Kind returns the variant tag
func (v Value) Kind() Kind { return v.kind }

// Bool returns the boolean payload
func (v Value) Bool() bool { return v.boolean }

// Float returns the floating-point payload
func (v Value) Float() float64 { return v.float }

// Text returns the string payload, or the decimal digits of an integer
func (v Value) Text() string { return v.text }

// Items returns the elements of an array
func (v Value) Items() []Value { return v.items }

// Members returns the members of an object in source order
func (v Value) Members() []Member { return v.members }

// Get returns the value stored under key in an object
func (v Value) Get(key string) (Value, bool) {
	for _, m := range v.members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

// Record is one parsed log line. A well-formed record is an object.
type Record struct {
	Value
}

// Field is a single flattened key/value pair
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FlatRecord is the string-only form of a Record handed to a sink
type FlatRecord []Field

// Get returns the value of key
func (r FlatRecord) Get(key string) (string, bool) {
	for _, f := range r {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Map returns the fields as a map
func (r FlatRecord) Map() map[string]string {
	m := make(map[string]string, len(r))
	for _, f := range r {
		m[f.Key] = f.Value
	}
	return m
}

// Pairs returns the fields as alternating keys and values
func (r FlatRecord) Pairs() []interface{} {
	pairs := make([]interface{}, 0, len(r)*2)
	for _, f := range r {
		pairs = append(pairs, f.Key, f.Value)
	}
	return pairs
}
