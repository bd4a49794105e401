package model

import (
	"strconv"
	"strings"
)

// Kind identifies which member of a Value is populated.
type Kind uint8

const (
	// KindMissing is the zero Kind: the field was absent.
	KindMissing Kind = iota
	KindString
	KindList
	KindInt
	KindFloat
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is one typed cell. The zero Value is the missing marker, which is
// distinct from an empty string, an empty list and zero.
type Value struct {
	Kind  Kind
	Str   string
	List  []string
	Int   int64
	Float float64
	Bool  bool

	// Raw is the source text the value was decoded from.
	Raw string
	// Malformed is set when Raw did not match the field's declared type;
	// the value then carries Raw as a KindString.
	Malformed bool
}

// Missing returns the missing marker.
func Missing() Value { return Value{} }

func StringValue(s string) Value { return Value{Kind: KindString, Str: s, Raw: s} }

func IntValue(n int64, raw string) Value { return Value{Kind: KindInt, Int: n, Raw: raw} }

func FloatValue(f float64, raw string) Value { return Value{Kind: KindFloat, Float: f, Raw: raw} }

func BoolValue(b bool, raw string) Value { return Value{Kind: KindBool, Bool: b, Raw: raw} }

// ListValue copies items into a list value. An empty item list yields the
// missing marker.
func ListValue(items []string, raw string) Value {
	if len(items) == 0 {
		return Missing()
	}
	cp := make([]string, len(items))
	copy(cp, items)
	return Value{Kind: KindList, List: cp, Raw: raw}
}

// MalformedValue records raw text that failed its type policy.
func MalformedValue(raw string) Value {
	return Value{Kind: KindString, Str: raw, Raw: raw, Malformed: true}
}

// IsMissing reports whether v is the missing marker.
func (v Value) IsMissing() bool { return v.Kind == KindMissing }

// Numeric returns the value as float64 when it is a well-typed number.
func (v Value) Numeric() (float64, bool) {
	if v.Malformed {
		return 0, false
	}
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

// Strings returns the grouping keys contributed by v: one per list item,
// one for a scalar, none when missing.
func (v Value) Strings() []string {
	switch v.Kind {
	case KindMissing:
		return nil
	case KindList:
		return v.List
	default:
		return []string{v.String()}
	}
}

// First returns the single representative of v. For lists this is the
// first-seen item.
func (v Value) First() (string, bool) {
	s := v.Strings()
	if len(s) == 0 {
		return "", false
	}
	return s[0], true
}

// String renders v as text. Lists are joined with ", ".
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindList:
		return strings.Join(v.List, ", ")
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}

// Equal compares two values by kind and payload, ignoring Raw.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind || v.Malformed != o.Malformed {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if v.List[i] != o.List[i] {
				return false
			}
		}
		return true
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindBool:
		return v.Bool == o.Bool
	default:
		return true
	}
}
