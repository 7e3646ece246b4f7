package hrt

import "fmt"

// ValueKind identifies which alternative of Value is populated.
type ValueKind int

const (
	// ValueKindInvalid is the zero value: no value set.
	ValueKindInvalid ValueKind = iota
	ValueKindString
	ValueKindInt32
	ValueKindFloat64
)

func (k ValueKind) String() string {
	switch k {
	case ValueKindInvalid:
		return "invalid"
	case ValueKindString:
		return "string"
	case ValueKindInt32:
		return "int32"
	case ValueKindFloat64:
		return "float64"
	default:
		return "unknown"
	}
}

// Value is a small tagged union over a task argument or result (spec.md
// §6.2): a string, an int32, or a float64. It stands in for the original's
// GValue-typed args/result fields.
type Value struct {
	kind ValueKind
	s    string
	i    int32
	f    float64
}

// StringValue constructs a string-kinded Value.
func StringValue(s string) Value { return Value{kind: ValueKindString, s: s} }

// Int32Value constructs an int32-kinded Value.
func Int32Value(i int32) Value { return Value{kind: ValueKindInt32, i: i} }

// Float64Value constructs a float64-kinded Value.
func Float64Value(f float64) Value { return Value{kind: ValueKindFloat64, f: f} }

// Kind reports which alternative is populated.
func (v Value) Kind() ValueKind { return v.kind }

// IsValid reports whether the value was ever set.
func (v Value) IsValid() bool { return v.kind != ValueKindInvalid }

// String returns the string alternative and whether the kind matched.
func (v Value) String() (string, bool) {
	if v.kind != ValueKindString {
		return "", false
	}
	return v.s, true
}

// Int32 returns the int32 alternative and whether the kind matched.
func (v Value) Int32() (int32, bool) {
	if v.kind != ValueKindInt32 {
		return 0, false
	}
	return v.i, true
}

// Float64 returns the float64 alternative and whether the kind matched.
func (v Value) Float64() (float64, bool) {
	if v.kind != ValueKindFloat64 {
		return 0, false
	}
	return v.f, true
}

// GoString renders the value for debugging/logging.
func (v Value) GoString() string {
	switch v.kind {
	case ValueKindString:
		return fmt.Sprintf("hrt.StringValue(%q)", v.s)
	case ValueKindInt32:
		return fmt.Sprintf("hrt.Int32Value(%d)", v.i)
	case ValueKindFloat64:
		return fmt.Sprintf("hrt.Float64Value(%v)", v.f)
	default:
		return "hrt.Value{}"
	}
}
