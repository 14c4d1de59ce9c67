// Package kv defines the value model shared by the engine, the wire codec
// and the client library.
//
// A Value is a closed tagged union over nine kinds: Null, Bool, Int, Float,
// Decimal, String, Bytes, List and Map. Lists and maps may nest. Map keys are
// always strings and maps preserve insertion order.
//
// Values are immutable by convention: the engine and the client never modify
// a Value after construction, so values can be shared across goroutines
// without copying.
package kv

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind identifies which member of the Value union is set.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindDecimal
	KindString
	KindBytes
	KindList
	KindMap
)

// String returns the lowercase kind name used in error messages.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Pair is a single key/value entry of a Map value.
type Pair struct {
	Key   string
	Value Value
}

// Value is a tagged union. The zero value is Null.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	d     decimal.Decimal
	s     string
	raw   []byte
	list  []Value
	pairs []Pair
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns a 64-bit signed integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a 64-bit IEEE-754 value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Dec returns an arbitrary-precision decimal value.
func Dec(d decimal.Decimal) Value { return Value{kind: KindDecimal, d: d} }

// ParseDec parses the canonical string form of a decimal.
func ParseDec(s string) (Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Value{}, fmt.Errorf("kv: invalid decimal %q: %w", s, err)
	}
	return Dec(d), nil
}

// Str returns a UTF-8 string value.
func Str(s string) Value { return Value{kind: KindString, s: s} }

// Bin returns a raw byte sequence value. The slice is not copied.
func Bin(b []byte) Value { return Value{kind: KindBytes, raw: b} }

// ListOf returns an ordered list value.
func ListOf(elems ...Value) Value { return Value{kind: KindList, list: elems} }

// MapOf returns an ordered map value. Insertion order is preserved.
func MapOf(pairs ...Pair) Value { return Value{kind: KindMap, pairs: pairs} }

// Kind reports which union member is set.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean member, with ok=false for other kinds.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Int returns the integer member, with ok=false for other kinds.
func (v Value) Int() (int64, bool) { return v.i, v.kind == KindInt }

// Float returns the float member, with ok=false for other kinds.
func (v Value) Float() (float64, bool) { return v.f, v.kind == KindFloat }

// Dec returns the decimal member, with ok=false for other kinds.
func (v Value) Dec() (decimal.Decimal, bool) { return v.d, v.kind == KindDecimal }

// Str returns the string member, with ok=false for other kinds.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Bin returns the bytes member, with ok=false for other kinds.
func (v Value) Bin() ([]byte, bool) { return v.raw, v.kind == KindBytes }

// List returns the list elements, with ok=false for other kinds.
func (v Value) List() ([]Value, bool) { return v.list, v.kind == KindList }

// Pairs returns the map entries in insertion order, with ok=false for other kinds.
func (v Value) Pairs() ([]Pair, bool) { return v.pairs, v.kind == KindMap }

// MapGet looks up a key in a Map value, scanning in insertion order.
func (v Value) MapGet(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	for _, p := range v.pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return Value{}, false
}

// Equal reports deep structural equality. Decimals compare numerically
// (1.5 equals 1.50), floats compare with ==, maps compare pairwise in
// order. This is the comparison used by compare-and-swap.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindDecimal:
		return v.d.Equal(other.d)
	case KindString:
		return v.s == other.s
	case KindBytes:
		return string(v.raw) == string(other.raw)
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.pairs) != len(other.pairs) {
			return false
		}
		for i := range v.pairs {
			if v.pairs[i].Key != other.pairs[i].Key {
				return false
			}
			if !v.pairs[i].Value.Equal(other.pairs[i].Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Size returns a rough in-memory footprint estimate in bytes, used by the
// engine's memory accounting. It counts payload bytes plus a small fixed
// overhead per node; it does not attempt to be exact.
func (v Value) Size() int {
	const nodeOverhead = 16
	switch v.kind {
	case KindNull, KindBool:
		return nodeOverhead
	case KindInt, KindFloat:
		return nodeOverhead + 8
	case KindDecimal:
		return nodeOverhead + len(v.d.String())
	case KindString:
		return nodeOverhead + len(v.s)
	case KindBytes:
		return nodeOverhead + len(v.raw)
	case KindList:
		n := nodeOverhead
		for _, e := range v.list {
			n += e.Size()
		}
		return n
	case KindMap:
		n := nodeOverhead
		for _, p := range v.pairs {
			n += len(p.Key) + p.Value.Size()
		}
		return n
	default:
		return nodeOverhead
	}
}

// String renders the value for logs and the CLI. Bytes are shown with a
// length only; nested values render recursively.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindDecimal:
		return v.d.String()
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.raw))
	case KindList:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, e := range v.list {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(e.String())
		}
		sb.WriteByte(']')
		return sb.String()
	case KindMap:
		var sb strings.Builder
		sb.WriteByte('{')
		for i, p := range v.pairs {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%q: %s", p.Key, p.Value.String())
		}
		sb.WriteByte('}')
		return sb.String()
	default:
		return v.kind.String()
	}
}
