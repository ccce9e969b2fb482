package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a decoded JSON value from an extraction payload. It is either a
// scalar (string, number, bool, null), a List of values or a Map of values.
//
// The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  json.Number
	b    bool
	list []Value
	m    map[string]Value
}

func String(s string) Value { return Value{kind: KindString, str: s} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Number(n json.Number) Value { return Value{kind: KindNumber, num: n} }
func List(items ...Value) Value { return Value{kind: KindList, list: items} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }
func Int(i int64) Value { return Number(json.Number(fmt.Sprint(i))) }
func Null() Value { return Value{} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsScalar() bool { return v.kind != KindList && v.kind != KindMap }
func (v Value) Items() []Value { return v.list }
func (v Value) Fields() map[string]Value { return v.m }

// Str returns the string payload of a KindString value.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Text returns a scalar's string form. Lists, maps and null report false.
func (v Value) Text() (string, bool) {
	switch v.kind {
	case KindString:
		return v.str, true
	case KindNumber:
		return v.num.String(), true
	case KindBool:
		if v.b {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

// Flatten reduces v to a storage-safe scalar. Strings and booleans are
// returned unchanged, numbers become int64 when integral and float64
// otherwise, lists and maps become their canonical JSON encoding and null
// becomes the string "null".
func (v Value) Flatten() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindNumber:
		return flattenNumber(v.num)
	case KindList, KindMap:
		return v.Canonical()
	default:
		return "null"
	}
}

func flattenNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return n.String()
}

// Canonical returns the canonical JSON encoding of v. Object keys are sorted.
func (v Value) Canonical() string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v.Interface())
	}
	return string(b)
}

// Interface converts v back to plain Go values (map[string]any, []any,
// string, json.Number, bool, nil).
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports whether v and o hold the same value.
func (v Value) Equal(o Value) bool {
	return v.Canonical() == o.Canonical()
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = FromInterface(raw)
	return nil
}

// FromInterface builds a Value from decoded JSON or native Go scalars.
// Types outside the JSON model are coerced to their string representation.
func FromInterface(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case json.Number:
		return Number(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float32:
		return Number(json.Number(fmt.Sprint(t)))
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return String(fmt.Sprint(t))
		}
		return Number(json.Number(fmt.Sprint(t)))
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromInterface(item)
		}
		return List(items...)
	case []string:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = String(item)
		}
		return List(items...)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = FromInterface(item)
		}
		return Map(m)
	default:
		return String(fmt.Sprint(t))
	}
}

// DecodeProperty reads a flattened property back into a Value. Strings that
// hold a JSON array or object decode to List or Map.
func DecodeProperty(p any) Value {
	s, ok := p.(string)
	if !ok {
		return FromInterface(p)
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 || (trimmed[0] != '[' && trimmed[0] != '{') {
		return String(s)
	}
	var v Value
	if err := v.UnmarshalJSON([]byte(trimmed)); err != nil {
		return String(s)
	}
	return v
}
