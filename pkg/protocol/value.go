// Package protocol defines the exchange types shared by every component:
// the Value variant carried by buffers, session variables, tool calls and
// pipeline results, plus the error taxonomy of the service API.
package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind enumerates the closed set of Value variants.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
	// KindOpaque carries an externally-owned handle (an embedding vector,
	// an adapter result) that the core never inspects.
	KindOpaque
)

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
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// Value is a tagged variant over a small closed set of types. Components
// exchange Values instead of interface{} so that payloads stay serializable
// and deep-comparable.
type Value struct {
	kind   Kind
	b      bool
	i      int64
	f      float64
	s      string
	raw    []byte
	list   []Value
	m      map[string]Value
	opaque interface{}
}

func Null() Value              { return Value{kind: KindNull} }
func Bool(b bool) Value        { return Value{kind: KindBool, b: b} }
func Int(i int64) Value        { return Value{kind: KindInt, i: i} }
func Float(f float64) Value    { return Value{kind: KindFloat, f: f} }
func String(s string) Value    { return Value{kind: KindString, s: s} }
func Bytes(b []byte) Value     { return Value{kind: KindBytes, raw: b} }
func List(vs ...Value) Value   { return Value{kind: KindList, list: vs} }
func Opaque(v interface{}) Value {
	return Value{kind: KindOpaque, opaque: v}
}

// Map builds a map Value. The input map is not copied.
func Map(m map[string]Value) Value {
	if m == nil {
		m = make(map[string]Value)
	}
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() bool              { return v.b }
func (v Value) Int() int64              { return v.i }
func (v Value) Float() float64          { return v.f }
func (v Value) Str() string             { return v.s }
func (v Value) Bytes() []byte           { return v.raw }
func (v Value) List() []Value           { return v.list }
func (v Value) MapValue() map[string]Value { return v.m }
func (v Value) OpaqueValue() interface{}   { return v.opaque }

// Get returns the named entry of a map Value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Null(), false
	}
	val, ok := v.m[key]
	return val, ok
}

// Equal reports deep equality. Opaque values compare by interface equality.
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
	case KindString:
		return v.s == other.s
	case KindBytes:
		if len(v.raw) != len(other.raw) {
			return false
		}
		for i := range v.raw {
			if v.raw[i] != other.raw[i] {
				return false
			}
		}
		return true
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
		if len(v.m) != len(other.m) {
			return false
		}
		for k, val := range v.m {
			ov, ok := other.m[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	case KindOpaque:
		return v.opaque == other.opaque
	}
	return false
}

// Text renders a short human-readable form, used in step contents and
// diff summaries.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindBytes:
		return fmt.Sprintf("<%d bytes>", len(v.raw))
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.Text()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + v.m[k].Text()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindOpaque:
		return fmt.Sprintf("<opaque %T>", v.opaque)
	}
	return ""
}

// FromAny converts a decoded-JSON style interface{} tree into a Value.
// Unsupported types become opaque handles.
func FromAny(val interface{}) Value {
	switch t := val.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float32:
		return Float(float64(t))
	case float64:
		// JSON numbers decode as float64; preserve integral values as ints.
		if t == float64(int64(t)) {
			return Int(int64(t))
		}
		return Float(t)
	case string:
		return String(t)
	case []byte:
		return Bytes(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return List(items...)
	case []Value:
		return List(t...)
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = FromAny(item)
		}
		return Map(m)
	case map[string]Value:
		return Map(t)
	default:
		return Opaque(val)
	}
}

// ToAny converts a Value back into a plain interface{} tree. Opaque values
// surface their handle unchanged.
func (v Value) ToAny() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return v.raw
	case KindList:
		items := make([]interface{}, len(v.list))
		for i, item := range v.list {
			items[i] = item.ToAny()
		}
		return items
	case KindMap:
		m := make(map[string]interface{}, len(v.m))
		for k, item := range v.m {
			m[k] = item.ToAny()
		}
		return m
	case KindOpaque:
		return v.opaque
	}
	return nil
}

// MarshalJSON renders the natural JSON form. Opaque values marshal as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindOpaque {
		return []byte("null"), nil
	}
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON decodes any JSON value into the matching variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// CanonicalJSON returns a deterministic JSON encoding (map keys sorted),
// used for content hashing.
func (v Value) CanonicalJSON() string {
	var buf strings.Builder
	writeCanonical(&buf, v)
	return buf.String()
}

func writeCanonical(buf *strings.Builder, v Value) {
	switch v.kind {
	case KindNull, KindOpaque:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		b, _ := json.Marshal(v.s)
		buf.Write(b)
	case KindBytes:
		b, _ := json.Marshal(v.raw)
		buf.Write(b)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, item)
		}
		buf.WriteByte(']')
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			writeCanonical(buf, v.m[k])
		}
		buf.WriteByte('}')
	}
}
