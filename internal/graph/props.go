package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
)

// PropKind tags the variant held by a PropValue.
type PropKind uint8

const (
	KindNone PropKind = iota
	KindInt
	KindString
	KindBool
	KindStrings
)

func (k PropKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindStrings:
		return "strings"
	default:
		return fmt.Sprintf("PropKind(%d)", uint8(k))
	}
}

// PropValue is a tagged union over the property types a vertex may carry:
// integers, strings, booleans, ordered string lists, and the empty optional.
// The zero value is None.
type PropValue struct {
	kind PropKind
	i    int64
	s    string
	b    bool
	l    []string
}

func Int(n int64) PropValue     { return PropValue{kind: KindInt, i: n} }
func String(s string) PropValue { return PropValue{kind: KindString, s: s} }
func Bool(b bool) PropValue     { return PropValue{kind: KindBool, b: b} }
func None() PropValue           { return PropValue{} }

// Strings returns a list value. The slice is copied.
func Strings(items ...string) PropValue {
	return PropValue{kind: KindStrings, l: slices.Clone(items)}
}

func (p PropValue) Kind() PropKind { return p.kind }
func (p PropValue) IsNone() bool   { return p.kind == KindNone }

func (p PropValue) AsInt() (int64, bool)     { return p.i, p.kind == KindInt }
func (p PropValue) AsString() (string, bool) { return p.s, p.kind == KindString }
func (p PropValue) AsBool() (bool, bool)     { return p.b, p.kind == KindBool }

func (p PropValue) AsStrings() ([]string, bool) {
	if p.kind != KindStrings {
		return nil, false
	}
	return slices.Clone(p.l), true
}

// Equal reports whether both values hold the same variant and payload.
func (p PropValue) Equal(o PropValue) bool {
	if p.kind != o.kind {
		return false
	}
	switch p.kind {
	case KindInt:
		return p.i == o.i
	case KindString:
		return p.s == o.s
	case KindBool:
		return p.b == o.b
	case KindStrings:
		return slices.Equal(p.l, o.l)
	default:
		return true
	}
}

func (p PropValue) String() string {
	switch p.kind {
	case KindInt:
		return fmt.Sprintf("%d", p.i)
	case KindString:
		return p.s
	case KindBool:
		return fmt.Sprintf("%t", p.b)
	case KindStrings:
		return fmt.Sprintf("%v", p.l)
	default:
		return "<none>"
	}
}

// Native returns the plain Go value used as a driver parameter:
// int64, string, bool, []string, or nil for None.
func (p PropValue) Native() any {
	switch p.kind {
	case KindInt:
		return p.i
	case KindString:
		return p.s
	case KindBool:
		return p.b
	case KindStrings:
		return slices.Clone(p.l)
	default:
		return nil
	}
}

// FromNative converts a value decoded by a backend driver back into a
// PropValue. Integral floating point numbers widen to integers, which is how
// JSON-speaking backends hand numbers back.
func FromNative(v any) (PropValue, error) {
	switch x := v.(type) {
	case nil:
		return None(), nil
	case PropValue:
		return x, nil
	case int64:
		return Int(x), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return None(), fmt.Errorf("prop: uint64 %d overflows int64", x)
		}
		return Int(int64(x)), nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return None(), fmt.Errorf("prop: non-integral number %v", x)
		}
		return Int(int64(x)), nil
	case float32:
		return FromNative(float64(x))
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return None(), fmt.Errorf("prop: number %q: %w", x, err)
		}
		return Int(n), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case []string:
		return Strings(x...), nil
	case []any:
		items := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return None(), fmt.Errorf("prop: list element %T is not a string", e)
			}
			items = append(items, s)
		}
		return Strings(items...), nil
	default:
		return None(), fmt.Errorf("prop: unsupported native type %T", v)
	}
}

// taggedValue is the JSON form of a PropValue. Exactly one field is set;
// None marshals as null.
type taggedValue struct {
	Int  *int64   `json:"int,omitempty"`
	Str  *string  `json:"str,omitempty"`
	Bool *bool    `json:"bool,omitempty"`
	List []string `json:"list,omitempty"`
}

var jsonNull = []byte("null")

// MarshalJSON encodes the value in its tagged form.
func (p PropValue) MarshalJSON() ([]byte, error) {
	var t taggedValue
	switch p.kind {
	case KindNone:
		return jsonNull, nil
	case KindInt:
		t.Int = &p.i
	case KindString:
		t.Str = &p.s
	case KindBool:
		t.Bool = &p.b
	case KindStrings:
		t.List = p.l
		if t.List == nil {
			t.List = []string{}
		}
		return json.Marshal(struct {
			List []string `json:"list"`
		}{t.List})
	}
	return json.Marshal(t)
}

// UnmarshalJSON decodes the tagged form produced by MarshalJSON.
func (p *PropValue) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		*p = None()
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("prop: decode: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("prop: expected exactly one tag, got %d", len(raw))
	}
	for tag, body := range raw {
		switch tag {
		case "int":
			var n int64
			if err := json.Unmarshal(body, &n); err != nil {
				return fmt.Errorf("prop: decode int: %w", err)
			}
			*p = Int(n)
		case "str":
			var s string
			if err := json.Unmarshal(body, &s); err != nil {
				return fmt.Errorf("prop: decode str: %w", err)
			}
			*p = String(s)
		case "bool":
			var b bool
			if err := json.Unmarshal(body, &b); err != nil {
				return fmt.Errorf("prop: decode bool: %w", err)
			}
			*p = Bool(b)
		case "list":
			var l []string
			if err := json.Unmarshal(body, &l); err != nil {
				return fmt.Errorf("prop: decode list: %w", err)
			}
			*p = Strings(l...)
		default:
			return fmt.Errorf("prop: unknown tag %q", tag)
		}
	}
	return nil
}

// Props is a vertex's property map.
type Props map[string]PropValue

// Get returns the value for key, or None.
func (p Props) Get(key string) PropValue {
	if p == nil {
		return None()
	}
	return p[key]
}

// String returns the string property for key, or "".
func (p Props) String(key string) string {
	s, _ := p.Get(key).AsString()
	return s
}

// Int returns the integer property for key, or 0.
func (p Props) Int(key string) int64 {
	n, _ := p.Get(key).AsInt()
	return n
}

// Keys returns the property keys in sorted order.
func (p Props) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (p Props) Clone() Props {
	out := make(Props, len(p))
	for k, v := range p {
		if v.kind == KindStrings {
			v.l = slices.Clone(v.l)
		}
		out[k] = v
	}
	return out
}

// Equal reports whether both maps hold the same keys and values. A key
// mapped to None is treated as absent.
func (p Props) Equal(o Props) bool {
	for k, v := range p {
		if !v.Equal(o.Get(k)) {
			return false
		}
	}
	for k, v := range o {
		if !v.Equal(p.Get(k)) {
			return false
		}
	}
	return true
}

// NativeMap returns the properties as plain Go values, omitting None.
func (p Props) NativeMap() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		if v.IsNone() {
			continue
		}
		out[k] = v.Native()
	}
	return out
}

// PropsFromNative converts a native map, as returned by a driver, into Props.
func PropsFromNative(m map[string]any) (Props, error) {
	out := make(Props, len(m))
	for k, v := range m {
		pv, err := FromNative(v)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", k, err)
		}
		if pv.IsNone() {
			continue
		}
		out[k] = pv
	}
	return out, nil
}

// MarshalProps encodes props in the tagged JSON form stored by blob backends.
func MarshalProps(p Props) ([]byte, error) {
	if p == nil {
		p = Props{}
	}
	return json.Marshal(p)
}

// UnmarshalProps decodes the tagged JSON form written by MarshalProps.
func UnmarshalProps(data []byte) (Props, error) {
	p := Props{}
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	for k, v := range p {
		if v.IsNone() {
			delete(p, k)
		}
	}
	return p, nil
}
