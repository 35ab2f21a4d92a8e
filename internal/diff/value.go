package diff

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Value is a sealed tagged value. Only Null, Bool, Number, String, List and
// Map implement it.
type Value interface {
	kind() Kind
}

type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

type Null struct{}

func (Null) kind() Kind { return KindNull }

type Bool bool

func (Bool) kind() Kind { return KindBool }

// Number keeps every numeric source kind as float64 so that an int read from
// Go code and a float64 decoded from a JSON column compare equal. Integers
// beyond 2^53 are rounded, as they already are once stored in a JSON column.
type Number float64

func (Number) kind() Kind { return KindNumber }

type String string

func (String) kind() Kind { return KindString }

type List []Value

func (List) kind() Kind { return KindList }

type Map map[string]Value

func (Map) kind() Kind { return KindMap }

// KindOf reports the tag of v. A nil Value is Null.
func KindOf(v Value) Kind {
	if v == nil {
		return KindNull
	}
	return v.kind()
}

// SortedKeys returns the map keys in lexical order.
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromAny converts a decoded JSON value or a plain Go value into a Value.
// Structs and unknown kinds go through encoding/json so their json tags are
// honoured. Nil slices and maps are Null, distinct from empty ones.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null{}
	case Value:
		return t
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int8:
		return Number(float64(t))
	case int16:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint:
		return Number(float64(t))
	case uint8:
		return Number(float64(t))
	case uint16:
		return Number(float64(t))
	case uint32:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case []any:
		if t == nil {
			return Null{}
		}
		out := make(List, len(t))
		for i, item := range t {
			out[i] = FromAny(item)
		}
		return out
	case []string:
		if t == nil {
			return Null{}
		}
		out := make(List, len(t))
		for i, item := range t {
			out[i] = String(item)
		}
		return out
	case map[string]any:
		if t == nil {
			return Null{}
		}
		out := make(Map, len(t))
		for k, item := range t {
			out[k] = FromAny(item)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null{}
		}
		return FromAny(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null{}
		}
		out := make(List, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = FromAny(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return Null{}
		}
		if rv.Type().Key().Kind() == reflect.String {
			out := make(Map, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				out[iter.Key().String()] = FromAny(iter.Value().Interface())
			}
			return out
		}
	case reflect.String:
		return String(rv.String())
	case reflect.Bool:
		return Bool(rv.Bool())
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return String(fmt.Sprint(v))
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return String(string(raw))
	}
	return FromAny(decoded)
}

// ToAny converts a Value back into plain JSON-compatible Go values.
func ToAny(v Value) any {
	switch t := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(t)
	case Number:
		return float64(t)
	case String:
		return string(t)
	case List:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ToAny(item)
		}
		return out
	case Map:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = ToAny(item)
		}
		return out
	default:
		return nil
	}
}

// Equal reports structural equality. Lists compare by position, maps by key
// set and values.
func Equal(a, b Value) bool {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		return false
	}
	switch ka {
	case KindNull:
		return true
	case KindBool:
		return a.(Bool) == b.(Bool)
	case KindNumber:
		x, y := float64(a.(Number)), float64(b.(Number))
		if math.IsNaN(x) && math.IsNaN(y) {
			return true
		}
		return x == y
	case KindString:
		return a.(String) == b.(String)
	case KindList:
		la, lb := a.(List), b.(List)
		if len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !Equal(la[i], lb[i]) {
				return false
			}
		}
		return true
	case KindMap:
		ma, mb := a.(Map), b.(Map)
		if len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !Equal(va, vb) {
				return false
			}
		}
		return true
	}
	return false
}

// Format renders v in a compact, deterministic JSON-like form for logs.
func Format(v Value) string {
	var sb strings.Builder
	format(&sb, v)
	return sb.String()
}

func format(sb *strings.Builder, v Value) {
	switch t := v.(type) {
	case nil, Null:
		sb.WriteString("null")
	case Bool:
		sb.WriteString(strconv.FormatBool(bool(t)))
	case Number:
		sb.WriteString(strconv.FormatFloat(float64(t), 'g', -1, 64))
	case String:
		sb.WriteString(strconv.Quote(string(t)))
	case List:
		sb.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			format(sb, item)
		}
		sb.WriteByte(']')
	case Map:
		sb.WriteByte('{')
		for i, k := range t.SortedKeys() {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			format(sb, t[k])
		}
		sb.WriteByte('}')
	}
}
