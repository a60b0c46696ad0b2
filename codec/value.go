// Package codec implements the class-hinted JSON object model used on the bus.
//
// Every payload is a dynamic Value tree. A Value is one of: null, bool, number
// (integer or double), string, array, object, or a tagged value carrying a
// class hint. Tagged values serialize to the reserved two-key object form:
//
//	{"__c": "<hint>", "__p": <payload>}
//
// The hint ↔ class-name mapping lives in a process-wide registry so that
// decoders can reify typed objects without compile-time knowledge of them.
package codec

import (
	"fmt"
	"sort"
)

// Kind discriminates the Value union.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Int
	Float
	String
	Array
	Object
	Tagged
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	case Tagged:
		return "tagged"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a node in a decoded payload tree. The zero value is JSON null.
//
// Values are not safe for concurrent mutation; the session layer hands each
// decoded tree to exactly one owner.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string            // string content, or the class hint for Tagged
	arr  []*Value          // Array elements
	obj  map[string]*Value // Object members
	pay  *Value            // Tagged payload, nil encodes as null
}

// NewNull returns the null value.
func NewNull() *Value { return &Value{kind: Null} }

// NewBool returns a boolean value.
func NewBool(b bool) *Value { return &Value{kind: Bool, b: b} }

// NewInt returns an integer number value.
func NewInt(i int64) *Value { return &Value{kind: Int, i: i} }

// NewFloat returns a double number value.
func NewFloat(f float64) *Value { return &Value{kind: Float, f: f} }

// NewString returns a string value.
func NewString(s string) *Value { return &Value{kind: String, s: s} }

// NewArray returns an array value holding the given elements.
func NewArray(elems ...*Value) *Value {
	return &Value{kind: Array, arr: elems}
}

// NewObject returns an empty object value.
func NewObject() *Value {
	return &Value{kind: Object, obj: make(map[string]*Value)}
}

// NewTagged returns a tagged value with the given class hint and payload.
// A nil payload stands for null.
func NewTagged(hint string, payload *Value) *Value {
	return &Value{kind: Tagged, s: hint, pay: payload}
}

// Kind reports which variant this value holds.
func (v *Value) Kind() Kind {
	if v == nil {
		return Null
	}
	return v.kind
}

// IsNull reports whether the value is null.
func (v *Value) IsNull() bool { return v == nil || v.kind == Null }

// Bool returns the boolean content, false for any other kind.
func (v *Value) Bool() bool { return v != nil && v.kind == Bool && v.b }

// Int returns the numeric content as int64. Doubles are truncated.
func (v *Value) Int() int64 {
	if v == nil {
		return 0
	}
	switch v.kind {
	case Int:
		return v.i
	case Float:
		return int64(v.f)
	}
	return 0
}

// Float returns the numeric content as float64.
func (v *Value) Float() float64 {
	if v == nil {
		return 0
	}
	switch v.kind {
	case Int:
		return float64(v.i)
	case Float:
		return v.f
	}
	return 0
}

// Str returns the string content, "" for any other kind.
func (v *Value) Str() string {
	if v != nil && v.kind == String {
		return v.s
	}
	return ""
}

// Len returns the element count of an array or the member count of an object.
func (v *Value) Len() int {
	if v == nil {
		return 0
	}
	switch v.kind {
	case Array:
		return len(v.arr)
	case Object:
		return len(v.obj)
	}
	return 0
}

// Index returns the i-th element of an array, nil if out of range.
func (v *Value) Index(i int) *Value {
	if v == nil || v.kind != Array || i < 0 || i >= len(v.arr) {
		return nil
	}
	return v.arr[i]
}

// Append adds an element to an array value.
func (v *Value) Append(elem *Value) {
	if v.kind == Array {
		v.arr = append(v.arr, elem)
	}
}

// Get returns an object member, nil if absent or not an object.
func (v *Value) Get(key string) *Value {
	if v == nil || v.kind != Object {
		return nil
	}
	return v.obj[key]
}

// Set stores an object member.
func (v *Value) Set(key string, member *Value) {
	if v.kind == Object {
		if v.obj == nil {
			v.obj = make(map[string]*Value)
		}
		v.obj[key] = member
	}
}

// Keys returns object member names in sorted order.
func (v *Value) Keys() []string {
	if v == nil || v.kind != Object {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Hint returns the class hint of a tagged value, "" otherwise.
func (v *Value) Hint() string {
	if v != nil && v.kind == Tagged {
		return v.s
	}
	return ""
}

// ClassName returns the logical class name registered for this tagged
// value's hint, or the raw hint when no registration exists.
func (v *Value) ClassName() string {
	if v == nil || v.kind != Tagged {
		return ""
	}
	if name, ok := ClassForHint(v.s); ok {
		return name
	}
	return v.s
}

// Payload returns the payload of a tagged value. Always non-nil for tagged
// values: an absent payload reads as null.
func (v *Value) Payload() *Value {
	if v == nil || v.kind != Tagged {
		return nil
	}
	if v.pay == nil {
		return NewNull()
	}
	return v.pay
}

// Equal reports deep structural equality. Int and Float compare unequal even
// when numerically equal, mirroring the wire distinction.
func (v *Value) Equal(o *Value) bool {
	if v.IsNull() && o.IsNull() {
		return true
	}
	if v == nil || o == nil || v.kind != o.kind {
		return false
	}
	switch v.kind {
	case Bool:
		return v.b == o.b
	case Int:
		return v.i == o.i
	case Float:
		return v.f == o.f
	case String:
		return v.s == o.s
	case Array:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, m := range v.obj {
			om, ok := o.obj[k]
			if !ok || !m.Equal(om) {
				return false
			}
		}
		return true
	case Tagged:
		return v.s == o.s && v.Payload().Equal(o.Payload())
	}
	return true
}

// FromAny converts native Go data into a Value tree. Supported inputs are
// nil, bool, all integer and float types, string, []any, map[string]any,
// and *Value itself (passed through).
func FromAny(in any) (*Value, error) {
	switch t := in.(type) {
	case nil:
		return NewNull(), nil
	case *Value:
		if t == nil {
			return NewNull(), nil
		}
		return t, nil
	case bool:
		return NewBool(t), nil
	case int:
		return NewInt(int64(t)), nil
	case int8:
		return NewInt(int64(t)), nil
	case int16:
		return NewInt(int64(t)), nil
	case int32:
		return NewInt(int64(t)), nil
	case int64:
		return NewInt(t), nil
	case uint:
		return NewInt(int64(t)), nil
	case uint8:
		return NewInt(int64(t)), nil
	case uint16:
		return NewInt(int64(t)), nil
	case uint32:
		return NewInt(int64(t)), nil
	case uint64:
		return NewInt(int64(t)), nil
	case float32:
		return NewFloat(float64(t)), nil
	case float64:
		return NewFloat(t), nil
	case string:
		return NewString(t), nil
	case []any:
		arr := NewArray()
		for _, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return nil, err
			}
			arr.Append(ev)
		}
		return arr, nil
	case map[string]any:
		obj := NewObject()
		for k, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return nil, err
			}
			obj.Set(k, ev)
		}
		return obj, nil
	}
	return nil, fmt.Errorf("codec: unsupported native type %T", in)
}

// Interface converts a Value tree back into native Go data: nil, bool,
// int64, float64, string, []any, or map[string]any. Tagged values become
// a two-key map with the reserved keys, matching their wire form.
func (v *Value) Interface() any {
	if v == nil {
		return nil
	}
	switch v.kind {
	case Null:
		return nil
	case Bool:
		return v.b
	case Int:
		return v.i
	case Float:
		return v.f
	case String:
		return v.s
	case Array:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	case Object:
		out := make(map[string]any, len(v.obj))
		for k, m := range v.obj {
			out[k] = m.Interface()
		}
		return out
	case Tagged:
		return map[string]any{
			keyClass:   v.s,
			keyPayload: v.Payload().Interface(),
		}
	}
	return nil
}
