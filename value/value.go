// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

// Package value implements the JSON-like tagged value model used throughout
// the policy engine: Null, Bool, Num, Text, Array, Object, plus the two
// evaluation-only extensions Undefined (absence) and Error (failed
// evaluation). See Equal, Kind and the Kind-specific constructors.
package value

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
)

// Kind discriminates the tagged variants of Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNum
	KindText
	KindArray
	KindObject
	KindUndefined
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNum:
		return "number"
	case KindText:
		return "text"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindUndefined:
		return "undefined"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Value is the common, immutable representation of every datum flowing
// through the expression evaluator. Construct instances via the
// constructors (Null, Bool, Num, Text, ArrayFromSlice, Error, ...); do not take the zero Value (its Kind is KindNull but it has
// not been through a constructor — prefer Null()).
type Value struct {
	kind Kind

	b   bool
	num *big.Float
	txt string
	arr []Value
	obj *Object
	err *ErrorInfo
}

// ErrorInfo carries an evaluation failure: a human-readable message and an
// optional wrapped cause (another Value, always of KindError, that produced
// this one by propagation).
type ErrorInfo struct {
	Message string
	Cause   *Value
}

func Null() Value      { return Value{kind: KindNull} }
func Undefined() Value { return Value{kind: KindUndefined} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Text(s string) Value { return Value{kind: KindText, txt: s} }

// Num constructs a number value from a float64. Prefer NumFromString or
// NumFromBigFloat when precision beyond float64 matters.
func Num(f float64) Value {
	return Value{kind: KindNum, num: newBig().SetFloat64(f)}
}

// NumFromString parses a decimal literal (as produced by a JSON number
// token) with arbitrary precision. Returns an Error value on a malformed
// literal.
func NumFromString(s string) Value {
	f, ok := newBig().SetString(s)
	if !ok {
		return Errorf("invalid number literal %q", s)
	}
	return Value{kind: KindNum, num: f}
}

func NumFromBigFloat(f *big.Float) Value {
	return Value{kind: KindNum, num: newBig().Copy(f)}
}

func NumFromInt(i int) Value {
	return Value{kind: KindNum, num: newBig().SetInt64(int64(i))}
}

func Array(elems ...Value) Value {
	cp := make([]Value, len(elems))
	copy(cp, elems)
	return Value{kind: KindArray, arr: cp}
}

// ArrayFromSlice takes ownership of elems without copying; callers must not
// mutate elems afterward.
func ArrayFromSlice(elems []Value) Value {
	return Value{kind: KindArray, arr: elems}
}

func ObjectVal(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, obj: o}
}

// Error constructs an Error value with no cause.
func Error(message string) Value {
	return Value{kind: KindError, err: &ErrorInfo{Message: message}}
}

// Errorf is a convenience wrapper around Error + fmt.Sprintf.
func Errorf(format string, args ...interface{}) Value {
	return Error(fmt.Sprintf(format, args...))
}

// ErrorWithCause constructs an Error value that wraps a prior Error value.
// If cause is not itself an Error, it is ignored.
func ErrorWithCause(message string, cause Value) Value {
	v := Value{kind: KindError, err: &ErrorInfo{Message: message}}
	if cause.kind == KindError {
		c := cause
		v.err.Cause = &c
	}
	return v
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsError() bool     { return v.kind == KindError }
func (v Value) IsBool() bool      { return v.kind == KindBool }
func (v Value) IsNum() bool       { return v.kind == KindNum }
func (v Value) IsText() bool      { return v.kind == KindText }
func (v Value) IsArray() bool     { return v.kind == KindArray }
func (v Value) IsObject() bool    { return v.kind == KindObject }

// AsBool reports the boolean payload and whether v is actually a Bool.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsText() (string, bool) {
	if v.kind != KindText {
		return "", false
	}
	return v.txt, true
}

// AsBigFloat returns the underlying arbitrary-precision number.
func (v Value) AsBigFloat() (*big.Float, bool) {
	if v.kind != KindNum {
		return nil, false
	}
	return v.num, true
}

func (v Value) AsFloat64() (float64, bool) {
	if v.kind != KindNum {
		return 0, false
	}
	f, _ := v.num.Float64()
	return f, true
}

func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

func (v Value) AsObject() (*Object, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

// ErrorMessage returns the message of an Error value, or "" otherwise.
func (v Value) ErrorMessage() string {
	if v.kind != KindError || v.err == nil {
		return ""
	}
	return v.err.Message
}

func (v Value) ErrorCause() (Value, bool) {
	if v.kind != KindError || v.err == nil || v.err.Cause == nil {
		return Value{}, false
	}
	return *v.err.Cause, true
}

// Object is an insertion-ordered Text -> Value map with unique keys.
// Equality (via Value.Equal) is order-insensitive; iteration via Keys/Values
// preserves insertion order, as required by the `.*`/`..*`/sub-templating
// operators.
type Object struct {
	keys []string
	vals map[string]Value
}

func NewObject() *Object {
	return &Object{vals: map[string]Value{}}
}

// Set inserts or overwrites key. Overwriting an existing key keeps its
// original position in iteration order.
func (o *Object) Set(key string, v Value) {
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = v
}

func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.vals[key]
	return v, ok
}

// Delete removes key if present, preserving the relative order of the
// remaining keys.
func (o *Object) Delete(key string) {
	if _, ok := o.vals[key]; !ok {
		return
	}
	delete(o.vals, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

func (o *Object) Len() int { return len(o.keys) }

// Keys returns the keys in insertion order. Callers must not mutate the
// returned slice.
func (o *Object) Keys() []string { return o.keys }

// Values returns the values in insertion order, as required by `.*`.
func (o *Object) Values() []Value {
	out := make([]Value, len(o.keys))
	for i, k := range o.keys {
		out[i] = o.vals[k]
	}
	return out
}

// Clone returns a deep copy; Values are themselves immutable so only the
// map/slice backing needs copying.
func (o *Object) Clone() *Object {
	cp := &Object{
		keys: append([]string(nil), o.keys...),
		vals: make(map[string]Value, len(o.vals)),
	}
	for k, v := range o.vals {
		cp.vals[k] = v
	}
	return cp
}

// Equal implements the §4.1 equality rules:
//   - Error never equals anything (propagation only, never compared true).
//   - Undefined equals only Undefined.
//   - Null equals only Null.
//   - Num compares by mathematical value regardless of representation.
//   - Text, Bool compare by value.
//   - Array compares strictly positional (order-sensitive).
//   - Object compares by the set of non-Undefined keys with equal values,
//     order-insensitive.
func (v Value) Equal(other Value) bool {
	if v.kind == KindError || other.kind == KindError {
		return false
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull, KindUndefined:
		return true
	case KindBool:
		return v.b == other.b
	case KindNum:
		return v.num.Cmp(other.num) == 0
	case KindText:
		return v.txt == other.txt
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return objectsEqual(v.obj, other.obj)
	default:
		return false
	}
}

func objectsEqual(a, b *Object) bool {
	akeys := definedKeySet(a)
	bkeys := definedKeySet(b)
	if len(akeys) != len(bkeys) {
		return false
	}
	for k, av := range akeys {
		bv, ok := bkeys[k]
		if !ok || !av.Equal(bv) {
			return false
		}
	}
	return true
}

func definedKeySet(o *Object) map[string]Value {
	out := make(map[string]Value, o.Len())
	for _, k := range o.keys {
		v := o.vals[k]
		if v.kind == KindUndefined {
			continue
		}
		out[k] = v
	}
	return out
}

// String renders a debug/human-readable form; it is not the canonical JSON
// encoding (see MarshalJSON).
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindUndefined:
		return "undefined"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNum:
		return v.num.Text('g', -1)
	case KindText:
		return strconv.Quote(v.txt)
	case KindArray:
		s := "["
		for i, e := range v.arr {
			if i > 0 {
				s += ","
			}
			s += e.String()
		}
		return s + "]"
	case KindObject:
		keys := append([]string(nil), v.obj.keys...)
		sort.Strings(keys)
		s := "{"
		for i, k := range keys {
			if i > 0 {
				s += ","
			}
			s += strconv.Quote(k) + ":" + v.obj.vals[k].String()
		}
		return s + "}"
	case KindError:
		return "error(" + v.err.Message + ")"
	default:
		return "?"
	}
}

// DeepCopy returns a value safe to hold independent of v's backing storage.
// Because Value and Object are treated as immutable once constructed, a
// shallow copy already suffices for Null/Bool/Num/Text; Array and Object
// are copied structurally so callers mutating via Object.Set never observe
// cross-talk.
func (v Value) DeepCopy() Value {
	switch v.kind {
	case KindArray:
		cp := make([]Value, len(v.arr))
		for i, e := range v.arr {
			cp[i] = e.DeepCopy()
		}
		return ArrayFromSlice(cp)
	case KindObject:
		cp := NewObject()
		for _, k := range v.obj.keys {
			val, _ := v.obj.Get(k)
			cp.Set(k, val.DeepCopy())
		}
		return ObjectVal(cp)
	default:
		return v
	}
}

// Truthy reports whether v is the boolean true. Any other value (including
// false) is not truthy; callers needing "non-boolean is an error" should
// check IsBool() themselves — Truthy is for filter/condition contexts that
// treat non-true uniformly as "does not select".
func (v Value) Truthy() bool {
	b, ok := v.AsBool()
	return ok && b
}