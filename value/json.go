// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// FromJSON decodes raw JSON bytes into a Value, preserving arbitrary
// numeric precision via json.Number (mirrors the teacher's
// util.UnmarshalJSON / json.Decoder.UseNumber idiom).
func FromJSON(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var x interface{}
	if err := dec.Decode(&x); err != nil {
		return Value{}, fmt.Errorf("decode json: %w", err)
	}
	return FromInterface(x)
}

// FromInterface converts a native Go value (as produced by
// encoding/json with UseNumber) into a Value. Mirrors the teacher's
// ast.InterfaceToValue.
func FromInterface(x interface{}) (Value, error) {
	switch x := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		return NumFromString(x.String()), nil
	case float64:
		return Num(x), nil
	case string:
		return Text(x), nil
	case []interface{}:
		arr := make([]Value, len(x))
		for i, e := range x {
			v, err := FromInterface(e)
			if err != nil {
				return Value{}, err
			}
			arr[i] = v
		}
		return ArrayFromSlice(arr), nil
	case map[string]interface{}:
		obj := NewObject()
		for _, k := range orderedKeysOf(x) {
			v, err := FromInterface(x[k])
			if err != nil {
				return Value{}, err
			}
			obj.Set(k, v)
		}
		return ObjectVal(obj), nil
	default:
		return Value{}, fmt.Errorf("illegal value: %#v", x)
	}
}

// orderedKeysOf returns keys of a decoded JSON object. encoding/json does
// not preserve source order in a map[string]interface{}, so absent a
// source order we fall back to a stable (sorted) order; this only affects
// bulk-decoded literals, not values built incrementally via Object.Set
// (which always preserves true insertion order).
func orderedKeysOf(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON produces the canonical JSON encoding of v. Undefined encodes
// as JSON null is NOT used — callers representing Undefined fields (e.g.
// decision resource) should omit them instead; MarshalJSON errors on
// Undefined/Error so accidental leakage is caught early.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindUndefined:
		return nil, fmt.Errorf("cannot marshal undefined value")
	case KindError:
		return nil, fmt.Errorf("cannot marshal error value: %s", v.err.Message)
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		if v.b {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindNum:
		return []byte(v.num.Text('g', -1)), nil
	case KindText:
		return json.Marshal(v.txt)
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := e.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindObject:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range v.obj.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			val, _ := v.obj.Get(k)
			vb, err := val.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown value kind %v", v.kind)
	}
}

// ToInterface converts v into a plain Go value suitable for
// encoding/json, for interop with code that does not use Value directly.
func (v Value) ToInterface() (interface{}, error) {
	switch v.kind {
	case KindUndefined, KindError:
		return nil, fmt.Errorf("cannot convert %s value to interface{}", v.kind)
	case KindNull:
		return nil, nil
	case KindBool:
		return v.b, nil
	case KindNum:
		f, _ := v.num.Float64()
		return f, nil
	case KindText:
		return v.txt, nil
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, e := range v.arr {
			x, err := e.ToInterface()
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	case KindObject:
		out := make(map[string]interface{}, v.obj.Len())
		for _, k := range v.obj.keys {
			val, _ := v.obj.Get(k)
			x, err := val.ToInterface()
			if err != nil {
				return nil, err
			}
			out[k] = x
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown value kind %v", v.kind)
	}
}