// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package funcs

import (
	"github.com/saplcore/pdp/value"
)

// RegisterSimple registers the "simple" library used by the spec's worked
// examples (spec.md §8, scenario 5: `simple.length`, and `echo`, used
// there as an attribute finder but also useful as a pure function for
// transform pipelines that do not need a live subscription).
func RegisterSimple(r *Registry) {
	r.Register("simple", &Function{
		Name: "length", Arity: 1,
		Evaluate: func(args []value.Value) value.Value {
			v := args[0]
			switch v.Kind() {
			case value.KindText:
				s, _ := v.AsText()
				return value.NumFromInt(len([]rune(s)))
			case value.KindArray:
				a, _ := v.AsArray()
				return value.NumFromInt(len(a))
			case value.KindObject:
				o, _ := v.AsObject()
				return value.NumFromInt(o.Len())
			default:
				return value.Errorf("type mismatch: length() expects text, array or object, got %s", v.Kind())
			}
		},
	})
	r.Register("simple", &Function{
		Name: "echo", Arity: 1,
		Evaluate: func(args []value.Value) value.Value { return args[0] },
	})
}

// RegisterFilter registers the "filter" library's value-transforming
// functions used as bare or rule-list actions by the transformation
// operator (spec.md §4.5), e.g. `filter.blacken`.
func RegisterFilter(r *Registry) {
	r.Register("filter", &Function{
		Name: "blacken", Arity: -1,
		Evaluate: func(args []value.Value) value.Value {
			if len(args) == 0 {
				return value.Errorf("arity mismatch: blacken() expects at least 1 argument")
			}
			s, ok := args[0].AsText()
			if !ok {
				return value.Errorf("type mismatch: blacken() expects text, got %s", args[0].Kind())
			}
			discloseLeft, discloseRight := 0, 0
			if len(args) > 1 {
				if f, ok := args[1].AsBigFloat(); ok {
					n, _ := f.Int64()
					discloseLeft = int(n)
				}
			}
			if len(args) > 2 {
				if f, ok := args[2].AsBigFloat(); ok {
					n, _ := f.Int64()
					discloseRight = int(n)
				}
			}
			return value.Text(blacken(s, discloseLeft, discloseRight))
		},
	})
	r.Register("filter", &Function{
		Name: "replace", Arity: 2,
		TypeHint: []value.Kind{value.KindText, value.KindText},
		Evaluate: func(args []value.Value) value.Value {
			repl, _ := args[1].AsText()
			return value.Text(repl)
		},
	})
}

func blacken(s string, left, right int) string {
	runes := []rune(s)
	n := len(runes)
	if left < 0 {
		left = 0
	}
	if right < 0 {
		right = 0
	}
	if left+right >= n {
		out := make([]rune, n)
		for i := range out {
			out[i] = 'X'
		}
		return string(out)
	}
	out := make([]rune, n)
	for i := 0; i < n; i++ {
		if i < left || i >= n-right {
			out[i] = runes[i]
		} else {
			out[i] = 'X'
		}
	}
	return string(out)
}

// NewDefaultRegistry returns a Registry with the standard libraries used
// throughout this module's tests.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterSimple(r)
	RegisterFilter(r)
	return r
}