// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package eval

import (
	"github.com/saplcore/pdp/ast"
	"github.com/saplcore/pdp/value"
)

// compilePathStep compiles a KindPathStep node: base.step navigation
// (spec.md §4.4, "Path navigation"). Navigation never mutates and never
// fails on a missing key/out-of-range index — those produce Undefined, not
// Error; Error is reserved for navigating through a value of the wrong
// shape (e.g. a key step against a non-object).
//
// StepExpr and StepCondition carry a dynamic sub-expression (the `(expr)`
// or `?(expr)` operand); that sub-expression is required to be Const/Pure
// — a step whose index or filter predicate itself depends on a streaming
// attribute cannot be expressed as a single re-evaluable function of "the
// latest value of every input", since the predicate must run once per
// array element. Compiling such a sub-expression yields an Error instead.
func compilePathStep(n *ast.Node, opts Options) (*Compiled, error) {
	base, err := Compile(n.Left, opts)
	if err != nil {
		return nil, err
	}

	var condC *Compiled
	if n.Step == ast.StepExpr || n.Step == ast.StepCondition {
		c, err := Compile(n.Cond, opts)
		if err != nil {
			return nil, err
		}
		if c.Class == ClassStream {
			return constCompiled(value.Error("a dynamic path step must not depend on a streaming attribute")), nil
		}
		condC = c
	}

	step := stepApplier(n, condC)

	// The overall class is Const only if base is Const and there is no
	// dynamic sub-expression at all (a Const condC still needs ctx to
	// evaluate subscription-field references, so it forces at least Pure).
	if base.Class == ClassConst && condC == nil {
		return constCompiled(step(nil, base.ConstValue)), nil
	}
	if base.Class != ClassStream {
		return pureCompiled(func(ctx *Context) value.Value {
			return step(ctx, base.EvalPure(ctx))
		}), nil
	}
	return streamCompiled(func(ctx *Context) (<-chan value.Value, func()) {
		in, cancel := base.EvalStream(ctx)
		out := make(chan value.Value, 1)
		go func() {
			defer close(out)
			for v := range in {
				out <- step(ctx, v)
			}
		}()
		return out, cancel
	}), nil
}

// stepApplier returns the navigation function for one path step, closing
// over the step's static parameters (and, for StepExpr/StepCondition, the
// already-compiled dynamic sub-expression).
func stepApplier(n *ast.Node, condC *Compiled) func(ctx *Context, base value.Value) value.Value {
	step := n.Step
	stepName := n.StepName
	stepKeys := n.StepKeys
	index := n.Index
	indices := n.Indices
	start, end, stride := n.Start, n.End, n.Stride

	return func(ctx *Context, base value.Value) value.Value {
		if base.IsError() {
			return base
		}
		switch step {
		case ast.StepKey:
			return stepKey(base, stepName)
		case ast.StepIndex:
			return stepIndex(base, index)
		case ast.StepSlice:
			return stepSlice(base, start, end, stride)
		case ast.StepWildcard:
			return stepWildcard(base)
		case ast.StepRecursiveKey:
			return value.ArrayFromSlice(recursiveKey(base, stepName))
		case ast.StepRecursiveWildcard:
			return value.ArrayFromSlice(recursiveWildcard(base))
		case ast.StepRecursiveIndex:
			return value.ArrayFromSlice(recursiveIndex(base, index))
		case ast.StepIndexUnion:
			return stepIndexUnion(base, indices)
		case ast.StepKeyUnion:
			return stepKeyUnion(base, stepKeys)
		case ast.StepExpr:
			return stepDynamic(base, condC.EvalPure(ctx))
		case ast.StepCondition:
			return stepFilterCondition(ctx, base, condC)
		default:
			return value.Errorf("unsupported path step kind %v", step)
		}
	}
}

func stepKey(base value.Value, key string) value.Value {
	if base.IsUndefined() {
		return value.Undefined()
	}
	obj, ok := base.AsObject()
	if !ok {
		return value.Errorf("type mismatch: key step %q against non-object %s", key, base.Kind())
	}
	v, ok := obj.Get(key)
	if !ok {
		return value.Undefined()
	}
	return v
}

func stepIndex(base value.Value, idx int) value.Value {
	if base.IsUndefined() {
		return value.Undefined()
	}
	arr, ok := base.AsArray()
	if !ok {
		return value.Errorf("type mismatch: index step against non-array %s", base.Kind())
	}
	i := idx
	if i < 0 {
		i += len(arr)
	}
	if i < 0 || i >= len(arr) {
		return value.Undefined()
	}
	return arr[i]
}

func stepSlice(base value.Value, start, end, stride *int) value.Value {
	if base.IsUndefined() {
		return value.Undefined()
	}
	arr, ok := base.AsArray()
	if !ok {
		return value.Errorf("type mismatch: slice step against non-array %s", base.Kind())
	}
	n := len(arr)
	s, e, st := 0, n, 1
	if stride != nil {
		st = *stride
	}
	if st == 0 {
		return value.Errorf("slice step stride must not be zero")
	}
	if st < 0 {
		s, e = n-1, -1
	}
	if start != nil {
		s = normalizeIndex(*start, n)
	}
	if end != nil {
		e = normalizeIndex(*end, n)
	}
	var out []value.Value
	if st > 0 {
		for i := s; i < e && i < n; i += st {
			if i >= 0 {
				out = append(out, arr[i])
			}
		}
	} else {
		for i := s; i > e && i >= 0; i += st {
			if i < n {
				out = append(out, arr[i])
			}
		}
	}
	return value.ArrayFromSlice(out)
}

func normalizeIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

func stepWildcard(base value.Value) value.Value {
	if base.IsUndefined() {
		return value.Undefined()
	}
	if arr, ok := base.AsArray(); ok {
		return value.ArrayFromSlice(append([]value.Value(nil), arr...))
	}
	if obj, ok := base.AsObject(); ok {
		return value.ArrayFromSlice(append([]value.Value(nil), obj.Values()...))
	}
	return value.Errorf("type mismatch: wildcard step against %s", base.Kind())
}

func stepIndexUnion(base value.Value, indices []int) value.Value {
	if base.IsUndefined() {
		return value.Undefined()
	}
	arr, ok := base.AsArray()
	if !ok {
		return value.Errorf("type mismatch: index-union step against non-array %s", base.Kind())
	}
	out := make([]value.Value, 0, len(indices))
	for _, idx := range indices {
		i := idx
		if i < 0 {
			i += len(arr)
		}
		if i >= 0 && i < len(arr) {
			out = append(out, arr[i])
		}
	}
	return value.ArrayFromSlice(out)
}

func stepKeyUnion(base value.Value, keys []string) value.Value {
	if base.IsUndefined() {
		return value.Undefined()
	}
	obj, ok := base.AsObject()
	if !ok {
		return value.Errorf("type mismatch: key-union step against non-object %s", base.Kind())
	}
	out := make([]value.Value, 0, len(keys))
	for _, k := range keys {
		if v, ok := obj.Get(k); ok {
			out = append(out, v)
		}
	}
	return value.ArrayFromSlice(out)
}

func stepDynamic(base, idxOrKey value.Value) value.Value {
	if idxOrKey.IsError() {
		return idxOrKey
	}
	if s, ok := idxOrKey.AsText(); ok {
		return stepKey(base, s)
	}
	if f, ok := idxOrKey.AsFloat64(); ok {
		return stepIndex(base, int(f))
	}
	return value.Errorf("dynamic path step requires a text or numeric operand, got %s", idxOrKey.Kind())
}

// stepFilterCondition implements `[?(cond)]`: keep the array elements for
// which cond, evaluated with `@` bound to the element, is true.
func stepFilterCondition(ctx *Context, base value.Value, cond *Compiled) value.Value {
	if base.IsUndefined() {
		return value.Undefined()
	}
	arr, ok := base.AsArray()
	if !ok {
		return value.Errorf("type mismatch: condition step against non-array %s", base.Kind())
	}
	out := make([]value.Value, 0, len(arr))
	for _, elem := range arr {
		v := cond.EvalPure(ctx.WithRelative(elem))
		if v.IsError() {
			return v
		}
		b, ok := v.AsBool()
		if !ok {
			return value.Errorf("filter condition must be boolean, got %s", v.Kind())
		}
		if b {
			out = append(out, elem)
		}
	}
	return value.ArrayFromSlice(out)
}

// recursiveKey collects every value bound to key at any depth under base,
// depth-first.
func recursiveKey(base value.Value, key string) []value.Value {
	var out []value.Value
	var walk func(v value.Value)
	walk = func(v value.Value) {
		if obj, ok := v.AsObject(); ok {
			if hit, ok := obj.Get(key); ok {
				out = append(out, hit)
			}
			for _, k := range obj.Keys() {
				child, _ := obj.Get(k)
				walk(child)
			}
			return
		}
		if arr, ok := v.AsArray(); ok {
			for _, e := range arr {
				walk(e)
			}
		}
	}
	walk(base)
	return out
}

// recursiveIndex collects the element at index idx from base and from
// every array reachable from base at any depth, depth-first, yielding an
// empty slice when idx is absent everywhere it could apply.
func recursiveIndex(base value.Value, idx int) []value.Value {
	var out []value.Value
	var walk func(v value.Value)
	walk = func(v value.Value) {
		if arr, ok := v.AsArray(); ok {
			i := idx
			if i < 0 {
				i += len(arr)
			}
			if i >= 0 && i < len(arr) {
				out = append(out, arr[i])
			}
			for _, e := range arr {
				walk(e)
			}
			return
		}
		if obj, ok := v.AsObject(); ok {
			for _, k := range obj.Keys() {
				child, _ := obj.Get(k)
				walk(child)
			}
		}
	}
	walk(base)
	return out
}

// recursiveWildcard collects every value nested under base at any depth
// (object member values and array elements, scalars included),
// depth-first, base itself excluded.
func recursiveWildcard(base value.Value) []value.Value {
	var out []value.Value
	var walk func(v value.Value)
	walk = func(v value.Value) {
		if obj, ok := v.AsObject(); ok {
			for _, k := range obj.Keys() {
				child, _ := obj.Get(k)
				out = append(out, child)
				walk(child)
			}
			return
		}
		if arr, ok := v.AsArray(); ok {
			for _, e := range arr {
				out = append(out, e)
				walk(e)
			}
		}
	}
	walk(base)
	return out
}