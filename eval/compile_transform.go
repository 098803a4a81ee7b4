// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package eval

import (
	"github.com/saplcore/pdp/ast"
	"github.com/saplcore/pdp/filter"
	"github.com/saplcore/pdp/value"
)

// ruleDef is a filter rule with its static selector already resolved to
// []filter.Step and its action pre-compiled; only the per-evaluation `@`
// binding remains to be supplied (see materializeRules).
type ruleDef struct {
	selector []filter.Step
	each     bool
	isRemove bool
	action   *Compiled // nil when isRemove
	nested   []ruleDef // non-nil for a nested rule-list action
}

// compileTransform compiles a KindTransform node (`resource |- filterSpec`,
// spec.md §4.4/§4.5). The filter spec's selectors are resolved once at
// compile time (they never depend on streamed data — only the base
// document and each rule's action may); the base document may itself be
// Const/Pure/Stream, following the same classification pattern as a path
// step.
func compileTransform(n *ast.Node, opts Options) (*Compiled, error) {
	base, err := Compile(n.Base, opts)
	if err != nil {
		return nil, err
	}

	rules, errVal, err := compileFilterSpec(n.Filter, opts)
	if err != nil {
		return nil, err
	}
	if errVal.IsError() {
		return constCompiled(errVal), nil
	}

	apply := func(ctx *Context, doc value.Value) value.Value {
		if doc.IsError() {
			return doc
		}
		return filter.Apply(doc, materializeRules(ctx, rules))
	}

	if base.Class == ClassConst && !rulesNeedContext(rules) {
		return constCompiled(apply(nil, base.ConstValue)), nil
	}
	if base.Class != ClassStream {
		return pureCompiled(func(ctx *Context) value.Value {
			return apply(ctx, base.EvalPure(ctx))
		}), nil
	}
	return streamCompiled(func(ctx *Context) (<-chan value.Value, func()) {
		in, cancel := base.EvalStream(ctx)
		out := make(chan value.Value, 1)
		go func() {
			defer close(out)
			for v := range in {
				out <- apply(ctx, v)
			}
		}()
		return out, cancel
	}), nil
}

// compileFilterSpec lowers a KindFilterSpec node to a []ruleDef. Per
// spec.md §4.5 the bare forms (`|- remove`, `|- someFunction(...)`) are
// represented as a single-rule list whose selector is empty (selects the
// whole document); FilterRuleList carries its rules directly.
//
// The second return value is an Error Value when the spec contains
// something compileTransform cannot express (e.g. a selector step this
// package does not support); a non-Error second return means compilation
// succeeded.
func compileFilterSpec(n *ast.Node, opts Options) ([]ruleDef, value.Value, error) {
	switch n.FilterKind {
	case ast.FilterRemove:
		return []ruleDef{{isRemove: true}}, value.Value{}, nil
	case ast.FilterFunctionRef:
		actionC, err := Compile(n.Rules[0], opts)
		if err != nil {
			return nil, value.Value{}, err
		}
		if actionC.Class == ClassStream {
			return nil, value.Error("a filter action must not depend on a streaming attribute"), nil
		}
		return []ruleDef{{action: actionC}}, value.Value{}, nil
	case ast.FilterRuleList:
		return compileFilterRules(n.Rules, opts)
	default:
		return nil, value.Errorf("unsupported filter kind %v", n.FilterKind), nil
	}
}

// compileFilterRules lowers a []KindFilterRule list. Each rule's selector
// is a path rooted at `@` (spec.md §4.5); its action is either "remove",
// a function-call reference, or — representing a braced nested filter
// block — another KindFilterSpec.
func compileFilterRules(nodes []*ast.Node, opts Options) ([]ruleDef, value.Value, error) {
	out := make([]ruleDef, 0, len(nodes))
	for _, rn := range nodes {
		steps, errVal := selectorSteps(rn.Selector)
		if errVal.IsError() {
			return nil, errVal, nil
		}
		rd := ruleDef{selector: steps, each: rn.Each}

		switch {
		case rn.IsRemove:
			rd.isRemove = true
		case rn.Action != nil && rn.Action.Kind == ast.KindFilterSpec:
			nested, errVal, err := compileFilterSpec(rn.Action, opts)
			if err != nil {
				return nil, value.Value{}, err
			}
			if errVal.IsError() {
				return nil, errVal, nil
			}
			rd.nested = nested
		case rn.Action != nil:
			actionC, err := Compile(rn.Action, opts)
			if err != nil {
				return nil, value.Value{}, err
			}
			if actionC.Class == ClassStream {
				return nil, value.Error("a filter action must not depend on a streaming attribute"), nil
			}
			rd.action = actionC
		default:
			return nil, value.Error("filter rule has neither an action nor 'remove'"), nil
		}
		out = append(out, rd)
	}
	return out, value.Value{}, nil
}

// selectorSteps linearizes a path rooted at `@` (spec.md §4.5 filter
// selector) into root-to-leaf []filter.Step order.
func selectorSteps(n *ast.Node) ([]filter.Step, value.Value) {
	if n == nil || n.Kind == ast.KindRelativeRef {
		return nil, value.Value{}
	}
	if n.Kind != ast.KindPathStep {
		return nil, value.Errorf("unsupported filter selector node kind %v", n.Kind)
	}
	prefix, errVal := selectorSteps(n.Left)
	if errVal.IsError() {
		return nil, errVal
	}
	step, ok := toFilterStep(n)
	if !ok {
		return nil, value.Error("filter selectors support key/index/wildcard/recursive/union steps only")
	}
	return append(prefix, step), value.Value{}
}

func toFilterStep(n *ast.Node) (filter.Step, bool) {
	switch n.Step {
	case ast.StepKey:
		return filter.Step{Key: n.StepName}, true
	case ast.StepIndex:
		return filter.Step{Index: n.Index}, true
	case ast.StepWildcard:
		return filter.Step{Wildcard: true}, true
	case ast.StepRecursiveKey:
		return filter.Step{Recursive: true, Key: n.StepName}, true
	case ast.StepRecursiveWildcard:
		return filter.Step{Recursive: true, Wildcard: true}, true
	case ast.StepIndexUnion:
		return filter.Step{Indices: n.Indices}, true
	case ast.StepKeyUnion:
		return filter.Step{Keys: n.StepKeys}, true
	default:
		return filter.Step{}, false
	}
}

// compileSubtemplate compiles a KindSubtemplate node (`baseArray :: template`,
// spec.md §4.4): map template over every element of baseArray, with `@`
// bound to each element in turn. The template is required to be Const/Pure
// — like a filter action, it cannot itself be re-subscribed per element.
func compileSubtemplate(n *ast.Node, opts Options) (*Compiled, error) {
	base, err := Compile(n.Left, opts)
	if err != nil {
		return nil, err
	}
	tmpl, err := Compile(n.Template, opts)
	if err != nil {
		return nil, err
	}
	if tmpl.Class == ClassStream {
		return constCompiled(value.Error("a subtemplate must not depend on a streaming attribute")), nil
	}

	apply := func(ctx *Context, doc value.Value) value.Value {
		if doc.IsError() {
			return doc
		}
		if doc.IsUndefined() {
			return value.Undefined()
		}
		arr, ok := doc.AsArray()
		if !ok {
			return value.Errorf("type mismatch: subtemplate against non-array %s", doc.Kind())
		}
		out := make([]value.Value, len(arr))
		for i, elem := range arr {
			out[i] = tmpl.EvalPure(ctx.WithRelative(elem))
		}
		return value.ArrayFromSlice(out)
	}

	if base.Class == ClassConst && tmpl.Class == ClassConst {
		arr, ok := base.ConstValue.AsArray()
		if !ok {
			return constCompiled(value.Errorf("type mismatch: subtemplate against non-array %s", base.ConstValue.Kind())), nil
		}
		out := make([]value.Value, len(arr))
		for i := range arr {
			out[i] = tmpl.ConstValue
		}
		return constCompiled(value.ArrayFromSlice(out)), nil
	}
	if base.Class != ClassStream {
		return pureCompiled(func(ctx *Context) value.Value {
			return apply(ctx, base.EvalPure(ctx))
		}), nil
	}
	return streamCompiled(func(ctx *Context) (<-chan value.Value, func()) {
		in, cancel := base.EvalStream(ctx)
		out := make(chan value.Value, 1)
		go func() {
			defer close(out)
			for v := range in {
				out <- apply(ctx, v)
			}
		}()
		return out, cancel
	}), nil
}

func rulesNeedContext(defs []ruleDef) bool {
	for _, d := range defs {
		if d.action != nil {
			return true
		}
		if d.nested != nil && rulesNeedContext(d.nested) {
			return true
		}
	}
	return false
}

// materializeRules binds the per-evaluation Context (for `@` inside each
// rule's action) into a []filter.Rule the filter package can run.
func materializeRules(ctx *Context, defs []ruleDef) []filter.Rule {
	out := make([]filter.Rule, len(defs))
	for i, d := range defs {
		r := filter.Rule{Selector: d.selector, Each: d.each}
		switch {
		case d.isRemove:
			r.Action = filter.ActionRemove
		case d.nested != nil:
			r.Action = filter.ActionRuleList
			r.Rules = materializeRules(ctx, d.nested)
		default:
			r.Action = filter.ActionFunctionRef
			action := d.action
			r.Fn = func(current value.Value) value.Value {
				return action.EvalPure(ctx.WithRelative(current))
			}
		}
		out[i] = r
	}
	return out
}