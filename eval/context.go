// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

// Package eval implements the expression evaluator (spec.md §4.4): a
// tree-walking compiler from ast.Node to a Compiled expression classified
// as Const, Pure or Stream (spec.md §3, "Compiled expression"), plus the
// evaluation-context machinery (subscription fields, variable bindings,
// the `@` relative-context operator) those compiled expressions run
// against.
package eval

import (
	"context"

	"github.com/saplcore/pdp/attribute"
	"github.com/saplcore/pdp/funcs"
	"github.com/saplcore/pdp/value"
)

// Subscription is the immutable authorization-subscription record of
// spec.md §3. Any field may be value.Undefined().
type Subscription struct {
	Subject, Action, Resource, Environment value.Value
}

// Field resolves one of the four reserved subscription identifiers.
func (s Subscription) Field(name string) (value.Value, bool) {
	switch name {
	case "subject":
		return s.Subject, true
	case "action":
		return s.Action, true
	case "resource":
		return s.Resource, true
	case "environment":
		return s.Environment, true
	default:
		return value.Value{}, false
	}
}

// ReservedNames are identifiers that may not be used as variable names
// (spec.md §3, §4.4 "Reserved names").
var ReservedNames = map[string]bool{"subject": true, "action": true, "resource": true, "environment": true}

// Context is the evaluation context of spec.md §3: immutable after
// construction except for the nested-block shadowing described in Child.
type Context struct {
	GoContext context.Context

	Subscription Subscription

	// locals holds block/set-level variable bindings, innermost last; a
	// lookup walks from the end backward so inner shadows outer.
	locals []map[string]value.Value

	Funcs  *funcs.Scope
	Broker *attribute.Broker

	PDPConfigID   string
	DefaultTiming attribute.TimingParams

	// relative is the `@` binding inside a subtemplate/filter-condition/
	// filter-rule context; hasRelative is false outside such a context
	// (spec.md §4.4: "@ -> Error" outside these contexts).
	relative    value.Value
	hasRelative bool

	Trace bool

	// keys accumulates every attribute.Key this evaluation subscribed to,
	// for the combining engine's per-vote attribute-key aggregation
	// (spec.md §4.7, "Aggregation of contributing attributes").
	keys *[]attribute.Key
}

// NewContext builds a root evaluation context for one subscription.
func NewContext(goCtx context.Context, sub Subscription, funcScope *funcs.Scope, broker *attribute.Broker, pdpConfigID string, timing attribute.TimingParams) *Context {
	keys := []attribute.Key{}
	return &Context{
		GoContext: goCtx, Subscription: sub, Funcs: funcScope, Broker: broker,
		PDPConfigID: pdpConfigID, DefaultTiming: timing, keys: &keys,
	}
}

// WithVariable returns a derived context that shadows name with v in the
// new innermost scope. Used for `var name = expr;` bindings and set-level
// variables. Reserved set-level variable names are rejected by the
// compiler before this is ever called (see ReservedNames and
// policy.CompilePolicySet).
func (c *Context) WithVariable(name string, v value.Value) *Context {
	child := c.shallowCopy()
	scope := map[string]value.Value{name: v}
	child.locals = append(append([]map[string]value.Value(nil), c.locals...), scope)
	return child
}

// WithRelative returns a derived context binding `@` to v.
func (c *Context) WithRelative(v value.Value) *Context {
	child := c.shallowCopy()
	child.relative = v
	child.hasRelative = true
	return child
}

func (c *Context) shallowCopy() *Context {
	cp := *c
	return &cp
}

// Relative returns the current `@` binding.
func (c *Context) Relative() (value.Value, bool) {
	return c.relative, c.hasRelative
}

// Lookup resolves a free identifier per spec.md §4.4's precedence order:
// local bindings (innermost first) -> subscription fields -> unbound.
// Set-level variables are themselves installed as local bindings by the
// policy compiler (see policy package), so they are covered by the first
// step here without a separate lookup path.
func (c *Context) Lookup(name string) (value.Value, bool) {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if v, ok := c.locals[i][name]; ok {
			return v, true
		}
	}
	return c.Subscription.Field(name)
}

// LocalsSnapshot flattens the current variable bindings (innermost wins)
// into a single map, for the attribute broker's de-duplication Key (spec.md
// §4.3: "the relevant-variables snapshot").
func (c *Context) LocalsSnapshot() map[string]value.Value {
	out := map[string]value.Value{}
	for _, scope := range c.locals {
		for k, v := range scope {
			out[k] = v
		}
	}
	return out
}

// recordKey appends an attribute key this evaluation depended on.
func (c *Context) recordKey(k attribute.Key) {
	if c.keys != nil {
		*c.keys = append(*c.keys, k)
	}
}

// AttributeKeys returns every attribute key observed during evaluation so
// far (shared across derived contexts via the underlying keys pointer).
func (c *Context) AttributeKeys() []attribute.Key {
	if c.keys == nil {
		return nil
	}
	return *c.keys
}