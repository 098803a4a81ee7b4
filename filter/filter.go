// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

// Package filter implements the filter and selection engine (spec.md §4.5):
// applying a sequence of filter rules to a document, each rule pairing a
// path selector with an action (remove the selected node, replace it with
// the result of a function call, or recurse into a nested rule list).
// Filtering never mutates its input; every Apply call returns a new value
// sharing unmodified substructure with the original (value.Value's
// immutable-by-convention model makes that sharing safe).
package filter

import "github.com/saplcore/pdp/value"

// Step mirrors the subset of ast.StepKind's navigation vocabulary that is
// meaningful inside a filter selector (spec.md §4.5 selectors do not use
// slicing). The filter package does not import ast (it has no notion of
// expression trees) — the eval package translates an ast.Node-rooted
// selector into a []Step before calling Apply.
type Step struct {
	Key       string
	Keys      []string
	Index     int
	Indices   []int
	Wildcard  bool
	Recursive bool
}

// Action is the effect a fully-matched selector applies to every node it
// selects.
type Action int

const (
	ActionRemove Action = iota
	ActionFunctionRef
	ActionRuleList
)

// Rule is one filter rule: a selector (possibly rooted with "each", which
// distributes the rule over every element of an array the selector
// resolves to) and the action applied at every node the selector reaches.
type Rule struct {
	Selector []Step
	Each     bool
	Action   Action

	// ActionFunctionRef: apply fn to the selected node (and only the
	// selected node); fn receives the node's current value and any static
	// arguments already resolved to value.Value by the caller.
	Fn func(current value.Value) value.Value

	// ActionRuleList: recurse into Rules against the selected node,
	// bottom-up.
	Rules []Rule
}

// Apply runs every rule in spec document order against doc, in the
// bottom-up deterministic mutation order of spec.md §4.5: each rule's
// selector is resolved against the *current* (possibly already-mutated-by-
// an-earlier-rule) document, and multi-node selections are rewritten from
// the deepest match outward so an earlier rewrite never invalidates a
// sibling match's path.
func Apply(doc value.Value, rules []Rule) value.Value {
	cur := doc
	for _, r := range rules {
		cur = applyRule(cur, r)
		if cur.IsError() {
			return cur
		}
	}
	return cur
}

func applyRule(doc value.Value, r Rule) value.Value {
	matches := resolveSelector(doc, r.Selector)
	if len(matches) == 0 {
		return doc
	}
	// Deepest (longest path) first, so rewriting a deep match never
	// invalidates the setter captured for a shallower sibling.
	sortByDepthDesc(matches)

	cur := doc
	for _, m := range matches {
		targets := []value.Value{m.value}
		if r.Each {
			arr, ok := m.value.AsArray()
			if !ok {
				return value.Errorf("type mismatch: 'each' selector against non-array %s", m.value.Kind())
			}
			targets = arr
		}

		var replacement value.Value
		switch r.Action {
		case ActionRemove:
			replacement = value.Undefined()
		case ActionFunctionRef:
			if r.Each {
				out := make([]value.Value, len(targets))
				for i, t := range targets {
					out[i] = r.Fn(t)
				}
				replacement = value.ArrayFromSlice(out)
			} else {
				replacement = r.Fn(m.value)
			}
		case ActionRuleList:
			if r.Each {
				out := make([]value.Value, len(targets))
				for i, t := range targets {
					out[i] = Apply(t, r.Rules)
				}
				replacement = value.ArrayFromSlice(out)
			} else {
				replacement = Apply(m.value, r.Rules)
			}
		}
		if replacement.IsError() {
			return replacement
		}
		cur = m.set(cur, replacement)
	}
	return cur
}

type match struct {
	value value.Value
	depth int
	set   func(doc, replacement value.Value) value.Value
}

func sortByDepthDesc(matches []match) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].depth > matches[j-1].depth; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}