// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package filter

import (
	"testing"

	"github.com/saplcore/pdp/value"
)

func obj(pairs ...interface{}) value.Value {
	o := value.NewObject()
	for i := 0; i < len(pairs); i += 2 {
		o.Set(pairs[i].(string), pairs[i+1].(value.Value))
	}
	return value.ObjectVal(o)
}

func TestApplyRemoveByKey(t *testing.T) {
	doc := obj("keep", value.Text("a"), "drop", value.Text("b"))
	out := Apply(doc, []Rule{{Selector: []Step{{Key: "drop"}}, Action: ActionRemove}})

	o, ok := out.AsObject()
	if !ok {
		t.Fatalf("got %v", out)
	}
	if _, ok := o.Get("drop"); ok {
		t.Fatal("expected 'drop' removed")
	}
	if v, ok := o.Get("keep"); !ok || !v.Equal(value.Text("a")) {
		t.Fatal("expected 'keep' preserved")
	}
}

func TestApplyFunctionRef(t *testing.T) {
	doc := obj("count", value.Num(1))
	out := Apply(doc, []Rule{{
		Selector: []Step{{Key: "count"}},
		Action:   ActionFunctionRef,
		Fn: func(cur value.Value) value.Value {
			f, _ := cur.AsFloat64()
			return value.Num(f + 1)
		},
	}})
	o, _ := out.AsObject()
	got, _ := o.Get("count")
	if !got.Equal(value.Num(2)) {
		t.Fatalf("got %v", got)
	}
}

func TestApplyEachDistributesOverArray(t *testing.T) {
	arr := value.Array(value.Num(1), value.Num(2), value.Num(3))
	doc := obj("items", arr)
	out := Apply(doc, []Rule{{
		Selector: []Step{{Key: "items"}},
		Each:     true,
		Action:   ActionFunctionRef,
		Fn: func(cur value.Value) value.Value {
			f, _ := cur.AsFloat64()
			return value.Num(f * 10)
		},
	}})
	o, _ := out.AsObject()
	items, _ := o.Get("items")
	got, _ := items.AsArray()
	want := []float64{10, 20, 30}
	for i, w := range want {
		f, _ := got[i].AsFloat64()
		if f != w {
			t.Fatalf("index %d: got %v want %v", i, f, w)
		}
	}
}

func TestApplyNestedRuleList(t *testing.T) {
	inner := obj("secret", value.Text("x"), "public", value.Text("y"))
	doc := obj("user", inner)
	out := Apply(doc, []Rule{{
		Selector: []Step{{Key: "user"}},
		Action:   ActionRuleList,
		Rules:    []Rule{{Selector: []Step{{Key: "secret"}}, Action: ActionRemove}},
	}})
	o, _ := out.AsObject()
	u, _ := o.Get("user")
	uo, _ := u.AsObject()
	if _, ok := uo.Get("secret"); ok {
		t.Fatal("expected nested 'secret' removed")
	}
	if v, ok := uo.Get("public"); !ok || !v.Equal(value.Text("y")) {
		t.Fatal("expected nested 'public' preserved")
	}
}

func TestApplyWildcardSelectsEveryValue(t *testing.T) {
	doc := obj("a", value.Num(1), "b", value.Num(2))
	out := Apply(doc, []Rule{{
		Selector: []Step{{Wildcard: true}},
		Action:   ActionFunctionRef,
		Fn:       func(value.Value) value.Value { return value.Null() },
	}})
	o, _ := out.AsObject()
	a, _ := o.Get("a")
	b, _ := o.Get("b")
	if !a.IsNull() || !b.IsNull() {
		t.Fatalf("got %v, %v", a, b)
	}
}

func TestApplyRecursiveKeyMatchesAllDepths(t *testing.T) {
	leaf := obj("id", value.Text("leaf"))
	mid := obj("id", value.Text("mid"), "child", leaf)
	doc := obj("id", value.Text("root"), "child", mid)

	out := Apply(doc, []Rule{{
		Selector: []Step{{Recursive: true, Key: "id"}},
		Action:   ActionFunctionRef,
		Fn:       func(value.Value) value.Value { return value.Text("redacted") },
	}})

	o, _ := out.AsObject()
	root, _ := o.Get("id")
	if !root.Equal(value.Text("redacted")) {
		t.Fatalf("recursive key selector must also match the top level: got %v", root)
	}
	childVal, _ := o.Get("child")
	child, _ := childVal.AsObject()
	midID, _ := child.Get("id")
	if !midID.Equal(value.Text("redacted")) {
		t.Fatalf("got %v", midID)
	}
	grandVal, _ := child.Get("child")
	grand, _ := grandVal.AsObject()
	leafID, _ := grand.Get("id")
	if !leafID.Equal(value.Text("redacted")) {
		t.Fatalf("got %v", leafID)
	}
}

func TestApplyKeyUnionSelectsListedKeys(t *testing.T) {
	doc := obj("a", value.Num(1), "b", value.Num(2), "c", value.Num(3))
	out := Apply(doc, []Rule{{
		Selector: []Step{{Keys: []string{"a", "c"}}},
		Action:   ActionRemove,
	}})
	o, _ := out.AsObject()
	if _, ok := o.Get("a"); ok {
		t.Fatal("expected 'a' removed")
	}
	if _, ok := o.Get("c"); ok {
		t.Fatal("expected 'c' removed")
	}
	if v, ok := o.Get("b"); !ok || !v.Equal(value.Num(2)) {
		t.Fatal("expected 'b' preserved")
	}
}

func TestApplyIndexRemovalDoesNotMutateInput(t *testing.T) {
	arr := value.Array(value.Num(1), value.Num(2), value.Num(3))
	doc := obj("items", arr)
	out := Apply(doc, []Rule{{
		Selector: []Step{{Key: "items"}, {Index: 1}},
		Action:   ActionRemove,
	}})

	origObj, _ := doc.AsObject()
	origItems, _ := origObj.Get("items")
	origArr, _ := origItems.AsArray()
	if len(origArr) != 3 {
		t.Fatal("input document must not be mutated")
	}

	o, _ := out.AsObject()
	items, _ := o.Get("items")
	got, _ := items.AsArray()
	if len(got) != 2 {
		t.Fatalf("expected 2 remaining elements, got %d", len(got))
	}
	f0, _ := got[0].AsFloat64()
	f1, _ := got[1].AsFloat64()
	if f0 != 1 || f1 != 3 {
		t.Fatalf("got %v, %v", f0, f1)
	}
}

func TestApplyDeepestFirstOrderingAcrossSiblingMatches(t *testing.T) {
	// A recursive selector matches "id" at both the top level and nested
	// one level down; removing both must not let the shallow rewrite
	// invalidate the deep match's rebuild path (spec.md §4.5 deepest-first
	// ordering).
	inner := obj("id", value.Text("inner"))
	doc := obj("id", value.Text("outer"), "nested", inner)

	out := Apply(doc, []Rule{{
		Selector: []Step{{Recursive: true, Key: "id"}},
		Action:   ActionRemove,
	}})
	o, _ := out.AsObject()
	if _, ok := o.Get("id"); ok {
		t.Fatal("expected top-level 'id' removed")
	}
	nestedVal, ok := o.Get("nested")
	if !ok {
		t.Fatal("expected 'nested' key preserved")
	}
	nested, _ := nestedVal.AsObject()
	if _, ok := nested.Get("id"); ok {
		t.Fatal("expected nested 'id' removed")
	}
}

func TestApplyEachAgainstNonArrayIsError(t *testing.T) {
	doc := obj("x", value.Num(1))
	out := Apply(doc, []Rule{{
		Selector: []Step{{Key: "x"}},
		Each:     true,
		Action:   ActionFunctionRef,
		Fn:       func(v value.Value) value.Value { return v },
	}})
	if !out.IsError() {
		t.Fatalf("expected error, got %v", out)
	}
}

func TestApplyEmptySelectorMatchNoneLeavesDocUnchanged(t *testing.T) {
	doc := obj("a", value.Num(1))
	out := Apply(doc, []Rule{{
		Selector: []Step{{Key: "missing"}},
		Action:   ActionRemove,
	}})
	if !out.Equal(doc) {
		t.Fatalf("expected unchanged document, got %v", out)
	}
}