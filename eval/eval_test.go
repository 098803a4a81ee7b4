// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package eval

import (
	"context"
	"testing"

	"github.com/saplcore/pdp/ast"
	"github.com/saplcore/pdp/attribute"
	"github.com/saplcore/pdp/value"
)

func num(s string) *ast.Node  { return &ast.Node{Kind: ast.KindNumberLit, Num: s} }
func boolLit(b bool) *ast.Node { return &ast.Node{Kind: ast.KindBoolLit, Bool: b} }
func text(s string) *ast.Node { return &ast.Node{Kind: ast.KindTextLit, Text: s} }
func variable(name string) *ast.Node { return &ast.Node{Kind: ast.KindVariable, Name: name} }

func binop(k ast.NodeKind, l, r *ast.Node) *ast.Node { return &ast.Node{Kind: k, Left: l, Right: r} }

func newTestContext(sub Subscription) *Context {
	return NewContext(context.Background(), sub, nil, nil, "pdp-test", attribute.Default())
}

func mustCompile(t *testing.T, n *ast.Node, opts Options) *Compiled {
	t.Helper()
	c, err := Compile(n, opts)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return c
}

func TestArithmeticConstFolds(t *testing.T) {
	n := binop(ast.KindAdd, num("1"), num("2"))
	c := mustCompile(t, n, Options{})
	if c.Class != ClassConst {
		t.Fatalf("expected Const, got %v", c.Class)
	}
	got := c.EvalPure(nil)
	if !got.Equal(value.Num(3)) {
		t.Fatalf("got %v", got)
	}
}

func TestBooleanShortCircuit(t *testing.T) {
	// false && <error> must still yield false without evaluating the error.
	errNode := &ast.Node{Kind: ast.KindDiv, Left: num("1"), Right: num("0")}
	n := binop(ast.KindAnd, boolLit(false), errNode)
	c := mustCompile(t, n, Options{})
	got := c.EvalPure(nil)
	if !got.Equal(value.Bool(false)) {
		t.Fatalf("got %v", got)
	}
}

func TestVariableLookupFromSubscription(t *testing.T) {
	ctx := newTestContext(Subscription{Subject: value.Text("alice")})
	n := variable("subject")
	c := mustCompile(t, n, Options{})
	got := c.EvalPure(ctx)
	if !got.Equal(value.Text("alice")) {
		t.Fatalf("got %v", got)
	}
}

func TestUnboundVariableIsError(t *testing.T) {
	ctx := newTestContext(Subscription{})
	c := mustCompile(t, variable("nope"), Options{})
	if !c.EvalPure(ctx).IsError() {
		t.Fatal("expected error for unbound variable")
	}
}

func TestPathStepKeyAndIndex(t *testing.T) {
	obj := value.NewObject()
	obj.Set("items", value.Array(value.Num(10), value.Num(20), value.Num(30)))

	base := constLitNode(value.ObjectVal(obj))
	keyStep := &ast.Node{Kind: ast.KindPathStep, Left: base, Step: ast.StepKey, StepName: "items"}
	idxStep := &ast.Node{Kind: ast.KindPathStep, Left: keyStep, Step: ast.StepIndex, Index: 1}

	c := mustCompile(t, idxStep, Options{})
	got := c.EvalPure(nil)
	if !got.Equal(value.Num(20)) {
		t.Fatalf("got %v", got)
	}
}

func TestPathStepRecursiveIndex(t *testing.T) {
	base := constLitNode(value.Array(value.Num(1), value.Num(2), value.Num(3)))
	step := &ast.Node{Kind: ast.KindPathStep, Left: base, Step: ast.StepRecursiveIndex, Index: 1}

	c := mustCompile(t, step, Options{})
	got := c.EvalPure(nil)
	if !got.Equal(value.Array(value.Num(2))) {
		t.Fatalf("got %v", got)
	}
}

func TestPathStepRecursiveIndexNestedLaw(t *testing.T) {
	inner := value.Array(value.Num(0), value.Num(1))
	base := constLitNode(value.Array(value.Num(0), inner))
	step := &ast.Node{Kind: ast.KindPathStep, Left: base, Step: ast.StepRecursiveIndex, Index: 1}

	c := mustCompile(t, step, Options{})
	got := c.EvalPure(nil)
	want := value.Array(inner, value.Num(1))
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPathStepMissingKeyIsUndefined(t *testing.T) {
	obj := value.NewObject()
	base := constLitNode(value.ObjectVal(obj))
	keyStep := &ast.Node{Kind: ast.KindPathStep, Left: base, Step: ast.StepKey, StepName: "missing"}
	c := mustCompile(t, keyStep, Options{})
	if !c.EvalPure(nil).IsUndefined() {
		t.Fatal("expected Undefined for missing key")
	}
}

func TestWhereShortCircuitsOnFalse(t *testing.T) {
	where := &ast.Node{Kind: ast.KindWhere, Children: []*ast.Node{boolLit(false)}}
	c := mustCompile(t, where, Options{})
	got := c.EvalPure(nil)
	if !got.Equal(value.Bool(false)) {
		t.Fatalf("got %v", got)
	}
}

func TestWhereAllTrue(t *testing.T) {
	where := &ast.Node{Kind: ast.KindWhere, Children: []*ast.Node{boolLit(true), boolLit(true)}}
	c := mustCompile(t, where, Options{})
	got := c.EvalPure(nil)
	if !got.Equal(value.Bool(true)) {
		t.Fatalf("got %v", got)
	}
}

func TestWhereVarDefBinding(t *testing.T) {
	vardef := &ast.Node{Kind: ast.KindVarDef, Name: "x", Left: num("5")}
	cmpNode := binop(ast.KindEq, variable("x"), num("5"))
	where := &ast.Node{Kind: ast.KindWhere, Children: []*ast.Node{vardef, cmpNode}}
	c := mustCompile(t, where, Options{})
	got := c.EvalPure(nil)
	if !got.Equal(value.Bool(true)) {
		t.Fatalf("got %v", got)
	}
}

func TestAttributeForbiddenInTarget(t *testing.T) {
	attrNode := &ast.Node{Kind: ast.KindAttribute, IsEnvironment: true, Name: "env.test"}
	opts := Options{AllowAttributes: false}
	c := mustCompile(t, attrNode, opts)
	if c.Class != ClassConst || !c.ConstValue.IsError() {
		t.Fatalf("expected Const Error, got %v/%v", c.Class, c.ConstValue)
	}
}

func TestAttributeStreamCombinesWithArithmetic(t *testing.T) {
	reg := attribute.NewRegistry()
	reg.Register(&attribute.Finder{
		Name: "counter", IsEnvironment: true,
		Stream: func(ctx context.Context, _ value.Value, _ bool, _ []value.Value, _ map[string]value.Value) (<-chan attribute.FinderEvent, error) {
			ch := make(chan attribute.FinderEvent, 2)
			ch <- attribute.FinderEvent{Value: value.Num(1)}
			ch <- attribute.FinderEvent{Value: value.Num(2)}
			close(ch)
			return ch, nil
		},
	})
	broker := attribute.NewBroker(reg)

	attrNode := &ast.Node{Kind: ast.KindAttribute, IsEnvironment: true, Name: "counter"}
	n := binop(ast.KindAdd, attrNode, num("10"))

	opts := Options{AllowAttributes: true, Broker: broker, PDPConfigID: "pdp-1", DefaultTiming: attribute.Default()}
	c := mustCompile(t, n, opts)
	if c.Class != ClassStream {
		t.Fatalf("expected Stream, got %v", c.Class)
	}

	ctx := NewContext(context.Background(), Subscription{}, nil, broker, "pdp-1", attribute.Default())
	ch, cancel := c.EvalStream(ctx)
	defer cancel()

	first := <-ch
	second := <-ch
	if !first.Equal(value.Num(11)) || !second.Equal(value.Num(12)) {
		t.Fatalf("got %v, %v", first, second)
	}
}

func TestLogicalShortCircuitSkipsStreamingRightOperand(t *testing.T) {
	subscribed := false
	reg := attribute.NewRegistry()
	reg.Register(&attribute.Finder{
		Name: "counter", IsEnvironment: true,
		Stream: func(ctx context.Context, _ value.Value, _ bool, _ []value.Value, _ map[string]value.Value) (<-chan attribute.FinderEvent, error) {
			subscribed = true
			ch := make(chan attribute.FinderEvent, 1)
			ch <- attribute.FinderEvent{Value: value.Bool(true)}
			close(ch)
			return ch, nil
		},
	})
	broker := attribute.NewBroker(reg)

	attrNode := &ast.Node{Kind: ast.KindAttribute, IsEnvironment: true, Name: "counter"}
	n := binop(ast.KindAnd, boolLit(false), attrNode)

	opts := Options{AllowAttributes: true, Broker: broker, PDPConfigID: "pdp-1", DefaultTiming: attribute.Default()}
	c := mustCompile(t, n, opts)
	if c.Class != ClassStream {
		t.Fatalf("expected Stream, got %v", c.Class)
	}

	ctx := NewContext(context.Background(), Subscription{}, nil, broker, "pdp-1", attribute.Default())
	ch, cancel := c.EvalStream(ctx)
	defer cancel()

	got := <-ch
	if !got.Equal(value.Bool(false)) {
		t.Fatalf("got %v", got)
	}
	if subscribed {
		t.Fatal("expected the streaming right operand never to be subscribed")
	}
}

func TestTransformRemove(t *testing.T) {
	obj := value.NewObject()
	obj.Set("keep", value.Text("a"))
	obj.Set("drop", value.Text("b"))

	base := constLitNode(value.ObjectVal(obj))
	filterSpec := &ast.Node{Kind: ast.KindFilterSpec, FilterKind: ast.FilterRemove}
	xform := &ast.Node{Kind: ast.KindTransform, Base: base, Filter: filterSpec}

	c := mustCompile(t, xform, Options{})
	if c.Class != ClassConst {
		t.Fatalf("expected Const, got %v", c.Class)
	}
	got := c.EvalPure(nil)
	if !got.Equal(value.Undefined()) {
		t.Fatalf("bare 'remove' should drop the whole document, got %v", got)
	}
}

func TestTransformRuleListRemovesKey(t *testing.T) {
	obj := value.NewObject()
	obj.Set("keep", value.Text("a"))
	obj.Set("drop", value.Text("b"))

	base := constLitNode(value.ObjectVal(obj))
	relative := &ast.Node{Kind: ast.KindRelativeRef}
	selector := &ast.Node{Kind: ast.KindPathStep, Left: relative, Step: ast.StepKey, StepName: "drop"}
	rule := &ast.Node{Kind: ast.KindFilterRule, Selector: selector, IsRemove: true}
	filterSpec := &ast.Node{Kind: ast.KindFilterSpec, FilterKind: ast.FilterRuleList, Rules: []*ast.Node{rule}}
	xform := &ast.Node{Kind: ast.KindTransform, Base: base, Filter: filterSpec}

	c := mustCompile(t, xform, Options{})
	got := c.EvalPure(nil)
	obj2, ok := got.AsObject()
	if !ok {
		t.Fatalf("expected object, got %v", got)
	}
	if _, ok := obj2.Get("drop"); ok {
		t.Fatal("expected 'drop' key removed")
	}
	if v, ok := obj2.Get("keep"); !ok || !v.Equal(value.Text("a")) {
		t.Fatal("expected 'keep' key preserved")
	}
}

func TestSubtemplateMapsOverElements(t *testing.T) {
	arr := &ast.Node{Kind: ast.KindArrayLit, Children: []*ast.Node{num("1"), num("2"), num("3")}}
	relative := &ast.Node{Kind: ast.KindRelativeRef}
	tmpl := binop(ast.KindMul, relative, num("10"))
	sub := &ast.Node{Kind: ast.KindSubtemplate, Left: arr, Template: tmpl}

	c := mustCompile(t, sub, Options{})
	got := c.EvalPure(nil)
	arrOut, ok := got.AsArray()
	if !ok || len(arrOut) != 3 {
		t.Fatalf("got %v", got)
	}
	if !arrOut[0].Equal(value.Num(10)) || !arrOut[2].Equal(value.Num(30)) {
		t.Fatalf("got %v", arrOut)
	}
}

func constLitNode(v value.Value) *ast.Node {
	switch v.Kind() {
	case value.KindObject:
		obj, _ := v.AsObject()
		n := &ast.Node{Kind: ast.KindObjectLit}
		for _, k := range obj.Keys() {
			val, _ := obj.Get(k)
			n.Keys = append(n.Keys, k)
			n.Children = append(n.Children, constLitNode(val))
		}
		return n
	case value.KindArray:
		arr, _ := v.AsArray()
		n := &ast.Node{Kind: ast.KindArrayLit}
		for _, e := range arr {
			n.Children = append(n.Children, constLitNode(e))
		}
		return n
	case value.KindText:
		s, _ := v.AsText()
		return text(s)
	case value.KindBool:
		b, _ := v.AsBool()
		return boolLit(b)
	case value.KindNum:
		return num(v.String())
	default:
		return &ast.Node{Kind: ast.KindNullLit}
	}
}