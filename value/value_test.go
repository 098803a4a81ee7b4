// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package value

import "testing"

func TestEqualityBasics(t *testing.T) {
	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null==null", Null(), Null(), true},
		{"undefined==undefined", Undefined(), Undefined(), true},
		{"undefined!=null", Undefined(), Null(), false},
		{"bool equal", Bool(true), Bool(true), true},
		{"bool differ", Bool(true), Bool(false), false},
		{"text equal", Text("a"), Text("a"), true},
		{"num equal diff repr", NumFromString("1.0"), NumFromString("1"), true},
		{"error never equal", Error("x"), Error("x"), false},
		{"array order sensitive", Array(Num(1), Num(2)), Array(Num(2), Num(1)), false},
		{"array equal", Array(Num(1), Num(2)), Array(Num(1), Num(2)), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.a.Equal(c.b); got != c.want {
				t.Errorf("Equal() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestObjectEqualityOrderInsensitive(t *testing.T) {
	a := NewObject()
	a.Set("a", Num(1))
	a.Set("b", Num(2))

	b := NewObject()
	b.Set("b", Num(2))
	b.Set("a", Num(1))

	if !ObjectVal(a).Equal(ObjectVal(b)) {
		t.Fatal("expected order-insensitive object equality")
	}
}

func TestObjectEqualityIgnoresUndefinedKeys(t *testing.T) {
	a := NewObject()
	a.Set("a", Num(1))
	a.Set("b", Undefined())

	b := NewObject()
	b.Set("a", Num(1))

	if !ObjectVal(a).Equal(ObjectVal(b)) {
		t.Fatal("expected objects differing only by undefined-valued keys to be equal")
	}
}

func TestObjectIterationOrderPreserved(t *testing.T) {
	o := NewObject()
	o.Set("z", Num(1))
	o.Set("a", Num(2))
	o.Set("m", Num(3))

	keys := o.Keys()
	want := []string{"z", "a", "m"}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("Keys()[%d] = %q, want %q", i, keys[i], k)
		}
	}
}

func TestArithmeticErrorPropagation(t *testing.T) {
	e := Error("boom")
	if got := Add(e, Num(1)); !got.IsError() {
		t.Fatal("expected error to propagate through Add")
	}
	if got := Add(Num(1), Text("x")); !got.IsError() {
		t.Fatal("expected type mismatch error")
	}
	if got := Add(Text("foo"), Text("bar")); got.ErrorMessage() != "" || !got.Equal(Text("foobar")) {
		t.Fatalf("expected text concatenation, got %v", got)
	}
}

func TestDivisionByZero(t *testing.T) {
	got := Div(Num(1), Num(0))
	if !got.IsError() {
		t.Fatal("expected division by zero to be an error")
	}
}

func TestArbitraryPrecision(t *testing.T) {
	a := NumFromString("0.1")
	b := NumFromString("0.2")
	sum := Add(a, b)
	want := NumFromString("0.3")
	if !sum.Equal(want) {
		t.Fatalf("expected exact decimal arithmetic: 0.1+0.2 = %v, want %v", sum, want)
	}
}

func TestDeepCopyIndependence(t *testing.T) {
	o := NewObject()
	o.Set("k", Array(Num(1)))
	v := ObjectVal(o)
	cp := v.DeepCopy()

	o.Set("k", Array(Num(2)))

	cpObj, _ := cp.AsObject()
	cpArr, _ := cpObj.Get("k")
	arr, _ := cpArr.AsArray()
	if !arr[0].Equal(Num(1)) {
		t.Fatal("DeepCopy should be unaffected by later mutation of the source object")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	raw := `{"a":1,"b":[true,null,"x"],"c":{"d":2.5}}`
	v, err := FromJSON([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	out, err := v.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	v2, err := FromJSON(out)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(v2) {
		t.Fatalf("round-trip mismatch: %s vs %s", v, v2)
	}
}

func TestCompareTypeMismatch(t *testing.T) {
	_, err := Compare(Num(1), Text("a"))
	if !err.IsError() {
		t.Fatal("expected comparing number to text to be an error")
	}
}