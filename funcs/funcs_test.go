// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package funcs

import (
	"strings"
	"testing"

	"github.com/saplcore/pdp/value"
)

type fakeImport struct {
	kind            ImportKindValue
	library, fn, alias string
}

func (f fakeImport) Kind() ImportKindValue { return f.kind }
func (f fakeImport) Library() string       { return f.library }
func (f fakeImport) Fn() string            { return f.fn }
func (f fakeImport) Alias() string         { return f.alias }

func TestResolutionPrecedence(t *testing.T) {
	r := NewDefaultRegistry()

	t.Run("qualified without import", func(t *testing.T) {
		s := NewScope(r, nil)
		got := s.Call("simple.length", []value.Value{value.Text("abc")})
		if !got.Equal(value.NumFromInt(3)) {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("alias import", func(t *testing.T) {
		s := NewScope(r, []ImportLike{fakeImport{kind: ImportAlias, library: "simple", alias: "s"}})
		got := s.Call("s.length", []value.Value{value.Text("abcd")})
		if !got.Equal(value.NumFromInt(4)) {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("wildcard import", func(t *testing.T) {
		s := NewScope(r, []ImportLike{fakeImport{kind: ImportWildcard, library: "simple"}})
		got := s.Call("length", []value.Value{value.Text("ab")})
		if !got.Equal(value.NumFromInt(2)) {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("single import", func(t *testing.T) {
		s := NewScope(r, []ImportLike{fakeImport{kind: ImportSingle, library: "simple", fn: "echo"}})
		got := s.Call("echo", []value.Value{value.Num(7)})
		if !got.Equal(value.Num(7)) {
			t.Fatalf("got %v", got)
		}
	})
}

func TestDuplicateImportsPoisonScope(t *testing.T) {
	r := NewDefaultRegistry()
	s := NewScope(r, []ImportLike{
		fakeImport{kind: ImportAlias, library: "simple", alias: "s"},
		fakeImport{kind: ImportAlias, library: "filter", alias: "s"},
	})
	if !s.Conflict {
		t.Fatal("expected duplicate alias to mark scope conflicted")
	}
	got := s.Call("s.length", []value.Value{value.Text("x")})
	if !got.IsError() {
		t.Fatal("expected conflicted scope to always evaluate calls to Error")
	}
}

func TestWildcardCollision(t *testing.T) {
	r := NewRegistry()
	r.Register("a", &Function{Name: "f", Arity: 0, Evaluate: func([]value.Value) value.Value { return value.Null() }})
	r.Register("b", &Function{Name: "f", Arity: 0, Evaluate: func([]value.Value) value.Value { return value.Null() }})
	s := NewScope(r, []ImportLike{
		fakeImport{kind: ImportWildcard, library: "a"},
		fakeImport{kind: ImportWildcard, library: "b"},
	})
	if !s.Conflict {
		t.Fatal("expected overlapping wildcard imports to conflict")
	}
}

func TestArityAndTypeMismatch(t *testing.T) {
	r := NewDefaultRegistry()
	s := NewScope(r, nil)

	if got := s.Call("simple.length", []value.Value{value.Text("a"), value.Text("b")}); !got.IsError() {
		t.Fatal("expected arity mismatch error")
	}
	if got := s.Call("filter.replace", []value.Value{value.Num(1), value.Text("x")}); !got.IsError() {
		t.Fatal("expected type mismatch error")
	}
}

func TestUnboundFunctionSuggestsClosest(t *testing.T) {
	r := NewDefaultRegistry()
	s := NewScope(r, nil)
	got := s.Call("simple.lenght", nil) // typo
	if !got.IsError() {
		t.Fatal("expected unbound function error")
	}
	if !strings.Contains(got.ErrorMessage(), `did you mean "simple.length"`) {
		t.Fatalf("expected a suggestion of simple.length, got %q", got.ErrorMessage())
	}
}

func TestErrorArgumentPropagates(t *testing.T) {
	r := NewDefaultRegistry()
	s := NewScope(r, nil)
	got := s.Call("simple.length", []value.Value{value.Error("boom")})
	if got.ErrorMessage() != "boom" {
		t.Fatalf("expected original error to propagate untouched, got %v", got)
	}
}

func TestBlacken(t *testing.T) {
	r := NewDefaultRegistry()
	s := NewScope(r, nil)
	got := s.Call("filter.blacken", []value.Value{value.Text("1234567890"), value.NumFromInt(2), value.NumFromInt(2)})
	want := value.Text("12XXXXXX90")
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}