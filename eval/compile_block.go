// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package eval

import (
	"github.com/saplcore/pdp/ast"
	"github.com/saplcore/pdp/value"
)

type stmt struct {
	isVarDef bool
	name     string
	compiled *Compiled
}

func compileStmts(children []*ast.Node, opts Options) ([]stmt, error) {
	out := make([]stmt, len(children))
	for i, c := range children {
		if c.Kind == ast.KindVarDef {
			ec, err := Compile(c.Left, opts)
			if err != nil {
				return nil, err
			}
			out[i] = stmt{isVarDef: true, name: c.Name, compiled: ec}
			continue
		}
		ec, err := Compile(c, opts)
		if err != nil {
			return nil, err
		}
		out[i] = stmt{compiled: ec}
	}
	return out, nil
}

// CompileBlock compiles a KindBlock node: a sequence of var-defs followed by
// a final result expression (spec.md §4.4, "Block"). It returns the bound
// variable names in source order alongside the compiled result, for callers
// (policy-set variable chaining) that need them.
func CompileBlock(n *ast.Node, opts Options) (*Compiled, []string, error) {
	stmts, err := compileStmts(n.Children, opts)
	if err != nil {
		return nil, nil, err
	}
	var names []string
	for _, s := range stmts {
		if s.isVarDef {
			names = append(names, s.name)
		}
	}
	if len(stmts) == 0 {
		return constCompiled(value.Undefined()), names, nil
	}
	return sequence(stmts, false), names, nil
}

// CompileWhere compiles a KindWhere node: a sequence of var-defs and boolean
// statements (spec.md §4.4, "Where"). The body is decisive-true only if
// every boolean statement evaluates true; the first false statement short-
// circuits to false, the first Error short-circuits to that Error, and a
// non-boolean statement value is a type-mismatch Error.
func CompileWhere(n *ast.Node, opts Options) (*Compiled, error) {
	stmts, err := compileStmts(n.Children, opts)
	if err != nil {
		return nil, err
	}
	if len(stmts) == 0 {
		return constCompiled(value.Bool(true)), nil
	}
	return sequence(stmts, true), nil
}

// sequence builds the Compiled expression for a statement list. isWhere
// selects where-semantics (every non-var-def statement must be boolean and
// true, short-circuiting on false/Error) versus block-semantics (the last
// statement's value is the result; it is expected not to be a var-def).
//
// When no statement is Stream-classified the whole sequence collapses to a
// single synchronous Pure evaluation. A Stream-classified var-def or
// statement forces the remaining suffix to re-run each time it re-emits,
// implemented as a recursive fan-out over freshly-derived contexts.
func sequence(stmts []stmt, isWhere bool) *Compiled {
	anyStream := false
	for _, s := range stmts {
		if s.compiled.Class == ClassStream {
			anyStream = true
			break
		}
	}
	if !anyStream {
		return pureCompiled(func(ctx *Context) value.Value {
			return runPureSeq(ctx, stmts, 0, isWhere)
		})
	}
	return streamCompiled(func(ctx *Context) (<-chan value.Value, func()) {
		out := make(chan value.Value, 1)
		cancel := runStreamSeq(ctx, stmts, 0, isWhere, out)
		return out, cancel
	})
}

func runPureSeq(ctx *Context, stmts []stmt, idx int, isWhere bool) value.Value {
	if idx == len(stmts) {
		if isWhere {
			return value.Bool(true)
		}
		return value.Undefined()
	}
	s := stmts[idx]
	v := s.compiled.EvalPure(ctx)
	if s.isVarDef {
		return runPureSeq(ctx.WithVariable(s.name, v), stmts, idx+1, isWhere)
	}
	if idx == len(stmts)-1 && !isWhere {
		return v
	}
	if v.IsError() {
		return v
	}
	if isWhere {
		b, ok := v.AsBool()
		if !ok {
			return value.Errorf("where statement must be boolean, got %s", v.Kind())
		}
		if !b {
			return value.Bool(false)
		}
	}
	return runPureSeq(ctx, stmts, idx+1, isWhere)
}

// runStreamSeq recursively fans out over Stream statements: each time a
// live statement re-emits it spawns (and, via cancel composition, tears
// down) the evaluation of the remainder of the sequence, forwarding the
// remainder's emissions onto out. It returns a cancel function that stops
// the whole subtree.
func runStreamSeq(ctx *Context, stmts []stmt, idx int, isWhere bool, out chan<- value.Value) func() {
	if idx == len(stmts) {
		if isWhere {
			out <- value.Bool(true)
		} else {
			out <- value.Undefined()
		}
		return func() {}
	}
	s := stmts[idx]

	if s.compiled.Class != ClassStream {
		v := s.compiled.EvalPure(ctx)
		return runStreamStep(ctx, stmts, idx, isWhere, v, out)
	}

	ch, cancel := s.compiled.EvalStream(ctx)
	done := make(chan struct{})
	childCancel := func() {}
	go func() {
		for {
			select {
			case v, ok := <-ch:
				if !ok {
					return
				}
				childCancel()
				childCancel = runStreamStep(ctx, stmts, idx, isWhere, v, out)
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		cancel()
		childCancel()
	}
}

func runStreamStep(ctx *Context, stmts []stmt, idx int, isWhere bool, v value.Value, out chan<- value.Value) func() {
	s := stmts[idx]
	if s.isVarDef {
		return runStreamSeq(ctx.WithVariable(s.name, v), stmts, idx+1, isWhere, out)
	}
	if idx == len(stmts)-1 && !isWhere {
		out <- v
		return func() {}
	}
	if v.IsError() {
		out <- v
		return func() {}
	}
	if isWhere {
		b, ok := v.AsBool()
		if !ok {
			out <- value.Errorf("where statement must be boolean, got %s", v.Kind())
			return func() {}
		}
		if !b {
			out <- value.Bool(false)
			return func() {}
		}
	}
	return runStreamSeq(ctx, stmts, idx+1, isWhere, out)
}