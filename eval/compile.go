// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package eval

import (
	"fmt"
	"regexp"

	"github.com/saplcore/pdp/ast"
	"github.com/saplcore/pdp/attribute"
	"github.com/saplcore/pdp/funcs"
	"github.com/saplcore/pdp/value"
)

// Options carries everything Compile needs beyond the tree itself: the
// function scope a KindCall resolves against, the attribute broker a
// KindAttribute subscribes through, and whether attribute access is
// permitted at all in the position being compiled.
type Options struct {
	// AllowAttributes is false while compiling a policy/policy-set target
	// (spec.md §4.3, §4.6: "Attribute access in the target is forbidden;
	// attempting it makes the document Indeterminate"). A KindAttribute
	// node compiled with AllowAttributes=false becomes a Const Error,
	// which conservatively poisons any enclosing expression up to
	// Const(Error) — exactly the "indeterminate-target" case §4.6 asks
	// for.
	AllowAttributes bool

	Scope         *funcs.Scope
	Broker        *attribute.Broker
	PDPConfigID   string
	DefaultTiming attribute.TimingParams
}

// Compile lowers an ast.Node into a Compiled expression. Structural errors
// (malformed trees the compiler itself cannot make sense of — a
// parser-collaborator bug, not a policy-authoring mistake) are returned as
// a Go error; every *evaluable* failure (unbound names, type mismatches,
// forbidden attribute access, etc.) is instead embedded as a Const/Pure
// Error value per spec.md §7 ("errors... never escape the core").
func Compile(n *ast.Node, opts Options) (*Compiled, error) {
	if n == nil {
		return constCompiled(value.Undefined()), nil
	}
	switch n.Kind {
	case ast.KindNullLit:
		return constCompiled(value.Null()), nil
	case ast.KindBoolLit:
		return constCompiled(value.Bool(n.Bool)), nil
	case ast.KindNumberLit:
		return constCompiled(value.NumFromString(n.Num)), nil
	case ast.KindTextLit:
		return constCompiled(value.Text(n.Text)), nil
	case ast.KindArrayLit:
		return compileArrayLit(n, opts)
	case ast.KindObjectLit:
		return compileObjectLit(n, opts)
	case ast.KindVariable:
		return compileVariable(n), nil
	case ast.KindRelativeRef:
		return compileRelative(), nil
	case ast.KindVarDef:
		return nil, fmt.Errorf("KindVarDef must be compiled via CompileBlock, not Compile")
	case ast.KindBlock:
		c, _, err := CompileBlock(n, opts)
		return c, err
	case ast.KindWhere:
		return CompileWhere(n, opts)
	case ast.KindAdd, ast.KindSub, ast.KindMul, ast.KindDiv,
		ast.KindAnd, ast.KindOr, ast.KindLt, ast.KindLe, ast.KindGt, ast.KindGe,
		ast.KindEq, ast.KindNe, ast.KindRegexMatch:
		return compileBinary(n, opts)
	case ast.KindNot, ast.KindNeg:
		return compileUnary(n, opts)
	case ast.KindCall:
		return compileCall(n, opts)
	case ast.KindAttribute:
		return compileAttribute(n, opts)
	case ast.KindPathStep:
		return compilePathStep(n, opts)
	case ast.KindTransform:
		return compileTransform(n, opts)
	case ast.KindSubtemplate:
		return compileSubtemplate(n, opts)
	default:
		return nil, fmt.Errorf("unsupported node kind %v", n.Kind)
	}
}

func compileVariable(n *ast.Node) *Compiled {
	name := n.Name
	return pureCompiled(func(ctx *Context) value.Value {
		v, ok := ctx.Lookup(name)
		if !ok {
			return value.Errorf("unbound variable %q", name)
		}
		return v
	})
}

func compileRelative() *Compiled {
	return pureCompiled(func(ctx *Context) value.Value {
		v, ok := ctx.Relative()
		if !ok {
			return value.Error("'@' used outside a relative context")
		}
		return v
	})
}

func compileArrayLit(n *ast.Node, opts Options) (*Compiled, error) {
	children, err := compileAll(n.Children, opts)
	if err != nil {
		return nil, err
	}
	return liftN(children, func(vals []value.Value) value.Value {
		for _, v := range vals {
			if v.IsError() {
				return v
			}
		}
		return value.ArrayFromSlice(append([]value.Value(nil), vals...))
	}), nil
}

func compileObjectLit(n *ast.Node, opts Options) (*Compiled, error) {
	children, err := compileAll(n.Children, opts)
	if err != nil {
		return nil, err
	}
	keys := n.Keys
	return liftN(children, func(vals []value.Value) value.Value {
		obj := value.NewObject()
		for i, v := range vals {
			if v.IsError() {
				return v
			}
			obj.Set(keys[i], v)
		}
		return value.ObjectVal(obj)
	}), nil
}

func compileAll(nodes []*ast.Node, opts Options) ([]*Compiled, error) {
	out := make([]*Compiled, len(nodes))
	for i, c := range nodes {
		cc, err := Compile(c, opts)
		if err != nil {
			return nil, err
		}
		out[i] = cc
	}
	return out, nil
}

// liftN combines n already-compiled children into one Compiled expression:
// Const if every child is Const, Stream if any child is Stream, Pure
// otherwise.
func liftN(children []*Compiled, combine func(vals []value.Value) value.Value) *Compiled {
	allConst := true
	anyStream := false
	for _, c := range children {
		if c.Class != ClassConst {
			allConst = false
		}
		if c.Class == ClassStream {
			anyStream = true
		}
	}
	if allConst {
		vals := make([]value.Value, len(children))
		for i, c := range children {
			vals[i] = c.ConstValue
		}
		return constCompiled(combine(vals))
	}
	if !anyStream {
		return pureCompiled(func(ctx *Context) value.Value {
			vals := make([]value.Value, len(children))
			for i, c := range children {
				vals[i] = c.EvalPure(ctx)
			}
			return combine(vals)
		})
	}
	return streamCompiled(func(ctx *Context) (<-chan value.Value, func()) {
		srcs := make([]source, len(children))
		for i, c := range children {
			srcs[i] = toSource(ctx, c)
		}
		return combineLatest(srcs, combine)
	})
}

func lift1(a *Compiled, combine func(v value.Value) value.Value) *Compiled {
	return liftN([]*Compiled{a}, func(vals []value.Value) value.Value { return combine(vals[0]) })
}

func lift2(a, b *Compiled, combine func(x, y value.Value) value.Value) *Compiled {
	return liftN([]*Compiled{a, b}, func(vals []value.Value) value.Value { return combine(vals[0], vals[1]) })
}

func compileBinary(n *ast.Node, opts Options) (*Compiled, error) {
	left, err := Compile(n.Left, opts)
	if err != nil {
		return nil, err
	}
	right, err := Compile(n.Right, opts)
	if err != nil {
		return nil, err
	}
	switch n.Kind {
	case ast.KindAdd:
		return lift2(left, right, value.Add), nil
	case ast.KindSub:
		return lift2(left, right, value.Sub), nil
	case ast.KindMul:
		return lift2(left, right, value.Mul), nil
	case ast.KindDiv:
		return lift2(left, right, value.Div), nil
	case ast.KindAnd:
		return compileLogical(left, right, true), nil
	case ast.KindOr:
		return compileLogical(left, right, false), nil
	case ast.KindLt:
		return lift2(left, right, cmpOp(func(c int) bool { return c < 0 })), nil
	case ast.KindLe:
		return lift2(left, right, cmpOp(func(c int) bool { return c <= 0 })), nil
	case ast.KindGt:
		return lift2(left, right, cmpOp(func(c int) bool { return c > 0 })), nil
	case ast.KindGe:
		return lift2(left, right, cmpOp(func(c int) bool { return c >= 0 })), nil
	case ast.KindEq:
		return lift2(left, right, func(a, b value.Value) value.Value {
			if a.IsError() {
				return a
			}
			if b.IsError() {
				return b
			}
			return value.Bool(a.Equal(b))
		}), nil
	case ast.KindNe:
		return lift2(left, right, func(a, b value.Value) value.Value {
			if a.IsError() {
				return a
			}
			if b.IsError() {
				return b
			}
			return value.Bool(!a.Equal(b))
		}), nil
	case ast.KindRegexMatch:
		return lift2(left, right, regexMatch), nil
	default:
		return nil, fmt.Errorf("unreachable: binary node kind %v", n.Kind)
	}
}

func boolAnd(a, b value.Value) value.Value {
	if a.IsError() {
		return a
	}
	ab, ok := a.AsBool()
	if !ok {
		return value.Errorf("type mismatch: && expects boolean, got %s", a.Kind())
	}
	if !ab {
		return value.Bool(false)
	}
	if b.IsError() {
		return b
	}
	bb, ok := b.AsBool()
	if !ok {
		return value.Errorf("type mismatch: && expects boolean, got %s", b.Kind())
	}
	return value.Bool(bb)
}

func boolOr(a, b value.Value) value.Value {
	if a.IsError() {
		return a
	}
	ab, ok := a.AsBool()
	if !ok {
		return value.Errorf("type mismatch: || expects boolean, got %s", a.Kind())
	}
	if ab {
		return value.Bool(true)
	}
	if b.IsError() {
		return b
	}
	bb, ok := b.AsBool()
	if !ok {
		return value.Errorf("type mismatch: || expects boolean, got %s", b.Kind())
	}
	return value.Bool(bb)
}

// compileLogical lifts && / || over operands that may stream, short-
// circuiting without subscribing a streaming right operand when the left
// operand is already known (Const/Pure) and decisive — the general case
// of two streaming operands still falls back to lift2's combineLatest,
// since dynamically toggling a subscription as the left stream's value
// changes is not worth the added complexity here.
func compileLogical(left, right *Compiled, isAnd bool) *Compiled {
	combine := boolAnd
	if !isAnd {
		combine = boolOr
	}
	if left.Class != ClassStream && right.Class == ClassStream {
		return streamCompiled(func(ctx *Context) (<-chan value.Value, func()) {
			lv := left.EvalPure(ctx)
			if sc, ok := shortCircuits(isAnd, lv); ok {
				out := make(chan value.Value, 1)
				out <- sc
				close(out)
				return out, func() {}
			}
			rch, cancel := right.EvalStream(ctx)
			out := make(chan value.Value, 1)
			go func() {
				defer close(out)
				for rv := range rch {
					out <- combine(lv, rv)
				}
			}()
			return out, cancel
		})
	}
	return lift2(left, right, combine)
}

// shortCircuits reports whether v already determines the result of && (if
// isAnd) or || (otherwise) without needing the other operand.
func shortCircuits(isAnd bool, v value.Value) (value.Value, bool) {
	if v.IsError() {
		return v, true
	}
	b, ok := v.AsBool()
	if !ok {
		op := "&&"
		if !isAnd {
			op = "||"
		}
		return value.Errorf("type mismatch: %s expects boolean, got %s", op, v.Kind()), true
	}
	if isAnd && !b {
		return value.Bool(false), true
	}
	if !isAnd && b {
		return value.Bool(true), true
	}
	return value.Value{}, false
}

func cmpOp(test func(int) bool) func(a, b value.Value) value.Value {
	return func(a, b value.Value) value.Value {
		c, errv := value.Compare(a, b)
		if errv.IsError() {
			return errv
		}
		return value.Bool(test(c))
	}
}

func regexMatch(a, b value.Value) value.Value {
	if a.IsError() {
		return a
	}
	if b.IsError() {
		return b
	}
	s, ok := a.AsText()
	if !ok {
		return value.Errorf("type mismatch: =~ expects text operand, got %s", a.Kind())
	}
	pat, ok := b.AsText()
	if !ok {
		return value.Errorf("type mismatch: =~ expects text pattern, got %s", b.Kind())
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return value.Errorf("invalid regular expression %q: %v", pat, err)
	}
	return value.Bool(re.MatchString(s))
}

func compileUnary(n *ast.Node, opts Options) (*Compiled, error) {
	operand, err := Compile(n.Left, opts)
	if err != nil {
		return nil, err
	}
	switch n.Kind {
	case ast.KindNeg:
		return lift1(operand, value.Neg), nil
	case ast.KindNot:
		return lift1(operand, value.Not), nil
	default:
		return nil, fmt.Errorf("unreachable: unary node kind %v", n.Kind)
	}
}