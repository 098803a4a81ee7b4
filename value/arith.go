// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package value

import "math/big"

const numPrecision = 200

func newBig() *big.Float {
	return new(big.Float).SetPrec(numPrecision)
}

// Add implements `+`: numeric addition, or Text concatenation when both
// operands are Text. Any other combination is an Error, per spec.md §4.4.
func Add(a, b Value) Value {
	if a.IsError() {
		return a
	}
	if b.IsError() {
		return b
	}
	if a.IsText() && b.IsText() {
		return Text(a.txt + b.txt)
	}
	if a.IsNum() && b.IsNum() {
		return NumFromBigFloat(newBig().Add(a.num, b.num))
	}
	return Errorf("type mismatch: cannot add %s and %s", a.kind, b.kind)
}

func Sub(a, b Value) Value {
	return arith2(a, b, func(x, y *big.Float) *big.Float { return newBig().Sub(x, y) })
}

func Mul(a, b Value) Value {
	return arith2(a, b, func(x, y *big.Float) *big.Float { return newBig().Mul(x, y) })
}

func Div(a, b Value) Value {
	if a.IsError() {
		return a
	}
	if b.IsError() {
		return b
	}
	if !a.IsNum() || !b.IsNum() {
		return Errorf("type mismatch: cannot divide %s and %s", a.kind, b.kind)
	}
	if b.num.Sign() == 0 {
		return Error("division by zero")
	}
	return NumFromBigFloat(newBig().Quo(a.num, b.num))
}

func Neg(a Value) Value {
	if a.IsError() {
		return a
	}
	if !a.IsNum() {
		return Errorf("type mismatch: cannot negate %s", a.kind)
	}
	return NumFromBigFloat(newBig().Neg(a.num))
}

func Not(a Value) Value {
	if a.IsError() {
		return a
	}
	b, ok := a.AsBool()
	if !ok {
		return Errorf("type mismatch: cannot negate %s", a.kind)
	}
	return Bool(!b)
}

// Compare implements the ordered relational operators (< <= > >=). Numbers
// compare numerically, Text lexicographically; any other pairing, or a
// kind mismatch, is an Error.
func Compare(a, b Value) (int, Value) {
	if a.IsError() {
		return 0, a
	}
	if b.IsError() {
		return 0, b
	}
	if a.IsNum() && b.IsNum() {
		return a.num.Cmp(b.num), Value{}
	}
	if a.IsText() && b.IsText() {
		switch {
		case a.txt < b.txt:
			return -1, Value{}
		case a.txt > b.txt:
			return 1, Value{}
		default:
			return 0, Value{}
		}
	}
	return 0, Errorf("type mismatch: cannot compare %s and %s", a.kind, b.kind)
}

func arith2(a, b Value, op func(x, y *big.Float) *big.Float) Value {
	if a.IsError() {
		return a
	}
	if b.IsError() {
		return b
	}
	if !a.IsNum() || !b.IsNum() {
		return Errorf("type mismatch: arithmetic on %s and %s", a.kind, b.kind)
	}
	return NumFromBigFloat(op(a.num, b.num))
}