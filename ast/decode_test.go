// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package ast

import "testing"

func TestDecodeExprRecursiveIndexStep(t *testing.T) {
	raw := []byte(`{
		"kind": "pathStep",
		"step": "recursiveIndex",
		"index": 1,
		"left": {"kind": "array", "children": [{"kind": "number", "num": "1"}]}
	}`)
	n, err := DecodeExpr(raw)
	if err != nil {
		t.Fatal(err)
	}
	if n.Kind != KindPathStep || n.Step != StepRecursiveIndex || n.Index != 1 {
		t.Fatalf("got kind=%v step=%v index=%d", n.Kind, n.Step, n.Index)
	}
}
