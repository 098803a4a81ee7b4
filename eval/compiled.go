// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package eval

import (
	"sync"

	"github.com/saplcore/pdp/value"
)

// Class is the Const/Pure/Stream classification of spec.md §3/§4.4.
type Class int

const (
	ClassConst Class = iota
	ClassPure
	ClassStream
)

func (c Class) String() string {
	switch c {
	case ClassConst:
		return "const"
	case ClassPure:
		return "pure"
	case ClassStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Compiled is one compiled expression node. Exactly one evaluation path is
// meaningful depending on Class:
//   - ClassConst: ConstValue holds the statically folded result; EvalPure
//     also works (and simply returns ConstValue) so callers may treat
//     Const uniformly with Pure.
//   - ClassPure: call EvalPure(ctx) once per subscription.
//   - ClassStream: call EvalStream(ctx) to obtain a channel of successive
//     re-evaluations plus a cancel function.
type Compiled struct {
	Class      Class
	ConstValue value.Value
	EvalPure   func(ctx *Context) value.Value
	EvalStream func(ctx *Context) (<-chan value.Value, func())
}

func constCompiled(v value.Value) *Compiled {
	return &Compiled{
		Class: ClassConst, ConstValue: v,
		EvalPure: func(*Context) value.Value { return v },
	}
}

func pureCompiled(fn func(ctx *Context) value.Value) *Compiled {
	return &Compiled{Class: ClassPure, EvalPure: fn}
}

func streamCompiled(fn func(ctx *Context) (<-chan value.Value, func())) *Compiled {
	return &Compiled{Class: ClassStream, EvalStream: fn}
}

// source is one input to combineLatest: either a frozen value (from a
// Const/Pure child, evaluated exactly once) or a live channel (from a
// Stream child).
type source struct {
	ch     <-chan value.Value
	frozen value.Value
	cancel func()
}

func toSource(ctx *Context, c *Compiled) source {
	if c.Class != ClassStream {
		return source{frozen: c.EvalPure(ctx), cancel: func() {}}
	}
	ch, cancel := c.EvalStream(ctx)
	return source{ch: ch, cancel: cancel}
}

// combineLatest re-evaluates combine over the latest known value of every
// source whenever any live (stream) source emits, once every source has
// emitted at least once (frozen sources count as already-emitted). This is
// the evaluator's general mechanism for lifting n-ary pure operators
// (arithmetic, boolean, calls, literals, path steps, ...) over operands
// that may themselves be streaming, per spec.md §4.4's "the current
// expression re-evaluates each time the station emits".
func combineLatest(sources []source, combine func(vals []value.Value) value.Value) (<-chan value.Value, func()) {
	n := len(sources)
	latest := make([]value.Value, n)
	has := make([]bool, n)
	var mu sync.Mutex

	for i, s := range sources {
		if s.ch == nil {
			latest[i] = s.frozen
			has[i] = true
		}
	}

	out := make(chan value.Value, 1)
	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	var wg sync.WaitGroup
	emit := func() {
		mu.Lock()
		ready := true
		for _, h := range has {
			if !h {
				ready = false
				break
			}
		}
		var vals []value.Value
		if ready {
			vals = append([]value.Value(nil), latest...)
		}
		mu.Unlock()
		if !ready {
			return
		}
		select {
		case out <- combine(vals):
		case <-done:
		}
	}

	anyLive := false
	for i, s := range sources {
		if s.ch == nil {
			continue
		}
		anyLive = true
		wg.Add(1)
		go func(i int, ch <-chan value.Value) {
			defer wg.Done()
			for {
				select {
				case v, ok := <-ch:
					if !ok {
						return
					}
					mu.Lock()
					latest[i] = v
					has[i] = true
					mu.Unlock()
					emit()
				case <-done:
					return
				}
			}
		}(i, s.ch)
	}

	if !anyLive {
		// Every source was frozen; emit exactly once. Callers should not
		// normally reach combineLatest in this situation (it only exists
		// for Stream-classified nodes, which by construction have at
		// least one Stream child) but handling it keeps the combinator
		// total.
		go func() {
			defer close(out)
			emit()
		}()
		return out, closeDone
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	cancel := func() {
		closeDone()
		for _, s := range sources {
			if s.cancel != nil {
				s.cancel()
			}
		}
	}
	return out, cancel
}