// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package eval

import (
	"time"

	"github.com/saplcore/pdp/ast"
	"github.com/saplcore/pdp/attribute"
	"github.com/saplcore/pdp/value"
)

func compileCall(n *ast.Node, opts Options) (*Compiled, error) {
	argsC, err := compileAll(n.Children, opts)
	if err != nil {
		return nil, err
	}
	name := n.Name
	scope := opts.Scope
	return liftN(argsC, func(vals []value.Value) value.Value {
		if scope == nil {
			return value.Errorf("no function scope configured for call to %q", name)
		}
		return scope.Call(name, vals)
	}), nil
}

// resolveTiming merges an attribute reference's `[opts]` suffix onto the
// PDP's default timing parameters (spec.md §4.3): any field left nil in
// opts keeps the default.
func resolveTiming(def attribute.TimingParams, opts *ast.AttributeOpts) attribute.TimingParams {
	t := def
	if opts == nil {
		return t
	}
	t.Fresh = opts.Fresh
	if opts.InitialTimeout != nil {
		t.InitialTimeout = time.Duration(*opts.InitialTimeout) * time.Millisecond
	}
	if opts.PollInterval != nil {
		t.PollInterval = time.Duration(*opts.PollInterval) * time.Millisecond
	}
	if opts.Backoff != nil {
		t.Backoff = time.Duration(*opts.Backoff) * time.Millisecond
	}
	if opts.Retries != nil {
		t.Retries = *opts.Retries
	}
	return t
}

// compileAttribute lowers an attribute-finder reference into a Stream
// expression. Per spec.md §4.3 an attribute reference is always
// Stream-classified: even a poll-driven finder backed by a single value
// still flows through a station and may re-emit (retry, refresh). Entity
// and argument sub-expressions are restricted to Const/Pure — allowing
// them to themselves be Stream would make the de-duplication Key change
// out from under a live subscription, which spec.md §4.3's Key model does
// not accommodate.
func compileAttribute(n *ast.Node, opts Options) (*Compiled, error) {
	if !opts.AllowAttributes {
		return constCompiled(value.Error("attribute access is forbidden in this context")), nil
	}

	var entityC *Compiled
	if !n.IsEnvironment {
		c, err := Compile(n.Entity, opts)
		if err != nil {
			return nil, err
		}
		if c.Class == ClassStream {
			return constCompiled(value.Error("entity expression must not itself depend on a streaming attribute")), nil
		}
		entityC = c
	}

	argsC, err := compileAll(n.Args, opts)
	if err != nil {
		return nil, err
	}
	for _, a := range argsC {
		if a.Class == ClassStream {
			return constCompiled(value.Error("attribute arguments must not themselves depend on a streaming attribute")), nil
		}
	}

	name := n.Name
	timing := resolveTiming(opts.DefaultTiming, n.Opts)
	pdpConfigID := opts.PDPConfigID
	broker := opts.Broker

	return streamCompiled(func(ctx *Context) (<-chan value.Value, func()) {
		if broker == nil {
			return oneShot(value.Error("no attribute broker configured"))
		}

		var entity value.Value
		hasEntity := false
		if entityC != nil {
			hasEntity = true
			entity = entityC.EvalPure(ctx)
			if entity.IsError() {
				return oneShot(entity)
			}
		}

		args := make([]value.Value, len(argsC))
		for i, a := range argsC {
			args[i] = a.EvalPure(ctx)
			if args[i].IsError() {
				return oneShot(args[i])
			}
		}

		vars := ctx.LocalsSnapshot()
		ctx.recordKey(attribute.NewKey(pdpConfigID, name, entity, hasEntity, args, vars))

		sub, subErr := broker.Subscribe(ctx.GoContext, pdpConfigID, name, entity, hasEntity, args, vars, timing)
		if subErr != nil {
			return oneShot(value.Errorf("attribute subscribe: %v", subErr))
		}
		return sub.C, sub.Cancel
	}), nil
}

func oneShot(v value.Value) (<-chan value.Value, func()) {
	ch := make(chan value.Value, 1)
	ch <- v
	close(ch)
	return ch, func() {}
}