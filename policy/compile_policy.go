// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package policy

import (
	"sync"

	"github.com/saplcore/pdp/ast"
	"github.com/saplcore/pdp/combining"
	"github.com/saplcore/pdp/eval"
	"github.com/saplcore/pdp/funcs"
	"github.com/saplcore/pdp/value"
)

// body holds the compiled where-clause and constraint-clause expressions
// of a single policy, aggregated (per spec.md §4.6 step 2, "aggregate the
// resulting vote-producer as a single compiled expression") into one
// ordered slot list: [where, transform?, obligation..., advice...]. The
// combine callback below is what turns one fully-resolved slot vector into
// a combining.Vote, short-circuiting constraint-clause evaluation when the
// where-clause itself is not decisively true.
type body struct {
	where       *eval.Compiled
	transform   *eval.Compiled // nil when the policy declares no transform
	obligations []*eval.Compiled
	advice      []*eval.Compiled
}

func (b *body) slots() []*eval.Compiled {
	slots := make([]*eval.Compiled, 0, 1+len(b.obligations)+len(b.advice)+1)
	slots = append(slots, b.where)
	if b.transform != nil {
		slots = append(slots, b.transform)
	}
	slots = append(slots, b.obligations...)
	slots = append(slots, b.advice...)
	return slots
}

// combine turns one fully-resolved slot vector (in the exact order slots()
// produced them) into the policy's vote, given its entitlement (used both
// for the decisive decision and for the INDETERMINATE outcome tag, spec.md
// §4.7 "Vote outcome tag").
func (b *body) combine(entitlement ast.Entitlement, vals []value.Value) combining.Vote {
	tag := combining.TagFor(entitlement)
	idx := 0
	whereV := vals[idx]
	idx++
	if whereV.IsError() {
		return combining.Vote{Decision: combining.Indeterminate, OutcomeTag: tag, Err: whereV.ErrorMessage(), Resource: value.Undefined()}
	}
	ok, isBool := whereV.AsBool()
	if !isBool {
		return combining.Vote{Decision: combining.Indeterminate, OutcomeTag: tag, Err: "where-body did not evaluate to boolean", Resource: value.Undefined()}
	}
	if !ok {
		return combining.Vote{Decision: combining.NotApplicable, Resource: value.Undefined()}
	}

	resource := value.Undefined()
	if b.transform != nil {
		resource = vals[idx]
		idx++
		if resource.IsError() {
			return combining.Vote{Decision: combining.Indeterminate, OutcomeTag: tag, Err: resource.ErrorMessage(), Resource: value.Undefined()}
		}
	}

	obligations := make([]value.Value, 0, len(b.obligations))
	for range b.obligations {
		v := vals[idx]
		idx++
		if v.IsError() {
			return combining.Vote{Decision: combining.Indeterminate, OutcomeTag: tag, Err: v.ErrorMessage(), Resource: value.Undefined()}
		}
		obligations = append(obligations, v)
	}
	advice := make([]value.Value, 0, len(b.advice))
	for range b.advice {
		v := vals[idx]
		idx++
		if v.IsError() {
			return combining.Vote{Decision: combining.Indeterminate, OutcomeTag: tag, Err: v.ErrorMessage(), Resource: value.Undefined()}
		}
		advice = append(advice, v)
	}

	decision := combining.Permit
	if entitlement == ast.EntitlementDeny {
		decision = combining.Deny
	}
	return combining.Vote{
		Decision:    decision,
		Applicable:  true,
		Obligations: obligations,
		Advice:      advice,
		Resource:    resource,
	}
}

// CompilePolicy compiles an ast.Policy into a Voter (spec.md §4.6 steps
// 1-3).
func CompilePolicy(p *ast.Policy, env Env) (*Voter, error) {
	scope := funcs.NewScope(env.Registry, adaptImports(p.Imports))
	tag := combining.TagFor(p.Entitlement)
	if scope.Conflict {
		return poisoned(p.Name, tag, "import conflict: "+scope.ConflictMsg), nil
	}

	targetOpts := eval.Options{AllowAttributes: false, Scope: scope, Broker: env.Broker, PDPConfigID: env.PDPConfigID, DefaultTiming: env.Timing}
	bodyOpts := eval.Options{AllowAttributes: true, Scope: scope, Broker: env.Broker, PDPConfigID: env.PDPConfigID, DefaultTiming: env.Timing}

	targetNode := p.Target
	if targetNode == nil {
		targetNode = trueLit()
	}
	targetC, err := eval.Compile(targetNode, targetOpts)
	if err != nil {
		return nil, err
	}

	if targetC.Class == eval.ClassStream {
		// Defensive: eval.Compile with AllowAttributes=false already folds
		// attribute references to a Const error, so this should not occur
		// in practice; kept as the spec's explicit rejection path (§4.6
		// step 1, "If Stream, reject").
		return poisoned(p.Name, tag, "attribute access forbidden in target"), nil
	}

	var targetConstApplicable bool
	if targetC.Class == eval.ClassConst {
		tv := targetC.ConstValue
		if tv.IsError() {
			return poisoned(p.Name, tag, "indeterminate target: "+tv.ErrorMessage()), nil
		}
		b, isBool := tv.AsBool()
		if !isBool {
			return poisoned(p.Name, tag, "indeterminate target: non-boolean constant"), nil
		}
		if !b {
			return notApplicable(p.Name), nil
		}
		targetConstApplicable = true
	}

	bd, err := compileBody(p, bodyOpts)
	if err != nil {
		return nil, err
	}
	slots := bd.slots()

	bodyClass := eval.ClassConst
	for _, s := range slots {
		if s.Class == eval.ClassStream {
			bodyClass = eval.ClassStream
			break
		}
		if s.Class == eval.ClassPure && bodyClass == eval.ClassConst {
			bodyClass = eval.ClassPure
		}
	}

	// Const target + const body: fold statically, no Voter closures needed.
	if targetC.Class == eval.ClassConst && bodyClass == eval.ClassConst {
		vals := make([]value.Value, len(slots))
		for i, s := range slots {
			vals[i] = s.ConstValue
		}
		vote := bd.combine(p.Entitlement, vals)
		return &Voter{Name: p.Name, Class: ConstVote, ConstResult: vote}, nil
	}

	overallClass := PureVoter
	if targetC.Class == eval.ClassStream || bodyClass == eval.ClassStream {
		overallClass = StreamVoter
	}

	evalTarget := func(ctx *eval.Context) (applicable bool, poison *combining.Vote) {
		if targetC.Class == eval.ClassConst {
			return targetConstApplicable, nil
		}
		tv := targetC.EvalPure(ctx)
		if tv.IsError() {
			v := combining.Vote{Decision: combining.Indeterminate, OutcomeTag: tag, Err: "indeterminate target: " + tv.ErrorMessage(), Resource: value.Undefined()}
			return false, &v
		}
		b, isBool := tv.AsBool()
		if !isBool {
			v := combining.Vote{Decision: combining.Indeterminate, OutcomeTag: tag, Err: "indeterminate target: non-boolean constant", Resource: value.Undefined()}
			return false, &v
		}
		return b, nil
	}

	evalPure := func(ctx *eval.Context) combining.Vote {
		ok, poison := evalTarget(ctx)
		if poison != nil {
			v := *poison
			v.Keys = ctx.AttributeKeys()
			return v
		}
		if !ok {
			return combining.Vote{Decision: combining.NotApplicable, Resource: value.Undefined()}
		}
		vals := make([]value.Value, len(slots))
		for i, s := range slots {
			vals[i] = s.EvalPure(ctx)
		}
		vote := bd.combine(p.Entitlement, vals)
		vote.Keys = ctx.AttributeKeys()
		return vote
	}

	if overallClass == PureVoter {
		return &Voter{Name: p.Name, Class: PureVoter, EvalPure: evalPure}, nil
	}

	evalStream := func(ctx *eval.Context) (<-chan combining.Vote, func()) {
		ok, poison := evalTarget(ctx)
		if poison != nil {
			v := *poison
			v.Keys = ctx.AttributeKeys()
			return oneShotVote(v)
		}
		if !ok {
			return oneShotVote(combining.Vote{Decision: combining.NotApplicable, Resource: value.Undefined()})
		}
		if bodyClass != eval.ClassStream {
			vals := make([]value.Value, len(slots))
			for i, s := range slots {
				vals[i] = s.EvalPure(ctx)
			}
			vote := bd.combine(p.Entitlement, vals)
			vote.Keys = ctx.AttributeKeys()
			return oneShotVote(vote)
		}
		return combineSlotsLatest(ctx, slots, func(vals []value.Value) combining.Vote {
			vote := bd.combine(p.Entitlement, vals)
			vote.Keys = ctx.AttributeKeys()
			return vote
		})
	}

	return &Voter{Name: p.Name, Class: StreamVoter, EvalStream: evalStream}, nil
}

func compileBody(p *ast.Policy, opts eval.Options) (*body, error) {
	var whereC *eval.Compiled
	var err error
	if p.Where != nil {
		whereC, err = eval.CompileWhere(p.Where, opts)
	} else {
		whereC, err = eval.Compile(trueLit(), opts)
	}
	if err != nil {
		return nil, err
	}

	var transformC *eval.Compiled
	if p.Transform != nil {
		transformC, err = eval.Compile(p.Transform, opts)
		if err != nil {
			return nil, err
		}
	}

	obligations := make([]*eval.Compiled, len(p.Obligations))
	for i, n := range p.Obligations {
		c, err := eval.Compile(n, opts)
		if err != nil {
			return nil, err
		}
		obligations[i] = c
	}
	advice := make([]*eval.Compiled, len(p.Advice))
	for i, n := range p.Advice {
		c, err := eval.Compile(n, opts)
		if err != nil {
			return nil, err
		}
		advice[i] = c
	}

	return &body{where: whereC, transform: transformC, obligations: obligations, advice: advice}, nil
}

func oneShotVote(v combining.Vote) (<-chan combining.Vote, func()) {
	ch := make(chan combining.Vote, 1)
	ch <- v
	return ch, func() {}
}

// combineSlotsLatest re-evaluates combine over the latest value of every
// slot whenever a Stream slot emits, once every slot has emitted at least
// once — the vote-granularity analogue of eval's combineLatest
// (eval/compiled.go), duplicated here because that combinator's source
// type is unexported and produces value.Value rather than combining.Vote.
func combineSlotsLatest(ctx *eval.Context, slots []*eval.Compiled, combine func(vals []value.Value) combining.Vote) (<-chan combining.Vote, func()) {
	n := len(slots)
	latest := make([]value.Value, n)
	has := make([]bool, n)
	var mu sync.Mutex

	type liveSrc struct {
		idx    int
		ch     <-chan value.Value
		cancel func()
	}
	var live []liveSrc
	for i, s := range slots {
		if s.Class != eval.ClassStream {
			latest[i] = s.EvalPure(ctx)
			has[i] = true
			continue
		}
		ch, cancel := s.EvalStream(ctx)
		live = append(live, liveSrc{idx: i, ch: ch, cancel: cancel})
	}

	out := make(chan combining.Vote, 1)
	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

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

	for _, s := range live {
		go func(s liveSrc) {
			for {
				select {
				case v, ok := <-s.ch:
					if !ok {
						return
					}
					mu.Lock()
					latest[s.idx] = v
					has[s.idx] = true
					mu.Unlock()
					emit()
				case <-done:
					return
				}
			}
		}(s)
	}

	if len(live) == 0 {
		go func() { emit() }()
	}

	cancel := func() {
		closeDone()
		for _, s := range live {
			s.cancel()
		}
	}
	return out, cancel
}
