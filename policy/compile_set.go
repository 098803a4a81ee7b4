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

type setVar struct {
	name     string
	compiled *eval.Compiled
}

// CompilePolicySet compiles an ast.PolicySet (spec.md §4.6 step 4): its
// own target (same rules as a Policy's), its variable-definition chain
// (compiled in declared order so later variables may reference earlier
// ones through the ordinary Context.Lookup precedence, spec.md §4.4), and
// its member documents, producing a combined voter under the set's
// combining algorithm.
func CompilePolicySet(ps *ast.PolicySet, env Env) (*Voter, error) {
	scope := funcs.NewScope(env.Registry, adaptImports(ps.Imports))
	if scope.Conflict {
		return poisoned(ps.Name, combining.TagPermitOrDeny, "import conflict: "+scope.ConflictMsg), nil
	}

	for _, vd := range ps.Variables {
		if eval.ReservedNames[vd.Name] {
			return poisoned(ps.Name, combining.TagPermitOrDeny, "reserved name used as variable: "+vd.Name), nil
		}
	}

	targetOpts := eval.Options{AllowAttributes: false, Scope: scope, Broker: env.Broker, PDPConfigID: env.PDPConfigID, DefaultTiming: env.Timing}
	bodyOpts := eval.Options{AllowAttributes: true, Scope: scope, Broker: env.Broker, PDPConfigID: env.PDPConfigID, DefaultTiming: env.Timing}

	targetNode := ps.Target
	if targetNode == nil {
		targetNode = trueLit()
	}
	targetC, err := eval.Compile(targetNode, targetOpts)
	if err != nil {
		return nil, err
	}
	if targetC.Class == eval.ClassStream {
		return poisoned(ps.Name, combining.TagPermitOrDeny, "attribute access forbidden in target"), nil
	}
	var targetConstApplicable bool
	if targetC.Class == eval.ClassConst {
		tv := targetC.ConstValue
		if tv.IsError() {
			return poisoned(ps.Name, combining.TagPermitOrDeny, "indeterminate target: "+tv.ErrorMessage()), nil
		}
		b, isBool := tv.AsBool()
		if !isBool {
			return poisoned(ps.Name, combining.TagPermitOrDeny, "indeterminate target: non-boolean constant"), nil
		}
		if !b {
			return notApplicable(ps.Name), nil
		}
		targetConstApplicable = true
	}

	vars := make([]setVar, len(ps.Variables))
	for i, vd := range ps.Variables {
		c, err := eval.Compile(vd.Expr, bodyOpts)
		if err != nil {
			return nil, err
		}
		vars[i] = setVar{name: vd.Name, compiled: c}
	}

	members := make([]*Voter, len(ps.Members))
	for i, m := range ps.Members {
		v, err := CompileDocument(m, env)
		if err != nil {
			return nil, err
		}
		members[i] = v
	}

	anyVarStream := false
	allVarsConst := true
	for _, v := range vars {
		if v.compiled.Class == eval.ClassStream {
			anyVarStream = true
		}
		if v.compiled.Class != eval.ClassConst {
			allVarsConst = false
		}
	}
	anyMemberStream := false
	allMembersConst := true
	for _, m := range members {
		if m.Class == StreamVoter {
			anyMemberStream = true
		}
		if m.Class != ConstVote {
			allMembersConst = false
		}
	}

	fold := func(votes []combining.Vote) combining.Vote {
		return combining.Combine(ps.CombiningAlgorithm, ps.DefaultVote, ps.ErrorsMode, votes)
	}

	// All-Const set (spec.md §4.6 step 4: "If all members are ConstVote,
	// the combined voter itself is folded to ConstVote") with a Const
	// target and no variables that could themselves depend on a
	// subscription: the whole set folds statically, no Voter closures
	// needed at all.
	if targetC.Class == eval.ClassConst && allVarsConst && allMembersConst {
		votes := make([]combining.Vote, len(members))
		for i, m := range members {
			votes[i] = m.ConstResult
		}
		return &Voter{Name: ps.Name, Class: ConstVote, ConstResult: fold(votes)}, nil
	}

	overallClass := PureVoter
	if targetC.Class == eval.ClassStream || anyVarStream || anyMemberStream {
		overallClass = StreamVoter
	}

	evalTarget := func(ctx *eval.Context) (applicable bool, poison *combining.Vote) {
		if targetC.Class == eval.ClassConst {
			return targetConstApplicable, nil
		}
		tv := targetC.EvalPure(ctx)
		if tv.IsError() {
			v := combining.Vote{Decision: combining.Indeterminate, OutcomeTag: combining.TagPermitOrDeny, Err: "indeterminate target: " + tv.ErrorMessage(), Resource: value.Undefined()}
			return false, &v
		}
		b, isBool := tv.AsBool()
		if !isBool {
			v := combining.Vote{Decision: combining.Indeterminate, OutcomeTag: combining.TagPermitOrDeny, Err: "indeterminate target: non-boolean constant", Resource: value.Undefined()}
			return false, &v
		}
		return b, nil
	}

	bindVarsPure := func(ctx *eval.Context) *eval.Context {
		for _, v := range vars {
			val := v.compiled.EvalPure(ctx)
			ctx = ctx.WithVariable(v.name, val)
		}
		return ctx
	}

	evalMembersPure := func(ctx *eval.Context) []combining.Vote {
		votes := make([]combining.Vote, len(members))
		for i, m := range members {
			votes[i] = m.Evaluate(ctx)
		}
		return votes
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
		childCtx := bindVarsPure(ctx)
		vote := fold(evalMembersPure(childCtx))
		vote.Keys = ctx.AttributeKeys()
		return vote
	}

	if overallClass == PureVoter {
		return &Voter{Name: ps.Name, Class: PureVoter, EvalPure: evalPure}, nil
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
		if !anyVarStream && !anyMemberStream {
			childCtx := bindVarsPure(ctx)
			vote := fold(evalMembersPure(childCtx))
			vote.Keys = ctx.AttributeKeys()
			return oneShotVote(vote)
		}
		out := make(chan combining.Vote, 1)
		cancel := resolveSetVars(ctx, vars, 0, out, func(boundCtx *eval.Context, out chan<- combining.Vote) func() {
			return foldMembers(boundCtx, members, fold, out)
		})
		return out, cancel
	}

	return &Voter{Name: ps.Name, Class: StreamVoter, EvalStream: evalStream}, nil
}

// resolveSetVars threads variable bindings into ctx in declared order —
// Const/Pure variables bind synchronously, a Stream variable fans out
// recursively, re-binding and re-running the remainder (including leaf)
// each time it re-emits — mirroring eval/compile_block.go's where-body
// var-def sequencing (runStreamSeq/runStreamStep), generalized from a
// value.Value result to a combining.Vote stream produced by leaf.
func resolveSetVars(ctx *eval.Context, vars []setVar, idx int, out chan<- combining.Vote, leaf func(ctx *eval.Context, out chan<- combining.Vote) func()) func() {
	if idx == len(vars) {
		return leaf(ctx, out)
	}
	v := vars[idx]
	if v.compiled.Class != eval.ClassStream {
		val := v.compiled.EvalPure(ctx)
		return resolveSetVars(ctx.WithVariable(v.name, val), vars, idx+1, out, leaf)
	}
	ch, cancel := v.compiled.EvalStream(ctx)
	done := make(chan struct{})
	var mu sync.Mutex
	childCancel := func() {}
	go func() {
		for {
			select {
			case val, ok := <-ch:
				if !ok {
					return
				}
				mu.Lock()
				childCancel()
				childCancel = resolveSetVars(ctx.WithVariable(v.name, val), vars, idx+1, out, leaf)
				mu.Unlock()
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		cancel()
		mu.Lock()
		childCancel()
		mu.Unlock()
	}
}

// foldMembers combines every member's vote, writing the combined vote to
// out whenever any Stream-classified member re-emits (the vote-level
// analogue of eval's combineLatest, see combineSlotsLatest for the
// expression-level twin). ctx is already fully bound (subscription plus
// any set-level variables).
func foldMembers(ctx *eval.Context, members []*Voter, fold func([]combining.Vote) combining.Vote, out chan<- combining.Vote) func() {
	n := len(members)
	latest := make([]combining.Vote, n)
	has := make([]bool, n)
	var mu sync.Mutex

	type liveSrc struct {
		idx    int
		ch     <-chan combining.Vote
		cancel func()
	}
	var live []liveSrc
	for i, m := range members {
		switch m.Class {
		case ConstVote:
			latest[i] = m.ConstResult
			has[i] = true
		case PureVoter:
			latest[i] = m.EvalPure(ctx)
			has[i] = true
		default:
			ch, cancel := m.EvalStream(ctx)
			live = append(live, liveSrc{idx: i, ch: ch, cancel: cancel})
		}
	}

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
		var votes []combining.Vote
		if ready {
			votes = append([]combining.Vote(nil), latest...)
		}
		mu.Unlock()
		if !ready {
			return
		}
		vote := fold(votes)
		vote.Keys = ctx.AttributeKeys()
		select {
		case out <- vote:
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
		go emit()
	}

	return func() {
		closeDone()
		for _, s := range live {
			s.cancel()
		}
	}
}
