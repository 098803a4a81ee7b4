// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

// Package pdp implements the PDP orchestrator (spec.md §4.8 / C8): it
// accepts an authorization subscription, resolves the candidate documents
// a document-index collaborator reports as potentially applicable, runs
// each candidate's compiled voter, folds the results under the top-level
// combining algorithm, and emits a deduplicated stream of authorization
// decisions.
package pdp

import (
	"context"
	"sync"

	"github.com/saplcore/pdp/ast"
	"github.com/saplcore/pdp/attribute"
	"github.com/saplcore/pdp/combining"
	"github.com/saplcore/pdp/eval"
	"github.com/saplcore/pdp/funcs"
	"github.com/saplcore/pdp/policy"
	"github.com/saplcore/pdp/value"
)

// Decision is the Authorization Decision of spec.md §3/§6.
type Decision struct {
	Decision    combining.Decision
	Obligations []value.Value
	Advice      []value.Value
	Resource    value.Value
}

func fromVote(v combining.Vote) Decision {
	return Decision{Decision: v.Decision, Obligations: v.Obligations, Advice: v.Advice, Resource: v.Resource}
}

// equal implements spec.md §4.8 step 5's dedup predicate: decision,
// obligations, advice and resource all equal the previous emit.
func (d Decision) equal(o Decision) bool {
	if d.Decision != o.Decision {
		return false
	}
	if !d.Resource.Equal(o.Resource) {
		return false
	}
	if len(d.Obligations) != len(o.Obligations) || len(d.Advice) != len(o.Advice) {
		return false
	}
	for i := range d.Obligations {
		if !d.Obligations[i].Equal(o.Obligations[i]) {
			return false
		}
	}
	for i := range d.Advice {
		if !d.Advice[i].Equal(o.Advice[i]) {
			return false
		}
	}
	return true
}

// Index is the document-index collaborator (spec.md §4.8 step 1, "assume
// a pre-filter by a document-index collaborator returning candidates").
// Matching policies to subscriptions, persistent storage and change
// notification are all out of scope (spec.md §1); this is only the
// consumption contract. See the repo package for a filesystem-backed
// reference implementation.
type Index interface {
	Candidates(ctx context.Context, sub eval.Subscription) ([]ast.Document, error)
}

// StaticIndex is an Index over a fixed document list, useful for tests and
// for callers that resolve candidates themselves before invoking the PDP.
type StaticIndex []ast.Document

func (s StaticIndex) Candidates(context.Context, eval.Subscription) ([]ast.Document, error) {
	return s, nil
}

// Config is one PDP configuration: the top-level combining algorithm
// folding top-level documents (spec.md §4.8 step 3, "typically
// deny-overrides"), the shared function registry and attribute broker,
// and a configuration id that participates in attribute.Key (spec.md §3).
type Config struct {
	ID                 string
	TopLevelAlgorithm  ast.Algorithm
	TopLevelDefault    ast.DefaultVote
	TopLevelErrorsMode ast.ErrorsMode
	Registry           *funcs.Registry
	Broker             *attribute.Broker
	DefaultTiming      attribute.TimingParams
}

func (c Config) policyEnv() policy.Env {
	return policy.Env{Registry: c.Registry, Broker: c.Broker, PDPConfigID: c.ID, Timing: c.DefaultTiming}
}

// PDP is the orchestrator instance bound to one Config and Index.
type PDP struct {
	Config Config
	Index  Index
}

func New(cfg Config, idx Index) *PDP {
	return &PDP{Config: cfg, Index: idx}
}

// Decisions runs the full pipeline for one subscription and returns a
// channel of deduplicated Decision values plus a cancel function (spec.md
// §4.8). The channel is never closed (mirroring the lazy-sequence
// convention used throughout eval/policy, see spec.md §9); callers must
// call cancel when done.
func (p *PDP) Decisions(ctx context.Context, sub eval.Subscription) (<-chan Decision, func(), error) {
	docs, err := p.Index.Candidates(ctx, sub)
	if err != nil {
		return nil, nil, err
	}

	voters := make([]*policy.Voter, len(docs))
	for i, d := range docs {
		v, err := policy.CompileDocument(d, p.Config.policyEnv())
		if err != nil {
			return nil, nil, err
		}
		voters[i] = v
	}

	evalCtx := eval.NewContext(ctx, sub, funcScope(p.Config.Registry), p.Config.Broker, p.Config.ID, p.Config.DefaultTiming)

	raw, cancelVotes := combineVoters(evalCtx, voters, func(votes []combining.Vote) combining.Vote {
		return combining.Combine(p.Config.TopLevelAlgorithm, p.Config.TopLevelDefault, p.Config.TopLevelErrorsMode, votes)
	})

	out := make(chan Decision, 1)
	done := make(chan struct{})
	go func() {
		var last Decision
		hasLast := false
		for {
			select {
			case v, ok := <-raw:
				if !ok {
					return
				}
				d := fromVote(v)
				if hasLast && d.equal(last) {
					continue
				}
				last, hasLast = d, true
				select {
				case out <- d:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	cancel := func() {
		close(done)
		cancelVotes()
	}
	return out, cancel, nil
}

// funcScope builds the root evaluation context's function scope for
// top-level (document-index-resolved) evaluation. Each document carries
// its own import-resolved funcs.Scope internally (see policy.CompilePolicy/
// CompilePolicySet); the root Context's Funcs field is only consulted by
// nodes compiled directly against it (none, in the orchestrator's own
// evaluation — it only ever calls into already-compiled Voters), so an
// empty scope over the shared registry is sufficient here.
func funcScope(registry *funcs.Registry) *funcs.Scope {
	return funcs.NewScope(registry, nil)
}

// combineVoters folds every top-level voter's vote, re-emitting the
// combined vote whenever a Stream-classified voter re-emits — the
// orchestrator-level analogue of policy's foldMembers/combineSlotsLatest.
func combineVoters(ctx *eval.Context, voters []*policy.Voter, fold func([]combining.Vote) combining.Vote) (<-chan combining.Vote, func()) {
	n := len(voters)
	latest := make([]combining.Vote, n)
	has := make([]bool, n)
	var mu sync.Mutex

	type liveSrc struct {
		idx    int
		ch     <-chan combining.Vote
		cancel func()
	}
	var live []liveSrc
	for i, v := range voters {
		switch v.Class {
		case policy.ConstVote:
			latest[i] = v.ConstResult
			has[i] = true
		case policy.PureVoter:
			latest[i] = v.EvalPure(ctx)
			has[i] = true
		default:
			ch, cancel := v.EvalStream(ctx)
			live = append(live, liveSrc{idx: i, ch: ch, cancel: cancel})
		}
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
		var votes []combining.Vote
		if ready {
			votes = append([]combining.Vote(nil), latest...)
		}
		mu.Unlock()
		if !ready {
			return
		}
		select {
		case out <- fold(votes):
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

	cancel := func() {
		closeDone()
		for _, s := range live {
			s.cancel()
		}
	}
	return out, cancel
}
