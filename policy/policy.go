// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

// Package policy implements the policy compiler (spec.md §4.6 / C6): it
// lowers a parsed ast.Policy or ast.PolicySet into a Voter classified
// ConstVote/PureVoter/StreamVoter, wiring the expression evaluator (eval),
// the function broker (funcs) and the attribute broker (attribute)
// together and folding policy-set members through the combining-algorithm
// engine (combining).
package policy

import (
	"github.com/saplcore/pdp/ast"
	"github.com/saplcore/pdp/attribute"
	"github.com/saplcore/pdp/combining"
	"github.com/saplcore/pdp/eval"
	"github.com/saplcore/pdp/funcs"
	"github.com/saplcore/pdp/value"
)

// Class is the per-document classification of spec.md §4.6 step 3: the
// vote-granularity analogue of eval.Class.
type Class int

const (
	ConstVote Class = iota
	PureVoter
	StreamVoter
)

func (c Class) String() string {
	switch c {
	case ConstVote:
		return "const-vote"
	case PureVoter:
		return "pure-voter"
	default:
		return "stream-voter"
	}
}

// Voter is a compiled document ready to evaluate against subscriptions.
// Exactly one evaluation path is meaningful depending on Class, mirroring
// eval.Compiled's Const/Pure/Stream contract at vote granularity.
type Voter struct {
	Name  string
	Class Class

	ConstResult combining.Vote
	EvalPure    func(ctx *eval.Context) combining.Vote
	EvalStream  func(ctx *eval.Context) (<-chan combining.Vote, func())
}

// Evaluate runs the voter once for ctx, draining a StreamVoter's first
// emission. Callers that need the full stream of a StreamVoter should call
// EvalStream directly; Evaluate is a convenience for PDP code paths (and
// tests) that only need a single snapshot, e.g. constant-folding the
// combined vote of an all-Const document set.
func (v *Voter) Evaluate(ctx *eval.Context) combining.Vote {
	switch v.Class {
	case ConstVote:
		return v.ConstResult
	case PureVoter:
		return v.EvalPure(ctx)
	default:
		ch, cancel := v.EvalStream(ctx)
		defer cancel()
		vote, ok := <-ch
		if !ok {
			return combining.Vote{Decision: combining.Indeterminate, Err: "stream voter closed without emitting", Resource: value.Undefined()}
		}
		return vote
	}
}

func poisoned(name string, tag combining.OutcomeTag, msg string) *Voter {
	return &Voter{
		Name:  name,
		Class: ConstVote,
		ConstResult: combining.Vote{
			Decision:   combining.Indeterminate,
			OutcomeTag: tag,
			Err:        msg,
			Resource:   value.Undefined(),
		},
	}
}

func notApplicable(name string) *Voter {
	return &Voter{
		Name:        name,
		Class:       ConstVote,
		ConstResult: combining.Vote{Decision: combining.NotApplicable, Resource: value.Undefined()},
	}
}

// importAdapter lets funcs.NewScope consume ast.Import without the funcs
// package importing ast (see funcs.ImportLike).
type importAdapter struct{ im ast.Import }

func (a importAdapter) Kind() funcs.ImportKindValue {
	switch a.im.Kind {
	case ast.ImportAlias:
		return funcs.ImportAlias
	case ast.ImportWildcard:
		return funcs.ImportWildcard
	case ast.ImportSingle:
		return funcs.ImportSingle
	default:
		return funcs.ImportQualified
	}
}
func (a importAdapter) Library() string { return a.im.Library }
func (a importAdapter) Fn() string      { return a.im.Fn }
func (a importAdapter) Alias() string   { return a.im.Alias }

func adaptImports(imports []ast.Import) []funcs.ImportLike {
	out := make([]funcs.ImportLike, len(imports))
	for i, im := range imports {
		out[i] = importAdapter{im}
	}
	return out
}

// Env bundles the shared, immutable collaborators a document compiles
// against: the function registry, the attribute broker, the owning PDP's
// configuration id (part of attribute.Key, spec.md §3) and default timing
// parameters.
type Env struct {
	Registry    *funcs.Registry
	Broker      *attribute.Broker
	PDPConfigID string
	Timing      attribute.TimingParams
}

// CompileDocument dispatches to CompilePolicy or CompilePolicySet
// depending on the concrete ast.Member type (ast.Document = ast.Member,
// see ast.go).
func CompileDocument(doc ast.Document, env Env) (*Voter, error) {
	switch d := doc.(type) {
	case *ast.Policy:
		return CompilePolicy(d, env)
	case *ast.PolicySet:
		return CompilePolicySet(d, env)
	default:
		return poisoned(doc.DocumentName(), combining.TagPermitOrDeny, "unknown document type"), nil
	}
}

func trueLit() *ast.Node { return &ast.Node{Kind: ast.KindBoolLit, Bool: true} }
