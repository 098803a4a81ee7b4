// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

// Package combining implements the combining-algorithm engine (spec.md
// §4.7): folding a sequence of per-policy votes into one combined vote
// under one of the eight named algorithms, including extended-
// indeterminate propagation, constraint (obligation/advice/transform)
// aggregation, the errors-abstain demotion, default-vote handling, and
// attribute-key union aggregation.
package combining

import (
	"github.com/saplcore/pdp/ast"
	"github.com/saplcore/pdp/attribute"
	"github.com/saplcore/pdp/value"
)

// Decision is one of the four authorization decisions of spec.md §3.
type Decision int

const (
	NotApplicable Decision = iota
	Permit
	Deny
	Indeterminate
)

func (d Decision) String() string {
	switch d {
	case Permit:
		return "PERMIT"
	case Deny:
		return "DENY"
	case Indeterminate:
		return "INDETERMINATE"
	default:
		return "NOT_APPLICABLE"
	}
}

// Vote is one policy's (or, recursively, one policy-set's) contribution to
// a combined decision (spec.md §4.7, glossary "Vote").
type Vote struct {
	Decision Decision

	// OutcomeTag is the entitlement this vote would have produced absent
	// error or disagreement; meaningful only when Decision == Indeterminate
	// (spec.md §4.7, "Vote outcome tag"). TagPermit/TagDeny (see TagFor), or
	// TagPermitOrDeny once votes with opposite tags have been folded
	// together (see OutcomeTag below).
	OutcomeTag OutcomeTag

	// Applicable reports whether the policy's target was truthy and its
	// body produced a decisive (non-error) result — used by
	// only-one-applicable/unique, which count applicable policies rather
	// than decisive ones.
	Applicable bool

	Obligations []value.Value
	Advice      []value.Value
	Resource    value.Value // value.Undefined() when no transform fired

	Keys []attribute.Key

	Err string // non-empty explanatory message when Decision == Indeterminate
}

// OutcomeTag refines Vote.OutcomeTag for extended-indeterminate
// propagation: an INDETERMINATE can be tagged as "would have been permit",
// "would have been deny", or (after folding two votes with opposite tags)
// both.
type OutcomeTag int

const (
	TagNone OutcomeTag = iota
	TagPermit
	TagDeny
	TagPermitOrDeny
)

// TagFor converts a policy's own entitlement into the OutcomeTag an
// INDETERMINATE vote produced by that policy should carry.
func TagFor(e ast.Entitlement) OutcomeTag {
	if e == ast.EntitlementDeny {
		return TagDeny
	}
	return TagPermit
}

func mergeTag(a, b OutcomeTag) OutcomeTag {
	if a == TagNone {
		return b
	}
	if b == TagNone {
		return a
	}
	if a == b {
		return a
	}
	return TagPermitOrDeny
}

func indeterminate(tag OutcomeTag, msg string) Vote {
	return Vote{Decision: Indeterminate, OutcomeTag: tag, Err: msg, Resource: value.Undefined()}
}

// Combine folds votes (one per member, in declared order) under alg,
// applying defaultVote when every member is NOT_APPLICABLE and errorsMode
// at the end. votes must be the same length and order as the members they
// came from; Combine does not itself run any policy — it is a pure
// function of already-computed votes, so it has no Const/Pure/Stream
// classification of its own (the policy package drives repeated calls to
// Combine as members re-emit).
func Combine(alg ast.Algorithm, defaultVote ast.DefaultVote, errorsMode ast.ErrorsMode, votes []Vote) Vote {
	var combined Vote
	switch alg {
	case ast.AlgDenyOverrides:
		combined = denyOverrides(votes)
	case ast.AlgPermitOverrides:
		combined = permitOverrides(votes)
	case ast.AlgDenyUnlessPermit:
		combined = denyUnlessPermit(votes)
	case ast.AlgPermitUnlessDeny:
		combined = permitUnlessDeny(votes)
	case ast.AlgFirstApplicable:
		combined = firstApplicable(votes)
	case ast.AlgOnlyOneApplicable:
		combined = onlyOneApplicable(votes)
	case ast.AlgUnanimous:
		combined = unanimous(votes, false)
	case ast.AlgUnanimousStrict:
		combined = unanimous(votes, true)
	case ast.AlgUnique:
		combined = unique(votes)
	default:
		combined = indeterminate(TagNone, "unknown combining algorithm")
	}

	if combined.Decision == NotApplicable {
		switch defaultVote {
		case ast.DefaultPermit:
			combined.Decision = Permit
		case ast.DefaultDeny:
			combined.Decision = Deny
		}
	}

	if combined.Decision == Indeterminate && errorsMode == ast.ErrorsAbstain {
		combined.Decision = NotApplicable
		combined.Obligations = nil
		combined.Advice = nil
		combined.Resource = value.Undefined()
	}

	combined.Keys = unionKeys(votes)
	return combined
}

func unionKeys(votes []Vote) []attribute.Key {
	seen := map[attribute.Key]bool{}
	var out []attribute.Key
	for _, v := range votes {
		for _, k := range v.Keys {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// aggregateConstraints concatenates obligations/advice from every
// contributing vote (one whose Decision equals final) in order, and
// detects transformation uncertainty (spec.md §4.7: "If two contributing
// votes carry a non-Undefined resource transform, the combined resource
// is Undefined and the decision becomes INDETERMINATE").
func aggregateConstraints(final Decision, votes []Vote) (obligations, advice []value.Value, resource value.Value, uncertain bool) {
	resource = value.Undefined()
	sawResource := false
	for _, v := range votes {
		if v.Decision != final {
			continue
		}
		obligations = append(obligations, v.Obligations...)
		advice = append(advice, v.Advice...)
		if !v.Resource.IsUndefined() {
			if sawResource {
				uncertain = true
				continue
			}
			resource = v.Resource
			sawResource = true
		}
	}
	return
}

func withConstraints(final Decision, votes []Vote) Vote {
	obligations, advice, resource, uncertain := aggregateConstraints(final, votes)
	if uncertain {
		return indeterminate(TagPermitOrDeny, "transformation uncertainty")
	}
	return Vote{Decision: final, Obligations: obligations, Advice: advice, Resource: resource}
}

func denyOverrides(votes []Vote) Vote {
	anyDeny, anyPermit := false, false
	var blockPermitTag OutcomeTag
	for _, v := range votes {
		switch v.Decision {
		case Deny:
			anyDeny = true
		case Permit:
			anyPermit = true
		case Indeterminate:
			if v.OutcomeTag == TagDeny || v.OutcomeTag == TagPermitOrDeny {
				blockPermitTag = mergeTag(blockPermitTag, v.OutcomeTag)
			}
		}
	}
	if anyDeny {
		return withConstraints(Deny, votes)
	}
	if blockPermitTag != TagNone {
		return indeterminate(blockPermitTag, "deny-overrides: indeterminate blocks permit")
	}
	if anyPermit {
		return withConstraints(Permit, votes)
	}
	return Vote{Decision: NotApplicable, Resource: value.Undefined()}
}

func permitOverrides(votes []Vote) Vote {
	anyPermit, anyDeny := false, false
	var blockDenyTag OutcomeTag
	for _, v := range votes {
		switch v.Decision {
		case Permit:
			anyPermit = true
		case Deny:
			anyDeny = true
		case Indeterminate:
			if v.OutcomeTag == TagPermit || v.OutcomeTag == TagPermitOrDeny {
				blockDenyTag = mergeTag(blockDenyTag, v.OutcomeTag)
			}
		}
	}
	if anyPermit {
		return withConstraints(Permit, votes)
	}
	if blockDenyTag != TagNone {
		return indeterminate(blockDenyTag, "permit-overrides: indeterminate blocks deny")
	}
	if anyDeny {
		return withConstraints(Deny, votes)
	}
	return Vote{Decision: NotApplicable, Resource: value.Undefined()}
}

func denyUnlessPermit(votes []Vote) Vote {
	for _, v := range votes {
		if v.Decision == Permit {
			return withConstraints(Permit, votes)
		}
	}
	return withConstraints(Deny, votes)
}

func permitUnlessDeny(votes []Vote) Vote {
	for _, v := range votes {
		if v.Decision == Deny {
			return withConstraints(Deny, votes)
		}
	}
	return withConstraints(Permit, votes)
}

func firstApplicable(votes []Vote) Vote {
	for i, v := range votes {
		switch v.Decision {
		case NotApplicable:
			continue
		case Indeterminate:
			return indeterminate(v.OutcomeTag, v.Err)
		default:
			return withConstraints(v.Decision, votes[i:i+1])
		}
	}
	return Vote{Decision: NotApplicable, Resource: value.Undefined()}
}

func onlyOneApplicable(votes []Vote) Vote {
	var applicable []Vote
	for _, v := range votes {
		if v.Applicable {
			applicable = append(applicable, v)
		}
	}
	switch len(applicable) {
	case 0:
		return Vote{Decision: NotApplicable, Resource: value.Undefined()}
	case 1:
		return withConstraints(applicable[0].Decision, applicable)
	default:
		return indeterminate(TagPermitOrDeny, "only-one-applicable: collision")
	}
}

func unique(votes []Vote) Vote {
	var applicable []Vote
	for _, v := range votes {
		if v.Applicable {
			applicable = append(applicable, v)
		}
	}
	switch len(applicable) {
	case 0:
		return Vote{Decision: NotApplicable, Resource: value.Undefined()}
	case 1:
		return withConstraints(applicable[0].Decision, applicable)
	default:
		return indeterminate(TagPermitOrDeny, "unique: collision")
	}
}

func unanimous(votes []Vote, strict bool) Vote {
	var applicable []Vote
	for _, v := range votes {
		if v.Decision == NotApplicable {
			continue
		}
		if v.Decision == Indeterminate {
			return indeterminate(v.OutcomeTag, v.Err)
		}
		applicable = append(applicable, v)
	}
	if len(applicable) == 0 {
		return Vote{Decision: NotApplicable, Resource: value.Undefined()}
	}
	first := applicable[0].Decision
	for _, v := range applicable[1:] {
		if v.Decision != first {
			return indeterminate(TagPermitOrDeny, "unanimous: disagreement")
		}
	}
	if strict {
		for _, v := range applicable[1:] {
			if !sameConstraints(applicable[0], v) {
				return indeterminate(TagPermitOrDeny, "unanimous-strict: obligations/advice mismatch")
			}
		}
	}
	return withConstraints(first, applicable)
}

func sameConstraints(a, b Vote) bool {
	if len(a.Obligations) != len(b.Obligations) || len(a.Advice) != len(b.Advice) {
		return false
	}
	for i := range a.Obligations {
		if !a.Obligations[i].Equal(b.Obligations[i]) {
			return false
		}
	}
	for i := range a.Advice {
		if !a.Advice[i].Equal(b.Advice[i]) {
			return false
		}
	}
	return true
}