// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package combining

import (
	"testing"

	"github.com/saplcore/pdp/ast"
	"github.com/saplcore/pdp/value"
)

func permitVote() Vote { return Vote{Decision: Permit, Resource: value.Undefined()} }
func denyVote() Vote   { return Vote{Decision: Deny, Resource: value.Undefined()} }

// An INDETERMINATE{tag=DENY} blocks a PERMIT from winning under
// deny-overrides, but must not itself be promoted to a concrete DENY: no
// actual DENY vote exists, so the combined result is INDETERMINATE.
func TestDenyOverridesIndeterminateDenyBlocksPermitWithoutBecomingDeny(t *testing.T) {
	votes := []Vote{indeterminate(TagDeny, "boom"), permitVote()}
	got := Combine(ast.AlgDenyOverrides, ast.DefaultAbstain, ast.ErrorsPropagate, votes)
	if got.Decision != Indeterminate {
		t.Fatalf("expected INDETERMINATE, got %v", got.Decision)
	}
}

// Under errors-abstain, the INDETERMINATE must demote to NOT_APPLICABLE —
// it must not have been promoted to a terminal DENY upstream, which would
// never demote.
func TestDenyOverridesIndeterminateDenyDemotesUnderErrorsAbstain(t *testing.T) {
	votes := []Vote{indeterminate(TagDeny, "boom"), permitVote()}
	got := Combine(ast.AlgDenyOverrides, ast.DefaultAbstain, ast.ErrorsAbstain, votes)
	if got.Decision != NotApplicable {
		t.Fatalf("expected NOT_APPLICABLE, got %v", got.Decision)
	}
}

// A real DENY vote still overrides a PERMIT outright.
func TestDenyOverridesRealDenyWins(t *testing.T) {
	votes := []Vote{denyVote(), permitVote()}
	got := Combine(ast.AlgDenyOverrides, ast.DefaultAbstain, ast.ErrorsPropagate, votes)
	if got.Decision != Deny {
		t.Fatalf("expected DENY, got %v", got.Decision)
	}
}

// Symmetric case: an INDETERMINATE{tag=PERMIT} blocks a DENY from winning
// under permit-overrides without becoming a concrete PERMIT.
func TestPermitOverridesIndeterminatePermitBlocksDenyWithoutBecomingPermit(t *testing.T) {
	votes := []Vote{indeterminate(TagPermit, "boom"), denyVote()}
	got := Combine(ast.AlgPermitOverrides, ast.DefaultAbstain, ast.ErrorsPropagate, votes)
	if got.Decision != Indeterminate {
		t.Fatalf("expected INDETERMINATE, got %v", got.Decision)
	}
}

func TestPermitOverridesIndeterminatePermitDemotesUnderErrorsAbstain(t *testing.T) {
	votes := []Vote{indeterminate(TagPermit, "boom"), denyVote()}
	got := Combine(ast.AlgPermitOverrides, ast.DefaultAbstain, ast.ErrorsAbstain, votes)
	if got.Decision != NotApplicable {
		t.Fatalf("expected NOT_APPLICABLE, got %v", got.Decision)
	}
}

func TestPermitOverridesRealPermitWins(t *testing.T) {
	votes := []Vote{permitVote(), denyVote()}
	got := Combine(ast.AlgPermitOverrides, ast.DefaultAbstain, ast.ErrorsPropagate, votes)
	if got.Decision != Permit {
		t.Fatalf("expected PERMIT, got %v", got.Decision)
	}
}
