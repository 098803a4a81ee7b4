// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package pdp

import (
	"context"
	"testing"
	"time"

	"github.com/saplcore/pdp/ast"
	"github.com/saplcore/pdp/attribute"
	"github.com/saplcore/pdp/combining"
	"github.com/saplcore/pdp/eval"
	"github.com/saplcore/pdp/funcs"
	"github.com/saplcore/pdp/value"
)

func testConfig() Config {
	return Config{
		ID:                "pdp-test",
		TopLevelAlgorithm: ast.AlgDenyOverrides,
		Registry:          funcs.NewRegistry(),
		Broker:            attribute.NewBroker(attribute.NewRegistry()),
		DefaultTiming:     attribute.Default(),
	}
}

// Scenario 3 through the full orchestrator: a PDP configured with
// deny-overrides over two top-level policies resolves DENY.
func TestOrchestratorDenyOverrides(t *testing.T) {
	cfg := testConfig()
	docs := []ast.Document{
		&ast.Policy{Name: "p1", Entitlement: ast.EntitlementPermit},
		&ast.Policy{Name: "p2", Entitlement: ast.EntitlementDeny},
	}
	p := New(cfg, StaticIndex(docs))

	ch, cancel, err := p.Decisions(context.Background(), eval.Subscription{})
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	select {
	case d := <-ch:
		if d.Decision != combining.Deny {
			t.Fatalf("expected DENY, got %v", d.Decision)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decision")
	}
}

// No candidate documents resolves NOT_APPLICABLE, never an uncaught error
// (spec.md §8, "the initial emitted decision is one of the four defined
// values").
func TestOrchestratorNoDocumentsIsNotApplicable(t *testing.T) {
	cfg := testConfig()
	p := New(cfg, StaticIndex(nil))

	ch, cancel, err := p.Decisions(context.Background(), eval.Subscription{})
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	select {
	case d := <-ch:
		if d.Decision != combining.NotApplicable {
			t.Fatalf("expected NOT_APPLICABLE, got %v", d.Decision)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decision")
	}
}

// Consecutive identical decisions are suppressed (spec.md §4.8 step 5): a
// streaming policy that emits the same boolean twice in a row should only
// surface one decision change to the subscriber.
func TestOrchestratorDedupsConsecutiveIdenticalDecisions(t *testing.T) {
	reg := attribute.NewRegistry()
	reg.Register(&attribute.Finder{
		Name: "flag", IsEnvironment: true,
		Stream: func(ctx context.Context, _ value.Value, _ bool, _ []value.Value, _ map[string]value.Value) (<-chan attribute.FinderEvent, error) {
			ch := make(chan attribute.FinderEvent, 3)
			ch <- attribute.FinderEvent{Value: value.Bool(true)}
			ch <- attribute.FinderEvent{Value: value.Bool(true)}
			ch <- attribute.FinderEvent{Value: value.Bool(false)}
			close(ch)
			return ch, nil
		},
	})
	cfg := testConfig()
	cfg.Broker = attribute.NewBroker(reg)

	flagAttr := &ast.Node{Kind: ast.KindAttribute, IsEnvironment: true, Name: "flag"}
	docs := []ast.Document{
		&ast.Policy{Name: "p1", Entitlement: ast.EntitlementPermit, Where: &ast.Node{Kind: ast.KindWhere, Children: []*ast.Node{flagAttr}}},
	}
	p := New(cfg, StaticIndex(docs))

	ch, cancel, err := p.Decisions(context.Background(), eval.Subscription{})
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	var got []combining.Decision
	deadline := time.After(time.Second)
	for len(got) < 2 {
		select {
		case d := <-ch:
			got = append(got, d.Decision)
		case <-deadline:
			t.Fatalf("timed out after %d decisions: %v", len(got), got)
		}
	}
	want := []combining.Decision{combining.Permit, combining.NotApplicable}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("decision %d: expected %v, got %v (full: %v)", i, w, got[i], got)
		}
	}
}
