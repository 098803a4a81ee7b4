// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/saplcore/pdp/ast"
	"github.com/saplcore/pdp/attribute"
	"github.com/saplcore/pdp/eval"
	"github.com/saplcore/pdp/funcs"
	"github.com/saplcore/pdp/pdp"
	"github.com/saplcore/pdp/value"
)

type evalCommandParams struct {
	policyPath       string
	subscriptionPath string
	algorithm        string
}

// initEval registers the one-shot `eval` subcommand — the teacher's own
// `opa eval` inspired this split from `run`/`serve`: evaluate once and
// print the result, no server loop (cmd/eval.go).
func initEval(root *cobra.Command) {
	var params evalCommandParams

	c := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a single authorization subscription against a policy document",
		Long: `Evaluate reads one JSON-encoded policy or policy-set document and one
JSON-encoded authorization subscription, runs the full PDP pipeline (spec.md
§4.8), and prints the first decision to stdout as JSON.`,
		RunE: func(*cobra.Command, []string) error {
			return runEval(params)
		},
	}
	c.Flags().StringVar(&params.policyPath, "policy", "", "path to a JSON-encoded policy or policy-set document")
	c.Flags().StringVar(&params.subscriptionPath, "subscription", "", "path to a JSON-encoded authorization subscription")
	c.Flags().StringVar(&params.algorithm, "algorithm", "deny-overrides", "top-level combining algorithm name")
	c.MarkFlagRequired("policy")
	c.MarkFlagRequired("subscription")
	root.AddCommand(c)
}

func runEval(params evalCommandParams) error {
	policyRaw, err := os.ReadFile(params.policyPath)
	if err != nil {
		return fmt.Errorf("reading policy: %w", err)
	}
	doc, err := ast.DecodeDocument(policyRaw)
	if err != nil {
		return fmt.Errorf("decoding policy: %w", err)
	}

	subRaw, err := os.ReadFile(params.subscriptionPath)
	if err != nil {
		return fmt.Errorf("reading subscription: %w", err)
	}
	sub, err := decodeSubscription(subRaw)
	if err != nil {
		return fmt.Errorf("decoding subscription: %w", err)
	}

	alg, ok := ast.ParseAlgorithm(params.algorithm)
	if !ok {
		return fmt.Errorf("unknown combining algorithm: %q", params.algorithm)
	}

	cfg := pdp.Config{
		ID:                "pdp-eval",
		TopLevelAlgorithm: alg,
		Registry:          funcs.NewRegistry(),
		Broker:            attribute.NewBroker(attribute.NewRegistry()),
		DefaultTiming:     attribute.Default(),
	}
	p := pdp.New(cfg, pdp.StaticIndex{doc})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, cancelDecisions, err := p.Decisions(ctx, sub)
	if err != nil {
		return err
	}
	defer cancelDecisions()

	select {
	case d := <-ch:
		return printDecision(d)
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for a decision")
	}
}

type subscriptionJSON struct {
	Subject     interface{} `json:"subject"`
	Action      interface{} `json:"action"`
	Resource    interface{} `json:"resource"`
	Environment interface{} `json:"environment"`
}

func decodeSubscription(raw []byte) (eval.Subscription, error) {
	var s subscriptionJSON
	if err := json.Unmarshal(raw, &s); err != nil {
		return eval.Subscription{}, err
	}
	subject, err := value.FromInterface(s.Subject)
	if err != nil {
		return eval.Subscription{}, err
	}
	action, err := value.FromInterface(s.Action)
	if err != nil {
		return eval.Subscription{}, err
	}
	resource, err := value.FromInterface(s.Resource)
	if err != nil {
		return eval.Subscription{}, err
	}
	environment, err := value.FromInterface(s.Environment)
	if err != nil {
		return eval.Subscription{}, err
	}
	return eval.Subscription{Subject: subject, Action: action, Resource: resource, Environment: environment}, nil
}

func printDecision(d pdp.Decision) error {
	out := map[string]interface{}{"decision": d.Decision.String()}
	if !d.Resource.IsUndefined() && !d.Resource.IsError() {
		r, err := d.Resource.ToInterface()
		if err != nil {
			return err
		}
		out["resource"] = r
	}
	bs, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(bs))
	return nil
}
