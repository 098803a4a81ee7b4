// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package config

import (
	"testing"
	"time"

	"github.com/saplcore/pdp/ast"
)

func TestParseConfigInjectsDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{}`), "pdp-1")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Labels["id"] != "pdp-1" {
		t.Fatalf("expected labels[id]=pdp-1, got %q", cfg.Labels["id"])
	}
	if cfg.CombiningAlgorithm != defaultCombiningAlgorithm {
		t.Fatalf("expected default combining algorithm, got %q", cfg.CombiningAlgorithm)
	}
	alg, err := cfg.Algorithm()
	if err != nil {
		t.Fatal(err)
	}
	if alg != ast.AlgDenyOverrides {
		t.Fatalf("expected deny-overrides, got %v", alg)
	}
}

func TestParseConfigAcceptsYAML(t *testing.T) {
	raw := []byte("combining_algorithm: permit-overrides\nlog:\n  level: debug\n  format: text\n")
	cfg, err := ParseConfig(raw, "pdp-2")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CombiningAlgorithm != "permit-overrides" {
		t.Fatalf("expected permit-overrides, got %q", cfg.CombiningAlgorithm)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Fatalf("expected debug/text log config, got %+v", cfg.Log)
	}
}

func TestTimingParamsOverridesDefaults(t *testing.T) {
	cfg := Config{Timing: TimingConfig{PollInterval: "5s", Retries: 1}}
	timing, err := cfg.TimingParams()
	if err != nil {
		t.Fatal(err)
	}
	if timing.PollInterval != 5*time.Second {
		t.Fatalf("expected 5s poll interval, got %v", timing.PollInterval)
	}
	if timing.Retries != 1 {
		t.Fatalf("expected 1 retry, got %d", timing.Retries)
	}
	if timing.Backoff == 0 {
		t.Fatal("expected default backoff to survive a partial override")
	}
}

func TestUnknownCombiningAlgorithmIsRejected(t *testing.T) {
	cfg := Config{CombiningAlgorithm: "bogus"}
	if _, err := cfg.Algorithm(); err == nil {
		t.Fatal("expected an error for an unknown combining algorithm")
	}
}
