// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

// Package attribute implements the attribute broker (spec.md §4.3): the
// subsystem that drives external attribute finders as multiplexed lazy
// value sequences, de-duplicating concurrent subscriptions against the
// same upstream ("station") and fanning out value changes to every
// subscriber. This is called out in spec.md §2 as the hardest subsystem —
// see the package-level docs on Broker for the station lifecycle.
package attribute

import (
	"encoding/json"
	"time"

	"github.com/saplcore/pdp/value"
)

// Key identifies one attribute subscription for de-duplication purposes
// (spec.md §3, "Attribute Subscription Key"). Two Subscribe calls with
// equal Keys (and fresh=false) share the same station.
type Key struct {
	PDPConfigID   string
	AttributeName string
	IsEnvironment bool
	EntityJSON    string // canonical JSON of the entity value; empty when IsEnvironment
	ArgsJSON      string // canonical JSON array of arguments
	VarsJSON      string // canonical JSON object of the relevant-variables snapshot
}

// NewKey canonicalizes its inputs into a Key suitable for use as a map key
// (it is a plain comparable struct of strings/bools, mirroring the
// teacher's storage/inmem hashable-path convention).
func NewKey(pdpConfigID, attributeName string, entity value.Value, hasEntity bool, args []value.Value, vars map[string]value.Value) Key {
	k := Key{PDPConfigID: pdpConfigID, AttributeName: attributeName, IsEnvironment: !hasEntity}
	if hasEntity {
		k.EntityJSON = canonicalJSON(entity)
	}
	k.ArgsJSON = canonicalJSONArray(args)
	k.VarsJSON = canonicalJSONObject(vars)
	return k
}

func canonicalJSON(v value.Value) string {
	b, err := v.MarshalJSON()
	if err != nil {
		// Undefined/Error entities still need a stable (if degenerate) key;
		// fall back to the Kind tag so stations for differently-broken
		// inputs do not collide.
		return "!" + v.Kind().String()
	}
	return string(b)
}

func canonicalJSONArray(args []value.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = canonicalJSON(a)
	}
	b, _ := json.Marshal(parts)
	return string(b)
}

func canonicalJSONObject(vars map[string]value.Value) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sortStrings(keys)
	m := make(map[string]string, len(keys))
	for _, k := range keys {
		m[k] = canonicalJSON(vars[k])
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// TimingParams are the per-invocation timing parameters of spec.md §4.3.
type TimingParams struct {
	InitialTimeout time.Duration
	PollInterval   time.Duration
	Backoff        time.Duration
	Retries        int
	Fresh          bool
}

// Default returns the PDP-configuration defaults described in
// SPEC_FULL.md §4.10.
func Default() TimingParams {
	return TimingParams{
		InitialTimeout: 0,
		PollInterval:   30 * time.Second,
		Backoff:        time.Second,
		Retries:        3,
	}
}

// cappedBackoff enforces the spec's fixed backoff cap: one poll interval of
// the owning station (spec.md §5, "Timeouts").
func (t TimingParams) cappedBackoff(attempt int) time.Duration {
	d := t.Backoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > t.PollInterval && t.PollInterval > 0 {
			d = t.PollInterval
			break
		}
	}
	if t.PollInterval > 0 && d > t.PollInterval {
		d = t.PollInterval
	}
	return d
}