// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package attribute

import (
	"context"

	"github.com/saplcore/pdp/value"
)

// Finder is the attribute-finder plugin interface of spec.md §6. A Finder
// is either push-driven (Stream != nil: the finder owns its own cadence
// and ignores PollInterval) or poll-driven (Stream == nil, Poll != nil:
// the broker re-invokes Poll at PollInterval). Exactly one of Stream/Poll
// must be set.
type Finder struct {
	Name          string
	IsEnvironment bool
	Arity         int

	// Stream runs a push-driven finder: it must send zero or more values
	// on the returned channel and close it when done, and must return
	// promptly after ctx is cancelled (spec.md §4.3, "cooperative" cancel).
	Stream func(ctx context.Context, entity value.Value, hasEntity bool, args []value.Value, vars map[string]value.Value) (<-chan FinderEvent, error)

	// Poll runs one poll-driven invocation, returning a single value or
	// error; the broker is responsible for cadence and retry/backoff.
	Poll func(ctx context.Context, entity value.Value, hasEntity bool, args []value.Value, vars map[string]value.Value) (value.Value, error)
}

// FinderEvent is one emission from a push-driven finder: either a value or
// a terminal error (retries are the finder's own responsibility for
// push-driven finders, since the broker does not control their cadence).
type FinderEvent struct {
	Value    value.Value
	Terminal bool // true: the station ends after delivering this event
}

// Registry maps fully-qualified attribute-finder names to Finders.
type Registry struct {
	finders map[string]*Finder
}

func NewRegistry() *Registry { return &Registry{finders: map[string]*Finder{}} }

func (r *Registry) Register(f *Finder) { r.finders[f.Name] = f }

func (r *Registry) Lookup(name string) (*Finder, bool) {
	f, ok := r.finders[name]
	return f, ok
}