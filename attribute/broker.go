// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package attribute

import (
	"context"
	"sync"
	"time"

	"github.com/saplcore/pdp/value"
)

// Sink receives lifecycle observations from the Broker; metrics.Provider
// (package metrics), tracing.Sink (package tracing) and a no-op
// implementation satisfy it, mirroring the teacher's nil-safe
// metrics.Metrics threading.
type Sink interface {
	StationCreated(key Key)
	StationEvicted(key Key)
}

type noopSink struct{}

func (noopSink) StationCreated(Key) {}
func (noopSink) StationEvicted(Key) {}

// Linger is the duration a station's last-value cache survives after its
// last subscriber detaches before the station is evicted (spec.md §4.3).
// The package default, per spec, is zero (immediate eviction); callers that
// want to coalesce rapid resubscribes set Broker.Linger explicitly.
var DefaultLinger = time.Duration(0)

// Broker is the attribute broker (spec.md §4.3 / C3): it de-duplicates
// concurrent Subscribe calls against equal Keys onto one shared station,
// and evaluates fresh=true calls against a private, never-cached station.
//
// The station table is guarded by a single mutex; contention is bounded by
// subscription turnover, not value frequency (spec.md §9), so a coarser
// lock than the teacher's inmem reader/writer split is sufficient here —
// Subscribe/unsubscribe are the only table mutators and neither blocks on
// station I/O while holding it.
type Broker struct {
	registry *Registry
	sink     Sink
	Linger   time.Duration

	mu       sync.Mutex
	stations map[Key]*station
}

func NewBroker(registry *Registry) *Broker {
	return &Broker{registry: registry, sink: noopSink{}, stations: map[Key]*station{}}
}

func (b *Broker) SetSink(s Sink) {
	if s == nil {
		s = noopSink{}
	}
	b.sink = s
}

// Subscription is a live attribute subscription handle returned by
// Subscribe. Values arrive on C; call Cancel when done to release the
// station reference.
type Subscription struct {
	C      <-chan value.Value
	Cancel func()
}

// Subscribe implements attributeStream(key) (spec.md §4.3). entity/hasEntity
// distinguish the entity form (`entity.<name(...)>`) from the environment
// form (`<name(...)>`); vars is the relevant-variables snapshot that is
// part of the de-duplication key.
func (b *Broker) Subscribe(ctx context.Context, pdpConfigID, attributeName string, entity value.Value, hasEntity bool, args []value.Value, vars map[string]value.Value, timing TimingParams) (*Subscription, error) {
	finder, ok := b.registry.Lookup(attributeName)
	if !ok {
		return errorSubscription(value.Errorf("unbound attribute finder %q", attributeName)), nil
	}
	if finder.IsEnvironment != !hasEntity {
		return errorSubscription(value.Errorf("attribute finder %q used with wrong entity form", attributeName)), nil
	}

	key := NewKey(pdpConfigID, attributeName, entity, hasEntity, args, vars)

	var st *station
	var subID uint64
	var rawCh chan value.Value

	if timing.Fresh {
		st = newStation(ctx, key, finder, entity, hasEntity, args, vars, timing, nil)
		subID, rawCh = st.subscribe()
	} else {
		b.mu.Lock()
		existing, ok := b.stations[key]
		if ok {
			st = existing
		} else {
			st = newStation(context.Background(), key, finder, entity, hasEntity, args, vars, timing, b.onStationEmpty)
			b.stations[key] = st
			b.sink.StationCreated(key)
		}
		b.mu.Unlock()
		subID, rawCh = st.subscribe()
	}

	out := make(chan value.Value, subscriberBuffer)
	subCtx, cancel := context.WithCancel(ctx)
	go b.pump(subCtx, st, subID, rawCh, out, timing)

	cancelOnce := sync.Once{}
	return &Subscription{
		C: out,
		Cancel: func() {
			cancelOnce.Do(func() {
				cancel()
				st.unsubscribe(subID, b.Linger)
			})
		},
	}, nil
}

// pump forwards raw station values to the subscriber's own output channel,
// additionally enforcing the per-subscriber initialTimeout: if no value
// arrives within InitialTimeout of subscription start, the subscriber
// observes one Error("attribute timeout") and keeps waiting (spec.md
// §4.3).
func (b *Broker) pump(ctx context.Context, st *station, subID uint64, in <-chan value.Value, out chan<- value.Value, timing TimingParams) {
	defer close(out)

	var timeoutC <-chan time.Time
	if timing.InitialTimeout > 0 {
		t := time.NewTimer(timing.InitialTimeout)
		defer t.Stop()
		timeoutC = t.C
	}

	gotFirst := false
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-in:
			if !ok {
				return
			}
			gotFirst = true
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		case <-timeoutC:
			if !gotFirst {
				select {
				case out <- value.Error("attribute timeout"):
				case <-ctx.Done():
					return
				}
			}
			timeoutC = nil
		}
	}
}

func (b *Broker) onStationEmpty(key Key) {
	b.mu.Lock()
	delete(b.stations, key)
	b.mu.Unlock()
	b.sink.StationEvicted(key)
}

func errorSubscription(v value.Value) *Subscription {
	ch := make(chan value.Value, 1)
	ch <- v
	close(ch)
	return &Subscription{C: ch, Cancel: func() {}}
}

// ActiveStations returns the number of live (non-fresh) stations, for
// tests and metrics.
func (b *Broker) ActiveStations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stations)
}