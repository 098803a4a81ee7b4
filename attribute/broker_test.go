// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package attribute

import (
	"context"
	"testing"
	"time"

	"github.com/saplcore/pdp/value"
)

func pushFinder(name string, values ...value.Value) *Finder {
	return &Finder{
		Name: name, IsEnvironment: true,
		Stream: func(ctx context.Context, _ value.Value, _ bool, _ []value.Value, _ map[string]value.Value) (<-chan FinderEvent, error) {
			ch := make(chan FinderEvent, len(values))
			for _, v := range values {
				ch <- FinderEvent{Value: v}
			}
			close(ch)
			return ch, nil
		},
	}
}

func TestDeduplicationSharesStation(t *testing.T) {
	reg := NewRegistry()
	reg.Register(pushFinder("portal", value.Text("a"), value.Text("b")))
	b := NewBroker(reg)

	ctx := context.Background()
	timing := Default()

	sub1, err := b.Subscribe(ctx, "pdp1", "portal", value.Value{}, false, nil, nil, timing)
	if err != nil {
		t.Fatal(err)
	}
	sub2, err := b.Subscribe(ctx, "pdp1", "portal", value.Value{}, false, nil, nil, timing)
	if err != nil {
		t.Fatal(err)
	}
	defer sub1.Cancel()
	defer sub2.Cancel()

	v1a := <-sub1.C
	v1b := <-sub1.C
	v2a := <-sub2.C
	v2b := <-sub2.C

	if !v1a.Equal(v2a) || !v1b.Equal(v2b) {
		t.Fatalf("expected both subscribers to observe the same sequence, got %v/%v vs %v/%v", v1a, v1b, v2a, v2b)
	}
	if !v1a.Equal(value.Text("a")) || !v1b.Equal(value.Text("b")) {
		t.Fatalf("unexpected sequence: %v, %v", v1a, v1b)
	}
}

func TestFreshBypassesSharing(t *testing.T) {
	calls := 0
	reg := NewRegistry()
	reg.Register(&Finder{
		Name: "counter", IsEnvironment: true,
		Stream: func(ctx context.Context, _ value.Value, _ bool, _ []value.Value, _ map[string]value.Value) (<-chan FinderEvent, error) {
			calls++
			ch := make(chan FinderEvent, 1)
			ch <- FinderEvent{Value: value.NumFromInt(calls)}
			close(ch)
			return ch, nil
		},
	})
	b := NewBroker(reg)
	ctx := context.Background()

	timing := Default()
	timing.Fresh = true

	sub1, _ := b.Subscribe(ctx, "pdp1", "counter", value.Value{}, false, nil, nil, timing)
	sub2, _ := b.Subscribe(ctx, "pdp1", "counter", value.Value{}, false, nil, nil, timing)
	defer sub1.Cancel()
	defer sub2.Cancel()

	v1 := <-sub1.C
	v2 := <-sub2.C
	if v1.Equal(v2) {
		t.Fatal("expected fresh subscriptions to invoke independent private stations")
	}
}

func TestLateSubscriberReceivesLastValue(t *testing.T) {
	reg := NewRegistry()
	slow := make(chan FinderEvent)
	reg.Register(&Finder{
		Name: "slow", IsEnvironment: true,
		Stream: func(ctx context.Context, _ value.Value, _ bool, _ []value.Value, _ map[string]value.Value) (<-chan FinderEvent, error) {
			return slow, nil
		},
	})
	b := NewBroker(reg)
	ctx := context.Background()
	timing := Default()

	sub1, err := b.Subscribe(ctx, "pdp1", "slow", value.Value{}, false, nil, nil, timing)
	if err != nil {
		t.Fatal(err)
	}
	defer sub1.Cancel()

	slow <- FinderEvent{Value: value.Text("cached")}
	if got := <-sub1.C; !got.Equal(value.Text("cached")) {
		t.Fatalf("got %v", got)
	}

	sub2, err := b.Subscribe(ctx, "pdp1", "slow", value.Value{}, false, nil, nil, timing)
	if err != nil {
		t.Fatal(err)
	}
	defer sub2.Cancel()

	select {
	case got := <-sub2.C:
		if !got.Equal(value.Text("cached")) {
			t.Fatalf("expected replay of cached last value, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replayed last value")
	}
	close(slow)
}

func TestInitialTimeoutFiresOnce(t *testing.T) {
	reg := NewRegistry()
	never := make(chan FinderEvent)
	reg.Register(&Finder{
		Name: "never", IsEnvironment: true,
		Stream: func(ctx context.Context, _ value.Value, _ bool, _ []value.Value, _ map[string]value.Value) (<-chan FinderEvent, error) {
			return never, nil
		},
	})
	b := NewBroker(reg)
	ctx := context.Background()
	timing := Default()
	timing.InitialTimeout = 20 * time.Millisecond

	sub, err := b.Subscribe(ctx, "pdp1", "never", value.Value{}, false, nil, nil, timing)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	select {
	case v := <-sub.C:
		if !v.IsError() || v.ErrorMessage() != "attribute timeout" {
			t.Fatalf("expected timeout error, got %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial timeout error")
	}

	select {
	case v, ok := <-sub.C:
		if ok {
			t.Fatalf("expected no further values, got %v", v)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestImmediateEvictionOnZeroRefCount(t *testing.T) {
	reg := NewRegistry()
	reg.Register(pushFinder("once", value.Num(1)))
	b := NewBroker(reg)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "pdp1", "once", value.Value{}, false, nil, nil, Default())
	if err != nil {
		t.Fatal(err)
	}
	<-sub.C
	sub.Cancel()

	deadline := time.Now().Add(time.Second)
	for b.ActiveStations() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.ActiveStations() != 0 {
		t.Fatal("expected station to be evicted after last subscriber cancels")
	}
}

func TestUnboundFinderYieldsError(t *testing.T) {
	reg := NewRegistry()
	b := NewBroker(reg)
	sub, err := b.Subscribe(context.Background(), "pdp1", "missing", value.Value{}, false, nil, nil, Default())
	if err != nil {
		t.Fatal(err)
	}
	got := <-sub.C
	if !got.IsError() {
		t.Fatal("expected error for unbound attribute finder")
	}
}