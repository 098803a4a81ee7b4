// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package tracing

import (
	"context"
	"testing"

	"github.com/saplcore/pdp/attribute"
	"github.com/saplcore/pdp/logging"
)

func TestInitRegistersATracerProvider(t *testing.T) {
	tp, err := Init(context.Background(), Config{ServiceName: "pdp-test", SampleRatePercentage: 100}, logging.NewNoOpLogger())
	if err != nil {
		t.Fatal(err)
	}
	if tp == nil {
		t.Fatal("expected a non-nil TracerProvider")
	}
	defer tp.Shutdown(context.Background())
}

func TestInitDefaultsServiceName(t *testing.T) {
	tp, err := Init(context.Background(), Config{}, logging.NewNoOpLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer tp.Shutdown(context.Background())
}

func TestSinkStartsAndEndsSpansPerStation(t *testing.T) {
	tp, err := Init(context.Background(), Config{ServiceName: "pdp-test", SampleRatePercentage: 100}, logging.NewNoOpLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer tp.Shutdown(context.Background())

	s := NewSink(tp)
	key := attribute.Key{AttributeName: "subject.clearance"}
	s.StationCreated(key)
	if _, ok := s.spans[key]; !ok {
		t.Fatal("expected a span to be tracked for the created station")
	}
	s.StationEvicted(key)
	if _, ok := s.spans[key]; ok {
		t.Fatal("expected the span to be removed once the station is evicted")
	}

	// Evicting an unknown key must not panic.
	s.StationEvicted(attribute.Key{AttributeName: "unknown"})
}
