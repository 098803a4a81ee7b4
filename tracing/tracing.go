// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

// Package tracing wires the attribute broker's station lifecycle into
// OpenTelemetry spans (one span per station, see Sink), grounded on
// the teacher's internal/distributedtracing/distributedtracing.go Init
// shape (parse config, build a resource, build a TracerProvider). The
// teacher's actual OTLP gRPC/HTTP exporters are not part of this module's
// dependency surface (see DESIGN.md's dropped-dependency ledger); spans are
// exported through a logging.Logger-backed exporter instead, which keeps
// the same "configure once, trace everywhere" shape without requiring an
// OTLP collector at evaluation time.
package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	semresource "go.opentelemetry.io/otel/sdk/resource"

	pdpattribute "github.com/saplcore/pdp/attribute"
	"github.com/saplcore/pdp/logging"
)

const instrumentationName = "github.com/saplcore/pdp"

// Config is the subset of the teacher's distributedTracingConfig this
// module carries: service naming and sample rate. TLS/OTLP transport
// options are dropped along with the exporter they configure.
type Config struct {
	ServiceName          string
	SampleRatePercentage float64
}

// Init builds a TracerProvider exporting through a logging.Logger and
// registers it as the global provider, mirroring the teacher's Init
// returning a ready-to-use provider plus its resource.
func Init(ctx context.Context, cfg Config, logger logging.Logger) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "saplcore-pdp"
	}
	res, err := semresource.New(ctx, semresource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, err
	}

	ratio := cfg.SampleRatePercentage / 100
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(&logExporter{logger: logger}),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// logExporter implements sdktrace.SpanExporter by logging each completed
// span at Debug level — a stand-in for the teacher's OTLP exporter (see
// the package doc and DESIGN.md).
type logExporter struct {
	logger logging.Logger
}

func (e *logExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	if e.logger == nil {
		return nil
	}
	for _, s := range spans {
		e.logger.Debug("span %s (%s) duration=%s", s.Name(), s.SpanKind(), s.EndTime().Sub(s.StartTime()))
	}
	return nil
}

func (e *logExporter) Shutdown(context.Context) error { return nil }

// Sink adapts a trace.Tracer into an attribute.Sink, opening and ending a
// span around each station's lifetime (spec.md §4.3's station as the unit
// of attribute-subscription lifecycle).
type Sink struct {
	tracer trace.Tracer
	mu     sync.Mutex
	spans  map[pdpattribute.Key]trace.Span
}

// NewSink returns a Sink using the tracer named for this package.
func NewSink(tp trace.TracerProvider) *Sink {
	return &Sink{tracer: tp.Tracer(instrumentationName), spans: map[pdpattribute.Key]trace.Span{}}
}

func (s *Sink) StationCreated(key pdpattribute.Key) {
	_, span := s.tracer.Start(context.Background(), "attribute.station",
		trace.WithAttributes(attribute.String("attribute.name", key.AttributeName)))
	s.mu.Lock()
	s.spans[key] = span
	s.mu.Unlock()
}

func (s *Sink) StationEvicted(key pdpattribute.Key) {
	s.mu.Lock()
	span, ok := s.spans[key]
	delete(s.spans, key)
	s.mu.Unlock()
	if ok {
		span.End()
	}
}

var _ pdpattribute.Sink = (*Sink)(nil)
