// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

// Package metrics instruments the attribute broker's station lifecycle and
// the PDP's decision stream with Prometheus metrics, grounded on the
// teacher's internal/prometheus/prometheus.go Provider.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saplcore/pdp/attribute"
	"github.com/saplcore/pdp/combining"
)

// Provider wires a dedicated Prometheus registry to the broker's Sink
// interface (attribute.Sink) and exposes a decision-outcome counter the PDP
// orchestrator's callers can increment per emitted Decision.
type Provider struct {
	registry *prometheus.Registry

	stationsCreated *prometheus.CounterVec
	stationsEvicted *prometheus.CounterVec
	activeStations  prometheus.Gauge
	decisions       *prometheus.CounterVec
}

// New returns a Provider with its own Prometheus registry, mirroring the
// teacher's internal/prometheus.New (a standalone registry rather than the
// global default, so multiple PDP instances in one process don't collide
// on metric registration).
func New() *Provider {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())

	stationsCreated := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pdp_attribute_stations_created_total", Help: "Attribute stations created, by attribute name."},
		[]string{"attribute"},
	)
	stationsEvicted := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pdp_attribute_stations_evicted_total", Help: "Attribute stations evicted after linger, by attribute name."},
		[]string{"attribute"},
	)
	activeStations := prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "pdp_attribute_stations_active", Help: "Currently live attribute stations."},
	)
	decisions := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pdp_decisions_total", Help: "Decisions emitted by the orchestrator, by outcome."},
		[]string{"decision"},
	)
	registry.MustRegister(stationsCreated, stationsEvicted, activeStations, decisions)

	return &Provider{
		registry:        registry,
		stationsCreated: stationsCreated,
		stationsEvicted: stationsEvicted,
		activeStations:  activeStations,
		decisions:       decisions,
	}
}

// StationCreated implements attribute.Sink.
func (p *Provider) StationCreated(key attribute.Key) {
	p.stationsCreated.WithLabelValues(key.AttributeName).Inc()
	p.activeStations.Inc()
}

// StationEvicted implements attribute.Sink.
func (p *Provider) StationEvicted(key attribute.Key) {
	p.stationsEvicted.WithLabelValues(key.AttributeName).Inc()
	p.activeStations.Dec()
}

// ObserveDecision increments the decision-outcome counter; callers invoke
// this from the orchestrator's decision-consuming loop.
func (p *Provider) ObserveDecision(d combining.Decision) {
	p.decisions.WithLabelValues(d.String()).Inc()
}

// RegisterEndpoints registers /metrics the way the teacher's Provider does,
// against a caller-supplied registrar rather than assuming a particular
// router (kept independent of the server package's router choice).
func (p *Provider) RegisterEndpoints(registrar func(path, method string, handler http.Handler)) {
	registrar("/metrics", http.MethodGet, promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

var _ attribute.Sink = (*Provider)(nil)
