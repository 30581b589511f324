// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes broker counters in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inconnu"

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Config controls which collectors are registered.
type Config struct {
	// IncludeRuntimeMetrics adds the Go runtime and process collectors.
	IncludeRuntimeMetrics bool
}

// Metrics holds the broker's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	flows         *prometheus.CounterVec
	redemptions   *prometheus.CounterVec
	tokens        prometheus.Counter
	verifications *prometheus.CounterVec
}

// New creates the collectors and registers them on a new registry.
func New(cfg Config) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		flows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_started_total",
			Help:      "Authentication flows started, by provider and mode.",
		}, []string{"provider", "mode"}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redemptions_total",
			Help:      "Handshake secret redemptions, by step and outcome.",
		}, []string{"step", "outcome"}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Signed tokens issued.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Token verifications, by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(m.flows, m.redemptions, m.tokens, m.verifications)
	if cfg.IncludeRuntimeMetrics {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// FlowStarted counts a redirect into a provider or hub.
func (m *Metrics) FlowStarted(provider, mode string) {
	if m == nil {
		return
	}
	m.flows.WithLabelValues(provider, mode).Inc()
}

// Redeemed counts a secret redemption at step (authenticated, redeem).
func (m *Metrics) Redeemed(step, outcome string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(step, outcome).Inc()
}

// TokenIssued counts an issued token.
func (m *Metrics) TokenIssued() {
	if m == nil {
		return
	}
	m.tokens.Inc()
}

// Verified counts a verification result.
func (m *Metrics) Verified(outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
