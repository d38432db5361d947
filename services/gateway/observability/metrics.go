// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the gateway's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the gateway's instrumentation. A nil *Metrics is a no-op,
// so wiring stays optional in tests.
type Metrics struct {
	toolCalls       *prometheus.CounterVec
	toolRetries     prometheus.Counter
	dispatchSeconds *prometheus.HistogramVec
	activeSSE       prometheus.Gauge
	sessions        prometheus.Gauge
	jobsByState     *prometheus.GaugeVec
	traceFlushes    prometheus.Counter
}

// New registers the gateway metrics on reg (use prometheus.DefaultRegisterer
// in production wiring, a fresh registry in tests).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelforge",
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool name and result code (ok for success).",
		}, []string{"tool", "code"}),
		toolRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "modelforge",
			Name:      "tool_retries_total",
			Help:      "Automatic retries after revision mismatch.",
		}),
		dispatchSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modelforge",
			Name:      "dispatch_duration_seconds",
			Help:      "End-to-end tool dispatch latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		activeSSE: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "modelforge",
			Name:      "active_sse_connections",
			Help:      "Open SSE streams across all sessions.",
		}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "modelforge",
			Name:      "active_sessions",
			Help:      "Live MCP sessions.",
		}),
		jobsByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "modelforge",
			Name:      "pipeline_jobs",
			Help:      "Pipeline jobs by state.",
		}, []string{"state"}),
		traceFlushes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "modelforge",
			Name:      "trace_flushes_total",
			Help:      "Trace log flushes to disk.",
		}),
	}
}

// ObserveToolCall records one dispatched tool call.
func (m *Metrics) ObserveToolCall(toolName, code string, seconds float64) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(toolName, code).Inc()
	m.dispatchSeconds.WithLabelValues(toolName).Observe(seconds)
}

// ObserveRetry records one automatic revision retry.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.toolRetries.Inc()
}

// SetActiveSSE tracks the open SSE stream count.
func (m *Metrics) SetActiveSSE(n int) {
	if m == nil {
		return
	}
	m.activeSSE.Set(float64(n))
}

// SetActiveSessions tracks the live session count.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// SetJobs tracks the pipeline job gauge for one state.
func (m *Metrics) SetJobs(state string, n int) {
	if m == nil {
		return
	}
	m.jobsByState.WithLabelValues(state).Set(float64(n))
}

// ObserveTraceFlush records one trace flush.
func (m *Metrics) ObserveTraceFlush() {
	if m == nil {
		return
	}
	m.traceFlushes.Inc()
}
