/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

var (
	// APIRequestsTotal counts HTTP requests by method, endpoint and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wayfarer_api_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wayfarer_api_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wayfarer_api_active_connections",
		Help: "Number of in-flight HTTP requests",
	})

	// WebsocketConnections gauges currently connected voice clients.
	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wayfarer_websocket_connections",
		Help: "Number of connected voice websocket clients",
	})

	// UpstreamSessionsActive gauges open upstream live sessions across all clients.
	UpstreamSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wayfarer_upstream_sessions_active",
		Help: "Number of active upstream live sessions",
	})

	// UpstreamSessionsRejected counts starts refused at the concurrency cap.
	UpstreamSessionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wayfarer_upstream_sessions_rejected_total",
		Help: "Session starts rejected because the concurrency cap was reached",
	})

	// ToolCallsTotal counts tool dispatches by tool name.
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wayfarer_tool_calls_total",
		Help: "Total number of tool calls dispatched",
	}, []string{"tool"})

	// AudioAggregationsTotal counts completed audio aggregation cycles.
	AudioAggregationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wayfarer_audio_aggregations_total",
		Help: "Completed audio aggregation cycles",
	})

	// MemoryWritesTotal counts memory persistence attempts by outcome.
	MemoryWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wayfarer_memory_writes_total",
		Help: "Memory persistence attempts",
	}, []string{"outcome"})
)
