// Package metrics exposes Nexus's Prometheus gauges/counters, grounded on
// the teacher's pkg/metrics shape (promauto-registered vectors plus thin
// Record*/Set* wrappers so call sites never touch label ordering directly).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_requests_total",
			Help: "Total number of routed requests by backend, model, and outcome",
		},
		[]string{"backend_id", "model", "outcome"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexus_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"backend_id", "model"},
	)

	BackendHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexus_backend_health",
			Help: "Backend health status (1=healthy, 0=unhealthy, 0.5=unknown)",
		},
		[]string{"backend_id", "backend_type"},
	)

	BackendLatencyMs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexus_backend_latency_ms",
			Help: "Most recent probe latency in milliseconds",
		},
		[]string{"backend_id"},
	)

	BackendPendingRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexus_backend_pending_requests",
			Help: "Current in-flight request count per backend",
		},
		[]string{"backend_id"},
	)

	RoutingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_routing_decisions_total",
			Help: "Total routing decisions by outcome and backend",
		},
		[]string{"outcome", "backend_id"},
	)

	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_fallbacks_total",
			Help: "Total times a fallback model was selected instead of the primary",
		},
		[]string{"requested_model", "actual_model"},
	)

	DiscoveryEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_discovery_events_total",
			Help: "Total mDNS discovery events by kind",
		},
		[]string{"kind"},
	)

	BudgetSpendingCents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexus_budget_spending_cents",
			Help: "Current accumulated spending in cents for the billing cycle",
		},
		[]string{},
	)

	BudgetStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexus_budget_status",
			Help: "Budget status (0=normal, 1=soft_limit, 2=hard_limit)",
		},
		[]string{},
	)
)

// RecordRequest records a completed routed request.
func RecordRequest(backendID, model, outcome string, durationSec float64) {
	RequestsTotal.WithLabelValues(backendID, model, outcome).Inc()
	RequestDuration.WithLabelValues(backendID, model).Observe(durationSec)
}

// SetBackendHealth mirrors a registry.Status onto the health gauge.
func SetBackendHealth(backendID, backendType string, statusValue float64) {
	BackendHealth.WithLabelValues(backendID, backendType).Set(statusValue)
}

// SetBackendLatency records the most recent probe latency.
func SetBackendLatency(backendID string, latencyMs int64) {
	BackendLatencyMs.WithLabelValues(backendID).Set(float64(latencyMs))
}

// SetBackendPendingRequests mirrors the registry's pending-request counter.
func SetBackendPendingRequests(backendID string, pending int64) {
	BackendPendingRequests.WithLabelValues(backendID).Set(float64(pending))
}

// RecordRoutingDecision records a routing outcome for a selected backend.
func RecordRoutingDecision(outcome, backendID string) {
	RoutingDecisionsTotal.WithLabelValues(outcome, backendID).Inc()
}

// RecordFallback records a fallback-model selection.
func RecordFallback(requestedModel, actualModel string) {
	FallbacksTotal.WithLabelValues(requestedModel, actualModel).Inc()
}

// RecordDiscoveryEvent records an mDNS found/removed/expired event.
func RecordDiscoveryEvent(kind string) {
	DiscoveryEventsTotal.WithLabelValues(kind).Inc()
}

// SetBudgetSpending mirrors the current spending counter.
func SetBudgetSpending(cents int64) {
	BudgetSpendingCents.WithLabelValues().Set(float64(cents))
}

// SetBudgetStatus mirrors the current budget status (0/1/2).
func SetBudgetStatus(value float64) {
	BudgetStatus.WithLabelValues().Set(value)
}
