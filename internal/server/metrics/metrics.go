// Package metrics exposes Prometheus collectors for the capsule engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CapsulesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "capsules_created_total",
			Help: "Total number of capsules accepted by the creation pipeline.",
		},
	)
	CapsulesCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "capsules_cancelled_total",
			Help: "Total number of capsules cancelled by their owners.",
		},
	)
	DeliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capsule_delivery_attempts_total",
			Help: "Delivery attempts by outcome.",
		},
		[]string{"outcome"},
	)
	DeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "capsule_delivery_duration_seconds",
			Help:    "Duration of a single capsule delivery attempt.",
			Buckets: prometheus.DefBuckets,
		},
	)
	LedgerApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_entries_applied_total",
			Help: "Ledger entries applied by reason.",
		},
		[]string{"reason"},
	)
	PaymentEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_events_dropped_total",
			Help: "Payment events acknowledged without being applied; the dropped reference is logged for replay.",
		},
	)
)

// Delivery attempt outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeConflict  = "claim_conflict"
)

func Register(registry *prometheus.Registry) {
	registry.MustRegister(CapsulesCreated, CapsulesCancelled, DeliveryAttempts, DeliveryDuration, LedgerApplied, PaymentEventsDropped)
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
