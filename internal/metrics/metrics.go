// Package metrics provides Prometheus instrumentation for the ledger
// core: payment engine, clearing engine, invariant checks and the
// recovery loop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PaymentOpsTotal counts payment engine operations by type and outcome.
	PaymentOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geoledger",
			Name:      "payment_operations_total",
			Help:      "Total payment engine operations by type and outcome.",
		},
		[]string{"op", "outcome"},
	)

	// PaymentOpDuration observes payment engine operation latency.
	PaymentOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "geoledger",
			Name:      "payment_operation_duration_seconds",
			Help:      "Payment engine operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{"op"},
	)

	// PaymentRetries counts whole-unit-of-work retries triggered by a
	// retryable SQLSTATE.
	PaymentRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geoledger",
			Name:      "payment_retries_total",
			Help:      "Total payment engine retries due to serialization conflicts.",
		},
		[]string{"op"},
	)

	// ClearingCyclesTotal counts cleared cycles by depth.
	ClearingCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geoledger",
			Name:      "clearing_cycles_total",
			Help:      "Total debt cycles cleared, by cycle depth.",
		},
		[]string{"depth"},
	)

	// ClearingCycleAmount tracks the total amount released by clearing.
	ClearingCycleAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geoledger",
			Name:      "clearing_cleared_amount_total",
			Help:      "Total amount (in whole equivalent units) released by clearing, per equivalent.",
		},
		[]string{"equivalent"},
	)

	// InvariantViolationsTotal counts invariant check failures by kind.
	InvariantViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geoledger",
			Name:      "invariant_violations_total",
			Help:      "Total invariant violations detected, by invariant.",
		},
		[]string{"invariant"},
	)

	// RecoveryActionsTotal counts recovery loop actions by kind.
	RecoveryActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geoledger",
			Name:      "recovery_actions_total",
			Help:      "Total recovery loop actions, by action kind.",
		},
		[]string{"action"},
	)

	// PrepareLocksActive gauges the number of currently active prepare locks.
	PrepareLocksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "geoledger",
			Name:      "prepare_locks_active",
			Help:      "Number of currently active (non-expired, non-released) prepare locks.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PaymentOpsTotal,
		PaymentOpDuration,
		PaymentRetries,
		ClearingCyclesTotal,
		ClearingCycleAmount,
		InvariantViolationsTotal,
		RecoveryActionsTotal,
		PrepareLocksActive,
	)
}

// ObservePaymentOp increments the operation counter and returns a
// function that must be called with the outcome ("ok" or "error") once
// the operation completes, recording its duration.
func ObservePaymentOp(op string) func(outcome string) {
	start := time.Now()
	return func(outcome string) {
		PaymentOpsTotal.WithLabelValues(op, outcome).Inc()
		PaymentOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
