package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Settlement backend calls
	settlementCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_calls_total",
		Help: "Total settlement backend calls",
	}, []string{
		"operation", // get_plans, get_subscription, purchase, payment_status, cancel
		"result",    // ok, not_found, transport_error, circuit_open
	})

	settlementCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_call_duration_seconds",
		Help:    "Duration of settlement backend calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"operation"})

	settlementCircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_circuit_state",
		Help: "Settlement circuit breaker state (0=closed, 1=open, 2=half-open)",
	})

	// Purchase flow
	purchasesInitiatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchases_initiated_total",
		Help: "Total purchase initiation attempts",
	}, []string{
		"processor",
		"result", // ok, declined, transport_error
	})

	surfacesOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_surfaces_opened_total",
		Help: "Total external payment surface open attempts",
	}, []string{
		"kind",   // document, redirect
		"result", // opened, blocked, error
	})

	// Reconciliation
	reconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliations_total",
		Help: "Terminal reconciliation outcomes",
	}, []string{
		"outcome", // succeeded, failed, timed_out, cancelled
		"trigger", // close_watch, status_watch, ceiling, cancel
	})

	reconciliationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconciliation_duration_seconds",
		Help:    "Time from watch start to terminal outcome",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"outcome"})

	statusQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_status_queries_total",
		Help: "Payment status queries issued by watches and the return page",
	}, []string{
		"source", // close_watch, status_watch, return_page
		"result", // paid, pending, failed, transport_error
	})

	activeWatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reconciliation_active_watches",
		Help: "Number of reconciliation watches currently running",
	})

	// Pending payment store
	pendingStoreOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pending_store_operations_total",
		Help: "Pending payment store operations",
	}, []string{
		"backend",   // postgres, redis, file, memory
		"operation", // write, read, clear
		"result",    // ok, error
	})

	// Return page
	returnPageVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "return_page_verifications_total",
		Help: "Return page verification results",
	}, []string{"result"})
)

// RecordSettlementCall records one settlement backend call
func RecordSettlementCall(operation, result string, durationSeconds float64) {
	settlementCallsTotal.WithLabelValues(operation, result).Inc()
	settlementCallDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// SetSettlementCircuitState records the circuit breaker state
func SetSettlementCircuitState(state int) {
	settlementCircuitState.Set(float64(state))
}

// RecordPurchaseInitiated records a purchase initiation result
func RecordPurchaseInitiated(processor, result string) {
	purchasesInitiatedTotal.WithLabelValues(processor, result).Inc()
}

// RecordSurfaceOpened records an external surface open attempt
func RecordSurfaceOpened(kind, result string) {
	surfacesOpenedTotal.WithLabelValues(kind, result).Inc()
}

// RecordReconciliation records a terminal reconciliation outcome
func RecordReconciliation(outcome, trigger string, durationSeconds float64) {
	reconciliationsTotal.WithLabelValues(outcome, trigger).Inc()
	reconciliationDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordStatusQuery records a payment status query result
func RecordStatusQuery(source, result string) {
	statusQueriesTotal.WithLabelValues(source, result).Inc()
}

// WatchStarted increments the active watch gauge
func WatchStarted() {
	activeWatches.Inc()
}

// WatchStopped decrements the active watch gauge
func WatchStopped() {
	activeWatches.Dec()
}

// RecordPendingStoreOp records a pending payment store operation
func RecordPendingStoreOp(backend, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	pendingStoreOpsTotal.WithLabelValues(backend, operation, result).Inc()
}

// RecordReturnPageVerification records a return page verification result
func RecordReturnPageVerification(result string) {
	returnPageVerificationsTotal.WithLabelValues(result).Inc()
}
