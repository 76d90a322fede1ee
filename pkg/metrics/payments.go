package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics tracks intent outcomes, gateway calls and review queue traffic.
type PaymentMetrics struct {
	intents         *prometheus.CounterVec
	gatewayCalls    *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	reviewUpserts   *prometheus.CounterVec
	reconWindows    *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	intents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_intents_total",
		Help: "Intent creation attempts by outcome.",
	}, []string{"outcome"})
	gatewayCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_requests_total",
		Help: "Gateway requests by operation and result.",
	}, []string{"operation", "result"})
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_request_duration_seconds",
		Help:    "Gateway request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	reviewUpserts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_review_upserts_total",
		Help: "Manual review entries inserted by reason.",
	}, []string{"reason"})
	reconWindows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciliation_windows_total",
		Help: "Reconciliation ledger windows by result.",
	}, []string{"result"})
	reg.MustRegister(intents, gatewayCalls, gatewayDuration, reviewUpserts, reconWindows)
	return &PaymentMetrics{
		intents:         intents,
		gatewayCalls:    gatewayCalls,
		gatewayDuration: gatewayDuration,
		reviewUpserts:   reviewUpserts,
		reconWindows:    reconWindows,
	}
}

// IncIntent counts an intent creation attempt (created, reused, declined, ...).
func (m *PaymentMetrics) IncIntent(outcome string) {
	if m == nil || m.intents == nil {
		return
	}
	m.intents.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveGateway records one gateway request.
func (m *PaymentMetrics) ObserveGateway(operation string, ok bool, duration time.Duration) {
	if m == nil || m.gatewayCalls == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.gatewayCalls.WithLabelValues(normalizeLabel(operation), result).Inc()
	m.gatewayDuration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncReviewUpsert counts a newly inserted review entry.
func (m *PaymentMetrics) IncReviewUpsert(reason string) {
	if m == nil || m.reviewUpserts == nil {
		return
	}
	m.reviewUpserts.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncReconWindow counts a fetched reconciliation window (ok, no_data, error, split, overflow).
func (m *PaymentMetrics) IncReconWindow(result string) {
	if m == nil || m.reconWindows == nil {
		return
	}
	m.reconWindows.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
