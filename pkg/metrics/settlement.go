package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pharmalink"

// Settlement sources.
const (
	SourceCheckout           = "checkout"
	SourceCartPayment        = "cart_payment"
	SourceReservationAccept  = "reservation_accept"
	SourceReservationPayment = "reservation_payment"
)

// SettlementMetrics tracks settlement attempts and gateway callbacks.
type SettlementMetrics struct {
	attempts  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	orders    prometheus.Counter
	callbacks *prometheus.CounterVec
}

// NewSettlementMetrics registers settlement collectors. A nil registerer
// yields a no-op recorder.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_attempts_total",
		Help:      "Settlement attempts by source and outcome code.",
	}, []string{"source", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "settlement_duration_seconds",
		Help:      "Time spent inside settlement transactions.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"source"})
	orders := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_created_total",
		Help:      "Orders created by settlements.",
	})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_callbacks_total",
		Help:      "Gateway callbacks by kind and result.",
	}, []string{"kind", "result"})
	reg.MustRegister(attempts, duration, orders, callbacks)
	return &SettlementMetrics{
		attempts:  attempts,
		duration:  duration,
		orders:    orders,
		callbacks: callbacks,
	}
}

// Observe records one settlement attempt. outcome is "ok" or an error code.
func (m *SettlementMetrics) Observe(source, outcome string, elapsed time.Duration, ordersCreated int) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(normalizeLabel(source)).Observe(elapsed.Seconds())
	if ordersCreated > 0 {
		m.orders.Add(float64(ordersCreated))
	}
}

// Callback records a gateway callback resolution.
func (m *SettlementMetrics) Callback(kind, result string) {
	if m == nil || m.callbacks == nil {
		return
	}
	m.callbacks.WithLabelValues(normalizeLabel(kind), normalizeLabel(result)).Inc()
}
