package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking lifecycle.
type BookingMetrics struct {
	transitionsTotal  *prometheus.CounterVec
	webhooksTotal     *prometheus.CounterVec
	recoveriesTotal   *prometheus.CounterVec
	transitionLatency *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Total booking transition attempts",
		}, []string{"event", "outcome"}),
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "lifecycle",
			Name:      "webhooks_total",
			Help:      "Total provider webhook deliveries",
		}, []string{"provider", "outcome"}),
		recoveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "lifecycle",
			Name:      "recoveries_total",
			Help:      "Total recovery token redemptions",
		}, []string{"outcome"}),
		transitionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "lifecycle",
			Name:      "transition_latency_seconds",
			Help:      "Latency of persisted booking transitions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.webhooksTotal, m.recoveriesTotal, m.transitionLatency)
	return m
}

func (m *BookingMetrics) ObserveTransition(event, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(event, outcome).Inc()
}

func (m *BookingMetrics) ObserveWebhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *BookingMetrics) ObserveRecovery(outcome string) {
	if m == nil {
		return
	}
	m.recoveriesTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveTransitionLatency(event string, seconds float64) {
	if m == nil {
		return
	}
	m.transitionLatency.WithLabelValues(event).Observe(seconds)
}
