package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestBookingMetricsObserve(t *testing.T) {
	m := NewBookingMetrics(prometheus.NewRegistry())
	m.ObserveTransition("PAYMENT_SUCCEEDED", "applied")
	m.ObserveWebhook("stripe", "duplicate")
	m.ObserveRecovery("recovered")
	m.ObserveTransitionLatency("PAYMENT_SUCCEEDED", 0.02)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveTransition("RECOVER", "applied")
	m.ObserveWebhook("calendly", "applied")
	m.ObserveRecovery("noop")
	m.ObserveTransitionLatency("RECOVER", 0.01)
}
