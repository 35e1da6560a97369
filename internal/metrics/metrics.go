package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters/histograms for booking sessions. A nil
// *BookingMetrics is valid and records nothing.
type BookingMetrics struct {
	attempts        *prometheus.CounterVec
	sessions        *prometheus.CounterVec
	gateWait        prometheus.Histogram
	sessionDuration *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resydrop",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resydrop",
			Subsystem: "booking",
			Name:      "sessions_total",
			Help:      "Booking sessions by entry point and result",
		}, []string{"entry", "result"}),
		gateWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "resydrop",
			Subsystem: "booking",
			Name:      "gate_wait_seconds",
			Help:      "Time spent waiting for the drop time",
			Buckets:   []float64{0, 1, 10, 60, 300, 900, 3600, 4 * 3600},
		}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "resydrop",
			Subsystem: "booking",
			Name:      "attempting_seconds",
			Help:      "Time spent in the retry loop",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.attempts, m.sessions, m.gateWait, m.sessionDuration)
	return m
}

func (m *BookingMetrics) ObserveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveSession(entry, result string, attempting time.Duration) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(entry, result).Inc()
	m.sessionDuration.WithLabelValues(result).Observe(attempting.Seconds())
}

func (m *BookingMetrics) ObserveGateWait(d time.Duration) {
	if m == nil {
		return
	}
	m.gateWait.Observe(d.Seconds())
}
