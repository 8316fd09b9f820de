package fanout

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcomes.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
	StatusPanic   = "panic"
)

// Metrics counts side-channel deliveries. A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsPublished  *prometheus.CounterVec   // by event type
	Deliveries       *prometheus.CounterVec   // by channel and status
	DeliveryDuration *prometheus.HistogramVec // by channel
	InFlight         prometheus.Gauge
}

// NewMetrics creates and registers the fanout metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waitercall_fanout_events_total",
			Help: "Events published to the fanout by type",
		}, []string{"type"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waitercall_fanout_deliveries_total",
			Help: "Side-channel delivery attempts by channel and outcome",
		}, []string{"channel", "status"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "waitercall_fanout_delivery_duration_seconds",
			Help:    "Side-channel delivery latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		}, []string{"channel"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waitercall_fanout_in_flight",
			Help: "Side-channel deliveries currently running",
		}),
	}
	for _, c := range []prometheus.Collector{m.EventsPublished, m.Deliveries, m.DeliveryDuration, m.InFlight} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register fanout metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) published(typ EventType) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(string(typ)).Inc()
}

func (m *Metrics) begin() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func (m *Metrics) observe(channel, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.Deliveries.WithLabelValues(channel, status).Inc()
	m.DeliveryDuration.WithLabelValues(channel).Observe(elapsed.Seconds())
}
