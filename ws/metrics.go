package ws

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the fan-out counters exposed on /metrics. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	sessions      prometheus.Gauge
	rooms         prometheus.Gauge
	published     *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	slowConsumers prometheus.Counter
}

// Delivery results.
const (
	deliveryQueued     = "queued"
	deliverySuperseded = "superseded"
	deliveryRejected   = "rejected"
	deliveryWritten    = "written"
	deliveryFailed     = "failed"
)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "convo",
			Subsystem: "ws",
			Name:      "sessions",
			Help:      "Open socket sessions.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "convo",
			Subsystem: "ws",
			Name:      "rooms",
			Help:      "Conversations with at least one subscribed session.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convo",
			Name:      "events_published_total",
			Help:      "Broadcast events published, by type.",
		}, []string{"type"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convo",
			Name:      "deliveries_total",
			Help:      "Per-session delivery outcomes.",
		}, []string{"result"}),
		slowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "convo",
			Name:      "slow_consumer_disconnects_total",
			Help:      "Sessions closed because their outbound queue overflowed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.sessions, m.rooms, m.published, m.deliveries, m.slowConsumers)
	}
	return m
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

func (m *Metrics) roomCreated() {
	if m != nil {
		m.rooms.Inc()
	}
}

func (m *Metrics) roomDeleted() {
	if m != nil {
		m.rooms.Dec()
	}
}

func (m *Metrics) eventPublished(t EventType) {
	if m != nil {
		m.published.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) delivery(result string) {
	if m != nil {
		m.deliveries.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) slowConsumer() {
	if m != nil {
		m.slowConsumers.Inc()
	}
}
