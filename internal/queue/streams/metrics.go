package streams

import "github.com/prometheus/client_golang/prometheus"

// StreamMetrics counts envelopes crossing the bridge, labelled by event
// type. One set serves all sessions in a process.
type StreamMetrics struct {
	Published     *prometheus.CounterVec
	PublishErrors *prometheus.CounterVec
}

// NewStreamMetrics builds the instrument set and registers it on reg when
// reg is non-nil.
func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scour",
			Subsystem: "streams",
			Name:      "published_total",
			Help:      "Envelopes appended to the event stream.",
		}, []string{"event_type"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scour",
			Subsystem: "streams",
			Name:      "publish_errors_total",
			Help:      "Envelope publishes rejected by validation or redis.",
		}, []string{"event_type"}),
	}
	if reg != nil {
		reg.MustRegister(m.Published, m.PublishErrors)
	}
	return m
}

// recordPublish notes one publish outcome on the optional instrument set.
func (m *StreamMetrics) recordPublish(eventType string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PublishErrors.WithLabelValues(eventType).Inc()
		return
	}
	m.Published.WithLabelValues(eventType).Inc()
}
