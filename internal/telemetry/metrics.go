package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus instruments the engine feeds. One set
// serves all sessions in a process.
type Metrics struct {
	PagesVisited   prometheus.Counter
	Extractions    prometheus.Counter
	ClaimsFound    prometheus.Counter
	Verifications  prometheus.Counter
	Contradictions prometheus.Counter
	Errors         prometheus.Counter
	Blocked        prometheus.Counter
	StopLatency    prometheus.Histogram
}

// NewMetrics builds the instrument set and registers it on reg when reg
// is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PagesVisited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scour",
			Name:      "pages_visited_total",
			Help:      "Pages fetched across all research sessions.",
		}),
		Extractions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scour",
			Name:      "extractions_total",
			Help:      "Schema extractions attempted against fetched pages.",
		}),
		ClaimsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scour",
			Name:      "claims_found_total",
			Help:      "Claims created or merged into the claim graph.",
		}),
		Verifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scour",
			Name:      "verifications_total",
			Help:      "Corroboration and contradiction outcomes recorded.",
		}),
		Contradictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scour",
			Name:      "contradictions_total",
			Help:      "Verification outcomes that contradicted an existing claim.",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scour",
			Name:      "errors_total",
			Help:      "Recoverable and terminal errors recorded during runs.",
		}),
		Blocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scour",
			Name:      "blocked_total",
			Help:      "Navigations refused by robots policy or the target site.",
		}),
		StopLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scour",
			Name:      "stop_latency_seconds",
			Help:      "Duration of the stop sequence from request to COMPLETED.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.2, 0.5, 1, 2},
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.PagesVisited,
			m.Extractions,
			m.ClaimsFound,
			m.Verifications,
			m.Contradictions,
			m.Errors,
			m.Blocked,
			m.StopLatency,
		)
	}
	return m
}
