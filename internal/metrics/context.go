package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(contextChars, anchorsDropped) }

var (
	contextChars = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "context_chars",
			Help:    "Character footprint of assembled model contexts.",
			Buckets: []float64{500, 1000, 2500, 5000, 10000, 15000, 20000, 28000, 40000},
		},
	)

	anchorsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "context_anchors_dropped_total",
			Help: "Anchor pairs evicted from assembled contexts for budget reasons.",
		},
	)
)

func ObserveContext(chars, dropped int) {
	contextChars.Observe(float64(chars))
	if dropped > 0 {
		anchorsDropped.Add(float64(dropped))
	}
}
