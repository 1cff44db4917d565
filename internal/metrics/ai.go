package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(gatewayLatencyMs) }

var gatewayLatencyMs = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "model_gateway_latency_ms",
		Help:    "Model gateway call latency in milliseconds.",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000, 300000},
	},
	[]string{"provider", "success"},
)

func ObserveGateway(provider string, d time.Duration, success bool) {
	gatewayLatencyMs.WithLabelValues(norm(provider), strconv.FormatBool(success)).
		Observe(float64(d / time.Millisecond))
}
