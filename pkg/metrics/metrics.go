// Package metrics exposes the harness's Prometheus instrumentation,
// following the teacher's pattern of package-level collectors registered
// in init() and served via Handler().
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SwarmsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarm_harness",
		Name:      "swarms_total",
		Help:      "Current number of swarms known to the manager.",
	})

	ServiceNodesTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "swarm_harness",
		Name:      "service_nodes_total",
		Help:      "Current number of service nodes, labeled by status.",
	}, []string{"status"})

	SwarmDissolvedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarm_harness",
		Name:      "swarm_dissolved_total",
		Help:      "Total number of swarm dissolutions performed.",
	})

	MessagesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarm_harness",
		Name:      "messages_sent_total",
		Help:      "Total number of messages successfully stored by the test context.",
	})

	MessagesLostTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarm_harness",
		Name:      "messages_lost_total",
		Help:      "Total number of messages not found on any swarm member during check_messages.",
	})

	MessagesTestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swarm_harness",
		Name:      "messages_tested_total",
		Help:      "Total number of messages verified by check_messages (lost or not).",
	})

	RPCRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarm_harness",
		Name:      "rpc_requests_total",
		Help:      "Total number of JSON-RPC requests handled, labeled by method and status.",
	}, []string{"method", "status"})

	RPCRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "swarm_harness",
		Name:      "rpc_request_duration_seconds",
		Help:      "JSON-RPC request handling latency, labeled by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	SnapshotPollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "swarm_harness",
		Name:      "snapshot_poll_duration_seconds",
		Help:      "Time spent refreshing the blockchain snapshot cache.",
		Buckets:   prometheus.DefBuckets,
	})

	BlockchainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarm_harness",
		Name:      "blockchain_height",
		Help:      "Current mock blockchain height.",
	})
)

func init() {
	prometheus.MustRegister(
		SwarmsTotal,
		ServiceNodesTotal,
		SwarmDissolvedTotal,
		MessagesSentTotal,
		MessagesLostTotal,
		MessagesTestedTotal,
		RPCRequestsTotal,
		RPCRequestDuration,
		SnapshotPollDuration,
		BlockchainHeight,
	)
}

// Handler returns the HTTP handler that serves /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times a single operation and reports it to a histogram on
// ObserveDuration, mirroring the teacher's metrics.Timer helper.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on a plain histogram.
func (t Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time on a histogram vec with the
// given label values.
func (t Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
