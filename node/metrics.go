package node

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters and gauges spec.md §4.10 names: the
// watcher's current position (block_number, event_index) and a
// transitions counter split by outcome.
type Metrics struct {
	registry *prometheus.Registry

	blockNumber prometheus.Gauge
	eventIndex  prometheus.Gauge
	transitions *prometheus.CounterVec
}

// NewMetrics builds a Metrics against its own registry, so a test
// process can build more than one Node without colliding on the
// default global registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		blockNumber: factory.NewGauge(prometheus.GaugeOpts{
			Name: "validator_block_number",
			Help: "Highest block number the watcher has fully processed.",
		}),
		eventIndex: factory.NewGauge(prometheus.GaugeOpts{
			Name: "validator_event_index",
			Help: "Log index of the most recently applied event within its block.",
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "validator_transitions_total",
			Help: "State machine transitions, labeled by outcome.",
		}, []string{"result"}),
	}
	return m
}

// ObserveBlock records the watcher having fully processed block.
func (m *Metrics) ObserveBlock(block uint64) {
	m.blockNumber.Set(float64(block))
}

// ObserveEvent records the most recently applied event's log index.
func (m *Metrics) ObserveEvent(block, index uint64) {
	m.blockNumber.Set(float64(block))
	m.eventIndex.Set(float64(index))
}

// Transition increments the transitions counter for result ("ok",
// "error", or a more specific failure reason).
func (m *Metrics) Transition(result string) {
	m.transitions.WithLabelValues(result).Inc()
}

// Handler returns the HTTP handler metrics are exposed on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve builds, without starting it, an HTTP server for addr that
// exposes Handler at /metrics.
func (m *Metrics) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
