package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Denial reasons recorded under switchboard_rpc_denials_total.
const (
	DenialUnauthorized        = "unauthorized"
	DenialRateLimited         = "rate_limited"
	DenialIdempotencyConflict = "idempotency_conflict"
)

// Set bundles the daemon's RPC collectors on an isolated registry so tests
// and embedding hosts never fight over the global default.
type Set struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Denials         *prometheus.CounterVec
}

// NewSet builds the collector set and registers it.
func NewSet() *Set {
	s := &Set{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_rpc_requests_total",
			Help: "RPC requests dispatched, by wire protocol.",
		}, []string{"protocol"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchboard_rpc_request_duration_seconds",
			Help:    "Wall time spent dispatching one RPC request body.",
			Buckets: prometheus.DefBuckets,
		}, []string{"protocol"}),
		Denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_rpc_denials_total",
			Help: "Requests rejected before dispatch, by reason.",
		}, []string{"reason"}),
	}
	s.registry.MustRegister(s.Requests, s.RequestDuration, s.Denials)
	return s
}

// Handler serves this set in the Prometheus text format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for gathering in assertions.
func (s *Set) Registry() *prometheus.Registry {
	return s.registry
}
