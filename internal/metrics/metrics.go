// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "apview"

var (
	// CacheLookups counts cache reads by namespace and result (hit, miss, error).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by namespace and result.",
	}, []string{"namespace", "result"})

	// CacheWrites counts cache writes by namespace and result (ok, error, skipped).
	CacheWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_writes_total",
		Help:      "Cache writes by namespace and result.",
	}, []string{"namespace", "result"})

	// CacheEvictions counts entries removed by TTL expiry or the size cap.
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_evictions_total",
		Help:      "Cache entries removed, by reason (ttl, size).",
	}, []string{"reason"})

	// UpstreamFetches counts outbound fetches by kind and outcome.
	UpstreamFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_fetches_total",
		Help:      "Outbound fetches by kind (activity, webfinger, media) and outcome.",
	}, []string{"kind", "outcome"})

	// GuardRejections counts fetch targets refused by the SSRF guard.
	GuardRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "guard_rejections_total",
		Help:      "Fetch targets rejected by the network guard, by reason.",
	}, []string{"reason"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
