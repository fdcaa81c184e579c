// Package metrics exposes the Prometheus registry used by dashboard-sync.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, orchestrator, bulk, session) to maintain modularity and avoid
// circular dependencies.
//
// This package provides the scrape handler and the reference for all
// available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the scrape handler for Registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - dashsync_requests_total{endpoint, status} (Counter): Remote requests by endpoint and HTTP status
//   - dashsync_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - dashsync_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Cache Metrics (pkg/cache):
//   - dashsync_cache_hits_total{layer} (Counter): Cache hits by layer (memory, redis)
//   - dashsync_cache_misses_total (Counter): Cache misses
//   - dashsync_conditional_requests_total (Counter): Conditional requests sent
//   - dashsync_304_responses_total (Counter): 304 Not Modified responses
//   - dashsync_cache_errors_total{operation} (Counter): Cache operation errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - dashsync_rate_limit_remaining (Gauge): Requests remaining in the remote window
//   - dashsync_rate_limit_blocks_total (Counter): Requests blocked at the critical threshold
//   - dashsync_rate_limit_throttles_total (Counter): Requests delayed in the warning band
//
// Load Metrics (pkg/orchestrator, pkg/session):
//   - dashsync_retries_total{loader, error_class} (Counter): Retry attempts
//   - dashsync_retry_exhausted_total{loader} (Counter): Loads that exhausted their attempts
//   - dashsync_fallback_fired_total{loader} (Counter): Cycles released by the fallback timer
//   - dashsync_stale_responses_total{screen} (Counter): Primary responses dropped as stale
//   - dashsync_loads_total{screen, outcome} (Counter): Primary loads by outcome
//
// Bulk Metrics (pkg/bulk):
//   - dashsync_bulk_items_total{operation, outcome} (Counter): Bulk item outcomes
//   - dashsync_bulk_duration_seconds{operation} (Histogram): Bulk run duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(dashsync_cache_hits_total[5m])) /
//   (sum(rate(dashsync_cache_hits_total[5m])) + sum(rate(dashsync_cache_misses_total[5m])))
//
//   # Loads released by the fallback timer
//   rate(dashsync_fallback_fired_total[5m])
//
//   # Bulk failure ratio
//   sum(rate(dashsync_bulk_items_total{outcome="failed"}[5m])) / sum(rate(dashsync_bulk_items_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(dashsync_request_duration_seconds_bucket[5m]))
