// Package telemetry provides application-level observability for the
// Climate Tokenization Engine gateway.
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<CTE_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. Serving metrics on a dedicated port keeps the scrape
// path off the public gateway ingress and outside the rate-limiting
// middleware.
//
// Metric groups:
//
//   - HTTP request counters and latency histograms (labelled by route
//     template, not raw URL, to keep label cardinality bounded)
//   - Proxied upstream request counters (per route family)
//   - Tokenization workflow terminal-state counters and confirmation-poll
//     attempt counters
//
// The tokenization metrics are the primary alerting surface for the detached
// workflow phases: the original caller only sees the submit acknowledgment,
// so a rising `tokenization_runs_total{state="abandoned"}` rate is the first
// visible sign of a stuck driver or registry.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Proxy metrics.
//
// ProxiedRequestsTotal counts requests forwarded to the registry through the
// context-enriching proxy, by route family (tokenized_units,
// untokenized_units, projects) and upstream status code.
//
// Example PromQL queries:
//   - Upstream error rate: sum(rate(proxied_requests_total{status=~"5.."}[5m]))
//   - Traffic by route:    sum by (route) (rate(proxied_requests_total[5m]))
var ProxiedRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "proxied_requests_total",
		Help: "Total number of requests forwarded to the registry, by route family and upstream status.",
	},
	[]string{"route", "status"},
)

// Tokenization workflow metrics — recorded by the detached lifecycle
// orchestrator.
//
// TokenizationRunsTotal is a CounterVec with label {state} counting workflow
// runs reaching each terminal state: done, abandoned, failed.
//
// ConfirmationPollsTotal is a CounterVec with label {target} (driver,
// registry) incremented once per polling attempt, confirmed or not.
//
// Example PromQL queries:
//   - Abandonment rate:  rate(tokenization_runs_total{state="abandoned"}[1h])
//   - Alert expression:  increase(tokenization_runs_total{state="failed"}[30m]) > 0
//   - Polls per run:     rate(confirmation_polls_total[1h]) / rate(tokenization_runs_total[1h])
var (
	TokenizationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenization_runs_total",
			Help: "Total number of tokenization workflow runs reaching a terminal state, by state.",
		},
		[]string{"state"},
	)

	ConfirmationPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confirmation_polls_total",
			Help: "Total number of confirmation polling attempts, by polled target.",
		},
		[]string{"target"},
	)
)
