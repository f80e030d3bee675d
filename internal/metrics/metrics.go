// Package metrics owns the Prometheus registry for the server: HTTP request
// counters plus trade and price lookup outcomes.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trades_total",
			Help: "Buy and sell requests by outcome",
		},
		[]string{"side", "outcome"},
	)

	priceLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_lookups_total",
			Help: "Price lookups by answering source and outcome",
		},
		[]string{"source", "outcome"},
	)
)

func init() {
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(httpRequestsTotal, httpRequestDuration, tradesTotal, priceLookups)
}

func Registry() *prometheus.Registry {
	return registry
}

// Handler serves the registry on /metrics.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
}

// Middleware records request count and latency labelled by route template,
// so /api/portfolio/stocks/:symbol stays one series.
func Middleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordTrade counts a buy or sell; outcome is ok, rejected, not_found or error.
func RecordTrade(side, outcome string) {
	tradesTotal.WithLabelValues(side, outcome).Inc()
}

// RecordPriceLookup counts a quote answered by source ("cache", a provider
// name, or "none" when every upstream failed).
func RecordPriceLookup(source, outcome string) {
	priceLookups.WithLabelValues(source, outcome).Inc()
}
