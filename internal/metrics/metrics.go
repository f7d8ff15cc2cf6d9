// Package metrics defines the prometheus collectors shared by the API and
// the dev server, plus the gin middleware that feeds the HTTP ones.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "datadash_http_requests_total", Help: "API requests by route, method and status."},
		[]string{"path", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "datadash_http_request_duration_seconds", Help: "API request latency by route and method.", Buckets: prometheus.DefBuckets},
		[]string{"path", "method"},
	)
	CheckExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "datadash_check_executions_total", Help: "Check executions by check id and outcome."},
		[]string{"check", "outcome"},
	)
	NotificationDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "datadash_notification_deliveries_total", Help: "Status change notifications by adapter and final outcome."},
		[]string{"adapter", "outcome"},
	)
	ProxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "datadash_devserver_proxy_requests_total", Help: "Dev server requests forwarded by proxy rule prefix and upstream status."},
		[]string{"prefix", "status"},
	)
	ProxyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "datadash_devserver_proxy_errors_total", Help: "Dev server upstream failures by proxy rule prefix."},
		[]string{"prefix"},
	)
	ProxyTargetUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "datadash_devserver_proxy_target_up", Help: "Whether the last probe of a proxy rule's target got a non-5xx answer."},
		[]string{"prefix"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequests, HTTPLatency, CheckExecutions, NotificationDeliveries, ProxyRequests, ProxyErrors, ProxyTargetUp)
}

// Handler returns gin middleware recording request count and latency.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			// unmatched routes would otherwise explode label cardinality
			path = "unmatched"
		}
		HTTPLatency.WithLabelValues(path, c.Request.Method).Observe(dur)
		HTTPRequests.WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// Exposer returns the standard prometheus exposition handler for gin.
func Exposer() gin.HandlerFunc { return gin.WrapH(promhttp.Handler()) }

// HTTPHandler returns the exposition handler for plain net/http muxes.
func HTTPHandler() http.Handler { return promhttp.Handler() }
