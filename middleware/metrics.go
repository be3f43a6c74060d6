package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	ordersCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of order creation attempts",
		},
		[]string{"result"},
	)

	paymentsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_processed_total",
			Help: "Total number of payment webhooks processed",
		},
		[]string{"status"},
	)

	compensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compensations_total",
			Help: "Total number of compensating actions executed",
		},
		[]string{"kind", "result"},
	)

	shipmentsRequestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipments_requested_total",
			Help: "Total number of shipment dispatch requests",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(ordersCreatedTotal)
	prometheus.MustRegister(paymentsProcessedTotal)
	prometheus.MustRegister(compensationsTotal)
	prometheus.MustRegister(shipmentsRequestedTotal)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordOrderCreated(result string) {
	ordersCreatedTotal.WithLabelValues(result).Inc()
}

func RecordPaymentProcessed(status string) {
	paymentsProcessedTotal.WithLabelValues(status).Inc()
}

func RecordCompensation(kind, result string) {
	compensationsTotal.WithLabelValues(kind, result).Inc()
}

func RecordShipmentRequested(result string) {
	shipmentsRequestedTotal.WithLabelValues(result).Inc()
}
