package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector manages Prometheus metrics for the service.
//
// It owns its registry so multiple collectors can coexist in one process
// (tests, embedded setups) without duplicate-registration panics.
type MetricsCollector struct {
	registry *prometheus.Registry

	// Standard HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Billing lifecycle metrics
	billingStartedTotal   *prometheus.CounterVec
	billingTicksTotal     *prometheus.CounterVec
	billingFinalizedTotal *prometheus.CounterVec
	settledSeconds        prometheus.Counter
	settledAmountMinor    prometheus.Counter
	derivedSettlements    prometheus.Counter
}

// NewMetricsCollector creates and registers all service metrics.
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{registry: prometheus.NewRegistry()}

	mc.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	mc.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consult_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	mc.billingStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_billing_started_total",
			Help: "Calls whose billing started, by call type",
		},
		[]string{"call_type"},
	)

	mc.billingTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_billing_ticks_total",
			Help: "Metering ticks by outcome (charged, insufficient_balance, transient_error)",
		},
		[]string{"outcome"},
	)

	mc.billingFinalizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consult_billing_finalized_total",
			Help: "Settled calls by final status and end reason",
		},
		[]string{"status", "reason"},
	)

	mc.settledSeconds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consult_billing_settled_seconds_total",
		Help: "Billed seconds committed at settlement",
	})

	mc.settledAmountMinor = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consult_billing_settled_amount_minor_total",
		Help: "Charged amount in minor units committed at settlement",
	})

	mc.derivedSettlements = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consult_billing_derived_settlements_total",
		Help: "Settlements that derived duration from timestamps (lost ticker)",
	})

	mc.registry.MustRegister(
		collectors.NewGoCollector(),
		mc.httpRequestsTotal,
		mc.httpRequestDuration,
		mc.billingStartedTotal,
		mc.billingTicksTotal,
		mc.billingFinalizedTotal,
		mc.settledSeconds,
		mc.settledAmountMinor,
		mc.derivedSettlements,
	)
	return mc
}

// BillingStarted implements the billing engine's metrics port.
func (mc *MetricsCollector) BillingStarted(callType string) {
	mc.billingStartedTotal.WithLabelValues(callType).Inc()
}

func (mc *MetricsCollector) Tick(outcome string) {
	mc.billingTicksTotal.WithLabelValues(outcome).Inc()
}

func (mc *MetricsCollector) BillingFinalized(status, reason string, derived bool, durationSeconds int, amountMinor int64) {
	mc.billingFinalizedTotal.WithLabelValues(status, reason).Inc()
	mc.settledSeconds.Add(float64(durationSeconds))
	mc.settledAmountMinor.Add(float64(amountMinor))
	if derived {
		mc.derivedSettlements.Inc()
	}
}

// MetricsMiddleware returns middleware that collects HTTP metrics.
func (mc *MetricsCollector) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())

		mc.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
		mc.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
	}
}

// Handler returns the Prometheus scrape endpoint.
func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	handler := promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
