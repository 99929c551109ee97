// Package metrics provides Prometheus instrumentation for the mixpool custody core.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mixpool",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mixpool",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// --- Liquidity pool ---

	// ReservationsTotal counts reservation attempts by result.
	ReservationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixpool",
		Name:      "pool_reservations_total",
		Help:      "Total liquidity reservation attempts by result.",
	}, []string{"result"})

	// ReleasesTotal counts obligation releases by reason.
	ReleasesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixpool",
		Name:      "pool_releases_total",
		Help:      "Total liquidity releases by reason (fulfilled, expired).",
	}, []string{"reason"})

	// PoolUtilization tracks the fraction of total funds currently reserved.
	PoolUtilization = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mixpool",
		Name:      "pool_utilization_rate",
		Help:      "Fraction of total pool funds currently reserved.",
	})

	// PoolAvailableRate tracks the fraction of total funds still available.
	PoolAvailableRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mixpool",
		Name:      "pool_available_rate",
		Help:      "Fraction of total pool funds currently available.",
	})

	// PendingObligations tracks obligations awaiting fulfillment.
	PendingObligations = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mixpool",
		Name:      "pool_pending_obligations",
		Help:      "Number of obligations currently pending.",
	})

	// --- Address tokens ---

	// TokensEmittedTotal counts token emissions by namespace purpose.
	TokensEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixpool",
		Name:      "tokens_emitted_total",
		Help:      "Total address tokens emitted by purpose.",
	}, []string{"purpose"})

	// TokenResolutionsTotal counts resolution attempts by result.
	TokenResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixpool",
		Name:      "token_resolutions_total",
		Help:      "Total token resolution attempts by result (resolved, miss).",
	}, []string{"result"})

	// TokensExpiredTotal counts token expirations by reason.
	TokensExpiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixpool",
		Name:      "tokens_expired_total",
		Help:      "Total address tokens expired by reason (ttl, usage).",
	}, []string{"reason"})

	// --- Payment scheduler ---

	// PaymentsPlannedTotal counts planned payments by policy type.
	PaymentsPlannedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixpool",
		Name:      "payments_planned_total",
		Help:      "Total payments planned by scheduling policy.",
	}, []string{"policy"})

	// BatchesCreatedTotal counts payment batches created.
	BatchesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mixpool",
		Name:      "payment_batches_created_total",
		Help:      "Total payment batches created.",
	})

	// PaymentExecutionsTotal counts payment executions by result.
	PaymentExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixpool",
		Name:      "payment_executions_total",
		Help:      "Total payment executions by result (completed, failed, requeued).",
	}, []string{"result"})

	// --- Infrastructure ---

	// ActiveWebSocketClients tracks connected realtime observers.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mixpool",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mixpool", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mixpool", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mixpool", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mixpool", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ReservationsTotal,
		ReleasesTotal,
		PoolUtilization,
		PoolAvailableRate,
		PendingObligations,
		TokensEmittedTotal,
		TokenResolutionsTotal,
		TokensExpiredTotal,
		PaymentsPlannedTotal,
		BatchesCreatedTotal,
		PaymentExecutionsTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
