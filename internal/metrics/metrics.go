// Package metrics provides Prometheus instrumentation for the bank ledger service.
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
			Namespace: "bankledger",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bankledger",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransactionsTotal counts ledger transactions by type and final status.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bankledger",
			Name:      "transactions_total",
			Help:      "Total ledger transactions by type and status.",
		},
		[]string{"type", "status"},
	)

	// TransactionFailuresTotal counts failed transactions by tagged reason.
	TransactionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bankledger",
			Name:      "transaction_failures_total",
			Help:      "Total failed transactions by failure reason.",
		},
		[]string{"reason"},
	)

	// RiskScoresTotal counts risk evaluations by decision.
	RiskScoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bankledger",
			Name:      "risk_scores_total",
			Help:      "Total risk evaluations by decision (cleared, flagged).",
		},
		[]string{"decision"},
	)

	// RiskScoreDistribution observes computed risk scores.
	RiskScoreDistribution = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bankledger",
		Name:      "risk_score",
		Help:      "Distribution of computed risk scores.",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	// FraudReviewsTotal counts fraud review verdicts.
	FraudReviewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bankledger",
			Name:      "fraud_reviews_total",
			Help:      "Total fraud reviews by verdict (cleared, confirmed_fraud).",
		},
		[]string{"verdict"},
	)

	// OTPFailuresTotal counts transfer completions rejected on OTP grounds.
	OTPFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bankledger",
			Name:      "otp_failures_total",
			Help:      "Total OTP verification failures by reason (invalid, expired).",
		},
		[]string{"reason"},
	)

	// RateLimitViolationsTotal counts rate limited requests by endpoint.
	RateLimitViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bankledger",
			Name:      "rate_limit_violations_total",
			Help:      "Total requests rejected by the rate limiter, by endpoint.",
		},
		[]string{"endpoint"},
	)

	// IdempotencyReplaysTotal counts requests served from the idempotency cache.
	IdempotencyReplaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bankledger",
		Name:      "idempotency_replays_total",
		Help:      "Total requests answered with a cached idempotent response.",
	})

	// NotificationsTotal counts published transaction events by result.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bankledger",
			Name:      "notifications_total",
			Help:      "Total transaction event publishes by result.",
		},
		[]string{"result"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankledger", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankledger", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankledger", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankledger", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankledger", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankledger", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransactionsTotal,
		TransactionFailuresTotal,
		RiskScoresTotal,
		RiskScoreDistribution,
		FraudReviewsTotal,
		OTPFailuresTotal,
		RateLimitViolationsTotal,
		IdempotencyReplaysTotal,
		NotificationsTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
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
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
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

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
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
