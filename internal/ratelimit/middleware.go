package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pkozlov/bankledger/internal/idgen"
	"github.com/pkozlov/bankledger/internal/logging"
	"github.com/pkozlov/bankledger/internal/metrics"
)

// Limiter applies fixed-window limits per endpoint and identity.
type Limiter struct {
	cfg      Config
	counters CounterStore
	log      LogStore
}

// New creates a limiter. The violation log may be nil when no endpoint
// uses BlockOnExceed.
func New(cfg Config, counters CounterStore, log LogStore) *Limiter {
	return &Limiter{cfg: cfg, counters: counters, log: log}
}

// Middleware enforces the configured limits. The caller identity is the
// client IP plus the authenticated user when one is on the context, so a
// NAT full of customers does not share one budget. When the counter store
// is unreachable the request is allowed; throttling is protection, not a
// correctness gate.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}
		if l.cfg.Whitelist[endpoint] {
			c.Next()
			return
		}

		limit := l.cfg.Limit(endpoint)
		identity := c.ClientIP()
		if userID := c.GetString("user_id"); userID != "" {
			identity += ":" + userID
		}
		key := fmt.Sprintf("ratelimit:%s:%s", endpoint, identity)

		ctx := c.Request.Context()
		count, ttl, err := l.counters.Incr(ctx, key, limit.Window)
		if err != nil {
			logging.L(ctx).Error("rate limit counter unavailable, allowing request",
				"endpoint", endpoint, "error", err)
			c.Next()
			return
		}

		remaining := int64(limit.MaxRequests) - count
		if remaining < 0 {
			remaining = 0
		}
		resetAt := time.Now().Add(ttl)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.MaxRequests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if count <= int64(limit.MaxRequests) {
			c.Next()
			return
		}

		metrics.RateLimitViolationsTotal.WithLabelValues(endpoint).Inc()

		// One violation row per window, written when the limit first
		// tips over, not per rejected request.
		if limit.BlockOnExceed && l.log != nil && count == int64(limit.MaxRequests)+1 {
			v := &Violation{
				ID:           idgen.New(),
				Identity:     identity,
				Endpoint:     endpoint,
				Count:        count,
				Limit:        limit.MaxRequests,
				WindowStart:  resetAt.Add(-limit.Window),
				WindowEnd:    resetAt,
				BlockedUntil: resetAt,
			}
			if err := l.log.Record(ctx, v); err != nil {
				logging.L(ctx).Error("record rate limit violation",
					"endpoint", endpoint, "identity", identity, "error", err)
			}
		}

		retryAfter := int(ttl.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"status":      "error",
			"message":     "Too many requests. Please try again later.",
			"action":      "RETRY_LATER",
			"retry_after": retryAfter,
		})
	}
}
