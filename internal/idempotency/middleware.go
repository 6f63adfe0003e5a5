package idempotency

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pkozlov/bankledger/internal/logging"
	"github.com/pkozlov/bankledger/internal/metrics"
)

// Middleware replays recorded responses for retried requests. Requests
// without the header pass through untouched; a malformed key is rejected
// before any business logic runs. The caller identity must already be on
// the gin context under "user_id".
func Middleware(store Store, ttl time.Duration) gin.HandlerFunc {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return func(c *gin.Context) {
		key := c.GetHeader(Header)
		if key == "" {
			c.Next()
			return
		}
		if err := ValidateKey(key); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"status":  "error",
				"message": err.Error(),
			})
			return
		}

		userID := c.GetString("user_id")
		endpoint := c.FullPath()
		ctx := c.Request.Context()

		if r, err := store.Get(ctx, key, userID, endpoint); err == nil {
			metrics.IdempotencyReplaysTotal.Inc()
			c.Header("X-Idempotency-Replayed", "true")
			c.Data(r.ResponseCode, "application/json", r.ResponseBody)
			c.Abort()
			return
		} else if !errors.Is(err, ErrNotFound) {
			// Store trouble must not block money movement. The request
			// runs without replay protection and says so in the log.
			logging.L(ctx).Error("idempotency lookup failed", "key", key, "error", err)
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		// Server errors stay retryable.
		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			return
		}
		now := time.Now()
		err := store.Put(ctx, &Record{
			Key:          key,
			UserID:       userID,
			Endpoint:     endpoint,
			ResponseCode: status,
			ResponseBody: rec.body.Bytes(),
			CreatedAt:    now,
			ExpiresAt:    now.Add(ttl),
		})
		if err != nil {
			logging.L(ctx).Error("idempotency record failed", "key", key, "error", err)
		}
	}
}

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *bodyRecorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}
