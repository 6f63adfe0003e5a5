package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestMemoryCounter_CountsWithinWindow(t *testing.T) {
	counter := NewMemoryCounter()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, ttl, err := counter.Incr(ctx, "k", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if count != want {
			t.Errorf("Incr %d: count = %d", want, count)
		}
		if ttl <= 0 || ttl > time.Minute {
			t.Errorf("Incr %d: ttl = %v", want, ttl)
		}
	}

	if count, _, _ := counter.Incr(ctx, "other", time.Minute); count != 1 {
		t.Errorf("Keys share a counter: %d", count)
	}
}

func TestMemoryCounter_WindowResets(t *testing.T) {
	counter := NewMemoryCounter()
	ctx := context.Background()

	counter.Incr(ctx, "k", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	count, _, err := counter.Incr(ctx, "k", time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected fresh window, count = %d", count)
	}
}

func TestConfig_Limit(t *testing.T) {
	cfg := DefaultConfig()

	withdraw := cfg.Limit("/v1/bank-account/withdraw")
	if withdraw.MaxRequests != 15 || !withdraw.BlockOnExceed {
		t.Errorf("Unexpected withdraw limit %+v", withdraw)
	}

	other := cfg.Limit("/v1/bank-account/transactions")
	if other != cfg.Default {
		t.Errorf("Unknown endpoint should fall back to default, got %+v", other)
	}
}

func testRouter(cfg Config, counter CounterStore, log LogStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	limiter := New(cfg, counter, log)
	r.Use(limiter.Middleware())
	handler := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "success"}) }
	r.POST("/v1/bank-account/withdraw", handler)
	r.GET("/health", handler)
	r.GET("/health/ready", handler)
	return r
}

func request(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "203.0.113.7:4411"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_LimitsAndSetsHeaders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoints = map[string]EndpointLimit{
		"/v1/bank-account/withdraw": {MaxRequests: 2, Window: time.Minute},
	}
	r := testRouter(cfg, NewMemoryCounter(), nil)

	first := request(r, http.MethodPost, "/v1/bank-account/withdraw")
	if first.Code != http.StatusOK {
		t.Fatalf("First request blocked: %d", first.Code)
	}
	if first.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("X-RateLimit-Limit = %q", first.Header().Get("X-RateLimit-Limit"))
	}
	if first.Header().Get("X-RateLimit-Remaining") != "1" {
		t.Errorf("X-RateLimit-Remaining = %q", first.Header().Get("X-RateLimit-Remaining"))
	}

	request(r, http.MethodPost, "/v1/bank-account/withdraw")
	third := request(r, http.MethodPost, "/v1/bank-account/withdraw")

	if third.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", third.Code)
	}
	if third.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing on 429")
	}
	if third.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q on 429", third.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestMiddleware_WhitelistBypasses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Default = EndpointLimit{MaxRequests: 1, Window: time.Minute}
	r := testRouter(cfg, NewMemoryCounter(), nil)

	for _, path := range []string{"/health", "/health/ready"} {
		for i := 0; i < 5; i++ {
			if w := request(r, http.MethodGet, path); w.Code != http.StatusOK {
				t.Fatalf("Whitelisted endpoint %s limited on request %d: %d", path, i+1, w.Code)
			}
		}
	}
}

func TestMiddleware_RecordsViolationOncePerWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoints = map[string]EndpointLimit{
		"/v1/bank-account/withdraw": {MaxRequests: 1, Window: time.Minute, BlockOnExceed: true},
	}
	log := NewMemoryLog()
	r := testRouter(cfg, NewMemoryCounter(), log)

	for i := 0; i < 4; i++ {
		request(r, http.MethodPost, "/v1/bank-account/withdraw")
	}

	got, err := log.ListSince(context.Background(), "203.0.113.7", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected exactly 1 violation row, got %d", len(got))
	}
	v := got[0]
	if v.Endpoint != "/v1/bank-account/withdraw" || v.Limit != 1 || v.Count != 2 {
		t.Errorf("Unexpected violation %+v", v)
	}
	if v.BlockedUntil.Before(time.Now()) {
		t.Errorf("BlockedUntil in the past: %v", v.BlockedUntil)
	}
}

type failingCounter struct{}

func (failingCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func TestMiddleware_FailsOpen(t *testing.T) {
	r := testRouter(DefaultConfig(), failingCounter{}, nil)

	for i := 0; i < 3; i++ {
		if w := request(r, http.MethodPost, "/v1/bank-account/withdraw"); w.Code != http.StatusOK {
			t.Fatalf("Counter outage blocked request: %d", w.Code)
		}
	}
}
