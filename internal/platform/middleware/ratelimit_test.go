package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
)

func rateLimitedHandler(cfg RateLimitConfig) (echo.HandlerFunc, *echo.Echo) {
	e := echo.New()
	h := RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return h, e
}

func doRequest(e *echo.Echo, h echo.HandlerFunc, tenant string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if tenant != "" {
		c.Set("jwt_tenant_id", tenant)
	}
	return rec, h(c)
}

func TestRateLimit_WithinBurst(t *testing.T) {
	h, e := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		rec, err := doRequest(e, h, "")
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit 10, got %q", i+1, got)
		}
	}
}

func TestRateLimit_BurstExhausted(t *testing.T) {
	h, e := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	for i := 0; i < 2; i++ {
		if _, err := doRequest(e, h, ""); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i+1, err)
		}
	}

	_, err := doRequest(e, h, "")
	if err == nil {
		t.Fatal("expected error after burst exhausted")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}
}

func TestRateLimit_RetryAfterHeader(t *testing.T) {
	h, e := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := doRequest(e, h, ""); err != nil {
		t.Fatalf("first request: unexpected error: %v", err)
	}

	rec, err := doRequest(e, h, "")
	if err == nil {
		t.Fatal("expected rate limit error")
	}

	retryAfter := rec.Header().Get("Retry-After")
	if retryAfter == "" {
		t.Fatal("expected Retry-After header")
	}
	val, parseErr := strconv.Atoi(retryAfter)
	if parseErr != nil {
		t.Fatalf("Retry-After is not an integer: %q", retryAfter)
	}
	if val < 1 {
		t.Errorf("expected Retry-After >= 1, got %d", val)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", got)
	}
}

func TestRateLimit_TenantsHaveSeparateBuckets(t *testing.T) {
	h, e := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := doRequest(e, h, "hospital-east"); err != nil {
		t.Fatalf("hospital-east first request: unexpected error: %v", err)
	}
	if _, err := doRequest(e, h, "hospital-east"); err == nil {
		t.Fatal("hospital-east second request: expected rate limit error")
	}

	// A different tenant from the same IP has its own budget.
	if _, err := doRequest(e, h, "hospital-west"); err != nil {
		t.Fatalf("hospital-west first request: unexpected error: %v", err)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 {
		t.Errorf("expected RequestsPerSecond 100, got %f", cfg.RequestsPerSecond)
	}
	if cfg.BurstSize != 200 {
		t.Errorf("expected BurstSize 200, got %d", cfg.BurstSize)
	}
}

func TestTokenBucket_RetryAfterWithZeroRate(t *testing.T) {
	b := newTokenBucket(0, 1)
	b.allow()
	if ra := b.retryAfter(); ra != 1 {
		t.Errorf("expected retryAfter 1 for zero refill rate, got %d", ra)
	}
}

func TestRateLimiterStore_ReturnsSameBucketPerKey(t *testing.T) {
	store := newRateLimiterStore(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	b1 := store.getBucket("ward-3")
	b2 := store.getBucket("ward-3")
	if b1 != b2 {
		t.Error("expected same bucket instance for same key")
	}
	if b3 := store.getBucket("ward-4"); b3 == b1 {
		t.Error("expected different bucket for different key")
	}
}
