package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// ---------------------------------------------------------------------------
// Config constructor
// ---------------------------------------------------------------------------

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute != 200 {
		t.Errorf("RequestsPerMinute = %d, want 200", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 50 {
		t.Errorf("BurstSize = %d, want 50", cfg.BurstSize)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}

// ---------------------------------------------------------------------------
// RateLimiter.Allow
// ---------------------------------------------------------------------------

func newTestLimiter(t *testing.T, rpm, burst int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: rpm,
		BurstSize:         burst,
		CleanupInterval:   time.Hour, // Don't clean up during tests
	})
	t.Cleanup(rl.Stop)
	return rl
}

func TestAllow_BurstThenDeny(t *testing.T) {
	rl := newTestLimiter(t, 60, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("ip:1.2.3.4") {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}
	if rl.Allow("ip:1.2.3.4") {
		t.Error("request beyond burst was allowed")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	rl := newTestLimiter(t, 60, 1)

	if !rl.Allow("ip:1.1.1.1") {
		t.Error("first key denied")
	}
	if !rl.Allow("ip:2.2.2.2") {
		t.Error("second key denied; buckets should be per client")
	}
	if rl.Allow("ip:1.1.1.1") {
		t.Error("first key allowed beyond burst")
	}
}

func TestRemainingTokens(t *testing.T) {
	rl := newTestLimiter(t, 60, 5)

	if got := rl.RemainingTokens("ip:1.2.3.4"); got != 5 {
		t.Errorf("RemainingTokens for new key = %d, want 5", got)
	}

	rl.Allow("ip:1.2.3.4")
	rl.Allow("ip:1.2.3.4")

	if got := rl.RemainingTokens("ip:1.2.3.4"); got > 3 {
		t.Errorf("RemainingTokens after two requests = %d, want <= 3", got)
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func TestRateLimitMiddleware_Returns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := newTestLimiter(t, 60, 1)

	router := gin.New()
	router.Use(RateLimitMiddleware(rl))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "60" {
		t.Errorf("X-RateLimit-Limit = %q, want 60", w.Header().Get("X-RateLimit-Limit"))
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", w.Header().Get("Retry-After"))
	}
}
