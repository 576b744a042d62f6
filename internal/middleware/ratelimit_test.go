package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"LendPulse/internal/service/ratelimit"

	"github.com/labstack/echo/v4"
)

type brokenLimiter struct{}

func (brokenLimiter) Consume(context.Context, string, string, int, time.Duration) (ratelimit.Result, error) {
	return ratelimit.Result{}, fmt.Errorf("%w: dial tcp: refused", ratelimit.ErrBackendUnavailable)
}

func newLimitedEcho(l ratelimit.Limiter) *echo.Echo {
	rl := NewRateLimiter(l, func(string) Rule { return Rule{Limit: 2, Window: time.Minute} }, nil, nil)
	e := echo.New()
	e.GET("/thing", func(c echo.Context) error { return c.String(http.StatusOK, "ok") }, rl.For("read"))
	return e
}

func hit(e *echo.Echo, caller string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/thing", nil)
	if caller != "" {
		req.Header.Set("X-Caller-ID", caller)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterRejectsOverBudget(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := ratelimit.NewMemory()
	mem.SetClock(func() time.Time { return now })
	e := newLimitedEcho(mem)

	for i := 0; i < 2; i++ {
		rec := hit(e, "alice")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: code = %d", i, rec.Code)
		}
	}
	if got := hit(e, "alice").Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("remaining = %q", got)
	}

	now = now.Add(20 * time.Second)
	rec := hit(e, "alice")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("code = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "40" {
		t.Fatalf("Retry-After = %q, want 40", got)
	}

	if rec := hit(e, "bob"); rec.Code != http.StatusOK {
		t.Fatalf("separate caller limited: %d", rec.Code)
	}
}

func TestRateLimiterFailsClosed(t *testing.T) {
	e := newLimitedEcho(brokenLimiter{})
	rec := hit(e, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("Retry-After missing")
	}
}
