package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"LendPulse/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

type routes struct{}

func (routes) RegisterRoutes(e *echo.Echo) {
	e.GET("/ok", func(c echo.Context) error { return CreatedResponse(c, "made") })
	e.GET("/limited", func(c echo.Context) error {
		return AppErrorResponse(c, TooManyRequestsError("slow down", 7))
	})
	e.GET("/plain", func(c echo.Context) error { return AppErrorResponse(c, errors.New("boom")) })
	e.GET("/panic", func(c echo.Context) error { panic("kaboom") })
}

func newTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewServer(logger.Nop(), routes{}, WithMetrics("/metrics", reg, reg)), reg
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestServerWritesRealStatus(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(s, http.MethodGet, "/ok")
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, want 201", rec.Code)
	}
	var body APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != http.StatusCreated || body.Data != "made" {
		t.Fatalf("body = %+v", body)
	}

	rec = serve(s, http.MethodGet, "/limited")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("code = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "7" {
		t.Fatalf("Retry-After = %q", got)
	}

	rec = serve(s, http.MethodGet, "/plain")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}
}

func TestServerRecoversPanics(t *testing.T) {
	s, _ := newTestServer(t)
	rec := serve(s, http.MethodGet, "/panic")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", rec.Code)
	}
}

func TestServerHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	if rec := serve(s, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	serve(s, http.MethodGet, "/ok")

	rec := serve(s, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `lendpulse_http_requests_total{method="GET",route="/ok",status="201"} 1`) {
		t.Fatalf("request counter missing:\n%s", rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/ok", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow origin = %q", got)
	}
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer(logger.Nop(), nil,
		WithMetrics("/metrics", reg, reg),
		WithReadiness("redis", func(context.Context) error { return nil }),
		WithReadiness("clickhouse", func(context.Context) error { return errors.New("connection refused") }),
	)
	rec := serve(s, http.MethodGet, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"clickhouse":"connection refused"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestCORSExposesRateLimitHeaders(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "Retry-After") {
		t.Fatalf("expose headers = %q", got)
	}
}
