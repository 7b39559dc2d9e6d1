package middleware

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestSecurityHeaders_SetsAllHeaders(t *testing.T) {
	c, rec := newContext(t, http.MethodGet, "/api/v1/patients")

	if err := SecurityHeaders()(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for header, want := range securityHeaders {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("header %s: got %q, want %q", header, got, want)
		}
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected no-store cache policy on API responses")
	}
}

func TestSecurityHeaders_DoesNotBlockRequest(t *testing.T) {
	c, _ := newContext(t, http.MethodPost, "/api/v1/patients")

	called := false
	h := SecurityHeaders()(func(c echo.Context) error {
		called = true
		return c.String(http.StatusCreated, "created")
	})

	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestSecurityHeaders_SetEvenOnHandlerError(t *testing.T) {
	c, rec := newContext(t, http.MethodGet, "/")

	h := SecurityHeaders()(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	})

	err := h(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", httpErr.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("headers must be set before the handler runs so error responses carry them")
	}
}
