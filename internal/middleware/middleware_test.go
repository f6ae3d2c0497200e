package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/vectorlink/irs-backend/internal/middleware"
	"github.com/vectorlink/irs-backend/internal/utils"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// TestCORSMiddleware_AllowedOrigin verifies that an allow-listed origin is
// echoed back with the CORS headers.
func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	handler := middleware.CORSMiddleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/spray/districts", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("expected origin echoed back, got %q", got)
	}
}

// TestCORSMiddleware_UnknownOrigin verifies that an unknown origin gets no
// CORS headers at all.
func TestCORSMiddleware_UnknownOrigin(t *testing.T) {
	handler := middleware.CORSMiddleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/spray/districts", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no CORS header for unknown origin, got %q", got)
	}
}

// TestCORSMiddleware_Preflight verifies that OPTIONS requests short-circuit
// with 204 and never reach the inner handler.
func TestCORSMiddleware_Preflight(t *testing.T) {
	reached := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	})
	handler := middleware.CORSMiddleware(inner)

	req := httptest.NewRequest(http.MethodOptions, "/spray/submissions", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if reached {
		t.Error("preflight request reached the inner handler")
	}
}

// TestRequestIDMiddleware_Generates verifies that a request without an id gets
// one, in both the context and the response header.
func TestRequestIDMiddleware_Generates(t *testing.T) {
	var fromCtx string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx, _ = utils.GetRequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := middleware.RequestIDMiddleware(inner)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if fromCtx == "" {
		t.Fatal("no request id in context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != fromCtx {
		t.Errorf("header id %q != context id %q", got, fromCtx)
	}
}

// TestRequestIDMiddleware_Honors verifies that a caller-supplied id survives,
// so webhook redeliveries share one id across attempts.
func TestRequestIDMiddleware_Honors(t *testing.T) {
	var fromCtx string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx, _ = utils.GetRequestIDFromContext(r.Context())
	})
	handler := middleware.RequestIDMiddleware(inner)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "delivery-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if fromCtx != "delivery-42" {
		t.Errorf("expected supplied id to survive, got %q", fromCtx)
	}
}

// TestRequestLogger_PassesThrough verifies the logger middleware is
// transparent to the response.
func TestRequestLogger_PassesThrough(t *testing.T) {
	handler := middleware.RequestLogger(zap.NewNop())(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected 418 to pass through, got %d", rec.Code)
	}
}
