package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	closehttp "github.com/Oss53pa/Atlas-Finance-sub012/internal/close/http"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/observability"
	"github.com/Oss53pa/Atlas-Finance-sub012/jobs"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{RateLimit: 100}})
	rr := serve(t, router, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "100", rr.Header().Get("X-RateLimit-Limit"))
}

func TestRouterReadiness(t *testing.T) {
	down := NewRouter(RouterParams{Database: pingFunc(func(context.Context) error { return errors.New("refused") })})
	require.Equal(t, http.StatusServiceUnavailable, serve(t, down, http.MethodGet, "/readyz").Code)

	up := NewRouter(RouterParams{Database: pingFunc(func(context.Context) error { return nil })})
	require.Equal(t, http.StatusOK, serve(t, up, http.MethodGet, "/readyz").Code)
}

func TestRouterMountsLedgerAPIAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		CloseHandler: closehttp.NewHandler(nil, nil, 1),
		JobHandler:   jobs.NewHandler(nil, nil),
		Metrics:      metrics,
	})

	rr := serve(t, router, http.MethodGet, "/jobs/health")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"queue":"default"`)

	rr = serve(t, router, http.MethodGet, "/api/fiscal-years/abc/ledgers")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `gl_http_requests_total{code="400",route="/api/fiscal-years/{year}/ledgers"} 1`)
}
