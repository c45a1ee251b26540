package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/careconnect/backend/api/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/api/rules/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/rules/{name}", "418"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rules/app_limit_check", nil))

	after := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/rules/{name}", "418"))
	assert.Equal(t, before+1, after)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.HTTPRequestsInFlight))
}

func TestRecordUpstreamRequest_NoResponse(t *testing.T) {
	before := testutil.ToFloat64(metrics.UpstreamRequestsTotal.WithLabelValues("care_requests", "GET", "error"))
	metrics.RecordUpstreamRequest("care_requests", "GET", 0, 20*time.Millisecond)
	after := testutil.ToFloat64(metrics.UpstreamRequestsTotal.WithLabelValues("care_requests", "GET", "error"))
	assert.Equal(t, before+1, after)
}

func TestRecordDBQuery(t *testing.T) {
	before := testutil.ToFloat64(metrics.DBQueriesTotal.WithLabelValues("rule", "error"))
	metrics.RecordDBQuery("rule", time.Millisecond, assert.AnError)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.DBQueriesTotal.WithLabelValues("rule", "error")))
}
