package obs_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/juliana/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("juliana", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/terminal/keypad", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/api/v1/terminal/keypad"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "/api/v1/terminal/keypad", "202"))
	require.Equal(t, 1.0, total)
	require.NotZero(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Zero(t, testutil.ToFloat64(metrics.InFlight))
}

func TestNewHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("juliana", nil, registry)
	second := obs.NewHTTPMetrics("juliana", nil, registry)
	require.Same(t, first.ReqTotal, second.ReqTotal)
}

func TestRequestLoggerWritesRoute(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	handler := obs.RequestLogger{Logger: logger}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/prices", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/api/v1/prices"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Contains(t, buf.String(), `"route":"/api/v1/prices"`)
	require.Contains(t, buf.String(), `"message":"http_request"`)
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 10}, obs.ParseBucketsCSV("5, x, -1, 10"))
	require.Nil(t, obs.ParseBucketsCSV(" "))
}
