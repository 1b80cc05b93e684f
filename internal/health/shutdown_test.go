package health_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/juliana/internal/health"
)

func TestReadinessAfterShutdown(t *testing.T) {
	handler := health.Handler{Probes: map[string]health.Probe{"scanner": okProbe}}

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)

	health.SetReady(true)
	resp := httptest.NewRecorder()
	handler.Ready(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	health.SetReady(false)
	resp2 := httptest.NewRecorder()
	handler.Ready(resp2, req)
	require.Equal(t, http.StatusServiceUnavailable, resp2.Code)

	// reset for other tests
	health.SetReady(true)
}
