package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/gpt-bridge/backend/internal/monitoring"
	bridgeService "github.com/zhouzirui/gpt-bridge/backend/internal/service/bridge"
	"github.com/zhouzirui/gpt-bridge/backend/internal/service/bridge/bridgetest"
)

func newTestRouter() (http.Handler, *bridgeService.Manager) {
	manager := bridgeService.NewManager(&bridgetest.Backend{})
	return NewRouter(Deps{
		Sessions: manager,
		Backend:  "browser",
		Metrics:  monitoring.NewMetrics(),
	}), manager
}

func TestRouterServesBridgeRoutesWithCORS(t *testing.T) {
	r, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/queryAi", bytes.NewReader([]byte(`{"prompt":"hi"}`)))
	req.Header.Set("Origin", "http://localhost:8501")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
	assert.JSONEq(t, `{"result":{"content":"echo: hi","createdAt":"0001-01-01T00:00:00Z"}}`, resp.Body.String())
}

func TestHealthzReportsSession(t *testing.T) {
	r, manager := newTestRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"status":"ok","backend":"browser","session":""}`, resp.Body.String())

	_, err := manager.Start(context.Background())
	require.NoError(t, err)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"status":"ok","backend":"browser","session":"session-1"}`, resp.Body.String())
}

func TestTranscriptDisabledWithoutJournal(t *testing.T) {
	r, _ := newTestRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/transcript", nil))

	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestUnknownRouteFallsThrough(t *testing.T) {
	r, _ := newTestRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "go_goroutines")
}
