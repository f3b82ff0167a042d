package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0needt0/goodies/sbs-relay/config"
	"github.com/n0needt0/goodies/sbs-relay/domain"
	"github.com/n0needt0/goodies/sbs-relay/services"
)

func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()
	cfg := &config.Config{
		App:      config.App{Name: "sbs-relay", Version: "test"},
		Receiver: config.Receiver{IP: "127.0.0.1", Port: 30003},
		Service:  config.Service{URL: "http://collector.local/upload", UUID: "0123456789abcdef", TimeoutSec: 5},
	}
	a := NewAPI(services.NewServices(cfg), cfg)
	return a, a.NewRouter()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestGetStatsEnvelope(t *testing.T) {
	a, h := newTestAPI(t)
	a.Services.Stats.RecordBatch(3)

	rec := get(t, h, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var body domain.StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "Stats retrieved successfully", body.Message)
	require.NotNil(t, body.Data)
	assert.EqualValues(t, 3, body.Data.TotalMessages)
	assert.EqualValues(t, 3, body.Data.LastMinuteMessages)
	assert.NotNil(t, body.Data.LastMessageTime)
	assert.Equal(t, "disconnected", body.Data.ConnectionState)
}

func TestDashboardPage(t *testing.T) {
	_, h := newTestAPI(t)

	rec := get(t, h, "/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/api/stats")
}

func TestPreflightAnsweredWithoutBody(t *testing.T) {
	_, h := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Empty(t, rec.Body.String())
}

func TestHealthFollowsConnectionState(t *testing.T) {
	a, h := newTestAPI(t)

	var health HealthResponse
	rec := get(t, h, "/api/v2/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "127.0.0.1:30003", health.Receiver)
	assert.Equal(t, "0123***cdef", health.SenderID)

	a.Services.Stats.SetConnectionState(domain.Connected)
	rec = get(t, h, "/api/v2/health")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.ConnectionState)
}

func TestRootRedirectsToDashboard(t *testing.T) {
	_, h := newTestAPI(t)

	rec := get(t, h, "/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
}
