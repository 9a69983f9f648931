package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/flowcore/engine/connector"
	"github.com/nexusflow/flowcore/engine/core"
	"github.com/nexusflow/flowcore/engine/facade"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cn := &connector.Connector{ID: core.ID("slack"), Name: "Slack"}
	e, err := facade.New([]*connector.Connector{cn}, time.Hour)
	require.NoError(t, err)
	t.Cleanup(e.Destroy)
	srv := NewServer(e, DefaultConfig())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListConnectors(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/connectors", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "slack")
}

func TestGetConnector_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/connectors/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateConnection_SanitizesInput(t *testing.T) {
	s := newTestServer(t)
	integrationRec := doRequest(t, s, http.MethodPost, "/api/integrations", map[string]any{
		"id": "int-1", "connectorId": "slack", "name": "<script>alert(1)</script>",
	})
	require.Equal(t, http.StatusCreated, integrationRec.Code)

	rec := doRequest(t, s, http.MethodPost, "/api/connections", map[string]any{
		"id": "conn-1", "integrationId": "int-1", "connectorId": "slack",
		"config": map[string]any{"label": "<img src=x onerror=alert(1)>"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "onerror=")
	assert.NotContains(t, rec.Body.String(), "<img")
}

func TestDeleteConnection_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodDelete, "/api/connections/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func newTestServerWithConfig(t *testing.T, cfg Config) *Server {
	t.Helper()
	cn := &connector.Connector{ID: core.ID("slack"), Name: "Slack"}
	e, err := facade.New([]*connector.Connector{cn}, time.Hour)
	require.NoError(t, err)
	t.Cleanup(e.Destroy)
	srv := NewServer(e, cfg)
	t.Cleanup(srv.Close)
	return srv
}

func TestCORS_WildcardOrigin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://*.example.com"}
	s := newTestServerWithConfig(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.com")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPerIPRateLimit_WriteCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WriteRequests = 2
	s := newTestServerWithConfig(t, cfg)

	for i := 0; i < 2; i++ {
		rec := doRequest(t, s, http.MethodPost, "/api/flows/start", map[string]any{"integrationId": "nope"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := doRequest(t, s, http.MethodPost, "/api/flows/start", map[string]any{"integrationId": "nope"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Reads count against their own window and stay admitted.
	recRead := doRequest(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, recRead.Code)
}
