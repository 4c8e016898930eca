package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/reference"
)

func TestServer_HealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		expectedStatus int
		checkResponse  bool
	}{
		{name: "GET request success", method: http.MethodGet, expectedStatus: http.StatusOK, checkResponse: true},
		{name: "POST request not allowed", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
		{name: "PUT request not allowed", method: http.MethodPut, expectedStatus: http.StatusMethodNotAllowed},
	}

	server := &Server{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			server.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.checkResponse {
				var response HealthResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, "healthy", response.Status)
				assert.NotEmpty(t, response.Time)
				assert.Empty(t, response.Database)
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestServer_HealthReportsStore(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var response HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, "ok", response.Database)

	require.NoError(t, env.store.Close())
	w = env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "degraded", response.Status)
	assert.Equal(t, "unavailable", response.Database)
}

func TestServer_ReferenceHandler(t *testing.T) {
	env := newTestEnv(t, envOptions{
		reference: reference.New([]string{"ACME", "Globex"}, []string{"part", "lot"}),
		config:    Config{StrictReference: true},
	})

	w := env.do(httptest.NewRequest(http.MethodGet, "/reference", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var response ReferenceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, []string{"ACME", "Globex"}, response.Vendors)
	assert.Equal(t, []string{"part", "lot"}, response.Meanings)
	assert.True(t, response.Strict)
}

func TestServer_ReferenceHandler_Empty(t *testing.T) {
	env := newTestEnv(t, envOptions{noStore: true})

	w := env.do(httptest.NewRequest(http.MethodGet, "/reference", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"vendors":[],"meanings":[],"strict":false}`, w.Body.String())
}

func TestServer_WriteErrorResponse(t *testing.T) {
	server := &Server{}
	w := httptest.NewRecorder()

	server.writeErrorResponse(w, "something broke", http.StatusBadGateway)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":false,"error":"something broke"}`, w.Body.String())
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	_, err := NewServer(Config{}, Dependencies{})
	assert.ErrorContains(t, err, "pipeline")

	env := newTestEnv(t, envOptions{noStore: true})
	_, err = NewServer(Config{}, Dependencies{Pipeline: env.server.pipeline})
	assert.ErrorContains(t, err, "staging")
}

func TestServer_Defaults(t *testing.T) {
	env := newTestEnv(t, envOptions{noStore: true})
	assert.Equal(t, int64(20), env.server.maxUploadMB)
	assert.Equal(t, "30s", env.server.timeout.String())
	assert.Nil(t, env.server.rateLimiter)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{noStore: true})
	env.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	w := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "labelscan_http_requests_total"))
}
