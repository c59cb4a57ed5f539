package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type healthBody struct {
	Status string `json:"status"`
	Data   struct {
		Service string             `json:"service"`
		Uptime  string             `json:"uptime"`
		Checks  []DependencyHealth `json:"checks"`
	} `json:"data"`
}

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) healthBody {
	t.Helper()
	var body healthBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthHandler_Liveness(t *testing.T) {
	handler := NewHealthHandler(nil, nil)

	w := httptest.NewRecorder()
	handler.Liveness(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeHealth(t, w)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "cnabflow", body.Data.Service)
	assert.NotEmpty(t, body.Data.Uptime)
}

func TestHealthHandler_Readiness(t *testing.T) {
	t.Run("all dependencies up", func(t *testing.T) {
		rig := newHandlerRig(t)
		handler := NewHealthHandler(rig.store, rig.queue)

		w := httptest.NewRecorder()
		handler.Readiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decodeHealth(t, w)
		assert.Equal(t, "healthy", body.Status)
		require.Len(t, body.Data.Checks, 2)
		for _, check := range body.Data.Checks {
			assert.Equal(t, "healthy", check.Status, check.Name)
			assert.NotEmpty(t, check.Latency)
		}
	})

	t.Run("redis down", func(t *testing.T) {
		rig := newHandlerRig(t)
		handler := NewHealthHandler(rig.store, rig.queue)
		require.NoError(t, rig.client.Close())

		w := httptest.NewRecorder()
		handler.Readiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decodeHealth(t, w)
		assert.Equal(t, "unhealthy", body.Status)

		byName := map[string]DependencyHealth{}
		for _, check := range body.Data.Checks {
			byName[check.Name] = check
		}
		assert.Equal(t, "healthy", byName["database"].Status)
		assert.Equal(t, "unhealthy", byName["redis"].Status)
		assert.NotEmpty(t, byName["redis"].Error)
	})

	t.Run("nothing configured", func(t *testing.T) {
		handler := NewHealthHandler(nil, nil)

		w := httptest.NewRecorder()
		handler.Readiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decodeHealth(t, w)
		for _, check := range body.Data.Checks {
			assert.Equal(t, "unhealthy", check.Status, check.Name)
			assert.Equal(t, "not configured", check.Error)
		}
	})
}
