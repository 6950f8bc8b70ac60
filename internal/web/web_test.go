package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caldup/internal/model"
	"caldup/internal/registry"
)

type staticHealth struct {
	state model.HealthState
}

func (s staticHealth) Health() model.HealthState { return s.state }

func TestHealthEndpoint(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	srv := NewServer(staticHealth{state: model.HealthState{
		IsHealthy:       true,
		LastHealthCheck: now,
		TotalEnhanced:   4,
	}}, registry.New())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Healthy       bool `json:"healthy"`
		TotalEnhanced int  `json:"total_enhanced"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Healthy)
	assert.Equal(t, 4, resp.TotalEnhanced)
}

func TestHealthEndpoint_UnhealthyIs503(t *testing.T) {
	srv := NewServer(staticHealth{state: model.HealthState{IsHealthy: false}}, registry.New())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	reg := registry.New()
	t0 := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	reg.Track("ev-1", "r1", t0)
	reg.Track("ev-2", "r2", t0.Add(time.Minute))
	reg.MarkCustomUI("ev-1")

	srv := NewServer(staticHealth{state: model.HealthState{IsHealthy: true}}, reg)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Tracked  int       `json:"tracked"`
		WithUI   int       `json:"with_ui"`
		OldestAt time.Time `json:"oldest_seen"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Tracked)
	assert.Equal(t, 1, resp.WithUI)
	assert.True(t, resp.OldestAt.Equal(t0))
}
