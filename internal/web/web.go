package web

import (
	"encoding/json"
	"net/http"
	"time"

	appLog "caldup/internal/log"
	"caldup/internal/model"
	"caldup/internal/registry"
)

// HealthSource exposes the supervisor's health snapshot to the status API.
type HealthSource interface {
	Health() model.HealthState
}

// Server provides the operational HTTP surface: /health and /status.
type Server struct {
	health HealthSource
	reg    *registry.Registry
	mux    *http.ServeMux
}

// NewServer constructs the status server.
func NewServer(health HealthSource, reg *registry.Registry) *Server {
	s := &Server{
		health: health,
		reg:    reg,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/status", s.handleStatus)
	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type healthResponse struct {
	Healthy            bool      `json:"healthy"`
	LastHealthCheck    time.Time `json:"last_health_check"`
	ErrorCount         int       `json:"error_count"`
	TotalEnhanced      int       `json:"total_enhanced"`
	FailedEnhancements int       `json:"failed_enhancements"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.health.Health()
	resp := healthResponse{
		Healthy:            h.IsHealthy,
		LastHealthCheck:    h.LastHealthCheck,
		ErrorCount:         h.ErrorCount,
		TotalEnhanced:      h.TotalEnhanced,
		FailedEnhancements: h.FailedEnhancements,
	}
	code := http.StatusOK
	if !h.IsHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type statusResponse struct {
	Tracked  int       `json:"tracked"`
	WithUI   int       `json:"with_ui"`
	OldestAt time.Time `json:"oldest_seen,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{}
	for _, rec := range s.reg.Snapshot() {
		resp.Tracked++
		if rec.HasCustomUI {
			resp.WithUI++
		}
		if resp.OldestAt.IsZero() || rec.LastSeen.Before(resp.OldestAt) {
			resp.OldestAt = rec.LastSeen
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("status response encode failed", err)
	}
}

// StartServer serves the status API on listen until the process exits.
func StartServer(listen string, health HealthSource, reg *registry.Registry) error {
	s := NewServer(health, reg)
	appLog.Info("starting status server", "listen", "http://"+listen)
	return http.ListenAndServe(listen, s.Handler())
}
