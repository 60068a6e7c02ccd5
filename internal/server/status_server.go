package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// StatusProvider reports the agent's current state.
type StatusProvider interface {
	Status() map[string]interface{}
}

// StatusServer exposes a local read-only HTTP surface so companion tooling
// can inspect the agent without touching the backend.
type StatusServer struct {
	provider StatusProvider
	logger   *zap.Logger
}

// NewStatusServer creates a status server.
func NewStatusServer(provider StatusProvider, logger *zap.Logger) *StatusServer {
	return &StatusServer{
		provider: provider,
		logger:   logger,
	}
}

// ServeHTTP implements http.Handler
func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/status":
		if r.Method == http.MethodGet {
			s.handleStatus(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "/api/v1/health":
		if r.Method == http.MethodGet {
			s.handleHealth(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		http.NotFound(w, r)
	}
}

// handleStatus returns the agent status as JSON.
func (s *StatusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.provider.Status()); err != nil {
		s.logger.Warn("Failed to encode status response", zap.Error(err))
	}
}

// handleHealth handles liveness checks.
func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
