package api

import (
	"context"
	"net/http"
	"time"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/logger"
)

// handleHealth is the liveness probe; it answers as long as the process serves requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleReady returns 503 while the schedule store cannot be reached.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Store.Ping(ctx); err != nil {
			logger.FromContext(r.Context()).Warn("readiness check failed - store: %v", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Store unavailable"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
