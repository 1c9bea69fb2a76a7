package api

import (
	"net/http"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/logger"
)

type startSessionRequest struct {
	UserID string `json:"user_id"`
	DeckID string `json:"deck_id"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, r, err)
		return
	}

	sess, err := s.SchedulerService.StartSession(r.Context(), req.UserID, req.DeckID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		handleError(w, r, err)
		return
	}

	summary, err := s.SchedulerService.EndSession(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).WithField("session_id", id).
		Info("session closed: %d cards, %d correct", summary.CardsStudied, summary.CorrectCount)
	writeJSON(w, r, http.StatusOK, summary)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		handleError(w, r, err)
		return
	}

	summary, err := s.SchedulerService.SessionStats(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}
