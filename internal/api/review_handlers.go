package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/logger"
)

type reviewRequest struct {
	UserID      string `json:"user_id"`
	CardID      string `json:"card_id"`
	SessionID   string `json:"session_id"`
	Quality     *int   `json:"quality"`
	TimeTakenMs *int64 `json:"time_taken_ms"`
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	sessionID, err := parseOptionalUUID("session_id", req.SessionID)
	if err != nil {
		handleError(w, r, err)
		return
	}

	log := logger.FromContext(r.Context()).WithFields(map[string]any{
		"user_id": req.UserID,
		"card_id": req.CardID,
	})
	log.Debug("submitting review")

	result, err := s.SchedulerService.SubmitReview(r.Context(), req.UserID, req.CardID, sessionID, req.Quality, req.TimeTakenMs)
	if err != nil {
		handleError(w, r, err)
		return
	}

	log.Info("review recorded, next in %d days", result.IntervalDays)
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleDueCards(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		handleError(w, r, err)
		return
	}

	due, err := s.SchedulerService.GetDueCards(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "deckID"), limit)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"cards": due})
}

func (s *Server) handleAssignCard(w http.ResponseWriter, r *http.Request) {
	result, err := s.SchedulerService.AssignCard(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "cardID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleCardHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.SchedulerService.CardHistory(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "cardID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"reviews": events})
}
