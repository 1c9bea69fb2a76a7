package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(recoveryMiddleware)
	r.Use(loggingMiddleware)
	r.Use(securityHeadersMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		if s.RequestTimeout > 0 {
			r.Use(timeoutMiddleware(s.RequestTimeout))
		}

		r.Post("/reviews", s.handleSubmitReview)

		r.Post("/sessions", s.handleStartSession)
		r.Get("/sessions/{sessionID}", s.handleSessionStats)
		r.Post("/sessions/{sessionID}/end", s.handleEndSession)

		r.Get("/users/{userID}/decks/{deckID}/due", s.handleDueCards)
		r.Put("/users/{userID}/cards/{cardID}", s.handleAssignCard)
		r.Get("/users/{userID}/cards/{cardID}/reviews", s.handleCardHistory)

		r.Post("/decks", s.handleCreateDeck)
		r.Get("/decks/{deckID}/cards", s.handleListCards)
		r.Post("/decks/{deckID}/cards", s.handleAddCard)
	})
	return r
}
