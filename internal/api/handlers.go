package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/logger"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/services"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	SchedulerService services.SchedulerService
	DeckService      services.DeckService
	Store            Pinger
	RequestTimeout   time.Duration
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.FromContext(r.Context()).Error("failed to encode response: %v", err)
	}
}
