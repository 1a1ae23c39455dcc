package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rebootcamp/attendsync/internal/remote"
)

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HandleHealthz is a liveness check.
func HandleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	}
}

// HandleReadyz is a readiness check. A failing local store makes the
// service unavailable; a failing remote only degrades it.
func HandleReadyz(store Pinger, backend remote.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if store != nil {
			if err := store.Ping(ctx); err != nil {
				slog.Error("Readiness check failed", "error", err)
				respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
					Status:  "unavailable",
					Message: "local database unreachable",
				})
				return
			}
		}

		if backend != nil {
			if err := backend.Ping(ctx); err != nil {
				respondJSON(w, http.StatusOK, HealthResponse{
					Status:  "degraded",
					Message: "remote unreachable, writes are queued",
				})
				return
			}
		}

		respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	}
}
