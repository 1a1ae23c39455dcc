package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rebootcamp/attendsync/internal/attendance"
	"github.com/rebootcamp/attendsync/internal/db"
	"github.com/rebootcamp/attendsync/internal/queue"
	"github.com/rebootcamp/attendsync/internal/remote"
	"github.com/rebootcamp/attendsync/internal/syncer"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

const (
	errMsgGeneric         = "Something went wrong"
	errMsgInvalidBody     = "Invalid request body"
	errMsgNotFound        = "Record not found"
	errMsgAlreadySynced   = "Record already reached the remote; delete it there"
	errMsgDeleteUnsupport = "The remote backend does not support deletes"
	errMsgUnavailable     = "The remote backend is unavailable"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// respondServiceError maps a service error to a status and a user-facing message.
func respondServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var validation *attendance.ValidationError
	if errors.As(err, &validation) {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: validation.Error(), Fields: validation.Fields})
		return
	}

	status, message := mapServiceError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "status", status, "error", err)
	}
	respondError(w, status, message)
}

func mapServiceError(err error) (int, string) {
	var duplicate *queue.DuplicateCheckInError
	switch {
	case errors.As(err, &duplicate):
		return http.StatusConflict, duplicate.Error()
	case remote.IsSchemaMismatch(err):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, syncer.ErrDuplicateRemote), errors.Is(err, syncer.ErrCheckInFailed):
		return http.StatusConflict, err.Error()
	case syncer.IsPermanent(err):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound, errMsgNotFound
	case errors.Is(err, db.ErrAlreadySynced):
		return http.StatusConflict, errMsgAlreadySynced
	case errors.Is(err, attendance.ErrInvalidProvenance):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, attendance.ErrDeleteUnsupported):
		return http.StatusNotImplemented, errMsgDeleteUnsupport
	case remote.IsUnavailable(err):
		return http.StatusServiceUnavailable, errMsgUnavailable
	}
	return http.StatusInternalServerError, errMsgGeneric
}
