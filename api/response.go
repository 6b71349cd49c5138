package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/dlq"
)

type successResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type errorResponse struct {
	Success   bool      `json:"success"`
	Error     errorBody `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     errorBody{Message: msg, Code: code},
		Timestamp: time.Now().UTC(),
	})
}

// errorStatus maps a service error to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, broadcast.ErrNotFound),
		errors.Is(err, broadcast.ErrDLQNotFound),
		errors.Is(err, broadcast.ErrJobNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, broadcast.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, broadcast.ErrScheduleConflict):
		return http.StatusConflict, "SCHEDULE_CONFLICT"
	case errors.Is(err, broadcast.ErrMaxActiveBroadcasts):
		return http.StatusConflict, "MAX_BROADCASTS"
	case errors.Is(err, broadcast.ErrConcurrencyConflict),
		errors.Is(err, broadcast.ErrConcurrencyExhausted):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, broadcast.ErrNoContacts):
		return http.StatusBadRequest, "NO_CONTACTS"
	case errors.Is(err, broadcast.ErrInvalidRequest):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, dlq.ErrReplayUnsupported):
		return http.StatusUnprocessableEntity, "REPLAY_UNSUPPORTED"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}
