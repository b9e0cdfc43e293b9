package api

import (
	"errors"
	"net/http"

	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/model"

	"github.com/goccy/go-json"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// respondStoreError maps the store error taxonomy onto HTTP statuses.
func respondStoreError(w http.ResponseWriter, err error, notFoundMsg string) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: verr.Message, Field: verr.Field})
	case errors.Is(err, model.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", notFoundMsg)
	default:
		logging.Error().Err(err).Msg("store operation failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
