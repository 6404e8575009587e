package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maneesh/dropstream/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	var ioErr *models.UploadIOError

	switch {
	case errors.Is(err, models.ErrMalformedRequest):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	case errors.As(err, &ioErr):
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: ioErr.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
	}
}
