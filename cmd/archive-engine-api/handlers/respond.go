// Package handlers provides HTTP handlers for the archive engine API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spherical-ai/spherical/libs/archive-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/ingest"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/archive-engine/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case ingest.IsNotFound(err), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case domain.IsType(err, domain.ErrorTypeValidation):
		return http.StatusBadRequest
	case domain.IsType(err, domain.ErrorTypeExtraction),
		errors.Is(err, domain.ErrCatalogueExtractionFailed),
		errors.Is(err, domain.ErrEmptyCatalogue),
		errors.Is(err, domain.ErrNoText):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, logger *observability.Logger, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg(message)
	}
	writeError(w, status, message, err.Error())
}
