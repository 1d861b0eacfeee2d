package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/narvanalabs/conflux-builder/internal/api/errors"
	"github.com/narvanalabs/conflux-builder/internal/integrations/github"
	"github.com/narvanalabs/conflux-builder/internal/orchestrator"
	"github.com/narvanalabs/conflux-builder/internal/releases"
	"github.com/narvanalabs/conflux-builder/internal/validation"
)

// maxBodyBytes bounds request bodies, webhook payloads included.
const maxBodyBytes = 5 << 20

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	apierrors.WriteJSON(w, status, data)
}

// WriteError writes an APIError tagged with the request id.
func WriteError(w http.ResponseWriter, r *http.Request, err *apierrors.APIError) {
	apierrors.WriteErrorWithRequestID(w, err, middleware.GetReqID(r.Context()))
}

// WriteBadRequest writes a 400 Bad Request response.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, apierrors.NewValidationError(message))
}

// WriteNotFound writes a 404 Not Found response.
func WriteNotFound(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, apierrors.NewNotFoundError(message))
}

// WriteUnauthorized writes a 401 Unauthorized response.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, apierrors.NewUnauthorizedError(message))
}

// WriteInternalError writes a 500 Internal Server Error response.
func WriteInternalError(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, apierrors.NewInternalError(message))
}

// writeServiceError maps domain errors onto API errors. Unexpected errors
// are logged and hidden behind a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, action string) {
	var verrs validation.ValidationErrors
	var ghErr *github.APIError

	switch {
	case errors.As(err, &verrs):
		WriteError(w, r, apierrors.FromValidation(verrs))
	case errors.Is(err, orchestrator.ErrNotFound),
		errors.Is(err, releases.ErrTagNotFound),
		errors.Is(err, releases.ErrReleaseNotFound):
		WriteNotFound(w, r, err.Error())
	case errors.Is(err, orchestrator.ErrNotRetryable):
		WriteError(w, r, apierrors.NewConflictError(err.Error()))
	case errors.As(err, &ghErr), errors.Is(err, github.ErrNotFound):
		logger.Warn("github request failed", "action", action, "error", err)
		WriteError(w, r, apierrors.NewUpstreamError("GitHub request failed"))
	default:
		logger.Error("request failed", "action", action, "error", err)
		WriteInternalError(w, r, "Failed to "+action)
	}
}

// decodeJSON decodes a size-limited JSON request body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
