package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/narvanalabs/conflux-builder/internal/events"
	"github.com/narvanalabs/conflux-builder/internal/models"
	"github.com/narvanalabs/conflux-builder/internal/orchestrator"
	"github.com/narvanalabs/conflux-builder/internal/validation"
)

// BuildService is the build lifecycle used by BuildHandler.
type BuildService interface {
	Submit(ctx context.Context, req validation.BuildRequest) (*orchestrator.Result, error)
	Get(ctx context.Context, id string) (*models.BuildRecord, error)
	Retry(ctx context.Context, id string) (*orchestrator.Result, error)
}

// BuildHandler handles build-related HTTP requests.
type BuildHandler struct {
	builds BuildService
	broker *events.Broker
	logger *slog.Logger
}

// NewBuildHandler creates a new build handler.
func NewBuildHandler(builds BuildService, broker *events.Broker, logger *slog.Logger) *BuildHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if broker == nil {
		broker = events.NewBroker(logger)
	}
	return &BuildHandler{
		builds: builds,
		broker: broker,
		logger: logger,
	}
}

// SubmitResponse is the answer to a build submission or retry.
type SubmitResponse struct {
	BuildID     string               `json:"build_id"`
	Status      models.BuildStatus   `json:"status"`
	DownloadURL string               `json:"download_url,omitempty"`
	Outcome     orchestrator.Outcome `json:"outcome"`
	Message     string               `json:"message"`
}

// StatusResponse is the compact view of a build's progress.
type StatusResponse struct {
	BuildID       string             `json:"build_id"`
	Status        models.BuildStatus `json:"status"`
	ExternalJobID string             `json:"external_job_id,omitempty"`
	DownloadURL   string             `json:"download_url,omitempty"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Submit handles POST /v1/builds - requests a build.
func (h *BuildHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req validation.BuildRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, r, "Invalid request body: "+err.Error())
		return
	}

	res, err := h.builds.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "submit build")
		return
	}
	h.writeResult(w, res)
}

// Get handles GET /v1/builds/{buildID} - retrieves a build record.
func (h *BuildHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.builds.Get(r.Context(), chi.URLParam(r, "buildID"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "get build")
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// Status handles GET /v1/builds/{buildID}/status - retrieves a build's progress.
func (h *BuildHandler) Status(w http.ResponseWriter, r *http.Request) {
	rec, err := h.builds.Get(r.Context(), chi.URLParam(r, "buildID"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "get build status")
		return
	}
	WriteJSON(w, http.StatusOK, statusResponse(rec))
}

// Retry handles POST /v1/builds/{buildID}/retry - retries a failed build.
func (h *BuildHandler) Retry(w http.ResponseWriter, r *http.Request) {
	res, err := h.builds.Retry(r.Context(), chi.URLParam(r, "buildID"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "retry build")
		return
	}
	h.writeResult(w, res)
}

func (h *BuildHandler) writeResult(w http.ResponseWriter, res *orchestrator.Result) {
	status := http.StatusOK
	switch res.Outcome {
	case orchestrator.OutcomeCreated, orchestrator.OutcomeRetried:
		status = http.StatusAccepted
	case orchestrator.OutcomeDispatchFailed:
		status = http.StatusBadGateway
	}

	WriteJSON(w, status, SubmitResponse{
		BuildID:     res.Build.ID,
		Status:      res.Build.Status,
		DownloadURL: res.Build.DownloadURL,
		Outcome:     res.Outcome,
		Message:     res.Message,
	})
}

func statusResponse(rec *models.BuildRecord) StatusResponse {
	return StatusResponse{
		BuildID:       rec.ID,
		Status:        rec.Status,
		ExternalJobID: rec.ExternalJobID,
		DownloadURL:   rec.DownloadURL,
		UpdatedAt:     rec.UpdatedAt,
	}
}
