package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/narvanalabs/conflux-builder/internal/orchestrator"
	"github.com/narvanalabs/conflux-builder/internal/webhook"
	"github.com/narvanalabs/conflux-builder/pkg/logger"
)

// EventService applies verified GitHub events to build records.
type EventService interface {
	HandleWorkflowRun(ctx context.Context, e *webhook.WorkflowRunEvent) (orchestrator.EventResult, error)
	HandleRelease(ctx context.Context, e *webhook.ReleaseEvent) (orchestrator.EventResult, error)
}

// WebhookHandler receives GitHub webhook deliveries.
type WebhookHandler struct {
	events   EventService
	verifier webhook.Verifier
	logger   *slog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(events EventService, verifier webhook.Verifier, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{events: events, verifier: verifier, logger: logger}
}

// WebhookResponse acknowledges a delivery.
type WebhookResponse struct {
	Event    string   `json:"event"`
	Handled  bool     `json:"handled"`
	BuildIDs []string `json:"build_ids,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// GitHub handles POST /webhooks/github - routes on the X-GitHub-Event header.
func (h *WebhookHandler) GitHub(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, r.Header.Get(webhook.EventHeader))
}

// WorkflowRun handles POST /webhooks/github/workflow-run.
func (h *WebhookHandler) WorkflowRun(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, webhook.EventWorkflowRun)
}

// Release handles POST /webhooks/github/release.
func (h *WebhookHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, webhook.EventRelease)
}

func (h *WebhookHandler) serve(w http.ResponseWriter, r *http.Request, event string) {
	deliveryID := r.Header.Get(webhook.DeliveryHeader)
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	ctx := logger.ContextWithDeliveryID(r.Context(), deliveryID)
	log := (&logger.Logger{Logger: h.logger}).WithContext(ctx).With("event", event)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteBadRequest(w, r, "Failed to read request body")
		return
	}

	if err := h.verifier.Verify(payload, r.Header.Get(webhook.SignatureHeader)); err != nil {
		if errors.Is(err, webhook.ErrNoSecret) {
			log.Error("webhook secret not configured, rejecting delivery")
		} else {
			log.Warn("rejected webhook delivery", "error", err)
		}
		WriteUnauthorized(w, r, "Invalid webhook signature")
		return
	}

	var result orchestrator.EventResult
	switch event {
	case webhook.EventPing:
		result = orchestrator.EventResult{Handled: true, Message: "pong"}

	case webhook.EventWorkflowRun:
		e, err := webhook.ParseWorkflowRunEvent(payload)
		if err != nil {
			WriteBadRequest(w, r, err.Error())
			return
		}
		log = log.With("run_id", e.WorkflowRun.ID, "action", e.Action)
		result, err = h.events.HandleWorkflowRun(ctx, e)
		if err != nil {
			log.Error("failed to handle workflow_run event", "error", err)
			WriteInternalError(w, r, "Failed to handle workflow_run event")
			return
		}

	case webhook.EventRelease:
		e, err := webhook.ParseReleaseEvent(payload)
		if err != nil {
			WriteBadRequest(w, r, err.Error())
			return
		}
		log = log.With("release_tag", e.Release.TagName, "action", e.Action)
		result, err = h.events.HandleRelease(ctx, e)
		if err != nil {
			log.Error("failed to handle release event", "error", err)
			WriteInternalError(w, r, "Failed to handle release event")
			return
		}

	default:
		result = orchestrator.EventResult{Message: "ignored"}
	}

	log.Info("webhook delivery processed",
		"handled", result.Handled,
		"builds", len(result.BuildIDs),
		"message", result.Message,
	)
	WriteJSON(w, http.StatusOK, WebhookResponse{
		Event:    event,
		Handled:  result.Handled,
		BuildIDs: result.BuildIDs,
		Message:  result.Message,
	})
}
