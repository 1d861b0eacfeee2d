package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/narvanalabs/conflux-builder/internal/matcher"
	"github.com/narvanalabs/conflux-builder/internal/models"
)

// ReleaseService answers release and tag lookups.
type ReleaseService interface {
	ReleaseByTag(ctx context.Context, releaseTag string) (*models.Release, error)
	ListTags(ctx context.Context) ([]models.Tag, error)
}

// ReleaseHandler handles release and tag HTTP requests.
type ReleaseHandler struct {
	releases ReleaseService
	logger   *slog.Logger
}

// NewReleaseHandler creates a new release handler.
func NewReleaseHandler(releases ReleaseService, logger *slog.Logger) *ReleaseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReleaseHandler{releases: releases, logger: logger}
}

// AssetResponse describes one downloadable file of a release.
type AssetResponse struct {
	Name        string            `json:"name"`
	DownloadURL string            `json:"download_url"`
	SizeBytes   int64             `json:"size_bytes"`
	Size        string            `json:"size"`
	Platform    matcher.AssetInfo `json:"platform"`
	Attestation bool              `json:"attestation,omitempty"`
}

// ReleaseResponse describes a builder release.
type ReleaseResponse struct {
	ID          int64           `json:"id"`
	TagName     string          `json:"tag_name"`
	Name        string          `json:"name"`
	HTMLURL     string          `json:"html_url"`
	Prerelease  bool            `json:"prerelease"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
	Assets      []AssetResponse `json:"assets"`
}

// TagsResponse lists source version tags, newest first.
type TagsResponse struct {
	Tags []models.Tag `json:"tags"`
}

// Get handles GET /v1/releases/{tag} - describes a release and its assets.
func (h *ReleaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	rel, err := h.releases.ReleaseByTag(r.Context(), chi.URLParam(r, "tag"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "get release")
		return
	}
	WriteJSON(w, http.StatusOK, releaseResponse(rel))
}

// Tags handles GET /v1/tags - lists the latest source version tags.
func (h *ReleaseHandler) Tags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.releases.ListTags(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "list tags")
		return
	}
	if tags == nil {
		tags = []models.Tag{}
	}
	WriteJSON(w, http.StatusOK, TagsResponse{Tags: tags})
}

func releaseResponse(rel *models.Release) ReleaseResponse {
	resp := ReleaseResponse{
		ID:          rel.ID,
		TagName:     rel.TagName,
		Name:        rel.Name,
		HTMLURL:     rel.HTMLURL,
		Prerelease:  rel.Prerelease,
		PublishedAt: rel.PublishedAt,
		Assets:      make([]AssetResponse, 0, len(rel.Assets)),
	}
	for _, a := range rel.Assets {
		resp.Assets = append(resp.Assets, AssetResponse{
			Name:        a.Name,
			DownloadURL: a.DownloadURL,
			SizeBytes:   a.SizeBytes,
			Size:        matcher.FormatBytes(a.SizeBytes),
			Platform:    matcher.ParseAssetName(a.Name),
			Attestation: matcher.IsAttestation(a.Name),
		})
	}
	return resp
}
