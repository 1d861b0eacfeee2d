package handlers

import (
	"net/http"
	"strings"

	"github.com/narvanalabs/conflux-builder/internal/models"
	"github.com/narvanalabs/conflux-builder/internal/validation"
)

// OptionsHandler describes the build options a client may choose from.
type OptionsHandler struct {
	validator *validation.CriteriaValidator
}

// NewOptionsHandler creates a new options handler.
func NewOptionsHandler(validator *validation.CriteriaValidator) *OptionsHandler {
	if validator == nil {
		validator = validation.NewCriteriaValidator(nil)
	}
	return &OptionsHandler{validator: validator}
}

// TargetOption is one selectable operating system.
type TargetOption struct {
	OS            models.OS     `json:"os"`
	DisplayName   string        `json:"display_name"`
	Arches        []models.Arch `json:"arches"`
	LinkingFlags  []string      `json:"linking_flags"`
	GlibcVersions []string      `json:"glibc_versions,omitempty"`
}

// OptionsResponse lists the supported build options and their defaults.
type OptionsResponse struct {
	Targets         []TargetOption  `json:"targets"`
	OpensslVersions []string        `json:"openssl_versions"`
	Defaults        map[string]any  `json:"defaults"`
	SuggestedOS     models.OS       `json:"suggested_os"`
}

// Get handles GET /v1/options - lists supported targets and defaults.
func (h *OptionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	supported := validation.SupportedTargets()

	targets := make([]TargetOption, 0, len(supported))
	for _, os := range models.ValidOSes() {
		t := TargetOption{
			OS:          os,
			DisplayName: os.DisplayName(),
			Arches:      supported[os],
		}
		switch os {
		case models.OSLinux:
			t.LinkingFlags = []string{"static_openssl", "compatibility_mode", "glibc_version", "openssl_version"}
			t.GlibcVersions = h.validator.GlibcVersions()
		case models.OSWindows:
			t.LinkingFlags = []string{"static_openssl", "compatibility_mode"}
		default:
			t.LinkingFlags = []string{}
		}
		targets = append(targets, t)
	}

	WriteJSON(w, http.StatusOK, OptionsResponse{
		Targets:         targets,
		OpensslVersions: models.ValidOpensslVersions(),
		Defaults: map[string]any{
			"static_openssl":     true,
			"compatibility_mode": false,
			"glibc_version":      h.validator.DefaultGlibcVersion(),
			"openssl_version":    models.DefaultOpensslVersion,
		},
		SuggestedOS: SuggestOS(r.UserAgent()),
	})
}

// SuggestOS guesses the client's operating system from its User-Agent.
// Unknown agents get Linux.
func SuggestOS(userAgent string) models.OS {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "mac"):
		return models.OSMacOS
	case strings.Contains(ua, "win"):
		return models.OSWindows
	default:
		return models.OSLinux
	}
}
