package validation

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/narvanalabs/conflux-builder/internal/models"
)

// versionTagRegex accepts git tag names such as v2.4.0 or v3.0.0-testnet.
var versionTagRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]{0,127}$`)

// commitShaRegex accepts full 40 character hex commit ids.
var commitShaRegex = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// BuildRequest is the raw, unvalidated build request. Pointer booleans
// distinguish an omitted flag from an explicit false.
type BuildRequest struct {
	VersionTag        string `json:"version_tag"`
	CommitSha         string `json:"commit_sha,omitempty"`
	OS                string `json:"os"`
	Arch              string `json:"arch"`
	StaticOpenssl     *bool  `json:"static_openssl,omitempty"`
	CompatibilityMode *bool  `json:"compatibility_mode,omitempty"`
	GlibcVersion      string `json:"glibc_version,omitempty"`
	OpensslVersion    string `json:"openssl_version,omitempty"`
}

// CriteriaValidator validates build requests against a set of tracked glibc versions.
type CriteriaValidator struct {
	glibcVersions []string
}

// NewCriteriaValidator creates a validator. The last glibc version is the
// default for Linux requests that omit one. An empty list selects the built-in versions.
func NewCriteriaValidator(glibcVersions []string) *CriteriaValidator {
	if len(glibcVersions) == 0 {
		glibcVersions = models.ValidGlibcVersions()
	}
	return &CriteriaValidator{glibcVersions: slices.Clone(glibcVersions)}
}

// GlibcVersions returns the tracked glibc versions, oldest first.
func (v *CriteriaValidator) GlibcVersions() []string {
	return slices.Clone(v.glibcVersions)
}

// DefaultGlibcVersion returns the version applied when a Linux request omits one.
func (v *CriteriaValidator) DefaultGlibcVersion() string {
	return v.glibcVersions[len(v.glibcVersions)-1]
}

var defaultValidator = NewCriteriaValidator(nil)

// ValidateCriteria validates a request with the built-in glibc versions.
func ValidateCriteria(req BuildRequest) (models.Criteria, error) {
	return defaultValidator.Validate(req)
}

// Validate checks a request and returns its normalized criteria.
//
// Normalization rules:
// - staticOpenssl defaults to true and compatibilityMode to false
// - Linux defaults opensslVersion to "3" and glibcVersion to the latest tracked version
// - non-Linux requests drop glibcVersion and opensslVersion
// - macOS forces compatibilityMode to false
//
// The returned error is always ValidationErrors.
func (v *CriteriaValidator) Validate(req BuildRequest) (models.Criteria, error) {
	var errs ValidationErrors

	versionTag := strings.TrimSpace(req.VersionTag)
	switch {
	case versionTag == "":
		errs.Add("version_tag", "version tag is required")
	case !versionTagRegex.MatchString(versionTag):
		errs.Add("version_tag", "version tag may only contain letters, digits, '.', '_', '+' and '-'")
	}

	commitSha := strings.ToLower(strings.TrimSpace(req.CommitSha))
	if commitSha != "" && !commitShaRegex.MatchString(commitSha) {
		errs.Add("commit_sha", "commit sha must be a full 40 character hex string")
	}

	os := models.OS(strings.ToLower(strings.TrimSpace(req.OS)))
	if !os.IsValid() {
		errs.Add("os", fmt.Sprintf("os must be one of %s", joinOSes(models.ValidOSes())))
	}

	arch := models.Arch(strings.ToLower(strings.TrimSpace(req.Arch)))
	if !arch.IsValid() {
		errs.Add("arch", fmt.Sprintf("arch must be one of %s, %s", models.ArchX86_64, models.ArchAArch64))
	}

	if os.IsValid() && arch.IsValid() {
		if want, pinned := pinnedArch(os); pinned && arch != want {
			errs.Add("arch", fmt.Sprintf("%s builds are only available for %s", os.DisplayName(), want))
		}
	}

	c := models.Criteria{
		VersionTag:        versionTag,
		CommitSha:         commitSha,
		OS:                os,
		Arch:              arch,
		StaticOpenssl:     boolOr(req.StaticOpenssl, true),
		CompatibilityMode: boolOr(req.CompatibilityMode, false),
	}

	if os == models.OSLinux {
		c.GlibcVersion = strings.TrimSpace(req.GlibcVersion)
		if c.GlibcVersion == "" {
			c.GlibcVersion = v.DefaultGlibcVersion()
		} else if !slices.Contains(v.glibcVersions, c.GlibcVersion) {
			errs.Add("glibc_version", fmt.Sprintf("glibc version must be one of %s", strings.Join(v.glibcVersions, ", ")))
		}

		c.OpensslVersion = strings.TrimSpace(req.OpensslVersion)
		if c.OpensslVersion == "" {
			c.OpensslVersion = models.DefaultOpensslVersion
		} else if !slices.Contains(models.ValidOpensslVersions(), c.OpensslVersion) {
			errs.Add("openssl_version", fmt.Sprintf("openssl version must be one of %s", strings.Join(models.ValidOpensslVersions(), ", ")))
		}
	}

	if os == models.OSMacOS {
		c.CompatibilityMode = false
	}

	if errs.HasErrors() {
		return models.Criteria{}, errs
	}
	return c, nil
}

// SupportedTargets returns every valid OS and architecture pairing.
func SupportedTargets() map[models.OS][]models.Arch {
	targets := make(map[models.OS][]models.Arch)
	for _, os := range models.ValidOSes() {
		if arch, pinned := pinnedArch(os); pinned {
			targets[os] = []models.Arch{arch}
			continue
		}
		targets[os] = models.ValidArches()
	}
	return targets
}

// pinnedArch returns the only architecture an OS supports, if it is restricted.
func pinnedArch(os models.OS) (models.Arch, bool) {
	switch os {
	case models.OSMacOS:
		return models.ArchAArch64, true
	case models.OSWindows:
		return models.ArchX86_64, true
	default:
		return "", false
	}
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func joinOSes(oses []models.OS) string {
	parts := make([]string, len(oses))
	for i, o := range oses {
		parts[i] = string(o)
	}
	return strings.Join(parts, ", ")
}
