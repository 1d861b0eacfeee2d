// Package matcher decides whether a release artifact was built from a
// given set of criteria, using the artifact file naming convention.
package matcher

import (
	"strings"

	"github.com/narvanalabs/conflux-builder/internal/models"
)

// Filename tokens used by the release pipeline.
const (
	PortableToken       = "portable"
	DynamicOpensslToken = "dynamic-openssl"
	GlibcTokenPrefix    = "glibc"
)

// attestationMarkers identify metadata files published next to binaries.
var attestationMarkers = []string{"attestation", "provenance"}

// osTokens maps an OS to the tokens that may identify it in a filename.
var osTokens = map[models.OS][]string{
	models.OSLinux:   {"linux"},
	models.OSWindows: {"windows"},
	models.OSMacOS:   {"darwin", "macos"},
}

type options struct {
	skipAttestation bool
}

// Option configures a match.
type Option func(*options)

// WithAttestationFiles lets attestation and provenance files match. By
// default they never match because they are not the binary itself.
func WithAttestationFiles() Option {
	return func(o *options) {
		o.skipAttestation = false
	}
}

// Matches reports whether the artifact name satisfies the criteria.
//
// Checks, in order:
// - attestation files are rejected unless WithAttestationFiles is given
// - version tag, OS token and arch must all appear
// - Linux names must carry glibc<version> when a glibc version is set
// - the portable token must be present exactly when compatibility mode is on
// - the dynamic-openssl token must be present exactly when OpenSSL is not static
func Matches(name string, c models.Criteria, opts ...Option) bool {
	o := options{skipAttestation: true}
	for _, opt := range opts {
		opt(&o)
	}

	if o.skipAttestation && IsAttestation(name) {
		return false
	}

	if c.VersionTag == "" || c.OS == "" || c.Arch == "" {
		return false
	}
	if !strings.Contains(name, c.VersionTag) ||
		!containsOS(name, c.OS) ||
		!strings.Contains(name, string(c.Arch)) {
		return false
	}

	if c.OS == models.OSLinux && c.GlibcVersion != "" &&
		!strings.Contains(name, GlibcTokenPrefix+c.GlibcVersion) {
		return false
	}

	if strings.Contains(name, PortableToken) != c.CompatibilityMode {
		return false
	}

	return strings.Contains(name, DynamicOpensslToken) == !c.StaticOpenssl
}

// FindMatch returns the first artifact matching the criteria.
func FindMatch(artifacts []models.Artifact, c models.Criteria, opts ...Option) (models.Artifact, bool) {
	for _, a := range artifacts {
		if Matches(a.Name, c, opts...) {
			return a, true
		}
	}
	return models.Artifact{}, false
}

// IsAttestation reports whether the name looks like an attestation or
// provenance file.
func IsAttestation(name string) bool {
	lower := strings.ToLower(name)
	for _, m := range attestationMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func containsOS(name string, os models.OS) bool {
	tokens, ok := osTokens[os]
	if !ok {
		return strings.Contains(name, string(os))
	}
	for _, t := range tokens {
		if strings.Contains(name, t) {
			return true
		}
	}
	return false
}
