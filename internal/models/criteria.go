// Package models provides data models for the Conflux builder.
package models

import "strings"

// OS identifies a target operating system.
type OS string

const (
	OSLinux   OS = "linux"
	OSWindows OS = "windows"
	OSMacOS   OS = "macos"
)

// IsValid returns true if the OS is a supported target.
func (o OS) IsValid() bool {
	switch o {
	case OSLinux, OSWindows, OSMacOS:
		return true
	default:
		return false
	}
}

// DisplayName returns the human-readable OS name.
func (o OS) DisplayName() string {
	switch o {
	case OSLinux:
		return "Linux"
	case OSWindows:
		return "Windows"
	case OSMacOS:
		return "macOS"
	default:
		return string(o)
	}
}

// ValidOSes returns all supported operating systems.
func ValidOSes() []OS {
	return []OS{OSLinux, OSWindows, OSMacOS}
}

// Arch identifies a target CPU architecture.
type Arch string

const (
	ArchX86_64  Arch = "x86_64"
	ArchAArch64 Arch = "aarch64"
)

// IsValid returns true if the architecture is supported.
func (a Arch) IsValid() bool {
	return a == ArchX86_64 || a == ArchAArch64
}

// ValidArches returns all supported architectures.
func ValidArches() []Arch {
	return []Arch{ArchX86_64, ArchAArch64}
}

// Glibc versions tracked for Linux builds, oldest first.
const (
	Glibc227 = "2.27"
	Glibc231 = "2.31"
	Glibc235 = "2.35"
	Glibc239 = "2.39"
)

// OpenSSL major versions for Linux builds.
const (
	OpenSSL1 = "1"
	OpenSSL3 = "3"
)

// DefaultGlibcVersion is the latest tracked glibc version.
const DefaultGlibcVersion = Glibc239

// DefaultOpensslVersion is used for Linux builds that do not pick one.
const DefaultOpensslVersion = OpenSSL3

// ValidGlibcVersions returns the tracked glibc versions, oldest first.
func ValidGlibcVersions() []string {
	return []string{Glibc227, Glibc231, Glibc235, Glibc239}
}

// ValidOpensslVersions returns the supported OpenSSL major versions.
func ValidOpensslVersions() []string {
	return []string{OpenSSL1, OpenSSL3}
}

// Criteria is the flattened, normalized description of a build. Two requests
// with equal criteria describe the same binary. Empty GlibcVersion and
// OpensslVersion mean unset and are stored as NULL.
type Criteria struct {
	VersionTag        string `json:"version_tag"`
	CommitSha         string `json:"commit_sha"`
	OS                OS     `json:"os"`
	Arch              Arch   `json:"arch"`
	StaticOpenssl     bool   `json:"static_openssl"`
	CompatibilityMode bool   `json:"compatibility_mode"`
	GlibcVersion      string `json:"glibc_version,omitempty"`
	OpensslVersion    string `json:"openssl_version,omitempty"`
}

// Equal reports whether two criteria describe the same build.
func (c Criteria) Equal(o Criteria) bool {
	return c == o
}

// ShortSha returns the first seven characters of the commit sha.
func (c Criteria) ShortSha() string {
	return ShortSha(c.CommitSha)
}

// Key returns the equivalence-class key of the criteria.
func (c Criteria) Key() string {
	return strings.Join([]string{
		c.CommitSha,
		c.VersionTag,
		string(c.OS),
		string(c.Arch),
		c.GlibcVersion,
		c.OpensslVersion,
		boolKey(c.StaticOpenssl),
		boolKey(c.CompatibilityMode),
	}, "|")
}

// ReleaseTag returns the tag under which the CI job publishes artifacts.
func (c Criteria) ReleaseTag() string {
	return ReleaseTag(c.VersionTag, c.CommitSha)
}

// ShortSha truncates a commit sha to seven characters.
func ShortSha(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// ReleaseTag joins a version tag and a commit sha into a release tag.
func ReleaseTag(versionTag, commitSha string) string {
	return versionTag + "-" + ShortSha(commitSha)
}

func boolKey(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Variant is the per-OS view of a criteria value. Exactly one of
// LinuxCriteria, WindowsCriteria or MacOSCriteria implements it, so fields
// that do not apply to an OS cannot be represented.
type Variant interface {
	TargetOS() OS
	base() VariantBase
}

// VariantBase holds the fields shared by every OS.
type VariantBase struct {
	VersionTag string
	CommitSha  string
	Arch       Arch
}

// LinuxCriteria carries the Linux-only linking options.
type LinuxCriteria struct {
	VariantBase
	StaticOpenssl     bool
	CompatibilityMode bool
	GlibcVersion      string
	OpensslVersion    string
}

// WindowsCriteria carries the Windows linking options.
type WindowsCriteria struct {
	VariantBase
	StaticOpenssl     bool
	CompatibilityMode bool
}

// MacOSCriteria carries the macOS linking options.
type MacOSCriteria struct {
	VariantBase
	StaticOpenssl bool
}

func (LinuxCriteria) TargetOS() OS   { return OSLinux }
func (WindowsCriteria) TargetOS() OS { return OSWindows }
func (MacOSCriteria) TargetOS() OS   { return OSMacOS }

func (v LinuxCriteria) base() VariantBase   { return v.VariantBase }
func (v WindowsCriteria) base() VariantBase { return v.VariantBase }
func (v MacOSCriteria) base() VariantBase   { return v.VariantBase }

// Variant returns the per-OS view of the criteria. It returns nil when the
// OS is not supported.
func (c Criteria) Variant() Variant {
	b := VariantBase{VersionTag: c.VersionTag, CommitSha: c.CommitSha, Arch: c.Arch}
	switch c.OS {
	case OSLinux:
		return LinuxCriteria{
			VariantBase:       b,
			StaticOpenssl:     c.StaticOpenssl,
			CompatibilityMode: c.CompatibilityMode,
			GlibcVersion:      c.GlibcVersion,
			OpensslVersion:    c.OpensslVersion,
		}
	case OSWindows:
		return WindowsCriteria{VariantBase: b, StaticOpenssl: c.StaticOpenssl, CompatibilityMode: c.CompatibilityMode}
	case OSMacOS:
		return MacOSCriteria{VariantBase: b, StaticOpenssl: c.StaticOpenssl}
	default:
		return nil
	}
}

// FromVariant flattens a per-OS view back into criteria.
func FromVariant(v Variant) Criteria {
	b := v.base()
	c := Criteria{VersionTag: b.VersionTag, CommitSha: b.CommitSha, OS: v.TargetOS(), Arch: b.Arch}
	switch t := v.(type) {
	case LinuxCriteria:
		c.StaticOpenssl = t.StaticOpenssl
		c.CompatibilityMode = t.CompatibilityMode
		c.GlibcVersion = t.GlibcVersion
		c.OpensslVersion = t.OpensslVersion
	case WindowsCriteria:
		c.StaticOpenssl = t.StaticOpenssl
		c.CompatibilityMode = t.CompatibilityMode
	case MacOSCriteria:
		c.StaticOpenssl = t.StaticOpenssl
	}
	return c
}
