// Package config provides environment-based configuration for the build orchestrator.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all configuration for the build orchestrator.
type Config struct {
	// Database configuration
	DatabaseDSN string
	StoreDriver string

	// Server configuration
	APIPort  int
	GRPCPort int
	APIHost  string

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	GitHub  GitHubConfig
	Builder BuilderConfig
	Poller  PollerConfig
	Cache   CacheConfig
}

// GitHubConfig holds GitHub API credentials. Either Token or the App
// credentials must be set.
type GitHubConfig struct {
	APIURL         string
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKey     string
	WebhookSecret  string
}

// UsesApp reports whether GitHub App credentials are configured.
func (g GitHubConfig) UsesApp() bool {
	return g.AppID != 0 && g.InstallationID != 0 && g.PrivateKey != ""
}

// BuilderConfig describes the build repository and its workflows.
type BuilderConfig struct {
	// BuilderRepo runs the workflows and publishes releases, as "owner/name".
	BuilderRepo string
	// SourceRepo holds the version tags, as "owner/name".
	SourceRepo  string
	DispatchRef string
	// ProfileFile is the optional YAML profile the values below were read from.
	ProfileFile string
	// Workflows maps an OS to its workflow file. Missing entries use the built-in names.
	Workflows map[string]string
	// Timeouts maps an OS to how long an attempt may run.
	Timeouts map[string]time.Duration
	// GlibcVersions lists tracked glibc versions, oldest first.
	GlibcVersions []string
}

// PollerConfig holds reconciliation settings.
type PollerConfig struct {
	Interval           time.Duration
	Concurrency        int
	ReleaseWaitTimeout time.Duration
}

// CacheConfig holds GitHub lookup memoization settings.
type CacheConfig struct {
	ReleaseTTL time.Duration
	CommitTTL  time.Duration
	TagLimit   int
}

// Profile is the YAML builder profile. Every field is optional.
type Profile struct {
	BuilderRepo   string            `yaml:"builder_repo"`
	SourceRepo    string            `yaml:"source_repo"`
	DispatchRef   string            `yaml:"dispatch_ref"`
	Workflows     map[string]string `yaml:"workflows"`
	Timeouts      map[string]string `yaml:"timeouts"`
	GlibcVersions []string          `yaml:"glibc_versions"`
}

// Load reads configuration from environment variables and the optional
// builder profile.
func Load() (*Config, error) {
	cfg := LoadWithDefaults()

	if cfg.Builder.ProfileFile != "" {
		if err := cfg.ApplyProfileFile(cfg.Builder.ProfileFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	return &Config{
		DatabaseDSN:     getEnv("DATABASE_URL", "postgres://localhost:5432/conflux_builder?sslmode=disable"),
		StoreDriver:     getEnv("STORE_DRIVER", StoreDriverPostgres),
		APIPort:         getIntEnv("API_PORT", 8080),
		GRPCPort:        getIntEnv("GRPC_PORT", 9090),
		APIHost:         getEnv("API_HOST", "0.0.0.0"),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		GitHub: GitHubConfig{
			APIURL:         getEnv("GITHUB_API_URL", "https://api.github.com"),
			Token:          getEnv("GITHUB_TOKEN", ""),
			AppID:          getInt64Env("GITHUB_APP_ID", 0),
			InstallationID: getInt64Env("GITHUB_APP_INSTALLATION_ID", 0),
			PrivateKey:     getEnv("GITHUB_APP_PRIVATE_KEY", ""),
			WebhookSecret:  getEnv("GITHUB_WEBHOOK_SECRET", ""),
		},
		Builder: BuilderConfig{
			BuilderRepo: getEnv("BUILDER_REPO", "Conflux-Chain/conflux-builder"),
			SourceRepo:  getEnv("SOURCE_REPO", "Conflux-Chain/conflux-rust"),
			DispatchRef: getEnv("DISPATCH_REF", "main"),
			ProfileFile: getEnv("BUILDER_CONFIG_FILE", ""),
			Workflows:   map[string]string{},
			Timeouts:    map[string]time.Duration{},
		},
		Poller: PollerConfig{
			Interval:           getDurationEnv("POLL_INTERVAL", time.Minute),
			Concurrency:        getIntEnv("POLL_CONCURRENCY", 4),
			ReleaseWaitTimeout: getDurationEnv("RELEASE_WAIT_TIMEOUT", 2*time.Hour),
		},
		Cache: CacheConfig{
			ReleaseTTL: getDurationEnv("RELEASE_CACHE_TTL", 3*time.Minute),
			CommitTTL:  getDurationEnv("COMMIT_CACHE_TTL", 10*time.Minute),
			TagLimit:   getIntEnv("TAG_LIMIT", 10),
		},
	}
}

// ApplyProfileFile reads a YAML builder profile and overlays it on the config.
func (c *Config) ApplyProfileFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading builder profile: %w", err)
	}
	return c.ApplyProfile(data)
}

// ApplyProfile overlays a YAML builder profile on the config. Values set in
// the profile win over environment values.
func (c *Config) ApplyProfile(data []byte) error {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parsing builder profile: %w", err)
	}

	if p.BuilderRepo != "" {
		c.Builder.BuilderRepo = p.BuilderRepo
	}
	if p.SourceRepo != "" {
		c.Builder.SourceRepo = p.SourceRepo
	}
	if p.DispatchRef != "" {
		c.Builder.DispatchRef = p.DispatchRef
	}
	if c.Builder.Workflows == nil {
		c.Builder.Workflows = map[string]string{}
	}
	for os, wf := range p.Workflows {
		c.Builder.Workflows[strings.ToLower(os)] = wf
	}
	if c.Builder.Timeouts == nil {
		c.Builder.Timeouts = map[string]time.Duration{}
	}
	for os, raw := range p.Timeouts {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing builder profile: timeout for %s: %w", os, err)
		}
		c.Builder.Timeouts[strings.ToLower(os)] = d
	}
	if len(p.GlibcVersions) > 0 {
		c.Builder.GlibcVersions = p.GlibcVersions
	}
	return nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseDSN == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverMemory))
	}

	if c.GitHub.Token == "" && !c.GitHub.UsesApp() {
		errs = append(errs, errors.New("GITHUB_TOKEN or GitHub App credentials are required"))
	}
	if !isRepo(c.Builder.BuilderRepo) {
		errs = append(errs, fmt.Errorf("BUILDER_REPO must be owner/name, got %q", c.Builder.BuilderRepo))
	}
	if !isRepo(c.Builder.SourceRepo) {
		errs = append(errs, fmt.Errorf("SOURCE_REPO must be owner/name, got %q", c.Builder.SourceRepo))
	}
	for os, d := range c.Builder.Timeouts {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("timeout for %s must be positive", os))
		}
	}
	if c.Poller.Interval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.Poller.Concurrency < 1 {
		errs = append(errs, errors.New("POLL_CONCURRENCY must be at least 1"))
	}
	if c.Poller.ReleaseWaitTimeout <= 0 {
		errs = append(errs, errors.New("RELEASE_WAIT_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

func isRepo(s string) bool {
	owner, name, ok := strings.Cut(s, "/")
	return ok && owner != "" && name != "" && !strings.Contains(name, "/")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
