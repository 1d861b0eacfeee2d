// Package app assembles the orchestrator's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/narvanalabs/conflux-builder/internal/api"
	"github.com/narvanalabs/conflux-builder/internal/api/health"
	"github.com/narvanalabs/conflux-builder/internal/cache"
	"github.com/narvanalabs/conflux-builder/internal/dispatch"
	"github.com/narvanalabs/conflux-builder/internal/events"
	"github.com/narvanalabs/conflux-builder/internal/integrations/github"
	"github.com/narvanalabs/conflux-builder/internal/models"
	"github.com/narvanalabs/conflux-builder/internal/orchestrator"
	"github.com/narvanalabs/conflux-builder/internal/releases"
	"github.com/narvanalabs/conflux-builder/internal/store"
	"github.com/narvanalabs/conflux-builder/internal/store/memory"
	pgstore "github.com/narvanalabs/conflux-builder/internal/store/postgres"
	"github.com/narvanalabs/conflux-builder/internal/webhook"
	"github.com/narvanalabs/conflux-builder/pkg/config"
)

// App holds the wired components shared by the API and reconciler binaries.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Store        store.Store
	GitHub       *github.Client
	Releases     *releases.Service
	Broker       *events.Broker
	Orchestrator *orchestrator.Orchestrator
	Poller       *orchestrator.Poller
	Health       *health.Checker
}

// Option customizes how an App is assembled.
type Option func(*options)

type options struct {
	store        store.Store
	githubClient *github.Client
}

// WithStore uses st instead of opening the configured store.
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithGitHubClient uses c instead of building a client from configuration.
func WithGitHubClient(c *github.Client) Option {
	return func(o *options) { o.githubClient = c }
}

// New wires the orchestrator from cfg. The caller owns the returned App and
// must Close it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	builderRepo, err := github.ParseRepo(cfg.Builder.BuilderRepo)
	if err != nil {
		return nil, fmt.Errorf("builder repo: %w", err)
	}
	sourceRepo, err := github.ParseRepo(cfg.Builder.SourceRepo)
	if err != nil {
		return nil, fmt.Errorf("source repo: %w", err)
	}

	st := o.store
	if st == nil {
		st, err = OpenStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	gh := o.githubClient
	if gh == nil {
		gh, err = NewGitHubClient(cfg.GitHub, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	broker := events.NewBroker(logger.With("component", "events"))

	rel := releases.NewService(gh, st.Tags(), cache.New(), releases.Config{
		BuilderRepo: builderRepo,
		SourceRepo:  sourceRepo,
		CommitTTL:   cfg.Cache.CommitTTL,
		ReleaseTTL:  cfg.Cache.ReleaseTTL,
		TagLimit:    cfg.Cache.TagLimit,
	}, logger.With("component", "releases"))

	correlator := dispatch.NewCorrelator(gh, dispatch.Config{
		Repo:      builderRepo,
		Ref:       cfg.Builder.DispatchRef,
		Workflows: osKeys(cfg.Builder.Workflows),
	}, logger.With("component", "dispatch"))

	orch := orchestrator.New(orchestrator.Deps{
		Builds:     st.Builds(),
		Dispatcher: correlator,
		Releases:   rel,
		Runs:       gh,
		Broker:     broker,
		Logger:     logger.With("component", "orchestrator"),
	}, orchestrator.Config{
		BuilderRepo:        builderRepo,
		Timeouts:           osKeys(cfg.Builder.Timeouts),
		ReleaseWaitTimeout: cfg.Poller.ReleaseWaitTimeout,
		GlibcVersions:      cfg.Builder.GlibcVersions,
	})

	poller := orchestrator.NewPoller(orch, cfg.Poller.Interval, cfg.Poller.Concurrency,
		logger.With("component", "poller"))

	checker := health.NewChecker(api.Version)
	checker.Register("database", st, true)
	checker.Register("github", gh, false)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        st,
		GitHub:       gh,
		Releases:     rel,
		Broker:       broker,
		Orchestrator: orch,
		Poller:       poller,
		Health:       checker,
	}, nil
}

// APIServices returns the services exposed over HTTP.
func (a *App) APIServices() api.Services {
	return api.Services{
		Builds:    a.Orchestrator,
		Events:    a.Orchestrator,
		Releases:  a.Releases,
		Broker:    a.Broker,
		Validator: a.Orchestrator.Validator(),
		Verifier:  webhook.NewHMACVerifier(a.Config.GitHub.WebhookSecret),
		Health:    a.Health,
	}
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// OpenStore opens the configured store and applies the schema.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store, build records will not survive a restart")
		return memory.New(), nil
	case config.StoreDriverPostgres:
		st, err := pgstore.NewPostgresStore(pgstore.DefaultConfig(cfg.DatabaseDSN), logger.With("component", "store"))
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := st.Migrate(migrateCtx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// NewGitHubClient builds a client authenticated with the configured token
// or GitHub App installation.
func NewGitHubClient(cfg config.GitHubConfig, logger *slog.Logger) (*github.Client, error) {
	var tokens github.TokenSource
	switch {
	case cfg.UsesApp():
		src, err := github.NewAppTokenSource(cfg.APIURL, cfg.AppID, cfg.InstallationID, cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("github app credentials: %w", err)
		}
		tokens = src
	case cfg.Token != "":
		tokens = github.StaticToken(cfg.Token)
	default:
		return nil, errors.New("no github credentials configured")
	}

	return github.NewClient(tokens,
		github.WithBaseURL(cfg.APIURL),
		github.WithLogger(logger.With("component", "github")),
	), nil
}

// osKeys converts configuration maps keyed by OS name. Unknown OS names
// are dropped.
func osKeys[V any](in map[string]V) map[models.OS]V {
	out := make(map[models.OS]V, len(in))
	for k, v := range in {
		os := models.OS(strings.ToLower(k))
		if os.IsValid() {
			out[os] = v
		}
	}
	return out
}
