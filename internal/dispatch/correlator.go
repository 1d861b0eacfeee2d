// Package dispatch starts CI builds and links the resulting workflow runs
// back to build records through a correlation token.
package dispatch

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strconv"

	"github.com/narvanalabs/conflux-builder/internal/integrations/github"
	"github.com/narvanalabs/conflux-builder/internal/models"
)

// TokenLength is the number of characters in a correlation token.
const TokenLength = 5

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// titleTokenRegex matches the " - <token>" suffix of a run title.
var titleTokenRegex = regexp.MustCompile(` - ([a-zA-Z0-9]{5})$`)

// ExtractCorrelationToken recovers the correlation token from a workflow
// run title such as "Build v1.2.3 - macOS (aarch64) - abc12".
func ExtractCorrelationToken(title string) (string, bool) {
	m := titleTokenRegex.FindStringSubmatch(title)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// RunTitle renders the run title the build workflows set for a dispatch.
func RunTitle(c models.Criteria, token string) string {
	return fmt.Sprintf("Build %s - %s (%s) - %s", c.VersionTag, c.OS.DisplayName(), c.Arch, token)
}

// NewToken returns a random alphanumeric correlation token.
func NewToken() (string, error) {
	max := big.NewInt(int64(len(tokenAlphabet)))
	b := make([]byte, TokenLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating correlation token: %w", err)
		}
		b[i] = tokenAlphabet[n.Int64()]
	}
	return string(b), nil
}

// DispatchError reports a failed workflow dispatch.
type DispatchError struct {
	OS       models.OS
	Workflow string
	Err      error
}

func (e *DispatchError) Error() string {
	if e.Workflow == "" {
		return fmt.Sprintf("dispatching %s build: %v", e.OS, e.Err)
	}
	return fmt.Sprintf("dispatching %s build via %s: %v", e.OS, e.Workflow, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// WorkflowDispatcher triggers workflow_dispatch events.
type WorkflowDispatcher interface {
	DispatchWorkflow(ctx context.Context, repo github.Repo, workflowID, ref string, inputs map[string]string) error
}

// DefaultWorkflows returns the workflow file of each OS.
func DefaultWorkflows() map[models.OS]string {
	return map[models.OS]string{
		models.OSLinux:   "linux.yml",
		models.OSWindows: "windows.yml",
		models.OSMacOS:   "macos.yml",
	}
}

// Config holds the dispatch target.
type Config struct {
	Repo      github.Repo
	Ref       string
	Workflows map[models.OS]string
}

// Correlator dispatches builds tagged with fresh correlation tokens.
type Correlator struct {
	gh       WorkflowDispatcher
	cfg      Config
	logger   *slog.Logger
	newToken func() (string, error)
}

// NewCorrelator creates a Correlator. Missing workflow entries fall back to
// the defaults and an empty ref selects "main".
func NewCorrelator(gh WorkflowDispatcher, cfg Config, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	workflows := DefaultWorkflows()
	for os, wf := range cfg.Workflows {
		if wf != "" {
			workflows[os] = wf
		}
	}
	cfg.Workflows = workflows
	if cfg.Ref == "" {
		cfg.Ref = "main"
	}
	return &Correlator{gh: gh, cfg: cfg, logger: logger, newToken: NewToken}
}

// Workflow returns the workflow file used for an OS.
func (c *Correlator) Workflow(os models.OS) (string, bool) {
	wf, ok := c.cfg.Workflows[os]
	return wf, ok
}

// NewToken returns a fresh correlation token. Callers persist it on the
// build record before passing it to Dispatch.
func (c *Correlator) NewToken() (string, error) {
	return c.newToken()
}

// Dispatch starts the workflow for the criteria with token as the run id
// embedded in its run title. Failures are *DispatchError.
func (c *Correlator) Dispatch(ctx context.Context, criteria models.Criteria, token string) error {
	workflow, ok := c.Workflow(criteria.OS)
	if !ok {
		return &DispatchError{OS: criteria.OS, Err: fmt.Errorf("no workflow configured for os %q", criteria.OS)}
	}
	if token == "" {
		return &DispatchError{OS: criteria.OS, Workflow: workflow, Err: errors.New("missing correlation token")}
	}

	inputs := Inputs(criteria, token)
	if err := c.gh.DispatchWorkflow(ctx, c.cfg.Repo, workflow, c.cfg.Ref, inputs); err != nil {
		return &DispatchError{OS: criteria.OS, Workflow: workflow, Err: err}
	}

	c.logger.Info("workflow dispatched",
		"workflow", workflow,
		"version_tag", criteria.VersionTag,
		"commit_sha", criteria.ShortSha(),
		"os", criteria.OS,
		"arch", criteria.Arch,
		"correlation_token", token,
	)
	return nil
}

// Inputs projects criteria onto the workflow inputs of its OS. Linux
// receives glibc, OpenSSL and both linking flags; Windows the linking flags
// only; macOS no linking flags.
func Inputs(c models.Criteria, token string) map[string]string {
	inputs := map[string]string{
		"commit_sha":  c.CommitSha,
		"version_tag": c.VersionTag,
		"arch":        string(c.Arch),
		"run_id":      token,
	}
	switch c.Variant().(type) {
	case models.LinuxCriteria:
		inputs["glibc_version"] = c.GlibcVersion
		inputs["openssl_version"] = c.OpensslVersion
		inputs["static_openssl"] = strconv.FormatBool(c.StaticOpenssl)
		inputs["compatibility_mode"] = strconv.FormatBool(c.CompatibilityMode)
	case models.WindowsCriteria:
		inputs["static_openssl"] = strconv.FormatBool(c.StaticOpenssl)
		inputs["compatibility_mode"] = strconv.FormatBool(c.CompatibilityMode)
	}
	return inputs
}
