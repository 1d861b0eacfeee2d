package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/narvanalabs/conflux-builder/internal/models"
)

type releaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

type release struct {
	ID          int64          `json:"id"`
	TagName     string         `json:"tag_name"`
	Name        string         `json:"name"`
	HTMLURL     string         `json:"html_url"`
	Draft       bool           `json:"draft"`
	Prerelease  bool           `json:"prerelease"`
	PublishedAt *time.Time     `json:"published_at"`
	Assets      []releaseAsset `json:"assets"`
}

// toModel converts the API representation into a models.Release.
func (r release) toModel() *models.Release {
	out := &models.Release{
		ID:          r.ID,
		TagName:     r.TagName,
		Name:        r.Name,
		HTMLURL:     r.HTMLURL,
		Draft:       r.Draft,
		Prerelease:  r.Prerelease,
		PublishedAt: r.PublishedAt,
		Assets:      make([]models.Artifact, 0, len(r.Assets)),
	}
	for _, a := range r.Assets {
		out.Assets = append(out.Assets, models.Artifact{
			Name:        a.Name,
			DownloadURL: a.BrowserDownloadURL,
			SizeBytes:   a.Size,
		})
	}
	return out
}

// GetReleaseByTag fetches a published release. Returns ErrNotFound if no
// release carries the tag.
func (c *Client) GetReleaseByTag(ctx context.Context, repo Repo, tag string) (*models.Release, error) {
	path := fmt.Sprintf("/repos/%s/%s/releases/tags/%s", repo.Owner, repo.Name, url.PathEscape(tag))

	var r release
	if err := c.do(ctx, http.MethodGet, path, nil, &r); err != nil {
		return nil, err
	}
	return r.toModel(), nil
}

type gitObject struct {
	SHA  string `json:"sha"`
	Type string `json:"type"`
}

// GetCommitForTag resolves a tag to the commit it points at, peeling
// annotated tags. Returns ErrNotFound if the tag does not exist.
func (c *Client) GetCommitForTag(ctx context.Context, repo Repo, tag string) (string, error) {
	path := fmt.Sprintf("/repos/%s/%s/git/ref/tags/%s", repo.Owner, repo.Name, url.PathEscape(tag))

	var ref struct {
		Object gitObject `json:"object"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &ref); err != nil {
		return "", err
	}

	obj := ref.Object
	// Annotated tags may point at other tags; bound the chain.
	for i := 0; obj.Type == "tag" && i < 5; i++ {
		var annotated struct {
			Object gitObject `json:"object"`
		}
		tagPath := fmt.Sprintf("/repos/%s/%s/git/tags/%s", repo.Owner, repo.Name, obj.SHA)
		if err := c.do(ctx, http.MethodGet, tagPath, nil, &annotated); err != nil {
			return "", fmt.Errorf("peeling annotated tag %s: %w", tag, err)
		}
		obj = annotated.Object
	}
	if obj.Type != "" && obj.Type != "commit" {
		return "", fmt.Errorf("tag %s points at a %s, not a commit", tag, obj.Type)
	}
	return obj.SHA, nil
}

// ListTags lists the most recent tags of a repository.
func (c *Client) ListTags(ctx context.Context, repo Repo, limit int) ([]models.Tag, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	path := fmt.Sprintf("/repos/%s/%s/tags?per_page=%d", repo.Owner, repo.Name, limit)

	var resp []struct {
		Name   string `json:"name"`
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	tags := make([]models.Tag, 0, len(resp))
	for _, t := range resp {
		tags = append(tags, models.Tag{Name: t.Name, CommitSha: t.Commit.SHA})
	}
	return tags, nil
}
