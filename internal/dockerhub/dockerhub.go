// Package dockerhub provides a registry adapter for Docker Hub repositories.
//
// Each tag becomes a release channel whose version is the image digest, so a
// retagged image shows up as a channel update.
package dockerhub

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/git-pkgs/pkgsync/client"
	"github.com/git-pkgs/pkgsync/internal/core"
)

const (
	DefaultURL   = "https://hub.docker.com"
	officialNS   = "library"
	tagsPageSize = 100
	maxTagPages  = 50
)

func init() {
	core.Register(core.DockerHub, DefaultURL, func(baseURL string, c *client.Client) core.Adapter {
		return New(baseURL, c)
	})
}

type Registry struct {
	baseURL string
	client  *client.Client
}

func New(baseURL string, c *client.Client) *Registry {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Registry{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  c,
	}
}

func (r *Registry) Registry() core.Registry {
	return core.DockerHub
}

type repositoryResponse struct {
	Name        string `json:"name"`
	Namespace   string `json:"namespace"`
	Description string `json:"description"`
}

func (r *repositoryResponse) Validate() error {
	return core.Required("name", r.Name)
}

type tagsResponse struct {
	Count   int    `json:"count"`
	Next    string `json:"next"`
	Results []tag  `json:"results"`
}

type tag struct {
	Name          string  `json:"name"`
	Digest        string  `json:"digest"`
	LastUpdated   string  `json:"last_updated"`
	TagLastPushed string  `json:"tag_last_pushed"`
	Images        []image `json:"images"`
}

type image struct {
	Digest string `json:"digest"`
}

func (t *tagsResponse) Validate() error {
	if t.Results == nil {
		return errors.New(`missing required field "results"`)
	}
	for i, tg := range t.Results {
		if tg.Name == "" {
			return fmt.Errorf("results[%d]: missing required field \"name\"", i)
		}
	}
	return nil
}

func (t tag) version() string {
	if t.Digest != "" {
		return t.Digest
	}
	for _, img := range t.Images {
		if img.Digest != "" {
			return img.Digest
		}
	}
	return t.Name
}

func (t tag) pushedAt() time.Time {
	for _, s := range []string{t.TagLastPushed, t.LastUpdated} {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// Fetch reads the repository and its tags, newest first, following pages up
// to maxTagPages. Bare names such as "nginx" resolve to the official library
// namespace.
func (r *Registry) Fetch(ctx context.Context, name string) (*core.PackageData, error) {
	ns, repo := splitName(name)
	base := fmt.Sprintf("%s/v2/repositories/%s/%s", r.baseURL, url.PathEscape(ns), url.PathEscape(repo))

	var repoResp repositoryResponse
	if err := core.GetJSON(ctx, r.client, core.DockerHub, name, base+"/", &repoResp); err != nil {
		return nil, err
	}

	var results []tag
	tagsURL := fmt.Sprintf("%s/tags?page_size=%d&ordering=last_updated", base, tagsPageSize)
	for page := 0; tagsURL != "" && page < maxTagPages; page++ {
		var tags tagsResponse
		if err := core.GetJSON(ctx, r.client, core.DockerHub, name, tagsURL, &tags); err != nil {
			return nil, err
		}
		results = append(results, tags.Results...)
		tagsURL = nextPage(base, tags.Next)
	}

	data := &core.PackageData{
		Name:        ns + "/" + repo,
		Description: repoResp.Description,
		Homepage:    homepage(ns, repo),
	}

	seen := make(map[string]bool)
	for _, tg := range results {
		if seen[tg.Name] {
			continue
		}
		seen[tg.Name] = true
		data.ReleaseChannels = append(data.ReleaseChannels, core.ReleaseChannel{
			Channel:     tg.Name,
			Version:     tg.version(),
			PublishedAt: tg.pushedAt(),
		})
		if tg.Name == core.LatestChannel {
			data.LatestVersion = tg.version()
		}
	}

	return data, nil
}

// nextPage re-targets the query of a "next" link at base, so paging stays
// on the configured host.
func nextPage(base, next string) string {
	if next == "" {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil || u.RawQuery == "" {
		return ""
	}
	return base + "/tags?" + u.RawQuery
}

func splitName(name string) (string, string) {
	if ns, repo, ok := strings.Cut(name, "/"); ok {
		return ns, repo
	}
	return officialNS, name
}

func homepage(ns, repo string) string {
	if ns == officialNS {
		return "https://hub.docker.com/_/" + repo
	}
	return fmt.Sprintf("https://hub.docker.com/r/%s/%s", ns, repo)
}
