// Package nuget provides a registry adapter for nuget.org.
package nuget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/git-pkgs/pkgsync/client"
	"github.com/git-pkgs/pkgsync/internal/core"
)

const DefaultURL = "https://api.nuget.org/v3"

func init() {
	core.Register(core.NuGet, DefaultURL, func(baseURL string, c *client.Client) core.Adapter {
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
	return core.NuGet
}

type registrationResponse struct {
	Count int                `json:"count"`
	Items []registrationPage `json:"items"`
}

type registrationPage struct {
	ID    string             `json:"@id"`
	Items []registrationLeaf `json:"items"`
}

type registrationLeaf struct {
	CatalogEntry catalogEntry `json:"catalogEntry"`
}

type catalogEntry struct {
	ID           string            `json:"id"`
	Version      string            `json:"version"`
	Description  string            `json:"description"`
	ProjectURL   string            `json:"projectUrl"`
	Published    string            `json:"published"`
	Listed       *bool             `json:"listed"`
	Dependencies []dependencyGroup `json:"dependencyGroups"`
}

type dependencyGroup struct {
	TargetFramework string       `json:"targetFramework"`
	Dependencies    []dependency `json:"dependencies"`
}

type dependency struct {
	ID    string `json:"id"`
	Range string `json:"range"`
}

func (r *registrationResponse) Validate() error {
	if r.Items == nil {
		return errors.New(`missing required field "items"`)
	}
	for i, page := range r.Items {
		if page.Items == nil && page.ID == "" {
			return fmt.Errorf("items[%d]: page has neither items nor @id", i)
		}
		if err := validateLeaves(page.Items); err != nil {
			return fmt.Errorf("items[%d]: %w", i, err)
		}
	}
	return nil
}

func (p *registrationPage) Validate() error {
	if p.Items == nil {
		return errors.New(`missing required field "items"`)
	}
	return validateLeaves(p.Items)
}

func validateLeaves(leaves []registrationLeaf) error {
	for i, leaf := range leaves {
		if leaf.CatalogEntry.ID == "" || leaf.CatalogEntry.Version == "" {
			return fmt.Errorf("items[%d]: catalogEntry missing id or version", i)
		}
	}
	return nil
}

func (e catalogEntry) listed() bool {
	return e.Listed == nil || *e.Listed
}

// Fetch reads the package registration index, following pages that are not
// inlined, and exposes the newest listed version as the latest channel.
func (r *Registry) Fetch(ctx context.Context, name string) (*core.PackageData, error) {
	u := fmt.Sprintf("%s/registration5-semver1/%s/index.json", r.baseURL, strings.ToLower(name))

	var resp registrationResponse
	if err := core.GetJSON(ctx, r.client, core.NuGet, name, u, &resp); err != nil {
		return nil, err
	}

	var entries []catalogEntry
	for _, page := range resp.Items {
		items := page.Items
		if items == nil {
			var fetched registrationPage
			if err := core.GetJSON(ctx, r.client, core.NuGet, name, page.ID, &fetched); err != nil {
				return nil, err
			}
			items = fetched.Items
		}
		for _, leaf := range items {
			if leaf.CatalogEntry.listed() {
				entries = append(entries, leaf.CatalogEntry)
			}
		}
	}

	if len(entries) == 0 {
		return nil, core.NotFound(core.NuGet, name)
	}

	latest := pickLatest(entries)
	data := &core.PackageData{
		Name:          latest.ID,
		Description:   latest.Description,
		Homepage:      latest.ProjectURL,
		Repository:    core.RepoFromHomepage(latest.ProjectURL),
		LatestVersion: latest.Version,
		ReleaseChannels: []core.ReleaseChannel{{
			Channel:      core.LatestChannel,
			Version:      latest.Version,
			PublishedAt:  parseTime(latest.Published),
			Dependencies: mergeDependencies(latest.Dependencies),
		}},
	}
	return data, nil
}

// pickLatest returns the last stable entry, or the last entry when every
// listed version is a pre-release. Registration pages are in ascending
// version order.
func pickLatest(entries []catalogEntry) catalogEntry {
	for i := len(entries) - 1; i >= 0; i-- {
		if !strings.Contains(entries[i].Version, "-") {
			return entries[i]
		}
	}
	return entries[len(entries)-1]
}

// mergeDependencies flattens the per-framework groups; the first range seen
// for a package id wins. Ids are lowercased to match the registration URLs.
func mergeDependencies(groups []dependencyGroup) []core.Dependency {
	seen := make(map[string]bool)
	var deps []core.Dependency
	for _, g := range groups {
		for _, d := range g.Dependencies {
			key := strings.ToLower(d.ID)
			if d.ID == "" || seen[key] {
				continue
			}
			seen[key] = true
			deps = append(deps, core.Dependency{
				Name:         key,
				VersionRange: core.Coalesce(d.Range, core.AnyRange),
				Type:         core.Runtime,
			})
		}
	}
	return deps
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
