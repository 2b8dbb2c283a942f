// Package npm provides a registry adapter for registry.npmjs.org.
package npm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/git-pkgs/pkgsync/client"
	"github.com/git-pkgs/pkgsync/internal/core"
)

const DefaultURL = "https://registry.npmjs.org"

func init() {
	core.Register(core.NPM, DefaultURL, func(baseURL string, c *client.Client) core.Adapter {
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
	return core.NPM
}

type packageResponse struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Homepage    any                    `json:"homepage"`
	Repository  any                    `json:"repository"`
	DistTags    map[string]string      `json:"dist-tags"`
	Versions    map[string]versionInfo `json:"versions"`
	Time        map[string]any         `json:"time"`
}

type versionInfo struct {
	Version      string            `json:"version"`
	Description  string            `json:"description"`
	Homepage     any               `json:"homepage"`
	Repository   any               `json:"repository"`
	Dependencies map[string]string `json:"dependencies"`
	DevDeps      map[string]string `json:"devDependencies"`
	PeerDeps     map[string]string `json:"peerDependencies"`
	OptionalDeps map[string]string `json:"optionalDependencies"`
}

func (p *packageResponse) unpublished() bool {
	_, ok := p.Time["unpublished"]
	return ok
}

func (p *packageResponse) Validate() error {
	if err := core.Required("name", p.Name); err != nil {
		return err
	}
	if p.unpublished() {
		return nil
	}
	if p.Versions == nil {
		return errors.New(`missing required field "versions"`)
	}
	if p.DistTags == nil {
		return errors.New(`missing required field "dist-tags"`)
	}
	for tag, v := range p.DistTags {
		if v == "" {
			return fmt.Errorf("dist-tag %q has empty version", tag)
		}
	}
	return nil
}

// Fetch retrieves the packument for name. Scoped names are requested with
// the slash escaped, as the registry expects.
func (r *Registry) Fetch(ctx context.Context, name string) (*core.PackageData, error) {
	u := fmt.Sprintf("%s/%s", r.baseURL, url.PathEscape(name))

	var resp packageResponse
	if err := core.GetJSON(ctx, r.client, core.NPM, name, u, &resp); err != nil {
		return nil, err
	}
	if resp.unpublished() {
		return nil, core.Unpublished(core.NPM, name)
	}

	latest := resp.Versions[resp.DistTags["latest"]]

	data := &core.PackageData{
		Name:          resp.Name,
		Description:   core.Coalesce(latest.Description, resp.Description),
		Homepage:      core.Coalesce(extractString(latest.Homepage), extractString(resp.Homepage)),
		Repository:    extractRepoURL(resp.Repository, latest.Repository),
		LatestVersion: resp.DistTags["latest"],
		DistTags:      resp.DistTags,
	}

	tags := make([]string, 0, len(resp.DistTags))
	for tag := range resp.DistTags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		version := resp.DistTags[tag]
		info, ok := resp.Versions[version]
		if !ok {
			continue
		}
		data.ReleaseChannels = append(data.ReleaseChannels, core.ReleaseChannel{
			Channel:      tag,
			Version:      version,
			PublishedAt:  parseTime(resp.Time[version]),
			Dependencies: mapDependencies(info),
		})
	}

	return data, nil
}

func mapDependencies(v versionInfo) []core.Dependency {
	var deps []core.Dependency
	for _, group := range []struct {
		deps map[string]string
		typ  core.DependencyType
	}{
		{v.Dependencies, core.Runtime},
		{v.DevDeps, core.Dev},
		{v.PeerDeps, core.Peer},
		{v.OptionalDeps, core.Optional},
	} {
		names := make([]string, 0, len(group.deps))
		for n := range group.deps {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			deps = append(deps, core.Dependency{
				Name:         n,
				VersionRange: group.deps[n],
				Type:         group.typ,
			})
		}
	}
	return deps
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func extractString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if arr, ok := v.([]any); ok && len(arr) > 0 {
		if s, ok := arr[0].(string); ok {
			return s
		}
	}
	return ""
}

func extractRepoURL(pkgRepo, versionRepo any) string {
	for _, repo := range []any{versionRepo, pkgRepo} {
		switch r := repo.(type) {
		case string:
			return core.NormalizeRepoURL(r)
		case map[string]any:
			if u, ok := r["url"].(string); ok {
				return core.NormalizeRepoURL(u)
			}
		case []any:
			if len(r) > 0 {
				if m, ok := r[0].(map[string]any); ok {
					if u, ok := m["url"].(string); ok {
						return core.NormalizeRepoURL(u)
					}
				}
			}
		}
	}
	return ""
}
