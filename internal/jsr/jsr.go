// Package jsr provides a registry adapter for jsr.io.
package jsr

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

const DefaultURL = "https://api.jsr.io"

func init() {
	core.Register(core.JSR, DefaultURL, func(baseURL string, c *client.Client) core.Adapter {
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
	return core.JSR
}

type packageResponse struct {
	Scope            string      `json:"scope"`
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	LatestVersion    *string     `json:"latestVersion"`
	GithubRepository *githubRepo `json:"githubRepository"`
}

type githubRepo struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func (p *packageResponse) Validate() error {
	if err := core.Required("scope", p.Scope); err != nil {
		return err
	}
	return core.Required("name", p.Name)
}

type versionInfo struct {
	Version   string    `json:"version"`
	Yanked    bool      `json:"yanked"`
	CreatedAt time.Time `json:"createdAt"`
}

type versionsResponse []versionInfo

func (v *versionsResponse) Validate() error {
	for i, info := range *v {
		if info.Version == "" {
			return fmt.Errorf("versions[%d]: missing required field \"version\"", i)
		}
	}
	return nil
}

type dependency struct {
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Constraint string `json:"constraint"`
}

type dependenciesResponse []dependency

func (d *dependenciesResponse) Validate() error {
	for i, dep := range *d {
		if dep.Kind != "jsr" && dep.Kind != "npm" {
			return fmt.Errorf("dependencies[%d]: unknown kind %q", i, dep.Kind)
		}
		if dep.Name == "" {
			return fmt.Errorf("dependencies[%d]: missing required field \"name\"", i)
		}
	}
	return nil
}

// Fetch retrieves @scope/name and the dependencies of its latest version.
func (r *Registry) Fetch(ctx context.Context, name string) (*core.PackageData, error) {
	scope, pkgName, err := splitName(name)
	if err != nil {
		return nil, core.NotFound(core.JSR, name)
	}
	base := fmt.Sprintf("%s/scopes/%s/packages/%s", r.baseURL, url.PathEscape(scope), url.PathEscape(pkgName))

	var pkg packageResponse
	if err := core.GetJSON(ctx, r.client, core.JSR, name, base, &pkg); err != nil {
		return nil, err
	}

	var versions versionsResponse
	if err := core.GetJSON(ctx, r.client, core.JSR, name, base+"/versions", &versions); err != nil {
		return nil, err
	}

	fullName := "@" + pkg.Scope + "/" + pkg.Name
	data := &core.PackageData{
		Name:        fullName,
		Description: pkg.Description,
		Homepage:    "https://jsr.io/" + fullName,
	}
	if gh := pkg.GithubRepository; gh != nil && gh.Owner != "" && gh.Name != "" {
		data.Repository = fmt.Sprintf("https://github.com/%s/%s", gh.Owner, gh.Name)
	}

	latest, ok := pickLatest(pkg.LatestVersion, versions)
	if !ok {
		return data, nil
	}
	data.LatestVersion = latest.Version

	var deps dependenciesResponse
	depsURL := fmt.Sprintf("%s/versions/%s/dependencies", base, url.PathEscape(latest.Version))
	if err := core.GetJSON(ctx, r.client, core.JSR, name, depsURL, &deps); err != nil {
		return nil, err
	}

	data.ReleaseChannels = []core.ReleaseChannel{{
		Channel:      core.LatestChannel,
		Version:      latest.Version,
		PublishedAt:  latest.CreatedAt,
		Dependencies: mapDependencies(deps),
	}}
	return data, nil
}

// pickLatest prefers the package's declared latest version when it is not
// yanked, then the newest non-yanked stable version, then the newest
// non-yanked version of any kind.
func pickLatest(declared *string, versions []versionInfo) (versionInfo, bool) {
	live := make([]versionInfo, 0, len(versions))
	for _, v := range versions {
		if !v.Yanked {
			live = append(live, v)
		}
	}
	if declared != nil {
		for _, v := range live {
			if v.Version == *declared {
				return v, true
			}
		}
	}
	if len(live) == 0 {
		return versionInfo{}, false
	}

	sort.SliceStable(live, func(i, j int) bool { return live[i].CreatedAt.After(live[j].CreatedAt) })
	for _, v := range live {
		if !core.IsPrerelease(v.Version) {
			return v, true
		}
	}
	return live[0], true
}

// mapDependencies collapses the per-file dependency list to one edge per
// package; the first constraint seen wins.
func mapDependencies(deps []dependency) []core.Dependency {
	seen := make(map[string]bool)
	var out []core.Dependency
	for _, d := range deps {
		reg := core.JSR
		depName := d.Name
		if d.Kind == "npm" {
			reg = core.NPM
		} else if !strings.HasPrefix(depName, "@") {
			depName = "@" + depName
		}
		key := string(reg) + ":" + depName
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, core.Dependency{
			Name:         depName,
			VersionRange: core.Coalesce(d.Constraint, core.AnyRange),
			Type:         core.Runtime,
			Registry:     reg,
		})
	}
	return out
}

func splitName(name string) (string, string, error) {
	if !strings.HasPrefix(name, "@") {
		return "", "", errors.New("jsr package names are @scope/name")
	}
	scope, pkg, ok := strings.Cut(name[1:], "/")
	if !ok || scope == "" || pkg == "" {
		return "", "", errors.New("jsr package names are @scope/name")
	}
	return scope, pkg, nil
}
