// Package archlinux provides a registry adapter for the Arch Linux package
// search API.
package archlinux

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/git-pkgs/pkgsync/client"
	"github.com/git-pkgs/pkgsync/internal/core"
)

const (
	DefaultURL     = "https://archlinux.org"
	testingChannel = "testing"
)

func init() {
	core.Register(core.ArchLinux, DefaultURL, func(baseURL string, c *client.Client) core.Adapter {
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
	return core.ArchLinux
}

type searchResponse struct {
	Valid   bool          `json:"valid"`
	Results []packageInfo `json:"results"`
}

type packageInfo struct {
	PkgName      string   `json:"pkgname"`
	Repo         string   `json:"repo"`
	Arch         string   `json:"arch"`
	PkgVer       string   `json:"pkgver"`
	PkgRel       string   `json:"pkgrel"`
	Epoch        int      `json:"epoch"`
	PkgDesc      string   `json:"pkgdesc"`
	URL          string   `json:"url"`
	LastUpdate   string   `json:"last_update"`
	Depends      []string `json:"depends"`
	MakeDepends  []string `json:"makedepends"`
	CheckDepends []string `json:"checkdepends"`
	OptDepends   []string `json:"optdepends"`
}

func (s *searchResponse) Validate() error {
	if !s.Valid {
		return errors.New("search response not valid")
	}
	if s.Results == nil {
		return errors.New(`missing required field "results"`)
	}
	for i, p := range s.Results {
		if p.PkgName == "" || p.PkgVer == "" || p.Repo == "" {
			return fmt.Errorf("results[%d]: missing pkgname, pkgver or repo", i)
		}
	}
	return nil
}

func (p packageInfo) version() string {
	v := p.PkgVer
	if p.PkgRel != "" {
		v += "-" + p.PkgRel
	}
	if p.Epoch > 0 {
		v = fmt.Sprintf("%d:%s", p.Epoch, v)
	}
	return v
}

func (p packageInfo) updatedAt() time.Time {
	t, err := time.Parse(time.RFC3339, p.LastUpdate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// prerelease reports whether the package sits in a testing or staging repo.
func (p packageInfo) prerelease() bool {
	return strings.Contains(p.Repo, "testing") || strings.Contains(p.Repo, "staging")
}

// Fetch searches for an exact package name. The newest stable result is the
// latest channel; a build in a testing or staging repo is the testing channel.
func (r *Registry) Fetch(ctx context.Context, name string) (*core.PackageData, error) {
	u := fmt.Sprintf("%s/packages/search/json/?name=%s", r.baseURL, url.QueryEscape(name))

	var resp searchResponse
	if err := core.GetJSON(ctx, r.client, core.ArchLinux, name, u, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, core.NotFound(core.ArchLinux, name)
	}

	var stable, staged *packageInfo
	for i := range resp.Results {
		p := &resp.Results[i]
		slot := &stable
		if p.prerelease() {
			slot = &staged
		}
		if *slot == nil || p.updatedAt().After((*slot).updatedAt()) {
			*slot = p
		}
	}

	primary := stable
	if primary == nil {
		primary = staged
	}

	data := &core.PackageData{
		Name:          primary.PkgName,
		Description:   primary.PkgDesc,
		Homepage:      primary.URL,
		Repository:    core.RepoFromHomepage(primary.URL),
		LatestVersion: primary.version(),
	}
	if stable != nil {
		data.ReleaseChannels = append(data.ReleaseChannels, channel(core.LatestChannel, stable))
	}
	if staged != nil {
		data.ReleaseChannels = append(data.ReleaseChannels, channel(testingChannel, staged))
	}
	return data, nil
}

func channel(name string, p *packageInfo) core.ReleaseChannel {
	return core.ReleaseChannel{
		Channel:      name,
		Version:      p.version(),
		PublishedAt:  p.updatedAt(),
		Dependencies: mapDependencies(p),
	}
}

func mapDependencies(p *packageInfo) []core.Dependency {
	seen := make(map[string]bool)
	var deps []core.Dependency
	add := func(specs []string, typ core.DependencyType) {
		for _, spec := range specs {
			name, rng, ok := parseDepend(spec)
			if !ok || seen[name+":"+string(typ)] {
				continue
			}
			seen[name+":"+string(typ)] = true
			deps = append(deps, core.Dependency{Name: name, VersionRange: rng, Type: typ})
		}
	}

	add(p.Depends, core.Runtime)
	add(p.MakeDepends, core.Dev)
	add(p.CheckDepends, core.Dev)
	add(p.OptDepends, core.Optional)
	return deps
}

var dependPattern = regexp.MustCompile(`^([^<>=:\s]+)\s*(<=|>=|=|<|>)?\s*([^:\s]*)`)

// parseDepend splits "name>=1.0" into name and constraint. Optional
// dependencies carry a ": reason" suffix which is dropped. Shared-object
// provides such as "libcurl.so=4-64" are skipped.
func parseDepend(spec string) (string, string, bool) {
	m := dependPattern.FindStringSubmatch(strings.TrimSpace(spec))
	if m == nil {
		return "", "", false
	}
	name := m[1]
	if strings.HasSuffix(name, ".so") || strings.Contains(name, ".so.") {
		return "", "", false
	}
	if m[2] == "" || m[3] == "" {
		return name, core.AnyRange, true
	}
	return name, m[2] + m[3], true
}
