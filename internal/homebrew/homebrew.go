// Package homebrew provides a registry adapter for Homebrew formulae.
package homebrew

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/git-pkgs/pkgsync/client"
	"github.com/git-pkgs/pkgsync/internal/core"
)

const DefaultURL = "https://formulae.brew.sh"

func init() {
	core.Register(core.Homebrew, DefaultURL, func(baseURL string, c *client.Client) core.Adapter {
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
	return core.Homebrew
}

type formulaResponse struct {
	Name                    string       `json:"name"`
	FullName                string       `json:"full_name"`
	Desc                    string       `json:"desc"`
	Homepage                string       `json:"homepage"`
	Versions                versionsInfo `json:"versions"`
	Revision                int          `json:"revision"`
	Dependencies            []string     `json:"dependencies"`
	BuildDependencies       []string     `json:"build_dependencies"`
	TestDependencies        []string     `json:"test_dependencies"`
	RecommendedDependencies []string     `json:"recommended_dependencies"`
	OptionalDependencies    []string     `json:"optional_dependencies"`
}

type versionsInfo struct {
	Stable string `json:"stable"`
	Head   string `json:"head"`
	Bottle bool   `json:"bottle"`
}

func (f *formulaResponse) Validate() error {
	if err := core.Required("name", f.Name); err != nil {
		return err
	}
	if f.Versions.Stable == "" {
		return errors.New(`missing required field "versions.stable"`)
	}
	if f.Revision < 0 {
		return fmt.Errorf("negative revision %d", f.Revision)
	}
	return nil
}

// Fetch reads one formula. Homebrew publishes a single stable version, so
// the result has only the latest channel.
func (r *Registry) Fetch(ctx context.Context, name string) (*core.PackageData, error) {
	u := fmt.Sprintf("%s/api/formula/%s.json", r.baseURL, url.PathEscape(name))

	var resp formulaResponse
	if err := core.GetJSON(ctx, r.client, core.Homebrew, name, u, &resp); err != nil {
		return nil, err
	}

	version := resp.Versions.Stable
	if resp.Revision > 0 {
		version = fmt.Sprintf("%s_%d", version, resp.Revision)
	}

	return &core.PackageData{
		Name:          resp.Name,
		Description:   resp.Desc,
		Homepage:      resp.Homepage,
		Repository:    core.RepoFromHomepage(resp.Homepage),
		LatestVersion: version,
		ReleaseChannels: []core.ReleaseChannel{{
			Channel:      core.LatestChannel,
			Version:      version,
			Dependencies: mapDependencies(&resp),
		}},
	}, nil
}

func mapDependencies(f *formulaResponse) []core.Dependency {
	seen := make(map[string]bool)
	var deps []core.Dependency
	add := func(names []string, typ core.DependencyType) {
		for _, n := range names {
			key := n + ":" + string(typ)
			if n == "" || seen[key] {
				continue
			}
			seen[key] = true
			deps = append(deps, core.Dependency{Name: n, VersionRange: core.AnyRange, Type: typ})
		}
	}

	add(f.Dependencies, core.Runtime)
	add(f.BuildDependencies, core.Dev)
	add(f.TestDependencies, core.Dev)
	add(f.RecommendedDependencies, core.Optional)
	add(f.OptionalDependencies, core.Optional)
	return deps
}
