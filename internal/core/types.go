// Package core provides the shared package schema and the adapter registry.
package core

import (
	"fmt"
	"time"
)

// Registry identifies an upstream package registry.
type Registry string

const (
	NPM       Registry = "npm"
	JSR       Registry = "jsr"
	NuGet     Registry = "nuget"
	DockerHub Registry = "dockerhub"
	Homebrew  Registry = "homebrew"
	ArchLinux Registry = "archlinux"
)

// Registries lists every registry in a stable order.
var Registries = []Registry{NPM, JSR, NuGet, DockerHub, Homebrew, ArchLinux}

// ParseRegistry returns the Registry named s.
func ParseRegistry(s string) (Registry, error) {
	for _, r := range Registries {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown registry: %s", s)
}

// LatestChannel is the channel name used by registries without tags.
const LatestChannel = "latest"

// AnyRange is stored for dependencies on registries that publish no range.
const AnyRange = "*"

// PackageData is the normalised shape every adapter maps its response into.
type PackageData struct {
	Name            string
	Description     string
	Homepage        string
	Repository      string
	LatestVersion   string
	DistTags        map[string]string
	ReleaseChannels []ReleaseChannel
}

// ReleaseChannel is a named distribution stream pointing at one version.
type ReleaseChannel struct {
	Channel      string
	Version      string
	PublishedAt  time.Time // zero if the registry does not report it
	Dependencies []Dependency
}

// Dependency is an edge from a channel to another package.
// Registry is empty when the dependency lives on the same registry.
type Dependency struct {
	Name         string
	VersionRange string
	Type         DependencyType
	Registry     Registry
}

// DependencyType indicates when a dependency is required.
type DependencyType string

const (
	Runtime  DependencyType = "runtime"
	Dev      DependencyType = "dev"
	Peer     DependencyType = "peer"
	Optional DependencyType = "optional"
)

// Channel returns the channel with the given name, or nil.
func (p *PackageData) Channel(name string) *ReleaseChannel {
	for i := range p.ReleaseChannels {
		if p.ReleaseChannels[i].Channel == name {
			return &p.ReleaseChannels[i]
		}
	}
	return nil
}
