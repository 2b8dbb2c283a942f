// Package pkgsync fetches package metadata from upstream registries and
// normalises it into one shape: a package with named release channels, each
// pointing at a version with its dependency edges.
//
// Basic usage:
//
//	import (
//		"context"
//		"github.com/git-pkgs/pkgsync"
//		_ "github.com/git-pkgs/pkgsync/all"
//	)
//
//	adapter, err := pkgsync.NewAdapter(pkgsync.NPM, "", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	data, err := adapter.Fetch(context.Background(), "left-pad")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(data.Name, data.LatestVersion)
//
// Adapters register themselves when the all subpackage is imported.
package pkgsync

import (
	"context"

	"github.com/git-pkgs/pkgsync/client"
	"github.com/git-pkgs/pkgsync/fetch"
	"github.com/git-pkgs/pkgsync/internal/core"
)

// Re-export types from internal/core
type (
	// Adapter is the interface implemented by all registry adapters.
	Adapter = core.Adapter

	// Registry identifies an upstream registry.
	Registry = core.Registry

	// PackageData is the normalised metadata of one package.
	PackageData = core.PackageData

	// ReleaseChannel is a named distribution stream pointing at one version.
	ReleaseChannel = core.ReleaseChannel

	// Dependency is an edge from a channel to another package.
	Dependency = core.Dependency

	// DependencyType indicates when a dependency is required.
	DependencyType = core.DependencyType

	// Error is the typed failure for one package.
	Error = core.Error

	// ErrorKind classifies an Error.
	ErrorKind = core.Kind
)

// Re-export types from client
type (
	// Client is an HTTP client with retry logic for registry APIs.
	Client = client.Client

	// Option configures a Client.
	Option = client.Option

	// HTTPError is returned for non-2xx responses.
	HTTPError = client.HTTPError
)

// Result is the outcome of fetching one name in FetchMany.
type Result = fetch.Result

// Re-export constants
const (
	NPM       = core.NPM
	JSR       = core.JSR
	NuGet     = core.NuGet
	DockerHub = core.DockerHub
	Homebrew  = core.Homebrew
	ArchLinux = core.ArchLinux

	Runtime  = core.Runtime
	Dev      = core.Dev
	Peer     = core.Peer
	Optional = core.Optional

	KindUpstream       = core.KindUpstream
	KindNotFound       = core.KindNotFound
	KindSchemaDrift    = core.KindSchemaDrift
	KindUnpublished    = core.KindUnpublished
	KindGraphIntegrity = core.KindGraphIntegrity
)

// Re-export errors
var (
	ErrNotFound    = core.ErrNotFound
	ErrCircuitOpen = client.ErrCircuitOpen
)

// NewAdapter creates an adapter for the given registry.
// If baseURL is empty, the default registry URL is used.
// If c is nil, DefaultClient() is used.
func NewAdapter(reg Registry, baseURL string, c *Client) (Adapter, error) {
	return core.New(reg, baseURL, c)
}

// DefaultClient returns a client with sensible defaults:
// - 30s timeout
// - 3 retries with exponential backoff
// - Retry on 408, 429, 500, 502, 503 and 504 responses
func DefaultClient() *Client {
	return client.DefaultClient()
}

// NewClient creates a new client with the given options.
func NewClient(opts ...Option) *Client {
	return client.NewClient(opts...)
}

// WithTimeout sets the HTTP client timeout.
var WithTimeout = client.WithTimeout

// WithMaxRetries sets the maximum number of retries.
var WithMaxRetries = client.WithMaxRetries

// SupportedRegistries returns all registered registries.
// Note: adapters must be imported to be registered.
func SupportedRegistries() []Registry {
	return core.SupportedRegistries()
}

// DefaultURL returns the default API root for a registry.
func DefaultURL(reg Registry) string {
	return core.DefaultURL(reg)
}

// KindOf returns the error kind carried by err.
func KindOf(err error) ErrorKind {
	return core.KindOf(err)
}

// PURL returns the package URL for a package.
func PURL(reg Registry, name, version string) string {
	return core.PURL(reg, name, version)
}

// ParsePURL returns the registry and package name a PURL refers to.
func ParsePURL(purl string) (Registry, string, error) {
	return core.ParsePURL(purl)
}

// FetchMany fetches names in sequential batches of concurrency parallel
// requests. A concurrency of zero or less uses the default of 5.
func FetchMany(ctx context.Context, adapter Adapter, names []string, concurrency int) map[string]Result {
	return fetch.Many(ctx, adapter, names, concurrency)
}

// FetchFromPURL fetches one package identified by a PURL.
func FetchFromPURL(ctx context.Context, purl string, c *Client) (*PackageData, error) {
	reg, name, err := core.ParsePURL(purl)
	if err != nil {
		return nil, err
	}
	adapter, err := core.New(reg, "", c)
	if err != nil {
		return nil, err
	}
	return fetch.One(ctx, adapter, name)
}
