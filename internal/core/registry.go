package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/git-pkgs/pkgsync/client"
)

// Adapter is implemented by every registry client.
type Adapter interface {
	// Registry returns the registry this adapter talks to.
	Registry() Registry

	// Fetch retrieves and normalises one package's metadata.
	Fetch(ctx context.Context, name string) (*PackageData, error)
}

// Factory creates an adapter for a given base URL.
type Factory func(baseURL string, client *client.Client) Adapter

var (
	factories = make(map[Registry]Factory)
	defaults  = make(map[Registry]string)
	mu        sync.RWMutex
)

// Register adds an adapter factory to the lookup table.
// defaultURL is the registry's public API root.
func Register(reg Registry, defaultURL string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[reg] = factory
	defaults[reg] = defaultURL
}

// New creates an adapter for the given registry.
// If baseURL is empty, the default registry URL is used.
func New(reg Registry, baseURL string, c *client.Client) (Adapter, error) {
	mu.RLock()
	factory, ok := factories[reg]
	defaultURL := defaults[reg]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no adapter registered for %s", reg)
	}

	if baseURL == "" {
		baseURL = defaultURL
	}

	if c == nil {
		c = client.DefaultClient()
	}

	return factory(baseURL, c), nil
}

// SupportedRegistries returns all registries with a registered adapter, sorted.
func SupportedRegistries() []Registry {
	mu.RLock()
	defer mu.RUnlock()

	regs := make([]Registry, 0, len(factories))
	for reg := range factories {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i] < regs[j] })
	return regs
}

// DefaultURL returns the default API root for a registry.
func DefaultURL(reg Registry) string {
	mu.RLock()
	defer mu.RUnlock()
	return defaults[reg]
}
