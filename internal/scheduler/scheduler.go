// Package scheduler enqueues work for the ingestion worker: requests for
// placeholder packages and periodic re-fetches of known ones.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/git-pkgs/pkgsync/internal/core"
	"github.com/git-pkgs/pkgsync/internal/store"
)

// Config configures the scheduler.
type Config struct {
	// Registries to schedule placeholders for. Default: core.Registries.
	Registries []core.Registry
	// RefreshAfter is how long after a successful fetch a package is due
	// again. Zero disables refresh scheduling.
	RefreshAfter time.Duration
	// RefreshLimit caps refresh fetches enqueued per run. Default: 50.
	RefreshLimit int
}

func (c *Config) defaults() {
	if len(c.Registries) == 0 {
		c.Registries = core.Registries
	}
	if c.RefreshLimit <= 0 {
		c.RefreshLimit = 50
	}
}

// Scheduler creates pending requests and fetches.
type Scheduler struct {
	store  *store.Store
	config Config
	logger *log.Logger
}

// New creates a Scheduler. A nil logger uses log.Default().
func New(s *store.Store, cfg Config, logger *log.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{store: s, config: cfg, logger: logger}
}

// ScheduleForPlaceholders enqueues a pending request for every placeholder
// package that has no pending or fetching request. Returns the number of
// requests created.
func (s *Scheduler) ScheduleForPlaceholders(ctx context.Context) (int, error) {
	total := 0
	for _, reg := range s.config.Registries {
		placeholders, err := s.store.PackageNamesByStatus(ctx, reg, store.PackagePlaceholder)
		if err != nil {
			return total, fmt.Errorf("%s: listing placeholders: %w", reg, err)
		}
		if len(placeholders) == 0 {
			continue
		}
		active, err := s.store.ActiveRequestNames(ctx, reg)
		if err != nil {
			return total, fmt.Errorf("%s: listing active requests: %w", reg, err)
		}

		missing := difference(placeholders, active)
		if len(missing) == 0 {
			continue
		}
		n, err := s.store.CreateRequests(ctx, reg, missing)
		total += n
		if err != nil {
			return total, fmt.Errorf("%s: creating requests: %w", reg, err)
		}
		s.logger.Info("scheduled placeholder requests", "registry", reg, "count", n)
	}
	return total, nil
}

// ScheduleRefreshes enqueues a pending fetch for active packages whose last
// successful fetch is older than RefreshAfter. Returns the number created.
func (s *Scheduler) ScheduleRefreshes(ctx context.Context) (int, error) {
	if s.config.RefreshAfter <= 0 {
		return 0, nil
	}
	cutoff := s.store.Now().Add(-s.config.RefreshAfter)
	ids, err := s.store.PackagesDueForRefresh(ctx, cutoff, s.config.RefreshLimit)
	if err != nil {
		return 0, fmt.Errorf("listing packages due for refresh: %w", err)
	}

	created := 0
	for _, id := range ids {
		ok, err := s.store.CreateFetch(ctx, id)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	if created > 0 {
		s.logger.Info("scheduled refreshes", "count", created)
	}
	return created, nil
}

// difference returns the names in a that are not in b, keeping a's order.
func difference(a, b []string) []string {
	skip := make(map[string]struct{}, len(b))
	for _, name := range b {
		skip[name] = struct{}{}
	}
	var out []string
	for _, name := range a {
		if _, ok := skip[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}
