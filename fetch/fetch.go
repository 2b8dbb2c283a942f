// Package fetch runs a registry adapter over many package names.
package fetch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/pkgsync/internal/core"
)

// DefaultConcurrency is the batch size used when none is given.
const DefaultConcurrency = 5

// Result is the outcome of fetching one name: normalised data or a typed error.
type Result struct {
	Data *core.PackageData
	Err  error
}

// Many fetches names in sequential batches of concurrency names each; the
// names within a batch are fetched in parallel. This caps simultaneous
// upstream connections at concurrency without a shared semaphore.
//
// A failure for one name never affects the others. If ctx is cancelled,
// names not yet started get ctx.Err() as their result.
func Many(ctx context.Context, adapter core.Adapter, names []string, concurrency int) map[string]Result {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make(map[string]Result, len(names))
	var mu sync.Mutex

	for start := 0; start < len(names); start += concurrency {
		end := min(start+concurrency, len(names))

		var g errgroup.Group
		for _, name := range names[start:end] {
			g.Go(func() error {
				var r Result
				if err := ctx.Err(); err != nil {
					r.Err = err
				} else {
					r.Data, r.Err = adapter.Fetch(ctx, name)
				}
				mu.Lock()
				results[name] = r
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	return results
}

// One fetches a single name through Many.
func One(ctx context.Context, adapter core.Adapter, name string) (*core.PackageData, error) {
	r := Many(ctx, adapter, []string{name}, 1)[name]
	return r.Data, r.Err
}
