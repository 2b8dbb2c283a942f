// Package worker drives package requests and scheduled fetches through
// their lifecycle: cooldown check, fetch, upsert, reconcile, terminal state.
//
// Items are processed strictly one at a time, each to a terminal state
// before the next is touched.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/git-pkgs/pkgsync/fetch"
	"github.com/git-pkgs/pkgsync/internal/core"
	"github.com/git-pkgs/pkgsync/internal/metrics"
	"github.com/git-pkgs/pkgsync/internal/reconcile"
	"github.com/git-pkgs/pkgsync/internal/store"
)

// RecentlyUpdated is the error message of a fetch skipped by the cooldown.
const RecentlyUpdated = "recently_updated"

// Config configures the worker.
type Config struct {
	// Cooldown is the minimum age of an active package before it is fetched
	// again. Default: 1 hour.
	Cooldown time.Duration
	// MaxAttempts is the attempt count at which a failing request is
	// discarded. Default: 3.
	MaxAttempts int
	// BatchSize caps the requests and the fetches taken per run. Default: 50.
	BatchSize int
	// StaleAfter is how long a request may sit in fetching before a run
	// resets it. Default: 1 hour.
	StaleAfter time.Duration
}

func (c *Config) defaults() {
	if c.Cooldown <= 0 {
		c.Cooldown = time.Hour
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = time.Hour
	}
}

// AdapterFunc returns the adapter for a registry.
type AdapterFunc func(core.Registry) (core.Adapter, error)

// Outcome is the terminal result of processing one item.
type Outcome string

const (
	Completed Outcome = "completed"
	Skipped   Outcome = "skipped"
	Failed    Outcome = "failed"
	Discarded Outcome = "discarded"
)

// Summary counts the outcomes of one Run.
type Summary struct {
	Reset     int64
	Requests  int
	Fetches   int
	Completed int
	Skipped   int
	Failed    int
	Discarded int
}

func (s *Summary) count(o Outcome) {
	switch o {
	case Completed:
		s.Completed++
	case Skipped:
		s.Skipped++
	case Failed:
		s.Failed++
	case Discarded:
		s.Discarded++
	}
}

// Worker processes the request and fetch queues.
type Worker struct {
	store    *store.Store
	engine   *reconcile.Engine
	adapters AdapterFunc
	config   Config
	logger   *log.Logger
	metrics  *metrics.Metrics
}

// New creates a Worker. A nil logger uses log.Default(); a nil metrics
// records nothing.
func New(s *store.Store, adapters AdapterFunc, cfg Config, logger *log.Logger, m *metrics.Metrics) *Worker {
	cfg.defaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Worker{
		store:    s,
		engine:   reconcile.New(s, logger),
		adapters: adapters,
		config:   cfg,
		logger:   logger,
		metrics:  m,
	}
}

// item is one queue entry being processed.
type item struct {
	request  *store.Request
	fetch    *store.Fetch
	name     string
	registry core.Registry
	attempts int
}

// newRequestItem keys the package by the normalised queued name, so a
// request typed as "Newtonsoft.Json" and a "newtonsoft.json" placeholder
// are the same NuGet package.
func newRequestItem(r *store.Request) *item {
	return &item{request: r, name: core.NormalizeName(r.Registry, r.PackageName), registry: r.Registry}
}

func newFetchItem(f *store.Fetch) *item {
	return &item{fetch: f, name: f.PackageName, registry: f.Registry}
}

func (it *item) queue() string {
	if it.request != nil {
		return "request"
	}
	return "fetch"
}

func (it *item) id() string {
	if it.request != nil {
		return it.request.ID
	}
	return it.fetch.ID
}

// Run resets stale requests, then processes up to BatchSize requests and
// BatchSize fetches in queue order. Item failures are recorded on the item;
// only store errors abort the run.
func (w *Worker) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	n, err := w.store.ResetStaleRequests(ctx, w.store.Now().Add(-w.config.StaleAfter))
	if err != nil {
		return sum, fmt.Errorf("resetting stale requests: %w", err)
	}
	sum.Reset = n
	if n > 0 {
		w.logger.Info("reset stale requests", "count", n)
	}

	requests, err := w.store.NextRequests(ctx, w.config.MaxAttempts, w.config.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("loading requests: %w", err)
	}
	items := make([]*item, len(requests))
	for i, r := range requests {
		items[i] = newRequestItem(r)
	}
	sum.Requests = len(items)
	if err := w.processBatch(ctx, items, &sum); err != nil {
		return sum, err
	}

	fetches, err := w.store.NextFetches(ctx, w.config.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("loading fetches: %w", err)
	}
	items = make([]*item, len(fetches))
	for i, f := range fetches {
		items[i] = newFetchItem(f)
	}
	sum.Fetches = len(items)
	if err := w.processBatch(ctx, items, &sum); err != nil {
		return sum, err
	}

	return sum, nil
}

// ProcessRequest takes one request to a terminal state.
func (w *Worker) ProcessRequest(ctx context.Context, req *store.Request) (Outcome, error) {
	return w.processOne(ctx, newRequestItem(req))
}

// ProcessFetch takes one scheduled fetch to a terminal state.
func (w *Worker) ProcessFetch(ctx context.Context, f *store.Fetch) (Outcome, error) {
	return w.processOne(ctx, newFetchItem(f))
}

func (w *Worker) processOne(ctx context.Context, it *item) (Outcome, error) {
	outcome, err := w.process(ctx, it)
	if err != nil {
		return "", err
	}
	w.record(it, outcome)
	return outcome, nil
}

func (w *Worker) processBatch(ctx context.Context, items []*item, sum *Summary) error {
	for _, it := range items {
		outcome, err := w.processOne(ctx, it)
		if err != nil {
			return err
		}
		sum.count(outcome)
	}
	return nil
}

// process takes one item through cooldown, fetch and reconcile. Items after
// it stay pending until their turn.
func (w *Worker) process(ctx context.Context, it *item) (Outcome, error) {
	skip, err := w.prepare(ctx, it)
	if err != nil {
		return "", err
	}
	if skip {
		return Skipped, nil
	}

	adapter, err := w.adapters(it.registry)
	if err != nil {
		return w.fail(ctx, it, &core.Error{Kind: core.KindUpstream, Registry: it.registry, Name: it.name, Err: err})
	}
	data, err := fetch.One(ctx, adapter, it.name)
	return w.finish(ctx, it, data, err)
}

// prepare applies the cooldown and, for requests that will be fetched, marks
// them fetching.
func (w *Worker) prepare(ctx context.Context, it *item) (skip bool, err error) {
	var pkg *store.Package
	if it.fetch != nil {
		pkg, err = w.store.GetPackageByID(ctx, it.fetch.PackageID)
	} else {
		pkg, err = w.store.GetPackage(ctx, it.name, it.registry)
	}
	if err != nil {
		return false, fmt.Errorf("loading package %s/%s: %w", it.registry, it.name, err)
	}

	if w.inCooldown(pkg) {
		w.logger.Info("skipped, recently updated", "queue", it.queue(), "registry", it.registry,
			"package", it.name, "updated", pkg.UpdatedAt)
		if it.request != nil {
			err = w.store.CompleteRequest(ctx, it.request.ID, pkg.ID)
		} else {
			err = w.store.FailFetch(ctx, it.fetch.ID, RecentlyUpdated)
		}
		return true, err
	}

	if it.request != nil {
		it.attempts, err = w.store.MarkRequestFetching(ctx, it.request.ID)
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

func (w *Worker) inCooldown(pkg *store.Package) bool {
	if pkg == nil || pkg.Status != store.PackageActive {
		return false
	}
	return w.store.Now().Sub(pkg.UpdatedAt) < w.config.Cooldown
}

// finish records the result of one fetch. The package is identified by the
// queued name, not the name the registry reports.
func (w *Worker) finish(ctx context.Context, it *item, data *core.PackageData, fetchErr error) (Outcome, error) {
	if fetchErr == nil && data == nil {
		fetchErr = core.NotFound(it.registry, it.name)
	}
	if fetchErr != nil {
		return w.fail(ctx, it, fetchErr)
	}

	pkgID, err := w.store.UpsertActivePackage(ctx, it.name, it.registry, data)
	if err != nil {
		return "", err
	}

	res, err := w.engine.Reconcile(ctx, pkgID, it.registry, data)
	if err != nil {
		return w.fail(ctx, it, err)
	}
	w.recordWrites(res)

	if it.request != nil {
		err = w.store.CompleteRequest(ctx, it.request.ID, pkgID)
	} else {
		err = w.store.CompleteFetch(ctx, it.fetch.ID)
	}
	if err != nil {
		return "", err
	}

	w.logger.Info("completed", "queue", it.queue(), "registry", it.registry, "package", it.name,
		"channels", len(data.ReleaseChannels), "writes", res.Writes())
	return Completed, nil
}

// fail marks the package failed, keeping its channels and dependencies, and
// moves the item to failed, or to discarded once its attempts are used up.
func (w *Worker) fail(ctx context.Context, it *item, cause error) (Outcome, error) {
	kind := core.KindOf(cause)
	reason := cause.Error()
	w.metrics.AdapterError(string(it.registry), kind.String())

	pkgID, err := w.store.MarkPackageFailed(ctx, it.name, it.registry, reason)
	if err != nil {
		return "", err
	}

	outcome := Failed
	if it.request != nil {
		status := store.RequestFailed
		if it.attempts >= w.config.MaxAttempts {
			status = store.RequestDiscarded
			outcome = Discarded
		}
		err = w.store.FailRequest(ctx, it.request.ID, status, reason, pkgID)
	} else {
		err = w.store.FailFetch(ctx, it.fetch.ID, reason)
	}
	if err != nil {
		return "", err
	}

	w.logger.Warn("failed", "queue", it.queue(), "registry", it.registry, "package", it.name,
		"kind", kind, "attempt", it.attempts, "outcome", outcome, "err", cause)
	return outcome, nil
}

func (w *Worker) record(it *item, o Outcome) {
	w.metrics.ItemProcessed(it.queue(), string(o))
	w.logger.Debug("processed", it.queue(), it.id(), "outcome", o)
}

func (w *Worker) recordWrites(res reconcile.Result) {
	w.metrics.Writes("channel_create", res.ChannelsCreated)
	w.metrics.Writes("channel_update", res.ChannelsUpdated)
	w.metrics.Writes("channel_delete", res.ChannelsDeleted)
	w.metrics.Writes("dependency_create", res.DepsCreated)
	w.metrics.Writes("dependency_update", res.DepsUpdated)
	w.metrics.Writes("dependency_delete", res.DepsDeleted)
	w.metrics.Writes("placeholder_create", res.PlaceholdersCreated)
}
