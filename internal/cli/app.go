package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	_ "github.com/git-pkgs/pkgsync/all"
	"github.com/git-pkgs/pkgsync/client"
	"github.com/git-pkgs/pkgsync/internal/config"
	"github.com/git-pkgs/pkgsync/internal/core"
	"github.com/git-pkgs/pkgsync/internal/lock"
	"github.com/git-pkgs/pkgsync/internal/metrics"
	"github.com/git-pkgs/pkgsync/internal/scheduler"
	"github.com/git-pkgs/pkgsync/internal/score"
	"github.com/git-pkgs/pkgsync/internal/store"
	"github.com/git-pkgs/pkgsync/internal/worker"
)

// app is the wiring for one command invocation. Its lifecycle is owned by
// the command that opened it.
type app struct {
	cfg     *config.Config
	store   *store.Store
	client  *client.Client
	metrics *metrics.Metrics
	logger  *log.Logger
	closers []func() error
}

func (c *CLI) open(ctx context.Context) (*app, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if !c.levelSet {
		level, _ := cfg.Log.ParsedLevel()
		c.Logger.SetLevel(level)
	}

	s, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	httpClient := client.NewClient(
		client.WithTimeout(cfg.HTTP.Timeout),
		client.WithMaxRetries(cfg.HTTP.MaxRetries),
	).WithUserAgent(cfg.HTTP.UserAgent)

	c.Logger.Debug("opened store", "driver", cfg.Database.Driver)
	return &app{
		cfg:     cfg,
		store:   s,
		client:  httpClient,
		metrics: metrics.New(),
		logger:  c.Logger,
		closers: []func() error{s.Close},
	}, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close", "err", err)
		}
	}
}

// adapter creates the adapter for reg using the configured base URL.
func (a *app) adapter(reg core.Registry) (core.Adapter, error) {
	return core.New(reg, a.cfg.RegistryURL(reg), a.client)
}

func (a *app) locker(ctx context.Context) (lock.Locker, error) {
	r := a.cfg.Redis
	if r.Addr == "" {
		return lock.Noop{}, nil
	}
	rdb, err := lock.Dial(ctx, r.Addr, r.Password, r.DB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	return lock.NewRedis(rdb, r.LockKey, r.LockTTL), nil
}

// withLock runs fn while holding the run lock.
func (a *app) withLock(ctx context.Context, fn func(context.Context) error) error {
	l, err := a.locker(ctx)
	if err != nil {
		return err
	}
	release, err := l.Acquire(ctx)
	if errors.Is(err, lock.ErrHeld) {
		a.logger.Warn("another run holds the lock, exiting", "key", a.cfg.Redis.LockKey)
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("releasing lock", "err", err)
		}
	}()
	return fn(ctx)
}

func (a *app) ingest(ctx context.Context) error {
	sch := scheduler.New(a.store, scheduler.Config{
		RefreshAfter: a.cfg.Ingest.RefreshAfter,
		RefreshLimit: a.cfg.Ingest.RefreshLimit,
	}, a.logger)

	n, err := sch.ScheduleForPlaceholders(ctx)
	a.metrics.Scheduled("request", n)
	if err != nil {
		return fmt.Errorf("scheduling placeholders: %w", err)
	}
	n, err = sch.ScheduleRefreshes(ctx)
	a.metrics.Scheduled("fetch", n)
	if err != nil {
		return fmt.Errorf("scheduling refreshes: %w", err)
	}

	w := worker.New(a.store, a.adapter, worker.Config{
		Cooldown:    a.cfg.Ingest.Cooldown,
		MaxAttempts: a.cfg.Ingest.MaxAttempts,
		BatchSize:   a.cfg.Ingest.BatchSize,
		StaleAfter:  a.cfg.Ingest.StaleAfter,
	}, a.logger, a.metrics)

	sum, err := w.Run(ctx)
	a.logger.Info("ingest finished", "requests", sum.Requests, "fetches", sum.Fetches,
		"completed", sum.Completed, "skipped", sum.Skipped, "failed", sum.Failed,
		"discarded", sum.Discarded, "reset", sum.Reset)
	if open := openBreakers(a.client); len(open) > 0 {
		a.logger.Warn("circuit open", "hosts", open)
	}
	return err
}

func (a *app) score(ctx context.Context) error {
	_, err := score.New(a.store, a.logger, a.metrics).Recalculate(ctx)
	return err
}

func (a *app) pushMetrics(ctx context.Context) {
	if err := a.metrics.Push(ctx, a.cfg.Metrics.PushURL, a.cfg.Metrics.Job); err != nil {
		a.logger.Warn("pushing metrics", "err", err)
	}
}

func openBreakers(c *client.Client) []string {
	var hosts []string
	for host, state := range c.BreakerStates() {
		if state == "open" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}
