// Package score maintains per-account contribution scores incrementally.
//
// Each score row carries a watermark: the created_at of the newest event
// already summed into it. A pass only reads events after the watermark, so
// no event is counted twice across runs.
package score

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/git-pkgs/pkgsync/internal/metrics"
	"github.com/git-pkgs/pkgsync/internal/store"
)

// Result summarises one pass.
type Result struct {
	AccountsUpdated int
	EventsProcessed int
}

// Aggregator recalculates contribution scores.
type Aggregator struct {
	store   *store.Store
	logger  *log.Logger
	metrics *metrics.Metrics
}

// New creates an Aggregator. A nil logger uses log.Default().
func New(s *store.Store, logger *log.Logger, m *metrics.Metrics) *Aggregator {
	if logger == nil {
		logger = log.Default()
	}
	return &Aggregator{store: s, logger: logger, metrics: m}
}

// Recalculate updates every account with events newer than its watermark.
func (a *Aggregator) Recalculate(ctx context.Context) (Result, error) {
	var res Result

	accounts, err := a.store.AccountsNeedingScore(ctx)
	if err != nil {
		return res, fmt.Errorf("listing accounts: %w", err)
	}

	now := a.store.Now().UTC()
	for _, acct := range accounts {
		n, err := a.recalculateAccount(ctx, acct, now)
		if err != nil {
			return res, fmt.Errorf("account %s: %w", acct, err)
		}
		if n > 0 {
			res.AccountsUpdated++
			res.EventsProcessed += n
		}
	}

	a.metrics.Scored(res.AccountsUpdated, res.EventsProcessed)
	a.logger.Info("scores recalculated", "accounts", res.AccountsUpdated, "events", res.EventsProcessed)
	return res, nil
}

func (a *Aggregator) recalculateAccount(ctx context.Context, acct string, now time.Time) (int, error) {
	prev, err := a.store.GetScore(ctx, acct)
	if err != nil {
		return 0, err
	}
	if prev == nil {
		prev = &store.Score{AccountID: acct}
	}

	sum, err := a.store.SumEventsAfter(ctx, acct, prev.LastCalculatedAt)
	if err != nil {
		return 0, err
	}
	if sum.Count == 0 {
		return 0, nil
	}

	next := &store.Score{
		AccountID:        acct,
		AllTimeScore:     prev.AllTimeScore + sum.Points,
		LastCalculatedAt: sum.MaxCreatedAt,
	}
	if !prev.LastCalculatedAt.IsZero() && sameMonth(prev.LastCalculatedAt, now) {
		next.MonthlyScore = prev.MonthlyScore + sum.Points
	} else {
		// The month rolled over since the last pass, or this is the first.
		next.MonthlyScore, err = a.store.SumEventsBetween(ctx, acct, monthStart(now), sum.MaxCreatedAt)
		if err != nil {
			return 0, err
		}
	}

	if err := a.store.UpsertScore(ctx, next); err != nil {
		return 0, err
	}
	a.logger.Debug("score updated", "account", acct, "all_time", next.AllTimeScore,
		"monthly", next.MonthlyScore, "events", sum.Count)
	return sum.Count, nil
}

func sameMonth(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month()
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
