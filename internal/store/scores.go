package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertContributionEvent records points earned by an account at t.
func (s *Store) InsertContributionEvent(ctx context.Context, accountID string, points int64, t time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.exec(ctx,
		`INSERT INTO contribution_events (id, account_id, points, created_at) VALUES (?, ?, ?, ?)`,
		id, accountID, points, t.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert contribution event: %w", err)
	}
	return id, nil
}

// AccountsNeedingScore lists accounts with events newer than their score
// watermark, or with events and no score row.
func (s *Store) AccountsNeedingScore(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx,
		`SELECT DISTINCT e.account_id FROM contribution_events e
		LEFT JOIN contribution_scores sc ON sc.account_id = e.account_id
		WHERE sc.account_id IS NULL OR e.created_at > sc.last_calculated_at
		ORDER BY e.account_id`)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// GetScore returns the stored score of an account, or nil.
func (s *Store) GetScore(ctx context.Context, accountID string) (*Score, error) {
	var (
		sc        Score
		watermark int64
	)
	err := s.queryRow(ctx,
		`SELECT account_id, all_time_score, monthly_score, last_calculated_at
		FROM contribution_scores WHERE account_id = ?`, accountID).
		Scan(&sc.AccountID, &sc.AllTimeScore, &sc.MonthlyScore, &watermark)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sc.LastCalculatedAt = time.UnixMilli(watermark).UTC()
	return &sc, nil
}

// SumEventsAfter aggregates an account's events created strictly after
// after. A zero after includes every event.
func (s *Store) SumEventsAfter(ctx context.Context, accountID string, after time.Time) (EventSum, error) {
	lower := int64(-1 << 62)
	if !after.IsZero() {
		lower = after.UnixMilli()
	}
	var (
		sum    EventSum
		maxAt  sql.NullInt64
		points sql.NullInt64
	)
	err := s.queryRow(ctx,
		`SELECT SUM(points), COUNT(*), MAX(created_at) FROM contribution_events
		WHERE account_id = ? AND created_at > ?`, accountID, lower).
		Scan(&points, &sum.Count, &maxAt)
	if err != nil {
		return EventSum{}, err
	}
	sum.Points = points.Int64
	sum.MaxCreatedAt = fromMillis(maxAt)
	return sum, nil
}

// SumEventsBetween sums an account's points for events in [from, to].
func (s *Store) SumEventsBetween(ctx context.Context, accountID string, from, to time.Time) (int64, error) {
	var points sql.NullInt64
	err := s.queryRow(ctx,
		`SELECT SUM(points) FROM contribution_events
		WHERE account_id = ? AND created_at >= ? AND created_at <= ?`,
		accountID, from.UnixMilli(), to.UnixMilli()).Scan(&points)
	return points.Int64, err
}

// UpsertScore writes an account's score and watermark.
func (s *Store) UpsertScore(ctx context.Context, sc *Score) error {
	_, err := s.exec(ctx,
		`INSERT INTO contribution_scores (account_id, all_time_score, monthly_score, last_calculated_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			all_time_score = excluded.all_time_score,
			monthly_score = excluded.monthly_score,
			last_calculated_at = excluded.last_calculated_at,
			updated_at = excluded.updated_at`,
		sc.AccountID, sc.AllTimeScore, sc.MonthlyScore, sc.LastCalculatedAt.UnixMilli(), s.nowMillis())
	if err != nil {
		return fmt.Errorf("upsert score for %s: %w", sc.AccountID, err)
	}
	return nil
}
