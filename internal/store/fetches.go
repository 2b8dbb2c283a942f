package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/git-pkgs/pkgsync/internal/core"
)

const fetchSelect = `SELECT f.id, f.package_id, p.name, p.registry, f.status, f.error_message,
	f.created_at, f.completed_at
	FROM package_fetches f JOIN packages p ON p.id = f.package_id`

// CreateFetch enqueues a pending re-fetch of a known package. If one is
// already pending, created is false.
func (s *Store) CreateFetch(ctx context.Context, packageID string) (created bool, err error) {
	now := s.nowMillis()
	res, err := s.exec(ctx,
		`INSERT INTO package_fetches (id, package_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		uuid.NewString(), packageID, string(FetchPending), now, now)
	if err != nil {
		return false, fmt.Errorf("insert fetch for %s: %w", packageID, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetFetch returns the fetch with the given id, or nil.
func (s *Store) GetFetch(ctx context.Context, id string) (*Fetch, error) {
	row := s.queryRow(ctx, fetchSelect+` WHERE f.id = ?`, id)
	f, err := scanFetch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

// NextFetches returns up to limit pending fetches in insertion order.
func (s *Store) NextFetches(ctx context.Context, limit int) ([]*Fetch, error) {
	rows, err := s.query(ctx,
		fetchSelect+` WHERE f.status = ? ORDER BY f.created_at, `+s.dialect.insertOrder("f.")+` LIMIT ?`,
		string(FetchPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Fetch
	for rows.Next() {
		f, err := scanFetch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CompleteFetch marks a fetch completed.
func (s *Store) CompleteFetch(ctx context.Context, id string) error {
	now := s.nowMillis()
	_, err := s.exec(ctx,
		`UPDATE package_fetches SET status = ?, error_message = NULL, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		string(FetchCompleted), now, now, id)
	return err
}

// FailFetch marks a fetch failed with msg.
func (s *Store) FailFetch(ctx context.Context, id, msg string) error {
	now := s.nowMillis()
	_, err := s.exec(ctx,
		`UPDATE package_fetches SET status = ?, error_message = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		string(FetchFailed), msg, now, now, id)
	return err
}

// PackagesDueForRefresh returns ids of active packages last fetched
// successfully before cutoff that have no pending fetch, stalest first.
func (s *Store) PackagesDueForRefresh(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := s.query(ctx,
		`SELECT p.id FROM packages p
		WHERE p.status = ?
		  AND (p.last_fetch_success IS NULL OR p.last_fetch_success < ?)
		  AND NOT EXISTS (
			SELECT 1 FROM package_fetches f WHERE f.package_id = p.id AND f.status = ?)
		ORDER BY p.last_fetch_success, p.id LIMIT ?`,
		string(PackageActive), cutoff.UnixMilli(), string(FetchPending), limit)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

func scanFetch(row rowScanner) (*Fetch, error) {
	var (
		f           Fetch
		reg, status string
		errMsg      sql.NullString
		createdAt   int64
		completedAt sql.NullInt64
	)
	if err := row.Scan(&f.ID, &f.PackageID, &f.PackageName, &reg, &status, &errMsg,
		&createdAt, &completedAt); err != nil {
		return nil, err
	}
	f.Registry = core.Registry(reg)
	f.Status = FetchStatus(status)
	f.ErrorMessage = errMsg.String
	f.CreatedAt = time.UnixMilli(createdAt).UTC()
	f.CompletedAt = fromMillis(completedAt)
	return &f, nil
}
