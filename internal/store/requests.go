package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/git-pkgs/pkgsync/internal/core"
)

// insertChunk bounds the rows per multi-value INSERT.
const insertChunk = 200

const requestColumns = `id, package_name, registry, status, attempt_count, error_message,
	package_id, created_at, updated_at`

// CreateRequest enqueues a pending request for (name, registry). If a
// pending request already exists it is left alone and created is false.
func (s *Store) CreateRequest(ctx context.Context, name string, reg core.Registry) (created bool, err error) {
	n, err := s.CreateRequests(ctx, reg, []string{name})
	return n > 0, err
}

// CreateRequests bulk-inserts pending requests for names on reg. Names that
// already have a pending request are skipped. Returns the number inserted.
func (s *Store) CreateRequests(ctx context.Context, reg core.Registry, names []string) (int, error) {
	total := 0
	for start := 0; start < len(names); start += insertChunk {
		chunk := names[start:min(start+insertChunk, len(names))]
		now := s.nowMillis()

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*6)
		for i, name := range chunk {
			placeholders[i] = "(?, ?, ?, ?, ?, ?)"
			args = append(args, uuid.NewString(), name, string(reg), string(RequestPending), now, now)
		}

		res, err := s.exec(ctx,
			`INSERT INTO package_requests (id, package_name, registry, status, created_at, updated_at)
			VALUES `+strings.Join(placeholders, ", ")+`
			ON CONFLICT DO NOTHING`, args...)
		if err != nil {
			return total, fmt.Errorf("insert requests: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(n)
	}
	return total, nil
}

// GetRequest returns the request with the given id, or nil.
func (s *Store) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := s.queryRow(ctx, `SELECT `+requestColumns+` FROM package_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ActiveRequestNames lists package names on reg with a pending or fetching request.
func (s *Store) ActiveRequestNames(ctx context.Context, reg core.Registry) ([]string, error) {
	rows, err := s.query(ctx,
		`SELECT DISTINCT package_name FROM package_requests
		WHERE registry = ? AND status IN (?, ?) ORDER BY package_name`,
		string(reg), string(RequestPending), string(RequestFetching))
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// NextRequests returns up to limit requests ready to process in insertion
// order: pending ones, and failed ones with fewer than maxAttempts attempts.
func (s *Store) NextRequests(ctx context.Context, maxAttempts, limit int) ([]*Request, error) {
	rows, err := s.query(ctx,
		`SELECT `+requestColumns+` FROM package_requests
		WHERE status = ? OR (status = ? AND attempt_count < ?)
		ORDER BY created_at, `+s.dialect.insertOrder("")+` LIMIT ?`,
		string(RequestPending), string(RequestFailed), maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkRequestFetching moves a request to fetching and increments its
// attempt count. Returns the new count.
func (s *Store) MarkRequestFetching(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.queryRow(ctx,
		`UPDATE package_requests
		SET status = ?, attempt_count = attempt_count + 1, updated_at = ?
		WHERE id = ? RETURNING attempt_count`,
		string(RequestFetching), s.nowMillis(), id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("mark request %s fetching: %w", id, err)
	}
	return attempts, nil
}

// CompleteRequest marks a request completed and links it to its package.
func (s *Store) CompleteRequest(ctx context.Context, id, packageID string) error {
	_, err := s.exec(ctx,
		`UPDATE package_requests SET status = ?, package_id = ?, error_message = NULL, updated_at = ?
		WHERE id = ?`,
		string(RequestCompleted), packageID, s.nowMillis(), id)
	return err
}

// FailRequest moves a request to failed or discarded with msg. packageID may
// be empty.
func (s *Store) FailRequest(ctx context.Context, id string, status RequestStatus, msg, packageID string) error {
	if status != RequestFailed && status != RequestDiscarded {
		return fmt.Errorf("FailRequest: invalid status %q", status)
	}
	_, err := s.exec(ctx,
		`UPDATE package_requests SET status = ?, error_message = ?, package_id = COALESCE(?, package_id), updated_at = ?
		WHERE id = ?`,
		string(status), msg, nullString(packageID), s.nowMillis(), id)
	return err
}

// ResetStaleRequests moves requests stuck in fetching since before cutoff
// back to pending. A request whose name already has a pending row is
// failed instead so the pending index stays unique. Returns rows changed.
func (s *Store) ResetStaleRequests(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	err := s.RunTx(ctx, func(tx *Store) error {
		now := tx.nowMillis()
		res, err := tx.exec(ctx,
			`UPDATE package_requests SET status = ?, error_message = ?, updated_at = ?
			WHERE status = ? AND updated_at < ? AND EXISTS (
				SELECT 1 FROM package_requests p
				WHERE p.package_name = package_requests.package_name
				  AND p.registry = package_requests.registry
				  AND p.status = ?)`,
			string(RequestFailed), "stale fetching attempt", now,
			string(RequestFetching), cutoff.UnixMilli(), string(RequestPending))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		total += n

		res, err = tx.exec(ctx,
			`UPDATE package_requests SET status = ?, updated_at = ?
			WHERE status = ? AND updated_at < ?`,
			string(RequestPending), now, string(RequestFetching), cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	return total, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var (
		r                   Request
		reg, status         string
		errMsg, packageID   sql.NullString
		createdAt, updateAt int64
	)
	if err := row.Scan(&r.ID, &r.PackageName, &reg, &status, &r.AttemptCount, &errMsg,
		&packageID, &createdAt, &updateAt); err != nil {
		return nil, err
	}
	r.Registry = core.Registry(reg)
	r.Status = RequestStatus(status)
	r.ErrorMessage = errMsg.String
	r.PackageID = packageID.String
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	r.UpdatedAt = time.UnixMilli(updateAt).UTC()
	return &r, nil
}
