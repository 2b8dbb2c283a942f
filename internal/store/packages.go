package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/git-pkgs/pkgsync/internal/core"
)

const packageColumns = `id, name, registry, status, failure_reason, description, homepage,
	repository, latest_version, dist_tags, upvote_count, last_fetch_attempt,
	last_fetch_success, created_at, updated_at`

// GetPackage returns the package identified by (name, registry), or nil.
func (s *Store) GetPackage(ctx context.Context, name string, reg core.Registry) (*Package, error) {
	row := s.queryRow(ctx,
		`SELECT `+packageColumns+` FROM packages WHERE name = ? AND registry = ?`,
		name, string(reg))
	return scanPackage(row)
}

// GetPackageByID returns the package with the given id, or nil.
func (s *Store) GetPackageByID(ctx context.Context, id string) (*Package, error) {
	row := s.queryRow(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = ?`, id)
	return scanPackage(row)
}

// UpsertActivePackage records a successful fetch: the row is created or
// moved to active, its failure reason cleared and its registry metadata
// replaced. upvote_count is never written. Returns the package id.
func (s *Store) UpsertActivePackage(ctx context.Context, name string, reg core.Registry, data *core.PackageData) (string, error) {
	distTags, err := encodeDistTags(data.DistTags)
	if err != nil {
		return "", err
	}

	now := s.nowMillis()
	var id string
	err = s.queryRow(ctx,
		`INSERT INTO packages (id, name, registry, status, description, homepage, repository,
			latest_version, dist_tags, last_fetch_attempt, last_fetch_success, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name, registry) DO UPDATE SET
			status = excluded.status,
			failure_reason = NULL,
			description = excluded.description,
			homepage = excluded.homepage,
			repository = excluded.repository,
			latest_version = excluded.latest_version,
			dist_tags = excluded.dist_tags,
			last_fetch_attempt = excluded.last_fetch_attempt,
			last_fetch_success = excluded.last_fetch_success,
			updated_at = excluded.updated_at
		RETURNING id`,
		uuid.NewString(), name, string(reg), string(PackageActive),
		nullString(data.Description), nullString(data.Homepage), nullString(data.Repository),
		nullString(data.LatestVersion), distTags, now, now, now, now,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert package %s/%s: %w", reg, name, err)
	}
	return id, nil
}

// MarkPackageFailed sets the package's status to failed with reason. An
// existing row keeps its metadata, channels and dependencies; a missing one
// is created. Returns the package id.
func (s *Store) MarkPackageFailed(ctx context.Context, name string, reg core.Registry, reason string) (string, error) {
	now := s.nowMillis()
	var id string
	err := s.queryRow(ctx,
		`INSERT INTO packages (id, name, registry, status, failure_reason, last_fetch_attempt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name, registry) DO UPDATE SET
			status = excluded.status,
			failure_reason = excluded.failure_reason,
			last_fetch_attempt = excluded.last_fetch_attempt,
			updated_at = excluded.updated_at
		RETURNING id`,
		uuid.NewString(), name, string(reg), string(PackageFailed), reason, now, now, now,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("mark package %s/%s failed: %w", reg, name, err)
	}
	return id, nil
}

// EnsurePlaceholder returns the id of (name, registry), creating it with
// status placeholder if it does not exist. created reports whether this call
// inserted the row. Safe to call concurrently for the same name.
func (s *Store) EnsurePlaceholder(ctx context.Context, name string, reg core.Registry) (id string, created bool, err error) {
	now := s.nowMillis()
	res, err := s.exec(ctx,
		`INSERT INTO packages (id, name, registry, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (name, registry) DO NOTHING`,
		uuid.NewString(), name, string(reg), string(PackagePlaceholder), now, now)
	if err != nil {
		return "", false, fmt.Errorf("create placeholder %s/%s: %w", reg, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}

	err = s.queryRow(ctx, `SELECT id FROM packages WHERE name = ? AND registry = ?`, name, string(reg)).Scan(&id)
	if err != nil {
		return "", false, fmt.Errorf("resolve %s/%s: %w", reg, name, err)
	}
	return id, n > 0, nil
}

// PackageNamesByStatus lists the names of packages on reg with the given status.
func (s *Store) PackageNamesByStatus(ctx context.Context, reg core.Registry, status PackageStatus) ([]string, error) {
	rows, err := s.query(ctx,
		`SELECT name FROM packages WHERE registry = ? AND status = ? ORDER BY name`,
		string(reg), string(status))
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// CountPackages returns the number of packages with the given status.
func (s *Store) CountPackages(ctx context.Context, status PackageStatus) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM packages WHERE status = ?`, string(status)).Scan(&n)
	return n, err
}

func encodeDistTags(tags map[string]string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode dist-tags: %w", err)
	}
	return string(b), nil
}

func scanPackage(row *sql.Row) (*Package, error) {
	var (
		p                                               Package
		reg, status                                     string
		failure, desc, homepage, repo, latest, distTags sql.NullString
		lastAttempt, lastSuccess                        sql.NullInt64
		createdAt, updatedAt                            int64
	)
	err := row.Scan(&p.ID, &p.Name, &reg, &status, &failure, &desc, &homepage,
		&repo, &latest, &distTags, &p.UpvoteCount, &lastAttempt, &lastSuccess,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.Registry = core.Registry(reg)
	p.Status = PackageStatus(status)
	p.FailureReason = failure.String
	p.Description = desc.String
	p.Homepage = homepage.String
	p.Repository = repo.String
	p.LatestVersion = latest.String
	if distTags.Valid && distTags.String != "" {
		if err := json.Unmarshal([]byte(distTags.String), &p.DistTags); err != nil {
			return nil, fmt.Errorf("decode dist-tags of %s: %w", p.ID, err)
		}
	}
	p.LastFetchAttempt = fromMillis(lastAttempt)
	p.LastFetchSuccess = fromMillis(lastSuccess)
	p.CreatedAt = fromMillis(sql.NullInt64{Int64: createdAt, Valid: true})
	p.UpdatedAt = fromMillis(sql.NullInt64{Int64: updatedAt, Valid: true})
	return &p, nil
}
