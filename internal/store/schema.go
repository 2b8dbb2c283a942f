package store

import (
	"context"
	"fmt"
)

// schema is bootstrap DDL valid on both SQLite and Postgres. Every statement
// is idempotent; this is not a migration system.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS packages (
		id                 TEXT PRIMARY KEY,
		name               TEXT NOT NULL,
		registry           TEXT NOT NULL,
		status             TEXT NOT NULL,
		failure_reason     TEXT,
		description        TEXT,
		homepage           TEXT,
		repository         TEXT,
		latest_version     TEXT,
		dist_tags          TEXT,
		upvote_count       INTEGER NOT NULL DEFAULT 0,
		last_fetch_attempt BIGINT,
		last_fetch_success BIGINT,
		created_at         BIGINT NOT NULL,
		updated_at         BIGINT NOT NULL,
		UNIQUE (name, registry)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_packages_registry_status ON packages (registry, status)`,

	`CREATE TABLE IF NOT EXISTS release_channels (
		id           TEXT PRIMARY KEY,
		package_id   TEXT NOT NULL REFERENCES packages (id),
		channel      TEXT NOT NULL,
		version      TEXT NOT NULL,
		published_at BIGINT,
		created_at   BIGINT NOT NULL,
		updated_at   BIGINT NOT NULL,
		UNIQUE (package_id, channel)
	)`,

	`CREATE TABLE IF NOT EXISTS channel_dependencies (
		id                       TEXT PRIMARY KEY,
		channel_id               TEXT NOT NULL REFERENCES release_channels (id),
		dependency_package_id    TEXT NOT NULL REFERENCES packages (id),
		dependency_type          TEXT NOT NULL,
		dependency_version_range TEXT NOT NULL,
		created_at               BIGINT NOT NULL,
		UNIQUE (channel_id, dependency_package_id, dependency_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_channel_dependencies_target ON channel_dependencies (dependency_package_id)`,

	`CREATE TABLE IF NOT EXISTS package_requests (
		id            TEXT PRIMARY KEY,
		package_name  TEXT NOT NULL,
		registry      TEXT NOT NULL,
		status        TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		package_id    TEXT REFERENCES packages (id),
		created_at    BIGINT NOT NULL,
		updated_at    BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_package_requests_pending
		ON package_requests (package_name, registry) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_package_requests_status ON package_requests (status, created_at)`,

	`CREATE TABLE IF NOT EXISTS package_fetches (
		id            TEXT PRIMARY KEY,
		package_id    TEXT NOT NULL REFERENCES packages (id),
		status        TEXT NOT NULL,
		error_message TEXT,
		created_at    BIGINT NOT NULL,
		updated_at    BIGINT NOT NULL,
		completed_at  BIGINT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_package_fetches_pending
		ON package_fetches (package_id) WHERE status = 'pending'`,

	`CREATE TABLE IF NOT EXISTS contribution_events (
		id         TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		points     BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contribution_events_account ON contribution_events (account_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS contribution_scores (
		account_id         TEXT PRIMARY KEY,
		all_time_score     BIGINT NOT NULL,
		monthly_score      BIGINT NOT NULL,
		last_calculated_at BIGINT NOT NULL,
		updated_at         BIGINT NOT NULL
	)`,
}

// postgresSchema gives the queue tables an insertion sequence. SQLite
// orders by rowid instead.
var postgresSchema = []string{
	`ALTER TABLE package_requests ADD COLUMN IF NOT EXISTS seq BIGSERIAL`,
	`ALTER TABLE package_fetches ADD COLUMN IF NOT EXISTS seq BIGSERIAL`,
}

// Tables lists the tables created by ApplySchema.
var Tables = []string{
	"packages",
	"release_channels",
	"channel_dependencies",
	"package_requests",
	"package_fetches",
	"contribution_events",
	"contribution_scores",
}

// ApplySchema creates all tables and indexes if they do not exist.
func (s *Store) ApplySchema(ctx context.Context) error {
	stmts := schema
	if s.dialect == Postgres {
		stmts = append(stmts[:len(stmts):len(stmts)], postgresSchema...)
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: apply schema: %w", err)
		}
	}
	return nil
}
