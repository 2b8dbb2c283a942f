package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ListChannels returns the release channels of a package ordered by name.
func (s *Store) ListChannels(ctx context.Context, packageID string) ([]*Channel, error) {
	rows, err := s.query(ctx,
		`SELECT id, package_id, channel, version, published_at
		FROM release_channels WHERE package_id = ? ORDER BY channel`, packageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Channel
	for rows.Next() {
		var (
			c         Channel
			published sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.PackageID, &c.Channel, &c.Version, &published); err != nil {
			return nil, err
		}
		c.PublishedAt = fromMillis(published)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// InsertChannel creates a release channel and returns its id.
func (s *Store) InsertChannel(ctx context.Context, packageID, channel, version string, publishedAt time.Time) (string, error) {
	id := uuid.NewString()
	now := s.nowMillis()
	_, err := s.exec(ctx,
		`INSERT INTO release_channels (id, package_id, channel, version, published_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, packageID, channel, version, millis(publishedAt), now, now)
	if err != nil {
		return "", fmt.Errorf("insert channel %s: %w", channel, err)
	}
	return id, nil
}

// UpdateChannelVersion points a channel at a new version.
func (s *Store) UpdateChannelVersion(ctx context.Context, id, version string, publishedAt time.Time) error {
	_, err := s.exec(ctx,
		`UPDATE release_channels SET version = ?, published_at = ?, updated_at = ? WHERE id = ?`,
		version, millis(publishedAt), s.nowMillis(), id)
	return err
}

// DeleteChannel removes a channel and its dependency rows, edges first.
func (s *Store) DeleteChannel(ctx context.Context, id string) (depsDeleted int64, err error) {
	err = s.RunTx(ctx, func(tx *Store) error {
		res, err := tx.exec(ctx, `DELETE FROM channel_dependencies WHERE channel_id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete channel dependencies: %w", err)
		}
		if depsDeleted, err = res.RowsAffected(); err != nil {
			return err
		}
		if _, err := tx.exec(ctx, `DELETE FROM release_channels WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete channel: %w", err)
		}
		return nil
	})
	return depsDeleted, err
}
