package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/git-pkgs/pkgsync/internal/core"
)

// ListChannelDependencies returns the dependency rows of a channel.
func (s *Store) ListChannelDependencies(ctx context.Context, channelID string) ([]*ChannelDependency, error) {
	rows, err := s.query(ctx,
		`SELECT id, channel_id, dependency_package_id, dependency_type, dependency_version_range
		FROM channel_dependencies WHERE channel_id = ?
		ORDER BY dependency_package_id, dependency_type`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ChannelDependency
	for rows.Next() {
		var (
			d   ChannelDependency
			typ string
		)
		if err := rows.Scan(&d.ID, &d.ChannelID, &d.DependencyPackageID, &typ, &d.VersionRange); err != nil {
			return nil, err
		}
		d.Type = core.DependencyType(typ)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// InsertChannelDependency adds one dependency edge.
func (s *Store) InsertChannelDependency(ctx context.Context, channelID, depPackageID string, typ core.DependencyType, versionRange string) error {
	_, err := s.exec(ctx,
		`INSERT INTO channel_dependencies (id, channel_id, dependency_package_id, dependency_type,
			dependency_version_range, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), channelID, depPackageID, string(typ), versionRange, s.nowMillis())
	if err != nil {
		return fmt.Errorf("insert dependency %s: %w", DependencyKey(depPackageID, typ), err)
	}
	return nil
}

// UpdateDependencyRange replaces the raw version range of an edge.
func (s *Store) UpdateDependencyRange(ctx context.Context, id, versionRange string) error {
	_, err := s.exec(ctx,
		`UPDATE channel_dependencies SET dependency_version_range = ? WHERE id = ?`, versionRange, id)
	return err
}

// DeleteChannelDependency removes one edge.
func (s *Store) DeleteChannelDependency(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `DELETE FROM channel_dependencies WHERE id = ?`, id)
	return err
}

// CountPackageDependencies returns the number of edges across all channels
// of a package.
func (s *Store) CountPackageDependencies(ctx context.Context, packageID string) (int, error) {
	var n int
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM channel_dependencies d
		JOIN release_channels c ON c.id = d.channel_id
		WHERE c.package_id = ?`, packageID).Scan(&n)
	return n, err
}

// DanglingDependencies counts edges whose channel or target package row is
// missing. A consistent graph always reports zero.
func (s *Store) DanglingDependencies(ctx context.Context) (int, error) {
	var n int
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM channel_dependencies d
		LEFT JOIN packages p ON p.id = d.dependency_package_id
		LEFT JOIN release_channels c ON c.id = d.channel_id
		WHERE p.id IS NULL OR c.id IS NULL`).Scan(&n)
	return n, err
}
