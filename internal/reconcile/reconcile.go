// Package reconcile applies freshly fetched package data to the store as a
// minimal diff of release channels and dependency edges.
package reconcile

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/git-pkgs/pkgsync/internal/core"
	"github.com/git-pkgs/pkgsync/internal/store"
)

// Result counts the writes made by one reconciliation.
type Result struct {
	ChannelsCreated     int
	ChannelsUpdated     int
	ChannelsDeleted     int
	DepsCreated         int
	DepsUpdated         int
	DepsDeleted         int
	PlaceholdersCreated int
}

// Writes returns the total number of rows written.
func (r Result) Writes() int {
	return r.ChannelsCreated + r.ChannelsUpdated + r.ChannelsDeleted +
		r.DepsCreated + r.DepsUpdated + r.DepsDeleted + r.PlaceholdersCreated
}

func (r *Result) add(o Result) {
	r.ChannelsCreated += o.ChannelsCreated
	r.ChannelsUpdated += o.ChannelsUpdated
	r.ChannelsDeleted += o.ChannelsDeleted
	r.DepsCreated += o.DepsCreated
	r.DepsUpdated += o.DepsUpdated
	r.DepsDeleted += o.DepsDeleted
	r.PlaceholdersCreated += o.PlaceholdersCreated
}

// Engine reconciles packages against the store.
type Engine struct {
	store  *store.Store
	logger *log.Logger
}

// New creates an Engine. A nil logger uses log.Default().
func New(s *store.Store, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{store: s, logger: logger}
}

type depRef struct {
	name string
	reg  core.Registry
}

// edge is a resolved dependency ready to be written.
type edge struct {
	packageID    string
	typ          core.DependencyType
	versionRange string
}

// Reconcile makes the stored channels and dependencies of packageID match
// data. Every dependency is resolved to a package id, creating placeholders
// as needed, before any channel is written; if one cannot be resolved the
// whole reconciliation fails with a GraphIntegrity error and nothing else is
// written. Each channel is then applied in its own transaction, and channels
// no longer reported upstream are deleted along with their edges.
func (e *Engine) Reconcile(ctx context.Context, packageID string, reg core.Registry, data *core.PackageData) (Result, error) {
	var res Result

	ids, placeholders, err := e.resolve(ctx, reg, data)
	if err != nil {
		return res, err
	}
	res.PlaceholdersCreated = placeholders

	existing, err := e.store.ListChannels(ctx, packageID)
	if err != nil {
		return res, fmt.Errorf("loading channels: %w", err)
	}
	byName := make(map[string]*store.Channel, len(existing))
	for _, ch := range existing {
		byName[ch.Channel] = ch
	}

	processed := make(map[string]bool, len(data.ReleaseChannels))
	for i := range data.ReleaseChannels {
		rc := &data.ReleaseChannels[i]
		if processed[rc.Channel] {
			continue
		}
		processed[rc.Channel] = true

		edges := buildEdges(rc, reg, ids)
		var chRes Result
		err := e.store.RunTx(ctx, func(tx *store.Store) error {
			chRes = Result{}
			return applyChannel(ctx, tx, packageID, rc, byName[rc.Channel], edges, &chRes)
		})
		if err != nil {
			return res, fmt.Errorf("channel %s: %w", rc.Channel, err)
		}
		res.add(chRes)
	}

	for _, ch := range existing {
		if processed[ch.Channel] {
			continue
		}
		n, err := e.store.DeleteChannel(ctx, ch.ID)
		if err != nil {
			return res, fmt.Errorf("deleting channel %s: %w", ch.Channel, err)
		}
		res.ChannelsDeleted++
		res.DepsDeleted += int(n)
	}

	e.logger.Debug("reconciled", "registry", reg, "package", data.Name,
		"channels_created", res.ChannelsCreated, "channels_updated", res.ChannelsUpdated,
		"channels_deleted", res.ChannelsDeleted, "deps_created", res.DepsCreated,
		"deps_updated", res.DepsUpdated, "deps_deleted", res.DepsDeleted,
		"placeholders", res.PlaceholdersCreated)
	return res, nil
}

// resolve maps every dependency of data to a package id in one transaction.
func (e *Engine) resolve(ctx context.Context, reg core.Registry, data *core.PackageData) (map[depRef]string, int, error) {
	ids := make(map[depRef]string)
	created := 0

	err := e.store.RunTx(ctx, func(tx *store.Store) error {
		created = 0
		clear(ids)
		for _, rc := range data.ReleaseChannels {
			for _, dep := range rc.Dependencies {
				ref := refOf(dep, reg)
				if _, ok := ids[ref]; ok {
					continue
				}
				if ref.name == "" {
					return core.GraphIntegrity(reg, data.Name,
						fmt.Errorf("channel %s has a dependency with no name", rc.Channel))
				}
				id, isNew, err := tx.EnsurePlaceholder(ctx, ref.name, ref.reg)
				if err != nil {
					return core.GraphIntegrity(reg, data.Name, err)
				}
				if id == "" {
					return core.GraphIntegrity(reg, data.Name,
						fmt.Errorf("dependency %s/%s did not resolve", ref.reg, ref.name))
				}
				ids[ref] = id
				if isNew {
					created++
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return ids, created, nil
}

// buildEdges returns the channel's edges keyed by store.DependencyKey. When
// the same package and type appear twice the first range wins.
// refOf names the package dep points at. An empty registry means reg.
func refOf(dep core.Dependency, reg core.Registry) depRef {
	depReg := core.Coalesce(dep.Registry, reg)
	return depRef{name: core.NormalizeName(depReg, dep.Name), reg: depReg}
}

func buildEdges(rc *core.ReleaseChannel, reg core.Registry, ids map[depRef]string) map[string]edge {
	edges := make(map[string]edge, len(rc.Dependencies))
	for _, dep := range rc.Dependencies {
		id := ids[refOf(dep, reg)]
		typ := core.Coalesce(dep.Type, core.Runtime)
		key := store.DependencyKey(id, typ)
		if _, ok := edges[key]; ok {
			continue
		}
		edges[key] = edge{
			packageID:    id,
			typ:          typ,
			versionRange: core.Coalesce(dep.VersionRange, core.AnyRange),
		}
	}
	return edges
}

func applyChannel(ctx context.Context, tx *store.Store, packageID string, rc *core.ReleaseChannel, old *store.Channel, edges map[string]edge, res *Result) error {
	if old == nil {
		id, err := tx.InsertChannel(ctx, packageID, rc.Channel, rc.Version, rc.PublishedAt)
		if err != nil {
			return err
		}
		res.ChannelsCreated++
		for _, ed := range edges {
			if err := tx.InsertChannelDependency(ctx, id, ed.packageID, ed.typ, ed.versionRange); err != nil {
				return err
			}
			res.DepsCreated++
		}
		return nil
	}

	if old.Version != rc.Version {
		if err := tx.UpdateChannelVersion(ctx, old.ID, rc.Version, rc.PublishedAt); err != nil {
			return err
		}
		res.ChannelsUpdated++
	}

	current, err := tx.ListChannelDependencies(ctx, old.ID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(current))
	for _, d := range current {
		key := d.Key()
		seen[key] = true
		ed, keep := edges[key]
		switch {
		case !keep:
			if err := tx.DeleteChannelDependency(ctx, d.ID); err != nil {
				return err
			}
			res.DepsDeleted++
		case ed.versionRange != d.VersionRange:
			if err := tx.UpdateDependencyRange(ctx, d.ID, ed.versionRange); err != nil {
				return err
			}
			res.DepsUpdated++
		}
	}
	for key, ed := range edges {
		if seen[key] {
			continue
		}
		if err := tx.InsertChannelDependency(ctx, old.ID, ed.packageID, ed.typ, ed.versionRange); err != nil {
			return err
		}
		res.DepsCreated++
	}
	return nil
}
