package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/git-pkgs/pkgsync/internal/core"
	"github.com/git-pkgs/pkgsync/internal/store"
)

func setup(t *testing.T, name string) (*Engine, *store.Store, string) {
	t.Helper()
	s := store.OpenMemory(t)
	id, err := s.UpsertActivePackage(context.Background(), name, core.NPM, &core.PackageData{Name: name})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return New(s, nil), s, id
}

func channel(name, version string, deps ...core.Dependency) core.ReleaseChannel {
	return core.ReleaseChannel{Channel: name, Version: version, Dependencies: deps}
}

func runtimeDep(name, rng string) core.Dependency {
	return core.Dependency{Name: name, VersionRange: rng, Type: core.Runtime}
}

func TestReconcileNewPackage(t *testing.T) {
	e, s, id := setup(t, "express")
	ctx := context.Background()

	data := &core.PackageData{
		Name: "express",
		ReleaseChannels: []core.ReleaseChannel{
			channel("latest", "4.19.2",
				runtimeDep("body-parser", "1.20.2"),
				core.Dependency{Name: "mocha", VersionRange: "^10", Type: core.Dev}),
			channel("next", "5.0.0-beta.3", runtimeDep("body-parser", "2.0.0-beta.2")),
		},
	}

	res, err := e.Reconcile(ctx, id, core.NPM, data)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := Result{ChannelsCreated: 2, DepsCreated: 3, PlaceholdersCreated: 2}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}

	chans, _ := s.ListChannels(ctx, id)
	if len(chans) != 2 || chans[0].Channel != "latest" || chans[1].Channel != "next" {
		t.Fatalf("channels = %+v", chans)
	}
	bp, _ := s.GetPackage(ctx, "body-parser", core.NPM)
	if bp == nil || bp.Status != store.PackagePlaceholder {
		t.Errorf("body-parser = %+v, want placeholder", bp)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	e, _, id := setup(t, "express")
	ctx := context.Background()

	data := &core.PackageData{
		Name: "express",
		ReleaseChannels: []core.ReleaseChannel{
			channel("latest", "4.19.2", runtimeDep("a", "^1"), runtimeDep("b", "^2")),
		},
	}
	if _, err := e.Reconcile(ctx, id, core.NPM, data); err != nil {
		t.Fatal(err)
	}
	res, err := e.Reconcile(ctx, id, core.NPM, data)
	if err != nil {
		t.Fatal(err)
	}
	if res.Writes() != 0 {
		t.Errorf("second reconcile wrote %d rows: %+v", res.Writes(), res)
	}
}

func TestReconcileChannelDiff(t *testing.T) {
	e, s, id := setup(t, "pkg")
	ctx := context.Background()

	old := &core.PackageData{ReleaseChannels: []core.ReleaseChannel{
		channel("A", "v1"),
		channel("B", "v2", runtimeDep("dep-b", "*")),
	}}
	if _, err := e.Reconcile(ctx, id, core.NPM, old); err != nil {
		t.Fatal(err)
	}
	chans, _ := s.ListChannels(ctx, id)
	aID := chans[0].ID

	next := &core.PackageData{ReleaseChannels: []core.ReleaseChannel{
		channel("A", "v1"),
		channel("C", "v3"),
	}}
	res, err := e.Reconcile(ctx, id, core.NPM, next)
	if err != nil {
		t.Fatal(err)
	}
	want := Result{ChannelsCreated: 1, ChannelsDeleted: 1, DepsDeleted: 1}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}

	chans, _ = s.ListChannels(ctx, id)
	if len(chans) != 2 || chans[0].Channel != "A" || chans[1].Channel != "C" {
		t.Fatalf("channels = %+v", chans)
	}
	if chans[0].ID != aID || chans[0].Version != "v1" {
		t.Errorf("channel A was rewritten: %+v", chans[0])
	}
	if n, _ := s.DanglingDependencies(ctx); n != 0 {
		t.Errorf("dangling = %d", n)
	}
	// The dependency target stays; ingestion never deletes packages.
	if p, _ := s.GetPackage(ctx, "dep-b", core.NPM); p == nil {
		t.Error("dep-b package was deleted")
	}
}

func TestReconcileDependencyDiff(t *testing.T) {
	e, s, id := setup(t, "pkg")
	ctx := context.Background()
	published := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	first := &core.PackageData{ReleaseChannels: []core.ReleaseChannel{
		channel("latest", "1.0.0", runtimeDep("keep", "^1"), runtimeDep("drop", "^1"), runtimeDep("bump", "^1")),
	}}
	if _, err := e.Reconcile(ctx, id, core.NPM, first); err != nil {
		t.Fatal(err)
	}

	second := &core.PackageData{ReleaseChannels: []core.ReleaseChannel{{
		Channel:     "latest",
		Version:     "1.1.0",
		PublishedAt: published,
		Dependencies: []core.Dependency{
			runtimeDep("keep", "^1"),
			runtimeDep("bump", "^2"),
			{Name: "keep", VersionRange: "^1", Type: core.Peer},
			runtimeDep("added", "~3"),
		},
	}}}
	res, err := e.Reconcile(ctx, id, core.NPM, second)
	if err != nil {
		t.Fatal(err)
	}
	want := Result{ChannelsUpdated: 1, DepsCreated: 2, DepsUpdated: 1, DepsDeleted: 1, PlaceholdersCreated: 1}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}

	chans, _ := s.ListChannels(ctx, id)
	if chans[0].Version != "1.1.0" || !chans[0].PublishedAt.Equal(published) {
		t.Errorf("channel = %+v", chans[0])
	}
	deps, _ := s.ListChannelDependencies(ctx, chans[0].ID)
	if len(deps) != 4 {
		t.Errorf("got %d deps, want 4", len(deps))
	}
	bump, _ := s.GetPackage(ctx, "bump", core.NPM)
	for _, d := range deps {
		if d.DependencyPackageID == bump.ID && d.VersionRange != "^2" {
			t.Errorf("bump range = %q, want ^2", d.VersionRange)
		}
	}
}

func TestReconcileSharedPlaceholder(t *testing.T) {
	e, s, id := setup(t, "p")
	ctx := context.Background()

	data := &core.PackageData{ReleaseChannels: []core.ReleaseChannel{
		channel("latest", "1.0.0", runtimeDep("q", "^1")),
		channel("next", "2.0.0", runtimeDep("q", "^2")),
	}}
	res, err := e.Reconcile(ctx, id, core.NPM, data)
	if err != nil {
		t.Fatal(err)
	}
	if res.PlaceholdersCreated != 1 {
		t.Errorf("placeholders = %d, want 1", res.PlaceholdersCreated)
	}
	names, _ := s.PackageNamesByStatus(ctx, core.NPM, store.PackagePlaceholder)
	if len(names) != 1 || names[0] != "q" {
		t.Errorf("placeholders = %v", names)
	}
}

func TestReconcileCrossRegistryDependency(t *testing.T) {
	s := store.OpenMemory(t)
	ctx := context.Background()
	id, _ := s.UpsertActivePackage(ctx, "@std/path", core.JSR, &core.PackageData{})
	e := New(s, nil)

	data := &core.PackageData{ReleaseChannels: []core.ReleaseChannel{
		channel("latest", "1.0.0",
			core.Dependency{Name: "@std/assert", VersionRange: "^1", Type: core.Runtime},
			core.Dependency{Name: "chalk", VersionRange: "^5", Type: core.Runtime, Registry: core.NPM}),
	}}
	if _, err := e.Reconcile(ctx, id, core.JSR, data); err != nil {
		t.Fatal(err)
	}
	if p, _ := s.GetPackage(ctx, "@std/assert", core.JSR); p == nil {
		t.Error("@std/assert not created on jsr")
	}
	if p, _ := s.GetPackage(ctx, "chalk", core.NPM); p == nil {
		t.Error("chalk not created on npm")
	}
}

func TestReconcileNuGetIdsCaseInsensitive(t *testing.T) {
	s := store.OpenMemory(t)
	ctx := context.Background()
	id, _ := s.UpsertActivePackage(ctx, "serilog.sinks.file", core.NuGet, &core.PackageData{})
	e := New(s, nil)

	data := &core.PackageData{ReleaseChannels: []core.ReleaseChannel{
		channel("latest", "5.0.0", runtimeDep("Serilog", "[2.10.0, )")),
		channel("next", "6.0.0-dev", runtimeDep("serilog", "[3.0.0, )")),
	}}
	res, err := e.Reconcile(ctx, id, core.NuGet, data)
	if err != nil {
		t.Fatal(err)
	}
	if res.PlaceholdersCreated != 1 {
		t.Errorf("placeholders = %d, want 1", res.PlaceholdersCreated)
	}
	if p, _ := s.GetPackage(ctx, "serilog", core.NuGet); p == nil {
		t.Error("serilog placeholder not stored lowercase")
	}
	if p, _ := s.GetPackage(ctx, "Serilog", core.NuGet); p != nil {
		t.Error("placeholder stored with upstream casing")
	}
}

func TestReconcileGraphIntegrity(t *testing.T) {
	e, s, id := setup(t, "pkg")
	ctx := context.Background()

	data := &core.PackageData{Name: "pkg", ReleaseChannels: []core.ReleaseChannel{
		channel("latest", "1.0.0", runtimeDep("fine", "*")),
		channel("next", "2.0.0", runtimeDep("", "*")),
	}}
	_, err := e.Reconcile(ctx, id, core.NPM, data)
	if core.KindOf(err) != core.KindGraphIntegrity {
		t.Fatalf("err = %v, want graph integrity", err)
	}

	if chans, _ := s.ListChannels(ctx, id); len(chans) != 0 {
		t.Errorf("channels written despite failure: %+v", chans)
	}
	if p, _ := s.GetPackage(ctx, "fine", core.NPM); p != nil {
		t.Error("placeholder survived failed resolution")
	}
}

func TestReconcileDefaults(t *testing.T) {
	e, s, id := setup(t, "pkg")
	ctx := context.Background()

	data := &core.PackageData{ReleaseChannels: []core.ReleaseChannel{
		channel("latest", "1.0.0", core.Dependency{Name: "x"}, core.Dependency{Name: "x", VersionRange: "^9"}),
		channel("latest", "9.9.9"),
	}}
	res, err := e.Reconcile(ctx, id, core.NPM, data)
	if err != nil {
		t.Fatal(err)
	}
	if res.ChannelsCreated != 1 || res.DepsCreated != 1 {
		t.Errorf("result = %+v", res)
	}
	chans, _ := s.ListChannels(ctx, id)
	deps, _ := s.ListChannelDependencies(ctx, chans[0].ID)
	if chans[0].Version != "1.0.0" || deps[0].Type != core.Runtime || deps[0].VersionRange != core.AnyRange {
		t.Errorf("channel %+v dep %+v", chans[0], deps[0])
	}
}
