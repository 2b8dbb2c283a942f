package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/git-pkgs/pkgsync/internal/core"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// openTestStore returns an in-memory store whose clock is fixed at t0 and
// can be moved with the returned setter.
func openTestStore(t *testing.T) (*Store, func(time.Time)) {
	t.Helper()
	s := OpenMemory(t)
	now := t0
	s.SetClock(func() time.Time { return now })
	return s, func(t time.Time) { now = t }
}

func TestApplySchema(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	for _, table := range Tables {
		var name string
		err := s.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	if err := s.ApplySchema(ctx); err != nil {
		t.Fatalf("second ApplySchema: %v", err)
	}

	var fk int
	if err := s.DB().QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil || fk != 1 {
		t.Fatalf("foreign_keys = %d, %v", fk, err)
	}
}

func TestUpsertActivePackage(t *testing.T) {
	s, setNow := openTestStore(t)
	ctx := context.Background()

	data := &core.PackageData{
		Name:          "left-pad",
		Description:   "String left pad",
		Repository:    "https://github.com/stevemao/left-pad",
		LatestVersion: "1.3.0",
		DistTags:      map[string]string{"latest": "1.3.0"},
	}
	id, err := s.UpsertActivePackage(ctx, "left-pad", core.NPM, data)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// The web application owns upvotes.
	if _, err := s.DB().Exec(`UPDATE packages SET upvote_count = 7 WHERE id = ?`, id); err != nil {
		t.Fatal(err)
	}

	setNow(t0.Add(time.Hour))
	data.LatestVersion = "1.3.1"
	id2, err := s.UpsertActivePackage(ctx, "left-pad", core.NPM, data)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id2 != id {
		t.Fatalf("upsert changed id: %s -> %s", id, id2)
	}

	p, err := s.GetPackage(ctx, "left-pad", core.NPM)
	if err != nil || p == nil {
		t.Fatalf("get: %v, %v", p, err)
	}
	if p.Status != PackageActive || p.LatestVersion != "1.3.1" || p.UpvoteCount != 7 {
		t.Errorf("unexpected package: %+v", p)
	}
	if p.DistTags["latest"] != "1.3.0" {
		t.Errorf("dist-tags = %v", p.DistTags)
	}
	if !p.CreatedAt.Equal(t0) || !p.UpdatedAt.Equal(t0.Add(time.Hour)) || !p.LastFetchSuccess.Equal(t0.Add(time.Hour)) {
		t.Errorf("timestamps: created %v updated %v success %v", p.CreatedAt, p.UpdatedAt, p.LastFetchSuccess)
	}

	if p, err := s.GetPackage(ctx, "left-pad", core.JSR); p != nil || err != nil {
		t.Errorf("other registry: got %v, %v; want nil, nil", p, err)
	}
}

func TestMarkPackageFailedPreservesMetadata(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertActivePackage(ctx, "react", core.NPM, &core.PackageData{Description: "UI"})
	if err != nil {
		t.Fatal(err)
	}
	failedID, err := s.MarkPackageFailed(ctx, "react", core.NPM, "schema_drift: npm react")
	if err != nil {
		t.Fatal(err)
	}
	if failedID != id {
		t.Fatalf("id changed: %s -> %s", id, failedID)
	}

	p, _ := s.GetPackageByID(ctx, id)
	if p.Status != PackageFailed || p.FailureReason != "schema_drift: npm react" || p.Description != "UI" {
		t.Errorf("unexpected package: %+v", p)
	}

	// Recovery clears the reason.
	if _, err := s.UpsertActivePackage(ctx, "react", core.NPM, &core.PackageData{}); err != nil {
		t.Fatal(err)
	}
	p, _ = s.GetPackageByID(ctx, id)
	if p.Status != PackageActive || p.FailureReason != "" {
		t.Errorf("expected active with no reason, got %+v", p)
	}

	// Failing an unknown package creates it.
	newID, err := s.MarkPackageFailed(ctx, "ghost", core.NPM, "not_found: npm ghost")
	if err != nil || newID == "" {
		t.Fatalf("mark unknown failed: %q, %v", newID, err)
	}
}

func TestEnsurePlaceholder(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	id, created, err := s.EnsurePlaceholder(ctx, "is-odd", core.NPM)
	if err != nil || !created {
		t.Fatalf("first: %q %v %v", id, created, err)
	}
	id2, created, err := s.EnsurePlaceholder(ctx, "is-odd", core.NPM)
	if err != nil || created || id2 != id {
		t.Fatalf("second: %q %v %v", id2, created, err)
	}

	names, err := s.PackageNamesByStatus(ctx, core.NPM, PackagePlaceholder)
	if err != nil || len(names) != 1 || names[0] != "is-odd" {
		t.Errorf("placeholders = %v, %v", names, err)
	}

	// An existing active package is never downgraded.
	activeID, _ := s.UpsertActivePackage(ctx, "react", core.NPM, &core.PackageData{})
	got, created, _ := s.EnsurePlaceholder(ctx, "react", core.NPM)
	p, _ := s.GetPackageByID(ctx, got)
	if got != activeID || created || p.Status != PackageActive {
		t.Errorf("active package touched: %+v", p)
	}
}

func TestChannelsAndDependencies(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	pkgID, _ := s.UpsertActivePackage(ctx, "express", core.NPM, &core.PackageData{})
	depID, _, _ := s.EnsurePlaceholder(ctx, "body-parser", core.NPM)

	chID, err := s.InsertChannel(ctx, pkgID, "latest", "4.19.0", t0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertChannelDependency(ctx, chID, depID, core.Runtime, "1.20.2"); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertChannelDependency(ctx, chID, depID, core.Dev, "*"); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertChannelDependency(ctx, chID, depID, core.Runtime, "1.20.3"); err == nil {
		t.Error("expected unique violation for duplicate edge")
	}

	deps, err := s.ListChannelDependencies(ctx, chID)
	if err != nil || len(deps) != 2 {
		t.Fatalf("deps = %v, %v", deps, err)
	}

	if err := s.UpdateChannelVersion(ctx, chID, "4.19.1", time.Time{}); err != nil {
		t.Fatal(err)
	}
	chans, _ := s.ListChannels(ctx, pkgID)
	if len(chans) != 1 || chans[0].Version != "4.19.1" || !chans[0].PublishedAt.IsZero() {
		t.Errorf("channels = %+v", chans[0])
	}

	n, err := s.DeleteChannel(ctx, chID)
	if err != nil || n != 2 {
		t.Fatalf("delete channel: %d, %v", n, err)
	}
	if c, _ := s.CountPackageDependencies(ctx, pkgID); c != 0 {
		t.Errorf("remaining deps = %d", c)
	}
	if d, _ := s.DanglingDependencies(ctx); d != 0 {
		t.Errorf("dangling = %d", d)
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	pkgID, _ := s.UpsertActivePackage(ctx, "a", core.NPM, &core.PackageData{})
	chID, _ := s.InsertChannel(ctx, pkgID, "latest", "1.0.0", time.Time{})

	if err := s.InsertChannelDependency(ctx, chID, "no-such-package", core.Runtime, "*"); err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestRunTxRollback(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunTx(ctx, func(tx *Store) error {
		if _, _, err := tx.EnsurePlaceholder(ctx, "x", core.NPM); err != nil {
			return err
		}
		// nested calls join the outer transaction
		return tx.RunTx(ctx, func(inner *Store) error { return boom })
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if p, _ := s.GetPackage(ctx, "x", core.NPM); p != nil {
		t.Error("placeholder survived rollback")
	}
}

func TestRequestQueue(t *testing.T) {
	s, setNow := openTestStore(t)
	ctx := context.Background()

	n, err := s.CreateRequests(ctx, core.NPM, []string{"a", "b", "c"})
	if err != nil || n != 3 {
		t.Fatalf("create: %d, %v", n, err)
	}
	n, err = s.CreateRequests(ctx, core.NPM, []string{"a", "d"})
	if err != nil || n != 1 {
		t.Fatalf("dedup create: %d, %v", n, err)
	}
	if created, _ := s.CreateRequest(ctx, "a", core.JSR); !created {
		t.Error("same name on another registry should be created")
	}

	active, _ := s.ActiveRequestNames(ctx, core.NPM)
	if len(active) != 4 {
		t.Errorf("active = %v", active)
	}

	reqs, err := s.NextRequests(ctx, 3, 50)
	if err != nil || len(reqs) != 5 {
		t.Fatalf("next = %d, %v", len(reqs), err)
	}

	a := reqs[0]
	attempts, err := s.MarkRequestFetching(ctx, a.ID)
	if err != nil || attempts != 1 {
		t.Fatalf("fetching: %d, %v", attempts, err)
	}

	// While a is fetching a new pending request for it can be queued.
	if created, _ := s.CreateRequest(ctx, a.PackageName, a.Registry); !created {
		t.Error("expected new pending request while fetching")
	}

	if err := s.FailRequest(ctx, a.ID, RequestFailed, "not_found", ""); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetRequest(ctx, a.ID)
	if got.Status != RequestFailed || got.AttemptCount != 1 || got.ErrorMessage != "not_found" {
		t.Errorf("after fail: %+v", got)
	}

	// Retry-eligible failures are picked up; exhausted ones are not.
	for range 2 {
		_, _ = s.MarkRequestFetching(ctx, a.ID)
	}
	_ = s.FailRequest(ctx, a.ID, RequestFailed, "not_found", "")
	reqs, _ = s.NextRequests(ctx, 3, 50)
	for _, r := range reqs {
		if r.ID == a.ID {
			t.Error("request with 3 attempts should not be retried")
		}
	}

	if err := s.FailRequest(ctx, a.ID, RequestCompleted, "", ""); err == nil {
		t.Error("FailRequest accepted completed status")
	}

	setNow(t0.Add(time.Minute))
	pkgID, _ := s.UpsertActivePackage(ctx, "b", core.NPM, &core.PackageData{})
	if err := s.CompleteRequest(ctx, reqs[0].ID, pkgID); err != nil {
		t.Fatal(err)
	}
	done, _ := s.GetRequest(ctx, reqs[0].ID)
	if done.Status != RequestCompleted || done.PackageID != pkgID {
		t.Errorf("completed = %+v", done)
	}

	if r, err := s.GetRequest(ctx, "missing"); r != nil || err != nil {
		t.Errorf("missing request: %v, %v", r, err)
	}
}

func TestNextRequestsLimitAndOrder(t *testing.T) {
	s, setNow := openTestStore(t)
	ctx := context.Background()

	for i, name := range []string{"first", "second", "third"} {
		setNow(t0.Add(time.Duration(i) * time.Second))
		if _, err := s.CreateRequest(ctx, name, core.NPM); err != nil {
			t.Fatal(err)
		}
	}

	reqs, err := s.NextRequests(ctx, 3, 2)
	if err != nil || len(reqs) != 2 {
		t.Fatalf("got %d, %v", len(reqs), err)
	}
	if reqs[0].PackageName != "first" || reqs[1].PackageName != "second" {
		t.Errorf("order = %s, %s", reqs[0].PackageName, reqs[1].PackageName)
	}
}

func TestNextRequestsSameMillisecond(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, name := range names[:4] {
		if _, err := s.CreateRequest(ctx, name, core.NPM); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.CreateRequests(ctx, core.NPM, names[4:]); err != nil {
		t.Fatal(err)
	}

	reqs, err := s.NextRequests(ctx, 3, 50)
	if err != nil || len(reqs) != len(names) {
		t.Fatalf("got %d, %v", len(reqs), err)
	}
	for i, r := range reqs {
		if r.PackageName != names[i] {
			t.Errorf("position %d = %s, want %s", i, r.PackageName, names[i])
		}
	}
}

func TestResetStaleRequests(t *testing.T) {
	s, setNow := openTestStore(t)
	ctx := context.Background()

	_, _ = s.CreateRequests(ctx, core.NPM, []string{"stuck", "dup", "fresh"})
	reqs, _ := s.NextRequests(ctx, 3, 10)
	ids := map[string]string{}
	for _, r := range reqs {
		ids[r.PackageName] = r.ID
		_, _ = s.MarkRequestFetching(ctx, r.ID)
	}
	// dup already has a newer pending request
	_, _ = s.CreateRequest(ctx, "dup", core.NPM)

	setNow(t0.Add(2 * time.Hour))
	_, _ = s.MarkRequestFetching(ctx, ids["fresh"])

	n, err := s.ResetStaleRequests(ctx, t0.Add(time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("reset = %d, %v", n, err)
	}

	want := map[string]RequestStatus{"stuck": RequestPending, "dup": RequestFailed, "fresh": RequestFetching}
	for name, status := range want {
		r, _ := s.GetRequest(ctx, ids[name])
		if r.Status != status {
			t.Errorf("%s: status = %s, want %s", name, r.Status, status)
		}
	}
}

func TestFetchQueue(t *testing.T) {
	s, setNow := openTestStore(t)
	ctx := context.Background()

	oldID, _ := s.UpsertActivePackage(ctx, "old", core.NPM, &core.PackageData{})
	_, _, _ = s.EnsurePlaceholder(ctx, "placeholder", core.NPM)
	setNow(t0.Add(23 * time.Hour))
	_, _ = s.UpsertActivePackage(ctx, "recent", core.NPM, &core.PackageData{})
	setNow(t0.Add(25 * time.Hour))

	due, err := s.PackagesDueForRefresh(ctx, s.Now().Add(-24*time.Hour), 10)
	if err != nil || len(due) != 1 || due[0] != oldID {
		t.Fatalf("due = %v, %v", due, err)
	}

	created, err := s.CreateFetch(ctx, oldID)
	if err != nil || !created {
		t.Fatalf("create fetch: %v, %v", created, err)
	}
	if created, _ := s.CreateFetch(ctx, oldID); created {
		t.Error("duplicate pending fetch created")
	}
	if due, _ := s.PackagesDueForRefresh(ctx, s.Now().Add(-24*time.Hour), 10); len(due) != 0 {
		t.Errorf("package with pending fetch still due: %v", due)
	}

	fetches, err := s.NextFetches(ctx, 10)
	if err != nil || len(fetches) != 1 {
		t.Fatalf("next fetches = %v, %v", fetches, err)
	}
	f := fetches[0]
	if f.PackageName != "old" || f.Registry != core.NPM || f.Status != FetchPending {
		t.Errorf("fetch = %+v", f)
	}

	if err := s.FailFetch(ctx, f.ID, "recently_updated"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetFetch(ctx, f.ID)
	if got.Status != FetchFailed || got.ErrorMessage != "recently_updated" || got.CompletedAt.IsZero() {
		t.Errorf("failed fetch = %+v", got)
	}

	// A finished fetch no longer blocks a new one.
	if created, _ := s.CreateFetch(ctx, oldID); !created {
		t.Error("expected new pending fetch after failure")
	}
}

func TestScores(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	for i, pts := range []int64{5, 3, 2} {
		if _, err := s.InsertContributionEvent(ctx, "acct", pts, t0.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}

	accts, err := s.AccountsNeedingScore(ctx)
	if err != nil || len(accts) != 1 {
		t.Fatalf("accounts = %v, %v", accts, err)
	}

	sum, err := s.SumEventsAfter(ctx, "acct", time.Time{})
	if err != nil || sum.Points != 10 || sum.Count != 3 || !sum.MaxCreatedAt.Equal(t0.Add(2*time.Minute)) {
		t.Fatalf("sum all = %+v, %v", sum, err)
	}
	sum, _ = s.SumEventsAfter(ctx, "acct", t0.Add(time.Minute))
	if sum.Points != 2 || sum.Count != 1 {
		t.Errorf("sum after = %+v", sum)
	}
	empty, _ := s.SumEventsAfter(ctx, "nobody", time.Time{})
	if empty.Count != 0 || !empty.MaxCreatedAt.IsZero() {
		t.Errorf("empty sum = %+v", empty)
	}

	between, _ := s.SumEventsBetween(ctx, "acct", t0, t0.Add(time.Minute))
	if between != 8 {
		t.Errorf("between = %d, want 8", between)
	}

	if err := s.UpsertScore(ctx, &Score{AccountID: "acct", AllTimeScore: 10, MonthlyScore: 10, LastCalculatedAt: t0.Add(2 * time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if accts, _ := s.AccountsNeedingScore(ctx); len(accts) != 0 {
		t.Errorf("accounts after scoring = %v", accts)
	}
	sc, _ := s.GetScore(ctx, "acct")
	if sc == nil || sc.AllTimeScore != 10 || !sc.LastCalculatedAt.Equal(t0.Add(2*time.Minute)) {
		t.Errorf("score = %+v", sc)
	}
	if sc, err := s.GetScore(ctx, "nobody"); sc != nil || err != nil {
		t.Errorf("missing score = %v, %v", sc, err)
	}
}
