package homebrew

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/git-pkgs/pkgsync/client"
	"github.com/git-pkgs/pkgsync/internal/core"
)

func testClient() *client.Client {
	return client.NewClient(client.WithMaxRetries(0), client.WithBaseDelay(time.Millisecond))
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/formula/wget.json" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(404)
			return
		}

		resp := formulaResponse{
			Name:     "wget",
			FullName: "wget",
			Desc:     "Internet file retriever",
			Homepage: "https://www.gnu.org/software/wget/",
			Versions: versionsInfo{Stable: "1.21.4", Bottle: true},
			Revision: 1,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	pkg, err := New(server.URL, testClient()).Fetch(context.Background(), "wget")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if pkg.Name != "wget" {
		t.Errorf("expected name 'wget', got %q", pkg.Name)
	}
	if pkg.Description != "Internet file retriever" {
		t.Errorf("unexpected description: %q", pkg.Description)
	}
	if pkg.Repository != "" {
		t.Errorf("expected no repository, got %q", pkg.Repository)
	}
	if len(pkg.ReleaseChannels) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(pkg.ReleaseChannels))
	}
	if v := pkg.ReleaseChannels[0].Version; v != "1.21.4_1" {
		t.Errorf("expected revisioned version 1.21.4_1, got %q", v)
	}
}

func TestFetchWithGitHubRepo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(formulaResponse{
			Name:     "jq",
			Desc:     "Lightweight and flexible command-line JSON processor",
			Homepage: "https://github.com/jqlang/jq",
			Versions: versionsInfo{Stable: "1.7.1"},
		})
	}))
	defer server.Close()

	pkg, err := New(server.URL, testClient()).Fetch(context.Background(), "jq")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if pkg.Repository != "https://github.com/jqlang/jq" {
		t.Errorf("expected repository from GitHub homepage, got %q", pkg.Repository)
	}
	if pkg.LatestVersion != "1.7.1" {
		t.Errorf("expected 1.7.1, got %q", pkg.LatestVersion)
	}
}

func TestDependencies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(formulaResponse{
			Name:                    "imagemagick",
			Versions:                versionsInfo{Stable: "7.1.1-29"},
			Dependencies:            []string{"libtool", "pkg-config", "jpeg"},
			BuildDependencies:       []string{"cmake", "pkg-config"},
			TestDependencies:        []string{"cmake"},
			RecommendedDependencies: []string{"webp"},
			OptionalDependencies:    []string{"ghostscript"},
		})
	}))
	defer server.Close()

	pkg, err := New(server.URL, testClient()).Fetch(context.Background(), "imagemagick")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	deps := pkg.ReleaseChannels[0].Dependencies
	counts := map[core.DependencyType]int{}
	for _, d := range deps {
		counts[d.Type]++
		if d.VersionRange != core.AnyRange {
			t.Errorf("%s: range = %q, want *", d.Name, d.VersionRange)
		}
	}

	// cmake appears as both build and test dependency but is one dev edge
	want := map[core.DependencyType]int{core.Runtime: 3, core.Dev: 2, core.Optional: 2}
	for typ, n := range want {
		if counts[typ] != n {
			t.Errorf("%s deps = %d, want %d", typ, counts[typ], n)
		}
	}
}

func TestSchemaDrift(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"wget","versions":{"head":"HEAD"}}`))
	}))
	defer server.Close()

	_, err := New(server.URL, testClient()).Fetch(context.Background(), "wget")
	if core.KindOf(err) != core.KindSchemaDrift {
		t.Fatalf("expected schema drift, got %v", err)
	}
}

func TestNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := New(server.URL, testClient()).Fetch(context.Background(), "nonexistent")
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
