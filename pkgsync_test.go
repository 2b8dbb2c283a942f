package pkgsync_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/git-pkgs/pkgsync"
	_ "github.com/git-pkgs/pkgsync/all"
)

func TestSupportedRegistries(t *testing.T) {
	regs := pkgsync.SupportedRegistries()

	expected := []pkgsync.Registry{"archlinux", "dockerhub", "homebrew", "jsr", "npm", "nuget"}
	if len(regs) != len(expected) {
		t.Fatalf("expected %d registries, got %d: %v", len(expected), len(regs), regs)
	}
	for i, reg := range expected {
		if regs[i] != reg {
			t.Errorf("expected registry %q at position %d, got %q", reg, i, regs[i])
		}
	}
}

func TestNewAdapter(t *testing.T) {
	tests := []struct {
		reg     pkgsync.Registry
		wantErr bool
	}{
		{pkgsync.NPM, false},
		{pkgsync.JSR, false},
		{pkgsync.NuGet, false},
		{pkgsync.DockerHub, false},
		{pkgsync.Homebrew, false},
		{pkgsync.ArchLinux, false},
		{"pypi", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.reg), func(t *testing.T) {
			a, err := pkgsync.NewAdapter(tt.reg, "", nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewAdapter(%q) error = %v, wantErr %v", tt.reg, err, tt.wantErr)
			}
			if err == nil && a.Registry() != tt.reg {
				t.Errorf("adapter reports %q", a.Registry())
			}
		})
	}
}

func TestDefaultURL(t *testing.T) {
	tests := []struct {
		reg  pkgsync.Registry
		want string
	}{
		{pkgsync.NPM, "https://registry.npmjs.org"},
		{pkgsync.JSR, "https://api.jsr.io"},
		{pkgsync.NuGet, "https://api.nuget.org/v3"},
		{pkgsync.DockerHub, "https://hub.docker.com"},
		{pkgsync.Homebrew, "https://formulae.brew.sh"},
		{pkgsync.ArchLinux, "https://archlinux.org"},
	}

	for _, tt := range tests {
		if got := pkgsync.DefaultURL(tt.reg); got != tt.want {
			t.Errorf("DefaultURL(%q) = %q, want %q", tt.reg, got, tt.want)
		}
	}
}

func TestFetchMany(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":      r.URL.Path[1:],
			"dist-tags": map[string]string{"latest": "1.0.0"},
			"versions":  map[string]any{"1.0.0": map[string]any{"version": "1.0.0"}},
		})
	}))
	defer server.Close()

	adapter, err := pkgsync.NewAdapter(pkgsync.NPM, server.URL, pkgsync.NewClient(pkgsync.WithMaxRetries(0)))
	if err != nil {
		t.Fatal(err)
	}

	results := pkgsync.FetchMany(context.Background(), adapter, []string{"left-pad", "is-odd", "missing"}, 2)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if r := results["left-pad"]; r.Err != nil || r.Data.LatestVersion != "1.0.0" {
		t.Errorf("left-pad: %+v", r)
	}
	if r := results["missing"]; !errors.Is(r.Err, pkgsync.ErrNotFound) || pkgsync.KindOf(r.Err) != pkgsync.KindNotFound {
		t.Errorf("missing: got %v", r.Err)
	}
}

func TestParsePURL(t *testing.T) {
	reg, name, err := pkgsync.ParsePURL("pkg:npm/left-pad@1.3.0")
	if err != nil {
		t.Fatal(err)
	}
	if reg != pkgsync.NPM || name != "left-pad" {
		t.Errorf("got %s %q", reg, name)
	}
}
