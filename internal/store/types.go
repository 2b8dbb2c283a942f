package store

import (
	"time"

	"github.com/git-pkgs/pkgsync/internal/core"
)

// PackageStatus is the ingestion state of a package row.
type PackageStatus string

const (
	PackageActive      PackageStatus = "active"
	PackageFailed      PackageStatus = "failed"
	PackagePlaceholder PackageStatus = "placeholder"
)

// Package is a row of the packages table. Identity is (Name, Registry).
type Package struct {
	ID               string
	Name             string
	Registry         core.Registry
	Status           PackageStatus
	FailureReason    string
	Description      string
	Homepage         string
	Repository       string
	LatestVersion    string
	DistTags         map[string]string
	UpvoteCount      int
	LastFetchAttempt time.Time
	LastFetchSuccess time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Channel is a row of the release_channels table.
type Channel struct {
	ID          string
	PackageID   string
	Channel     string
	Version     string
	PublishedAt time.Time
}

// ChannelDependency is a row of the channel_dependencies table: one edge of
// the dependency graph.
type ChannelDependency struct {
	ID                  string
	ChannelID           string
	DependencyPackageID string
	Type                core.DependencyType
	VersionRange        string
}

// Key identifies the edge within its channel.
func (d *ChannelDependency) Key() string {
	return DependencyKey(d.DependencyPackageID, d.Type)
}

// DependencyKey builds the "{packageId}:{type}" diff key for an edge.
func DependencyKey(packageID string, typ core.DependencyType) string {
	return packageID + ":" + string(typ)
}

// RequestStatus is the state of a package request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestFetching  RequestStatus = "fetching"
	RequestCompleted RequestStatus = "completed"
	RequestFailed    RequestStatus = "failed"
	RequestDiscarded RequestStatus = "discarded"
)

// Request is a row of the package_requests table.
type Request struct {
	ID           string
	PackageName  string
	Registry     core.Registry
	Status       RequestStatus
	AttemptCount int
	ErrorMessage string
	PackageID    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FetchStatus is the state of a scheduled re-fetch.
type FetchStatus string

const (
	FetchPending   FetchStatus = "pending"
	FetchCompleted FetchStatus = "completed"
	FetchFailed    FetchStatus = "failed"
)

// Fetch is a row of the package_fetches table, joined with the name and
// registry of its package.
type Fetch struct {
	ID           string
	PackageID    string
	PackageName  string
	Registry     core.Registry
	Status       FetchStatus
	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  time.Time
}

// ContributionEvent is one points-earning action by an account.
type ContributionEvent struct {
	ID        string
	AccountID string
	Points    int64
	CreatedAt time.Time
}

// Score is a row of the contribution_scores table.
type Score struct {
	AccountID        string
	AllTimeScore     int64
	MonthlyScore     int64
	LastCalculatedAt time.Time
}

// EventSum aggregates contribution events for one account.
type EventSum struct {
	Points int64
	Count  int
	// MaxCreatedAt is the newest event summed, zero if Count is 0.
	MaxCreatedAt time.Time
}
