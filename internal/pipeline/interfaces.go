package pipeline

import (
	"context"
	"time"
)

// SourceStore supplies monitored sources and accepts health updates.
// Source configuration itself is owned elsewhere; the pipeline only reads
// records and writes back health fields.
type SourceStore interface {
	GetSource(ctx context.Context, id string) (Source, error)
	ListDueSources(ctx context.Context, now time.Time) ([]Source, error)
	ListSources(ctx context.Context) ([]Source, error)
	UpdateHealth(ctx context.Context, id string, health SourceHealth) error
}

// VersionStore persists immutable policy snapshots.
type VersionStore interface {
	CreateVersion(ctx context.Context, v PolicyVersion) error
	LatestVersion(ctx context.Context, sourceID string) (*PolicyVersion, error)
	GetVersion(ctx context.Context, id string) (PolicyVersion, error)
	ListVersions(ctx context.Context, sourceID string) ([]PolicyVersion, error)
}

// ChangeStore persists detected changes and their chain links.
type ChangeStore interface {
	CreateChange(ctx context.Context, c PolicyChange) error
	LatestChange(ctx context.Context, sourceID string) (*PolicyChange, error)
	GetChange(ctx context.Context, id string) (PolicyChange, error)
	ListRecentChanges(ctx context.Context, limit int) ([]PolicyChange, error)
	SetNextChangeID(ctx context.Context, changeID, nextID string) error
}

// SubscriptionStore supplies route subscriptions for notification matching.
type SubscriptionStore interface {
	ListActiveSubscriptions(ctx context.Context) ([]RouteSubscription, error)
}

// ReportStore persists batch job reports.
type ReportStore interface {
	CreateReport(ctx context.Context, r FetchJobReport) error
	FinalizeReport(ctx context.Context, r FetchJobReport) error
	LatestReport(ctx context.Context) (*FetchJobReport, error)
}

// BlobStore archives raw fetched documents and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Fetcher retrieves a source document and extracts normalized text.
type Fetcher interface {
	Fetch(ctx context.Context, source Source) (FetchResult, error)
}

// EmailSender delivers a notification to one recipient.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Summarizer produces a short prose summary of a diff. Implementations are
// best-effort; callers proceed without a summary on error.
type Summarizer interface {
	Summarize(ctx context.Context, diffText string) (string, error)
}

// Publisher pushes change events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests for change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (seam for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
