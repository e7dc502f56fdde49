// Package pipeline defines core types shared across the fetch and
// change-detection subsystems.
package pipeline

import "time"

// FetchType selects how a source's document is retrieved and parsed.
type FetchType string

// Fetch types supported by the document fetcher.
const (
	FetchTypeHTML FetchType = "html"
	FetchTypePDF  FetchType = "pdf"
)

// Source is one monitored policy document endpoint.
type Source struct {
	ID             string            `json:"id"`
	Country        string            `json:"country"`
	VisaType       string            `json:"visa_type"`
	URL            string            `json:"url"`
	Name           string            `json:"name"`
	FetchType      FetchType         `json:"fetch_type"`
	CheckFrequency string            `json:"check_frequency"`
	IsActive       bool              `json:"is_active"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Health         SourceHealth      `json:"health"`
}

// SourceHealth holds the per-source operational state maintained by the
// health tracker. Status is always derived from these fields, never stored.
type SourceHealth struct {
	LastCheckedAt       *time.Time `json:"last_checked_at"`
	LastChangeAt        *time.Time `json:"last_change_detected_at"`
	ConsecutiveFailures int        `json:"consecutive_fetch_failures"`
	LastError           *string    `json:"last_fetch_error"`
	NextCheckAt         time.Time  `json:"next_check_time"`
}

// HealthStatus classifies a source's operational state.
type HealthStatus string

// Derived health status values.
const (
	StatusHealthy      HealthStatus = "healthy"
	StatusStale        HealthStatus = "stale"
	StatusError        HealthStatus = "error"
	StatusNeverChecked HealthStatus = "never_checked"
)

// PolicyVersion is one immutable snapshot of a source's normalized text.
// Versions form an append-only chain per source ordered by FetchedAt.
type PolicyVersion struct {
	ID            string    `json:"id"`
	SourceID      string    `json:"source_id"`
	ContentHash   string    `json:"content_hash"`
	RawText       string    `json:"raw_text"`
	FetchedAt     time.Time `json:"fetched_at"`
	ContentLength int       `json:"content_length"`
	ArchiveURI    string    `json:"archive_uri,omitempty"`
}

// PolicyChange records a detected transition between two versions of a source.
type PolicyChange struct {
	ID           string    `json:"id"`
	SourceID     string    `json:"source_id"`
	RouteID      *string   `json:"route_id"`
	OldVersionID *string   `json:"old_version_id"`
	NewVersionID string    `json:"new_version_id"`
	Diff         string    `json:"diff"`
	Summary      string    `json:"summary,omitempty"`
	IsNew        bool      `json:"is_new"`
	DetectedAt   time.Time `json:"detected_at"`
	PrevChangeID *string   `json:"previous_change_id"`
	NextChangeID *string   `json:"next_change_id"`
}

// RouteSubscription is a subscriber interest in one (origin, destination,
// visa type) route.
type RouteSubscription struct {
	ID          string `json:"id"`
	RouteID     string `json:"route_id"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	VisaType    string `json:"visa_type"`
	Email       string `json:"email"`
	IsActive    bool   `json:"is_active"`
}

// FetchResult is the normalized output of a successful document fetch.
type FetchResult struct {
	NormalizedText string
	RawBody        []byte
	RawSize        int
	UsedHeadless   bool
	Duration       time.Duration
}

// ChangeKind names the outcome of comparing a fetch against stored history.
type ChangeKind string

// Change detection outcomes.
const (
	OutcomeNoChange     ChangeKind = "no_change"
	OutcomeFirstVersion ChangeKind = "first_version"
	OutcomeChanged      ChangeKind = "changed"
)

// ChangeOutcome is returned by the change detector for one fetch.
type ChangeOutcome struct {
	Kind       ChangeKind
	OldVersion *PolicyVersion
	NewVersion *PolicyVersion
	Change     *PolicyChange
}

// FetchJobReport aggregates one scheduled batch run.
type FetchJobReport struct {
	ID              string     `json:"id"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	Processed       int        `json:"sources_processed"`
	Succeeded       int        `json:"sources_succeeded"`
	Failed          int        `json:"sources_failed"`
	ChangesDetected int        `json:"changes_detected"`
	AlertsSent      int        `json:"alerts_sent"`
	Errors          []string   `json:"errors,omitempty"`
}

// TriggerResult is the response to a manual single-source trigger.
type TriggerResult struct {
	Success        bool      `json:"success"`
	SourceID       string    `json:"source_id"`
	ChangeDetected bool      `json:"change_detected"`
	VersionID      string    `json:"policy_version_id,omitempty"`
	ChangeID       string    `json:"policy_change_id,omitempty"`
	Error          string    `json:"error,omitempty"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// DispatchResult summarizes one notification fan-out.
type DispatchResult struct {
	Matched int
	Sent    int
	Failed  int
}
