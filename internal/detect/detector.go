// Package detect compares fetched documents against stored history and
// records versions and changes.
package detect

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/visawatch/policywatch/internal/diff"
	"github.com/visawatch/policywatch/internal/pipeline"
)

// Detector decides whether a fetch represents new content and persists
// the resulting version and change records.
type Detector struct {
	versions      pipeline.VersionStore
	changes       pipeline.ChangeStore
	subscriptions pipeline.SubscriptionStore
	blobs         pipeline.BlobStore
	hasher        pipeline.Hasher
	clock         pipeline.Clock
	ids           pipeline.IDGenerator
	logger        *zap.Logger
}

// New builds a detector. The blob store may be nil when raw archival is
// disabled.
func New(
	versions pipeline.VersionStore,
	changes pipeline.ChangeStore,
	subscriptions pipeline.SubscriptionStore,
	blobs pipeline.BlobStore,
	hasher pipeline.Hasher,
	clock pipeline.Clock,
	ids pipeline.IDGenerator,
	logger *zap.Logger,
) *Detector {
	return &Detector{
		versions:      versions,
		changes:       changes,
		subscriptions: subscriptions,
		blobs:         blobs,
		hasher:        hasher,
		clock:         clock,
		ids:           ids,
		logger:        logger,
	}
}

// Detect hashes the normalized text, compares it with the latest stored
// version for the source, and persists a new version plus change record
// when the content moved. Callers hold the per-source lock, so the
// read-latest-then-write sequence here is race free.
func (d *Detector) Detect(ctx context.Context, source pipeline.Source, result pipeline.FetchResult) (pipeline.ChangeOutcome, error) {
	hash, err := d.hasher.Hash([]byte(result.NormalizedText))
	if err != nil {
		return pipeline.ChangeOutcome{}, fmt.Errorf("hash content: %w", err)
	}

	latest, err := d.versions.LatestVersion(ctx, source.ID)
	if err != nil {
		return pipeline.ChangeOutcome{}, err
	}
	if latest != nil && latest.ContentHash == hash {
		return pipeline.ChangeOutcome{Kind: pipeline.OutcomeNoChange, OldVersion: latest}, nil
	}

	now := d.clock.Now()
	versionID, err := d.ids.NewID()
	if err != nil {
		return pipeline.ChangeOutcome{}, fmt.Errorf("new version id: %w", err)
	}

	version := pipeline.PolicyVersion{
		ID:            versionID,
		SourceID:      source.ID,
		ContentHash:   hash,
		RawText:       result.NormalizedText,
		FetchedAt:     now,
		ContentLength: len(result.NormalizedText),
		ArchiveURI:    d.archive(ctx, source, hash, result.RawBody),
	}
	if err := d.versions.CreateVersion(ctx, version); err != nil {
		return pipeline.ChangeOutcome{}, err
	}

	change, err := d.buildChange(ctx, source, latest, version, now)
	if err != nil {
		return pipeline.ChangeOutcome{}, err
	}
	if err := d.changes.CreateChange(ctx, change); err != nil {
		return pipeline.ChangeOutcome{}, err
	}
	if change.PrevChangeID != nil {
		if err := d.changes.SetNextChangeID(ctx, *change.PrevChangeID, change.ID); err != nil {
			return pipeline.ChangeOutcome{}, err
		}
	}

	kind := pipeline.OutcomeChanged
	if latest == nil {
		kind = pipeline.OutcomeFirstVersion
	}
	return pipeline.ChangeOutcome{
		Kind:       kind,
		OldVersion: latest,
		NewVersion: &version,
		Change:     &change,
	}, nil
}

func (d *Detector) buildChange(ctx context.Context, source pipeline.Source, old *pipeline.PolicyVersion, version pipeline.PolicyVersion, now time.Time) (pipeline.PolicyChange, error) {
	changeID, err := d.ids.NewID()
	if err != nil {
		return pipeline.PolicyChange{}, fmt.Errorf("new change id: %w", err)
	}

	change := pipeline.PolicyChange{
		ID:           changeID,
		SourceID:     source.ID,
		NewVersionID: version.ID,
		DetectedAt:   now,
		RouteID:      d.resolveRoute(ctx, source),
	}

	if old == nil {
		change.IsNew = true
		change.Diff = diff.Initial(version.RawText, source.URL)
	} else {
		change.OldVersionID = &old.ID
		unified, err := diff.Unified(old.RawText, version.RawText, source.URL, source.URL)
		if err != nil {
			return pipeline.PolicyChange{}, fmt.Errorf("diff versions: %w", err)
		}
		change.Diff = unified
	}

	prev, err := d.changes.LatestChange(ctx, source.ID)
	if err != nil {
		return pipeline.PolicyChange{}, err
	}
	if prev != nil {
		change.PrevChangeID = &prev.ID
	}
	return change, nil
}

// resolveRoute picks the first active subscription route matching the
// source's destination country and visa type. Route lookup is advisory;
// failures leave RouteID nil rather than failing the change.
func (d *Detector) resolveRoute(ctx context.Context, source pipeline.Source) *string {
	if d.subscriptions == nil {
		return nil
	}
	subs, err := d.subscriptions.ListActiveSubscriptions(ctx)
	if err != nil {
		d.logger.Warn("route lookup failed",
			zap.String("source_id", source.ID),
			zap.Error(err),
		)
		return nil
	}
	var routes []string
	for _, sub := range subs {
		if sub.Destination == source.Country && sub.VisaType == source.VisaType {
			routes = append(routes, sub.RouteID)
		}
	}
	if len(routes) == 0 {
		return nil
	}
	sort.Strings(routes)
	return &routes[0]
}

// archive stores the raw fetched document keyed by content hash. Archive
// failure is logged and the version proceeds without a URI.
func (d *Detector) archive(ctx context.Context, source pipeline.Source, hash string, raw []byte) string {
	if d.blobs == nil || len(raw) == 0 {
		return ""
	}
	ext, contentType := "html", "text/html"
	if source.FetchType == pipeline.FetchTypePDF {
		ext, contentType = "pdf", "application/pdf"
	}
	path := fmt.Sprintf("sources/%s/%s.%s", source.ID, hash, ext)
	uri, err := d.blobs.PutObject(ctx, path, contentType, raw)
	if err != nil {
		d.logger.Warn("raw archive failed",
			zap.String("source_id", source.ID),
			zap.String("path", path),
			zap.Error(err),
		)
		return ""
	}
	return uri
}
