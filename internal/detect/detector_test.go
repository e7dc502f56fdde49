package detect

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/visawatch/policywatch/internal/hash/sha256"
	"github.com/visawatch/policywatch/internal/pipeline"
	blobmemory "github.com/visawatch/policywatch/internal/storage/blob/memory"
	"github.com/visawatch/policywatch/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type failingBlobStore struct{}

func (failingBlobStore) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", fmt.Errorf("bucket unavailable")
}

type fixture struct {
	detector *Detector
	versions *memory.VersionStore
	changes  *memory.ChangeStore
	subs     *memory.SubscriptionStore
	blobs    *blobmemory.BlobStore
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		versions: memory.NewVersionStore(),
		changes:  memory.NewChangeStore(),
		subs:     memory.NewSubscriptionStore(),
		blobs:    blobmemory.NewBlobStore(),
		clock:    &fakeClock{now: time.Unix(1700000000, 0).UTC()},
	}
	f.detector = New(f.versions, f.changes, f.subs, f.blobs,
		sha256.New(), f.clock, &seqIDs{}, zap.NewNop())
	return f
}

func testSource() pipeline.Source {
	return pipeline.Source{
		ID:        "src-1",
		Country:   "DE",
		VisaType:  "work",
		URL:       "https://example.org/visa",
		FetchType: pipeline.FetchTypeHTML,
		IsActive:  true,
	}
}

func TestDetectFirstVersion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	source := testSource()

	outcome, err := f.detector.Detect(ctx, source, pipeline.FetchResult{
		NormalizedText: "Applicants need a passport.",
		RawBody:        []byte("<html>Applicants need a passport.</html>"),
	})
	require.NoError(t, err)

	require.Equal(t, pipeline.OutcomeFirstVersion, outcome.Kind)
	require.Nil(t, outcome.OldVersion)
	require.NotNil(t, outcome.NewVersion)
	require.NotNil(t, outcome.Change)
	require.True(t, outcome.Change.IsNew)
	require.Nil(t, outcome.Change.OldVersionID)
	require.Equal(t, outcome.NewVersion.ID, outcome.Change.NewVersionID)
	require.Contains(t, outcome.Change.Diff, "--- /dev/null")
	require.Contains(t, outcome.Change.Diff, "+Applicants need a passport.")

	versions, err := f.versions.ListVersions(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Equal(t, len("Applicants need a passport."), versions[0].ContentLength)

	archived, ok := f.blobs.GetObject("sources/src-1/" + versions[0].ContentHash + ".html")
	require.True(t, ok)
	require.Equal(t, []byte("<html>Applicants need a passport.</html>"), archived)
}

func TestDetectNoChangePersistsNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	source := testSource()
	result := pipeline.FetchResult{NormalizedText: "Applicants need a passport."}

	_, err := f.detector.Detect(ctx, source, result)
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)

	outcome, err := f.detector.Detect(ctx, source, result)
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeNoChange, outcome.Kind)
	require.Nil(t, outcome.NewVersion)
	require.Nil(t, outcome.Change)

	versions, err := f.versions.ListVersions(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)

	changes, err := f.changes.ListRecentChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
}

func TestDetectChangedLinksChain(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	source := testSource()

	first, err := f.detector.Detect(ctx, source, pipeline.FetchResult{
		NormalizedText: "Applicants need a passport.",
	})
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)

	second, err := f.detector.Detect(ctx, source, pipeline.FetchResult{
		NormalizedText: "Applicants need a passport.\nApplicants need a photo.",
	})
	require.NoError(t, err)

	require.Equal(t, pipeline.OutcomeChanged, second.Kind)
	require.False(t, second.Change.IsNew)
	require.NotNil(t, second.Change.OldVersionID)
	require.Equal(t, first.NewVersion.ID, *second.Change.OldVersionID)
	require.NotNil(t, second.Change.PrevChangeID)
	require.Equal(t, first.Change.ID, *second.Change.PrevChangeID)

	require.Contains(t, second.Change.Diff, "+Applicants need a photo.")
	require.NotContains(t, second.Change.Diff, "-Applicants need a passport.")

	relinked, err := f.changes.GetChange(ctx, first.Change.ID)
	require.NoError(t, err)
	require.NotNil(t, relinked.NextChangeID)
	require.Equal(t, second.Change.ID, *relinked.NextChangeID)

	latest, err := f.versions.LatestVersion(ctx, source.ID)
	require.NoError(t, err)
	require.Equal(t, second.NewVersion.ID, latest.ID)
}

func TestDetectRequirementsScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	source := testSource()
	source.URL = "https://example.gov/visa"

	first, err := f.detector.Detect(ctx, source, pipeline.FetchResult{
		NormalizedText: "Requirements: passport.",
	})
	require.NoError(t, err)
	require.True(t, first.Change.IsNew)
	f.clock.Advance(24 * time.Hour)

	second, err := f.detector.Detect(ctx, source, pipeline.FetchResult{
		NormalizedText: "Requirements: passport.",
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeNoChange, second.Kind)
	f.clock.Advance(24 * time.Hour)

	third, err := f.detector.Detect(ctx, source, pipeline.FetchResult{
		NormalizedText: "Requirements: passport, photo.",
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeChanged, third.Kind)
	require.NotEqual(t, first.NewVersion.ContentHash, third.NewVersion.ContentHash)
	require.Equal(t, first.NewVersion.ID, *third.Change.OldVersionID)
	require.Equal(t, first.Change.ID, *third.Change.PrevChangeID)
	require.Contains(t, third.Change.Diff, "-Requirements: passport.")
	require.Contains(t, third.Change.Diff, "+Requirements: passport, photo.")
}

func TestDetectResolvesRouteFromSubscriptions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	source := testSource()

	f.subs.Seed(pipeline.RouteSubscription{
		ID: "sub-1", RouteID: "route-us-de-work", Origin: "US",
		Destination: "DE", VisaType: "work", Email: "a@example.com", IsActive: true,
	})
	f.subs.Seed(pipeline.RouteSubscription{
		ID: "sub-2", RouteID: "route-in-de-student", Origin: "IN",
		Destination: "DE", VisaType: "student", Email: "b@example.com", IsActive: true,
	})

	outcome, err := f.detector.Detect(ctx, source, pipeline.FetchResult{
		NormalizedText: "Applicants need a passport.",
	})
	require.NoError(t, err)
	require.NotNil(t, outcome.Change.RouteID)
	require.Equal(t, "route-us-de-work", *outcome.Change.RouteID)
}

func TestDetectArchiveFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.detector = New(f.versions, f.changes, f.subs, failingBlobStore{},
		sha256.New(), f.clock, &seqIDs{}, zap.NewNop())
	ctx := context.Background()

	outcome, err := f.detector.Detect(ctx, testSource(), pipeline.FetchResult{
		NormalizedText: "text",
		RawBody:        []byte("<html>text</html>"),
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.OutcomeFirstVersion, outcome.Kind)
	require.Empty(t, outcome.NewVersion.ArchiveURI)
}

func TestDetectPDFArchivesWithPDFExtension(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	source := testSource()
	source.FetchType = pipeline.FetchTypePDF

	outcome, err := f.detector.Detect(ctx, source, pipeline.FetchResult{
		NormalizedText: "Schedule of fees.",
		RawBody:        []byte("%PDF-1.7 fake"),
	})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(outcome.NewVersion.ArchiveURI, ".pdf"))
}
