package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/visawatch/policywatch/internal/pipeline"
	"github.com/visawatch/policywatch/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

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

// blockGate lets a test hold a fetch open and observe when it started.
type blockGate struct {
	enterOnce sync.Once
	entered   chan struct{}
	release   chan struct{}
}

func newBlockGate() *blockGate {
	return &blockGate{entered: make(chan struct{}), release: make(chan struct{})}
}

// fakeFetcher returns canned results per source and can block to hold
// the per-source lock open.
type fakeFetcher struct {
	mu       sync.Mutex
	errs     map[string]error
	blockOn  map[string]*blockGate
	inFlight int
	maxSeen  int
}

func (f *fakeFetcher) Fetch(ctx context.Context, source pipeline.Source) (pipeline.FetchResult, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	gate := f.blockOn[source.ID]
	err := f.errs[source.ID]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if gate != nil {
		gate.enterOnce.Do(func() { close(gate.entered) })
		select {
		case <-gate.release:
		case <-ctx.Done():
			return pipeline.FetchResult{}, ctx.Err()
		}
	}
	if err != nil {
		return pipeline.FetchResult{}, err
	}
	return pipeline.FetchResult{NormalizedText: "text for " + source.ID}, nil
}

type fakeDetector struct {
	mu       sync.Mutex
	outcomes map[string]pipeline.ChangeOutcome
}

func (d *fakeDetector) Detect(_ context.Context, source pipeline.Source, _ pipeline.FetchResult) (pipeline.ChangeOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if outcome, ok := d.outcomes[source.ID]; ok {
		return outcome, nil
	}
	return pipeline.ChangeOutcome{Kind: pipeline.OutcomeNoChange}, nil
}

type fakeHealth struct {
	mu        sync.Mutex
	successes []string
	failures  []string
}

func (h *fakeHealth) RecordSuccess(_ context.Context, source pipeline.Source, _ bool) (pipeline.SourceHealth, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.successes = append(h.successes, source.ID)
	return pipeline.SourceHealth{}, nil
}

func (h *fakeHealth) RecordFailure(_ context.Context, source pipeline.Source, _ error) (pipeline.SourceHealth, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, source.ID)
	return pipeline.SourceHealth{}, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	changes []string
}

func (n *fakeNotifier) Dispatch(_ context.Context, change pipeline.PolicyChange, _ pipeline.PolicyVersion, _ pipeline.Source) pipeline.DispatchResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change.ID)
	return pipeline.DispatchResult{Matched: 1, Sent: 1}
}

func seedSource(store *memory.SourceStore, id string) {
	store.Seed(pipeline.Source{
		ID: id, Country: "DE", VisaType: "work",
		URL: "https://example.org/" + id, FetchType: pipeline.FetchTypeHTML,
		CheckFrequency: "daily", IsActive: true,
	})
}

func changedOutcome(sourceID string) pipeline.ChangeOutcome {
	version := &pipeline.PolicyVersion{ID: "ver-" + sourceID, SourceID: sourceID}
	change := &pipeline.PolicyChange{ID: "chg-" + sourceID, SourceID: sourceID, NewVersionID: version.ID}
	return pipeline.ChangeOutcome{Kind: pipeline.OutcomeChanged, NewVersion: version, Change: change}
}

type fixture struct {
	scheduler *Scheduler
	sources   *memory.SourceStore
	reports   *memory.ReportStore
	fetcher   *fakeFetcher
	detector  *fakeDetector
	health    *fakeHealth
	notifier  *fakeNotifier
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		sources:  memory.NewSourceStore(),
		reports:  memory.NewReportStore(),
		fetcher:  &fakeFetcher{errs: map[string]error{}, blockOn: map[string]*blockGate{}},
		detector: &fakeDetector{outcomes: map[string]pipeline.ChangeOutcome{}},
		health:   &fakeHealth{},
		notifier: &fakeNotifier{},
	}
	f.scheduler = New(f.sources, f.reports, f.fetcher, f.detector, f.health,
		f.notifier, fixedClock{now: time.Unix(1700000000, 0).UTC()}, &seqIDs{},
		cfg, zap.NewNop())
	return f
}

func TestRunBatchAggregatesReport(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Concurrency: 2})
	seedSource(f.sources, "src-1")
	seedSource(f.sources, "src-2")
	seedSource(f.sources, "src-3")
	f.detector.outcomes["src-2"] = changedOutcome("src-2")
	f.fetcher.errs["src-3"] = fmt.Errorf("connection refused")

	report := f.scheduler.RunBatch(context.Background())

	require.Equal(t, 3, report.Processed)
	require.Equal(t, 2, report.Succeeded)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 1, report.ChangesDetected)
	require.Equal(t, 1, report.AlertsSent)
	require.Len(t, report.Errors, 1)
	require.Equal(t, "src-3: connection refused", report.Errors[0])
	require.NotNil(t, report.CompletedAt)

	stored, err := f.reports.LatestReport(context.Background())
	require.NoError(t, err)
	require.Equal(t, report.ID, stored.ID)
	require.Equal(t, 3, stored.Processed)

	require.ElementsMatch(t, []string{"src-1", "src-2"}, f.health.successes)
	require.Equal(t, []string{"src-3"}, f.health.failures)
	require.Equal(t, []string{"chg-src-2"}, f.notifier.changes)
}

func TestRunBatchHonorsConcurrencyBound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Concurrency: 2})
	for i := 0; i < 8; i++ {
		seedSource(f.sources, fmt.Sprintf("src-%d", i))
	}

	f.scheduler.RunBatch(context.Background())

	f.fetcher.mu.Lock()
	defer f.fetcher.mu.Unlock()
	require.LessOrEqual(t, f.fetcher.maxSeen, 2)
}

func TestTriggerSourceReturnsResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	seedSource(f.sources, "src-1")
	f.detector.outcomes["src-1"] = changedOutcome("src-1")

	result, err := f.scheduler.TriggerSource(context.Background(), "src-1")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.True(t, result.ChangeDetected)
	require.Equal(t, "ver-src-1", result.VersionID)
	require.Equal(t, "chg-src-1", result.ChangeID)
}

func TestTriggerSourceUnknownID(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})

	_, err := f.scheduler.TriggerSource(context.Background(), "ghost")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestTriggerSourceBusy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	seedSource(f.sources, "src-1")
	gate := newBlockGate()
	f.fetcher.blockOn["src-1"] = gate

	done := make(chan struct{})
	go func() {
		_, _ = f.scheduler.TriggerSource(context.Background(), "src-1")
		close(done)
	}()
	<-gate.entered

	_, err := f.scheduler.TriggerSource(context.Background(), "src-1")
	require.ErrorIs(t, err, pipeline.ErrSourceBusy)

	close(gate.release)
	<-done

	// Lock must be released after the first trigger finishes.
	result, err := f.scheduler.TriggerSource(context.Background(), "src-1")
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestRunBatchSkipsBusySource(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Concurrency: 2})
	seedSource(f.sources, "src-1")
	seedSource(f.sources, "src-2")
	gate := newBlockGate()
	f.fetcher.blockOn["src-1"] = gate

	done := make(chan struct{})
	go func() {
		_, _ = f.scheduler.TriggerSource(context.Background(), "src-1")
		close(done)
	}()
	<-gate.entered

	report := f.scheduler.RunBatch(context.Background())
	close(gate.release)
	<-done

	// src-1 was in flight, so only src-2 counts.
	require.Equal(t, 1, report.Processed)
	require.Equal(t, 1, report.Succeeded)
	require.Zero(t, report.Failed)
}
