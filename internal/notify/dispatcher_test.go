package notify

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

type recordingSender struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]bool
}

func (s *recordingSender) Send(_ context.Context, to, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[to] {
		return fmt.Errorf("smtp rejected %s", to)
	}
	s.sent = append(s.sent, to)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, payload)
	return "msg-1", nil
}

type staticSummarizer struct {
	summary string
	err     error
}

func (s staticSummarizer) Summarize(context.Context, string) (string, error) {
	return s.summary, s.err
}

func seedSubscriptions(store *memory.SubscriptionStore) {
	store.Seed(pipeline.RouteSubscription{
		ID: "sub-1", RouteID: "r1", Origin: "US", Destination: "DE",
		VisaType: "work", Email: "alice@example.com", IsActive: true,
	})
	store.Seed(pipeline.RouteSubscription{
		ID: "sub-2", RouteID: "r2", Origin: "IN", Destination: "DE",
		VisaType: "work", Email: "bob@example.com", IsActive: true,
	})
	store.Seed(pipeline.RouteSubscription{
		ID: "sub-3", RouteID: "r3", Origin: "IN", Destination: "FR",
		VisaType: "work", Email: "carol@example.com", IsActive: true,
	})
}

func testChange() (pipeline.PolicyChange, pipeline.PolicyVersion, pipeline.Source) {
	change := pipeline.PolicyChange{
		ID:           "chg-1",
		SourceID:     "src-1",
		NewVersionID: "ver-2",
		Diff:         "--- old\n+++ new\n@@ -1 +1,2 @@\n Passport.\n+Photo.\n",
		DetectedAt:   time.Unix(1700000000, 0).UTC(),
	}
	version := pipeline.PolicyVersion{ID: "ver-2", SourceID: "src-1", ContentHash: "abc"}
	source := pipeline.Source{
		ID: "src-1", Country: "DE", VisaType: "work",
		Name: "BAMF work visa", URL: "https://example.org/visa",
	}
	return change, version, source
}

func TestDispatchMatchesRoute(t *testing.T) {
	t.Parallel()

	subs := memory.NewSubscriptionStore()
	seedSubscriptions(subs)
	sender := &recordingSender{}

	d := New(subs, sender, nil, nil, Config{}, zap.NewNop())
	change, version, source := testChange()

	result := d.Dispatch(context.Background(), change, version, source)
	require.Equal(t, 2, result.Matched)
	require.Equal(t, 2, result.Sent)
	require.Zero(t, result.Failed)
	require.ElementsMatch(t, []string{"alice@example.com", "bob@example.com"}, sender.sent)
}

func TestDispatchIsolatesRecipientFailure(t *testing.T) {
	t.Parallel()

	subs := memory.NewSubscriptionStore()
	seedSubscriptions(subs)
	sender := &recordingSender{failFor: map[string]bool{"alice@example.com": true}}

	d := New(subs, sender, nil, nil, Config{}, zap.NewNop())
	change, version, source := testChange()

	result := d.Dispatch(context.Background(), change, version, source)
	require.Equal(t, 2, result.Matched)
	require.Equal(t, 1, result.Sent)
	require.Equal(t, 1, result.Failed)
	require.Equal(t, []string{"bob@example.com"}, sender.sent)
}

func TestDispatchPublishesChangeEvent(t *testing.T) {
	t.Parallel()

	subs := memory.NewSubscriptionStore()
	sender := &recordingSender{}
	pub := &recordingPublisher{}

	d := New(subs, sender, nil, pub, Config{Topic: "policy-changes"}, zap.NewNop())
	change, version, source := testChange()

	d.Dispatch(context.Background(), change, version, source)
	require.Equal(t, []string{"policy-changes"}, pub.topics)
	require.Len(t, pub.events, 1)
	event, ok := pub.events[0].(ChangeEvent)
	require.True(t, ok)
	require.Equal(t, "chg-1", event.ChangeID)
	require.Equal(t, "abc", event.ContentHash)
}

func TestDispatchSummarizerErrorProceeds(t *testing.T) {
	t.Parallel()

	subs := memory.NewSubscriptionStore()
	seedSubscriptions(subs)
	sender := &recordingSender{}

	d := New(subs, sender, staticSummarizer{err: fmt.Errorf("model offline")}, nil, Config{}, zap.NewNop())
	change, version, source := testChange()

	result := d.Dispatch(context.Background(), change, version, source)
	require.Equal(t, 2, result.Sent)
}

func TestDispatchNoTopicSkipsPublish(t *testing.T) {
	t.Parallel()

	subs := memory.NewSubscriptionStore()
	pub := &recordingPublisher{}

	d := New(subs, &recordingSender{}, nil, pub, Config{}, zap.NewNop())
	change, version, source := testChange()

	d.Dispatch(context.Background(), change, version, source)
	require.Empty(t, pub.topics)
}
