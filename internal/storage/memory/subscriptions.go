package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/visawatch/policywatch/internal/pipeline"
)

// SubscriptionStore keeps route subscriptions.
type SubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]pipeline.RouteSubscription
}

// NewSubscriptionStore constructs an empty SubscriptionStore.
func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{subs: make(map[string]pipeline.RouteSubscription)}
}

// Seed inserts or replaces a subscription. Subscription CRUD is owned
// outside the pipeline.
func (s *SubscriptionStore) Seed(sub pipeline.RouteSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
}

// ListActiveSubscriptions returns active subscriptions ordered by route ID
// then ID, for deterministic matching.
func (s *SubscriptionStore) ListActiveSubscriptions(_ context.Context) ([]pipeline.RouteSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.RouteSubscription
	for _, sub := range s.subs {
		if sub.IsActive {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RouteID == out[j].RouteID {
			return out[i].ID < out[j].ID
		}
		return out[i].RouteID < out[j].RouteID
	})
	return out, nil
}
