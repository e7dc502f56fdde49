package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/visawatch/policywatch/internal/pipeline"
)

// ChangeStore keeps detected changes and their chain links.
type ChangeStore struct {
	mu       sync.RWMutex
	byID     map[string]pipeline.PolicyChange
	bySource map[string][]string
}

// NewChangeStore constructs an empty ChangeStore.
func NewChangeStore() *ChangeStore {
	return &ChangeStore{
		byID:     make(map[string]pipeline.PolicyChange),
		bySource: make(map[string][]string),
	}
}

// CreateChange records a new change.
func (s *ChangeStore) CreateChange(_ context.Context, c pipeline.PolicyChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[c.ID]; exists {
		return errors.New("change already exists")
	}
	s.byID[c.ID] = c
	s.bySource[c.SourceID] = append(s.bySource[c.SourceID], c.ID)
	return nil
}

// LatestChange returns the newest change for a source by DetectedAt, or nil.
func (s *ChangeStore) LatestChange(_ context.Context, sourceID string) (*pipeline.PolicyChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySource[sourceID]
	if len(ids) == 0 {
		return nil, nil
	}
	latest := s.byID[ids[0]]
	for _, id := range ids[1:] {
		c := s.byID[id]
		if c.DetectedAt.After(latest.DetectedAt) {
			latest = c
		}
	}
	out := latest
	return &out, nil
}

// GetChange fetches a change by ID.
func (s *ChangeStore) GetChange(_ context.Context, id string) (pipeline.PolicyChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return pipeline.PolicyChange{}, pipeline.ErrNotFound
	}
	return c, nil
}

// ListRecentChanges returns up to limit changes across all sources, newest
// first.
func (s *ChangeStore) ListRecentChanges(_ context.Context, limit int) ([]pipeline.PolicyChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.PolicyChange, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetNextChangeID back-fills the forward link on a predecessor change.
func (s *ChangeStore) SetNextChangeID(_ context.Context, changeID, nextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[changeID]
	if !ok {
		return pipeline.ErrNotFound
	}
	c.NextChangeID = &nextID
	s.byID[changeID] = c
	return nil
}
