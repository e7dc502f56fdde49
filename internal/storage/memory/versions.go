package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/visawatch/policywatch/internal/pipeline"
)

// VersionStore keeps the append-only version chain per source.
type VersionStore struct {
	mu       sync.RWMutex
	byID     map[string]pipeline.PolicyVersion
	bySource map[string][]pipeline.PolicyVersion
}

// NewVersionStore constructs an empty VersionStore.
func NewVersionStore() *VersionStore {
	return &VersionStore{
		byID:     make(map[string]pipeline.PolicyVersion),
		bySource: make(map[string][]pipeline.PolicyVersion),
	}
}

// CreateVersion appends an immutable snapshot.
func (s *VersionStore) CreateVersion(_ context.Context, v pipeline.PolicyVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[v.ID]; exists {
		return errors.New("version already exists")
	}
	s.byID[v.ID] = v
	s.bySource[v.SourceID] = append(s.bySource[v.SourceID], v)
	return nil
}

// LatestVersion returns the newest version for a source by FetchedAt, or nil
// when the source has no history yet.
func (s *VersionStore) LatestVersion(_ context.Context, sourceID string) (*pipeline.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.bySource[sourceID]
	if len(versions) == 0 {
		return nil, nil
	}
	latest := versions[0]
	for _, v := range versions[1:] {
		if v.FetchedAt.After(latest.FetchedAt) {
			latest = v
		}
	}
	out := latest
	return &out, nil
}

// GetVersion fetches a version by ID.
func (s *VersionStore) GetVersion(_ context.Context, id string) (pipeline.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byID[id]
	if !ok {
		return pipeline.PolicyVersion{}, pipeline.ErrNotFound
	}
	return v, nil
}

// ListVersions returns a source's versions in insertion order.
func (s *VersionStore) ListVersions(_ context.Context, sourceID string) ([]pipeline.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.bySource[sourceID]
	out := make([]pipeline.PolicyVersion, len(versions))
	copy(out, versions)
	return out, nil
}
