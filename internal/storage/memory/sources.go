// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/visawatch/policywatch/internal/pipeline"
)

// SourceStore keeps sources in a map guarded by a rwmutex.
type SourceStore struct {
	mu      sync.RWMutex
	sources map[string]pipeline.Source
}

// NewSourceStore constructs an empty SourceStore.
func NewSourceStore() *SourceStore {
	return &SourceStore{sources: make(map[string]pipeline.Source)}
}

// Seed inserts or replaces a source record. Used by dev wiring and tests;
// production source CRUD lives outside the pipeline.
func (s *SourceStore) Seed(source pipeline.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[source.ID] = source
}

// GetSource fetches a source by ID.
func (s *SourceStore) GetSource(_ context.Context, id string) (pipeline.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	source, ok := s.sources[id]
	if !ok {
		return pipeline.Source{}, pipeline.ErrNotFound
	}
	return source, nil
}

// ListDueSources returns active sources whose next check time has passed,
// ordered by ID for deterministic batches.
func (s *SourceStore) ListDueSources(_ context.Context, now time.Time) ([]pipeline.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []pipeline.Source
	for _, source := range s.sources {
		if !source.IsActive {
			continue
		}
		if source.Health.NextCheckAt.After(now) {
			continue
		}
		due = append(due, source)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

// ListSources returns all sources ordered by ID.
func (s *SourceStore) ListSources(_ context.Context) ([]pipeline.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.Source, 0, len(s.sources))
	for _, source := range s.sources {
		out = append(out, source)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateHealth writes back the health fields for a source.
func (s *SourceStore) UpdateHealth(_ context.Context, id string, health pipeline.SourceHealth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	source, ok := s.sources[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	source.Health = health
	s.sources[id] = source
	return nil
}
