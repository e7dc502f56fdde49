package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/visawatch/policywatch/internal/pipeline"
)

// ReportStore keeps batch job reports.
type ReportStore struct {
	mu      sync.RWMutex
	reports map[string]pipeline.FetchJobReport
	order   []string
}

// NewReportStore constructs an empty ReportStore.
func NewReportStore() *ReportStore {
	return &ReportStore{reports: make(map[string]pipeline.FetchJobReport)}
}

// CreateReport records a report at batch start.
func (s *ReportStore) CreateReport(_ context.Context, r pipeline.FetchJobReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[r.ID]; exists {
		return errors.New("report already exists")
	}
	s.reports[r.ID] = r
	s.order = append(s.order, r.ID)
	return nil
}

// FinalizeReport overwrites a report with its completed counters.
func (s *ReportStore) FinalizeReport(_ context.Context, r pipeline.FetchJobReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.ID]; !ok {
		return pipeline.ErrNotFound
	}
	s.reports[r.ID] = r
	return nil
}

// LatestReport returns the most recently created report, or nil.
func (s *ReportStore) LatestReport(_ context.Context) (*pipeline.FetchJobReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return nil, nil
	}
	r := s.reports[s.order[len(s.order)-1]]
	return &r, nil
}
