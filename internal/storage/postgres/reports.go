package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/visawatch/policywatch/internal/pipeline"
)

// ReportStore persists batch fetch job reports.
type ReportStore struct {
	pool dbConn
}

// CreateReport inserts a report row at batch start.
func (s *ReportStore) CreateReport(ctx context.Context, r pipeline.FetchJobReport) error {
	query := `
INSERT INTO fetch_job_reports (id, started_at, completed_at, processed, succeeded, failed, changes_detected, alerts_sent, errors)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, query,
		r.ID,
		r.StartedAt,
		r.CompletedAt,
		r.Processed,
		r.Succeeded,
		r.Failed,
		r.ChangesDetected,
		r.AlertsSent,
		r.Errors,
	)
	if err != nil {
		return &pipeline.StorageError{Op: "create report", Err: err}
	}
	return nil
}

// FinalizeReport writes the completed counters back onto an existing report.
func (s *ReportStore) FinalizeReport(ctx context.Context, r pipeline.FetchJobReport) error {
	query := `
UPDATE fetch_job_reports SET
	completed_at = $2,
	processed = $3,
	succeeded = $4,
	failed = $5,
	changes_detected = $6,
	alerts_sent = $7,
	errors = $8
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		r.ID,
		r.CompletedAt,
		r.Processed,
		r.Succeeded,
		r.Failed,
		r.ChangesDetected,
		r.AlertsSent,
		r.Errors,
	)
	if err != nil {
		return &pipeline.StorageError{Op: "finalize report", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

// LatestReport returns the most recently started report, or nil when no
// batch has run yet.
func (s *ReportStore) LatestReport(ctx context.Context) (*pipeline.FetchJobReport, error) {
	query := `
SELECT id, started_at, completed_at, processed, succeeded, failed, changes_detected, alerts_sent, errors
FROM fetch_job_reports
ORDER BY started_at DESC, id DESC
LIMIT 1`
	var r pipeline.FetchJobReport
	err := s.pool.QueryRow(ctx, query).Scan(
		&r.ID,
		&r.StartedAt,
		&r.CompletedAt,
		&r.Processed,
		&r.Succeeded,
		&r.Failed,
		&r.ChangesDetected,
		&r.AlertsSent,
		&r.Errors,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &pipeline.StorageError{Op: "latest report", Err: err}
	}
	return &r, nil
}
