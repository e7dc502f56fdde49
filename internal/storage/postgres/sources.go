package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/visawatch/policywatch/internal/pipeline"
)

// SourceStore reads monitored sources and writes back health fields.
type SourceStore struct {
	pool dbConn
}

const sourceColumns = `
	id,
	country,
	visa_type,
	url,
	name,
	fetch_type,
	check_frequency,
	is_active,
	metadata,
	created_at,
	updated_at,
	last_checked_at,
	last_change_at,
	consecutive_failures,
	last_error,
	next_check_at`

// GetSource fetches one source by ID.
func (s *SourceStore) GetSource(ctx context.Context, id string) (pipeline.Source, error) {
	query := `SELECT` + sourceColumns + ` FROM sources WHERE id = $1`
	source, err := scanSource(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Source{}, pipeline.ErrNotFound
		}
		return pipeline.Source{}, &pipeline.StorageError{Op: "get source", Err: err}
	}
	return source, nil
}

// ListDueSources returns active sources whose next check time has passed.
func (s *SourceStore) ListDueSources(ctx context.Context, now time.Time) ([]pipeline.Source, error) {
	query := `SELECT` + sourceColumns + `
FROM sources
WHERE is_active AND (next_check_at IS NULL OR next_check_at <= $1)
ORDER BY id`
	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, &pipeline.StorageError{Op: "list due sources", Err: err}
	}
	return collectSources(rows)
}

// ListSources returns all sources.
func (s *SourceStore) ListSources(ctx context.Context) ([]pipeline.Source, error) {
	query := `SELECT` + sourceColumns + ` FROM sources ORDER BY id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, &pipeline.StorageError{Op: "list sources", Err: err}
	}
	return collectSources(rows)
}

// UpdateHealth writes the health fields for one source.
func (s *SourceStore) UpdateHealth(ctx context.Context, id string, h pipeline.SourceHealth) error {
	query := `
UPDATE sources SET
	last_checked_at = $2,
	last_change_at = $3,
	consecutive_failures = $4,
	last_error = $5,
	next_check_at = $6,
	updated_at = NOW()
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		id,
		h.LastCheckedAt,
		h.LastChangeAt,
		h.ConsecutiveFailures,
		h.LastError,
		h.NextCheckAt,
	)
	if err != nil {
		return &pipeline.StorageError{Op: "update health", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

func collectSources(rows pgx.Rows) ([]pipeline.Source, error) {
	defer rows.Close()
	var out []pipeline.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, &pipeline.StorageError{Op: "scan source", Err: err}
		}
		out = append(out, source)
	}
	if err := rows.Err(); err != nil {
		return nil, &pipeline.StorageError{Op: "iterate sources", Err: err}
	}
	return out, nil
}

func scanSource(row pgx.Row) (pipeline.Source, error) {
	var (
		source       pipeline.Source
		metadataJSON []byte
		nextCheckAt  *time.Time
	)
	err := row.Scan(
		&source.ID,
		&source.Country,
		&source.VisaType,
		&source.URL,
		&source.Name,
		&source.FetchType,
		&source.CheckFrequency,
		&source.IsActive,
		&metadataJSON,
		&source.CreatedAt,
		&source.UpdatedAt,
		&source.Health.LastCheckedAt,
		&source.Health.LastChangeAt,
		&source.Health.ConsecutiveFailures,
		&source.Health.LastError,
		&nextCheckAt,
	)
	if err != nil {
		return pipeline.Source{}, err
	}
	if nextCheckAt != nil {
		source.Health.NextCheckAt = *nextCheckAt
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &source.Metadata); err != nil {
			return pipeline.Source{}, fmt.Errorf("unmarshal source metadata: %w", err)
		}
	}
	return source, nil
}
