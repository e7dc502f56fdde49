package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/visawatch/policywatch/internal/pipeline"
)

// ChangeStore persists detected policy changes and their chain links.
type ChangeStore struct {
	pool dbConn
}

const changeColumns = `
	id,
	source_id,
	route_id,
	old_version_id,
	new_version_id,
	diff,
	summary,
	is_new,
	detected_at,
	prev_change_id,
	next_change_id`

// CreateChange inserts one change record.
func (s *ChangeStore) CreateChange(ctx context.Context, c pipeline.PolicyChange) error {
	query := `
INSERT INTO policy_changes (id, source_id, route_id, old_version_id, new_version_id, diff, summary, is_new, detected_at, prev_change_id, next_change_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, query,
		c.ID,
		c.SourceID,
		c.RouteID,
		c.OldVersionID,
		c.NewVersionID,
		c.Diff,
		c.Summary,
		c.IsNew,
		c.DetectedAt,
		c.PrevChangeID,
		c.NextChangeID,
	)
	if err != nil {
		return &pipeline.StorageError{Op: "create change", Err: err}
	}
	return nil
}

// LatestChange returns the most recent change for a source, or nil when the
// source has no recorded changes.
func (s *ChangeStore) LatestChange(ctx context.Context, sourceID string) (*pipeline.PolicyChange, error) {
	query := `SELECT` + changeColumns + `
FROM policy_changes
WHERE source_id = $1
ORDER BY detected_at DESC, id DESC
LIMIT 1`
	c, err := scanChange(s.pool.QueryRow(ctx, query, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &pipeline.StorageError{Op: "latest change", Err: err}
	}
	return &c, nil
}

// GetChange fetches one change by ID.
func (s *ChangeStore) GetChange(ctx context.Context, id string) (pipeline.PolicyChange, error) {
	query := `SELECT` + changeColumns + ` FROM policy_changes WHERE id = $1`
	c, err := scanChange(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.PolicyChange{}, pipeline.ErrNotFound
		}
		return pipeline.PolicyChange{}, &pipeline.StorageError{Op: "get change", Err: err}
	}
	return c, nil
}

// ListRecentChanges returns the newest changes across all sources.
func (s *ChangeStore) ListRecentChanges(ctx context.Context, limit int) ([]pipeline.PolicyChange, error) {
	query := `SELECT` + changeColumns + `
FROM policy_changes
ORDER BY detected_at DESC, id DESC
LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, &pipeline.StorageError{Op: "list recent changes", Err: err}
	}
	defer rows.Close()
	var out []pipeline.PolicyChange
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, &pipeline.StorageError{Op: "scan change", Err: err}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &pipeline.StorageError{Op: "iterate changes", Err: err}
	}
	return out, nil
}

// SetNextChangeID links an existing change forward to its successor.
func (s *ChangeStore) SetNextChangeID(ctx context.Context, changeID, nextID string) error {
	query := `UPDATE policy_changes SET next_change_id = $2 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, changeID, nextID)
	if err != nil {
		return &pipeline.StorageError{Op: "link change", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

func scanChange(row pgx.Row) (pipeline.PolicyChange, error) {
	var c pipeline.PolicyChange
	err := row.Scan(
		&c.ID,
		&c.SourceID,
		&c.RouteID,
		&c.OldVersionID,
		&c.NewVersionID,
		&c.Diff,
		&c.Summary,
		&c.IsNew,
		&c.DetectedAt,
		&c.PrevChangeID,
		&c.NextChangeID,
	)
	return c, err
}
