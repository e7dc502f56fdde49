package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/visawatch/policywatch/internal/pipeline"
)

// VersionStore persists policy version snapshots. Rows are append-only;
// there is no update or delete path.
type VersionStore struct {
	pool dbConn
}

const versionColumns = `
	id,
	source_id,
	content_hash,
	raw_text,
	fetched_at,
	content_length,
	archive_uri`

// CreateVersion inserts one snapshot.
func (s *VersionStore) CreateVersion(ctx context.Context, v pipeline.PolicyVersion) error {
	query := `
INSERT INTO policy_versions (id, source_id, content_hash, raw_text, fetched_at, content_length, archive_uri)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		v.ID,
		v.SourceID,
		v.ContentHash,
		v.RawText,
		v.FetchedAt,
		v.ContentLength,
		v.ArchiveURI,
	)
	if err != nil {
		return &pipeline.StorageError{Op: "create version", Err: err}
	}
	return nil
}

// LatestVersion returns the most recent snapshot for a source, or nil when
// the source has never been versioned.
func (s *VersionStore) LatestVersion(ctx context.Context, sourceID string) (*pipeline.PolicyVersion, error) {
	query := `SELECT` + versionColumns + `
FROM policy_versions
WHERE source_id = $1
ORDER BY fetched_at DESC, id DESC
LIMIT 1`
	v, err := scanVersion(s.pool.QueryRow(ctx, query, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &pipeline.StorageError{Op: "latest version", Err: err}
	}
	return &v, nil
}

// GetVersion fetches one snapshot by ID.
func (s *VersionStore) GetVersion(ctx context.Context, id string) (pipeline.PolicyVersion, error) {
	query := `SELECT` + versionColumns + ` FROM policy_versions WHERE id = $1`
	v, err := scanVersion(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.PolicyVersion{}, pipeline.ErrNotFound
		}
		return pipeline.PolicyVersion{}, &pipeline.StorageError{Op: "get version", Err: err}
	}
	return v, nil
}

// ListVersions returns all snapshots for a source, newest first.
func (s *VersionStore) ListVersions(ctx context.Context, sourceID string) ([]pipeline.PolicyVersion, error) {
	query := `SELECT` + versionColumns + `
FROM policy_versions
WHERE source_id = $1
ORDER BY fetched_at DESC, id DESC`
	rows, err := s.pool.Query(ctx, query, sourceID)
	if err != nil {
		return nil, &pipeline.StorageError{Op: "list versions", Err: err}
	}
	defer rows.Close()
	var out []pipeline.PolicyVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, &pipeline.StorageError{Op: "scan version", Err: err}
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &pipeline.StorageError{Op: "iterate versions", Err: err}
	}
	return out, nil
}

func scanVersion(row pgx.Row) (pipeline.PolicyVersion, error) {
	var v pipeline.PolicyVersion
	err := row.Scan(
		&v.ID,
		&v.SourceID,
		&v.ContentHash,
		&v.RawText,
		&v.FetchedAt,
		&v.ContentLength,
		&v.ArchiveURI,
	)
	return v, err
}
