package repository

import (
	"context"
	"fmt"

	"github.com/UnknownOlympus/cartograph/internal/models"
)

// Schema creates the import_rows table used by the polling service.
const Schema = `
	CREATE TABLE IF NOT EXISTS import_rows (
		id                  TEXT PRIMARY KEY,
		address             TEXT NOT NULL DEFAULT '',
		city                TEXT,
		postcode            TEXT,
		country             TEXT,
		latitude            DOUBLE PRECISION,
		longitude           DOUBLE PRECISION,
		precision           TEXT,
		provider            TEXT,
		geocoding_attempts  INTEGER NOT NULL DEFAULT 0,
		geocoding_error     TEXT,
		geocoding_retryable BOOLEAN NOT NULL DEFAULT TRUE,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	);
`

// EnsureSchema creates the import_rows table when it does not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create import_rows table: %w", err)
	}

	return nil
}

// FetchRowsForGeocoding retrieves import rows that still need coordinates.
// Rows whose last failure was not retryable, or that failed MaxAttempts times,
// are left out. The results are ordered by creation date and limited to limit.
func (r *Repository) FetchRowsForGeocoding(ctx context.Context, limit int) ([]models.ImportRow, error) {
	var rows []models.ImportRow
	query := `
		SELECT id, address, COALESCE(city, ''), COALESCE(postcode, ''), COALESCE(country, '')
		FROM import_rows
		WHERE
			latitude IS NULL
			AND geocoding_retryable = true
			AND geocoding_attempts < $1
		ORDER BY created_at ASC
		LIMIT $2;
	`

	result, err := r.db.Query(ctx, query, MaxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query import rows without coordinates: %w", err)
	}
	defer result.Close()

	for result.Next() {
		var row models.ImportRow
		if errScan := result.Scan(&row.ID, &row.Address, &row.City, &row.Postcode, &row.Country); errScan != nil {
			return nil, fmt.Errorf("failed to scan import row: %w", errScan)
		}
		r.log.DebugContext(ctx, "An import row without coordinates has been received.",
			"row", row.ID, "address", row.Address)
		rows = append(rows, row)
	}

	if err = result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	return rows, nil
}

// SaveResult stores the coordinates of a row and clears its last error.
func (r *Repository) SaveResult(ctx context.Context, rowID string, res models.GeocodeResult) error {
	query := `
		UPDATE import_rows
		SET
			latitude = $1,
			longitude = $2,
			precision = $3,
			provider = $4,
			geocoding_error = NULL
		WHERE
			id = $5;
	`

	_, err := r.db.Exec(ctx, query, res.Latitude, res.Longitude, string(res.Precision), res.Provider, rowID)
	if err != nil {
		return fmt.Errorf("failed to update row coordinates: %w", err)
	}

	return nil
}

// RecordFailure increments the attempt count of a row and stores the failure reason.
// A non-retryable failure keeps the row out of later fetches.
func (r *Repository) RecordFailure(ctx context.Context, failure models.GeocodeError) error {
	query := `
		UPDATE import_rows
		SET
			geocoding_attempts = geocoding_attempts + 1,
			geocoding_error = $1,
			geocoding_retryable = $2
		WHERE id = $3;
	`

	_, err := r.db.Exec(ctx, query, failure.Reason, failure.Retryable, failure.RowID)
	if err != nil {
		return fmt.Errorf("failed to update geocoding error and number of attempts: %w", err)
	}

	return nil
}
