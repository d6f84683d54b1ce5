package repository

import (
	"context"
	"log/slog"

	"github.com/UnknownOlympus/cartograph/internal/models"
)

// MaxAttempts is how many failed geocoding attempts a row may accumulate before it is no longer fetched.
const MaxAttempts = 5

type Repository struct {
	db  Database
	log *slog.Logger
}

type Interface interface {
	FetchRowsForGeocoding(ctx context.Context, limit int) ([]models.ImportRow, error)
	SaveResult(ctx context.Context, rowID string, result models.GeocodeResult) error
	RecordFailure(ctx context.Context, failure models.GeocodeError) error
}

// NewRepository creates a new instance of Repository with the provided Database.
// It returns a pointer to the newly created Repository.
func NewRepository(db Database, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log}
}

// Ping checks that the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
