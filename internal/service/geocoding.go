package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/batch"
	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/UnknownOlympus/cartograph/internal/repository"
	"github.com/UnknownOlympus/cartograph/internal/taxonomy"
)

// DefaultFetchLimit is the number of rows fetched per poll when no limit is configured.
const DefaultFetchLimit = 500

// persistTimeout bounds the writes of one batch; they outlive a shutdown signal.
const persistTimeout = 10 * time.Second

// GeocodingService periodically geocodes import rows stored in the database.
// Results are persisted after every batch, so a crash loses at most one batch.
type GeocodingService struct {
	log          *slog.Logger         // Logger for logging service activities
	repo         repository.Interface // Interface for data repository access
	processor    *batch.Processor     // Batch processor running each poll as one job
	pollInterval time.Duration        // Interval for polling the database
	limit        int                  // Maximum rows fetched per poll
}

// NewGeocodingService creates a new instance of GeocodingService.
func NewGeocodingService(
	log *slog.Logger,
	repo repository.Interface,
	processor *batch.Processor,
	pollInterval time.Duration,
	limit int,
) *GeocodingService {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	return &GeocodingService{
		log:          log,
		repo:         repo,
		processor:    processor,
		pollInterval: pollInterval,
		limit:        limit,
	}
}

// Run starts the geocoding service, which periodically polls for new rows to geocode.
// It listens for a cancellation signal from the context to gracefully stop the service.
func (gs *GeocodingService) Run(ctx context.Context) {
	ticker := time.NewTicker(gs.pollInterval)
	defer ticker.Stop()

	gs.log.InfoContext(ctx, "Geocoding service started...", "interval", gs.pollInterval)

	for {
		select {
		case <-ctx.Done():
			gs.log.InfoContext(ctx, "Geocoding service stopped.")
			return
		case <-ticker.C:
			gs.log.InfoContext(ctx, "Polling for new rows to geocode...")
			gs.processRows(ctx)
		}
	}
}

// processRows fetches unresolved rows and runs them through the batch processor.
func (gs *GeocodingService) processRows(ctx context.Context) {
	rows, err := gs.repo.FetchRowsForGeocoding(ctx, gs.limit)
	if err != nil {
		gs.log.ErrorContext(ctx, "Failed to fetch rows", "error", err)
		return
	}
	if len(rows) == 0 {
		gs.log.InfoContext(ctx, "No rows to process.")
		return
	}

	gs.log.InfoContext(ctx, "Found rows to process.", "rows", len(rows))

	outcome, err := gs.processor.ProcessRows(ctx, rows, batch.Options{
		OnBatchComplete: func(report batch.BatchReport) {
			gs.persist(ctx, report.Results)
		},
	})
	if err != nil {
		gs.log.ErrorContext(ctx, "Geocoding job failed", "error", err)
		return
	}

	gs.log.InfoContext(ctx, "Processing finished",
		"successful", outcome.Summary.Successful,
		"failed", outcome.Summary.Failed,
		"retryable", outcome.Errors.Retryable)
}

// persist stores the rows finished by one batch, even when ctx is already cancelled.
func (gs *GeocodingService) persist(ctx context.Context, results []models.RowResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	for _, res := range results {
		switch {
		case res.Skipped():
			continue
		case res.Succeeded():
			if err := gs.repo.SaveResult(ctx, res.Row.ID, *res.Result); err != nil {
				gs.log.ErrorContext(ctx, "Failed to update coordinates for row", "row", res.Row.ID, "error", err)
			}
		case res.Error.Reason == taxonomy.ReasonCancelled:
			// never reached a provider
			continue
		default:
			if err := gs.repo.RecordFailure(ctx, *res.Error); err != nil {
				gs.log.ErrorContext(ctx, "Could not update failure count for row", "row", res.Row.ID, "error", err)
			}
		}
	}
}
