// Package job turns a GeocodeRequest into a running batch job with an ID.
// The HTTP API, the queue consumer and the CLI all submit work through it.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/UnknownOlympus/cartograph/internal/batch"
	"github.com/UnknownOlympus/cartograph/internal/geocoding"
	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/UnknownOlympus/cartograph/internal/taxonomy"
	"github.com/google/uuid"
)

// MaxRows is the largest number of rows accepted in one request.
const MaxRows = 10000

// ErrInvalidRequest wraps every validation failure of a request.
var ErrInvalidRequest = errors.New("invalid geocode request")

// Response is the final answer of a job, including the error breakdown.
type Response struct {
	models.GeocodeResponse
	Errors taxonomy.Summary `json:"errors"`
}

// Validate checks row count, row ids and the provider preference.
func Validate(req models.GeocodeRequest) error {
	switch {
	case len(req.Rows) == 0:
		return fmt.Errorf("%w: at least one row is required", ErrInvalidRequest)
	case len(req.Rows) > MaxRows:
		return fmt.Errorf("%w: at most %d rows are allowed, got %d", ErrInvalidRequest, MaxRows, len(req.Rows))
	}

	switch geocoding.ProviderType(req.ProviderPreference) {
	case "", geocoding.ProviderTypeGoogle, geocoding.ProviderTypeNominatim:
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidRequest, req.ProviderPreference)
	}

	seen := make(map[string]struct{}, len(req.Rows))
	for idx, row := range req.Rows {
		id := strings.TrimSpace(row.ID)
		if id == "" {
			return fmt.Errorf("%w: row %d has no id", ErrInvalidRequest, idx)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate row id %q", ErrInvalidRequest, id)
		}
		seen[id] = struct{}{}
	}

	return nil
}

// Runner creates jobs that share a geocoder and processor settings.
type Runner struct {
	geocoder batch.Geocoder
	settings batch.Settings
	opts     []batch.Option
	log      *slog.Logger
}

// NewRunner creates a runner. opts are applied to every job's processor;
// pass batch.WithGate to bound concurrency across jobs.
func NewRunner(log *slog.Logger, geocoder batch.Geocoder, settings batch.Settings, opts ...batch.Option) *Runner {
	return &Runner{geocoder: geocoder, settings: settings, opts: opts, log: log}
}

// Job is one validated request with its own processor.
type Job struct {
	ID        string
	request   models.GeocodeRequest
	processor *batch.Processor
	log       *slog.Logger
}

// New validates req and prepares a job for it.
func (r *Runner) New(req models.GeocodeRequest) (*Job, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := r.log.With("job", id)
	opts := append([]batch.Option{batch.WithLogger(log)}, r.opts...)

	return &Job{
		ID:        id,
		request:   req,
		processor: batch.New(r.geocoder, r.settings, opts...),
		log:       log,
	}, nil
}

// Rows returns the number of rows in the job.
func (j *Job) Rows() int {
	return len(j.request.Rows)
}

// Cancel stops the job cooperatively.
func (j *Job) Cancel() {
	j.processor.Cancel()
}

// Run processes the job. onProgress may be nil. The response is complete even
// when err is non-nil; err reports job-level failures such as having no provider.
func (j *Job) Run(ctx context.Context, onProgress func(models.Progress)) (Response, error) {
	j.log.InfoContext(ctx, "Geocoding job started", "rows", j.Rows(), "provider", j.request.ProviderPreference)

	outcome, err := j.processor.ProcessRows(ctx, j.request.ImportRows(), batch.Options{
		PreferredProvider: j.request.ProviderPreference,
		OnProgress:        onProgress,
	})

	resp := Response{
		GeocodeResponse: models.NewGeocodeResponse(j.ID, outcome.Results, outcome.Summary),
		Errors:          outcome.Errors,
	}
	if err != nil {
		resp.Error = err.Error()
	}

	return resp, err
}
