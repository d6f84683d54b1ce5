// Package batch drives a geocoding job: it splits rows into batches, geocodes
// each row under a concurrency gate and a retry policy, and reports progress
// after every batch.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/gate"
	"github.com/UnknownOlympus/cartograph/internal/geocoding"
	"github.com/UnknownOlympus/cartograph/internal/metrics"
	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/UnknownOlympus/cartograph/internal/retry"
	"github.com/UnknownOlympus/cartograph/internal/taxonomy"
	"golang.org/x/sync/errgroup"
)

// Batch sizing.
const (
	DefaultBatchSize  = 15
	MinBatchSize      = 1
	MaxBatchSize      = 50
	DefaultBatchPause = 100 * time.Millisecond
)

// Row outcome labels used for metrics.
const (
	statusSuccess = "success"
	statusFailed  = "failed"
	statusSkipped = "skipped"
)

// Geocoder selects a provider and resolves one address. *geocoding.Manager implements it.
type Geocoder interface {
	Geocode(ctx context.Context, addr models.Address, preferred string) (*models.GeocodeResult, error)
	Alternate(current string) (string, bool)
	Providers() []string
}

// Settings tune a processor.
type Settings struct {
	BatchSize   int           // rows per batch, clamped to [MinBatchSize, MaxBatchSize]
	Concurrency int           // rows of a batch geocoded at the same time
	BatchPause  time.Duration // pause between two batches
	Retry       retry.Config  // backoff schedule for retryable failures
	Fallback    bool          // switch provider between retries when another one is registered
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:   DefaultBatchSize,
		Concurrency: gate.DefaultLimit,
		BatchPause:  DefaultBatchPause,
		Retry:       retry.DefaultConfig(),
		Fallback:    true,
	}
}

// Options are the per-job inputs of ProcessRows.
type Options struct {
	PreferredProvider string
	// OnProgress receives a copy of the progress after every batch but the last, and once more when the job ends.
	OnProgress func(models.Progress)
	// OnBatchComplete receives the rows finished by a batch.
	OnBatchComplete func(BatchReport)
}

// BatchReport describes one finished batch.
type BatchReport struct {
	Index    int // 1-based
	Total    int
	Results  []models.RowResult
	Progress models.Progress
}

// Outcome is the final answer of a job. Every input row appears exactly once in Results.
type Outcome struct {
	Results  []models.RowResult
	Summary  models.Summary
	Errors   taxonomy.Summary
	Failures []taxonomy.Entry
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Processor) { p.log = log }
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithGate shares a concurrency gate between processors.
func WithGate(g *gate.Gate) Option {
	return func(p *Processor) { p.gate = g }
}

// Processor runs geocoding jobs. Jobs on the same processor run one at a time.
type Processor struct {
	geocoder  Geocoder
	settings  Settings
	gate      *gate.Gate
	log       *slog.Logger
	metrics   *metrics.Metrics
	cancelled atomic.Bool
	mu        sync.Mutex
}

// New creates a processor.
func New(geocoder Geocoder, settings Settings, opts ...Option) *Processor {
	switch {
	case settings.BatchSize <= 0:
		settings.BatchSize = DefaultBatchSize
	case settings.BatchSize > MaxBatchSize:
		settings.BatchSize = MaxBatchSize
	}
	if settings.Concurrency <= 0 {
		settings.Concurrency = gate.DefaultLimit
	}
	if settings.BatchPause < 0 {
		settings.BatchPause = 0
	}

	p := &Processor{geocoder: geocoder, settings: settings, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.gate == nil {
		p.gate = gate.New(settings.Concurrency)
	}

	return p
}

// Settings returns the effective settings.
func (p *Processor) Settings() Settings {
	return p.settings
}

// Cancel stops the running job cooperatively: no further batch starts and no row
// makes a new provider call. Calls already in flight finish and are recorded.
// A Cancel made while no job runs applies to the next one. Once the cancelled
// job returns, the processor accepts new jobs again.
func (p *Processor) Cancel() {
	p.cancelled.Store(true)
}

// Cancelled reports whether a cancellation is pending or stopping the running job.
func (p *Processor) Cancelled() bool {
	return p.cancelled.Load()
}

func (p *Processor) stopped(ctx context.Context) bool {
	return p.cancelled.Load() || ctx.Err() != nil
}

// rowOutcome is what a row task sends back to the control loop.
type rowOutcome struct {
	row      models.ImportRow
	result   *models.GeocodeResult
	failure  *taxonomy.Error
	attempts int
}

// job holds the state owned by the control loop of one ProcessRows call.
type job struct {
	opts     Options
	progress *models.Progress
	results  []models.RowResult
	agg      *taxonomy.Aggregator
}

// ProcessRows geocodes rows. Rows with valid coordinates are kept as they are.
// The progress always ends with InProgress == false and a final OnProgress call,
// even when the job is cancelled or a callback panics.
//
// The returned error is non-nil only for job-level failures such as having no
// provider; the outcome is still complete in that case.
func (p *Processor) ProcessRows(ctx context.Context, rows []models.ImportRow, opts Options) (*Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	j := &job{
		opts:     opts,
		progress: &models.Progress{Total: len(rows), InProgress: true},
		results:  make([]models.RowResult, 0, len(rows)),
		agg:      taxonomy.NewAggregator(),
	}
	defer p.cancelled.Store(false)
	defer func() {
		j.progress.InProgress = false
		p.notify(j)
	}()

	pending := p.partition(j, rows)

	var jobErr error
	if len(pending) > 0 && len(p.geocoder.Providers()) == 0 {
		jobErr = geocoding.ErrNoProviders
		p.failJob(ctx, j, pending, geocoding.ErrNoProviders)
	} else {
		p.runBatches(ctx, j, chunk(pending, p.settings.BatchSize))
	}

	summary := models.Summarize(j.results)
	p.log.InfoContext(ctx, "Geocoding job finished",
		"total", summary.Total,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"cancelled", p.stopped(ctx))

	return &Outcome{
		Results:  j.results,
		Summary:  summary,
		Errors:   j.agg.Summary(),
		Failures: j.agg.Entries(),
	}, jobErr
}

// partition records rows that already carry coordinates and returns the rest.
func (p *Processor) partition(j *job, rows []models.ImportRow) []models.ImportRow {
	pending := make([]models.ImportRow, 0, len(rows))
	for _, row := range rows {
		if !row.HasCoordinates() {
			pending = append(pending, row)
			continue
		}

		j.results = append(j.results, models.RowResult{
			Row: row,
			Result: &models.GeocodeResult{
				Latitude:  *row.Latitude,
				Longitude: *row.Longitude,
				Precision: models.PrecisionExisting,
			},
		})
		j.progress.Completed++
		p.count(statusSkipped)
	}

	return pending
}

func (p *Processor) runBatches(ctx context.Context, j *job, batches [][]models.ImportRow) {
	j.progress.TotalBatches = len(batches)

	for idx, rows := range batches {
		if p.stopped(ctx) {
			p.log.WarnContext(ctx, "Geocoding job cancelled", "batch", idx+1, "batches", len(batches))
			for _, remaining := range batches[idx:] {
				for _, row := range remaining {
					p.record(j, rowOutcome{row: row, failure: taxonomy.Cancelled()})
				}
			}
			return
		}

		j.progress.CurrentBatch = idx + 1
		p.log.DebugContext(ctx, "Starting batch", "batch", idx+1, "batches", len(batches), "rows", len(rows))

		finished := make([]models.RowResult, 0, len(rows))
		for _, outcome := range p.runBatch(ctx, rows, j.opts.PreferredProvider) {
			finished = append(finished, p.record(j, outcome))
		}
		if p.metrics != nil {
			p.metrics.Batches.Inc()
		}

		// The last batch completes every row; the deferred final report carries it.
		if idx == len(batches)-1 {
			j.progress.InProgress = false
		} else {
			p.notify(j)
		}
		if j.opts.OnBatchComplete != nil {
			j.opts.OnBatchComplete(BatchReport{
				Index:    idx + 1,
				Total:    len(batches),
				Results:  finished,
				Progress: j.progress.Clone(),
			})
		}

		if idx < len(batches)-1 {
			p.pause(ctx)
		}
	}
}

// runBatch geocodes every row of a batch and waits for all of them.
func (p *Processor) runBatch(ctx context.Context, rows []models.ImportRow, preferred string) []rowOutcome {
	inbox := make(chan rowOutcome, len(rows))

	var group errgroup.Group
	for _, row := range rows {
		group.Go(func() error {
			inbox <- p.processRow(ctx, row, preferred)
			return nil
		})
	}
	_ = group.Wait()
	close(inbox)

	outcomes := make([]rowOutcome, 0, len(rows))
	for outcome := range inbox {
		outcomes = append(outcomes, outcome)
	}

	return outcomes
}

// processRow runs the retry loop for one row. It never panics.
func (p *Processor) processRow(ctx context.Context, row models.ImportRow, preferred string) (out rowOutcome) {
	out.row = row
	defer func() {
		if r := recover(); r != nil {
			p.log.ErrorContext(ctx, "Geocoding row panicked", "row", row.ID, "panic", r)
			provider := ""
			if out.failure != nil {
				provider = out.failure.Provider
			}
			out.result = nil
			out.failure = taxonomy.Unexpected(provider, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := p.gate.Acquire(ctx); err != nil {
		out.failure = taxonomy.Cancelled()
		return out
	}
	defer p.gate.Release()

	if p.metrics != nil {
		p.metrics.InFlight.Inc()
		defer p.metrics.InFlight.Dec()
	}

	addr := row.Location()
	policy := retry.New(p.settings.Retry)
	provider := preferred

	for {
		// A row past this check completes its call even if the job is cancelled meanwhile.
		if p.stopped(ctx) {
			if out.failure == nil {
				out.failure = taxonomy.Cancelled()
			}
			return out
		}

		out.attempts++
		result, err := p.geocoder.Geocode(ctx, addr, provider)
		if err == nil {
			out.result, out.failure = result, nil
			return out
		}

		out.failure = taxonomy.AsError(err)
		if !taxonomy.Classify(out.failure).Retryable || !policy.ShouldRetry() {
			return out
		}

		if p.settings.Fallback && out.failure.Provider != "" {
			if next, ok := p.geocoder.Alternate(out.failure.Provider); ok {
				provider = next
			}
		}

		p.log.DebugContext(ctx, "Retrying row",
			"row", row.ID,
			"attempt", out.attempts,
			"provider", provider,
			"error", out.failure)

		if err = policy.WaitAtLeast(ctx, out.failure.RetryAfter); err != nil {
			return out
		}
	}
}

// record folds a row outcome into the job state. Only the control loop calls it.
func (p *Processor) record(j *job, outcome rowOutcome) models.RowResult {
	result := models.RowResult{Row: outcome.row}

	if outcome.failure == nil {
		result.Result = outcome.result
		j.progress.Completed++
		p.count(statusSuccess)
	} else {
		address := outcome.row.Location().Format()
		result.Error = &models.GeocodeError{
			RowID:     outcome.row.ID,
			Address:   address,
			Reason:    outcome.failure.Message,
			Retryable: taxonomy.Classify(outcome.failure).Retryable,
			Provider:  outcome.failure.Provider,
		}
		j.progress.Failed++
		j.progress.Errors = append(j.progress.Errors, *result.Error)
		j.agg.Add(outcome.failure, taxonomy.Context{
			RowID:    outcome.row.ID,
			Address:  address,
			Provider: outcome.failure.Provider,
			Attempts: outcome.attempts,
		})
		p.count(statusFailed)
	}

	j.results = append(j.results, result)

	return result
}

// failJob fails every pending row with a single job-level error entry.
func (p *Processor) failJob(ctx context.Context, j *job, pending []models.ImportRow, failure *taxonomy.Error) {
	p.log.ErrorContext(ctx, "Geocoding job cannot start", "error", failure, "rows", len(pending))

	j.agg.Add(failure, taxonomy.Context{})
	for _, row := range pending {
		j.results = append(j.results, models.RowResult{
			Row: row,
			Error: &models.GeocodeError{
				RowID:   row.ID,
				Address: row.Location().Format(),
				Reason:  failure.Message,
			},
		})
		j.progress.Failed++
		p.count(statusFailed)
	}
}

func (p *Processor) notify(j *job) {
	if j.opts.OnProgress != nil {
		j.opts.OnProgress(j.progress.Clone())
	}
}

func (p *Processor) pause(ctx context.Context) {
	if p.settings.BatchPause <= 0 {
		return
	}

	timer := time.NewTimer(p.settings.BatchPause)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (p *Processor) count(status string) {
	if p.metrics != nil {
		p.metrics.RowsProcessed.WithLabelValues(status).Inc()
	}
}

func chunk(rows []models.ImportRow, size int) [][]models.ImportRow {
	batches := make([][]models.ImportRow, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		batches = append(batches, rows[start:min(start+size, len(rows))])
	}

	return batches
}
