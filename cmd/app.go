package main

import (
	"fmt"
	"log/slog"

	"github.com/UnknownOlympus/cartograph/internal/batch"
	"github.com/UnknownOlympus/cartograph/internal/config"
	"github.com/UnknownOlympus/cartograph/internal/gate"
	"github.com/UnknownOlympus/cartograph/internal/geocoding"
	"github.com/UnknownOlympus/cartograph/internal/job"
	"github.com/UnknownOlympus/cartograph/internal/metrics"
	"github.com/UnknownOlympus/cartograph/internal/ratelimit"
	"github.com/UnknownOlympus/cartograph/internal/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app bundles the components shared by every command.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	manager *geocoding.Manager
	gate    *gate.Gate
}

// newApp builds the providers, their rate limiters and the shared concurrency gate.
func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	// Create a separate registry for metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)

	providers, err := geocoding.BuildProviders(providerConfigs(cfg, log), ratelimit.NewRegistry(appMetrics), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create geocoding providers: %w", err)
	}

	manager := geocoding.NewManager(log, appMetrics, providers...)
	log.Info("Geocoding providers initialized", "providers", manager.Providers())

	return &app{
		cfg:     cfg,
		log:     log,
		reg:     reg,
		metrics: appMetrics,
		manager: manager,
		gate:    gate.New(cfg.Batch.Concurrency),
	}, nil
}

// providerConfigs lists providers in preference order: Google first when it has a key.
func providerConfigs(cfg *config.Config, log *slog.Logger) []geocoding.ProviderConfig {
	return []geocoding.ProviderConfig{
		{
			Type:      geocoding.ProviderTypeGoogle,
			Enabled:   cfg.Google.Enabled,
			APIKey:    cfg.Google.APIKey,
			BaseURL:   cfg.Google.BaseURL,
			RateLimit: cfg.Google.RateLimit,
			Timeout:   cfg.Google.Timeout,
			Logger:    log,
		},
		{
			Type:      geocoding.ProviderTypeNominatim,
			Enabled:   cfg.Nominatim.Enabled,
			BaseURL:   cfg.Nominatim.BaseURL,
			UserAgent: cfg.Nominatim.UserAgent,
			Email:     cfg.Nominatim.Email,
			RateLimit: cfg.Nominatim.RateLimit,
			Timeout:   cfg.Nominatim.Timeout,
			Logger:    log,
		},
	}
}

func (a *app) settings() batch.Settings {
	return batch.Settings{
		BatchSize:   a.cfg.Batch.Size,
		Concurrency: a.cfg.Batch.Concurrency,
		BatchPause:  a.cfg.Batch.Pause,
		Fallback:    a.cfg.Fallback,
		Retry: retry.Config{
			MaxRetries:   a.cfg.Retry.MaxRetries,
			BaseDelay:    a.cfg.Retry.BaseDelay,
			MaxDelay:     a.cfg.Retry.MaxDelay,
			JitterFactor: a.cfg.Retry.Jitter,
		},
	}
}

func (a *app) processorOptions() []batch.Option {
	return []batch.Option{batch.WithMetrics(a.metrics), batch.WithGate(a.gate)}
}

// processor is the long-lived processor of the polling service.
func (a *app) processor() *batch.Processor {
	return batch.New(a.manager, a.settings(), append(a.processorOptions(), batch.WithLogger(a.log))...)
}

// runner creates one processor per job so cancelling a job never touches another.
func (a *app) runner() *job.Runner {
	return job.NewRunner(a.log, a.manager, a.settings(), a.processorOptions()...)
}
