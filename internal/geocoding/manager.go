package geocoding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/metrics"
	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/UnknownOlympus/cartograph/internal/taxonomy"
	"golang.org/x/sync/errgroup"
)

// ErrNoProviders is returned when no provider is enabled and configured.
var ErrNoProviders = taxonomy.Configuration("", "No geocoding providers are enabled")

// probeAddress is geocoded by TestAllProviders.
var probeAddress = models.Address{City: "London", Country: "United Kingdom"}

// ProviderStatus is the outcome of a connectivity probe.
type ProviderStatus struct {
	Name      string `json:"name"`
	Reachable bool   `json:"reachable"`
	LatencyMS int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// Manager owns the configured providers and selects one per call.
// It never falls back on its own; callers use Alternate between attempts.
type Manager struct {
	providers []Provider
	byName    map[string]Provider
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// NewManager registers providers in the given order. m may be nil.
func NewManager(log *slog.Logger, m *metrics.Metrics, providers ...Provider) *Manager {
	byName := make(map[string]Provider, len(providers))
	registered := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if _, dup := byName[p.Name()]; dup {
			log.Warn("Duplicate geocoding provider ignored", "provider", p.Name())
			continue
		}
		byName[p.Name()] = p
		registered = append(registered, p)
	}

	return &Manager{providers: registered, byName: byName, log: log, metrics: m}
}

// Providers returns the registered provider names in registration order.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		names = append(names, p.Name())
	}

	return names
}

// Select picks the preferred provider if registered, otherwise Google, otherwise
// Nominatim, otherwise the first registered one.
func (m *Manager) Select(preferred string) (Provider, error) {
	if len(m.providers) == 0 {
		return nil, ErrNoProviders
	}

	for _, name := range []string{preferred, string(ProviderTypeGoogle), string(ProviderTypeNominatim)} {
		if p, ok := m.byName[name]; ok && name != "" {
			return p, nil
		}
	}

	return m.providers[0], nil
}

// Alternate returns the provider registered after current, wrapping around.
// It reports false when there is nothing else to try.
func (m *Manager) Alternate(current string) (string, bool) {
	if len(m.providers) < 2 { //nolint:mnd // need a second provider
		return "", false
	}

	for idx, p := range m.providers {
		if p.Name() == current {
			return m.providers[(idx+1)%len(m.providers)].Name(), true
		}
	}

	return "", false
}

// Geocode resolves addr with the selected provider. Errors are always *taxonomy.Error.
func (m *Manager) Geocode(ctx context.Context, addr models.Address, preferred string) (*models.GeocodeResult, error) {
	provider, err := m.Select(preferred)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := provider.Geocode(ctx, addr)
	if m.metrics != nil {
		m.metrics.ProviderRequestSeconds.WithLabelValues(provider.Name()).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		failure := taxonomy.AsError(err)
		if failure.Provider == "" {
			failure.Provider = provider.Name()
		}
		if m.metrics != nil {
			m.metrics.ProviderErrors.WithLabelValues(provider.Name(), string(failure.Category)).Inc()
		}
		return nil, failure
	}
	if result == nil {
		return nil, taxonomy.Unexpected(provider.Name(), errors.New("provider returned no result and no error"))
	}
	if result.Provider == "" {
		result.Provider = provider.Name()
	}

	return result, nil
}

// TestAllProviders sends one probe to every provider concurrently.
// Validation and rate-limit answers still prove the provider is reachable.
func (m *Manager) TestAllProviders(ctx context.Context) []ProviderStatus {
	statuses := make([]ProviderStatus, len(m.providers))

	var group errgroup.Group
	for idx, provider := range m.providers {
		group.Go(func() error {
			start := time.Now()
			_, err := provider.Geocode(ctx, probeAddress)
			status := ProviderStatus{Name: provider.Name(), LatencyMS: time.Since(start).Milliseconds()}

			if err == nil {
				status.Reachable = true
			} else {
				failure := taxonomy.AsError(err)
				status.Error = failure.Error()
				status.Reachable = failure.Category == taxonomy.CategoryValidation ||
					failure.Category == taxonomy.CategoryRateLimit
			}

			m.log.InfoContext(ctx, "Provider self-test",
				"provider", status.Name,
				"reachable", status.Reachable,
				"latency_ms", status.LatencyMS)
			statuses[idx] = status

			return nil
		})
	}
	_ = group.Wait()

	return statuses
}
