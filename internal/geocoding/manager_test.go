package geocoding_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/UnknownOlympus/cartograph/internal/geocoding"
	"github.com/UnknownOlympus/cartograph/internal/metrics"
	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/UnknownOlympus/cartograph/internal/taxonomy"
	"github.com/UnknownOlympus/cartograph/test/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func namedProvider(t *testing.T, name string) *mocks.Provider {
	t.Helper()

	provider := mocks.NewProvider(t)
	provider.On("Name").Return(name).Maybe()

	return provider
}

func TestManager_Select(t *testing.T) {
	logger := slog.Default()

	t.Run("no providers", func(t *testing.T) {
		manager := geocoding.NewManager(logger, nil)

		_, err := manager.Select("")

		require.ErrorIs(t, err, geocoding.ErrNoProviders)
		assert.Equal(t, taxonomy.CategoryConfiguration, taxonomy.AsError(err).Category)
	})

	t.Run("preferred provider wins", func(t *testing.T) {
		manager := geocoding.NewManager(logger, nil, namedProvider(t, "nominatim"), namedProvider(t, "google"))

		selected, err := manager.Select("nominatim")

		require.NoError(t, err)
		assert.Equal(t, "nominatim", selected.Name())
	})

	t.Run("google is chosen when configured", func(t *testing.T) {
		manager := geocoding.NewManager(logger, nil, namedProvider(t, "nominatim"), namedProvider(t, "google"))

		selected, err := manager.Select("")

		require.NoError(t, err)
		assert.Equal(t, "google", selected.Name())
	})

	t.Run("unknown preference falls back to nominatim", func(t *testing.T) {
		manager := geocoding.NewManager(logger, nil, namedProvider(t, "nominatim"))

		selected, err := manager.Select("google")

		require.NoError(t, err)
		assert.Equal(t, "nominatim", selected.Name())
	})

	t.Run("first registered otherwise", func(t *testing.T) {
		manager := geocoding.NewManager(logger, nil, namedProvider(t, "custom"))

		selected, err := manager.Select("")

		require.NoError(t, err)
		assert.Equal(t, "custom", selected.Name())
	})
}

func TestManager_Alternate(t *testing.T) {
	logger := slog.Default()

	single := geocoding.NewManager(logger, nil, namedProvider(t, "nominatim"))
	_, ok := single.Alternate("nominatim")
	assert.False(t, ok)

	pair := geocoding.NewManager(logger, nil, namedProvider(t, "nominatim"), namedProvider(t, "google"))
	next, ok := pair.Alternate("google")
	require.True(t, ok)
	assert.Equal(t, "nominatim", next)

	next, ok = pair.Alternate("nominatim")
	require.True(t, ok)
	assert.Equal(t, "google", next)

	_, ok = pair.Alternate("here")
	assert.False(t, ok)
	assert.Equal(t, []string{"nominatim", "google"}, pair.Providers())
}

func TestManager_Geocode(t *testing.T) {
	logger := slog.Default()
	addr := models.Address{City: "Kyiv", Country: "Ukraine"}
	ctx := t.Context()

	t.Run("success records duration", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		appMetrics := metrics.NewMetrics(reg)
		provider := namedProvider(t, "nominatim")
		provider.On("Geocode", ctx, addr).
			Return(&models.GeocodeResult{Latitude: 50.45, Longitude: 30.52, Precision: models.PrecisionCity}, nil).Once()

		manager := geocoding.NewManager(logger, appMetrics, provider)
		result, err := manager.Geocode(ctx, addr, "")

		require.NoError(t, err)
		assert.InDelta(t, 50.45, result.Latitude, 0.001)
		assert.Equal(t, 1, testutil.CollectAndCount(appMetrics.ProviderRequestSeconds))
	})

	t.Run("untyped error is classified and attributed", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		appMetrics := metrics.NewMetrics(reg)
		provider := namedProvider(t, "google")
		provider.On("Geocode", ctx, addr).Return(nil, assert.AnError).Once()

		manager := geocoding.NewManager(logger, appMetrics, provider)
		_, err := manager.Geocode(ctx, addr, "")

		typed := taxonomy.AsError(err)
		assert.Equal(t, "google", typed.Provider)
		assert.False(t, typed.Retryable)
		assert.InDelta(t, 1.0,
			testutil.ToFloat64(appMetrics.ProviderErrors.WithLabelValues("google", string(taxonomy.CategoryUnknown))), 0.001)
	})
}

func TestManager_TestAllProviders(t *testing.T) {
	logger := slog.Default()

	healthy := namedProvider(t, "nominatim")
	healthy.On("Geocode", mock.Anything, mock.Anything).Return(&models.GeocodeResult{}, nil).Once()

	throttled := namedProvider(t, "throttled")
	throttled.On("Geocode", mock.Anything, mock.Anything).Return(nil, taxonomy.RateLimited("throttled", 0)).Once()

	down := namedProvider(t, "google")
	down.On("Geocode", mock.Anything, mock.Anything).
		Return(nil, taxonomy.Network("google", "Network error", context.DeadlineExceeded)).Once()

	manager := geocoding.NewManager(logger, nil, healthy, throttled, down)
	statuses := manager.TestAllProviders(t.Context())

	require.Len(t, statuses, 3)
	assert.Equal(t, "nominatim", statuses[0].Name)
	assert.True(t, statuses[0].Reachable)
	assert.Empty(t, statuses[0].Error)
	assert.True(t, statuses[1].Reachable)
	assert.False(t, statuses[2].Reachable)
	assert.Contains(t, statuses[2].Error, "Network error")
}

func TestNewManager_IgnoresDuplicates(t *testing.T) {
	manager := geocoding.NewManager(slog.Default(), nil, namedProvider(t, "google"), namedProvider(t, "google"))

	assert.Equal(t, []string{"google"}, manager.Providers())
}
