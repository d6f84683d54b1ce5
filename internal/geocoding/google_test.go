package geocoding_test

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/geocoding"
	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/UnknownOlympus/cartograph/internal/taxonomy"
	"github.com/UnknownOlympus/cartograph/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"
)

func TestGoogleProvider_Geocode(t *testing.T) {
	addr := models.Address{Street: "1600 Amphitheatre Parkway", City: "Mountain View", Country: "US"}
	req := &maps.GeocodingRequest{Address: "1600 Amphitheatre Parkway, Mountain View, US"}
	ctx := t.Context()

	t.Run("successful geocoding", func(t *testing.T) {
		mockClient := mocks.NewGoogleAPIClient(t)
		limiter := &countingLimiter{}
		provider := geocoding.NewGoogleProvider(mockClient, limiter, time.Second, slog.Default())

		mockResponse := []maps.GeocodingResult{{
			Geometry: maps.AddressGeometry{
				Location:     maps.LatLng{Lat: 37.42, Lng: -122.08},
				LocationType: "ROOFTOP",
			},
		}}
		mockClient.On("Geocode", mock.Anything, req).Return(mockResponse, nil).Once()

		result, err := provider.Geocode(ctx, addr)

		require.NoError(t, err)
		require.InEpsilon(t, 37.42, result.Latitude, 0.01)
		require.InEpsilon(t, -122.08, result.Longitude, 0.01)
		assert.Equal(t, models.PrecisionExact, result.Precision)
		assert.Equal(t, "google", result.Provider)
		assert.Equal(t, int32(1), limiter.calls.Load())
	})

	t.Run("insufficient address makes no call", func(t *testing.T) {
		mockClient := mocks.NewGoogleAPIClient(t)
		provider := geocoding.NewGoogleProvider(mockClient, nil, 0, slog.Default())

		_, err := provider.Geocode(ctx, models.Address{Street: "123 Main St"})

		typed := requireCategory(t, err, taxonomy.CategoryValidation, false)
		assert.Equal(t, taxonomy.ReasonInsufficientAddress, typed.Message)
		mockClient.AssertNotCalled(t, "Geocode", mock.Anything, mock.Anything)
	})

	t.Run("empty response", func(t *testing.T) {
		mockClient := mocks.NewGoogleAPIClient(t)
		provider := geocoding.NewGoogleProvider(mockClient, nil, 0, slog.Default())
		mockClient.On("Geocode", mock.Anything, req).Return(nil, nil).Once()

		result, err := provider.Geocode(ctx, addr)

		require.Nil(t, result)
		typed := requireCategory(t, err, taxonomy.CategoryValidation, false)
		assert.Equal(t, taxonomy.ReasonNoResults, typed.Message)
	})

	t.Run("invalid coordinates", func(t *testing.T) {
		mockClient := mocks.NewGoogleAPIClient(t)
		provider := geocoding.NewGoogleProvider(mockClient, nil, 0, slog.Default())
		mockClient.On("Geocode", mock.Anything, req).Return([]maps.GeocodingResult{
			{Geometry: maps.AddressGeometry{Location: maps.LatLng{Lat: 10, Lng: 200}}},
		}, nil).Once()

		_, err := provider.Geocode(ctx, addr)

		requireCategory(t, err, taxonomy.CategoryValidation, false)
	})

	malformed := json.Unmarshal([]byte("<html>"), new(any))

	statusTests := []struct {
		name      string
		err       error
		category  taxonomy.Category
		retryable bool
	}{
		{"over query limit", errors.New("maps: OVER_QUERY_LIMIT - slow down"), taxonomy.CategoryRateLimit, true},
		{"request denied", errors.New("maps: REQUEST_DENIED - bad key"), taxonomy.CategoryConfiguration, false},
		{"over daily limit", errors.New("maps: OVER_DAILY_LIMIT - billing"), taxonomy.CategoryConfiguration, false},
		{"invalid request", errors.New("maps: INVALID_REQUEST - "), taxonomy.CategoryValidation, false},
		{"unknown error", errors.New("maps: UNKNOWN_ERROR - "), taxonomy.CategoryNetwork, true},
		{"transport failure", assert.AnError, taxonomy.CategoryNetwork, true},
		{"malformed body", malformed, taxonomy.CategoryValidation, false},
	}

	for _, tt := range statusTests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := mocks.NewGoogleAPIClient(t)
			provider := geocoding.NewGoogleProvider(mockClient, nil, 0, slog.Default())
			mockClient.On("Geocode", mock.Anything, req).Return(nil, tt.err).Once()

			_, err := provider.Geocode(ctx, addr)

			typed := requireCategory(t, err, tt.category, tt.retryable)
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, "google", typed.Provider)
		})
	}
}

func TestGooglePrecision(t *testing.T) {
	tests := []struct {
		locationType string
		types        []string
		want         models.Precision
	}{
		{"ROOFTOP", nil, models.PrecisionExact},
		{"RANGE_INTERPOLATED", nil, models.PrecisionStreet},
		{"GEOMETRIC_CENTER", []string{"route"}, models.PrecisionStreet},
		{"APPROXIMATE", []string{"neighborhood", "political"}, models.PrecisionNeighborhood},
		{"APPROXIMATE", []string{"sublocality_level_1"}, models.PrecisionNeighborhood},
		{"APPROXIMATE", []string{"postal_code"}, models.PrecisionPostal},
		{"APPROXIMATE", []string{"locality", "political"}, models.PrecisionCity},
		{"APPROXIMATE", []string{"administrative_area_level_1"}, models.PrecisionRegion},
		{"APPROXIMATE", []string{"country", "political"}, models.PrecisionCountry},
		{"APPROXIMATE", []string{"natural_feature"}, models.PrecisionApproximate},
	}

	for _, tt := range tests {
		t.Run(string(tt.want)+"/"+tt.locationType, func(t *testing.T) {
			mockClient := mocks.NewGoogleAPIClient(t)
			provider := geocoding.NewGoogleProvider(mockClient, nil, 0, slog.Default())
			mockClient.On("Geocode", mock.Anything, mock.Anything).Return([]maps.GeocodingResult{{
				Types: tt.types,
				Geometry: maps.AddressGeometry{
					Location:     maps.LatLng{Lat: 1, Lng: 1},
					LocationType: tt.locationType,
				},
			}}, nil).Once()

			result, err := provider.Geocode(t.Context(), models.Address{City: "Paris", Country: "France"})

			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Precision)
		})
	}
}

func TestGoogleProvider_HTTPResponses(t *testing.T) {
	addr := models.Address{Street: "1600 Amphitheatre Parkway", City: "Mountain View", Country: "US"}

	tests := []struct {
		name       string
		status     int
		header     map[string]string
		body       string
		category   taxonomy.Category
		retryable  bool
		retryAfter time.Duration
	}{
		{"bad gateway page", http.StatusBadGateway, nil, "<html>502</html>", taxonomy.CategoryNetwork, true, 0},
		{"throttled", http.StatusTooManyRequests, map[string]string{"Retry-After": "2"}, "", taxonomy.CategoryRateLimit, true, 2 * time.Second},
		{"forbidden", http.StatusForbidden, nil, "<html>403</html>", taxonomy.CategoryValidation, false, 0},
		{"non-JSON success body", http.StatusOK, nil, "<html>maintenance</html>", taxonomy.CategoryValidation, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				for key, value := range tt.header {
					w.Header().Set(key, value)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			provider, err := geocoding.NewProvider(geocoding.ProviderConfig{
				Type:    geocoding.ProviderTypeGoogle,
				APIKey:  "test-api-key",
				BaseURL: srv.URL,
				Logger:  slog.Default(),
			}, nil)
			require.NoError(t, err)

			_, err = provider.Geocode(t.Context(), addr)

			typed := requireCategory(t, err, tt.category, tt.retryable)
			assert.Equal(t, tt.retryAfter, typed.RetryAfter)
			if tt.status != http.StatusOK {
				assert.Equal(t, tt.status, typed.StatusCode)
			}
		})
	}

	t.Run("successful response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status": "OK", "results": [{"geometry": {"location": {"lat": 37.42, "lng": -122.08}, "location_type": "ROOFTOP"}, "types": ["street_address"]}]}`))
		}))
		defer srv.Close()

		provider, err := geocoding.NewProvider(geocoding.ProviderConfig{
			Type:    geocoding.ProviderTypeGoogle,
			APIKey:  "test-api-key",
			BaseURL: srv.URL,
			Logger:  slog.Default(),
		}, nil)
		require.NoError(t, err)

		result, err := provider.Geocode(t.Context(), addr)

		require.NoError(t, err)
		assert.InDelta(t, 37.42, result.Latitude, 0.0001)
		assert.Equal(t, models.PrecisionExact, result.Precision)
		assert.Equal(t, "google", result.Provider)
	})
}
