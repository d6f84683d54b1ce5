package geocoding

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/ratelimit"
	"googlemaps.github.io/maps"
)

// ProviderType represents the type of geocoding provider.
type ProviderType string

const (
	// ProviderTypeGoogle represents Google Maps geocoding provider.
	ProviderTypeGoogle ProviderType = "google"
	// ProviderTypeNominatim represents OpenStreetMap Nominatim geocoding provider.
	ProviderTypeNominatim ProviderType = "nominatim"
)

// ErrMissingAPIKey is returned when the Google provider is configured without credentials.
var ErrMissingAPIKey = errors.New("API key is required for Google provider")

// ProviderConfig holds configuration for creating a geocoding provider.
type ProviderConfig struct {
	Type       ProviderType  // Type of provider to create
	Enabled    bool          // Disabled providers are skipped by BuildProviders
	APIKey     string        // API key (used by Google provider)
	BaseURL    string        // Overrides the provider endpoint
	UserAgent  string        // User-Agent sent to Nominatim
	Email      string        // Contact address sent to Nominatim
	RateLimit  float64       // Requests per second, zero disables limiting
	BucketSize int           // Burst size, zero selects the default
	Timeout    time.Duration // Per-request timeout
	Logger     *slog.Logger  // Logger for the provider
}

// NewProvider creates a geocoding provider based on the provided configuration.
// Each provider gets its own token bucket from limits; a nil registry gives the
// provider a private bucket.
//
// Supported provider types:
// - "google": Google Maps Geocoding API (requires API key)
// - "nominatim": OpenStreetMap Nominatim API (free, no API key required)
func NewProvider(config ProviderConfig, limits *ratelimit.Registry) (Provider, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	switch config.Type {
	case ProviderTypeGoogle:
		return newGoogleProvider(config, bucketFor(config, limits))
	case ProviderTypeNominatim:
		return newNominatimProvider(config, bucketFor(config, limits)), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.Type)
	}
}

// BuildProviders creates every enabled provider. A Google provider without an API
// key is skipped with a warning so the open-data provider can still serve requests.
func BuildProviders(configs []ProviderConfig, limits *ratelimit.Registry, log *slog.Logger) ([]Provider, error) {
	providers := make([]Provider, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			log.Info("Geocoding provider disabled", "provider", cfg.Type)
			continue
		}

		provider, err := NewProvider(cfg, limits)
		if errors.Is(err, ErrMissingAPIKey) {
			log.Warn("Geocoding provider has no credentials, skipping", "provider", cfg.Type)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create %s provider: %w", cfg.Type, err)
		}
		providers = append(providers, provider)
	}

	return providers, nil
}

func bucketFor(config ProviderConfig, limits *ratelimit.Registry) *ratelimit.Bucket {
	if limits == nil {
		return ratelimit.New(config.RateLimit, config.BucketSize)
	}

	return limits.Get(string(config.Type), config.RateLimit, config.BucketSize)
}

// newGoogleProvider creates a Google Maps geocoding provider.
func newGoogleProvider(config ProviderConfig, limiter Limiter) (Provider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	// The token bucket owns the request budget, so the client's own limiter is off.
	clientOpts := []maps.ClientOption{
		maps.WithAPIKey(config.APIKey),
		maps.WithRateLimit(0),
		maps.WithHTTPClient(&http.Client{Transport: statusTransport{base: http.DefaultTransport}}),
	}
	if config.BaseURL != "" {
		clientOpts = append(clientOpts, maps.WithBaseURL(config.BaseURL))
	}

	client, err := maps.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}

	return NewGoogleProvider(client, limiter, config.Timeout, config.Logger), nil
}

// newNominatimProvider creates a Nominatim geocoding provider.
func newNominatimProvider(config ProviderConfig, limiter Limiter) Provider {
	// Nominatim is free and doesn't require an API key
	return NewNominatimProvider(NominatimOptions{
		BaseURL:   config.BaseURL,
		UserAgent: config.UserAgent,
		Email:     config.Email,
		Timeout:   config.Timeout,
	}, limiter, config.Logger)
}
