package geocoding

import (
	"context"
	"net/http"

	"github.com/UnknownOlympus/cartograph/internal/models"
)

// Provider turns an address into a coordinate.
// Every error returned by Geocode is a *taxonomy.Error so callers can decide
// whether to retry without inspecting provider specifics.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, addr models.Address) (*models.GeocodeResult, error)
}

// Limiter throttles the outbound requests of a single provider.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// HTTPClient defines the interface for making HTTP requests.
// This allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
