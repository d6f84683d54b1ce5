package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/UnknownOlympus/cartograph/internal/taxonomy"
	"googlemaps.github.io/maps"
)

// GoogleProvider geocodes through the Google Maps Geocoding API.
type GoogleProvider struct {
	client  GoogleAPIClient // client is the Google Maps API client
	limiter Limiter         // token bucket shared by every request of this provider
	timeout time.Duration   // per-request timeout
	log     *slog.Logger    // log is the logger for logging operations
}

type GoogleAPIClient interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// NewGoogleProvider wraps an API client. limiter may be nil.
func NewGoogleProvider(client GoogleAPIClient, limiter Limiter, timeout time.Duration, log *slog.Logger) *GoogleProvider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &GoogleProvider{client: client, limiter: limiter, timeout: timeout, log: log}
}

// Name returns the provider identifier.
func (gp *GoogleProvider) Name() string {
	return string(ProviderTypeGoogle)
}

// Geocode resolves addr with a single API call.
func (gp *GoogleProvider) Geocode(ctx context.Context, addr models.Address) (*models.GeocodeResult, error) {
	query, err := prepareQuery(gp.Name(), addr)
	if err != nil {
		return nil, err
	}

	if err = acquire(ctx, gp.Name(), gp.limiter); err != nil {
		return nil, err
	}

	gp.log.DebugContext(ctx, "Geocoding using Google Maps", "address", query)

	callCtx, cancel := withTimeout(ctx, gp.timeout)
	defer cancel()

	geocodeResponse, err := gp.client.Geocode(callCtx, &maps.GeocodingRequest{Address: query})
	if err != nil {
		return nil, gp.failure(ctx, err)
	}

	if len(geocodeResponse) == 0 {
		return nil, taxonomy.Validation(gp.Name(), taxonomy.ReasonNoResults)
	}

	best := geocodeResponse[0]
	coords := best.Geometry.Location
	if err = checkCoordinates(gp.Name(), coords.Lat, coords.Lng); err != nil {
		return nil, err
	}

	return &models.GeocodeResult{
		Latitude:  coords.Lat,
		Longitude: coords.Lng,
		Precision: googlePrecision(best.Geometry.LocationType, best.Types),
		Provider:  gp.Name(),
	}, nil
}

// failure maps the status carried by maps client errors ("maps: STATUS - message").
func (gp *GoogleProvider) failure(ctx context.Context, err error) error {
	msg := err.Error()

	var (
		statusErr *httpStatusError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		failure   *taxonomy.Error
	)
	switch {
	case errors.As(err, &statusErr):
		failure = taxonomy.FromHTTPStatus(gp.Name(), statusErr.status, statusErr.retryAfter)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		failure = taxonomy.Validation(gp.Name(), "Malformed provider response")
	case strings.Contains(msg, "OVER_QUERY_LIMIT"):
		failure = taxonomy.RateLimited(gp.Name(), 0)
	case strings.Contains(msg, "REQUEST_DENIED"), strings.Contains(msg, "OVER_DAILY_LIMIT"):
		failure = taxonomy.Configuration(gp.Name(), "Google Maps API rejected the request")
	case strings.Contains(msg, "INVALID_REQUEST"):
		failure = taxonomy.Validation(gp.Name(), "Google Maps API reported an invalid request")
	case strings.Contains(msg, "UNKNOWN_ERROR"):
		failure = taxonomy.Network(gp.Name(), "Google Maps API server error", nil)
	default:
		return transportFailure(ctx, gp.Name(), err)
	}

	gp.log.WarnContext(ctx, "Google Maps API error", "error", err, "category", failure.Category)
	failure.Err = err

	return failure
}

// googlePrecision maps location_type first, then the most specific result type.
func googlePrecision(locationType string, types []string) models.Precision {
	switch locationType {
	case "ROOFTOP":
		return models.PrecisionExact
	case "RANGE_INTERPOLATED":
		return models.PrecisionStreet
	}

	for _, kind := range types {
		switch {
		case kind == "street_address" || kind == "premise" || kind == "subpremise":
			return models.PrecisionExact
		case kind == "route" || kind == "intersection":
			return models.PrecisionStreet
		case kind == "neighborhood" || strings.HasPrefix(kind, "sublocality"):
			return models.PrecisionNeighborhood
		case kind == "postal_code":
			return models.PrecisionPostal
		case kind == "locality" || kind == "postal_town":
			return models.PrecisionCity
		case strings.HasPrefix(kind, "administrative_area"):
			return models.PrecisionRegion
		case kind == "country":
			return models.PrecisionCountry
		}
	}

	return models.PrecisionApproximate
}

// httpStatusError carries a non-2xx answer past the maps client, which decodes
// every body regardless of its status.
type httpStatusError struct {
	status     int
	retryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.status)
}

// statusTransport turns non-2xx responses into *httpStatusError.
type statusTransport struct {
	base http.RoundTripper
}

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	return nil, &httpStatusError{
		status:     resp.StatusCode,
		retryAfter: taxonomy.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}
