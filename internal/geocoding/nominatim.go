package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/UnknownOlympus/cartograph/internal/taxonomy"
)

const (
	// NominatimBaseURL is the public OpenStreetMap search endpoint.
	NominatimBaseURL = "https://nominatim.openstreetmap.org/search"
	// DefaultUserAgent identifies the service as required by the Nominatim usage policy.
	DefaultUserAgent = "Cartograph-Geocoding-Service/1.0 (https://github.com/UnknownOlympus/cartograph)"

	maxErrorBody = 4 << 10
)

// NominatimProvider implements the Provider interface using OpenStreetMap's Nominatim API.
// This is a free geocoding service with usage limits (1 request/second for fair use).
type NominatimProvider struct {
	client    HTTPClient    // HTTP client for making requests
	baseURL   string        // Base URL for the Nominatim API
	userAgent string        // userAgent is required by Nominatim usage policy
	email     string        // optional contact address sent with every request
	timeout   time.Duration // per-request timeout
	limiter   Limiter       // token bucket shared by every request of this provider
	log       *slog.Logger  // Logger for logging operations
}

// NominatimOptions configures a NominatimProvider. Zero values select the public defaults.
type NominatimOptions struct {
	BaseURL   string
	UserAgent string
	Email     string
	Timeout   time.Duration
}

// nominatimResponse represents one jsonv2 search result.
type nominatimResponse struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	AddressType string `json:"addresstype"`
	PlaceRank   int    `json:"place_rank"`
	DisplayName string `json:"display_name"`
}

// errNoResults marks a search that succeeded but matched nothing.
var errNoResults = errors.New("nominatim returned no results")

// NewNominatimProvider creates a Nominatim provider backed by a plain http.Client.
func NewNominatimProvider(opts NominatimOptions, limiter Limiter, log *slog.Logger) *NominatimProvider {
	return NewNominatimProviderWithClient(&http.Client{}, opts, limiter, log)
}

// NewNominatimProviderWithClient creates a Nominatim provider with a custom HTTP client.
// Useful for testing with mocked HTTP clients.
func NewNominatimProviderWithClient(
	client HTTPClient,
	opts NominatimOptions,
	limiter Limiter,
	log *slog.Logger,
) *NominatimProvider {
	if opts.BaseURL == "" {
		opts.BaseURL = NominatimBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &NominatimProvider{
		client:    client,
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
		email:     opts.Email,
		timeout:   opts.Timeout,
		limiter:   limiter,
		log:       log,
	}
}

// Name returns the provider identifier.
func (np *NominatimProvider) Name() string {
	return string(ProviderTypeNominatim)
}

// Geocode resolves addr with a progressive fallback for sparse matches:
// 1. the full address
// 2. the address without its street
// 3. city and country only
//
// Every variation consumes a rate-limit token. The first non-empty answer wins;
// any other failure ends the search.
func (np *NominatimProvider) Geocode(ctx context.Context, addr models.Address) (*models.GeocodeResult, error) {
	if _, err := prepareQuery(np.Name(), addr); err != nil {
		return nil, err
	}

	variations := nominatimFallbacks(addr)
	for idx, variation := range variations {
		result, err := np.search(ctx, variation)
		if err == nil {
			if idx > 0 {
				np.log.InfoContext(ctx, "Geocoded using fallback address",
					"original", addr.Format(),
					"fallback", variation,
					"fallback_level", idx)
			}
			return result, nil
		}

		if !errors.Is(err, errNoResults) {
			return nil, err
		}

		np.log.DebugContext(ctx, "Address variation returned no results, trying fallback",
			"variation", variation,
			"fallback_level", idx)
	}

	np.log.WarnContext(ctx, "All address fallbacks exhausted",
		"address", addr.Format(),
		"variations_tried", len(variations))

	return nil, taxonomy.Validation(np.Name(), taxonomy.ReasonNoResults)
}

// nominatimFallbacks lists progressively coarser queries, dropping duplicates and
// anything that would no longer be a sufficient address.
func nominatimFallbacks(addr models.Address) []string {
	candidates := []models.Address{
		addr,
		{City: addr.City, Postcode: addr.Postcode, Country: addr.Country},
		{City: addr.City, Country: addr.Country},
	}

	seen := make(map[string]bool, len(candidates))
	variations := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		query := candidate.Format()
		if !candidate.Sufficient() || seen[query] {
			continue
		}
		seen[query] = true
		variations = append(variations, query)
	}

	return variations
}

// search performs a single request without fallback logic.
func (np *NominatimProvider) search(ctx context.Context, query string) (*models.GeocodeResult, error) {
	if err := acquire(ctx, np.Name(), np.limiter); err != nil {
		return nil, err
	}

	reqURL, err := url.Parse(np.baseURL)
	if err != nil {
		return nil, taxonomy.Configuration(np.Name(), fmt.Sprintf("invalid base URL: %v", err))
	}

	params := reqURL.Query()
	params.Set("q", query)
	params.Set("format", "jsonv2")
	params.Set("limit", "1") // Only need the top result
	if np.email != "" {
		params.Set("email", np.email)
	}
	reqURL.RawQuery = params.Encode()

	callCtx, cancel := withTimeout(ctx, np.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, taxonomy.Configuration(np.Name(), fmt.Sprintf("failed to create request: %v", err))
	}

	// Set required headers per Nominatim usage policy
	req.Header.Set("User-Agent", np.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := np.client.Do(req)
	if err != nil {
		np.log.DebugContext(ctx, "Nominatim request failed", "error", err)
		return nil, transportFailure(ctx, np.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		np.log.WarnContext(ctx, "Nominatim API error", "status", resp.StatusCode, "body", string(body))
		retryAfter := taxonomy.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return nil, taxonomy.FromHTTPStatus(np.Name(), resp.StatusCode, retryAfter)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportFailure(ctx, np.Name(), err)
	}

	var results []nominatimResponse
	if err = json.Unmarshal(body, &results); err != nil {
		np.log.ErrorContext(ctx, "Failed to parse Nominatim response", "error", err)
		failure := taxonomy.Validation(np.Name(), "Malformed provider response")
		failure.Err = err
		return nil, failure
	}

	if len(results) == 0 {
		return nil, errNoResults
	}

	lat, latErr := strconv.ParseFloat(strings.TrimSpace(results[0].Lat), 64)
	lng, lngErr := strconv.ParseFloat(strings.TrimSpace(results[0].Lon), 64)
	if latErr != nil || lngErr != nil {
		return nil, taxonomy.Validation(np.Name(), taxonomy.ReasonInvalidCoordinates)
	}
	if err = checkCoordinates(np.Name(), lat, lng); err != nil {
		return nil, err
	}

	np.log.DebugContext(ctx, "Nominatim found result", "lat", lat, "lon", lng, "type", results[0].AddressType)

	return &models.GeocodeResult{
		Latitude:  lat,
		Longitude: lng,
		Precision: nominatimPrecision(results[0].AddressType, results[0].PlaceRank),
		Provider:  np.Name(),
	}, nil
}

// nominatimPrecision maps the jsonv2 addresstype, falling back to place_rank.
func nominatimPrecision(addressType string, placeRank int) models.Precision {
	switch addressType {
	case "house", "building", "house_number":
		return models.PrecisionExact
	case "road", "street", "residential":
		return models.PrecisionStreet
	case "neighbourhood", "suburb", "quarter", "city_district", "borough", "hamlet":
		return models.PrecisionNeighborhood
	case "city", "town", "village", "municipality":
		return models.PrecisionCity
	case "postcode":
		return models.PrecisionPostal
	case "state", "region", "province", "county", "state_district":
		return models.PrecisionRegion
	case "country":
		return models.PrecisionCountry
	}

	switch {
	case placeRank >= 28: //nolint:mnd // Nominatim place ranks
		return models.PrecisionExact
	case placeRank >= 26: //nolint:mnd // streets
		return models.PrecisionStreet
	case placeRank >= 19: //nolint:mnd // suburbs and neighbourhoods
		return models.PrecisionNeighborhood
	case placeRank >= 13: //nolint:mnd // towns and cities
		return models.PrecisionCity
	case placeRank >= 5: //nolint:mnd // states and counties
		return models.PrecisionRegion
	case placeRank == 4: //nolint:mnd // countries
		return models.PrecisionCountry
	default:
		return models.PrecisionApproximate
	}
}
