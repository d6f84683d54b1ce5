package models

import "math"

// Precision is a coarse category describing how specific a resolved coordinate is.
type Precision string

const (
	PrecisionExact        Precision = "exact"
	PrecisionStreet       Precision = "street"
	PrecisionNeighborhood Precision = "neighborhood"
	PrecisionCity         Precision = "city"
	PrecisionPostal       Precision = "postal"
	PrecisionRegion       Precision = "region"
	PrecisionCountry      Precision = "country"
	PrecisionApproximate  Precision = "approximate"
	// PrecisionExisting marks coordinates that were supplied with the row and never geocoded.
	PrecisionExisting Precision = "existing"
)

// Coordinate bounds accepted from providers and import rows.
const (
	MaxLatitude  = 90.0
	MaxLongitude = 180.0
)

// GeocodeResult is a successfully resolved coordinate.
type GeocodeResult struct {
	Latitude  float64   `json:"lat"`       // Latitude of the geographical point.
	Longitude float64   `json:"lng"`       // Longitude of the geographical point.
	Precision Precision `json:"precision"` // Precision of the match.
	Provider  string    `json:"provider"`  // Provider that produced the match, empty for existing coordinates.
}

// ValidCoordinates reports whether lat/lng are finite and inside the WGS84 bounds.
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}

	return lat >= -MaxLatitude && lat <= MaxLatitude && lng >= -MaxLongitude && lng <= MaxLongitude
}
