package models

import "strings"

// ImportRow is a single pre-mapped row of an import job.
// ID is assigned by the caller and stays stable for the lifetime of the job.
type ImportRow struct {
	ID        string   `json:"id"`
	Address   string   `json:"address,omitempty"`
	City      string   `json:"city,omitempty"`
	Postcode  string   `json:"postcode,omitempty"`
	Country   string   `json:"country"`
	Latitude  *float64 `json:"lat,omitempty"`
	Longitude *float64 `json:"lng,omitempty"`
}

// HasCoordinates reports whether the row already carries usable coordinates
// and therefore must not be geocoded.
func (r ImportRow) HasCoordinates() bool {
	if r.Latitude == nil || r.Longitude == nil {
		return false
	}

	return ValidCoordinates(*r.Latitude, *r.Longitude)
}

// Location returns the address components of the row.
func (r ImportRow) Location() Address {
	return Address{
		Street:   r.Address,
		City:     r.City,
		Postcode: r.Postcode,
		Country:  r.Country,
	}
}

// Address holds the components a provider geocodes.
type Address struct {
	Street   string
	City     string
	Postcode string
	Country  string
}

// Format joins the non-blank components in street, city, postcode, country order.
func (a Address) Format() string {
	parts := make([]string, 0, 4) //nolint:mnd // four address components
	for _, part := range []string{a.Street, a.City, a.Postcode, a.Country} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}

	return strings.Join(parts, ", ")
}

// Sufficient reports whether the address has enough information to be geocoded:
// a country plus either a city or a street address.
func (a Address) Sufficient() bool {
	if strings.TrimSpace(a.Country) == "" {
		return false
	}

	return strings.TrimSpace(a.City) != "" || strings.TrimSpace(a.Street) != ""
}

// IsZero reports whether every component is blank.
func (a Address) IsZero() bool {
	return a.Format() == ""
}
