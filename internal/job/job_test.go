package job_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/UnknownOlympus/cartograph/internal/batch"
	"github.com/UnknownOlympus/cartograph/internal/geocoding"
	"github.com/UnknownOlympus/cartograph/internal/job"
	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedGeocoder struct {
	providers []string
}

func (g fixedGeocoder) Geocode(context.Context, models.Address, string) (*models.GeocodeResult, error) {
	return &models.GeocodeResult{Latitude: 48.85, Longitude: 2.35, Precision: models.PrecisionCity, Provider: "nominatim"}, nil
}

func (g fixedGeocoder) Alternate(string) (string, bool) { return "", false }

func (g fixedGeocoder) Providers() []string { return g.providers }

func TestValidate(t *testing.T) {
	tooMany := make([]models.GeocodeRow, job.MaxRows+1)
	for idx := range tooMany {
		tooMany[idx].ID = fmt.Sprint(idx)
	}

	tests := []struct {
		name    string
		req     models.GeocodeRequest
		wantErr string
	}{
		{"valid", models.GeocodeRequest{Rows: []models.GeocodeRow{{ID: "1"}, {ID: "2"}}}, ""},
		{"valid preference", models.GeocodeRequest{ProviderPreference: "google", Rows: []models.GeocodeRow{{ID: "1"}}}, ""},
		{"no rows", models.GeocodeRequest{}, "at least one row"},
		{"too many rows", models.GeocodeRequest{Rows: tooMany}, "at most 10000 rows"},
		{"unknown provider", models.GeocodeRequest{ProviderPreference: "here", Rows: []models.GeocodeRow{{ID: "1"}}}, "unknown provider"},
		{"missing id", models.GeocodeRequest{Rows: []models.GeocodeRow{{ID: " "}}}, "row 0 has no id"},
		{"duplicate id", models.GeocodeRequest{Rows: []models.GeocodeRow{{ID: "a"}, {ID: "a"}}}, `duplicate row id "a"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := job.Validate(tt.req)

			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, job.ErrInvalidRequest)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunner(t *testing.T) {
	runner := job.NewRunner(slog.Default(), fixedGeocoder{providers: []string{"nominatim"}}, batch.Settings{BatchSize: 1})
	lat, lng := 10.0, 20.0
	req := models.GeocodeRequest{Rows: []models.GeocodeRow{
		{ID: "1", City: "Paris", Country: "France"},
		{ID: "2", City: "Paris", Country: "France", Latitude: &lat, Longitude: &lng},
	}}

	jb, err := runner.New(req)
	require.NoError(t, err)
	_, err = uuid.Parse(jb.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, jb.Rows())

	var updates []models.Progress
	resp, err := jb.Run(t.Context(), func(p models.Progress) { updates = append(updates, p) })

	require.NoError(t, err)
	assert.Equal(t, jb.ID, resp.JobID)
	assert.Equal(t, models.Summary{Total: 2, Successful: 1, Skipped: 1}, resp.Summary)
	assert.Empty(t, resp.Error)
	assert.Len(t, resp.Results, 2)
	require.NotEmpty(t, updates)
	assert.False(t, updates[len(updates)-1].InProgress)

	t.Run("invalid request", func(t *testing.T) {
		_, err := runner.New(models.GeocodeRequest{})
		require.ErrorIs(t, err, job.ErrInvalidRequest)
	})

	t.Run("no providers", func(t *testing.T) {
		empty := job.NewRunner(slog.Default(), fixedGeocoder{}, batch.DefaultSettings())
		jb, err := empty.New(models.GeocodeRequest{Rows: []models.GeocodeRow{{ID: "1", City: "Paris", Country: "France"}}})
		require.NoError(t, err)

		resp, err := jb.Run(t.Context(), nil)

		require.ErrorIs(t, err, geocoding.ErrNoProviders)
		assert.Equal(t, "No geocoding providers are enabled", resp.Error)
		assert.Equal(t, 1, resp.Summary.Failed)
		assert.Equal(t, 1, resp.Errors.Total)
	})

	t.Run("cancelled before start", func(t *testing.T) {
		jb, err := runner.New(models.GeocodeRequest{Rows: []models.GeocodeRow{{ID: "1", City: "Paris", Country: "France"}}})
		require.NoError(t, err)
		jb.Cancel()

		resp, err := jb.Run(t.Context(), nil)

		require.NoError(t, err)
		assert.Equal(t, 1, resp.Summary.Failed)
		assert.Equal(t, "Operation cancelled", resp.Results[0].Error)
	})
}
