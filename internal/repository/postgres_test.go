package repository_test

import (
	"log/slog"
	"regexp"
	"testing"

	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/UnknownOlympus/cartograph/internal/repository"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fetchRowsQuery = `
	SELECT id, address, COALESCE(city, ''), COALESCE(postcode, ''), COALESCE(country, '')
	FROM import_rows
	WHERE
		latitude IS NULL
		AND geocoding_retryable = true
		AND geocoding_attempts < $1
	ORDER BY created_at ASC
	LIMIT $2;
`

var rowColumns = []string{"id", "address", "city", "postcode", "country"}

func TestFetchRowsForGeocoding(t *testing.T) {
	t.Parallel()
	logger := slog.Default()
	ctx := t.Context()
	limit := 10

	t.Run("error - query import rows", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, logger)

		mock.ExpectQuery(regexp.QuoteMeta(fetchRowsQuery)).
			WithArgs(repository.MaxAttempts, limit).
			WillReturnError(assert.AnError)

		rows, err := repo.FetchRowsForGeocoding(ctx, limit)

		require.Nil(t, rows)
		require.ErrorContains(t, err, "failed to query import rows")
		require.ErrorIs(t, err, assert.AnError)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error - scan import row", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, logger)

		mock.ExpectQuery(regexp.QuoteMeta(fetchRowsQuery)).
			WithArgs(repository.MaxAttempts, limit).
			WillReturnRows(pgxmock.NewRows([]string{"id", "address"}).AddRow("1", "valid address"))

		rows, err := repo.FetchRowsForGeocoding(ctx, limit)

		require.Nil(t, rows)
		require.ErrorContains(t, err, "failed to scan import row")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error - rows error", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, logger)

		mock.ExpectQuery(regexp.QuoteMeta(fetchRowsQuery)).
			WithArgs(repository.MaxAttempts, limit).
			WillReturnRows(
				pgxmock.NewRows(rowColumns).AddRow("1", "Khreshchatyk 1", "Kyiv", "01001", "Ukraine").
					RowError(1, assert.AnError),
			)

		rows, err := repo.FetchRowsForGeocoding(ctx, limit)

		require.Nil(t, rows)
		require.ErrorContains(t, err, "failed to read row")
		require.ErrorIs(t, err, assert.AnError)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success - fetch rows", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, logger)

		mock.ExpectQuery(regexp.QuoteMeta(fetchRowsQuery)).
			WithArgs(repository.MaxAttempts, limit).
			WillReturnRows(
				pgxmock.NewRows(rowColumns).
					AddRow("1", "Khreshchatyk 1", "Kyiv", "01001", "Ukraine").
					AddRow("2", "", "Lviv", "", "Ukraine"),
			)

		rows, err := repo.FetchRowsForGeocoding(ctx, limit)

		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, models.ImportRow{
			ID: "1", Address: "Khreshchatyk 1", City: "Kyiv", Postcode: "01001", Country: "Ukraine",
		}, rows[0])
		assert.Equal(t, "Lviv", rows[1].City)
		assert.False(t, rows[0].HasCoordinates())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSaveResult(t *testing.T) {
	t.Parallel()
	logger := slog.Default()
	ctx := t.Context()
	rowID := "row-7"
	result := models.GeocodeResult{
		Latitude:  50.45,
		Longitude: 30.52,
		Precision: models.PrecisionStreet,
		Provider:  "nominatim",
	}
	query := `
		UPDATE import_rows
		SET
			latitude = $1,
			longitude = $2,
			precision = $3,
			provider = $4,
			geocoding_error = NULL
		WHERE
			id = $5;
	`

	t.Run("error - update row coords", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, logger)

		mock.ExpectExec(regexp.QuoteMeta(query)).
			WithArgs(result.Latitude, result.Longitude, "street", "nominatim", rowID).
			WillReturnError(assert.AnError)

		err = repo.SaveResult(ctx, rowID, result)

		require.ErrorContains(t, err, "failed to update row coordinates")
		require.ErrorIs(t, err, assert.AnError)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success - update row coords", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, logger)

		mock.ExpectExec(regexp.QuoteMeta(query)).
			WithArgs(result.Latitude, result.Longitude, "street", "nominatim", rowID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err = repo.SaveResult(ctx, rowID, result)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRecordFailure(t *testing.T) {
	t.Parallel()
	logger := slog.Default()
	ctx := t.Context()
	failure := models.GeocodeError{RowID: "row-9", Reason: "No results found", Retryable: false}
	query := `
		UPDATE import_rows
		SET
			geocoding_attempts = geocoding_attempts + 1,
			geocoding_error = $1,
			geocoding_retryable = $2
		WHERE id = $3;
	`

	t.Run("error - record failure", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, logger)

		mock.ExpectExec(regexp.QuoteMeta(query)).WithArgs(failure.Reason, false, failure.RowID).
			WillReturnError(assert.AnError)

		err = repo.RecordFailure(ctx, failure)

		require.ErrorContains(t, err, "failed to update geocoding error and number of attempts")
		require.ErrorIs(t, err, assert.AnError)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success - record failure", func(t *testing.T) {
		t.Parallel()
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := repository.NewRepository(mock, logger)

		mock.ExpectExec(regexp.QuoteMeta(query)).WithArgs(failure.Reason, false, failure.RowID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err = repo.RecordFailure(ctx, failure)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := repository.NewRepository(mock, slog.Default())

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS import_rows")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectPing()

	require.NoError(t, repo.EnsureSchema(t.Context()))
	require.NoError(t, repo.Ping(t.Context()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
