package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/dataquality/quality"
)

func setupHistoryRepo(t *testing.T) (*HistoryRepository, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return NewHistoryRepository(db), mock, db
}

func TestHistoryRepository_Get(t *testing.T) {
	repo, mock, db := setupHistoryRepo(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("returns recorded value", func(t *testing.T) {
		mock.ExpectQuery(`SELECT value\s+FROM metric_values`).
			WithArgs(7, "energy_consumption", 2022).
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(1250.5))

		v, ok, err := repo.Get(ctx, 7, "energy_consumption", 2022)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1250.5, v)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing period is not an error", func(t *testing.T) {
		mock.ExpectQuery(`SELECT value\s+FROM metric_values`).
			WithArgs(7, "energy_consumption", 2010).
			WillReturnError(sql.ErrNoRows)

		_, ok, err := repo.Get(ctx, 7, "energy_consumption", 2010)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps database errors", func(t *testing.T) {
		dbErr := errors.New("connection reset")
		mock.ExpectQuery(`SELECT value\s+FROM metric_values`).
			WithArgs(7, "energy_consumption", 2022).
			WillReturnError(dbErr)

		_, _, err := repo.Get(ctx, 7, "energy_consumption", 2022)
		require.Error(t, err)
		assert.ErrorIs(t, err, dbErr)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHistoryRepository_Series(t *testing.T) {
	repo, mock, db := setupHistoryRepo(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("returns points oldest first", func(t *testing.T) {
		mock.ExpectQuery(`SELECT period, value\s+FROM metric_values`).
			WithArgs(7, "water_withdrawal").
			WillReturnRows(sqlmock.NewRows([]string{"period", "value"}).
				AddRow(2020, 10.0).
				AddRow(2021, 12.0).
				AddRow(2022, 11.5))

		points, err := repo.Series(ctx, 7, "water_withdrawal")
		require.NoError(t, err)
		assert.Equal(t, []quality.HistoryPoint{{Period: 2020, Value: 10}, {Period: 2021, Value: 12}, {Period: 2022, Value: 11.5}}, points)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty history", func(t *testing.T) {
		mock.ExpectQuery(`SELECT period, value\s+FROM metric_values`).
			WithArgs(8, "water_withdrawal").
			WillReturnRows(sqlmock.NewRows([]string{"period", "value"}))

		points, err := repo.Series(ctx, 8, "water_withdrawal")
		require.NoError(t, err)
		assert.NotNil(t, points)
		assert.Empty(t, points)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("row error", func(t *testing.T) {
		mock.ExpectQuery(`SELECT period, value\s+FROM metric_values`).
			WithArgs(7, "water_withdrawal").
			WillReturnRows(sqlmock.NewRows([]string{"period", "value"}).
				AddRow(2020, 10.0).
				RowError(0, errors.New("bad row")))

		_, err := repo.Series(ctx, 7, "water_withdrawal")
		assert.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHistoryRepository_Record(t *testing.T) {
	repo, mock, db := setupHistoryRepo(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("upserts values in field order", func(t *testing.T) {
		mock.ExpectBegin()
		prep := mock.ExpectPrepare(`INSERT INTO metric_values`)
		prep.ExpectExec().
			WithArgs(7, "environmental_data", "energy_consumption", 2023, 1300.0).
			WillReturnResult(sqlmock.NewResult(0, 1))
		prep.ExpectExec().
			WithArgs(7, "environmental_data", "scope1_emissions", 2023, 42.0).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.Record(ctx, "environmental_data", 7, 2023, map[string]float64{
			"scope1_emissions":   42,
			"energy_consumption": 1300,
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		mock.ExpectBegin()
		prep := mock.ExpectPrepare(`INSERT INTO metric_values`)
		prep.ExpectExec().
			WithArgs(7, "environmental_data", "energy_consumption", 2023, 1300.0).
			WillReturnError(errors.New("constraint violation"))
		mock.ExpectRollback()

		err := repo.Record(ctx, "environmental_data", 7, 2023, map[string]float64{"energy_consumption": 1300})
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("handles empty values", func(t *testing.T) {
		err := repo.Record(ctx, "environmental_data", 7, 2023, nil)
		require.NoError(t, err)
	})
}

func TestHistoryRepository_ImplementsPort(t *testing.T) {
	var _ quality.HistoryPort = (*HistoryRepository)(nil)
}
