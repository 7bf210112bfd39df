package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkurtovic/betonara-erp/internal/domain/production/parser"
)

func newMockRepo(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresRepository(mock), mock
}

func TestPostgresRepository_UpsertRecords(t *testing.T) {
	repo, mock := newMockRepo(t)

	records := []parser.ProductionRecord{
		{
			Plant:              parser.PlantBetonara2,
			Format:             parser.FormatB2SCADA,
			RecordNumber:       1001,
			Timestamp:          time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC),
			RecipeName:         "MB 30",
			TotalQuantityM3:    8.5,
			MaterialQuantities: map[parser.FieldKey]float64{parser.FieldCem1: 2640},
		},
		{
			Plant:           parser.PlantBetonara2,
			Format:          parser.FormatB2SCADA,
			RecordNumber:    1002,
			Timestamp:       time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
			RecipeName:      "MB 40",
			TotalQuantityM3: 7.0,
		},
	}

	mock.ExpectExec(`INSERT INTO production_records`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := repo.UpsertRecords(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_UpsertRecords_Empty(t *testing.T) {
	repo, mock := newMockRepo(t)
	n, err := repo.UpsertRecords(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ImportJobLifecycle(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	jobID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO import_jobs`).
		WithArgs("mart.xlsx", "Betonara 2", "running", 120).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(jobID, now))

	job := &ImportJob{FileName: "mart.xlsx", Plant: "Betonara 2", Status: "running", RowsTotal: 120}
	require.NoError(t, repo.CreateImportJob(ctx, job))
	assert.Equal(t, jobID, job.ID)

	mock.ExpectExec(`UPDATE import_jobs SET rows_imported`).
		WithArgs(jobID, 100, 20).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.UpdateImportJobProgress(ctx, jobID, 100, 20))

	mock.ExpectExec(`UPDATE import_jobs`).
		WithArgs(jobID, "succeeded", 100, 20, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.FinishImportJob(ctx, jobID, "succeeded", 100, 20, nil))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_InsertImportHistory(t *testing.T) {
	repo, mock := newMockRepo(t)

	h := &ImportHistory{
		FileName:        "mart.xlsx",
		Plant:           "Betonara 2",
		Inserted:        100,
		Skipped:         20,
		TotalQuantityM3: "845.5",
		EarliestAt:      time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC),
		LatestAt:        time.Date(2024, 3, 31, 18, 0, 0, 0, time.UTC),
		DaysTouched:     []string{"2024-03-01", "2024-03-02"},
	}

	mock.ExpectQuery(`INSERT INTO import_history`).
		WithArgs(h.FileName, h.Plant, h.Inserted, h.Skipped,
			h.TotalQuantityM3, h.EarliestAt, h.LatestAt, h.DaysTouched).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))

	require.NoError(t, repo.InsertImportHistory(context.Background(), h))
	assert.NotEqual(t, uuid.Nil, h.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_RecipeMappings(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	t.Run("get", func(t *testing.T) {
		mock.ExpectQuery(`SELECT original_name, canonical_name FROM recipe_mappings`).
			WillReturnRows(pgxmock.NewRows([]string{"original_name", "canonical_name"}).
				AddRow("MB-30", "MB 30").
				AddRow("mb30 old", "MB 30"))

		table, err := repo.GetRecipeMappings(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"MB-30": "MB 30", "mb30 old": "MB 30"}, table)
	})

	t.Run("save", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO recipe_mappings`).
			WithArgs("MB-30", "MB 30").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		require.NoError(t, repo.SaveRecipeMapping(ctx, "MB-30", "MB 30"))
	})

	t.Run("query failure propagates", func(t *testing.T) {
		mock.ExpectQuery(`SELECT original_name`).
			WillReturnError(errors.New("connection refused"))
		_, err := repo.GetRecipeMappings(ctx)
		assert.Error(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
