package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hkurtovic/betonara-erp/internal/domain/production/parser"
)

// DB is the subset of pgxpool.Pool the repository uses; pgxmock satisfies it
// too.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is the pgx-backed ProductionRepository.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a repository on the given pool.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ ProductionRepository = (*PostgresRepository)(nil)

// UpsertRecords bulk-upserts one chunk of records in a single statement via
// UNNEST, keyed on (plant, record_no, batch_at). Re-running the same file
// overwrites rather than duplicates.
func (r *PostgresRepository) UpsertRecords(ctx context.Context, records []parser.ProductionRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	n := len(records)
	plants := make([]string, n)
	recordNos := make([]int64, n)
	batchAts := make([]time.Time, n)
	formats := make([]string, n)
	recipeNames := make([]string, n)
	quantities := make([]float64, n)
	materials := make([]string, n)
	customers := make([]string, n)
	jobsites := make([]string, n)
	drivers := make([]string, n)
	vehicles := make([]string, n)

	for i, rec := range records {
		plants[i] = string(rec.Plant)
		recordNos[i] = rec.RecordNumber
		batchAts[i] = rec.Timestamp
		formats[i] = rec.Format.String()
		recipeNames[i] = rec.RecipeName
		quantities[i] = rec.TotalQuantityM3
		buf, err := json.Marshal(rec.MaterialQuantities)
		if err != nil {
			return 0, fmt.Errorf("encode materials: %w", err)
		}
		materials[i] = string(buf)
		customers[i] = rec.Customer
		jobsites[i] = rec.Jobsite
		drivers[i] = rec.Driver
		vehicles[i] = rec.Vehicle
	}

	query := `
		INSERT INTO production_records (
			plant, record_no, batch_at, source_format, recipe_name,
			quantity_m3, materials, customer, jobsite, driver, vehicle
		)
		SELECT plant, record_no, batch_at, source_format, recipe_name,
			quantity_m3, materials::jsonb, customer, jobsite, driver, vehicle
		FROM unnest(
			$1::text[], $2::bigint[], $3::timestamptz[], $4::text[], $5::text[],
			$6::double precision[], $7::text[], $8::text[], $9::text[], $10::text[], $11::text[]
		) AS t(plant, record_no, batch_at, source_format, recipe_name,
			quantity_m3, materials, customer, jobsite, driver, vehicle)
		ON CONFLICT (plant, record_no, batch_at) DO UPDATE SET
			source_format = EXCLUDED.source_format,
			recipe_name = EXCLUDED.recipe_name,
			quantity_m3 = EXCLUDED.quantity_m3,
			materials = EXCLUDED.materials,
			customer = EXCLUDED.customer,
			jobsite = EXCLUDED.jobsite,
			driver = EXCLUDED.driver,
			vehicle = EXCLUDED.vehicle,
			imported_at = now()
	`

	tag, err := r.db.Exec(ctx, query,
		plants, recordNos, batchAts, formats, recipeNames,
		quantities, materials, customers, jobsites, drivers, vehicles,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert production records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CreateImportJob inserts a running job row and fills in its ID and creation
// time.
func (r *PostgresRepository) CreateImportJob(ctx context.Context, job *ImportJob) error {
	query := `
		INSERT INTO import_jobs (file_name, plant, status, rows_total)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, job.FileName, job.Plant, job.Status, job.RowsTotal).
		Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create import job: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateImportJobProgress(ctx context.Context, id uuid.UUID, imported, skipped int) error {
	query := `UPDATE import_jobs SET rows_imported = $2, rows_skipped = $3 WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id, imported, skipped); err != nil {
		return fmt.Errorf("update import job progress: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FinishImportJob(ctx context.Context, id uuid.UUID, status string, imported, skipped int, errMsg *string) error {
	query := `
		UPDATE import_jobs
		SET status = $2, rows_imported = $3, rows_skipped = $4, error = $5, finished_at = now()
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, status, imported, skipped, errMsg); err != nil {
		return fmt.Errorf("finish import job: %w", err)
	}
	return nil
}

func (r *PostgresRepository) InsertImportHistory(ctx context.Context, h *ImportHistory) error {
	query := `
		INSERT INTO import_history (
			file_name, plant, inserted_count, skipped_count,
			total_quantity_m3, earliest_at, latest_at, days_touched
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		h.FileName, h.Plant, h.Inserted, h.Skipped,
		h.TotalQuantityM3, h.EarliestAt, h.LatestAt, h.DaysTouched,
	).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert import history: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListImportHistory(ctx context.Context, limit int) ([]ImportHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, file_name, plant, inserted_count, skipped_count,
			total_quantity_m3, earliest_at, latest_at, days_touched, created_at
		FROM import_history
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list import history: %w", err)
	}
	defer rows.Close()

	var out []ImportHistory
	for rows.Next() {
		var h ImportHistory
		if err := rows.Scan(
			&h.ID, &h.FileName, &h.Plant, &h.Inserted, &h.Skipped,
			&h.TotalQuantityM3, &h.EarliestAt, &h.LatestAt, &h.DaysTouched, &h.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan import history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetRecipeMappings(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `SELECT original_name, canonical_name FROM recipe_mappings`)
	if err != nil {
		return nil, fmt.Errorf("get recipe mappings: %w", err)
	}
	defer rows.Close()

	table := make(map[string]string)
	for rows.Next() {
		var original, canonical string
		if err := rows.Scan(&original, &canonical); err != nil {
			return nil, fmt.Errorf("scan recipe mapping: %w", err)
		}
		table[original] = canonical
	}
	return table, rows.Err()
}

func (r *PostgresRepository) SaveRecipeMapping(ctx context.Context, original, canonical string) error {
	query := `
		INSERT INTO recipe_mappings (original_name, canonical_name)
		VALUES ($1, $2)
		ON CONFLICT (original_name) DO UPDATE SET
			canonical_name = EXCLUDED.canonical_name,
			updated_at = now()
	`
	if _, err := r.db.Exec(ctx, query, original, canonical); err != nil {
		return fmt.Errorf("save recipe mapping: %w", err)
	}
	return nil
}
