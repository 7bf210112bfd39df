// Package repository persists production records, import jobs and the
// import-history log.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hkurtovic/betonara-erp/internal/domain/production/parser"
)

// ImportJob tracks one uploaded file through the import pipeline.
type ImportJob struct {
	ID           uuid.UUID
	FileName     string
	Plant        string
	Status       string // running, succeeded, failed
	RowsTotal    int
	RowsImported int
	RowsSkipped  int
	Error        *string
	CreatedAt    time.Time
	FinishedAt   *time.Time
}

// ImportHistory is the per-file summary the import-history log expects.
type ImportHistory struct {
	ID              uuid.UUID
	FileName        string
	Plant           string
	Inserted        int
	Skipped         int
	TotalQuantityM3 string // exact decimal sum, serialized
	EarliestAt      time.Time
	LatestAt        time.Time
	DaysTouched     []string
	CreatedAt       time.Time
}

// RecipeMapping is one user-maintained original→canonical rewrite.
type RecipeMapping struct {
	OriginalName  string
	CanonicalName string
	UpdatedAt     time.Time
}

// ProductionRepository is the persistence boundary for the import pipeline.
// UpsertRecords must be idempotent on the natural key (plant, record number,
// batch timestamp) so re-ingesting the same file never duplicates rows.
type ProductionRepository interface {
	UpsertRecords(ctx context.Context, records []parser.ProductionRecord) (int, error)

	CreateImportJob(ctx context.Context, job *ImportJob) error
	UpdateImportJobProgress(ctx context.Context, id uuid.UUID, imported, skipped int) error
	FinishImportJob(ctx context.Context, id uuid.UUID, status string, imported, skipped int, errMsg *string) error

	InsertImportHistory(ctx context.Context, h *ImportHistory) error
	ListImportHistory(ctx context.Context, limit int) ([]ImportHistory, error)

	GetRecipeMappings(ctx context.Context) (map[string]string, error)
	SaveRecipeMapping(ctx context.Context, original, canonical string) error
}
