// Package service orchestrates production file imports: parse, recipe
// mapping, chunked idempotent persistence and history logging.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hkurtovic/betonara-erp/internal/domain/production/parser"
	"github.com/hkurtovic/betonara-erp/internal/domain/production/recipes"
	"github.com/hkurtovic/betonara-erp/internal/domain/production/repository"
	"github.com/hkurtovic/betonara-erp/pkg/metrics"
	"github.com/hkurtovic/betonara-erp/pkg/storage"
)

const defaultBatchSize = 500

// ImportResult is the per-file outcome returned to the upload handler and
// recorded in the history log.
type ImportResult struct {
	JobID           uuid.UUID                 `json:"job_id"`
	FileName        string                    `json:"file_name"`
	Plant           string                    `json:"plant"`
	Format          string                    `json:"format"`
	RowsTotal       int                       `json:"rows_total"`
	Inserted        int                       `json:"inserted"`
	Skipped         int                       `json:"skipped"`
	SkipCounts      map[parser.SkipReason]int `json:"skip_counts"`
	Remapped        int                       `json:"remapped"`
	UnmappedRecipes []string                  `json:"unmapped_recipes,omitempty"`
	TotalQuantityM3 string                    `json:"total_quantity_m3"`
	EarliestAt      time.Time                 `json:"earliest_at"`
	LatestAt        time.Time                 `json:"latest_at"`
	DaysTouched     []string                  `json:"days_touched"`
}

// UploadFile is one file of a multi-file upload.
type UploadFile struct {
	Name string
	Data []byte
}

// FileImportStatus pairs a file with its import outcome; one bad file never
// aborts the rest of the upload.
type FileImportStatus struct {
	FileName string        `json:"file_name"`
	Result   *ImportResult `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ImportService runs the import pipeline against the repository.
type ImportService struct {
	repo      repository.ProductionRepository
	logger    *slog.Logger
	metrics   *metrics.ImportMetrics
	archiver  storage.Archiver
	batchSize int
	tracer    trace.Tracer

	mu     sync.RWMutex
	mapper *recipes.Mapper
}

// NewImportService creates an import service with defaults.
func NewImportService(repo repository.ProductionRepository, logger *slog.Logger) *ImportService {
	return &ImportService{
		repo:      repo,
		logger:    logger,
		archiver:  storage.NopArchiver{},
		batchSize: defaultBatchSize,
		tracer:    otel.Tracer("production/import"),
	}
}

// WithMetrics adds Prometheus collectors.
func (s *ImportService) WithMetrics(m *metrics.ImportMetrics) *ImportService {
	s.metrics = m
	return s
}

// WithArchiver keeps original uploads for replay.
func (s *ImportService) WithArchiver(a storage.Archiver) *ImportService {
	s.archiver = a
	return s
}

// WithBatchSize overrides the persistence chunk size.
func (s *ImportService) WithBatchSize(n int) *ImportService {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

// RefreshMappings reloads the recipe mapping table from the repository. Called
// at startup and on a schedule; imports between refreshes use the cached
// table.
func (s *ImportService) RefreshMappings(ctx context.Context) error {
	table, err := s.repo.GetRecipeMappings(ctx)
	if err != nil {
		return fmt.Errorf("refresh recipe mappings: %w", err)
	}
	mapper := recipes.NewMapper(table)

	s.mu.Lock()
	s.mapper = mapper
	s.mu.Unlock()

	s.logger.Info("recipe mappings refreshed", slog.Int("entries", len(table)))
	return nil
}

// SaveMapping stores one mapping and refreshes the cache.
func (s *ImportService) SaveMapping(ctx context.Context, original, canonical string) error {
	if err := s.repo.SaveRecipeMapping(ctx, original, canonical); err != nil {
		return err
	}
	return s.RefreshMappings(ctx)
}

// Mappings returns the stored recipe mapping table.
func (s *ImportService) Mappings(ctx context.Context) (map[string]string, error) {
	return s.repo.GetRecipeMappings(ctx)
}

// ImportMappingCSV stores every row of an uploaded mapping CSV and refreshes
// the cache once at the end.
func (s *ImportService) ImportMappingCSV(ctx context.Context, table map[string]string) (int, error) {
	saved := 0
	for original, canonical := range table {
		if err := s.repo.SaveRecipeMapping(ctx, original, canonical); err != nil {
			return saved, fmt.Errorf("save mapping %q: %w", original, err)
		}
		saved++
	}
	if err := s.RefreshMappings(ctx); err != nil {
		return saved, err
	}
	return saved, nil
}

// SuggestMapping ranks canonical recipe names for an unmapped original name.
func (s *ImportService) SuggestMapping(name string, limit int) []recipes.Suggestion {
	return recipes.Suggest(name, s.currentMapper().Canonical(), limit)
}

// History lists recent import-history entries.
func (s *ImportService) History(ctx context.Context, limit int) ([]repository.ImportHistory, error) {
	return s.repo.ListImportHistory(ctx, limit)
}

// ImportFiles processes a multi-file upload sequentially. Parse failures are
// recorded per file and the loop continues with the next one.
func (s *ImportService) ImportFiles(ctx context.Context, files []UploadFile) []FileImportStatus {
	statuses := make([]FileImportStatus, 0, len(files))
	for _, file := range files {
		status := FileImportStatus{FileName: file.Name}
		result, err := s.ImportFile(ctx, file.Name, file.Data)
		if err != nil {
			status.Error = err.Error()
			s.logger.Error("file import failed",
				slog.String("file", file.Name), slog.Any("error", err))
		} else {
			status.Result = result
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// ImportFile parses one uploaded workbook and persists its records in fixed
// size batches. A batch failure abandons the remaining batches and marks the
// job failed; committed batches stay committed and a re-run is safe because
// the upsert key is natural.
func (s *ImportService) ImportFile(ctx context.Context, filename string, data []byte) (result *ImportResult, err error) {
	ctx, span := s.tracer.Start(ctx, "ImportFile",
		trace.WithAttributes(attribute.String("file.name", filename), attribute.Int("file.bytes", len(data))))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()
	started := time.Now()

	if path, archiveErr := s.archiver.Archive(filename, data); archiveErr != nil {
		s.logger.Warn("failed to archive upload", slog.String("file", filename), slog.Any("error", archiveErr))
	} else if path != "" {
		s.logger.Debug("upload archived", slog.String("path", path))
	}

	parsed, err := parser.ParseWorkbook(data)
	if err != nil {
		s.countFailure(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("import.plant", string(parsed.Signature.Plant)),
		attribute.String("import.format", parsed.Signature.Format.String()),
		attribute.Int("import.records", len(parsed.Records)),
	)

	mapper := s.currentMapper()
	remapped := mapper.Apply(parsed.Records)
	unmapped := mapper.Unmapped(parsed.Records)

	job := &repository.ImportJob{
		FileName:  filename,
		Plant:     string(parsed.Signature.Plant),
		Status:    "running",
		RowsTotal: parsed.RowsTotal,
	}
	if err = s.repo.CreateImportJob(ctx, job); err != nil {
		s.countFailure(err)
		return nil, fmt.Errorf("create import job: %w", err)
	}

	inserted := 0
	for start := 0; start < len(parsed.Records); start += s.batchSize {
		end := start + s.batchSize
		if end > len(parsed.Records) {
			end = len(parsed.Records)
		}
		n, upsertErr := s.repo.UpsertRecords(ctx, parsed.Records[start:end])
		if upsertErr != nil {
			errMsg := upsertErr.Error()
			if finishErr := s.repo.FinishImportJob(ctx, job.ID, "failed", inserted, parsed.RowsSkipped, &errMsg); finishErr != nil {
				s.logger.Warn("failed to mark import job failed", slog.Any("error", finishErr))
			}
			s.countFailure(upsertErr)
			return nil, fmt.Errorf("persist batch starting at %d: %w", start, upsertErr)
		}
		inserted += n
		if progressErr := s.repo.UpdateImportJobProgress(ctx, job.ID, inserted, parsed.RowsSkipped); progressErr != nil {
			s.logger.Warn("failed to update import progress", slog.Any("error", progressErr))
		}
	}

	total := decimal.Zero
	for _, rec := range parsed.Records {
		total = total.Add(decimal.NewFromFloat(rec.TotalQuantityM3))
	}

	history := &repository.ImportHistory{
		FileName:        filename,
		Plant:           string(parsed.Signature.Plant),
		Inserted:        inserted,
		Skipped:         parsed.RowsSkipped,
		TotalQuantityM3: total.String(),
		EarliestAt:      parsed.Earliest,
		LatestAt:        parsed.Latest,
		DaysTouched:     parsed.DistinctDays(),
	}
	if histErr := s.repo.InsertImportHistory(ctx, history); histErr != nil {
		s.logger.Warn("failed to record import history", slog.Any("error", histErr))
	}

	if err = s.repo.FinishImportJob(ctx, job.ID, "succeeded", inserted, parsed.RowsSkipped, nil); err != nil {
		s.logger.Warn("failed to finish import job", slog.Any("error", err))
		err = nil
	}

	s.countSuccess(parsed, inserted, time.Since(started))
	s.logger.Info("file imported",
		slog.String("file", filename),
		slog.String("plant", string(parsed.Signature.Plant)),
		slog.String("format", parsed.Signature.Format.String()),
		slog.Int("inserted", inserted),
		slog.Int("skipped", parsed.RowsSkipped),
	)

	return &ImportResult{
		JobID:           job.ID,
		FileName:        filename,
		Plant:           string(parsed.Signature.Plant),
		Format:          parsed.Signature.Format.String(),
		RowsTotal:       parsed.RowsTotal,
		Inserted:        inserted,
		Skipped:         parsed.RowsSkipped,
		SkipCounts:      parsed.SkipCounts,
		Remapped:        remapped,
		UnmappedRecipes: unmapped,
		TotalQuantityM3: total.String(),
		EarliestAt:      parsed.Earliest,
		LatestAt:        parsed.Latest,
		DaysTouched:     history.DaysTouched,
	}, nil
}

func (s *ImportService) currentMapper() *recipes.Mapper {
	s.mu.RLock()
	mapper := s.mapper
	s.mu.RUnlock()
	if mapper == nil {
		mapper = recipes.NewMapper(nil)
	}
	return mapper
}

func (s *ImportService) countFailure(err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.FilesFailed.WithLabelValues(failureReason(err)).Inc()
}

func (s *ImportService) countSuccess(parsed *parser.ParseResult, inserted int, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.FilesImported.WithLabelValues(string(parsed.Signature.Plant)).Inc()
	s.metrics.RecordsUpserted.Add(float64(inserted))
	for reason, n := range parsed.SkipCounts {
		s.metrics.RowsSkipped.WithLabelValues(string(reason)).Add(float64(n))
	}
	s.metrics.ImportDuration.Observe(elapsed.Seconds())
}

func failureReason(err error) string {
	var missing *parser.MissingColumnsError
	switch {
	case errors.Is(err, parser.ErrFormatNotRecognized):
		return "classification"
	case errors.As(err, &missing):
		return "missing_columns"
	default:
		return "persistence"
	}
}
