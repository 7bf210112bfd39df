// Package metrics exposes Prometheus collectors for the import pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ImportMetrics counts import pipeline activity.
type ImportMetrics struct {
	FilesImported   *prometheus.CounterVec
	FilesFailed     *prometheus.CounterVec
	RecordsUpserted prometheus.Counter
	RowsSkipped     *prometheus.CounterVec
	ImportDuration  prometheus.Histogram
}

// NewImportMetrics registers the import collectors on the given registerer.
func NewImportMetrics(reg prometheus.Registerer) *ImportMetrics {
	factory := promauto.With(reg)
	return &ImportMetrics{
		FilesImported: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "production_import_files_total",
			Help: "Files imported successfully, by plant.",
		}, []string{"plant"}),
		FilesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "production_import_failures_total",
			Help: "Files that failed to import, by error kind.",
		}, []string{"reason"}),
		RecordsUpserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "production_import_records_total",
			Help: "Production records upserted.",
		}),
		RowsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "production_import_skipped_rows_total",
			Help: "Source rows skipped, by reason.",
		}, []string{"reason"}),
		ImportDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "production_import_duration_seconds",
			Help:    "Wall time per imported file.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
