package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// StageRunsTotal tracks the total number of dataset runs per stage
	StageRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medallion_stage_runs_total",
			Help: "Total number of dataset runs per stage",
		},
		[]string{"stage", "dataset", "status"}, // status: success, failed, skipped
	)

	// StageDuration measures dataset run duration in seconds
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medallion_stage_duration_seconds",
			Help:    "Dataset run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
		},
		[]string{"stage", "dataset"},
	)

	// RowsRead counts raw rows read by the normalizer
	RowsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medallion_rows_read_total",
			Help: "Total number of rows read from the previous tier",
		},
		[]string{"stage", "dataset"},
	)

	// RowsDropped counts rows dropped during normalization
	RowsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medallion_rows_dropped_total",
			Help: "Total number of rows dropped during normalization",
		},
		[]string{"dataset", "reason"}, // reason: missing_required, invalid, duplicate
	)

	// RowsWritten counts rows written to the target tier
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medallion_rows_written_total",
			Help: "Total number of rows written to the target tier",
		},
		[]string{"stage", "dataset"},
	)

	// WatermarkPosition tracks the current watermark per stage and dataset
	WatermarkPosition = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "medallion_watermark_position",
			Help: "Current watermark (unix seconds for time watermarks, ordinal otherwise)",
		},
		[]string{"stage", "dataset"},
	)

	// StorageOperations counts object storage operations
	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medallion_storage_operations_total",
			Help: "Total number of object storage operations",
		},
		[]string{"operation", "status"}, // operation: get, put, ensure_bucket; status: success, not_found, error
	)

	// StorageOperationDuration measures object storage latency
	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medallion_storage_operation_duration_seconds",
			Help:    "Object storage operation latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"operation"},
	)

	// WarehouseStatements counts warehouse statements executed
	WarehouseStatements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medallion_warehouse_statements_total",
			Help: "Total number of warehouse statements executed",
		},
		[]string{"kind", "status"}, // kind: exec, copy, query, commit
	)

	// WarehouseStatementDuration measures warehouse statement latency
	WarehouseStatementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medallion_warehouse_statement_duration_seconds",
			Help:    "Warehouse statement latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"kind"},
	)

	// DimensionChanges counts reconciled dimension rows by outcome
	DimensionChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medallion_dimension_changes_total",
			Help: "Dimension rows reconciled by outcome",
		},
		[]string{"entity", "outcome"}, // outcome: inserted, changed, unchanged, upserted
	)

	// ErrorsTotal counts total number of errors
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medallion_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordStageRun records the outcome of a dataset run
func RecordStageRun(stage, dataset, status string, duration float64) {
	StageRunsTotal.WithLabelValues(stage, dataset, status).Inc()
	StageDuration.WithLabelValues(stage, dataset).Observe(duration)
}

// RecordRows records rows read and written by a stage
func RecordRows(stage, dataset string, read, written int) {
	RowsRead.WithLabelValues(stage, dataset).Add(float64(read))
	RowsWritten.WithLabelValues(stage, dataset).Add(float64(written))
}

// RecordDropped records rows dropped for a reason
func RecordDropped(dataset, reason string, count int) {
	if count == 0 {
		return
	}

	RowsDropped.WithLabelValues(dataset, reason).Add(float64(count))
}

// RecordWatermark records the current watermark position
func RecordWatermark(stage, dataset string, position float64) {
	WatermarkPosition.WithLabelValues(stage, dataset).Set(position)
}

// RecordStorageOperation records object storage metrics
func RecordStorageOperation(operation, status string, duration float64) {
	StorageOperations.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordWarehouseStatement records warehouse statement metrics
func RecordWarehouseStatement(kind, status string, duration float64) {
	WarehouseStatements.WithLabelValues(kind, status).Inc()
	WarehouseStatementDuration.WithLabelValues(kind).Observe(duration)
}

// RecordDimensionChanges records reconciled dimension rows
func RecordDimensionChanges(entity, outcome string, count int) {
	if count == 0 {
		return
	}

	DimensionChanges.WithLabelValues(entity, outcome).Add(float64(count))
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
