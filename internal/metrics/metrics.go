package metrics

import (
	"time"

	"habitflow/logger"
)

// EmitMetric logs a structured metric event and dispatches it to every
// registered handler. Fields are cloned so callers can reuse their map.
func EmitMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) {
	recordMetric(log, component, name, value, metricType, fields)
}

// EmitRefreshMetrics emits the outcome of one pipeline refresh.
func EmitRefreshMetrics(log *logger.Log, snapshotID string, rows int, elapsed time.Duration, failed bool) {
	fields := logger.Fields{"snapshot_id": snapshotID}
	if failed {
		EmitMetric(log, "refresher", "refresh_failures", 1, "counter", fields)
		return
	}
	EmitMetric(log, "refresher", "refresh_rows", rows, "gauge", fields)
	EmitMetric(log, "refresher", "refresh_duration_ms",
		float64(elapsed.Nanoseconds())/1e6, "gauge", fields)
}

// EmitFetchMetric records rows delivered by the data source.
func EmitFetchMetric(log *logger.Log, source string, rows int) {
	EmitMetric(log, "fetcher", "rows_fetched", rows, "gauge", logger.Fields{
		"source": source,
	})
}

// NormalizeStats summarizes one normalizer pass.
type NormalizeStats struct {
	RowsIn        int
	RowsOut       int
	RowsDropped   int
	FieldsCoerced int
}

// EmitNormalizeMetrics records the per-pass normalizer statistics.
func EmitNormalizeMetrics(log *logger.Log, stats NormalizeStats) {
	EmitMetric(log, "normalizer", "rows_in", stats.RowsIn, "gauge", nil)
	EmitMetric(log, "normalizer", "rows_out", stats.RowsOut, "gauge", nil)
	if stats.RowsDropped > 0 {
		EmitMetric(log, "normalizer", "rows_dropped", stats.RowsDropped, "counter", nil)
	}
	if stats.FieldsCoerced > 0 {
		EmitMetric(log, "normalizer", "fields_coerced", stats.FieldsCoerced, "counter", nil)
	}
}

// EmitExportMetric records a CSV export and the rows it carried.
func EmitExportMetric(log *logger.Log, destination string, rows int) {
	EmitMetric(log, "exporter", "rows_exported", rows, "counter", logger.Fields{
		"destination": destination,
	})
}
