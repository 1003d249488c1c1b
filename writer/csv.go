package writer

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"habitflow/internal/metrics"
	"habitflow/logger"
	"habitflow/models"
)

// dateLayout renders dates back in the sheet's native form; the normalizer
// accepts it unchanged, so an exported file re-imports cleanly.
const dateLayout = "2006/01/02"

// WriteTable encodes one table as CSV: a header row from the table's column
// layout, then one row per record in date order. Null cells render empty.
func WriteTable(w io.Writer, table *models.Table) error {
	if table == nil {
		return nil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(table.Header.Columns()); err != nil {
		return err
	}
	for _, rec := range table.Records {
		if err := cw.Write(recordCells(table.Header, rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// recordCells renders one record in the same order Header.Columns emits
// names; the two must stay in lockstep.
func recordCells(hdr models.Header, rec models.DerivedRecord) []string {
	cells := make([]string, 0, 8+len(hdr.Numeric)+len(hdr.Extra)+len(hdr.Rolling)+len(hdr.Streaks))
	cells = append(cells, rec.Date.Format(dateLayout))
	if hdr.Wake != "" {
		cells = append(cells, timeCell(rec.Wake))
	}
	if hdr.Sleep != "" {
		cells = append(cells, timeCell(rec.Sleep))
	}
	if hdr.Weight != "" {
		cells = append(cells, floatCell(rec.Weight))
	}
	for _, col := range hdr.Numeric {
		cells = append(cells, floatCell(rec.Numbers[col]))
	}
	for _, col := range hdr.Extra {
		cells = append(cells, rec.Extra[col])
	}
	cells = append(cells, floatCell(rec.SleepDuration))
	for _, col := range hdr.Rolling {
		cells = append(cells, floatCell(rec.RollingAvg[col]))
	}
	for _, rule := range hdr.Streaks {
		cells = append(cells, strconv.Itoa(rec.Streaks[rule]))
	}
	return cells
}

func timeCell(t *models.TimeOfDay) string {
	if t == nil {
		return ""
	}
	return t.String()
}

func floatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// Exporter persists one CSV file per refresh snapshot into a directory.
type Exporter struct {
	dir string
	mu  sync.Mutex
	log *logger.Log
}

func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir, log: logger.GetLogger()}
}

// ExportSnapshot writes the snapshot's table to a timestamped file and
// returns its path. Failed snapshots carry no table and are rejected.
func (e *Exporter) ExportSnapshot(snap *models.Snapshot) (string, error) {
	if !snap.OK() {
		return "", fmt.Errorf("snapshot %s has no table to export", snap.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	ts := snap.RefreshedAt.UTC().Format("20060102150405")
	path := filepath.Join(e.dir, fmt.Sprintf("records_%s_%s.csv", ts, shortID(snap.ID)))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	if err := WriteTable(f, snap.Table); err != nil {
		f.Close()
		return "", fmt.Errorf("write export file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	rows := snap.Table.Len()
	metrics.EmitExportMetric(e.log, path, rows)
	logger.IncrementCSVExport(rows)
	e.log.WithComponent("csv_writer").WithFields(logger.Fields{
		"snapshot_id": snap.ID,
		"path":        path,
		"rows":        rows,
	}).Info("snapshot exported")

	return path, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
