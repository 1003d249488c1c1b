package processor

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"habitflow/config"
	"habitflow/internal/metrics"
	"habitflow/logger"
	"habitflow/models"
)

// Date layouts tried in order: the sheet's native format first, then the
// US form, then a few shapes that show up after manual edits.
var dateLayouts = []string{
	"2006/1/2",
	"1/2/2006",
	"2006-1-2",
	"2-Jan-2006",
	"Jan 2, 2006",
}

// Time layouts tried in order: 12-hour with meridiem as entered in the
// sheet, then the 24-hour forms.
var timeLayouts = []string{
	"3:04 PM",
	"3:04:05 PM",
	"15:04",
	"15:04:05",
}

// Normalizer converts raw spreadsheet rows into typed daily records. It
// never rejects input: malformed non-date fields become nulls and only rows
// without a usable date are dropped.
type Normalizer struct {
	columns config.ColumnsConfig
	numeric []string
	log     *logger.Log
}

func NewNormalizer(cfg config.PipelineConfig) *Normalizer {
	return &Normalizer{
		columns: cfg.Columns,
		numeric: append([]string(nil), cfg.NumericColumns...),
		log:     logger.GetLogger(),
	}
}

// Normalize produces the date-ascending record sequence for one refresh.
// Rows whose date cannot be parsed are removed; duplicate dates keep the
// last row in input order. The input is never mutated.
func (n *Normalizer) Normalize(rows []models.RawRow) []models.DailyRecord {
	log := n.log.WithComponent("normalizer")
	stats := metrics.NormalizeStats{RowsIn: len(rows)}

	records := make([]models.DailyRecord, 0, len(rows))
	for _, row := range rows {
		date, ok := ParseDate(row[n.columns.Date])
		if !ok {
			stats.RowsDropped++
			log.WithFields(logger.Fields{"date": row[n.columns.Date]}).Warn("dropping row with unparseable date")
			continue
		}

		rec := models.DailyRecord{Date: date}
		rec.Wake = n.coerceTime(row, n.columns.Wake, &stats)
		rec.Sleep = n.coerceTime(row, n.columns.Sleep, &stats)
		rec.Weight = n.coerceNumber(row, n.columns.Weight, &stats)

		for _, col := range n.numeric {
			if n.wellKnown(col) {
				continue
			}
			if _, present := row[col]; !present {
				continue
			}
			if rec.Numbers == nil {
				rec.Numbers = make(map[string]*float64)
			}
			rec.Numbers[col] = n.coerceNumber(row, col, &stats)
		}

		for col, value := range row {
			if n.wellKnown(col) || n.declaredNumeric(col) {
				continue
			}
			if rec.Extra == nil {
				rec.Extra = make(map[string]string)
			}
			rec.Extra[col] = value
		}

		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date)
	})
	records = dedupeDates(records)

	stats.RowsOut = len(records)
	metrics.EmitNormalizeMetrics(n.log, stats)
	logger.IncrementRowsDropped(stats.RowsDropped)
	logger.IncrementFieldsCoerced(stats.FieldsCoerced)

	return records
}

func (n *Normalizer) wellKnown(col string) bool {
	switch col {
	case n.columns.Date, n.columns.Wake, n.columns.Sleep, n.columns.Weight:
		return col != ""
	}
	return false
}

func (n *Normalizer) declaredNumeric(col string) bool {
	for _, c := range n.numeric {
		if c == col {
			return true
		}
	}
	return false
}

func (n *Normalizer) coerceTime(row models.RawRow, col string, stats *metrics.NormalizeStats) *models.TimeOfDay {
	raw, ok := cell(row, col)
	if !ok {
		return nil
	}
	tod, ok := ParseTimeOfDay(raw)
	if !ok {
		stats.FieldsCoerced++
		n.log.WithComponent("normalizer").WithFields(logger.Fields{
			"column": col,
			"value":  raw,
		}).Debug("unparseable time, storing null")
		return nil
	}
	return tod
}

func (n *Normalizer) coerceNumber(row models.RawRow, col string, stats *metrics.NormalizeStats) *float64 {
	raw, ok := cell(row, col)
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		stats.FieldsCoerced++
		n.log.WithComponent("normalizer").WithFields(logger.Fields{
			"column": col,
			"value":  raw,
		}).Debug("unparseable number, storing null")
		return nil
	}
	return &v
}

// cell returns the trimmed value of a column, reporting false when the
// column is absent or blank. Blank cells are missing data, not coercions.
func cell(row models.RawRow, col string) (string, bool) {
	if col == "" {
		return "", false
	}
	raw := strings.TrimSpace(row[col])
	if raw == "" {
		return "", false
	}
	return raw, true
}

// dedupeDates keeps the last record of each equal-date run. The input is
// sorted ascending with input order preserved inside runs, so the survivor
// is the latest sheet row for that day.
func dedupeDates(records []models.DailyRecord) []models.DailyRecord {
	if len(records) < 2 {
		return records
	}
	out := records[:0]
	for i, rec := range records {
		if i+1 < len(records) && records[i+1].Date.Equal(rec.Date) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// ParseDate parses a calendar date, trying each accepted layout in turn.
// The result is normalised to midnight UTC.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	// Last resort: a timestamp, keeping only its calendar day.
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// ParseTimeOfDay parses a wall-clock time in 12-hour or 24-hour form.
func ParseTimeOfDay(raw string) (*models.TimeOfDay, bool) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return nil, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &models.TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, true
		}
	}
	return nil, false
}
