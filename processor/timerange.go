package processor

import (
	"fmt"
	"sort"

	"habitflow/models"
)

// LastNDays returns the view of the table covering the trailing days-sized
// window, anchored at the latest date present. The boundary is inclusive: a
// record exactly days before the latest date is kept. An empty table passes
// through unchanged.
func LastNDays(table *models.Table, days int) (*models.Table, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be a positive integer, got %d", days)
	}
	if table == nil || table.Len() == 0 {
		return table, nil
	}

	maxDate, _ := table.MaxDate()
	cutoff := maxDate.AddDate(0, 0, -days)

	// Records are date-ascending, so the window is a suffix.
	idx := sort.Search(len(table.Records), func(i int) bool {
		return !table.Records[i].Date.Before(cutoff)
	})

	out := &models.Table{
		Records: append([]models.DerivedRecord(nil), table.Records[idx:]...),
		Header:  table.Header,
	}
	return out, nil
}

// ClampRangeDays forces a requested range into [min, max]. The dashboard
// uses it so an out-of-range query degrades to the nearest allowed window
// instead of failing.
func ClampRangeDays(days, min, max int) int {
	if days < min {
		return min
	}
	if days > max {
		return max
	}
	return days
}
