package models

import (
	"fmt"
	"time"
)

// Derived column names exposed to the presentation layer. These are part of
// the output contract and must stay stable across refreshes.
const (
	ColSleepDuration = "Sleep Duration (hours)"
	ColCurrentStreak = "current_streak"
)

// RawRow represents one spreadsheet row as delivered by the data source:
// a mapping from header name to the raw cell text.
type RawRow map[string]string

// TimeOfDay represents a wall-clock time with no date attached.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

// Seconds returns the number of seconds since midnight.
func (t TimeOfDay) Seconds() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

// Hours returns the time as decimal hours since midnight.
func (t TimeOfDay) Hours() float64 {
	return float64(t.Seconds()) / 3600.0
}

// Before reports whether t is earlier in the day than other.
func (t TimeOfDay) Before(other TimeOfDay) bool {
	return t.Seconds() < other.Seconds()
}

// String renders the time in the 12-hour form used by the source sheet,
// e.g. "7:05 AM" or "11:30 PM".
func (t TimeOfDay) String() string {
	hour := t.Hour % 12
	if hour == 0 {
		hour = 12
	}
	meridiem := "AM"
	if t.Hour >= 12 {
		meridiem = "PM"
	}
	if t.Second > 0 {
		return fmt.Sprintf("%d:%02d:%02d %s", hour, t.Minute, t.Second, meridiem)
	}
	return fmt.Sprintf("%d:%02d %s", hour, t.Minute, meridiem)
}

// DailyRecord represents one normalized day of habit data. Date is the only
// required field; every other field is null when missing or unparseable.
type DailyRecord struct {
	Date    time.Time           `json:"date"`
	Wake    *TimeOfDay          `json:"wake,omitempty"`
	Sleep   *TimeOfDay          `json:"sleep,omitempty"`
	Weight  *float64            `json:"weight,omitempty"`
	Numbers map[string]*float64 `json:"numbers,omitempty"`
	Extra   map[string]string   `json:"extra,omitempty"`
}

// Numeric returns the value of a declared-numeric column by name. The
// well-known weight column is addressed through Weight, not here.
func (r DailyRecord) Numeric(column string) *float64 {
	if r.Numbers == nil {
		return nil
	}
	return r.Numbers[column]
}

// DerivedRecord represents a DailyRecord augmented with computed metrics.
type DerivedRecord struct {
	DailyRecord
	SleepDuration *float64            `json:"sleep_duration_hours,omitempty"`
	RollingAvg    map[string]*float64 `json:"rolling_avg,omitempty"`
	Streaks       map[string]int      `json:"streaks,omitempty"`
}

// Header describes the column layout of a derived table: which source
// headers carry the well-known fields, which extra columns are present, and
// which derived columns were computed.
type Header struct {
	Date    string   `json:"date"`
	Wake    string   `json:"wake,omitempty"`
	Sleep   string   `json:"sleep,omitempty"`
	Weight  string   `json:"weight,omitempty"`
	Numeric []string `json:"numeric,omitempty"`
	Extra   []string `json:"extra,omitempty"`
	Rolling []string `json:"rolling,omitempty"`
	Window  int      `json:"window,omitempty"`
	Streaks []string `json:"streaks,omitempty"`
}

// RollingName returns the derived column name for a rolling average over
// the given source column, e.g. "Weight (7-day avg)".
func (h Header) RollingName(column string) string {
	return fmt.Sprintf("%s (%d-day avg)", column, h.Window)
}

// StreakName returns the derived column name for a streak rule. A single
// configured rule keeps the historical "current_streak" name; multiple
// rules are disambiguated by rule name.
func (h Header) StreakName(rule string) string {
	if len(h.Streaks) <= 1 {
		return ColCurrentStreak
	}
	return fmt.Sprintf("%s (%s)", ColCurrentStreak, rule)
}

// Columns returns the full ordered list of column names for tabular
// rendering: source columns first, then derived columns.
func (h Header) Columns() []string {
	cols := make([]string, 0, 8+len(h.Numeric)+len(h.Extra)+len(h.Rolling)+len(h.Streaks))
	cols = append(cols, h.Date)
	if h.Wake != "" {
		cols = append(cols, h.Wake)
	}
	if h.Sleep != "" {
		cols = append(cols, h.Sleep)
	}
	if h.Weight != "" {
		cols = append(cols, h.Weight)
	}
	cols = append(cols, h.Numeric...)
	cols = append(cols, h.Extra...)
	cols = append(cols, ColSleepDuration)
	for _, col := range h.Rolling {
		cols = append(cols, h.RollingName(col))
	}
	for _, rule := range h.Streaks {
		cols = append(cols, h.StreakName(rule))
	}
	return cols
}

// Table represents one fully derived, date-ascending view of the data. A
// table is immutable once built; every refresh constructs a new one.
type Table struct {
	Records []DerivedRecord `json:"records"`
	Header  Header          `json:"header"`
}

// Len returns the number of records in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Records)
}

// MinDate returns the earliest date in the table, relying on the
// date-ascending ordering invariant.
func (t *Table) MinDate() (time.Time, bool) {
	if t.Len() == 0 {
		return time.Time{}, false
	}
	return t.Records[0].Date, true
}

// MaxDate returns the latest date in the table.
func (t *Table) MaxDate() (time.Time, bool) {
	if t.Len() == 0 {
		return time.Time{}, false
	}
	return t.Records[len(t.Records)-1].Date, true
}

// Snapshot represents the outcome of one refresh cycle. A failed refresh
// carries Err and a nil Table; consumers keep the previous good table.
type Snapshot struct {
	ID          string        `json:"id"`
	RefreshedAt time.Time     `json:"refreshed_at"`
	Table       *Table        `json:"-"`
	FetchedRows int           `json:"fetched_rows"`
	Elapsed     time.Duration `json:"elapsed"`
	Err         string        `json:"error,omitempty"`
}

// OK reports whether the refresh produced a usable table.
func (s *Snapshot) OK() bool {
	return s != nil && s.Err == "" && s.Table != nil
}
