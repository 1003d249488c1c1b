package processor

import (
	"fmt"
	"sort"

	"habitflow/config"
	"habitflow/logger"
	"habitflow/models"
)

// Engine computes the derived columns over normalized records: sleep
// durations, rolling averages and streak counters.
type Engine struct {
	cfg   config.PipelineConfig
	rules []StreakRule
	log   *logger.Log
}

// NewEngine compiles the configured streak rules up front so a bad
// condition fails at startup instead of on the first refresh.
func NewEngine(cfg config.PipelineConfig) (*Engine, error) {
	rules := make([]StreakRule, 0, len(cfg.Streaks))
	for _, rc := range cfg.Streaks {
		rule, err := ParseStreakRule(rc)
		if err != nil {
			return nil, fmt.Errorf("compile streak rules: %w", err)
		}
		rules = append(rules, rule)
	}
	return &Engine{cfg: cfg, rules: rules, log: logger.GetLogger()}, nil
}

// Derive builds the full table from normalized records. The input slice is
// treated as immutable.
func (e *Engine) Derive(records []models.DailyRecord) *models.Table {
	derived := make([]models.DerivedRecord, len(records))
	for i, rec := range records {
		derived[i] = models.DerivedRecord{DailyRecord: rec}
	}

	durations := sleepDurations(records)
	for i := range derived {
		derived[i].SleepDuration = durations[i]
	}

	for _, col := range e.cfg.RollingColumns {
		series := e.columnSeries(derived, col)
		averages := RollingAverages(series, e.cfg.RollingWindow)
		for i := range derived {
			if derived[i].RollingAvg == nil {
				derived[i].RollingAvg = make(map[string]*float64, len(e.cfg.RollingColumns))
			}
			derived[i].RollingAvg[col] = averages[i]
		}
	}

	for _, rule := range e.rules {
		counts := computeStreaks(derived, e.cfg.Columns, rule)
		for i := range derived {
			if derived[i].Streaks == nil {
				derived[i].Streaks = make(map[string]int, len(e.rules))
			}
			derived[i].Streaks[rule.Name] = counts[i]
		}
	}

	return &models.Table{Records: derived, Header: e.header(derived)}
}

// ComputeStreaks evaluates one rule against already-derived records, for
// ad-hoc queries outside the configured rule set.
func (e *Engine) ComputeStreaks(records []models.DerivedRecord, rule StreakRule) []int {
	return computeStreaks(records, e.cfg.Columns, rule)
}

// Rules returns the compiled streak rules in config order.
func (e *Engine) Rules() []StreakRule {
	return append([]StreakRule(nil), e.rules...)
}

func (e *Engine) columnSeries(records []models.DerivedRecord, col string) []*float64 {
	series := make([]*float64, len(records))
	for i, rec := range records {
		series[i], _ = columnValue(rec, e.cfg.Columns, col)
	}
	return series
}

func (e *Engine) header(records []models.DerivedRecord) models.Header {
	hdr := models.Header{
		Date:    e.cfg.Columns.Date,
		Wake:    e.cfg.Columns.Wake,
		Sleep:   e.cfg.Columns.Sleep,
		Weight:  e.cfg.Columns.Weight,
		Window:  e.cfg.RollingWindow,
		Rolling: append([]string(nil), e.cfg.RollingColumns...),
	}

	numeric := map[string]bool{}
	extra := map[string]bool{}
	for _, rec := range records {
		for col := range rec.Numbers {
			numeric[col] = true
		}
		for col := range rec.Extra {
			extra[col] = true
		}
	}
	hdr.Numeric = sortedKeys(numeric)
	hdr.Extra = sortedKeys(extra)

	for _, rule := range e.rules {
		hdr.Streaks = append(hdr.Streaks, rule.Name)
	}
	return hdr
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sleepDurations pairs each day's wake time with the previous day's sleep
// time. A wake earlier on the clock than the sleep time means the sleep
// crossed midnight, so a day is added. The first record has no previous
// sleep time and stays null, as does any pair with a missing endpoint.
// Calendar gaps between the two records are not checked, so the value can
// exceed 24 hours when days are missing from the sheet.
func sleepDurations(records []models.DailyRecord) []*float64 {
	out := make([]*float64, len(records))
	for i := 1; i < len(records); i++ {
		sleep := records[i-1].Sleep
		wake := records[i].Wake
		if sleep == nil || wake == nil {
			continue
		}
		seconds := wake.Seconds() - sleep.Seconds()
		if seconds < 0 {
			seconds += 24 * 60 * 60
		}
		hours := float64(seconds) / 3600
		out[i] = &hours
	}
	return out
}

// RollingAverages computes the trailing-window mean at every position,
// skipping nulls. Positions where the whole window is null stay null.
// Earlier positions use however much history exists.
func RollingAverages(values []*float64, window int) []*float64 {
	out := make([]*float64, len(values))
	if window < 1 {
		window = 1
	}
	for i := range values {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		sum := 0.0
		count := 0
		for j := lo; j <= i; j++ {
			if values[j] != nil {
				sum += *values[j]
				count++
			}
		}
		if count > 0 {
			avg := sum / float64(count)
			out[i] = &avg
		}
	}
	return out
}
