package processor

import (
	"fmt"
	"strings"
	"time"

	"habitflow/config"
	"habitflow/models"
)

// Condition names a per-day test applied when counting streaks. The empty
// condition counts any day with a non-null value for the column.
type Condition string

const (
	ConditionPresent     Condition = ""
	ConditionGreaterThan Condition = "greater_than"
	ConditionLessThan    Condition = "less_than"
	ConditionEqual       Condition = "equal"
	ConditionNotEqual    Condition = "not_equal"
)

// ParseCondition validates a condition name coming from config or from a
// dashboard query parameter.
func ParseCondition(raw string) (Condition, error) {
	switch c := Condition(strings.TrimSpace(raw)); c {
	case ConditionPresent, ConditionGreaterThan, ConditionLessThan, ConditionEqual, ConditionNotEqual:
		return c, nil
	default:
		return "", fmt.Errorf("unsupported streak condition %q (want greater_than, less_than, equal or not_equal)", raw)
	}
}

// StreakRule describes one streak column: which source column it watches
// and what counts as a met day.
type StreakRule struct {
	Name      string
	Column    string
	Condition Condition
	Target    *float64
}

// ParseStreakRule compiles a configured rule, rejecting unknown conditions
// and comparisons without a target.
func ParseStreakRule(cfg config.StreakRuleConfig) (StreakRule, error) {
	cond, err := ParseCondition(cfg.Condition)
	if err != nil {
		return StreakRule{}, fmt.Errorf("streak %q: %w", cfg.Name, err)
	}
	if cond != ConditionPresent && cfg.Target == nil {
		return StreakRule{}, fmt.Errorf("streak %q: condition %q requires a target value", cfg.Name, cond)
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Column
	}
	return StreakRule{Name: name, Column: cfg.Column, Condition: cond, Target: cfg.Target}, nil
}

// met reports whether one day satisfies the rule. Null values never satisfy
// a comparison, not_equal included.
func (r StreakRule) met(value *float64, present bool) bool {
	if r.Condition == ConditionPresent {
		return present
	}
	if value == nil || r.Target == nil {
		return false
	}
	switch r.Condition {
	case ConditionGreaterThan:
		return *value > *r.Target
	case ConditionLessThan:
		return *value < *r.Target
	case ConditionEqual:
		return *value == *r.Target
	case ConditionNotEqual:
		return *value != *r.Target
	}
	return false
}

// columnValue resolves a column name against one record, returning its
// numeric value (nil when null or non-numeric) and whether the day has any
// value at all for that column.
func columnValue(rec models.DerivedRecord, columns config.ColumnsConfig, col string) (*float64, bool) {
	switch col {
	case columns.Weight:
		return rec.Weight, rec.Weight != nil
	case columns.Wake:
		return nil, rec.Wake != nil
	case columns.Sleep:
		return nil, rec.Sleep != nil
	case models.ColSleepDuration:
		return rec.SleepDuration, rec.SleepDuration != nil
	}
	if v, ok := rec.Numbers[col]; ok {
		return v, v != nil
	}
	if s, ok := rec.Extra[col]; ok {
		return nil, strings.TrimSpace(s) != ""
	}
	return nil, false
}

// computeStreaks walks the date-ascending records once, carrying the
// current run length. A run grows only when the previous calendar day was
// also met; any gap larger than one day starts the count over at one.
func computeStreaks(records []models.DerivedRecord, columns config.ColumnsConfig, rule StreakRule) []int {
	counts := make([]int, len(records))
	run := 0
	prevMet := false
	var prevDate time.Time

	for i, rec := range records {
		value, present := columnValue(rec, columns, rule.Column)
		if rule.met(value, present) {
			if prevMet && !rec.Date.After(prevDate.AddDate(0, 0, 1)) {
				run++
			} else {
				run = 1
			}
			prevMet = true
		} else {
			run = 0
			prevMet = false
		}
		counts[i] = run
		prevDate = rec.Date
	}
	return counts
}
