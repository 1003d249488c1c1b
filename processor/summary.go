package processor

import (
	"math"
	"time"

	"habitflow/models"
)

// Summary aggregates one table view for the dashboard overview. Blocks are
// nil when the view has no data for them.
type Summary struct {
	Records   int            `json:"records"`
	FirstDate *time.Time     `json:"first_date,omitempty"`
	LastDate  *time.Time     `json:"last_date,omitempty"`
	Weight    *WeightSummary `json:"weight,omitempty"`
	Sleep     *SleepSummary  `json:"sleep,omitempty"`
	Wake      *WakeSummary   `json:"wake,omitempty"`
	Streaks   map[string]int `json:"streaks,omitempty"`
}

// WeightSummary covers the weight column. Change is latest minus earliest
// within the view, so its sign follows the trend.
type WeightSummary struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Change  float64 `json:"change"`
}

// SleepSummary covers derived sleep durations, in hours.
type SleepSummary struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// WakeSummary describes wake-time consistency. Mean and Std are decimal
// hours since midnight; MostCommon is the modal wake time rendered as
// entered, with ties broken toward the earlier time.
type WakeSummary struct {
	Mean       float64 `json:"mean_hours"`
	Std        float64 `json:"std_hours"`
	MostCommon string  `json:"most_common"`
}

// Summarize computes the aggregate block over a table view. Nulls are
// skipped per column; a column with no values at all yields a nil block.
func Summarize(table *models.Table) *Summary {
	s := &Summary{}
	if table == nil || table.Len() == 0 {
		return s
	}
	s.Records = table.Len()
	if min, ok := table.MinDate(); ok {
		s.FirstDate = &min
	}
	if max, ok := table.MaxDate(); ok {
		s.LastDate = &max
	}

	s.Weight = summarizeWeight(table.Records)
	s.Sleep = summarizeSleep(table.Records)
	s.Wake = summarizeWake(table.Records)

	last := table.Records[table.Len()-1]
	if len(last.Streaks) > 0 {
		s.Streaks = make(map[string]int, len(last.Streaks))
		for name, count := range last.Streaks {
			s.Streaks[name] = count
		}
	}
	return s
}

func summarizeWeight(records []models.DerivedRecord) *WeightSummary {
	var values []float64
	var first, last float64
	seen := false
	for _, rec := range records {
		if rec.Weight == nil {
			continue
		}
		v := *rec.Weight
		values = append(values, v)
		if !seen {
			first = v
			seen = true
		}
		last = v
	}
	if !seen {
		return nil
	}
	mean, _ := meanStd(values)
	min, max := bounds(values)
	return &WeightSummary{
		Current: last,
		Average: mean,
		Min:     min,
		Max:     max,
		Change:  last - first,
	}
}

func summarizeSleep(records []models.DerivedRecord) *SleepSummary {
	var values []float64
	for _, rec := range records {
		if rec.SleepDuration != nil {
			values = append(values, *rec.SleepDuration)
		}
	}
	if len(values) == 0 {
		return nil
	}
	mean, _ := meanStd(values)
	min, max := bounds(values)
	return &SleepSummary{Average: mean, Min: min, Max: max}
}

func summarizeWake(records []models.DerivedRecord) *WakeSummary {
	var hours []float64
	counts := make(map[models.TimeOfDay]int)
	for _, rec := range records {
		if rec.Wake == nil {
			continue
		}
		hours = append(hours, rec.Wake.Hours())
		counts[*rec.Wake]++
	}
	if len(hours) == 0 {
		return nil
	}
	mean, std := meanStd(hours)
	return &WakeSummary{Mean: mean, Std: std, MostCommon: modalTime(counts).String()}
}

// modalTime picks the most frequent wake time; between equally frequent
// times the earlier one wins so the answer is deterministic.
func modalTime(counts map[models.TimeOfDay]int) models.TimeOfDay {
	var best models.TimeOfDay
	bestCount := -1
	for tod, count := range counts {
		if count > bestCount || (count == bestCount && tod.Before(best)) {
			best = tod
			bestCount = count
		}
	}
	return best
}

// meanStd returns the mean and population standard deviation.
func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func bounds(values []float64) (float64, float64) {
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
