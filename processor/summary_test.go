package processor

import (
	"testing"

	"habitflow/models"
)

func TestSummarizeEmpty(t *testing.T) {
	for _, table := range []*models.Table{nil, {}} {
		s := Summarize(table)
		if s.Records != 0 {
			t.Errorf("records = %d, want 0", s.Records)
		}
		if s.Weight != nil || s.Sleep != nil || s.Wake != nil {
			t.Error("empty table produced non-nil summary blocks")
		}
	}
}

func TestSummarizeWeight(t *testing.T) {
	table := &models.Table{Records: []models.DerivedRecord{
		{DailyRecord: models.DailyRecord{Date: day(2024, 1, 1), Weight: f64(82)}},
		{DailyRecord: models.DailyRecord{Date: day(2024, 1, 2)}},
		{DailyRecord: models.DailyRecord{Date: day(2024, 1, 3), Weight: f64(80)}},
		{DailyRecord: models.DailyRecord{Date: day(2024, 1, 4), Weight: f64(81)}},
	}}

	s := Summarize(table)
	if s.Weight == nil {
		t.Fatal("weight block missing")
	}
	w := s.Weight
	if w.Current != 81 || w.Min != 80 || w.Max != 82 || w.Average != 81 {
		t.Errorf("weight block = %+v, want current 81, min 80, max 82, average 81", w)
	}
	if w.Change != -1 {
		t.Errorf("weight change = %v, want -1", w.Change)
	}
	if s.FirstDate == nil || !s.FirstDate.Equal(day(2024, 1, 1)) {
		t.Errorf("first date = %v, want 2024-01-01", s.FirstDate)
	}
	if s.LastDate == nil || !s.LastDate.Equal(day(2024, 1, 4)) {
		t.Errorf("last date = %v, want 2024-01-04", s.LastDate)
	}
}

func TestSummarizeSleep(t *testing.T) {
	table := &models.Table{Records: []models.DerivedRecord{
		{DailyRecord: models.DailyRecord{Date: day(2024, 1, 1)}},
		{DailyRecord: models.DailyRecord{Date: day(2024, 1, 2)}, SleepDuration: f64(7.5)},
		{DailyRecord: models.DailyRecord{Date: day(2024, 1, 3)}, SleepDuration: f64(8.5)},
	}}

	s := Summarize(table)
	if s.Sleep == nil {
		t.Fatal("sleep block missing")
	}
	if s.Sleep.Average != 8 || s.Sleep.Min != 7.5 || s.Sleep.Max != 8.5 {
		t.Errorf("sleep block = %+v, want average 8, min 7.5, max 8.5", s.Sleep)
	}
}

func TestSummarizeWakeConsistency(t *testing.T) {
	table := &models.Table{Records: []models.DerivedRecord{
		{DailyRecord: models.DailyRecord{Date: day(2024, 1, 1), Wake: clock(6, 0)}},
		{DailyRecord: models.DailyRecord{Date: day(2024, 1, 2), Wake: clock(8, 0)}},
	}}

	s := Summarize(table)
	if s.Wake == nil {
		t.Fatal("wake block missing")
	}
	if s.Wake.Mean != 7 {
		t.Errorf("wake mean = %v, want 7", s.Wake.Mean)
	}
	if s.Wake.Std != 1 {
		t.Errorf("wake std = %v, want 1", s.Wake.Std)
	}
	// Both times occur once; the earlier one wins the tie.
	if s.Wake.MostCommon != "6:00 AM" {
		t.Errorf("most common wake = %q, want 6:00 AM", s.Wake.MostCommon)
	}
}

func TestSummarizeMostCommonWake(t *testing.T) {
	table := &models.Table{Records: []models.DerivedRecord{
		{DailyRecord: models.DailyRecord{Date: day(2024, 1, 1), Wake: clock(7, 30)}},
		{DailyRecord: models.DailyRecord{Date: day(2024, 1, 2), Wake: clock(6, 0)}},
		{DailyRecord: models.DailyRecord{Date: day(2024, 1, 3), Wake: clock(7, 30)}},
	}}

	s := Summarize(table)
	if s.Wake == nil {
		t.Fatal("wake block missing")
	}
	if s.Wake.MostCommon != "7:30 AM" {
		t.Errorf("most common wake = %q, want 7:30 AM", s.Wake.MostCommon)
	}
}

func TestSummarizeCarriesLatestStreaks(t *testing.T) {
	table := &models.Table{Records: []models.DerivedRecord{
		{DailyRecord: models.DailyRecord{Date: day(2024, 1, 1)}, Streaks: map[string]int{"logged": 4}},
		{DailyRecord: models.DailyRecord{Date: day(2024, 1, 2)}, Streaks: map[string]int{"logged": 5}},
	}}

	s := Summarize(table)
	if s.Streaks["logged"] != 5 {
		t.Errorf("streak = %d, want the latest record's 5", s.Streaks["logged"])
	}
}
