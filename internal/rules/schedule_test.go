// SPDX-License-Identifier: MIT

package rules

import (
	"context"
	"testing"
	"time"

	"github.com/accessctl/core/internal/domain"
	"github.com/accessctl/core/internal/persistence"
)

// rulesOnlyStore answers ApplicableRules from a fixed slice; every other
// Store method is left to the nil embedded interface.
type rulesOnlyStore struct {
	persistence.Store
	rules []domain.ValidationRule
}

func (s rulesOnlyStore) ApplicableRules(context.Context, int64, *int64, int64) ([]domain.ValidationRule, error) {
	return s.rules, nil
}

func TestParseScheduleWindow_Valid(t *testing.T) {
	w, err := ParseScheduleWindow(`{"start":"08:00","end":"18:00","days":["mon","wed","fri"]}`)
	if err != nil {
		t.Fatalf("ParseScheduleWindow: %v", err)
	}
	if w.Start != "08:00" || w.End != "18:00" {
		t.Fatalf("got start=%q end=%q, want 08:00/18:00", w.Start, w.End)
	}
	if len(w.Days) != 3 {
		t.Fatalf("got %d days, want 3", len(w.Days))
	}
}

func TestParseScheduleWindow_EmptyCustomParams(t *testing.T) {
	if _, err := ParseScheduleWindow(""); err == nil {
		t.Fatal("expected an error for empty custom_params")
	}
}

func TestParseScheduleWindow_InvalidTime(t *testing.T) {
	if _, err := ParseScheduleWindow(`{"start":"8am","end":"18:00"}`); err == nil {
		t.Fatal("expected an error for an unparseable start time")
	}
}

func TestParseScheduleWindow_MalformedJSON(t *testing.T) {
	if _, err := ParseScheduleWindow(`{not json`); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestNextScheduleWindowStart_NoParsedSchedule(t *testing.T) {
	rule := domain.ValidationRule{ID: 7, Kind: domain.RuleSchedule}
	if _, err := NextScheduleWindowStart(rule, time.Now()); err == nil {
		t.Fatal("expected an error when ParsedSchedule is nil")
	}
}

func TestNextScheduleWindowStart_ComputesNextWeekday(t *testing.T) {
	// A Monday at 08:00 window; from a Sunday, the next occurrence should
	// land on the following day at 08:00.
	from := time.Date(2026, time.August, 2, 12, 0, 0, 0, time.UTC) // a Sunday
	rule := domain.ValidationRule{
		ID:   7,
		Kind: domain.RuleSchedule,
		ParsedSchedule: &domain.ScheduleWindow{
			Start: "08:00",
			End:   "18:00",
			Days:  []string{"mon"},
		},
	}

	next, err := NextScheduleWindowStart(rule, from)
	if err != nil {
		t.Fatalf("NextScheduleWindowStart: %v", err)
	}
	if next.Weekday() != time.Monday {
		t.Fatalf("got weekday %s, want Monday", next.Weekday())
	}
	if next.Hour() != 8 || next.Minute() != 0 {
		t.Fatalf("got %02d:%02d, want 08:00", next.Hour(), next.Minute())
	}
}

func TestApplicable_PopulatesParsedScheduleForScheduleRules(t *testing.T) {
	store := rulesOnlyStore{rules: []domain.ValidationRule{
		{ID: 1, Kind: domain.RuleCapacity, IsEnabled: true},
		{ID: 2, Kind: domain.RuleSchedule, IsEnabled: true, CustomParams: `{"start":"09:00","end":"17:00"}`},
		{ID: 3, Kind: domain.RuleSchedule, IsEnabled: true, CustomParams: "not json"},
	}}

	// CAPACITY sorts before SCHEDULE and the sort is stable, so the order
	// by ID is unchanged.
	rs, err := NewRepository(store).Applicable(context.Background(), 1, nil, 1)
	if err != nil {
		t.Fatalf("Applicable: %v", err)
	}

	if rs[0].ParsedSchedule != nil {
		t.Error("capacity rule should never get a ParsedSchedule")
	}
	if rs[1].ParsedSchedule == nil || rs[1].ParsedSchedule.Start != "09:00" {
		t.Error("well-formed schedule rule should have a populated ParsedSchedule")
	}
	if rs[2].ParsedSchedule != nil {
		t.Error("malformed custom_params should leave ParsedSchedule nil, not error out")
	}
}
