// SPDX-License-Identifier: MIT

package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/accessctl/core/internal/domain"
)

var cronDayTokens = map[string]string{
	"sun": "0", "mon": "1", "tue": "2", "wed": "3",
	"thu": "4", "fri": "5", "sat": "6",
}

// ParseScheduleWindow decodes a SCHEDULE-kind rule's CustomParams JSON
// ({"start":"HH:MM","end":"HH:MM","days":["mon","tue",...]}) into a
// ScheduleWindow. Returns an error for malformed JSON or an unparseable
// time; callers treat a parse failure as "no schedule data available"
// rather than a rule-evaluation failure (RuleSchedule rules always pass
// regardless — see Evaluate's doc comment).
func ParseScheduleWindow(customParams string) (*domain.ScheduleWindow, error) {
	if strings.TrimSpace(customParams) == "" {
		return nil, fmt.Errorf("rules: schedule rule has no custom_params")
	}
	var w domain.ScheduleWindow
	if err := json.Unmarshal([]byte(customParams), &w); err != nil {
		return nil, fmt.Errorf("rules: parse schedule custom_params: %w", err)
	}
	if _, err := time.Parse("15:04", w.Start); err != nil {
		return nil, fmt.Errorf("rules: invalid schedule start %q: %w", w.Start, err)
	}
	if _, err := time.Parse("15:04", w.End); err != nil {
		return nil, fmt.Errorf("rules: invalid schedule end %q: %w", w.End, err)
	}
	return &w, nil
}

// nextWindowStart computes the next time the schedule window opens at or
// after from, using robfig/cron/v3's standard 5-field parser to resolve
// the day-of-week/time-of-day expression. Exposed for the admin surface
// and future evaluator work (SPEC_FULL.md §4.11); the decision path does
// not call it.
func nextWindowStart(w domain.ScheduleWindow, from time.Time) (time.Time, error) {
	spec, err := cronSpec(w)
	if err != nil {
		return time.Time{}, err
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("rules: parse cron spec %q: %w", spec, err)
	}
	return schedule.Next(from), nil
}

// cronSpec renders a ScheduleWindow's start time and days into a standard
// 5-field cron expression ("minute hour day month dow").
func cronSpec(w domain.ScheduleWindow) (string, error) {
	start, err := time.Parse("15:04", w.Start)
	if err != nil {
		return "", fmt.Errorf("rules: invalid schedule start %q: %w", w.Start, err)
	}
	dow := "*"
	if len(w.Days) > 0 {
		tokens := make([]string, 0, len(w.Days))
		for _, d := range w.Days {
			tok, ok := cronDayTokens[strings.ToLower(strings.TrimSpace(d))[:min(3, len(d))]]
			if !ok {
				return "", fmt.Errorf("rules: unrecognized schedule day %q", d)
			}
			tokens = append(tokens, tok)
		}
		dow = strings.Join(tokens, ",")
	}
	return fmt.Sprintf("%d %d * * %s", start.Minute(), start.Hour(), dow), nil
}
