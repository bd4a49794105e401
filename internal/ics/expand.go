package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calstats/internal/log"
	"calstats/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// RangeStart / RangeEnd bound the generated occurrences, inclusive.
	// A zero RangeStart means the earliest event start (capped at
	// RangeEnd); a zero RangeEnd means now.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps each series. Zero means 5000.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the expanded events.
type ExpandResult struct {
	Events []model.RawEvent
	// TruncatedEvents lists UIDs whose series hit the cap.
	TruncatedEvents []string
}

// Expand replaces every recurring event by its occurrences within the
// configured range. Non-recurring events pass through unchanged, including
// those outside the range and those without a start, so that downstream
// counts stay complete. Overrides (RECURRENCE-ID) replace the instance
// they name; overrides whose series is absent pass through as plain
// events. Input order is preserved.
func Expand(events []model.RawEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}
	if !cfg.RangeStart.IsZero() && !cfg.RangeEnd.IsZero() && cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("ics: expand range end is before range start")
	}
	if cfg.RangeEnd.IsZero() {
		cfg.RangeEnd = time.Now()
	}
	if cfg.RangeStart.IsZero() {
		for _, ev := range events {
			if ev.HasStart() && (cfg.RangeStart.IsZero() || ev.Start.Before(cfg.RangeStart)) {
				cfg.RangeStart = ev.Start
			}
		}
		// Every event starts after the window: nothing to expand.
		if cfg.RangeStart.After(cfg.RangeEnd) {
			cfg.RangeStart = cfg.RangeEnd
		}
	}

	recurring := make(map[string]bool)
	overrides := make(map[string][]model.RawEvent)
	for _, ev := range events {
		if ev.RawRRule != "" && ev.HasStart() && !ev.IsOverride {
			recurring[ev.UID] = true
		}
	}
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil && recurring[ev.UID] {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		}
	}

	out := make([]model.RawEvent, 0, len(events))
	for _, ev := range events {
		switch {
		case ev.IsOverride && ev.Recurrence != nil && recurring[ev.UID]:
			// Emitted through its series.
		case ev.RawRRule != "" && ev.HasStart() && !ev.IsOverride:
			occ, hitCap := expandRecurring(ev, overrides[ev.UID], cfg)
			out = append(out, occ...)
			if hitCap {
				result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
				appLog.Error("ics expand: series truncated",
					errors.New("max occurrences reached"),
					"uid", ev.UID,
					"cap", cfg.MaxOccurrencesPerEvent,
				)
			}
		default:
			out = append(out, ev)
		}
	}

	result.Events = out
	return result, nil
}

func expandRecurring(ev model.RawEvent, overrides []model.RawEvent, cfg ExpandConfig) ([]model.RawEvent, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		// Keep the base event rather than losing it.
		appLog.Error("ics expand: bad RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		single := ev
		single.RawRRule = ""
		return []model.RawEvent{single}, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	times := set.Between(cfg.RangeStart.In(loc), cfg.RangeEnd.In(loc), true)
	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	var dur time.Duration
	if !ev.End.IsZero() {
		dur = ev.End.Sub(ev.Start)
	}

	out := make([]model.RawEvent, 0, len(times))
	for _, start := range times {
		if o, ok := findOverride(overrides, start); ok {
			o.IsOverride = false
			o.Recurrence = nil
			out = append(out, o)
			continue
		}
		occ := ev
		occ.RawRRule = ""
		occ.ExDates = nil
		occ.Start = start
		if ev.AllDay {
			occ.Start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		}
		if !ev.End.IsZero() {
			occ.End = occ.Start.Add(dur)
		}
		out = append(out, occ)
	}
	return out, hitCap
}

// findOverride returns the override whose RECURRENCE-ID equals start.
func findOverride(overrides []model.RawEvent, start time.Time) (model.RawEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return model.RawEvent{}, false
}
