package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calstats/internal/log"
	"calstats/internal/model"
)

// ErrEmptyBody is returned for an empty payload.
var ErrEmptyBody = errors.New("ics: empty body")

// ParseICS parses one ICS payload into raw events.
//
//   - Timezones come from the library's VTIMEZONE/TZID handling; floating
//     and date-only values are read in loc (time.Local when nil).
//   - All-day events are detected from the DTSTART value format.
//   - An event whose DTSTART cannot be read is still returned, with a zero
//     Start, so the caller can count it.
//   - RRULE, EXDATE and RECURRENCE-ID are recorded but not expanded; see
//     Expand.
//
// Only an unreadable container is an error.
func ParseICS(src Source, body []byte, loc *time.Location) ([]model.RawEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, fmt.Errorf("ics: parse %s: %w", src.label(), err)
	}

	vevents := cal.Events()
	events := make([]model.RawEvent, 0, len(vevents))
	for _, ve := range vevents {
		events = append(events, parseVEvent(src, ve, loc))
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) model.RawEvent {
	out := model.RawEvent{Source: src.ID}

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = UnescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = UnescapeText(p.Value)
		out.HasDescription = true
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart != nil {
		out.AllDay = isDateValue(dtStart)
	}

	if out.AllDay {
		// Date-only values are floating days; read them in loc.
		if t, err := parseICSTime(dtStart.Value, loc); err == nil {
			out.Start = t
		}
		if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
			if t, err := parseICSTime(p.Value, loc); err == nil {
				out.End = t
			}
		}
	} else if dtStart != nil {
		if start, err := ve.GetStartAt(); err == nil {
			out.Start = floating(dtStart, start, loc)
		}
		if end, err := ve.GetEndAt(); err == nil {
			if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
				end = floating(p, end, loc)
			}
			out.End = end
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = strings.TrimSpace(p.Value)
	}

	// EXDATE may repeat and may hold comma separated values.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		exLoc := propLocation(p, loc)
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, exLoc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		if t, err := parseICSTime(p.Value, propLocation(p, loc)); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out
}

// isDateValue reports whether a DTSTART holds a date without time.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// floating re-reads values without TZID and without a trailing Z in loc.
func floating(p *ical.IANAProperty, t time.Time, loc *time.Location) time.Time {
	if _, ok := p.ICalParameters["TZID"]; ok || strings.HasSuffix(p.Value, "Z") {
		return t
	}
	if ft, err := parseICSTime(p.Value, loc); err == nil {
		return ft
	}
	return t
}

// propLocation resolves a property's TZID, falling back to def.
func propLocation(p *ical.IANAProperty, def *time.Location) *time.Location {
	if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
		if l, err := time.LoadLocation(tz[0]); err == nil {
			return l
		}
	}
	return def
}

// parseICSTime parses DATE, local DATE-TIME and UTC DATE-TIME values.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("ics: empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

var textUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";")

// UnescapeText removes iCalendar TEXT escapes (\n, \, \; and \\).
func UnescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return textUnescaper.Replace(s)
}
