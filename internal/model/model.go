package model

import "time"

// RawEvent is a single calendar event as handed to the analysis core by the
// calendar reader (internal/ics). The core only reads it.
type RawEvent struct {
	Source string // calendar source ID (upload name or config ICS ID)
	UID    string // iCalendar UID

	Summary string

	// Description is the DESCRIPTION text with iCalendar escapes removed.
	// HasDescription distinguishes an absent property from an empty one.
	Description    string
	HasDescription bool

	// Start is required; a zero Start marks the event as unusable.
	// End is optional and zero when DTEND/DURATION was absent.
	Start  time.Time
	End    time.Time
	AllDay bool

	// Recurrence data, consumed by ics.Expand.
	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present) in event's own timezone
	IsOverride bool       // true if this VEVENT overrides a recurring instance
}

// HasStart reports whether the event carries a usable start timestamp.
func (e RawEvent) HasStart() bool {
	return !e.Start.IsZero()
}
