package model

import "time"

// Extra is a decoded field whose key is not part of the schema. It stays
// visible downstream under its normalized literal name.
type Extra struct {
	Name  string
	Value Value
}

// Record is one canonical row. Values is indexed by the schema's field
// order and always has one entry per schema field; absent fields hold the
// missing marker. Records are treated as immutable once produced.
type Record struct {
	// Date is the event's calendar day at midnight in the display
	// location. Every record has a valid Date.
	Date    time.Time
	Start   time.Time
	End     time.Time
	HasTime bool

	Source      string
	UID         string
	Summary     string
	Description string

	Values []Value
	Extras []Extra

	// EmptyDescription is set when the event had no decodable payload.
	EmptyDescription bool
}

// Extra returns the extra field named name.
func (r Record) Extra(name string) (Value, bool) {
	for _, e := range r.Extras {
		if e.Name == name {
			return e.Value, true
		}
	}
	return Missing(), false
}
