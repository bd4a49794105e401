// Package normalize turns a (RawEvent, FieldMap) pair into a canonical
// Record.
//
// The record's date always comes from the event timestamp, never from the
// decoded payload. List values are kept as lists; grouping code explodes
// them, and Value.First gives the single representative (first seen) where
// one is needed.
package normalize

import (
	"errors"
	"time"

	"calstats/internal/model"
	"calstats/internal/schema"
)

// ErrMissingTimestamp is returned for events without a start time. It is
// the only error Normalize produces.
var ErrMissingTimestamp = errors.New("normalize: event has no start timestamp")

// Normalizer maps decoded fields onto the schema's canonical columns.
type Normalizer struct {
	s   *schema.Schema
	loc *time.Location
}

// New returns a Normalizer that reports dates in loc. A nil loc means
// time.Local.
func New(s *schema.Schema, loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{s: s, loc: loc}
}

// Location returns the display location.
func (n *Normalizer) Location() *time.Location { return n.loc }

// Normalize builds exactly one Record from raw and fm.
func (n *Normalizer) Normalize(raw model.RawEvent, fm model.FieldMap) (model.Record, error) {
	if !raw.HasStart() {
		return model.Record{}, ErrMissingTimestamp
	}

	rec := model.Record{
		Source:           raw.Source,
		UID:              raw.UID,
		Summary:          raw.Summary,
		Description:      raw.Description,
		HasTime:          !raw.AllDay,
		Values:           make([]model.Value, n.s.Len()),
		EmptyDescription: fm.Len() == 0,
	}

	if raw.AllDay {
		// All-day dates are floating; keep the calendar day as written.
		y, m, d := raw.Start.Date()
		rec.Date = time.Date(y, m, d, 0, 0, 0, 0, n.loc)
		rec.Start = rec.Date
		if !raw.End.IsZero() {
			y, m, d = raw.End.Date()
			rec.End = time.Date(y, m, d, 0, 0, 0, 0, n.loc)
		}
	} else {
		rec.Start = raw.Start.In(n.loc)
		y, m, d := rec.Start.Date()
		rec.Date = time.Date(y, m, d, 0, 0, 0, 0, n.loc)
		if !raw.End.IsZero() {
			rec.End = raw.End.In(n.loc)
		}
	}

	for _, key := range fm.Keys() {
		v, _ := fm.Get(key)
		if i, ok := n.s.Index(key); ok {
			rec.Values[i] = v
			continue
		}
		rec.Extras = append(rec.Extras, model.Extra{Name: key, Value: v})
	}
	return rec, nil
}

// Flatten turns a record back into a FieldMap: canonical fields in schema
// order, then extras. Missing values are omitted.
func Flatten(s *schema.Schema, rec model.Record) model.FieldMap {
	b := model.NewFieldMapBuilder()
	for i, v := range rec.Values {
		if i < s.Len() {
			b.Set(s.Fields[i].Name, v)
		}
	}
	for _, e := range rec.Extras {
		b.Set(e.Name, e.Value)
	}
	return b.Build()
}
