// Package pipeline wires the calendar front end (fetch, parse, expand) to
// the analysis core (decode, normalize, table, aggregate).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"calstats/internal/aggregate"
	"calstats/internal/decode"
	"calstats/internal/ics"
	appLog "calstats/internal/log"
	"calstats/internal/model"
	"calstats/internal/normalize"
	"calstats/internal/schema"
	"calstats/internal/table"
)

// Options configures one analysis run.
type Options struct {
	// Table carries the compiled schema and the dedup settings.
	Table table.Options
	// Location is the zone in which event dates are taken.
	Location *time.Location
	// Expand, when non-nil, expands recurring events before decoding.
	Expand *ics.ExpandConfig
}

// Result is the outcome of Run.
type Result struct {
	Dataset *table.Dataset
	// Truncated lists recurring series cut by the occurrence cap.
	Truncated []string
}

// Analyze decodes and normalizes events into a Dataset. Events without a
// start time are counted as rejected; no per-event fault is an error.
func Analyze(events []model.RawEvent, opts Options) (*table.Dataset, error) {
	b, err := table.NewBuilder(opts.Table)
	if err != nil {
		return nil, err
	}
	s := opts.Table.Schema
	dec := decode.New(s)
	norm := normalize.New(s, opts.Location)

	for _, ev := range events {
		rec, err := norm.Normalize(ev, dec.Decode(ev.Description))
		if err != nil {
			if errors.Is(err, normalize.ErrMissingTimestamp) {
				b.Reject()
				continue
			}
			return nil, err
		}
		b.Add(rec)
	}

	ds := b.Build()
	q := ds.Quality()
	appLog.Debug("pipeline analyze completed",
		"input", q.Input,
		"rows", ds.Len(),
		"rejected", q.Rejected,
		"duplicates", q.Duplicates,
		"empty_descriptions", q.EmptyDescriptions,
		"malformed", q.MalformedTotal(),
	)
	return ds, nil
}

// Run expands (when configured) and analyzes events.
func Run(events []model.RawEvent, opts Options) (Result, error) {
	var res Result
	if opts.Expand != nil {
		exp, err := ics.Expand(events, *opts.Expand)
		if err != nil {
			return res, fmt.Errorf("pipeline: %w", err)
		}
		events = exp.Events
		res.Truncated = exp.TruncatedEvents
	}
	ds, err := Analyze(events, opts)
	if err != nil {
		return res, err
	}
	res.Dataset = ds
	return res, nil
}

// ParseAll parses fetched bodies. Sources that fail to parse are skipped
// and reported.
func ParseAll(results []ics.FetchResult, loc *time.Location) ([]model.RawEvent, []error) {
	var (
		events []model.RawEvent
		errs   []error
	)
	for _, res := range results {
		evs, err := ics.ParseICS(res.Source, res.Body, loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, evs...)
	}
	return events, errs
}

// FromSources fetches, parses and analyzes the given sources. Fetch and
// parse failures of single sources are returned alongside the result.
func FromSources(ctx context.Context, f *ics.Fetcher, sources []ics.Source, opts Options) (Result, []error) {
	fetched, errs := f.FetchAll(ctx, sources)
	events, perrs := ParseAll(fetched, opts.Location)
	errs = append(errs, perrs...)

	res, err := Run(events, opts)
	if err != nil {
		errs = append(errs, err)
	}
	return res, errs
}

// ViewOptions selects and tunes the summary tables of a report.
type ViewOptions struct {
	// Views replaces aggregate.DefaultViews when non-empty.
	Views  []aggregate.Spec
	Bucket aggregate.Bucket
	// UnknownLabel applies to views that do not set their own.
	UnknownLabel string
	// TopK overrides the limit of views that carry one.
	TopK      int
	WeekStart time.Weekday
	// From and To request a date range; it is snapped to whole months and
	// clipped to the data (see aggregate.ResolveRange).
	From, To time.Time
}

// Summaries computes every view over ds.
func Summaries(ds *table.Dataset, s *schema.Schema, opts ViewOptions) ([]aggregate.SummaryTable, error) {
	views := opts.Views
	if len(views) == 0 {
		views = aggregate.DefaultViews(s, opts.Bucket)
	}

	var from, to time.Time
	if !opts.From.IsZero() || !opts.To.IsZero() {
		var err error
		from, to, err = aggregate.ResolveRange(ds, opts.From, opts.To)
		if err != nil {
			return nil, err
		}
	}

	out := make([]aggregate.SummaryTable, 0, len(views))
	for _, v := range views {
		if v.UnknownLabel == "" {
			v.UnknownLabel = opts.UnknownLabel
		}
		if v.TopK > 0 && opts.TopK > 0 {
			v.TopK = opts.TopK
		}
		v.WeekStart = opts.WeekStart
		if v.From.IsZero() {
			v.From = from
		}
		if v.To.IsZero() {
			v.To = to
		}
		st, err := aggregate.Aggregate(ds, v)
		if err != nil {
			return nil, fmt.Errorf("pipeline: view %q: %w", v.Name, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// ParseDate accepts YYYY-MM-DD and YYYY-MM. The empty string is the zero
// time.
func ParseDate(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02", "2006-01"} {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", v)
}
