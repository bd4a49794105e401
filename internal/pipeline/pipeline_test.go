package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calstats/internal/aggregate"
	"calstats/internal/ics"
	"calstats/internal/model"
	"calstats/internal/schema"
	"calstats/internal/table"
)

func labOptions(t *testing.T, policy table.Policy) Options {
	t.Helper()
	cs, err := schema.Compile(schema.Default())
	require.NoError(t, err)
	return Options{
		Table:    table.Options{Schema: cs, Policy: policy},
		Location: time.UTC,
	}
}

func at(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func cellOf(t *testing.T, ds *table.Dataset, r int, name string) model.Value {
	t.Helper()
	col, ok := ds.Column(name)
	if !ok {
		return model.Missing()
	}
	return ds.Value(r, col)
}

func TestAnalyze(t *testing.T) {
	events := []model.RawEvent{
		{UID: "a", Start: at(2024, 1, 10, 9), Description: "Kategorie: Workshop\nTeilnehmer: 12", HasDescription: true},
		{UID: "b", Start: at(2024, 1, 11, 9), Description: "Kategorie: Tour\nRaum: 2.14", HasDescription: true},
		{UID: "c", Description: "Kategorie: Tour", HasDescription: true},
		{UID: "d", Start: at(2024, 2, 1, 9)},
		{UID: "a-copy", Start: at(2024, 1, 10, 9), Description: "Kategorie: Workshop\nTeilnehmer: 12", HasDescription: true},
	}

	ds, err := Analyze(events, labOptions(t, table.PolicyDrop))
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())

	q := ds.Quality()
	assert.Equal(t, 5, q.Input)
	assert.Equal(t, 1, q.Rejected)
	assert.Equal(t, 1, q.Duplicates)
	assert.Equal(t, 1, q.EmptyDescriptions)

	assert.Equal(t, "Workshop", cellOf(t, ds, 0, schema.FieldEventCategory).String())
	assert.Equal(t, "2.14", cellOf(t, ds, 1, "raum").String())
	assert.True(t, cellOf(t, ds, 2, schema.FieldEventCategory).IsMissing())
}

func TestAnalyzeRejectsUncompiledSchema(t *testing.T) {
	s := schema.Default()
	_, err := Analyze(nil, Options{Table: table.Options{Schema: &s}})
	assert.ErrorIs(t, err, schema.ErrNotCompiled)
}

func TestRunExpandsRecurrence(t *testing.T) {
	series := model.RawEvent{
		UID:            "tour",
		Start:          at(2024, 1, 1, 10),
		End:            at(2024, 1, 1, 11),
		RawRRule:       "FREQ=WEEKLY;COUNT=3",
		Description:    "Kategorie: Tour",
		HasDescription: true,
	}
	opts := labOptions(t, table.PolicyDrop)

	res, err := Run([]model.RawEvent{series}, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dataset.Len())

	opts.Expand = &ics.ExpandConfig{RangeEnd: at(2024, 12, 31, 0)}
	res, err = Run([]model.RawEvent{series}, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Dataset.Len())
	assert.Empty(t, res.Truncated)
}

func TestFromSources(t *testing.T) {
	dir := t.TempDir()
	body := strings.Join([]string{
		"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//calstats//test//EN",
		"BEGIN:VEVENT", "UID:x1", "DTSTAMP:20240101T000000Z",
		"DTSTART:20240305T100000Z", "DESCRIPTION:Kategorie: Seminar\\nVeranstalter: UB",
		"END:VEVENT", "END:VCALENDAR", "",
	}, "\r\n")
	good := filepath.Join(dir, "lab.ics")
	require.NoError(t, os.WriteFile(good, []byte(body), 0o600))
	empty := filepath.Join(dir, "empty.ics")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	f := ics.NewFetcher(t.TempDir(), time.Second)
	res, errs := FromSources(context.Background(), f, []ics.Source{
		{ID: "lab", URL: good},
		{ID: "empty", URL: empty},
		{ID: "missing", URL: filepath.Join(dir, "nope.ics")},
	}, labOptions(t, table.PolicyDrop))

	assert.Len(t, errs, 2)
	require.NotNil(t, res.Dataset)
	require.Equal(t, 1, res.Dataset.Len())
	assert.Equal(t, "lab", res.Dataset.Row(0).Source)
	assert.Equal(t, "Lehrveranstaltung", cellOf(t, res.Dataset, 0, schema.FieldEventCategory).String())
}

func TestSummaries(t *testing.T) {
	events := []model.RawEvent{
		{Start: at(2024, 1, 10, 9), Description: "Kategorie: Workshop\nVeranstalter: UB"},
		{Start: at(2024, 3, 2, 9), Description: "Kategorie: Seminar\nVeranstalter: Uni: Sport"},
		{Start: at(2024, 3, 9, 9), Description: "Veranstalter: UB"},
	}
	opts := labOptions(t, table.PolicyDrop)
	ds, err := Analyze(events, opts)
	require.NoError(t, err)

	tables, err := Summaries(ds, opts.Table.Schema, ViewOptions{
		Bucket:       aggregate.BucketMonth,
		UnknownLabel: "n/a",
		TopK:         1,
	})
	require.NoError(t, err)
	byName := map[string]aggregate.SummaryTable{}
	for _, st := range tables {
		byName[st.Name] = st
	}

	overTime := byName["events_over_time"]
	require.Len(t, overTime.Rows, 3)
	assert.Equal(t, 0.0, overTime.Rows[1].Value)

	cat := byName["event_category"]
	assert.Equal(t, "n/a", cat.Rows[len(cat.Rows)-1].Keys[0])

	detail := byName["organiser_detail"]
	assert.Len(t, detail.Rows, 1)
	assert.Equal(t, 1, detail.Omitted)

	tables, err = Summaries(ds, opts.Table.Schema, ViewOptions{
		Views: []aggregate.Spec{{Name: "march", Bucket: aggregate.BucketMonth}},
		From:  at(2024, 3, 20, 0),
		To:    at(2024, 3, 21, 0),
	})
	require.NoError(t, err)
	require.Len(t, tables, 1)
	require.Len(t, tables[0].Rows, 1)
	assert.Equal(t, "2024-03", tables[0].Rows[0].Bucket)
	assert.Equal(t, 2.0, tables[0].Rows[0].Value)

	_, err = Summaries(ds, opts.Table.Schema, ViewOptions{
		Views: []aggregate.Spec{{Name: "bad", GroupBy: []string{"colour"}}},
	})
	assert.ErrorIs(t, err, aggregate.ErrUnknownColumn)
}
