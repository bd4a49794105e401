package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calstats/internal/decode"
	"calstats/internal/model"
	"calstats/internal/normalize"
	"calstats/internal/schema"
	"calstats/internal/table"
)

var testFields = schema.Schema{
	Version: 1,
	Fields: []schema.Field{
		{Name: "category", Kind: schema.KindString},
		{Name: "organiser", Kind: schema.KindString},
		{Name: "visitor_type", Kind: schema.KindList},
		{Name: "participants", Kind: schema.KindInt},
	},
}

type ev struct {
	date time.Time
	desc string
}

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func buildWith(t *testing.T, s schema.Schema, policy table.Policy, evs ...ev) *table.Dataset {
	t.Helper()
	cs, err := schema.Compile(s)
	require.NoError(t, err)
	dec := decode.New(cs)
	norm := normalize.New(cs, time.UTC)
	b, err := table.NewBuilder(table.Options{Schema: cs, Policy: policy})
	require.NoError(t, err)
	for i, e := range evs {
		raw := model.RawEvent{Description: e.desc}
		if !e.date.IsZero() {
			raw.Start = e.date.Add(time.Duration(i) * time.Minute)
		}
		rec, err := norm.Normalize(raw, dec.Decode(e.desc))
		if err != nil {
			b.Reject()
			continue
		}
		b.Add(rec)
	}
	return b.Build()
}

func build(t *testing.T, evs ...ev) *table.Dataset {
	t.Helper()
	return buildWith(t, testFields, table.PolicyDrop, evs...)
}

type flat struct {
	label string
	value float64
}

func flatten(st SummaryTable) []flat {
	out := make([]flat, len(st.Rows))
	for i, r := range st.Rows {
		out[i] = flat{r.Label(), r.Value}
	}
	return out
}

func TestMonthBucketsAreContiguous(t *testing.T) {
	ds := build(t,
		ev{date(2024, 1, 10), "category: Workshop"},
		ev{date(2024, 3, 5), "category: Tour"},
	)
	st, err := Aggregate(ds, Spec{Bucket: BucketMonth})
	require.NoError(t, err)

	assert.Equal(t, []flat{
		{"2024-01", 1},
		{"2024-02", 0},
		{"2024-03", 1},
	}, flatten(st))
	assert.Equal(t, date(2024, 2, 1), st.Rows[1].Start)
	assert.Equal(t, 2, st.Events)
}

func TestMultiValueExplosion(t *testing.T) {
	ds := build(t,
		ev{date(2024, 1, 1), "visitor_type: student, staff"},
		ev{date(2024, 1, 2), "visitor_type: staff"},
	)
	st, err := Aggregate(ds, Spec{GroupBy: []string{"visitor_type"}})
	require.NoError(t, err)

	assert.Equal(t, []flat{{"staff", 2}, {"student", 1}}, flatten(st))
	assert.Equal(t, 2, st.Events)
	assert.Equal(t, 3, st.Contributions)
	assert.True(t, st.Exploded)
	assert.Equal(t, 0, st.Missing)
}

func TestMissingGroupGoesToUnknownLast(t *testing.T) {
	ds := build(t,
		ev{date(2024, 1, 1), "participants: 3"},
		ev{date(2024, 1, 2), "category: Workshop"},
		ev{date(2024, 1, 3), ""},
		ev{date(2024, 1, 4), "category: Tour"},
	)
	st, err := Aggregate(ds, Spec{GroupBy: []string{"category"}})
	require.NoError(t, err)
	assert.Equal(t, []flat{{"Workshop", 1}, {"Tour", 1}, {"unknown", 2}}, flatten(st))
	assert.Equal(t, 2, st.Missing)
	assert.False(t, st.Exploded)

	st, err = Aggregate(ds, Spec{GroupBy: []string{"category"}, UnknownLabel: "n/a", Order: OrderKey})
	require.NoError(t, err)
	assert.Equal(t, []flat{{"Tour", 1}, {"Workshop", 1}, {"n/a", 2}}, flatten(st))
}

func TestValueNamedLikeUnknownLabelStaysSeparate(t *testing.T) {
	ds := build(t,
		ev{date(2024, 1, 1), "category: unknown"},
		ev{date(2024, 1, 2), "participants: 4"},
		ev{date(2024, 1, 3), "category: Workshop"},
	)
	st, err := Aggregate(ds, Spec{GroupBy: []string{"category"}, Order: OrderFirstSeen})
	require.NoError(t, err)
	assert.Equal(t, []flat{{"unknown", 1}, {"Workshop", 1}, {"unknown", 1}}, flatten(st))
	assert.Equal(t, 1, st.Missing)
	assert.False(t, st.Rows[0].Unknown)
	assert.False(t, st.Rows[1].Unknown)
	assert.True(t, st.Rows[2].Unknown)

	st, err = Aggregate(ds, Spec{GroupBy: []string{"category"}, UnknownLabel: "n/a", Bucket: BucketMonth})
	require.NoError(t, err)
	assert.Equal(t, []flat{{"2024-01 / unknown", 1}, {"2024-01 / Workshop", 1}, {"2024-01 / n/a", 1}}, flatten(st))
}

func TestCrossTabIsZeroFilled(t *testing.T) {
	ds := build(t,
		ev{date(2024, 1, 1), "organiser: UB\ncategory: Workshop"},
		ev{date(2024, 1, 2), "organiser: UB\ncategory: Tour"},
		ev{date(2024, 1, 3), "organiser: Extern\ncategory: Workshop"},
	)
	st, err := Aggregate(ds, Spec{GroupBy: []string{"organiser", "category"}})
	require.NoError(t, err)
	assert.Equal(t, []flat{
		{"UB / Workshop", 1},
		{"UB / Tour", 1},
		{"Extern / Workshop", 1},
		{"Extern / Tour", 0},
	}, flatten(st))
}

func TestBucketAndCategoryGrid(t *testing.T) {
	ds := build(t,
		ev{date(2024, 1, 1), "category: Workshop"},
		ev{date(2024, 3, 1), "category: Tour"},
	)
	st, err := Aggregate(ds, Spec{GroupBy: []string{"category"}, Bucket: BucketMonth, Order: OrderFirstSeen})
	require.NoError(t, err)
	assert.Equal(t, []flat{
		{"2024-01 / Workshop", 1},
		{"2024-01 / Tour", 0},
		{"2024-02 / Workshop", 0},
		{"2024-02 / Tour", 0},
		{"2024-03 / Workshop", 0},
		{"2024-03 / Tour", 1},
	}, flatten(st))
}

func TestSum(t *testing.T) {
	ds := build(t,
		ev{date(2024, 1, 1), "category: Workshop\nparticipants: 10-20"},
		ev{date(2024, 1, 2), "category: Workshop\nparticipants: 5"},
		ev{date(2024, 1, 3), "category: Tour\nparticipants: viele"},
		ev{date(2024, 1, 4), "category: Tour"},
	)
	st, err := Aggregate(ds, Spec{GroupBy: []string{"category"}, Kind: KindSum, Field: "participants"})
	require.NoError(t, err)
	assert.Equal(t, []flat{{"Workshop", 25}, {"Tour", 0}}, flatten(st))
	assert.Equal(t, 2, st.Missing)
	assert.Equal(t, 25.0, st.Total())
}

func TestCountDistinct(t *testing.T) {
	ds := build(t,
		ev{date(2024, 1, 1), "organiser: UB"},
		ev{date(2024, 1, 2), "organiser: UB"},
		ev{date(2024, 1, 3), "organiser: Extern"},
		ev{date(2024, 2, 1), "organiser: UB"},
		ev{date(2024, 2, 2), "category: Tour"},
	)
	st, err := Aggregate(ds, Spec{Bucket: BucketMonth, Kind: KindCountDistinct, Field: "organiser"})
	require.NoError(t, err)
	assert.Equal(t, []flat{{"2024-01", 2}, {"2024-02", 1}}, flatten(st))
	assert.Equal(t, 1, st.Missing)
}

func TestMissingRatio(t *testing.T) {
	ds := build(t,
		ev{date(2024, 1, 1), "participants: 1"},
		ev{date(2024, 1, 2), "participants: 2"},
		ev{date(2024, 1, 3), "participants: 3"},
		ev{date(2024, 1, 4), "category: Tour"},
	)
	st, err := Aggregate(ds, Spec{Kind: KindMissingRatio, Field: "participants"})
	require.NoError(t, err)
	require.Len(t, st.Rows, 1)
	assert.Nil(t, st.Rows[0].Keys)
	assert.InDelta(t, 0.25, st.Rows[0].Value, 1e-9)
	assert.Equal(t, 1, st.Missing)
}

func TestTopK(t *testing.T) {
	ds := build(t,
		ev{date(2024, 1, 1), "organiser: C"},
		ev{date(2024, 1, 2), "organiser: A"},
		ev{date(2024, 1, 3), "organiser: A"},
		ev{date(2024, 1, 4), "organiser: B"},
		ev{date(2024, 1, 5), "organiser: A"},
		ev{date(2024, 1, 6), "organiser: B"},
		ev{date(2024, 1, 7), ""},
	)
	st, err := Aggregate(ds, Spec{GroupBy: []string{"organiser"}, TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, []flat{{"A", 3}, {"B", 2}}, flatten(st))
	assert.Equal(t, 2, st.Omitted)
	assert.Equal(t, 7, st.Events)
}

func TestWeekBuckets(t *testing.T) {
	ds := build(t,
		ev{date(2024, 1, 3), "category: a"},
		ev{date(2024, 1, 15), "category: b"},
	)

	st, err := Aggregate(ds, Spec{Bucket: BucketWeek, WeekStart: time.Monday})
	require.NoError(t, err)
	assert.Equal(t, []flat{{"2024-01-01", 1}, {"2024-01-08", 0}, {"2024-01-15", 1}}, flatten(st))

	st, err = Aggregate(ds, Spec{Bucket: BucketWeek, WeekStart: time.Sunday})
	require.NoError(t, err)
	assert.Equal(t, []flat{{"2023-12-31", 1}, {"2024-01-07", 0}, {"2024-01-14", 1}}, flatten(st))
}

func TestDayAndYearBuckets(t *testing.T) {
	ds := build(t,
		ev{date(2023, 12, 30), "category: a"},
		ev{date(2024, 1, 1), "category: b"},
	)
	st, err := Aggregate(ds, Spec{Bucket: BucketDay})
	require.NoError(t, err)
	assert.Equal(t, []flat{{"2023-12-30", 1}, {"2023-12-31", 0}, {"2024-01-01", 1}}, flatten(st))

	st, err = Aggregate(ds, Spec{Bucket: BucketYear})
	require.NoError(t, err)
	assert.Equal(t, []flat{{"2023", 1}, {"2024", 1}}, flatten(st))
}

func TestDateFilterDrivesBuckets(t *testing.T) {
	ds := build(t,
		ev{date(2024, 1, 10), "category: a"},
		ev{date(2024, 3, 5), "category: b"},
		ev{date(2024, 5, 1), "category: c"},
	)
	st, err := Aggregate(ds, Spec{Bucket: BucketMonth, From: date(2024, 2, 1), To: date(2024, 4, 30)})
	require.NoError(t, err)
	assert.Equal(t, []flat{{"2024-02", 0}, {"2024-03", 1}, {"2024-04", 0}}, flatten(st))
	assert.Equal(t, 1, st.Events)
	assert.Equal(t, date(2024, 2, 1), st.From)
	assert.Equal(t, date(2024, 4, 30), st.To)
}

func TestFlaggedDuplicatesAreSkipped(t *testing.T) {
	e := ev{date(2024, 1, 1), "category: Workshop"}
	cs := schema.MustCompile(testFields)
	dec := decode.New(cs)
	norm := normalize.New(cs, time.UTC)
	b, err := table.NewBuilder(table.Options{Schema: cs, Policy: table.PolicyFlag})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		rec, err := norm.Normalize(model.RawEvent{Start: e.date}, dec.Decode(e.desc))
		require.NoError(t, err)
		b.Add(rec)
	}
	ds := b.Build()
	require.Equal(t, 3, ds.Len())

	st, err := Aggregate(ds, Spec{GroupBy: []string{"category"}})
	require.NoError(t, err)
	assert.Equal(t, []flat{{"Workshop", 1}}, flatten(st))

	fs, err := Describe(ds, "participants")
	require.NoError(t, err)
	col, _ := ds.Column("participants")
	assert.Equal(t, 1, fs.Rows)
	assert.Equal(t, 1, fs.Missing)
	assert.Equal(t, ds.MissingCount(col), fs.Missing)
}

func TestPresence(t *testing.T) {
	ds := build(t,
		ev{date(2024, 1, 1), "visitor_type: student, staff"},
		ev{date(2024, 1, 2), "category: Tour"},
		ev{date(2024, 1, 3), "visitor_type: staff"},
	)
	st, err := Aggregate(ds, Spec{GroupBy: []string{"visitor_type"}, Presence: true})
	require.NoError(t, err)
	assert.Equal(t, []flat{{"yes", 2}, {"no", 1}}, flatten(st))
	assert.False(t, st.Exploded)
}

func TestAggregateErrors(t *testing.T) {
	ds := build(t, ev{date(2024, 1, 1), "category: a"})
	tests := []struct {
		name string
		spec Spec
		err  error
	}{
		{"unknown group column", Spec{GroupBy: []string{"colour"}}, ErrUnknownColumn},
		{"unknown field", Spec{Kind: KindSum, Field: "colour"}, ErrUnknownColumn},
		{"bad kind", Spec{Kind: "median"}, ErrBadKind},
		{"bad bucket", Spec{Bucket: "hour"}, ErrBadBucket},
		{"bad order", Spec{Order: "random"}, ErrBadOrder},
		{"field required", Spec{Kind: KindSum}, ErrFieldRequired},
		{"not numeric", Spec{Kind: KindSum, Field: "category"}, ErrNotNumeric},
		{"inverted range", Spec{From: date(2024, 2, 1), To: date(2024, 1, 1)}, ErrEmptyRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Aggregate(ds, tt.spec)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestAggregateEmptyDataset(t *testing.T) {
	ds := build(t)
	st, err := Aggregate(ds, Spec{Bucket: BucketMonth})
	require.NoError(t, err)
	assert.Empty(t, st.Rows)
	assert.Equal(t, 0, st.Events)
}

func TestRejectedEventsStayOutOfDataset(t *testing.T) {
	ds := build(t,
		ev{date(2024, 1, 1), "category: a"},
		ev{time.Time{}, "category: b"},
		ev{date(2024, 1, 2), "category: c"},
		ev{time.Time{}, ""},
	)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, 2, ds.Quality().Rejected)
	assert.Equal(t, 4, ds.Quality().Input)

	st, err := Aggregate(ds, Spec{})
	require.NoError(t, err)
	assert.Equal(t, []flat{{"", 2}}, flatten(st))
}
