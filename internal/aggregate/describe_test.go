package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calstats/internal/schema"
	"calstats/internal/table"
)

func TestDescribeNumeric(t *testing.T) {
	ds := build(t,
		ev{date(2024, 1, 1), "participants: 10"},
		ev{date(2024, 1, 2), "participants: 20"},
		ev{date(2024, 1, 3), "participants: 5"},
		ev{date(2024, 1, 4), "participants: 20"},
		ev{date(2024, 1, 5), "participants: lots"},
		ev{date(2024, 1, 6), "category: Tour"},
	)
	st, err := Describe(ds, "participants")
	require.NoError(t, err)

	assert.Equal(t, schema.KindInt, st.Kind)
	assert.Equal(t, 6, st.Rows)
	assert.Equal(t, 5, st.Count)
	assert.Equal(t, 1, st.Missing)
	assert.Equal(t, 1, st.Malformed)
	assert.Equal(t, 4, st.Distinct)
	assert.Equal(t, "20", st.Top)
	assert.Equal(t, 2, st.TopCount)

	require.True(t, st.Numeric)
	assert.Equal(t, 55.0, st.Sum)
	assert.Equal(t, 5.0, st.Min)
	assert.Equal(t, 20.0, st.Max)
	assert.InDelta(t, 13.75, st.Mean, 1e-9)
	assert.InDelta(t, 15.0, st.Median, 1e-9)
	assert.InDelta(t, 1.0/6.0, st.MissingRatio(), 1e-9)
}

func TestDescribeList(t *testing.T) {
	ds := build(t,
		ev{date(2024, 1, 1), "visitor_type: student, staff"},
		ev{date(2024, 1, 2), "visitor_type: staff"},
	)
	st, err := Describe(ds, "visitor_type")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Count)
	assert.Equal(t, 2, st.Distinct)
	assert.Equal(t, "staff", st.Top)
	assert.False(t, st.Numeric)

	_, err = Describe(ds, "colour")
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func parseDay(t *testing.T, s string) time.Time {
	t.Helper()
	if s == "" {
		return time.Time{}
	}
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func TestResolveRange(t *testing.T) {
	ds := build(t,
		ev{date(2024, 2, 14), "category: a"},
		ev{date(2024, 6, 3), "category: b"},
	)

	tests := []struct {
		name     string
		from, to string
		wantFrom string
		wantTo   string
	}{
		{"snap to months", "2024-03-15", "2024-04-10", "2024-03-01", "2024-04-30"},
		{"clip to data", "2023-11-20", "2024-12-01", "2024-02-01", "2024-06-30"},
		{"open bounds", "", "", "2024-02-01", "2024-06-30"},
		{"leap february", "2024-02-10", "2024-02-10", "2024-02-01", "2024-02-29"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, err := ResolveRange(ds, parseDay(t, tt.from), parseDay(t, tt.to))
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, from.Format("2006-01-02"))
			assert.Equal(t, tt.wantTo, to.Format("2006-01-02"))
		})
	}

	_, _, err := ResolveRange(ds, parseDay(t, "2024-09-01"), parseDay(t, "2024-10-01"))
	assert.ErrorIs(t, err, ErrEmptyRange)
}

func TestResolveRangeWithoutData(t *testing.T) {
	ds := build(t)
	from, to, err := ResolveRange(ds, parseDay(t, "2024-03-15"), parseDay(t, "2024-04-10"))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", from.Format("2006-01-02"))
	assert.Equal(t, "2024-04-30", to.Format("2006-01-02"))
}

func TestDefaultViewsRunOnLabSchema(t *testing.T) {
	ds := buildWith(t, schema.Default(), table.PolicyDrop,
		ev{date(2024, 1, 10), "Kategorie: Workshop: VR\nVeranstalter: UB\nTeilnehmer: 12\nTechnik: VR, Eye Tracking\nCatering: ja"},
		ev{date(2024, 3, 2), "Kategorie: Seminar\nVeranstalter: Uni: Sport\nTeilnehmer: 30"},
		ev{date(2024, 3, 9), "Visitor Type: student\nZweck: Besuch"},
	)
	cs := schema.MustCompile(schema.Default())

	views := DefaultViews(cs, BucketMonth)
	names := make([]string, 0, len(views))
	for _, v := range views {
		names = append(names, v.Name)
		st, err := Aggregate(ds, v)
		require.NoError(t, err, v.Name)
		assert.NotEmpty(t, st.Rows, v.Name)
	}
	assert.Equal(t, []string{
		"events_over_time",
		"event_category",
		"organiser",
		"event_category_by_organiser",
		"organiser_detail",
		"equipment",
		"equipment_presence",
		"participants_by_category",
		"participants_over_time",
		schema.FieldCatering,
		schema.FieldVisitorType,
		schema.FieldPurpose,
	}, names)

	st, err := Aggregate(ds, views[8])
	require.NoError(t, err)
	assert.Equal(t, []flat{{"2024-01", 12}, {"2024-02", 0}, {"2024-03", 30}}, flatten(st))
}

func TestDefaultViewsGenericSchema(t *testing.T) {
	cs := schema.MustCompile(testFields)
	views := DefaultViews(cs, "")
	require.NotEmpty(t, views)
	assert.Equal(t, BucketMonth, views[0].Bucket)

	byName := map[string]Spec{}
	for _, v := range views {
		byName[v.Name] = v
	}
	assert.Equal(t, KindSum, byName["participants_over_time"].Kind)
	assert.Equal(t, []string{"visitor_type"}, byName["visitor_type"].GroupBy)
	assert.Equal(t, []string{"category"}, byName["category"].GroupBy)
}
