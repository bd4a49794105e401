package aggregate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"calstats/internal/schema"
	"calstats/internal/table"
)

// FieldStats summarizes one column.
type FieldStats struct {
	Field string      `json:"field"`
	Kind  schema.Kind `json:"kind"`

	// Rows is the number of non-duplicate rows; Count of them have a value.
	Rows      int `json:"rows"`
	Count     int `json:"count"`
	Missing   int `json:"missing"`
	Malformed int `json:"malformed"`
	// Distinct counts distinct values, list items counted individually.
	Distinct int    `json:"distinct"`
	Top      string `json:"top,omitempty"`
	TopCount int    `json:"top_count,omitempty"`

	// Numeric is set when at least one well-typed number was seen; the
	// remaining fields are computed over those numbers.
	Numeric bool    `json:"numeric"`
	Sum     float64 `json:"sum,omitempty"`
	Min     float64 `json:"min,omitempty"`
	Max     float64 `json:"max,omitempty"`
	Mean    float64 `json:"mean,omitempty"`
	Median  float64 `json:"median,omitempty"`
}

// MissingRatio is Missing over Rows.
func (s FieldStats) MissingRatio() float64 {
	if s.Rows == 0 {
		return 0
	}
	return float64(s.Missing) / float64(s.Rows)
}

// Describe computes descriptive statistics for the named column. The most
// frequent value wins Top; ties go to the value seen first.
func Describe(ds *table.Dataset, field string) (FieldStats, error) {
	col, ok := ds.Column(field)
	if !ok {
		return FieldStats{}, fmt.Errorf("%w: %q", ErrUnknownColumn, field)
	}
	st := FieldStats{Field: field, Kind: ds.Columns()[col].Kind}

	freq := newDimension()
	var nums []float64
	for r := 0; r < ds.Len(); r++ {
		if ds.Duplicate(r) {
			continue
		}
		st.Rows++
		v := ds.Value(r, col)
		if v.IsMissing() {
			continue
		}
		st.Count++
		if v.Malformed {
			st.Malformed++
		}
		for _, s := range v.Strings() {
			freq.observe(s)
		}
		if n, ok := v.Numeric(); ok {
			nums = append(nums, n)
		}
	}

	st.Missing = ds.MissingCount(col)
	st.Distinct = len(freq.values)
	if top := freq.ordered(OrderCountDesc); len(top) > 0 {
		st.Top = top[0]
		st.TopCount = freq.counts[freq.index[top[0]]]
	}

	if len(nums) > 0 {
		st.Numeric = true
		st.Min, st.Max = math.Inf(1), math.Inf(-1)
		for _, n := range nums {
			st.Sum += n
			st.Min = math.Min(st.Min, n)
			st.Max = math.Max(st.Max, n)
		}
		st.Mean = st.Sum / float64(len(nums))
		sort.Float64s(nums)
		mid := len(nums) / 2
		if len(nums)%2 == 1 {
			st.Median = nums[mid]
		} else {
			st.Median = (nums[mid-1] + nums[mid]) / 2
		}
	}
	return st, nil
}

// ResolveRange turns a requested date range into the one to display: from
// snaps to the first of its month and to to the last day of its month, and
// both are clipped to the months that hold data. A zero bound takes the
// data's bound.
func ResolveRange(ds *table.Dataset, from, to time.Time) (time.Time, time.Time, error) {
	if !from.IsZero() {
		from = monthStart(inLoc(from, from.Location()))
	}
	if !to.IsZero() {
		to = monthEnd(inLoc(to, to.Location()))
	}
	if first, last, ok := ds.DateRange(); ok {
		lo, hi := monthStart(first), monthEnd(last)
		if from.IsZero() || dateKey(from) < dateKey(lo) {
			from = lo
		}
		if to.IsZero() || dateKey(to) > dateKey(hi) {
			to = hi
		}
	}
	if !from.IsZero() && !to.IsZero() && dateKey(to) < dateKey(from) {
		return from, to, ErrEmptyRange
	}
	return from, to, nil
}
