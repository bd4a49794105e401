package aggregate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"calstats/internal/model"
	"calstats/internal/schema"
	"calstats/internal/table"
)

const (
	presentLabel = "yes"
	absentLabel  = "no"

	// unknownKey stands for a missing grouped value until rows are
	// emitted. Decoded values are trimmed text and never contain NUL.
	unknownKey = "\x00unknown"
)

// dimension tracks the distinct values seen in one grouped column.
type dimension struct {
	index  map[string]int
	values []string
	counts []int
}

func newDimension() *dimension { return &dimension{index: make(map[string]int)} }

func (d *dimension) observe(v string) {
	i, ok := d.index[v]
	if !ok {
		i = len(d.values)
		d.index[v] = i
		d.values = append(d.values, v)
		d.counts = append(d.counts, 0)
	}
	d.counts[i]++
}

// ordered returns the values sorted per order, unknownKey last.
func (d *dimension) ordered(order Order) []string {
	idx := make([]int, len(d.values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		va, vb := d.values[idx[a]], d.values[idx[b]]
		if (va == unknownKey) != (vb == unknownKey) {
			return vb == unknownKey
		}
		switch order {
		case OrderCountDesc:
			return d.counts[idx[a]] > d.counts[idx[b]]
		case OrderKey:
			fa, fb := schema.FoldText(va), schema.FoldText(vb)
			if fa != fb {
				return fa < fb
			}
			return va < vb
		default:
			return false
		}
	})
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = d.values[j]
	}
	return out
}

type cell struct {
	n        int
	sum      float64
	missing  int
	distinct map[string]struct{}
}

func (c *cell) value(k Kind) float64 {
	switch k {
	case KindSum:
		return c.sum
	case KindCountDistinct:
		return float64(len(c.distinct))
	case KindMissingRatio:
		if c.n == 0 {
			return 0
		}
		return float64(c.missing) / float64(c.n)
	default:
		return float64(c.n)
	}
}

// Aggregate groups the non-duplicate rows of ds per spec.
func Aggregate(ds *table.Dataset, spec Spec) (SummaryTable, error) {
	if err := spec.normalize(); err != nil {
		return SummaryTable{}, err
	}

	groupCols := make([]int, len(spec.GroupBy))
	for i, name := range spec.GroupBy {
		col, ok := ds.Column(name)
		if !ok {
			return SummaryTable{}, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
		}
		groupCols[i] = col
	}
	target := -1
	if spec.Field != "" {
		col, ok := ds.Column(spec.Field)
		if !ok {
			return SummaryTable{}, fmt.Errorf("%w: %q", ErrUnknownColumn, spec.Field)
		}
		if spec.Kind == KindSum {
			k := ds.Columns()[col].Kind
			if k != schema.KindInt && k != schema.KindFloat {
				return SummaryTable{}, fmt.Errorf("%w: %q is %s", ErrNotNumeric, spec.Field, k)
			}
		}
		target = col
	}

	out := SummaryTable{
		Name:         spec.Name,
		Title:        spec.Title,
		GroupBy:      append([]string(nil), spec.GroupBy...),
		Bucket:       spec.Bucket,
		Kind:         spec.Kind,
		Field:        spec.Field,
		UnknownLabel: spec.UnknownLabel,
	}

	dims := make([]*dimension, len(groupCols))
	for i := range dims {
		dims[i] = newDimension()
	}
	cells := make(map[string]*cell)

	var (
		loc         *time.Location
		first, last time.Time
		haveData    bool
	)
	bucketed := spec.Bucket != BucketNone

	for r := 0; r < ds.Len(); r++ {
		if ds.Duplicate(r) {
			continue
		}
		date := ds.Row(r).Date
		if !spec.From.IsZero() && dateKey(date) < dateKey(spec.From) {
			continue
		}
		if !spec.To.IsZero() && dateKey(date) > dateKey(spec.To) {
			continue
		}
		out.Events++
		if !haveData || date.Before(first) {
			first = date
		}
		if !haveData || date.After(last) {
			last = date
		}
		if loc == nil {
			loc = date.Location()
		}
		haveData = true

		var bucket time.Time
		if bucketed {
			bucket = bucketStart(date, spec.Bucket, spec.WeekStart)
		}

		combos := [][]string{nil}
		groupMissing := false
		for i, col := range groupCols {
			keys := groupKeys(ds.Value(r, col), spec.Presence)
			if len(keys) == 0 {
				keys = []string{unknownKey}
				groupMissing = true
			}
			if len(keys) > 1 {
				out.Exploded = true
			}
			for _, k := range keys {
				dims[i].observe(k)
			}
			combos = product(combos, keys)
		}

		tv := model.Missing()
		if target >= 0 {
			tv = ds.Value(r, target)
		}
		num, numOK := tv.Numeric()
		usable := true
		switch spec.Kind {
		case KindCount:
			usable = !groupMissing
		case KindSum:
			usable = numOK
		case KindCountDistinct:
			usable = !tv.IsMissing() && !tv.Malformed
		case KindMissingRatio:
			usable = !tv.IsMissing()
		}
		if !usable {
			out.Missing++
		}

		for _, keys := range combos {
			ck := cellKey(bucket, keys)
			c, ok := cells[ck]
			if !ok {
				c = &cell{}
				cells[ck] = c
			}
			c.n++
			out.Contributions++
			switch spec.Kind {
			case KindSum:
				if numOK {
					c.sum += num
				}
			case KindCountDistinct:
				if usable {
					if c.distinct == nil {
						c.distinct = make(map[string]struct{})
					}
					for _, s := range tv.Strings() {
						c.distinct[s] = struct{}{}
					}
				}
			case KindMissingRatio:
				if !usable {
					c.missing++
				}
			}
		}
	}

	if loc == nil {
		loc = time.UTC
		if !spec.From.IsZero() {
			loc = spec.From.Location()
		}
	}
	if !spec.From.IsZero() {
		out.From = inLoc(spec.From, loc)
	} else if haveData {
		out.From = first
	}
	if !spec.To.IsZero() {
		out.To = inLoc(spec.To, loc)
	} else if haveData {
		out.To = last
	}

	ordered := make([][]string, len(dims))
	for i, d := range dims {
		ordered[i] = d.ordered(spec.Order)
	}
	if spec.TopK > 0 && len(ordered) > 0 && len(ordered[0]) > spec.TopK {
		out.Omitted = len(ordered[0]) - spec.TopK
		ordered[0] = ordered[0][:spec.TopK]
	}
	grid := [][]string{nil}
	for _, vals := range ordered {
		grid = product(grid, vals)
	}

	emit := func(bucket time.Time, label string) {
		for _, keys := range grid {
			row := Row{Bucket: label, Start: bucket}
			if c, ok := cells[cellKey(bucket, keys)]; ok {
				row.Value = c.value(spec.Kind)
				row.Contributions = c.n
			}
			if len(keys) > 0 {
				row.Keys = make([]string, len(keys))
				for i, k := range keys {
					if k == unknownKey {
						k = spec.UnknownLabel
						row.Unknown = true
					}
					row.Keys[i] = k
				}
			}
			out.Rows = append(out.Rows, row)
		}
	}

	if !bucketed {
		if haveData {
			emit(time.Time{}, "")
		}
		return out, nil
	}
	if out.From.IsZero() || out.To.IsZero() {
		return out, nil
	}
	start := bucketStart(out.From, spec.Bucket, spec.WeekStart)
	end := bucketStart(out.To, spec.Bucket, spec.WeekStart)
	for b := start; !b.After(end); b = nextBucket(b, spec.Bucket) {
		emit(b, bucketLabel(b, spec.Bucket))
	}
	return out, nil
}

// groupKeys returns the grouping keys contributed by v.
func groupKeys(v model.Value, presence bool) []string {
	if presence {
		if v.IsMissing() {
			return []string{absentLabel}
		}
		return []string{presentLabel}
	}
	keys := v.Strings()
	out := keys[:0:0]
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// product extends every prefix with every value.
func product(prefixes [][]string, vals []string) [][]string {
	out := make([][]string, 0, len(prefixes)*len(vals))
	for _, p := range prefixes {
		for _, v := range vals {
			next := make([]string, len(p)+1)
			copy(next, p)
			next[len(p)] = v
			out = append(out, next)
		}
	}
	return out
}

func cellKey(bucket time.Time, keys []string) string {
	var sb strings.Builder
	if !bucket.IsZero() {
		sb.WriteString(strconv.FormatInt(bucket.Unix(), 10))
	}
	for _, k := range keys {
		sb.WriteByte('\x1f')
		sb.WriteString(k)
	}
	return sb.String()
}
