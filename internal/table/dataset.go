// Package table builds the tabular Dataset that the aggregator reads.
//
// A Dataset's columns are the union of every field seen: the schema's
// canonical columns first, in schema order, then unrecognized keys in
// first-seen order. Cells that a record never had read back as the missing
// marker, so missing-data rates stay visible. Datasets are immutable once
// built.
package table

import (
	"time"

	"calstats/internal/model"
	"calstats/internal/schema"
)

// Column describes one dataset column.
type Column struct {
	Name string      `json:"name"`
	Kind schema.Kind `json:"kind"`
	// Extra is set for columns that came from keys outside the schema.
	Extra bool `json:"extra,omitempty"`
}

// Quality counts the soft failures met while building a dataset.
type Quality struct {
	// Input is the number of events offered to the builder, rejected ones
	// included.
	Input int `json:"input"`
	// Rejected events had no start timestamp and are not in the dataset.
	Rejected int `json:"rejected"`
	// EmptyDescriptions counts accepted events, repeats included, whose
	// DESCRIPTION yielded no fields.
	EmptyDescriptions int `json:"empty_descriptions"`
	// Duplicates counts rows whose content key was already present. They
	// were dropped or flagged according to the dedup policy.
	Duplicates int `json:"duplicates"`
	// Malformed counts per column the values that failed their type
	// policy, over the same events as EmptyDescriptions.
	Malformed map[string]int `json:"malformed,omitempty"`
}

func (q *Quality) add(o Quality) {
	q.Input += o.Input
	q.Rejected += o.Rejected
	q.EmptyDescriptions += o.EmptyDescriptions
	q.Duplicates += o.Duplicates
	for k, n := range o.Malformed {
		if q.Malformed == nil {
			q.Malformed = make(map[string]int)
		}
		q.Malformed[k] += n
	}
}

func (q Quality) clone() Quality {
	out := q
	if q.Malformed != nil {
		out.Malformed = make(map[string]int, len(q.Malformed))
		for k, n := range q.Malformed {
			out.Malformed[k] = n
		}
	}
	return out
}

// MalformedTotal sums Malformed over all columns.
func (q Quality) MalformedTotal() int {
	n := 0
	for _, c := range q.Malformed {
		n += c
	}
	return n
}

// RowMeta is the per-row data that does not live in columns.
type RowMeta struct {
	Date             time.Time `json:"date"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end,omitzero"`
	HasTime          bool      `json:"has_time"`
	Source           string    `json:"source,omitempty"`
	UID              string    `json:"uid,omitempty"`
	Summary          string    `json:"summary,omitempty"`
	EmptyDescription bool      `json:"empty_description,omitempty"`
	Duplicate        bool      `json:"duplicate,omitempty"`
}

type row struct {
	meta RowMeta
	// values may be shorter than the column list; the tail reads missing.
	values []model.Value
	key    string
}

// Dataset is an ordered, immutable set of rows sharing one column list.
type Dataset struct {
	schemaVersion int
	opts          Options
	columns       []Column
	index         map[string]int
	rows          []row
	quality       Quality
}

// Len returns the number of rows, flagged duplicates included.
func (d *Dataset) Len() int { return len(d.rows) }

// SchemaVersion is the version of the schema the canonical columns came
// from.
func (d *Dataset) SchemaVersion() int { return d.schemaVersion }

// Columns returns a copy of the column list.
func (d *Dataset) Columns() []Column {
	out := make([]Column, len(d.columns))
	copy(out, d.columns)
	return out
}

// Column returns the position of the named column.
func (d *Dataset) Column(name string) (int, bool) {
	i, ok := d.index[name]
	return i, ok
}

// Value returns the cell at (row, col). Out-of-range cells are missing.
func (d *Dataset) Value(r, col int) model.Value {
	if r < 0 || r >= len(d.rows) {
		return model.Missing()
	}
	vals := d.rows[r].values
	if col < 0 || col >= len(vals) {
		return model.Missing()
	}
	return vals[col]
}

// Row returns the metadata of row r.
func (d *Dataset) Row(r int) RowMeta { return d.rows[r].meta }

// Duplicate reports whether row r was flagged as a duplicate.
func (d *Dataset) Duplicate(r int) bool { return d.rows[r].meta.Duplicate }

// Quality returns the dataset's quality counters.
func (d *Dataset) Quality() Quality { return d.quality.clone() }

// MissingCount returns how many non-duplicate rows lack a value in col.
func (d *Dataset) MissingCount(col int) int {
	n := 0
	for r := range d.rows {
		if !d.rows[r].meta.Duplicate && d.Value(r, col).IsMissing() {
			n++
		}
	}
	return n
}

// DateRange returns the earliest and latest row dates.
func (d *Dataset) DateRange() (first, last time.Time, ok bool) {
	for _, r := range d.rows {
		if r.meta.Duplicate {
			continue
		}
		if !ok || r.meta.Date.Before(first) {
			first = r.meta.Date
		}
		if !ok || r.meta.Date.After(last) {
			last = r.meta.Date
		}
		ok = true
	}
	return first, last, ok
}

// Concat returns the schema-union of a and b: a's columns, then b's columns
// that a lacks. Rows of each input read missing for the columns they never
// had. Rows of b whose content key already occurs in a are handled by a's
// dedup policy. Quality counters are summed. Either input may be nil.
func Concat(a, b *Dataset) *Dataset {
	switch {
	case a == nil && b == nil:
		return &Dataset{index: map[string]int{}}
	case a == nil:
		return b
	case b == nil:
		return a
	}

	out := &Dataset{
		schemaVersion: a.schemaVersion,
		opts:          a.opts,
		columns:       append([]Column(nil), a.columns...),
		index:         make(map[string]int, len(a.columns)+len(b.columns)),
		rows:          make([]row, 0, len(a.rows)+len(b.rows)),
		quality:       a.quality.clone(),
	}
	for i, c := range out.columns {
		out.index[c.Name] = i
	}
	remap := make([]int, len(b.columns))
	for i, c := range b.columns {
		j, ok := out.index[c.Name]
		if !ok {
			j = len(out.columns)
			out.columns = append(out.columns, c)
			out.index[c.Name] = j
		}
		remap[i] = j
	}

	seen := make(map[string]bool, len(a.rows)+len(b.rows))
	for _, r := range a.rows {
		out.rows = append(out.rows, r)
		if !r.meta.Duplicate {
			seen[r.key] = true
		}
	}

	out.quality.add(b.quality)
	for _, r := range b.rows {
		nr := row{meta: r.meta, key: r.key}
		width := 0
		for i := range r.values {
			if !r.values[i].IsMissing() && remap[i]+1 > width {
				width = remap[i] + 1
			}
		}
		nr.values = make([]model.Value, width)
		for i, v := range r.values {
			if !v.IsMissing() {
				nr.values[remap[i]] = v
			}
		}

		if !nr.meta.Duplicate && seen[nr.key] {
			out.quality.Duplicates++
			if out.opts.Policy != PolicyFlag {
				continue
			}
			nr.meta.Duplicate = true
		}
		if !nr.meta.Duplicate {
			seen[nr.key] = true
		}
		out.rows = append(out.rows, nr)
	}
	return out
}
