package table

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"calstats/internal/model"
	"calstats/internal/schema"
)

// Policy decides what happens to rows whose content key repeats.
type Policy string

const (
	// PolicyDrop removes repeats; only the first occurrence is kept.
	PolicyDrop Policy = "drop"
	// PolicyFlag keeps repeats but marks them Duplicate. The aggregator
	// skips flagged rows.
	PolicyFlag Policy = "flag"
)

// KeyComponent is one ingredient of the content key.
type KeyComponent string

const (
	KeyUID         KeyComponent = "uid"
	KeyStart       KeyComponent = "start"
	KeyEnd         KeyComponent = "end"
	KeySummary     KeyComponent = "summary"
	KeyDescription KeyComponent = "description"
	// KeyFields covers every decoded value, canonical and extra.
	KeyFields KeyComponent = "fields"
)

// DefaultKey identifies an event by its time span and decoded content.
var DefaultKey = []KeyComponent{KeyStart, KeyEnd, KeyFields}

// Options configures a Builder.
type Options struct {
	Schema *schema.Schema
	Policy Policy
	Key    []KeyComponent
}

// Validate checks Options and fills in defaults.
func (o *Options) Validate() error {
	if !o.Schema.Compiled() {
		return schema.ErrNotCompiled
	}
	switch o.Policy {
	case PolicyDrop, PolicyFlag:
	case "":
		o.Policy = PolicyDrop
	default:
		return fmt.Errorf("table: unknown dedup policy %q", o.Policy)
	}
	if len(o.Key) == 0 {
		o.Key = append([]KeyComponent(nil), DefaultKey...)
	}
	for _, k := range o.Key {
		switch k {
		case KeyUID, KeyStart, KeyEnd, KeySummary, KeyDescription, KeyFields:
		default:
			return fmt.Errorf("table: unknown dedup key component %q", k)
		}
	}
	return nil
}

// Builder accumulates records into a Dataset in a single pass. A Builder
// is owned by one goroutine and must not be reused after Build.
type Builder struct {
	opts    Options
	ds      *Dataset
	seen    map[string]bool
	nCanon  int
	scratch strings.Builder
}

// NewBuilder returns a Builder for opts.
func NewBuilder(opts Options) (*Builder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	s := opts.Schema
	ds := &Dataset{
		schemaVersion: s.Version,
		opts:          opts,
		columns:       make([]Column, 0, s.Len()),
		index:         make(map[string]int, s.Len()),
	}
	for i, f := range s.Fields {
		ds.columns = append(ds.columns, Column{Name: f.Name, Kind: f.Kind})
		ds.index[f.Name] = i
	}
	return &Builder{
		opts:   opts,
		ds:     ds,
		seen:   make(map[string]bool),
		nCanon: s.Len(),
	}, nil
}

// Reject counts an event that could not become a record.
func (b *Builder) Reject() {
	b.ds.quality.Input++
	b.ds.quality.Rejected++
}

// Add appends rec. It reports whether a row was added; repeats under
// PolicyDrop are counted and discarded.
func (b *Builder) Add(rec model.Record) bool {
	q := &b.ds.quality
	q.Input++
	if rec.EmptyDescription {
		q.EmptyDescriptions++
	}

	width := b.nCanon
	extraCols := make([]int, len(rec.Extras))
	for i, e := range rec.Extras {
		col, ok := b.ds.index[e.Name]
		if !ok {
			col = len(b.ds.columns)
			b.ds.columns = append(b.ds.columns, Column{Name: e.Name, Kind: schema.KindString, Extra: true})
			b.ds.index[e.Name] = col
		}
		extraCols[i] = col
		if col+1 > width {
			width = col + 1
		}
	}

	values := make([]model.Value, width)
	copy(values, rec.Values)
	for i, e := range rec.Extras {
		values[extraCols[i]] = e.Value
	}
	for col, v := range values {
		if v.Malformed {
			if q.Malformed == nil {
				q.Malformed = make(map[string]int)
			}
			q.Malformed[b.ds.columns[col].Name]++
		}
	}

	r := row{
		meta: RowMeta{
			Date:             rec.Date,
			Start:            rec.Start,
			End:              rec.End,
			HasTime:          rec.HasTime,
			Source:           rec.Source,
			UID:              rec.UID,
			Summary:          rec.Summary,
			EmptyDescription: rec.EmptyDescription,
		},
		values: values,
		key:    b.contentKey(rec),
	}

	if b.seen[r.key] {
		q.Duplicates++
		if b.opts.Policy == PolicyDrop {
			return false
		}
		r.meta.Duplicate = true
	} else {
		b.seen[r.key] = true
	}
	b.ds.rows = append(b.ds.rows, r)
	return true
}

// Build publishes the dataset.
func (b *Builder) Build() *Dataset {
	ds := b.ds
	b.ds, b.seen = nil, nil
	return ds
}

// contentKey hashes the configured key components of rec.
func (b *Builder) contentKey(rec model.Record) string {
	sb := &b.scratch
	sb.Reset()
	for _, k := range b.opts.Key {
		sb.WriteString(string(k))
		sb.WriteByte('=')
		switch k {
		case KeyUID:
			sb.WriteString(rec.UID)
		case KeyStart:
			writeTime(sb, rec.Start)
		case KeyEnd:
			writeTime(sb, rec.End)
		case KeySummary:
			sb.WriteString(rec.Summary)
		case KeyDescription:
			sb.WriteString(rec.Description)
		case KeyFields:
			for i, v := range rec.Values {
				if i >= b.nCanon || v.IsMissing() {
					continue
				}
				writeValue(sb, b.ds.columns[i].Name, v)
			}
			for _, e := range rec.Extras {
				writeValue(sb, e.Name, e.Value)
			}
		}
		sb.WriteByte(0)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func writeTime(sb *strings.Builder, t time.Time) {
	if t.IsZero() {
		return
	}
	sb.WriteString(t.UTC().Format(time.RFC3339Nano))
}

func writeValue(sb *strings.Builder, name string, v model.Value) {
	sb.WriteString(name)
	sb.WriteByte(':')
	sb.WriteString(v.Kind.String())
	sb.WriteByte(':')
	if v.Kind == model.KindList {
		sb.WriteString(strings.Join(v.List, "\x1f"))
	} else {
		sb.WriteString(v.String())
	}
	sb.WriteByte('\x1e')
}
