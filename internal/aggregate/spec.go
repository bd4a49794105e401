// Package aggregate computes SummaryTables from a Dataset.
//
// Grouping by a list-valued column explodes each row into one contribution
// per item, so the contributions of a table may exceed its event count;
// SummaryTable.Exploded reports when that happened. Rows with no value in a
// grouped column land in the unknown key, which always sorts last. Time
// buckets are contiguous: periods without events appear as zero rows.
package aggregate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Bucket is a time bucket granularity.
type Bucket string

const (
	BucketNone  Bucket = "none"
	BucketDay   Bucket = "day"
	BucketWeek  Bucket = "week"
	BucketMonth Bucket = "month"
	BucketYear  Bucket = "year"
)

// ParseBucket parses a granularity name. The empty string means none.
func ParseBucket(s string) (Bucket, error) {
	switch b := Bucket(strings.ToLower(strings.TrimSpace(s))); b {
	case "", BucketNone:
		return BucketNone, nil
	case BucketDay, BucketWeek, BucketMonth, BucketYear:
		return b, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrBadBucket, s)
	}
}

// Kind is the aggregation applied to each group.
type Kind string

const (
	// KindCount counts contributions.
	KindCount Kind = "count"
	// KindCountDistinct counts the distinct values of Field.
	KindCountDistinct Kind = "count_distinct"
	// KindSum sums the numeric column Field.
	KindSum Kind = "sum"
	// KindMissingRatio is the share of contributions lacking Field.
	KindMissingRatio Kind = "missing_ratio"
)

// ParseKind parses an aggregation kind name. The empty string means count.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindCount, nil
	case KindCount, KindCountDistinct, KindSum, KindMissingRatio:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrBadKind, s)
	}
}

// Order sorts categorical keys.
type Order string

const (
	// OrderCountDesc puts the keys with most contributions first; ties keep
	// first-seen order.
	OrderCountDesc Order = "count_desc"
	// OrderFirstSeen keeps the order in which keys first occur.
	OrderFirstSeen Order = "first_seen"
	// OrderKey sorts keys alphabetically.
	OrderKey Order = "key"
)

// DefaultUnknownLabel names the group of rows lacking a grouped value.
const DefaultUnknownLabel = "unknown"

var (
	ErrUnknownColumn = errors.New("aggregate: unknown column")
	ErrBadBucket     = errors.New("aggregate: unknown bucket granularity")
	ErrBadKind       = errors.New("aggregate: unknown aggregation kind")
	ErrBadOrder      = errors.New("aggregate: unknown key order")
	ErrFieldRequired = errors.New("aggregate: aggregation kind needs a target field")
	ErrNotNumeric    = errors.New("aggregate: sum needs a numeric field")
	ErrEmptyRange    = errors.New("aggregate: empty date range")
)

// Spec describes one aggregation.
type Spec struct {
	// Name and Title label the view; they are copied to the table.
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	Title string `yaml:"title,omitempty" json:"title,omitempty"`

	// GroupBy lists the columns to group by. Empty means one overall group
	// (per bucket).
	GroupBy []string `yaml:"group_by,omitempty" json:"group_by,omitempty"`
	// Presence groups by whether the grouped columns have a value
	// ("yes"/"no") instead of by the value itself.
	Presence bool   `yaml:"presence,omitempty" json:"presence,omitempty"`
	Bucket   Bucket `yaml:"bucket,omitempty" json:"bucket,omitempty"`

	Kind  Kind   `yaml:"kind,omitempty" json:"kind,omitempty"`
	Field string `yaml:"field,omitempty" json:"field,omitempty"`

	// From and To bound row dates, both inclusive. Zero means open.
	From time.Time `yaml:"-" json:"from,omitzero"`
	To   time.Time `yaml:"-" json:"to,omitzero"`

	WeekStart time.Weekday `yaml:"-" json:"-"`
	Order     Order        `yaml:"order,omitempty" json:"order,omitempty"`
	// TopK keeps the first TopK values of the first grouped column after
	// ordering. Zero keeps all.
	TopK         int    `yaml:"top_k,omitempty" json:"top_k,omitempty"`
	UnknownLabel string `yaml:"unknown_label,omitempty" json:"unknown_label,omitempty"`
}

func (s *Spec) normalize() error {
	var err error
	if s.Bucket, err = ParseBucket(string(s.Bucket)); err != nil {
		return err
	}
	if s.Kind, err = ParseKind(string(s.Kind)); err != nil {
		return err
	}
	switch s.Order {
	case "":
		s.Order = OrderCountDesc
	case OrderCountDesc, OrderFirstSeen, OrderKey:
	default:
		return fmt.Errorf("%w: %q", ErrBadOrder, s.Order)
	}
	if s.Kind != KindCount && s.Field == "" {
		return fmt.Errorf("%w: %s", ErrFieldRequired, s.Kind)
	}
	if s.TopK < 0 {
		s.TopK = 0
	}
	if s.UnknownLabel == "" {
		s.UnknownLabel = DefaultUnknownLabel
	}
	if !s.To.IsZero() && !s.From.IsZero() && dateKey(s.To) < dateKey(s.From) {
		return ErrEmptyRange
	}
	return nil
}

// Row is one line of a SummaryTable.
type Row struct {
	// Keys holds one value per grouped column.
	Keys []string `json:"keys,omitempty"`
	// Bucket is the bucket label: "2024", "2024-02", or the first day for
	// day and week buckets. Start is the first day of the bucket.
	Bucket string    `json:"bucket,omitempty"`
	Start  time.Time `json:"start,omitzero"`

	Value float64 `json:"value"`
	// Contributions is the number of (row, key) pairs that fed this line.
	Contributions int `json:"contributions"`
	// Unknown marks rows where a key stands for missing values rather
	// than a value equal to the unknown label.
	Unknown bool `json:"unknown,omitempty"`
}

// Label joins keys and bucket for display.
func (r Row) Label() string {
	parts := append([]string(nil), r.Keys...)
	if r.Bucket != "" {
		parts = append([]string{r.Bucket}, parts...)
	}
	return strings.Join(parts, " / ")
}

// SummaryTable is the ordered result of an aggregation plus the metadata a
// chart needs to label it.
type SummaryTable struct {
	Name    string   `json:"name,omitempty"`
	Title   string   `json:"title,omitempty"`
	GroupBy []string `json:"group_by,omitempty"`
	Bucket  Bucket   `json:"bucket"`
	Kind    Kind     `json:"kind"`
	Field   string   `json:"field,omitempty"`

	// From and To are the effective date range.
	From time.Time `json:"from,omitzero"`
	To   time.Time `json:"to,omitzero"`

	// Events is the number of rows that passed the filters.
	Events int `json:"events"`
	// Contributions counts (row, key) pairs. It exceeds Events when a
	// list-valued column was exploded.
	Contributions int  `json:"contributions"`
	Exploded      bool `json:"exploded"`
	// Missing counts rows without a usable value: in a grouped column for
	// count, in Field for the other kinds.
	Missing int `json:"missing"`
	// Omitted is the number of first-column keys cut by TopK.
	Omitted      int    `json:"omitted,omitempty"`
	UnknownLabel string `json:"unknown_label"`

	Rows []Row `json:"rows"`
}

// Total sums the row values.
func (t SummaryTable) Total() float64 {
	var n float64
	for _, r := range t.Rows {
		n += r.Value
	}
	return n
}
