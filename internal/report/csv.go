package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"calstats/internal/model"
	"calstats/internal/table"
)

// metaColumns precede the dataset columns in the CSV export.
var metaColumns = []string{"date", "start", "end", "all_day", "source", "uid", "summary", "duplicate"}

// ListSeparator joins list items inside one CSV cell.
const ListSeparator = "; "

// WriteCSV writes one line per row: the row metadata, then every dataset
// column. Missing cells are empty, list items are joined with
// ListSeparator, and malformed values keep their raw text.
func WriteCSV(w io.Writer, ds *table.Dataset) error {
	cw := csv.NewWriter(w)
	cols := ds.Columns()

	header := make([]string, 0, len(metaColumns)+len(cols))
	header = append(header, metaColumns...)
	for _, c := range cols {
		header = append(header, c.Name)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("report: csv: %w", err)
	}

	line := make([]string, len(header))
	for r := 0; r < ds.Len(); r++ {
		m := ds.Row(r)
		line[0] = m.Date.Format("2006-01-02")
		line[1] = formatTime(m.Start, m.HasTime)
		line[2] = formatTime(m.End, m.HasTime)
		line[3] = strconv.FormatBool(!m.HasTime)
		line[4] = m.Source
		line[5] = m.UID
		line[6] = m.Summary
		line[7] = strconv.FormatBool(m.Duplicate)
		for c := range cols {
			line[len(metaColumns)+c] = cell(ds.Value(r, c))
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("report: csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: csv: %w", err)
	}
	return nil
}

func formatTime(t time.Time, hasTime bool) string {
	switch {
	case t.IsZero():
		return ""
	case hasTime:
		return t.Format(time.RFC3339)
	default:
		return t.Format("2006-01-02")
	}
}

func cell(v model.Value) string {
	switch {
	case v.IsMissing():
		return ""
	case v.Malformed:
		return v.Raw
	case v.Kind == model.KindList:
		return strings.Join(v.List, ListSeparator)
	default:
		return v.String()
	}
}
