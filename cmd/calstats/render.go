package main

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"

	"calstats/internal/aggregate"
	"calstats/internal/schema"
)

var (
	styleTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")) // cyan
	styleFaint  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))           // gray
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))           // yellow
	styleHeader = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	styleCell   = lipgloss.NewStyle().Padding(0, 1)
	styleNumber = styleCell.Align(lipgloss.Right)
	styleBorder = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// renderAnalysis renders the analyze result for a terminal.
func renderAnalysis(a analysis) string {
	ds := a.Result.Dataset
	q := ds.Quality()

	var b strings.Builder
	b.WriteString(styleTitle.Render("calstats " + a.ID))
	b.WriteByte('\n')

	span := "no dated rows"
	if first, last, ok := ds.DateRange(); ok {
		span = first.Format("2006-01-02") + " .. " + last.Format("2006-01-02")
	}
	b.WriteString(styleFaint.Render(fmt.Sprintf("%d rows · schema v%d · %s · %s",
		ds.Len(), ds.SchemaVersion(), a.Location.String(), span)))
	b.WriteString("\n\n")

	quality := [][]string{
		{"events read", strconv.Itoa(q.Input)},
		{"rejected", strconv.Itoa(q.Rejected)},
		{"empty descriptions", strconv.Itoa(q.EmptyDescriptions)},
		{"duplicates", strconv.Itoa(q.Duplicates)},
	}
	cols := make([]string, 0, len(q.Malformed))
	for c := range q.Malformed {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, c := range cols {
		quality = append(quality, []string{"malformed " + c, strconv.Itoa(q.Malformed[c])})
	}
	b.WriteString(newTable([]string{"quality", "n"}, quality, 1).String())
	b.WriteByte('\n')

	if n := len(a.Result.Truncated); n > 0 {
		b.WriteString(styleWarn.Render(fmt.Sprintf("%d recurring series hit the occurrence cap", n)))
		b.WriteByte('\n')
	}
	for _, e := range a.Errors {
		b.WriteString(styleWarn.Render("skipped: " + e.Error()))
		b.WriteByte('\n')
	}

	for _, t := range a.Tables {
		b.WriteByte('\n')
		b.WriteString(renderSummary(t))
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderSummary renders one summary table with a caption and a footer.
func renderSummary(t aggregate.SummaryTable) string {
	title := t.Title
	if title == "" {
		title = t.Name
	}

	var headers []string
	bucketed := t.Bucket != "" && t.Bucket != aggregate.BucketNone
	if bucketed {
		headers = append(headers, string(t.Bucket))
	}
	headers = append(headers, t.GroupBy...)
	valueHeader := string(t.Kind)
	if t.Field != "" {
		valueHeader += "(" + t.Field + ")"
	}
	headers = append(headers, valueHeader, "n")

	rows := make([][]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		var line []string
		if bucketed {
			line = append(line, r.Bucket)
		}
		line = append(line, r.Keys...)
		line = append(line, formatValue(t.Kind, r.Value), strconv.Itoa(r.Contributions))
		rows = append(rows, line)
	}

	var b strings.Builder
	b.WriteString(styleTitle.Render(title))
	b.WriteByte('\n')
	b.WriteString(newTable(headers, rows, 2).String())
	b.WriteByte('\n')

	foot := fmt.Sprintf("events %d · contributions %d · missing %d", t.Events, t.Contributions, t.Missing)
	if t.Omitted > 0 {
		foot += fmt.Sprintf(" · %d more keys omitted", t.Omitted)
	}
	if !t.From.IsZero() {
		foot += " · " + t.From.Format("2006-01-02") + " .. " + t.To.Format("2006-01-02")
	}
	b.WriteString(styleFaint.Render(foot))
	b.WriteByte('\n')
	return b.String()
}

// renderFields lists the fields of a compiled schema.
func renderFields(s *schema.Schema) string {
	rows := make([][]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		var notes []string
		if f.Separators != "" {
			notes = append(notes, "separators "+strconv.Quote(f.Separators))
		}
		if f.Range != "" {
			notes = append(notes, "range "+string(f.Range))
		}
		if n := len(f.Labels); n > 0 {
			notes = append(notes, fmt.Sprintf("%d label rules", n))
		}
		if f.Detail != "" {
			notes = append(notes, "detail "+f.Detail)
		}
		rows = append(rows, []string{f.Name, string(f.Kind), strings.Join(f.Aliases, ", "), strings.Join(notes, "; ")})
	}
	title := styleTitle.Render(fmt.Sprintf("schema v%d", s.Version))
	return title + "\n" + newTable([]string{"field", "kind", "aliases", "notes"}, rows, 0).String()
}

// newTable builds a bordered table whose last numeric columns are right
// aligned.
func newTable(headers []string, rows [][]string, numeric int) *ltable.Table {
	first := len(headers) - numeric
	return ltable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleBorder).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == ltable.HeaderRow:
				return styleHeader
			case col >= first:
				return styleNumber
			default:
				return styleCell
			}
		}).
		Headers(headers...).
		Rows(rows...)
}

// formatValue prints counts as integers and other values with up to four
// decimals.
func formatValue(k aggregate.Kind, v float64) string {
	if k == aggregate.KindMissingRatio {
		return strconv.FormatFloat(math.Round(v*1000)/10, 'f', -1, 64) + "%"
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(math.Round(v*1e4)/1e4, 'f', -1, 64)
}
