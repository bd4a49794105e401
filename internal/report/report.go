// Package report renders a Dataset and its summary tables as an HTML page
// and exports the Dataset as CSV.
package report

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"math"
	"strconv"
	"time"

	"calstats/internal/aggregate"
	"calstats/internal/table"
)

//go:embed templates/report.html
var templateFS embed.FS

var pageTmpl = template.Must(template.New("report.html").Funcs(template.FuncMap{
	"num":     formatNumber,
	"percent": func(f float64) string { return strconv.FormatFloat(f*100, 'f', 1, 64) + "%" },
	"date":    func(t time.Time) string { return t.Format("2006-01-02") },
	"width":   barWidth,
}).ParseFS(templateFS, "templates/report.html"))

// Page is the data behind the report template.
type Page struct {
	Title       string
	GeneratedAt time.Time
	Timezone    string
	// ID identifies the analysis (upload or refresh) that produced the page.
	ID            string
	SchemaVersion int
	Sources       []string
	Rows          int
	From, To      time.Time
	Quality       table.Quality
	Truncated     []string
	Fields        []aggregate.FieldStats
	Tables        []aggregate.SummaryTable
}

// NewPage collects the field statistics of ds next to the given tables.
// Every dataset column is described, extras included.
func NewPage(title string, ds *table.Dataset, tables []aggregate.SummaryTable) (Page, error) {
	p := Page{
		Title:         title,
		GeneratedAt:   time.Now(),
		SchemaVersion: ds.SchemaVersion(),
		Rows:          ds.Len(),
		Quality:       ds.Quality(),
		Tables:        tables,
	}
	if first, last, ok := ds.DateRange(); ok {
		p.From, p.To = first, last
	}
	seen := map[string]bool{}
	for r := 0; r < ds.Len(); r++ {
		if src := ds.Row(r).Source; src != "" && !seen[src] {
			seen[src] = true
			p.Sources = append(p.Sources, src)
		}
	}
	for _, c := range ds.Columns() {
		st, err := aggregate.Describe(ds, c.Name)
		if err != nil {
			return Page{}, fmt.Errorf("report: %w", err)
		}
		p.Fields = append(p.Fields, st)
	}
	return p, nil
}

// WriteHTML renders p. The root element carries data-ready="true" once
// the page is complete, which the PNG capture waits for.
func WriteHTML(w io.Writer, p Page) error {
	if err := pageTmpl.Execute(w, p); err != nil {
		return fmt.Errorf("report: render: %w", err)
	}
	return nil
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// barWidth scales v against the largest row value of t, in percent.
func barWidth(t aggregate.SummaryTable, v float64) string {
	maxV := 0.0
	for _, r := range t.Rows {
		maxV = math.Max(maxV, r.Value)
	}
	if maxV <= 0 || v <= 0 {
		return "0"
	}
	return strconv.FormatFloat(v/maxV*100, 'f', 1, 64)
}
