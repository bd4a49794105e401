package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calstats/internal/aggregate"
)

func vevent(uid, start, desc string) string {
	return strings.Join([]string{
		"BEGIN:VEVENT",
		"UID:" + uid,
		"DTSTAMP:20240101T000000Z",
		"DTSTART:" + start,
		"DESCRIPTION:" + desc,
		"END:VEVENT",
	}, "\r\n")
}

func calendar(events ...string) []byte {
	parts := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//calstats//test//EN"}, events...)
	parts = append(parts, "END:VCALENDAR", "")
	return []byte(strings.Join(parts, "\r\n"))
}

// writeLabCalendar writes a two-event calendar and returns its path.
func writeLabCalendar(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "lab.ics")
	require.NoError(t, os.WriteFile(path, calendar(
		vevent("a", "20240110T090000Z", `Kategorie: Workshop\nVeranstalter: UB\nTeilnehmer: 12`),
		vevent("b", "20240302T090000Z", `Kategorie: Tour\nVeranstalter: UB\nTeilnehmer: 30`),
	), 0o600))
	return path
}

// runApp runs the CLI with a config path that does not exist.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cfgPath := filepath.Join(t.TempDir(), "missing.yaml")
	argv := append([]string{"calstats", "--config", cfgPath, "--log-level", "error"}, args...)
	err := newCLIApp(&out).Run(argv)
	return out.String(), err
}

func TestAnalyzeJSON(t *testing.T) {
	path := writeLabCalendar(t, t.TempDir())

	out, err := runApp(t, "analyze", "--format", "json", "--no-expand", path)
	require.NoError(t, err)

	var got analysisJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Len(t, got.ID, 26)
	assert.Equal(t, 2, got.Rows)
	assert.Equal(t, 2, got.Quality.Input)
	assert.NotEmpty(t, got.Tables)
	assert.Empty(t, got.Errors)
}

func TestAnalyzeCustomView(t *testing.T) {
	path := writeLabCalendar(t, t.TempDir())

	out, err := runApp(t, "analyze", "--format", "json",
		"--group-by", "organiser", "--kind", "sum", "--field", "participant_count", path)
	require.NoError(t, err)

	var got analysisJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Tables, 1)
	st := got.Tables[0]
	assert.Equal(t, "custom", st.Name)
	assert.Equal(t, aggregate.BucketNone, st.Bucket)
	require.Len(t, st.Rows, 1)
	assert.Equal(t, []string{"UB"}, st.Rows[0].Keys)
	assert.InDelta(t, 42, st.Rows[0].Value, 1e-9)
}

func TestAnalyzeText(t *testing.T) {
	path := writeLabCalendar(t, t.TempDir())

	out, err := runApp(t, "analyze", "--group-by", "event_category", path)
	require.NoError(t, err)
	assert.Contains(t, out, "events read")
	assert.Contains(t, out, "custom")
	assert.Contains(t, out, "Workshop")
	assert.Contains(t, out, "2024-01-10 .. 2024-03-02")
}

func TestAnalyzeCSVToFile(t *testing.T) {
	dir := t.TempDir()
	path := writeLabCalendar(t, dir)
	dest := filepath.Join(dir, "out.csv")

	out, err := runApp(t, "analyze", "--format", "csv", "--output", dest, path)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "date,start,end"))
}

func TestAnalyzeErrors(t *testing.T) {
	path := writeLabCalendar(t, t.TempDir())

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no inputs", []string{"analyze"}, "no inputs"},
		{"unknown format", []string{"analyze", "--format", "xml", path}, "unknown format"},
		{"bad bucket", []string{"analyze", "--bucket", "fortnight", path}, "bucket"},
		{"bad date", []string{"analyze", "--from", "March", path}, "from"},
		{"no match", []string{"analyze", filepath.Join(t.TempDir(), "*.ics")}, "no files match"},
		{"unknown column", []string{"analyze", "--group-by", "colour", path}, "unknown column"},
		{"bad dedup policy", []string{"analyze", "--dedup", "keep", path}, "dedup policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFieldsCommand(t *testing.T) {
	out, err := runApp(t, "fields")
	require.NoError(t, err)
	assert.Contains(t, out, "schema v")
	assert.Contains(t, out, "participant_count")
	assert.Contains(t, out, "organiser")

	out, err = runApp(t, "fields", "--json")
	require.NoError(t, err)
	var got struct {
		Version int `json:"version"`
		Fields  []struct {
			Name string `json:"name"`
		} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.NotEmpty(t, got.Fields)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calstats.yaml")

	cfg, err := loadConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = loadConfig(path, true)
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestResolveInputs(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{"2024/jan.ics", "2024/feb/feb.ics", "notes.txt"} {
		full := filepath.Join(dir, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o700))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0o600))
	}

	got, err := resolveInputs([]string{
		filepath.Join(dir, "**", "*.ics"),
		filepath.Join(dir, "2024", "jan.ics"),
		"https://example.com/cal.ics",
	})
	require.NoError(t, err)
	require.Len(t, got, 3)

	var urls []string
	for _, s := range got {
		urls = append(urls, s.URL)
	}
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "2024", "jan.ics"),
		filepath.Join(dir, "2024", "feb", "feb.ics"),
		"https://example.com/cal.ics",
	}, urls)
	assert.Equal(t, "arg-3", got[2].ID)

	_, err = resolveInputs([]string{filepath.Join(dir, "*.ics")})
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", nil},
		{"single", "organiser", []string{"organiser"}},
		{"spaces and blanks", " organiser , ,event_category ", []string{"organiser", "event_category"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, splitList(tt.input))
		})
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		kind aggregate.Kind
		v    float64
		want string
	}{
		{aggregate.KindCount, 12, "12"},
		{aggregate.KindSum, 2.5, "2.5"},
		{aggregate.KindSum, 1.0 / 3, "0.3333"},
		{aggregate.KindMissingRatio, 0.25, "25%"},
		{aggregate.KindMissingRatio, 1.0 / 3, "33.3%"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatValue(tt.kind, tt.v), "%s %v", tt.kind, tt.v)
	}
}
