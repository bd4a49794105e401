package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calstats/internal/ics"
	"calstats/internal/model"
	"calstats/internal/schema"
	"calstats/internal/table"
)

func TestObserveFetch(t *testing.T) {
	m := New()
	src := ics.Source{ID: "lab"}
	m.ObserveFetch(src, false, nil)
	m.ObserveFetch(src, true, nil)
	m.ObserveFetch(src, false, errors.New("boom"))
	m.ObserveFetch(src, false, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.fetchTotal.WithLabelValues("lab", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchTotal.WithLabelValues("lab", "cached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchTotal.WithLabelValues("lab", "error")))
}

func TestObserveDataset(t *testing.T) {
	cs := schema.MustCompile(schema.Schema{
		Version: 1,
		Fields:  []schema.Field{{Name: "guests", Kind: schema.KindInt}},
	})
	b, err := table.NewBuilder(table.Options{Schema: cs})
	require.NoError(t, err)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.Add(model.Record{Date: day, Start: day, Values: []model.Value{model.MalformedValue("many")}})
	b.Add(model.Record{Date: day, Start: day, EmptyDescription: true, Values: []model.Value{model.Missing()}})
	b.Reject()
	ds := b.Build()

	m := New()
	m.ObserveDataset("upload", ds, 20*time.Millisecond)
	m.ObserveFailure("sources")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.eventsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rowsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejectedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emptyTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.malformedTotal.WithLabelValues("guests")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.analyses.WithLabelValues("upload", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.analyses.WithLabelValues("sources", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.lastRows))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "calstats_rows_total 2")
	assert.Contains(t, string(body), "calstats_analyze_duration_seconds_count 1")
}
