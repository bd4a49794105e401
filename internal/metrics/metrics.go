// Package metrics exposes Prometheus counters for fetches and analyses.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calstats/internal/ics"
	"calstats/internal/table"
)

// Metrics owns a registry so that several instances (tests, embedded
// servers) never collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	fetchTotal      *prometheus.CounterVec
	eventsTotal     prometheus.Counter
	rowsTotal       prometheus.Counter
	rejectedTotal   prometheus.Counter
	duplicatesTotal prometheus.Counter
	emptyTotal      prometheus.Counter
	malformedTotal  *prometheus.CounterVec
	analyses        *prometheus.CounterVec
	analyzeDur      prometheus.Histogram
	lastRows        prometheus.Gauge
	lastSuccessTS   prometheus.Gauge
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calstats",
		Name:      "ics_fetch_total",
		Help:      "ICS fetch attempts by source and result (ok, cached, error)",
	}, []string{"source", "result"})
	m.eventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "calstats",
		Name:      "events_total",
		Help:      "Events fed into the analysis",
	})
	m.rowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "calstats",
		Name:      "rows_total",
		Help:      "Dataset rows produced",
	})
	m.rejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "calstats",
		Name:      "events_rejected_total",
		Help:      "Events dropped for lacking a start timestamp",
	})
	m.duplicatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "calstats",
		Name:      "events_duplicate_total",
		Help:      "Events whose content key repeated",
	})
	m.emptyTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "calstats",
		Name:      "events_empty_description_total",
		Help:      "Events whose description held no fields",
	})
	m.malformedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calstats",
		Name:      "values_malformed_total",
		Help:      "Values that did not parse as their field's kind",
	}, []string{"column"})
	m.analyses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calstats",
		Name:      "analyses_total",
		Help:      "Analysis runs by origin (upload, sources, cli) and status",
	}, []string{"origin", "status"})
	m.analyzeDur = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "calstats",
		Name:      "analyze_duration_seconds",
		Help:      "Time spent building a dataset and its summary tables",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})
	m.lastRows = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "calstats",
		Name:      "last_dataset_rows",
		Help:      "Rows in the most recent dataset",
	})
	m.lastSuccessTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "calstats",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful analysis",
	})

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fetchTotal, m.eventsTotal, m.rowsTotal, m.rejectedTotal,
		m.duplicatesTotal, m.emptyTotal, m.malformedTotal,
		m.analyses, m.analyzeDur, m.lastRows, m.lastSuccessTS,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveFetch matches the ics.Fetcher Observe hook.
func (m *Metrics) ObserveFetch(src ics.Source, fromCache bool, err error) {
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case fromCache:
		result = "cached"
	}
	m.fetchTotal.WithLabelValues(src.ID, result).Inc()
}

// ObserveDataset records the quality counters of a finished dataset.
func (m *Metrics) ObserveDataset(origin string, ds *table.Dataset, took time.Duration) {
	q := ds.Quality()
	m.eventsTotal.Add(float64(q.Input))
	m.rowsTotal.Add(float64(ds.Len()))
	m.rejectedTotal.Add(float64(q.Rejected))
	m.duplicatesTotal.Add(float64(q.Duplicates))
	m.emptyTotal.Add(float64(q.EmptyDescriptions))
	for col, n := range q.Malformed {
		m.malformedTotal.WithLabelValues(col).Add(float64(n))
	}
	m.analyses.WithLabelValues(origin, "ok").Inc()
	m.analyzeDur.Observe(took.Seconds())
	m.lastRows.Set(float64(ds.Len()))
	m.lastSuccessTS.Set(float64(time.Now().Unix()))
}

// ObserveFailure counts an analysis that produced no dataset.
func (m *Metrics) ObserveFailure(origin string) {
	m.analyses.WithLabelValues(origin, "error").Inc()
}
