package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"calstats/internal/aggregate"
	"calstats/internal/ics"
	appLog "calstats/internal/log"
	"calstats/internal/pipeline"
	"calstats/internal/report"
	"calstats/internal/table"
)

// snapshot is one analysis of the configured sources.
type snapshot struct {
	id   string
	at   time.Time
	res  pipeline.Result
	errs []error
}

// analysisResponse is the JSON shape of /api/analyze and /api/events.
type analysisResponse struct {
	ID            string                   `json:"id"`
	GeneratedAt   time.Time                `json:"generated_at"`
	Timezone      string                   `json:"timezone"`
	SchemaVersion int                      `json:"schema_version"`
	Rows          int                      `json:"rows"`
	Quality       table.Quality            `json:"quality"`
	Columns       []table.Column           `json:"columns"`
	TruncatedUIDs []string                 `json:"truncated_uids,omitempty"`
	Errors        []string                 `json:"errors,omitempty"`
	Tables        []aggregate.SummaryTable `json:"tables"`
}

// Refresh fetches and analyzes the configured sources and replaces the
// cached snapshot.
func (s *Server) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	_, err := s.refreshLocked(ctx)
	return err
}

func (s *Server) refreshLocked(ctx context.Context) (*snapshot, error) {
	start := time.Now()
	sources := pipeline.Sources(s.cfg)
	res, errs := pipeline.FromSources(ctx, s.fetcher, sources, s.pipelineOptions())
	if res.Dataset == nil {
		s.metrics.ObserveFailure("sources")
		return nil, fmt.Errorf("web: refresh: %w", errors.Join(errs...))
	}
	s.metrics.ObserveDataset("sources", res.Dataset, time.Since(start))

	snap := &snapshot{id: ulid.Make().String(), at: s.now(), res: res, errs: errs}
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()

	q := res.Dataset.Quality()
	appLog.Info("sources refreshed",
		"id", snap.id,
		"sources", len(sources),
		"rows", res.Dataset.Len(),
		"rejected", q.Rejected,
		"duplicates", q.Duplicates,
		"errors", len(errs),
		"took", time.Since(start).String(),
	)
	return snap, nil
}

// current returns a snapshot younger than sourcesCacheTTL, refreshing when
// needed.
func (s *Server) current(ctx context.Context) (*snapshot, error) {
	fresh := func() *snapshot {
		s.snapMu.RLock()
		defer s.snapMu.RUnlock()
		if s.snap != nil && s.now().Sub(s.snap.at) < sourcesCacheTTL {
			return s.snap
		}
		return nil
	}
	if snap := fresh(); snap != nil {
		return snap, nil
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if snap := fresh(); snap != nil {
		return snap, nil
	}
	return s.refreshLocked(ctx)
}

// handleAnalyze analyzes uploaded .ics files (multipart field "file", may
// repeat). Each file is analyzed on its own and the datasets are
// concatenated, so duplicates across files are caught by the dedup key.
//
// Query parameters select the summary tables, see viewOptions.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	vopts, err := s.viewOptions(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, status, err := s.analyzeUpload(w, r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	id := ulid.Make().String()
	s.respondAnalysis(w, id, res, nil, vopts)
}

// handleEvents analyzes the configured sources.
//
// GET /api/events?bucket=month&from=2024-01&to=2024-06&group_by=organiser
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	vopts, err := s.viewOptions(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.current(r.Context())
	if err != nil {
		appLog.Error("api events: refresh failed", err)
		writeError(w, http.StatusBadGateway, "failed to load calendar sources")
		return
	}
	s.respondAnalysis(w, snap.id, snap.res, snap.errs, vopts)
}

func (s *Server) respondAnalysis(w http.ResponseWriter, id string, res pipeline.Result, errs []error, vopts pipeline.ViewOptions) {
	ds := res.Dataset
	tables, err := pipeline.Summaries(ds, s.schema, vopts)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, analysisResponse{
		ID:            id,
		GeneratedAt:   s.now(),
		Timezone:      s.cfg.Location().String(),
		SchemaVersion: ds.SchemaVersion(),
		Rows:          ds.Len(),
		Quality:       ds.Quality(),
		Columns:       ds.Columns(),
		TruncatedUIDs: res.Truncated,
		Errors:        errorStrings(errs),
		Tables:        tables,
	})
}

// handleUploadCSV exports the dataset of uploaded .ics files as CSV.
func (s *Server) handleUploadCSV(w http.ResponseWriter, r *http.Request) {
	res, status, err := s.analyzeUpload(w, r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeCSV(w, "calstats-"+ulid.Make().String()+".csv", res.Dataset)
}

// handleSourcesCSV exports the dataset of the configured sources as CSV.
func (s *Server) handleSourcesCSV(w http.ResponseWriter, r *http.Request) {
	snap, err := s.current(r.Context())
	if err != nil {
		appLog.Error("dataset export: refresh failed", err)
		writeError(w, http.StatusBadGateway, "failed to load calendar sources")
		return
	}
	writeCSV(w, "calstats-"+snap.id+".csv", snap.res.Dataset)
}

func writeCSV(w http.ResponseWriter, name string, ds *table.Dataset) {
	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, ds); err != nil {
		appLog.Error("dataset export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export dataset")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleReport renders the HTML report of the configured sources.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	vopts, err := s.viewOptions(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap, err := s.current(r.Context())
	if err != nil {
		appLog.Error("report: refresh failed", err)
		http.Error(w, "failed to load calendar sources", http.StatusBadGateway)
		return
	}
	tables, err := pipeline.Summaries(snap.res.Dataset, s.schema, vopts)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	page, err := report.NewPage("Calendar statistics", snap.res.Dataset, tables)
	if err != nil {
		appLog.Error("report: build failed", err)
		http.Error(w, "failed to build report", http.StatusInternalServerError)
		return
	}
	page.ID = snap.id
	page.GeneratedAt = snap.at
	page.Timezone = s.cfg.Location().String()
	page.Truncated = snap.res.Truncated

	var buf bytes.Buffer
	if err := report.WriteHTML(&buf, page); err != nil {
		appLog.Error("report: render failed", err)
		http.Error(w, "failed to render report", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// analyzeUpload parses and analyzes the uploaded files. The returned
// status is meaningful only with a non-nil error.
func (s *Server) analyzeUpload(w http.ResponseWriter, r *http.Request) (pipeline.Result, int, error) {
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return pipeline.Result{}, http.StatusBadRequest, fmt.Errorf("invalid multipart upload: %w", err)
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		return pipeline.Result{}, http.StatusBadRequest, errors.New(`no file uploaded (multipart field "file")`)
	}

	opts := s.pipelineOptions()
	var out pipeline.Result
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return pipeline.Result{}, http.StatusBadRequest, err
		}
		body, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return pipeline.Result{}, http.StatusBadRequest, err
		}

		src := ics.Source{ID: fh.Filename, Name: fh.Filename}
		events, err := ics.ParseICS(src, body, opts.Location)
		if err != nil {
			s.metrics.ObserveFailure("upload")
			return pipeline.Result{}, http.StatusUnprocessableEntity, err
		}
		res, err := pipeline.Run(events, opts)
		if err != nil {
			s.metrics.ObserveFailure("upload")
			return pipeline.Result{}, http.StatusInternalServerError, err
		}
		out.Dataset = table.Concat(out.Dataset, res.Dataset)
		out.Truncated = append(out.Truncated, res.Truncated...)
	}

	s.metrics.ObserveDataset("upload", out.Dataset, time.Since(start))
	appLog.Info("upload analyzed", "files", len(files), "rows", out.Dataset.Len())
	return out, http.StatusOK, nil
}

// viewOptions reads the view selection from query parameters:
//
//	bucket    none, day, week, month or year (default from config)
//	from, to  YYYY-MM-DD or YYYY-MM; snapped to whole months
//	top_k     overrides the limit of top-k views
//	group_by  comma separated columns; replaces the view set by one custom
//	          view, together with kind, field, presence and order
func (s *Server) viewOptions(q url.Values) (pipeline.ViewOptions, error) {
	opts := pipeline.ViewsFromConfig(s.cfg)
	loc := s.cfg.Location()

	if v := q.Get("bucket"); v != "" {
		b, err := aggregate.ParseBucket(v)
		if err != nil {
			return opts, err
		}
		opts.Bucket = b
	}
	var err error
	if opts.From, err = pipeline.ParseDate(q.Get("from"), loc); err != nil {
		return opts, fmt.Errorf("from: %w", err)
	}
	if opts.To, err = pipeline.ParseDate(q.Get("to"), loc); err != nil {
		return opts, fmt.Errorf("to: %w", err)
	}
	if v := q.Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("top_k: invalid value %q", v)
		}
		opts.TopK = n
	}

	if q.Has("group_by") || q.Has("kind") {
		spec := aggregate.Spec{
			Name:     "custom",
			Bucket:   opts.Bucket,
			Kind:     aggregate.Kind(q.Get("kind")),
			Field:    q.Get("field"),
			Presence: q.Get("presence") == "1" || q.Get("presence") == "true",
			Order:    aggregate.Order(q.Get("order")),
			TopK:     opts.TopK,
		}
		if q.Get("bucket") == "" {
			spec.Bucket = aggregate.BucketNone
		}
		for _, c := range strings.Split(q.Get("group_by"), ",") {
			if c = strings.TrimSpace(c); c != "" {
				spec.GroupBy = append(spec.GroupBy, c)
			}
		}
		opts.Views = []aggregate.Spec{spec}
	}
	return opts, nil
}

// statusFor maps aggregation errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, aggregate.ErrUnknownColumn),
		errors.Is(err, aggregate.ErrBadBucket),
		errors.Is(err, aggregate.ErrBadKind),
		errors.Is(err, aggregate.ErrBadOrder),
		errors.Is(err, aggregate.ErrFieldRequired),
		errors.Is(err, aggregate.ErrNotNumeric),
		errors.Is(err, aggregate.ErrEmptyRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
