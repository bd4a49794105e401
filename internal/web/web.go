package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"calstats/internal/capture"
	"calstats/internal/config"
	"calstats/internal/ics"
	appLog "calstats/internal/log"
	"calstats/internal/metrics"
	"calstats/internal/pipeline"
	"calstats/internal/schema"
)

// sourcesCacheTTL bounds how long a configured-sources analysis is reused
// by request handlers. The cron refresh in cmd/calstats replaces it too.
const sourcesCacheTTL = 30 * time.Second

// maxUploadBytes bounds a multipart upload.
const maxUploadBytes = 64 << 20

// CaptureFunc renders a page to PNG.
type CaptureFunc func(ctx context.Context, opts capture.CaptureOptions) ([]byte, error)

// Server serves the analysis API, the HTML report and metrics.
type Server struct {
	cfg     *config.Config
	schema  *schema.Schema
	mux     *http.ServeMux
	metrics *metrics.Metrics
	fetcher *ics.Fetcher
	capture CaptureFunc
	now     func() time.Time

	// Latest analysis of the configured sources.
	snapMu sync.RWMutex
	snap   *snapshot

	// refreshMu serializes source refreshes.
	refreshMu sync.Mutex
}

// NewServer constructs a new Server. m may be nil.
func NewServer(cfg *config.Config, m *metrics.Metrics) (*Server, error) {
	cs, err := schema.Compile(cfg.Schema)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.New()
	}
	f := ics.NewFetcher(cfg.CacheDir, 0)
	f.Observe = m.ObserveFetch

	s := &Server{
		cfg:     cfg,
		schema:  cs,
		mux:     http.NewServeMux(),
		metrics: m,
		fetcher: f,
		capture: capture.CaptureReportPNG,
		now:     time.Now,
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve runs the HTTP server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/fields", s.handleFields)
	s.mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/dataset.csv", s.handleUploadCSV)
	s.mux.HandleFunc("GET /api/dataset.csv", s.handleSourcesCSV)
	s.mux.HandleFunc("GET /report", s.handleReport)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/report", http.StatusFound)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleFields lists the schema the server decodes with.
func (s *Server) handleFields(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, fieldsResponse{
		Version: s.schema.Version,
		Fields:  s.schema.Fields,
	})
}

type fieldsResponse struct {
	Version int            `json:"version"`
	Fields  []schema.Field `json:"fields"`
}

// handlePreview serves the last captured report PNG. With ?refresh=1 it
// captures a new one first.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "1" {
		if _, err := s.Capture(r.Context()); err != nil {
			appLog.Error("preview capture failed", err)
			writeError(w, http.StatusBadGateway, "capture failed")
			return
		}
	}
	http.ServeFile(w, r, s.cfg.Capture.OutputPath)
}

// Capture renders this server's /report page to cfg.Capture.OutputPath.
func (s *Server) Capture(ctx context.Context) ([]byte, error) {
	host := s.cfg.Listen
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	opts := capture.CaptureOptions{
		URL:        "http://" + host + "/report",
		OutputPath: s.cfg.Capture.OutputPath,
		Width:      s.cfg.Capture.Width,
		Height:     s.cfg.Capture.Height,
		Timeout:    time.Duration(s.cfg.Capture.TimeoutSec) * time.Second,
	}
	return s.capture(ctx, opts)
}

func (s *Server) pipelineOptions() pipeline.Options {
	return pipeline.FromConfig(s.cfg, s.schema, s.now())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// errorStrings flattens errors for JSON responses.
func errorStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}
