package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/oklog/ulid/v2"
	"github.com/urfave/cli/v2"

	"calstats/internal/aggregate"
	"calstats/internal/config"
	"calstats/internal/ics"
	appLog "calstats/internal/log"
	"calstats/internal/metrics"
	"calstats/internal/pipeline"
	"calstats/internal/report"
	"calstats/internal/schema"
	"calstats/internal/table"
	"calstats/internal/web"
)

const defaultConfigPath = "/etc/calstats/config.yaml"

// newCLIApp creates the CLI application with all commands. Command output
// goes to out; logs go to stderr.
func newCLIApp(out io.Writer) *cli.App {
	app := &cli.App{
		Name:    "calstats",
		Usage:   "Statistics over key-value fields in calendar event descriptions",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: defaultConfigPath, EnvVars: []string{"CALSTATS_CONFIG"}, Usage: "Path to config file"},
			&cli.StringFlag{Name: "log-level", Usage: "debug|info|warn|error (overrides config)"},
			&cli.BoolFlag{Name: "log-json", Usage: "Write logs as JSON"},
		},
		Before: func(c *cli.Context) error {
			appLog.Init(os.Stderr, c.Bool("log-json"), appLog.ParseLevel(c.String("log-level")))
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(),
			analyzeCmd(out),
			fieldsCmd(out),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd creates the serve command.
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server and refresh the configured sources on schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config if set)"},
			&cli.BoolFlag{Name: "once", Usage: "Refresh the configured sources once and exit"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"), true)
			if err != nil {
				return outputError(err)
			}
			if l := c.String("listen"); l != "" {
				cfg.Listen = l
			}
			initLogging(c, cfg)

			appLog.Info("effective config",
				"version", Version,
				"listen", cfg.Listen,
				"timezone", cfg.Timezone,
				"refresh", cfg.RefreshCron,
				"ics_count", len(cfg.ICS),
				"expand", !cfg.Expand.Disabled,
				"capture", cfg.Capture.Enabled,
				"once", c.Bool("once"),
			)

			// Root context with cancellation on SIGINT/SIGTERM.
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			go func() {
				select {
				case sig := <-sigCh:
					appLog.Info("signal received, shutting down", "signal", sig.String())
					cancel()
				case <-ctx.Done():
				}
			}()

			srv, err := web.NewServer(cfg, metrics.New())
			if err != nil {
				return outputError(err)
			}

			if c.Bool("once") {
				if err := srv.Refresh(ctx); err != nil {
					return outputError(err)
				}
				return nil
			}

			sched, err := newScheduler(ctx, cfg, srv)
			if err != nil {
				return outputError(err)
			}
			sched.Start()
			defer func() { <-sched.Stop().Done() }()

			go func() {
				if err := srv.Refresh(ctx); err != nil {
					appLog.Error("initial refresh failed", err)
				}
			}()

			if err := srv.Serve(ctx); err != nil {
				return outputError(err)
			}
			appLog.Info("calstats exiting")
			return nil
		},
	}
}

// analyzeCmd creates the analyze command.
func analyzeCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Analyze .ics files, globs or URLs (default: the configured sources)",
		ArgsUsage: "[file|glob|url ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "text", Usage: "Output format: text|json|csv|html"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write to file instead of stdout"},
			&cli.StringFlag{Name: "bucket", Aliases: []string{"b"}, Usage: "Time bucket: none|day|week|month|year"},
			&cli.StringFlag{Name: "from", Usage: "First month or day (YYYY-MM or YYYY-MM-DD)"},
			&cli.StringFlag{Name: "to", Usage: "Last month or day (YYYY-MM or YYYY-MM-DD)"},
			&cli.StringFlag{Name: "group-by", Aliases: []string{"g"}, Usage: "Comma-separated columns for a single custom view"},
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Aggregation for the custom view: count|sum|count_distinct|missing_ratio"},
			&cli.StringFlag{Name: "field", Usage: "Target field for sum, count_distinct and missing_ratio"},
			&cli.BoolFlag{Name: "presence", Usage: "Group by presence of the grouped value instead of the value"},
			&cli.StringFlag{Name: "order", Usage: "Key order: count_desc|first_seen|key"},
			&cli.IntFlag{Name: "top-k", Usage: "Keep only the first N keys of the first grouped column"},
			&cli.StringFlag{Name: "dedup", Usage: "Duplicate policy: drop|flag (overrides config)"},
			&cli.BoolFlag{Name: "no-expand", Usage: "Do not expand recurring events"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"), false)
			if err != nil {
				return outputError(err)
			}
			initLogging(c, cfg)
			if c.Bool("no-expand") {
				cfg.Expand.Disabled = true
			}
			if p := c.String("dedup"); p != "" {
				cfg.Dedup.Policy = table.Policy(strings.ToLower(p))
			}

			format := strings.ToLower(c.String("format"))
			switch format {
			case "text", "json", "csv", "html":
			default:
				return outputError(fmt.Errorf("unknown format %q", format))
			}

			sources := pipeline.Sources(cfg)
			if c.NArg() > 0 {
				if sources, err = resolveInputs(c.Args().Slice()); err != nil {
					return outputError(err)
				}
			}
			if len(sources) == 0 {
				return outputError(errors.New("no inputs: pass .ics files or configure ics sources"))
			}

			cs, err := schema.Compile(cfg.Schema)
			if err != nil {
				return outputError(err)
			}
			vopts, err := viewOptions(c, cfg)
			if err != nil {
				return outputError(err)
			}

			fetcher := ics.NewFetcher(cfg.CacheDir, 0)
			res, errs := pipeline.FromSources(c.Context, fetcher, sources, pipeline.FromConfig(cfg, cs, time.Now()))
			for _, e := range errs {
				appLog.Warn("input skipped", "error", e.Error())
			}
			if res.Dataset == nil {
				return outputError(errors.Join(errs...))
			}

			tables, err := pipeline.Summaries(res.Dataset, cs, vopts)
			if err != nil {
				return outputError(err)
			}

			w := out
			if path := c.String("output"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return outputError(err)
				}
				defer f.Close()
				w = f
			}

			a := analysis{
				ID:       ulid.Make().String(),
				Location: cfg.Location(),
				Result:   res,
				Errors:   errs,
				Tables:   tables,
			}
			if err := writeAnalysis(w, format, a); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// fieldsCmd creates the fields command.
func fieldsCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "fields",
		Usage: "List the description fields of the configured schema",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the schema as JSON"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"), false)
			if err != nil {
				return outputError(err)
			}
			cs, err := schema.Compile(cfg.Schema)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(out, cs)
			}
			_, err = fmt.Fprintln(out, renderFields(cs))
			return err
		},
	}
}

// analysis is everything analyze prints.
type analysis struct {
	ID       string
	Location *time.Location
	Result   pipeline.Result
	Errors   []error
	Tables   []aggregate.SummaryTable
}

// analysisJSON is the JSON shape of analyze --format json. It matches the
// /api/analyze response.
type analysisJSON struct {
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

func writeAnalysis(w io.Writer, format string, a analysis) error {
	ds := a.Result.Dataset
	switch format {
	case "json":
		out := analysisJSON{
			ID:            a.ID,
			GeneratedAt:   time.Now(),
			Timezone:      a.Location.String(),
			SchemaVersion: ds.SchemaVersion(),
			Rows:          ds.Len(),
			Quality:       ds.Quality(),
			Columns:       ds.Columns(),
			TruncatedUIDs: a.Result.Truncated,
			Tables:        a.Tables,
		}
		for _, e := range a.Errors {
			out.Errors = append(out.Errors, e.Error())
		}
		return outputJSON(w, out)
	case "csv":
		return report.WriteCSV(w, ds)
	case "html":
		page, err := report.NewPage("Calendar statistics", ds, a.Tables)
		if err != nil {
			return err
		}
		page.ID = a.ID
		page.Timezone = a.Location.String()
		page.Truncated = a.Result.Truncated
		return report.WriteHTML(w, page)
	default:
		_, err := fmt.Fprintln(w, renderAnalysis(a))
		return err
	}
}

// viewOptions reads the view selection from flags. --group-by or --kind
// replace the configured views with a single custom one.
func viewOptions(c *cli.Context, cfg *config.Config) (pipeline.ViewOptions, error) {
	opts := pipeline.ViewsFromConfig(cfg)
	loc := cfg.Location()

	if c.IsSet("bucket") {
		b, err := aggregate.ParseBucket(c.String("bucket"))
		if err != nil {
			return opts, err
		}
		opts.Bucket = b
	}
	var err error
	if opts.From, err = pipeline.ParseDate(c.String("from"), loc); err != nil {
		return opts, fmt.Errorf("from: %w", err)
	}
	if opts.To, err = pipeline.ParseDate(c.String("to"), loc); err != nil {
		return opts, fmt.Errorf("to: %w", err)
	}
	if c.IsSet("top-k") {
		if c.Int("top-k") < 0 {
			return opts, fmt.Errorf("top-k: invalid value %d", c.Int("top-k"))
		}
		opts.TopK = c.Int("top-k")
	}

	if c.IsSet("group-by") || c.IsSet("kind") {
		spec := aggregate.Spec{
			Name:     "custom",
			Bucket:   aggregate.BucketNone,
			Kind:     aggregate.Kind(c.String("kind")),
			Field:    c.String("field"),
			Presence: c.Bool("presence"),
			Order:    aggregate.Order(c.String("order")),
			TopK:     opts.TopK,
		}
		if c.IsSet("bucket") {
			spec.Bucket = opts.Bucket
		}
		spec.GroupBy = splitList(c.String("group-by"))
		opts.Views = []aggregate.Spec{spec}
	}
	return opts, nil
}

// resolveInputs turns command line arguments into sources. URLs are kept
// as they are; everything else is a path or a doublestar glob such as
// "exports/**/*.ics". A pattern matching no file is an error.
func resolveInputs(args []string) ([]ics.Source, error) {
	var (
		out  []ics.Source
		seen = map[string]bool{}
	)
	add := func(src ics.Source) {
		if seen[src.URL] {
			return
		}
		seen[src.URL] = true
		out = append(out, src)
	}

	for i, arg := range args {
		if strings.Contains(arg, "://") && !strings.HasPrefix(arg, "file://") {
			add(ics.Source{ID: fmt.Sprintf("arg-%d", i+1), URL: arg})
			continue
		}
		pattern := strings.TrimPrefix(arg, "file://")
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", arg)
		}
		for _, m := range matches {
			add(ics.Source{ID: m, Name: filepath.Base(m), URL: m})
		}
	}
	return out, nil
}

// loadConfig loads the config at path. A missing file is created with
// defaults when create is set and otherwise replaced by the defaults.
func loadConfig(path string, create bool) (*config.Config, error) {
	if !create {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			appLog.Debug("config file not found, using defaults", "config_path", path)
			cfg := config.DefaultConfig()
			cfg.Normalize()
			return cfg, nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// initLogging applies the config's log settings unless flags override
// them.
func initLogging(c *cli.Context, cfg *config.Config) {
	level := c.String("log-level")
	if level == "" {
		level = cfg.LogLevel
	}
	appLog.Init(os.Stderr, c.Bool("log-json") || cfg.LogJSON, appLog.ParseLevel(level))
}

// splitList splits a comma-separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats err for the CLI.
func outputError(err error) error {
	return cli.Exit(err.Error(), 1)
}
