package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"calstats/internal/aggregate"
	"calstats/internal/schema"
	"calstats/internal/table"
)

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "Europe/Berlin"
	defaultRefreshCron = "*/15 * * * *"
	defaultCacheDir    = "./var/ics-cache"
	defaultLogLevel    = "info"
	defaultTopK        = 20
	defaultMaxOcc      = 5000
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint, a file:// URL or a local path.
	URL string `yaml:"url" json:"url"`
	// ID tags events from this source and appears in logs.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the report.
	Name string `yaml:"name" json:"name"`
}

// DedupConfig selects how repeated events are treated.
type DedupConfig struct {
	// Policy is "drop" (default) or "flag".
	Policy table.Policy `yaml:"policy" json:"policy"`
	// Key lists the content key components, from uid, start, end, summary,
	// description and fields. Defaults to start, end, fields.
	Key []table.KeyComponent `yaml:"key" json:"key"`
}

// ExpandConfig controls recurrence expansion of fetched and uploaded
// calendars.
type ExpandConfig struct {
	// Disabled keeps recurring events as single events.
	Disabled bool `yaml:"disabled" json:"disabled"`
	// FutureDays extends the expansion window past today. Statistics are
	// usually about past events, so this defaults to 0.
	FutureDays int `yaml:"future_days" json:"future_days"`
	// MaxOccurrences caps each recurring series.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`
}

// AnalysisConfig holds aggregation defaults.
type AnalysisConfig struct {
	// Bucket is the time granularity of the default views.
	Bucket aggregate.Bucket `yaml:"bucket" json:"bucket"`
	// UnknownLabel names rows without a grouped value.
	UnknownLabel string `yaml:"unknown_label" json:"unknown_label"`
	// TopK limits long categorical tails in the default views.
	TopK int `yaml:"top_k" json:"top_k"`
	// Views replaces the built-in view set when non-empty.
	Views []aggregate.Spec `yaml:"views,omitempty" json:"views,omitempty"`
}

// CaptureConfig controls the PNG snapshot of the report page.
type CaptureConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// OutputPath is where scheduled snapshots are written.
	OutputPath string `yaml:"output_path" json:"output_path"`
	Width      int    `yaml:"width" json:"width"`
	Height     int    `yaml:"height" json:"height"`
	TimeoutSec int    `yaml:"timeout_sec" json:"timeout_sec"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone in which event dates are taken
	// (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday"; it anchors week buckets.
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron schedule (e.g. "*/15 * * * *") for refreshing
	// the configured sources.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	LogLevel string `yaml:"log_level" json:"log_level"`
	LogJSON  bool   `yaml:"log_json" json:"log_json"`

	// CacheDir holds the ICS HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	Expand   ExpandConfig   `yaml:"expand" json:"expand"`
	Dedup    DedupConfig    `yaml:"dedup" json:"dedup"`
	Analysis AnalysisConfig `yaml:"analysis" json:"analysis"`
	Capture  CaptureConfig  `yaml:"capture" json:"capture"`

	// Schema declares the fields read from event descriptions. An empty
	// field list means the built-in lab schema.
	Schema schema.Schema `yaml:"schema" json:"schema"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		WeekStart:   "monday",
		RefreshCron: defaultRefreshCron,
		LogLevel:    defaultLogLevel,
		CacheDir:    defaultCacheDir,
		ICS:         []ICSConfig{},
		Expand: ExpandConfig{
			MaxOccurrences: defaultMaxOcc,
		},
		Dedup: DedupConfig{
			Policy: table.PolicyDrop,
			Key:    append([]table.KeyComponent(nil), table.DefaultKey...),
		},
		Analysis: AnalysisConfig{
			Bucket:       aggregate.BucketMonth,
			UnknownLabel: aggregate.DefaultUnknownLabel,
			TopK:         defaultTopK,
		},
		Capture: CaptureConfig{
			OutputPath: "./var/report.png",
			Width:      1280,
			Height:     1600,
			TimeoutSec: 30,
		},
		Schema: schema.Default(),
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = fmt.Sprintf("ics-%d", i+1)
		}
	}
	if c.Expand.MaxOccurrences <= 0 {
		c.Expand.MaxOccurrences = def.Expand.MaxOccurrences
	}
	if c.Expand.FutureDays < 0 {
		c.Expand.FutureDays = 0
	}
	if c.Dedup.Policy == "" {
		c.Dedup.Policy = def.Dedup.Policy
	}
	if len(c.Dedup.Key) == 0 {
		c.Dedup.Key = def.Dedup.Key
	}
	if c.Analysis.Bucket == "" {
		c.Analysis.Bucket = def.Analysis.Bucket
	}
	if c.Analysis.UnknownLabel == "" {
		c.Analysis.UnknownLabel = def.Analysis.UnknownLabel
	}
	if c.Analysis.TopK < 0 {
		c.Analysis.TopK = 0
	}
	if c.Capture.OutputPath == "" {
		c.Capture.OutputPath = def.Capture.OutputPath
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = def.Capture.Width
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = def.Capture.Height
	}
	if c.Capture.TimeoutSec <= 0 {
		c.Capture.TimeoutSec = def.Capture.TimeoutSec
	}
	if len(c.Schema.Fields) == 0 {
		c.Schema = def.Schema
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("config: refresh %q: %w", c.RefreshCron, err)
	}
	if _, err := aggregate.ParseBucket(string(c.Analysis.Bucket)); err != nil {
		return fmt.Errorf("config: analysis: %w", err)
	}
	cs, err := schema.Compile(c.Schema)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	opts := c.TableOptions(cs)
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("config: dedup: %w", err)
	}
	return nil
}

// Location returns the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Weekday returns the first day of the week.
func (c *Config) Weekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// TableOptions returns dataset builder options for a compiled schema.
func (c *Config) TableOptions(s *schema.Schema) table.Options {
	return table.Options{
		Schema: s,
		Policy: c.Dedup.Policy,
		Key:    append([]table.KeyComponent(nil), c.Dedup.Key...),
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calstats-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
