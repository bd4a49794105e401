package pipeline

import (
	"time"

	"calstats/internal/config"
	"calstats/internal/ics"
	"calstats/internal/schema"
)

// FromConfig returns run options for cs, the compiled cfg.Schema. The
// expansion window ends cfg.Expand.FutureDays after now.
func FromConfig(cfg *config.Config, cs *schema.Schema, now time.Time) Options {
	loc := cfg.Location()
	opts := Options{
		Table:    cfg.TableOptions(cs),
		Location: loc,
	}
	if !cfg.Expand.Disabled {
		opts.Expand = &ics.ExpandConfig{
			RangeEnd:               now.In(loc).AddDate(0, 0, cfg.Expand.FutureDays),
			MaxOccurrencesPerEvent: cfg.Expand.MaxOccurrences,
		}
	}
	return opts
}

// ViewsFromConfig returns the configured view defaults.
func ViewsFromConfig(cfg *config.Config) ViewOptions {
	return ViewOptions{
		Views:        cfg.Analysis.Views,
		Bucket:       cfg.Analysis.Bucket,
		UnknownLabel: cfg.Analysis.UnknownLabel,
		TopK:         cfg.Analysis.TopK,
		WeekStart:    cfg.Weekday(),
	}
}

// Sources converts the configured subscriptions, skipping empty URLs.
func Sources(cfg *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(cfg.ICS))
	for _, c := range cfg.ICS {
		if c.URL == "" {
			continue
		}
		id := c.ID
		if id == "" {
			id = c.Name
		}
		out = append(out, ics.Source{ID: id, Name: c.Name, URL: c.URL})
	}
	return out
}
