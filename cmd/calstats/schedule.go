package main

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"calstats/internal/config"
	appLog "calstats/internal/log"
)

// refresher is the part of web.Server the scheduler drives.
type refresher interface {
	Refresh(ctx context.Context) error
	Capture(ctx context.Context) ([]byte, error)
}

// newScheduler runs a refresh cycle on cfg.RefreshCron in the configured
// time zone. Overlapping runs are skipped. The caller starts and stops it.
func newScheduler(ctx context.Context, cfg *config.Config, r refresher) (*cron.Cron, error) {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	capture := cfg.Capture.Enabled
	if _, err := c.AddFunc(cfg.RefreshCron, func() { runCycle(ctx, r, capture) }); err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", cfg.RefreshCron, err)
	}
	return c, nil
}

// runCycle refreshes the sources and, with capture set, renders the report
// PNG from the new snapshot.
func runCycle(ctx context.Context, r refresher, capture bool) {
	if ctx.Err() != nil {
		return
	}
	if err := r.Refresh(ctx); err != nil {
		appLog.Error("scheduled refresh failed", err)
		return
	}
	if !capture {
		return
	}
	png, err := r.Capture(ctx)
	if err != nil {
		appLog.Error("scheduled capture failed", err)
		return
	}
	appLog.Debug("report captured", "bytes", len(png))
}

// cronLogger routes cron's logging through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
