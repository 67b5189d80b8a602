package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// JanitorConfig controls build log retention.
type JanitorConfig struct {
	// RetentionDays of 0 disables cleanup.
	RetentionDays int
	Schedule      string
}

// Janitor prunes old build logs on a cron schedule.
type Janitor struct {
	Builds *BuildLog
	Logger *slog.Logger
	Config JanitorConfig

	mu      sync.Mutex
	running bool
}

// NewJanitor creates a new janitor.
func NewJanitor(builds *BuildLog, logger *slog.Logger, cfg JanitorConfig) *Janitor {
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	return &Janitor{
		Builds: builds,
		Logger: logger,
		Config: cfg,
	}
}

// Run schedules cleanup and blocks until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	if j.Config.RetentionDays <= 0 {
		j.Logger.Info("Build log retention disabled")
		return nil
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(j.Config.Schedule, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			j.Logger.Error("Build log cleanup failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", j.Config.Schedule, err)
	}

	scheduler.Start()
	j.Logger.Info("Janitor started", "schedule", j.Config.Schedule, "retention_days", j.Config.RetentionDays)

	<-ctx.Done()
	<-scheduler.Stop().Done()
	j.Logger.Info("Janitor stopped")
	return nil
}

// RunOnce removes expired builds. Overlapping runs are skipped.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return 0, nil
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	removed, err := j.Builds.ClearOlderThan(ctx, j.Config.RetentionDays)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		j.Logger.Info("Pruned old builds", "removed", removed, "retention_days", j.Config.RetentionDays)
	}
	return removed, nil
}
