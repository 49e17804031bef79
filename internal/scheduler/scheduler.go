// Package scheduler drives the periodic background jobs: channel renewal,
// health summary logging, and notification log trimming. Jobs communicate
// only through persisted state, so running the scheduler on every replica is
// safe.
package scheduler

import (
	"context"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/config"
	"github.com/c50bossio/6fb-booking-sub006/internal/health"
	"github.com/c50bossio/6fb-booking-sub006/internal/logger"
	"github.com/c50bossio/6fb-booking-sub006/internal/repository"
	"github.com/c50bossio/6fb-booking-sub006/internal/worker"

	"github.com/robfig/cron/v3"
)

const (
	renewalSpec = "@every 1m"
	healthSpec  = "@every 15m"
	trimSpec    = "@daily"
)

// Scheduler wires the periodic jobs onto a cron runner
type Scheduler struct {
	cron          *cron.Cron
	renewal       *worker.RenewalWorker
	monitor       *health.Monitor
	notifications *repository.NotificationRepository
	retention     time.Duration
}

// NewScheduler creates a scheduler for the background jobs
func NewScheduler(renewal *worker.RenewalWorker, monitor *health.Monitor, notifications *repository.NotificationRepository, cfg config.SyncConfig) *Scheduler {
	return &Scheduler{
		cron:          cron.New(),
		renewal:       renewal,
		monitor:       monitor,
		notifications: notifications,
		retention:     cfg.NotificationRetention,
	}
}

// Start registers and launches the periodic jobs
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(renewalSpec, func() {
		s.renewal.Run(context.Background())
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(healthSpec, func() {
		s.monitor.LogSummary(context.Background())
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(trimSpec, func() {
		s.trimNotifications(context.Background())
	}); err != nil {
		return err
	}

	s.cron.Start()
	logger.Info().
		Str("renewal", renewalSpec).
		Str("health", healthSpec).
		Str("trim", trimSpec).
		Msg("scheduler started")
	return nil
}

// Stop halts the cron runner and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info().Msg("scheduler stopped")
}

// trimNotifications deletes terminal notification rows past the retention
// window. Pending rows are never trimmed.
func (s *Scheduler) trimNotifications(ctx context.Context) {
	before := time.Now().UTC().Add(-s.retention)
	removed, err := s.notifications.DeleteTerminalOlderThan(ctx, before)
	if err != nil {
		logger.Error().Err(err).Msg("failed to trim notification log")
		return
	}
	if removed > 0 {
		logger.Info().Int64("removed", removed).Msg("trimmed notification log")
	}
}
