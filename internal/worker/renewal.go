// Package worker holds the background renewal task. It is safe to run on
// every replica: each due subscription is claimed with an atomic UPDATE
// before any provider call, so a channel is renewed at most once per window
// no matter how many workers fire.
package worker

import (
	"context"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/config"
	"github.com/c50bossio/6fb-booking-sub006/internal/logger"
	"github.com/c50bossio/6fb-booking-sub006/internal/repository"

	"github.com/google/uuid"
)

// renewalBackoff defines the wait before each renewal retry
var renewalBackoff = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	1 * time.Hour,
}

// claimTTL parks a claimed subscription long enough for the renewal call to
// finish before another replica may re-claim it
const claimTTL = 5 * time.Minute

// batchLimit caps how many subscriptions one run processes
const batchLimit = 50

// renewalRepo defines the methods needed from the subscription repository
// (for testability)
type renewalRepo interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	ListRenewalDue(ctx context.Context, now, windowEnd time.Time, limit int32) ([]repository.WebhookSubscription, error)
	ClaimForRenewal(ctx context.Context, id uuid.UUID, now, windowEnd, retryNotBefore time.Time) (bool, error)
	RecordRenewalFailure(ctx context.Context, id uuid.UUID, nextAttempt *time.Time, failed bool, lastError string) error
}

// channelRenewer defines the method needed from the subscription manager
type channelRenewer interface {
	Renew(ctx context.Context, id uuid.UUID) (*repository.WebhookSubscription, error)
}

// alertSink receives terminal renewal failures. Satisfied by the health
// monitor; the platform raises the reconnect signal from there.
type alertSink interface {
	RenewalFailed(subscriptionID uuid.UUID, reason string)
}

// RenewalWorker proactively renews push channels before they expire
type RenewalWorker struct {
	repo    renewalRepo
	manager channelRenewer
	alerts  alertSink
	cfg     config.WebhookConfig
}

// NewRenewalWorker creates a renewal worker
func NewRenewalWorker(repo *repository.SubscriptionRepository, manager channelRenewer, alerts alertSink, cfg config.WebhookConfig) *RenewalWorker {
	return &RenewalWorker{repo: repo, manager: manager, alerts: alerts, cfg: cfg}
}

// Run executes one renewal sweep: expire dead channels, then claim and renew
// every subscription inside its renewal window.
func (w *RenewalWorker) Run(ctx context.Context) {
	now := time.Now().UTC()

	swept, err := w.repo.SweepExpired(ctx, now)
	if err != nil {
		logger.Error().Err(err).Msg("failed to sweep expired subscriptions")
	} else if swept > 0 {
		logger.Warn().Int64("count", swept).Msg("swept expired subscriptions")
	}

	windowEnd := now.Add(w.cfg.RenewalLead)
	due, err := w.repo.ListRenewalDue(ctx, now, windowEnd, batchLimit)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list renewal-due subscriptions")
		return
	}
	if len(due) == 0 {
		return
	}

	logger.Info().Int("due", len(due)).Msg("starting renewal sweep")

	for _, sub := range due {
		if ctx.Err() != nil {
			return
		}
		w.renewOne(ctx, sub, now, windowEnd)
	}
}

func (w *RenewalWorker) renewOne(ctx context.Context, sub repository.WebhookSubscription, now, windowEnd time.Time) {
	claimed, err := w.repo.ClaimForRenewal(ctx, sub.ID, now, windowEnd, now.Add(claimTTL))
	if err != nil {
		logger.Error().Err(err).Str("subscriptionId", sub.ID.String()).
			Msg("failed to claim subscription for renewal")
		return
	}
	if !claimed {
		// Another replica got here first
		return
	}

	if _, err := w.manager.Renew(ctx, sub.ID); err != nil {
		w.recordFailure(ctx, sub, err)
		return
	}
}

// recordFailure schedules the next retry with exponential backoff, or marks
// the subscription failed once the budget is spent.
func (w *RenewalWorker) recordFailure(ctx context.Context, sub repository.WebhookSubscription, cause error) {
	attempt := int(sub.RenewalAttempts)
	failed := attempt+1 >= w.cfg.RenewalBudget

	var nextAttempt *time.Time
	if !failed {
		backoff := renewalBackoff[min(attempt, len(renewalBackoff)-1)]
		t := time.Now().UTC().Add(backoff)
		nextAttempt = &t
	}

	if err := w.repo.RecordRenewalFailure(ctx, sub.ID, nextAttempt, failed, cause.Error()); err != nil {
		logger.Error().Err(err).Str("subscriptionId", sub.ID.String()).
			Msg("failed to record renewal failure")
		return
	}

	if failed {
		logger.Error().
			Err(cause).
			Str("subscriptionId", sub.ID.String()).
			Int("attempts", attempt+1).
			Msg("renewal budget spent, subscription failed")
		if w.alerts != nil {
			w.alerts.RenewalFailed(sub.ID, cause.Error())
		}
		return
	}

	logger.Warn().
		Err(cause).
		Str("subscriptionId", sub.ID.String()).
		Int("attempt", attempt+1).
		Time("nextAttempt", *nextAttempt).
		Msg("renewal attempt failed, will retry")
}
