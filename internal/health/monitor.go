// Package health aggregates per-subscription sync health into scores and a
// system summary. It is a pure read model over the sync event and
// notification logs: nothing here mutates subscription state.
package health

import (
	"context"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/logger"
	"github.com/c50bossio/6fb-booking-sub006/internal/repository"

	"github.com/google/uuid"
)

const (
	// window is the rolling period counters aggregate over
	window = 24 * time.Hour

	// staleAfter is how long without any notification a subscription may go
	// before staleness starts eroding its score. Calendars with typical
	// activity push at least daily.
	staleAfter = 48 * time.Hour

	// ErrorRateAlertThreshold triggers a system alert when crossed
	ErrorRateAlertThreshold = 0.10
)

// Score component weights
const (
	weightSyncSuccess    = 0.5
	weightFreshness      = 0.3
	weightRenewalSuccess = 0.2
)

// SubscriptionHealth is the computed health of one subscription
type SubscriptionHealth struct {
	SubscriptionID   uuid.UUID                     `json:"subscription_id"`
	Status           repository.SubscriptionStatus `json:"status"`
	Score            float64                       `json:"score"`
	SyncSuccessRatio float64                       `json:"sync_success_ratio"`
	Applied          int64                         `json:"applied"`
	Conflicts        int64                         `json:"conflicts"`
	Errors           int64                         `json:"errors"`
	Duplicates       int64                         `json:"duplicates"`
	PendingConflicts int64                         `json:"pending_conflicts"`
	LastNotification *time.Time                    `json:"last_notification,omitempty"`
}

// SystemSummary aggregates health across all subscriptions
type SystemSummary struct {
	Subscriptions map[repository.SubscriptionStatus]int64 `json:"subscriptions"`
	ErrorRate     float64                                 `json:"error_rate"`
	StaleCount    int                                     `json:"stale_count"`
	FailedAlerts  []Alert                                 `json:"failed_alerts,omitempty"`
	Alerting      bool                                    `json:"alerting"`
	GeneratedAt   time.Time                               `json:"generated_at"`
}

// Alert is one terminal renewal failure awaiting operator attention
type Alert struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Reason         string    `json:"reason"`
	RaisedAt       time.Time `json:"raised_at"`
}

// subscriptionCounts defines the methods needed from the subscription
// repository (for testability)
type subscriptionCounts interface {
	ListAll(ctx context.Context) ([]repository.WebhookSubscription, error)
	GetByID(ctx context.Context, id uuid.UUID) (*repository.WebhookSubscription, error)
	CountByStatus(ctx context.Context) (map[repository.SubscriptionStatus]int64, error)
}

// outcomeCounts defines the methods needed from the sync event repository
type outcomeCounts interface {
	CountOutcomesSince(ctx context.Context, subscriptionID uuid.UUID, since time.Time) (map[repository.SyncOutcome]int64, error)
}

// notificationCounts defines the methods needed from the notification repository
type notificationCounts interface {
	CountByStatusSince(ctx context.Context, subscriptionID uuid.UUID, since time.Time) (map[repository.NotificationStatus]int64, error)
}

// conflictCounts defines the methods needed from the conflict repository
type conflictCounts interface {
	CountPendingSince(ctx context.Context, subscriptionID uuid.UUID, since time.Time) (int64, error)
}

// Monitor computes health scores and collects renewal alerts
type Monitor struct {
	subs          subscriptionCounts
	syncEvents    outcomeCounts
	notifications notificationCounts
	conflicts     conflictCounts

	alerts chan Alert
}

// NewMonitor creates a health monitor
func NewMonitor(subs *repository.SubscriptionRepository, syncEvents *repository.SyncEventRepository, notifications *repository.NotificationRepository, conflicts *repository.ConflictRepository) *Monitor {
	return &Monitor{
		subs:          subs,
		syncEvents:    syncEvents,
		notifications: notifications,
		conflicts:     conflicts,
		alerts:        make(chan Alert, 64),
	}
}

// RenewalFailed receives a terminal renewal failure from the renewal worker
func (m *Monitor) RenewalFailed(subscriptionID uuid.UUID, reason string) {
	alert := Alert{
		SubscriptionID: subscriptionID,
		Reason:         reason,
		RaisedAt:       time.Now().UTC(),
	}
	select {
	case m.alerts <- alert:
	default:
		logger.Warn().
			Str("subscriptionId", subscriptionID.String()).
			Msg("alert buffer full, dropping renewal alert")
	}
}

// SubscriptionHealth computes the health score for one subscription
func (m *Monitor) SubscriptionHealth(ctx context.Context, id uuid.UUID) (*SubscriptionHealth, error) {
	sub, err := m.subs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.computeHealth(ctx, sub)
}

func (m *Monitor) computeHealth(ctx context.Context, sub *repository.WebhookSubscription) (*SubscriptionHealth, error) {
	since := time.Now().UTC().Add(-window)

	outcomes, err := m.syncEvents.CountOutcomesSince(ctx, sub.ID, since)
	if err != nil {
		return nil, err
	}
	notes, err := m.notifications.CountByStatusSince(ctx, sub.ID, since)
	if err != nil {
		return nil, err
	}
	pendingConflicts, err := m.conflicts.CountPendingSince(ctx, sub.ID, since)
	if err != nil {
		return nil, err
	}

	h := &SubscriptionHealth{
		SubscriptionID:   sub.ID,
		Status:           sub.Status,
		Applied:          outcomes[repository.SyncOutcomeApplied],
		Conflicts:        outcomes[repository.SyncOutcomeConflict],
		Errors:           outcomes[repository.SyncOutcomeError],
		Duplicates:       notes[repository.NotificationStatusDuplicate],
		PendingConflicts: pendingConflicts,
		LastNotification: sub.LastNotificationAt,
	}

	h.SyncSuccessRatio = successRatio(h.Applied+h.Conflicts, h.Errors)
	h.Score = weightSyncSuccess*h.SyncSuccessRatio +
		weightFreshness*freshness(sub.LastNotificationAt, sub.CreatedAt) +
		weightRenewalSuccess*renewalScore(sub)

	return h, nil
}

// SystemSummary aggregates health across every subscription
func (m *Monitor) SystemSummary(ctx context.Context) (*SystemSummary, error) {
	now := time.Now().UTC()

	byStatus, err := m.subs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	subs, err := m.subs.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	var applied, conflicts, errCount int64
	stale := 0
	since := now.Add(-window)
	for i := range subs {
		sub := &subs[i]
		if sub.Status != repository.SubscriptionStatusActive &&
			sub.Status != repository.SubscriptionStatusExpiring {
			continue
		}
		outcomes, err := m.syncEvents.CountOutcomesSince(ctx, sub.ID, since)
		if err != nil {
			return nil, err
		}
		applied += outcomes[repository.SyncOutcomeApplied]
		conflicts += outcomes[repository.SyncOutcomeConflict]
		errCount += outcomes[repository.SyncOutcomeError]

		if freshness(sub.LastNotificationAt, sub.CreatedAt) == 0 {
			stale++
		}
	}

	summary := &SystemSummary{
		Subscriptions: byStatus,
		StaleCount:    stale,
		FailedAlerts:  m.drainAlerts(),
		GeneratedAt:   now,
	}

	total := applied + conflicts + errCount
	if total > 0 {
		summary.ErrorRate = float64(errCount) / float64(total)
	}
	summary.Alerting = summary.ErrorRate > ErrorRateAlertThreshold ||
		len(summary.FailedAlerts) > 0 ||
		byStatus[repository.SubscriptionStatusFailed] > 0

	return summary, nil
}

// LogSummary writes the system summary to the log, used by the scheduler
func (m *Monitor) LogSummary(ctx context.Context) {
	summary, err := m.SystemSummary(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to compute health summary")
		return
	}

	if summary.Alerting {
		logger.Warn().
			Float64("errorRate", summary.ErrorRate).
			Int("stale", summary.StaleCount).
			Int("failedAlerts", len(summary.FailedAlerts)).
			Interface("subscriptions", summary.Subscriptions).
			Msg("sync health degraded")
		return
	}
	logger.Info().
		Float64("errorRate", summary.ErrorRate).
		Int("stale", summary.StaleCount).
		Interface("subscriptions", summary.Subscriptions).
		Msg("sync health summary")
}

func (m *Monitor) drainAlerts() []Alert {
	var alerts []Alert
	for {
		select {
		case a := <-m.alerts:
			alerts = append(alerts, a)
		default:
			return alerts
		}
	}
}

// successRatio maps applied vs errored outcomes into [0,1]. No activity at
// all counts as healthy.
func successRatio(succeeded, failed int64) float64 {
	total := succeeded + failed
	if total == 0 {
		return 1
	}
	return float64(succeeded) / float64(total)
}

// freshness decays linearly from 1 to 0 between staleAfter and 2*staleAfter
// since the last notification. A never-notified subscription is measured
// from its creation time.
func freshness(lastNotification *time.Time, createdAt time.Time) float64 {
	ref := createdAt
	if lastNotification != nil {
		ref = *lastNotification
	}
	age := time.Since(ref)
	if age <= staleAfter {
		return 1
	}
	if age >= 2*staleAfter {
		return 0
	}
	return 1 - float64(age-staleAfter)/float64(staleAfter)
}

// renewalScore penalizes pending renewal attempts and zeroes out dead states
func renewalScore(sub *repository.WebhookSubscription) float64 {
	switch sub.Status {
	case repository.SubscriptionStatusFailed,
		repository.SubscriptionStatusExpired,
		repository.SubscriptionStatusRevoked:
		return 0
	}
	if sub.RenewalAttempts == 0 {
		return 1
	}
	score := 1 - float64(sub.RenewalAttempts)*0.2
	if score < 0 {
		return 0
	}
	return score
}
