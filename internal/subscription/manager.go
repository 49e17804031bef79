// Package subscription owns the lifecycle of push notification channels:
// create, renew, revoke. Channel IDs are fresh UUIDs and never reused; the
// sync cursor survives channel replacement so incremental sync continues
// across renewals.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/calendar"
	"github.com/c50bossio/6fb-booking-sub006/internal/config"
	"github.com/c50bossio/6fb-booking-sub006/internal/db"
	"github.com/c50bossio/6fb-booking-sub006/internal/logger"
	"github.com/c50bossio/6fb-booking-sub006/internal/repository"

	"github.com/google/uuid"
)

// subscriptionRepoInterface defines the methods needed from the subscription
// repository (for testability)
type subscriptionRepoInterface interface {
	Create(ctx context.Context, req repository.CreateSubscriptionRequest) (*repository.WebhookSubscription, error)
	GetByID(ctx context.Context, id uuid.UUID) (*repository.WebhookSubscription, error)
	GetActive(ctx context.Context, userID uuid.UUID, calendarID string) (*repository.WebhookSubscription, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]repository.WebhookSubscription, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status repository.SubscriptionStatus, lastError *string) (*repository.WebhookSubscription, error)
	ReplaceChannel(ctx context.Context, id uuid.UUID, channelID, resourceID string, expiresAt time.Time) (*repository.WebhookSubscription, error)
}

// Manager owns push channel lifecycle operations
type Manager struct {
	repo   subscriptionRepoInterface
	client calendar.Client
	cfg    config.WebhookConfig
}

// NewManager creates a subscription manager
func NewManager(repo *repository.SubscriptionRepository, client calendar.Client, cfg config.WebhookConfig) *Manager {
	return &Manager{repo: repo, client: client, cfg: cfg}
}

// Create opens a push channel for a (user, calendar) pair and persists the
// subscription. Idempotent: an existing active subscription for the pair is
// returned as-is rather than opening a second channel.
func (m *Manager) Create(ctx context.Context, userID uuid.UUID, calendarID string) (*repository.WebhookSubscription, error) {
	existing, err := m.repo.GetActive(ctx, userID, calendarID)
	if err == nil {
		logger.Debug().
			Str("subscriptionId", existing.ID.String()).
			Str("calendarId", calendarID).
			Msg("active subscription already exists")
		return existing, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("check existing subscription: %w", err)
	}

	channelID := uuid.New().String()
	sub, err := m.client.Watch(ctx, userID, calendarID, calendar.WatchRequest{
		ChannelID:   channelID,
		CallbackURL: m.cfg.CallbackURL,
		Token:       m.cfg.ChannelToken,
		TTL:         m.cfg.ChannelTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("watch calendar: %w", err)
	}

	created, err := m.repo.Create(ctx, repository.CreateSubscriptionRequest{
		UserID:     userID,
		CalendarID: calendarID,
		ChannelID:  sub.ChannelID,
		ResourceID: sub.ResourceID,
		ExpiresAt:  sub.Expiration,
	})
	if err != nil {
		// The provider channel is now orphaned; close it so pushes stop
		if stopErr := m.client.Stop(ctx, userID, sub.ChannelID, sub.ResourceID); stopErr != nil {
			logger.Warn().Err(stopErr).Str("channelId", sub.ChannelID).
				Msg("failed to stop orphaned channel")
		}
		return nil, fmt.Errorf("persist subscription: %w", err)
	}

	logger.Info().
		Str("subscriptionId", created.ID.String()).
		Str("userId", userID.String()).
		Str("calendarId", calendarID).
		Time("expiresAt", created.ExpiresAt).
		Msg("subscription created")

	return created, nil
}

// Renew replaces the provider channel on a subscription that is inside its
// renewal window. A subscription outside the window is returned unchanged.
// Stopping the old channel is best-effort; the provider expires it anyway.
func (m *Manager) Renew(ctx context.Context, id uuid.UUID) (*repository.WebhookSubscription, error) {
	sub, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	switch sub.Status {
	case repository.SubscriptionStatusActive, repository.SubscriptionStatusExpiring:
	default:
		return nil, fmt.Errorf("subscription %s is %s, not renewable", id, sub.Status)
	}

	if sub.Status == repository.SubscriptionStatusActive &&
		time.Until(sub.ExpiresAt) > m.cfg.RenewalLead {
		logger.Debug().
			Str("subscriptionId", id.String()).
			Time("expiresAt", sub.ExpiresAt).
			Msg("subscription outside renewal window, skipping")
		return sub, nil
	}

	channelID := uuid.New().String()
	newChannel, err := m.client.Watch(ctx, sub.UserID, sub.CalendarID, calendar.WatchRequest{
		ChannelID:   channelID,
		CallbackURL: m.cfg.CallbackURL,
		Token:       m.cfg.ChannelToken,
		TTL:         m.cfg.ChannelTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("watch calendar: %w", err)
	}

	if err := m.client.Stop(ctx, sub.UserID, sub.ChannelID, sub.ResourceID); err != nil {
		logger.Warn().Err(err).
			Str("channelId", sub.ChannelID).
			Msg("failed to stop old channel during renewal")
	}

	renewed, err := m.repo.ReplaceChannel(ctx, id, newChannel.ChannelID, newChannel.ResourceID, newChannel.Expiration)
	if err != nil {
		return nil, fmt.Errorf("replace channel: %w", err)
	}

	logger.Info().
		Str("subscriptionId", id.String()).
		Str("oldChannelId", sub.ChannelID).
		Str("newChannelId", renewed.ChannelID).
		Time("expiresAt", renewed.ExpiresAt).
		Msg("subscription renewed")

	return renewed, nil
}

// Revoke stops the provider channel and marks the subscription revoked.
// The local transition always happens even if the provider call fails.
func (m *Manager) Revoke(ctx context.Context, id uuid.UUID) error {
	sub, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}

	if err := m.client.Stop(ctx, sub.UserID, sub.ChannelID, sub.ResourceID); err != nil {
		logger.Warn().Err(err).
			Str("channelId", sub.ChannelID).
			Msg("failed to stop channel during revoke")
	}

	if _, err := m.repo.UpdateStatus(ctx, id, repository.SubscriptionStatusRevoked, nil); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	logger.Info().
		Str("subscriptionId", id.String()).
		Str("channelId", sub.ChannelID).
		Msg("subscription revoked")

	return nil
}

// RevokeForUser revokes the active subscription on a user's calendar, used by
// the disconnect endpoint. Missing subscription is not an error.
func (m *Manager) RevokeForUser(ctx context.Context, userID uuid.UUID, calendarID string) error {
	sub, err := m.repo.GetActive(ctx, userID, calendarID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get active subscription: %w", err)
	}
	return m.Revoke(ctx, sub.ID)
}
