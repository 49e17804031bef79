// Package webhook validates and records inbound calendar push notifications.
// The receiver must answer inside the provider's delivery timeout, so it only
// verifies, persists, and enqueues; the actual delta fetch happens on the
// sync engine's worker pool.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/db"
	"github.com/c50bossio/6fb-booking-sub006/internal/logger"
	"github.com/c50bossio/6fb-booking-sub006/internal/repository"

	"github.com/google/uuid"
)

// Google push notification headers
const (
	HeaderChannelID     = "X-Goog-Channel-ID"
	HeaderChannelToken  = "X-Goog-Channel-Token"
	HeaderResourceID    = "X-Goog-Resource-ID"
	HeaderResourceState = "X-Goog-Resource-State"
	HeaderMessageNumber = "X-Goog-Message-Number"
)

// ErrTokenMismatch means the push carried a wrong channel token. Mapped to
// 403 by the HTTP handler so a misconfigured or hostile sender gets refused
// without touching any state.
var ErrTokenMismatch = errors.New("channel token mismatch")

// Outcome classifies how a push was handled
type Outcome string

const (
	// OutcomeAccepted means the push was recorded and a sync pass enqueued
	OutcomeAccepted Outcome = "accepted"
	// OutcomeSyncAck means the provider's channel-confirmation ping was acked
	OutcomeSyncAck Outcome = "sync_ack"
	// OutcomeDuplicate means the message number was already seen
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeDropped means the channel is unknown or no longer live
	OutcomeDropped Outcome = "dropped"
)

// PushHeaders is the parsed provider header set
type PushHeaders struct {
	ChannelID     string
	ChannelToken  string
	ResourceID    string
	ResourceState repository.ResourceState
	MessageNumber int64
}

// ParseHeaders extracts and validates the provider push headers
func ParseHeaders(h http.Header) (PushHeaders, error) {
	p := PushHeaders{
		ChannelID:    h.Get(HeaderChannelID),
		ChannelToken: h.Get(HeaderChannelToken),
		ResourceID:   h.Get(HeaderResourceID),
	}
	if p.ChannelID == "" {
		return p, fmt.Errorf("missing %s header", HeaderChannelID)
	}
	if p.ResourceID == "" {
		return p, fmt.Errorf("missing %s header", HeaderResourceID)
	}

	switch state := h.Get(HeaderResourceState); state {
	case "sync":
		p.ResourceState = repository.ResourceStateSync
	case "exists":
		p.ResourceState = repository.ResourceStateExists
	case "not_exists":
		p.ResourceState = repository.ResourceStateNotExists
	default:
		return p, fmt.Errorf("unknown resource state %q", state)
	}

	raw := h.Get(HeaderMessageNumber)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 1 {
		return p, fmt.Errorf("invalid message number %q", raw)
	}
	p.MessageNumber = n

	return p, nil
}

// subscriptionLookup defines the methods needed from the subscription
// repository (for testability)
type subscriptionLookup interface {
	GetByChannelID(ctx context.Context, channelID string) (*repository.WebhookSubscription, error)
	MarkNotified(ctx context.Context, channelID string, messageNumber int64, at time.Time) (bool, error)
}

// notificationLog defines the methods needed from the notification repository
type notificationLog interface {
	Record(ctx context.Context, req repository.CreateNotificationRequest) (*repository.WebhookNotification, bool, error)
	MarkDuplicate(ctx context.Context, id uuid.UUID) error
}

// taskQueue enqueues a sync pass for a subscription. Returns false when the
// queue is full; the push is still acked because a later pass re-derives the
// full delta from the stored cursor anyway.
type taskQueue interface {
	Enqueue(subscriptionID uuid.UUID) bool
}

// Receiver handles inbound push notifications
type Receiver struct {
	subs         subscriptionLookup
	notification notificationLog
	queue        taskQueue
	channelToken string
}

// NewReceiver creates a webhook receiver. channelToken is the shared secret
// set on every Watch call; empty disables token verification.
func NewReceiver(subs subscriptionLookup, notification notificationLog, queue taskQueue, channelToken string) *Receiver {
	return &Receiver{
		subs:         subs,
		notification: notification,
		queue:        queue,
		channelToken: channelToken,
	}
}

// Handle processes one push. Benign conditions (unknown channel, duplicate,
// dead subscription) return a non-error outcome so the HTTP layer answers
// 200 and the provider stops retrying; an error return means persistence
// failed and the provider should redeliver.
func (r *Receiver) Handle(ctx context.Context, push PushHeaders) (Outcome, error) {
	if r.channelToken != "" && push.ChannelToken != r.channelToken {
		return "", ErrTokenMismatch
	}

	sub, err := r.subs.GetByChannelID(ctx, push.ChannelID)
	if errors.Is(err, db.ErrNotFound) {
		// Pushes from channels we no longer know about keep arriving until
		// the provider expires them
		logger.Debug().
			Str("channelId", push.ChannelID).
			Msg("push for unknown channel dropped")
		return OutcomeDropped, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup channel: %w", err)
	}

	switch sub.Status {
	case repository.SubscriptionStatusActive, repository.SubscriptionStatusExpiring:
	default:
		logger.Debug().
			Str("subscriptionId", sub.ID.String()).
			Str("status", string(sub.Status)).
			Msg("push for inactive subscription dropped")
		return OutcomeDropped, nil
	}

	// Channel confirmation ping: record nothing, enqueue nothing
	if push.ResourceState == repository.ResourceStateSync {
		return OutcomeSyncAck, nil
	}

	// Persist before advancing the watermark: a failed insert answers 5xx
	// and the provider's retry of the same message number must still look
	// fresh
	note, inserted, err := r.notification.Record(ctx, repository.CreateNotificationRequest{
		SubscriptionID: sub.ID,
		ChannelID:      push.ChannelID,
		ResourceID:     push.ResourceID,
		ResourceState:  push.ResourceState,
		MessageNumber:  push.MessageNumber,
		Status:         repository.NotificationStatusPending,
	})
	if err != nil {
		return "", fmt.Errorf("record notification: %w", err)
	}

	fresh, err := r.subs.MarkNotified(ctx, push.ChannelID, push.MessageNumber, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("mark notified: %w", err)
	}

	if !fresh {
		// The watermark already covers this message number: a redelivery, or
		// an out-of-order push overtaken by a later one. A first-time insert
		// of a stale number is closed out so it never reads as pending work.
		if inserted {
			if markErr := r.notification.MarkDuplicate(ctx, note.ID); markErr != nil {
				logger.Warn().Err(markErr).
					Str("notificationId", note.ID.String()).
					Msg("failed to close stale notification")
			}
		}
		logger.Debug().
			Str("channelId", push.ChannelID).
			Int64("messageNumber", push.MessageNumber).
			Msg("duplicate push recorded")
		return OutcomeDuplicate, nil
	}

	// fresh with an existing row resumes a delivery whose watermark write
	// failed last time: the pending row survived, so the pass still runs

	if !r.queue.Enqueue(sub.ID) {
		logger.Warn().
			Str("subscriptionId", sub.ID.String()).
			Msg("sync queue full, delta deferred to next pass")
	}

	return OutcomeAccepted, nil
}
