package repository

import (
	"context"
	"errors"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// NotificationStatus represents the processing outcome of a push notification
type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusProcessed NotificationStatus = "processed"
	NotificationStatusFailed    NotificationStatus = "failed"
	NotificationStatusDuplicate NotificationStatus = "duplicate"
)

// ResourceState is the provider-reported state carried on a push
type ResourceState string

const (
	ResourceStateSync      ResourceState = "sync"
	ResourceStateExists    ResourceState = "exists"
	ResourceStateNotExists ResourceState = "not_exists"
)

// WebhookNotification is an immutable log record of one received push.
// (channel_id, message_number) is unique; redelivery of the same message
// bumps DuplicateCount instead of creating a second row.
type WebhookNotification struct {
	ID             uuid.UUID          `json:"id"`
	SubscriptionID uuid.UUID          `json:"subscription_id"`
	ChannelID      string             `json:"channel_id"`
	ResourceID     string             `json:"resource_id"`
	ResourceState  ResourceState      `json:"resource_state"`
	MessageNumber  int64              `json:"message_number"`
	Status         NotificationStatus `json:"status"`
	DuplicateCount int32              `json:"duplicate_count"`
	ErrorDetail    *string            `json:"error_detail,omitempty"`
	ReceivedAt     time.Time          `json:"received_at"`
	ProcessedAt    *time.Time         `json:"processed_at,omitempty"`
}

// CreateNotificationRequest holds parameters for recording a push
type CreateNotificationRequest struct {
	SubscriptionID uuid.UUID
	ChannelID      string
	ResourceID     string
	ResourceState  ResourceState
	MessageNumber  int64
	Status         NotificationStatus
}

// NotificationRepository handles webhook notification persistence
type NotificationRepository struct {
	q DBTX
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(q DBTX) *NotificationRepository {
	return &NotificationRepository{q: q}
}

const notificationColumns = `id, subscription_id, channel_id, resource_id, resource_state,
	message_number, status, duplicate_count, error_detail, received_at, processed_at`

func scanNotification(row pgx.Row) (*WebhookNotification, error) {
	var (
		n           WebhookNotification
		state       string
		status      string
		errorDetail pgtype.Text
		processedAt pgtype.Timestamptz
	)
	err := row.Scan(
		&n.ID, &n.SubscriptionID, &n.ChannelID, &n.ResourceID, &state,
		&n.MessageNumber, &status, &n.DuplicateCount, &errorDetail, &n.ReceivedAt, &processedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	n.ResourceState = ResourceState(state)
	n.Status = NotificationStatus(status)
	n.ErrorDetail = textToPtr(errorDetail)
	n.ProcessedAt = timestamptzToPtr(processedAt)
	return &n, nil
}

// Record inserts a notification row, or bumps the duplicate counter when the
// (channel_id, message_number) pair was already recorded. The returned bool
// reports whether a fresh row was inserted.
func (r *NotificationRepository) Record(ctx context.Context, req CreateNotificationRequest) (*WebhookNotification, bool, error) {
	row := r.q.QueryRow(ctx, `
		INSERT INTO webhook_notifications
			(subscription_id, channel_id, resource_id, resource_state, message_number, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (channel_id, message_number) DO UPDATE
			SET duplicate_count = webhook_notifications.duplicate_count + 1
		RETURNING `+notificationColumns,
		req.SubscriptionID, req.ChannelID, req.ResourceID,
		string(req.ResourceState), req.MessageNumber, string(req.Status),
	)
	n, err := scanNotification(row)
	if err != nil {
		return nil, false, err
	}
	return n, n.DuplicateCount == 0, nil
}

// MarkProcessed records a terminal successful outcome
func (r *NotificationRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return r.setTerminal(ctx, id, NotificationStatusProcessed, nil)
}

// MarkFailed records a terminal failure with detail
func (r *NotificationRepository) MarkFailed(ctx context.Context, id uuid.UUID, detail string) error {
	return r.setTerminal(ctx, id, NotificationStatusFailed, &detail)
}

// MarkDuplicate closes out a notification whose message number turned out to
// be behind the channel watermark, so it never counts as pending work
func (r *NotificationRepository) MarkDuplicate(ctx context.Context, id uuid.UUID) error {
	return r.setTerminal(ctx, id, NotificationStatusDuplicate, nil)
}

func (r *NotificationRepository) setTerminal(ctx context.Context, id uuid.UUID, status NotificationStatus, detail *string) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE webhook_notifications
		SET status = $2, error_detail = $3, processed_at = now()
		WHERE id = $1`,
		id, string(status), ptrToText(detail))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// MarkPendingProcessed closes out all pending notifications for a
// subscription after a sync pass applied their deltas. Returns the number of
// rows closed.
func (r *NotificationRepository) MarkPendingProcessed(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE webhook_notifications
		SET status = 'processed', processed_at = now()
		WHERE subscription_id = $1 AND status = 'pending'`,
		subscriptionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListBySubscription retrieves recent notifications for a subscription
func (r *NotificationRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int32) ([]WebhookNotification, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+notificationColumns+` FROM webhook_notifications
		WHERE subscription_id = $1
		ORDER BY received_at DESC
		LIMIT $2`,
		subscriptionID, limit)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

// CountByStatusSince returns notification counts by status for a subscription
// within a rolling window. Used by the health monitor.
func (r *NotificationRepository) CountByStatusSince(ctx context.Context, subscriptionID uuid.UUID, since time.Time) (map[NotificationStatus]int64, error) {
	rows, err := r.q.Query(ctx, `
		SELECT status, count(*) FROM webhook_notifications
		WHERE subscription_id = $1 AND received_at >= $2
		GROUP BY status`,
		subscriptionID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[NotificationStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[NotificationStatus(status)] = n
	}
	return counts, rows.Err()
}

// DeleteTerminalOlderThan trims the notification log, keeping pending rows.
// Returns the number of rows removed.
func (r *NotificationRepository) DeleteTerminalOlderThan(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		DELETE FROM webhook_notifications
		WHERE received_at < $1 AND status != 'pending'`,
		before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *NotificationRepository) scanAll(rows pgx.Rows) ([]WebhookNotification, error) {
	defer rows.Close()
	var notes []WebhookNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}
