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

// SubscriptionStatus represents the lifecycle state of a push channel
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusExpiring SubscriptionStatus = "expiring"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
	SubscriptionStatusFailed   SubscriptionStatus = "failed"
	SubscriptionStatusRevoked  SubscriptionStatus = "revoked"
)

// WebhookSubscription represents one push-notification channel bound to a
// (user, external calendar) pair. At most one row per pair is active; the
// channel ID is globally unique and never reused.
type WebhookSubscription struct {
	ID                   uuid.UUID          `json:"id"`
	UserID               uuid.UUID          `json:"user_id"`
	CalendarID           string             `json:"calendar_id"`
	ChannelID            string             `json:"channel_id"`
	ResourceID           string             `json:"resource_id"`
	SyncToken            *string            `json:"-"`
	Status               SubscriptionStatus `json:"status"`
	ExpiresAt            time.Time          `json:"expires_at"`
	LastNotificationAt   *time.Time         `json:"last_notification_at,omitempty"`
	LastMessageNumber    int64              `json:"last_message_number"`
	RenewalAttempts      int32              `json:"renewal_attempts"`
	NextRenewalAttemptAt *time.Time         `json:"next_renewal_attempt_at,omitempty"`
	LastError            *string            `json:"last_error,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// CreateSubscriptionRequest holds parameters for persisting a new channel
type CreateSubscriptionRequest struct {
	UserID     uuid.UUID
	CalendarID string
	ChannelID  string
	ResourceID string
	SyncToken  *string
	ExpiresAt  time.Time
}

// SubscriptionRepository handles webhook subscription persistence
type SubscriptionRepository struct {
	q DBTX
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(q DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{q: q}
}

const subscriptionColumns = `id, user_id, calendar_id, channel_id, resource_id, sync_token,
	status, expires_at, last_notification_at, last_message_number,
	renewal_attempts, next_renewal_attempt_at, last_error, created_at, updated_at`

func scanSubscription(row pgx.Row) (*WebhookSubscription, error) {
	var (
		s           WebhookSubscription
		syncToken   pgtype.Text
		lastNotif   pgtype.Timestamptz
		nextAttempt pgtype.Timestamptz
		lastError   pgtype.Text
		status      string
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.CalendarID, &s.ChannelID, &s.ResourceID, &syncToken,
		&status, &s.ExpiresAt, &lastNotif, &s.LastMessageNumber,
		&s.RenewalAttempts, &nextAttempt, &lastError, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	s.SyncToken = textToPtr(syncToken)
	s.Status = SubscriptionStatus(status)
	s.LastNotificationAt = timestamptzToPtr(lastNotif)
	s.NextRenewalAttemptAt = timestamptzToPtr(nextAttempt)
	s.LastError = textToPtr(lastError)
	return &s, nil
}

func (r *SubscriptionRepository) scanAll(rows pgx.Rows) ([]WebhookSubscription, error) {
	defer rows.Close()
	var subs []WebhookSubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

// Create persists a new active subscription
func (r *SubscriptionRepository) Create(ctx context.Context, req CreateSubscriptionRequest) (*WebhookSubscription, error) {
	row := r.q.QueryRow(ctx, `
		INSERT INTO webhook_subscriptions
			(user_id, calendar_id, channel_id, resource_id, sync_token, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+subscriptionColumns,
		req.UserID, req.CalendarID, req.ChannelID, req.ResourceID,
		ptrToText(req.SyncToken), string(SubscriptionStatusActive), req.ExpiresAt,
	)
	return scanSubscription(row)
}

// GetByID retrieves a subscription by ID
func (r *SubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*WebhookSubscription, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

// GetByChannelID retrieves a subscription by its channel ID
func (r *SubscriptionRepository) GetByChannelID(ctx context.Context, channelID string) (*WebhookSubscription, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE channel_id = $1`, channelID)
	return scanSubscription(row)
}

// GetActive retrieves the active subscription for a (user, calendar) pair
func (r *SubscriptionRepository) GetActive(ctx context.Context, userID uuid.UUID, calendarID string) (*WebhookSubscription, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE user_id = $1 AND calendar_id = $2 AND status IN ('active', 'expiring')`,
		userID, calendarID)
	return scanSubscription(row)
}

// ListByUser retrieves all subscriptions for a user
func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]WebhookSubscription, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

// ListAll retrieves all subscriptions
func (r *SubscriptionRepository) ListAll(ctx context.Context) ([]WebhookSubscription, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

// UpdateStatus updates the status and optional error message of a subscription
func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status SubscriptionStatus, lastError *string) (*WebhookSubscription, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE webhook_subscriptions
		SET status = $2, last_error = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+subscriptionColumns,
		id, string(status), ptrToText(lastError))
	return scanSubscription(row)
}

// UpdateSyncToken stores a new sync cursor (nil clears it, forcing a full resync)
func (r *SubscriptionRepository) UpdateSyncToken(ctx context.Context, id uuid.UUID, token *string) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE webhook_subscriptions SET sync_token = $2, updated_at = now() WHERE id = $1`,
		id, ptrToText(token))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// MarkNotified records an inbound push for dedup purposes. It succeeds only
// when messageNumber is strictly greater than the highest number seen on the
// channel, making duplicate and out-of-order deliveries detectable in one
// atomic statement.
func (r *SubscriptionRepository) MarkNotified(ctx context.Context, channelID string, messageNumber int64, at time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE webhook_subscriptions
		SET last_message_number = $2, last_notification_at = $3, updated_at = now()
		WHERE channel_id = $1 AND last_message_number < $2`,
		channelID, messageNumber, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReplaceChannel swaps in a freshly created provider channel after a renewal.
// The sync token is preserved so incremental sync continues across channels.
func (r *SubscriptionRepository) ReplaceChannel(ctx context.Context, id uuid.UUID, channelID, resourceID string, expiresAt time.Time) (*WebhookSubscription, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE webhook_subscriptions
		SET channel_id = $2, resource_id = $3, expires_at = $4,
			status = 'active', renewal_attempts = 0,
			next_renewal_attempt_at = NULL, last_error = NULL, updated_at = now()
		WHERE id = $1
		RETURNING `+subscriptionColumns,
		id, channelID, resourceID, expiresAt)
	return scanSubscription(row)
}

// ListRenewalDue returns subscriptions whose channel expires within the
// window plus claimed renewals whose retry time has come.
func (r *SubscriptionRepository) ListRenewalDue(ctx context.Context, now, windowEnd time.Time, limit int32) ([]WebhookSubscription, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE (status = 'active' AND expires_at <= $2)
		   OR (status = 'expiring' AND next_renewal_attempt_at <= $1)
		ORDER BY expires_at
		LIMIT $3`,
		now, windowEnd, limit)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

// ClaimForRenewal atomically claims a subscription for renewal by one worker
// replica. The claim moves the row to EXPIRING and parks the next attempt
// time, so a concurrent replica running the same query gets zero rows.
func (r *SubscriptionRepository) ClaimForRenewal(ctx context.Context, id uuid.UUID, now, windowEnd, retryNotBefore time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE webhook_subscriptions
		SET status = 'expiring', next_renewal_attempt_at = $4, updated_at = now()
		WHERE id = $1
		  AND ((status = 'active' AND expires_at <= $3)
		    OR (status = 'expiring' AND next_renewal_attempt_at <= $2))`,
		id, now, windowEnd, retryNotBefore)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RecordRenewalFailure bumps the attempt counter and schedules the next try,
// or marks the subscription failed when the retry budget is spent.
func (r *SubscriptionRepository) RecordRenewalFailure(ctx context.Context, id uuid.UUID, nextAttempt *time.Time, failed bool, lastError string) error {
	status := SubscriptionStatusExpiring
	if failed {
		status = SubscriptionStatusFailed
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE webhook_subscriptions
		SET renewal_attempts = renewal_attempts + 1,
			next_renewal_attempt_at = $2, status = $3, last_error = $4, updated_at = now()
		WHERE id = $1`,
		id, ptrToTimestamptz(nextAttempt), string(status), lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// SweepExpired transitions any channel past its expiry with no successful
// renewal into EXPIRED so stale channels never accumulate.
func (r *SubscriptionRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE webhook_subscriptions
		SET status = 'expired', updated_at = now()
		WHERE status IN ('active', 'expiring') AND expires_at <= $1`,
		now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountByStatus returns subscription counts grouped by status
func (r *SubscriptionRepository) CountByStatus(ctx context.Context) (map[SubscriptionStatus]int64, error) {
	rows, err := r.q.Query(ctx,
		`SELECT status, count(*) FROM webhook_subscriptions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[SubscriptionStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[SubscriptionStatus(status)] = n
	}
	return counts, rows.Err()
}
