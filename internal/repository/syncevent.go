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

// SyncOperation is the operation derived for one external event during a pass
type SyncOperation string

const (
	SyncOperationCreate SyncOperation = "create"
	SyncOperationUpdate SyncOperation = "update"
	SyncOperationCancel SyncOperation = "cancel"
	SyncOperationSkip   SyncOperation = "skip"
)

// SyncOutcome is the terminal result of applying one external event
type SyncOutcome string

const (
	SyncOutcomeApplied  SyncOutcome = "applied"
	SyncOutcomeConflict SyncOutcome = "conflict"
	SyncOutcomeError    SyncOutcome = "error"
)

// SyncEvent records the outcome of applying a single external event to the
// local appointment store during a sync pass.
type SyncEvent struct {
	ID              uuid.UUID     `json:"id"`
	SubscriptionID  uuid.UUID     `json:"subscription_id"`
	ExternalEventID string        `json:"external_event_id"`
	AppointmentID   *uuid.UUID    `json:"appointment_id,omitempty"`
	Operation       SyncOperation `json:"operation"`
	Outcome         SyncOutcome   `json:"outcome"`
	Detail          *string       `json:"detail,omitempty"`
	AppliedAt       time.Time     `json:"applied_at"`
}

// CreateSyncEventRequest holds parameters for recording a sync event
type CreateSyncEventRequest struct {
	SubscriptionID  uuid.UUID
	ExternalEventID string
	AppointmentID   *uuid.UUID
	Operation       SyncOperation
	Outcome         SyncOutcome
	Detail          *string
}

// SyncEventRepository handles sync event persistence
type SyncEventRepository struct {
	q DBTX
}

// NewSyncEventRepository creates a new sync event repository
func NewSyncEventRepository(q DBTX) *SyncEventRepository {
	return &SyncEventRepository{q: q}
}

const syncEventColumns = `id, subscription_id, external_event_id, appointment_id,
	operation, outcome, detail, applied_at`

func scanSyncEvent(row pgx.Row) (*SyncEvent, error) {
	var (
		e             SyncEvent
		appointmentID pgtype.UUID
		operation     string
		outcome       string
		detail        pgtype.Text
	)
	err := row.Scan(
		&e.ID, &e.SubscriptionID, &e.ExternalEventID, &appointmentID,
		&operation, &outcome, &detail, &e.AppliedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	if appointmentID.Valid {
		id := uuid.UUID(appointmentID.Bytes)
		e.AppointmentID = &id
	}
	e.Operation = SyncOperation(operation)
	e.Outcome = SyncOutcome(outcome)
	e.Detail = textToPtr(detail)
	return &e, nil
}

// Create records a sync event
func (r *SyncEventRepository) Create(ctx context.Context, req CreateSyncEventRequest) (*SyncEvent, error) {
	var appointmentID pgtype.UUID
	if req.AppointmentID != nil {
		appointmentID = pgtype.UUID{Bytes: *req.AppointmentID, Valid: true}
	}
	row := r.q.QueryRow(ctx, `
		INSERT INTO sync_events
			(subscription_id, external_event_id, appointment_id, operation, outcome, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+syncEventColumns,
		req.SubscriptionID, req.ExternalEventID, appointmentID,
		string(req.Operation), string(req.Outcome), ptrToText(req.Detail),
	)
	return scanSyncEvent(row)
}

// GetByID retrieves a sync event by ID
func (r *SyncEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*SyncEvent, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+syncEventColumns+` FROM sync_events WHERE id = $1`, id)
	return scanSyncEvent(row)
}

// ListBySubscription retrieves sync events for a subscription, newest first
func (r *SyncEventRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit, offset int32) ([]SyncEvent, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+syncEventColumns+` FROM sync_events
		WHERE subscription_id = $1
		ORDER BY applied_at DESC
		LIMIT $2 OFFSET $3`,
		subscriptionID, limit, offset)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

// CountBySubscription returns the number of sync events for a subscription
func (r *SyncEventRepository) CountBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	var n int64
	err := r.q.QueryRow(ctx,
		`SELECT count(*) FROM sync_events WHERE subscription_id = $1`, subscriptionID).Scan(&n)
	return n, err
}

// ListRecentErrors retrieves the most recent error outcomes across all
// subscriptions, for the management surface.
func (r *SyncEventRepository) ListRecentErrors(ctx context.Context, limit int32) ([]SyncEvent, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+syncEventColumns+` FROM sync_events
		WHERE outcome = 'error'
		ORDER BY applied_at DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

// CountOutcomesSince returns sync event counts by outcome for a subscription
// within a rolling window. Used by the health monitor.
func (r *SyncEventRepository) CountOutcomesSince(ctx context.Context, subscriptionID uuid.UUID, since time.Time) (map[SyncOutcome]int64, error) {
	rows, err := r.q.Query(ctx, `
		SELECT outcome, count(*) FROM sync_events
		WHERE subscription_id = $1 AND applied_at >= $2
		GROUP BY outcome`,
		subscriptionID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[SyncOutcome]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[SyncOutcome(outcome)] = n
	}
	return counts, rows.Err()
}

func (r *SyncEventRepository) scanAll(rows pgx.Rows) ([]SyncEvent, error) {
	defer rows.Close()
	var events []SyncEvent
	for rows.Next() {
		e, err := scanSyncEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}
