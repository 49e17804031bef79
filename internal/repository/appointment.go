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

// AppointmentStatus mirrors the booking platform's status values
type AppointmentStatus string

const (
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// Appointment is the slice of the booking platform's appointment row the sync
// engine is allowed to touch: the time window, status, title, and the
// mirroring metadata. Business fields (service, price, client) stay out.
type Appointment struct {
	ID              uuid.UUID         `json:"id"`
	UserID          uuid.UUID         `json:"user_id"`
	CalendarID      *string           `json:"calendar_id,omitempty"`
	ExternalEventID *string           `json:"external_event_id,omitempty"`
	Title           string            `json:"title"`
	StartsAt        time.Time         `json:"starts_at"`
	EndsAt          time.Time         `json:"ends_at"`
	Status          AppointmentStatus `json:"status"`
	NeedsReview     bool              `json:"needs_review"`

	// Watermarks captured at the last successful reconciliation
	LastSyncedExternalModifiedAt *time.Time `json:"last_synced_external_modified_at,omitempty"`
	LastSyncedLocalModifiedAt    *time.Time `json:"last_synced_local_modified_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExternalFields is the mirrored field set applied from an external event
type ExternalFields struct {
	Title              string
	StartsAt           time.Time
	EndsAt             time.Time
	ExternalModifiedAt time.Time
}

// AppointmentRepository implements the local appointment store contract
// against the platform's appointments table.
type AppointmentRepository struct {
	q DBTX
}

// NewAppointmentRepository creates a new appointment repository
func NewAppointmentRepository(q DBTX) *AppointmentRepository {
	return &AppointmentRepository{q: q}
}

const appointmentColumns = `id, user_id, calendar_id, external_event_id, title,
	starts_at, ends_at, status, needs_review,
	last_synced_external_modified_at, last_synced_local_modified_at,
	created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a          Appointment
		calendarID pgtype.Text
		eventID    pgtype.Text
		status     string
		extSynced  pgtype.Timestamptz
		locSynced  pgtype.Timestamptz
	)
	err := row.Scan(
		&a.ID, &a.UserID, &calendarID, &eventID, &a.Title,
		&a.StartsAt, &a.EndsAt, &status, &a.NeedsReview,
		&extSynced, &locSynced,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	a.CalendarID = textToPtr(calendarID)
	a.ExternalEventID = textToPtr(eventID)
	a.Status = AppointmentStatus(status)
	a.LastSyncedExternalModifiedAt = timestamptzToPtr(extSynced)
	a.LastSyncedLocalModifiedAt = timestamptzToPtr(locSynced)
	return &a, nil
}

// GetByID retrieves an appointment by ID
func (r *AppointmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

// FindByExternalEventID looks up the local appointment mirrored from an
// external event. (calendar_id, external_event_id) is unique per calendar.
func (r *AppointmentRepository) FindByExternalEventID(ctx context.Context, calendarID, externalEventID string) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE calendar_id = $1 AND external_event_id = $2`,
		calendarID, externalEventID)
	return scanAppointment(row)
}

// CreateFromExternal creates a local appointment mirroring an external event.
// Upserts on (calendar_id, external_event_id) so a replayed delta does not
// produce a duplicate row.
func (r *AppointmentRepository) CreateFromExternal(ctx context.Context, userID uuid.UUID, calendarID, externalEventID string, fields ExternalFields) (*Appointment, error) {
	now := time.Now().UTC()
	row := r.q.QueryRow(ctx, `
		INSERT INTO appointments
			(user_id, calendar_id, external_event_id, title, starts_at, ends_at, status,
			 last_synced_external_modified_at, last_synced_local_modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'confirmed', $7, $8)
		ON CONFLICT (calendar_id, external_event_id) DO UPDATE SET
			title = EXCLUDED.title,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			last_synced_external_modified_at = EXCLUDED.last_synced_external_modified_at,
			last_synced_local_modified_at = EXCLUDED.last_synced_local_modified_at,
			updated_at = now()
		RETURNING `+appointmentColumns,
		userID, calendarID, externalEventID, fields.Title, fields.StartsAt, fields.EndsAt,
		fields.ExternalModifiedAt, now,
	)
	return scanAppointment(row)
}

// UpdateFromExternal overwrites the mirrored fields with the external version
// and advances both watermarks.
func (r *AppointmentRepository) UpdateFromExternal(ctx context.Context, id uuid.UUID, fields ExternalFields) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET title = $2,
			starts_at = $3,
			ends_at = $4,
			status = 'confirmed',
			last_synced_external_modified_at = $5,
			last_synced_local_modified_at = now(),
			updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, fields.Title, fields.StartsAt, fields.EndsAt, fields.ExternalModifiedAt,
	)
	return scanAppointment(row)
}

// CancelFromExternal marks an appointment cancelled because the external
// event was cancelled or disappeared.
func (r *AppointmentRepository) CancelFromExternal(ctx context.Context, id uuid.UUID, externalModifiedAt time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			last_synced_external_modified_at = $2,
			last_synced_local_modified_at = now(),
			updated_at = now()
		WHERE id = $1`,
		id, externalModifiedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// AdvanceWatermarks records a successful reconciliation without touching the
// mirrored fields. Used when the local version wins a conflict.
func (r *AppointmentRepository) AdvanceWatermarks(ctx context.Context, id uuid.UUID, externalModifiedAt, localModifiedAt time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE appointments
		SET last_synced_external_modified_at = $2,
			last_synced_local_modified_at = $3
		WHERE id = $1`,
		id, externalModifiedAt, localModifiedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// MarkNeedsReview flags an appointment for manual attention. Sync metadata,
// not a content change, so updated_at stays put and the flag never reads as
// a fresh local edit to the divergence check.
func (r *AppointmentRepository) MarkNeedsReview(ctx context.Context, id uuid.UUID, needsReview bool) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE appointments SET needs_review = $2 WHERE id = $1`,
		id, needsReview)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// GetModifiedSince retrieves appointments on a calendar whose local
// modification is newer than the given watermark. Feeds the resolver's
// outbound sweep during full resyncs.
func (r *AppointmentRepository) GetModifiedSince(ctx context.Context, calendarID string, watermark time.Time) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE calendar_id = $1 AND updated_at > $2
		ORDER BY updated_at ASC`,
		calendarID, watermark)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

// ListMirrored retrieves every non-cancelled appointment mirrored from a
// calendar. Used by full resync to diff against the provider's listing.
func (r *AppointmentRepository) ListMirrored(ctx context.Context, calendarID string) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE calendar_id = $1 AND external_event_id IS NOT NULL
			AND status != 'cancelled'
		ORDER BY starts_at ASC`,
		calendarID)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *AppointmentRepository) scanAll(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()
	var appts []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, *a)
	}
	return appts, rows.Err()
}
