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

// ConflictStrategy is the policy applied when both sides of an appointment
// changed since the last sync.
type ConflictStrategy string

const (
	StrategyLastWriteWins ConflictStrategy = "last_write_wins"
	StrategyLocalWins     ConflictStrategy = "local_wins"
	StrategyExternalWins  ConflictStrategy = "external_wins"
	StrategyManualQueue   ConflictStrategy = "manual_queue"
)

// ConflictResolution records one detected conflict and how it was resolved.
// Snapshots capture both versions as they stood at detection time.
type ConflictResolution struct {
	ID               uuid.UUID        `json:"id"`
	SyncEventID      uuid.UUID        `json:"sync_event_id"`
	AppointmentID    uuid.UUID        `json:"appointment_id"`
	SubscriptionID   uuid.UUID        `json:"subscription_id"`
	Strategy         ConflictStrategy `json:"strategy"`
	Winner           *string          `json:"winner,omitempty"`
	LocalSnapshot    []byte           `json:"local_snapshot"`
	ExternalSnapshot []byte           `json:"external_snapshot"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy       *string          `json:"resolved_by,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Winner values recorded on resolved conflicts
const (
	WinnerLocal    = "local"
	WinnerExternal = "external"
)

// CreateConflictRequest holds parameters for recording a conflict
type CreateConflictRequest struct {
	SyncEventID      uuid.UUID
	AppointmentID    uuid.UUID
	SubscriptionID   uuid.UUID
	Strategy         ConflictStrategy
	Winner           *string
	LocalSnapshot    []byte
	ExternalSnapshot []byte
	Resolved         bool
}

// ConflictRepository handles conflict resolution persistence
type ConflictRepository struct {
	q DBTX
}

// NewConflictRepository creates a new conflict repository
func NewConflictRepository(q DBTX) *ConflictRepository {
	return &ConflictRepository{q: q}
}

const conflictColumns = `id, sync_event_id, appointment_id, subscription_id, strategy, winner,
	local_snapshot, external_snapshot, resolved_at, resolved_by, created_at`

func scanConflict(row pgx.Row) (*ConflictResolution, error) {
	var (
		c          ConflictResolution
		strategy   string
		winner     pgtype.Text
		resolvedAt pgtype.Timestamptz
		resolvedBy pgtype.Text
	)
	err := row.Scan(
		&c.ID, &c.SyncEventID, &c.AppointmentID, &c.SubscriptionID, &strategy, &winner,
		&c.LocalSnapshot, &c.ExternalSnapshot, &resolvedAt, &resolvedBy, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	c.Strategy = ConflictStrategy(strategy)
	c.Winner = textToPtr(winner)
	c.ResolvedAt = timestamptzToPtr(resolvedAt)
	c.ResolvedBy = textToPtr(resolvedBy)
	return &c, nil
}

// Create records a conflict. Auto-resolved conflicts carry a winner and are
// stamped resolved immediately; manual-queue conflicts stay open until
// Resolve is called.
func (r *ConflictRepository) Create(ctx context.Context, req CreateConflictRequest) (*ConflictResolution, error) {
	var resolvedAt pgtype.Timestamptz
	var resolvedBy pgtype.Text
	if req.Resolved {
		resolvedAt = pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true}
		resolvedBy = pgtype.Text{String: "system", Valid: true}
	}
	row := r.q.QueryRow(ctx, `
		INSERT INTO conflict_resolutions
			(sync_event_id, appointment_id, subscription_id, strategy, winner,
			 local_snapshot, external_snapshot, resolved_at, resolved_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+conflictColumns,
		req.SyncEventID, req.AppointmentID, req.SubscriptionID, string(req.Strategy), ptrToText(req.Winner),
		req.LocalSnapshot, req.ExternalSnapshot, resolvedAt, resolvedBy,
	)
	return scanConflict(row)
}

// GetByID retrieves a conflict by ID
func (r *ConflictRepository) GetByID(ctx context.Context, id uuid.UUID) (*ConflictResolution, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+conflictColumns+` FROM conflict_resolutions WHERE id = $1`, id)
	return scanConflict(row)
}

// ListPending retrieves unresolved conflicts awaiting manual review,
// oldest first.
func (r *ConflictRepository) ListPending(ctx context.Context, limit int32) ([]ConflictResolution, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+conflictColumns+` FROM conflict_resolutions
		WHERE resolved_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

// ListByAppointment retrieves the conflict history for an appointment
func (r *ConflictRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]ConflictResolution, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+conflictColumns+` FROM conflict_resolutions
		WHERE appointment_id = $1
		ORDER BY created_at DESC`,
		appointmentID)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

// Resolve closes a pending conflict with the chosen winner. Returns
// db.ErrNotFound when the conflict does not exist or was already resolved.
func (r *ConflictRepository) Resolve(ctx context.Context, id uuid.UUID, winner, resolvedBy string) (*ConflictResolution, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE conflict_resolutions
		SET winner = $2, resolved_at = now(), resolved_by = $3
		WHERE id = $1 AND resolved_at IS NULL
		RETURNING `+conflictColumns,
		id, winner, resolvedBy)
	return scanConflict(row)
}

// CountPendingSince returns the number of conflicts queued for manual review
// within a rolling window. Used by the health monitor.
func (r *ConflictRepository) CountPendingSince(ctx context.Context, subscriptionID uuid.UUID, since time.Time) (int64, error) {
	var n int64
	err := r.q.QueryRow(ctx, `
		SELECT count(*) FROM conflict_resolutions
		WHERE subscription_id = $1 AND resolved_at IS NULL AND created_at >= $2`,
		subscriptionID, since).Scan(&n)
	return n, err
}

func (r *ConflictRepository) scanAll(rows pgx.Rows) ([]ConflictResolution, error) {
	defer rows.Close()
	var conflicts []ConflictResolution
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, *c)
	}
	return conflicts, rows.Err()
}
