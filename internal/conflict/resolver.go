// Package conflict arbitrates between a locally modified appointment and its
// externally modified mirror. Divergence is detected against the watermarks
// captured at the last successful reconciliation; the default policy is
// last-write-wins with ties resolving to the local side so the engine never
// overwrites an appointment with an echo of its own outbound change.
package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/calendar"
	"github.com/c50bossio/6fb-booking-sub006/internal/logger"
	"github.com/c50bossio/6fb-booking-sub006/internal/repository"

	"github.com/google/uuid"
)

// appointmentStore defines the methods needed from the appointment repository
// (for testability)
type appointmentStore interface {
	UpdateFromExternal(ctx context.Context, id uuid.UUID, fields repository.ExternalFields) (*repository.Appointment, error)
	AdvanceWatermarks(ctx context.Context, id uuid.UUID, externalModifiedAt, localModifiedAt time.Time) error
	MarkNeedsReview(ctx context.Context, id uuid.UUID, needsReview bool) error
	GetModifiedSince(ctx context.Context, calendarID string, since time.Time) ([]repository.Appointment, error)
}

// conflictStore defines the methods needed from the conflict repository
type conflictStore interface {
	Create(ctx context.Context, req repository.CreateConflictRequest) (*repository.ConflictResolution, error)
}

// eventMutator pushes the winning local version back to the provider
type eventMutator interface {
	UpdateEvent(ctx context.Context, userID uuid.UUID, calendarID, eventID string, patch calendar.EventPatch) error
}

// Resolver applies the conflict policy
type Resolver struct {
	appointments appointmentStore
	conflicts    conflictStore
	client       eventMutator
}

// NewResolver creates a conflict resolver
func NewResolver(appointments *repository.AppointmentRepository, conflicts *repository.ConflictRepository, client calendar.Client) *Resolver {
	return &Resolver{appointments: appointments, conflicts: conflicts, client: client}
}

// Diverged reports whether both sides changed since the last reconciliation.
// An appointment that was never reconciled cannot diverge; the external
// version simply applies.
func Diverged(appt *repository.Appointment, ev calendar.Event) bool {
	if appt.LastSyncedExternalModifiedAt == nil || appt.LastSyncedLocalModifiedAt == nil {
		return false
	}
	externalChanged := ev.UpdatedAt.After(*appt.LastSyncedExternalModifiedAt)
	localChanged := appt.UpdatedAt.After(*appt.LastSyncedLocalModifiedAt)
	return externalChanged && localChanged
}

// Resolve arbitrates one divergence and records exactly one
// ConflictResolution row. syncEventID links the record to the sync pass that
// detected it.
func (r *Resolver) Resolve(ctx context.Context, sub *repository.WebhookSubscription, appt *repository.Appointment, ev calendar.Event, syncEventID uuid.UUID) (*repository.ConflictResolution, error) {
	localSnapshot, err := json.Marshal(appt)
	if err != nil {
		return nil, fmt.Errorf("snapshot local version: %w", err)
	}
	externalSnapshot, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("snapshot external version: %w", err)
	}

	req := repository.CreateConflictRequest{
		SyncEventID:      syncEventID,
		AppointmentID:    appt.ID,
		SubscriptionID:   sub.ID,
		LocalSnapshot:    localSnapshot,
		ExternalSnapshot: externalSnapshot,
	}

	// Both sides cancelled cannot be auto-merged: the cancellation metadata
	// differs and neither side is safe to overwrite
	if ev.Cancelled() && appt.Status == repository.AppointmentStatusCancelled {
		req.Strategy = repository.StrategyManualQueue
		if err := r.appointments.MarkNeedsReview(ctx, appt.ID, true); err != nil {
			return nil, fmt.Errorf("mark needs review: %w", err)
		}
		record, err := r.conflicts.Create(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("record conflict: %w", err)
		}
		logger.Warn().
			Str("appointmentId", appt.ID.String()).
			Str("conflictId", record.ID.String()).
			Msg("both sides cancelled, queued for manual review")
		return record, nil
	}

	req.Strategy = repository.StrategyLastWriteWins
	req.Resolved = true

	if ev.UpdatedAt.After(appt.UpdatedAt) {
		winner := repository.WinnerExternal
		req.Winner = &winner
		if _, err := r.appointments.UpdateFromExternal(ctx, appt.ID, repository.ExternalFields{
			Title:              ev.Title,
			StartsAt:           ev.StartsAt,
			EndsAt:             ev.EndsAt,
			ExternalModifiedAt: ev.UpdatedAt,
		}); err != nil {
			return nil, fmt.Errorf("apply external version: %w", err)
		}
	} else {
		// Local wins on a tie too: an equal timestamp means the external
		// change was our own mirror write coming back
		winner := repository.WinnerLocal
		req.Winner = &winner

		if appt.UpdatedAt.After(ev.UpdatedAt) {
			if err := r.client.UpdateEvent(ctx, sub.UserID, sub.CalendarID, ev.ID, calendar.EventPatch{
				Title:    appt.Title,
				StartsAt: appt.StartsAt,
				EndsAt:   appt.EndsAt,
			}); err != nil {
				return nil, fmt.Errorf("mirror local version: %w", err)
			}
		}

		if err := r.appointments.AdvanceWatermarks(ctx, appt.ID, ev.UpdatedAt, appt.UpdatedAt); err != nil {
			return nil, fmt.Errorf("advance watermarks: %w", err)
		}
	}

	record, err := r.conflicts.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("record conflict: %w", err)
	}

	logger.Info().
		Str("appointmentId", appt.ID.String()).
		Str("winner", *req.Winner).
		Time("localModifiedAt", appt.UpdatedAt).
		Time("externalModifiedAt", ev.UpdatedAt).
		Msg("conflict resolved")

	return record, nil
}

// SweepLocalChanges mirrors outbound every appointment whose local version
// moved past its reconciliation watermark. Runs during a full resync, where
// the provider listing carries no signal about local-only edits; events the
// pass already reconciled are excluded via seen. Returns the number of
// appointments mirrored.
func (r *Resolver) SweepLocalChanges(ctx context.Context, sub *repository.WebhookSubscription, since time.Time, seen map[string]struct{}) (int, error) {
	modified, err := r.appointments.GetModifiedSince(ctx, sub.CalendarID, since)
	if err != nil {
		return 0, fmt.Errorf("list locally modified appointments: %w", err)
	}

	mirrored := 0
	for i := range modified {
		appt := &modified[i]
		if appt.ExternalEventID == nil || appt.Status == repository.AppointmentStatusCancelled {
			continue
		}
		if _, ok := seen[*appt.ExternalEventID]; ok {
			continue
		}
		if appt.LastSyncedLocalModifiedAt == nil || !appt.UpdatedAt.After(*appt.LastSyncedLocalModifiedAt) {
			continue
		}

		if err := r.client.UpdateEvent(ctx, sub.UserID, sub.CalendarID, *appt.ExternalEventID, calendar.EventPatch{
			Title:    appt.Title,
			StartsAt: appt.StartsAt,
			EndsAt:   appt.EndsAt,
		}); err != nil {
			// Isolated like per-event apply errors; the next full resync
			// retries as long as the watermark lags
			logger.Warn().Err(err).
				Str("appointmentId", appt.ID.String()).
				Msg("failed to mirror local change outbound")
			continue
		}

		extWatermark := appt.UpdatedAt
		if appt.LastSyncedExternalModifiedAt != nil {
			extWatermark = *appt.LastSyncedExternalModifiedAt
		}
		if err := r.appointments.AdvanceWatermarks(ctx, appt.ID, extWatermark, appt.UpdatedAt); err != nil {
			return mirrored, fmt.Errorf("advance watermarks: %w", err)
		}
		mirrored++
	}
	return mirrored, nil
}
