// Package engine runs incremental sync passes. Within one subscription,
// passes are strictly serialized: an in-process guard coalesces concurrent
// triggers and a Postgres advisory lock serializes across replicas. The sync
// cursor is stored only after a whole batch applies, so an interrupted pass
// leaves the pre-pass cursor intact and the next pass re-fetches the delta.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/calendar"
	"github.com/c50bossio/6fb-booking-sub006/internal/config"
	"github.com/c50bossio/6fb-booking-sub006/internal/conflict"
	"github.com/c50bossio/6fb-booking-sub006/internal/db"
	"github.com/c50bossio/6fb-booking-sub006/internal/logger"
	"github.com/c50bossio/6fb-booking-sub006/internal/repository"

	"github.com/google/uuid"
)

// backoffIntervals defines the wait before each retry of an aborted pass
var backoffIntervals = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

// SyncSummary aggregates the outcomes of one sync pass
type SyncSummary struct {
	Applied    int  `json:"applied"`
	Conflicts  int  `json:"conflicts"`
	Errors     int  `json:"errors"`
	Skipped    int  `json:"skipped"`
	FullResync bool `json:"full_resync"`
}

// subscriptionStore defines the methods needed from the subscription
// repository (for testability)
type subscriptionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*repository.WebhookSubscription, error)
	UpdateSyncToken(ctx context.Context, id uuid.UUID, token *string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status repository.SubscriptionStatus, lastError *string) (*repository.WebhookSubscription, error)
}

// appointmentStore defines the methods needed from the appointment repository
type appointmentStore interface {
	FindByExternalEventID(ctx context.Context, calendarID, externalEventID string) (*repository.Appointment, error)
	CreateFromExternal(ctx context.Context, userID uuid.UUID, calendarID, externalEventID string, fields repository.ExternalFields) (*repository.Appointment, error)
	UpdateFromExternal(ctx context.Context, id uuid.UUID, fields repository.ExternalFields) (*repository.Appointment, error)
	CancelFromExternal(ctx context.Context, id uuid.UUID, externalModifiedAt time.Time) error
	ListMirrored(ctx context.Context, calendarID string) ([]repository.Appointment, error)
}

// syncEventStore records per-event outcomes
type syncEventStore interface {
	Create(ctx context.Context, req repository.CreateSyncEventRequest) (*repository.SyncEvent, error)
}

// notificationStore closes out pending notifications after a pass
type notificationStore interface {
	MarkPendingProcessed(ctx context.Context, subscriptionID uuid.UUID) (int64, error)
}

// resolver arbitrates divergent updates and mirrors local-only edits during
// full resyncs
type resolver interface {
	Resolve(ctx context.Context, sub *repository.WebhookSubscription, appt *repository.Appointment, ev calendar.Event, syncEventID uuid.UUID) (*repository.ConflictResolution, error)
	SweepLocalChanges(ctx context.Context, sub *repository.WebhookSubscription, since time.Time, seen map[string]struct{}) (int, error)
}

// advisoryLocker serializes passes across service replicas
type advisoryLocker interface {
	TryLock(ctx context.Context, key uuid.UUID) (unlock func(), acquired bool, err error)
}

// subState guards one subscription's pass serialization in-process
type subState struct {
	running bool
	rerun   bool
}

// Engine executes sync passes and owns the worker pool consuming the queue
type Engine struct {
	subs          subscriptionStore
	appointments  appointmentStore
	syncEvents    syncEventStore
	notifications notificationStore
	client        calendar.Client
	resolver      resolver
	locker        advisoryLocker
	queue         *Queue
	cfg           config.SyncConfig

	mu     sync.Mutex
	states map[uuid.UUID]*subState

	wg sync.WaitGroup
}

// New creates a sync engine
func New(
	subs *repository.SubscriptionRepository,
	appointments *repository.AppointmentRepository,
	syncEvents *repository.SyncEventRepository,
	notifications *repository.NotificationRepository,
	client calendar.Client,
	res *conflict.Resolver,
	locker *db.AdvisoryLocker,
	queue *Queue,
	cfg config.SyncConfig,
) *Engine {
	return &Engine{
		subs:          subs,
		appointments:  appointments,
		syncEvents:    syncEvents,
		notifications: notifications,
		client:        client,
		resolver:      res,
		locker:        locker,
		queue:         queue,
		cfg:           cfg,
		states:        make(map[uuid.UUID]*subState),
	}
}

// Queue returns the engine's task queue for producers
func (e *Engine) Queue() *Queue {
	return e.queue
}

// Start launches the worker pool. Workers drain the queue until ctx is
// cancelled; Stop waits for in-flight passes to finish.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}
	logger.Info().Int("workers", e.cfg.Workers).Msg("sync engine started")
}

// Stop waits for all workers to drain
func (e *Engine) Stop() {
	e.wg.Wait()
	logger.Info().Msg("sync engine stopped")
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case subID := <-e.queue.Tasks():
			e.runWithRetry(ctx, subID)
		}
	}
}

// runWithRetry executes a pass and retries aborted passes with backoff.
// Auth failures that survive the whole backoff schedule mark the
// subscription failed so the platform can raise a reconnect signal.
func (e *Engine) runWithRetry(ctx context.Context, subID uuid.UUID) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		_, err := e.SyncSubscription(ctx, subID)
		if err == nil {
			return
		}
		lastErr = err

		if attempt >= len(backoffIntervals) {
			break
		}

		logger.Warn().
			Err(err).
			Str("subscriptionId", subID.String()).
			Int("attempt", attempt+1).
			Dur("backoff", backoffIntervals[attempt]).
			Msg("sync pass aborted, retrying")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoffIntervals[attempt]):
		}
	}

	logger.Error().
		Err(lastErr).
		Str("subscriptionId", subID.String()).
		Msg("sync pass failed after retries")

	if errors.Is(lastErr, calendar.ErrAuthExpired) {
		msg := lastErr.Error()
		if _, err := e.subs.UpdateStatus(ctx, subID, repository.SubscriptionStatusFailed, &msg); err != nil {
			logger.Error().Err(err).Str("subscriptionId", subID.String()).
				Msg("failed to mark subscription failed")
		}
	}
}

// SyncSubscription runs sync passes for one subscription until no re-run is
// pending. A trigger arriving while a pass runs sets the re-run flag instead
// of racing on the cursor; the flag is consumed right after the current pass.
func (e *Engine) SyncSubscription(ctx context.Context, subID uuid.UUID) (*SyncSummary, error) {
	e.mu.Lock()
	state, ok := e.states[subID]
	if !ok {
		state = &subState{}
		e.states[subID] = state
	}
	if state.running {
		state.rerun = true
		e.mu.Unlock()
		return &SyncSummary{}, nil
	}
	state.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		state.running = false
		// Entries for idle subscriptions are dropped so the map tracks only
		// in-flight work; a trigger racing the exit leaves its entry behind
		// for the next run
		if !state.rerun {
			delete(e.states, subID)
		}
		e.mu.Unlock()
	}()

	unlock, acquired, err := e.locker.TryLock(ctx, subID)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !acquired {
		// Another replica holds the pass; its fresh cursor covers this
		// trigger's delta
		logger.Debug().Str("subscriptionId", subID.String()).
			Msg("sync pass held by another replica, skipping")
		return &SyncSummary{}, nil
	}
	defer unlock()

	total := &SyncSummary{}
	for {
		summary, err := e.runPass(ctx, subID)
		if err != nil {
			return nil, err
		}
		total.Applied += summary.Applied
		total.Conflicts += summary.Conflicts
		total.Errors += summary.Errors
		total.Skipped += summary.Skipped
		total.FullResync = total.FullResync || summary.FullResync

		e.mu.Lock()
		rerun := state.rerun
		state.rerun = false
		e.mu.Unlock()
		if !rerun {
			break
		}
	}
	return total, nil
}

// runPass executes exactly one delta or full-resync pass
func (e *Engine) runPass(ctx context.Context, subID uuid.UUID) (*SyncSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.MaxPassDuration)
	defer cancel()

	sub, err := e.subs.GetByID(ctx, subID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	switch sub.Status {
	case repository.SubscriptionStatusActive, repository.SubscriptionStatusExpiring:
	default:
		logger.Debug().
			Str("subscriptionId", subID.String()).
			Str("status", string(sub.Status)).
			Msg("subscription not syncable, skipping pass")
		return &SyncSummary{}, nil
	}

	started := time.Now()
	var summary *SyncSummary

	if sub.SyncToken == nil || *sub.SyncToken == "" {
		summary, err = e.fullResync(ctx, sub)
	} else {
		summary, err = e.deltaPass(ctx, sub, *sub.SyncToken)
		if errors.Is(err, calendar.ErrInvalidSyncToken) {
			logger.Warn().
				Str("subscriptionId", subID.String()).
				Msg("sync token invalidated, falling back to full resync")
			if clearErr := e.subs.UpdateSyncToken(ctx, sub.ID, nil); clearErr != nil {
				return nil, fmt.Errorf("clear sync token: %w", clearErr)
			}
			summary, err = e.fullResync(ctx, sub)
		}
	}
	if err != nil {
		return nil, err
	}

	if _, err := e.notifications.MarkPendingProcessed(ctx, sub.ID); err != nil {
		logger.Warn().Err(err).Str("subscriptionId", subID.String()).
			Msg("failed to close pending notifications")
	}

	logger.Info().
		Str("subscriptionId", subID.String()).
		Int("applied", summary.Applied).
		Int("conflicts", summary.Conflicts).
		Int("errors", summary.Errors).
		Int("skipped", summary.Skipped).
		Bool("fullResync", summary.FullResync).
		Dur("duration", time.Since(started)).
		Msg("sync pass completed")

	return summary, nil
}

// deltaPass fetches and applies changes since the stored cursor. The new
// cursor is persisted only after the entire batch applied.
func (e *Engine) deltaPass(ctx context.Context, sub *repository.WebhookSubscription, syncToken string) (*SyncSummary, error) {
	result, err := e.client.ListDelta(ctx, sub.UserID, sub.CalendarID, syncToken)
	if err != nil {
		return nil, fmt.Errorf("list delta: %w", err)
	}

	summary := &SyncSummary{}
	for _, ev := range result.Events {
		e.applyEvent(ctx, sub, ev, summary)
	}

	if result.NextSyncToken != "" {
		token := result.NextSyncToken
		if err := e.subs.UpdateSyncToken(ctx, sub.ID, &token); err != nil {
			return nil, fmt.Errorf("store sync token: %w", err)
		}
	}
	return summary, nil
}

// fullResync re-derives local state from a complete windowed listing:
// external events are applied, mirrored appointments with no surviving
// external event are cancelled, and the fresh cursor is stored at the end.
func (e *Engine) fullResync(ctx context.Context, sub *repository.WebhookSubscription) (*SyncSummary, error) {
	now := time.Now().UTC()
	timeMin := now.AddDate(0, 0, -e.cfg.PastWindowDays)
	timeMax := now.AddDate(0, 0, e.cfg.FutureWindowDays)

	result, err := e.client.ListWindow(ctx, sub.UserID, sub.CalendarID, timeMin, timeMax)
	if err != nil {
		return nil, fmt.Errorf("list window: %w", err)
	}

	summary := &SyncSummary{FullResync: true}
	externalIDs := make(map[string]struct{}, len(result.Events))
	for _, ev := range result.Events {
		externalIDs[ev.ID] = struct{}{}
		e.applyEvent(ctx, sub, ev, summary)
	}

	// Orphans: mirrored locally, gone upstream
	mirrored, err := e.appointments.ListMirrored(ctx, sub.CalendarID)
	if err != nil {
		return nil, fmt.Errorf("list mirrored appointments: %w", err)
	}
	for _, appt := range mirrored {
		if appt.ExternalEventID == nil {
			continue
		}
		// Skip appointments outside the listing window
		if appt.StartsAt.Before(timeMin) || appt.StartsAt.After(timeMax) {
			continue
		}
		if _, exists := externalIDs[*appt.ExternalEventID]; exists {
			continue
		}
		apptID := appt.ID
		if err := e.appointments.CancelFromExternal(ctx, appt.ID, now); err != nil {
			e.recordEvent(ctx, sub, *appt.ExternalEventID, &apptID,
				repository.SyncOperationCancel, repository.SyncOutcomeError, err.Error())
			summary.Errors++
			continue
		}
		e.recordEvent(ctx, sub, *appt.ExternalEventID, &apptID,
			repository.SyncOperationCancel, repository.SyncOutcomeApplied, "orphaned by full resync")
		summary.Applied++
	}

	// Local edits made while the cursor was lost flow back out; events the
	// listing already reconciled are excluded
	mirroredOut, err := e.resolver.SweepLocalChanges(ctx, sub, timeMin, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("sweep local changes: %w", err)
	}
	summary.Applied += mirroredOut

	if result.NextSyncToken != "" {
		token := result.NextSyncToken
		if err := e.subs.UpdateSyncToken(ctx, sub.ID, &token); err != nil {
			return nil, fmt.Errorf("store sync token: %w", err)
		}
	}
	return summary, nil
}

// applyEvent resolves and applies the operation for one external event.
// Per-event failures are recorded and isolated; they never abort the batch.
func (e *Engine) applyEvent(ctx context.Context, sub *repository.WebhookSubscription, ev calendar.Event, summary *SyncSummary) {
	op, appt, err := e.resolveOperation(ctx, sub, ev)
	if err != nil {
		e.recordEvent(ctx, sub, ev.ID, nil, repository.SyncOperationSkip, repository.SyncOutcomeError, err.Error())
		summary.Errors++
		return
	}

	var apptID *uuid.UUID
	if appt != nil {
		id := appt.ID
		apptID = &id
	}

	switch op {
	case repository.SyncOperationSkip:
		e.recordEvent(ctx, sub, ev.ID, apptID, op, repository.SyncOutcomeApplied, "")
		summary.Skipped++

	case repository.SyncOperationCreate:
		created, err := e.appointments.CreateFromExternal(ctx, sub.UserID, sub.CalendarID, ev.ID, externalFields(ev))
		if err != nil {
			e.recordEvent(ctx, sub, ev.ID, nil, op, repository.SyncOutcomeError, err.Error())
			summary.Errors++
			return
		}
		id := created.ID
		e.recordEvent(ctx, sub, ev.ID, &id, op, repository.SyncOutcomeApplied, "")
		summary.Applied++

	case repository.SyncOperationCancel:
		if err := e.appointments.CancelFromExternal(ctx, appt.ID, ev.UpdatedAt); err != nil {
			e.recordEvent(ctx, sub, ev.ID, apptID, op, repository.SyncOutcomeError, err.Error())
			summary.Errors++
			return
		}
		e.recordEvent(ctx, sub, ev.ID, apptID, op, repository.SyncOutcomeApplied, "")
		summary.Applied++

	case repository.SyncOperationUpdate:
		if conflict.Diverged(appt, ev) {
			record, err := e.syncEvents.Create(ctx, repository.CreateSyncEventRequest{
				SubscriptionID:  sub.ID,
				ExternalEventID: ev.ID,
				AppointmentID:   apptID,
				Operation:       op,
				Outcome:         repository.SyncOutcomeConflict,
			})
			if err != nil {
				logger.Error().Err(err).Str("eventId", ev.ID).Msg("failed to record sync event")
				summary.Errors++
				return
			}
			if _, err := e.resolver.Resolve(ctx, sub, appt, ev, record.ID); err != nil {
				e.recordEvent(ctx, sub, ev.ID, apptID, op, repository.SyncOutcomeError, err.Error())
				summary.Errors++
				return
			}
			summary.Conflicts++
			return
		}

		if _, err := e.appointments.UpdateFromExternal(ctx, appt.ID, externalFields(ev)); err != nil {
			e.recordEvent(ctx, sub, ev.ID, apptID, op, repository.SyncOutcomeError, err.Error())
			summary.Errors++
			return
		}
		e.recordEvent(ctx, sub, ev.ID, apptID, op, repository.SyncOutcomeApplied, "")
		summary.Applied++
	}
}

// resolveOperation maps one external event onto the closed operation set
func (e *Engine) resolveOperation(ctx context.Context, sub *repository.WebhookSubscription, ev calendar.Event) (repository.SyncOperation, *repository.Appointment, error) {
	appt, err := e.appointments.FindByExternalEventID(ctx, sub.CalendarID, ev.ID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return "", nil, fmt.Errorf("find appointment: %w", err)
	}
	found := err == nil

	if ev.Cancelled() {
		if !found {
			// Never mirrored, nothing to cancel
			return repository.SyncOperationSkip, nil, nil
		}
		if appt.Status == repository.AppointmentStatusCancelled {
			// Already-flagged appointments stay queued once; re-detecting
			// them on every pass would pile up conflict rows
			if conflict.Diverged(appt, ev) && !appt.NeedsReview {
				// Both sides cancelled independently: surfaces as an
				// update-shaped conflict for the manual queue
				return repository.SyncOperationUpdate, appt, nil
			}
			return repository.SyncOperationSkip, appt, nil
		}
		return repository.SyncOperationCancel, appt, nil
	}

	if ev.StartsAt.IsZero() || ev.EndsAt.IsZero() {
		return "", nil, fmt.Errorf("event %s has no usable time window", ev.ID)
	}

	if !found {
		return repository.SyncOperationCreate, nil, nil
	}
	return repository.SyncOperationUpdate, appt, nil
}

// recordEvent writes one SyncEvent audit row; failures are logged, not fatal
func (e *Engine) recordEvent(ctx context.Context, sub *repository.WebhookSubscription, externalEventID string, apptID *uuid.UUID, op repository.SyncOperation, outcome repository.SyncOutcome, detail string) {
	var detailPtr *string
	if detail != "" {
		detailPtr = &detail
	}
	_, err := e.syncEvents.Create(ctx, repository.CreateSyncEventRequest{
		SubscriptionID:  sub.ID,
		ExternalEventID: externalEventID,
		AppointmentID:   apptID,
		Operation:       op,
		Outcome:         outcome,
		Detail:          detailPtr,
	})
	if err != nil {
		logger.Error().Err(err).
			Str("eventId", externalEventID).
			Str("subscriptionId", sub.ID.String()).
			Msg("failed to record sync event")
	}
}

func externalFields(ev calendar.Event) repository.ExternalFields {
	return repository.ExternalFields{
		Title:              ev.Title,
		StartsAt:           ev.StartsAt,
		EndsAt:             ev.EndsAt,
		ExternalModifiedAt: ev.UpdatedAt,
	}
}
