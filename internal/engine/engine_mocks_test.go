package engine

import (
	"context"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/calendar"
	"github.com/c50bossio/6fb-booking-sub006/internal/db"
	"github.com/c50bossio/6fb-booking-sub006/internal/repository"

	"github.com/google/uuid"
)

// mockSubStore is a mock implementation of subscriptionStore
type mockSubStore struct {
	sub      *repository.WebhookSubscription
	getError error

	// Each UpdateSyncToken call is captured in order; a nil entry means the
	// cursor was cleared
	tokenUpdates []*string
	tokenError   error

	statusUpdates []repository.SubscriptionStatus
	statusError   error
}

func (m *mockSubStore) GetByID(ctx context.Context, id uuid.UUID) (*repository.WebhookSubscription, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	return m.sub, nil
}

func (m *mockSubStore) UpdateSyncToken(ctx context.Context, id uuid.UUID, token *string) error {
	if m.tokenError != nil {
		return m.tokenError
	}
	m.tokenUpdates = append(m.tokenUpdates, token)
	if token == nil {
		m.sub.SyncToken = nil
	} else {
		value := *token
		m.sub.SyncToken = &value
	}
	return nil
}

func (m *mockSubStore) UpdateStatus(ctx context.Context, id uuid.UUID, status repository.SubscriptionStatus, lastError *string) (*repository.WebhookSubscription, error) {
	if m.statusError != nil {
		return nil, m.statusError
	}
	m.statusUpdates = append(m.statusUpdates, status)
	m.sub.Status = status
	return m.sub, nil
}

// mockApptStore is a mock implementation of appointmentStore
type mockApptStore struct {
	findResults map[string]*repository.Appointment
	findError   error

	createdEvents []string
	createError   error

	updatedIDs  []uuid.UUID
	updateError error

	cancelledIDs []uuid.UUID
	cancelError  error

	mirrored      []repository.Appointment
	mirroredError error
}

func (m *mockApptStore) FindByExternalEventID(ctx context.Context, calendarID, externalEventID string) (*repository.Appointment, error) {
	if m.findError != nil {
		return nil, m.findError
	}
	appt, ok := m.findResults[externalEventID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return appt, nil
}

func (m *mockApptStore) CreateFromExternal(ctx context.Context, userID uuid.UUID, calendarID, externalEventID string, fields repository.ExternalFields) (*repository.Appointment, error) {
	if m.createError != nil {
		return nil, m.createError
	}
	m.createdEvents = append(m.createdEvents, externalEventID)
	return &repository.Appointment{ID: uuid.New(), UserID: userID, Title: fields.Title}, nil
}

func (m *mockApptStore) UpdateFromExternal(ctx context.Context, id uuid.UUID, fields repository.ExternalFields) (*repository.Appointment, error) {
	if m.updateError != nil {
		return nil, m.updateError
	}
	m.updatedIDs = append(m.updatedIDs, id)
	return &repository.Appointment{ID: id, Title: fields.Title}, nil
}

func (m *mockApptStore) CancelFromExternal(ctx context.Context, id uuid.UUID, externalModifiedAt time.Time) error {
	if m.cancelError != nil {
		return m.cancelError
	}
	m.cancelledIDs = append(m.cancelledIDs, id)
	return nil
}

func (m *mockApptStore) ListMirrored(ctx context.Context, calendarID string) ([]repository.Appointment, error) {
	if m.mirroredError != nil {
		return nil, m.mirroredError
	}
	return m.mirrored, nil
}

// mockSyncEventStore is a mock implementation of syncEventStore
type mockSyncEventStore struct {
	requests    []repository.CreateSyncEventRequest
	createError error
}

func (m *mockSyncEventStore) Create(ctx context.Context, req repository.CreateSyncEventRequest) (*repository.SyncEvent, error) {
	if m.createError != nil {
		return nil, m.createError
	}
	m.requests = append(m.requests, req)
	return &repository.SyncEvent{
		ID:              uuid.New(),
		SubscriptionID:  req.SubscriptionID,
		ExternalEventID: req.ExternalEventID,
		Operation:       req.Operation,
		Outcome:         req.Outcome,
	}, nil
}

// mockNotificationStore is a mock implementation of notificationStore
type mockNotificationStore struct {
	markCalled bool
	markSubID  uuid.UUID
	markError  error
}

func (m *mockNotificationStore) MarkPendingProcessed(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	m.markCalled = true
	m.markSubID = subscriptionID
	if m.markError != nil {
		return 0, m.markError
	}
	return 1, nil
}

// mockResolver is a mock implementation of resolver
type mockResolver struct {
	resolveCalled bool
	resolveEvent  calendar.Event
	resolveError  error

	sweepCalled   bool
	sweepSince    time.Time
	sweepSeen     map[string]struct{}
	sweepMirrored int
	sweepError    error
}

func (m *mockResolver) Resolve(ctx context.Context, sub *repository.WebhookSubscription, appt *repository.Appointment, ev calendar.Event, syncEventID uuid.UUID) (*repository.ConflictResolution, error) {
	m.resolveCalled = true
	m.resolveEvent = ev
	if m.resolveError != nil {
		return nil, m.resolveError
	}
	return &repository.ConflictResolution{ID: uuid.New()}, nil
}

func (m *mockResolver) SweepLocalChanges(ctx context.Context, sub *repository.WebhookSubscription, since time.Time, seen map[string]struct{}) (int, error) {
	m.sweepCalled = true
	m.sweepSince = since
	m.sweepSeen = seen
	if m.sweepError != nil {
		return 0, m.sweepError
	}
	return m.sweepMirrored, nil
}

// mockLocker is a mock implementation of advisoryLocker
type mockLocker struct {
	held         bool
	lockError    error
	unlockCalled bool
}

func (m *mockLocker) TryLock(ctx context.Context, key uuid.UUID) (func(), bool, error) {
	if m.lockError != nil {
		return nil, false, m.lockError
	}
	if m.held {
		return nil, false, nil
	}
	return func() { m.unlockCalled = true }, true, nil
}

// mockCalendarClient is a mock implementation of calendar.Client
type mockCalendarClient struct {
	deltaResult *calendar.ListResult
	deltaError  error
	deltaCalls  int

	windowResult *calendar.ListResult
	windowError  error
	windowCalls  int
	windowMin    time.Time
	windowMax    time.Time
}

func (m *mockCalendarClient) Watch(ctx context.Context, userID uuid.UUID, calendarID string, req calendar.WatchRequest) (*calendar.Subscription, error) {
	return nil, nil
}

func (m *mockCalendarClient) Stop(ctx context.Context, userID uuid.UUID, channelID, resourceID string) error {
	return nil
}

func (m *mockCalendarClient) ListDelta(ctx context.Context, userID uuid.UUID, calendarID, syncToken string) (*calendar.ListResult, error) {
	m.deltaCalls++
	if m.deltaError != nil {
		return nil, m.deltaError
	}
	return m.deltaResult, nil
}

func (m *mockCalendarClient) ListWindow(ctx context.Context, userID uuid.UUID, calendarID string, timeMin, timeMax time.Time) (*calendar.ListResult, error) {
	m.windowCalls++
	m.windowMin = timeMin
	m.windowMax = timeMax
	if m.windowError != nil {
		return nil, m.windowError
	}
	return m.windowResult, nil
}

func (m *mockCalendarClient) UpdateEvent(ctx context.Context, userID uuid.UUID, calendarID, eventID string, patch calendar.EventPatch) error {
	return nil
}
