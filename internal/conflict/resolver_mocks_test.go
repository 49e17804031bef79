package conflict

import (
	"context"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/calendar"
	"github.com/c50bossio/6fb-booking-sub006/internal/repository"

	"github.com/google/uuid"
)

// mockAppointmentStore is a mock implementation of appointment store methods
type mockAppointmentStore struct {
	updateCalled bool
	updateID     uuid.UUID
	updateFields *repository.ExternalFields
	updateError  error

	advanceCalled   bool
	advanceExternal time.Time
	advanceLocal    time.Time
	advanceError    error

	reviewCalled bool
	reviewID     uuid.UUID
	reviewFlag   bool
	reviewError  error

	modifiedResult []repository.Appointment
	modifiedError  error
	modifiedSince  time.Time
}

func (m *mockAppointmentStore) UpdateFromExternal(ctx context.Context, id uuid.UUID, fields repository.ExternalFields) (*repository.Appointment, error) {
	m.updateCalled = true
	m.updateID = id
	m.updateFields = &fields
	if m.updateError != nil {
		return nil, m.updateError
	}
	return &repository.Appointment{ID: id, Title: fields.Title}, nil
}

func (m *mockAppointmentStore) AdvanceWatermarks(ctx context.Context, id uuid.UUID, externalModifiedAt, localModifiedAt time.Time) error {
	m.advanceCalled = true
	m.advanceExternal = externalModifiedAt
	m.advanceLocal = localModifiedAt
	return m.advanceError
}

func (m *mockAppointmentStore) MarkNeedsReview(ctx context.Context, id uuid.UUID, needsReview bool) error {
	m.reviewCalled = true
	m.reviewID = id
	m.reviewFlag = needsReview
	return m.reviewError
}

func (m *mockAppointmentStore) GetModifiedSince(ctx context.Context, calendarID string, since time.Time) ([]repository.Appointment, error) {
	m.modifiedSince = since
	if m.modifiedError != nil {
		return nil, m.modifiedError
	}
	return m.modifiedResult, nil
}

// mockConflictStore is a mock implementation of conflict store methods
type mockConflictStore struct {
	createCalled  bool
	createRequest *repository.CreateConflictRequest
	createError   error
}

func (m *mockConflictStore) Create(ctx context.Context, req repository.CreateConflictRequest) (*repository.ConflictResolution, error) {
	m.createCalled = true
	m.createRequest = &req
	if m.createError != nil {
		return nil, m.createError
	}
	return &repository.ConflictResolution{
		ID:             uuid.New(),
		SyncEventID:    req.SyncEventID,
		AppointmentID:  req.AppointmentID,
		SubscriptionID: req.SubscriptionID,
		Strategy:       req.Strategy,
		Winner:         req.Winner,
	}, nil
}

// mockEventMutator is a mock implementation of the outbound mirror call
type mockEventMutator struct {
	updateCalled bool
	updateEvent  string
	updatePatch  *calendar.EventPatch
	updateError  error
}

func (m *mockEventMutator) UpdateEvent(ctx context.Context, userID uuid.UUID, calendarID, eventID string, patch calendar.EventPatch) error {
	m.updateCalled = true
	m.updateEvent = eventID
	m.updatePatch = &patch
	return m.updateError
}
