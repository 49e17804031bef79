package webhook

import (
	"context"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/repository"

	"github.com/google/uuid"
)

// mockSubscriptionLookup is a mock implementation of subscriptionLookup
type mockSubscriptionLookup struct {
	getResult *repository.WebhookSubscription
	getError  error

	markCalled  bool
	markChannel string
	markNumber  int64
	markFresh   bool
	markError   error
}

func (m *mockSubscriptionLookup) GetByChannelID(ctx context.Context, channelID string) (*repository.WebhookSubscription, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	return m.getResult, nil
}

func (m *mockSubscriptionLookup) MarkNotified(ctx context.Context, channelID string, messageNumber int64, at time.Time) (bool, error) {
	m.markCalled = true
	m.markChannel = channelID
	m.markNumber = messageNumber
	return m.markFresh, m.markError
}

// mockNotificationLog is a mock implementation of notificationLog
type mockNotificationLog struct {
	recordCalled   bool
	recordRequest  *repository.CreateNotificationRequest
	recordInserted bool
	recordError    error

	markDupCalled bool
	markDupID     uuid.UUID
	markDupError  error
}

func (m *mockNotificationLog) Record(ctx context.Context, req repository.CreateNotificationRequest) (*repository.WebhookNotification, bool, error) {
	m.recordCalled = true
	m.recordRequest = &req
	if m.recordError != nil {
		return nil, false, m.recordError
	}
	return &repository.WebhookNotification{
		ID:             uuid.New(),
		SubscriptionID: req.SubscriptionID,
		ChannelID:      req.ChannelID,
		MessageNumber:  req.MessageNumber,
		Status:         req.Status,
	}, m.recordInserted, nil
}

func (m *mockNotificationLog) MarkDuplicate(ctx context.Context, id uuid.UUID) error {
	m.markDupCalled = true
	m.markDupID = id
	return m.markDupError
}

// mockTaskQueue is a mock implementation of taskQueue
type mockTaskQueue struct {
	enqueueCalled bool
	enqueueID     uuid.UUID
	full          bool
}

func (m *mockTaskQueue) Enqueue(subscriptionID uuid.UUID) bool {
	m.enqueueCalled = true
	m.enqueueID = subscriptionID
	return !m.full
}
