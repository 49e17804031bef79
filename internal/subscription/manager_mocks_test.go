package subscription

import (
	"context"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/calendar"
	"github.com/c50bossio/6fb-booking-sub006/internal/repository"

	"github.com/google/uuid"
)

// mockSubscriptionRepo is a mock implementation of subscriptionRepoInterface
type mockSubscriptionRepo struct {
	getActiveResult *repository.WebhookSubscription
	getActiveError  error

	getByIDResult *repository.WebhookSubscription
	getByIDError  error

	createCalled  bool
	createRequest *repository.CreateSubscriptionRequest
	createError   error

	replaceCalled    bool
	replaceChannelID string
	replaceExpiresAt time.Time
	replaceError     error

	updateStatusCalled bool
	updateStatusValue  repository.SubscriptionStatus
	updateStatusError  error
}

func (m *mockSubscriptionRepo) Create(ctx context.Context, req repository.CreateSubscriptionRequest) (*repository.WebhookSubscription, error) {
	m.createCalled = true
	m.createRequest = &req
	if m.createError != nil {
		return nil, m.createError
	}
	return &repository.WebhookSubscription{
		ID:         uuid.New(),
		UserID:     req.UserID,
		CalendarID: req.CalendarID,
		ChannelID:  req.ChannelID,
		ResourceID: req.ResourceID,
		Status:     repository.SubscriptionStatusActive,
		ExpiresAt:  req.ExpiresAt,
	}, nil
}

func (m *mockSubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.WebhookSubscription, error) {
	if m.getByIDError != nil {
		return nil, m.getByIDError
	}
	return m.getByIDResult, nil
}

func (m *mockSubscriptionRepo) GetActive(ctx context.Context, userID uuid.UUID, calendarID string) (*repository.WebhookSubscription, error) {
	if m.getActiveError != nil {
		return nil, m.getActiveError
	}
	return m.getActiveResult, nil
}

func (m *mockSubscriptionRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]repository.WebhookSubscription, error) {
	return nil, nil
}

func (m *mockSubscriptionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status repository.SubscriptionStatus, lastError *string) (*repository.WebhookSubscription, error) {
	m.updateStatusCalled = true
	m.updateStatusValue = status
	if m.updateStatusError != nil {
		return nil, m.updateStatusError
	}
	return &repository.WebhookSubscription{ID: id, Status: status}, nil
}

func (m *mockSubscriptionRepo) ReplaceChannel(ctx context.Context, id uuid.UUID, channelID, resourceID string, expiresAt time.Time) (*repository.WebhookSubscription, error) {
	m.replaceCalled = true
	m.replaceChannelID = channelID
	m.replaceExpiresAt = expiresAt
	if m.replaceError != nil {
		return nil, m.replaceError
	}
	return &repository.WebhookSubscription{
		ID:         id,
		ChannelID:  channelID,
		ResourceID: resourceID,
		Status:     repository.SubscriptionStatusActive,
		ExpiresAt:  expiresAt,
	}, nil
}

// mockChannelClient is a mock implementation of calendar.Client
type mockChannelClient struct {
	watchCalled  bool
	watchRequest *calendar.WatchRequest
	watchResult  *calendar.Subscription
	watchError   error

	stopCalled    bool
	stopChannelID string
	stopError     error
}

func (m *mockChannelClient) Watch(ctx context.Context, userID uuid.UUID, calendarID string, req calendar.WatchRequest) (*calendar.Subscription, error) {
	m.watchCalled = true
	m.watchRequest = &req
	if m.watchError != nil {
		return nil, m.watchError
	}
	if m.watchResult != nil {
		return m.watchResult, nil
	}
	return &calendar.Subscription{
		ChannelID:  req.ChannelID,
		ResourceID: "res-" + req.ChannelID,
		Expiration: time.Now().UTC().Add(req.TTL),
	}, nil
}

func (m *mockChannelClient) Stop(ctx context.Context, userID uuid.UUID, channelID, resourceID string) error {
	m.stopCalled = true
	m.stopChannelID = channelID
	return m.stopError
}

func (m *mockChannelClient) ListDelta(ctx context.Context, userID uuid.UUID, calendarID, syncToken string) (*calendar.ListResult, error) {
	return nil, nil
}

func (m *mockChannelClient) ListWindow(ctx context.Context, userID uuid.UUID, calendarID string, timeMin, timeMax time.Time) (*calendar.ListResult, error) {
	return nil, nil
}

func (m *mockChannelClient) UpdateEvent(ctx context.Context, userID uuid.UUID, calendarID, eventID string, patch calendar.EventPatch) error {
	return nil
}
