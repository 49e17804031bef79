package health

import (
	"context"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/repository"

	"github.com/google/uuid"
)

// mockSubscriptionCounts is a mock implementation of subscriptionCounts
type mockSubscriptionCounts struct {
	all       []repository.WebhookSubscription
	allError  error
	byID      map[uuid.UUID]*repository.WebhookSubscription
	byStatus  map[repository.SubscriptionStatus]int64
	statusErr error
}

func (m *mockSubscriptionCounts) ListAll(ctx context.Context) ([]repository.WebhookSubscription, error) {
	if m.allError != nil {
		return nil, m.allError
	}
	return m.all, nil
}

func (m *mockSubscriptionCounts) GetByID(ctx context.Context, id uuid.UUID) (*repository.WebhookSubscription, error) {
	return m.byID[id], nil
}

func (m *mockSubscriptionCounts) CountByStatus(ctx context.Context) (map[repository.SubscriptionStatus]int64, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return m.byStatus, nil
}

// mockOutcomeCounts is a mock implementation of outcomeCounts
type mockOutcomeCounts struct {
	outcomes map[uuid.UUID]map[repository.SyncOutcome]int64
}

func (m *mockOutcomeCounts) CountOutcomesSince(ctx context.Context, subscriptionID uuid.UUID, since time.Time) (map[repository.SyncOutcome]int64, error) {
	return m.outcomes[subscriptionID], nil
}

// mockNotificationCounts is a mock implementation of notificationCounts
type mockNotificationCounts struct {
	counts map[repository.NotificationStatus]int64
}

func (m *mockNotificationCounts) CountByStatusSince(ctx context.Context, subscriptionID uuid.UUID, since time.Time) (map[repository.NotificationStatus]int64, error) {
	return m.counts, nil
}

// mockConflictCounts is a mock implementation of conflictCounts
type mockConflictCounts struct {
	pending int64
}

func (m *mockConflictCounts) CountPendingSince(ctx context.Context, subscriptionID uuid.UUID, since time.Time) (int64, error) {
	return m.pending, nil
}
