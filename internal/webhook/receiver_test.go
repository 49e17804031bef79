package webhook

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/c50bossio/6fb-booking-sub006/internal/db"
	"github.com/c50bossio/6fb-booking-sub006/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushHeaders(channelID, token, resourceID, state, messageNumber string) http.Header {
	h := http.Header{}
	h.Set(HeaderChannelID, channelID)
	h.Set(HeaderChannelToken, token)
	h.Set(HeaderResourceID, resourceID)
	h.Set(HeaderResourceState, state)
	h.Set(HeaderMessageNumber, messageNumber)
	return h
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name      string
		headers   http.Header
		wantError bool
		wantState repository.ResourceState
		wantNum   int64
	}{
		{
			name:      "valid exists push",
			headers:   pushHeaders("chan-1", "secret", "res-1", "exists", "7"),
			wantState: repository.ResourceStateExists,
			wantNum:   7,
		},
		{
			name:      "valid sync ping",
			headers:   pushHeaders("chan-1", "secret", "res-1", "sync", "1"),
			wantState: repository.ResourceStateSync,
			wantNum:   1,
		},
		{
			name:      "missing channel id",
			headers:   pushHeaders("", "secret", "res-1", "exists", "7"),
			wantError: true,
		},
		{
			name:      "missing resource id",
			headers:   pushHeaders("chan-1", "secret", "", "exists", "7"),
			wantError: true,
		},
		{
			name:      "unknown resource state",
			headers:   pushHeaders("chan-1", "secret", "res-1", "bogus", "7"),
			wantError: true,
		},
		{
			name:      "non-numeric message number",
			headers:   pushHeaders("chan-1", "secret", "res-1", "exists", "abc"),
			wantError: true,
		},
		{
			name:      "zero message number",
			headers:   pushHeaders("chan-1", "secret", "res-1", "exists", "0"),
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseHeaders(tt.headers)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, p.ResourceState)
			assert.Equal(t, tt.wantNum, p.MessageNumber)
		})
	}
}

func activeSubscription() *repository.WebhookSubscription {
	return &repository.WebhookSubscription{
		ID:        uuid.New(),
		ChannelID: "chan-1",
		Status:    repository.SubscriptionStatusActive,
	}
}

func validPush() PushHeaders {
	return PushHeaders{
		ChannelID:     "chan-1",
		ChannelToken:  "secret",
		ResourceID:    "res-1",
		ResourceState: repository.ResourceStateExists,
		MessageNumber: 7,
	}
}

func TestHandle_TokenMismatch(t *testing.T) {
	subs := &mockSubscriptionLookup{getResult: activeSubscription()}
	receiver := NewReceiver(subs, &mockNotificationLog{}, &mockTaskQueue{}, "secret")

	push := validPush()
	push.ChannelToken = "wrong"

	_, err := receiver.Handle(context.Background(), push)
	assert.ErrorIs(t, err, ErrTokenMismatch)
	assert.False(t, subs.markCalled)
}

func TestHandle_UnknownChannelDropped(t *testing.T) {
	subs := &mockSubscriptionLookup{getError: db.ErrNotFound}
	queue := &mockTaskQueue{}
	receiver := NewReceiver(subs, &mockNotificationLog{}, queue, "secret")

	outcome, err := receiver.Handle(context.Background(), validPush())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, outcome)
	assert.False(t, queue.enqueueCalled)
}

func TestHandle_InactiveSubscriptionDropped(t *testing.T) {
	sub := activeSubscription()
	sub.Status = repository.SubscriptionStatusRevoked
	subs := &mockSubscriptionLookup{getResult: sub}
	receiver := NewReceiver(subs, &mockNotificationLog{}, &mockTaskQueue{}, "secret")

	outcome, err := receiver.Handle(context.Background(), validPush())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDropped, outcome)
	assert.False(t, subs.markCalled)
}

func TestHandle_SyncPingAcked(t *testing.T) {
	subs := &mockSubscriptionLookup{getResult: activeSubscription()}
	notifications := &mockNotificationLog{}
	queue := &mockTaskQueue{}
	receiver := NewReceiver(subs, notifications, queue, "secret")

	push := validPush()
	push.ResourceState = repository.ResourceStateSync

	outcome, err := receiver.Handle(context.Background(), push)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSyncAck, outcome)
	assert.False(t, notifications.recordCalled)
	assert.False(t, queue.enqueueCalled)
}

func TestHandle_FreshPushAcceptedAndEnqueued(t *testing.T) {
	sub := activeSubscription()
	subs := &mockSubscriptionLookup{getResult: sub, markFresh: true}
	notifications := &mockNotificationLog{recordInserted: true}
	queue := &mockTaskQueue{}
	receiver := NewReceiver(subs, notifications, queue, "secret")

	outcome, err := receiver.Handle(context.Background(), validPush())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)

	assert.True(t, subs.markCalled)
	assert.Equal(t, "chan-1", subs.markChannel)
	assert.Equal(t, int64(7), subs.markNumber)

	require.True(t, notifications.recordCalled)
	assert.Equal(t, repository.NotificationStatusPending, notifications.recordRequest.Status)

	assert.True(t, queue.enqueueCalled)
	assert.Equal(t, sub.ID, queue.enqueueID)
}

func TestHandle_StaleMessageNumberIsDuplicate(t *testing.T) {
	// An out-of-order push behind the watermark, seen for the first time:
	// its fresh row is closed out as duplicate and no pass is enqueued
	subs := &mockSubscriptionLookup{getResult: activeSubscription(), markFresh: false}
	notifications := &mockNotificationLog{recordInserted: true}
	queue := &mockTaskQueue{}
	receiver := NewReceiver(subs, notifications, queue, "secret")

	outcome, err := receiver.Handle(context.Background(), validPush())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	require.True(t, notifications.recordCalled)
	assert.Equal(t, repository.NotificationStatusPending, notifications.recordRequest.Status)
	assert.True(t, notifications.markDupCalled)
	assert.False(t, queue.enqueueCalled)
}

func TestHandle_RedeliveredMessageIsDuplicate(t *testing.T) {
	// Watermark already past and the row already recorded: a plain redelivery.
	// Record bumped the duplicate counter, nothing else to close out.
	subs := &mockSubscriptionLookup{getResult: activeSubscription(), markFresh: false}
	notifications := &mockNotificationLog{recordInserted: false}
	queue := &mockTaskQueue{}
	receiver := NewReceiver(subs, notifications, queue, "secret")

	outcome, err := receiver.Handle(context.Background(), validPush())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.False(t, notifications.markDupCalled)
	assert.False(t, queue.enqueueCalled)
}

func TestHandle_RecordFailureLeavesWatermarkForRetry(t *testing.T) {
	// A push whose insert fails must error out before the watermark moves,
	// so the provider's redelivery of the same message number is still fresh
	subs := &mockSubscriptionLookup{getResult: activeSubscription(), markFresh: true}
	notifications := &mockNotificationLog{recordError: errors.New("connection reset")}
	queue := &mockTaskQueue{}
	receiver := NewReceiver(subs, notifications, queue, "secret")

	_, err := receiver.Handle(context.Background(), validPush())
	require.Error(t, err)
	assert.False(t, subs.markCalled)
	assert.False(t, queue.enqueueCalled)

	// Redelivery after the store recovers runs the pass
	notifications.recordError = nil
	notifications.recordInserted = true

	outcome, err := receiver.Handle(context.Background(), validPush())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
	assert.Equal(t, repository.NotificationStatusPending, notifications.recordRequest.Status)
	assert.True(t, queue.enqueueCalled)
}

func TestHandle_WatermarkFailureResumesOnRedelivery(t *testing.T) {
	// The row persisted last time but the watermark write failed: the
	// redelivery finds the row already present yet still fresh, and the pass
	// runs instead of being swallowed as a duplicate
	subs := &mockSubscriptionLookup{getResult: activeSubscription(), markFresh: true}
	notifications := &mockNotificationLog{recordInserted: false}
	queue := &mockTaskQueue{}
	receiver := NewReceiver(subs, notifications, queue, "secret")

	outcome, err := receiver.Handle(context.Background(), validPush())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
	assert.True(t, queue.enqueueCalled)
}

func TestHandle_FullQueueStillAccepted(t *testing.T) {
	subs := &mockSubscriptionLookup{getResult: activeSubscription(), markFresh: true}
	notifications := &mockNotificationLog{recordInserted: true}
	queue := &mockTaskQueue{full: true}
	receiver := NewReceiver(subs, notifications, queue, "secret")

	outcome, err := receiver.Handle(context.Background(), validPush())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
	assert.True(t, queue.enqueueCalled)
}

func TestHandle_EmptyTokenDisablesVerification(t *testing.T) {
	subs := &mockSubscriptionLookup{getResult: activeSubscription(), markFresh: true}
	notifications := &mockNotificationLog{recordInserted: true}
	receiver := NewReceiver(subs, notifications, &mockTaskQueue{}, "")

	push := validPush()
	push.ChannelToken = "anything"

	outcome, err := receiver.Handle(context.Background(), push)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, outcome)
}
