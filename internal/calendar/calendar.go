// Package calendar defines the provider-neutral contract the sync engine uses
// to talk to an external calendar: channel watch/stop, delta and windowed
// listings, and event mutation. The Google implementation lives in google.go.
package calendar

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event status values reported by the provider
const (
	EventStatusConfirmed = "confirmed"
	EventStatusTentative = "tentative"
	EventStatusCancelled = "cancelled"
)

// Event is a provider event reduced to the fields the engine mirrors
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cancelled reports whether the event was cancelled or deleted upstream
func (e Event) Cancelled() bool {
	return e.Status == EventStatusCancelled
}

// Subscription is the provider's view of a push notification channel
type Subscription struct {
	ChannelID  string
	ResourceID string
	Expiration time.Time
}

// WatchRequest holds parameters for opening a push notification channel
type WatchRequest struct {
	ChannelID   string
	CallbackURL string
	Token       string
	TTL         time.Duration
}

// ListResult is one page-merged listing response. NextSyncToken is the cursor
// for the following incremental call and is only set once all pages were
// consumed.
type ListResult struct {
	Events        []Event
	NextSyncToken string
}

// EventPatch carries the mirrored fields pushed back to the provider when the
// local version wins a conflict.
type EventPatch struct {
	Title    string
	StartsAt time.Time
	EndsAt   time.Time
}

// Client is the external calendar provider contract. Every call authenticates
// as the given user via their stored credential.
type Client interface {
	// Watch opens a push notification channel for a calendar
	Watch(ctx context.Context, userID uuid.UUID, calendarID string, req WatchRequest) (*Subscription, error)

	// Stop closes a push notification channel
	Stop(ctx context.Context, userID uuid.UUID, channelID, resourceID string) error

	// ListDelta fetches changes since the given sync token. Returns
	// ErrInvalidSyncToken when the provider has expired the cursor.
	ListDelta(ctx context.Context, userID uuid.UUID, calendarID, syncToken string) (*ListResult, error)

	// ListWindow fetches all events in a bounded time window along with a
	// fresh sync token. Used for full resync.
	ListWindow(ctx context.Context, userID uuid.UUID, calendarID string, timeMin, timeMax time.Time) (*ListResult, error)

	// UpdateEvent pushes mirrored fields to an existing provider event
	UpdateEvent(ctx context.Context, userID uuid.UUID, calendarID, eventID string, patch EventPatch) error
}
