package calendar

import "errors"

// Sentinel errors callers branch on with errors.Is. Provider implementations
// wrap their transport errors into these categories.
var (
	// ErrInvalidSyncToken means the provider expired the sync cursor and a
	// full resync is required.
	ErrInvalidSyncToken = errors.New("sync token invalidated by provider")

	// ErrChannelNotFound means the push channel no longer exists upstream
	ErrChannelNotFound = errors.New("notification channel not found")

	// ErrAuthExpired means the stored credential was revoked or expired and
	// the user must reconnect their calendar.
	ErrAuthExpired = errors.New("calendar authorization expired")

	// ErrProviderUnavailable covers transient provider failures (5xx, rate
	// limits, timeouts) that are safe to retry with backoff.
	ErrProviderUnavailable = errors.New("calendar provider unavailable")
)
