package calendar

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/logger"

	"github.com/google/uuid"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// listPageSize caps one Events.List page
	listPageSize = 250

	// callTimeout bounds every provider round trip
	callTimeout = 30 * time.Second
)

// clientProvider yields an authenticated HTTP client for a user. Satisfied by
// google.OAuthService.
type clientProvider interface {
	GetClientForUser(ctx context.Context, userID uuid.UUID) (*http.Client, error)
}

// GoogleClient implements Client against the Google Calendar API
type GoogleClient struct {
	oauth clientProvider
}

// NewGoogleClient creates a Google Calendar client backed by the given
// credential source.
func NewGoogleClient(oauth clientProvider) *GoogleClient {
	return &GoogleClient{oauth: oauth}
}

func (c *GoogleClient) service(ctx context.Context, userID uuid.UUID) (*gcal.Service, error) {
	httpClient, err := c.oauth.GetClientForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get OAuth client: %w", ErrAuthExpired)
	}
	svc, err := gcal.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create Calendar service: %w", err)
	}
	return svc, nil
}

// Watch opens a push notification channel for a calendar
func (c *GoogleClient) Watch(ctx context.Context, userID uuid.UUID, calendarID string, req WatchRequest) (*Subscription, error) {
	svc, err := c.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	expiration := time.Now().Add(req.TTL).UnixMilli()
	channel := &gcal.Channel{
		Id:         req.ChannelID,
		Type:       "web_hook",
		Address:    req.CallbackURL,
		Token:      req.Token,
		Expiration: expiration,
	}

	resp, err := svc.Events.Watch(calendarID, channel).Context(ctx).Do()
	if err != nil {
		return nil, translateError("watch channel", err)
	}

	sub := &Subscription{
		ChannelID:  resp.Id,
		ResourceID: resp.ResourceId,
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}

	logger.Info().
		Str("channelId", sub.ChannelID).
		Str("calendarId", calendarID).
		Time("expiration", sub.Expiration).
		Msg("opened calendar watch channel")

	return sub, nil
}

// Stop closes a push notification channel
func (c *GoogleClient) Stop(ctx context.Context, userID uuid.UUID, channelID, resourceID string) error {
	svc, err := c.service(ctx, userID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	err = svc.Channels.Stop(&gcal.Channel{
		Id:         channelID,
		ResourceId: resourceID,
	}).Context(ctx).Do()
	if err != nil {
		return translateError("stop channel", err)
	}
	return nil
}

// ListDelta fetches changes since the given sync token, following pagination
// until all pages are consumed.
func (c *GoogleClient) ListDelta(ctx context.Context, userID uuid.UUID, calendarID, syncToken string) (*ListResult, error) {
	svc, err := c.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &ListResult{}
	var pageToken string
	for {
		pageCtx, cancel := context.WithTimeout(ctx, callTimeout)
		req := svc.Events.List(calendarID).
			SyncToken(syncToken).
			ShowDeleted(true).
			MaxResults(listPageSize).
			Context(pageCtx)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		resp, err := req.Do()
		cancel()
		if err != nil {
			return nil, translateError("list delta", err)
		}

		for _, item := range resp.Items {
			result.Events = append(result.Events, fromGoogleEvent(item))
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			result.NextSyncToken = resp.NextSyncToken
			break
		}
	}
	return result, nil
}

// ListWindow fetches all events in a bounded window plus a fresh sync token
func (c *GoogleClient) ListWindow(ctx context.Context, userID uuid.UUID, calendarID string, timeMin, timeMax time.Time) (*ListResult, error) {
	svc, err := c.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &ListResult{}
	var pageToken string
	for {
		pageCtx, cancel := context.WithTimeout(ctx, callTimeout)
		req := svc.Events.List(calendarID).
			TimeMin(timeMin.Format(time.RFC3339)).
			TimeMax(timeMax.Format(time.RFC3339)).
			SingleEvents(true).
			ShowDeleted(false).
			MaxResults(listPageSize).
			Context(pageCtx)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		resp, err := req.Do()
		cancel()
		if err != nil {
			return nil, translateError("list window", err)
		}

		for _, item := range resp.Items {
			result.Events = append(result.Events, fromGoogleEvent(item))
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			result.NextSyncToken = resp.NextSyncToken
			break
		}
	}
	return result, nil
}

// UpdateEvent pushes mirrored fields to an existing provider event
func (c *GoogleClient) UpdateEvent(ctx context.Context, userID uuid.UUID, calendarID, eventID string, patch EventPatch) error {
	svc, err := c.service(ctx, userID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	event := &gcal.Event{
		Summary: patch.Title,
		Start:   &gcal.EventDateTime{DateTime: patch.StartsAt.Format(time.RFC3339)},
		End:     &gcal.EventDateTime{DateTime: patch.EndsAt.Format(time.RFC3339)},
	}

	_, err = svc.Events.Patch(calendarID, eventID, event).Context(ctx).Do()
	if err != nil {
		return translateError("update event", err)
	}
	return nil
}

// fromGoogleEvent reduces a provider event to the mirrored field set.
// Cancelled deltas arrive with only id and status populated. All-day events
// carry a date instead of a datetime and map to midnight UTC bounds.
func fromGoogleEvent(item *gcal.Event) Event {
	e := Event{
		ID:     item.Id,
		Title:  item.Summary,
		Status: item.Status,
	}
	if e.Status == "" {
		e.Status = EventStatusConfirmed
	}
	e.StartsAt = parseEventTime(item.Start)
	e.EndsAt = parseEventTime(item.End)
	if item.Updated != "" {
		if t, err := time.Parse(time.RFC3339, item.Updated); err == nil {
			e.UpdatedAt = t
		}
	}
	return e
}

func parseEventTime(edt *gcal.EventDateTime) time.Time {
	if edt == nil {
		return time.Time{}
	}
	if edt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, edt.DateTime); err == nil {
			return t
		}
		return time.Time{}
	}
	if edt.Date != "" {
		if t, err := time.Parse("2006-01-02", edt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}

// translateError maps provider transport errors onto the package sentinels
func translateError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusGone:
			return fmt.Errorf("%s: %w", op, ErrInvalidSyncToken)
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return fmt.Errorf("%s: %w", op, ErrAuthExpired)
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, ErrChannelNotFound)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return fmt.Errorf("%s: status %d: %w", op, apiErr.Code, ErrProviderUnavailable)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %v: %w", op, err, ErrProviderUnavailable)
	}

	return fmt.Errorf("%s: %w", op, err)
}
