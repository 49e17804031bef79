package handlers

import (
	"errors"
	"net/http"

	"github.com/c50bossio/6fb-booking-sub006/internal/api"
	"github.com/c50bossio/6fb-booking-sub006/internal/logger"
	"github.com/c50bossio/6fb-booking-sub006/internal/webhook"

	"github.com/gin-gonic/gin"
)

// WebhookHandler handles inbound calendar push notifications
type WebhookHandler struct {
	receiver *webhook.Receiver
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(receiver *webhook.Receiver) *WebhookHandler {
	return &WebhookHandler{receiver: receiver}
}

// HandleCalendarPush processes POST /webhooks/calendar. The provider only
// distinguishes 2xx (delivered) from 5xx (retry later): malformed or unknown
// pushes are acked with 200 so the provider stops redelivering them, and only
// persistence failures return 5xx.
func (h *WebhookHandler) HandleCalendarPush(c *gin.Context) {
	push, err := webhook.ParseHeaders(c.Request.Header)
	if err != nil {
		logger.Warn().Err(err).Msg("malformed push notification dropped")
		c.Status(http.StatusOK)
		return
	}

	outcome, err := h.receiver.Handle(c.Request.Context(), push)
	if err != nil {
		if errors.Is(err, webhook.ErrTokenMismatch) {
			api.SendForbidden(c, "channel token mismatch")
			return
		}
		logger.Error().Err(err).
			Str("channelId", push.ChannelID).
			Msg("push processing failed")
		c.Status(http.StatusInternalServerError)
		return
	}

	logger.Debug().
		Str("channelId", push.ChannelID).
		Int64("messageNumber", push.MessageNumber).
		Str("outcome", string(outcome)).
		Msg("push handled")

	c.Status(http.StatusOK)
}
