package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/c50bossio/6fb-booking-sub006/internal/api"
	"github.com/c50bossio/6fb-booking-sub006/internal/db"
	"github.com/c50bossio/6fb-booking-sub006/internal/engine"
	"github.com/c50bossio/6fb-booking-sub006/internal/health"
	"github.com/c50bossio/6fb-booking-sub006/internal/repository"
	"github.com/c50bossio/6fb-booking-sub006/internal/subscription"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// SyncHandler exposes the sync management surface: enable/disable calendar
// sync, status, forced renewal, and the sync event audit log.
type SyncHandler struct {
	manager    *subscription.Manager
	subs       *repository.SubscriptionRepository
	syncEvents *repository.SyncEventRepository
	monitor    *health.Monitor
	queue      *engine.Queue
	validator  *validator.Validate
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(manager *subscription.Manager, subs *repository.SubscriptionRepository, syncEvents *repository.SyncEventRepository, monitor *health.Monitor, queue *engine.Queue) *SyncHandler {
	return &SyncHandler{
		manager:    manager,
		subs:       subs,
		syncEvents: syncEvents,
		monitor:    monitor,
		queue:      queue,
		validator:  validator.New(),
	}
}

// EnableSyncRequest is the request body for enabling calendar sync
type EnableSyncRequest struct {
	UserID     string `json:"user_id" validate:"required,uuid"`
	CalendarID string `json:"calendar_id" validate:"required"`
}

// SubscriptionStatusResponse combines a subscription with its health score
type SubscriptionStatusResponse struct {
	Subscription *repository.WebhookSubscription `json:"subscription"`
	Health       *health.SubscriptionHealth      `json:"health,omitempty"`
}

// EnableSync creates a push subscription for a user's calendar
func (h *SyncHandler) EnableSync(c *gin.Context) {
	var req EnableSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.SendValidationError(c, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		api.SendValidationError(c, "Validation failed", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		api.SendValidationError(c, "Invalid user ID", err.Error())
		return
	}

	sub, err := h.manager.Create(c.Request.Context(), userID, req.CalendarID)
	if err != nil {
		api.SendInternalError(c, err.Error())
		return
	}

	api.SendSuccess(c, http.StatusCreated, sub, nil)
}

// DisableSync revokes the active subscription on a user's calendar
func (h *SyncHandler) DisableSync(c *gin.Context) {
	var req EnableSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.SendValidationError(c, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		api.SendValidationError(c, "Validation failed", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		api.SendValidationError(c, "Invalid user ID", err.Error())
		return
	}

	if err := h.manager.RevokeForUser(c.Request.Context(), userID, req.CalendarID); err != nil {
		api.SendInternalError(c, err.Error())
		return
	}

	api.SendSuccess(c, http.StatusOK, map[string]string{"message": "sync disabled"}, nil)
}

// GetStatus returns a subscription with its health score
func (h *SyncHandler) GetStatus(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	sub, err := h.subs.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			api.SendNotFound(c, "Subscription")
			return
		}
		api.SendInternalError(c, err.Error())
		return
	}

	resp := SubscriptionStatusResponse{Subscription: sub}
	if hs, err := h.monitor.SubscriptionHealth(c.Request.Context(), id); err == nil {
		resp.Health = hs
	}

	api.SendSuccess(c, http.StatusOK, resp, nil)
}

// ListByUser returns all subscriptions for a user
func (h *SyncHandler) ListByUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		api.SendValidationError(c, "Invalid user_id", err.Error())
		return
	}

	subs, err := h.subs.ListByUser(c.Request.Context(), userID)
	if err != nil {
		api.SendInternalError(c, err.Error())
		return
	}
	api.SendSuccess(c, http.StatusOK, subs, nil)
}

// ForceRenewal renews a subscription's channel immediately
func (h *SyncHandler) ForceRenewal(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	sub, err := h.manager.Renew(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			api.SendNotFound(c, "Subscription")
			return
		}
		api.SendInternalError(c, err.Error())
		return
	}
	api.SendSuccess(c, http.StatusOK, sub, nil)
}

// TriggerSync enqueues a sync pass for a subscription
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if _, err := h.subs.GetByID(c.Request.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			api.SendNotFound(c, "Subscription")
			return
		}
		api.SendInternalError(c, err.Error())
		return
	}

	if !h.queue.Enqueue(id) {
		api.SendError(c, http.StatusServiceUnavailable, api.ErrCodeInternal, "Sync queue is full", "")
		return
	}
	api.SendSuccess(c, http.StatusAccepted, map[string]string{"message": "sync enqueued"}, nil)
}

// ListSyncEvents returns the paginated sync event log for a subscription
func (h *SyncHandler) ListSyncEvents(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	page, limit := parsePagination(c)
	offset := int32((page - 1) * limit)

	events, err := h.syncEvents.ListBySubscription(c.Request.Context(), id, int32(limit), offset)
	if err != nil {
		api.SendInternalError(c, err.Error())
		return
	}

	total, err := h.syncEvents.CountBySubscription(c.Request.Context(), id)
	if err != nil {
		api.SendInternalError(c, err.Error())
		return
	}

	pages := int(total) / limit
	if int(total)%limit > 0 {
		pages++
	}

	api.SendSuccess(c, http.StatusOK, events, &api.Meta{
		Pagination: &api.PaginationMeta{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: pages,
		},
	})
}

// ListRecentErrors returns the most recent sync errors across subscriptions
func (h *SyncHandler) ListRecentErrors(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events, err := h.syncEvents.ListRecentErrors(c.Request.Context(), int32(limit))
	if err != nil {
		api.SendInternalError(c, err.Error())
		return
	}
	api.SendSuccess(c, http.StatusOK, events, nil)
}

// SystemHealth returns the aggregate health summary
func (h *SyncHandler) SystemHealth(c *gin.Context) {
	summary, err := h.monitor.SystemSummary(c.Request.Context())
	if err != nil {
		api.SendInternalError(c, err.Error())
		return
	}
	api.SendSuccess(c, http.StatusOK, summary, nil)
}

func parseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		api.SendValidationError(c, "Invalid subscription ID", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func parsePagination(c *gin.Context) (page, limit int) {
	page, limit = 1, 20
	if raw := c.Query("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			page = n
		}
	}
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	return page, limit
}
