package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/c50bossio/6fb-booking-sub006/internal/api"
	"github.com/c50bossio/6fb-booking-sub006/internal/calendar"
	"github.com/c50bossio/6fb-booking-sub006/internal/db"
	"github.com/c50bossio/6fb-booking-sub006/internal/logger"
	"github.com/c50bossio/6fb-booking-sub006/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ConflictHandler exposes the manual conflict review queue
type ConflictHandler struct {
	conflicts    *repository.ConflictRepository
	appointments *repository.AppointmentRepository
	validator    *validator.Validate
}

// NewConflictHandler creates a new conflict handler
func NewConflictHandler(conflicts *repository.ConflictRepository, appointments *repository.AppointmentRepository) *ConflictHandler {
	return &ConflictHandler{
		conflicts:    conflicts,
		appointments: appointments,
		validator:    validator.New(),
	}
}

// ResolveConflictRequest is the request body for manual resolution
type ResolveConflictRequest struct {
	Winner     string `json:"winner" validate:"required,oneof=local external"`
	ResolvedBy string `json:"resolved_by" validate:"required"`
}

// ListPending returns conflicts queued for manual review
func (h *ConflictHandler) ListPending(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	pending, err := h.conflicts.ListPending(c.Request.Context(), int32(limit))
	if err != nil {
		api.SendInternalError(c, err.Error())
		return
	}
	api.SendSuccess(c, http.StatusOK, pending, nil)
}

// Resolve closes a queued conflict with a human decision. An external win
// re-applies the snapshot captured at detection time; either way the
// appointment's review flag is cleared.
func (h *ConflictHandler) Resolve(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		api.SendValidationError(c, "Invalid conflict ID", err.Error())
		return
	}

	var req ResolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.SendValidationError(c, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		api.SendValidationError(c, "Validation failed", err.Error())
		return
	}

	resolved, err := h.conflicts.Resolve(c.Request.Context(), id, req.Winner, req.ResolvedBy)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			api.SendNotFound(c, "Pending conflict")
			return
		}
		api.SendInternalError(c, err.Error())
		return
	}

	if req.Winner == repository.WinnerExternal {
		var ev calendar.Event
		if err := json.Unmarshal(resolved.ExternalSnapshot, &ev); err != nil {
			api.SendInternalError(c, "corrupt external snapshot: "+err.Error())
			return
		}
		if _, err := h.appointments.UpdateFromExternal(c.Request.Context(), resolved.AppointmentID, repository.ExternalFields{
			Title:              ev.Title,
			StartsAt:           ev.StartsAt,
			EndsAt:             ev.EndsAt,
			ExternalModifiedAt: ev.UpdatedAt,
		}); err != nil {
			api.SendInternalError(c, err.Error())
			return
		}
	}

	if err := h.appointments.MarkNeedsReview(c.Request.Context(), resolved.AppointmentID, false); err != nil {
		logger.Warn().Err(err).
			Str("appointmentId", resolved.AppointmentID.String()).
			Msg("failed to clear review flag")
	}

	api.SendSuccess(c, http.StatusOK, resolved, nil)
}
