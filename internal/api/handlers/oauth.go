package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/api"
	"github.com/c50bossio/6fb-booking-sub006/internal/google"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// stateTTL bounds how long an OAuth authorization may stay in flight
const stateTTL = 10 * time.Minute

type pendingState struct {
	userID  uuid.UUID
	expires time.Time
}

// OAuthHandler handles the Google account connect flow
type OAuthHandler struct {
	googleOAuth *google.OAuthService

	// In-memory CSRF state store mapping state to the connecting user
	stateStore   map[string]pendingState
	stateStoreMu sync.Mutex
}

// NewOAuthHandler creates a new OAuth handler
func NewOAuthHandler(googleOAuth *google.OAuthService) *OAuthHandler {
	return &OAuthHandler{
		googleOAuth: googleOAuth,
		stateStore:  make(map[string]pendingState),
	}
}

// GetAuthURLResponse is the response for getting the auth URL
type GetAuthURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// GetAuthURL returns the Google authorization URL for a user
func (h *OAuthHandler) GetAuthURL(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		api.SendValidationError(c, "Invalid user_id", err.Error())
		return
	}

	state, err := google.GenerateState()
	if err != nil {
		api.SendInternalError(c, err.Error())
		return
	}

	h.stateStoreMu.Lock()
	h.pruneLocked()
	h.stateStore[state] = pendingState{
		userID:  userID,
		expires: time.Now().Add(stateTTL),
	}
	h.stateStoreMu.Unlock()

	api.SendSuccess(c, http.StatusOK, GetAuthURLResponse{
		URL:   h.googleOAuth.GetAuthURL(state),
		State: state,
	}, nil)
}

// Callback completes the OAuth flow: validates state and stores tokens
func (h *OAuthHandler) Callback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		api.SendValidationError(c, "Missing code or state", "")
		return
	}

	h.stateStoreMu.Lock()
	pending, ok := h.stateStore[state]
	delete(h.stateStore, state)
	h.stateStoreMu.Unlock()

	if !ok || time.Now().After(pending.expires) {
		api.SendForbidden(c, "invalid or expired state")
		return
	}

	if err := h.googleOAuth.ExchangeCode(c.Request.Context(), pending.userID, code); err != nil {
		api.SendInternalError(c, err.Error())
		return
	}

	api.SendSuccess(c, http.StatusOK, map[string]string{
		"message": "calendar account connected",
		"user_id": pending.userID.String(),
	}, nil)
}

// Disconnect revokes a user's Google credential
func (h *OAuthHandler) Disconnect(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		api.SendValidationError(c, "Invalid user_id", err.Error())
		return
	}

	if err := h.googleOAuth.Revoke(c.Request.Context(), userID); err != nil {
		api.SendInternalError(c, err.Error())
		return
	}

	api.SendSuccess(c, http.StatusOK, map[string]string{"message": "calendar account disconnected"}, nil)
}

func (h *OAuthHandler) pruneLocked() {
	now := time.Now()
	for state, pending := range h.stateStore {
		if now.After(pending.expires) {
			delete(h.stateStore, state)
		}
	}
}
