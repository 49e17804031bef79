// Package google holds the OAuth credential service for Google accounts.
// Tokens are stored encrypted and refreshed transparently through the oauth2
// token source; refreshed access tokens are written back to the store.
package google

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/config"
	"github.com/c50bossio/6fb-booking-sub006/internal/crypto"
	"github.com/c50bossio/6fb-booking-sub006/internal/logger"
	"github.com/c50bossio/6fb-booking-sub006/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
)

// ProviderName is the identifier for Google OAuth credentials
const ProviderName = "google"

// Scopes requested for calendar sync. Events scope allows both the delta
// listings and the outbound mirror writes.
var Scopes = []string{
	"openid",
	"email",
	gcal.CalendarEventsScope,
}

// OAuthService handles Google OAuth2 authentication per platform user
type OAuthService struct {
	config    *oauth2.Config
	repo      *repository.OAuthRepository
	encryptor *crypto.TokenEncryptor
}

// NewOAuthService creates a new Google OAuth service
func NewOAuthService(cfg *config.Config, repo *repository.OAuthRepository) (*OAuthService, error) {
	if !cfg.GoogleConfigured() {
		return nil, fmt.Errorf("google OAuth credentials not configured")
	}

	encryptor, err := crypto.NewTokenEncryptor(cfg.External.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("create token encryptor: %w", err)
	}

	return &OAuthService{
		config: &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			Scopes:       Scopes,
			Endpoint:     google.Endpoint,
		},
		repo:      repo,
		encryptor: encryptor,
	}, nil
}

// GenerateState generates a secure random state for CSRF protection
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// GetAuthURL returns the URL to redirect the user to for authorization
func (s *OAuthService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(
		state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// ExchangeCode exchanges an authorization code for tokens and stores them
// encrypted against the user.
func (s *OAuthService) ExchangeCode(ctx context.Context, userID uuid.UUID, code string) error {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	if err := s.storeToken(ctx, userID, token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}

	logger.Info().
		Str("userId", userID.String()).
		Msg("google calendar account connected")
	return nil
}

// GetClientForUser returns an authenticated HTTP client for a user.
// The client refreshes tokens transparently; refreshed tokens are persisted.
func (s *OAuthService) GetClientForUser(ctx context.Context, userID uuid.UUID) (*http.Client, error) {
	token, cred, err := s.getToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	tokenSource := s.config.TokenSource(ctx, token)

	newToken, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	if newToken.AccessToken != token.AccessToken {
		if err := s.saveRefreshedToken(ctx, cred.ID, newToken); err != nil {
			// Still holding a valid token, so log and carry on
			logger.Warn().Err(err).Msg("failed to save refreshed token")
		}
	}

	return oauth2.NewClient(ctx, tokenSource), nil
}

// IsConnected reports whether the user has a stored Google credential
func (s *OAuthService) IsConnected(ctx context.Context, userID uuid.UUID) bool {
	_, err := s.repo.GetByUser(ctx, userID, ProviderName)
	return err == nil
}

// Revoke disconnects a user's Google account. Upstream revocation is
// best-effort; the local credential is always removed.
func (s *OAuthService) Revoke(ctx context.Context, userID uuid.UUID) error {
	cred, err := s.repo.GetByUser(ctx, userID, ProviderName)
	if err != nil {
		return fmt.Errorf("get credential: %w", err)
	}

	accessToken, err := s.encryptor.Decrypt(cred.AccessTokenCiphertext, cred.AccessTokenNonce)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to decrypt token for revocation")
	} else {
		revokeURL := "https://oauth2.googleapis.com/revoke?token=" + accessToken
		resp, err := http.Post(revokeURL, "application/x-www-form-urlencoded", nil)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to revoke token with Google")
		} else {
			if err := resp.Body.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close revoke response body")
			}
			if resp.StatusCode != http.StatusOK {
				logger.Warn().Int("status", resp.StatusCode).Msg("google revoke returned non-OK status")
			}
		}
	}

	return s.repo.Delete(ctx, userID, ProviderName)
}

func (s *OAuthService) storeToken(ctx context.Context, userID uuid.UUID, token *oauth2.Token) error {
	accessCiphertext, accessNonce, err := s.encryptor.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}

	var refreshCiphertext, refreshNonce []byte
	if token.RefreshToken != "" {
		refreshCiphertext, refreshNonce, err = s.encryptor.Encrypt(token.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	var expiry *time.Time
	if !token.Expiry.IsZero() {
		expiry = &token.Expiry
	}

	scope := gcal.CalendarEventsScope
	_, err = s.repo.Upsert(ctx, repository.UpsertCredentialRequest{
		UserID:                 userID,
		Provider:               ProviderName,
		AccessTokenCiphertext:  accessCiphertext,
		AccessTokenNonce:       accessNonce,
		RefreshTokenCiphertext: refreshCiphertext,
		RefreshTokenNonce:      refreshNonce,
		TokenType:              token.TokenType,
		Expiry:                 expiry,
		Scope:                  &scope,
	})
	return err
}

func (s *OAuthService) saveRefreshedToken(ctx context.Context, credID uuid.UUID, token *oauth2.Token) error {
	ciphertext, nonce, err := s.encryptor.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}

	var expiry *time.Time
	if !token.Expiry.IsZero() {
		expiry = &token.Expiry
	}
	return s.repo.UpdateAccessToken(ctx, credID, ciphertext, nonce, expiry)
}

func (s *OAuthService) getToken(ctx context.Context, userID uuid.UUID) (*oauth2.Token, *repository.OAuthCredential, error) {
	cred, err := s.repo.GetByUser(ctx, userID, ProviderName)
	if err != nil {
		return nil, nil, fmt.Errorf("get credential: %w", err)
	}

	accessToken, err := s.encryptor.Decrypt(cred.AccessTokenCiphertext, cred.AccessTokenNonce)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt access token: %w", err)
	}

	var refreshToken string
	if len(cred.RefreshTokenCiphertext) > 0 {
		refreshToken, err = s.encryptor.Decrypt(cred.RefreshTokenCiphertext, cred.RefreshTokenNonce)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}

	var expiry time.Time
	if cred.Expiry != nil {
		expiry = *cred.Expiry
	}

	return &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    cred.TokenType,
		Expiry:       expiry,
	}, cred, nil
}
