package repository

import (
	"context"
	"errors"
	"time"

	"github.com/c50bossio/6fb-booking-sub006/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// OAuthCredential is an encrypted OAuth token pair for one user's external
// calendar account. Token bytes are AES-256-GCM ciphertext; the plaintext
// never touches the database.
type OAuthCredential struct {
	ID                     uuid.UUID  `json:"id"`
	UserID                 uuid.UUID  `json:"user_id"`
	Provider               string     `json:"provider"`
	AccessTokenCiphertext  []byte     `json:"-"`
	AccessTokenNonce       []byte     `json:"-"`
	RefreshTokenCiphertext []byte     `json:"-"`
	RefreshTokenNonce      []byte     `json:"-"`
	TokenType              string     `json:"token_type"`
	Expiry                 *time.Time `json:"expiry,omitempty"`
	Scope                  *string    `json:"scope,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// UpsertCredentialRequest holds parameters for storing a token pair
type UpsertCredentialRequest struct {
	UserID                 uuid.UUID
	Provider               string
	AccessTokenCiphertext  []byte
	AccessTokenNonce       []byte
	RefreshTokenCiphertext []byte
	RefreshTokenNonce      []byte
	TokenType              string
	Expiry                 *time.Time
	Scope                  *string
}

// OAuthRepository handles encrypted credential persistence
type OAuthRepository struct {
	q DBTX
}

// NewOAuthRepository creates a new OAuth credential repository
func NewOAuthRepository(q DBTX) *OAuthRepository {
	return &OAuthRepository{q: q}
}

const credentialColumns = `id, user_id, provider, access_token_ciphertext, access_token_nonce,
	refresh_token_ciphertext, refresh_token_nonce, token_type, expiry, scope,
	created_at, updated_at`

func scanCredential(row pgx.Row) (*OAuthCredential, error) {
	var (
		c      OAuthCredential
		expiry pgtype.Timestamptz
		scope  pgtype.Text
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.Provider, &c.AccessTokenCiphertext, &c.AccessTokenNonce,
		&c.RefreshTokenCiphertext, &c.RefreshTokenNonce, &c.TokenType, &expiry, &scope,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	c.Expiry = timestamptzToPtr(expiry)
	c.Scope = textToPtr(scope)
	return &c, nil
}

// Upsert stores a token pair, replacing any existing credential for the same
// (user, provider). Refreshed tokens flow through here as well.
func (r *OAuthRepository) Upsert(ctx context.Context, req UpsertCredentialRequest) (*OAuthCredential, error) {
	row := r.q.QueryRow(ctx, `
		INSERT INTO oauth_credentials
			(user_id, provider, access_token_ciphertext, access_token_nonce,
			 refresh_token_ciphertext, refresh_token_nonce, token_type, expiry, scope)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token_ciphertext = EXCLUDED.access_token_ciphertext,
			access_token_nonce = EXCLUDED.access_token_nonce,
			refresh_token_ciphertext = EXCLUDED.refresh_token_ciphertext,
			refresh_token_nonce = EXCLUDED.refresh_token_nonce,
			token_type = EXCLUDED.token_type,
			expiry = EXCLUDED.expiry,
			scope = EXCLUDED.scope,
			updated_at = now()
		RETURNING `+credentialColumns,
		req.UserID, req.Provider, req.AccessTokenCiphertext, req.AccessTokenNonce,
		req.RefreshTokenCiphertext, req.RefreshTokenNonce, req.TokenType,
		ptrToTimestamptz(req.Expiry), ptrToText(req.Scope),
	)
	return scanCredential(row)
}

// GetByUser retrieves the stored credential for a user and provider
func (r *OAuthRepository) GetByUser(ctx context.Context, userID uuid.UUID, provider string) (*OAuthCredential, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+credentialColumns+` FROM oauth_credentials
		WHERE user_id = $1 AND provider = $2`,
		userID, provider)
	return scanCredential(row)
}

// UpdateAccessToken persists a refreshed access token without touching the
// refresh token.
func (r *OAuthRepository) UpdateAccessToken(ctx context.Context, id uuid.UUID, ciphertext, nonce []byte, expiry *time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE oauth_credentials
		SET access_token_ciphertext = $2, access_token_nonce = $3, expiry = $4,
			updated_at = now()
		WHERE id = $1`,
		id, ciphertext, nonce, ptrToTimestamptz(expiry))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// Delete removes a user's stored credential
func (r *OAuthRepository) Delete(ctx context.Context, userID uuid.UUID, provider string) error {
	tag, err := r.q.Exec(ctx, `
		DELETE FROM oauth_credentials WHERE user_id = $1 AND provider = $2`,
		userID, provider)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}
