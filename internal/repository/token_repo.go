package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chargeledger/internal/models"
)

// ErrTokenNotFound indicates no unrevoked token row for the session.
var ErrTokenNotFound = errors.New("resume token not found")

// TokenRepository handles persistence of resume tokens. Tokens are append
// only: rotation revokes the old row and inserts a new one.
type TokenRepository struct {
	db *sql.DB
}

// NewTokenRepository returns repository.
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Insert stores a freshly issued token hash.
func (r *TokenRepository) Insert(ctx context.Context, token *models.ResumeToken) error {
	const query = `
		INSERT INTO resume_tokens (session_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at
	`
	return r.db.QueryRowContext(ctx, query,
		token.SessionID,
		token.TokenHash,
		token.ExpiresAt,
	).Scan(&token.ID, &token.CreatedAt)
}

// GetActive returns the single unrevoked token for the session.
func (r *TokenRepository) GetActive(ctx context.Context, sessionID string) (*models.ResumeToken, error) {
	const query = `
		SELECT id, session_id, token_hash, expires_at, revoked_at, created_at
		FROM resume_tokens
		WHERE session_id = $1 AND revoked_at IS NULL
		ORDER BY id DESC
		LIMIT 1
	`
	var t models.ResumeToken
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&t.ID,
		&t.SessionID,
		&t.TokenHash,
		&t.ExpiresAt,
		&t.RevokedAt,
		&t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// rotateToken revokes every live token for the session and inserts the new
// hash inside the caller's transaction, preserving the at-most-one-live-token
// invariant. Rotation always rides a session transition, so it never commits
// on its own.
func rotateToken(ctx context.Context, tx *sql.Tx, sessionID, newHash string, expiresAt time.Time) error {
	const revokeQuery = `
		UPDATE resume_tokens
		SET revoked_at = NOW()
		WHERE session_id = $1 AND revoked_at IS NULL
	`
	if _, err := tx.ExecContext(ctx, revokeQuery, sessionID); err != nil {
		return err
	}

	const insertQuery = `
		INSERT INTO resume_tokens (session_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, NOW())
	`
	_, err := tx.ExecContext(ctx, insertQuery, sessionID, newHash, expiresAt)
	return err
}

// RevokeAll marks every live token for the session revoked.
func (r *TokenRepository) RevokeAll(ctx context.Context, sessionID string) error {
	const query = `
		UPDATE resume_tokens
		SET revoked_at = NOW()
		WHERE session_id = $1 AND revoked_at IS NULL
	`
	_, err := r.db.ExecContext(ctx, query, sessionID)
	return err
}
