package models

import "time"

// ResumeToken stores the hash of a resume secret. The raw secret is handed
// to the caller exactly once at issuance and never persisted. A session has
// at most one row with RevokedAt == nil; resume rotates tokens by revoking
// the old row and inserting a new one, keeping the full history.
type ResumeToken struct {
	ID        int64      `db:"id" json:"id"`
	SessionID string     `db:"session_id" json:"sessionId"`
	TokenHash string     `db:"token_hash" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expiresAt"`
	RevokedAt *time.Time `db:"revoked_at" json:"revokedAt,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}

// Usable reports whether the token can still authorize a resume.
func (t *ResumeToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
