package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chargeledger/internal/models"
)

// ErrSessionNotFound indicates no session row for the given keys.
var ErrSessionNotFound = errors.New("session not found")

// ErrStatusConflict indicates a conditional update matched zero rows because
// the session's current status no longer satisfies the precondition.
var ErrStatusConflict = errors.New("session status precondition failed")

// SessionRepository handles persistence of charging sessions.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `session_id, ev_id, power_required, power_consumed, cost, status, expires_at, created_at, updated_at`

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, session *models.ChargingSession) error {
	const query = `
		INSERT INTO charging_sessions (session_id, ev_id, power_required, power_consumed, cost, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRowContext(ctx, query,
		session.SessionID,
		session.EVID,
		session.PowerRequired,
		session.PowerConsumed,
		session.Cost,
		session.Status,
		session.ExpiresAt,
	).Scan(&session.CreatedAt, &session.UpdatedAt)
}

// Get returns the session identified by (sessionID, evID).
func (r *SessionRepository) Get(ctx context.Context, sessionID, evID string) (*models.ChargingSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE session_id = $1 AND ev_id = $2
	`
	session, err := scanSession(r.db.QueryRowContext(ctx, query, sessionID, evID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return session, err
}

// UpdateStatus transitions the session to a new status only if its current
// status is one of expected. Zero matched rows means another writer won the
// race (or the state moved on) and is reported as ErrStatusConflict.
func (r *SessionRepository) UpdateStatus(ctx context.Context, sessionID, evID string, expected []string, to string) (*models.ChargingSession, error) {
	const query = `
		UPDATE charging_sessions
		SET status = $4,
		    updated_at = NOW()
		WHERE session_id = $1 AND ev_id = $2 AND status = ANY($3)
		RETURNING ` + sessionColumns + `
	`
	session, err := scanSession(r.db.QueryRowContext(ctx, query, sessionID, evID, expected, to))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStatusConflict
	}
	return session, err
}

// Reactivate transitions the session back to active and rotates its resume
// token in one transaction: either the session is active with only the new
// token live, or nothing changed. A rotation failure can therefore never
// leave an active session holding the old token.
func (r *SessionRepository) Reactivate(ctx context.Context, sessionID, evID string, expected []string, newTokenHash string, tokenExpiresAt time.Time) (*models.ChargingSession, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const query = `
		UPDATE charging_sessions
		SET status = $4,
		    updated_at = NOW()
		WHERE session_id = $1 AND ev_id = $2 AND status = ANY($3)
		RETURNING ` + sessionColumns + `
	`
	session, err := scanSession(tx.QueryRowContext(ctx, query, sessionID, evID, expected, models.SessionStatusActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStatusConflict
	}
	if err != nil {
		return nil, err
	}

	if err := rotateToken(ctx, tx, sessionID, newTokenHash, tokenExpiresAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return session, nil
}

// ListByStatus returns up to limit sessions in the given status, newest first.
func (r *SessionRepository) ListByStatus(ctx context.Context, status string, limit int) ([]models.ChargingSession, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ChargingSession
	for rows.Next() {
		var s models.ChargingSession
		if err := rows.Scan(
			&s.SessionID,
			&s.EVID,
			&s.PowerRequired,
			&s.PowerConsumed,
			&s.Cost,
			&s.Status,
			&s.ExpiresAt,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Ping verifies store reachability for the health probe.
func (r *SessionRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.ChargingSession, error) {
	var s models.ChargingSession
	if err := row.Scan(
		&s.SessionID,
		&s.EVID,
		&s.PowerRequired,
		&s.PowerConsumed,
		&s.Cost,
		&s.Status,
		&s.ExpiresAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}
