package models

import "time"

// Session status values. Active and Charging count as ACTIVE, Paused and
// Disconnected as RESUMABLE, Stopped and Expired as TERMINAL. Terminal
// statuses are absorbing.
const (
	SessionStatusActive       = "active"
	SessionStatusCharging     = "charging"
	SessionStatusPaused       = "paused"
	SessionStatusDisconnected = "disconnected"
	SessionStatusStopped      = "stopped"
	SessionStatusExpired      = "expired"
)

// ActiveStatuses lists statuses a session can be paused from.
var ActiveStatuses = []string{SessionStatusActive, SessionStatusCharging}

// ResumableStatuses lists statuses a session can be resumed from.
var ResumableStatuses = []string{SessionStatusPaused, SessionStatusDisconnected}

// NonTerminalStatuses lists every status stop applies to.
var NonTerminalStatuses = []string{
	SessionStatusActive,
	SessionStatusCharging,
	SessionStatusPaused,
	SessionStatusDisconnected,
}

// IsTerminal reports whether status is absorbing.
func IsTerminal(status string) bool {
	return status == SessionStatusStopped || status == SessionStatusExpired
}

// IsActive reports whether status counts as ACTIVE.
func IsActive(status string) bool {
	return status == SessionStatusActive || status == SessionStatusCharging
}

// IsResumable reports whether status counts as RESUMABLE.
func IsResumable(status string) bool {
	return status == SessionStatusPaused || status == SessionStatusDisconnected
}

// ChargingSession is the authoritative session record. Rows are never
// deleted; terminal sessions are retained for audit.
type ChargingSession struct {
	SessionID     string    `db:"session_id" json:"sessionId"`
	EVID          string    `db:"ev_id" json:"evId"`
	PowerRequired float64   `db:"power_required" json:"powerRequired"`
	PowerConsumed float64   `db:"power_consumed" json:"powerConsumed"`
	Cost          float64   `db:"cost" json:"cost"`
	Status        string    `db:"status" json:"status"`
	ExpiresAt     time.Time `db:"expires_at" json:"expiresAt"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// Expired reports whether the session has passed its expiry horizon.
func (s *ChargingSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
