package models

import "time"

// Ledger event types emitted by the lifecycle engine.
const (
	EventSessionStarted = "SessionStarted"
	EventSessionPaused  = "SessionPaused"
	EventSessionResumed = "SessionResumed"
	EventSessionStopped = "SessionStopped"
	EventSessionExpired = "SessionExpired"
)

// Queue statuses for ledger events. Rows move pending -> processing ->
// confirmed, or through failed into dead once the retry budget is spent.
// Dead rows are only revived by an explicit administrative retry.
const (
	EventStatusPending    = "pending"
	EventStatusProcessing = "processing"
	EventStatusConfirmed  = "confirmed"
	EventStatusFailed     = "failed"
	EventStatusDead       = "dead"
)

// QueuedLedgerEvent is the outbox row recording one lifecycle transition
// awaiting delivery to the ledger. Rows are never deleted; confirmed and
// dead rows remain for audit and manual recovery.
type QueuedLedgerEvent struct {
	ID          int64     `db:"id" json:"id"`
	SessionID   string    `db:"session_id" json:"sessionId"`
	EVID        string    `db:"ev_id" json:"evId"`
	EventType   string    `db:"event_type" json:"eventType"`
	Payload     []byte    `db:"payload" json:"payload"`
	Status      string    `db:"status" json:"status"`
	Attempts    int       `db:"attempts" json:"attempts"`
	NextRetryAt time.Time `db:"next_retry_at" json:"nextRetryAt"`
	TxID        string    `db:"tx_id" json:"txId,omitempty"`
	EventKey    string    `db:"event_key" json:"eventKey,omitempty"`
	LastError   string    `db:"last_error" json:"lastError,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}
