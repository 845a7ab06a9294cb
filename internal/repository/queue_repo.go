package repository

import (
	"context"
	"database/sql"
	"time"

	"chargeledger/internal/models"
)

// LedgerQueueRepository persists the outbox of ledger events. Rows are
// inserted by the lifecycle engine and mutated only by the write queue;
// they are never deleted.
type LedgerQueueRepository struct {
	db *sql.DB
}

// NewLedgerQueueRepository returns repository.
func NewLedgerQueueRepository(db *sql.DB) *LedgerQueueRepository {
	return &LedgerQueueRepository{db: db}
}

const eventColumns = `id, session_id, ev_id, event_type, payload, status, attempts, next_retry_at, COALESCE(tx_id, ''), COALESCE(event_key, ''), COALESCE(last_error, ''), created_at, updated_at`

// Enqueue inserts a pending event due immediately.
func (r *LedgerQueueRepository) Enqueue(ctx context.Context, event *models.QueuedLedgerEvent) error {
	const query = `
		INSERT INTO ledger_event_queue (session_id, ev_id, event_type, payload, status, attempts, next_retry_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, NOW(), NOW(), NOW())
		RETURNING id, next_retry_at, created_at, updated_at
	`
	return r.db.QueryRowContext(ctx, query,
		event.SessionID,
		event.EVID,
		event.EventType,
		event.Payload,
		models.EventStatusPending,
	).Scan(&event.ID, &event.NextRetryAt, &event.CreatedAt, &event.UpdatedAt)
}

// FetchDue returns up to limit events ready for delivery, oldest first:
// pending or failed rows whose retry time has arrived and whose retry budget
// is not spent, plus processing rows untouched for longer than reclaimAfter.
// A stale processing row means the confirmation write was lost after a
// successful submit; resubmitting it is safe because the idempotency key is
// derived from the row id.
func (r *LedgerQueueRepository) FetchDue(ctx context.Context, limit, maxAttempts int, reclaimAfter time.Duration) ([]models.QueuedLedgerEvent, error) {
	const query = `
		SELECT ` + eventColumns + `
		FROM ledger_event_queue
		WHERE (status = ANY($1) AND next_retry_at <= NOW() AND attempts < $2)
		   OR (status = $4 AND updated_at <= NOW() - make_interval(secs => $5))
		ORDER BY id ASC
		LIMIT $3
	`
	statuses := []string{models.EventStatusPending, models.EventStatusFailed}
	rows, err := r.db.QueryContext(ctx, query, statuses, maxAttempts, limit,
		models.EventStatusProcessing, reclaimAfter.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.QueuedLedgerEvent
	for rows.Next() {
		var e models.QueuedLedgerEvent
		if err := rows.Scan(
			&e.ID,
			&e.SessionID,
			&e.EVID,
			&e.EventType,
			&e.Payload,
			&e.Status,
			&e.Attempts,
			&e.NextRetryAt,
			&e.TxID,
			&e.EventKey,
			&e.LastError,
			&e.CreatedAt,
			&e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// MarkProcessing moves the event into processing and charges one attempt,
// returning the new attempt count.
func (r *LedgerQueueRepository) MarkProcessing(ctx context.Context, id int64) (int, error) {
	const query = `
		UPDATE ledger_event_queue
		SET status = $2,
		    attempts = attempts + 1,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING attempts
	`
	var attempts int
	err := r.db.QueryRowContext(ctx, query, id, models.EventStatusProcessing).Scan(&attempts)
	return attempts, err
}

// MarkConfirmed records the ledger-assigned identifiers on success.
func (r *LedgerQueueRepository) MarkConfirmed(ctx context.Context, id int64, txID, eventKey string) error {
	const query = `
		UPDATE ledger_event_queue
		SET status = $2,
		    tx_id = $3,
		    event_key = $4,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, models.EventStatusConfirmed, txID, eventKey)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkFailed records a failed attempt and schedules the next retry; when the
// budget is spent the row is marked dead instead.
func (r *LedgerQueueRepository) MarkFailed(ctx context.Context, id int64, lastError string, nextRetryAt time.Time, dead bool) error {
	status := models.EventStatusFailed
	if dead {
		status = models.EventStatusDead
	}
	const query = `
		UPDATE ledger_event_queue
		SET status = $2,
		    last_error = $3,
		    next_retry_at = $4,
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, status, lastError, nextRetryAt)
	return err
}

// ResetDead moves dead rows back to pending with a fresh retry budget,
// optionally scoped to one session. Returns the number of revived rows.
func (r *LedgerQueueRepository) ResetDead(ctx context.Context, sessionID string) (int64, error) {
	const query = `
		UPDATE ledger_event_queue
		SET status = $1,
		    attempts = 0,
		    next_retry_at = NOW(),
		    last_error = NULL,
		    updated_at = NOW()
		WHERE status = $2 AND ($3 = '' OR session_id = $3)
	`
	result, err := r.db.ExecContext(ctx, query, models.EventStatusPending, models.EventStatusDead, sessionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountsByStatus returns the queue depth per status.
func (r *LedgerQueueRepository) CountsByStatus(ctx context.Context) (map[string]int64, error) {
	const query = `
		SELECT status, COUNT(*)
		FROM ledger_event_queue
		GROUP BY status
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}
