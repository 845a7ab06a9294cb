package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chargeledger/internal/ledger"
	"chargeledger/internal/metrics"
	"chargeledger/internal/models"
)

// Store is the durable outbox the writer drains.
type Store interface {
	Enqueue(ctx context.Context, event *models.QueuedLedgerEvent) error
	FetchDue(ctx context.Context, limit, maxAttempts int, reclaimAfter time.Duration) ([]models.QueuedLedgerEvent, error)
	MarkProcessing(ctx context.Context, id int64) (int, error)
	MarkConfirmed(ctx context.Context, id int64, txID, eventKey string) error
	MarkFailed(ctx context.Context, id int64, lastError string, nextRetryAt time.Time, dead bool) error
	ResetDead(ctx context.Context, sessionID string) (int64, error)
	CountsByStatus(ctx context.Context) (map[string]int64, error)
}

// Broadcaster receives confirmation and dead-letter echoes.
type Broadcaster interface {
	Broadcast(eventName, txID string, details interface{})
}

// Config tunes the drain loop. ReclaimAfter is the age at which a processing
// row counts as orphaned (its confirmation write was lost) and is fetched
// again; it must comfortably exceed SubmitTimeout so an in-flight submit is
// never reclaimed.
type Config struct {
	DrainInterval  time.Duration
	BatchSize      int
	MaxAttempts    int
	BaseRetryDelay time.Duration
	SubmitTimeout  time.Duration
	ReclaimAfter   time.Duration
}

func (c Config) withDefaults() Config {
	if c.DrainInterval <= 0 {
		c.DrainInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 5 * time.Second
	}
	if c.ReclaimAfter <= 0 {
		c.ReclaimAfter = 30 * time.Second
	}
	return c
}

// Writer drains queued lifecycle events to the ledger. Enqueue is fast and
// best-effort; delivery happens in the background drain loop with
// exponential backoff and a dead-letter terminal state.
type Writer struct {
	store    Store
	handle   *ledger.Handle
	notifier Broadcaster
	logger   *zap.Logger
	cfg      Config

	draining atomic.Bool
	now      func() time.Time
}

// NewWriter builds the queue writer.
func NewWriter(store Store, handle *ledger.Handle, notifier Broadcaster, cfg Config, logger *zap.Logger) *Writer {
	return &Writer{
		store:    store,
		handle:   handle,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue records one lifecycle transition for asynchronous delivery.
// Failure to enqueue is logged and reported as false but never surfaced to
// the lifecycle command: session durability outranks audit durability.
func (w *Writer) Enqueue(ctx context.Context, sessionID, evID, eventType string, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error("failed to encode ledger event payload",
			zap.String("session_id", sessionID),
			zap.String("event_type", eventType),
			zap.Error(err))
		return false
	}

	event := &models.QueuedLedgerEvent{
		SessionID: sessionID,
		EVID:      evID,
		EventType: eventType,
		Payload:   data,
	}
	if err := w.store.Enqueue(ctx, event); err != nil {
		w.logger.Error("failed to enqueue ledger event",
			zap.String("session_id", sessionID),
			zap.String("event_type", eventType),
			zap.Error(err))
		return false
	}

	metrics.EventsEnqueuedTotal.Inc()
	return true
}

// Run drains the queue on a fixed interval until ctx is done.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain processes one batch of due events. Drains are mutually exclusive: a
// tick that arrives mid-drain is skipped rather than overlapped, so no two
// drains can double-process the same row.
func (w *Writer) Drain(ctx context.Context) {
	if !w.draining.CompareAndSwap(false, true) {
		return
	}
	defer w.draining.Store(false)

	client, ok := w.handle.Client()
	if !ok {
		return
	}

	started := w.now()
	defer func() {
		metrics.DrainDuration.Observe(w.now().Sub(started).Seconds())
	}()

	events, err := w.store.FetchDue(ctx, w.cfg.BatchSize, w.cfg.MaxAttempts, w.cfg.ReclaimAfter)
	if err != nil {
		w.logger.Error("failed to fetch due ledger events", zap.Error(err))
		return
	}

	for i := range events {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.processEvent(ctx, client, &events[i])
	}
}

func (w *Writer) processEvent(ctx context.Context, client ledger.Client, event *models.QueuedLedgerEvent) {
	attempts, err := w.store.MarkProcessing(ctx, event.ID)
	if err != nil {
		w.logger.Error("failed to mark ledger event processing",
			zap.Int64("event_id", event.ID),
			zap.Error(err))
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, w.cfg.SubmitTimeout)
	receipt, err := client.SubmitEvent(submitCtx, ledger.Event{
		EventKey:  EventKey(event),
		SessionID: event.SessionID,
		EVID:      event.EVID,
		EventType: event.EventType,
		Payload:   event.Payload,
	})
	cancel()

	if err != nil {
		w.handleFailure(ctx, event, attempts, err)
		return
	}

	if err := w.store.MarkConfirmed(ctx, event.ID, receipt.TxID, receipt.EventKey); err != nil {
		// The row stays in processing and is reclaimed by a later fetch once
		// it passes ReclaimAfter; the stable key makes the resubmit a no-op
		// on the ledger side.
		w.logger.Error("ledger write confirmed but not recorded, row will be reclaimed",
			zap.Int64("event_id", event.ID),
			zap.Error(err))
		return
	}

	metrics.EventsConfirmedTotal.Inc()
	w.logger.Info("ledger event confirmed",
		zap.Int64("event_id", event.ID),
		zap.String("session_id", event.SessionID),
		zap.String("event_type", event.EventType),
		zap.String("tx_id", receipt.TxID))

	w.notifier.Broadcast(event.EventType+"Confirmed", receipt.TxID, map[string]interface{}{
		"sessionId": event.SessionID,
		"evId":      event.EVID,
		"eventType": event.EventType,
		"txId":      receipt.TxID,
		"eventKey":  receipt.EventKey,
		"attempts":  attempts,
	})
}

func (w *Writer) handleFailure(ctx context.Context, event *models.QueuedLedgerEvent, attempts int, cause error) {
	metrics.EventsFailedTotal.Inc()

	dead := attempts >= w.cfg.MaxAttempts
	nextRetryAt := w.now().Add(w.cfg.BaseRetryDelay * (1 << uint(attempts)))

	if err := w.store.MarkFailed(ctx, event.ID, cause.Error(), nextRetryAt, dead); err != nil {
		w.logger.Error("failed to record ledger event failure",
			zap.Int64("event_id", event.ID),
			zap.Error(err))
		return
	}

	if !dead {
		w.logger.Warn("ledger write failed, will retry",
			zap.Int64("event_id", event.ID),
			zap.String("session_id", event.SessionID),
			zap.String("event_type", event.EventType),
			zap.Int("attempts", attempts),
			zap.Time("next_retry_at", nextRetryAt),
			zap.Error(cause))
		return
	}

	metrics.EventsDeadTotal.Inc()
	w.logger.Error("ledger event exhausted retry budget",
		zap.Int64("event_id", event.ID),
		zap.String("session_id", event.SessionID),
		zap.String("event_type", event.EventType),
		zap.Int("attempts", attempts),
		zap.Error(cause))

	w.notifier.Broadcast(event.EventType+"Failed", "", map[string]interface{}{
		"sessionId": event.SessionID,
		"evId":      event.EVID,
		"eventType": event.EventType,
		"attempts":  attempts,
		"lastError": cause.Error(),
	})
}

// RetryDeadEvents moves dead rows (all, or one session's) back to pending
// with a fresh retry budget. This is the only path out of dead.
func (w *Writer) RetryDeadEvents(ctx context.Context, sessionID string) (int64, error) {
	count, err := w.store.ResetDead(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		w.logger.Info("dead ledger events requeued",
			zap.Int64("count", count),
			zap.String("session_id", sessionID))
	}
	return count, nil
}

// Status returns queue depth per status.
func (w *Writer) Status(ctx context.Context) (map[string]int64, error) {
	return w.store.CountsByStatus(ctx)
}

// EventKey derives the ledger idempotency key from the queue row. The row id
// is the uniqueness discriminator: the key is stable across retries, so the
// ledger can deduplicate resubmissions after a lost confirmation.
func EventKey(event *models.QueuedLedgerEvent) string {
	return fmt.Sprintf("%s:%s:%d", event.SessionID, event.EventType, event.ID)
}
