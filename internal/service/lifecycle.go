package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargeledger/internal/metrics"
	"chargeledger/internal/models"
	"chargeledger/internal/repository"
	"chargeledger/internal/token"
)

// DefaultExpiryHours is the horizon applied when a start command omits hours.
const DefaultExpiryHours = 6

// SessionStore is the authoritative session record store. UpdateStatus is
// conditional: it applies only when the current status matches one of
// expected, which is what linearizes racing commands per session. Reactivate
// is the resume write: the same conditional transition plus the token
// rotation, committed atomically.
type SessionStore interface {
	Create(ctx context.Context, session *models.ChargingSession) error
	Get(ctx context.Context, sessionID, evID string) (*models.ChargingSession, error)
	UpdateStatus(ctx context.Context, sessionID, evID string, expected []string, to string) (*models.ChargingSession, error)
	Reactivate(ctx context.Context, sessionID, evID string, expected []string, tokenHash string, tokenExpiresAt time.Time) (*models.ChargingSession, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]models.ChargingSession, error)
	Ping(ctx context.Context) error
}

// TokenStore persists resume token hashes, append-only with revocation.
type TokenStore interface {
	Insert(ctx context.Context, t *models.ResumeToken) error
	GetActive(ctx context.Context, sessionID string) (*models.ResumeToken, error)
	RevokeAll(ctx context.Context, sessionID string) error
}

// EventQueue accepts lifecycle events for asynchronous ledger delivery.
// Enqueue is best-effort and must never block on ledger availability.
type EventQueue interface {
	Enqueue(ctx context.Context, sessionID, evID, eventType string, payload interface{}) bool
}

// Broadcaster fans transitions out to live subscribers.
type Broadcaster interface {
	Broadcast(eventName, txID string, details interface{})
}

// SnapshotCache fronts session point lookups. Any error counts as a miss;
// the store stays the source of truth.
type SnapshotCache interface {
	Get(ctx context.Context, sessionID, evID string) (*models.ChargingSession, error)
	Save(ctx context.Context, session *models.ChargingSession) error
	Invalidate(ctx context.Context, sessionID, evID string) error
}

// LifecycleEngine enforces the session state machine: legal transitions,
// lazy expiry, and resume-token rotation. It holds no lock across store or
// ledger calls; concurrency safety comes from the store's conditional writes.
type LifecycleEngine struct {
	sessions SessionStore
	tokens   TokenStore
	queue    EventQueue
	notifier Broadcaster
	cache    SnapshotCache
	logger   *zap.Logger

	defaultHorizon time.Duration
	now            func() time.Time
}

// NewLifecycleEngine builds the engine. cache may be nil.
func NewLifecycleEngine(
	sessions SessionStore,
	tokens TokenStore,
	queue EventQueue,
	notifier Broadcaster,
	cache SnapshotCache,
	defaultHorizon time.Duration,
	logger *zap.Logger,
) *LifecycleEngine {
	if defaultHorizon <= 0 {
		defaultHorizon = DefaultExpiryHours * time.Hour
	}
	return &LifecycleEngine{
		sessions:       sessions,
		tokens:         tokens,
		queue:          queue,
		notifier:       notifier,
		cache:          cache,
		logger:         logger,
		defaultHorizon: defaultHorizon,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// StartInput carries the start command. Hours < 0 selects the default
// horizon; 0 is honored literally and produces an immediately expired
// session on the next command.
type StartInput struct {
	EVID          string
	PowerRequired float64
	Hours         float64
}

// StartResult is the start response: the created session and the one-time
// resume secret.
type StartResult struct {
	Session      *models.ChargingSession
	ResumeSecret string
}

// Start creates a session in active state and issues its resume token.
func (e *LifecycleEngine) Start(ctx context.Context, input StartInput) (result *StartResult, err error) {
	defer e.observe("start", e.now(), &err)

	if input.EVID == "" {
		return nil, fmt.Errorf("%w: evId is required", ErrValidation)
	}
	if input.PowerRequired <= 0 {
		return nil, fmt.Errorf("%w: powerRequired must be positive", ErrValidation)
	}

	horizon := e.defaultHorizon
	if input.Hours >= 0 {
		horizon = time.Duration(input.Hours * float64(time.Hour))
	}

	now := e.now()
	session := &models.ChargingSession{
		SessionID:     uuid.NewString(),
		EVID:          input.EVID,
		PowerRequired: input.PowerRequired,
		Status:        models.SessionStatusActive,
		ExpiresAt:     now.Add(horizon),
	}
	if err := e.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	secret, hash, err := token.Issue()
	if err != nil {
		return nil, err
	}
	resumeToken := &models.ResumeToken{
		SessionID: session.SessionID,
		TokenHash: hash,
		ExpiresAt: session.ExpiresAt,
	}
	if err := e.tokens.Insert(ctx, resumeToken); err != nil {
		return nil, err
	}

	e.finishTransition(ctx, session, models.EventSessionStarted)

	return &StartResult{Session: session, ResumeSecret: secret}, nil
}

// PauseInput identifies the session to pause.
type PauseInput struct {
	EVID      string
	SessionID string
}

// Pause moves an active session to disconnected.
func (e *LifecycleEngine) Pause(ctx context.Context, input PauseInput) (session *models.ChargingSession, err error) {
	defer e.observe("pause", e.now(), &err)

	if err := requireIDs(input.EVID, input.SessionID); err != nil {
		return nil, err
	}

	current, err := e.getSession(ctx, input.SessionID, input.EVID)
	if err != nil {
		return nil, err
	}
	if err := e.checkLive(ctx, current); err != nil {
		return nil, err
	}
	if !models.IsActive(current.Status) {
		return nil, fmt.Errorf("%w: current status is %s", ErrNotActive, current.Status)
	}

	updated, err := e.transition(ctx, current, models.ActiveStatuses, models.SessionStatusDisconnected)
	if err != nil {
		return nil, err
	}

	e.finishTransition(ctx, updated, models.EventSessionPaused)
	return updated, nil
}

// ResumeInput carries the resume command with the caller's secret.
type ResumeInput struct {
	EVID         string
	SessionID    string
	ResumeSecret string
}

// ResumeResult is the resume response: the session and the rotated secret.
// The previous secret is revoked and will no longer verify.
type ResumeResult struct {
	Session      *models.ChargingSession
	ResumeSecret string
}

// Resume reactivates a paused or disconnected session after verifying the
// resume secret. The status update and the token rotation commit as one
// store transaction, so a failed resume leaves neither applied.
func (e *LifecycleEngine) Resume(ctx context.Context, input ResumeInput) (result *ResumeResult, err error) {
	defer e.observe("resume", e.now(), &err)

	if err := requireIDs(input.EVID, input.SessionID); err != nil {
		return nil, err
	}
	if input.ResumeSecret == "" {
		return nil, fmt.Errorf("%w: resumeSecret is required", ErrValidation)
	}

	current, err := e.getSession(ctx, input.SessionID, input.EVID)
	if err != nil {
		return nil, err
	}
	if err := e.checkLive(ctx, current); err != nil {
		return nil, err
	}
	if models.IsActive(current.Status) {
		return nil, ErrAlreadyActive
	}

	active, err := e.tokens.GetActive(ctx, input.SessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !active.Usable(e.now()) || !token.Verify(input.ResumeSecret, active.TokenHash) {
		return nil, ErrInvalidToken
	}

	secret, hash, err := token.Issue()
	if err != nil {
		return nil, err
	}

	updated, err := e.reactivate(ctx, current, hash)
	if err != nil {
		return nil, err
	}

	e.finishTransition(ctx, updated, models.EventSessionResumed)
	return &ResumeResult{Session: updated, ResumeSecret: secret}, nil
}

// StopInput identifies the session to stop.
type StopInput struct {
	EVID      string
	SessionID string
}

// Stop terminates any non-terminal session and revokes its live tokens.
func (e *LifecycleEngine) Stop(ctx context.Context, input StopInput) (session *models.ChargingSession, err error) {
	defer e.observe("stop", e.now(), &err)

	if err := requireIDs(input.EVID, input.SessionID); err != nil {
		return nil, err
	}

	current, err := e.getSession(ctx, input.SessionID, input.EVID)
	if err != nil {
		return nil, err
	}
	if err := e.checkLive(ctx, current); err != nil {
		return nil, err
	}

	updated, err := e.transition(ctx, current, models.NonTerminalStatuses, models.SessionStatusStopped)
	if err != nil {
		return nil, err
	}

	if err := e.tokens.RevokeAll(ctx, input.SessionID); err != nil {
		e.logger.Error("failed to revoke tokens on stop",
			zap.String("session_id", input.SessionID),
			zap.Error(err))
	}

	e.finishTransition(ctx, updated, models.EventSessionStopped)
	return updated, nil
}

// ActiveSessions is the read-side listing of sessions currently active.
func (e *LifecycleEngine) ActiveSessions(ctx context.Context, limit int) ([]models.ChargingSession, error) {
	return e.sessions.ListByStatus(ctx, models.SessionStatusActive, limit)
}

// HealthCheck probes store reachability.
func (e *LifecycleEngine) HealthCheck(ctx context.Context) error {
	return e.sessions.Ping(ctx)
}

// checkLive rejects terminal sessions and applies lazy expiry: a session
// past its horizon is transitioned to expired as a side effect of being
// touched, and the command reports expiry instead of running.
func (e *LifecycleEngine) checkLive(ctx context.Context, session *models.ChargingSession) error {
	if models.IsTerminal(session.Status) {
		return fmt.Errorf("%w: current status is %s", ErrSessionTerminal, session.Status)
	}
	if !session.Expired(e.now()) {
		return nil
	}

	expired, err := e.transition(ctx, session, models.NonTerminalStatuses, models.SessionStatusExpired)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// Another command expired or terminated it first.
			return ErrSessionExpired
		}
		return err
	}

	if err := e.tokens.RevokeAll(ctx, session.SessionID); err != nil {
		e.logger.Error("failed to revoke tokens on expiry",
			zap.String("session_id", session.SessionID),
			zap.Error(err))
	}

	e.finishTransition(ctx, expired, models.EventSessionExpired)
	return ErrSessionExpired
}

// transition performs the conditional store update and synchronous cache
// invalidation. A zero-row match is the losing side of a race and maps to
// ErrConflict.
func (e *LifecycleEngine) transition(ctx context.Context, session *models.ChargingSession, expected []string, to string) (*models.ChargingSession, error) {
	updated, err := e.sessions.UpdateStatus(ctx, session.SessionID, session.EVID, expected, to)
	if err != nil {
		if isConflict(err) {
			return nil, fmt.Errorf("%w: expected one of %v", ErrConflict, expected)
		}
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Invalidate(ctx, session.SessionID, session.EVID); err != nil {
			e.logger.Warn("failed to invalidate session cache",
				zap.String("session_id", session.SessionID),
				zap.Error(err))
		}
	}
	return updated, nil
}

// reactivate is the transition variant used by resume: the conditional
// status update and the token rotation land in one atomic store write, with
// the same conflict mapping and cache invalidation as transition.
func (e *LifecycleEngine) reactivate(ctx context.Context, session *models.ChargingSession, tokenHash string) (*models.ChargingSession, error) {
	updated, err := e.sessions.Reactivate(ctx, session.SessionID, session.EVID, models.ResumableStatuses, tokenHash, session.ExpiresAt)
	if err != nil {
		if isConflict(err) {
			return nil, fmt.Errorf("%w: expected one of %v", ErrConflict, models.ResumableStatuses)
		}
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Invalidate(ctx, session.SessionID, session.EVID); err != nil {
			e.logger.Warn("failed to invalidate session cache",
				zap.String("session_id", session.SessionID),
				zap.Error(err))
		}
	}
	return updated, nil
}

// finishTransition runs the trailing side effects of a persisted transition:
// the best-effort ledger enqueue and the subscriber fan-out. Neither can
// fail the command.
func (e *LifecycleEngine) finishTransition(ctx context.Context, session *models.ChargingSession, eventType string) {
	payload := transitionDetails(session)

	if ok := e.queue.Enqueue(ctx, session.SessionID, session.EVID, eventType, payload); !ok {
		e.logger.Warn("ledger event not queued, transition remains authoritative",
			zap.String("session_id", session.SessionID),
			zap.String("event_type", eventType))
	}

	e.notifier.Broadcast(eventType, "", payload)
}

func (e *LifecycleEngine) getSession(ctx context.Context, sessionID, evID string) (*models.ChargingSession, error) {
	if e.cache != nil {
		if cached, err := e.cache.Get(ctx, sessionID, evID); err == nil && cached != nil {
			return cached, nil
		}
	}

	session, err := e.sessions.Get(ctx, sessionID, evID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Save(ctx, session); err != nil {
			e.logger.Debug("failed to cache session snapshot", zap.Error(err))
		}
	}
	return session, nil
}

func (e *LifecycleEngine) observe(command string, started time.Time, err *error) {
	outcome := "success"
	if *err != nil {
		outcome = "error"
	}
	metrics.CommandsTotal.WithLabelValues(command, outcome).Inc()
	metrics.CommandDuration.WithLabelValues(command).Observe(e.now().Sub(started).Seconds())
}

func requireIDs(evID, sessionID string) error {
	if evID == "" {
		return fmt.Errorf("%w: evId is required", ErrValidation)
	}
	if sessionID == "" {
		return fmt.Errorf("%w: sessionId is required", ErrValidation)
	}
	return nil
}

func transitionDetails(session *models.ChargingSession) map[string]interface{} {
	return map[string]interface{}{
		"sessionId":     session.SessionID,
		"evId":          session.EVID,
		"status":        session.Status,
		"powerRequired": session.PowerRequired,
		"powerConsumed": session.PowerConsumed,
		"cost":          session.Cost,
		"expiresAt":     session.ExpiresAt,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrSessionNotFound) || errors.Is(err, repository.ErrTokenNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, repository.ErrStatusConflict)
}
