package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"chargeledger/internal/models"
	"chargeledger/internal/repository"
)

type fakeSessionStore struct {
	mu           sync.Mutex
	sessions     map[string]*models.ChargingSession
	tokens       *fakeTokenStore
	beforeUpdate func()
	failWrites   bool
}

func newFakeSessionStore(tokens *fakeTokenStore) *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*models.ChargingSession), tokens: tokens}
}

func storeKey(sessionID, evID string) string {
	return sessionID + "|" + evID
}

func (f *fakeSessionStore) Create(ctx context.Context, session *models.ChargingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("store down")
	}
	copied := *session
	f.sessions[storeKey(session.SessionID, session.EVID)] = &copied
	return nil
}

func (f *fakeSessionStore) Get(ctx context.Context, sessionID, evID string) (*models.ChargingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[storeKey(sessionID, evID)]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionStore) UpdateStatus(ctx context.Context, sessionID, evID string, expected []string, to string) (*models.ChargingSession, error) {
	if f.beforeUpdate != nil {
		f.beforeUpdate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return nil, errors.New("store down")
	}
	session, ok := f.sessions[storeKey(sessionID, evID)]
	if !ok {
		return nil, repository.ErrStatusConflict
	}
	matched := false
	for _, status := range expected {
		if session.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return nil, repository.ErrStatusConflict
	}
	session.Status = to
	copied := *session
	return &copied, nil
}

func (f *fakeSessionStore) Reactivate(ctx context.Context, sessionID, evID string, expected []string, tokenHash string, tokenExpiresAt time.Time) (*models.ChargingSession, error) {
	if f.beforeUpdate != nil {
		f.beforeUpdate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return nil, errors.New("store down")
	}
	session, ok := f.sessions[storeKey(sessionID, evID)]
	if !ok {
		return nil, repository.ErrStatusConflict
	}
	matched := false
	for _, status := range expected {
		if session.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return nil, repository.ErrStatusConflict
	}
	// Rotation failure rolls the whole write back: the status is untouched.
	if err := f.tokens.rotate(sessionID, tokenHash, tokenExpiresAt); err != nil {
		return nil, err
	}
	session.Status = models.SessionStatusActive
	copied := *session
	return &copied, nil
}

func (f *fakeSessionStore) ListByStatus(ctx context.Context, status string, limit int) ([]models.ChargingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []models.ChargingSession
	for _, session := range f.sessions {
		if session.Status == status {
			result = append(result, *session)
		}
	}
	return result, nil
}

func (f *fakeSessionStore) Ping(ctx context.Context) error { return nil }

func (f *fakeSessionStore) setStatus(sessionID, evID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[storeKey(sessionID, evID)].Status = status
}

type fakeTokenStore struct {
	mu        sync.Mutex
	tokens    []*models.ResumeToken
	nextID    int64
	rotateErr error
}

func (f *fakeTokenStore) Insert(ctx context.Context, t *models.ResumeToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t.ID = f.nextID
	copied := *t
	f.tokens = append(f.tokens, &copied)
	return nil
}

func (f *fakeTokenStore) GetActive(ctx context.Context, sessionID string) (*models.ResumeToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.tokens) - 1; i >= 0; i-- {
		t := f.tokens[i]
		if t.SessionID == sessionID && t.RevokedAt == nil {
			copied := *t
			return &copied, nil
		}
	}
	return nil, repository.ErrTokenNotFound
}

// rotate backs fakeSessionStore.Reactivate the way the real rotation rides
// the session repository's transaction.
func (f *fakeTokenStore) rotate(sessionID, newHash string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rotateErr != nil {
		return f.rotateErr
	}
	now := time.Now().UTC()
	for _, t := range f.tokens {
		if t.SessionID == sessionID && t.RevokedAt == nil {
			revoked := now
			t.RevokedAt = &revoked
		}
	}
	f.nextID++
	f.tokens = append(f.tokens, &models.ResumeToken{
		ID:        f.nextID,
		SessionID: sessionID,
		TokenHash: newHash,
		ExpiresAt: expiresAt,
	})
	return nil
}

func (f *fakeTokenStore) RevokeAll(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	for _, t := range f.tokens {
		if t.SessionID == sessionID && t.RevokedAt == nil {
			revoked := now
			t.RevokedAt = &revoked
		}
	}
	return nil
}

func (f *fakeTokenStore) liveCount(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, t := range f.tokens {
		if t.SessionID == sessionID && t.RevokedAt == nil {
			count++
		}
	}
	return count
}

type queuedEvent struct {
	sessionID string
	evID      string
	eventType string
}

type fakeQueue struct {
	mu     sync.Mutex
	events []queuedEvent
	reject bool
}

func (f *fakeQueue) Enqueue(ctx context.Context, sessionID, evID, eventType string, payload interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	f.events = append(f.events, queuedEvent{sessionID: sessionID, evID: evID, eventType: eventType})
	return true
}

func (f *fakeQueue) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.events))
	for i, e := range f.events {
		types[i] = e.eventType
	}
	return types
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Broadcast(eventName, txID string, details interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventName)
}

func (f *fakeNotifier) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type engineFixture struct {
	engine   *LifecycleEngine
	sessions *fakeSessionStore
	tokens   *fakeTokenStore
	queue    *fakeQueue
	notifier *fakeNotifier
	clock    *time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	tokens := &fakeTokenStore{}
	sessions := newFakeSessionStore(tokens)
	q := &fakeQueue{}
	notifier := &fakeNotifier{}

	engine := NewLifecycleEngine(sessions, tokens, q, notifier, nil, 6*time.Hour, zap.NewNop())
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	return &engineFixture{
		engine:   engine,
		sessions: sessions,
		tokens:   tokens,
		queue:    q,
		notifier: notifier,
		clock:    &now,
	}
}

func (fx *engineFixture) advance(d time.Duration) {
	*fx.clock = fx.clock.Add(d)
}

func TestStartValidation(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	if _, err := fx.engine.Start(ctx, StartInput{PowerRequired: 10, Hours: 1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for missing evId, got %v", err)
	}
	if _, err := fx.engine.Start(ctx, StartInput{EVID: "EV1", Hours: 1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for zero power, got %v", err)
	}
	if len(fx.queue.eventTypes()) != 0 {
		t.Fatal("rejected commands must not enqueue ledger events")
	}
}

func TestFullLifecycleScenario(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	started, err := fx.engine.Start(ctx, StartInput{EVID: "EV1", PowerRequired: 10, Hours: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Session.Status != models.SessionStatusActive {
		t.Fatalf("expected active status, got %s", started.Session.Status)
	}
	wantExpiry := fx.clock.Add(time.Hour)
	if !started.Session.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected expiry %v, got %v", wantExpiry, started.Session.ExpiresAt)
	}
	if started.ResumeSecret == "" {
		t.Fatal("expected a resume secret")
	}

	sessionID := started.Session.SessionID

	paused, err := fx.engine.Pause(ctx, PauseInput{EVID: "EV1", SessionID: sessionID})
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Status != models.SessionStatusDisconnected {
		t.Fatalf("expected disconnected status, got %s", paused.Status)
	}

	resumed, err := fx.engine.Resume(ctx, ResumeInput{EVID: "EV1", SessionID: sessionID, ResumeSecret: started.ResumeSecret})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Session.Status != models.SessionStatusActive {
		t.Fatalf("expected active status after resume, got %s", resumed.Session.Status)
	}
	if resumed.ResumeSecret == "" || resumed.ResumeSecret == started.ResumeSecret {
		t.Fatal("expected a rotated resume secret")
	}

	// The rotated-out secret must no longer verify.
	fx.sessions.setStatus(sessionID, "EV1", models.SessionStatusPaused)
	if _, err := fx.engine.Resume(ctx, ResumeInput{EVID: "EV1", SessionID: sessionID, ResumeSecret: started.ResumeSecret}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token error for old secret, got %v", err)
	}

	stopped, err := fx.engine.Stop(ctx, StopInput{EVID: "EV1", SessionID: sessionID})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Status != models.SessionStatusStopped {
		t.Fatalf("expected stopped status, got %s", stopped.Status)
	}
	if live := fx.tokens.liveCount(sessionID); live != 0 {
		t.Fatalf("expected zero live tokens after stop, got %d", live)
	}

	// Terminal is absorbing.
	if _, err := fx.engine.Pause(ctx, PauseInput{EVID: "EV1", SessionID: sessionID}); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("expected terminal error on pause, got %v", err)
	}
	if _, err := fx.engine.Resume(ctx, ResumeInput{EVID: "EV1", SessionID: sessionID, ResumeSecret: resumed.ResumeSecret}); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("expected terminal error on resume, got %v", err)
	}
	if _, err := fx.engine.Stop(ctx, StopInput{EVID: "EV1", SessionID: sessionID}); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("expected terminal error on stop, got %v", err)
	}

	wantEvents := []string{
		models.EventSessionStarted,
		models.EventSessionPaused,
		models.EventSessionResumed,
		models.EventSessionStopped,
	}
	got := fx.queue.eventTypes()
	if len(got) != len(wantEvents) {
		t.Fatalf("expected %d queued events, got %v", len(wantEvents), got)
	}
	for i, want := range wantEvents {
		if got[i] != want {
			t.Fatalf("queued event %d: expected %s, got %s", i, want, got[i])
		}
	}
	for i, want := range wantEvents {
		if fx.notifier.names()[i] != want {
			t.Fatalf("broadcast %d: expected %s, got %s", i, want, fx.notifier.names()[i])
		}
	}
}

func TestLazyExpiry(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	started, err := fx.engine.Start(ctx, StartInput{EVID: "EV1", PowerRequired: 5, Hours: 0})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sessionID := started.Session.SessionID

	// hours=0 means the session is already past its horizon; the next
	// command applies the expiry transition instead of running.
	if _, err := fx.engine.Pause(ctx, PauseInput{EVID: "EV1", SessionID: sessionID}); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}

	stored, err := fx.sessions.Get(ctx, sessionID, "EV1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.SessionStatusExpired {
		t.Fatalf("expected expired status persisted, got %s", stored.Status)
	}
	if live := fx.tokens.liveCount(sessionID); live != 0 {
		t.Fatalf("expected zero live tokens after expiry, got %d", live)
	}

	got := fx.queue.eventTypes()
	if len(got) != 2 || got[1] != models.EventSessionExpired {
		t.Fatalf("expected SessionExpired queued, got %v", got)
	}

	// Once expired the session is terminal for every later command.
	if _, err := fx.engine.Stop(ctx, StopInput{EVID: "EV1", SessionID: sessionID}); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("expected terminal error after expiry, got %v", err)
	}
}

func TestExpiryByClockAdvance(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	started, err := fx.engine.Start(ctx, StartInput{EVID: "EV2", PowerRequired: 7, Hours: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	fx.advance(61 * time.Minute)

	if _, err := fx.engine.Resume(ctx, ResumeInput{EVID: "EV2", SessionID: started.Session.SessionID, ResumeSecret: started.ResumeSecret}); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected expired error after clock advance, got %v", err)
	}
}

func TestResumePreconditions(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	started, err := fx.engine.Start(ctx, StartInput{EVID: "EV1", PowerRequired: 10, Hours: 2})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sessionID := started.Session.SessionID

	// Resume against an ACTIVE session is a distinct no-op error.
	if _, err := fx.engine.Resume(ctx, ResumeInput{EVID: "EV1", SessionID: sessionID, ResumeSecret: started.ResumeSecret}); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected already-active error, got %v", err)
	}

	// Pause against a non-active session is rejected naming the command.
	fx.sessions.setStatus(sessionID, "EV1", models.SessionStatusPaused)
	if _, err := fx.engine.Pause(ctx, PauseInput{EVID: "EV1", SessionID: sessionID}); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected not-active error, got %v", err)
	}

	// A garbage secret is rejected without revealing which check failed.
	if _, err := fx.engine.Resume(ctx, ResumeInput{EVID: "EV1", SessionID: sessionID, ResumeSecret: "bogus"}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}

	if _, err := fx.engine.Pause(ctx, PauseInput{EVID: "EV1", SessionID: "missing"}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestConcurrentCommandLosesRace(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	started, err := fx.engine.Start(ctx, StartInput{EVID: "EV1", PowerRequired: 10, Hours: 2})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sessionID := started.Session.SessionID

	// Another command wins between the read and the conditional write; the
	// loser must surface a precondition failure, not retry blindly.
	fx.sessions.beforeUpdate = func() {
		fx.sessions.beforeUpdate = nil
		fx.sessions.setStatus(sessionID, "EV1", models.SessionStatusDisconnected)
	}
	if _, err := fx.engine.Pause(ctx, PauseInput{EVID: "EV1", SessionID: sessionID}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestStoreFailureAppliesNothing(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	started, err := fx.engine.Start(ctx, StartInput{EVID: "EV1", PowerRequired: 10, Hours: 2})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	queuedBefore := len(fx.queue.eventTypes())

	fx.sessions.failWrites = true
	_, err = fx.engine.Pause(ctx, PauseInput{EVID: "EV1", SessionID: started.Session.SessionID})
	if err == nil || errors.Is(err, ErrConflict) {
		t.Fatalf("expected transient store error, got %v", err)
	}
	if len(fx.queue.eventTypes()) != queuedBefore {
		t.Fatal("failed command must not enqueue a ledger event")
	}
}

func TestResumeRotationFailureAppliesNothing(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	started, err := fx.engine.Start(ctx, StartInput{EVID: "EV1", PowerRequired: 10, Hours: 2})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sessionID := started.Session.SessionID
	if _, err := fx.engine.Pause(ctx, PauseInput{EVID: "EV1", SessionID: sessionID}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	queuedBefore := len(fx.queue.eventTypes())

	// The rotation write fails, which rolls back the whole resume: the
	// session must not surface as active with the old token still live.
	fx.tokens.rotateErr = errors.New("store down")
	if _, err := fx.engine.Resume(ctx, ResumeInput{EVID: "EV1", SessionID: sessionID, ResumeSecret: started.ResumeSecret}); err == nil {
		t.Fatal("expected resume to fail when rotation fails")
	}

	stored, err := fx.sessions.Get(ctx, sessionID, "EV1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.SessionStatusDisconnected {
		t.Fatalf("failed resume must leave the session disconnected, got %s", stored.Status)
	}
	if len(fx.queue.eventTypes()) != queuedBefore {
		t.Fatal("failed resume must not enqueue SessionResumed")
	}
	if live := fx.tokens.liveCount(sessionID); live != 1 {
		t.Fatalf("expected the original token still live, got %d", live)
	}

	// Once the store recovers the untouched secret resumes normally.
	fx.tokens.rotateErr = nil
	resumed, err := fx.engine.Resume(ctx, ResumeInput{EVID: "EV1", SessionID: sessionID, ResumeSecret: started.ResumeSecret})
	if err != nil {
		t.Fatalf("resume after recovery: %v", err)
	}
	if resumed.Session.Status != models.SessionStatusActive {
		t.Fatalf("expected active after recovery, got %s", resumed.Session.Status)
	}
	if resumed.ResumeSecret == started.ResumeSecret {
		t.Fatal("expected a rotated secret after the successful resume")
	}
}

func TestEnqueueFailureDoesNotFailCommand(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	fx.queue.reject = true
	started, err := fx.engine.Start(ctx, StartInput{EVID: "EV1", PowerRequired: 10, Hours: 2})
	if err != nil {
		t.Fatalf("start should survive enqueue failure: %v", err)
	}
	if started.Session.Status != models.SessionStatusActive {
		t.Fatalf("expected active status, got %s", started.Session.Status)
	}
	// The transition is still broadcast to subscribers.
	if names := fx.notifier.names(); len(names) != 1 || names[0] != models.EventSessionStarted {
		t.Fatalf("expected SessionStarted broadcast, got %v", names)
	}
}

func TestStatusDomain(t *testing.T) {
	valid := map[string]bool{
		models.SessionStatusActive:       true,
		models.SessionStatusCharging:     true,
		models.SessionStatusPaused:       true,
		models.SessionStatusDisconnected: true,
		models.SessionStatusStopped:      true,
		models.SessionStatusExpired:      true,
	}

	fx := newEngineFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		started, err := fx.engine.Start(ctx, StartInput{EVID: fmt.Sprintf("EV%d", i), PowerRequired: 1, Hours: 1})
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if !valid[started.Session.Status] {
			t.Fatalf("status %q outside defined domain", started.Session.Status)
		}
	}
}
