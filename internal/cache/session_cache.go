package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chargeledger/internal/models"
)

// SessionCache is a read-through cache in front of session point lookups.
// It is never the source of truth: entries carry a short TTL and every
// engine write invalidates the entry synchronously.
type SessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionCache returns redis-backed cache.
func NewSessionCache(client *redis.Client, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &SessionCache{client: client, ttl: ttl}
}

func (c *SessionCache) key(sessionID, evID string) string {
	return fmt.Sprintf("sessions:snapshot:%s:%s", sessionID, evID)
}

// Save caches a session snapshot.
func (c *SessionCache) Save(ctx context.Context, session *models.ChargingSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(session.SessionID, session.EVID), data, c.ttl).Err()
}

// Get returns the cached snapshot, or redis.Nil on a miss.
func (c *SessionCache) Get(ctx context.Context, sessionID, evID string) (*models.ChargingSession, error) {
	result, err := c.client.Get(ctx, c.key(sessionID, evID)).Result()
	if err != nil {
		return nil, err
	}
	var session models.ChargingSession
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Invalidate drops the cached snapshot.
func (c *SessionCache) Invalidate(ctx context.Context, sessionID, evID string) error {
	return c.client.Del(ctx, c.key(sessionID, evID)).Err()
}
