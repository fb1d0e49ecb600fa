package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/linkshelf/storefront/internal/config"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces session keys in a shared Redis.
const keyPrefix = "admin_session:"

// Connect opens a Redis client and verifies connectivity.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session: redis ping: %w", err)
	}
	return client, nil
}

// RedisStore persists sessions in Redis with a TTL matching the session expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(id string) string {
	return keyPrefix + id
}

// Create stores a session until its expiry.
func (s *RedisStore) Create(ctx context.Context, sess Session) error {
	if err := validate(sess); err != nil {
		return err
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return ErrInvalidSession
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

// Get returns a session if present. Expiry is enforced by Redis and rechecked here.
func (s *RedisStore) Get(ctx context.Context, id string) (Session, bool, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("session: redis get: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, false, fmt.Errorf("session: unmarshal: %w", err)
	}
	if sess.Expired(time.Now()) {
		return Session{}, false, nil
	}
	return sess, true, nil
}

// Delete removes a session. Missing sessions are not an error.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}
