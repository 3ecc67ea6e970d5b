package ownership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultTTL is how long ownership entries live before the history store is
// consulted again.
const DefaultTTL = 24 * time.Hour

// Redis is a Lookup backed by a shared Redis instance, letting multiple
// server replicas agree on ownership without hitting the history store.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to Redis at the given URL (redis://host:port/db) and
// verifies connectivity.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ownership: parse redis URL: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ownership: ping redis: %w", err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func userKey(userID string) string         { return "user:" + userID }
func chatKey(userID, chatID string) string { return "chat:" + userID + ":" + chatID }

// IsOwner reports whether the chat is cached as belonging to the user.
func (r *Redis) IsOwner(ctx context.Context, userID, chatID string) (bool, error) {
	err := r.client.Get(ctx, chatKey(userID, chatID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ownership: get chat: %w", err)
	}
	return true, nil
}

// Remember caches chat ownership and user existence with the configured TTL.
func (r *Redis) Remember(ctx context.Context, userID, chatID string) error {
	pipe := r.client.Pipeline()
	pipe.Set(ctx, chatKey(userID, chatID), "1", r.ttl)
	pipe.Set(ctx, userKey(userID), "1", r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ownership: remember chat: %w", err)
	}
	return nil
}

// RememberUser caches that a user id exists.
func (r *Redis) RememberUser(ctx context.Context, userID string) error {
	if err := r.client.Set(ctx, userKey(userID), "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("ownership: remember user: %w", err)
	}
	return nil
}

// KnownUser reports whether the user id is cached.
func (r *Redis) KnownUser(ctx context.Context, userID string) (bool, error) {
	err := r.client.Get(ctx, userKey(userID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ownership: get user: %w", err)
	}
	return true, nil
}

// Close shuts down the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
