package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis session store defaults.
const (
	DefaultSessionTTL   = 24 * time.Hour
	redisSessionPrefix  = "pizzapipe:session:"
	redisConnectTimeout = 2 * time.Second
)

// RedisSessionStore keeps serialised dialogue sessions in Redis. Sessions
// untouched for longer than the TTL expire, which abandons half-finished
// dialogues.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ SessionStore = (*RedisSessionStore)(nil)

// ConnectRedis creates a Redis client for addr and verifies the connection.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		slog.Error("ConnectRedis: ping failed", "addr", addr, "error", err)
		return nil, fmt.Errorf("redis %s unavailable: %w", addr, err)
	}
	slog.Info("Redis connected", "addr", addr)
	return rdb, nil
}

// NewRedisSessionStore wraps client. A non-positive ttl uses DefaultSessionTTL.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

func (s *RedisSessionStore) GetSession(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, redisSessionPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisSessionStore.GetSession failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get session %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisSessionStore) SaveSession(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, redisSessionPrefix+key, data, s.ttl).Err(); err != nil {
		slog.Error("RedisSessionStore.SaveSession failed", "key", key, "error", err)
		return fmt.Errorf("failed to save session %s: %w", key, err)
	}
	return nil
}

func (s *RedisSessionStore) DeleteSession(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisSessionPrefix+key).Err(); err != nil {
		slog.Error("RedisSessionStore.DeleteSession failed", "key", key, "error", err)
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
