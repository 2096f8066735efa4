package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis client methods used by RedisMemory.
type RedisClient interface {
	HExists(ctx context.Context, key, field string) *redis.BoolCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisConfig holds connection settings for NewRedisMemory.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Key is the hash holding the session; defaults to "schemachain:session".
	Key string
}

// RedisMemory keeps the session in a single Redis hash.
type RedisMemory struct {
	client RedisClient
	key    string
	closer func() error
}

// NewRedisMemory connects to Redis and verifies the connection with PING.
func NewRedisMemory(ctx context.Context, cfg RedisConfig) (*RedisMemory, error) {
	opts := &redis.Options{Addr: cfg.Address, DB: cfg.DB}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session redis %s: ping failed: %w", cfg.Address, err)
	}
	m := NewRedisMemoryWithClient(client, cfg.Key)
	m.closer = client.Close
	return m, nil
}

// NewRedisMemoryWithClient creates a RedisMemory over an existing client.
func NewRedisMemoryWithClient(client RedisClient, key string) *RedisMemory {
	if key == "" {
		key = "schemachain:session"
	}
	return &RedisMemory{client: client, key: key}
}

func (m *RedisMemory) IsDone(ctx context.Context, key Key) (bool, error) {
	ok, err := m.client.HExists(ctx, m.key, key.String()).Result()
	if err != nil {
		return false, fmt.Errorf("query session key %s: %w", key, err)
	}
	return ok, nil
}

func (m *RedisMemory) MarkDone(ctx context.Context, key Key) error {
	if err := m.client.HSet(ctx, m.key, key.String(), time.Now().UTC().Format(time.RFC3339)).Err(); err != nil {
		return fmt.Errorf("store session key %s: %w", key, err)
	}
	return nil
}

func (m *RedisMemory) Reset(ctx context.Context) error {
	if err := m.client.Del(ctx, m.key).Err(); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

// Close closes the connection if NewRedisMemory opened it.
func (m *RedisMemory) Close() error {
	if m.closer != nil {
		return m.closer()
	}
	return nil
}
