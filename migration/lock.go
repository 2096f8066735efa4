package migration

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// DistributedLock provides mutual exclusion for migration runs across
// multiple processes or nodes.
type DistributedLock interface {
	// Acquire obtains the lock for the given key. The returned release function
	// must be called to release the lock. The lock is held until release is called
	// or the context is cancelled.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// PostgresLock implements DistributedLock using PostgreSQL advisory locks.
type PostgresLock struct {
	db *sql.DB
}

// NewPostgresLock creates a new PostgresLock.
func NewPostgresLock(db *sql.DB) *PostgresLock {
	return &PostgresLock{db: db}
}

// Acquire obtains a PostgreSQL advisory lock on a dedicated connection, so
// the lock stays with the session that took it. The key is hashed to an int64.
func (l *PostgresLock) Acquire(ctx context.Context, key string) (func(), error) {
	lockID := hashLockKey(key)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock connection for %s: %w", key, err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockID); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pg_advisory_lock(%d): %w", lockID, err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
			conn.Close()
		})
	}
	return release, nil
}

// LocalLock implements DistributedLock using a process-local mutex. It is
// enough when the version store is a local file or SQLite database.
type LocalLock struct {
	mu sync.Mutex
}

// NewLocalLock creates a new LocalLock.
func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

// Acquire obtains the mutex lock. Returns an error if the context is already cancelled.
func (l *LocalLock) Acquire(ctx context.Context, _ string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire local lock: %w", err)
	}
	l.mu.Lock()
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}

// RedisLock implements DistributedLock with SET NX and a TTL. The TTL is a
// safety net for crashed holders; it is not renewed while the lock is held.
type RedisLock struct {
	client  redis.UniversalClient
	ttl     time.Duration
	limiter *rate.Limiter
}

// NewRedisLock creates a RedisLock. A zero ttl defaults to 30 minutes.
func NewRedisLock(client redis.UniversalClient, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLock{client: client, ttl: ttl, limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1)}
}

var redisUnlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire polls until the key can be set or ctx is done.
func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	for {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("acquire redis lock %s: %w", key, err)
		}
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			_, _ = redisUnlockScript.Run(context.Background(), l.client, []string{key}, token).Result()
		})
	}
	return release, nil
}

// hashLockKey produces a stable int64 hash from a string key for use with
// pg_advisory_lock. Uses FNV-1a.
func hashLockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // masked to non-negative range
}
