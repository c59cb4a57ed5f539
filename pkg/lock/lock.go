// Package lock provides a Redis-backed TTL lock so only one worker processes
// a given upload at a time. Ownership is a per-acquisition nonce: release
// compares the stored value before deleting, so an expired lock that was
// re-acquired by someone else cannot be released by the old holder.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cnabflow/cnabflow/internal/logger"
)

// ErrNotAcquired is returned by WithLock when the lock is held elsewhere.
var ErrNotAcquired = errors.New("lock held by another owner")

// releaseScript deletes the key only while it still stores the caller's
// owner value. GET and DEL must be one atomic step; otherwise the lock could
// expire and be re-acquired between them.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// UploadProcessingKey is the lock key guarding one upload.
func UploadProcessingKey(uploadID string) string {
	return "upload:processing:" + uploadID
}

// Config holds lock service settings.
type Config struct {
	Addr     string `mapstructure:"addr"     yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db"       yaml:"db"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
}

// Locker acquires and releases distributed locks.
type Locker struct {
	client *redis.Client
}

// New connects to Redis and returns a ready locker.
func New(cfg Config) *Locker {
	cfg.ApplyDefaults()
	return &Locker{client: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

// NewWithClient wraps an existing Redis client. Used by tests and by callers
// that share one client between queue and locks.
func NewWithClient(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Ping verifies the Redis connection.
func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (l *Locker) Close() error {
	return l.client.Close()
}

// Acquire takes the lock if it is free, holding it for ttl. Returns false
// without error when someone else holds it.
func (l *Locker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// Release frees the lock if the caller still owns it. Returns false when the
// lock expired or belongs to another owner.
func (l *Locker) Release(ctx context.Context, key, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{key}, owner).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return n == 1, nil
}

// Exists reports whether the lock is currently held by anyone.
func (l *Locker) Exists(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lock %s: %w", key, err)
	}
	return n > 0, nil
}

// WithLock runs fn while holding the lock. Each call uses a fresh owner
// nonce; if the lock is taken, ErrNotAcquired is returned without calling
// fn. The release runs in a defer, so it happens even when fn panics.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	owner := uuid.New().String()

	acquired, err := l.Acquire(ctx, key, owner, ttl)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}

	defer func() {
		released, err := l.Release(context.WithoutCancel(ctx), key, owner)
		if err != nil {
			logger.Error("Failed to release lock", "key", key, "error", err)
			return
		}
		if !released {
			logger.Warn("Lock expired before release", "key", key)
		}
	}()

	return fn(ctx)
}
