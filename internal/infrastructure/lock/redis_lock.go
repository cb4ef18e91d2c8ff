// Package lock provides the lease that keeps escalation sweeps to one
// replica at a time.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// Locker hands out a single named lease.
type Locker interface {
	// TryAcquire returns a release func when the lease was won, or nil when
	// another holder has it.
	TryAcquire(ctx context.Context) (func(), error)
}

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLock is a SET NX PX lease with token-checked release.
type RedisLock struct {
	client redisClient
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisClient opens a client and pings it
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedisLock creates a lease on key
func NewRedisLock(client redisClient, key string, ttl time.Duration, logger *zap.Logger) *RedisLock {
	if key == "" {
		key = "opsflow:escalation:sweep"
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLock{client: client, key: key, ttl: ttl, logger: logger}
}

func (l *RedisLock) TryAcquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	if !ok {
		l.logger.Debug("Lease held elsewhere", zap.String("key", l.key))
		return nil, nil
	}

	return func() {
		// The caller's context may already be done when the pass ends.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := l.client.Eval(releaseCtx, releaseScript, []string{l.key}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Warn("Failed to release lease", zap.String("key", l.key), zap.Error(err))
		}
	}, nil
}

// LocalLock is the single-process lease used when redis is disabled.
type LocalLock struct {
	held chan struct{}
}

// NewLocalLock creates an in-process lease
func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(chan struct{}, 1)}
}

func (l *LocalLock) TryAcquire(ctx context.Context) (func(), error) {
	select {
	case l.held <- struct{}{}:
		return func() { <-l.held }, nil
	default:
		return nil, nil
	}
}

var (
	_ Locker = (*RedisLock)(nil)
	_ Locker = (*LocalLock)(nil)
)
