// Package redislock keeps two graph loads from running against the same
// database at once.
package redislock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	pkgerrors "github.com/yungbote/conceptgraph/internal/pkg/errors"
	"github.com/yungbote/conceptgraph/internal/platform/envutil"
	"github.com/yungbote/conceptgraph/internal/platform/logger"
)

const DefaultKey = "conceptgraph:load-lock"

// Only the holder's token may release or extend the lock.
var (
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
	refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

type Locker struct {
	rdb goredis.UniversalClient
	log *logger.Logger
	key string
	ttl time.Duration
}

// NewFromEnv returns nil when REDIS_ADDR is unset.
func NewFromEnv(log *logger.Logger) (*Locker, error) {
	if log == nil {
		return nil, fmt.Errorf("redislock: logger required")
	}
	addr := strings.TrimSpace(envutil.String("REDIS_ADDR", ""))
	if addr == "" {
		return nil, nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    envutil.String("REDIS_PASSWORD", ""),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := time.Duration(envutil.Int("LOAD_LOCK_TTL_SECONDS", 3600)) * time.Second
	return New(rdb, log, envutil.String("LOAD_LOCK_KEY", DefaultKey), ttl), nil
}

func New(rdb goredis.UniversalClient, log *logger.Logger, key string, ttl time.Duration) *Locker {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Locker{rdb: rdb, log: log.With("client", "RedisLock", "key", key), key: key, ttl: ttl}
}

func (l *Locker) TTL() time.Duration { return l.ttl }

type Lease struct {
	l     *Locker
	token string
}

// Acquire fails with pkgerrors.ErrLocked while another holder's lease is live.
func (l *Locker) Acquire(ctx context.Context) (*Lease, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redislock: acquire: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("redislock: %s: %w", l.key, pkgerrors.ErrLocked)
	}
	l.log.Info("load lock acquired", "ttl", l.ttl.String())
	return &Lease{l: l, token: token}, nil
}

// Refresh pushes the expiry out by another TTL. It fails with ErrLocked when
// the lease has already expired and been taken by someone else.
func (le *Lease) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, le.l.rdb, []string{le.l.key}, le.token, le.l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redislock: refresh: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("redislock: lease lost: %w", pkgerrors.ErrLocked)
	}
	return nil
}

func (le *Lease) Release(ctx context.Context) error {
	if le == nil {
		return nil
	}
	n, err := releaseScript.Run(ctx, le.l.rdb, []string{le.l.key}, le.token).Int64()
	if err != nil {
		return fmt.Errorf("redislock: release: %w", err)
	}
	if n == 0 {
		le.l.log.Warn("load lock already released or expired")
		return nil
	}
	le.l.log.Info("load lock released")
	return nil
}

func (l *Locker) Close() error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Close()
}
