package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"auction-bidding/internal/biddingerrors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes the lock key only if it still holds the caller's token,
// so an expired holder cannot release a lock someone else now owns.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const (
	DefaultLockTTL      = 10 * time.Second
	DefaultPollInterval = 25 * time.Millisecond
	releaseTimeout      = 5 * time.Second
)

// RedisLocker is a Locker shared by every instance pointing at the same Redis.
// The TTL bounds how long a crashed holder can block others; if it lapses
// while a holder is still committing, the store's version check rejects the
// second writer.
type RedisLocker struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	ttl      time.Duration
	poll     time.Duration
	prefix   string
}

// NewRedisLocker creates a RedisLocker. Zero ttl or poll select the defaults.
func NewRedisLocker(rdb *redis.Client, ttl, poll time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &RedisLocker{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		ttl:      ttl,
		poll:     poll,
		prefix:   "lock:auction:",
	}
}

// Acquire polls SETNX until it wins the key or ctx is done
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	lk := l.prefix + key

	for {
		ok, err := l.rdb.SetNX(ctx, lk, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("redis lock: acquire %s: %w", key, ctxErr)
			}
			return nil, fmt.Errorf("redis lock: acquire %s: %w: %v", key, biddingerrors.ErrLockUnavailable, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("redis lock: acquire %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// background context: release must succeed even if the caller's ctx is cancelled
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = l.unlockSc.Run(releaseCtx, l.rdb, []string{lk}, token).Err()
		})
	}
	return release, nil
}
