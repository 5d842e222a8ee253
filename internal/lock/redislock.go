package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotAcquired is returned when the lock stays held past MaxWait.
	ErrNotAcquired = errors.New("lock: not acquired")
	// ErrLost is the cancellation cause seen by fn when the lease could not
	// be extended and another holder may have taken the key.
	ErrLost = errors.New("lock: lease lost")
)

// Both scripts act only while the key still holds our token, so a lease that
// expired and was re-acquired elsewhere is never touched.
var (
	releaseLease = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0`)
	extendLease = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0`)
)

// Locker is a single-instance Redis mutex keyed by string. While fn runs the
// lease is extended every third of its TTL.
type Locker struct {
	R            redis.Cmdable
	Prefix       string
	RetryBackoff time.Duration
	// MaxWait bounds how long WithLock waits for a held lock. Zero waits until ctx is done.
	MaxWait time.Duration
}

// WithLock runs fn while holding key. fn's context is cancelled with ErrLost
// if the lease cannot be kept alive. The lock is released when fn returns.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if l.Prefix != "" {
		key = l.Prefix + ":" + key
	}
	token := uuid.NewString()
	if err := l.acquire(ctx, key, token, ttl); err != nil {
		return err
	}
	defer func() {
		_ = releaseLease.Run(context.WithoutCancel(ctx), l.R, []string{key}, token).Err()
	}()

	fnCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go l.keepAlive(fnCtx, cancel, key, token, ttl)
	return fn(fnCtx)
}

func (l Locker) acquire(ctx context.Context, key, token string, ttl time.Duration) error {
	backoff := l.RetryBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	var giveUp <-chan time.Time
	if l.MaxWait > 0 {
		t := time.NewTimer(l.MaxWait)
		defer t.Stop()
		giveUp = t.C
	}
	retry := time.NewTicker(backoff)
	defer retry.Stop()
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-giveUp:
			return ErrNotAcquired
		case <-retry.C:
		}
	}
}

func (l Locker) keepAlive(ctx context.Context, cancel context.CancelCauseFunc, key, token string, ttl time.Duration) {
	tick := time.NewTicker(max(ttl/3, time.Millisecond))
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			n, err := extendLease.Run(ctx, l.R, []string{key}, token, ttl.Milliseconds()).Int()
			if ctx.Err() != nil {
				return
			}
			if err != nil || n == 0 {
				cancel(ErrLost)
				return
			}
		}
	}
}
