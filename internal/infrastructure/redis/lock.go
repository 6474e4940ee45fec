package redis

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/checkout/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// Only the owner may release.
	releaseLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	extendLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// DistributedLock is a single-owner SET NX lock.
type DistributedLock struct {
	client   redis.Cmdable
	key      string
	value    string
	ttl      time.Duration
	acquired bool
}

func NewDistributedLock(client redis.Cmdable, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    "lock:" + key,
		value:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Acquire tries once and reports whether the lock was taken.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.acquired = ok
	return ok, nil
}

// Extend pushes the expiry out while the lock is still ours.
func (l *DistributedLock) Extend(ctx context.Context, ttl time.Duration) error {
	if !l.acquired {
		return domainErrors.ErrLockNotHeld
	}
	res, err := extendLockScript.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if res == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	res, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	l.acquired = false
	if res == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

func (l *DistributedLock) IsAcquired() bool {
	return l.acquired
}

// Locker hands out distributed locks by key.
type Locker struct {
	client redis.Cmdable
}

func NewLocker(client redis.Cmdable) *Locker {
	return &Locker{client: client}
}

// Acquire takes the lock for key or fails with ErrLockAcquisitionFailed when someone else holds it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock := NewDistributedLock(l.client, key, ttl)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrLockAcquisitionFailed, key)
	}
	return lock.Release, nil
}
