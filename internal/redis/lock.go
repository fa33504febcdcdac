package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tripledger/internal/domain"
)

// ErrLockTimeout is returned when a lock cannot be acquired before the context ends.
var ErrLockTimeout = errors.New("timed out waiting for trip lock")

// Default lock timings.
const (
	DefaultLockTTL   = 30 * time.Second
	DefaultLockRetry = 25 * time.Millisecond
)

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// LockStore handles distributed locking of (driver, date) trip slots in Redis.
type LockStore struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	wait   time.Duration
}

// NewLockStore creates a new LockStore. Zero durations fall back to the defaults.
func NewLockStore(client *redis.Client, ttl, retry time.Duration) *LockStore {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if retry <= 0 {
		retry = DefaultLockRetry
	}
	return &LockStore{client: client, ttl: ttl, retry: retry}
}

// WithMaxWait bounds how long WithTripLock waits for a busy lock. Zero waits
// until the caller's context ends.
func (s *LockStore) WithMaxWait(wait time.Duration) *LockStore {
	s.wait = wait
	return s
}

func tripLockKey(driverID string, date time.Time) string {
	return fmt.Sprintf("lock:trip:%s:%s", driverID, domain.Day(date).Format(domain.DateLayout))
}

// AcquireTripLock attempts to acquire the lock for a driver's day once.
// It returns the owner token when acquired, or "" if the lock is already held.
func (s *LockStore) AcquireTripLock(ctx context.Context, driverID string, date time.Time) (string, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, tripLockKey(driverID, date), token, s.ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// ReleaseTripLock releases the lock if it is still owned by token.
func (s *LockStore) ReleaseTripLock(ctx context.Context, driverID string, date time.Time, token string) error {
	return s.client.Eval(ctx, releaseScript, []string{tripLockKey(driverID, date)}, token).Err()
}

// WithTripLock runs fn while holding the lock for a driver's day, retrying until
// the lock is free or ctx is done. The lock is released even if fn fails.
func (s *LockStore) WithTripLock(ctx context.Context, driverID string, date time.Time, fn func(context.Context) error) error {
	waitCtx := ctx
	if s.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.wait)
		defer cancel()
	}

	for {
		token, err := s.AcquireTripLock(waitCtx, driverID, date)
		if err != nil {
			return err
		}
		if token != "" {
			defer func() {
				_ = s.ReleaseTripLock(context.WithoutCancel(ctx), driverID, date, token)
			}()
			return fn(ctx)
		}

		timer := time.NewTimer(s.retry)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrLockTimeout, waitCtx.Err())
		case <-timer.C:
		}
	}
}
