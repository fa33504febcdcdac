package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripledger/internal/redis"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

var tripDay = time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

func TestWithTripLockSerializes(t *testing.T) {
	_, client := newClient(t)
	locks := redis.NewLockStore(client, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstIn := make(chan struct{})
	releaseFirst := make(chan struct{})
	errs := make(chan error, 2)

	go func() {
		errs <- locks.WithTripLock(ctx, "d1", tripDay, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstIn)
			<-releaseFirst
			return nil
		})
	}()

	<-firstIn

	go func() {
		errs <- locks.WithTripLock(ctx, "d1", tripDay, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"first"}, order)
	mu.Unlock()

	close(releaseFirst)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestWithTripLockTimesOut(t *testing.T) {
	_, client := newClient(t)
	locks := redis.NewLockStore(client, time.Second, 5*time.Millisecond)

	token, err := locks.AcquireTripLock(context.Background(), "d1", tripDay)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	called := false
	err = locks.WithTripLock(ctx, "d1", tripDay, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, redis.ErrLockTimeout)
	assert.False(t, called)

	// A different day is an independent slot.
	err = locks.WithTripLock(context.Background(), "d1", tripDay.AddDate(0, 0, 1), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestWithTripLockMaxWait(t *testing.T) {
	_, client := newClient(t)
	locks := redis.NewLockStore(client, time.Second, 5*time.Millisecond).WithMaxWait(20 * time.Millisecond)

	_, err := locks.AcquireTripLock(context.Background(), "d2", tripDay)
	require.NoError(t, err)

	err = locks.WithTripLock(context.Background(), "d2", tripDay, func(context.Context) error {
		t.Fatal("lock should not be granted")
		return nil
	})
	assert.ErrorIs(t, err, redis.ErrLockTimeout)
}

func TestReleaseTripLockKeepsForeignToken(t *testing.T) {
	mr, client := newClient(t)
	locks := redis.NewLockStore(client, time.Second, 0)
	ctx := context.Background()

	token, err := locks.AcquireTripLock(ctx, "d2", tripDay)
	require.NoError(t, err)

	again, err := locks.AcquireTripLock(ctx, "d2", tripDay)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, locks.ReleaseTripLock(ctx, "d2", tripDay, "not-the-owner"))
	assert.True(t, mr.Exists("lock:trip:d2:2024-06-01"))

	require.NoError(t, locks.ReleaseTripLock(ctx, "d2", tripDay, token))
	assert.False(t, mr.Exists("lock:trip:d2:2024-06-01"))
}

func TestRatesCache(t *testing.T) {
	mr, client := newClient(t)
	cache := redis.NewCacheStore(client, time.Minute)
	ctx := context.Background()

	got, err := cache.GetRates(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.SetRates(ctx, map[string]string{"fresh_reduction": "0.12", "grand_markup": "0.05"}))
	got, err = cache.GetRates(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"fresh_reduction": "0.12", "grand_markup": "0.05"}, got)

	mr.FastForward(2 * time.Minute)
	got, err = cache.GetRates(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.SetRates(ctx, map[string]string{"fresh_reduction": "0.1"}))
	require.NoError(t, cache.InvalidateRates(ctx))
	got, err = cache.GetRates(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDriverCache(t *testing.T) {
	_, client := newClient(t)
	cache := redis.NewCacheStore(client, 0)
	ctx := context.Background()

	require.NoError(t, cache.SetDriver(ctx, &redis.CachedDriver{ID: "d1", Name: "Ana", RunningBalance: "196"}))
	require.NoError(t, cache.SetDriver(ctx, &redis.CachedDriver{ID: "d2", Name: "Ben", RunningBalance: "-4"}))

	d, err := cache.GetDriver(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "196", d.RunningBalance)

	require.NoError(t, cache.InvalidateDrivers(ctx, "d1", "d2"))
	d, err = cache.GetDriver(ctx, "d2")
	require.NoError(t, err)
	assert.Nil(t, d)
}
