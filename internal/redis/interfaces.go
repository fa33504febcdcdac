package redis

import (
	"context"
	"time"
)

// TripLocker serializes work on a single (driver, date) trip slot.
type TripLocker interface {
	WithTripLock(ctx context.Context, driverID string, date time.Time, fn func(context.Context) error) error
}

// RatesCacheInterface caches the effective ledger rate settings.
type RatesCacheInterface interface {
	GetRates(ctx context.Context) (map[string]string, error)
	SetRates(ctx context.Context, rates map[string]string) error
	InvalidateRates(ctx context.Context) error
}

// DriverCacheInterface caches driver records with their running balance.
type DriverCacheInterface interface {
	GetDriver(ctx context.Context, driverID string) (*CachedDriver, error)
	SetDriver(ctx context.Context, driver *CachedDriver) error
	InvalidateDrivers(ctx context.Context, driverIDs ...string) error
}

// Ensure concrete types implement interfaces.
var (
	_ TripLocker           = (*LockStore)(nil)
	_ RatesCacheInterface  = (*CacheStore)(nil)
	_ DriverCacheInterface = (*CacheStore)(nil)
)
