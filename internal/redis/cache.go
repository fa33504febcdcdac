package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore handles entity caching in Redis.
type CacheStore struct {
	client   *redis.Client
	ratesTTL time.Duration
}

// NewCacheStore creates a new CacheStore. A zero ratesTTL uses RatesCacheTTL.
func NewCacheStore(client *redis.Client, ratesTTL time.Duration) *CacheStore {
	if ratesTTL <= 0 {
		ratesTTL = RatesCacheTTL
	}
	return &CacheStore{client: client, ratesTTL: ratesTTL}
}

// Cache TTL constants
const (
	DriverCacheTTL = 30 * time.Second // running balance moves with every trip save
	RatesCacheTTL  = 5 * time.Minute
)

// Key prefixes
const (
	driverCachePrefix = "cache:driver:"
	ratesCacheKey     = "cache:settings:rates"
)

// CachedDriver represents a cached driver entity. Balances are decimal strings.
type CachedDriver struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	OpeningBalance string `json:"opening_balance"`
	RunningBalance string `json:"running_balance"`
	CreatedAt      string `json:"created_at"`
}

// GetDriver retrieves a driver from cache. Returns nil on a cache miss.
func (s *CacheStore) GetDriver(ctx context.Context, driverID string) (*CachedDriver, error) {
	data, err := s.client.Get(ctx, driverCachePrefix+driverID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var driver CachedDriver
	if err := json.Unmarshal(data, &driver); err != nil {
		return nil, err
	}
	return &driver, nil
}

// SetDriver stores a driver in cache.
func (s *CacheStore) SetDriver(ctx context.Context, driver *CachedDriver) error {
	data, err := json.Marshal(driver)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, driverCachePrefix+driver.ID, data, DriverCacheTTL).Err()
}

// InvalidateDrivers removes drivers from cache in a single pipeline.
func (s *CacheStore) InvalidateDrivers(ctx context.Context, driverIDs ...string) error {
	if len(driverIDs) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, id := range driverIDs {
		pipe.Del(ctx, driverCachePrefix+id)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// GetRates retrieves the cached rate settings. Returns nil on a cache miss.
func (s *CacheStore) GetRates(ctx context.Context) (map[string]string, error) {
	values, err := s.client.HGetAll(ctx, ratesCacheKey).Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

// SetRates replaces the cached rate settings.
func (s *CacheStore) SetRates(ctx context.Context, rates map[string]string) error {
	if len(rates) == 0 {
		return nil
	}

	fields := make([]any, 0, len(rates)*2)
	for k, v := range rates {
		fields = append(fields, k, v)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, ratesCacheKey)
	pipe.HSet(ctx, ratesCacheKey, fields...)
	pipe.Expire(ctx, ratesCacheKey, s.ratesTTL)

	_, err := pipe.Exec(ctx)
	return err
}

// InvalidateRates removes the cached rate settings.
func (s *CacheStore) InvalidateRates(ctx context.Context) error {
	return s.client.Del(ctx, ratesCacheKey).Err()
}
