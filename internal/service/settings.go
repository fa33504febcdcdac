package service

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tripledger/internal/ledger"
	"tripledger/internal/redis"
	"tripledger/internal/repository"
)

// SettingsService resolves the ledger rates: cache first, then the settings
// store, then the configured defaults for any key that is absent.
type SettingsService struct {
	store    repository.SettingsRepository
	cache    redis.RatesCacheInterface
	defaults ledger.Rates
	logger   zerolog.Logger
}

// NewSettingsService creates a new SettingsService. cache may be nil.
func NewSettingsService(
	store repository.SettingsRepository,
	cache redis.RatesCacheInterface,
	defaults ledger.Rates,
	logger zerolog.Logger,
) *SettingsService {
	return &SettingsService{
		store:    store,
		cache:    cache,
		defaults: defaults,
		logger:   logger.With().Str("component", "settings").Logger(),
	}
}

// Rates returns the effective ledger rates.
func (s *SettingsService) Rates(ctx context.Context) (ledger.Rates, error) {
	if s.cache != nil {
		cached, err := s.cache.GetRates(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("rates cache unavailable")
		} else if cached != nil {
			return s.build(cached), nil
		}
	}

	stored, err := s.store.GetAll(ctx)
	if err != nil {
		return ledger.Rates{}, &PersistenceError{Op: "load settings", Err: err}
	}

	known := make(map[string]string)
	for key := range s.defaults.Map() {
		if v, ok := stored[key]; ok {
			known[key] = v
		}
	}

	if s.cache != nil && len(known) > 0 {
		if err := s.cache.SetRates(ctx, known); err != nil {
			s.logger.Warn().Err(err).Msg("failed to cache rates")
		}
	}

	return s.build(known), nil
}

// build overlays parsed setting values on the defaults. Unparseable values and
// overrides that fail validation are logged and ignored.
func (s *SettingsService) build(values map[string]string) ledger.Rates {
	overrides := make(map[string]decimal.Decimal, len(values))
	for key, raw := range values {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			s.logger.Warn().Str("key", key).Str("value", raw).Msg("ignoring malformed rate setting")
			continue
		}
		overrides[key] = d
	}

	rates := s.defaults.WithOverrides(overrides)
	if err := rates.Validate(); err != nil {
		s.logger.Error().Err(err).Msg("stored rates out of range, using defaults")
		return s.defaults
	}
	return rates
}

// Invalidate drops cached rates so the next lookup reads the store.
func (s *SettingsService) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateRates(ctx)
}
