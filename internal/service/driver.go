package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tripledger/internal/domain"
	"tripledger/internal/redis"
	"tripledger/internal/repository"
)

// DriverService handles driver lookups and registration.
type DriverService struct {
	driverRepo repository.DriverRepository
	cacheStore redis.DriverCacheInterface
	logger     zerolog.Logger
	validate   *validator.Validate
}

// NewDriverService creates a new DriverService. cacheStore may be nil.
func NewDriverService(
	driverRepo repository.DriverRepository,
	cacheStore redis.DriverCacheInterface,
	logger zerolog.Logger,
) *DriverService {
	return &DriverService{
		driverRepo: driverRepo,
		cacheStore: cacheStore,
		logger:     logger.With().Str("component", "drivers").Logger(),
		validate:   newValidator(),
	}
}

// RegisterDriverRequest contains the parameters for registering a driver.
type RegisterDriverRequest struct {
	Name           string `validate:"required"`
	Phone          string
	OpeningBalance decimal.Decimal
}

// RegisterDriver adds a driver whose balance chain starts at OpeningBalance.
func (s *DriverService) RegisterDriver(ctx context.Context, req RegisterDriverRequest) (*domain.Driver, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationFailure(err)
	}

	driver := &domain.Driver{
		ID:             uuid.New().String(),
		Name:           req.Name,
		Phone:          req.Phone,
		OpeningBalance: req.OpeningBalance,
		RunningBalance: req.OpeningBalance,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.driverRepo.Create(ctx, driver); err != nil {
		return nil, &PersistenceError{Op: "create driver", Err: err}
	}

	s.logger.Info().Str("driver_id", driver.ID).Str("opening_balance", driver.OpeningBalance.String()).Msg("driver registered")
	return driver, nil
}

// GetDriver retrieves a driver with its running balance, cache first.
func (s *DriverService) GetDriver(ctx context.Context, driverID string) (*domain.Driver, error) {
	if driverID == "" {
		return nil, invalid(ErrInvalidDriverID, "id", "required")
	}

	if s.cacheStore != nil {
		cached, err := s.cacheStore.GetDriver(ctx, driverID)
		if err != nil {
			s.logger.Warn().Err(err).Str("driver_id", driverID).Msg("driver cache unavailable")
		} else if cached != nil {
			if driver, err := fromCached(cached); err == nil {
				return driver, nil
			}
		}
	}

	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return nil, err
	}

	if s.cacheStore != nil {
		if err := s.cacheStore.SetDriver(ctx, toCached(driver)); err != nil {
			s.logger.Warn().Err(err).Str("driver_id", driverID).Msg("failed to cache driver")
		}
	}
	return driver, nil
}

// ListDrivers retrieves every driver.
func (s *DriverService) ListDrivers(ctx context.Context) ([]*domain.Driver, error) {
	return s.driverRepo.GetAll(ctx)
}

func toCached(d *domain.Driver) *redis.CachedDriver {
	return &redis.CachedDriver{
		ID:             d.ID,
		Name:           d.Name,
		Phone:          d.Phone,
		OpeningBalance: d.OpeningBalance.String(),
		RunningBalance: d.RunningBalance.String(),
		CreatedAt:      d.CreatedAt.Format(time.RFC3339Nano),
	}
}

func fromCached(c *redis.CachedDriver) (*domain.Driver, error) {
	opening, err1 := decimal.NewFromString(c.OpeningBalance)
	running, err2 := decimal.NewFromString(c.RunningBalance)
	createdAt, err3 := time.Parse(time.RFC3339Nano, c.CreatedAt)
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, err
	}
	return &domain.Driver{
		ID:             c.ID,
		Name:           c.Name,
		Phone:          c.Phone,
		OpeningBalance: opening,
		RunningBalance: running,
		CreatedAt:      createdAt,
	}, nil
}
