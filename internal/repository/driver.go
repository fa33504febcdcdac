package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"tripledger/internal/domain"
)

// DriverRepository defines the persistence operations for drivers.
type DriverRepository interface {
	// Create adds a new driver.
	Create(ctx context.Context, driver *domain.Driver) error

	// GetByID retrieves a driver by ID.
	GetByID(ctx context.Context, id string) (*domain.Driver, error)

	// GetAll retrieves all drivers.
	GetAll(ctx context.Context) ([]*domain.Driver, error)

	// GetRunningBalance returns the balance recorded on the driver.
	GetRunningBalance(ctx context.Context, id string) (decimal.Decimal, error)

	// SetRunningBalance overwrites the balance recorded on the driver.
	SetRunningBalance(ctx context.Context, id string, balance decimal.Decimal) error
}
