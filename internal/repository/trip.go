package repository

import (
	"context"
	"time"

	"tripledger/internal/domain"
)

// TripRepository defines the persistence operations for daily trips.
type TripRepository interface {
	// Create persists a new trip.
	// Returns ErrConflict if the driver already has a trip on that date.
	Create(ctx context.Context, trip *domain.DailyTrip) error

	// GetByID retrieves a trip by ID.
	GetByID(ctx context.Context, id string) (*domain.DailyTrip, error)

	// Update updates an existing trip.
	Update(ctx context.Context, trip *domain.DailyTrip) error

	// Delete removes a trip.
	Delete(ctx context.Context, id string) error

	// FindByDriverAndDate retrieves the driver's trip for a day.
	// Returns nil if no trip exists.
	FindByDriverAndDate(ctx context.Context, driverID string, date time.Time) (*domain.DailyTrip, error)

	// FindLatestBefore retrieves the driver's most recent trip dated strictly before date,
	// ties broken by latest creation. Returns nil if none exists.
	FindLatestBefore(ctx context.Context, driverID string, date time.Time) (*domain.DailyTrip, error)

	// FindLatest retrieves the driver's most recent trip. Returns nil if none exists.
	FindLatest(ctx context.Context, driverID string) (*domain.DailyTrip, error)

	// ListByDriver retrieves a driver's trips, newest first.
	ListByDriver(ctx context.Context, driverID string) ([]*domain.DailyTrip, error)

	// ListByDate retrieves every trip of a day.
	ListByDate(ctx context.Context, date time.Time) ([]*domain.DailyTrip, error)
}
