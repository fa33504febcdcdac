package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tripledger/internal/domain"
	"tripledger/internal/repository"
)

// BalanceResolver finds the balance a trip starts from and keeps the driver's
// recorded running balance in line with the latest trip.
type BalanceResolver struct {
	defaultBalance decimal.Decimal
}

// NewBalanceResolver creates a resolver. defaultBalance is used for drivers the
// driver store does not know.
func NewBalanceResolver(defaultBalance decimal.Decimal) *BalanceResolver {
	return &BalanceResolver{defaultBalance: defaultBalance}
}

// Resolve returns the previous balance for a trip of driverID on date.
//
// The balance of the latest trip strictly before date wins, ties broken by
// creation time. Without an earlier trip:
//   - an existing trip being recomputed (current != nil) keeps the seed it was created with;
//   - a driver's first trip starts from the running balance recorded on the driver;
//   - a backdated trip starts from the driver's opening balance.
func (r *BalanceResolver) Resolve(ctx context.Context, tx repository.Tx, driverID string, date time.Time, current *domain.DailyTrip) (decimal.Decimal, error) {
	prev, err := tx.Trips().FindLatestBefore(ctx, driverID, date)
	if err != nil {
		return decimal.Zero, err
	}
	if prev != nil {
		return prev.Balance, nil
	}
	if current != nil {
		return current.PreviousBalance, nil
	}

	latest, err := tx.Trips().FindLatest(ctx, driverID)
	if err != nil {
		return decimal.Zero, err
	}

	if latest == nil {
		balance, err := tx.Drivers().GetRunningBalance(ctx, driverID)
		if errors.Is(err, repository.ErrNotFound) {
			return r.defaultBalance, nil
		}
		return balance, err
	}

	// The running balance already includes the latest trip, which is later
	// than date; seeding from it would count that trip twice.
	driver, err := tx.Drivers().GetByID(ctx, driverID)
	if errors.Is(err, repository.ErrNotFound) {
		return r.defaultBalance, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return driver.OpeningBalance, nil
}

// Sync sets the driver's running balance to the balance of their latest trip,
// or back to the opening balance when no trips remain. Unknown drivers are ignored.
func (r *BalanceResolver) Sync(ctx context.Context, tx repository.Tx, driverID string) error {
	latest, err := tx.Trips().FindLatest(ctx, driverID)
	if err != nil {
		return err
	}

	var balance decimal.Decimal
	if latest != nil {
		balance = latest.Balance
	} else {
		driver, err := tx.Drivers().GetByID(ctx, driverID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		balance = driver.OpeningBalance
	}

	err = tx.Drivers().SetRunningBalance(ctx, driverID, balance)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}
