package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripledger/internal/domain"
	"tripledger/internal/repository"
)

func day(d int) time.Time {
	return time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC)
}

func trip(id, driverID string, date time.Time, balance int64, created time.Time) *domain.DailyTrip {
	return &domain.DailyTrip{
		ID:        id,
		DriverID:  driverID,
		Date:      date,
		Balance:   decimal.NewFromInt(balance),
		CreatedAt: created,
	}
}

func TestTripRepositoryChronology(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	trips := store.Trips()
	created := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, trips.Create(ctx, trip("t3", "d1", day(3), 30, created)))
	require.NoError(t, trips.Create(ctx, trip("t1", "d1", day(1), 10, created)))
	require.NoError(t, trips.Create(ctx, trip("t2", "d1", day(2), 20, created)))
	require.NoError(t, trips.Create(ctx, trip("x1", "d2", day(2), 99, created)))

	got, err := trips.FindLatestBefore(ctx, "d1", day(3))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t2", got.ID)

	got, err = trips.FindLatestBefore(ctx, "d1", day(1))
	require.NoError(t, err)
	assert.Nil(t, got)

	latest, err := trips.FindLatest(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "t3", latest.ID)

	list, err := trips.ListByDriver(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"t3", "t2", "t1"}, []string{list[0].ID, list[1].ID, list[2].ID})

	err = trips.Create(ctx, trip("dup", "d1", day(2).Add(5*time.Hour), 0, created))
	assert.ErrorIs(t, err, repository.ErrConflict)

	require.NoError(t, trips.Delete(ctx, "t3"))
	latest, err = trips.FindLatest(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "t2", latest.ID)
	assert.ErrorIs(t, trips.Delete(ctx, "t3"), repository.ErrNotFound)
}

func TestTripRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	original := trip("t1", "d1", day(1), 10, time.Now())
	original.SoldLines = []domain.ProductLine{{ProductID: "p1", Quantity: decimal.NewFromInt(1)}}
	require.NoError(t, store.Trips().Create(ctx, original))

	original.SoldLines[0].ProductID = "mutated"
	got, err := store.Trips().GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.SoldLines[0].ProductID)
}

func TestRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.Drivers().Create(ctx, &domain.Driver{ID: "d1", Name: "Ana"}))

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(tx repository.Tx) error {
		require.NoError(t, tx.Trips().Create(ctx, trip("t1", "d1", day(1), 5, time.Now())))
		require.NoError(t, tx.Drivers().SetRunningBalance(ctx, "d1", decimal.NewFromInt(5)))
		_, err := tx.PendingTransfers().Append(ctx, day(1), "d2", []domain.TransferLine{{SourceTripID: "t1"}})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Trips().GetByID(ctx, "t1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	balance, err := store.Drivers().GetRunningBalance(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
	pending, err := store.PendingTransfers().Get(ctx, day(1), "d2")
	require.NoError(t, err)
	assert.Nil(t, pending)

	latest, err := store.Trips().FindLatest(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestRunInTxHidesUncommittedWrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.Drivers().Create(ctx, &domain.Driver{ID: "d1", Name: "Ana"}))

	err := store.RunInTx(ctx, func(tx repository.Tx) error {
		require.NoError(t, tx.Trips().Create(ctx, trip("t1", "d1", day(1), 5, time.Now())))
		require.NoError(t, tx.Drivers().SetRunningBalance(ctx, "d1", decimal.NewFromInt(5)))

		// Visible inside the transaction.
		_, err := tx.Trips().GetByID(ctx, "t1")
		require.NoError(t, err)

		// Not yet visible to readers of the store.
		_, err = store.Trips().GetByID(ctx, "t1")
		assert.ErrorIs(t, err, repository.ErrNotFound)
		latest, err := store.Trips().FindLatest(ctx, "d1")
		require.NoError(t, err)
		assert.Nil(t, latest)
		balance, err := store.Drivers().GetRunningBalance(ctx, "d1")
		require.NoError(t, err)
		assert.True(t, balance.IsZero())
		return nil
	})
	require.NoError(t, err)

	got, err := store.Trips().GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "d1", got.DriverID)
	balance, err := store.Drivers().GetRunningBalance(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(5)))
}

func TestPendingAppendDeduplicates(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	pending := store.PendingTransfers()

	line := domain.TransferLine{
		ProductLine:       domain.ProductLine{ProductID: "p1", Quantity: decimal.NewFromInt(2)},
		SourceTripID:      "t1",
		SendingDriverID:   "d1",
		ReceivingDriverID: "d2",
	}

	added, err := pending.Append(ctx, day(4), "d2", []domain.TransferLine{line})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	added, err = pending.Append(ctx, day(4), "d2", []domain.TransferLine{line})
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	list, err := pending.ListByDate(ctx, day(4))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Lines, 1)

	require.NoError(t, pending.Delete(ctx, day(4), "d2"))
	got, err := pending.Get(ctx, day(4), "d2")
	require.NoError(t, err)
	assert.Nil(t, got)
}
