package tests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripledger/internal/domain"
	"tripledger/internal/ledger"
	"tripledger/internal/metrics"
	"tripledger/internal/redis"
	"tripledger/internal/service"
)

type fixture struct {
	store   *FailingStore
	locker  *MockLocker
	trips   *service.TripService
	metrics *metrics.Ledger
	sender  *domain.Driver
	recv    *domain.Driver
}

func newFixture(t *testing.T, locker redis.TripLocker) *fixture {
	t.Helper()

	logger := zerolog.Nop()
	store := NewFailingStore()
	store.AddProducts(
		domain.Product{ID: "milk", Name: "Milk", Category: domain.CategoryFresh},
		domain.Product{ID: "bread", Name: "Bread", Category: domain.CategoryBakery},
	)

	mock, _ := locker.(*MockLocker)
	if locker == nil {
		mock = NewMockLocker()
		locker = mock
	}

	m := metrics.New("scenario", prometheus.NewRegistry())
	settings := service.NewSettingsService(store.Settings(), nil, ledger.DefaultRates(), logger)
	balances := service.NewBalanceResolver(decimal.Zero)
	coordinator := service.NewCoordinator(store, locker, balances, m, logger)
	trips := service.NewTripService(store, locker, settings, balances, coordinator, nil,
		service.NewNotificationService(logger), m, logger)

	drivers := service.NewDriverService(store.Drivers(), nil, logger)
	sender, err := drivers.RegisterDriver(context.Background(), service.RegisterDriverRequest{Name: "Asha", OpeningBalance: decimal.NewFromInt(100)})
	require.NoError(t, err)
	recv, err := drivers.RegisterDriver(context.Background(), service.RegisterDriverRequest{Name: "Ben"})
	require.NoError(t, err)

	return &fixture{store: store, locker: mock, trips: trips, metrics: m, sender: sender, recv: recv}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) receiverTrip(date string) service.CreateTripRequest {
	return service.CreateTripRequest{
		DriverID:  f.recv.ID,
		Date:      date,
		SoldLines: []service.LineInput{{ProductID: "bread", Quantity: dec("10"), UnitPrice: dec("10")}},
	}
}

func (f *fixture) senderTrip(date string) service.CreateTripRequest {
	return service.CreateTripRequest{
		DriverID: f.sender.ID,
		Date:     date,
		SoldLines: []service.LineInput{
			{ProductID: "milk", Quantity: dec("10"), UnitPrice: dec("100")},
			{ProductID: "bread", Quantity: dec("50"), UnitPrice: dec("10")},
		},
		OutgoingTransfers: []service.TransferInput{
			{ProductID: "milk", Quantity: dec("2"), UnitPrice: dec("100"), ReceivingDriverID: f.recv.ID},
		},
		CollectionAmount: dec("1200"),
		ExpiryAmount:     dec("50"),
		DiscountAmount:   dec("10"),
	}
}

// ──────────────────────────────────────────────
// 1. DELIVERY FAILURES
// ──────────────────────────────────────────────

func TestDelivery_ReceiverWriteFails_SenderStillSaved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	recv, err := f.trips.CreateTrip(ctx, f.receiverTrip("2024-06-01"))
	require.NoError(t, err)

	boom := errors.New("disk full")
	f.store.FailTripUpdates(f.recv.ID, boom)

	res, err := f.trips.CreateTrip(ctx, f.senderTrip("2024-06-01"))
	require.Error(t, err)
	require.NotNil(t, res)
	assert.ErrorIs(t, err, service.ErrTransferNotDelivered)
	assert.ErrorIs(t, err, boom)

	var derr *service.TransferDeliveryError
	require.ErrorAs(t, err, &derr)
	require.Len(t, derr.Failures, 1)
	assert.Equal(t, f.recv.ID, derr.Failures[0].ReceivingDriverID)

	// The sender's trip is persisted with its transfer still counted as sent.
	saved, err := f.trips.GetTrip(ctx, res.Trip.ID)
	require.NoError(t, err)
	assert.Len(t, saved.OutgoingTransfers, 1)

	// The receiver's trip was rolled back untouched.
	untouched, err := f.trips.GetTrip(ctx, recv.Trip.ID)
	require.NoError(t, err)
	assert.Empty(t, untouched.AcceptedLines)
	assert.True(t, dec("105").Equal(untouched.Balance))

	// Once the store recovers, reconciling delivers the line exactly once.
	f.store.FailTripUpdates(f.recv.ID, nil)
	again, err := f.trips.Reconcile(ctx, res.Trip.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Delivery.Delivered)

	delivered, err := f.trips.GetTrip(ctx, recv.Trip.ID)
	require.NoError(t, err)
	assert.Len(t, delivered.AcceptedLines, 1)
	assert.True(t, dec("314").Equal(delivered.Balance))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TransferLines.WithLabelValues(metrics.OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TripSaves.WithLabelValues("create", "partial")))
}

func TestDelivery_ReceiverLockUnavailable_ReportedPerLine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.locker.FailFor(f.recv.ID, redis.ErrLockTimeout)

	res, err := f.trips.CreateTrip(ctx, f.senderTrip("2024-06-01"))
	require.Error(t, err)
	assert.ErrorIs(t, err, redis.ErrLockTimeout)
	assert.True(t, dec("201").Equal(res.Trip.Balance))

	pending, err := f.trips.ListPending(ctx, "2024-06-01")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDelivery_PendingWriteFails_RetryParksLine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.store.FailPending(f.recv.ID, errors.New("connection reset"))
	res, err := f.trips.CreateTrip(ctx, f.senderTrip("2024-06-01"))
	require.Error(t, err)

	f.store.FailPending(f.recv.ID, nil)
	retry, err := f.trips.Reconcile(ctx, res.Trip.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Delivery.Pending)

	pending, err := f.trips.ListPending(ctx, "2024-06-01")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Len(t, pending[0].Lines, 1)
}

// ──────────────────────────────────────────────
// 2. ATOMIC TRIP SAVE
// ──────────────────────────────────────────────

func TestCreate_StoreFailure_RollsBackPendingConsumption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.trips.CreateTrip(ctx, f.senderTrip("2024-06-01"))
	require.NoError(t, err)

	f.store.FailTripCreates(f.recv.ID, errors.New("constraint violated"))
	_, err = f.trips.CreateTrip(ctx, f.receiverTrip("2024-06-01"))
	require.Error(t, err)

	var perr *service.PersistenceError
	assert.ErrorAs(t, err, &perr)

	// The pending line survives the failed save and is consumed by the next one.
	pending, err := f.trips.ListPending(ctx, "2024-06-01")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	f.store.FailTripCreates(f.recv.ID, nil)
	res, err := f.trips.CreateTrip(ctx, f.receiverTrip("2024-06-01"))
	require.NoError(t, err)
	assert.Len(t, res.Trip.AcceptedLines, 1)
}

func TestCreate_ConcurrentSameDay_OnlyOneSucceeds(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	f := newFixture(t, redis.NewLockStore(client, time.Second, 2*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const workers = 5
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.trips.CreateTrip(ctx, f.receiverTrip("2024-06-01"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded, duplicates := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, service.ErrDuplicateTrip):
			duplicates++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, duplicates)
}

// ──────────────────────────────────────────────
// 3. CONSERVATION
// ──────────────────────────────────────────────

func TestConservation_TransferMovesValueBetweenTrips(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	recv, err := f.trips.CreateTrip(ctx, f.receiverTrip("2024-06-01"))
	require.NoError(t, err)

	req := f.senderTrip("2024-06-01")
	req.OutgoingTransfers = nil
	alone, err := f.trips.CreateTrip(ctx, req)
	require.NoError(t, err)
	before := alone.Trip.Totals.Total.Add(recv.Trip.Totals.Total)

	transfers := f.senderTrip("2024-06-01").OutgoingTransfers
	_, err = f.trips.UpdateTrip(ctx, alone.Trip.ID, service.UpdateTripRequest{OutgoingTransfers: &transfers})
	require.NoError(t, err)

	sender, err := f.trips.GetTrip(ctx, alone.Trip.ID)
	require.NoError(t, err)
	receiver, err := f.trips.GetTrip(ctx, recv.Trip.ID)
	require.NoError(t, err)

	after := sender.Totals.Total.Add(receiver.Totals.Total)
	assert.True(t, before.Equal(after), "before %s, after %s", before, after)
	assert.True(t, dec("200").Equal(receiver.Totals.Fresh.Accepted))
}

func TestConservation_InFlightValueExcludedUntilReceiverExists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	res, err := f.trips.CreateTrip(ctx, f.senderTrip("2024-06-01"))
	require.NoError(t, err)
	assert.True(t, dec("1300").Equal(res.Trip.Totals.Total))

	list, err := f.trips.ListTripsByDate(ctx, "2024-06-01")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
