package service_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripledger/internal/domain"
	"tripledger/internal/ledger"
	"tripledger/internal/metrics"
	"tripledger/internal/redis"
	"tripledger/internal/repository/memory"
	"tripledger/internal/service"
)

type harness struct {
	store    *memory.Store
	trips    *service.TripService
	drivers  *service.DriverService
	settings *service.SettingsService
	metrics  *metrics.Ledger
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zerolog.Nop()
	store := memory.NewStore()
	store.AddProducts(
		domain.Product{ID: "milk", Name: "Milk", Category: domain.CategoryFresh},
		domain.Product{ID: "bread", Name: "Bread", Category: domain.CategoryBakery},
	)

	m := metrics.New("test", prometheus.NewRegistry())
	locks := redis.NewLockStore(client, time.Second, 5*time.Millisecond)
	settings := service.NewSettingsService(store.Settings(), nil, ledger.DefaultRates(), logger)
	balances := service.NewBalanceResolver(decimal.Zero)
	coordinator := service.NewCoordinator(store, locks, balances, m, logger)

	return &harness{
		store:    store,
		settings: settings,
		metrics:  m,
		drivers:  service.NewDriverService(store.Drivers(), nil, logger),
		trips: service.NewTripService(
			store, locks, settings, balances, coordinator, nil,
			service.NewNotificationService(logger), m, logger,
		),
	}
}

func (h *harness) driver(t *testing.T, name, opening string) *domain.Driver {
	t.Helper()
	d, err := h.drivers.RegisterDriver(context.Background(), service.RegisterDriverRequest{
		Name:           name,
		OpeningBalance: dec(opening),
	})
	require.NoError(t, err)
	return d
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr[T any](v T) *T { return &v }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "%s: want %s, got %s", field, want, got)
}

// bakeryDay sells 100 of bakery and collects exactly the purchase amount, so
// each trip adds 16.38 of profit to the balance.
func bakeryDay(driverID, date string) service.CreateTripRequest {
	return service.CreateTripRequest{
		DriverID:         driverID,
		Date:             date,
		SoldLines:        []service.LineInput{{ProductID: "bread", Quantity: dec("100"), UnitPrice: dec("1")}},
		CollectionAmount: dec("88.2"),
	}
}

// receiverDay sells 100 of bakery and collects nothing.
func receiverDay(driverID, date string) service.CreateTripRequest {
	return service.CreateTripRequest{
		DriverID:  driverID,
		Date:      date,
		SoldLines: []service.LineInput{{ProductID: "bread", Quantity: dec("10"), UnitPrice: dec("10")}},
	}
}

func senderDay(driverID, receiverID, date string) service.CreateTripRequest {
	return service.CreateTripRequest{
		DriverID: driverID,
		Date:     date,
		SoldLines: []service.LineInput{
			{ProductID: "milk", Quantity: dec("10"), UnitPrice: dec("100")},
			{ProductID: "bread", Quantity: dec("50"), UnitPrice: dec("10")},
		},
		OutgoingTransfers: []service.TransferInput{
			{ProductID: "milk", Quantity: dec("2"), UnitPrice: dec("100"), ReceivingDriverID: receiverID},
		},
		CollectionAmount: dec("1200"),
		ExpiryAmount:     dec("50"),
		DiscountAmount:   dec("10"),
	}
}

func (h *harness) balanceOf(t *testing.T, driverID string) decimal.Decimal {
	t.Helper()
	d, err := h.store.Drivers().GetByID(context.Background(), driverID)
	require.NoError(t, err)
	return d.RunningBalance
}
