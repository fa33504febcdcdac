package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripledger/internal/app"
	"tripledger/internal/domain"
	"tripledger/internal/handler"
	"tripledger/internal/ledger"
	"tripledger/internal/metrics"
	"tripledger/internal/redis"
	"tripledger/internal/repository/memory"
	"tripledger/internal/service"
	"tripledger/internal/tests"
)

type api struct {
	t      *testing.T
	router *gin.Engine
	locker *tests.MockLocker
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	registry := prometheus.NewRegistry()
	m := metrics.New("api", registry)
	locker := tests.NewMockLocker()
	cache := redis.NewCacheStore(client, time.Minute)

	settings := service.NewSettingsService(store.Settings(), cache, ledger.DefaultRates(), logger)
	balances := service.NewBalanceResolver(decimal.Zero)
	coordinator := service.NewCoordinator(store, locker, balances, m, logger)
	trips := service.NewTripService(store, locker, settings, balances, coordinator, cache,
		service.NewNotificationService(logger), m, logger)
	drivers := service.NewDriverService(store.Drivers(), cache, logger)

	router := app.NewRouter(app.RouterDeps{
		TripHandler:     handler.NewTripHandler(trips),
		DriverHandler:   handler.NewDriverHandler(drivers, trips),
		TransferHandler: handler.NewTransferHandler(trips),
		SettingsHandler: handler.NewSettingsHandler(settings),
		RedisClient:     client,
		Metrics:         m,
		Gatherer:        registry,
		Logger:          logger,
	})
	return &api{t: t, router: router, locker: locker}
}

func (a *api) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "office")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (a *api) driver(name string, opening string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/v1/drivers", map[string]any{"name": name, "opening_balance": opening})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[handler.DriverResponse](a.t, rec).ID
}

func senderBody(driverID, receiverID string) map[string]any {
	return map[string]any{
		"driver_id": driverID,
		"date":      "2024-06-01",
		"sold_lines": []map[string]any{
			{"product_id": "milk", "quantity": "10", "unit_price": "100"},
			{"product_id": "bread", "quantity": "50", "unit_price": "10"},
		},
		"outgoing_transfers": []map[string]any{
			{"product_id": "milk", "quantity": "2", "unit_price": "100", "receiving_driver_id": receiverID},
		},
		"collection_amount": "1200",
		"expiry_amount":     "50",
		"discount_amount":   "10",
	}
}

func receiverBody(driverID string) map[string]any {
	return map[string]any{
		"driver_id":  driverID,
		"date":       "2024-06-01",
		"sold_lines": []map[string]any{{"product_id": "bread", "quantity": "10", "unit_price": "10"}},
	}
}

func TestTripLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)
	sender := a.driver("Asha", "100")
	receiver := a.driver("Ben", "0")

	rec := a.do(http.MethodPost, "/v1/trips", receiverBody(receiver))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	receiverTrip := decode[handler.TripResponse](t, rec)
	assert.Equal(t, "office", receiverTrip.CreatedBy)

	rec = a.do(http.MethodPost, "/v1/trips", senderBody(sender, receiver))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	senderTrip := decode[handler.TripResponse](t, rec)
	assert.True(t, decimal.NewFromInt(201).Equal(senderTrip.Balance), senderTrip.Balance.String())
	require.NotNil(t, senderTrip.Delivery)
	assert.Equal(t, 1, senderTrip.Delivery.Delivered)

	rec = a.do(http.MethodGet, "/v1/trips/"+receiverTrip.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[handler.TripResponse](t, rec)
	require.Len(t, updated.AcceptedLines, 1)
	assert.Equal(t, "Asha", updated.AcceptedLines[0].SendingDriverName)
	assert.True(t, decimal.NewFromInt(314).Equal(updated.Balance), updated.Balance.String())

	rec = a.do(http.MethodGet, "/v1/trips?date=2024-06-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]handler.TripResponse](t, rec), 2)

	rec = a.do(http.MethodGet, "/v1/drivers/"+sender+"/trips", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]handler.TripResponse](t, rec), 1)

	rec = a.do(http.MethodPatch, "/v1/trips/"+senderTrip.ID, map[string]any{"petrol_amount": "20"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decimal.NewFromInt(20).Equal(decode[handler.TripResponse](t, rec).PetrolAmount))

	rec = a.do(http.MethodPost, "/v1/trips/"+senderTrip.ID+"/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[handler.TripResponse](t, rec).Delivery.Duplicate)

	rec = a.do(http.MethodDelete, "/v1/trips/"+senderTrip.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(http.MethodGet, "/v1/trips/"+senderTrip.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPendingTransfersOverHTTP(t *testing.T) {
	a := newAPI(t)
	sender := a.driver("Asha", "100")
	receiver := a.driver("Ben", "0")

	rec := a.do(http.MethodPost, "/v1/trips", senderBody(sender, receiver))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[handler.TripResponse](t, rec).Delivery.Pending)

	rec = a.do(http.MethodGet, "/v1/transfers/pending?date=2024-06-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[[]handler.PendingTransferResponse](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, receiver, pending[0].ReceivingDriverID)
	require.Len(t, pending[0].Lines, 1)
	assert.Equal(t, "milk", pending[0].Lines[0].ProductID)

	rec = a.do(http.MethodGet, "/v1/transfers/pending?date=June", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUndeliveredTransferReturnsMultiStatus(t *testing.T) {
	a := newAPI(t)
	sender := a.driver("Asha", "100")
	receiver := a.driver("Ben", "0")
	a.locker.FailFor(receiver, redis.ErrLockTimeout)

	rec := a.do(http.MethodPost, "/v1/trips", senderBody(sender, receiver))
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())

	resp := decode[handler.TripResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	require.NotNil(t, resp.Delivery)
	require.Len(t, resp.Delivery.Failures, 1)
	assert.Equal(t, receiver, resp.Delivery.Failures[0].ReceivingDriverID)
}

func TestTripErrorsMapToStatus(t *testing.T) {
	a := newAPI(t)
	driver := a.driver("Asha", "0")

	rec := a.do(http.MethodPost, "/v1/trips", receiverBody(driver))
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{
			name: "duplicate day", method: http.MethodPost, path: "/v1/trips",
			body: receiverBody(driver), want: http.StatusConflict,
		},
		{
			name: "malformed date", method: http.MethodPost, path: "/v1/trips",
			body: map[string]any{"driver_id": driver, "date": "01/06/2024"}, want: http.StatusBadRequest,
		},
		{
			name: "unknown product", method: http.MethodPost, path: "/v1/trips",
			body: map[string]any{
				"driver_id":  driver,
				"date":       "2024-06-02",
				"sold_lines": []map[string]any{{"product_id": "cheese", "quantity": "1", "unit_price": "1"}},
			},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "negative quantity", method: http.MethodPost, path: "/v1/trips",
			body: map[string]any{
				"driver_id":  driver,
				"date":       "2024-06-02",
				"sold_lines": []map[string]any{{"product_id": "milk", "quantity": "-1", "unit_price": "1"}},
			},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown driver", method: http.MethodPost, path: "/v1/trips",
			body: map[string]any{"driver_id": "ghost", "date": "2024-06-02"}, want: http.StatusUnprocessableEntity,
		},
		{name: "missing trip", method: http.MethodGet, path: "/v1/trips/nope", want: http.StatusNotFound},
		{name: "list without filter", method: http.MethodGet, path: "/v1/trips", want: http.StatusBadRequest},
		{name: "missing driver", method: http.MethodGet, path: "/v1/drivers/nope", want: http.StatusNotFound},
		{
			name: "nameless driver", method: http.MethodPost, path: "/v1/drivers",
			body: map[string]any{"phone": "555"}, want: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRatesAndMetricsEndpoints(t *testing.T) {
	a := newAPI(t)

	rec := a.do(http.MethodGet, "/v1/settings/rates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rates := decode[map[string]string](t, rec)
	assert.Contains(t, rates, ledger.KeyFreshReduction)

	rec = a.do(http.MethodDelete, "/v1/settings/rates/cache", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api_http_request_duration_seconds")

	rec = a.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
