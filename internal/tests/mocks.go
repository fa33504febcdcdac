package tests

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tripledger/internal/domain"
	"tripledger/internal/repository"
	"tripledger/internal/repository/memory"
)

// ──────────────────────────────────────────────
// MOCK TRIP LOCKER
// ──────────────────────────────────────────────

// MockLocker is an in-process implementation of redis.TripLocker.
type MockLocker struct {
	mu    sync.Mutex
	slots map[string]*sync.Mutex

	// Counters for verification
	LockCallCount int32

	// Error injection, keyed by driver ID
	failMu     sync.RWMutex
	LockErrors map[string]error
}

// NewMockLocker creates a new mock locker.
func NewMockLocker() *MockLocker {
	return &MockLocker{
		slots:      make(map[string]*sync.Mutex),
		LockErrors: make(map[string]error),
	}
}

// FailFor makes every lock attempt for driverID return err. A nil err clears it.
func (m *MockLocker) FailFor(driverID string, err error) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	if err == nil {
		delete(m.LockErrors, driverID)
		return
	}
	m.LockErrors[driverID] = err
}

func (m *MockLocker) WithTripLock(ctx context.Context, driverID string, date time.Time, fn func(context.Context) error) error {
	atomic.AddInt32(&m.LockCallCount, 1)

	m.failMu.RLock()
	err := m.LockErrors[driverID]
	m.failMu.RUnlock()
	if err != nil {
		return err
	}

	key := driverID + "/" + domain.Day(date).Format(domain.DateLayout)
	m.mu.Lock()
	slot, ok := m.slots[key]
	if !ok {
		slot = &sync.Mutex{}
		m.slots[key] = slot
	}
	m.mu.Unlock()

	slot.Lock()
	defer slot.Unlock()
	return fn(ctx)
}

// ──────────────────────────────────────────────
// FAILING STORE
// ──────────────────────────────────────────────

// FailingStore wraps the in-memory store and injects write failures for
// chosen drivers. Failed transactions roll back like the real store.
type FailingStore struct {
	*memory.Store

	mu sync.RWMutex

	// Error injection, keyed by driver ID
	TripCreateErrors map[string]error
	TripUpdateErrors map[string]error
	PendingErrors    map[string]error
}

// NewFailingStore creates a FailingStore over a fresh memory store.
func NewFailingStore() *FailingStore {
	return &FailingStore{
		Store:            memory.NewStore(),
		TripCreateErrors: make(map[string]error),
		TripUpdateErrors: make(map[string]error),
		PendingErrors:    make(map[string]error),
	}
}

// FailTripUpdates makes trip updates for driverID fail. A nil err clears it.
func (f *FailingStore) FailTripUpdates(driverID string, err error) {
	f.set(f.TripUpdateErrors, driverID, err)
}

// FailTripCreates makes trip creation for driverID fail. A nil err clears it.
func (f *FailingStore) FailTripCreates(driverID string, err error) {
	f.set(f.TripCreateErrors, driverID, err)
}

// FailPending makes pending transfer writes for receiver driverID fail. A nil err clears it.
func (f *FailingStore) FailPending(driverID string, err error) {
	f.set(f.PendingErrors, driverID, err)
}

func (f *FailingStore) set(m map[string]error, driverID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(m, driverID)
		return
	}
	m[driverID] = err
}

func (f *FailingStore) get(m map[string]error, driverID string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return m[driverID]
}

func (f *FailingStore) Trips() repository.TripRepository {
	return &failingTrips{TripRepository: f.Store.Trips(), f: f}
}

func (f *FailingStore) PendingTransfers() repository.PendingTransferRepository {
	return &failingPending{PendingTransferRepository: f.Store.PendingTransfers(), f: f}
}

func (f *FailingStore) RunInTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return f.Store.RunInTx(ctx, func(tx repository.Tx) error {
		return fn(&failingTx{Tx: tx, f: f})
	})
}

// failingTx applies the same error injection to the repositories of a transaction.
type failingTx struct {
	repository.Tx
	f *FailingStore
}

func (t *failingTx) Trips() repository.TripRepository {
	return &failingTrips{TripRepository: t.Tx.Trips(), f: t.f}
}

func (t *failingTx) PendingTransfers() repository.PendingTransferRepository {
	return &failingPending{PendingTransferRepository: t.Tx.PendingTransfers(), f: t.f}
}

type failingTrips struct {
	repository.TripRepository
	f *FailingStore
}

func (r *failingTrips) Create(ctx context.Context, trip *domain.DailyTrip) error {
	if err := r.f.get(r.f.TripCreateErrors, trip.DriverID); err != nil {
		return err
	}
	return r.TripRepository.Create(ctx, trip)
}

func (r *failingTrips) Update(ctx context.Context, trip *domain.DailyTrip) error {
	if err := r.f.get(r.f.TripUpdateErrors, trip.DriverID); err != nil {
		return err
	}
	return r.TripRepository.Update(ctx, trip)
}

type failingPending struct {
	repository.PendingTransferRepository
	f *FailingStore
}

func (r *failingPending) Append(ctx context.Context, date time.Time, receivingDriverID string, lines []domain.TransferLine) (int, error) {
	if err := r.f.get(r.f.PendingErrors, receivingDriverID); err != nil {
		return 0, err
	}
	return r.PendingTransferRepository.Append(ctx, date, receivingDriverID, lines)
}

var _ repository.Store = (*FailingStore)(nil)
