// Package memory is an in-process implementation of the repository interfaces.
// Each driver's trips are kept in a date-ordered ledger.Chronology so balance
// lookups never depend on insertion order.
package memory

import (
	"context"
	"sync"
	"time"

	"tripledger/internal/domain"
	"tripledger/internal/ledger"
	"tripledger/internal/repository"
)

type dayKey struct {
	driverID string
	date     string
}

func keyOf(driverID string, date time.Time) dayKey {
	return dayKey{driverID: driverID, date: domain.Day(date).Format(domain.DateLayout)}
}

type state struct {
	drivers  map[string]*domain.Driver
	trips    map[string]*domain.DailyTrip
	byDay    map[dayKey]string
	arenas   map[string]*ledger.Chronology
	pending  map[dayKey]*domain.PendingTransfer
	products map[string]*domain.Product
	settings map[string]string
}

func newState() *state {
	return &state{
		drivers:  make(map[string]*domain.Driver),
		trips:    make(map[string]*domain.DailyTrip),
		byDay:    make(map[dayKey]string),
		arenas:   make(map[string]*ledger.Chronology),
		pending:  make(map[dayKey]*domain.PendingTransfer),
		products: make(map[string]*domain.Product),
		settings: make(map[string]string),
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.drivers {
		d := *v
		c.drivers[k] = &d
	}
	for k, v := range st.trips {
		c.trips[k] = v.Clone()
	}
	for k, v := range st.byDay {
		c.byDay[k] = v
	}
	for k, v := range st.arenas {
		c.arenas[k] = ledger.NewChronology(v.Entries()...)
	}
	for k, v := range st.pending {
		p := *v
		p.Lines = append([]domain.TransferLine(nil), v.Lines...)
		c.pending[k] = &p
	}
	for k, v := range st.products {
		p := *v
		c.products[k] = &p
	}
	for k, v := range st.settings {
		c.settings[k] = v
	}
	return c
}

// Store keeps all ledger data in memory. Transactions are serialized; each
// one works on a private copy of the state that replaces the committed state
// only when it succeeds, so readers outside the transaction never see its
// writes early.
type Store struct {
	mu   *sync.Mutex
	txMu *sync.Mutex
	st   *state
	inTx bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{mu: &sync.Mutex{}, txMu: &sync.Mutex{}, st: newState()}
}

// lockWrite locks the state for a write. Writes outside a transaction also
// wait for the running transaction, so its commit cannot drop them.
func (s *Store) lockWrite() func() {
	if s.inTx {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

// AddProducts seeds the product catalog.
func (s *Store) AddProducts(products ...domain.Product) {
	defer s.lockWrite()()
	for _, p := range products {
		p := p
		s.st.products[p.ID] = &p
	}
}

// SetSetting stores a single setting.
func (s *Store) SetSetting(key, value string) {
	defer s.lockWrite()()
	s.st.settings[key] = value
}

func (s *Store) Trips() repository.TripRepository { return &TripRepository{s: s} }

func (s *Store) Drivers() repository.DriverRepository { return &DriverRepository{s: s} }

func (s *Store) PendingTransfers() repository.PendingTransferRepository {
	return &PendingTransferRepository{s: s}
}

func (s *Store) Products() repository.ProductRepository { return &ProductRepository{s: s} }

func (s *Store) Settings() repository.SettingsRepository { return &SettingsRepository{s: s} }

// RunInTx runs fn against a copy of the store and commits the copy when fn
// returns nil. Transactions must not be nested, and fn must write only
// through tx.
func (s *Store) RunInTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	tx := &Store{mu: s.mu, txMu: &sync.Mutex{}, st: s.st.clone(), inTx: true}
	s.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = tx.st
	s.mu.Unlock()
	return nil
}

var _ repository.Store = (*Store)(nil)
