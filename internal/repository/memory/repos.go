package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tripledger/internal/domain"
	"tripledger/internal/ledger"
	"tripledger/internal/repository"
)

// DriverRepository implements repository.DriverRepository in memory.
type DriverRepository struct {
	s *Store
}

// Create adds a new driver.
func (r *DriverRepository) Create(_ context.Context, driver *domain.Driver) error {
	defer r.s.lockWrite()()

	if _, ok := r.s.st.drivers[driver.ID]; ok {
		return repository.ErrConflict
	}
	d := *driver
	r.s.st.drivers[d.ID] = &d
	return nil
}

// GetByID retrieves a driver by ID.
func (r *DriverRepository) GetByID(_ context.Context, id string) (*domain.Driver, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.st.drivers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *d
	return &out, nil
}

// GetAll retrieves all drivers ordered by name.
func (r *DriverRepository) GetAll(_ context.Context) ([]*domain.Driver, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	drivers := make([]*domain.Driver, 0, len(r.s.st.drivers))
	for _, d := range r.s.st.drivers {
		out := *d
		drivers = append(drivers, &out)
	}
	sort.Slice(drivers, func(i, j int) bool {
		if drivers[i].Name != drivers[j].Name {
			return drivers[i].Name < drivers[j].Name
		}
		return drivers[i].ID < drivers[j].ID
	})
	return drivers, nil
}

// GetRunningBalance returns the balance recorded on the driver.
func (r *DriverRepository) GetRunningBalance(_ context.Context, id string) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.st.drivers[id]
	if !ok {
		return decimal.Zero, repository.ErrNotFound
	}
	return d.RunningBalance, nil
}

// SetRunningBalance overwrites the balance recorded on the driver.
func (r *DriverRepository) SetRunningBalance(_ context.Context, id string, balance decimal.Decimal) error {
	defer r.s.lockWrite()()

	d, ok := r.s.st.drivers[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.RunningBalance = balance
	return nil
}

// TripRepository implements repository.TripRepository in memory.
type TripRepository struct {
	s *Store
}

func entryOf(t *domain.DailyTrip) ledger.Entry {
	return ledger.Entry{TripID: t.ID, Date: domain.Day(t.Date), CreatedAt: t.CreatedAt, Balance: t.Balance}
}

// Create persists a new trip.
func (r *TripRepository) Create(_ context.Context, trip *domain.DailyTrip) error {
	defer r.s.lockWrite()()

	st := r.s.st
	key := keyOf(trip.DriverID, trip.Date)
	if _, ok := st.byDay[key]; ok {
		return repository.ErrConflict
	}
	if _, ok := st.trips[trip.ID]; ok {
		return repository.ErrConflict
	}

	stored := trip.Clone()
	stored.Date = domain.Day(stored.Date)
	st.trips[stored.ID] = stored
	st.byDay[key] = stored.ID

	arena, ok := st.arenas[stored.DriverID]
	if !ok {
		arena = ledger.NewChronology()
		st.arenas[stored.DriverID] = arena
	}
	arena.Upsert(entryOf(stored))
	return nil
}

// GetByID retrieves a trip by ID.
func (r *TripRepository) GetByID(_ context.Context, id string) (*domain.DailyTrip, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.st.trips[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t.Clone(), nil
}

// Update updates an existing trip. Driver, date and creation audit fields are kept.
func (r *TripRepository) Update(_ context.Context, trip *domain.DailyTrip) error {
	defer r.s.lockWrite()()

	st := r.s.st
	current, ok := st.trips[trip.ID]
	if !ok {
		return repository.ErrNotFound
	}

	stored := trip.Clone()
	stored.DriverID = current.DriverID
	stored.Date = current.Date
	stored.CreatedAt = current.CreatedAt
	stored.CreatedBy = current.CreatedBy
	st.trips[stored.ID] = stored
	st.arenas[stored.DriverID].Upsert(entryOf(stored))
	return nil
}

// Delete removes a trip.
func (r *TripRepository) Delete(_ context.Context, id string) error {
	defer r.s.lockWrite()()

	st := r.s.st
	t, ok := st.trips[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(st.trips, id)
	delete(st.byDay, keyOf(t.DriverID, t.Date))
	if arena, ok := st.arenas[t.DriverID]; ok {
		arena.Remove(id)
	}
	return nil
}

// FindByDriverAndDate retrieves the driver's trip for a day. Returns nil if none exists.
func (r *TripRepository) FindByDriverAndDate(_ context.Context, driverID string, date time.Time) (*domain.DailyTrip, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.st.byDay[keyOf(driverID, date)]
	if !ok {
		return nil, nil
	}
	return r.s.st.trips[id].Clone(), nil
}

// FindLatestBefore retrieves the driver's most recent trip dated strictly before date.
func (r *TripRepository) FindLatestBefore(_ context.Context, driverID string, date time.Time) (*domain.DailyTrip, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	arena, ok := r.s.st.arenas[driverID]
	if !ok {
		return nil, nil
	}
	e, ok := arena.LatestBefore(domain.Day(date))
	if !ok {
		return nil, nil
	}
	return r.s.st.trips[e.TripID].Clone(), nil
}

// FindLatest retrieves the driver's most recent trip.
func (r *TripRepository) FindLatest(_ context.Context, driverID string) (*domain.DailyTrip, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	arena, ok := r.s.st.arenas[driverID]
	if !ok {
		return nil, nil
	}
	e, ok := arena.Latest()
	if !ok {
		return nil, nil
	}
	return r.s.st.trips[e.TripID].Clone(), nil
}

// ListByDriver retrieves a driver's trips, newest first.
func (r *TripRepository) ListByDriver(_ context.Context, driverID string) ([]*domain.DailyTrip, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	arena, ok := r.s.st.arenas[driverID]
	if !ok {
		return nil, nil
	}
	entries := arena.Entries()
	trips := make([]*domain.DailyTrip, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		trips = append(trips, r.s.st.trips[entries[i].TripID].Clone())
	}
	return trips, nil
}

// ListByDate retrieves every trip of a day ordered by driver name.
func (r *TripRepository) ListByDate(_ context.Context, date time.Time) ([]*domain.DailyTrip, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	day := domain.Day(date)
	var trips []*domain.DailyTrip
	for _, t := range r.s.st.trips {
		if t.Date.Equal(day) {
			trips = append(trips, t.Clone())
		}
	}
	sort.Slice(trips, func(i, j int) bool {
		if trips[i].DriverName != trips[j].DriverName {
			return trips[i].DriverName < trips[j].DriverName
		}
		return trips[i].DriverID < trips[j].DriverID
	})
	return trips, nil
}

// PendingTransferRepository implements repository.PendingTransferRepository in memory.
type PendingTransferRepository struct {
	s *Store
}

// Append merges lines into the record for (date, receiver), creating it if needed.
func (r *PendingTransferRepository) Append(_ context.Context, date time.Time, receivingDriverID string, lines []domain.TransferLine) (int, error) {
	defer r.s.lockWrite()()

	key := keyOf(receivingDriverID, date)
	now := time.Now().UTC()
	p, ok := r.s.st.pending[key]
	if !ok {
		p = &domain.PendingTransfer{
			Date:              domain.Day(date),
			ReceivingDriverID: receivingDriverID,
			CreatedAt:         now,
		}
	}

	merged, added := domain.MergeTransfers(p.Lines, lines)
	if added == 0 {
		return 0, nil
	}
	p.Lines = merged
	p.UpdatedAt = now
	r.s.st.pending[key] = p
	return added, nil
}

// Get retrieves the record for (date, receiver). Returns nil if none exists.
func (r *PendingTransferRepository) Get(_ context.Context, date time.Time, receivingDriverID string) (*domain.PendingTransfer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.st.pending[keyOf(receivingDriverID, date)]
	if !ok {
		return nil, nil
	}
	out := *p
	out.Lines = append([]domain.TransferLine(nil), p.Lines...)
	return &out, nil
}

// Save overwrites the lines of an existing record.
func (r *PendingTransferRepository) Save(_ context.Context, pending *domain.PendingTransfer) error {
	defer r.s.lockWrite()()

	p, ok := r.s.st.pending[keyOf(pending.ReceivingDriverID, pending.Date)]
	if !ok {
		return repository.ErrNotFound
	}
	p.Lines = append([]domain.TransferLine(nil), pending.Lines...)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes the record for (date, receiver).
func (r *PendingTransferRepository) Delete(_ context.Context, date time.Time, receivingDriverID string) error {
	defer r.s.lockWrite()()

	delete(r.s.st.pending, keyOf(receivingDriverID, date))
	return nil
}

// ListByDate retrieves every pending record of a day.
func (r *PendingTransferRepository) ListByDate(_ context.Context, date time.Time) ([]*domain.PendingTransfer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	day := domain.Day(date)
	var out []*domain.PendingTransfer
	for _, p := range r.s.st.pending {
		if p.Date.Equal(day) {
			c := *p
			c.Lines = append([]domain.TransferLine(nil), p.Lines...)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivingDriverID < out[j].ReceivingDriverID })
	return out, nil
}

// ProductRepository implements repository.ProductRepository in memory.
type ProductRepository struct {
	s *Store
}

// GetByIDs returns the known products among ids.
func (r *ProductRepository) GetByIDs(_ context.Context, ids []string) (map[string]*domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make(map[string]*domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.s.st.products[id]; ok {
			c := *p
			out[id] = &c
		}
	}
	return out, nil
}

// SettingsRepository implements repository.SettingsRepository in memory.
type SettingsRepository struct {
	s *Store
}

// GetAll returns every stored setting.
func (r *SettingsRepository) GetAll(_ context.Context) (map[string]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make(map[string]string, len(r.s.st.settings))
	for k, v := range r.s.st.settings {
		out[k] = v
	}
	return out, nil
}

var (
	_ repository.DriverRepository          = (*DriverRepository)(nil)
	_ repository.TripRepository            = (*TripRepository)(nil)
	_ repository.PendingTransferRepository = (*PendingTransferRepository)(nil)
	_ repository.ProductRepository         = (*ProductRepository)(nil)
	_ repository.SettingsRepository        = (*SettingsRepository)(nil)
)
