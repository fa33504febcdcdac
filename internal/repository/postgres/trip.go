package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tripledger/internal/domain"
	"tripledger/internal/repository"
)

// TripRepository is a PostgreSQL implementation of repository.TripRepository.
type TripRepository struct {
	q Querier
}

// NewTripRepository creates a new PostgreSQL trip repository.
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{q: db}
}

// NewTripRepositoryWithTx creates a trip repository using a transaction.
func NewTripRepositoryWithTx(tx *sql.Tx) *TripRepository {
	return &TripRepository{q: tx}
}

const tripColumns = `
	id, driver_id, driver_name, trip_date,
	sold_lines, accepted_lines, outgoing_transfers,
	collection_amount, purchase_amount, expiry_amount, discount_amount, petrol_amount,
	totals, total_amount, net_total, grand_total,
	expiry_after_tax, amount_to_be, sales_difference, profit, previous_balance, balance,
	created_at, updated_at, created_by, updated_by
`

// tripArgs returns the column values in tripColumns order.
func tripArgs(trip *domain.DailyTrip) ([]any, error) {
	sold, err := encodeLines(productRecords(trip.SoldLines))
	if err != nil {
		return nil, err
	}
	accepted, err := encodeLines(acceptedRecords(trip.AcceptedLines))
	if err != nil {
		return nil, err
	}
	outgoing, err := encodeLines(transferRecords(trip.OutgoingTransfers))
	if err != nil {
		return nil, err
	}
	totals, err := json.Marshal(totalsRecord{
		Fresh:  categoryToRecord(trip.Totals.Fresh),
		Bakery: categoryToRecord(trip.Totals.Bakery),
	})
	if err != nil {
		return nil, err
	}

	return []any{
		trip.ID,
		trip.DriverID,
		trip.DriverName,
		domain.Day(trip.Date),
		sold,
		accepted,
		outgoing,
		trip.CollectionAmount,
		trip.PurchaseAmount,
		trip.ExpiryAmount,
		trip.DiscountAmount,
		trip.PetrolAmount,
		totals,
		trip.Totals.Total,
		trip.Totals.NetTotal,
		trip.Totals.GrandTotal,
		trip.ExpiryAfterTax,
		trip.AmountToBe,
		trip.SalesDifference,
		trip.Profit,
		trip.PreviousBalance,
		trip.Balance,
		trip.CreatedAt,
		trip.UpdatedAt,
		trip.CreatedBy,
		trip.UpdatedBy,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*domain.DailyTrip, error) {
	var trip domain.DailyTrip
	var sold, accepted, outgoing, totals []byte
	var createdBy, updatedBy sql.NullString

	if err := row.Scan(
		&trip.ID,
		&trip.DriverID,
		&trip.DriverName,
		&trip.Date,
		&sold,
		&accepted,
		&outgoing,
		&trip.CollectionAmount,
		&trip.PurchaseAmount,
		&trip.ExpiryAmount,
		&trip.DiscountAmount,
		&trip.PetrolAmount,
		&totals,
		&trip.Totals.Total,
		&trip.Totals.NetTotal,
		&trip.Totals.GrandTotal,
		&trip.ExpiryAfterTax,
		&trip.AmountToBe,
		&trip.SalesDifference,
		&trip.Profit,
		&trip.PreviousBalance,
		&trip.Balance,
		&trip.CreatedAt,
		&trip.UpdatedAt,
		&createdBy,
		&updatedBy,
	); err != nil {
		return nil, err
	}

	trip.Date = domain.Day(trip.Date)
	trip.CreatedBy = createdBy.String
	trip.UpdatedBy = updatedBy.String

	records, err := decodeLines(sold)
	if err != nil {
		return nil, fmt.Errorf("trip %s sold lines: %w", trip.ID, err)
	}
	trip.SoldLines = toProductLines(records)

	if records, err = decodeLines(accepted); err != nil {
		return nil, fmt.Errorf("trip %s accepted lines: %w", trip.ID, err)
	}
	trip.AcceptedLines = toAcceptedLines(records)

	if records, err = decodeLines(outgoing); err != nil {
		return nil, fmt.Errorf("trip %s outgoing transfers: %w", trip.ID, err)
	}
	trip.OutgoingTransfers = toTransferLines(records)

	if len(totals) > 0 {
		var rec totalsRecord
		if err := json.Unmarshal(totals, &rec); err != nil {
			return nil, fmt.Errorf("trip %s totals: %w", trip.ID, err)
		}
		trip.Totals.Fresh = rec.Fresh.totals()
		trip.Totals.Bakery = rec.Bakery.totals()
	}

	return &trip, nil
}

// Create persists a new trip.
func (r *TripRepository) Create(ctx context.Context, trip *domain.DailyTrip) error {
	query := `
		INSERT INTO daily_trips (` + tripColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
	`

	args, err := tripArgs(trip)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	return err
}

// GetByID retrieves a trip by ID.
func (r *TripRepository) GetByID(ctx context.Context, id string) (*domain.DailyTrip, error) {
	query := `SELECT ` + tripColumns + ` FROM daily_trips WHERE id = $1`

	trip, err := scanTrip(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return trip, nil
}

// Update updates an existing trip. Driver, date and creation audit fields are immutable.
func (r *TripRepository) Update(ctx context.Context, trip *domain.DailyTrip) error {
	query := `
		UPDATE daily_trips
		SET driver_name = $2, sold_lines = $3, accepted_lines = $4, outgoing_transfers = $5,
		    collection_amount = $6, purchase_amount = $7, expiry_amount = $8,
		    discount_amount = $9, petrol_amount = $10, totals = $11,
		    total_amount = $12, net_total = $13, grand_total = $14,
		    expiry_after_tax = $15, amount_to_be = $16, sales_difference = $17, profit = $18,
		    previous_balance = $19, balance = $20, updated_at = $21, updated_by = $22
		WHERE id = $1
	`

	args, err := tripArgs(trip)
	if err != nil {
		return err
	}

	// Drop driver_id, trip_date, created_at and created_by from the insert order.
	updateArgs := append([]any{args[0], args[2]}, args[4:22]...)
	updateArgs = append(updateArgs, args[23], args[25])

	result, err := r.q.ExecContext(ctx, query, updateArgs...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Delete removes a trip.
func (r *TripRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM daily_trips WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// FindByDriverAndDate retrieves the driver's trip for a day.
// Returns nil if no trip exists.
func (r *TripRepository) FindByDriverAndDate(ctx context.Context, driverID string, date time.Time) (*domain.DailyTrip, error) {
	query := `SELECT ` + tripColumns + ` FROM daily_trips WHERE driver_id = $1 AND trip_date = $2`
	return r.findOne(ctx, query, driverID, domain.Day(date))
}

// FindLatestBefore retrieves the driver's most recent trip dated strictly before date.
// Returns nil if none exists.
func (r *TripRepository) FindLatestBefore(ctx context.Context, driverID string, date time.Time) (*domain.DailyTrip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM daily_trips
		WHERE driver_id = $1 AND trip_date < $2
		ORDER BY trip_date DESC, created_at DESC
		LIMIT 1
	`
	return r.findOne(ctx, query, driverID, domain.Day(date))
}

// FindLatest retrieves the driver's most recent trip. Returns nil if none exists.
func (r *TripRepository) FindLatest(ctx context.Context, driverID string) (*domain.DailyTrip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM daily_trips
		WHERE driver_id = $1
		ORDER BY trip_date DESC, created_at DESC
		LIMIT 1
	`
	return r.findOne(ctx, query, driverID)
}

func (r *TripRepository) findOne(ctx context.Context, query string, args ...any) (*domain.DailyTrip, error) {
	trip, err := scanTrip(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return trip, nil
}

// ListByDriver retrieves a driver's trips, newest first.
func (r *TripRepository) ListByDriver(ctx context.Context, driverID string) ([]*domain.DailyTrip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM daily_trips
		WHERE driver_id = $1
		ORDER BY trip_date DESC, created_at DESC
		LIMIT 100
	`
	return r.list(ctx, query, driverID)
}

// ListByDate retrieves every trip of a day.
func (r *TripRepository) ListByDate(ctx context.Context, date time.Time) ([]*domain.DailyTrip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM daily_trips
		WHERE trip_date = $1
		ORDER BY driver_name, driver_id
	`
	return r.list(ctx, query, domain.Day(date))
}

func (r *TripRepository) list(ctx context.Context, query string, args ...any) ([]*domain.DailyTrip, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []*domain.DailyTrip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}

	return trips, rows.Err()
}

// Ensure TripRepository implements repository.TripRepository.
var _ repository.TripRepository = (*TripRepository)(nil)
