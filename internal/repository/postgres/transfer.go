package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tripledger/internal/domain"
	"tripledger/internal/repository"
)

// PendingTransferRepository is a PostgreSQL implementation of repository.PendingTransferRepository.
type PendingTransferRepository struct {
	q Querier
}

// NewPendingTransferRepository creates a new PostgreSQL pending transfer repository.
func NewPendingTransferRepository(db *sql.DB) *PendingTransferRepository {
	return &PendingTransferRepository{q: db}
}

// NewPendingTransferRepositoryWithTx creates a pending transfer repository using a transaction.
func NewPendingTransferRepositoryWithTx(tx *sql.Tx) *PendingTransferRepository {
	return &PendingTransferRepository{q: tx}
}

// Append merges lines into the record for (date, receiver), creating it if needed.
func (r *PendingTransferRepository) Append(ctx context.Context, date time.Time, receivingDriverID string, lines []domain.TransferLine) (int, error) {
	day := domain.Day(date)

	existing, err := r.get(ctx, `
		SELECT trip_date, receiving_driver_id, lines, created_at, updated_at
		FROM pending_transfers
		WHERE trip_date = $1 AND receiving_driver_id = $2
		FOR UPDATE
	`, day, receivingDriverID)
	if err != nil {
		return 0, err
	}

	var current []domain.TransferLine
	if existing != nil {
		current = existing.Lines
	}

	merged, added := domain.MergeTransfers(current, lines)
	if added == 0 {
		return 0, nil
	}

	doc, err := encodeLines(transferRecords(merged))
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO pending_transfers (trip_date, receiving_driver_id, lines, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (trip_date, receiving_driver_id)
		DO UPDATE SET lines = EXCLUDED.lines, updated_at = EXCLUDED.updated_at
	`, day, receivingDriverID, doc, now)
	if err != nil {
		return 0, err
	}

	return added, nil
}

// Get retrieves the record for (date, receiver). Returns nil if none exists.
func (r *PendingTransferRepository) Get(ctx context.Context, date time.Time, receivingDriverID string) (*domain.PendingTransfer, error) {
	return r.get(ctx, `
		SELECT trip_date, receiving_driver_id, lines, created_at, updated_at
		FROM pending_transfers
		WHERE trip_date = $1 AND receiving_driver_id = $2
	`, domain.Day(date), receivingDriverID)
}

func (r *PendingTransferRepository) get(ctx context.Context, query string, args ...any) (*domain.PendingTransfer, error) {
	pending, err := scanPending(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return pending, nil
}

// Save overwrites the lines of an existing record.
func (r *PendingTransferRepository) Save(ctx context.Context, pending *domain.PendingTransfer) error {
	doc, err := encodeLines(transferRecords(pending.Lines))
	if err != nil {
		return err
	}

	result, err := r.q.ExecContext(ctx, `
		UPDATE pending_transfers SET lines = $1, updated_at = $2
		WHERE trip_date = $3 AND receiving_driver_id = $4
	`, doc, time.Now().UTC(), domain.Day(pending.Date), pending.ReceivingDriverID)
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

// Delete removes the record for (date, receiver). Deleting a missing record is not an error.
func (r *PendingTransferRepository) Delete(ctx context.Context, date time.Time, receivingDriverID string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM pending_transfers WHERE trip_date = $1 AND receiving_driver_id = $2`,
		domain.Day(date), receivingDriverID,
	)
	return err
}

// ListByDate retrieves every pending record of a day.
func (r *PendingTransferRepository) ListByDate(ctx context.Context, date time.Time) ([]*domain.PendingTransfer, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT trip_date, receiving_driver_id, lines, created_at, updated_at
		FROM pending_transfers
		WHERE trip_date = $1
		ORDER BY receiving_driver_id
	`, domain.Day(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PendingTransfer
	for rows.Next() {
		pending, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pending)
	}
	return out, rows.Err()
}

func scanPending(row rowScanner) (*domain.PendingTransfer, error) {
	var p domain.PendingTransfer
	var raw []byte
	if err := row.Scan(&p.Date, &p.ReceivingDriverID, &raw, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Date = domain.Day(p.Date)

	records, err := decodeLines(raw)
	if err != nil {
		return nil, fmt.Errorf("pending transfer %s/%s: %w", p.Date.Format(domain.DateLayout), p.ReceivingDriverID, err)
	}
	p.Lines = toTransferLines(records)
	return &p, nil
}

var _ repository.PendingTransferRepository = (*PendingTransferRepository)(nil)
