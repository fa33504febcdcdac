package repository

import (
	"context"
	"time"

	"tripledger/internal/domain"
)

// PendingTransferRepository stores transfer lines waiting for the receiver's trip.
type PendingTransferRepository interface {
	// Append adds lines to the record keyed by (date, receiver), creating it if needed.
	// Lines already present by dedup key are skipped. Returns the number of lines added.
	Append(ctx context.Context, date time.Time, receivingDriverID string, lines []domain.TransferLine) (int, error)

	// Get retrieves the record for (date, receiver). Returns nil if none exists.
	Get(ctx context.Context, date time.Time, receivingDriverID string) (*domain.PendingTransfer, error)

	// Save overwrites the lines of an existing record.
	Save(ctx context.Context, pending *domain.PendingTransfer) error

	// Delete removes the record for (date, receiver).
	Delete(ctx context.Context, date time.Time, receivingDriverID string) error

	// ListByDate retrieves every pending record of a day.
	ListByDate(ctx context.Context, date time.Time) ([]*domain.PendingTransfer, error)
}
