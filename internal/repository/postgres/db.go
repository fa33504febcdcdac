package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"tripledger/internal/repository"
)

// Querier is an interface satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Ensure interfaces are satisfied.
var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// Store is a PostgreSQL implementation of repository.Store.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Trips() repository.TripRepository { return NewTripRepository(s.db) }

func (s *Store) Drivers() repository.DriverRepository { return NewDriverRepository(s.db) }

func (s *Store) PendingTransfers() repository.PendingTransferRepository {
	return NewPendingTransferRepository(s.db)
}

func (s *Store) Products() repository.ProductRepository { return NewProductRepository(s.db) }

func (s *Store) Settings() repository.SettingsRepository { return NewSettingsRepository(s.db) }

// RunInTx runs fn with transaction-scoped repositories.
func (s *Store) RunInTx(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(txScope{tx: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

type txScope struct {
	tx *sql.Tx
}

func (t txScope) Trips() repository.TripRepository { return NewTripRepositoryWithTx(t.tx) }

func (t txScope) Drivers() repository.DriverRepository { return NewDriverRepositoryWithTx(t.tx) }

func (t txScope) PendingTransfers() repository.PendingTransferRepository {
	return NewPendingTransferRepositoryWithTx(t.tx)
}

// isUniqueViolation reports whether err is a postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

var _ repository.Store = (*Store)(nil)
