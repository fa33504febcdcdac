package repository

import "context"

// Tx exposes the repositories that take part in a trip save.
type Tx interface {
	Trips() TripRepository
	Drivers() DriverRepository
	PendingTransfers() PendingTransferRepository
}

// Store is the persistence boundary used by the services.
type Store interface {
	Tx

	Products() ProductRepository
	Settings() SettingsRepository

	// RunInTx runs fn inside a transaction. The transaction is committed when fn
	// returns nil and rolled back otherwise.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}
