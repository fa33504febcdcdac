package repository

import (
	"context"

	"tripledger/internal/domain"
)

// ProductRepository looks up catalog products.
type ProductRepository interface {
	// GetByIDs returns the known products among ids, keyed by ID.
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Product, error)
}

// SettingsRepository reads key/value settings.
type SettingsRepository interface {
	// GetAll returns every stored setting.
	GetAll(ctx context.Context) (map[string]string, error)
}
