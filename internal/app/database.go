package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/newrelic/go-agent/v3/integrations/nrpq" // Registers "nrpostgres" driver
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"tripledger/internal/config"
	"tripledger/internal/domain"
	"tripledger/internal/repository"
	"tripledger/internal/repository/memory"
	"tripledger/internal/repository/postgres"
)

// NewDatabase opens a PostgreSQL connection pool. If nrApp is provided, it
// uses the New Relic instrumented driver for SQL tracing.
func NewDatabase(ctx context.Context, cfg config.DatabaseConfig, nrApp *newrelic.Application) (*sql.DB, error) {
	driverName := "postgres"
	if nrApp != nil {
		driverName = "nrpostgres"
	}

	db, err := sql.Open(driverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database with %s: %w", driverName, err)
	}

	// Connection pool settings.
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// NewStore builds the repository.Store selected by cfg.Driver. The returned
// close function releases the underlying connection, if any.
func NewStore(ctx context.Context, cfg config.DatabaseConfig, nrApp *newrelic.Application, logger zerolog.Logger) (repository.Store, func() error, error) {
	if cfg.Driver == config.DriverMemory {
		store := memory.NewStore()
		products, err := ParseProducts(cfg.SeedProducts)
		if err != nil {
			return nil, nil, err
		}
		store.AddProducts(products...)
		logger.Warn().Int("products", len(products)).Msg("using in-memory store, data is not persisted")
		return store, func() error { return nil }, nil
	}

	db, err := NewDatabase(ctx, cfg, nrApp)
	if err != nil {
		return nil, nil, err
	}
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info().Msg("database migrations applied")
	}
	logger.Info().Str("host", cfg.Host).Str("db", cfg.DBName).Msg("connected to PostgreSQL")
	return postgres.NewStore(db), db.Close, nil
}

// ParseProducts parses id:name:category catalog entries.
func ParseProducts(entries []string) ([]domain.Product, error) {
	products := make([]domain.Product, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("product %q: want id:name:category", entry)
		}
		category := domain.Category(strings.ToLower(strings.TrimSpace(parts[2])))
		if !category.Valid() {
			return nil, fmt.Errorf("product %q: unknown category %q", entry, parts[2])
		}
		products = append(products, domain.Product{
			ID:       strings.TrimSpace(parts[0]),
			Name:     strings.TrimSpace(parts[1]),
			Category: category,
		})
	}
	return products, nil
}
