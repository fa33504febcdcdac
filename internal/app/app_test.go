package app

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripledger/internal/config"
	"tripledger/internal/domain"
)

func TestParseProducts(t *testing.T) {
	products, err := ParseProducts([]string{"milk:Milk:fresh", " bread : Bread : BAKERY "})
	require.NoError(t, err)
	assert.Equal(t, []domain.Product{
		{ID: "milk", Name: "Milk", Category: domain.CategoryFresh},
		{ID: "bread", Name: "Bread", Category: domain.CategoryBakery},
	}, products)

	_, err = ParseProducts([]string{"milk:Milk"})
	assert.Error(t, err)
	_, err = ParseProducts([]string{"milk:Milk:dairy"})
	assert.Error(t, err)
}

func TestNewStoreMemorySeedsCatalog(t *testing.T) {
	store, closeFn, err := NewStore(context.Background(), config.DatabaseConfig{
		Driver:       config.DriverMemory,
		SeedProducts: []string{"milk:Milk:fresh"},
	}, nil, zerolog.Nop())
	require.NoError(t, err)
	defer closeFn()

	products, err := store.Products().GetByIDs(context.Background(), []string{"milk"})
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestKeyCollection(t *testing.T) {
	assert.Equal(t, "lock:trip", keyCollection("set", []interface{}{"set", "lock:trip:d1:2024-06-01", "x"}))
	assert.Equal(t, "cache:settings", keyCollection("hgetall", []interface{}{"hgetall", "cache:settings:rates"}))
	assert.Equal(t, "lock:trip", keyCollection("evalsha", []interface{}{"evalsha", "sha", 1, "lock:trip:d1:2024-06-01", "tok"}))
	assert.Equal(t, "redis", keyCollection("ping", []interface{}{"ping"}))
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "debug")
	logger.Info().Str("driver_id", "d1").Msg("trip saved")
	assert.Contains(t, buf.String(), `"driver_id":"d1"`)
	assert.Contains(t, buf.String(), `"service":"trip-ledger"`)

	buf.Reset()
	logger = newLogger(&buf, "console", "nonsense")
	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
