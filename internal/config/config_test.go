package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripledger/internal/ledger"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{"DB_DRIVER": "memory"})
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
	assert.True(t, cfg.Ledger.DefaultBalance.IsZero())

	defaults := ledger.DefaultRates()
	assert.True(t, defaults.FreshReduction.Equal(cfg.Ledger.Rates.FreshReduction))
	assert.True(t, defaults.ExpiryTaxFactor.Equal(cfg.Ledger.Rates.ExpiryTaxFactor))
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"DB_DRIVER":              "postgres",
		"DB_NAME":                "ledger_test",
		"LOCK_RETRY":             "10ms",
		"LOG_FORMAT":             "console",
		"LEDGER_FRESH_REDUCTION": "0.12",
		"LEDGER_DEFAULT_BALANCE": "250.5",
	})
	require.NoError(t, err)

	assert.Equal(t, 10*time.Millisecond, cfg.Lock.Retry)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Contains(t, cfg.Database.DSN(), "dbname=ledger_test")
	assert.Equal(t, "0.12", cfg.Ledger.Rates.FreshReduction.String())
	assert.Equal(t, "250.5", cfg.Ledger.DefaultBalance.String())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{name: "unknown driver", vars: map[string]string{"DB_DRIVER": "sqlite"}},
		{name: "non numeric rate", vars: map[string]string{"LEDGER_GRAND_MARKUP": "five"}},
		{name: "not a number", vars: map[string]string{"LEDGER_EXPIRY_VAT": "NaN"}},
		{name: "reduction above one", vars: map[string]string{"LEDGER_BAKERY_REDUCTION": "1.5"}},
		{name: "bad balance", vars: map[string]string{"LEDGER_DEFAULT_BALANCE": "lots"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadForTests(tt.vars)
			assert.Error(t, err)
		})
	}

	_, err := LoadForTests(map[string]string{"LEDGER_FRESH_PROFIT_PCT": "+Inf"})
	assert.ErrorIs(t, err, ledger.ErrNonFinite)
}

func TestLoadSeedProducts(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"DB_DRIVER":       "memory",
		"MEMORY_PRODUCTS": "milk:Milk:fresh, bread:Bread:bakery,,",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"milk:Milk:fresh", "bread:Bread:bakery"}, cfg.Database.SeedProducts)
}
