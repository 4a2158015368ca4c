package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binance-perp-grid-go/internal/models"
)

func validConfig() *models.Config {
	return &models.Config{
		Symbol:          "BTCUSDT",
		StartingBalance: 1000,
		Leverage:        5,
		MaxLeverage:     20,
		QtyPct:          0.01,
		GridSpacing:     0.01,
		EmaSpan:         5000,
		MinMarkup:       0.005,
		MarkupRange:     0.01,
		NCloseOrders:    4,
		DoLong:          true,
		QtyStep:         0.001,
		PriceStep:       0.01,
		MinQty:          0.001,
		MinCost:         5,
	}
}

func TestValidateAccepts(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.Config)
	}{
		{"empty symbol", func(c *models.Config) { c.Symbol = "" }},
		{"zero leverage", func(c *models.Config) { c.Leverage = 0 }},
		{"max leverage below leverage", func(c *models.Config) { c.MaxLeverage = 2 }},
		{"zero qty step", func(c *models.Config) { c.QtyStep = 0 }},
		{"zero price step", func(c *models.Config) { c.PriceStep = 0 }},
		{"negative min cost", func(c *models.Config) { c.MinCost = -1 }},
		{"zero ema span", func(c *models.Config) { c.EmaSpan = 0 }},
		{"qty pct above one", func(c *models.Config) { c.QtyPct = 1.5 }},
		{"zero qty pct", func(c *models.Config) { c.QtyPct = 0 }},
		{"zero grid spacing", func(c *models.Config) { c.GridSpacing = 0 }},
		{"negative ddown", func(c *models.Config) { c.DdownFactor = -0.5 }},
		{"negative markup", func(c *models.Config) { c.MinMarkup = -0.01 }},
		{"zero close orders", func(c *models.Config) { c.NCloseOrders = 0 }},
		{"stop loss pct above one", func(c *models.Config) { c.StopLossPosPct = 1.1 }},
		{"both sides disabled", func(c *models.Config) { c.DoLong = false; c.DoShrt = false }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"symbol": "ETHUSDT",
		"starting_balance": 500,
		"leverage": 3,
		"max_leverage": 25,
		"qty_pct": 0.02,
		"grid_spacing": 0.005,
		"ema_span": 10000,
		"min_markup": 0.003,
		"markup_range": 0.006,
		"do_long": true,
		"do_shrt": true,
		"qty_step": 0.001,
		"price_step": 0.01,
		"min_qty": 0.001,
		"min_cost": 5
	}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, int64(1000), cfg.LatencySimulationMs)
	assert.Equal(t, 1, cfg.NCloseOrders)
	assert.Equal(t, 30, cfg.ReplanTimeoutSec)
	assert.Equal(t, 120, cfg.FillCheckSec)
	assert.Equal(t, 300, cfg.LockTimeoutSec)
	assert.Equal(t, 6, cfg.MaxCancelBatch)
	assert.Equal(t, 4, cfg.MaxCreateBatch)
	assert.Equal(t, 1000, cfg.CreateDelayMs)
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	// leverage missing: fails validation even though the JSON is well formed
	require.NoError(t, os.WriteFile(path, []byte(`{"symbol": "BTCUSDT"}`), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
