package reporter

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binance-perp-grid-go/internal/backtest"
	"binance-perp-grid-go/internal/models"
)

func sampleResult() *backtest.Result {
	return &backtest.Result{
		Finished: true,
		Fills: []models.Fill{
			{
				Kind: models.KindInitialLongEntry, PNL: 0, FeePaid: -0.02,
				Balance: 999.98, Equity: 999.98,
			},
			{
				Kind: models.KindLongClose, PNL: 5, FeePaid: -0.02,
				Balance: 1004.96, Equity: 1004.96,
			},
			{
				Kind: models.KindLongReentry, PNL: 0, FeePaid: -0.03,
				Balance: 1004.93, Equity: 1004.93,
			},
			{
				Kind: models.KindLongClose, PNL: -2, FeePaid: -0.03,
				Balance: 1002.90, Equity: 1002.90,
				AverageDailyGain: 1.001, ClosestLiq: 0.42, NDays: 3.5,
			},
		},
		Stats: []models.BalanceSample{
			{Timestamp: 0, Balance: 1000, Equity: 1000},
			{Timestamp: 1_800_000, Balance: 1004.96, Equity: 1010},
			{Timestamp: 3_600_000, Balance: 1002.90, Equity: 990},
			{Timestamp: 5_400_000, Balance: 1002.90, Equity: 1002.90},
		},
	}
}

func reportCfg() *models.Config {
	return &models.Config{Symbol: "BTCUSDT", StartingBalance: 1000}
}

// TestCalculateMetrics verifies profit, win rate, fee and drawdown numbers
// derived from a hand-built fill log.
func TestCalculateMetrics(t *testing.T) {
	m := CalculateMetrics(reportCfg(), sampleResult())

	assert.Equal(t, 1000.0, m.InitialBalance)
	assert.InDelta(t, 1002.90, m.FinalBalance, 1e-9)
	assert.InDelta(t, 2.90, m.TotalProfit, 1e-9)
	assert.InDelta(t, 0.29, m.ProfitPercentage, 1e-9)
	assert.Equal(t, 4, m.TotalFills)
	assert.Equal(t, 1, m.WinningCloses, "entries never count as closes")
	assert.Equal(t, 1, m.LosingCloses)
	assert.InDelta(t, 50.0, m.WinRate, 1e-9)
	assert.InDelta(t, 0.10, m.TotalFeesPaid, 1e-9)
	// equity peaked at 1010 and dipped to 990
	assert.InDelta(t, (1010.0-990.0)/1010.0*100, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, 0.42, m.ClosestLiq, 1e-9)
	assert.True(t, m.Finished)
}

// TestCalculateMetricsEmptyRun verifies the degenerate no-fill case.
func TestCalculateMetricsEmptyRun(t *testing.T) {
	m := CalculateMetrics(reportCfg(), &backtest.Result{})

	assert.Equal(t, 1000.0, m.FinalBalance)
	assert.Zero(t, m.TotalProfit)
	assert.Zero(t, m.WinRate)
	assert.Zero(t, m.MaxDrawdown)
	assert.Equal(t, 1.0, m.ClosestLiq)
}

func TestWriteReportRenders(t *testing.T) {
	var buf bytes.Buffer
	WriteReport(&buf, reportCfg(), CalculateMetrics(reportCfg(), sampleResult()))
	out := buf.String()
	assert.Contains(t, out, "BTCUSDT")
	assert.NotEmpty(t, out)
}

// TestExportResult verifies both JSON artifacts land on disk and round-trip.
func TestExportResult(t *testing.T) {
	dir := t.TempDir()
	res := sampleResult()
	require.NoError(t, ExportResult(dir, res))

	fills, err := os.ReadFile(filepath.Join(dir, "fills.json"))
	require.NoError(t, err)
	assert.Contains(t, string(fills), "initial_long_entry")

	stats, err := os.ReadFile(filepath.Join(dir, "stats.json"))
	require.NoError(t, err)
	assert.Contains(t, string(stats), "equity")
}
