package downloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "BTCUSDT_agg_trades.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestLoadTicks verifies parsing and that consecutive trades at the same
// price and aggression side collapse into one tick.
func TestLoadTicks(t *testing.T) {
	path := writeCSV(t, `agg_trade_id,price,qty,timestamp,is_buyer_maker
1,100.5,0.3,1000,true
2,100.5,0.1,1001,true
3,100.5,0.2,1002,false
4,100.6,0.4,1003,false
5,100.5,0.5,1004,true
`)

	ticks, err := LoadTicks(path)
	require.NoError(t, err)
	require.Len(t, ticks, 4, "rows 1 and 2 must collapse")

	assert.Equal(t, 100.5, ticks[0].Price)
	assert.True(t, ticks[0].IsBuyerMaker)
	assert.Equal(t, int64(1000), ticks[0].Timestamp, "first trade of a run wins")

	assert.Equal(t, 100.5, ticks[1].Price)
	assert.False(t, ticks[1].IsBuyerMaker, "same price, flipped side: kept")
	assert.Equal(t, 100.6, ticks[2].Price)
	assert.True(t, ticks[3].IsBuyerMaker)
}

// TestLoadTicksTimestampRegression verifies that a backwards timestamp is
// rejected instead of silently corrupting the replay.
func TestLoadTicksTimestampRegression(t *testing.T) {
	path := writeCSV(t, `agg_trade_id,price,qty,timestamp,is_buyer_maker
1,100.5,0.3,2000,true
2,100.6,0.1,1999,false
`)

	_, err := LoadTicks(path)
	assert.Error(t, err)
}

func TestLoadTicksBadRecord(t *testing.T) {
	path := writeCSV(t, `agg_trade_id,price,qty,timestamp,is_buyer_maker
1,not-a-price,0.3,1000,true
`)
	_, err := LoadTicks(path)
	assert.Error(t, err)

	path = writeCSV(t, `agg_trade_id,price,qty,timestamp,is_buyer_maker
1,100.5,0.3,1000,maybe
`)
	_, err = LoadTicks(path)
	assert.Error(t, err)
}

func TestLoadTicksMissingFile(t *testing.T) {
	_, err := LoadTicks(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestLoadTicksEmptyBody(t *testing.T) {
	path := writeCSV(t, "agg_trade_id,price,qty,timestamp,is_buyer_maker\n")
	ticks, err := LoadTicks(path)
	require.NoError(t, err)
	assert.Empty(t, ticks)
}
