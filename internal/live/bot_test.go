package live

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"binance-perp-grid-go/internal/models"
)

// mockExchange is an in-memory exchange. Placed orders immediately show up
// as open orders; fills are preloaded by the test.
type mockExchange struct {
	mu                 sync.Mutex
	position           models.PositionState
	balance            float64
	lastPrice          float64
	fills              []models.UserTrade
	placed             []models.Order
	canceled           []int64
	openOrders         []models.Order
	nextOrderID        int64
	fetchPositionCalls int
}

func (m *mockExchange) FetchPosition(symbol string) (*models.PositionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchPositionCalls++
	p := m.position
	return &p, nil
}

func (m *mockExchange) FetchOpenOrders(symbol string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Order, len(m.openOrders))
	copy(out, m.openOrders)
	return out, nil
}

func (m *mockExchange) FetchFills(symbol string, fromID int64) ([]models.UserTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.UserTrade
	for _, f := range m.fills {
		if f.ID >= fromID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *mockExchange) PlaceOrder(symbol string, order models.Order) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOrderID++
	order.OrderID = m.nextOrderID
	m.placed = append(m.placed, order)
	m.openOrders = append(m.openOrders, order)
	return order.OrderID, nil
}

func (m *mockExchange) CancelOrder(symbol string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceled = append(m.canceled, orderID)
	for i, o := range m.openOrders {
		if o.OrderID == orderID {
			m.openOrders = append(m.openOrders[:i], m.openOrders[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockExchange) GetPrice(symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPrice, nil
}

func (m *mockExchange) GetBalance() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

func (m *mockExchange) placedOrders() []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Order, len(m.placed))
	copy(out, m.placed)
	return out
}

func liveCfg() *models.Config {
	return &models.Config{
		Symbol:             "BTCUSDT",
		Leverage:           5,
		MaxLeverage:        20,
		QtyPct:             0.01,
		DdownFactor:        1.0,
		GridSpacing:        0.01,
		EmaSpan:            2,
		MinMarkup:          0.01,
		MarkupRange:        0.01,
		NCloseOrders:       4,
		StopLossLiqDiff:    0.02,
		StopLossPosPct:     0.05,
		EntryPriceDevLimit: 0.5,
		DoLong:             true,
		QtyStep:            0.001,
		PriceStep:          0.01,
		MinQty:             0.001,
		MinCost:            5,
		ReplanTimeoutSec:   30,
		FillCheckSec:       120,
		PrintIntervalSec:   3600,
		LockTimeoutSec:     300,
		MaxCancelBatch:     6,
		MaxCreateBatch:     4,
		CreateDelayMs:      0,
	}
}

func newTestBot(t *testing.T, ex *mockExchange) (*Bot, *SessionManager) {
	t.Helper()
	sm := NewSessionManager(&models.SessionState{
		SessionID: "bot-test",
		Symbol:    "BTCUSDT",
	}, nil, zap.NewNop())
	sm.Start()
	t.Cleanup(sm.Stop)
	bot := NewBot(liveCfg(), ex, sm, NewTagCodec("bot-test"), zap.NewNop())
	return bot, sm
}

func feedMarket(b *Bot, ticks ...models.Tick) {
	for _, t := range ticks {
		b.market.update(t)
		b.stream.Update(t)
	}
}

// TestDiffOrders verifies the two-way resting/desired diff, including
// duplicate price levels.
func TestDiffOrders(t *testing.T) {
	bot, _ := newTestBot(t, &mockExchange{balance: 1000})

	keep := models.Order{
		Side: models.Buy, PositionSide: models.Long, Qty: 0.5, Price: 99.9,
		OrderID: 1, Tag: bot.tags.Encode(models.KindLongReentry, 1),
	}
	stale := models.Order{
		Side: models.Buy, PositionSide: models.Long, Qty: 0.5, Price: 98.0,
		OrderID: 2, Tag: bot.tags.Encode(models.KindLongReentry, 2),
	}
	wantKeep := models.Order{
		Side: models.Buy, PositionSide: models.Long, Qty: 0.5, Price: 99.9,
		Kind: models.KindLongReentry,
	}
	fresh := models.Order{
		Side: models.Sel, PositionSide: models.Long, Qty: -0.5, Price: 101.0,
		Kind: models.KindLongClose,
	}

	toCancel, toCreate := bot.diffOrders(
		[]models.Order{keep, stale},
		[]models.Order{wantKeep, fresh},
	)
	require.Len(t, toCancel, 1)
	assert.Equal(t, int64(2), toCancel[0].OrderID)
	require.Len(t, toCreate, 1)
	assert.Equal(t, 101.0, toCreate[0].Price)

	// two resting at the same level, only one still wanted
	dup := keep
	dup.OrderID = 3
	toCancel, toCreate = bot.diffOrders(
		[]models.Order{keep, dup},
		[]models.Order{wantKeep},
	)
	assert.Len(t, toCancel, 1)
	assert.Empty(t, toCreate)
}

// TestOrderTouched verifies touch detection against resting prices: a sell
// aggression at or below a bid touches it, mirrored for asks.
func TestOrderTouched(t *testing.T) {
	ex := &mockExchange{balance: 1000}
	bot, sm := newTestBot(t, ex)

	sm.ApplyOrders([]models.Order{
		{Side: models.Buy, PositionSide: models.Long, Qty: 0.5, Price: 99.0},
		{Side: models.Sel, PositionSide: models.Long, Qty: -0.5, Price: 101.0},
	})

	assert.True(t, bot.orderTouched(models.Tick{Price: 99.0, IsBuyerMaker: true}))
	assert.True(t, bot.orderTouched(models.Tick{Price: 98.5, IsBuyerMaker: true}))
	assert.False(t, bot.orderTouched(models.Tick{Price: 99.5, IsBuyerMaker: true}))
	assert.True(t, bot.orderTouched(models.Tick{Price: 101.2, IsBuyerMaker: false}))
	assert.False(t, bot.orderTouched(models.Tick{Price: 100.9, IsBuyerMaker: false}))
	// wrong aggressor side never touches
	assert.False(t, bot.orderTouched(models.Tick{Price: 98.0, IsBuyerMaker: false}))
}

// TestCancelAndCreateFlat verifies a full replan from a flat book: the grid
// is computed, capped at the create batch limit, placed nearest-first with
// engine-owned tags, and the session picks up the resulting open orders.
func TestCancelAndCreateFlat(t *testing.T) {
	ex := &mockExchange{balance: 1000, lastPrice: 100}
	bot, sm := newTestBot(t, ex)

	feedMarket(bot,
		models.Tick{Price: 99.9, IsBuyerMaker: true, Timestamp: 1},
		models.Tick{Price: 100.1, IsBuyerMaker: false, Timestamp: 2},
	)

	bot.cancelAndCreate(1_000_000)

	placed := ex.placedOrders()
	require.NotEmpty(t, placed)
	assert.LessOrEqual(t, len(placed), bot.cfg.MaxCreateBatch)

	// nearest level first: the initial entry sits at the highest bid
	assert.InDelta(t, 99.9, placed[0].Price, 1e-9)
	assert.Equal(t, models.KindInitialLongEntry, placed[0].Kind)

	prev := 0.0
	for _, o := range placed {
		assert.True(t, bot.tags.Owns(o.Tag), "order %q must carry an engine tag", o.Tag)
		assert.Positive(t, o.Qty, "long-only flat ladder is all bids")
		dist := 100.1 - o.Price
		assert.GreaterOrEqual(t, dist, prev, "orders must be placed nearest-first")
		prev = dist
	}

	snap := sm.Snapshot()
	assert.Len(t, snap.RestingOrders, len(placed))
	assert.Empty(t, ex.canceled)
}

// TestCancelAndCreateReplacesStale verifies that resting orders absent from
// the freshly computed ladder get canceled.
func TestCancelAndCreateReplacesStale(t *testing.T) {
	ex := &mockExchange{balance: 1000, lastPrice: 100}
	bot, sm := newTestBot(t, ex)

	stale := models.Order{
		Side: models.Buy, PositionSide: models.Long,
		Qty: 0.5, Price: 50.0, OrderID: 999,
		Kind: models.KindInitialLongEntry,
		Tag:  bot.tags.Encode(models.KindInitialLongEntry, 1),
	}
	ex.openOrders = []models.Order{stale}
	sm.ApplyOrders([]models.Order{stale})

	feedMarket(bot,
		models.Tick{Price: 99.9, IsBuyerMaker: true, Timestamp: 1},
		models.Tick{Price: 100.1, IsBuyerMaker: false, Timestamp: 2},
	)

	bot.cancelAndCreate(1_000_000)

	assert.Contains(t, ex.canceled, int64(999))
	assert.NotEmpty(t, ex.placedOrders())
}

// TestCancelAndCreateWithoutMarketData verifies the replan bails out before
// touching the exchange order endpoints when no tick has arrived yet.
func TestCancelAndCreateWithoutMarketData(t *testing.T) {
	ex := &mockExchange{balance: 1000}
	bot, _ := newTestBot(t, ex)

	bot.cancelAndCreate(1_000_000)

	assert.Empty(t, ex.placedOrders())
	assert.Empty(t, ex.canceled)
}

// TestCheckFillsAdvancesWatermark verifies fill reconciliation: only trades
// past the watermark count, the cursor lands on the newest ID, and the
// position is refreshed afterwards.
func TestCheckFillsAdvancesWatermark(t *testing.T) {
	ex := &mockExchange{
		balance: 1000,
		fills: []models.UserTrade{
			{ID: 11, OrderID: 1, Side: "BUY", Price: "99.9", Qty: "0.5", RealizedPnl: "0"},
			{ID: 12, OrderID: 1, Side: "BUY", Price: "99.8", Qty: "0.1", RealizedPnl: "0"},
		},
	}
	bot, sm := newTestBot(t, ex)
	sm.ApplyFillID(10)

	bot.checkFills()

	snap := sm.Snapshot()
	assert.Equal(t, int64(12), snap.LastFillID)

	ex.mu.Lock()
	calls := ex.fetchPositionCalls
	ex.mu.Unlock()
	assert.Equal(t, 1, calls, "position must be refreshed after new fills")
}

// TestCheckFillsNoNewTrades verifies that an empty reconciliation neither
// moves the watermark nor hits the position endpoint.
func TestCheckFillsNoNewTrades(t *testing.T) {
	ex := &mockExchange{balance: 1000}
	bot, sm := newTestBot(t, ex)
	sm.ApplyFillID(10)

	bot.checkFills()

	assert.Equal(t, int64(10), sm.Snapshot().LastFillID)
	ex.mu.Lock()
	calls := ex.fetchPositionCalls
	ex.mu.Unlock()
	assert.Zero(t, calls)
}

// TestCreateOrdersAdvancesSeq verifies each placement consumes a fresh tag
// sequence number and the counter is persisted into the session.
func TestCreateOrdersAdvancesSeq(t *testing.T) {
	ex := &mockExchange{balance: 1000}
	bot, sm := newTestBot(t, ex)

	bot.createOrders([]models.Order{
		{Side: models.Buy, PositionSide: models.Long, Qty: 0.5, Price: 99, Kind: models.KindInitialLongEntry},
		{Side: models.Buy, PositionSide: models.Long, Qty: 0.5, Price: 98, Kind: models.KindLongReentry},
	})

	placed := ex.placedOrders()
	require.Len(t, placed, 2)
	_, seq0, ok := bot.tags.Decode(placed[0].Tag)
	require.True(t, ok)
	_, seq1, ok := bot.tags.Decode(placed[1].Tag)
	require.True(t, ok)
	assert.Equal(t, seq0+1, seq1)

	assert.Equal(t, int64(2), sm.Snapshot().OrderSeq)
}
