// Package live 实现实盘控制回路：消费逐笔行情，按优先级触发
// 重挂/对账/打印等操作，每个操作受独立的非阻塞锁保护。
// 梯子的计算与回测共用 strategy 包，这里只负责把梯子落到交易所。
package live

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"binance-perp-grid-go/internal/exchange"
	"binance-perp-grid-go/internal/indicator"
	"binance-perp-grid-go/internal/metrics"
	"binance-perp-grid-go/internal/models"
	"binance-perp-grid-go/internal/numerics"
	"binance-perp-grid-go/internal/risk"
	"binance-perp-grid-go/internal/strategy"
)

// 实盘下单前对可用保证金再打九折，给滑点和对账延迟留余量
const liveMarginDiscount = 0.9

// 流断开后的重连间隔
const streamRetryDelay = 5 * time.Second

// marketState 是行情消费协程维护的最新盘口快照。
type marketState struct {
	mu         sync.Mutex
	highestBid float64
	lowestAsk  float64
	lastPrice  float64
}

func (m *marketState) update(t models.Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.IsBuyerMaker {
		m.highestBid = t.Price
	} else {
		m.lowestAsk = t.Price
	}
	m.lastPrice = t.Price
}

func (m *marketState) snapshot() (highestBid, lowestAsk, lastPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.highestBid, m.lowestAsk, m.lastPrice
}

// Bot 是一个交易对上的实盘控制回路。
type Bot struct {
	cfg     *models.Config
	logger  *zap.Logger
	ex      exchange.Exchange
	session *SessionManager
	locks   *lockSet
	tags    *TagCodec
	stream  *indicator.Stream
	market  marketState

	orderSeq atomic.Int64

	lastReplanMs    atomic.Int64
	nextPrintMs     atomic.Int64
	nextFillCheckMs atomic.Int64
}

// NewBot 构造控制回路。session 必须已经 Start。
func NewBot(cfg *models.Config, ex exchange.Exchange, session *SessionManager, tags *TagCodec, logger *zap.Logger) *Bot {
	b := &Bot{
		cfg:     cfg,
		logger:  logger,
		ex:      ex,
		session: session,
		locks:   newLockSet(logger),
		tags:    tags,
		stream:  indicator.NewStream(cfg.EmaSpan),
	}
	if snap := session.Snapshot(); snap != nil {
		b.orderSeq.Store(snap.OrderSeq)
	}
	return b
}

// streamer 抽象行情订阅，便于测试替换。
type streamer interface {
	StreamAggTrades(ctx context.Context, symbol string, out chan<- models.Tick) error
}

// Run 启动控制回路并阻塞到 ctx 取消。
// 行情流断开时自动重连，指标窗口在重连后继续累积。
func (b *Bot) Run(ctx context.Context, src streamer) error {
	ticks := make(chan models.Tick, 4096)

	go func() {
		for {
			err := src.StreamAggTrades(ctx, b.cfg.Symbol, ticks)
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("行情流断开，准备重连", zap.Error(err))
			select {
			case <-time.After(streamRetryDelay):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case tick := <-ticks:
			b.market.update(tick)
			b.stream.Update(tick)
			b.decide(tick)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// decide 是每笔行情触发的调度入口。拿不到 decide 锁直接丢弃本笔，
// 靠后续行情补偿；优先级从高到低只选一条主路径执行。
func (b *Bot) decide(tick models.Tick) {
	nowMs := time.Now().UnixMilli()
	if !b.locks.TryAcquire(OpDecide, nowMs) {
		return
	}
	defer func() { b.locks.Release(OpDecide, time.Now().UnixMilli()) }()

	b.locks.Sweep(nowMs, time.Duration(b.cfg.LockTimeoutSec)*time.Second)

	switch {
	case b.orderTouched(tick):
		// 挂单被触价：立刻重挂，顺带异步核对成交
		b.cancelAndCreate(nowMs)
		go b.checkFills()
	case nowMs-b.lastReplanMs.Load() > int64(b.cfg.ReplanTimeoutSec)*1000:
		b.cancelAndCreate(nowMs)
	case nowMs > b.nextPrintMs.Load():
		b.nextPrintMs.Store(nowMs + int64(b.cfg.PrintIntervalSec)*1000)
		b.printStatus(tick)
	case nowMs > b.nextFillCheckMs.Load():
		b.nextFillCheckMs.Store(nowMs + int64(b.cfg.FillCheckSec)*1000)
		go b.checkFills()
	}
}

// orderTouched 报告这笔成交是否触及我们的任一挂单价位。
func (b *Bot) orderTouched(tick models.Tick) bool {
	snap := b.session.Snapshot()
	if snap == nil {
		return false
	}
	for _, o := range snap.RestingOrders {
		if o.Qty > 0 && tick.IsBuyerMaker && tick.Price <= o.Price {
			return true
		}
		if o.Qty < 0 && !tick.IsBuyerMaker && tick.Price >= o.Price {
			return true
		}
	}
	return false
}

// cancelAndCreate 执行一轮完整的重挂：刷新持仓与余额，
// 重算梯子，与现有挂单做差集，先撤后挂，最后刷新挂单快照。
// 子步骤失败只记日志，回路继续运转。
func (b *Bot) cancelAndCreate(nowMs int64) {
	b.lastReplanMs.Store(nowMs)
	metrics.ReplansTotal.Inc()

	if !b.refreshPosition(nowMs) {
		return
	}

	snap := b.session.Snapshot()
	if snap == nil {
		return
	}
	highestBid, lowestAsk, lastPrice := b.market.snapshot()
	if lastPrice == 0 {
		return // 还没有行情
	}

	desired := b.buildLadder(snap, highestBid, lowestAsk, lastPrice)
	toCancel, toCreate := b.diffOrders(snap.RestingOrders, desired)

	// 近价优先：离现价最近的挂单最可能被触发，先处理
	sort.SliceStable(toCancel, func(i, j int) bool {
		return math.Abs(toCancel[i].Price-lastPrice) < math.Abs(toCancel[j].Price-lastPrice)
	})
	sort.SliceStable(toCreate, func(i, j int) bool {
		return math.Abs(toCreate[i].Price-lastPrice) < math.Abs(toCreate[j].Price-lastPrice)
	})
	if len(toCancel) > b.cfg.MaxCancelBatch {
		toCancel = toCancel[:b.cfg.MaxCancelBatch]
	}
	if len(toCreate) > b.cfg.MaxCreateBatch {
		toCreate = toCreate[:b.cfg.MaxCreateBatch]
	}

	if len(toCancel) > 0 {
		b.cancelOrders(toCancel)
		// 留给交易所一点时间消化撤单，避免保证金校验读到旧挂单
		time.Sleep(time.Duration(b.cfg.CreateDelayMs) * time.Millisecond)
	}
	if len(toCreate) > 0 {
		b.createOrders(toCreate)
	}

	b.refreshOpenOrders()
}

// buildLadder 用共享的梯子生成器算出目标挂单集。
func (b *Bot) buildLadder(snap *models.SessionState, highestBid, lowestAsk, lastPrice float64) []models.Order {
	balance := snap.Balance.Balance
	availMargin := risk.AvailableMargin(
		balance,
		snap.Position.LongPsize, snap.Position.LongPprice,
		snap.Position.ShrtPsize, snap.Position.ShrtPprice,
		lastPrice, b.cfg.Leverage)

	st := strategy.State{
		Balance:         balance,
		LongPsize:       snap.Position.LongPsize,
		LongPprice:      snap.Position.LongPprice,
		ShrtPsize:       snap.Position.ShrtPsize,
		ShrtPprice:      snap.Position.ShrtPprice,
		LiqPrice:        snap.Position.LiqPrice,
		HighestBid:      highestBid,
		LowestAsk:       lowestAsk,
		EMA:             b.stream.EMA(),
		LastPrice:       lastPrice,
		Volatility:      b.stream.Volatility(),
		AvailableMargin: availMargin * liveMarginDiscount,
	}

	desired := strategy.Entries(st, b.cfg)
	desired = append(desired, strategy.LongCloses(
		snap.Position.LongPsize, snap.Position.LongPprice, lowestAsk, b.cfg)...)
	desired = append(desired, strategy.ShrtCloses(
		snap.Position.ShrtPsize, snap.Position.ShrtPprice, highestBid, b.cfg)...)
	return desired
}

// orderKey 是挂单对比用的身份：方向、持仓侧、角色、数量与价格
// 完全一致才算同一张。交易所回读的挂单角色从标签里还原。
type orderKey struct {
	side  models.OrderSide
	pside models.PositionSide
	kind  models.OrderKind
	qty   float64
	price float64
}

func (b *Bot) keyOf(o models.Order) orderKey {
	kind := o.Kind
	if kind == "" {
		if k, _, ok := b.tags.Decode(o.Tag); ok {
			kind = k
		}
	}
	return orderKey{
		side:  o.Side,
		pside: o.PositionSide,
		kind:  kind,
		qty:   numerics.RoundToStep(o.Qty, 1e-10),
		price: numerics.RoundToStep(o.Price, 1e-10),
	}
}

// diffOrders 求现有挂单与目标梯子的双向差集。
func (b *Bot) diffOrders(resting, desired []models.Order) (toCancel, toCreate []models.Order) {
	desiredKeys := make(map[orderKey]int, len(desired))
	for _, o := range desired {
		desiredKeys[b.keyOf(o)]++
	}
	restingKeys := make(map[orderKey]int, len(resting))
	for _, o := range resting {
		restingKeys[b.keyOf(o)]++
	}

	for _, o := range resting {
		k := b.keyOf(o)
		if desiredKeys[k] > 0 {
			desiredKeys[k]--
		} else {
			toCancel = append(toCancel, o)
		}
	}
	for _, o := range desired {
		k := b.keyOf(o)
		if restingKeys[k] > 0 {
			restingKeys[k]--
		} else {
			toCreate = append(toCreate, o)
		}
	}
	return toCancel, toCreate
}

// refreshPosition 从交易所拉取持仓与余额写入会话。
func (b *Bot) refreshPosition(nowMs int64) bool {
	if !b.locks.TryAcquire(OpUpdatePosition, nowMs) {
		return false
	}
	defer func() { b.locks.Release(OpUpdatePosition, time.Now().UnixMilli()) }()

	position, err := b.ex.FetchPosition(b.cfg.Symbol)
	if err != nil {
		b.logger.Error("拉取持仓失败", zap.Error(err))
		return false
	}
	balance, err := b.ex.GetBalance()
	if err != nil {
		b.logger.Error("拉取余额失败", zap.Error(err))
		return false
	}

	_, _, lastPrice := b.market.snapshot()
	equity := risk.Equity(balance,
		position.LongPsize, position.LongPprice,
		position.ShrtPsize, position.ShrtPprice, lastPrice)
	availMargin := risk.AvailableMargin(balance,
		position.LongPsize, position.LongPprice,
		position.ShrtPsize, position.ShrtPprice, lastPrice, b.cfg.Leverage)

	b.session.ApplyPosition(*position)
	b.session.ApplyBalance(models.BalanceState{
		Balance:         balance,
		Equity:          equity,
		AvailableMargin: availMargin,
	})

	metrics.Balance.Set(balance)
	metrics.Equity.Set(equity)
	metrics.LongPsize.Set(position.LongPsize)
	metrics.ShrtPsize.Set(position.ShrtPsize)
	if lastPrice > 0 {
		metrics.LiqDiff.Set(numerics.Diff(position.LiqPrice, lastPrice))
	}
	return true
}

// refreshOpenOrders 从交易所拉取挂单快照写入会话。
func (b *Bot) refreshOpenOrders() {
	nowMs := time.Now().UnixMilli()
	if !b.locks.TryAcquire(OpUpdateOpenOrders, nowMs) {
		return
	}
	defer func() { b.locks.Release(OpUpdateOpenOrders, time.Now().UnixMilli()) }()

	orders, err := b.ex.FetchOpenOrders(b.cfg.Symbol)
	if err != nil {
		b.logger.Error("拉取挂单失败", zap.Error(err))
		return
	}
	// 只接管自己打过标签的挂单
	mine := orders[:0]
	for _, o := range orders {
		if b.tags.Owns(o.Tag) {
			mine = append(mine, o)
		}
	}
	b.session.ApplyOrders(mine)
	metrics.OpenOrders.Set(float64(len(mine)))
}

// cancelOrders 逐张撤单。单张失败跳过，不影响其余。
func (b *Bot) cancelOrders(orders []models.Order) {
	nowMs := time.Now().UnixMilli()
	if !b.locks.TryAcquire(OpCancelOrders, nowMs) {
		return
	}
	defer func() { b.locks.Release(OpCancelOrders, time.Now().UnixMilli()) }()

	for _, o := range orders {
		if err := b.ex.CancelOrder(b.cfg.Symbol, o.OrderID); err != nil {
			b.logger.Error("撤单失败",
				zap.Int64("orderId", o.OrderID),
				zap.Float64("price", o.Price),
				zap.Error(err))
			continue
		}
		metrics.OrdersCanceled.Inc()
		b.logger.Info("已撤单",
			zap.Int64("orderId", o.OrderID),
			zap.Float64("price", o.Price),
			zap.Float64("qty", o.Qty))
	}
}

// createOrders 逐张下单并打上可解析的客户端标签。
func (b *Bot) createOrders(orders []models.Order) {
	nowMs := time.Now().UnixMilli()
	if !b.locks.TryAcquire(OpCreateOrders, nowMs) {
		return
	}
	defer func() { b.locks.Release(OpCreateOrders, time.Now().UnixMilli()) }()

	for _, o := range orders {
		seq := b.orderSeq.Add(1)
		o.Tag = b.tags.Encode(o.Kind, seq)
		orderID, err := b.ex.PlaceOrder(b.cfg.Symbol, o)
		if err != nil {
			b.logger.Error("下单失败",
				zap.String("kind", string(o.Kind)),
				zap.Float64("price", o.Price),
				zap.Float64("qty", o.Qty),
				zap.Error(err))
			continue
		}
		metrics.OrdersCreated.Inc()
		b.logger.Info("已下单",
			zap.Int64("orderId", orderID),
			zap.String("kind", string(o.Kind)),
			zap.Float64("price", o.Price),
			zap.Float64("qty", o.Qty))
	}
	b.session.ApplySeq(b.orderSeq.Load())
}

// checkFills 核对 LastFillID 之后的成交并推进水位，随后刷新持仓。
func (b *Bot) checkFills() {
	nowMs := time.Now().UnixMilli()
	if !b.locks.TryAcquire(OpCheckFills, nowMs) {
		return
	}
	defer func() { b.locks.Release(OpCheckFills, time.Now().UnixMilli()) }()

	snap := b.session.Snapshot()
	if snap == nil {
		return
	}
	trades, err := b.ex.FetchFills(b.cfg.Symbol, snap.LastFillID+1)
	if err != nil {
		b.logger.Error("拉取成交记录失败", zap.Error(err))
		return
	}

	// 订单 ID 到客户端标签的索引，用于还原成交对应的梯子角色
	tagByOrderID := make(map[int64]string, len(snap.RestingOrders))
	for _, o := range snap.RestingOrders {
		tagByOrderID[o.OrderID] = o.Tag
	}

	for _, t := range trades {
		if t.ID <= snap.LastFillID {
			continue
		}
		kind := models.OrderKind("unknown")
		if k, _, ok := b.tags.Decode(tagByOrderID[t.OrderID]); ok {
			kind = k
		}
		metrics.FillsTotal.Inc()
		b.logger.Info("核对到新成交",
			zap.Int64("tradeId", t.ID),
			zap.String("kind", string(kind)),
			zap.String("side", t.Side),
			zap.String("price", t.Price),
			zap.String("qty", t.Qty),
			zap.String("realizedPnl", t.RealizedPnl))
		b.session.ApplyFillID(t.ID)
	}

	if len(trades) > 0 {
		b.refreshPosition(time.Now().UnixMilli())
	}
}

// printStatus 打一行会话概况。
func (b *Bot) printStatus(tick models.Tick) {
	snap := b.session.Snapshot()
	if snap == nil {
		return
	}
	b.logger.Info("会话概况",
		zap.Float64("price", tick.Price),
		zap.Float64("ema", b.stream.EMA()),
		zap.Float64("volatility", b.stream.Volatility()),
		zap.Float64("balance", snap.Balance.Balance),
		zap.Float64("equity", snap.Balance.Equity),
		zap.Float64("longPsize", snap.Position.LongPsize),
		zap.Float64("shrtPsize", snap.Position.ShrtPsize),
		zap.Int("restingOrders", len(snap.RestingOrders)))
}
