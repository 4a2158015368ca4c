// Package backtest 实现逐笔回放引擎：重放聚合成交流，
// 在模拟盘口上撮合梯子订单，产出成交日志与权益曲线。
// 引擎是确定性的：同一份数据与配置产出逐字节一致的结果。
package backtest

import (
	"math"

	"binance-perp-grid-go/internal/indicator"
	"binance-perp-grid-go/internal/models"
	"binance-perp-grid-go/internal/numerics"
	"binance-perp-grid-go/internal/risk"
	"binance-perp-grid-go/internal/strategy"
)

const (
	// 爆仓距离跌破该值后，引擎开始检查成交价是否穿越爆仓价
	liqCheckThreshold = 0.05
	// 余额/权益采样间隔：30 模拟分钟
	statsIntervalMs = int64(1000 * 60 * 30)
	// 两次盘口刷新的兜底间隔：即使没有触价也至少每 5 秒重挂一次
	forcedRefreshMs = int64(5000)
	msPerDay        = float64(1000 * 60 * 60 * 24)
)

// Result 汇总一次回放的全部产出。
// Finished 为 false 表示回放因爆仓或余额耗尽而提前终止。
type Result struct {
	Fills    []models.Fill
	Stats    []models.BalanceSample
	Finished bool
}

// Engine 持有一次回放的全部可变状态。不可复用，跑一次建一个。
type Engine struct {
	cfg *models.Config

	balance    float64
	longPsize  float64
	longPprice float64
	shrtPsize  float64
	shrtPprice float64
	liqPrice   float64
	liqDiff    float64

	// 模拟盘口：ob[0] 最近一笔卖方主动成交价（买一），ob[1] 买方主动成交价（卖一）
	ob [2]float64

	bids []models.Order // 价格降序
	asks []models.Order // 价格升序

	closestLiq float64
	stream     *indicator.Stream
}

// NewEngine 构造回放引擎。
func NewEngine(cfg *models.Config) *Engine {
	return &Engine{
		cfg:        cfg,
		balance:    cfg.StartingBalance,
		liqDiff:    1.0,
		closestLiq: 1.0,
		stream:     indicator.NewStream(cfg.EmaSpan),
	}
}

// Run 回放整段 tick 序列。前 ema_span 笔只喂指标不撮合。
// 数据不足以完成热身时返回空结果且 Finished 为 false。
func (e *Engine) Run(ticks []models.Tick) *Result {
	res := &Result{}
	span := e.cfg.EmaSpan
	if len(ticks) <= span || len(ticks) < 2 {
		return res
	}

	e.ob[0] = math.Min(ticks[0].Price, ticks[1].Price)
	e.ob[1] = math.Max(ticks[0].Price, ticks[1].Price)

	// 热身：指标吃满一个窗口
	for _, t := range ticks[:span] {
		e.stream.Update(t)
	}

	startTs := ticks[span].Timestamp
	prevUpdatePlusDelay := startTs + int64(e.cfg.LatencySimulationMs)
	var prevUpdatePlus5Sec int64
	updateTriggered := false
	var nextStatsUpdate int64

	e.recordStats(res, ticks[0])

	for k := span; k < len(ticks); k++ {
		tick := ticks[k]
		e.stream.Update(tick)

		if tick.Timestamp > nextStatsUpdate {
			if d := numerics.Diff(e.liqPrice, tick.Price); d < e.closestLiq {
				e.closestLiq = d
			}
			e.recordStats(res, tick)
			nextStatsUpdate = tick.Timestamp + statsIntervalMs
		}

		var fills []models.Fill
		if tick.IsBuyerMaker {
			// 卖方主动成交：可能击穿多头爆仓价，或吃掉挂着的买单
			if e.liqDiff < liqCheckThreshold && e.longPsize > -e.shrtPsize && tick.Price <= e.liqPrice {
				fills = append(fills, e.liquidationFill(models.Long, tick.Price))
				e.zeroPositions()
			} else if len(e.bids) > 0 {
				if tick.Price <= e.bids[0].Price {
					updateTriggered = true
				}
				for len(e.bids) > 0 && tick.Price < e.bids[0].Price {
					bid := e.bids[0]
					e.bids = e.bids[1:]
					fills = append(fills, e.matchBid(bid, tick))
				}
			}
			e.ob[0] = tick.Price
		} else {
			if e.liqDiff < liqCheckThreshold && -e.shrtPsize > e.longPsize && tick.Price >= e.liqPrice {
				fills = append(fills, e.liquidationFill(models.Shrt, tick.Price))
				e.zeroPositions()
			} else if len(e.asks) > 0 {
				if tick.Price >= e.asks[0].Price {
					updateTriggered = true
				}
				for len(e.asks) > 0 && tick.Price > e.asks[0].Price {
					ask := e.asks[0]
					e.asks = e.asks[1:]
					fills = append(fills, e.matchAsk(ask, tick))
				}
			}
			e.ob[1] = tick.Price
		}

		// 盘口刷新：触价后需等待模拟延迟，闲置时兜底 5 秒重挂
		if tick.Timestamp > prevUpdatePlusDelay &&
			(updateTriggered || tick.Timestamp > prevUpdatePlus5Sec) {
			prevUpdatePlusDelay = tick.Timestamp + int64(e.cfg.LatencySimulationMs)
			prevUpdatePlus5Sec = tick.Timestamp + forcedRefreshMs
			updateTriggered = false
			e.refreshBook(tick)
		}

		for _, fill := range fills {
			e.settleFill(&fill, tick, k, startTs)
			res.Fills = append(res.Fills, fill)
			if e.balance <= 0 || fill.Kind.IsLiquidation() {
				return res
			}
		}
	}

	e.recordStats(res, ticks[len(ticks)-1])
	res.Finished = true
	return res
}

// refreshBook 清空并重建双侧梯子。入场单至多吃到双侧各 3 张，
// 止盈梯子仅在现价越过持仓均价后挂出。
func (e *Engine) refreshBook(tick models.Tick) {
	e.bids = e.bids[:0]
	e.asks = e.asks[:0]
	e.liqDiff = numerics.Diff(e.liqPrice, tick.Price)
	if e.liqDiff < e.closestLiq {
		e.closestLiq = e.liqDiff
	}

	st := strategy.State{
		Balance:    e.balance,
		LongPsize:  e.longPsize,
		LongPprice: e.longPprice,
		ShrtPsize:  e.shrtPsize,
		ShrtPprice: e.shrtPprice,
		LiqPrice:   e.liqPrice,
		HighestBid: e.ob[0],
		LowestAsk:  e.ob[1],
		EMA:        e.stream.EMA(),
		LastPrice:  tick.Price,
		Volatility: e.stream.Volatility(),
		AvailableMargin: risk.AvailableMargin(
			e.balance, e.longPsize, e.longPprice, e.shrtPsize, e.shrtPprice,
			tick.Price, e.cfg.Leverage),
	}
	for _, o := range strategy.Entries(st, e.cfg) {
		if len(e.bids) > 2 && len(e.asks) > 2 {
			break
		}
		if o.Qty > 0 {
			e.bids = append(e.bids, o)
		} else if o.Qty < 0 {
			e.asks = append(e.asks, o)
		} else {
			break
		}
	}
	if tick.Price <= e.shrtPprice && e.shrtPprice > 0 {
		e.bids = append(e.bids, strategy.ShrtCloses(e.shrtPsize, e.shrtPprice, e.ob[0], e.cfg)...)
	}
	if tick.Price >= e.longPprice && e.longPprice > 0 {
		e.asks = append(e.asks, strategy.LongCloses(e.longPsize, e.longPprice, e.ob[1], e.cfg)...)
	}
	sortBidsDesc(e.bids)
	sortAsksAsc(e.asks)
}

// matchBid 撮合一张买单：空头止盈只缩减仓位，入场单推进持仓均价。
func (e *Engine) matchBid(bid models.Order, tick models.Tick) models.Fill {
	fill := models.Fill{
		Timestamp: tick.Timestamp,
		Side:      models.Buy,
		Kind:      bid.Kind,
		Qty:       bid.Qty,
		Price:     bid.Price,
		FeePaid:   -risk.Cost(bid.Qty, bid.Price) * e.cfg.MakerFee,
	}
	if bid.Kind.IsClose() {
		fill.PNL = risk.ShrtPNL(e.shrtPprice, bid.Price, bid.Qty)
		e.shrtPsize = math.Min(0, numerics.RoundToStep(e.shrtPsize+bid.Qty, e.cfg.QtyStep))
		fill.PositionSide = models.Shrt
		fill.LongPsize, fill.LongPprice = e.longPsize, e.longPprice
		fill.ShrtPsize, fill.ShrtPprice = e.shrtPsize, e.shrtPprice
	} else {
		e.longPsize, e.longPprice = risk.ApplyFill(
			e.longPsize, e.longPprice, bid.Qty, bid.Price, e.cfg.QtyStep)
		if e.longPsize < 0 {
			e.longPsize, e.longPprice = 0, 0
		}
		fill.PositionSide = models.Long
		// 快照采用下单时预计算的仓位，与撮合后实际仓位按构造一致
		fill.LongPsize, fill.LongPprice = bid.NewPsize, bid.NewPprice
		fill.ShrtPsize, fill.ShrtPprice = e.shrtPsize, e.shrtPprice
	}
	return fill
}

// matchAsk 撮合一张卖单，matchBid 的镜像。
func (e *Engine) matchAsk(ask models.Order, tick models.Tick) models.Fill {
	fill := models.Fill{
		Timestamp: tick.Timestamp,
		Side:      models.Sel,
		Kind:      ask.Kind,
		Qty:       ask.Qty,
		Price:     ask.Price,
		FeePaid:   -risk.Cost(ask.Qty, ask.Price) * e.cfg.MakerFee,
	}
	if ask.Kind.IsClose() {
		fill.PNL = risk.LongPNL(e.longPprice, ask.Price, ask.Qty)
		e.longPsize = math.Max(0, numerics.RoundToStep(e.longPsize+ask.Qty, e.cfg.QtyStep))
		fill.PositionSide = models.Long
		fill.LongPsize, fill.LongPprice = e.longPsize, e.longPprice
		fill.ShrtPsize, fill.ShrtPprice = e.shrtPsize, e.shrtPprice
	} else {
		e.shrtPsize, e.shrtPprice = risk.ApplyFill(
			e.shrtPsize, e.shrtPprice, ask.Qty, ask.Price, e.cfg.QtyStep)
		if e.shrtPsize > 0 {
			e.shrtPsize, e.shrtPprice = 0, 0
		}
		fill.PositionSide = models.Shrt
		fill.LongPsize, fill.LongPprice = e.longPsize, e.longPprice
		fill.ShrtPsize, fill.ShrtPprice = ask.NewPsize, ask.NewPprice
	}
	return fill
}

// liquidationFill 构造强平成交：较大一侧按吃单费率整体平掉，双侧清零。
func (e *Engine) liquidationFill(side models.PositionSide, price float64) models.Fill {
	fill := models.Fill{
		Price:     price,
		LiqDiff:   1.0,
		LongPsize: 0, LongPprice: 0,
		ShrtPsize: 0, ShrtPprice: 0,
	}
	if side == models.Long {
		fill.Qty = -e.longPsize
		fill.Side = models.Sel
		fill.PositionSide = models.Long
		fill.Kind = models.KindLongLiquidation
		fill.PNL = risk.LongPNL(e.longPprice, price, e.longPsize)
		fill.FeePaid = -risk.Cost(e.longPsize, price) * e.cfg.TakerFee
	} else {
		fill.Qty = -e.shrtPsize
		fill.Side = models.Buy
		fill.PositionSide = models.Shrt
		fill.Kind = models.KindShrtLiquidation
		fill.PNL = risk.ShrtPNL(e.shrtPprice, price, e.shrtPsize)
		fill.FeePaid = -risk.Cost(e.shrtPsize, price) * e.cfg.TakerFee
	}
	return fill
}

func (e *Engine) zeroPositions() {
	e.longPsize, e.longPprice = 0, 0
	e.shrtPsize, e.shrtPprice = 0, 0
}

// settleFill 入账一笔成交并补全账户快照字段。
func (e *Engine) settleFill(fill *models.Fill, tick models.Tick, k int, startTs int64) {
	e.balance += fill.PNL + fill.FeePaid

	e.liqPrice = risk.LiqPrice(e.balance, e.longPsize, e.longPprice, e.shrtPsize, e.shrtPprice)
	e.liqDiff = numerics.Diff(e.liqPrice, tick.Price)
	fill.LiqPrice = e.liqPrice
	fill.LiqDiff = e.liqDiff

	fill.Equity = risk.Equity(e.balance, e.longPsize, e.longPprice, e.shrtPsize, e.shrtPprice, tick.Price)
	fill.AvailableMargin = risk.AvailableMargin(
		e.balance, e.longPsize, e.longPprice, e.shrtPsize, e.shrtPprice, tick.Price, e.cfg.Leverage)
	fill.Balance = e.balance
	fill.TradeID = int64(k)
	fill.Timestamp = tick.Timestamp
	fill.Gain = fill.Equity / e.cfg.StartingBalance
	fill.NDays = float64(tick.Timestamp-startTs) / msPerDay
	fill.ClosestLiq = e.closestLiq
	if fill.NDays > 0.5 && fill.Gain > 0 {
		fill.AverageDailyGain = math.Pow(fill.Gain, 1/fill.NDays)
	} else {
		fill.AverageDailyGain = 0
	}
}

func (e *Engine) recordStats(res *Result, tick models.Tick) {
	res.Stats = append(res.Stats, models.BalanceSample{
		Timestamp: tick.Timestamp,
		Balance:   e.balance,
		Equity: risk.Equity(e.balance, e.longPsize, e.longPprice,
			e.shrtPsize, e.shrtPprice, tick.Price),
	})
}
