// Package strategy 实现网格梯子生成器：给定账户状态与行情锚点，
// 产出一组入场/补仓/止损/止盈订单。生成器是纯函数，回测与实盘
// 共用同一份决策逻辑，不允许任何副作用。
package strategy

import (
	"binance-perp-grid-go/internal/models"
	"binance-perp-grid-go/internal/numerics"
	"binance-perp-grid-go/internal/risk"
)

// 单次生成的迭代上限。正常情况下可用保证金先耗尽，
// 这里只是防御梯子参数退化时的死循环。
const maxIterations = 64

// State 是生成器的全部输入：一帧账户与行情的只读快照。
type State struct {
	Balance    float64
	LongPsize  float64
	LongPprice float64
	ShrtPsize  float64 // 空头为负
	ShrtPprice float64
	LiqPrice   float64

	HighestBid float64 // 盘口买一
	LowestAsk  float64 // 盘口卖一
	EMA        float64
	LastPrice  float64
	Volatility float64

	// 生成器可支配的保证金。回测方直接传入未打折的可用保证金，
	// 实盘方先乘 0.9 安全系数再传入，两种风控姿态刻意不统一。
	AvailableMargin float64
}

// MinEntryQty 返回同时满足最小数量与最小名义价值的下单数量下限。
func MinEntryQty(price float64, cfg *models.Config) float64 {
	if price <= 0 {
		return cfg.MinQty
	}
	byCost := numerics.RoundUp(cfg.MinCost/price, cfg.QtyStep)
	if byCost > cfg.MinQty {
		return byCost
	}
	return cfg.MinQty
}

// BidAskThresholds 返回初始入场的 EMA 偏移价带。
func BidAskThresholds(ema float64, cfg *models.Config) (bidThr, askThr float64) {
	bidThr = numerics.RoundDn(ema*(1-cfg.EmaSpread), cfg.PriceStep)
	askThr = numerics.RoundUp(ema*(1+cfg.EmaSpread), cfg.PriceStep)
	return bidThr, askThr
}

// maxQtyForMargin 返回给定保证金在 price 价位上最多能开的数量。
func maxQtyForMargin(margin, price, leverage, qtyStep float64) float64 {
	if price <= 0 {
		return 0
	}
	return numerics.RoundDn(margin*leverage/price, qtyStep)
}

// nextLongEntry 计算多头方向的下一张入场单。ok 为 false 表示该侧当前无可行订单。
func nextLongEntry(st *State, cfg *models.Config) (models.Order, bool) {
	if st.LongPsize == 0 {
		// 初始入场：取盘口买一与 EMA 下偏移的较小者
		bidThr, _ := BidAskThresholds(st.EMA, cfg)
		price := bidThr
		if st.HighestBid < price {
			price = st.HighestBid
		}
		if price <= 0 {
			return models.Order{}, false
		}
		minQty := MinEntryQty(price, cfg)
		qty := numerics.RoundDn(
			(st.Balance/price)*cfg.Leverage*cfg.QtyPct*(1+st.Volatility*cfg.VolatilityQtyCoeff),
			cfg.QtyStep)
		if qty < minQty {
			qty = minQty
		}
		if maxQty := maxQtyForMargin(st.AvailableMargin, price, cfg.Leverage, cfg.QtyStep); qty > maxQty {
			qty = maxQty
		}
		if qty < minQty {
			return models.Order{}, false
		}
		newPsize, newPprice := risk.ApplyFill(st.LongPsize, st.LongPprice, qty, price, cfg.QtyStep)
		return models.Order{
			Side: models.Buy, PositionSide: models.Long,
			Qty: qty, Price: price, Kind: models.KindInitialLongEntry,
			NewPsize: newPsize, NewPprice: newPprice,
		}, true
	}

	// 补仓：间距随仓位保证金与波动率放大
	posMargin := risk.Cost(st.LongPsize, st.LongPprice) / cfg.Leverage
	spacing := cfg.GridSpacing *
		(1 + (posMargin/st.Balance)*cfg.PosMarginGridCoeff) *
		(1 + st.Volatility*cfg.VolatilityGridCoeff)
	price := numerics.RoundDn(st.LongPprice*(1-spacing), cfg.PriceStep)
	if price <= 0 {
		return models.Order{}, false
	}
	if cfg.EntryPriceDevLimit > 0 && numerics.Diff(price, st.LastPrice) > cfg.EntryPriceDevLimit {
		return models.Order{}, false
	}
	minQty := MinEntryQty(price, cfg)
	qty := numerics.RoundDn(st.LongPsize*cfg.DdownFactor, cfg.QtyStep)
	if qty < minQty {
		qty = minQty
	}
	if maxQty := maxQtyForMargin(st.AvailableMargin, price, cfg.Leverage, cfg.QtyStep); qty > maxQty {
		qty = maxQty
	}
	if qty < minQty {
		return models.Order{}, false
	}
	newPsize, newPprice := risk.ApplyFill(st.LongPsize, st.LongPprice, qty, price, cfg.QtyStep)
	// 破产价缓冲检查：补仓后的破产价离现价太近则放弃
	bankruptcy := risk.BankruptcyPrice(st.Balance, newPsize, newPprice, st.ShrtPsize, st.ShrtPprice)
	if numerics.Diff(bankruptcy, st.LastPrice) < cfg.EntryLiqDiffThr {
		return models.Order{}, false
	}
	return models.Order{
		Side: models.Buy, PositionSide: models.Long,
		Qty: qty, Price: price, Kind: models.KindLongReentry,
		NewPsize: newPsize, NewPprice: newPprice,
	}, true
}

// nextShrtEntry 是 nextLongEntry 的空头镜像。空头数量始终为负。
func nextShrtEntry(st *State, cfg *models.Config) (models.Order, bool) {
	if st.ShrtPsize == 0 {
		_, askThr := BidAskThresholds(st.EMA, cfg)
		price := askThr
		if st.LowestAsk > price {
			price = st.LowestAsk
		}
		if price <= 0 {
			return models.Order{}, false
		}
		minQty := MinEntryQty(price, cfg)
		qty := numerics.RoundDn(
			(st.Balance/price)*cfg.Leverage*cfg.QtyPct*(1+st.Volatility*cfg.VolatilityQtyCoeff),
			cfg.QtyStep)
		if qty < minQty {
			qty = minQty
		}
		if maxQty := maxQtyForMargin(st.AvailableMargin, price, cfg.Leverage, cfg.QtyStep); qty > maxQty {
			qty = maxQty
		}
		if qty < minQty {
			return models.Order{}, false
		}
		newPsize, newPprice := risk.ApplyFill(st.ShrtPsize, st.ShrtPprice, -qty, price, cfg.QtyStep)
		return models.Order{
			Side: models.Sel, PositionSide: models.Shrt,
			Qty: -qty, Price: price, Kind: models.KindInitialShrtEntry,
			NewPsize: newPsize, NewPprice: newPprice,
		}, true
	}

	posMargin := risk.Cost(st.ShrtPsize, st.ShrtPprice) / cfg.Leverage
	spacing := cfg.GridSpacing *
		(1 + (posMargin/st.Balance)*cfg.PosMarginGridCoeff) *
		(1 + st.Volatility*cfg.VolatilityGridCoeff)
	price := numerics.RoundUp(st.ShrtPprice*(1+spacing), cfg.PriceStep)
	if price <= 0 {
		return models.Order{}, false
	}
	if cfg.EntryPriceDevLimit > 0 && numerics.Diff(price, st.LastPrice) > cfg.EntryPriceDevLimit {
		return models.Order{}, false
	}
	minQty := MinEntryQty(price, cfg)
	qty := numerics.RoundDn(-st.ShrtPsize*cfg.DdownFactor, cfg.QtyStep)
	if qty < minQty {
		qty = minQty
	}
	if maxQty := maxQtyForMargin(st.AvailableMargin, price, cfg.Leverage, cfg.QtyStep); qty > maxQty {
		qty = maxQty
	}
	if qty < minQty {
		return models.Order{}, false
	}
	newPsize, newPprice := risk.ApplyFill(st.ShrtPsize, st.ShrtPprice, -qty, price, cfg.QtyStep)
	bankruptcy := risk.BankruptcyPrice(st.Balance, st.LongPsize, st.LongPprice, newPsize, newPprice)
	if numerics.Diff(bankruptcy, st.LastPrice) < cfg.EntryLiqDiffThr {
		return models.Order{}, false
	}
	return models.Order{
		Side: models.Sel, PositionSide: models.Shrt,
		Qty: -qty, Price: price, Kind: models.KindShrtReentry,
		NewPsize: newPsize, NewPprice: newPprice,
	}, true
}

// stopLoss 在爆仓距离跌破阈值时生成一张风险削减单：
// 优先对冲进对侧（保证金允许且对侧启用时），否则直接削减较大一侧。
func stopLoss(st *State, cfg *models.Config) (models.Order, bool) {
	if cfg.StopLossLiqDiff <= 0 {
		return models.Order{}, false
	}
	liqDiff := numerics.Diff(st.LiqPrice, st.LastPrice)
	if st.LiqPrice == 0 || liqDiff >= cfg.StopLossLiqDiff {
		return models.Order{}, false
	}

	if st.LongPsize > -st.ShrtPsize {
		// 多头是较大（亏损）一侧，在卖一价削减
		slQty := numerics.RoundDn(st.LongPsize*cfg.StopLossPosPct, cfg.QtyStep)
		if slQty < cfg.MinQty {
			slQty = cfg.MinQty
		}
		if slQty > st.LongPsize {
			slQty = st.LongPsize
		}
		price := st.LowestAsk
		if price <= 0 || slQty <= 0 {
			return models.Order{}, false
		}
		if cfg.DoShrt && st.AvailableMargin > risk.MarginCost(slQty, price, cfg.Leverage) {
			newPsize, newPprice := risk.ApplyFill(st.ShrtPsize, st.ShrtPprice, -slQty, price, cfg.QtyStep)
			return models.Order{
				Side: models.Sel, PositionSide: models.Shrt,
				Qty: -slQty, Price: price, Kind: models.KindStopLossShrtEntry,
				NewPsize: newPsize, NewPprice: newPprice,
			}, true
		}
		newPsize := numerics.RoundToStep(st.LongPsize-slQty, cfg.QtyStep)
		newPprice := st.LongPprice
		if newPsize == 0 {
			newPprice = 0
		}
		return models.Order{
			Side: models.Sel, PositionSide: models.Long,
			Qty: -slQty, Price: price, Kind: models.KindStopLossLongClose,
			ReduceOnly: true, NewPsize: newPsize, NewPprice: newPprice,
		}, true
	}

	if -st.ShrtPsize > st.LongPsize {
		// 空头是较大一侧，在买一价削减
		slQty := numerics.RoundDn(-st.ShrtPsize*cfg.StopLossPosPct, cfg.QtyStep)
		if slQty < cfg.MinQty {
			slQty = cfg.MinQty
		}
		if slQty > -st.ShrtPsize {
			slQty = -st.ShrtPsize
		}
		price := st.HighestBid
		if price <= 0 || slQty <= 0 {
			return models.Order{}, false
		}
		if cfg.DoLong && st.AvailableMargin > risk.MarginCost(slQty, price, cfg.Leverage) {
			newPsize, newPprice := risk.ApplyFill(st.LongPsize, st.LongPprice, slQty, price, cfg.QtyStep)
			return models.Order{
				Side: models.Buy, PositionSide: models.Long,
				Qty: slQty, Price: price, Kind: models.KindStopLossLongEntry,
				NewPsize: newPsize, NewPprice: newPprice,
			}, true
		}
		newPsize := numerics.RoundToStep(st.ShrtPsize+slQty, cfg.QtyStep)
		newPprice := st.ShrtPprice
		if newPsize == 0 {
			newPprice = 0
		}
		return models.Order{
			Side: models.Buy, PositionSide: models.Shrt,
			Qty: slQty, Price: price, Kind: models.KindStopLossShrtClose,
			ReduceOnly: true, NewPsize: newPsize, NewPprice: newPprice,
		}, true
	}

	return models.Order{}, false
}

// applyAccepted 把一张已接受的订单反映回本地状态副本：
// 推进对应方向的持仓快照，并扣减入场单占用的保证金。
// 后续候选的计价以此为基础，从而得到确定的、保证金感知的排序。
func applyAccepted(st *State, o models.Order, cfg *models.Config) {
	switch o.PositionSide {
	case models.Long:
		st.LongPsize, st.LongPprice = o.NewPsize, o.NewPprice
	case models.Shrt:
		st.ShrtPsize, st.ShrtPprice = o.NewPsize, o.NewPprice
	}
	if !o.Kind.IsClose() {
		st.AvailableMargin -= risk.MarginCost(o.Qty, o.Price, cfg.Leverage)
		if st.AvailableMargin < 0 {
			st.AvailableMargin = 0
		}
	}
}

// Entries 生成当前状态下的完整入场梯子。
// 止损检查最先执行且可以抢占普通补仓；随后多空候选交替产出，
// 价格离现价近者优先（持平取多头），每接受一张就扣减可用保证金。
func Entries(input State, cfg *models.Config) []models.Order {
	st := input
	var out []models.Order

	if sl, ok := stopLoss(&st, cfg); ok {
		out = append(out, sl)
		applyAccepted(&st, sl, cfg)
	}

	for i := 0; i < maxIterations; i++ {
		var longEntry, shrtEntry models.Order
		var haveLong, haveShrt bool
		if cfg.DoLong {
			longEntry, haveLong = nextLongEntry(&st, cfg)
		}
		if cfg.DoShrt {
			shrtEntry, haveShrt = nextShrtEntry(&st, cfg)
		}

		var longFirst bool
		switch {
		case haveLong && haveShrt:
			longFirst = numerics.Diff(longEntry.Price, st.LastPrice) <= numerics.Diff(shrtEntry.Price, st.LastPrice)
		case haveLong:
			longFirst = true
		case haveShrt:
			longFirst = false
		default:
			return out
		}

		if longFirst {
			out = append(out, longEntry)
			applyAccepted(&st, longEntry, cfg)
		} else {
			out = append(out, shrtEntry)
			applyAccepted(&st, shrtEntry, cfg)
		}
	}
	return out
}
