// Package risk 实现持仓与保证金模型：加权均价更新、盈亏、保证金占用、
// 可用保证金以及全仓对冲模式下的爆仓价/破产价求解。
// 所有函数都是全函数：零分母一律退化为 0，绝不产生 NaN。
package risk

import (
	"math"

	"binance-perp-grid-go/internal/numerics"
)

// 两个方向统一使用 1% 维持保证金率。
const (
	maintMarginLong = 0.01
	maintMarginShrt = 0.01
)

// ApplyFill 按加权均价法则把一笔成交并入持仓。
// qty 带符号；合并后数量被吸附到 qtyStep。数量穿越零时均价重置为 0，
// 保证"数量与均价同零同非零"的不变量。
func ApplyFill(psize, pprice, qty, price, qtyStep float64) (float64, float64) {
	newPsize := numerics.RoundToStep(psize+qty, qtyStep)
	if newPsize == 0 {
		return 0, 0
	}
	newPprice := pprice*(psize/newPsize) + price*(qty/newPsize)
	return newPsize, newPprice
}

// LongPNL 多头平仓盈亏。
func LongPNL(entryPrice, closePrice, qty float64) float64 {
	return math.Abs(qty) * (closePrice - entryPrice)
}

// ShrtPNL 空头平仓盈亏。
func ShrtPNL(entryPrice, closePrice, qty float64) float64 {
	return math.Abs(qty) * (entryPrice - closePrice)
}

// Cost 返回名义价值 |qty*price|。
func Cost(qty, price float64) float64 {
	return math.Abs(qty * price)
}

// MarginCost 返回该笔订单占用的初始保证金。
func MarginCost(qty, price, leverage float64) float64 {
	return Cost(qty, price) / leverage
}

// Equity 返回钱包余额加上两侧未实现盈亏。
// 某一侧只有在数量与均价都非零时才参与计算。
func Equity(balance, longPsize, longPprice, shrtPsize, shrtPprice, lastPrice float64) float64 {
	equity := balance
	if longPsize != 0 && longPprice != 0 {
		equity += LongPNL(longPprice, lastPrice, longPsize)
	}
	if shrtPsize != 0 && shrtPprice != 0 {
		equity += ShrtPNL(shrtPprice, lastPrice, shrtPsize)
	}
	return equity
}

// AvailableMargin 返回 max(0, 权益 - 已占用保证金)。
func AvailableMargin(balance, longPsize, longPprice, shrtPsize, shrtPprice, lastPrice, leverage float64) float64 {
	equity := balance
	used := 0.0
	if longPsize != 0 && longPprice != 0 {
		equity += LongPNL(longPprice, lastPrice, longPsize)
		used += Cost(longPsize, longPprice) / leverage
	}
	if shrtPsize != 0 && shrtPprice != 0 {
		equity += ShrtPNL(shrtPprice, lastPrice, shrtPsize)
		used += Cost(shrtPsize, shrtPprice) / leverage
	}
	return math.Max(0, equity-used)
}

// LiqPrice 求全仓对冲模式下的预估爆仓价：维持保证金调整后的权益
// 归零时的标记价格。两侧均无持仓时分母为零，返回 0。
func LiqPrice(balance, longPsize, longPprice, shrtPsize, shrtPprice float64) float64 {
	absShrt := math.Abs(shrtPsize)
	denominator := absShrt - longPsize + longPsize*maintMarginLong + absShrt*maintMarginShrt
	if denominator == 0 {
		return 0
	}
	return math.Max(0, (balance-longPsize*longPprice+absShrt*shrtPprice)/denominator)
}

// BankruptcyPrice 与 LiqPrice 相同，但不计维持保证金：权益本身归零
// 的价格。补仓前置检查用它预判剩余的爆仓缓冲。
func BankruptcyPrice(balance, longPsize, longPprice, shrtPsize, shrtPprice float64) float64 {
	absShrt := math.Abs(shrtPsize)
	denominator := absShrt - longPsize
	if denominator == 0 {
		return 0
	}
	return math.Max(0, (balance-longPsize*longPprice+absShrt*shrtPprice)/denominator)
}
