package strategy

import (
	"binance-perp-grid-go/internal/models"
	"binance-perp-grid-go/internal/numerics"
)

// LongCloses 为多头仓位生成一串止盈卖单：价格在
// [pprice·(1+min_markup), pprice·(1+min_markup+markup_range)] 区间内
// 等距铺开并向上取整到价格步长，低于卖一的档位被夹到盘口。
// 数量均分，末档吸收余量；档位太碎时收缩档数直到每档不低于下限。
func LongCloses(psize, pprice, lowestAsk float64, cfg *models.Config) []models.Order {
	if psize <= 0 || pprice <= 0 {
		return nil
	}
	lo := pprice * (1 + cfg.MinMarkup)
	hi := pprice * (1 + cfg.MinMarkup + cfg.MarkupRange)

	n := cfg.NCloseOrders
	if n < 1 {
		n = 1
	}
	prices := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		p := lo
		if n > 1 {
			p = lo + (hi-lo)*float64(i)/float64(n-1)
		}
		p = numerics.RoundUp(p, cfg.PriceStep)
		if p < lowestAsk {
			p = lowestAsk
		}
		if len(prices) == 0 || p != prices[len(prices)-1] {
			prices = append(prices, p)
		}
	}
	n = len(prices)

	minQty := MinEntryQty(prices[0], cfg)
	for n > 1 && numerics.RoundDn(psize/float64(n), cfg.QtyStep) < minQty {
		n--
	}
	per := numerics.RoundDn(psize/float64(n), cfg.QtyStep)

	out := make([]models.Order, 0, n)
	remaining := psize
	for i := 0; i < n; i++ {
		qty := per
		if i == n-1 {
			qty = remaining // 末档吸收取整余量
		}
		if qty <= 0 {
			continue
		}
		remaining = numerics.RoundToStep(remaining-qty, cfg.QtyStep)
		newPprice := pprice
		if remaining == 0 {
			newPprice = 0
		}
		out = append(out, models.Order{
			Side: models.Sel, PositionSide: models.Long,
			Qty: -qty, Price: prices[i], Kind: models.KindLongClose,
			ReduceOnly: true, NewPsize: remaining, NewPprice: newPprice,
		})
	}
	return out
}

// ShrtCloses 是 LongCloses 的空头镜像：价格向下铺开并向下取整，
// 高于买一的档位被夹到盘口，买单数量为正。
func ShrtCloses(psize, pprice, highestBid float64, cfg *models.Config) []models.Order {
	if psize >= 0 || pprice <= 0 {
		return nil
	}
	abs := -psize
	lo := pprice * (1 - cfg.MinMarkup)
	hi := pprice * (1 - cfg.MinMarkup - cfg.MarkupRange)

	n := cfg.NCloseOrders
	if n < 1 {
		n = 1
	}
	prices := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		p := lo
		if n > 1 {
			p = lo + (hi-lo)*float64(i)/float64(n-1)
		}
		p = numerics.RoundDn(p, cfg.PriceStep)
		if p > highestBid {
			p = highestBid
		}
		if p <= 0 {
			continue
		}
		if len(prices) == 0 || p != prices[len(prices)-1] {
			prices = append(prices, p)
		}
	}
	if len(prices) == 0 {
		return nil
	}
	n = len(prices)

	minQty := MinEntryQty(prices[0], cfg)
	for n > 1 && numerics.RoundDn(abs/float64(n), cfg.QtyStep) < minQty {
		n--
	}
	per := numerics.RoundDn(abs/float64(n), cfg.QtyStep)

	out := make([]models.Order, 0, n)
	remaining := abs
	for i := 0; i < n; i++ {
		qty := per
		if i == n-1 {
			qty = remaining
		}
		if qty <= 0 {
			continue
		}
		remaining = numerics.RoundToStep(remaining-qty, cfg.QtyStep)
		newPprice := pprice
		if remaining == 0 {
			newPprice = 0
		}
		out = append(out, models.Order{
			Side: models.Buy, PositionSide: models.Shrt,
			Qty: qty, Price: prices[i], Kind: models.KindShrtClose,
			ReduceOnly: true, NewPsize: -remaining, NewPprice: newPprice,
		})
	}
	return out
}
