package backtest

import (
	"sort"

	"binance-perp-grid-go/internal/models"
)

// 盘口排序刻意使用稳定排序：同价订单保持生成顺序，
// 保证回放结果的确定性。

func sortBidsDesc(orders []models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].Price > orders[j].Price
	})
}

func sortAsksAsc(orders []models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].Price < orders[j].Price
	})
}
