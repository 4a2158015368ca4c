package exchange

import "binance-perp-grid-go/internal/models"

// Exchange 定义了实盘控制回路所依赖的交易所能力。
// 回测不经过该接口，实盘与测试中的模拟交易所各自实现它。
type Exchange interface {
	// FetchPosition 返回对冲模式下两个方向合并后的持仓快照。
	FetchPosition(symbol string) (*models.PositionState, error)
	// FetchOpenOrders 返回当前全部挂单，Qty 带符号，Tag 为 clientOrderId。
	FetchOpenOrders(symbol string) ([]models.Order, error)
	// FetchFills 返回 fromID 之后的成交记录，按成交 ID 升序。
	FetchFills(symbol string, fromID int64) ([]models.UserTrade, error)
	// PlaceOrder 提交一张限价单，返回交易所分配的订单 ID。
	PlaceOrder(symbol string, order models.Order) (int64, error)
	// CancelOrder 按订单 ID 撤单。
	CancelOrder(symbol string, orderID int64) error
	// GetPrice 返回最新成交价。
	GetPrice(symbol string) (float64, error)
	// GetBalance 返回 USDT 钱包余额。
	GetBalance() (float64, error)
}
