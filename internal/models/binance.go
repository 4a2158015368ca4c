package models

// 本文件定义币安 USDT 永续 REST/WS 接口的原始报文结构。
// 数值字段按交易所习惯以字符串传输，解析在 exchange 层完成。

// PositionRisk 对应 /fapi/v2/positionRisk 的单条记录（对冲模式下每个方向一条）。
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	LiquidationPrice string `json:"liquidationPrice"`
	Leverage         string `json:"leverage"`
	MarginType       string `json:"marginType"`
	PositionSide     string `json:"positionSide"` // "LONG" / "SHORT" / "BOTH"
	Notional         string `json:"notional"`
	UnRealizedProfit string `json:"unRealizedProfit"`
}

// OpenOrder 对应 /fapi/v1/openOrders 的单条挂单。
type OpenOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"` // "BUY" / "SELL"
	PositionSide  string `json:"positionSide"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	ReduceOnly    bool   `json:"reduceOnly"`
	UpdateTime    int64  `json:"updateTime"`
}

// UserTrade 对应 /fapi/v1/userTrades 的单笔成交。
type UserTrade struct {
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	PositionSide    string `json:"positionSide"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	RealizedPnl     string `json:"realizedPnl"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Maker           bool   `json:"maker"`
	Buyer           bool   `json:"buyer"`
	Time            int64  `json:"time"`
}

// AssetBalance 对应 /fapi/v2/balance 的单个资产条目。
type AssetBalance struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

// SymbolFilter 是交易规则过滤器，类型不同时有效字段不同。
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	TickSize    string `json:"tickSize"`
	StepSize    string `json:"stepSize"`
	MinQty      string `json:"minQty"`
	MaxQty      string `json:"maxQty"`
	Notional    string `json:"notional"`
	MinNotional string `json:"minNotional"`
}

// SymbolInfo 对应 exchangeInfo 中单个交易对的交易规则。
type SymbolInfo struct {
	Symbol            string         `json:"symbol"`
	PricePrecision    int            `json:"pricePrecision"`
	QuantityPrecision int            `json:"quantityPrecision"`
	Filters           []SymbolFilter `json:"filters"`
}

// ExchangeInfo 对应 /fapi/v1/exchangeInfo。
type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}
