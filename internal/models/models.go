package models

import "fmt"

// Config 结构体定义了引擎的所有配置参数。
// 一次会话内只读，加载后不可变更。
type Config struct {
	IsTestnet     bool   `json:"is_testnet"` // 是否使用测试网
	DBPath        string `json:"db_path"`    // 会话状态数据库路径
	LiveAPIURL    string `json:"live_api_url"`
	LiveWSURL     string `json:"live_ws_url"`
	TestnetAPIURL string `json:"testnet_api_url"`
	TestnetWSURL  string `json:"testnet_ws_url"`
	Symbol        string `json:"symbol"` // 交易对，如 "BTCUSDT"

	// 资金与杠杆
	StartingBalance float64 `json:"starting_balance"` // 回测起始资金 (USDT)
	Leverage        float64 `json:"leverage"`         // 下单杠杆倍数
	MaxLeverage     float64 `json:"max_leverage"`     // 交易所最大杠杆（爆仓价计算用）

	// 网格策略参数
	QtyPct              float64 `json:"qty_pct"`               // 初始开仓占余额比例
	DdownFactor         float64 `json:"ddown_factor"`          // 补仓数量相对当前持仓的倍数
	GridSpacing         float64 `json:"grid_spacing"`          // 网格间距比例
	PosMarginGridCoeff  float64 `json:"pos_margin_grid_coeff"` // 仓位保证金对间距的放大系数
	VolatilityGridCoeff float64 `json:"volatility_grid_coeff"` // 波动率对间距的放大系数
	VolatilityQtyCoeff  float64 `json:"volatility_qty_coeff"`  // 波动率对数量的放大系数
	EmaSpan             int     `json:"ema_span"`              // EMA 周期（tick 数）
	EmaSpread           float64 `json:"ema_spread"`            // 初始入场相对 EMA 的偏移
	MinMarkup           float64 `json:"min_markup"`            // 止盈梯子的最小加价
	MarkupRange         float64 `json:"markup_range"`          // 止盈梯子的加价区间宽度
	NCloseOrders        int     `json:"n_close_orders"`        // 止盈订单数量上限
	StopLossLiqDiff     float64 `json:"stop_loss_liq_diff"`    // 触发止损的爆仓距离阈值
	StopLossPosPct      float64 `json:"stop_loss_pos_pct"`     // 单次止损削减的仓位比例
	EntryLiqDiffThr     float64 `json:"entry_liq_diff_thr"`    // 补仓后破产价距离下限
	EntryPriceDevLimit  float64 `json:"entry_price_dev_limit"` // 补仓价偏离现价的上限
	DoLong              bool    `json:"do_long"`               // 是否启用多头
	DoShrt              bool    `json:"do_shrt"`               // 是否启用空头

	// 交易所过滤器
	QtyStep   float64 `json:"qty_step"`   // 数量步长
	PriceStep float64 `json:"price_step"` // 价格步长
	MinQty    float64 `json:"min_qty"`    // 最小下单数量
	MinCost   float64 `json:"min_cost"`   // 最小名义价值 (USDT)

	// 费率
	MakerFee float64 `json:"maker_fee"` // 挂单手续费率
	TakerFee float64 `json:"taker_fee"` // 吃单手续费率

	// 回测引擎特定配置
	LatencySimulationMs int64 `json:"latency_simulation_ms"` // 模拟的交易所延迟（毫秒）

	// 实盘调度参数
	ReplanTimeoutSec  int    `json:"replan_timeout_sec"`  // 无触发时强制重挂的间隔
	FillCheckSec      int    `json:"fill_check_sec"`      // 成交对账的最小间隔
	PrintIntervalSec  int    `json:"print_interval_sec"`  // 状态打印间隔
	LockTimeoutSec    int    `json:"lock_timeout_sec"`    // 卡死锁强制释放的超时
	MaxCancelBatch    int    `json:"max_cancel_batch"`    // 单周期撤单数量上限
	MaxCreateBatch    int    `json:"max_create_batch"`    // 单周期下单数量上限
	CreateDelayMs     int    `json:"create_delay_ms"`     // 撤单与下单之间的固定延迟
	MetricsListenAddr string `json:"metrics_listen_addr"` // Prometheus 指标监听地址，空则关闭

	LogConfig LogConfig `json:"log"` // 日志配置

	BaseURL   string `json:"base_url"`    // REST API基础地址 (将由程序动态设置)
	WSBaseURL string `json:"ws_base_url"` // WebSocket基础地址 (将由程序动态设置)
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// Tick 是回测数据源的最小单元：一笔聚合成交。
// IsBuyerMaker 为 true 表示买方是挂单方，即这笔成交由卖方主动吃单。
type Tick struct {
	Price        float64 `json:"price"`
	IsBuyerMaker bool    `json:"is_buyer_maker"`
	Timestamp    int64   `json:"timestamp"` // 毫秒
}

// OrderSide 是订单的买卖方向。沿用成交日志中的短写。
type OrderSide string

// PositionSide 标记订单意图作用的持仓方向（对冲模式下多空独立）。
type PositionSide string

// OrderKind 是订单在梯子中的角色。
type OrderKind string

const (
	Buy OrderSide = "buy"
	Sel OrderSide = "sel"

	Long PositionSide = "long"
	Shrt PositionSide = "shrt"

	KindInitialLongEntry  OrderKind = "initial_long_entry"
	KindInitialShrtEntry  OrderKind = "initial_shrt_entry"
	KindLongReentry       OrderKind = "long_reentry"
	KindShrtReentry       OrderKind = "shrt_reentry"
	KindStopLossLongClose OrderKind = "stop_loss_long_close"
	KindStopLossShrtClose OrderKind = "stop_loss_shrt_close"
	KindStopLossLongEntry OrderKind = "stop_loss_long_entry"
	KindStopLossShrtEntry OrderKind = "stop_loss_shrt_entry"
	KindLongClose         OrderKind = "long_close"
	KindShrtClose         OrderKind = "shrt_close"
	KindLongLiquidation   OrderKind = "long_liquidation"
	KindShrtLiquidation   OrderKind = "shrt_liquidation"
)

// IsClose 报告该角色是否会缩减持仓。
func (k OrderKind) IsClose() bool {
	switch k {
	case KindLongClose, KindShrtClose, KindStopLossLongClose, KindStopLossShrtClose:
		return true
	}
	return false
}

// IsLiquidation 报告该角色是否为强制平仓。
func (k OrderKind) IsLiquidation() bool {
	return k == KindLongLiquidation || k == KindShrtLiquidation
}

// Order 代表梯子生成器产出的一张订单。
// Qty 带符号：买单为正，卖单为负；NewPsize/NewPprice 是假定该单成交后
// 对应方向的持仓快照，回测撮合与实盘对账都依赖它。
type Order struct {
	Side         OrderSide    `json:"side"`
	PositionSide PositionSide `json:"pside"`
	Qty          float64      `json:"qty"`
	Price        float64      `json:"price"`
	Kind         OrderKind    `json:"kind"`
	ReduceOnly   bool         `json:"reduce_only"`
	Tag          string       `json:"tag,omitempty"` // 对账标签（实盘 clientOrderId）
	OrderID      int64        `json:"order_id,omitempty"`
	NewPsize     float64      `json:"new_psize"`
	NewPprice    float64      `json:"new_pprice"`
}

// Fill 是一笔已实现成交的不可变记录，附带成交瞬间的完整账户快照。
// 字段顺序即序列化顺序，回测的逐字节可复现依赖于此。
type Fill struct {
	TradeID          int64        `json:"trade_id"` // 成交发生时的 tick 序号
	Timestamp        int64        `json:"timestamp"`
	Side             OrderSide    `json:"side"`
	PositionSide     PositionSide `json:"pside"`
	Kind             OrderKind    `json:"type"`
	Qty              float64      `json:"qty"`
	Price            float64      `json:"price"`
	PNL              float64      `json:"pnl"`
	FeePaid          float64      `json:"fee_paid"` // 负数表示支出
	LongPsize        float64      `json:"long_psize"`
	LongPprice       float64      `json:"long_pprice"`
	ShrtPsize        float64      `json:"shrt_psize"`
	ShrtPprice       float64      `json:"shrt_pprice"`
	LiqPrice         float64      `json:"liq_price"`
	LiqDiff          float64      `json:"liq_diff"`
	Balance          float64      `json:"balance"`
	Equity           float64      `json:"equity"`
	AvailableMargin  float64      `json:"available_margin"`
	Gain             float64      `json:"gain"`
	NDays            float64      `json:"n_days"`
	ClosestLiq       float64      `json:"closest_liq"`
	AverageDailyGain float64      `json:"average_daily_gain"`
}

// BalanceSample 是周期性记录的余额/权益采样点。
type BalanceSample struct {
	Timestamp int64   `json:"timestamp"`
	Balance   float64 `json:"balance"`
	Equity    float64 `json:"equity"`
}

// PositionState 汇总对冲模式下两个方向的持仓。
// 不变量：psize 与 pprice 要么同时为零，要么同时非零。
type PositionState struct {
	LongPsize  float64 `json:"long_psize"`
	LongPprice float64 `json:"long_pprice"`
	ShrtPsize  float64 `json:"shrt_psize"` // 空头持仓为负数
	ShrtPprice float64 `json:"shrt_pprice"`
	LiqPrice   float64 `json:"liq_price"`
}

// BalanceState 汇总账户资金状态。
type BalanceState struct {
	Balance         float64 `json:"balance"` // 钱包余额（已实现）
	Equity          float64 `json:"equity"`  // 余额 + 两侧未实现盈亏
	AvailableMargin float64 `json:"available_margin"`
}

// SessionState 是实盘会话需要持久化的全部关键数据。
type SessionState struct {
	SessionID     string        `json:"session_id"` // 会话 UUID
	Symbol        string        `json:"symbol"`
	Position      PositionState `json:"position"`
	Balance       BalanceState  `json:"balance"`
	RestingOrders []Order       `json:"resting_orders"`
	LastFillID    int64         `json:"last_fill_id"` // 成交对账游标
	OrderSeq      int64         `json:"order_seq"`    // 对账标签计数器
	UpdatedAtMs   int64         `json:"updated_at_ms"`
}

// Error 定义了交易所API返回的错误信息结构
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Error 方法使得 Error 实现了 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.Code, e.Msg)
}
