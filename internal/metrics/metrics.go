// Package metrics 暴露实盘控制回路的 Prometheus 指标。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	Balance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_balance_usdt",
		Help: "钱包余额 (USDT)",
	})
	Equity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_equity_usdt",
		Help: "余额加未实现盈亏 (USDT)",
	})
	LiqDiff = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_liq_diff",
		Help: "爆仓价与现价的相对距离",
	})
	LongPsize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_long_psize",
		Help: "多头持仓数量",
	})
	ShrtPsize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_shrt_psize",
		Help: "空头持仓数量（负数）",
	})
	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_open_orders",
		Help: "当前挂单数量",
	})
	FillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grid_fills_total",
		Help: "对账确认的成交总数",
	})
	ReplansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grid_replans_total",
		Help: "梯子重挂总次数",
	})
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grid_orders_created_total",
		Help: "成功提交的订单总数",
	})
	OrdersCanceled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grid_orders_canceled_total",
		Help: "成功撤销的订单总数",
	})
	LockContention = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_lock_contention_total",
		Help: "因锁被占用而放弃的操作次数",
	}, []string{"op"})
	LockForceReleases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grid_lock_force_releases_total",
		Help: "卡死锁被强制释放的次数",
	})
)

// Serve 在 addr 上启动 /metrics 端点。addr 为空则不启动。
// 监听失败只记日志，不影响交易回路。
func Serve(addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		logger.Info("指标端点已启动", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("指标端点退出", zap.Error(err))
		}
	}()
}
