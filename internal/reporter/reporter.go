// Package reporter 汇总回放结果并输出性能报告。
package reporter

import (
	"io"
	"math"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"binance-perp-grid-go/internal/backtest"
	"binance-perp-grid-go/internal/models"
)

// Metrics 存储计算出的所有回测性能指标
type Metrics struct {
	InitialBalance   float64
	FinalBalance     float64
	FinalEquity      float64
	TotalProfit      float64
	ProfitPercentage float64
	AverageDailyGain float64
	TotalFills       int
	WinningCloses    int
	LosingCloses     int
	WinRate          float64
	TotalFeesPaid    float64
	MaxDrawdown      float64
	ClosestLiq       float64
	NDays            float64
	Finished         bool
	StartTime        time.Time
	EndTime          time.Time
}

// CalculateMetrics 从回放结果提取性能指标。
func CalculateMetrics(cfg *models.Config, res *backtest.Result) *Metrics {
	m := &Metrics{
		InitialBalance: cfg.StartingBalance,
		FinalBalance:   cfg.StartingBalance,
		FinalEquity:    cfg.StartingBalance,
		ClosestLiq:     1.0,
		Finished:       res.Finished,
	}

	for _, fill := range res.Fills {
		m.TotalFeesPaid += -fill.FeePaid
		if fill.Kind.IsClose() || fill.Kind.IsLiquidation() {
			if fill.PNL > 0 {
				m.WinningCloses++
			} else {
				m.LosingCloses++
			}
		}
	}
	m.TotalFills = len(res.Fills)

	if n := len(res.Fills); n > 0 {
		last := res.Fills[n-1]
		m.FinalBalance = last.Balance
		m.FinalEquity = last.Equity
		m.AverageDailyGain = last.AverageDailyGain
		m.ClosestLiq = last.ClosestLiq
		m.NDays = last.NDays
	}

	m.TotalProfit = m.FinalBalance - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = m.TotalProfit / m.InitialBalance * 100
	}
	if closes := m.WinningCloses + m.LosingCloses; closes > 0 {
		m.WinRate = float64(m.WinningCloses) / float64(closes) * 100
	}

	equityCurve := make([]float64, 0, len(res.Stats))
	for _, s := range res.Stats {
		equityCurve = append(equityCurve, s.Equity)
	}
	m.MaxDrawdown = calculateMaxDrawdown(equityCurve) * 100

	if len(res.Stats) > 0 {
		m.StartTime = time.UnixMilli(res.Stats[0].Timestamp)
		m.EndTime = time.UnixMilli(res.Stats[len(res.Stats)-1].Timestamp)
	}

	return m
}

// WriteReport 将指标渲染为表格写入 w。
func WriteReport(w io.Writer, cfg *models.Config, m *Metrics) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("回测结果报告: %s", cfg.Symbol)

	t.AppendRows([]table.Row{
		{"回测周期", m.StartTime.Format("2006-01-02 15:04") + " 到 " + m.EndTime.Format("2006-01-02 15:04")},
		{"模拟天数", formatFloat(m.NDays, 2)},
		{"完整跑完", m.Finished},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"初始资金 (USDT)", formatFloat(m.InitialBalance, 2)},
		{"最终资金 (USDT)", formatFloat(m.FinalBalance, 2)},
		{"最终权益 (USDT)", formatFloat(m.FinalEquity, 2)},
		{"总利润 (USDT)", formatFloat(m.TotalProfit, 2)},
		{"收益率 (%)", formatFloat(m.ProfitPercentage, 2)},
		{"平均日增益", formatFloat(m.AverageDailyGain, 6)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"总成交次数", m.TotalFills},
		{"盈利平仓", m.WinningCloses},
		{"亏损平仓", m.LosingCloses},
		{"胜率 (%)", formatFloat(m.WinRate, 2)},
		{"手续费合计 (USDT)", formatFloat(m.TotalFeesPaid, 4)},
		{"最大回撤 (%)", formatFloat(m.MaxDrawdown, 2)},
		{"最近爆仓距离", formatFloat(m.ClosestLiq, 4)},
	})

	t.Render()
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

func formatFloat(v float64, prec int) float64 {
	scale := math.Pow10(prec)
	return math.Round(v*scale) / scale
}
