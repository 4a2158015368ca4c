// Package indicator 维护逐笔价格的 EMA 与滚动波动率。
// 回测与实盘喂入同一条 tick 流，增量路径与分块批量路径
// 在 1e-10 精度内产出一致结果。
package indicator

import (
	"math"

	"binance-perp-grid-go/internal/models"
	"binance-perp-grid-go/internal/numerics"
)

// Stream 对逐笔价格做指数平滑与滚动标准差。
// 环形缓冲区容量等于 ema_span，标准差在窗口内用
// 增量平方和计算，避免每笔全量重扫。非并发安全。
type Stream struct {
	span  int
	alpha float64

	buf  []float64
	head int
	n    int

	sum   float64 // 窗口内价格和
	sumSq float64 // 窗口内价格平方和

	ema    float64
	seeded bool

	// 连续去重：相同价格且同一主动方的连续成交只计一次
	lastPrice float64
	lastMaker bool
	hasLast   bool

	samples int64
}

// NewStream 构造 span 期的指标流。span 必须为正。
func NewStream(span int) *Stream {
	return &Stream{
		span:  span,
		alpha: numerics.Alpha(span),
		buf:   make([]float64, span),
	}
}

// Update 喂入一笔成交。重复的连续成交被丢弃，返回 false。
func (s *Stream) Update(t models.Tick) bool {
	if s.hasLast && t.Price == s.lastPrice && t.IsBuyerMaker == s.lastMaker {
		return false
	}
	s.lastPrice, s.lastMaker, s.hasLast = t.Price, t.IsBuyerMaker, true

	if !s.seeded {
		s.ema = t.Price
		s.seeded = true
	} else {
		s.ema = numerics.EMA(s.alpha, s.ema, t.Price)
	}

	if s.n == s.span {
		old := s.buf[s.head]
		s.sum -= old
		s.sumSq -= old * old
	} else {
		s.n++
	}
	s.buf[s.head] = t.Price
	s.head = (s.head + 1) % s.span
	s.sum += t.Price
	s.sumSq += t.Price * t.Price
	s.samples++
	return true
}

// UpdateBatch 按块喂入一段 tick，与逐笔 Update 等价。
// 块大小只是调用粒度，不改变数值路径。
func (s *Stream) UpdateBatch(ticks []models.Tick, chunkSize int) {
	if chunkSize <= 0 {
		chunkSize = len(ticks)
	}
	for lo := 0; lo < len(ticks); lo += chunkSize {
		hi := lo + chunkSize
		if hi > len(ticks) {
			hi = len(ticks)
		}
		for _, t := range ticks[lo:hi] {
			s.Update(t)
		}
	}
}

// EMA 返回当前指数均价。尚未喂入任何成交时为 0。
func (s *Stream) EMA() float64 {
	return s.ema
}

// Stdev 返回窗口内价格标准差。浮点抵消可能产生微小负方差，夹到 0。
func (s *Stream) Stdev() float64 {
	if s.n == 0 {
		return 0
	}
	n := float64(s.n)
	mean := s.sum / n
	variance := s.sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Volatility 返回标准差对 EMA 的归一化值。EMA 为 0 时返回 0。
func (s *Stream) Volatility() float64 {
	if s.ema == 0 {
		return 0
	}
	return s.Stdev() / s.ema
}

// Samples 返回去重后实际进入窗口的样本数。
func (s *Stream) Samples() int64 {
	return s.samples
}

// Warm 报告窗口是否已被填满，未热身前波动率不可信。
func (s *Stream) Warm() bool {
	return s.n == s.span
}
