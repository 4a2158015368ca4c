package live

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"binance-perp-grid-go/internal/metrics"
)

// 控制回路的操作名。每个操作持有独立的非阻塞锁，
// 拿不到锁的调用直接放弃，绝不排队。
const (
	OpDecide           = "decide"
	OpUpdatePosition   = "update_position"
	OpUpdateOpenOrders = "update_open_orders"
	OpCreateOrders     = "create_orders"
	OpCancelOrders     = "cancel_orders"
	OpCheckFills       = "check_fills"
)

// opLock 是一把基于时间戳对的非阻塞锁：
// lockedTs > releasedTs 表示锁被占用。两个时间戳都只会前进。
type opLock struct {
	name       string
	lockedTs   atomic.Int64
	releasedTs atomic.Int64
}

// TryAcquire 尝试拿锁。锁被占用时返回 false，不等待。
// 写入的时间戳必须严格大于 releasedTs，否则同一毫秒内
// 释放后再次拿锁会被持有判断误读为空闲。
func (l *opLock) TryAcquire(nowMs int64) bool {
	locked := l.lockedTs.Load()
	released := l.releasedTs.Load()
	if locked > released {
		return false
	}
	ts := nowMs
	if ts <= released {
		ts = released + 1
	}
	// CAS 失败说明被并发抢走，同样视为占用
	return l.lockedTs.CompareAndSwap(locked, ts)
}

// Release 释放锁。释放时间戳不能落后于加锁时间戳，
// 否则锁会停留在持有状态。
func (l *opLock) Release(nowMs int64) {
	ts := nowMs
	if locked := l.lockedTs.Load(); ts < locked {
		ts = locked
	}
	l.releasedTs.Store(ts)
}

// HeldFor 返回锁已被持有的时长，未被持有时为 0。
func (l *opLock) HeldFor(nowMs int64) time.Duration {
	locked := l.lockedTs.Load()
	if locked <= l.releasedTs.Load() {
		return 0
	}
	return time.Duration(nowMs-locked) * time.Millisecond
}

// lockSet 管理全部操作锁并负责卡死锁的清扫。
type lockSet struct {
	locks  map[string]*opLock
	logger *zap.Logger
}

func newLockSet(logger *zap.Logger) *lockSet {
	ls := &lockSet{locks: map[string]*opLock{}, logger: logger}
	for _, name := range []string{
		OpDecide, OpUpdatePosition, OpUpdateOpenOrders,
		OpCreateOrders, OpCancelOrders, OpCheckFills,
	} {
		ls.locks[name] = &opLock{name: name}
	}
	return ls
}

// TryAcquire 尝试拿指定操作的锁，失败时记一次竞争指标。
func (ls *lockSet) TryAcquire(op string, nowMs int64) bool {
	if ls.locks[op].TryAcquire(nowMs) {
		return true
	}
	metrics.LockContention.WithLabelValues(op).Inc()
	return false
}

// Release 释放指定操作的锁。
func (ls *lockSet) Release(op string, nowMs int64) {
	ls.locks[op].Release(nowMs)
}

// Sweep 强制释放持有时间超过 timeout 的锁。
// 通常意味着某次操作异常中断没走到释放路径。
func (ls *lockSet) Sweep(nowMs int64, timeout time.Duration) {
	for _, l := range ls.locks {
		if held := l.HeldFor(nowMs); held > timeout {
			l.Release(nowMs)
			metrics.LockForceReleases.Inc()
			ls.logger.Warn("强制释放卡死的操作锁",
				zap.String("op", l.name), zap.Duration("held", held))
		}
	}
}
