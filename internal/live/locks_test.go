package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// TestOpLockTryAcquire verifies the basic acquire/release cycle: a held
// lock rejects further acquires without blocking, and becomes available
// again after release.
func TestOpLockTryAcquire(t *testing.T) {
	l := &opLock{name: OpDecide}

	assert.True(t, l.TryAcquire(1000))
	assert.False(t, l.TryAcquire(1001), "held lock must reject a second acquire")

	l.Release(1002)
	assert.True(t, l.TryAcquire(1003))
}

// TestOpLockSameMillisecondReacquire verifies that a release and a fresh
// acquire landing in the same millisecond still leave the lock held: the
// stored acquire stamp must advance past the release stamp so a second
// caller in the same window is rejected.
func TestOpLockSameMillisecondReacquire(t *testing.T) {
	l := &opLock{name: OpCheckFills}

	assert.True(t, l.TryAcquire(1000))
	l.Release(1000)

	assert.True(t, l.TryAcquire(1000), "freed lock must be reusable in the same millisecond")
	assert.False(t, l.TryAcquire(1000), "second acquire in the same millisecond must fail")
	assert.False(t, l.TryAcquire(1001), "lock stays held at later timestamps")

	// releasing with the same wall clock must actually free the lock
	l.Release(1000)
	assert.True(t, l.TryAcquire(1000))
	assert.False(t, l.TryAcquire(1002))
}

// TestOpLockHeldFor verifies the held-duration readout used by the sweeper.
func TestOpLockHeldFor(t *testing.T) {
	l := &opLock{name: OpCheckFills}
	assert.Equal(t, time.Duration(0), l.HeldFor(5000), "idle lock reports zero")

	l.TryAcquire(1000)
	assert.Equal(t, 4*time.Second, l.HeldFor(5000))

	l.Release(5000)
	assert.Equal(t, time.Duration(0), l.HeldFor(9000))
}

// TestLockSetSweep verifies that the sweeper force-releases locks held
// past the timeout but leaves recently acquired ones alone.
func TestLockSetSweep(t *testing.T) {
	ls := newLockSet(zap.NewNop())

	assert.True(t, ls.TryAcquire(OpDecide, 1000))
	assert.True(t, ls.TryAcquire(OpCheckFills, 290_000))

	ls.Sweep(300_000, 5*time.Minute)

	// decide was held for 299s < 300s: untouched, still busy
	assert.False(t, ls.locks[OpDecide].TryAcquire(300_001))

	ls.Sweep(302_000, 5*time.Minute)

	// now past the timeout: force released and reusable
	assert.True(t, ls.TryAcquire(OpDecide, 302_001))
	// check_fills was only held for 12s: never swept
	assert.False(t, ls.locks[OpCheckFills].TryAcquire(302_002))
}

// TestLockSetIndependentOps verifies that each operation has its own lock.
func TestLockSetIndependentOps(t *testing.T) {
	ls := newLockSet(zap.NewNop())

	assert.True(t, ls.TryAcquire(OpCancelOrders, 100))
	assert.True(t, ls.TryAcquire(OpCreateOrders, 101), "other ops stay available")
	assert.False(t, ls.TryAcquire(OpCancelOrders, 102))

	ls.Release(OpCancelOrders, 103)
	assert.True(t, ls.TryAcquire(OpCancelOrders, 104))
}
