package numerics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundToStepHalfAwayFromZero(t *testing.T) {
	assert.InDelta(t, 0.1235, RoundToStep(0.12345, 0.0001), 1e-12)
	assert.InDelta(t, -0.1235, RoundToStep(-0.12345, 0.0001), 1e-12)
	assert.InDelta(t, 100.0, RoundToStep(99.995, 0.01), 1e-12)
}

func TestRoundToStepIdempotent(t *testing.T) {
	steps := []float64{0.001, 0.01, 0.5, 1}
	values := []float64{0.1234567, 99.995, 1234.56789, 0.0001}
	for _, step := range steps {
		for _, v := range values {
			once := RoundToStep(v, step)
			assert.Equal(t, once, RoundToStep(once, step),
				"rounding must be idempotent for v=%v step=%v", v, step)
		}
	}
}

func TestRoundToStepCleanDecimals(t *testing.T) {
	// 0.1+0.2 style artifacts must not survive the clamp to 10 fractional digits
	got := RoundToStep(0.30000000000000004, 0.1)
	assert.Equal(t, 0.3, got)
}

func TestRoundUpDn(t *testing.T) {
	assert.InDelta(t, 0.051, RoundUp(0.0501, 0.001), 1e-12)
	assert.InDelta(t, 0.05, RoundDn(0.0509, 0.001), 1e-12)
	// exact multiples stay put in both directions
	assert.InDelta(t, 0.05, RoundUp(0.05, 0.001), 1e-12)
	assert.InDelta(t, 0.05, RoundDn(0.05, 0.001), 1e-12)
}

func TestZeroStepPassesThrough(t *testing.T) {
	assert.Equal(t, 1.23, RoundToStep(1.23, 0))
	assert.Equal(t, 1.23, RoundUp(1.23, 0))
	assert.Equal(t, 1.23, RoundDn(1.23, 0))
}

func TestDiff(t *testing.T) {
	assert.Equal(t, 0.05, Diff(95, 100))
	assert.Equal(t, 0.05, Diff(105, 100))
	// pinned sentinel values for a zero reference
	assert.Equal(t, 0.0, Diff(0, 0))
	assert.Equal(t, 1.0, Diff(42, 0))
}

func TestEMA(t *testing.T) {
	alpha := Alpha(9)
	assert.InDelta(t, 0.2, alpha, 1e-12)

	// a constant input is a fixed point
	ema := 100.0
	for i := 0; i < 50; i++ {
		ema = EMA(alpha, ema, 100.0)
	}
	assert.Equal(t, 100.0, ema)

	// converges toward a new level from either side
	ema = 100.0
	for i := 0; i < 200; i++ {
		ema = EMA(alpha, ema, 110.0)
	}
	assert.InDelta(t, 110.0, ema, 1e-9)
}
