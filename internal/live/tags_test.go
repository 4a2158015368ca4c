package live

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binance-perp-grid-go/internal/models"
)

// TestTagRoundTrip verifies that every order kind survives an
// encode/decode cycle with its sequence number intact.
func TestTagRoundTrip(t *testing.T) {
	codec := NewTagCodec("550e8400-e29b-41d4-a716-446655440000")

	for kind := range kindCodes {
		tag := codec.Encode(kind, 12345)
		gotKind, gotSeq, ok := codec.Decode(tag)
		require.True(t, ok, "tag %q must decode", tag)
		assert.Equal(t, kind, gotKind)
		assert.Equal(t, int64(12345), gotSeq)
	}
}

// TestTagLength verifies tags stay within the exchange's 36 character
// clientOrderId limit even for large sequence numbers.
func TestTagLength(t *testing.T) {
	codec := NewTagCodec("550e8400-e29b-41d4-a716-446655440000")
	tag := codec.Encode(models.KindStopLossShrtClose, 1<<60)
	assert.LessOrEqual(t, len(tag), 36)
}

// TestTagOwnership verifies that foreign clientOrderIds are neither
// owned nor decodable, so reconciliation leaves them untouched.
func TestTagOwnership(t *testing.T) {
	codec := NewTagCodec("session-a")

	assert.True(t, codec.Owns(codec.Encode(models.KindLongClose, 7)))
	assert.False(t, codec.Owns("web_abc123"))
	assert.False(t, codec.Owns(""))

	_, _, ok := codec.Decode("web_abc123")
	assert.False(t, ok)
	_, _, ok = codec.Decode("pg")
	assert.False(t, ok)
	_, _, ok = codec.Decode("pgXXXX_zz_1")
	assert.False(t, ok, "unknown kind code must not decode")
}

// TestTagCrossSession verifies that tags from another session are still
// recognized as engine-owned and decode cleanly: after a restart with a
// fresh session id, stale resting orders must still be manageable.
func TestTagCrossSession(t *testing.T) {
	a := NewTagCodec("session-a")
	b := NewTagCodec("session-b")

	tag := a.Encode(models.KindLongReentry, 42)
	assert.True(t, b.Owns(tag))

	kind, seq, ok := b.Decode(tag)
	require.True(t, ok)
	assert.Equal(t, models.KindLongReentry, kind)
	assert.Equal(t, int64(42), seq)
}
