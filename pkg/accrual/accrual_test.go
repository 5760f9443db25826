package accrual

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAdvance_Uninitialized(t *testing.T) {
	step := Advance(Uninitialized(), t0, 1, dec("100"), decimal.Zero)
	require.Equal(t, KindInitialize, step.Kind)
	require.Equal(t, int64(0), step.Whole)
}

func TestAdvance_OneUnitAfter36Seconds(t *testing.T) {
	step := Advance(ActiveSince(t0), t0.Add(36*time.Second), 1, dec("100"), decimal.Zero)
	require.Equal(t, KindAccrue, step.Kind)
	require.True(t, step.Exact.Equal(dec("1")), "exact=%s", step.Exact)
	require.Equal(t, int64(1), step.Whole)
	require.True(t, step.Fraction(1).IsZero())
}

func TestAdvance_SpeedMultiplier(t *testing.T) {
	// 18 秒 * 2 倍速 = 36 秒游戏时间
	step := Advance(ActiveSince(t0), t0.Add(18*time.Second), 2, dec("100"), decimal.Zero)
	require.Equal(t, int64(1), step.Whole)
}

func TestAdvance_BufferCarries(t *testing.T) {
	// 18 秒 @100/h = 0.5
	first := Advance(ActiveSince(t0), t0.Add(18*time.Second), 1, dec("100"), decimal.Zero)
	require.Equal(t, int64(0), first.Whole)
	require.True(t, first.Exact.Equal(dec("0.5")))

	second := Advance(ActiveSince(t0.Add(18*time.Second)), t0.Add(36*time.Second), 1, dec("100"), first.Exact)
	require.Equal(t, int64(1), second.Whole)
	require.True(t, second.Fraction(1).IsZero())
}

func TestAdvance_SameNowIsStale(t *testing.T) {
	buf := dec("0.25")
	step := Advance(ActiveSince(t0), t0, 1, dec("100"), buf)
	require.Equal(t, KindStale, step.Kind)
	require.Equal(t, int64(0), step.Whole)
	require.True(t, step.Exact.Equal(buf))

	// 时钟回拨同样不产出
	step = Advance(ActiveSince(t0), t0.Add(-time.Minute), 1, dec("100"), buf)
	assert.Equal(t, KindStale, step.Kind)
}

func TestAdvance_ManySmallTicksMatchOneLargeTick(t *testing.T) {
	// 36/h = 0.01/s，每秒都是精确小数
	rate := dec("36")
	buffer := decimal.Zero
	var produced int64
	since := t0
	for i := 1; i <= 3600; i++ {
		now := t0.Add(time.Duration(i) * time.Second)
		step := Advance(ActiveSince(since), now, 1, rate, buffer)
		produced += step.Whole
		buffer = step.Fraction(step.Whole)
		since = now
	}
	require.Equal(t, int64(36), produced)
	require.True(t, buffer.IsZero())
}

func TestFromColumn(t *testing.T) {
	_, ok := FromColumn(nil).Since()
	require.False(t, ok)

	ts := t0
	since, ok := FromColumn(&ts).Since()
	require.True(t, ok)
	require.Equal(t, t0, since)
}

func TestNormalize(t *testing.T) {
	in := time.Date(2025, 1, 1, 8, 0, 0, 123456789, time.FixedZone("X", 8*3600))
	out := Normalize(in)
	require.Equal(t, time.UTC, out.Location())
	require.Equal(t, 123456000, out.Nanosecond())
}
