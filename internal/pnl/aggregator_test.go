package pnl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flatguard/flatguard/internal/clock"
	"github.com/flatguard/flatguard/internal/events"
	"github.com/flatguard/flatguard/internal/persistence/memory"
)

var testTicks = map[string]TickEconomics{
	"ES": {TickSize: 0.25, TickValue: 12.50},
	"CL": {TickSize: 0.01, TickValue: 10.00},
}

// testBoundary mirrors the default 17:00 daily reset.
const testBoundary = 17 * time.Hour

func newTestAggregator(t *testing.T) (*Aggregator, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC))
	return NewAggregator(testTicks, memory.NewDailyPnLRepo(), clk, time.UTC, testBoundary), clk
}

func TestAggregator_Unrealized_LongAndShort(t *testing.T) {
	a, _ := newTestAggregator(t)

	// ES long 2 contracts, entry 5000.00, now 5001.25: ten ticks in favor at
	// $12.50 each, doubled for size.
	got, err := a.Unrealized("ES", 5000.00, 2, events.SideLong, 5001.25)
	require.NoError(t, err)
	assert.InDelta(t, 125.00, got, 1e-9)

	// Same move against a short position.
	got, err = a.Unrealized("ES", 5000.00, 2, events.SideShort, 5001.25)
	require.NoError(t, err)
	assert.InDelta(t, -125.00, got, 1e-9)

	// Adverse move on a long shows as a loss.
	got, err = a.Unrealized("CL", 70.00, 1, events.SideLong, 69.50)
	require.NoError(t, err)
	assert.InDelta(t, -500.00, got, 1e-9)
}

func TestAggregator_Unrealized_UnknownInstrument(t *testing.T) {
	a, _ := newTestAggregator(t)

	_, err := a.Unrealized("ZB", 110.00, 1, events.SideLong, 111.00)
	assert.ErrorIs(t, err, ErrUnknownInstrument)
}

func TestAggregator_RecordRealized_Accumulates(t *testing.T) {
	a, _ := newTestAggregator(t)
	ctx := context.Background()

	total, err := a.RecordRealized(ctx, "ACC-1", 250)
	require.NoError(t, err)
	assert.Equal(t, 250.0, total)

	total, err = a.RecordRealized(ctx, "ACC-1", -400)
	require.NoError(t, err)
	assert.Equal(t, -150.0, total)

	assert.Equal(t, -150.0, a.Realized("ACC-1"))
	assert.Equal(t, 0.0, a.Realized("ACC-2"), "untracked accounts read as flat")
}

func TestAggregator_LoadRestoresDayTotals(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC))
	repo := memory.NewDailyPnLRepo()
	ctx := context.Background()

	first := NewAggregator(testTicks, repo, clk, time.UTC, testBoundary)
	_, err := first.RecordRealized(ctx, "ACC-1", -875.50)
	require.NoError(t, err)

	second := NewAggregator(testTicks, repo, clk, time.UTC, testBoundary)
	require.NoError(t, second.Load(ctx))
	assert.Equal(t, -875.50, second.Realized("ACC-1"))
}

func TestAggregator_LoadSkipsOtherDays(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC))
	repo := memory.NewDailyPnLRepo()
	ctx := context.Background()

	first := NewAggregator(testTicks, repo, clk, time.UTC, testBoundary)
	_, err := first.RecordRealized(ctx, "ACC-1", -500)
	require.NoError(t, err)

	// Next trading day: yesterday's loss does not carry over.
	clk.Advance(24 * time.Hour)
	second := NewAggregator(testTicks, repo, clk, time.UTC, testBoundary)
	require.NoError(t, second.Load(ctx))
	assert.Equal(t, 0.0, second.Realized("ACC-1"))
}

func TestAggregator_ResetDaily(t *testing.T) {
	a, _ := newTestAggregator(t)
	ctx := context.Background()

	_, err := a.RecordRealized(ctx, "ACC-1", 300)
	require.NoError(t, err)
	require.NoError(t, a.ResetDaily(ctx, "ACC-1"))

	assert.Equal(t, 0.0, a.Realized("ACC-1"))

	// Accumulation continues cleanly after a reset.
	total, err := a.RecordRealized(ctx, "ACC-1", 100)
	require.NoError(t, err)
	assert.Equal(t, 100.0, total)
}

func TestAggregator_DayBoundaryUsesConfiguredLocation(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	// 02:00 UTC on June 3 is still June 2 in Chicago.
	clk := clock.NewFake(time.Date(2025, 6, 3, 2, 0, 0, 0, time.UTC))
	repo := memory.NewDailyPnLRepo()
	a := NewAggregator(testTicks, repo, clk, chicago, testBoundary)
	ctx := context.Background()

	_, err = a.RecordRealized(ctx, "ACC-1", 50)
	require.NoError(t, err)

	rows, err := repo.ListByDay(ctx, "2025-06-02")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 50.0, rows[0].Realized)
}

func TestAggregator_TradingDaySpansMidnight(t *testing.T) {
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	clk := clock.NewFake(time.Date(2025, 6, 2, 23, 50, 0, 0, chicago))
	repo := memory.NewDailyPnLRepo()
	a := NewAggregator(testTicks, repo, clk, chicago, testBoundary)
	ctx := context.Background()

	_, err = a.RecordRealized(ctx, "ACC-1", -4000)
	require.NoError(t, err)

	// Past midnight but before the 17:00 reset: still the same trading day.
	clk.Advance(20 * time.Minute)
	total, err := a.RecordRealized(ctx, "ACC-1", -100)
	require.NoError(t, err)
	assert.Equal(t, -4100.0, total)
	assert.Equal(t, -4100.0, a.Realized("ACC-1"))

	rows, err := repo.ListByDay(ctx, "2025-06-02")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, -4100.0, rows[0].Realized)
}
