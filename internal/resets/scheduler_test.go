package resets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flatguard/flatguard/internal/clock"
)

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return loc
}

func TestNew_RejectsMalformedInput(t *testing.T) {
	clk := clock.NewFake(time.Now())

	_, err := New("25:00", "America/Chicago", clk)
	assert.Error(t, err)

	_, err = New("17:00", "America/Nowhere", clk)
	assert.Error(t, err)

	_, err = New("17:00", "America/Chicago", clk)
	assert.NoError(t, err)
}

func TestScheduler_FiresOnceAtBoundary(t *testing.T) {
	loc := chicago(t)
	clk := clock.NewFake(time.Date(2025, 6, 2, 16, 59, 0, 0, loc))
	s, err := New("17:00", "America/Chicago", clk)
	require.NoError(t, err)

	fired := 0
	s.Register("count", func(context.Context) error { fired++; return nil })
	ctx := context.Background()

	s.Tick(ctx)
	assert.Equal(t, 0, fired, "must not fire before the boundary")

	clk.Advance(time.Minute)
	s.Tick(ctx)
	assert.Equal(t, 1, fired)

	// Repeated ticks on the same day stay idempotent.
	clk.Advance(time.Hour)
	s.Tick(ctx)
	s.Tick(ctx)
	assert.Equal(t, 1, fired)

	// The next calendar day fires again.
	clk.Advance(24 * time.Hour)
	s.Tick(ctx)
	assert.Equal(t, 2, fired)
}

func TestScheduler_ActionsRunInOrderAndFailuresIsolate(t *testing.T) {
	loc := chicago(t)
	clk := clock.NewFake(time.Date(2025, 6, 2, 17, 0, 1, 0, loc))
	s, err := New("17:00", "America/Chicago", clk)
	require.NoError(t, err)

	var order []string
	s.Register("first", func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	s.Register("broken", func(context.Context) error {
		order = append(order, "broken")
		return errors.New("db unavailable")
	})
	s.Register("last", func(context.Context) error {
		order = append(order, "last")
		return nil
	})

	s.Tick(context.Background())
	assert.Equal(t, []string{"first", "broken", "last"}, order,
		"a failing action must not stop the ones after it")
}

func TestScheduler_NextFire(t *testing.T) {
	loc := chicago(t)
	clk := clock.NewFake(time.Date(2025, 6, 2, 12, 0, 0, 0, loc))
	s, err := New("17:00", "America/Chicago", clk)
	require.NoError(t, err)

	// Before today's boundary: today at 17:00.
	next := s.NextFire(clk.Now())
	assert.Equal(t, time.Date(2025, 6, 2, 17, 0, 0, 0, loc), next)

	// At or after the boundary: tomorrow.
	next = s.NextFire(time.Date(2025, 6, 2, 17, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2025, 6, 3, 17, 0, 0, 0, loc), next)
}

func TestScheduler_DSTSpringForwardKeepsLocalBoundary(t *testing.T) {
	// US DST starts 2025-03-09: 02:00 CST jumps to 03:00 CDT. The boundary
	// must stay at 17:00 local on both sides, even though the UTC offset moved.
	loc := chicago(t)
	clk := clock.NewFake(time.Date(2025, 3, 8, 12, 0, 0, 0, loc))
	s, err := New("17:00", "America/Chicago", clk)
	require.NoError(t, err)

	beforeShift := s.NextFire(clk.Now())
	assert.Equal(t, time.Date(2025, 3, 8, 17, 0, 0, 0, loc), beforeShift)
	assert.Equal(t, "CST", beforeShift.Format("MST"))

	afterShift := s.NextFire(time.Date(2025, 3, 9, 10, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2025, 3, 9, 17, 0, 0, 0, loc), afterShift)
	assert.Equal(t, "CDT", afterShift.Format("MST"))

	// Local wall-clock gap is 24h minus the skipped hour.
	assert.Equal(t, 23*time.Hour, afterShift.Sub(beforeShift))
}

func TestScheduler_FiresAcrossDSTTransition(t *testing.T) {
	loc := chicago(t)
	clk := clock.NewFake(time.Date(2025, 3, 8, 17, 0, 1, 0, loc))
	s, err := New("17:00", "America/Chicago", clk)
	require.NoError(t, err)

	fired := 0
	s.Register("count", func(context.Context) error { fired++; return nil })
	ctx := context.Background()

	s.Tick(ctx)
	require.Equal(t, 1, fired)

	// 23 elapsed hours later it is 17:00:01 local on March 9 (DST day).
	clk.Advance(23 * time.Hour)
	assert.Equal(t, 17, clk.Now().In(loc).Hour())
	s.Tick(ctx)
	assert.Equal(t, 2, fired)
}
