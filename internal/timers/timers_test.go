package timers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flatguard/flatguard/internal/clock"
)

func TestService_StartAndExpire(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	s := NewService(clk)

	fired := 0
	s.Start("cooldown:ACC-1", 5*time.Minute, func() { fired++ })

	rem, ok := s.Remaining("cooldown:ACC-1")
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, rem)
	assert.Equal(t, 1, s.Active())

	clk.Advance(4 * time.Minute)
	s.Tick()
	assert.Equal(t, 0, fired, "timer must not fire before its deadline")

	clk.Advance(time.Minute)
	s.Tick()
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, s.Active())

	_, ok = s.Remaining("cooldown:ACC-1")
	assert.False(t, ok, "expired timer is removed from the table")
}

func TestService_StartReplacesExistingName(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	s := NewService(clk)

	var firstFired, secondFired bool
	s.Start("grace:ACC-1:ES", time.Minute, func() { firstFired = true })
	s.Start("grace:ACC-1:ES", 10*time.Minute, func() { secondFired = true })

	assert.Equal(t, 1, s.Active())

	// The original one-minute deadline must be gone.
	clk.Advance(2 * time.Minute)
	s.Tick()
	assert.False(t, firstFired)
	assert.False(t, secondFired)

	clk.Advance(9 * time.Minute)
	s.Tick()
	assert.False(t, firstFired, "replaced callback never fires")
	assert.True(t, secondFired)
}

func TestService_Cancel(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	s := NewService(clk)

	fired := false
	s.Start("lockout:ACC-1", time.Minute, func() { fired = true })
	s.Cancel("lockout:ACC-1")

	clk.Advance(time.Hour)
	s.Tick()
	assert.False(t, fired)
	assert.Equal(t, 0, s.Active())

	// Cancelling an absent timer is harmless.
	s.Cancel("lockout:ACC-1")
}

func TestService_ZeroDurationFiresImmediately(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	s := NewService(clk)

	fired := false
	s.Start("expired", 0, func() { fired = true })

	assert.True(t, fired)
	assert.Equal(t, 0, s.Active(), "immediate-fire timers are never registered")
}

func TestService_ImmediateFireReplacesPendingTimer(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	s := NewService(clk)

	fired := 0
	s.Start("gate", time.Minute, func() { fired++ })
	s.Start("gate", 0, func() { fired++ })

	assert.Equal(t, 1, fired, "replacement fires exactly once")
	assert.Equal(t, 0, s.Active())

	// The replaced timer's old deadline must not produce a second fire.
	clk.Advance(time.Hour)
	s.Tick()
	assert.Equal(t, 1, fired)
}

func TestService_CallbackPanicDoesNotKillOtherTimers(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	s := NewService(clk)

	survived := false
	s.Start("bad", time.Minute, func() { panic("boom") })
	s.Start("good", 2*time.Minute, func() { survived = true })

	clk.Advance(time.Minute)
	s.Tick()

	clk.Advance(time.Minute)
	s.Tick()
	assert.True(t, survived)
}

func TestService_CallbackMayStartTimers(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	s := NewService(clk)

	chained := false
	s.Start("first", time.Minute, func() {
		s.Start("second", time.Minute, func() { chained = true })
	})

	clk.Advance(time.Minute)
	s.Tick()
	assert.Equal(t, 1, s.Active())

	clk.Advance(time.Minute)
	s.Tick()
	assert.True(t, chained)
}
