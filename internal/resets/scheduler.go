// Package resets fires the daily session-boundary reset: clearing realized
// P&L, lifting session blocks and cooldowns, and zeroing frequency counters.
package resets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flatguard/flatguard/internal/clock"
)

// PollInterval is how often the scheduler checks whether the boundary passed.
const PollInterval = time.Second

// Action is one registered reset step, run at the daily boundary.
type Action struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Scheduler fires registered actions at a configured time-of-day in a
// configured timezone. The wall-clock target is re-derived after every fire
// rather than advanced by a fixed offset, so daylight-saving transitions keep
// the boundary at the configured local time. Firing is idempotent per
// calendar day.
type Scheduler struct {
	mu        sync.Mutex
	hour, min int
	loc       *time.Location
	clk       clock.Clock
	actions   []Action
	lastDay   string
	logger    zerolog.Logger
}

// New creates a scheduler for a "15:04"-formatted time of day in the given
// IANA timezone. A malformed time or zone is a configuration error.
func New(timeOfDay, timezone string, clk clock.Clock) (*Scheduler, error) {
	t, err := time.Parse("15:04", timeOfDay)
	if err != nil {
		return nil, fmt.Errorf("malformed reset time %q: %w", timeOfDay, err)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown reset timezone %q: %w", timezone, err)
	}
	return &Scheduler{
		hour:   t.Hour(),
		min:    t.Minute(),
		loc:    loc,
		clk:    clk,
		logger: log.With().Str("component", "resets").Logger(),
	}, nil
}

// Register appends a reset action. Actions run in registration order.
func (s *Scheduler) Register(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, Action{Name: name, Fn: fn})
}

// NextFire returns the next boundary strictly after now, in the schedule's
// zone. When today's boundary has already passed, tomorrow's is returned.
func (s *Scheduler) NextFire(now time.Time) time.Time {
	local := now.In(s.loc)
	target := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.min, 0, 0, s.loc)
	if !target.After(local) {
		target = time.Date(local.Year(), local.Month(), local.Day()+1, s.hour, s.min, 0, 0, s.loc)
	}
	return target
}

// Run polls until ctx is cancelled, firing when the boundary passes. The
// scheduler primes lastDay at startup so a boundary that passed before launch
// does not fire retroactively.
func (s *Scheduler) Run(ctx context.Context) {
	now := s.clk.Now().In(s.loc)
	boundary := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.min, 0, 0, s.loc)
	if !boundary.After(now) {
		s.mu.Lock()
		s.lastDay = boundary.Format("2006-01-02")
		s.mu.Unlock()
	}
	s.logger.Info().Time("next_fire", s.NextFire(s.clk.Now())).Msg("Reset scheduler started")

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires the reset once if today's boundary has passed and has not fired
// yet. Exposed so tests can drive a fake clock across boundaries.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clk.Now().In(s.loc)
	boundary := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.min, 0, 0, s.loc)
	if now.Before(boundary) {
		return
	}
	day := boundary.Format("2006-01-02")

	s.mu.Lock()
	if s.lastDay == day {
		s.mu.Unlock()
		return
	}
	s.lastDay = day
	actions := append([]Action(nil), s.actions...)
	s.mu.Unlock()

	s.logger.Info().Str("day", day).Int("actions", len(actions)).Msg("Daily reset firing")
	for _, a := range actions {
		if err := a.Fn(ctx); err != nil {
			s.logger.Error().Err(err).Str("action", a.Name).Msg("Reset action failed")
			continue
		}
		s.logger.Info().Str("action", a.Name).Msg("Reset action completed")
	}
	s.logger.Info().Time("next_fire", s.NextFire(s.clk.Now())).Msg("Daily reset complete")
}
