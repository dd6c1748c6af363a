// Package timers provides named countdown timers with callback-on-expiry. Timers
// are in-memory only: durable deadlines (lockout expiry) are persisted by their
// owners and re-checked lazily, so losing timers on restart is acceptable.
package timers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flatguard/flatguard/internal/clock"
)

// PollInterval is the resolution of timer expiry.
const PollInterval = 250 * time.Millisecond

type timer struct {
	deadline time.Time
	fn       func()
}

// Service owns a table of named timers polled by a single background loop.
// Starting a timer under an existing name replaces it.
type Service struct {
	mu     sync.Mutex
	timers map[string]timer
	clk    clock.Clock
	logger zerolog.Logger
	stop   chan struct{}
	once   sync.Once
}

// NewService creates a timer service. Run must be called for timers to expire.
func NewService(clk clock.Clock) *Service {
	return &Service{
		timers: make(map[string]timer),
		clk:    clk,
		logger: log.With().Str("component", "timers").Logger(),
		stop:   make(chan struct{}),
	}
}

// Start registers or replaces the named timer. A non-positive duration invokes
// the callback immediately (isolated like any expiry) and registers nothing;
// any pending timer under the same name is dropped first, so exactly one
// callback runs.
func (s *Service) Start(name string, d time.Duration, fn func()) {
	if d <= 0 {
		s.mu.Lock()
		delete(s.timers, name)
		s.mu.Unlock()
		s.logger.Debug().Str("timer", name).Dur("duration", d).Msg("Timer fired immediately")
		s.invoke(name, fn)
		return
	}

	s.mu.Lock()
	_, replaced := s.timers[name]
	s.timers[name] = timer{deadline: s.clk.Now().Add(d), fn: fn}
	s.mu.Unlock()

	s.logger.Debug().Str("timer", name).Dur("duration", d).Bool("replaced", replaced).Msg("Timer started")
}

// Cancel removes the named timer. Cancelling an absent timer is a no-op.
func (s *Service) Cancel(name string) {
	s.mu.Lock()
	delete(s.timers, name)
	s.mu.Unlock()
}

// Remaining reports how long until the named timer expires. The second return
// is false when no such timer exists.
func (s *Service) Remaining(name string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[name]
	if !ok {
		return 0, false
	}
	rem := t.deadline.Sub(s.clk.Now())
	if rem < 0 {
		rem = 0
	}
	return rem, true
}

// Active returns the number of registered timers.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Run polls the timer table until ctx is cancelled or Stop is called. Each
// expired callback runs outside the table lock so callbacks may start or
// cancel timers themselves.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick fires every timer whose deadline has passed. Exposed so tests driving a
// fake clock can force expiry without waiting on the poll interval.
func (s *Service) Tick() {
	now := s.clk.Now()

	s.mu.Lock()
	var expired []struct {
		name string
		fn   func()
	}
	for name, t := range s.timers {
		if !now.Before(t.deadline) {
			expired = append(expired, struct {
				name string
				fn   func()
			}{name, t.fn})
			delete(s.timers, name)
		}
	}
	s.mu.Unlock()

	for _, e := range expired {
		s.logger.Debug().Str("timer", e.name).Msg("Timer expired")
		s.invoke(e.name, e.fn)
	}
}

// Stop terminates the poll loop started by Run.
func (s *Service) Stop() {
	s.once.Do(func() { close(s.stop) })
}

// invoke runs a callback with panic isolation. A failing callback must never
// take down the poll loop or other timers.
func (s *Service) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("timer", name).Interface("panic", r).Msg("Timer callback panicked")
		}
	}()
	fn()
}
