// Package lockout maintains the durable lockout state that gates every event
// before policy evaluation. Expiry is enforced by two independent paths: a
// timer started alongside each cooldown, and lazy expiry inside IsLockedOut.
// Timers are lost on restart, so only the durable expires_at column is
// authoritative; the timer is an optimization that clears promptly.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flatguard/flatguard/internal/clock"
	"github.com/flatguard/flatguard/internal/persistence"
	"github.com/flatguard/flatguard/internal/timers"
)

// DefaultSweepInterval is how often the background sweep clears expired rows
// that no check has touched.
const DefaultSweepInterval = 5 * time.Second

// Store wraps a LockoutRepo with expiry handling and cooldown timers. All
// check-then-clear sequences are serialized under one mutex so lazy expiry,
// the sweep, and timer callbacks never race on the active flag.
type Store struct {
	mu     sync.Mutex
	repo   persistence.LockoutRepo
	timers *timers.Service
	clk    clock.Clock
	logger zerolog.Logger
}

// NewStore creates a lockout store over the given repository.
func NewStore(repo persistence.LockoutRepo, tm *timers.Service, clk clock.Clock) *Store {
	return &Store{
		repo:   repo,
		timers: tm,
		clk:    clk,
		logger: log.With().Str("component", "lockout").Logger(),
	}
}

// SetHardLockout persists an active hard lockout until expiresAt, overwriting
// any prior active lockout for the account. The row is durable before return.
func (s *Store) SetHardLockout(ctx context.Context, account, reason string, expiresAt time.Time) error {
	return s.set(ctx, persistence.Lockout{
		Account:   account,
		Kind:      persistence.KindHardLockout,
		Reason:    reason,
		CreatedAt: s.clk.Now(),
		ExpiresAt: expiresAt,
	})
}

// SetCooldown persists an active cooldown expiring after d and starts a timer
// whose callback clears it. The durable row is the source of truth; the timer
// only makes clearance prompt while the process is up.
func (s *Store) SetCooldown(ctx context.Context, account, reason string, d time.Duration) error {
	now := s.clk.Now()
	if err := s.set(ctx, persistence.Lockout{
		Account:   account,
		Kind:      persistence.KindCooldown,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(d),
	}); err != nil {
		return err
	}

	s.timers.Start(timerName(account), d, func() {
		if err := s.Clear(context.Background(), account); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			s.logger.Error().Err(err).Str("account", account).Msg("Cooldown timer failed to clear lockout")
		}
	})
	return nil
}

// SetSessionBlock persists an active session block until expiresAt. Session
// blocks are cleared by the daily reset in addition to expiry.
func (s *Store) SetSessionBlock(ctx context.Context, account, reason string, expiresAt time.Time) error {
	return s.set(ctx, persistence.Lockout{
		Account:   account,
		Kind:      persistence.KindSessionBlock,
		Reason:    reason,
		CreatedAt: s.clk.Now(),
		ExpiresAt: expiresAt,
	})
}

func (s *Store) set(ctx context.Context, l persistence.Lockout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.repo.Insert(ctx, l)
	if err != nil {
		return fmt.Errorf("failed to persist lockout: %w", err)
	}
	// Last-writer-wins applies to the timer too: a pending cooldown timer
	// must not clear the lockout that just superseded it. SetCooldown starts
	// its own timer after this returns.
	s.timers.Cancel(timerName(l.Account))
	s.logger.Warn().
		Int64("id", id).
		Str("account", l.Account).
		Str("kind", string(l.Kind)).
		Str("reason", l.Reason).
		Time("expires_at", l.ExpiresAt).
		Msg("Lockout set")
	return nil
}

// IsLockedOut reports whether the account is gated. A lockout whose expiry has
// already passed is cleared here before answering false, so correctness holds
// even when the matching timer never fired, such as after a crash.
func (s *Store) IsLockedOut(ctx context.Context, account string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.repo.ActiveByAccount(ctx, account)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check lockout: %w", err)
	}

	if !l.ExpiresAt.After(s.clk.Now()) {
		if err := s.repo.Deactivate(ctx, account); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return true, fmt.Errorf("failed to clear expired lockout: %w", err)
		}
		s.timers.Cancel(timerName(account))
		s.logger.Info().Str("account", account).Str("kind", string(l.Kind)).Msg("Expired lockout cleared on check")
		return false, nil
	}
	return true, nil
}

// GetActive returns the active lockout for the account, or
// persistence.ErrNotFound when the account trades freely.
func (s *Store) GetActive(ctx context.Context, account string) (*persistence.Lockout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.ActiveByAccount(ctx, account)
}

// ListActive returns every active lockout across accounts.
func (s *Store) ListActive(ctx context.Context) ([]persistence.Lockout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.ListActive(ctx)
}

// Clear deactivates the account's active lockout and cancels its timer.
func (s *Store) Clear(ctx context.Context, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Deactivate(ctx, account); err != nil {
		return err
	}
	s.timers.Cancel(timerName(account))
	s.logger.Info().Str("account", account).Msg("Lockout cleared")
	return nil
}

// ClearKind deactivates every active lockout of the given kind, returning how
// many accounts were unlocked. The daily reset uses this to lift session
// blocks and cooldowns at the boundary while hard lockouts ride out.
func (s *Store) ClearKind(ctx context.Context, kind persistence.LockoutKind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active lockouts: %w", err)
	}

	cleared := 0
	for _, l := range active {
		if l.Kind != kind {
			continue
		}
		if err := s.repo.Deactivate(ctx, l.Account); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return cleared, fmt.Errorf("failed to clear %s lockout for %s: %w", kind, l.Account, err)
		}
		s.timers.Cancel(timerName(l.Account))
		cleared++
	}
	if cleared > 0 {
		s.logger.Info().Str("kind", string(kind)).Int("cleared", cleared).Msg("Lockouts cleared by kind")
	}
	return cleared, nil
}

// Load recovers active lockouts at startup, logging each with remaining time
// and immediately clearing any whose expiry passed while the process was down.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load lockouts: %w", err)
	}

	now := s.clk.Now()
	for _, l := range active {
		rem := l.Remaining(now)
		if rem == 0 {
			if err := s.repo.Deactivate(ctx, l.Account); err != nil && !errors.Is(err, persistence.ErrNotFound) {
				return fmt.Errorf("failed to clear expired lockout for %s: %w", l.Account, err)
			}
			s.logger.Info().Str("account", l.Account).Str("kind", string(l.Kind)).Msg("Lockout expired while down, cleared")
			continue
		}
		s.logger.Warn().
			Str("account", l.Account).
			Str("kind", string(l.Kind)).
			Str("reason", l.Reason).
			Dur("remaining", rem).
			Msg("Active lockout restored")
	}
	return nil
}

// RunSweep periodically clears lockouts whose expiry passed, independent of
// lazy expiry, so stale state on idle accounts does not linger.
func (s *Store) RunSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep clears all expired active lockouts once.
func (s *Store) Sweep(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.repo.DeactivateExpired(ctx, s.clk.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Lockout sweep failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int64("cleared", n).Msg("Expired lockouts swept")
	}
}

func timerName(account string) string {
	return "lockout:" + account
}
