// Package persistence defines the durable state behind the guardrail core: the
// lockouts table consulted by the pre-check gate, the daily realized P&L table
// backing loss/profit policies, and the violation audit trail. Implementations
// live in the postgres and memory subpackages.
package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("persistence: not found")

// LockoutKind classifies how a lockout was produced and how resets treat it.
type LockoutKind string

const (
	KindHardLockout  LockoutKind = "hard_lockout"
	KindCooldown     LockoutKind = "cooldown"
	KindSessionBlock LockoutKind = "session_block"
)

// Lockout is one row of the lockouts table. Inactive rows are retained for
// audit; at most one row per account is active at a time.
type Lockout struct {
	ID        int64       `json:"id" db:"id"`
	Account   string      `json:"account" db:"account"`
	Kind      LockoutKind `json:"kind" db:"kind"`
	Reason    string      `json:"reason" db:"reason"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	ExpiresAt time.Time   `json:"expires_at" db:"expires_at"`
	Active    bool        `json:"active" db:"active"`
}

// Remaining reports how long the lockout has left as of now.
func (l Lockout) Remaining(now time.Time) time.Duration {
	rem := l.ExpiresAt.Sub(now)
	if rem < 0 {
		return 0
	}
	return rem
}

// DailyPnL is one row of the daily realized P&L table. Day is the trading date
// in the schedule's timezone, formatted 2006-01-02.
type DailyPnL struct {
	Account   string    `json:"account" db:"account"`
	Day       string    `json:"day" db:"day"`
	Realized  float64   `json:"realized" db:"realized"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Violation is one row of the violation audit trail.
type Violation struct {
	ID        string    `json:"id" db:"id"`
	Account   string    `json:"account" db:"account"`
	PolicyID  string    `json:"policy_id" db:"policy_id"`
	Reason    string    `json:"reason" db:"reason"`
	Action    string    `json:"action" db:"action"`
	Current   float64   `json:"current" db:"current_value"`
	Limit     float64   `json:"limit" db:"limit_value"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LockoutRepo persists lockouts. Insert must deactivate any prior active row
// for the account in the same transaction (last-writer-wins) and must be
// durable before returning: pre-check correctness across restarts depends on it.
type LockoutRepo interface {
	Insert(ctx context.Context, l Lockout) (int64, error)

	// Deactivate clears the active lockout for an account. Returns ErrNotFound
	// when the account has no active row.
	Deactivate(ctx context.Context, account string) error

	// DeactivateExpired clears every active row whose expiry is at or before
	// asOf, returning how many were cleared. Backs the background sweep.
	DeactivateExpired(ctx context.Context, asOf time.Time) (int64, error)

	// ActiveByAccount returns the active lockout for an account, or ErrNotFound.
	ActiveByAccount(ctx context.Context, account string) (*Lockout, error)

	// ListActive returns every active row, used at startup recovery.
	ListActive(ctx context.Context) ([]Lockout, error)
}

// DailyPnLRepo persists per-account daily realized totals.
type DailyPnLRepo interface {
	// AddRealized accumulates amount into the account's total for day and
	// returns the new total.
	AddRealized(ctx context.Context, account, day string, amount float64) (float64, error)

	// Get returns the realized total for the account and day, zero when absent.
	Get(ctx context.Context, account, day string) (float64, error)

	// Reset zeroes the account's total for day.
	Reset(ctx context.Context, account, day string) error

	// ListByDay returns all rows for a trading day, used at startup recovery.
	ListByDay(ctx context.Context, day string) ([]DailyPnL, error)
}

// ViolationRepo persists the violation audit trail.
type ViolationRepo interface {
	Insert(ctx context.Context, v Violation) error
	ListRecent(ctx context.Context, limit int) ([]Violation, error)
}
