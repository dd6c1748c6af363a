// Package policy defines the contract every risk rule implements and the
// representative rules shipped with the guardrail. Policies are independent:
// they never call each other, and anything shared flows through Services.
package policy

import (
	"context"
	"time"

	"github.com/flatguard/flatguard/internal/clock"
	"github.com/flatguard/flatguard/internal/enforce"
	"github.com/flatguard/flatguard/internal/events"
	"github.com/flatguard/flatguard/internal/lockout"
	"github.com/flatguard/flatguard/internal/pnl"
	"github.com/flatguard/flatguard/internal/positions"
	"github.com/flatguard/flatguard/internal/timers"
)

// Violation is the ephemeral result of one policy firing on one event. It
// never outlives the evaluation cycle; the engine turns it into a durable
// violation record and an enforcement intent.
type Violation struct {
	PolicyID   string
	Reason     string
	Action     enforce.Action
	Instrument string
	Current    float64
	Limit      float64
}

// ProtectiveQuery is answered synchronously by the connectivity layer: whether
// the position on an instrument is covered by a protective (stop or
// limit-exit) order.
type ProtectiveQuery interface {
	HasProtectiveOrder(ctx context.Context, account, instrument string) (bool, error)
}

// Services gives policies read access to shared state and, inside Enforce
// hooks only, the lockout store and timer service for creating protections.
type Services struct {
	PnL        *pnl.Aggregator
	Lockouts   *lockout.Store
	Timers     *timers.Service
	Book       *positions.Book
	Protective ProtectiveQuery
	Clock      clock.Clock

	// NextReset returns the next daily boundary after t, used by policies
	// that lock an account out until the session resets.
	NextReset func(t time.Time) time.Time
}

// Policy is one unit of risk logic. Evaluate is a pure decision: it must not
// mutate shared state. A nil Violation means the rule did not fire.
type Policy interface {
	ID() string
	Evaluate(ctx context.Context, ev events.Event, svc *Services) (*Violation, error)
}

// Enforcer is the optional hook a policy implements to create lockouts,
// cooldowns, or timers. The engine invokes it before the enforcement action is
// attempted, so the account is protected even if the broker call never
// returns.
type Enforcer interface {
	Enforce(ctx context.Context, ev events.Event, v *Violation, svc *Services) error
}
