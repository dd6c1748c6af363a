// Package enforce defines the enforcement intents produced by the engine and
// the Executor collaborator that turns them into broker actions. The engine
// treats every executor call as best-effort network I/O: failures are logged
// and counted, never retried inline, and never roll back a lockout.
package enforce

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Action is the protective action attached to a violation.
type Action string

const (
	ActionAlert         Action = "alert"
	ActionClosePosition Action = "close_position"
	ActionReduceToLimit Action = "reduce_to_limit"
	ActionFlattenAll    Action = "flatten_all"
	ActionCancelOrders  Action = "cancel_orders"
	ActionCooldown      Action = "cooldown"
)

// Intent is one enforcement request targeting an account and optionally an
// instrument. Limit is only meaningful for ActionReduceToLimit.
type Intent struct {
	Action     Action  `json:"action"`
	Account    string  `json:"account"`
	Instrument string  `json:"instrument,omitempty"`
	Limit      float64 `json:"limit,omitempty"`
}

// Executor is implemented by the connectivity layer. Calls return an error on
// transport failure; ordinary broker-side rejection is a nil-error outcome the
// connectivity layer resolves itself.
type Executor interface {
	FlattenAll(ctx context.Context, account string) error
	ClosePosition(ctx context.Context, account, instrument string) error
	ReduceToLimit(ctx context.Context, account, instrument string, limit float64) error
	CancelOrders(ctx context.Context, account, instrument string) error
}

// Dispatch routes an intent to the matching executor call. ActionAlert and
// ActionCooldown carry no broker-side action: alerts are satisfied by the
// violation record, cooldowns by the lockout created before dispatch.
func Dispatch(ctx context.Context, ex Executor, in Intent) error {
	switch in.Action {
	case ActionFlattenAll:
		return ex.FlattenAll(ctx, in.Account)
	case ActionClosePosition:
		return ex.ClosePosition(ctx, in.Account, in.Instrument)
	case ActionReduceToLimit:
		return ex.ReduceToLimit(ctx, in.Account, in.Instrument, in.Limit)
	case ActionCancelOrders:
		return ex.CancelOrders(ctx, in.Account, in.Instrument)
	case ActionAlert, ActionCooldown:
		return nil
	default:
		return fmt.Errorf("unknown enforcement action: %s", in.Action)
	}
}

// LogExecutor records every call and succeeds. It is the shipped executor
// until a broker connectivity layer implements Executor: decisions and
// lockouts are real but no orders move.
type LogExecutor struct{}

func (LogExecutor) FlattenAll(_ context.Context, account string) error {
	log.Warn().Str("account", account).Msg("Enforcement logged: flatten all")
	return nil
}

func (LogExecutor) ClosePosition(_ context.Context, account, instrument string) error {
	log.Warn().Str("account", account).Str("instrument", instrument).Msg("Enforcement logged: close position")
	return nil
}

func (LogExecutor) ReduceToLimit(_ context.Context, account, instrument string, limit float64) error {
	log.Warn().Str("account", account).Str("instrument", instrument).Float64("limit", limit).Msg("Enforcement logged: reduce to limit")
	return nil
}

func (LogExecutor) CancelOrders(_ context.Context, account, instrument string) error {
	log.Warn().Str("account", account).Str("instrument", instrument).Msg("Enforcement logged: cancel orders")
	return nil
}
