// Package engine orchestrates the per-event decision cycle: dedup, the
// lockout pre-check gate, ordered policy evaluation, lockout-before-
// enforcement violation handling, and violation records.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flatguard/flatguard/internal/enforce"
	"github.com/flatguard/flatguard/internal/events"
	"github.com/flatguard/flatguard/internal/lockout"
	"github.com/flatguard/flatguard/internal/metrics"
	"github.com/flatguard/flatguard/internal/persistence"
	"github.com/flatguard/flatguard/internal/policy"
)

// DefaultQueueSize is the intake buffer; the consumption loop drains it one
// event at a time in arrival order.
const DefaultQueueSize = 1024

// recentCap bounds the in-memory violation record ring served by /violations.
const recentCap = 100

// Record is the durable trace of one violation processed to completion.
type Record struct {
	ID         string         `json:"id"`
	Account    string         `json:"account"`
	PolicyID   string         `json:"policy_id"`
	Reason     string         `json:"reason"`
	Action     enforce.Action `json:"action"`
	Instrument string         `json:"instrument,omitempty"`
	Current    float64        `json:"current"`
	Limit      float64        `json:"limit"`
	At         time.Time      `json:"at"`
}

// Engine evaluates every registered policy against each event, in registration
// order, and turns violations into protections and enforcement intents.
// Policies are registered before Run; the policy list is not mutated after.
type Engine struct {
	policies   []policy.Policy
	svc        *policy.Services
	dedup      events.Deduper
	executor   enforce.Executor
	lockouts   *lockout.Store
	violations persistence.ViolationRepo
	metrics    *metrics.Registry

	in     chan events.Event
	logger zerolog.Logger

	mu     sync.Mutex
	recent []Record
}

// New creates an engine. svc carries the shared services handed to policies;
// violations may be nil when no audit repository is configured.
func New(svc *policy.Services, dedup events.Deduper, executor enforce.Executor, violations persistence.ViolationRepo, m *metrics.Registry) *Engine {
	return &Engine{
		svc:        svc,
		dedup:      dedup,
		executor:   executor,
		lockouts:   svc.Lockouts,
		violations: violations,
		metrics:    m,
		in:         make(chan events.Event, DefaultQueueSize),
		logger:     log.With().Str("component", "engine").Logger(),
	}
}

// Register appends a policy. Registration order is evaluation order.
func (e *Engine) Register(p policy.Policy) {
	e.policies = append(e.policies, p)
}

// Policies returns the registered policy ids in evaluation order.
func (e *Engine) Policies() []string {
	out := make([]string, len(e.policies))
	for i, p := range e.policies {
		out[i] = p.ID()
	}
	return out
}

// Submit queues an event for evaluation, blocking when the intake buffer is
// full so the feed applies backpressure instead of dropping.
func (e *Engine) Submit(ctx context.Context, ev events.Event) error {
	select {
	case e.in <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes queued events one at a time until ctx is cancelled. The single
// consumption path preserves per-account arrival order.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info().Int("policies", len(e.policies)).Msg("Engine running")
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.in:
			e.Process(ctx, ev)
		}
	}
}

// Process runs one full evaluation cycle synchronously. Exported so tests and
// the replay tooling can drive events without the intake goroutine.
func (e *Engine) Process(ctx context.Context, ev events.Event) []Record {
	started := time.Now()
	defer func() {
		e.metrics.EvalDuration.Observe(time.Since(started).Seconds())
	}()

	if err := ev.Validate(); err != nil {
		e.logger.Warn().Err(err).Msg("Event rejected")
		return nil
	}
	e.metrics.EventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	dup, err := e.dedup.Seen(ctx, ev.DedupKey())
	if err != nil {
		// Fail open: evaluating an event twice is recoverable, dropping a
		// genuine one is not.
		e.logger.Warn().Err(err).Str("key", ev.DedupKey()).Msg("Dedup check failed, processing anyway")
	} else if dup {
		e.metrics.EventsDeduped.Inc()
		e.logger.Debug().Str("key", ev.DedupKey()).Msg("Duplicate event dropped")
		return nil
	}

	// Aggregate state tracks reality regardless of lockout: positions close
	// and realized P&L prints while an account is being flattened.
	e.svc.Book.Apply(ev)
	if ev.Kind == events.KindOrderFilled && ev.Fill != nil && ev.Fill.RealizedPnL != nil {
		total, err := e.svc.PnL.RecordRealized(ctx, ev.Account, *ev.Fill.RealizedPnL)
		if err != nil {
			e.logger.Error().Err(err).Str("account", ev.Account).Msg("Failed to record realized P&L")
		} else {
			e.metrics.RealizedPnL.WithLabelValues(ev.Account).Set(total)
		}
	}

	locked, err := e.lockouts.IsLockedOut(ctx, ev.Account)
	if err != nil {
		e.logger.Error().Err(err).Str("account", ev.Account).Msg("Lockout pre-check failed")
		return nil
	}
	if locked {
		e.metrics.EventsGated.Inc()
		e.logger.Debug().Str("account", ev.Account).Str("kind", string(ev.Kind)).Msg("Event gated by active lockout")
		return nil
	}

	violations := e.evaluate(ctx, ev)

	var records []Record
	for _, v := range violations {
		records = append(records, e.handle(ctx, ev, v))
	}
	e.updateGauges(ctx)
	return records
}

// evaluate runs every policy in registration order, isolating per-policy
// failures so one broken rule never blinds the rest.
func (e *Engine) evaluate(ctx context.Context, ev events.Event) []violationWithPolicy {
	var out []violationWithPolicy
	for _, p := range e.policies {
		v, err := e.evaluateOne(ctx, p, ev)
		if err != nil {
			e.metrics.PolicyErrors.WithLabelValues(p.ID()).Inc()
			e.logger.Error().Err(err).Str("policy", p.ID()).Str("kind", string(ev.Kind)).Msg("Policy evaluation failed")
			continue
		}
		if v != nil {
			out = append(out, violationWithPolicy{v: v, p: p})
		}
	}
	return out
}

type violationWithPolicy struct {
	v *policy.Violation
	p policy.Policy
}

func (e *Engine) evaluateOne(ctx context.Context, p policy.Policy, ev events.Event) (v *policy.Violation, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = errorFromPanic(r)
		}
	}()
	return p.Evaluate(ctx, ev, e.svc)
}

// handle processes one violation: the policy's enforce hook creates any
// lockout FIRST, then the enforcement action is dispatched without holding any
// lock and without waiting on it. The ordering is deliberate: executor calls
// are network I/O that can hang, and the account must transition to Locked
// even if the call never returns.
func (e *Engine) handle(ctx context.Context, ev events.Event, vp violationWithPolicy) Record {
	v := vp.v
	e.metrics.ViolationsTotal.WithLabelValues(v.PolicyID, string(v.Action)).Inc()
	e.logger.Warn().
		Str("policy", v.PolicyID).
		Str("account", ev.Account).
		Str("action", string(v.Action)).
		Str("reason", v.Reason).
		Float64("current", v.Current).
		Float64("limit", v.Limit).
		Msg("Violation")

	if enf, ok := vp.p.(policy.Enforcer); ok {
		if err := enf.Enforce(ctx, ev, v, e.svc); err != nil {
			// Retry once: a lockout is the last line of defense before an
			// unprotected enforcement call.
			e.logger.Error().Err(err).Str("policy", v.PolicyID).Msg("Lockout creation failed, retrying")
			if err := enf.Enforce(ctx, ev, v, e.svc); err != nil {
				e.metrics.LockoutFailures.Inc()
				e.logger.Error().Err(err).Str("policy", v.PolicyID).Str("account", ev.Account).
					Msg("Lockout creation failed twice, dispatching enforcement unprotected")
			}
		}
	}

	intent := enforce.Intent{
		Action:     v.Action,
		Account:    ev.Account,
		Instrument: v.Instrument,
		Limit:      v.Limit,
	}
	go e.dispatch(intent)

	rec := Record{
		ID:         uuid.NewString(),
		Account:    ev.Account,
		PolicyID:   v.PolicyID,
		Reason:     v.Reason,
		Action:     v.Action,
		Instrument: v.Instrument,
		Current:    v.Current,
		Limit:      v.Limit,
		At:         e.svc.Clock.Now(),
	}
	e.record(ctx, rec)
	return rec
}

// dispatch is best-effort: failures are logged and counted, never retried
// inline, and never roll back the lockout created before the call.
func (e *Engine) dispatch(in enforce.Intent) {
	err := enforce.Dispatch(context.Background(), e.executor, in)
	result := "ok"
	if err != nil {
		result = "error"
		e.logger.Error().Err(err).
			Str("action", string(in.Action)).
			Str("account", in.Account).
			Msg("Enforcement dispatch failed")
	}
	e.metrics.EnforcementTotal.WithLabelValues(string(in.Action), result).Inc()
}

func (e *Engine) record(ctx context.Context, rec Record) {
	e.mu.Lock()
	e.recent = append(e.recent, rec)
	if len(e.recent) > recentCap {
		e.recent = e.recent[len(e.recent)-recentCap:]
	}
	e.mu.Unlock()

	if e.violations == nil {
		return
	}
	row := persistence.Violation{
		ID:        rec.ID,
		Account:   rec.Account,
		PolicyID:  rec.PolicyID,
		Reason:    rec.Reason,
		Action:    string(rec.Action),
		Current:   rec.Current,
		Limit:     rec.Limit,
		CreatedAt: rec.At,
	}
	if err := e.violations.Insert(ctx, row); err != nil {
		e.logger.Error().Err(err).Str("violation", rec.ID).Msg("Failed to persist violation record")
	}
}

// RecentViolations returns up to limit most recent violation records,
// newest first.
func (e *Engine) RecentViolations(limit int) []Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.recent[i])
	}
	return out
}

func (e *Engine) updateGauges(ctx context.Context) {
	if active, err := e.lockouts.ListActive(ctx); err == nil {
		e.metrics.ActiveLockouts.Set(float64(len(active)))
	}
	e.metrics.ActiveTimers.Set(float64(e.svc.Timers.Active()))
}

func errorFromPanic(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("policy panicked: %v", r)
}
