package enforce

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	cb "github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GuardedExecutor wraps a real executor with the protections every broker call
// needs: a bounded per-call timeout so a hang cannot wedge the engine, a rate
// limit so a cascade of violations cannot flood the broker, and a circuit
// breaker that fails fast while the connectivity layer is down.
type GuardedExecutor struct {
	inner   Executor
	breaker *cb.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

// NewGuardedExecutor wraps inner. callTimeout bounds each broker call;
// callsPerSec caps dispatch throughput with a burst of callsPerSec.
func NewGuardedExecutor(inner Executor, callTimeout time.Duration, callsPerSec float64) *GuardedExecutor {
	st := cb.Settings{Name: "enforcement"}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	st.OnStateChange = func(name string, from, to cb.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Enforcement breaker state change")
	}

	burst := int(callsPerSec)
	if burst < 1 {
		burst = 1
	}
	return &GuardedExecutor{
		inner:   inner,
		breaker: cb.NewCircuitBreaker(st),
		limiter: rate.NewLimiter(rate.Limit(callsPerSec), burst),
		timeout: callTimeout,
	}
}

func (g *GuardedExecutor) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := g.breaker.Execute(func() (any, error) {
		cctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return nil, fn(cctx)
	})
	return err
}

func (g *GuardedExecutor) FlattenAll(ctx context.Context, account string) error {
	return g.call(ctx, func(ctx context.Context) error {
		return g.inner.FlattenAll(ctx, account)
	})
}

func (g *GuardedExecutor) ClosePosition(ctx context.Context, account, instrument string) error {
	return g.call(ctx, func(ctx context.Context) error {
		return g.inner.ClosePosition(ctx, account, instrument)
	})
}

func (g *GuardedExecutor) ReduceToLimit(ctx context.Context, account, instrument string, limit float64) error {
	return g.call(ctx, func(ctx context.Context) error {
		return g.inner.ReduceToLimit(ctx, account, instrument, limit)
	})
}

func (g *GuardedExecutor) CancelOrders(ctx context.Context, account, instrument string) error {
	return g.call(ctx, func(ctx context.Context) error {
		return g.inner.CancelOrders(ctx, account, instrument)
	})
}
