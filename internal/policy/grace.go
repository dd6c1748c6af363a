package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/flatguard/flatguard/internal/enforce"
	"github.com/flatguard/flatguard/internal/events"
)

// ProtectiveGrace closes any position that has been open longer than the
// grace period without a protective order, confirmed by a synchronous query
// to the connectivity layer. The rule re-checks on every flow event, so a
// live quote stream keeps unprotected positions from lingering. A per-position
// suppression timer keeps the close from being re-dispatched on every quote
// while the first close order works.
type ProtectiveGrace struct {
	Grace time.Duration
}

func (p *ProtectiveGrace) ID() string { return "protective_grace" }

func (p *ProtectiveGrace) Evaluate(ctx context.Context, ev events.Event, svc *Services) (*Violation, error) {
	switch ev.Kind {
	case events.KindQuote, events.KindPositionOpened, events.KindPositionUpdated, events.KindOrderPlaced:
	default:
		return nil, nil
	}

	now := svc.Clock.Now()
	for _, pos := range svc.Book.Open(ev.Account) {
		age := now.Sub(pos.OpenedAt)
		if age < p.Grace {
			continue
		}
		if _, pending := svc.Timers.Remaining(p.timerName(ev.Account, pos.Instrument)); pending {
			continue
		}
		protected, err := svc.Protective.HasProtectiveOrder(ctx, ev.Account, pos.Instrument)
		if err != nil {
			return nil, fmt.Errorf("protective order query failed for %s: %w", pos.Instrument, err)
		}
		if protected {
			continue
		}
		return &Violation{
			PolicyID:   p.ID(),
			Reason:     fmt.Sprintf("%s open %s without protective order (grace %s)", pos.Instrument, age.Truncate(time.Second), p.Grace),
			Action:     enforce.ActionClosePosition,
			Instrument: pos.Instrument,
			Current:    age.Seconds(),
			Limit:      p.Grace.Seconds(),
		}, nil
	}
	return nil, nil
}

// Enforce arms the suppression timer so the close is dispatched once per
// grace period rather than once per quote.
func (p *ProtectiveGrace) Enforce(_ context.Context, ev events.Event, v *Violation, svc *Services) error {
	svc.Timers.Start(p.timerName(ev.Account, v.Instrument), p.Grace, func() {})
	return nil
}

func (p *ProtectiveGrace) timerName(account, instrument string) string {
	return "grace:" + account + ":" + instrument
}
