package policy

import (
	"context"
	"fmt"

	"github.com/flatguard/flatguard/internal/enforce"
	"github.com/flatguard/flatguard/internal/events"
)

// DailyLoss flattens the account and locks it out until the next daily reset
// once the day's realized loss reaches the limit. With IncludeUnrealized set,
// open positions are priced against the latest quote and added to the total,
// so a drawdown can trip the rule before the closing fill prints.
type DailyLoss struct {
	Limit             float64
	IncludeUnrealized bool
}

func (p *DailyLoss) ID() string { return "daily_loss" }

func (p *DailyLoss) Evaluate(_ context.Context, ev events.Event, svc *Services) (*Violation, error) {
	switch ev.Kind {
	case events.KindOrderFilled, events.KindQuote, events.KindPositionUpdated:
	default:
		return nil, nil
	}

	total := svc.PnL.Realized(ev.Account)
	if p.IncludeUnrealized {
		for _, pos := range svc.Book.Open(ev.Account) {
			price, ok := svc.Book.Quote(pos.Instrument)
			if !ok {
				continue
			}
			u, err := svc.PnL.Unrealized(pos.Instrument, pos.EntryPrice, pos.Size, pos.Side, price)
			if err != nil {
				return nil, fmt.Errorf("daily loss could not price %s: %w", pos.Instrument, err)
			}
			total += u
		}
	}

	if total > -p.Limit {
		return nil, nil
	}
	return &Violation{
		PolicyID: p.ID(),
		Reason:   fmt.Sprintf("daily loss %.2f breached limit %.2f", total, -p.Limit),
		Action:   enforce.ActionFlattenAll,
		Current:  total,
		Limit:    -p.Limit,
	}, nil
}

// Enforce locks the account out until the next daily reset before the flatten
// is dispatched.
func (p *DailyLoss) Enforce(ctx context.Context, ev events.Event, v *Violation, svc *Services) error {
	until := svc.NextReset(svc.Clock.Now())
	return svc.Lockouts.SetHardLockout(ctx, ev.Account, v.Reason, until)
}
