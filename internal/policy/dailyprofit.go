package policy

import (
	"context"
	"fmt"

	"github.com/flatguard/flatguard/internal/enforce"
	"github.com/flatguard/flatguard/internal/events"
)

// DailyProfit banks the day once realized profit reaches the target: flatten
// everything and block further entries until the next session. Same threshold
// shape as DailyLoss, opposite sign.
type DailyProfit struct {
	Target float64
}

func (p *DailyProfit) ID() string { return "daily_profit" }

func (p *DailyProfit) Evaluate(_ context.Context, ev events.Event, svc *Services) (*Violation, error) {
	if ev.Kind != events.KindOrderFilled {
		return nil, nil
	}

	total := svc.PnL.Realized(ev.Account)
	if total < p.Target {
		return nil, nil
	}
	return &Violation{
		PolicyID: p.ID(),
		Reason:   fmt.Sprintf("daily profit %.2f reached target %.2f", total, p.Target),
		Action:   enforce.ActionFlattenAll,
		Current:  total,
		Limit:    p.Target,
	}, nil
}

func (p *DailyProfit) Enforce(ctx context.Context, ev events.Event, v *Violation, svc *Services) error {
	until := svc.NextReset(svc.Clock.Now())
	return svc.Lockouts.SetSessionBlock(ctx, ev.Account, v.Reason, until)
}
