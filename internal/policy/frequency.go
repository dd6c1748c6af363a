package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/flatguard/flatguard/internal/enforce"
	"github.com/flatguard/flatguard/internal/events"
)

// TradeFrequency cools the account down when more than MaxEntries entry fills
// land inside the rolling window. The entry log lives in the position book,
// maintained by the engine, so Evaluate stays a pure read.
type TradeFrequency struct {
	MaxEntries int
	Window     time.Duration
	Cooldown   time.Duration
}

func (p *TradeFrequency) ID() string { return "trade_frequency" }

func (p *TradeFrequency) Evaluate(_ context.Context, ev events.Event, svc *Services) (*Violation, error) {
	if ev.Kind != events.KindOrderFilled || ev.Fill == nil || !ev.Fill.Entry {
		return nil, nil
	}

	n := svc.Book.EntriesSince(ev.Account, svc.Clock.Now().Add(-p.Window))
	if n <= p.MaxEntries {
		return nil, nil
	}
	return &Violation{
		PolicyID: p.ID(),
		Reason:   fmt.Sprintf("%d entries in %s exceeds limit %d", n, p.Window, p.MaxEntries),
		Action:   enforce.ActionCancelOrders,
		Current:  float64(n),
		Limit:    float64(p.MaxEntries),
	}, nil
}

// Enforce starts the cooldown before open orders are cancelled.
func (p *TradeFrequency) Enforce(ctx context.Context, ev events.Event, v *Violation, svc *Services) error {
	return svc.Lockouts.SetCooldown(ctx, ev.Account, v.Reason, p.Cooldown)
}
