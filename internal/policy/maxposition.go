package policy

import (
	"context"
	"fmt"

	"github.com/flatguard/flatguard/internal/enforce"
	"github.com/flatguard/flatguard/internal/events"
)

// MaxPosition reduces any position whose size exceeds the configured contract
// limit back down to it.
type MaxPosition struct {
	MaxContracts float64
}

func (p *MaxPosition) ID() string { return "max_position" }

func (p *MaxPosition) Evaluate(_ context.Context, ev events.Event, svc *Services) (*Violation, error) {
	switch ev.Kind {
	case events.KindPositionOpened, events.KindPositionUpdated:
	default:
		return nil, nil
	}
	if ev.Position == nil || ev.Position.Size <= p.MaxContracts {
		return nil, nil
	}
	return &Violation{
		PolicyID:   p.ID(),
		Reason:     fmt.Sprintf("position size %.0f exceeds limit %.0f on %s", ev.Position.Size, p.MaxContracts, ev.Instrument),
		Action:     enforce.ActionReduceToLimit,
		Instrument: ev.Instrument,
		Current:    ev.Position.Size,
		Limit:      p.MaxContracts,
	}, nil
}
