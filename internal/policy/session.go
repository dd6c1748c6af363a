package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/flatguard/flatguard/internal/enforce"
	"github.com/flatguard/flatguard/internal/events"
)

// SessionHours cancels entries placed outside the configured session window
// and blocks the account until the session opens again. Open and Close are
// local times in Location; overnight sessions (close before open) are
// supported.
type SessionHours struct {
	Open     string // "15:04"
	Close    string // "15:04"
	Location *time.Location
}

func (p *SessionHours) ID() string { return "session_hours" }

func (p *SessionHours) Evaluate(_ context.Context, ev events.Event, svc *Services) (*Violation, error) {
	entry := false
	switch ev.Kind {
	case events.KindOrderPlaced:
		entry = ev.Order != nil && !ev.Order.Protective
	case events.KindOrderFilled:
		entry = ev.Fill != nil && ev.Fill.Entry
	}
	if !entry {
		return nil, nil
	}

	now := svc.Clock.Now().In(p.Location)
	inside, err := p.inSession(now)
	if err != nil {
		return nil, err
	}
	if inside {
		return nil, nil
	}
	return &Violation{
		PolicyID:   p.ID(),
		Reason:     fmt.Sprintf("entry at %s outside session %s-%s", now.Format("15:04:05"), p.Open, p.Close),
		Action:     enforce.ActionCancelOrders,
		Instrument: ev.Instrument,
	}, nil
}

// Enforce blocks the account until the session next opens.
func (p *SessionHours) Enforce(ctx context.Context, ev events.Event, v *Violation, svc *Services) error {
	next, err := p.nextOpen(svc.Clock.Now())
	if err != nil {
		return err
	}
	return svc.Lockouts.SetSessionBlock(ctx, ev.Account, v.Reason, next)
}

func (p *SessionHours) inSession(now time.Time) (bool, error) {
	open, err := time.Parse("15:04", p.Open)
	if err != nil {
		return false, fmt.Errorf("malformed session open %q: %w", p.Open, err)
	}
	close, err := time.Parse("15:04", p.Close)
	if err != nil {
		return false, fmt.Errorf("malformed session close %q: %w", p.Close, err)
	}

	minutes := now.Hour()*60 + now.Minute()
	openM := open.Hour()*60 + open.Minute()
	closeM := close.Hour()*60 + close.Minute()

	if openM <= closeM {
		return minutes >= openM && minutes < closeM, nil
	}
	// Overnight session, e.g. 17:00-16:00 next day.
	return minutes >= openM || minutes < closeM, nil
}

func (p *SessionHours) nextOpen(now time.Time) (time.Time, error) {
	open, err := time.Parse("15:04", p.Open)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed session open %q: %w", p.Open, err)
	}
	local := now.In(p.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), open.Hour(), open.Minute(), 0, 0, p.Location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, open.Hour(), open.Minute(), 0, 0, p.Location)
	}
	return next, nil
}
