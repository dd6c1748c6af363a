package policy

import (
	"context"

	"github.com/flatguard/flatguard/internal/enforce"
	"github.com/flatguard/flatguard/internal/events"
)

// AuthStatus flattens and hard-locks the account the moment the connectivity
// layer reports its trading authorization revoked. The lockout runs until the
// next daily reset; a restored authorization requires operator clearance.
type AuthStatus struct{}

func (p *AuthStatus) ID() string { return "auth_status" }

func (p *AuthStatus) Evaluate(_ context.Context, ev events.Event, _ *Services) (*Violation, error) {
	if ev.Kind != events.KindAccountStatus || ev.Status == nil {
		return nil, nil
	}
	if ev.Status.Authorized {
		return nil, nil
	}
	return &Violation{
		PolicyID: p.ID(),
		Reason:   "account trading authorization revoked",
		Action:   enforce.ActionFlattenAll,
	}, nil
}

func (p *AuthStatus) Enforce(ctx context.Context, ev events.Event, v *Violation, svc *Services) error {
	until := svc.NextReset(svc.Clock.Now())
	return svc.Lockouts.SetHardLockout(ctx, ev.Account, v.Reason, until)
}
