// Package pnl aggregates realized and unrealized P&L per account. Realized
// totals are persisted per trading day so loss and profit policies survive a
// restart; unrealized P&L is computed on demand from tick economics.
package pnl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flatguard/flatguard/internal/clock"
	"github.com/flatguard/flatguard/internal/events"
	"github.com/flatguard/flatguard/internal/persistence"
)

// ErrUnknownInstrument is returned when tick economics for an instrument are
// not configured. A silent default would mis-price enforcement decisions, so
// the caller must treat this as a configuration error.
var ErrUnknownInstrument = errors.New("pnl: unknown instrument")

// TickEconomics converts price movement to money for one instrument.
type TickEconomics struct {
	TickSize  float64 `yaml:"tick_size"`
	TickValue float64 `yaml:"tick_value"`
}

// Aggregator tracks per-account daily realized totals and prices open
// positions. All state is mutex-guarded; the caller contract is that
// RecordRealized is only invoked for fills carrying a realized amount
// (opening fills carry none and must be skipped).
type Aggregator struct {
	mu       sync.Mutex
	realized map[string]float64
	ticks    map[string]TickEconomics
	repo     persistence.DailyPnLRepo
	clk      clock.Clock
	loc      *time.Location
	boundary time.Duration
	logger   zerolog.Logger
}

// NewAggregator creates an aggregator with the configured tick economics
// table. The location and boundary define trading days for persistence:
// boundary is the daily reset time as an offset from local midnight, and the
// trading-day key rolls there rather than at the calendar date change.
func NewAggregator(ticks map[string]TickEconomics, repo persistence.DailyPnLRepo, clk clock.Clock, loc *time.Location, boundary time.Duration) *Aggregator {
	return &Aggregator{
		realized: make(map[string]float64),
		ticks:    ticks,
		repo:     repo,
		clk:      clk,
		loc:      loc,
		boundary: boundary,
		logger:   log.With().Str("component", "pnl").Logger(),
	}
}

// Load restores today's realized totals from the repository at startup.
func (a *Aggregator) Load(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.repo.ListByDay(ctx, a.day())
	if err != nil {
		return fmt.Errorf("failed to load daily pnl: %w", err)
	}
	for _, r := range rows {
		a.realized[r.Account] = r.Realized
		a.logger.Info().Str("account", r.Account).Float64("realized", r.Realized).Msg("Daily realized P&L restored")
	}
	return nil
}

// RecordRealized accumulates a closing fill's realized amount into the
// account's daily total, persists it, and returns the new total.
func (a *Aggregator) RecordRealized(ctx context.Context, account string, amount float64) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	total, err := a.repo.AddRealized(ctx, account, a.day(), amount)
	if err != nil {
		return a.realized[account], fmt.Errorf("failed to persist realized pnl: %w", err)
	}
	a.realized[account] = total
	a.logger.Debug().Str("account", account).Float64("amount", amount).Float64("total", total).Msg("Realized P&L recorded")
	return total, nil
}

// Realized returns the account's daily realized total.
func (a *Aggregator) Realized(account string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realized[account]
}

// Unrealized prices an open position against the current price using the
// instrument's tick economics, sign-flipped for shorts.
func (a *Aggregator) Unrealized(instrument string, entryPrice, size float64, side events.Side, currentPrice float64) (float64, error) {
	a.mu.Lock()
	te, ok := a.ticks[instrument]
	a.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}

	pnl := (currentPrice - entryPrice) * (te.TickValue / te.TickSize) * size
	if side == events.SideShort {
		pnl = -pnl
	}
	return pnl, nil
}

// ResetDaily zeroes the account's realized total, in memory and in the store.
// Invoked by the reset scheduler at the daily boundary.
func (a *Aggregator) ResetDaily(ctx context.Context, account string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.repo.Reset(ctx, account, a.day()); err != nil {
		return fmt.Errorf("failed to reset daily pnl: %w", err)
	}
	a.realized[account] = 0
	a.logger.Info().Str("account", account).Msg("Daily realized P&L reset")
	return nil
}

// Accounts returns every account with a tracked realized total.
func (a *Aggregator) Accounts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, len(a.realized))
	for acct := range a.realized {
		out = append(out, acct)
	}
	return out
}

// day keys the current trading day: local time before the reset boundary
// still belongs to the previous calendar date's session.
func (a *Aggregator) day() string {
	local := a.clk.Now().In(a.loc)
	tod := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second
	if tod < a.boundary {
		local = local.AddDate(0, 0, -1)
	}
	return local.Format("2006-01-02")
}
