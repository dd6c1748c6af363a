package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/flatguard/flatguard/internal/persistence"
)

// pnlRepo implements persistence.DailyPnLRepo for PostgreSQL.
type pnlRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDailyPnLRepo creates a PostgreSQL daily P&L repository.
func NewDailyPnLRepo(db *sqlx.DB, timeout time.Duration) persistence.DailyPnLRepo {
	return &pnlRepo{db: db, timeout: timeout}
}

// AddRealized accumulates into the (account, day) row, creating it on first
// write, and returns the new total.
func (r *pnlRepo) AddRealized(ctx context.Context, account, day string, amount float64) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var total float64
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO daily_pnl (account, day, realized, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (account, day)
		DO UPDATE SET realized = daily_pnl.realized + EXCLUDED.realized, updated_at = NOW()
		RETURNING realized`,
		account, day, amount).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to add realized pnl: %w", err)
	}
	return total, nil
}

func (r *pnlRepo) Get(ctx context.Context, account, day string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var total float64
	err := r.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(realized), 0)
		FROM daily_pnl
		WHERE account = $1 AND day = $2`, account, day)
	if err != nil {
		return 0, fmt.Errorf("failed to get daily pnl: %w", err)
	}
	return total, nil
}

func (r *pnlRepo) Reset(ctx context.Context, account, day string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		UPDATE daily_pnl SET realized = 0, updated_at = NOW()
		WHERE account = $1 AND day = $2`, account, day); err != nil {
		return fmt.Errorf("failed to reset daily pnl: %w", err)
	}
	return nil
}

func (r *pnlRepo) ListByDay(ctx context.Context, day string) ([]persistence.DailyPnL, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []persistence.DailyPnL
	err := r.db.SelectContext(ctx, &rows, `
		SELECT account, day, realized, updated_at
		FROM daily_pnl
		WHERE day = $1
		ORDER BY account`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily pnl: %w", err)
	}
	return rows, nil
}
