package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/flatguard/flatguard/internal/persistence"
)

// lockoutRepo implements persistence.LockoutRepo for PostgreSQL.
type lockoutRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewLockoutRepo creates a PostgreSQL lockout repository.
func NewLockoutRepo(db *sqlx.DB, timeout time.Duration) persistence.LockoutRepo {
	return &lockoutRepo{db: db, timeout: timeout}
}

// Insert writes a new active lockout, deactivating any prior active row for the
// account in the same transaction so at most one row gates trading.
func (r *lockoutRepo) Insert(ctx context.Context, l persistence.Lockout) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE lockouts SET active = FALSE WHERE account = $1 AND active`, l.Account); err != nil {
		return 0, fmt.Errorf("failed to deactivate prior lockout: %w", err)
	}

	var id int64
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO lockouts (account, kind, reason, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING id`,
		l.Account, l.Kind, l.Reason, l.CreatedAt, l.ExpiresAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert lockout: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit lockout: %w", err)
	}
	return id, nil
}

func (r *lockoutRepo) Deactivate(ctx context.Context, account string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE lockouts SET active = FALSE WHERE account = $1 AND active`, account)
	if err != nil {
		return fmt.Errorf("failed to deactivate lockout: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (r *lockoutRepo) DeactivateExpired(ctx context.Context, asOf time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE lockouts SET active = FALSE WHERE active AND expires_at <= $1`, asOf)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired lockouts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

func (r *lockoutRepo) ActiveByAccount(ctx context.Context, account string) (*persistence.Lockout, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var l persistence.Lockout
	err := r.db.GetContext(ctx, &l, `
		SELECT id, account, kind, reason, created_at, expires_at, active
		FROM lockouts
		WHERE account = $1 AND active
		ORDER BY created_at DESC
		LIMIT 1`, account)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query active lockout: %w", err)
	}
	return &l, nil
}

func (r *lockoutRepo) ListActive(ctx context.Context) ([]persistence.Lockout, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []persistence.Lockout
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, account, kind, reason, created_at, expires_at, active
		FROM lockouts
		WHERE active
		ORDER BY account, created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active lockouts: %w", err)
	}
	return rows, nil
}
