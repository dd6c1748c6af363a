package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/flatguard/flatguard/internal/persistence"
)

// violationRepo implements persistence.ViolationRepo for PostgreSQL.
type violationRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewViolationRepo creates a PostgreSQL violation audit repository.
func NewViolationRepo(db *sqlx.DB, timeout time.Duration) persistence.ViolationRepo {
	return &violationRepo{db: db, timeout: timeout}
}

func (r *violationRepo) Insert(ctx context.Context, v persistence.Violation) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO violations (id, account, policy_id, reason, action, current_value, limit_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.Account, v.PolicyID, v.Reason, v.Action, v.Current, v.Limit, v.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate violation %s: %w", v.ID, err)
		}
		return fmt.Errorf("failed to insert violation: %w", err)
	}
	return nil
}

func (r *violationRepo) ListRecent(ctx context.Context, limit int) ([]persistence.Violation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []persistence.Violation
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, account, policy_id, reason, action, current_value, limit_value, created_at
		FROM violations
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	return rows, nil
}
