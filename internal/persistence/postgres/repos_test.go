package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flatguard/flatguard/internal/persistence"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestLockoutRepo_InsertDeactivatesPriorInOneTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLockoutRepo(db, time.Second)

	created := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	expires := created.Add(8 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE lockouts SET active = FALSE`).
		WithArgs("ACC-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO lockouts`).
		WithArgs("ACC-1", persistence.KindHardLockout, "loss limit", created, expires).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	id, err := repo.Insert(context.Background(), persistence.Lockout{
		Account:   "ACC-1",
		Kind:      persistence.KindHardLockout,
		Reason:    "loss limit",
		CreatedAt: created,
		ExpiresAt: expires,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockoutRepo_InsertRollsBackOnFailure(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLockoutRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE lockouts SET active = FALSE`).
		WithArgs("ACC-1").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := repo.Insert(context.Background(), persistence.Lockout{Account: "ACC-1"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockoutRepo_Deactivate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLockoutRepo(db, time.Second)

	mock.ExpectExec(`UPDATE lockouts SET active = FALSE`).
		WithArgs("ACC-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Deactivate(context.Background(), "ACC-1"))

	mock.ExpectExec(`UPDATE lockouts SET active = FALSE`).
		WithArgs("ACC-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Deactivate(context.Background(), "ACC-2"), persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockoutRepo_ActiveByAccount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLockoutRepo(db, time.Second)

	created := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	expires := created.Add(time.Hour)
	mock.ExpectQuery(`SELECT id, account, kind, reason, created_at, expires_at, active`).
		WithArgs("ACC-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "account", "kind", "reason", "created_at", "expires_at", "active"}).
			AddRow(int64(3), "ACC-1", "cooldown", "pacing", created, expires, true))

	l, err := repo.ActiveByAccount(context.Background(), "ACC-1")
	require.NoError(t, err)
	assert.Equal(t, persistence.KindCooldown, l.Kind)
	assert.Equal(t, expires, l.ExpiresAt)

	mock.ExpectQuery(`SELECT id, account, kind, reason, created_at, expires_at, active`).
		WithArgs("ACC-2").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = repo.ActiveByAccount(context.Background(), "ACC-2")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockoutRepo_DeactivateExpired(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLockoutRepo(db, time.Second)

	asOf := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE lockouts SET active = FALSE WHERE active AND expires_at`).
		WithArgs(asOf).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.DeactivateExpired(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPnLRepo_AddRealizedUpsertsAndReturnsTotal(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDailyPnLRepo(db, time.Second)

	mock.ExpectQuery(`INSERT INTO daily_pnl`).
		WithArgs("ACC-1", "2025-06-02", -250.0).
		WillReturnRows(sqlmock.NewRows([]string{"realized"}).AddRow(-750.0))

	total, err := repo.AddRealized(context.Background(), "ACC-1", "2025-06-02", -250)
	require.NoError(t, err)
	assert.Equal(t, -750.0, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPnLRepo_Reset(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDailyPnLRepo(db, time.Second)

	mock.ExpectExec(`UPDATE daily_pnl SET realized = 0`).
		WithArgs("ACC-1", "2025-06-02").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Reset(context.Background(), "ACC-1", "2025-06-02"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPnLRepo_ListByDay(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDailyPnLRepo(db, time.Second)

	updated := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT account, day, realized, updated_at`).
		WithArgs("2025-06-02").
		WillReturnRows(sqlmock.NewRows([]string{"account", "day", "realized", "updated_at"}).
			AddRow("ACC-1", "2025-06-02", -500.0, updated).
			AddRow("ACC-2", "2025-06-02", 120.0, updated))

	rows, err := repo.ListByDay(context.Background(), "2025-06-02")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, -500.0, rows[0].Realized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestViolationRepo_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewViolationRepo(db, time.Second)

	at := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO violations`).
		WithArgs("v-1", "ACC-1", "daily_loss", "limit breached", "flatten_all", -1200.0, -1000.0, at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Insert(context.Background(), persistence.Violation{
		ID:        "v-1",
		Account:   "ACC-1",
		PolicyID:  "daily_loss",
		Reason:    "limit breached",
		Action:    "flatten_all",
		Current:   -1200,
		Limit:     -1000,
		CreatedAt: at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
