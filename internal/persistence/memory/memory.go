// Package memory provides in-process implementations of the persistence
// repositories. They back tests and runs where no database is configured;
// semantics mirror the postgres implementations.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flatguard/flatguard/internal/persistence"
)

// LockoutRepo is an in-memory persistence.LockoutRepo.
type LockoutRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []persistence.Lockout
}

// NewLockoutRepo creates an empty in-memory lockout repository.
func NewLockoutRepo() *LockoutRepo {
	return &LockoutRepo{nextID: 1}
}

func (r *LockoutRepo) Insert(_ context.Context, l persistence.Lockout) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.rows {
		if r.rows[i].Account == l.Account && r.rows[i].Active {
			r.rows[i].Active = false
		}
	}
	l.ID = r.nextID
	l.Active = true
	r.nextID++
	r.rows = append(r.rows, l)
	return l.ID, nil
}

func (r *LockoutRepo) Deactivate(_ context.Context, account string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := false
	for i := range r.rows {
		if r.rows[i].Account == account && r.rows[i].Active {
			r.rows[i].Active = false
			found = true
		}
	}
	if !found {
		return persistence.ErrNotFound
	}
	return nil
}

func (r *LockoutRepo) DeactivateExpired(_ context.Context, asOf time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for i := range r.rows {
		if r.rows[i].Active && !r.rows[i].ExpiresAt.After(asOf) {
			r.rows[i].Active = false
			n++
		}
	}
	return n, nil
}

func (r *LockoutRepo) ActiveByAccount(_ context.Context, account string) (*persistence.Lockout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.rows) - 1; i >= 0; i-- {
		if r.rows[i].Account == account && r.rows[i].Active {
			l := r.rows[i]
			return &l, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (r *LockoutRepo) ListActive(_ context.Context) ([]persistence.Lockout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []persistence.Lockout
	for _, l := range r.rows {
		if l.Active {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out, nil
}

// All returns every row, active or not, for audit inspection in tests.
func (r *LockoutRepo) All() []persistence.Lockout {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]persistence.Lockout(nil), r.rows...)
}

// DailyPnLRepo is an in-memory persistence.DailyPnLRepo.
type DailyPnLRepo struct {
	mu   sync.Mutex
	rows map[string]map[string]float64 // day -> account -> realized
}

// NewDailyPnLRepo creates an empty in-memory daily P&L repository.
func NewDailyPnLRepo() *DailyPnLRepo {
	return &DailyPnLRepo{rows: make(map[string]map[string]float64)}
}

func (r *DailyPnLRepo) AddRealized(_ context.Context, account, day string, amount float64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rows[day] == nil {
		r.rows[day] = make(map[string]float64)
	}
	r.rows[day][account] += amount
	return r.rows[day][account], nil
}

func (r *DailyPnLRepo) Get(_ context.Context, account, day string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[day][account], nil
}

func (r *DailyPnLRepo) Reset(_ context.Context, account, day string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rows[day] != nil {
		r.rows[day][account] = 0
	}
	return nil
}

func (r *DailyPnLRepo) ListByDay(_ context.Context, day string) ([]persistence.DailyPnL, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []persistence.DailyPnL
	for account, realized := range r.rows[day] {
		out = append(out, persistence.DailyPnL{Account: account, Day: day, Realized: realized})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out, nil
}

// ViolationRepo is an in-memory persistence.ViolationRepo.
type ViolationRepo struct {
	mu   sync.Mutex
	rows []persistence.Violation
}

// NewViolationRepo creates an empty in-memory violation repository.
func NewViolationRepo() *ViolationRepo {
	return &ViolationRepo{}
}

func (r *ViolationRepo) Insert(_ context.Context, v persistence.Violation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, v)
	return nil
}

func (r *ViolationRepo) ListRecent(_ context.Context, limit int) ([]persistence.Violation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := append([]persistence.Violation(nil), r.rows...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
