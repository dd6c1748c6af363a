package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flatguard/flatguard/internal/clock"
	"github.com/flatguard/flatguard/internal/enforce"
	"github.com/flatguard/flatguard/internal/engine"
	"github.com/flatguard/flatguard/internal/events"
	"github.com/flatguard/flatguard/internal/lockout"
	"github.com/flatguard/flatguard/internal/metrics"
	"github.com/flatguard/flatguard/internal/persistence/memory"
	"github.com/flatguard/flatguard/internal/pnl"
	"github.com/flatguard/flatguard/internal/policy"
	"github.com/flatguard/flatguard/internal/positions"
	"github.com/flatguard/flatguard/internal/timers"
)

func newTestServer(t *testing.T) (*Server, *lockout.Store, *pnl.Aggregator, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC))
	tm := timers.NewService(clk)
	store := lockout.NewStore(memory.NewLockoutRepo(), tm, clk)
	agg := pnl.NewAggregator(nil, memory.NewDailyPnLRepo(), clk, time.UTC, 17*time.Hour)
	book := positions.NewBook()
	m := metrics.NewRegistry()

	svc := &policy.Services{
		PnL: agg, Lockouts: store, Timers: tm, Book: book,
		Protective: book, Clock: clk,
		NextReset: func(t time.Time) time.Time { return t.Add(8 * time.Hour) },
	}
	eng := engine.New(svc, events.NewMemoryDeduper(clk, time.Minute), enforce.LogExecutor{}, nil, m)

	return NewServer("127.0.0.1:0", store, agg, eng, m, clk), store, agg, clk
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	w := get(t, s, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_LockoutsListsActiveWithRemaining(t *testing.T) {
	s, store, _, clk := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, store.SetHardLockout(ctx, "ACC-1", "loss limit", clk.Now().Add(90*time.Minute)))

	w := get(t, s, "/lockouts")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Active []struct {
			Account   string `json:"account"`
			Kind      string `json:"kind"`
			Remaining string `json:"remaining"`
		} `json:"active"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "ACC-1", body.Active[0].Account)
	assert.Equal(t, "hard_lockout", body.Active[0].Kind)
	assert.Equal(t, "1h30m0s", body.Active[0].Remaining)
}

func TestServer_PnL(t *testing.T) {
	s, _, agg, _ := newTestServer(t)
	_, err := agg.RecordRealized(context.Background(), "ACC-1", -420.50)
	require.NoError(t, err)

	w := get(t, s, "/pnl")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Realized map[string]float64 `json:"realized"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, -420.50, body.Realized["ACC-1"])
}

func TestServer_ViolationsEmpty(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	w := get(t, s, "/violations")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "violations")
}

func TestServer_MetricsExposition(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	w := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestServer_RejectsWrites(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/lockouts", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
