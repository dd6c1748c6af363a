// Package ops serves the read-only observability surface: health, Prometheus
// metrics, active lockouts, daily P&L, and recent violations. It never mutates
// guardrail state.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/flatguard/flatguard/internal/clock"
	"github.com/flatguard/flatguard/internal/engine"
	"github.com/flatguard/flatguard/internal/lockout"
	"github.com/flatguard/flatguard/internal/metrics"
	"github.com/flatguard/flatguard/internal/pnl"
)

// Server is the read-only HTTP server.
type Server struct {
	server   *http.Server
	router   *mux.Router
	lockouts *lockout.Store
	pnl      *pnl.Aggregator
	engine   *engine.Engine
	clk      clock.Clock
	started  time.Time
}

// NewServer wires the ops routes. Local-only binding is the caller's default.
func NewServer(addr string, lo *lockout.Store, agg *pnl.Aggregator, eng *engine.Engine, m *metrics.Registry, clk clock.Clock) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		lockouts: lo,
		pnl:      agg,
		engine:   eng,
		clk:      clk,
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(m.Prometheus(), promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/lockouts", s.handleLockouts).Methods("GET")
	s.router.HandleFunc("/pnl", s.handlePnL).Methods("GET")
	s.router.HandleFunc("/violations", s.handleViolations).Methods("GET")

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown. It returns on listener failure.
func (s *Server) Start() error {
	s.started = time.Now()
	log.Info().Str("addr", s.server.Addr).Msg("Ops server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "ok",
		"uptime_s":  int(time.Since(s.started).Seconds()),
		"timestamp": s.clk.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleLockouts(w http.ResponseWriter, r *http.Request) {
	active, err := s.lockouts.ListActive(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	now := s.clk.Now()
	type row struct {
		Account   string `json:"account"`
		Kind      string `json:"kind"`
		Reason    string `json:"reason"`
		ExpiresAt string `json:"expires_at"`
		Remaining string `json:"remaining"`
	}
	rows := make([]row, 0, len(active))
	for _, l := range active {
		rows = append(rows, row{
			Account:   l.Account,
			Kind:      string(l.Kind),
			Reason:    l.Reason,
			ExpiresAt: l.ExpiresAt.Format(time.RFC3339),
			Remaining: l.Remaining(now).Truncate(time.Second).String(),
		})
	}
	s.writeJSON(w, map[string]any{"active": rows, "count": len(rows)})
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	totals := make(map[string]float64)
	for _, acct := range s.pnl.Accounts() {
		totals[acct] = s.pnl.Realized(acct)
	}
	s.writeJSON(w, map[string]any{"realized": totals})
}

func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"violations": s.engine.RecentViolations(50)})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode ops response")
	}
}
