package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flatguard/flatguard/internal/clock"
	"github.com/flatguard/flatguard/internal/config"
	"github.com/flatguard/flatguard/internal/enforce"
	"github.com/flatguard/flatguard/internal/engine"
	"github.com/flatguard/flatguard/internal/events"
	"github.com/flatguard/flatguard/internal/lockout"
	"github.com/flatguard/flatguard/internal/metrics"
	"github.com/flatguard/flatguard/internal/ops"
	"github.com/flatguard/flatguard/internal/persistence"
	"github.com/flatguard/flatguard/internal/persistence/memory"
	"github.com/flatguard/flatguard/internal/persistence/postgres"
	"github.com/flatguard/flatguard/internal/pnl"
	"github.com/flatguard/flatguard/internal/policy"
	"github.com/flatguard/flatguard/internal/positions"
	"github.com/flatguard/flatguard/internal/resets"
	"github.com/flatguard/flatguard/internal/stream"
	"github.com/flatguard/flatguard/internal/timers"
)

func runDaemon(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	setLogLevel(logLevel)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	loc := cfg.Location()

	var (
		lockRepo persistence.LockoutRepo
		pnlRepo  persistence.DailyPnLRepo
		vioRepo  persistence.ViolationRepo
	)
	if cfg.Storage.DSN != "" {
		db, err := postgres.Open(cfg.Storage.DSN, cfg.Storage.MaxConns)
		if err != nil {
			return err
		}
		defer db.Close()
		lockRepo = postgres.NewLockoutRepo(db, cfg.StorageTimeout())
		pnlRepo = postgres.NewDailyPnLRepo(db, cfg.StorageTimeout())
		vioRepo = postgres.NewViolationRepo(db, cfg.StorageTimeout())
	} else {
		log.Warn().Msg("No storage DSN configured; lockouts will not survive a restart")
		lockRepo = memory.NewLockoutRepo()
		pnlRepo = memory.NewDailyPnLRepo()
		vioRepo = memory.NewViolationRepo()
	}

	tm := timers.NewService(clk)
	store := lockout.NewStore(lockRepo, tm, clk)
	agg := pnl.NewAggregator(cfg.Instruments, pnlRepo, clk, loc, cfg.ResetOffset())
	book := positions.NewBook()
	m := metrics.NewRegistry()

	sched, err := resets.New(cfg.Schedule.DailyReset, cfg.Schedule.Timezone, clk)
	if err != nil {
		return err
	}

	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("lockout recovery failed: %w", err)
	}
	if err := agg.Load(ctx); err != nil {
		return fmt.Errorf("pnl recovery failed: %w", err)
	}

	// LogExecutor is the shipped executor: decisions and lockouts are real,
	// broker actions are only logged. A connectivity layer implements
	// enforce.Executor and replaces it here.
	log.Warn().Msg("No broker executor wired; enforcement intents are logged, not dispatched")
	executor := enforce.NewGuardedExecutor(enforce.LogExecutor{},
		time.Duration(cfg.Executor.CallTimeoutSeconds)*time.Second,
		cfg.Executor.CallsPerSecond)

	svc := &policy.Services{
		PnL:        agg,
		Lockouts:   store,
		Timers:     tm,
		Book:       book,
		Protective: book,
		Clock:      clk,
		NextReset:  sched.NextFire,
	}

	eng := engine.New(svc, events.NewAutoDeduper(clk, cfg.DedupTTL()), executor, vioRepo, m)
	registerPolicies(eng, cfg, loc)
	log.Info().Strs("policies", eng.Policies()).Msg("Policies registered")

	registerResets(sched, cfg, agg, store, book, m)

	opsAddr := fmt.Sprintf("%s:%d", cfg.Ops.Host, cfg.Ops.Port)
	opsServer := ops.NewServer(opsAddr, store, agg, eng, m, clk)

	go tm.Run(ctx)
	go store.RunSweep(ctx, cfg.SweepInterval())
	go sched.Run(ctx)
	go eng.Run(ctx)
	go func() {
		if err := opsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Ops server exited")
		}
	}()
	if cfg.Feed.URL != "" {
		feed := stream.NewFeed(cfg.Feed.URL, eng, m)
		go feed.Run(ctx)
	} else {
		log.Warn().Msg("No feed URL configured; engine only receives submitted events")
	}

	log.Info().
		Strs("accounts", cfg.Accounts).
		Str("reset", cfg.Schedule.DailyReset).
		Str("timezone", cfg.Schedule.Timezone).
		Msg("Guardrail running")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ops server shutdown failed")
	}
	tm.Stop()
	return nil
}

// registerPolicies wires enabled policies in a fixed, deterministic order:
// account-level kill switches first, then position rules, then pacing rules.
func registerPolicies(eng *engine.Engine, cfg *config.Config, loc *time.Location) {
	p := cfg.Policies
	if p.AuthStatus.Enabled {
		eng.Register(&policy.AuthStatus{})
	}
	if p.DailyLoss.Enabled {
		eng.Register(&policy.DailyLoss{
			Limit:             p.DailyLoss.Limit,
			IncludeUnrealized: p.DailyLoss.IncludeUnrealized,
		})
	}
	if p.DailyProfit.Enabled {
		eng.Register(&policy.DailyProfit{Target: p.DailyProfit.Target})
	}
	if p.MaxPosition.Enabled {
		eng.Register(&policy.MaxPosition{MaxContracts: p.MaxPosition.MaxContracts})
	}
	if p.TradeFrequency.Enabled {
		eng.Register(&policy.TradeFrequency{
			MaxEntries: p.TradeFrequency.MaxEntries,
			Window:     time.Duration(p.TradeFrequency.WindowSeconds) * time.Second,
			Cooldown:   time.Duration(p.TradeFrequency.CooldownSeconds) * time.Second,
		})
	}
	if p.ProtectiveGrace.Enabled {
		eng.Register(&policy.ProtectiveGrace{
			Grace: time.Duration(p.ProtectiveGrace.GraceSeconds) * time.Second,
		})
	}
	if p.SessionHours.Enabled {
		eng.Register(&policy.SessionHours{
			Open:     cfg.Schedule.SessionOpen,
			Close:    cfg.Schedule.SessionClose,
			Location: loc,
		})
	}
}

// registerResets wires the daily boundary actions: zero realized P&L, lift
// session blocks and cooldowns, clear frequency counters. Hard lockouts ride
// through resets only when their expiry is later.
func registerResets(sched *resets.Scheduler, cfg *config.Config, agg *pnl.Aggregator, store *lockout.Store, book *positions.Book, m *metrics.Registry) {
	sched.Register("reset_pnl", func(ctx context.Context) error {
		for _, acct := range cfg.Accounts {
			if err := agg.ResetDaily(ctx, acct); err != nil {
				return err
			}
			m.RealizedPnL.WithLabelValues(acct).Set(0)
		}
		return nil
	})
	sched.Register("clear_session_blocks", func(ctx context.Context) error {
		_, err := store.ClearKind(ctx, persistence.KindSessionBlock)
		return err
	})
	sched.Register("clear_cooldowns", func(ctx context.Context) error {
		_, err := store.ClearKind(ctx, persistence.KindCooldown)
		return err
	})
	sched.Register("clear_frequency_counters", func(ctx context.Context) error {
		for _, acct := range cfg.Accounts {
			book.ResetCounters(acct)
		}
		return nil
	})
	sched.Register("count_reset", func(context.Context) error {
		m.ResetsFired.Inc()
		return nil
	})
}

func runLockouts(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Storage.DSN == "" {
		return fmt.Errorf("no storage DSN configured; nothing to list")
	}

	db, err := postgres.Open(cfg.Storage.DSN, cfg.Storage.MaxConns)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StorageTimeout())
	defer cancel()

	rows, err := postgres.NewLockoutRepo(db, cfg.StorageTimeout()).ListActive(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No active lockouts.")
		return nil
	}

	now := time.Now()
	fmt.Printf("%-16s %-14s %-10s %s\n", "ACCOUNT", "KIND", "REMAINING", "REASON")
	for _, l := range rows {
		fmt.Printf("%-16s %-14s %-10s %s\n",
			l.Account, l.Kind, l.Remaining(now).Round(time.Second), l.Reason)
	}
	return nil
}
