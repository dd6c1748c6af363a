package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "flatguard"
	version = "v0.4.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Automated trading-risk guardrail",
		Version: version,
		Long: `flatguard watches a trading account's event stream and enforces the
configured risk policies: daily loss and profit limits, position caps, trade
frequency cooldowns, protective-order grace periods, session hours, and
authorization status. Breaches flatten, reduce, or lock the account out with
bounded latency and at-most-once enforcement.`,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the guardrail daemon",
		RunE:  runDaemon,
	}
	runCmd.Flags().String("config", "config.yaml", "Path to configuration file")
	runCmd.Flags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")

	lockoutsCmd := &cobra.Command{
		Use:   "lockouts",
		Short: "List active lockouts from the durable store",
		RunE:  runLockouts,
	}
	lockoutsCmd.Flags().String("config", "config.yaml", "Path to configuration file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(lockoutsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("Unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
