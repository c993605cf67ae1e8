/*
main.go - Application entry point

PURPOSE:
  Command-line front end of the win/loss ledger engine. Loads
  configuration, wires the store, the components and the HTTP API, and
  runs either the server or a one-shot job.

COMMANDS:
  serve                    HTTP API + background rebate/reconcile loops
  rebate run [--day D]     Create the missing rebates of day D (default: yesterday)
  reconcile [--day D]      Reconcile day D, or yesterday and today

GLOBAL FLAGS:
  --config   YAML config file (default: $WINLOSS_CONFIG)
  --db       SQLite database path, overrides the config
             Use ":memory:" for in-memory database

STARTUP SEQUENCE (serve):
  1. Load config (defaults -> yaml -> .env -> env)
  2. Build logger, register metrics
  3. Open SQLite store, build handler and schedulers
  4. Start HTTP server and runners
  5. On SIGINT/SIGTERM: stop runners, drain requests (30s), close store

EXAMPLES:
  ./winloss-engine serve --config=./config.yaml
  ./winloss-engine rebate run --day=2025-03-10
  WINLOSS_DB_PATH=./data/winloss.db ./winloss-engine reconcile

SEE ALSO:
  - config/config.go: Settings and environment variables
  - api/server.go: Router configuration
  - api/scheduler.go: Background runners
*/
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/winloss-engine/api"
	"github.com/warp/winloss-engine/config"
	"github.com/warp/winloss-engine/generic"
	"github.com/warp/winloss-engine/logging"
	"github.com/warp/winloss-engine/metrics"
	"github.com/warp/winloss-engine/rebate"
	"github.com/warp/winloss-engine/reconcile"
	"github.com/warp/winloss-engine/store/sqlite"
)

var (
	configPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:           "winloss-engine",
	Short:         "Daily win/loss ledger and rebate engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// WIRING
// =============================================================================

// app is everything a command needs, built from configuration.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	calendar *generic.BusinessCalendar
	store    *sqlite.Store
	handler  *api.Handler
}

func bootstrap() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxDays:    cfg.Log.MaxDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init(prometheus.DefaultRegisterer)

	cal, err := generic.NewBusinessCalendar(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	rate, err := cfg.RebateRate()
	if err != nil {
		return nil, err
	}
	approval, err := rebate.ParseApproval(cfg.Rebate.Approval)
	if err != nil {
		return nil, err
	}
	precedence, err := reconcile.ParsePrecedence(cfg.Reconcile.Precedence)
	if err != nil {
		return nil, err
	}

	if path := cfg.Database.Path; path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	handler, err := api.NewHandler(store, cal, api.Options{
		Policy:     rebate.Policy{Rate: rate, Approval: approval},
		Precedence: precedence,
		Logger:     logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	logger.Info("engine configured",
		zap.String("timezone", cfg.Timezone),
		zap.String("db", cfg.Database.Path),
		zap.String("rebate_rate", rate.String()),
		zap.String("approval", string(approval)),
		zap.String("precedence", string(precedence)))

	return &app{cfg: cfg, logger: logger, calendar: cal, store: store, handler: handler}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
