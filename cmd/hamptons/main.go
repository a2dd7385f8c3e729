/*
main.go - Application entry point

PURPOSE:
  Runs the Hamptons attendance engine: the HTTP server with its background
  scheduler, and one-off commands for operators (consolidation, backfill,
  CrossChex sync, leave setup, token issue).

COMMANDS:
  serve                       HTTP server and scheduler
  consolidate [--date]        Consolidate one date (default today)
  backfill [--days] [--include-yesterday]
  sync                        Pull CrossChex records now
  refresh-token [--force]     Refresh the CrossChex token
  cleanup                     Apply log retention
  leave seed                  Create the Oman leave types and policy
  leave assign [--employee]   Assign the policy (all Active when omitted)
  leave import-balances FILE  Allocate with opening balances (.xlsx/.xls)
  token issue                 Print a bearer token for the admin API

STARTUP SEQUENCE (every command):
  1. Load .env and the environment (config.Load)
  2. Apply --db/--port overrides and validate
  3. Open the SQLite store and wire the services (api.NewHandler)

GRACEFUL SHUTDOWN (serve):
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests and queued backfills (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./hamptons serve --db ./data/hamptons.db

  # Rebuild the last 30 days
  ./hamptons backfill --days 30 --include-yesterday

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
  - api/scheduler.go: Background jobs
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamptons/attendance-engine/api"
	"github.com/hamptons/attendance-engine/auth"
	"github.com/hamptons/attendance-engine/config"
	"github.com/hamptons/attendance-engine/crosschex"
	"github.com/hamptons/attendance-engine/store/sqlite"
)

// app is what every command needs once config is loaded.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *sqlite.Store
	handler *api.Handler
}

type globalFlags struct {
	envFile string
	dbPath  string
	port    int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:          "hamptons",
		Short:        "Attendance consolidation, regularization and leave engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "SQLite database path (overrides DATABASE_PATH)")

	root.AddCommand(
		newServeCmd(&flags),
		newConsolidateCmd(&flags),
		newBackfillCmd(&flags),
		newSyncCmd(&flags),
		newRefreshTokenCmd(&flags),
		newCleanupCmd(&flags),
		newLeaveCmd(&flags),
		newTokenCmd(&flags),
	)
	return root
}

// setup loads config, opens the store and wires the handler. The caller
// closes the store.
func setup(flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.envFile)
	if err != nil {
		return nil, err
	}
	if flags.dbPath != "" {
		cfg.DatabasePath = flags.dbPath
	}
	if flags.port != 0 {
		cfg.HTTPPort = flags.port
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	h := api.NewHandler(store, api.Options{
		Logger:                 logger,
		HalfDayThreshold:       cfg.HalfDayLateThreshold,
		HalfDayLeaveType:       cfg.HalfDayLeaveType,
		RealtimeRegularization: cfg.RealtimeRegularization,
		SyncLookback:           cfg.SyncLookback,
		HTTPClientTimeout:      cfg.HTTPClientTimeout,
		LogRetentionDays:       cfg.LogRetentionDays,
	})

	a := &app{cfg: cfg, logger: logger, store: store, handler: h}
	if err := a.seedCrossChexSettings(context.Background()); err != nil {
		logger.Warn("crosschex settings not seeded from environment", "err", err)
	}
	return a, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("database close failed", "err", err)
	}
}

// seedCrossChexSettings copies CROSSCHEX_* into the stored settings when
// nothing has been configured through the API yet.
func (a *app) seedCrossChexSettings(ctx context.Context) error {
	if a.cfg.CrossChexAPIKey == "" || a.cfg.CrossChexAPISecret == "" {
		return nil
	}
	cur, err := a.store.GetSettings(ctx)
	if err != nil {
		return err
	}
	if cur.HasCredentials() {
		return nil
	}
	_, err = a.handler.CrossChex.UpdateSettings(ctx, crosschex.Settings{
		Enabled:          a.cfg.CrossChexAPIURL != "",
		APIURL:           a.cfg.CrossChexAPIURL,
		APIKey:           a.cfg.CrossChexAPIKey,
		APISecret:        a.cfg.CrossChexAPISecret,
		LogRetentionDays: a.cfg.LogRetentionDays,
	})
	if err == nil {
		a.logger.Info("crosschex settings seeded from environment")
	}
	return err
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve()
		},
	}
	cmd.Flags().IntVar(&flags.port, "port", 0, "HTTP server port (overrides HTTP_PORT)")
	return cmd
}

func (a *app) serve() error {
	ropts := api.RouterOptions{AllowedOrigins: a.cfg.AllowedOrigins}
	if a.cfg.AuthEnabled() {
		ropts.Auth = auth.NewIssuer(a.cfg.JWTSecret, a.cfg.JWTIssuer, a.cfg.JWTTTL)
	} else {
		a.logger.Warn("JWT_SECRET not set, admin API is unauthenticated")
	}
	router := api.NewRouter(a.handler, ropts)

	clock, err := a.cfg.ConsolidationClock()
	if err != nil {
		return err
	}
	scheduler := api.NewScheduler(a.handler)
	scheduler.Enabled = a.cfg.SchedulerEnabled
	scheduler.ConsolidationTime = clock
	scheduler.TokenRefreshInterval = a.cfg.TokenRefreshInterval
	scheduler.SyncInterval = a.cfg.SyncInterval
	scheduler.CleanupInterval = a.cfg.CleanupInterval
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", "addr", server.Addr, "env", a.cfg.Environment, "db", a.cfg.DatabasePath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		a.logger.Info("shutting down", "signal", sig.String())
	}

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	done := make(chan struct{})
	go func() {
		a.handler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("background jobs still running at shutdown")
	}

	a.logger.Info("server stopped")
	return nil
}
