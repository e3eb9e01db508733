/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine server. Handles configuration,
  dependency wiring and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from LEAVE_* environment variables
  2. Set up structured logging
  3. Open SQLite store
  4. Wire ledger, policy registry, workflow and scheduler
  5. Start HTTP server with graceful shutdown

CONFIGURATION (envconfig, prefix LEAVE_):
  LEAVE_PORT                HTTP port (default 8080)
  LEAVE_DB_PATH             SQLite path, ":memory:" works (default leave.db)
  LEAVE_LOG_FORMAT          "text" or "json" (default text)
  LEAVE_DIRECTORY_FILE      JSON file with directory users (optional)
  LEAVE_SCHEDULER_ENABLED   run accrual/carryover loop (default true)
  LEAVE_SCHEDULER_INTERVAL  tick interval (default 1h)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop the scheduler, stop accepting connections, wait
  up to 30s for in-flight requests, close the database.

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/directory"
	"github.com/warp/leave-engine/event"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/policy"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/workflow"
)

// Config is loaded from LEAVE_* environment variables.
type Config struct {
	Port              int           `envconfig:"PORT" default:"8080"`
	DBPath            string        `envconfig:"DB_PATH" default:"leave.db"`
	LogFormat         string        `envconfig:"LOG_FORMAT" default:"text"`
	DirectoryFile     string        `envconfig:"DIRECTORY_FILE"`
	SchedulerEnabled  bool          `envconfig:"SCHEDULER_ENABLED" default:"true"`
	SchedulerInterval time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"1h"`
}

func main() {
	var cfg Config
	if err := envconfig.Process("LEAVE", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	dir := directory.NewStatic()
	if cfg.DirectoryFile != "" {
		dir, err = directory.LoadFile(cfg.DirectoryFile)
		if err != nil {
			logger.Error("load directory", "error", err)
			os.Exit(1)
		}
	}

	sink := event.LogSink{Logger: logger}
	registry := policy.NewRegistry(store)
	ledgerSvc := ledger.NewService(store, registry,
		ledger.WithEvents(sink), ledger.WithLogger(logger))
	workflowSvc := workflow.NewService(store, store, ledgerSvc, registry, dir,
		workflow.WithEvents(sink), workflow.WithLogger(logger))

	sched := api.NewScheduler(ledgerSvc, registry, dir, logger)
	sched.Enabled = cfg.SchedulerEnabled
	sched.Interval = cfg.SchedulerInterval
	sched.Start()
	defer sched.Stop()

	h := api.NewHandler(workflowSvc, ledgerSvc, registry, dir, sched, logger)
	router := api.NewRouter(h)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
