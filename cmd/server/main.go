/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the allocation reserve engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration (.env overlay supported)
  2. Parse command-line flags (flags win over environment)
  3. Initialize SQLite store
  4. Start the notification dispatcher
  5. Wire the engine and HTTP router
  6. Start the approval sweep
  7. Serve with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: env PORT or 8080)
  -db      SQLite database path (default: env DB_PATH or ./reserves.db)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections (30s drain)
  2. Stop the approval sweep
  3. Drain the notification queue
  4. Close the database connection

SEE ALSO:
  - config/config.go: Environment configuration
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/allocation-engine/api"
	"github.com/warp/allocation-engine/config"
	"github.com/warp/allocation-engine/notify"
	"github.com/warp/allocation-engine/reserve"
	"github.com/warp/allocation-engine/store/sqlite"
)

func main() {
	cfg := config.Load()

	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	logger := newLogger(cfg.LogLevel)

	// Store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	// Notification dispatcher (fire-and-forget outbound queue)
	dispatcher := notify.NewDispatcher(&notify.LogSink{Log: logger}, cfg.NotifyBuffer, logger)
	dispatcher.Start()
	defer dispatcher.Stop()

	// Engine
	engine := reserve.NewEngine(store, store, dispatcher, &api.Routes{BaseURL: cfg.BaseURL}, logger)

	// HTTP
	handler := api.NewHandler(engine, store, cfg.InstanceName, logger)
	router := api.NewRouter(handler)

	// Approval sweep
	sweep := api.NewApprovalSweep(store, engine, logger)
	if cfg.ApprovalSweepMinutes > 0 {
		sweep.CheckInterval = time.Duration(cfg.ApprovalSweepMinutes) * time.Minute
		sweep.Start()
		defer sweep.Stop()
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: router,
	}

	// Serve
	go func() {
		logger.Info().Int("port", *port).Str("db", *dbPath).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}
