/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the depreciation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Set up structured logging
  3. Open the store (sqlite, postgres or memory)
  4. Load fixtures, if configured
  5. Start the posting scheduler
  6. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS (override environment):
  -env       .env file to load (default: .env, ignored when missing)
  -port      HTTP server port
  -driver    Store driver: sqlite, postgres, memory
  -db        SQLite database path (":memory:" for in-memory)
  -fixtures  YAML/JSON asset file loaded at start-up

ENVIRONMENT:
  See config/config.go. Every setting is DEPRECIATION_*.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the posting scheduler (waits for an in-flight run)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store

EXAMPLES:
  ./server -db="./data/assets.db" -fixtures=./fixtures/assets.yaml
  DEPRECIATION_DB_DRIVER=postgres DEPRECIATION_DATABASE_URL=postgres://... ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Posting scheduler
  - store/open.go: Store selection
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/depreciation-engine/api"
	"github.com/warp/depreciation-engine/config"
	"github.com/warp/depreciation-engine/depreciation"
	"github.com/warp/depreciation-engine/logger"
	"github.com/warp/depreciation-engine/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := flag.String("env", ".env", ".env file to load")
	port := flag.Int("port", 0, "HTTP server port")
	driver := flag.String("driver", "", "store driver: sqlite, postgres, memory")
	dbPath := flag.String("db", "", "SQLite database path")
	fixtures := flag.String("fixtures", "", "YAML/JSON asset fixtures loaded at start-up")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *driver != "" {
		cfg.DBDriver = *driver
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *fixtures != "" {
		cfg.Fixtures = *fixtures
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.Setup(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx := context.Background()
	backend, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}
	defer backend.Close()
	log.Info("store opened", "driver", cfg.DBDriver)

	engine := depreciation.NewEngine()
	engine.DecliningLifeFactor = cfg.DecliningLifeFactor

	handler := api.NewHandler(backend, engine, log)
	if cfg.Fixtures != "" {
		if _, err := handler.LoadFixtureFile(ctx, cfg.Fixtures); err != nil {
			return err
		}
	}

	scheduler := handler.Scheduler
	scheduler.Enabled = cfg.PostingEnabled
	scheduler.Interval = cfg.PostingInterval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", server.Addr, "api", fmt.Sprintf("http://localhost:%d/api", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
