/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the installment sales server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config (file, .env, environment)
  2. Build the zap logger
  3. Open the configured store (SQLite or PostgreSQL)
  4. Wire allocator, withdrawal scheduler and API handler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    HTTP server port, overrides server.port
  -db      Database DSN, overrides database.dsn
           Use ":memory:" with the sqlite driver for an in-memory database

ENVIRONMENT:
  INSTALLMENTS_* variables, e.g. INSTALLMENTS_DATABASE_DRIVER=postgres.
  See config/config.go for every key.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout, 30s)
  4. Close database connection

EXAMPLES:
  ./server -db="./data/installments.db"
  ./server -config=config.yaml -port=3000
  INSTALLMENTS_DATABASE_DRIVER=postgres INSTALLMENTS_DATABASE_DSN=postgres://... ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/installments/api"
	"github.com/warp/installments/config"
	"github.com/warp/installments/installment"
	"github.com/warp/installments/logger"
	"github.com/warp/installments/store/postgres"
	"github.com/warp/installments/store/sqlite"
)

type backend interface {
	api.Backend
	Close() error
}

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.String("port", "", "HTTP server port (overrides config)")
	dsn := flag.String("db", "", "Database DSN (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}

	appLogger, err := logger.New(cfg.Server.Mode)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer appLogger.Sync()

	// Initialize store
	store, err := openStore(context.Background(), cfg.Database)
	if err != nil {
		appLogger.Fatal("Failed to initialize database",
			zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer store.Close()

	// Wire the engine
	allocator := installment.NewAllocator(store, store, store, appLogger.Named("allocator"))
	allocator.Splitter.MinAmount = installment.Amount(cfg.Allocation.MinReferenceAmount)
	allocator.Splitter.MaxReferences = cfg.Allocation.MaxReferences
	allocator.Schedule.Location = cfg.Allocation.Location()

	scheduler := api.NewWithdrawalScheduler(store, appLogger)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Spec = cfg.Scheduler.Cron
	scheduler.LookaheadDays = cfg.Scheduler.LookaheadDays
	if err := scheduler.Start(); err != nil {
		appLogger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	handler := api.NewHandler(store, allocator, scheduler, appLogger.Named("api"))
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		appLogger.Info("Server starting",
			zap.String("addr", server.Addr),
			zap.String("mode", cfg.Server.Mode),
			zap.String("driver", cfg.Database.Driver),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	appLogger.Info("Server stopped")
}

func openStore(ctx context.Context, db config.DatabaseConfig) (backend, error) {
	switch db.Driver {
	case "postgres":
		store, err := postgres.New(ctx, db.DSN, postgres.Options{
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		store, err := sqlite.New(db.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", db.Driver)
	}
}
