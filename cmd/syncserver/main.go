// Command syncserver runs the record synchronization HTTP server.
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

	syncserver "github.com/c0deZ3R0/go-sync-server"
	"github.com/c0deZ3R0/go-sync-server/config"
	"github.com/c0deZ3R0/go-sync-server/fanout"
	"github.com/c0deZ3R0/go-sync-server/fanout/kafkabus"
	"github.com/c0deZ3R0/go-sync-server/fanout/pgbus"
	"github.com/c0deZ3R0/go-sync-server/logging"
	"github.com/c0deZ3R0/go-sync-server/storage/memory"
	"github.com/c0deZ3R0/go-sync-server/storage/postgres"
	"github.com/c0deZ3R0/go-sync-server/storage/sqlite"
	"github.com/c0deZ3R0/go-sync-server/transport/httptransport"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "syncserver:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	logger := logging.Default()

	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	bus, err := buildBus(cfg, store, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to open bus: %w", err)
	}

	service := syncserver.NewService(store, bus, logger)
	// Close shuts down the bus and the store as well.
	defer service.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := service.Start(ctx); err != nil {
		return err
	}

	handler := httptransport.NewSyncHandler(service, logger)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
		// No WriteTimeout: the subscribe stream stays open indefinitely.
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sync server listening",
			slog.String("addr", cfg.HTTPAddr),
			slog.String("store", cfg.StoreDriver),
			slog.String("bus", cfg.BusDriver),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func buildStore(cfg *config.Config) (syncserver.SyncStore, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite:
		return sqlite.NewWithDataSource(cfg.SQLitePath)
	case config.StorePostgres:
		return postgres.New(postgres.DefaultConfig(cfg.DatabaseURL))
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func buildBus(cfg *config.Config, store syncserver.SyncStore, logger *logging.Logger) (fanout.Bus, error) {
	switch cfg.BusDriver {
	case config.BusMemory:
		return fanout.NewMemoryBus(), nil
	case config.BusPostgres:
		// Share the store's pool for publishing when the store is postgres too.
		if pgStore, ok := store.(*postgres.PostgresSyncStore); ok {
			return pgbus.NewWithDB(pgStore.DB(), &pgbus.Config{ConnectionString: cfg.DatabaseURL}, logger)
		}
		return pgbus.New(&pgbus.Config{ConnectionString: cfg.DatabaseURL}, logger)
	case config.BusKafka:
		return kafkabus.New(&kafkabus.Config{
			Brokers: cfg.KafkaBrokersList(),
			Topic:   cfg.KafkaTopic,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.BusDriver)
	}
}
