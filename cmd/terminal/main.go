// Package main is the entry point for the VentaPOS terminal agent. It runs
// next to the register UI on each point-of-sale machine: captures sales into
// a durable local queue when the backend is unreachable, watches
// connectivity, and drains the queue through the sync engine once the link
// comes back.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ventapos/internal/connectivity"
	"ventapos/internal/core/id"
	"ventapos/internal/domain/syncengine"
	"ventapos/internal/infrastructure/backend"
	v1 "ventapos/internal/infrastructure/http/v1"
	"ventapos/internal/infrastructure/storage/localqueue"
	"ventapos/pkg/eventbus"
	"ventapos/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err == nil {
		fmt.Println("loaded environment from .env")
	}

	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	businessID, err := id.Parse(mustEnv("BUSINESS_ID"))
	if err != nil {
		log.Fatalw("BUSINESS_ID is not a valid UUID", "error", err)
	}

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Infow("starting ventapos terminal", "business_id", businessID.String())

	// --- Offline queue ---
	queueCfg := localqueue.DefaultConfig(getEnv("QUEUE_PATH", "ventapos-queue.db"))
	if retries := getEnvInt("SYNC_MAX_RETRIES", 0); retries > 0 {
		queueCfg.MaxRetries = retries
	}

	queue, err := localqueue.Open(queueCfg, log)
	if err != nil {
		log.Fatalw("failed to open offline queue", "error", err)
	}
	defer queue.Close()

	// A previous run may have died mid-sync. Put its leftovers back in play
	// and drop anything whose write was already confirmed.
	if reset, err := queue.ResetStale(ctx, 0); err != nil {
		log.Warnw("failed to reset stale sales", "error", err)
	} else if reset > 0 {
		log.Infow("reset stale syncing sales to pending", "count", reset)
	}
	if purged, err := queue.PurgeSynced(ctx); err != nil {
		log.Warnw("failed to purge synced sales", "error", err)
	} else if purged > 0 {
		log.Infow("purged confirmed sales left by a previous run", "count", purged)
	}

	// --- Backend client and sync engine ---
	backendURL := mustEnv("BACKEND_URL")
	client := backend.New(backendURL, getEnvDuration("BACKEND_TIMEOUT", 15*time.Second))

	bus := eventbus.New(log)
	engine := syncengine.New(queue, client, client, bus, log)

	// --- Connectivity monitor ---
	monitorCfg := connectivity.DefaultConfig(getEnv("PROBE_URL", backendURL+"/health/ready"))
	if interval := getEnvDuration("PROBE_INTERVAL", 0); interval > 0 {
		monitorCfg.Interval = interval
	}
	if debounce := getEnvDuration("RECONNECT_DEBOUNCE", 0); debounce > 0 {
		monitorCfg.Debounce = debounce
	}

	monitor := connectivity.NewMonitor(monitorCfg, func(ctx context.Context) {
		if _, err := engine.Run(ctx, businessID); err != nil {
			logger.Warn(ctx, "auto sync failed", "error", err)
		}
	})
	go monitor.Run(ctx)

	// --- Local API ---
	router := v1.NewTerminalRouter(v1.TerminalConfig{
		BusinessID: businessID,
		Queue:      queue,
		Engine:     engine,
		Monitor:    monitor,
		Bus:        bus,
		Backend:    client,
		Logger:     log,
	})

	port := getEnv("TERMINAL_PORT", "8090")
	server := &http.Server{
		Addr:         "127.0.0.1:" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("terminal API starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("terminal API failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down terminal...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("terminal API forced to shutdown", "error", err)
	}

	log.Info("terminal stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
