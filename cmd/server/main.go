// Package main is the entry point for the VentaPOS backend API server.
// It owns the durable series counters and the issued-document store that
// every terminal of a business synchronizes against.
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

	"ventapos/internal/domain/allocator"
	"ventapos/internal/domain/document"
	v1 "ventapos/internal/infrastructure/http/v1"
	"ventapos/internal/infrastructure/storage/postgres"
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

	ctx := logger.WithLogger(context.Background(), log)
	log.Info("starting ventapos server")

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(mustEnv("DATABASE_URL"))
	if maxConns := getEnvInt("DB_MAX_CONNS", 0); maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	if getEnv("AUTO_MIGRATE", "false") == "true" {
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			log.Fatalw("migrations failed", "error", err)
		}
	}

	// --- Wiring ---
	txManager := postgres.NewTxManager(pool)
	seriesStore := postgres.NewSeriesStore(txManager)
	docRepo := postgres.NewDocumentRepo(txManager)

	allocCfg := allocator.DefaultConfig()
	if attempts := getEnvInt("ALLOCATOR_MAX_ATTEMPTS", 0); attempts > 0 {
		allocCfg.MaxAttempts = attempts
	}
	allocService := allocator.New(seriesStore, allocCfg)

	docService := document.NewService(allocService, docRepo, seriesStore, txManager)

	router := v1.NewServerRouter(v1.ServerConfig{
		Pool:      pool,
		Documents: docService,
		Logger:    log,
	})

	// --- HTTP server ---
	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
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
