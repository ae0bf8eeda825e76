// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"ventapos/internal/connectivity"
	"ventapos/internal/core/id"
	"ventapos/internal/domain/document"
	"ventapos/internal/domain/syncengine"
	"ventapos/internal/infrastructure/http/v1/handlers"
	"ventapos/internal/infrastructure/http/v1/middleware"
	"ventapos/internal/infrastructure/storage/localqueue"
	"ventapos/internal/infrastructure/storage/postgres"
	"ventapos/pkg/eventbus"
	"ventapos/pkg/logger"
)

// ServerConfig holds backend router dependencies.
type ServerConfig struct {
	Pool      *postgres.Pool
	Documents *document.Service
	Logger    *logger.Logger
}

// NewServerRouter configures the gin router for the backend API server.
func NewServerRouter(cfg ServerConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Order matters: recovery outermost, then request id, logging, errors.
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID(cfg.Logger))
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	docHandler := handlers.NewDocumentHandler(cfg.Documents)
	api := router.Group("/v1")
	{
		business := api.Group("/businesses/:businessID")
		business.POST("/documents", docHandler.Issue)
		business.POST("/documents/apply", docHandler.Apply)
		business.GET("/documents/local/:localID", docHandler.GetByLocalID)
		business.GET("/documents/:documentID", docHandler.Get)
		business.PUT("/documents/:documentID/status", docHandler.UpdateStatus)
		business.POST("/allocations", docHandler.Allocate)
		business.GET("/series", docHandler.ListSeries)
		business.PUT("/series/:documentType", docHandler.ConfigureSeries)
	}

	return router
}

// TerminalConfig holds terminal router dependencies.
type TerminalConfig struct {
	BusinessID id.ID
	Queue      *localqueue.Queue
	Engine     *syncengine.Engine
	Monitor    *connectivity.Monitor
	Bus        *eventbus.Bus
	Backend    handlers.Issuer
	Logger     *logger.Logger
}

// NewTerminalRouter configures the gin router for the terminal's local API.
func NewTerminalRouter(cfg TerminalConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID(cfg.Logger))
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorHandler())

	terminalHandler := handlers.NewTerminalHandler(
		cfg.BusinessID, cfg.Queue, cfg.Engine, cfg.Monitor, cfg.Bus, cfg.Backend)

	api := router.Group("/v1")
	{
		api.POST("/sales", terminalHandler.Capture)
		api.GET("/sales/pending/count", terminalHandler.PendingCount)
		api.DELETE("/sales/failed/:localID", terminalHandler.DiscardFailed)
		api.POST("/sync/trigger", terminalHandler.TriggerSync)
		api.GET("/sync/events", terminalHandler.Events)
		api.GET("/status", terminalHandler.Status)
	}

	return router
}
