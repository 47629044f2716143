package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/example/posync/internal/config"
	"github.com/example/posync/internal/database"
	"github.com/example/posync/internal/logger"
	"github.com/example/posync/internal/routes"
	"github.com/example/posync/internal/services"
	"github.com/example/posync/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := logger.InitLogger(&logger.LogConfig{
		Level:       cfg.LogLevel,
		Environment: cfg.AppEnv,
		ServiceName: "posync-server",
	})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	var st store.Store
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store, data is lost on restart")
		st = store.NewMemoryStore()
	default:
		st = store.NewGormStore(database.Connect(cfg.DatabaseURL, log))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewSyncMetrics(reg)

	tokens := services.NewTokenCache()
	posHTTP := &http.Client{Timeout: cfg.POSHTTPTimeout}

	orchestrator := services.NewSyncOrchestrator(st,
		services.NewToastSourceFactory(tokens, posHTTP, log, metrics),
		services.WithOrchestratorLogger(log),
		services.WithOrchestratorMetrics(metrics),
		services.WithLookback(cfg.SyncLookback),
	)

	app := fiber.New(fiber.Config{
		AppName: "POS Sync",
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New())

	routes.Register(app, cfg, routes.Dependencies{
		Store:        st,
		Orchestrator: orchestrator,
		Tokens:       tokens,
		HTTPClient:   posHTTP,
		Metrics:      metrics,
		Gatherer:     reg,
		Logger:       log,
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit

		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Error("server shutdown failed", zap.Error(err))
		}
	}()

	log.Info("starting server", zap.String("port", cfg.AppPort), zap.String("store", cfg.StoreDriver))
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		log.Fatal("fiber.Listen error", zap.Error(err))
	}
}
