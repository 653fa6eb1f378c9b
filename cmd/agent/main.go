package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/truetrek/agent/internal/bridge"
	"github.com/truetrek/agent/internal/config"
	"github.com/truetrek/agent/internal/handlers"
	custommw "github.com/truetrek/agent/internal/middleware"
	"github.com/truetrek/agent/internal/models"
	"github.com/truetrek/agent/internal/observability"
	"github.com/truetrek/agent/internal/repository"
	"github.com/truetrek/agent/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize telemetry
	telemetry, err := observability.Initialize(ctx, observability.NewConfig("truetrek-agent", "1.0.0"))
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	// Initialize database and repositories
	log.Println("Using SQLite queue store")
	sqlDB, err := repository.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize SQLite database: %v", err)
	}
	defer sqlDB.Close()

	db, err := observability.NewTraceDB(sqlDB)
	if err != nil {
		log.Fatalf("Failed to initialize database instrumentation: %v", err)
	}

	queueRepo := repository.NewQueueRepository(db)
	metaRepo := repository.NewMetaRepository(db)

	// Keep only the bcrypt hash of the control key at rest
	if err := custommw.StoreKeyHash(ctx, metaRepo, cfg.Security.APIKey); err != nil {
		log.Fatalf("Failed to store control key hash: %v", err)
	}

	// Initialize services
	syncMetrics, err := observability.NewSyncMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize sync metrics: %v", err)
	}

	bus := services.NewEventBus()
	delivery := services.NewHTTPDeliveryClient(cfg.Server)
	watcher := services.NewConnectivityWatcher(cfg.Server, bus)
	captureService := services.NewCaptureService(queueRepo, bus, syncMetrics, cfg.Capture)
	syncService := services.NewSyncService(
		queueRepo, metaRepo, delivery, watcher, bus, syncMetrics,
		time.Duration(cfg.Server.DeliveryTimeoutSecs)*time.Second,
	)

	// Restored connectivity drains the queue once
	watcher.OnOnline = func() {
		go syncService.SyncAll(ctx)
	}
	go watcher.Run(ctx)

	// Bridge hub: status events out, trigger messages in
	hub := bridge.NewHub(bus)
	hub.OnTrigger = func(kind models.Kind) {
		go syncService.SyncAll(ctx)
	}
	go hub.Run()

	// Initialize handlers
	captureHandler := handlers.NewCaptureHandler(captureService)
	syncHandler := handlers.NewSyncHandler(syncService, queueRepo, metaRepo, watcher)
	wsHandler := handlers.NewWebSocketHandler(hub)
	healthHandler := handlers.NewHealthHandler()

	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize HTTP metrics: %v", err)
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(observability.TracingMiddleware("truetrek-agent"))
	r.Use(observability.MetricsMiddleware(httpMetrics))
	r.Use(custommw.StoredKeyAuth(metaRepo, cfg.Security.APIKey, cfg.Security.APIKeyHeader))

	// Routes
	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/api/health", healthHandler.HealthCheck)
	r.Get("/ws", wsHandler.HandleConnection)

	r.Route("/api/captures", func(r chi.Router) {
		r.Post("/photo", captureHandler.CapturePhoto)
		r.Post("/comment", captureHandler.CaptureComment)
	})

	r.Route("/api/sync", func(r chi.Router) {
		r.Get("/status", syncHandler.Status)
		r.Post("/", syncHandler.Trigger)
		r.Post("/retry", syncHandler.Retry)
	})

	r.Get("/api/queue/failed", syncHandler.Failed)

	// Create server
	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Longer for photo intake
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("TrueTrek Agent starting on %s", cfg.ListenAddress)
		log.Printf("Queue database: %s", cfg.DatabasePath)
		log.Printf("Sync target: %s", cfg.Server.BaseURL)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down agent...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Agent stopped")
}
