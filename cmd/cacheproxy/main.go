package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/truetrek/agent/internal/bridge"
	"github.com/truetrek/agent/internal/cache"
	"github.com/truetrek/agent/internal/config"
	"github.com/truetrek/agent/internal/models"
	"github.com/truetrek/agent/internal/observability"
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
	telemetry, err := observability.Initialize(ctx, observability.NewConfig("truetrek-cacheproxy", "1.0.0"))
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	// Initialize cache store
	var store cache.Store
	if cfg.UseRedisCache() {
		log.Println("Using Redis cache store")
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.CacheProxy.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		redisStore := cache.NewRedisStore(redisClient)
		defer redisStore.Close()
		store = redisStore
	} else {
		log.Println("Using SQLite cache store")
		sqliteStore, err := cache.NewSQLiteStore(cfg.CacheProxy.CachePath)
		if err != nil {
			log.Fatalf("Failed to initialize cache database: %v", err)
		}
		defer sqliteStore.Close()
		store = sqliteStore
	}

	// Build the proxy for the configured generation and make it live
	classifier := cache.NewClassifier(cfg.CacheProxy.MediaHosts)
	proxy, err := cache.NewProxy(store, classifier, cfg.Server.BaseURL, cfg.CacheProxy.Generation, nil)
	if err != nil {
		log.Fatalf("Failed to initialize cache proxy: %v", err)
	}

	purged, err := proxy.Activate(ctx)
	if err != nil {
		log.Fatalf("Failed to activate cache generation: %v", err)
	}
	log.Printf("Cache generation %s active, purged %d stale entries", proxy.Generation(), purged)

	if err := proxy.Precache(ctx, cfg.CacheProxy.PrecachePaths); err != nil {
		log.Printf("Precache incomplete: %v", err)
	}

	// Bridge to the agent: apply force-activate, nudge syncs when the
	// origin comes back.
	client := bridge.NewClient(cfg.CacheProxy.AgentURL)
	client.OnForceActivate = func(generation string) {
		purged, err := proxy.ActivateGeneration(ctx, generation)
		if err != nil {
			log.Printf("Forced activation of %s failed: %v", generation, err)
			return
		}
		log.Printf("Forced activation of %s, purged %d entries", generation, purged)
	}
	client.OnEvent = func(evt models.Event) {
		if evt.Type != models.EventOnline {
			return
		}
		// The agent drains photos first; both triggers keep parity with
		// UI-originated messages.
		client.SendTrigger(models.KindPhoto)
		client.SendTrigger(models.KindComment)
	}
	go client.Run(ctx)

	// Create server
	srv := &http.Server{
		Addr:         cfg.CacheProxy.ListenAddress,
		Handler:      proxy,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("TrueTrek cache proxy starting on %s", cfg.CacheProxy.ListenAddress)
		log.Printf("Origin: %s", cfg.Server.BaseURL)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down cache proxy...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Cache proxy stopped")
}
