// Package main is the entry point for the marker cluster server.
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

	"github.com/atlasmap-sc/clusterer/internal/api"
	"github.com/atlasmap-sc/clusterer/internal/cache"
	"github.com/atlasmap-sc/clusterer/internal/config"
	"github.com/atlasmap-sc/clusterer/internal/markerstore"
	"github.com/atlasmap-sc/clusterer/internal/render"
	"github.com/atlasmap-sc/clusterer/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting cluster server on port %d", cfg.Server.Port)

	ctx := context.Background()

	// Shared across all maps
	cacheManager, err := cache.NewManager(cache.Config{
		SnapshotCacheSizeMB: cfg.Cache.SnapshotSizeMB,
		SnapshotTTL:         time.Duration(cfg.Cache.SnapshotTTLMinutes) * time.Minute,
		QueryCacheSize:      cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	renderer := render.NewSnapshotRenderer(render.Config{
		DefaultColormap: cfg.Render.DefaultColormap,
		MarkerRadius:    cfg.Render.MarkerRadius,
	})

	store, err := markerstore.NewStore(cfg.Store.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to open marker store: %v", err)
	}
	defer store.Close()

	mapIDs := cfg.Maps.MapIDs()
	registry := api.NewMapRegistry(cfg.Maps.Default, mapIDs, cfg.Server.Title)

	log.Printf("Initializing %d map(s), default: %s", len(mapIDs), cfg.Maps.Default)

	for _, mapID := range mapIDs {
		mc := cfg.Maps.Maps[mapID]

		svcCfg := service.ConfigFor(mapID, mc, cfg.Render.DefaultColormap)
		svcCfg.Store = store
		svcCfg.Cache = cacheManager
		svcCfg.Renderer = renderer

		svc := service.NewMapService(svcCfg)
		n, err := svc.Load()
		if err != nil {
			log.Fatalf("Failed to load map %q: %v", mapID, err)
		}

		st := svc.Stats()
		log.Printf("  [%s] %d markers, %d clusters at zoom %d (grid radius %.0f, max zoom %d)",
			mapID, n, st.Clusters, st.Zoom, st.GridRadius, st.MaxZoom)

		registry.Register(mapID, svc)
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
