// Package main runs a clustered map in the terminal.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gdamore/tcell/v2"

	"github.com/atlasmap-sc/clusterer/internal/config"
	"github.com/atlasmap-sc/clusterer/internal/markerstore"
	"github.com/atlasmap-sc/clusterer/internal/service"
	"github.com/atlasmap-sc/clusterer/internal/termview"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	mapID := flag.String("map", "", "Map to open (defaults to the first configured map)")
	importPath := flag.String("import", "", "NDJSON or GeoJSON file to view instead of the store (.zst allowed)")
	cellW := flag.Int("cell-width", 8, "Map pixels per terminal column")
	cellH := flag.Int("cell-height", 16, "Map pixels per terminal row")
	logPath := flag.String("log", "", "Write engine logs to this file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	id := *mapID
	if id == "" {
		id = cfg.Maps.Default
	}
	mc, ok := cfg.Maps.Maps[id]
	if !ok {
		log.Fatalf("Unknown map %q", id)
	}

	// The terminal owns stdout, so logs go to a file or nowhere.
	logger := log.New(io.Discard, "", 0)
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
		logger = log.New(f, "", log.LstdFlags)
	}

	svcCfg := service.ConfigFor(id, mc, cfg.Render.DefaultColormap)
	svcCfg.Logger = logger
	if *importPath != "" {
		svcCfg.ImportPath = *importPath
	} else {
		store, err := markerstore.NewStore(cfg.Store.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to open marker store: %v", err)
		}
		defer store.Close()
		svcCfg.Store = store
	}

	svc := service.NewMapService(svcCfg)
	if _, err := svc.Load(); err != nil {
		log.Fatalf("Failed to load map %q: %v", id, err)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		log.Fatalf("Failed to create screen: %v", err)
	}
	if err := screen.Init(); err != nil {
		log.Fatalf("Failed to initialize screen: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	view := termview.New(screen, svc, termview.Config{CellWidth: *cellW, CellHeight: *cellH})
	err = view.Run(ctx)
	screen.Fini()
	if err != nil && err != context.Canceled {
		log.Fatalf("Viewer stopped: %v", err)
	}
}
