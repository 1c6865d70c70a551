package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"vodhub/api"
	"vodhub/config"
	"vodhub/handlers"
	"vodhub/internal/database"
	"vodhub/services/cache"
	"vodhub/services/module"
	"vodhub/services/spider"
	"vodhub/services/transport"
	"vodhub/services/vodconfig"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {

	portOverride := flag.Int("port", 0, "override server port from config")
	configURL := flag.String("config-url", "", "override source config URL from settings")
	flag.Parse()

	fmt.Println("vodhub starting...")

	// Determine config path (env or default)
	configPath := os.Getenv("VODHUB_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("data", "settings.json")
	}

	// Init config manager and load settings (creates defaults if missing)
	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	// Apply command-line overrides
	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}
	if *configURL != "" {
		settings.Vod.ConfigURL = *configURL
	}

	// Open the database (snapshots + module records)
	db, err := database.Open(settings.Database.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	osFs := afero.NewOsFs()

	// Tiered cache
	ttlOverrides := make(map[cache.Category]time.Duration, len(settings.Cache.TTLOverrides))
	for name, minutes := range settings.Cache.TTLOverrides {
		if minutes > 0 {
			ttlOverrides[cache.Category(name)] = time.Duration(minutes) * time.Minute
		}
	}
	store, err := cache.New(osFs, settings.Cache.Directory, cache.Options{
		MaxMemoryBytes: int64(settings.Cache.MaxMemoryKB) * 1024,
		TTLOverrides:   ttlOverrides,
	})
	if err != nil {
		log.Fatalf("failed to init cache: %v", err)
	}

	// HTTP transport with retries and cache negotiation
	client := transport.New(store, transport.Config{
		MaxRetries: settings.Transport.MaxRetries,
		BaseDelay:  time.Duration(settings.Transport.BaseDelayMS) * time.Millisecond,
		Backoff:    settings.Transport.Backoff,
		Timeout:    time.Duration(settings.Transport.TimeoutSec) * time.Second,
	})

	// Source config resolver
	resolver := vodconfig.New(client, db, vodconfig.Options{
		OverrideURL:      settings.Vod.ConfigURL,
		PointerURL:       settings.Vod.PointerURL,
		DefaultSiteKey:   settings.Vod.DefaultSite,
		DefaultParseName: settings.Vod.DefaultParse,
	})

	// Module registry (adapter provider)
	registry, err := module.New(osFs, client, db, module.Options{
		Dir:       settings.Modules.Directory,
		AssetsDir: settings.Modules.AssetsDir,
		MaxBytes:  int64(settings.Modules.MaxSizeMB) << 20,
	})
	if err != nil {
		log.Fatalf("failed to init module registry: %v", err)
	}

	invoker := spider.NewInvoker(resolver, registry)
	orchestrator := spider.NewOrchestrator(invoker, spider.OrchestratorOptions{
		PerSiteTimeout: time.Duration(settings.Orchestrator.PerSiteTimeoutSec) * time.Second,
		GlobalDeadline: time.Duration(settings.Orchestrator.GlobalDeadlineSec) * time.Second,
		MaxConcurrency: settings.Orchestrator.MaxConcurrency,
	})

	// Load the source configuration up front. A failure is not fatal:
	// the default payload keeps the server usable and
	// /api/vod/config/refresh can retry later.
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if cfg, err := resolver.Load(loadCtx); err != nil {
		log.Printf("[main] initial config load failed: %v", err)
	} else {
		log.Printf("[main] config loaded from %s (%d sites, %d parses)", cfg.URL, len(cfg.Sites), len(cfg.Parses))
	}
	loadCancel()

	// Handlers and routes
	vodHandler := handlers.NewVodHandler(invoker, orchestrator)
	configHandler := handlers.NewConfigHandler(resolver)
	cacheHandler := handlers.NewCacheHandler(store)
	modulesHandler := handlers.NewModulesHandler(registry)
	settingsHandler := handlers.NewSettingsHandler(cfgManager)

	r := mux.NewRouter()
	api.Register(r, vodHandler, configHandler, cacheHandler, modulesHandler, settingsHandler)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Setup graceful shutdown
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Tear down loaded adapters after in-flight requests drain.
	registry.Clear()

	log.Println("Shutdown complete")
}
