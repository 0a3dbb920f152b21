package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/trunet-labs/trunet/pkg/api"
	"github.com/trunet-labs/trunet/pkg/audit/postgres"
	"github.com/trunet-labs/trunet/pkg/common/validation"
	"github.com/trunet-labs/trunet/pkg/core/content"
	"github.com/trunet-labs/trunet/pkg/core/forensics"
	"github.com/trunet-labs/trunet/pkg/infrastructure/config"
	"github.com/trunet-labs/trunet/pkg/infrastructure/logging"
	"github.com/trunet-labs/trunet/pkg/matching"
	"github.com/trunet-labs/trunet/pkg/moderation"
	"github.com/trunet-labs/trunet/pkg/pipeline"
	"github.com/trunet-labs/trunet/pkg/resilience"
	"github.com/trunet-labs/trunet/pkg/search"
	"github.com/trunet-labs/trunet/pkg/storage"
	_ "github.com/trunet-labs/trunet/pkg/storage/backends"
	"github.com/trunet-labs/trunet/pkg/util"
	"github.com/trunet-labs/trunet/pkg/watch"
)

func main() {
	var (
		configFile     = flag.String("config", "", "Configuration file path")
		listenAddr     = flag.String("listen", "", "Listen address (overrides config)")
		storageBackend = flag.String("storage", "", "Storage backend: ipfs or memory (overrides config)")
		watchDirs      = flag.String("watch", "", "Comma-separated directories to watch for dropped files")
		promptDBPass   = flag.Bool("prompt-db-password", false, "Prompt for the audit database password and substitute ${PASSWORD} in the DSN")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *storageBackend != "" {
		cfg.Storage.Backend = *storageBackend
	}

	initLogging(cfg)
	logger := logging.GetGlobalLogger().WithComponent("daemon")

	backend, err := storage.NewBackend(cfg.Storage.Backend, &storage.BackendConfig{
		Endpoint:       cfg.Storage.APIEndpoint,
		TimeoutSeconds: cfg.Storage.Timeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create storage backend: %v\n", err)
		os.Exit(1)
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.Matching.MaxRetries > 0 {
		retry.MaxRetries = cfg.Matching.MaxRetries
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure leak providers: %v\n", err)
		os.Exit(1)
	}

	var model moderation.ModelClient
	if cfg.Moderation.ModelURL != "" {
		model = moderation.NewHTTPModelClient(cfg.Moderation.ModelURL, time.Duration(cfg.Moderation.ModelTimeout)*time.Second)
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var verdicts api.VerdictStore
	var auditDB *postgres.AuditDatabase
	if cfg.Audit.Enabled {
		auditDB, err = openAuditDatabase(shutdownCtx, cfg, *promptDBPass)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open audit database: %v\n", err)
			os.Exit(1)
		}
		defer auditDB.Close()
		verdicts = auditDB
	}

	var index *search.VerdictIndex
	if cfg.Search.Enabled {
		index, err = search.NewVerdictIndex(search.DefaultIndexConfig(cfg.Search.IndexPath), nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create search index: %v\n", err)
			os.Exit(1)
		}
		if err := index.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start search index: %v\n", err)
			os.Exit(1)
		}
		defer index.Stop()
	}

	hub := api.NewHub(nil)
	orchestrator := pipeline.NewOrchestrator(pipeline.Config{
		Analyzer:   forensics.NewAnalyzer(),
		Classifier: buildClassifier(model),
		Matcher:    matching.NewMatcher(providers, retry, nil),
		Store:      storage.NewClient(backend, retry, nil),
		Progress:   hub.Broadcast,
	})

	health := resilience.NewHealthMonitor(nil)
	health.Register("storage", backend.HealthCheck)
	if auditDB != nil {
		health.Register("database", auditDB.HealthCheck)
	}
	health.Start()
	defer health.Stop()

	rateLimit := validation.DefaultRateLimitConfig()
	if cfg.Server.RateLimitPerMin > 0 {
		rateLimit.RequestsPerMinute = cfg.Server.RateLimitPerMin
	}
	if cfg.Server.RateLimitBurst > 0 {
		rateLimit.MaxConcurrent = cfg.Server.RateLimitBurst
	}

	server := api.NewServer(api.ServerConfig{
		Orchestrator:   orchestrator,
		Verdicts:       verdicts,
		Index:          index,
		Hub:            hub,
		Health:         health,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		DefaultTimeout: time.Duration(cfg.Server.DefaultTimeoutMs) * time.Millisecond,
		RateLimit:      rateLimit,
	})
	defer server.Close()

	var watcher *watch.Watcher
	if *watchDirs != "" {
		watcher, err = startWatcher(*watchDirs, orchestrator, verdicts, index, cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start directory watcher: %v\n", err)
			os.Exit(1)
		}
		defer watcher.Stop()
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: server.Router(),
	}

	go func() {
		logger.Info("trunet daemon listening", map[string]interface{}{
			"addr":    cfg.Server.ListenAddr,
			"storage": backend.Name(),
		})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "HTTP server failed: %v\n", err)
			os.Exit(1)
		}
	}()

	<-shutdownCtx.Done()
	logger.Info("shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(drainCtx); err != nil {
		logger.Warn("graceful shutdown failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func initLogging(cfg *config.Config) {
	level, err := logging.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.InfoLevel
	}

	logConfig := logging.DefaultConfig()
	logConfig.Level = level
	if cfg.Logging.Format == "json" {
		logConfig.Format = logging.JSONFormat
	}
	if cfg.Logging.Output == "file" && cfg.Logging.File != "" {
		if f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600); err == nil {
			logConfig.Output = f
		}
	}

	logging.InitGlobalLogger(logConfig)
}

func buildClassifier(model moderation.ModelClient) *moderation.Classifier {
	if model != nil {
		return moderation.NewClassifierWithModel(model, nil)
	}
	return moderation.NewClassifier(nil)
}

func buildProviders(cfg *config.Config) ([]matching.Provider, error) {
	var providers []matching.Provider

	for i, url := range cfg.Matching.ProviderURLs {
		provider, err := matching.NewHTTPProvider(&matching.HTTPProviderConfig{
			Name:       fmt.Sprintf("provider-%d", i),
			Endpoint:   url,
			Timeout:    time.Duration(cfg.Matching.RequestTimeout) * time.Second,
			SOCKSProxy: cfg.Matching.SOCKSProxy,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}

	if cfg.Matching.BloomIndexPath != "" {
		bloom, err := matching.LoadBloomProvider(cfg.Matching.BloomIndexPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
			bloom = matching.NewBloomProvider()
		}
		providers = append(providers, bloom)
	}

	return providers, nil
}

func openAuditDatabase(ctx context.Context, cfg *config.Config, promptPassword bool) (*postgres.AuditDatabase, error) {
	dsn := cfg.Audit.ConnectionString
	if promptPassword {
		password, err := util.PromptPassword("Audit database password: ")
		if err != nil {
			return nil, err
		}
		dsn = strings.ReplaceAll(dsn, "${PASSWORD}", password)
	}

	db, err := postgres.NewAuditDatabase(ctx, &postgres.DatabaseConfig{
		ConnectionString: dsn,
		MigrationsPath:   cfg.Audit.MigrationsPath,
	})
	if err != nil {
		return nil, err
	}
	if err := db.MigrateToLatest(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// startWatcher submits dropped files through the pipeline and persists the
// verdicts the same way API submissions are persisted.
func startWatcher(dirs string, orchestrator *pipeline.Orchestrator, verdicts api.VerdictStore, index *search.VerdictIndex, cfg *config.Config, logger *logging.Logger) (*watch.Watcher, error) {
	watchConfig := watch.DefaultConfig()
	watchConfig.MaxFileBytes = cfg.Server.MaxUploadBytes
	timeout := time.Duration(cfg.Server.DefaultTimeoutMs) * time.Millisecond

	watcher, err := watch.NewWatcher(watchConfig, func(ctx context.Context, file content.FileBlob) {
		sub, err := content.NewSubmission("", []content.FileBlob{file}, "watcher")
		if err != nil {
			logger.Warn("rejected watched file", map[string]interface{}{
				"file":  file.OriginalName,
				"error": err.Error(),
			})
			return
		}

		verdict, err := orchestrator.Process(ctx, sub, &pipeline.Options{Timeout: timeout})
		if err != nil {
			logger.Error("watched file verification failed", map[string]interface{}{
				"file":  file.OriginalName,
				"error": err.Error(),
			})
			return
		}

		if verdicts != nil {
			if err := verdicts.SaveVerdict(ctx, verdict, ""); err != nil {
				logger.Error("failed to persist watcher verdict", map[string]interface{}{
					"verdict": verdict.ID,
					"error":   err.Error(),
				})
			}
		}
		if index != nil {
			index.IndexVerdict(verdict, "")
		}

		logger.Info("watched file verified", map[string]interface{}{
			"file":    file.OriginalName,
			"verdict": verdict.ID,
		})
	}, logger)
	if err != nil {
		return nil, err
	}

	for _, dir := range strings.Split(dirs, ",") {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		if err := watcher.AddPath(dir); err != nil {
			watcher.Stop()
			return nil, err
		}
	}

	return watcher, nil
}
