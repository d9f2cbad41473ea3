package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pingpongshow/audiblez-webui/internal/api/handler"
	"github.com/pingpongshow/audiblez-webui/internal/api/router"
	"github.com/pingpongshow/audiblez-webui/internal/cleanup"
	"github.com/pingpongshow/audiblez-webui/internal/config"
	"github.com/pingpongshow/audiblez-webui/internal/convert"
	"github.com/pingpongshow/audiblez-webui/internal/jobs"
	"github.com/pingpongshow/audiblez-webui/internal/library"
	"github.com/pingpongshow/audiblez-webui/internal/logger"
	"github.com/pingpongshow/audiblez-webui/internal/metrics"
	"github.com/pingpongshow/audiblez-webui/internal/notify"
	"github.com/pingpongshow/audiblez-webui/internal/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("AUDIBLEZ_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting audiobook conversion server",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	if err := ensureDirs(cfg); err != nil {
		return err
	}

	// Initialize metrics registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Initialize the SQLite record store
	dbClient, err := storage.NewClient(&storage.Config{Path: cfg.Database.Path}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established",
		slog.String("path", cfg.Database.Path),
	)

	settings := storage.NewSettingsStore(dbClient, appLogger.Logger)
	history := storage.NewHistoryStore(dbClient, cfg.Database.HistoryLimit, appLogger.Logger)

	// The persisted auto-cleanup policy wins over the config default
	autoCleanup, err := settings.AutoCleanup(cfg.Convert.AutoCleanup)
	if err != nil {
		return fmt.Errorf("failed to load auto-cleanup setting: %w", err)
	}

	cleaner := cleanup.NewService(cfg.Paths.AudiobookFolder, autoCleanup, settings, appLogger.Logger, m)

	var janitor *cleanup.Janitor
	if cfg.Cleanup.Schedule != "" {
		janitor, err = cleanup.NewJanitor(cleaner, cfg.Cleanup.Schedule, appLogger.Logger)
		if err != nil {
			return err
		}
		janitor.Start()
	}

	// Initialize the optional RabbitMQ event publisher
	var rabbitClient *notify.Client
	var publisher *notify.Publisher
	if cfg.AMQP.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.AMQP, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		publisher = notify.NewPublisher(rabbitClient, appLogger.Logger)

		appLogger.Info("RabbitMQ connection established")
	}

	// Initialize the conversion engine
	store := jobs.NewStore()
	engineDeps := convert.Dependencies{
		Store:   store,
		Cleaner: cleaner,
		Logger:  appLogger.Logger,
		Metrics: m,
		History: history,
	}
	if publisher != nil {
		engineDeps.Notifier = publisher
	}

	engine := convert.NewEngine(convert.Config{
		OutputFolder:  cfg.Paths.AudiobookFolder,
		DefaultVoice:  cfg.Convert.DefaultVoice,
		DefaultSpeed:  cfg.Convert.DefaultSpeed,
		MinSpeed:      cfg.Convert.MinSpeed,
		MaxSpeed:      cfg.Convert.MaxSpeed,
		Bitrate:       cfg.Convert.Bitrate,
		MaxActiveJobs: cfg.Convert.MaxActiveJobs,
		PollInterval:  cfg.Convert.PollInterval.Std(),
	}, engineDeps)

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, store, engine, cleaner, history, dbClient, registry)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Server is running",
		slog.String("address", addr),
		slog.String("ebook_folder", cfg.Paths.EbookFolder),
		slog.String("audiobook_folder", cfg.Paths.AudiobookFolder),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownTimeout := cfg.Server.ShutdownTimeout.Std()
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Cleanup function to close all resources
	cleanupResources := func() {
		if janitor != nil {
			janitor.Stop()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
		if dbClient != nil {
			dbClient.Close()
		}
	}
	defer cleanupResources()

	// Stop accepting requests first, then tear down running conversions
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	if err := engine.Shutdown(ctx); err != nil {
		appLogger.Error("Conversion engine forced to stop",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// ensureDirs creates the working directories so the first request
// never races directory creation
func ensureDirs(cfg *config.Config) error {
	for _, dir := range []string{
		cfg.Paths.EbookFolder,
		cfg.Paths.AudiobookFolder,
		cfg.Paths.UploadFolder,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.AMQPConfig, logger *slog.Logger) (*notify.Client, error) {
	rabbitConfig := &notify.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval.Std(),
		Heartbeat:          cfg.Connection.Heartbeat.Std(),
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout.Std(),
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval.Std(),
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return notify.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(
	cfg *config.Config,
	logger *slog.Logger,
	store *jobs.Store,
	engine *convert.Engine,
	cleaner *cleanup.Service,
	history *storage.HistoryStore,
	dbClient *storage.Client,
	gatherer prometheus.Gatherer,
) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	handlerDeps := &handler.Dependencies{
		Logger:   logger,
		Config:   cfg,
		Store:    store,
		Engine:   engine,
		Library:  library.NewService(cfg.Paths.EbookFolder, cfg.Paths.UploadFolder, logger),
		Cleanup:  cleaner,
		History:  history,
		DBClient: dbClient,
		Gatherer: gatherer,
	}

	return router.SetupRouter(handlerDeps)
}
