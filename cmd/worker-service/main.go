package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/config"
	"github.com/cuongbtq/weather-pipeline/internal/entity"
	"github.com/cuongbtq/weather-pipeline/internal/ingest"
	"github.com/cuongbtq/weather-pipeline/internal/metrics"
	"github.com/cuongbtq/weather-pipeline/internal/source"
	"github.com/cuongbtq/weather-pipeline/internal/store"
	"github.com/cuongbtq/weather-pipeline/internal/worker"
	"github.com/cuongbtq/weather-pipeline/shared/logger"
	"github.com/cuongbtq/weather-pipeline/shared/postgresql"
	"github.com/cuongbtq/weather-pipeline/shared/rabbitmq"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.Any("config", cfg),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	weatherStore := store.New(dbClient.GetDB(), appLogger.Component("store"))
	if err := weatherStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	cities, err := entity.Load(cfg.Entities.File, cfg.Entities.Limit)
	if err != nil {
		return fmt.Errorf("failed to load cities: %w", err)
	}

	runner := ingest.NewRunner(&ingest.Config{
		Store: weatherStore,
		Live: source.NewLiveClient(source.LiveConfig{
			ClientConfig: sourceClientConfig(cfg.Sources.Live.ClientConfig),
			APIKey:       cfg.Sources.Live.APIKey,
			Units:        cfg.Sources.Live.Units,
		}, appLogger.Component("live_source")),
		Archive: source.NewArchiveClient(source.ArchiveConfig{
			ClientConfig:      sourceClientConfig(cfg.Sources.Archive.ClientConfig),
			MaxDaysPerRequest: cfg.Sources.Archive.MaxDaysPerRequest,
		}, appLogger.Component("archive_source")),
		Entities:      cities.All(),
		Concurrency:   cfg.Ingestion.Concurrency,
		EntityTimeout: cfg.Ingestion.EntityTimeout,
		Logger:        appLogger.Component("runner"),
	})

	scheduler, err := ingest.NewScheduler(&ingest.SchedulerConfig{
		Runner:            runner,
		Stats:             weatherStore,
		PollInterval:      cfg.Ingestion.PollInterval,
		BackfillDays:      cfg.Ingestion.BackfillDays,
		BackfillOnStartup: cfg.Ingestion.BackfillOnStartup,
		Logger:            appLogger.Component("scheduler"),
	})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:          appLogger.Component("worker"),
		Source:          rabbitClient,
		Runner:          runner,
		WorkerID:        fmt.Sprintf("%s-%s", cfg.App.Name, uuid.NewString()[:8]),
		QueueName:       cfg.RabbitMQ.Queue.Name,
		Concurrency:     cfg.Worker.Concurrency,
		PrefetchCount:   cfg.RabbitMQ.Consumer.PrefetchCount,
		MaxBackfillDays: cfg.Ingestion.MaxBackfillDays,
	})

	var metricsSrv *http.Server
	errChan := make(chan error, 2)

	if cfg.Metrics.Enabled {
		metricsSrv = newMetricsServer(cfg.Metrics.Port, dbClient)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		appLogger.Info("Metrics server listening", slog.String("address", metricsSrv.Addr))
	}

	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully",
		slog.Int("cities", cities.Len()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", runErr),
		)
	}

	// Cancel context: runs in progress stop after their current city
	cancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Shutdown timeout exceeded, exiting with jobs in flight")
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics server forced to shutdown", slog.Any("error", err))
		}
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

func newMetricsServer(port int, db *postgresql.Client) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(ctx, &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectRetries:  cfg.ConnectRetries,
		RetryInterval:   cfg.RetryInterval,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client the trigger consumer reads from
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.DeadLetterExchange,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
	}, logger)
}

func sourceClientConfig(cfg config.ClientConfig) source.ClientConfig {
	return source.ClientConfig{
		BaseURL:       cfg.BaseURL,
		Timeout:       cfg.Timeout,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		MaxRetries:    cfg.MaxRetries,
		RetryInterval: cfg.RetryInterval,
	}
}
