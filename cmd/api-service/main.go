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

	"github.com/cuongbtq/weather-pipeline/internal/agenttools"
	"github.com/cuongbtq/weather-pipeline/internal/api/handler"
	"github.com/cuongbtq/weather-pipeline/internal/api/router"
	"github.com/cuongbtq/weather-pipeline/internal/config"
	"github.com/cuongbtq/weather-pipeline/internal/entity"
	"github.com/cuongbtq/weather-pipeline/internal/resolver"
	"github.com/cuongbtq/weather-pipeline/internal/source"
	"github.com/cuongbtq/weather-pipeline/internal/store"
	"github.com/cuongbtq/weather-pipeline/shared/logger"
	"github.com/cuongbtq/weather-pipeline/shared/postgresql"
	"github.com/cuongbtq/weather-pipeline/shared/rabbitmq"
	"github.com/gin-gonic/gin"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
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
	appLogger.Info("Cities loaded", slog.Int("count", cities.Len()))

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	live := source.NewLiveClient(source.LiveConfig{
		ClientConfig: sourceClientConfig(cfg.Sources.Live.ClientConfig),
		APIKey:       cfg.Sources.Live.APIKey,
		Units:        cfg.Sources.Live.Units,
	}, appLogger.Component("live_source"))

	weatherResolver := resolver.New(&resolver.Config{
		Store:              weatherStore,
		Live:               live,
		Entities:           cities,
		StalenessThreshold: cfg.Resolver.StalenessThreshold,
		CoverageTolerance:  cfg.Resolver.CoverageTolerance,
		Logger:             appLogger.Component("resolver"),
	})

	deps := &handler.Dependencies{
		Logger:             appLogger.Logger,
		Resolver:           weatherResolver,
		Cities:             cities,
		Store:              weatherStore,
		Publisher:          rabbitClient,
		Health:             serviceHealth{db: dbClient, rabbit: rabbitClient},
		DefaultHistoryDays: cfg.Resolver.DefaultHistoryDays,
		MaxHistoryDays:     cfg.Resolver.MaxHistoryDays,
		MaxBackfillDays:    cfg.Ingestion.MaxBackfillDays,
	}

	if cfg.Server.EnableMCP {
		mcpServer := agenttools.NewServer(agenttools.Deps{
			Resolver:           weatherResolver,
			DefaultHistoryDays: cfg.Resolver.DefaultHistoryDays,
			MaxHistoryDays:     cfg.Resolver.MaxHistoryDays,
			Version:            cfg.App.Version,
		})
		deps.MCP = agenttools.NewHTTPHandler(mcpServer)
		appLogger.Info("MCP tools enabled", slog.String("path", "/mcp"))
	}

	r := initRouter(cfg.App.Environment, deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// serviceHealth reports unhealthy when the database is unreachable or the
// trigger broker connection is down
type serviceHealth struct {
	db     *postgresql.Client
	rabbit *rabbitmq.Client
}

func (h serviceHealth) HealthCheck(ctx context.Context) error {
	if err := h.db.HealthCheck(ctx); err != nil {
		return err
	}
	if !h.rabbit.IsConnected() {
		return errors.New("rabbitmq connection is down")
	}
	return nil
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

// initRabbitMQ initializes the RabbitMQ client used to publish job triggers
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
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
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

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
