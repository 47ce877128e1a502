package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Entities  EntitiesConfig  `yaml:"entities"`
	Sources   SourcesConfig   `yaml:"sources"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Worker    WorkerConfig    `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	EnableMCP       bool          `yaml:"enable_mcp"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectRetries  int           `yaml:"connect_retries"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host               string           `yaml:"host"`
	Port               int              `yaml:"port"`
	User               string           `yaml:"user"`
	Password           string           `yaml:"password"`
	VHost              string           `yaml:"vhost"`
	Exchange           ExchangeConfig   `yaml:"exchange"`
	Queue              QueueConfig      `yaml:"queue"`
	RoutingKey         string           `yaml:"routing_key"`
	DeadLetterExchange string           `yaml:"dead_letter_exchange"`
	Connection         ConnectionConfig `yaml:"connection"`
	Publish            PublishConfig    `yaml:"publish"`
	Consumer           ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// EntitiesConfig points at the monitored city list
type EntitiesConfig struct {
	File  string `yaml:"file"`
	Limit int    `yaml:"limit"` // 0 keeps every city
}

// SourcesConfig holds the upstream adapters
type SourcesConfig struct {
	Live    LiveSourceConfig    `yaml:"live"`
	Archive ArchiveSourceConfig `yaml:"archive"`
}

// ClientConfig holds transport settings shared by both adapters
type ClientConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// LiveSourceConfig configures the current-weather provider
type LiveSourceConfig struct {
	ClientConfig `yaml:",inline"`
	APIKey       string `yaml:"api_key"`
	Units        string `yaml:"units"`
}

// ArchiveSourceConfig configures the hourly history provider
type ArchiveSourceConfig struct {
	ClientConfig      `yaml:",inline"`
	MaxDaysPerRequest int `yaml:"max_days_per_request"`
}

// IngestionConfig holds job runner and scheduler settings
type IngestionConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	Concurrency       int           `yaml:"concurrency"`
	EntityTimeout     time.Duration `yaml:"entity_timeout"`
	BackfillDays      int           `yaml:"backfill_days"`
	MaxBackfillDays   int           `yaml:"max_backfill_days"`
	BackfillOnStartup string        `yaml:"backfill_on_startup"` // always, if_empty, never
}

// ResolverConfig holds query-time freshness settings
type ResolverConfig struct {
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`
	CoverageTolerance  time.Duration `yaml:"coverage_tolerance"`
	DefaultHistoryDays int           `yaml:"default_history_days"`
	MaxHistoryDays     int           `yaml:"max_history_days"`
}

// MetricsConfig holds the worker's metrics listener
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads the configuration file, expands ${VAR} references from the
// environment and fills unset fields with defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.ReadTimeout, 15*time.Second)
	setDefault(&c.Server.WriteTimeout, 30*time.Second)
	setDefault(&c.Server.IdleTimeout, 60*time.Second)
	setDefault(&c.Server.ShutdownTimeout, 10*time.Second)

	setDefault(&c.Database.SSLMode, "disable")
	setDefault(&c.Database.MaxOpenConns, 10)
	setDefault(&c.Database.MaxIdleConns, 5)
	setDefault(&c.Database.ConnMaxLifetime, 30*time.Minute)
	setDefault(&c.Database.ConnectRetries, 5)
	setDefault(&c.Database.RetryInterval, 2*time.Second)

	setDefault(&c.RabbitMQ.VHost, "/")
	setDefault(&c.RabbitMQ.Exchange.Type, "direct")
	setDefault(&c.RabbitMQ.Connection.RetryAttempts, 5)
	setDefault(&c.RabbitMQ.Connection.RetryInterval, 2*time.Second)
	setDefault(&c.RabbitMQ.Connection.Heartbeat, 10*time.Second)
	setDefault(&c.RabbitMQ.Publish.RetryAttempts, 3)
	setDefault(&c.RabbitMQ.Publish.RetryInterval, 200*time.Millisecond)
	setDefault(&c.RabbitMQ.Publish.BackoffMultiplier, 2.0)

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "console")
	setDefault(&c.Logging.Output, "stdout")

	setDefault(&c.Sources.Live.Units, "metric")
	setDefault(&c.Sources.Live.Timeout, 10*time.Second)
	setDefault(&c.Sources.Live.MaxRetries, 3)
	setDefault(&c.Sources.Archive.Timeout, 30*time.Second)
	setDefault(&c.Sources.Archive.MaxRetries, 3)
	setDefault(&c.Sources.Archive.MaxDaysPerRequest, 90)

	setDefault(&c.Ingestion.PollInterval, time.Hour)
	setDefault(&c.Ingestion.Concurrency, 5)
	setDefault(&c.Ingestion.EntityTimeout, time.Minute)
	setDefault(&c.Ingestion.BackfillDays, 7)
	setDefault(&c.Ingestion.MaxBackfillDays, 365)
	setDefault(&c.Ingestion.BackfillOnStartup, "if_empty")

	setDefault(&c.Resolver.StalenessThreshold, time.Hour)
	setDefault(&c.Resolver.CoverageTolerance, 2*time.Hour)
	setDefault(&c.Resolver.DefaultHistoryDays, 7)
	setDefault(&c.Resolver.MaxHistoryDays, 90)

	setDefault(&c.Metrics.Port, 9090)

	setDefault(&c.Worker.Concurrency, 2)
	setDefault(&c.Worker.ShutdownTimeout, 30*time.Second)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// ValidateAPIConfig checks the settings the api-service needs
func (c *Config) ValidateAPIConfig() error {
	if err := validPort("server", c.Server.Port); err != nil {
		return err
	}
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Resolver.StalenessThreshold <= 0 {
		return fmt.Errorf("resolver staleness_threshold must be greater than 0")
	}

	if c.Resolver.DefaultHistoryDays > c.Resolver.MaxHistoryDays {
		return fmt.Errorf("resolver default_history_days (%d) exceeds max_history_days (%d)",
			c.Resolver.DefaultHistoryDays, c.Resolver.MaxHistoryDays)
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker-service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Ingestion.PollInterval <= 0 {
		return fmt.Errorf("ingestion poll_interval must be greater than 0")
	}

	if c.Ingestion.Concurrency <= 0 {
		return fmt.Errorf("ingestion concurrency must be greater than 0")
	}

	switch c.Ingestion.BackfillOnStartup {
	case "always", "if_empty", "never":
	default:
		return fmt.Errorf("ingestion backfill_on_startup must be one of always, if_empty, never: got %q", c.Ingestion.BackfillOnStartup)
	}

	if c.Ingestion.BackfillDays > c.Ingestion.MaxBackfillDays {
		return fmt.Errorf("ingestion backfill_days (%d) exceeds max_backfill_days (%d)",
			c.Ingestion.BackfillDays, c.Ingestion.MaxBackfillDays)
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Metrics.Enabled {
		if err := validPort("metrics", c.Metrics.Port); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if err := validPort("database", c.Database.Port); err != nil {
		return err
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if err := validPort("rabbitmq", c.RabbitMQ.Port); err != nil {
		return err
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Entities.File == "" {
		return fmt.Errorf("entities file is required")
	}

	if c.Sources.Live.APIKey == "" {
		return fmt.Errorf("sources.live api_key is required")
	}

	return nil
}

func validPort(name string, port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("invalid %s port: %d (must be between %d and %d)", name, port, MinPort, MaxPort)
	}
	return nil
}

// LogValue renders a startup summary with secrets masked
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("environment", c.App.Environment),
		slog.String("database", fmt.Sprintf("%s@%s:%d/%s", c.Database.User, c.Database.Host, c.Database.Port, c.Database.Database)),
		slog.String("database_password", mask(c.Database.Password)),
		slog.String("rabbitmq", fmt.Sprintf("%s@%s:%d%s", c.RabbitMQ.User, c.RabbitMQ.Host, c.RabbitMQ.Port, c.RabbitMQ.VHost)),
		slog.String("rabbitmq_password", mask(c.RabbitMQ.Password)),
		slog.String("live_api_key", mask(c.Sources.Live.APIKey)),
		slog.String("entities_file", c.Entities.File),
		slog.Duration("poll_interval", c.Ingestion.PollInterval),
		slog.String("backfill_on_startup", c.Ingestion.BackfillOnStartup),
		slog.Duration("staleness_threshold", c.Resolver.StalenessThreshold),
	)
}

func mask(secret string) string {
	switch {
	case secret == "":
		return "(unset)"
	case len(secret) <= 4:
		return "****"
	default:
		return secret[:2] + "****" + secret[len(secret)-2:]
	}
}
