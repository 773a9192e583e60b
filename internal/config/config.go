package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/stylize-service/internal/jobs"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Environment variables that override the file
const (
	EnvPort              = "PORT"
	EnvDefaultStyle      = "ST_DEFAULT_STYLE_NAME"
	EnvFastMaxSide       = "ST_FAST_MAX_SIDE"
	EnvWorkerConcurrency = "ST_WORKER_CONCURRENCY"
	EnvInferenceURL      = "ST_INFERENCE_URL"
	EnvLogLevel          = "ST_LOG_LEVEL"
	EnvEnvironment       = "ST_ENVIRONMENT"
	EnvJobTimeout        = "ST_JOB_TIMEOUT"
	EnvDatabasePassword  = "ST_DATABASE_PASSWORD"
	EnvRabbitMQPassword  = "ST_RABBITMQ_PASSWORD"
)

// Engine kinds
const (
	EngineLocal  = "local"
	EngineRemote = "remote"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Inference InferenceConfig `yaml:"inference"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
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

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	QueueSize       int           `yaml:"queue_size"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// JobsConfig holds job store and retention configuration
type JobsConfig struct {
	Capacity      int           `yaml:"capacity"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	EventBuffer   int           `yaml:"event_buffer"`
}

// InferenceConfig selects and tunes the inference engine
type InferenceConfig struct {
	Engine       string       `yaml:"engine"`
	DefaultStyle string       `yaml:"default_style"`
	FastMaxSide  int          `yaml:"fast_max_side"`
	SlowMaxSide  int          `yaml:"slow_max_side"`
	MaxSideLimit int          `yaml:"max_side_limit"`
	MaxPixels    int          `yaml:"max_pixels"`
	Remote       RemoteConfig `yaml:"remote"`
}

// RemoteConfig points at an external model server
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration for the transition ledger
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
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
}

// RabbitMQConfig holds RabbitMQ connection and event publishing configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	RoutingKey string           `yaml:"routing_key_prefix"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  32 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		App: AppConfig{
			Name:        "stylize-service",
			Version:     "0.1.0",
			Environment: "development",
		},
		Worker: WorkerConfig{
			Concurrency:     2,
			JobTimeout:      120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Jobs: JobsConfig{
			Capacity:      1024,
			Retention:     15 * time.Minute,
			SweepInterval: time.Minute,
			EventBuffer:   1024,
		},
		Inference: InferenceConfig{
			Engine:       EngineLocal,
			DefaultStyle: "mosaic",
			FastMaxSide:  640,
			SlowMaxSide:  1024,
			MaxSideLimit: 2048,
			MaxPixels:    40_000_000,
			Remote: RemoteConfig{
				Path:    "/infer",
				Timeout: 120 * time.Second,
			},
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		RabbitMQ: RabbitMQConfig{
			Host:  "localhost",
			Port:  5672,
			VHost: "/",
			Exchange: ExchangeConfig{
				Name:    "stylize.events",
				Type:    "topic",
				Durable: true,
			},
			RoutingKey: "job",
			Connection: ConnectionConfig{
				RetryAttempts: 5,
				RetryInterval: 2 * time.Second,
				Heartbeat:     10 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     100 * time.Millisecond,
				BackoffMultiplier: 2,
			},
		},
	}
}

// Load reads the configuration file over the defaults. An empty path returns the defaults.
func Load(configPath string) (*Config, error) {
	config := Default()
	if configPath == "" {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides fields from environment variables. Unparseable numbers are errors.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}

	str(EnvDefaultStyle, &c.Inference.DefaultStyle)
	str(EnvLogLevel, &c.Logging.Level)
	str(EnvEnvironment, &c.App.Environment)
	str(EnvDatabasePassword, &c.Database.Password)
	str(EnvRabbitMQPassword, &c.RabbitMQ.Password)

	if v, ok := lookup(EnvInferenceURL); ok && strings.TrimSpace(v) != "" {
		c.Inference.Remote.BaseURL = strings.TrimSpace(v)
		c.Inference.Engine = EngineRemote
	}

	if v, ok := lookup(EnvJobTimeout); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvJobTimeout, v, err)
		}
		c.Worker.JobTimeout = d
	}

	return errors.Join(
		num(EnvPort, &c.Server.Port),
		num(EnvFastMaxSide, &c.Inference.FastMaxSide),
		num(EnvWorkerConcurrency, &c.Worker.Concurrency),
	)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server max_upload_bytes must be greater than 0")
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}
	if c.Worker.QueueSize < 0 {
		return fmt.Errorf("worker queue_size must not be negative")
	}
	if c.Worker.JobTimeout < 0 {
		return fmt.Errorf("worker job_timeout must not be negative")
	}

	if c.Jobs.Capacity <= 0 {
		return fmt.Errorf("jobs capacity must be greater than 0")
	}
	if c.Jobs.Retention < 0 {
		return fmt.Errorf("jobs retention must not be negative")
	}
	if c.Jobs.Retention > 0 && c.Jobs.SweepInterval <= 0 {
		return fmt.Errorf("jobs sweep_interval must be greater than 0 when retention is set")
	}

	if err := c.validateInference(); err != nil {
		return err
	}

	if c.Database.Enabled {
		if err := c.ValidateDatabase(); err != nil {
			return err
		}
	}
	if c.RabbitMQ.Enabled {
		if err := c.ValidateRabbitMQ(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateInference() error {
	inf := c.Inference
	switch inf.Engine {
	case EngineLocal:
	case EngineRemote:
		if inf.Remote.BaseURL == "" {
			return fmt.Errorf("inference remote base_url is required for the remote engine")
		}
	default:
		return fmt.Errorf("invalid inference engine %q (must be %s or %s)", inf.Engine, EngineLocal, EngineRemote)
	}

	if inf.MaxSideLimit < jobs.MinSide {
		return fmt.Errorf("inference max_side_limit must be at least %d", jobs.MinSide)
	}
	for name, side := range map[string]int{"fast_max_side": inf.FastMaxSide, "slow_max_side": inf.SlowMaxSide} {
		if side < jobs.MinSide || side > inf.MaxSideLimit {
			return fmt.Errorf("inference %s %d out of range [%d, %d]", name, side, jobs.MinSide, inf.MaxSideLimit)
		}
	}
	if inf.MaxPixels < 0 {
		return fmt.Errorf("inference max_pixels must not be negative")
	}
	return nil
}

// ValidateDatabase checks the ledger database settings
func (c *Config) ValidateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

// ValidateRabbitMQ checks the event publisher settings
func (c *Config) ValidateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}
	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}
	return nil
}

// IsProduction reports whether the app runs in the production environment
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}
