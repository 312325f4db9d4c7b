package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every variable read by LoadFromEnv, e.g. NOTIFIER_DATABASE_HOST.
const EnvPrefix = "NOTIFIER"

type Config struct {
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq" envconfig:"RABBITMQ"`
	Catalog  CatalogConfig  `yaml:"catalog" envconfig:"CATALOG"`
	Job      JobConfig      `yaml:"job" envconfig:"JOB"`
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	LogLevel string         `yaml:"log_level" split_words:"true" validate:"oneof=debug info warn error"`
}

// RabbitMQConfig configures push delivery. Delivery is disabled when URL is empty.
type RabbitMQConfig struct {
	URL        string `yaml:"url" split_words:"true"`
	Exchange   string `yaml:"exchange" split_words:"true"`
	RoutingKey string `yaml:"routing_key" split_words:"true"`
	QueueName  string `yaml:"queue_name" split_words:"true"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" split_words:"true" validate:"required"`
	Port     int    `yaml:"port" split_words:"true" validate:"gt=0"`
	User     string `yaml:"user" split_words:"true" validate:"required"`
	Password string `yaml:"password" split_words:"true"`
	DBName   string `yaml:"dbname" split_words:"true" validate:"required"`
	SSLMode  string `yaml:"sslmode" split_words:"true"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type CatalogConfig struct {
	TokenURL       string        `yaml:"token_url" split_words:"true" validate:"required,url"`
	BaseURL        string        `yaml:"base_url" split_words:"true" validate:"required,url"`
	ClientID       string        `yaml:"client_id" split_words:"true" validate:"required"`
	ClientSecret   string        `yaml:"client_secret" split_words:"true" validate:"required"`
	Timeout        time.Duration `yaml:"timeout" split_words:"true"`
	TokenMargin    time.Duration `yaml:"token_margin" split_words:"true"`
	PageSize       int           `yaml:"page_size" split_words:"true" validate:"gt=0,lte=50"`
	MaxPages       int           `yaml:"max_pages" split_words:"true" validate:"gt=0"`
	LookbackMonths int           `yaml:"lookback_months" split_words:"true" validate:"gt=0"`
	Retry          RetryConfig   `yaml:"retry" envconfig:"RETRY"`
	Breaker        BreakerConfig `yaml:"breaker" envconfig:"BREAKER"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" split_words:"true" validate:"gt=0"`
	InitialBackoff time.Duration `yaml:"initial_backoff" split_words:"true"`
	MaxBackoff     time.Duration `yaml:"max_backoff" split_words:"true"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" split_words:"true"`
	OpenTimeout         time.Duration `yaml:"open_timeout" split_words:"true"`
}

type JobConfig struct {
	Name             string        `yaml:"name" split_words:"true" validate:"required"`
	CronSecret       string        `yaml:"cron_secret" split_words:"true" validate:"required"`
	UsersPerBatch    int           `yaml:"users_per_batch" split_words:"true" validate:"gt=0"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" split_words:"true" validate:"gt=0"`
	ReleaseWindow    time.Duration `yaml:"release_window" split_words:"true" validate:"gt=0"`
	RequestDelay     time.Duration `yaml:"request_delay" split_words:"true" validate:"gte=0"`
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff" split_words:"true" validate:"gte=0"`
	ReleasesPerCheck int           `yaml:"releases_per_check" split_words:"true" validate:"gt=0"`
	GuardOverlap     *bool         `yaml:"guard_overlap" split_words:"true"`
	StaleAfter       time.Duration `yaml:"stale_after" split_words:"true"`
	Interval         time.Duration `yaml:"interval" split_words:"true"`
}

// OverlapGuardEnabled defaults to true when guard_overlap is not set.
func (j JobConfig) OverlapGuardEnabled() bool {
	return j.GuardOverlap == nil || *j.GuardOverlap
}

type ServerConfig struct {
	Addr         string        `yaml:"addr" split_words:"true"`
	ReadTimeout  time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout time.Duration `yaml:"write_timeout" split_words:"true"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv builds the configuration from NOTIFIER_* environment variables
// only, for deployments that ship no config file.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "release_notifier"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "notifications"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "push_notifications"
	}
	if c.Catalog.TokenURL == "" {
		c.Catalog.TokenURL = "https://accounts.spotify.com/api/token"
	}
	if c.Catalog.BaseURL == "" {
		c.Catalog.BaseURL = "https://api.spotify.com"
	}
	if c.Catalog.Timeout == 0 {
		c.Catalog.Timeout = 10 * time.Second
	}
	if c.Catalog.TokenMargin == 0 {
		c.Catalog.TokenMargin = 60 * time.Second
	}
	if c.Catalog.PageSize == 0 {
		c.Catalog.PageSize = 10
	}
	if c.Catalog.MaxPages == 0 {
		c.Catalog.MaxPages = 1
	}
	if c.Catalog.LookbackMonths == 0 {
		c.Catalog.LookbackMonths = 24
	}
	if c.Catalog.Retry.MaxAttempts == 0 {
		c.Catalog.Retry.MaxAttempts = 2
	}
	if c.Catalog.Retry.InitialBackoff == 0 {
		c.Catalog.Retry.InitialBackoff = 250 * time.Millisecond
	}
	if c.Catalog.Retry.MaxBackoff == 0 {
		c.Catalog.Retry.MaxBackoff = 2 * time.Second
	}
	if c.Catalog.Breaker.ConsecutiveFailures == 0 {
		c.Catalog.Breaker.ConsecutiveFailures = 5
	}
	if c.Catalog.Breaker.OpenTimeout == 0 {
		c.Catalog.Breaker.OpenTimeout = 30 * time.Second
	}
	if c.Job.Name == "" {
		c.Job.Name = "check-new-releases"
	}
	if c.Job.UsersPerBatch == 0 {
		c.Job.UsersPerBatch = 30
	}
	if c.Job.MaxExecutionTime == 0 {
		c.Job.MaxExecutionTime = 45 * time.Second
	}
	if c.Job.ReleaseWindow == 0 {
		c.Job.ReleaseWindow = 6 * time.Hour
	}
	if c.Job.RequestDelay == 0 {
		c.Job.RequestDelay = 200 * time.Millisecond
	}
	if c.Job.RateLimitBackoff == 0 {
		c.Job.RateLimitBackoff = time.Second
	}
	if c.Job.ReleasesPerCheck == 0 {
		c.Job.ReleasesPerCheck = 10
	}
	if c.Job.StaleAfter == 0 {
		c.Job.StaleAfter = 2 * c.Job.MaxExecutionTime
	}
	if c.Job.Interval == 0 {
		c.Job.Interval = 5 * time.Minute
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 90 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
