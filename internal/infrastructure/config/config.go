package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Gateway       BackendConfig       `mapstructure:"gateway"`
	Orders        BackendConfig       `mapstructure:"orders"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       int           `mapstructure:"rate_limit"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// BackendConfig describes one of the backend HTTP services the core talks to.
type BackendConfig struct {
	BaseURL                 string        `mapstructure:"base_url"`
	APIKey                  string        `mapstructure:"api_key"`
	Timeout                 time.Duration `mapstructure:"timeout"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
}

type PaymentConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	PollTimeout      time.Duration `mapstructure:"poll_timeout"`
	PersistAttempts  uint          `mapstructure:"persist_attempts"`
	PersistBaseDelay time.Duration `mapstructure:"persist_base_delay"`
	StateTTL         time.Duration `mapstructure:"state_ttl"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
	AutosaveInterval time.Duration `mapstructure:"autosave_interval"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	ConfirmationURL  string        `mapstructure:"confirmation_url"`
	ReturnURL        string        `mapstructure:"return_url"`
	AutoCancel       bool          `mapstructure:"auto_cancel"`
}

type WorkerConfig struct {
	BatchSize     int64         `mapstructure:"batch_size"`
	BlockDuration time.Duration `mapstructure:"block_duration"`
	ConsumerGroup string        `mapstructure:"consumer_group"`
	// Pending messages idle this long are claimed by another consumer.
	ClaimMinIdle  time.Duration `mapstructure:"claim_min_idle"`
	MaxDeliveries int64         `mapstructure:"max_deliveries"`
	// How often expired idempotency keys are purged.
	IdempotencyCleanup time.Duration `mapstructure:"idempotency_cleanup"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("CHECKOUT")
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/checkout")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Gateway.BaseURL == "" {
		errs = append(errs, fmt.Errorf("gateway.base_url is required"))
	}
	if c.Orders.BaseURL == "" {
		errs = append(errs, fmt.Errorf("orders.base_url is required"))
	}
	if c.Payment.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("payment.poll_interval must be positive"))
	}
	if c.Payment.PollTimeout < c.Payment.PollInterval {
		errs = append(errs, fmt.Errorf("payment.poll_timeout must be at least payment.poll_interval"))
	}
	if c.Payment.PersistAttempts == 0 {
		errs = append(errs, fmt.Errorf("payment.persist_attempts must be positive"))
	}
	if c.Payment.StateTTL <= 0 {
		errs = append(errs, fmt.Errorf("payment.state_ttl must be positive"))
	}
	if c.Payment.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("payment.lock_ttl must be positive"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}
	if c.Worker.MaxDeliveries < 0 {
		errs = append(errs, fmt.Errorf("worker.max_deliveries must not be negative"))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit", 60)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "checkout")
	v.SetDefault("database.database", "checkout")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.min_connections", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Backend defaults
	v.SetDefault("gateway.base_url", "http://localhost:3000/api/payments")
	v.SetDefault("gateway.timeout", "15s")
	v.SetDefault("gateway.circuit_breaker_threshold", 5)
	v.SetDefault("gateway.circuit_breaker_timeout", "30s")
	v.SetDefault("orders.base_url", "http://localhost:3000/api")
	v.SetDefault("orders.timeout", "10s")
	v.SetDefault("orders.circuit_breaker_threshold", 5)
	v.SetDefault("orders.circuit_breaker_timeout", "30s")

	// Payment defaults
	v.SetDefault("payment.poll_interval", "3s")
	v.SetDefault("payment.poll_timeout", "10m")
	v.SetDefault("payment.persist_attempts", 3)
	v.SetDefault("payment.persist_base_delay", "1s")
	v.SetDefault("payment.state_ttl", "24h")
	v.SetDefault("payment.cleanup_interval", "1h")
	v.SetDefault("payment.autosave_interval", "2s")
	v.SetDefault("payment.lock_ttl", "30s")
	v.SetDefault("payment.confirmation_url", "/orders/%s/confirmation")
	v.SetDefault("payment.return_url", "http://localhost:5173/checkout/result")
	v.SetDefault("payment.auto_cancel", true)

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.consumer_group", "payment-history")
	v.SetDefault("worker.claim_min_idle", "1m")
	v.SetDefault("worker.max_deliveries", 5)
	v.SetDefault("worker.idempotency_cleanup", "1h")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	// Instance ID
	v.SetDefault("instance_id", "checkout-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL is the URL form golang-migrate expects.
func (c *DatabaseConfig) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
