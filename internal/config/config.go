package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort    string
	JWTSecret   []byte
	Database    DatabaseConfig
	Redis       RedisConfig
	Cache       CacheConfig
	Quota       QuotaConfig
	Router      RouterConfig
	Providers   []ProviderSpec
	Accounting  AccountingConfig
	Billing     BillingConfig
	LoggingSink LoggingSinkConfig
	Metrics     MetricsConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	AutoMigrate     bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// CacheConfig holds response cache and in-process lookup cache settings
type CacheConfig struct {
	Enabled         bool          // Global switch for the response cache
	TTL             time.Duration // Lifetime of a cached completion
	WriteTimeout    time.Duration // Bound on the fire-and-forget cache write
	TenantCacheSize int64         // Max tenants kept in the credential cache
	TenantCacheTTL  time.Duration
}

// QuotaConfig holds admission settings
type QuotaConfig struct {
	Enabled      bool
	Window       time.Duration
	DefaultLimit int // Requests per window for tenants created without a limit
}

// RouterConfig holds fallback routing settings
type RouterConfig struct {
	Order          []string      // Provider names in priority order
	AttemptTimeout time.Duration // Bound on a single provider attempt
	HealthTTL      time.Duration // How long a health probe result is reused
	HealthInterval time.Duration // Background health check period when skipping unhealthy providers; 0 = HealthTTL/2
	SkipUnhealthy  bool          // Consult cached health before attempting a provider
}

// ProviderSpec describes one upstream backend.
type ProviderSpec struct {
	Name            string  `yaml:"name"`
	Type            string  `yaml:"type"`
	APIKey          string  `yaml:"api_key"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	BaseURL         string  `yaml:"base_url"`
	HealthModel     string  `yaml:"health_model"`
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`
	AllowNoKey      bool    `yaml:"allow_no_key"`
}

// AccountingConfig holds settings for the request record pipeline
type AccountingConfig struct {
	QueueBackend string // "memory" or "redis"
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// BillingConfig holds monthly spend tracking settings
type BillingConfig struct {
	Enabled    bool
	SpendTTL   time.Duration
	MaxRetries int
}

// LoggingSinkConfig holds configuration for the S3 request record archive
type LoggingSinkConfig struct {
	Enabled       bool          // Whether to enable S3 archiving
	BufferSize    int           // In-memory queue size
	FlushSize     int           // Flush to S3 after this many records
	FlushInterval time.Duration // Flush to S3 after this duration
	S3Bucket      string        // S3 bucket name
	S3Region      string        // AWS region
	S3Prefix      string        // Prefix for S3 keys (e.g., "records/")
	S3Endpoint    string        // Optional endpoint override (MinIO, LocalStack)
	PodName       string        // Pod identifier for multi-pod deployments
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvInt64(key string, defaultValue int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getEnvSeconds accepts either a Go duration ("90s") or a bare number of seconds ("3600").
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return getEnvDuration(key, defaultValue)
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvList(key string, defaultValue []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

const defaultJWTSecret = "change-me-in-production"

func jwtSecret() []byte {
	return []byte(getEnvString("JWT_SECRET", defaultJWTSecret))
}

// LoadAdmin reads only what is needed to mint admin tokens: the .env file and
// JWT_SECRET. It does not require a database.
func LoadAdmin() (*Config, error) {
	if err := godotenv.Load(getEnvString("ENV_FILE", ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return &Config{JWTSecret: jwtSecret()}, nil
}

// UsesDefaultJWTSecret reports whether JWT_SECRET was left unset.
func (c *Config) UsesDefaultJWTSecret() bool {
	return string(c.JWTSecret) == defaultJWTSecret
}

// Load reads configuration from an optional .env file and the environment.
// Variables already present in the environment take precedence over .env.
func Load() (*Config, error) {
	if err := godotenv.Load(getEnvString("ENV_FILE", ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:  getEnvString("HTTP_PORT", "8080"),
		JWTSecret: jwtSecret(),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Cache: CacheConfig{
			Enabled:         getEnvBool("CACHE_ENABLED", true),
			TTL:             getEnvSeconds("CACHE_TTL", time.Hour),
			WriteTimeout:    getEnvDuration("CACHE_WRITE_TIMEOUT", 2*time.Second),
			TenantCacheSize: getEnvInt64("CACHE_TENANT_SIZE", 10_000),
			TenantCacheTTL:  getEnvDuration("CACHE_TENANT_TTL", 1*time.Minute),
		},
		Quota: QuotaConfig{
			Enabled:      getEnvBool("QUOTA_ENABLED", true),
			Window:       time.Minute,
			DefaultLimit: getEnvInt("DEFAULT_RATE_LIMIT", 100),
		},
		Router: RouterConfig{
			Order:          getEnvList("PROVIDER_FALLBACK_ORDER", []string{"openai", "anthropic", "local"}),
			AttemptTimeout: getEnvDuration("ROUTER_ATTEMPT_TIMEOUT", 30*time.Second),
			HealthTTL:      getEnvDuration("PROVIDER_HEALTH_TTL", 30*time.Second),
			HealthInterval: getEnvDuration("PROVIDER_HEALTH_INTERVAL", 0),
			SkipUnhealthy:  getEnvBool("ROUTER_SKIP_UNHEALTHY", false),
		},
		Accounting: AccountingConfig{
			QueueBackend: getEnvString("ACCOUNTING_QUEUE_BACKEND", "memory"),
			BatchSize:    getEnvInt("ACCOUNTING_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("ACCOUNTING_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("ACCOUNTING_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("ACCOUNTING_RETRY_BACKOFF", 1*time.Second),
		},
		Billing: BillingConfig{
			Enabled:    getEnvBool("BILLING_ENABLED", true),
			SpendTTL:   getEnvDuration("BILLING_SPEND_TTL", 60*24*time.Hour),
			MaxRetries: getEnvInt("BILLING_MAX_RETRIES", 3),
		},
		LoggingSink: LoggingSinkConfig{
			Enabled:       getEnvBool("LOGGING_SINK_ENABLED", false),
			BufferSize:    getEnvInt("LOGGING_SINK_BUFFER_SIZE", 10000),
			FlushSize:     getEnvInt("LOGGING_SINK_FLUSH_SIZE", 1000),
			FlushInterval: getEnvDuration("LOGGING_SINK_FLUSH_INTERVAL", 5*time.Minute),
			S3Bucket:      getEnvString("LOGGING_SINK_S3_BUCKET", ""),
			S3Region:      getEnvString("LOGGING_SINK_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("LOGGING_SINK_S3_PREFIX", "records/"),
			S3Endpoint:    getEnvString("LOGGING_SINK_S3_ENDPOINT", ""),
			PodName:       getEnvString("POD_NAME", "gateway-0"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("ENABLE_METRICS", true),
			Namespace: getEnvString("METRICS_NAMESPACE", "tenant_gateway"),
		},
	}

	providers, err := loadProviders()
	if err != nil {
		return nil, err
	}
	cfg.Providers = providers

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants that the defaults cannot guarantee.
func (c *Config) Validate() error {
	if c.Router.AttemptTimeout <= 0 {
		return fmt.Errorf("ROUTER_ATTEMPT_TIMEOUT must be positive")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive when the cache is enabled")
	}
	switch c.Accounting.QueueBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("ACCOUNTING_QUEUE_BACKEND must be memory or redis, got %q", c.Accounting.QueueBackend)
	}
	if c.LoggingSink.Enabled && c.LoggingSink.S3Bucket == "" {
		return fmt.Errorf("LOGGING_SINK_S3_BUCKET is required when the logging sink is enabled")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" || p.Type == "" {
			return fmt.Errorf("provider entries need a name and a type")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// ProviderByName returns the provider spec registered under name.
func (c *Config) ProviderByName(name string) (ProviderSpec, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderSpec{}, false
}
