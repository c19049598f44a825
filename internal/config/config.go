package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Teller environments.
const (
	TellerSandbox     = "sandbox"
	TellerDevelopment = "development"
	TellerProduction  = "production"
)

// Config holds application configuration
type Config struct {
	// Server
	Env      string
	Port     string
	LogLevel string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// JWT
	JWTSecret        string
	JWTExpirationDur time.Duration

	// EncryptionKey protects provider secrets at rest. Must be 32 bytes.
	EncryptionKey string

	// InternalAPIKey guards the internal sweep trigger endpoint.
	InternalAPIKey string

	SnapTrade SnapTradeConfig
	Teller    TellerConfig
	Transport TransportConfig
	Sync      SyncConfig

	RecoveryMaxIDVersions int

	// Cache
	RedisURL string
	CacheTTL time.Duration

	// Telemetry
	OTelEnabled     bool
	OTelServiceName string
	OTelEndpoint    string
	MetricsPort     string
}

// SnapTradeConfig holds brokerage aggregator settings.
type SnapTradeConfig struct {
	ClientID      string
	ConsumerKey   string
	BaseURL       string
	WebhookSecret string
	UserIDPrefix  string
}

// Enabled reports whether SnapTrade credentials are present.
func (c SnapTradeConfig) Enabled() bool {
	return c.ClientID != "" && c.ConsumerKey != ""
}

// TellerConfig holds banking aggregator settings.
type TellerConfig struct {
	ApplicationID string
	Environment   string
	BaseURL       string
	ConnectURL    string
	Certificate   string
	PrivateKey    string
	CertPath      string
	KeyPath       string
	SigningSecret string
}

// Enabled reports whether a Teller application is configured.
func (c TellerConfig) Enabled() bool {
	return c.ApplicationID != ""
}

// Sandbox reports whether Teller runs without mutual TLS.
func (c TellerConfig) Sandbox() bool {
	return c.Environment == TellerSandbox
}

// TransportConfig holds the retry and pacing tunables for provider calls.
type TransportConfig struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxRetryAfter  time.Duration
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
}

// SyncConfig holds the background sweep settings.
type SyncConfig struct {
	Enabled         bool
	Interval        time.Duration
	Workers         int
	QueueSize       int
	JobDelay        time.Duration
	JobTimeout      time.Duration
	RunOnStartup    bool
	StrikeThreshold int
}

var appConfig *Config

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if not already loaded
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	p := &parser{}

	config := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "flint"),
		DBPassword: getEnv("DB_PASSWORD", "flint"),
		DBName:     getEnv("DB_NAME", "flint"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret:      getEnv("JWT_SECRET", "fallback-secret-key-for-dev-only"),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		InternalAPIKey: getEnv("INTERNAL_API_KEY", ""),

		SnapTrade: SnapTradeConfig{
			ClientID:      getEnv("SNAPTRADE_CLIENT_ID", ""),
			ConsumerKey:   getEnv("SNAPTRADE_CONSUMER_KEY", ""),
			BaseURL:       getEnv("SNAPTRADE_BASE_URL", "https://api.snaptrade.com/api/v1"),
			WebhookSecret: getEnv("SNAPTRADE_WEBHOOK_SECRET", ""),
			UserIDPrefix:  getEnv("SNAPTRADE_USER_ID_PREFIX", "flint"),
		},
		Teller: TellerConfig{
			ApplicationID: getEnv("TELLER_APPLICATION_ID", ""),
			Environment:   strings.ToLower(getEnv("TELLER_ENVIRONMENT", TellerSandbox)),
			BaseURL:       getEnv("TELLER_BASE_URL", "https://api.teller.io"),
			ConnectURL:    getEnv("TELLER_CONNECT_URL", "https://teller.io/connect"),
			Certificate:   getEnv("TELLER_CERT", ""),
			PrivateKey:    getEnv("TELLER_KEY", ""),
			CertPath:      getEnv("TELLER_CERT_PATH", ""),
			KeyPath:       getEnv("TELLER_KEY_PATH", ""),
			SigningSecret: getEnv("TELLER_SIGNING_SECRET", ""),
		},
		Transport: TransportConfig{
			MaxAttempts:    p.getInt("PROVIDER_MAX_ATTEMPTS", 3),
			BaseDelay:      p.getDuration("PROVIDER_BASE_DELAY", time.Second),
			MaxDelay:       p.getDuration("PROVIDER_MAX_DELAY", 10*time.Second),
			MaxRetryAfter:  p.getDuration("PROVIDER_MAX_RETRY_AFTER", 60*time.Second),
			RequestTimeout: p.getDuration("PROVIDER_REQUEST_TIMEOUT", 30*time.Second),
			RateLimit:      p.getFloat("PROVIDER_RATE_LIMIT", 10),
			RateBurst:      p.getInt("PROVIDER_RATE_BURST", 20),
		},
		Sync: SyncConfig{
			Enabled:         p.getBool("SYNC_ENABLED", true),
			Interval:        p.getDuration("SYNC_INTERVAL", 15*time.Minute),
			Workers:         p.getInt("SYNC_WORKERS", 5),
			QueueSize:       p.getInt("SYNC_QUEUE_SIZE", 100),
			JobDelay:        p.getDuration("SYNC_JOB_DELAY", 0),
			JobTimeout:      p.getDuration("SYNC_JOB_TIMEOUT", 5*time.Minute),
			RunOnStartup:    p.getBool("SYNC_RUN_ON_STARTUP", false),
			StrikeThreshold: p.getInt("SYNC_STRIKE_THRESHOLD", 3),
		},
		RecoveryMaxIDVersions: p.getInt("RECOVERY_MAX_ID_VERSIONS", 5),

		RedisURL: getEnv("REDIS_URL", ""),
		CacheTTL: p.getDuration("CACHE_TTL", 60*time.Second),

		OTelEnabled:     p.getBool("OTEL_ENABLED", false),
		OTelServiceName: getEnv("OTEL_SERVICE_NAME", "flint"),
		OTelEndpoint:    getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		MetricsPort:     getEnv("METRICS_PORT", "9464"),
	}

	config.JWTExpirationDur = p.getDuration("JWT_EXPIRES_IN", 24*time.Hour)

	if len(p.errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(p.errs, "; "))
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	appConfig = config
	return config, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if c.EncryptionKey != "" && len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}
	if c.Transport.MaxAttempts < 1 {
		return fmt.Errorf("PROVIDER_MAX_ATTEMPTS must be at least 1")
	}
	if c.Transport.MaxDelay < c.Transport.BaseDelay {
		return fmt.Errorf("PROVIDER_MAX_DELAY must not be below PROVIDER_BASE_DELAY")
	}
	if c.Sync.StrikeThreshold < 1 {
		return fmt.Errorf("SYNC_STRIKE_THRESHOLD must be at least 1")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive")
	}
	switch c.Teller.Environment {
	case TellerSandbox, TellerDevelopment, TellerProduction:
	default:
		return fmt.Errorf("TELLER_ENVIRONMENT must be sandbox, development or production, got %q", c.Teller.Environment)
	}
	if c.Teller.Enabled() && !c.Teller.Sandbox() {
		hasInline := c.Teller.Certificate != "" && c.Teller.PrivateKey != ""
		hasFiles := c.Teller.CertPath != "" && c.Teller.KeyPath != ""
		if !hasInline && !hasFiles {
			return fmt.Errorf("teller %s environment requires TELLER_CERT/TELLER_KEY or TELLER_CERT_PATH/TELLER_KEY_PATH", c.Teller.Environment)
		}
	}
	if (c.SnapTrade.Enabled() || c.Teller.Enabled()) && c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required when a provider is configured")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// MigrationURL returns the URL form used by golang-migrate.
func (c *Config) MigrationURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// Get returns the application configuration
func Get() *Config {
	if appConfig == nil {
		var err error
		appConfig, err = Load()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	return appConfig
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser collects malformed values instead of failing on the first one.
type parser struct {
	errs []string
}

func (p *parser) getInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %q is not an integer", key, raw))
		return def
	}
	return v
}

func (p *parser) getFloat(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %q is not a number", key, raw))
		return def
	}
	return v
}

func (p *parser) getBool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %q is not a boolean", key, raw))
		return def
	}
	return v
}

func (p *parser) getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %q is not a duration", key, raw))
		return def
	}
	return v
}
