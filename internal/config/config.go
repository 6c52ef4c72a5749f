package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	SeedDefaults bool

	OTLPEndpoint   string
	TracingEnabled bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimit RateLimitConfig

	Email EmailConfig

	RemoteWrite RemoteWriteConfig

	// PaymentWebhookSecrets maps provider name to its webhook signing secret.
	StripeWebhookSecret string
}

// RateLimitConfig throttles work-log writes per organization. Disabled when
// no redis address is configured.
type RateLimitConfig struct {
	Enabled        bool
	WorkLogRate    float64
	WorkLogBurst   int
	LockTTLSeconds int
}

type EmailConfig struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// RemoteWriteConfig configures the optional hosted-telemetry metrics pusher.
type RemoteWriteConfig struct {
	Enabled   bool
	Endpoint  string
	AuthToken string
	Interval  int // seconds
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "creditdesk"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		SeedDefaults: getenvBool("SEED_DEFAULTS", true),

		OTLPEndpoint:   getenv("OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled: getenvBool("TRACING_ENABLED", false),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "creditdesk"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		RateLimit: RateLimitConfig{
			Enabled:        getenvBool("RATE_LIMIT_ENABLED", false),
			WorkLogRate:    getenvFloat("RATE_LIMIT_WORK_LOG_RATE", 5),
			WorkLogBurst:   getenvInt("RATE_LIMIT_WORK_LOG_BURST", 20),
			LockTTLSeconds: getenvInt("RATE_LIMIT_LOCK_TTL_SECONDS", 30),
		},

		Email: EmailConfig{
			Enabled:      getenvBool("EMAIL_ENABLED", false),
			SMTPHost:     getenv("SMTP_HOST", "localhost"),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "billing@creditdesk.local"),
		},

		RemoteWrite: RemoteWriteConfig{
			Enabled:   getenvBool("METRICS_REMOTE_WRITE_ENABLED", false),
			Endpoint:  strings.TrimSpace(getenv("METRICS_REMOTE_WRITE_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_REMOTE_WRITE_TOKEN", "")),
			Interval:  getenvInt("METRICS_REMOTE_WRITE_INTERVAL", 30),
		},

		StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
