package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string
	PublicURL   string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUserID       string
	// PubNubIngressChannel is the channel a provider pushes payment
	// notifications on. Empty disables the listener.
	PubNubIngressChannel string

	Provider ProviderConfig
	Mail     MailConfig
	Poller   PollerConfig

	// Reconciliation
	CallbackLockTTL time.Duration
	StatusCacheTTL  time.Duration
	StaleAfter      time.Duration

	// Ingress rate limit on payment initiation, per client IP
	InitiateRateLimit  int
	InitiateRateWindow time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

// ProviderConfig holds the mobile-money provider credentials.
type ProviderConfig struct {
	BaseURL     string
	APIKey      string
	HMACKey     string
	CallbackURL string
	Timeout     time.Duration
}

type MailConfig struct {
	APIURL     string
	APIKey     string
	From       string
	FromName   string
	StaffEmail string
	Timeout    time.Duration
	// SendsPerSecond paces outgoing emails.
	SendsPerSecond float64
}

type PollerConfig struct {
	Interval  time.Duration
	Budget    time.Duration
	VerifyURL string
}

// LoadConfig reads the environment, after loading a .env file when one is
// present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),
		PublicURL:   getEnv("PUBLIC_URL", "http://localhost:8090"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:     getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey:   getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:      getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:         getEnv("PUBNUB_USER_ID", "event-payments"),
		PubNubIngressChannel: getEnv("PUBNUB_INGRESS_CHANNEL", ""),

		Provider: ProviderConfig{
			BaseURL:     getEnv("MOMO_BASE_URL", "https://api.momo.example.com"),
			APIKey:      getEnv("MOMO_API_KEY", ""),
			HMACKey:     getEnv("MOMO_HMAC_KEY", ""),
			CallbackURL: getEnv("MOMO_CALLBACK_URL", "http://localhost:8090/api/v1/payments/callback"),
			Timeout:     getEnvAsDuration("MOMO_TIMEOUT", "10s"),
		},

		Mail: MailConfig{
			APIURL:         getEnv("MAIL_API_URL", ""),
			APIKey:         getEnv("MAIL_API_KEY", ""),
			From:           getEnv("MAIL_FROM", "tickets@example.com"),
			FromName:       getEnv("MAIL_FROM_NAME", "Events"),
			StaffEmail:     getEnv("MAIL_STAFF_EMAIL", "staff@example.com"),
			Timeout:        getEnvAsDuration("MAIL_TIMEOUT", "10s"),
			SendsPerSecond: getEnvAsFloat("MAIL_SENDS_PER_SECOND", 2),
		},

		Poller: PollerConfig{
			Interval:  getEnvAsDuration("POLL_INTERVAL", "5s"),
			Budget:    getEnvAsDuration("POLL_BUDGET", "2m"),
			VerifyURL: getEnv("POLL_VERIFY_URL", "http://localhost:8090/api/v1/payments/verify"),
		},

		// Reconciliation
		CallbackLockTTL: getEnvAsDuration("CALLBACK_LOCK_TTL", "30s"),
		StatusCacheTTL:  getEnvAsDuration("STATUS_CACHE_TTL", "10m"),
		StaleAfter:      getEnvAsDuration("STALE_AFTER", "30m"),

		// Rate limit
		InitiateRateLimit:  getEnvAsInt("INITIATE_RATE_LIMIT", 10),
		InitiateRateWindow: getEnvAsDuration("INITIATE_RATE_WINDOW", "1m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

// IsDevelopment gates the callback simulation endpoint.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
