// Package config loads runtime settings from the environment, optional
// dotenv files and an optional YAML overlay for tuning values.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/leadcore/intent-core/internal/offer"
)

// Config centralizes runtime settings for the API, the event worker and the
// scheduled offer recompute.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	AdminToken string
	ConfigFile string

	// AdminRequestTimeoutMS bounds the synchronous admin calls (approve,
	// agent and batch runs, recompute). The server write deadline is derived
	// from it.
	AdminRequestTimeoutMS int

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	KafkaBrokers []string
	KafkaTopic   string

	QueueBatchingEnabled     bool
	QueueBatchSize           int
	QueueBatchFlushMS        int
	QueueBatchFlushTimeoutMS int
	QueueBatchQueueCapacity  int
	QueueBatchMaxInFlight    int
	QueueMaxAttempts         int

	WorkerEnabled bool

	OpenRouterAPIKey    string
	OpenRouterBaseURL   string
	OpenRouterTimeoutMS int
	CopyModel           string
	CopyCacheTTLSeconds int
	CopyCacheMaxEntries int

	MailEndpoint  string
	MailAPIKey    string
	MailFrom      string
	MailTimeoutMS int

	AlertRecipients []string

	RetryMaxRetries  int
	RetryBaseDelayMS int

	HighIntentThreshold int
	OfferThresholds     offer.Thresholds
	AgentDenylist       string
	WorkflowRoutes      map[string]string

	OfferRecomputeCron      string
	OfferRecomputeLimit     int
	OfferRecomputeSpacingMS int

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	OTelEnabled     bool
	OTelServiceName string
}

const serverWriteMargin = 10 * time.Second

func Load() Config {
	defaults := offer.DefaultThresholds()

	return Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		AdminToken: getEnv("ADMIN_TOKEN", ""),
		ConfigFile: getEnv("LEADCORE_CONFIG", ""),

		AdminRequestTimeoutMS: getEnvInt("ADMIN_REQUEST_TIMEOUT_MS", 30000),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "leadcore_events"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "leadcore_events_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "leadcore_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", "leadcore-1"),

		KafkaBrokers: getEnvList("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "leadcore.automation"),

		QueueBatchingEnabled:     getEnvBool("QUEUE_BATCHING_ENABLED", false),
		QueueBatchSize:           getEnvInt("QUEUE_BATCH_SIZE", 32),
		QueueBatchFlushMS:        getEnvInt("QUEUE_BATCH_FLUSH_MS", 25),
		QueueBatchFlushTimeoutMS: getEnvInt("QUEUE_BATCH_FLUSH_TIMEOUT_MS", 3000),
		QueueBatchQueueCapacity:  getEnvInt("QUEUE_BATCH_QUEUE_CAPACITY", 2048),
		QueueBatchMaxInFlight:    getEnvInt("QUEUE_BATCH_MAX_IN_FLIGHT", 4),
		QueueMaxAttempts:         getEnvInt("QUEUE_MAX_ATTEMPTS", 3),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),

		OpenRouterAPIKey:    getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL:   getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterTimeoutMS: getEnvInt("OPENROUTER_TIMEOUT_MS", 15000),
		CopyModel:           getEnv("COPY_MODEL", "openai/gpt-4.1-mini"),
		CopyCacheTTLSeconds: getEnvInt("COPY_CACHE_TTL_SECONDS", 900),
		CopyCacheMaxEntries: getEnvInt("COPY_CACHE_MAX_ENTRIES", 2000),

		MailEndpoint:  getEnv("MAIL_ENDPOINT", ""),
		MailAPIKey:    getEnv("MAIL_API_KEY", ""),
		MailFrom:      getEnv("MAIL_FROM", "Leadcore <hello@leadcore.local>"),
		MailTimeoutMS: getEnvInt("MAIL_TIMEOUT_MS", 10000),

		AlertRecipients: getEnvList("ALERT_RECIPIENTS", nil),

		RetryMaxRetries:  getEnvInt("RETRY_MAX_RETRIES", 3),
		RetryBaseDelayMS: getEnvInt("RETRY_BASE_DELAY_MS", 1000),

		HighIntentThreshold: getEnvInt("HIGH_INTENT_THRESHOLD", 9),
		OfferThresholds: offer.Thresholds{
			Membership:    getEnvInt("OFFER_MEMBERSHIP_SCORE", defaults.Membership),
			Credits:       getEnvInt("OFFER_CREDITS_SCORE", defaults.Credits),
			EmailOpens:    getEnvInt("OFFER_TRIAL_EMAIL_OPENS", defaults.EmailOpens),
			BehaviorScore: getEnvInt("OFFER_TRIAL_BEHAVIOR_SCORE", defaults.BehaviorScore),
		},
		AgentDenylist: getEnv("AGENT_DENYLIST", "chat|concierge|conversation"),

		OfferRecomputeCron:      getEnv("OFFER_RECOMPUTE_CRON", ""),
		OfferRecomputeLimit:     getEnvInt("OFFER_RECOMPUTE_LIMIT", 100),
		OfferRecomputeSpacingMS: getEnvInt("OFFER_RECOMPUTE_SPACING_MS", 200),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),

		OTelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTelServiceName: getEnv("OTEL_SERVICE_NAME", "leadcore"),
	}
}

func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

func (c Config) AdminRequestTimeout() time.Duration {
	if c.AdminRequestTimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.AdminRequestTimeoutMS) * time.Millisecond
}

// ServerWriteTimeout leaves room after the admin deadline for the handler to
// finish bookkeeping and write its JSON response.
func (c Config) ServerWriteTimeout() time.Duration {
	return c.AdminRequestTimeout() + serverWriteMargin
}

func (c Config) OfferRecomputeSpacing() time.Duration {
	return time.Duration(c.OfferRecomputeSpacingMS) * time.Millisecond
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
