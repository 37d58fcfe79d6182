// Package config loads process configuration from environment variables.
//
// All credentials and endpoints MUST come from the environment. There are no
// fallback defaults for security-sensitive values; non-sensitive tunables
// fall back to the defaults below.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the fully-resolved process configuration, read once at startup.
type Config struct {
	// Upstream transaction source (external, §4.13)
	StreamEndpoint string
	StreamToken    string

	// Durable stream / counter store backend
	RedisURL string

	// Append-only sink (§4.14)
	AppendSinkURL string

	// External enrichment (out of scope collaborator, contract only)
	EnrichmentBaseURL      string
	EnrichmentAPIKey       string
	EnrichmentDailyCredits int

	// Alert channels
	DiscordWebhookURL string
	TelegramBotToken  string
	TelegramChatID    string

	// Tunables (hot-reloadable subset lives in backpressure/trigger packages;
	// these are the process-start defaults)
	HotTokenTTL        time.Duration
	WarmTokenTTL       time.Duration
	AlertCooldown      time.Duration
	MinSwapConfidence  float64

	BPLagWarnSeconds float64
	BPLagCritSeconds float64
	BPBufWarn        int64
	BPBufCrit        int64

	// Process topology
	ConsumerCount int
	ConsumerName  string

	// Local files
	DeltaLogDir              string
	DeltaLogSegmentMaxBytes  int64
	DeltaLogSegmentMaxAge    time.Duration
	TriggerRulesPath         string

	MetricsAddr string
	LogLevel    string
}

// Load reads and validates the environment. Fatal startup failures (missing
// required variables) exit the process non-zero before any side effect.
func Load(log *logrus.Logger) Config {
	cfg := Config{
		StreamEndpoint: requireEnv(log, "STREAM_ENDPOINT"),
		StreamToken:    requireEnv(log, "STREAM_TOKEN"),
		RedisURL:       requireEnv(log, "REDIS_URL"),
		AppendSinkURL:  requireEnv(log, "APPEND_SINK_URL"),

		EnrichmentBaseURL:      os.Getenv("ENRICHMENT_BASE_URL"),
		EnrichmentAPIKey:       os.Getenv("ENRICHMENT_API_KEY"),
		EnrichmentDailyCredits: getEnvInt(log, "ENRICHMENT_DAILY_CREDITS", 500000),

		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		TelegramBotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:    os.Getenv("TELEGRAM_CHAT_ID"),

		HotTokenTTL:       time.Duration(getEnvInt(log, "HOT_TOKEN_TTL_SECONDS", 3600)) * time.Second,
		WarmTokenTTL:      30 * time.Minute,
		AlertCooldown:     time.Duration(getEnvInt(log, "ALERT_COOLDOWN_SECONDS", 300)) * time.Second,
		MinSwapConfidence: getEnvFloat(log, "MIN_SWAP_CONFIDENCE", 0.7),

		BPLagWarnSeconds: getEnvFloat(log, "BP_LAG_WARN_S", 10),
		BPLagCritSeconds: getEnvFloat(log, "BP_LAG_CRIT_S", 60),
		BPBufWarn:        int64(getEnvInt(log, "BP_BUF_WARN", 5000)),
		BPBufCrit:        int64(getEnvInt(log, "BP_BUF_CRIT", 50000)),

		ConsumerCount: getEnvInt(log, "STREAM_CONSUMER_COUNT", 1),
		ConsumerName:  os.Getenv("CONSUMER_NAME"),

		DeltaLogDir:             getEnvOrDefault("DELTA_LOG_DIR", "./data/deltalog"),
		DeltaLogSegmentMaxBytes: int64(getEnvInt(log, "DELTA_LOG_SEGMENT_MAX_BYTES", 64*1024*1024)),
		DeltaLogSegmentMaxAge:   time.Duration(getEnvInt(log, "DELTA_LOG_SEGMENT_MAX_AGE_SECONDS", 3600)) * time.Second,
		TriggerRulesPath:        getEnvOrDefault("TRIGGER_RULES_PATH", "./config/rules.json"),

		MetricsAddr: getEnvOrDefault("METRICS_ADDR", ":9090"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
	}

	return cfg
}

// requireEnv reads a required environment variable and exits if it is not
// set. This prevents the binary from starting with missing critical
// configuration.
func requireEnv(log *logrus.Logger, key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("required environment variable %s is not set", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for
// non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(log *logrus.Logger, key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Warnf("invalid int for %s=%q, using default %d", key, val, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(log *logrus.Logger, key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		log.Warnf("invalid float for %s=%q, using default %g", key, val, fallback)
		return fallback
	}
	return f
}
