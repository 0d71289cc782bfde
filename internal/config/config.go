package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	Env string

	// ManagerUser/ManagerPassword bootstrap the first reviewer account.
	ManagerUser     string
	ManagerPassword string

	// DatabaseURL is either a postgres:// URL or a sqlite "file:" DSN.
	DatabaseURL string

	ListenAddr string

	// Timezone is the single zone used for heatmap buckets, effective days
	// and leaderboard periods.
	Timezone string

	// ArchiveDays moves reviewed reports older than this many days to the
	// cold archive. Zero disables archiving.
	ArchiveDays int

	// IdempotencyWindow is the timestamp bucket width used for duplicate
	// delivery detection.
	IdempotencyWindow time.Duration

	// MinReportLength is the suspicion threshold in characters.
	MinReportLength int

	// ConversionTypes are the counters a manager may fill in on approval.
	ConversionTypes []string

	KPIApprovedWeight  float64
	KPIDuplicateWeight float64
	KPIRejectedWeight  float64

	// BootstrapSourceKey, if set, is registered as an ingestion key for
	// BootstrapSourceName on startup.
	BootstrapSourceKey  string
	BootstrapSourceName string

	TelegramBotToken      string
	TelegramWebhookSecret string
	// TelegramAdminChatID receives a copy of every new report when set.
	TelegramAdminChatID string

	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string

	RedisAddr    string
	RedisChannel string
}

// Load reads configuration from environment variables and applies
// defaults.
func Load() *Config {
	cfg := &Config{
		Env:                   getenv("APP_ENV", "development"),
		ManagerUser:           getenv("APP_MANAGER_USER", "manager"),
		ManagerPassword:       getenv("APP_MANAGER_PASSWORD", "changeme"),
		DatabaseURL:           os.Getenv("APP_DATABASE_URL"),
		ListenAddr:            getenv("APP_LISTEN_ADDR", ":8080"),
		Timezone:              getenv("APP_TIMEZONE", "UTC"),
		ArchiveDays:           getenvInt("APP_ARCHIVE_DAYS", 180),
		IdempotencyWindow:     getenvDuration("APP_IDEMPOTENCY_WINDOW", 5*time.Second),
		MinReportLength:       getenvInt("APP_MIN_REPORT_LENGTH", 15),
		ConversionTypes:       getenvList("APP_CONVERSION_TYPES", []string{"accounts", "leads"}),
		KPIApprovedWeight:     getenvFloat("APP_KPI_APPROVED_WEIGHT", 1),
		KPIDuplicateWeight:    getenvFloat("APP_KPI_DUPLICATE_WEIGHT", 1),
		KPIRejectedWeight:     getenvFloat("APP_KPI_REJECTED_WEIGHT", 1),
		BootstrapSourceKey:    getenv("APP_SOURCE_KEY", ""),
		BootstrapSourceName:   getenv("APP_SOURCE_NAME", "web"),
		TelegramBotToken:      getenv("APP_TELEGRAM_BOT_TOKEN", ""),
		TelegramWebhookSecret: getenv("APP_TELEGRAM_WEBHOOK_SECRET", ""),
		TelegramAdminChatID:   getenv("APP_TELEGRAM_ADMIN_CHAT_ID", ""),
		AMQPURL:               getenv("APP_AMQP_URL", ""),
		AMQPExchange:          getenv("APP_AMQP_EXCHANGE", "reports"),
		AMQPRoutingKey:        getenv("APP_AMQP_ROUTING_KEY", "report.events"),
		RedisAddr:             getenv("APP_REDIS_ADDR", ""),
		RedisChannel:          getenv("APP_REDIS_CHANNEL", "report-events"),
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "file:reportinsight.db?_busy_timeout=5000"
	}
	return cfg
}

// Location resolves Timezone, falling back to UTC on an unknown zone name.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(strings.ToLower(part)); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
