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

// Config holds notification service configuration loaded from the environment.
type Config struct {
	AppName   string
	LogLevel  string
	LogFormat string
	HTTPPort  string

	BusDriver          string
	RabbitURL          string
	BusExchange        string
	DeadLetterQueue    string
	BusPartitions      int
	PrefetchCount      int
	BusBuffer          int
	RedeliveryDelay    time.Duration
	WorkerCount        int
	MaxDeliveries      int
	IngestPublishLimit time.Duration

	StoreDriver string
	RedisURL    string
	PresenceTTL time.Duration
	LedgerTTL   time.Duration

	QueueDriver       string
	DatabaseURL       string
	SQLitePath        string
	QueueTable        string
	StatusTable       string
	OfflineMaxPerUser int

	TaskDatabaseURL string

	PushTimeout     time.Duration
	DrainBatchSize  int
	DrainRatePerSec float64

	ReminderScanCron string
	LedgerSweepCron  string
	SchedulerTZ      string
	OverdueLookback  time.Duration

	MentionPreviewChars int
	MentionStrict       bool
	MentionHandles      string
	MentionResolveByID  bool

	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads envFile first when it is set. A named file that cannot be
// read is an error; the implicit .env is optional.
func LoadFrom(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		AppName:   getEnv("APP_NAME", "notification_service"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		HTTPPort:  getEnv("HTTP_PORT", "8082"),

		BusDriver:          strings.ToLower(getEnv("BUS_DRIVER", "memory")),
		RabbitURL:          getEnv("RABBITMQ_URL", ""),
		BusExchange:        getEnv("BUS_EXCHANGE", "notifications"),
		DeadLetterQueue:    getEnv("BUS_DLQ", "notifications.dlq"),
		BusPartitions:      getEnvAsInt("BUS_PARTITIONS", 8),
		PrefetchCount:      getEnvAsInt("BUS_PREFETCH", 100),
		BusBuffer:          getEnvAsInt("BUS_BUFFER", 1024),
		RedeliveryDelay:    getEnvAsDuration("BUS_REDELIVERY_DELAY", 5*time.Second),
		WorkerCount:        getEnvAsInt("WORKER_COUNT", 4),
		MaxDeliveries:      getEnvAsInt("MAX_DELIVERIES", 5),
		IngestPublishLimit: getEnvAsDuration("INGEST_PUBLISH_TIMEOUT", 5*time.Second),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "memory")),
		RedisURL:    getEnv("REDIS_URL", ""),
		PresenceTTL: getEnvAsDuration("PRESENCE_TTL", 2*time.Minute),
		LedgerTTL:   getEnvAsDuration("LEDGER_TTL", 72*time.Hour),

		QueueDriver:       strings.ToLower(getEnv("QUEUE_DRIVER", "memory")),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		SQLitePath:        getEnv("SQLITE_PATH", "notifications.db"),
		QueueTable:        getEnv("QUEUE_TABLE", "offline_notifications"),
		StatusTable:       getEnv("STATUS_TABLE", "notification_statuses"),
		OfflineMaxPerUser: getEnvAsInt("OFFLINE_QUEUE_MAX_PER_USER", 1000),

		TaskDatabaseURL: getEnv("TASK_DATABASE_URL", ""),

		PushTimeout:     getEnvAsDuration("PUSH_TIMEOUT", 2*time.Second),
		DrainBatchSize:  getEnvAsInt("DRAIN_BATCH_SIZE", 50),
		DrainRatePerSec: getEnvAsFloat("DRAIN_RATE_PER_SEC", 0),

		ReminderScanCron: getEnv("REMINDER_SCAN_CRON", "@hourly"),
		LedgerSweepCron:  getEnv("LEDGER_SWEEP_CRON", "@daily"),
		SchedulerTZ:      getEnv("SCHEDULER_TZ", "UTC"),
		OverdueLookback:  getEnvAsDuration("REMINDER_OVERDUE_LOOKBACK", 24*time.Hour),

		MentionPreviewChars: getEnvAsInt("MENTION_PREVIEW_CHARS", 100),
		MentionStrict:       getEnvAsBool("MENTION_STRICT", true),
		MentionHandles:      getEnv("MENTION_HANDLES", ""),
		MentionResolveByID:  getEnvAsBool("MENTION_RESOLVE_IDENTITY", true),

		RetryMaxAttempts:    getEnvAsInt("RETRY_MAX_ATTEMPTS", 4),
		RetryInitialBackoff: getEnvAsDuration("RETRY_INITIAL_BACKOFF", time.Second),
		RetryMaxBackoff:     getEnvAsDuration("RETRY_MAX_BACKOFF", 15*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	switch c.BusDriver {
	case "amqp":
		if c.RabbitURL == "" {
			missing = append(missing, "RABBITMQ_URL")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported BUS_DRIVER %q", c.BusDriver)
	}
	switch c.StoreDriver {
	case "redis":
		if c.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.QueueDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported QUEUE_DRIVER %q", c.QueueDriver)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	if c.WorkerCount < 1 || c.BusPartitions < 1 || c.MaxDeliveries < 1 {
		return fmt.Errorf("WORKER_COUNT, BUS_PARTITIONS and MAX_DELIVERIES must be positive")
	}
	return nil
}

// QueueDSN is the connection string for the configured queue driver.
func (c *Config) QueueDSN() string {
	if c.QueueDriver == "sqlite" {
		return c.SQLitePath
	}
	return c.DatabaseURL
}

func getEnv(key, def string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return value
}

func getEnvAsInt(key string, def int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid int for %s, using default %d: %v", key, def, err)
			return def
		}
		return i
	}
	return def
}

func getEnvAsFloat(key string, def float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			log.Printf("invalid float for %s, using default %g: %v", key, def, err)
			return def
		}
		return f
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("invalid bool for %s, using default %t: %v", key, def, err)
			return def
		}
		return b
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			log.Printf("invalid duration for %s, using default %s: %v", key, def, err)
			return def
		}
		return d
	}
	return def
}
