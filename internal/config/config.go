package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	API struct {
		Port     string
		BasePath string
	}
	Store struct {
		Driver string
	}
	DB struct {
		DSN string
	}
	Telegram struct {
		BotToken      string
		APIURL        string
		WebhookSecret string
		RateLimit     int
	}
	Secrets struct {
		Source   string
		Prefix   string
		CacheTTL time.Duration
	}
	Connpass struct {
		BaseURL  string
		APIKey   string
		Timeout  time.Duration
		MaxPages int
	}
	Reminder struct {
		Horizon  time.Duration
		Timezone string
		Location *time.Location
	}
	Notification struct {
		MaxWorkers    int
		SendTimeout   time.Duration
		LedgerTimeout time.Duration
	}
	Schedule struct {
		Cron string
	}
	Kafka struct {
		Broker  string
		Topic   string
		GroupID string
	}
	Redis struct {
		Addr       string
		Password   string
		RunLockTTL time.Duration
	}
	Logging struct {
		Dir   string
		Level string
	}
}

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	SecretSourceEnv = "env"
	SecretSourceAWS = "aws"
)

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	var invalid []string

	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.BasePath = os.Getenv("API_BASE_PATH")

	cfg.Store.Driver = os.Getenv("STORE_DRIVER")
	cfg.DB.DSN = os.Getenv("DB_DSN")

	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.APIURL = os.Getenv("TELEGRAM_API_URL")
	cfg.Telegram.WebhookSecret = os.Getenv("TELEGRAM_WEBHOOK_SECRET")
	cfg.Telegram.RateLimit = intEnv("TELEGRAM_RATE_LIMIT", &invalid)

	cfg.Secrets.Source = os.Getenv("SECRET_SOURCE")
	cfg.Secrets.Prefix = os.Getenv("SECRET_PREFIX")
	cfg.Secrets.CacheTTL = durationEnv("SECRET_CACHE_TTL", &invalid)

	cfg.Connpass.BaseURL = os.Getenv("CONNPASS_BASE_URL")
	cfg.Connpass.APIKey = os.Getenv("CONNPASS_API_KEY")
	cfg.Connpass.Timeout = durationEnv("CONNPASS_TIMEOUT", &invalid)
	cfg.Connpass.MaxPages = intEnv("CONNPASS_MAX_PAGES", &invalid)

	cfg.Reminder.Horizon = durationEnv("REMINDER_HORIZON", &invalid)
	cfg.Reminder.Timezone = os.Getenv("REMINDER_TIMEZONE")

	cfg.Notification.MaxWorkers = intEnv("MAX_WORKERS", &invalid)
	cfg.Notification.SendTimeout = durationEnv("SEND_TIMEOUT", &invalid)
	cfg.Notification.LedgerTimeout = durationEnv("LEDGER_TIMEOUT", &invalid)

	cfg.Schedule.Cron = os.Getenv("SCHEDULE_CRON")

	cfg.Kafka.Broker = os.Getenv("KAFKA_BROKER")
	cfg.Kafka.Topic = os.Getenv("KAFKA_TOPIC")
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.RunLockTTL = durationEnv("RUN_LOCK_TTL", &invalid)

	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid configurations: %v", invalid)
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreMemory
		if cfg.DB.DSN != "" {
			cfg.Store.Driver = StorePostgres
		}
	}
	if cfg.Secrets.Source == "" {
		cfg.Secrets.Source = SecretSourceEnv
	}

	// Validate required settings
	missing := []string{}
	switch cfg.Store.Driver {
	case StorePostgres:
		if cfg.DB.DSN == "" {
			missing = append(missing, "DB_DSN")
		}
	case StoreMemory:
	default:
		return Config{}, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.Store.Driver)
	}
	switch cfg.Secrets.Source {
	case SecretSourceEnv:
		if cfg.Telegram.BotToken == "" {
			missing = append(missing, "TELEGRAM_BOT_TOKEN")
		}
	case SecretSourceAWS:
	default:
		return Config{}, fmt.Errorf("unsupported SECRET_SOURCE %q", cfg.Secrets.Source)
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	// Apply defaults
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v0"
	}
	if cfg.Telegram.RateLimit == 0 {
		cfg.Telegram.RateLimit = 25
	}
	if cfg.Secrets.Prefix == "" {
		cfg.Secrets.Prefix = "reminder-service/"
	}
	if cfg.Secrets.CacheTTL == 0 {
		cfg.Secrets.CacheTTL = 5 * time.Minute
	}
	if cfg.Connpass.BaseURL == "" {
		cfg.Connpass.BaseURL = "https://connpass.com/api/v1"
	}
	if cfg.Connpass.Timeout == 0 {
		cfg.Connpass.Timeout = 10 * time.Second
	}
	if cfg.Connpass.MaxPages == 0 {
		cfg.Connpass.MaxPages = 10
	}
	if cfg.Reminder.Horizon == 0 {
		cfg.Reminder.Horizon = 7 * 24 * time.Hour
	}
	if cfg.Reminder.Timezone == "" {
		cfg.Reminder.Timezone = "Asia/Tokyo"
	}
	if cfg.Notification.MaxWorkers == 0 {
		cfg.Notification.MaxWorkers = 10
	}
	if cfg.Notification.SendTimeout == 0 {
		cfg.Notification.SendTimeout = 10 * time.Second
	}
	if cfg.Notification.LedgerTimeout == 0 {
		cfg.Notification.LedgerTimeout = 5 * time.Second
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "reminder_trigger"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "reminder-service"
	}
	if cfg.Redis.RunLockTTL == 0 {
		cfg.Redis.RunLockTTL = 15 * time.Minute
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	loc, err := time.LoadLocation(cfg.Reminder.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("invalid REMINDER_TIMEZONE %q: %w", cfg.Reminder.Timezone, err)
	}
	cfg.Reminder.Location = loc

	return cfg, nil
}

func intEnv(key string, invalid *[]string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		*invalid = append(*invalid, key)
		return 0
	}
	return v
}

func durationEnv(key string, invalid *[]string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		*invalid = append(*invalid, key)
		return 0
	}
	return d
}
