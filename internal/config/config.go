package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Kafka struct {
		Broker  string
		Topic   string
		GroupID string
	}
	DB struct {
		DSN string
	}
	API struct {
		Port     string
		BasePath string
	}
	Logging struct {
		Dir   string
		Level string
	}
	Notification struct {
		QueueSize          int
		MaxWorkers         int
		PendingCap         int
		StaleWindow        time.Duration
		SweepInterval      time.Duration
		SweepTimeout       time.Duration
		OverdueRepeat      time.Duration
		DigestAt           string
		Timezone           string
		MaxSessionsPerUser int
	}
	Telegram struct {
		BotToken  string
		RateLimit int
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	// Kafka settings
	cfg.Kafka.Broker = os.Getenv("KAFKA_BROKER")
	cfg.Kafka.Topic = os.Getenv("KAFKA_TOPIC")
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")

	// Database DSN
	cfg.DB.DSN = os.Getenv("DB_DSN")

	// API settings
	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.BasePath = os.Getenv("API_BASE_PATH")

	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	// Notification engine settings
	if qs, err := strconv.Atoi(os.Getenv("QUEUE_SIZE")); err == nil {
		cfg.Notification.QueueSize = qs
	}
	if mw, err := strconv.Atoi(os.Getenv("MAX_WORKERS")); err == nil {
		cfg.Notification.MaxWorkers = mw
	}
	if pc, err := strconv.Atoi(os.Getenv("PENDING_CAP")); err == nil {
		cfg.Notification.PendingCap = pc
	}
	if ms, err := strconv.Atoi(os.Getenv("MAX_SESSIONS_PER_USER")); err == nil {
		cfg.Notification.MaxSessionsPerUser = ms
	}
	cfg.Notification.DigestAt = os.Getenv("DIGEST_AT")
	cfg.Notification.Timezone = os.Getenv("NOTIFY_TIMEZONE")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"STALE_WINDOW", &cfg.Notification.StaleWindow},
		{"SWEEP_INTERVAL", &cfg.Notification.SweepInterval},
		{"SWEEP_TIMEOUT", &cfg.Notification.SweepTimeout},
		{"OVERDUE_REPEAT", &cfg.Notification.OverdueRepeat},
	}
	for _, d := range durations {
		raw := strings.TrimSpace(os.Getenv(d.key))
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", d.key, raw, err)
		}
		*d.dst = v
	}

	// Telegram settings
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if rl, err := strconv.Atoi(os.Getenv("TELEGRAM_RATE_LIMIT")); err == nil {
		cfg.Telegram.RateLimit = rl
	}

	// Validate required settings
	missing := []string{}
	if cfg.DB.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	cfg.ApplyDefaults()

	if _, _, err := ParseHHMM(cfg.Notification.DigestAt); err != nil {
		return Config{}, fmt.Errorf("invalid DIGEST_AT: %w", err)
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Location resolves the notification timezone. Empty means the local zone.
func (cfg Config) Location() (*time.Location, error) {
	tz := cfg.Notification.Timezone
	if tz == "" {
		tz = "Local"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid NOTIFY_TIMEZONE %q: %w", tz, err)
	}
	return loc, nil
}

// ApplyDefaults fills every unset field with its default value.
func (cfg *Config) ApplyDefaults() {
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "task_events"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "task-notification-service"
	}
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v0"
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Notification.QueueSize == 0 {
		cfg.Notification.QueueSize = 500
	}
	if cfg.Notification.MaxWorkers == 0 {
		cfg.Notification.MaxWorkers = 4
	}
	if cfg.Notification.PendingCap == 0 {
		cfg.Notification.PendingCap = 5
	}
	if cfg.Notification.StaleWindow == 0 {
		cfg.Notification.StaleWindow = 24 * time.Hour
	}
	if cfg.Notification.SweepInterval == 0 {
		cfg.Notification.SweepInterval = time.Minute
	}
	if cfg.Notification.SweepTimeout == 0 {
		cfg.Notification.SweepTimeout = 30 * time.Second
	}
	if cfg.Notification.OverdueRepeat == 0 {
		cfg.Notification.OverdueRepeat = time.Hour
	}
	if cfg.Notification.DigestAt == "" {
		cfg.Notification.DigestAt = "09:00"
	}
	if cfg.Notification.Timezone == "" {
		cfg.Notification.Timezone = "Local"
	}
	if cfg.Notification.MaxSessionsPerUser == 0 {
		cfg.Notification.MaxSessionsPerUser = 10
	}
	if cfg.Telegram.RateLimit == 0 {
		cfg.Telegram.RateLimit = 25
	}
}

// ParseHHMM splits a "HH:MM" wall-clock string into hour and minute.
func ParseHHMM(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
