package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
)

type Config struct {
	Store       string // postgres | sqlite
	DatabaseURI string
	SQLitePath  string

	Dispatcher     string // log | telegram | webhook
	TelegramToken  string
	TelegramChatID int64
	WebhookURL     string
	DispatchRate   float64 // dispatches per second, 0 = unlimited

	TriggerSpec     string
	DispatchTimeout time.Duration
	Workers         int

	SentLogPath      string // empty disables the duplicate-send journal
	SentLogRetention time.Duration

	HTTPPort int
	APIToken string // empty disables API auth

	LogLevel  string
	LogFormat string // console | json
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional in production
	}

	cfg := &Config{
		Store:       getEnvOrDefault("STORE", "sqlite"),
		DatabaseURI: os.Getenv("DATABASE_URI"),
		SQLitePath:  getEnvOrDefault("SQLITE_PATH", "remindd.db"),

		Dispatcher:    getEnvOrDefault("DISPATCHER", "log"),
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		WebhookURL:    os.Getenv("WEBHOOK_URL"),

		TriggerSpec: getEnvOrDefault("TRIGGER_SPEC", "1m"),

		SentLogPath: os.Getenv("SENTLOG_PATH"),

		APIToken:  os.Getenv("API_TOKEN"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "console"),
	}

	var err error
	if cfg.TelegramChatID, err = envInt64("TELEGRAM_CHAT_ID", 0); err != nil {
		return nil, err
	}
	if cfg.DispatchRate, err = envFloat("DISPATCH_RATE", 0); err != nil {
		return nil, err
	}
	if cfg.DispatchTimeout, err = envDuration("DISPATCH_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Workers, err = envInt("WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.SentLogRetention, err = envDuration("SENTLOG_RETENTION", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.HTTPPort, err = envInt("HTTP_PORT", 8484); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Store, validation.Required, validation.In("postgres", "sqlite")),
		validation.Field(&c.DatabaseURI,
			validation.Required.When(c.Store == "postgres").Error("DATABASE_URI is required for the postgres store")),
		validation.Field(&c.SQLitePath,
			validation.Required.When(c.Store == "sqlite").Error("SQLITE_PATH is required for the sqlite store")),
		validation.Field(&c.Dispatcher, validation.Required, validation.In("log", "telegram", "webhook")),
		validation.Field(&c.TelegramToken,
			validation.Required.When(c.Dispatcher == "telegram").Error("TELEGRAM_TOKEN is required for the telegram dispatcher")),
		validation.Field(&c.WebhookURL,
			validation.Required.When(c.Dispatcher == "webhook").Error("WEBHOOK_URL is required for the webhook dispatcher")),
		validation.Field(&c.TriggerSpec, validation.Required),
		validation.Field(&c.DispatchRate, validation.Min(0.0)),
		validation.Field(&c.Workers, validation.Min(1), validation.Max(64)),
		validation.Field(&c.HTTPPort, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error")),
		validation.Field(&c.LogFormat, validation.In("console", "json")),
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envInt64(key string, def int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
