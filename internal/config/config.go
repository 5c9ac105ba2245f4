package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/Alias1177/VolumeSpike/models"
)

// State backends
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendWAL      = "wal"
	BackendMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	OandaAPIKey    string
	OandaAccountID string
	OandaBaseURL   string

	TelegramToken  string
	TelegramChatID int64

	// Settings are the initial engine settings; the HTTP surface may change them later
	Settings models.Settings

	Timezone      string
	Location      *time.Location
	LookbackDays  int
	RecentCandles int

	RequestTimeout time.Duration
	RequestsPerSec int
	MaxRetries     int

	StateBackend string
	StatePath    string
	Redis        RedisConfig
	Database     DatabaseConfig

	HTTPAddr  string
	LogLevel  string
	LogFormat string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// fileConfig is the optional YAML file; every field is optional
type fileConfig struct {
	Settings     *models.Settings `yaml:"settings"`
	Timezone     string           `yaml:"timezone"`
	StateBackend string           `yaml:"state_backend"`
	StatePath    string           `yaml:"state_path"`
	HTTPAddr     string           `yaml:"http_addr"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		OandaBaseURL:   "https://api-fxpractice.oanda.com",
		Settings:       models.DefaultSettings(),
		Timezone:       "Asia/Kolkata",
		LookbackDays:   21,
		RecentCandles:  30,
		RequestTimeout: 20 * time.Second,
		RequestsPerSec: 5,
		MaxRetries:     0,
		StateBackend:   BackendFile,
		StatePath:      "./state/alerts.json",
		Redis:          RedisConfig{Addr: "localhost:6379"},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			Name:    "volspike",
			SSLMode: "disable",
		},
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Load initializes configuration from .env, the optional YAML file and environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	return FromEnv()
}

// FromEnv builds the configuration from the process environment only
func FromEnv() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("VOLSPIKE_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.OandaAPIKey = os.Getenv("OANDA_API_KEY")
	cfg.OandaAccountID = os.Getenv("OANDA_ACCOUNT_ID")
	cfg.OandaBaseURL = getEnvWithDefault("OANDA_BASE_URL", cfg.OandaBaseURL)

	cfg.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		chatID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", raw, err)
		}
		cfg.TelegramChatID = chatID
	}

	if raw := os.Getenv("INSTRUMENTS"); raw != "" {
		cfg.Settings.Instruments = splitList(raw)
	}
	cfg.Settings.BucketMinutes = getEnvIntWithDefault("BUCKET_MINUTES", cfg.Settings.BucketMinutes)
	cfg.Settings.Multiplier = getEnvFloatWithDefault("THRESHOLD_MULTIPLIER", cfg.Settings.Multiplier)
	cfg.Settings.RefreshInterval = getEnvDurationWithDefault("REFRESH_INTERVAL", cfg.Settings.RefreshInterval)
	cfg.Settings.AlertsEnabled = getEnvBoolWithDefault("ALERTS_ENABLED", cfg.Settings.AlertsEnabled)

	cfg.Timezone = getEnvWithDefault("TIMEZONE", cfg.Timezone)
	cfg.LookbackDays = getEnvIntWithDefault("LOOKBACK_DAYS", cfg.LookbackDays)
	cfg.RecentCandles = getEnvIntWithDefault("RECENT_CANDLES", cfg.RecentCandles)

	cfg.RequestTimeout = getEnvDurationWithDefault("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.RequestsPerSec = getEnvIntWithDefault("REQUESTS_PER_SEC", cfg.RequestsPerSec)
	cfg.MaxRetries = getEnvIntWithDefault("MAX_RETRIES", cfg.MaxRetries)

	cfg.StateBackend = strings.ToLower(getEnvWithDefault("STATE_BACKEND", cfg.StateBackend))
	cfg.StatePath = getEnvWithDefault("STATE_PATH", cfg.StatePath)
	cfg.Redis.Addr = getEnvWithDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnvWithDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntWithDefault("REDIS_DB", cfg.Redis.DB)
	cfg.Database.Host = getEnvWithDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvWithDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvWithDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvWithDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnvWithDefault("DB_NAME", cfg.Database.Name)
	cfg.Database.SSLMode = getEnvWithDefault("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.HTTPAddr = getEnvWithDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getEnvWithDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvWithDefault("LOG_FORMAT", cfg.LogFormat)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	fc := fileConfig{Settings: &c.Settings}
	if err := yaml.Unmarshal(payload, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if fc.Timezone != "" {
		c.Timezone = fc.Timezone
	}
	if fc.StateBackend != "" {
		c.StateBackend = fc.StateBackend
	}
	if fc.StatePath != "" {
		c.StatePath = fc.StatePath
	}
	if fc.HTTPAddr != "" {
		c.HTTPAddr = fc.HTTPAddr
	}
	return nil
}

// Validate checks credentials, settings and the state backend selection
func (c *Config) Validate() error {
	var errs []error

	if c.OandaAPIKey == "" {
		errs = append(errs, errors.New("OANDA_API_KEY is required"))
	}
	if c.OandaAccountID == "" {
		errs = append(errs, errors.New("OANDA_ACCOUNT_ID is required"))
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set"))
	}
	if err := c.Settings.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.LookbackDays <= 0 {
		errs = append(errs, fmt.Errorf("LOOKBACK_DAYS must be positive, got %d", c.LookbackDays))
	}
	if c.RecentCandles < 2 {
		errs = append(errs, fmt.Errorf("RECENT_CANDLES must be at least 2, got %d", c.RecentCandles))
	}
	if c.RequestsPerSec <= 0 {
		errs = append(errs, fmt.Errorf("REQUESTS_PER_SEC must be positive, got %d", c.RequestsPerSec))
	}

	switch c.StateBackend {
	case BackendFile, BackendSQLite, BackendPostgres, BackendRedis, BackendWAL, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STATE_BACKEND %q", c.StateBackend))
	}

	return errors.Join(errs...)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid integer, using default")
	}
	return defaultValue
}

func getEnvFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid number, using default")
	}
	return defaultValue
}

func getEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		value = strings.ToLower(value)
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getEnvDurationWithDefault accepts Go durations ("5m") or plain seconds ("300")
func getEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Warn().Str("key", key).Str("value", value).Msg("Invalid duration, using default")
	return defaultValue
}
