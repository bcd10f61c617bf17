package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ServerConfig controls the HTTP trigger surface.
type ServerConfig struct {
	// Addr is loopback-only unless HTTP_ADDR names another interface; the routes are unauthenticated.
	Addr            string
	ShutdownTimeout time.Duration
	// CaptureWait bounds how long a synchronous capture request waits for its result.
	CaptureWait time.Duration
}

// SettingsConfig points at the persisted provider settings.
type SettingsConfig struct {
	File       string
	Passphrase string
	Watch      bool
}

// ProviderConfig holds transport limits shared by all AI backends.
type ProviderConfig struct {
	Timeout time.Duration
}

// FetchConfig bounds URL capture and referenced file reads.
type FetchConfig struct {
	Timeout           time.Duration
	MaxBytes          int64
	MaxReferenceBytes int64
}

// RedisConfig defines the shared slot and session status backend.
type RedisConfig struct {
	URL              string
	SharedContentKey string
	StatusTTL        time.Duration
}

// S3Config defines access for s3:// references and the status probe.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	StatusBucket    string
}

// Config is the top-level configuration.
type Config struct {
	Environment string
	Logging     LoggingConfig
	Axiom       AxiomConfig
	Server      ServerConfig
	Settings    SettingsConfig
	Provider    ProviderConfig
	Fetch       FetchConfig
	Redis       RedisConfig
	S3          S3Config
}

// FromEnv loads configuration from environment with sensible defaults.
// A .env file in the working directory is applied first when present.
func FromEnv() Config {
	_ = godotenv.Load()

	cfg := Config{Environment: getEnv("ENVIRONMENT", "production")}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/writingtools.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_writingtools",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Server = ServerConfig{
		Addr:            getEnv("HTTP_ADDR", "127.0.0.1:"+getEnv("PORT", "8080")),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
		CaptureWait:     parseDuration(getEnv("CAPTURE_WAIT_TIMEOUT", "90s"), 90*time.Second),
	}

	cfg.Settings = SettingsConfig{
		File:       getEnv("SETTINGS_FILE", "settings.yaml"),
		Passphrase: getEnv("SETTINGS_PASSPHRASE", ""),
		Watch:      parseBool(getEnv("SETTINGS_WATCH", "true")),
	}

	cfg.Provider = ProviderConfig{
		Timeout: parseDuration(getEnv("PROVIDER_TIMEOUT", "60s"), 60*time.Second),
	}

	cfg.Fetch = FetchConfig{
		Timeout:           parseDuration(getEnv("FETCH_TIMEOUT", "15s"), 15*time.Second),
		MaxBytes:          parseInt64(getEnv("FETCH_MAX_BYTES", "5242880"), 5<<20),
		MaxReferenceBytes: parseInt64(getEnv("REFERENCE_MAX_BYTES", "268435456"), 256<<20),
	}

	cfg.Redis = RedisConfig{
		URL:              getEnv("REDIS_URL", ""),
		SharedContentKey: getEnv("SHARED_CONTENT_KEY", "writingtools:sharedContent"),
		StatusTTL:        parseDuration(getEnv("SESSION_STATUS_TTL", "24h"), 24*time.Hour),
	}

	cfg.S3 = S3Config{
		Region:          getEnv("S3_REGION", getEnv("AWS_REGION", "")),
		AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StatusBucket:    getEnv("STATUS_S3_BUCKET", ""),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseInt64(s string, def int64) int64 {
	if s == "" {
		return def
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
