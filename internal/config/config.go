// Package config loads server configuration from YAML and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Storage backends.
const (
	StorageGCS   = "gcs"
	StorageS3    = "s3"
	StorageLocal = "local"
)

// Billing backends.
const (
	BillingNone         = "none"
	BillingCostExplorer = "costexplorer"
	BillingExport       = "pgexport"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Logging   LoggingConfig   `yaml:"logging"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Storage   StorageConfig   `yaml:"storage"`
	Speech    SpeechConfig    `yaml:"speech"`
	GenAI     GenAIConfig     `yaml:"genai"`
	Billing   BillingConfig   `yaml:"billing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Mode            string        `yaml:"mode"` // gin mode: debug, release, test
	CORSOrigins     []string      `yaml:"cors-origins" env:"SERVER_CORS_ORIGINS"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	TempDir         string        `yaml:"temp-dir" env:"SERVER_TEMP_DIR"`
}

// DatabaseConfig selects the primary datastore.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max-open-conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max-idle-conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn-max-lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
}

// JWTConfig controls user token signing.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// LoggingConfig controls logrus output and file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb" env:"LOGGING_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max-backups" env:"LOGGING_MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max-age-days" env:"LOGGING_MAX_AGE_DAYS"`
}

// RedisConfig enables the job lock and report cache. Empty Addr disables redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaConfig enables lifecycle event publishing.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// StorageConfig selects the blob store backend.
type StorageConfig struct {
	Backend         string        `yaml:"backend"`
	Bucket          string        `yaml:"bucket"`
	Prefix          string        `yaml:"prefix"`
	LocalDir        string        `yaml:"local-dir" env:"STORAGE_LOCAL_DIR"`
	PublicBaseURL   string        `yaml:"public-base-url" env:"STORAGE_PUBLIC_BASE_URL"`
	CredentialsFile string        `yaml:"credentials-file" env:"STORAGE_CREDENTIALS_FILE"`
	AWSProfile      string        `yaml:"aws-profile" env:"STORAGE_AWS_PROFILE"`
	AWSRegion       string        `yaml:"aws-region" env:"STORAGE_AWS_REGION"`
	UploadURLTTL    time.Duration `yaml:"upload-url-ttl" env:"STORAGE_UPLOAD_URL_TTL"`
	PlaybackURLTTL  time.Duration `yaml:"playback-url-ttl" env:"STORAGE_PLAYBACK_URL_TTL"`
}

// SpeechConfig configures the speech-to-text client.
type SpeechConfig struct {
	CredentialsFile string `yaml:"credentials-file" env:"SPEECH_CREDENTIALS_FILE"`
	LanguageCode    string `yaml:"language-code" env:"SPEECH_LANGUAGE_CODE"`
	SampleRateHertz int32  `yaml:"sample-rate-hertz" env:"SPEECH_SAMPLE_RATE_HERTZ"`
	Encoding        string `yaml:"encoding"`
	Model           string `yaml:"model"`
	UseEnhanced     bool   `yaml:"use-enhanced" env:"SPEECH_USE_ENHANCED"`
}

// GenAIConfig configures the generative model client.
type GenAIConfig struct {
	APIKey          string        `yaml:"api-key" env:"GENAI_API_KEY"`
	Model           string        `yaml:"model"`
	BaseURL         string        `yaml:"base-url" env:"GENAI_BASE_URL"`
	Project         string        `yaml:"project"`
	Location        string        `yaml:"location"`
	MaxOutputTokens int32         `yaml:"max-output-tokens" env:"GENAI_MAX_OUTPUT_TOKENS"`
	Timeout         time.Duration `yaml:"timeout"`
}

// BillingConfig selects the billing warehouse.
type BillingConfig struct {
	Backend       string        `yaml:"backend"`
	AWSProfile    string        `yaml:"aws-profile" env:"BILLING_AWS_PROFILE"`
	HistoryMonths int           `yaml:"history-months" env:"BILLING_HISTORY_MONTHS"`
	ExportDSN     string        `yaml:"export-dsn" env:"BILLING_EXPORT_DSN"`
	ExportTable   string        `yaml:"export-table" env:"BILLING_EXPORT_TABLE"`
	WindowDays    int           `yaml:"window-days" env:"BILLING_WINDOW_DAYS"`
	Currency      string        `yaml:"currency"`
	CacheTTL      time.Duration `yaml:"cache-ttl" env:"BILLING_CACHE_TTL"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RetentionConfig controls background maintenance loops.
type RetentionConfig struct {
	Interval        time.Duration `yaml:"interval"`
	SettingsRefresh time.Duration `yaml:"settings-refresh" env:"RETENTION_SETTINGS_REFRESH"`
}

// Default returns a Config populated with defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Mode:            "release",
			ShutdownTimeout: 15 * time.Second,
		},
		JWT: JWTConfig{Expiry: 7 * 24 * time.Hour},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Kafka: KafkaConfig{Topic: "echolog.transcriptions"},
		Storage: StorageConfig{
			Backend:        StorageLocal,
			Prefix:         "audio/",
			LocalDir:       "data/blobs",
			UploadURLTTL:   24 * time.Hour,
			PlaybackURLTTL: 15 * time.Minute,
		},
		Speech: SpeechConfig{
			LanguageCode:    "it-IT",
			SampleRateHertz: 16000,
			Encoding:        "LINEAR16",
			Model:           "default",
			UseEnhanced:     true,
		},
		GenAI: GenAIConfig{
			Model:           "gemini-1.5-flash",
			Location:        "us-central1",
			MaxOutputTokens: 4096,
			Timeout:         90 * time.Second,
		},
		Billing: BillingConfig{
			Backend:    BillingNone,
			WindowDays: 30,
			Currency:   "USD",
			CacheTTL:   10 * time.Minute,
		},
		Metrics:   MetricsConfig{Enabled: true, Path: "/metrics"},
		Retention: RetentionConfig{Interval: 6 * time.Hour, SettingsRefresh: time.Minute},
	}
}

// Load reads the YAML file at path (or $CONFIG_FILE) over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDatabaseDSN reads only what the migrate command needs.
func LoadDatabaseDSN(path string) (string, error) {
	cfg := Default()
	if err := load(path, &cfg); err != nil {
		return "", err
	}
	dsn := strings.TrimSpace(cfg.Database.DSN)
	if dsn == "" {
		return "", errors.New("config: database dsn is required")
	}
	return dsn, nil
}

// Validate checks required keys and enum values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database dsn is required")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("config: jwt secret is required")
	}
	if c.JWT.Expiry <= 0 {
		c.JWT.Expiry = 7 * 24 * time.Hour
	}

	switch c.Storage.Backend {
	case StorageGCS, StorageS3:
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return fmt.Errorf("config: storage bucket is required for %s backend", c.Storage.Backend)
		}
	case StorageLocal:
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			return errors.New("config: storage local-dir is required for local backend")
		}
	default:
		return fmt.Errorf("config: unsupported storage backend %q", c.Storage.Backend)
	}

	switch c.Billing.Backend {
	case "", BillingNone, BillingCostExplorer:
	case BillingExport:
		if strings.TrimSpace(c.Billing.ExportDSN) == "" {
			return errors.New("config: billing export-dsn is required for pgexport backend")
		}
	default:
		return fmt.Errorf("config: unsupported billing backend %q", c.Billing.Backend)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("config: kafka brokers are required when kafka is enabled")
	}
	return nil
}
