package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultMaxPayloadBytes int64 = 2 * 1024 * 1024 // 2MB
	DefaultConfigPath            = "config.yaml"
	DefaultEnvPath               = ".env"
)

// Config holds the configuration for the video analysis service
type Config struct {
	Log struct {
		Level    string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR
		Format   string `yaml:"format"` // text, json
		Output   string `yaml:"output"` // stdout, stderr, /path/to/file
		Rotation struct {
			MaxSize    int  `yaml:"max_size"`    // Megabytes
			MaxBackups int  `yaml:"max_backups"` // Number of old files to keep
			MaxAge     int  `yaml:"max_age"`     // Days to keep
			Compress   bool `yaml:"compress"`
		} `yaml:"rotation"`
	} `yaml:"log"`

	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		Workers         int           `yaml:"workers"`    // Background job workers
		QueueSize       int           `yaml:"queue_size"` // Background job queue capacity
	} `yaml:"server"`

	Storage StorageConfig `yaml:"storage"`

	Payload PayloadConfig `yaml:"payload"`

	Embedding EmbeddingConfig `yaml:"embedding"`
}

// StorageConfig holds configuration for task persistence
type StorageConfig struct {
	Driver  string        `yaml:"driver"`  // sqlite
	DSN     string        `yaml:"dsn"`     // Connection string
	Timeout time.Duration `yaml:"timeout"` // Timeout for storage operations (default: 5s)
}

// PayloadConfig bounds analysis payloads accepted on the write path
type PayloadConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

// EmbeddingConfig holds configuration for summary embeddings and search
type EmbeddingConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Model     string        `yaml:"model"`
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"api_key"`    // From YAML or Env
	BatchSize int           `yaml:"batch_size"` // Summaries per embeddings request (default: 96)
	Parallel  int           `yaml:"parallel"`   // Concurrent requests per backfill (default: 2)
	Timeout   time.Duration `yaml:"timeout"`    // Per request
	Debounce  time.Duration `yaml:"debounce"`   // Quiet period before an automatic backfill
	AutoIndex bool          `yaml:"auto_index"` // Backfill after result writes
}

// GetLogLevel returns the slog.Level based on Log.Level string
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from YAML file and supplements with environment variables.
// A .env file, when present, is loaded into the environment first.
func LoadConfig() (*Config, error) {
	envPath := getEnv("ENV_FILE", DefaultEnvPath)
	if err := godotenv.Load(envPath); err == nil {
		slog.Info("env file loaded", "path", envPath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("load env file %s: %w", envPath, err)
	}

	cfg := &Config{}

	// Set some defaults before loading
	cfg.Log.Level = "INFO"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.Workers = 2
	cfg.Server.QueueSize = 16
	cfg.Payload.MaxBytes = DefaultMaxPayloadBytes

	// Log Rotation defaults
	cfg.Log.Rotation.MaxSize = 100
	cfg.Log.Rotation.MaxBackups = 10
	cfg.Log.Rotation.MaxAge = 7
	cfg.Log.Rotation.Compress = true

	// Storage defaults
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DSN = "video_analysis.db"
	cfg.Storage.Timeout = 5 * time.Second

	// Embedding defaults
	cfg.Embedding.Endpoint = "https://api.openai.com/v1"
	cfg.Embedding.Model = "text-embedding-3-small"
	cfg.Embedding.BatchSize = 96
	cfg.Embedding.Parallel = 2
	cfg.Embedding.Timeout = 60 * time.Second
	cfg.Embedding.Debounce = 5 * time.Second

	// Try to load from YAML
	configPath := getEnv("CONFIG_PATH", DefaultConfigPath)
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config %s: %w", configPath, err)
		}
		slog.Info("config loaded", "path", configPath)
	} else {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
		slog.Info("config not found, using defaults", "path", configPath)
	}

	// Always supplement/override with environment variables for secrets and critical items
	cfg.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", cfg.Embedding.APIKey)
	cfg.Embedding.Endpoint = getEnv("EMBEDDING_ENDPOINT", cfg.Embedding.Endpoint)
	cfg.Storage.DSN = getEnv("DATABASE_DSN", cfg.Storage.DSN)

	if envPort := getEnvInt("PORT", 0); envPort != 0 {
		cfg.Server.Port = envPort
	}
	if envMaxBytes := getEnvInt("PAYLOAD_MAX_BYTES", 0); envMaxBytes != 0 {
		cfg.Payload.MaxBytes = int64(envMaxBytes)
	}
	if envLogLevel := os.Getenv("LOG_LEVEL"); envLogLevel != "" {
		cfg.Log.Level = envLogLevel
	}
	if envLogFormat := os.Getenv("LOG_FORMAT"); envLogFormat != "" {
		cfg.Log.Format = envLogFormat
	}
	if envLogOutput := getEnv("LOG_OUTPUT", ""); envLogOutput != "" {
		cfg.Log.Output = envLogOutput
	}
	if envLogMaxSize := getEnvInt("LOG_MAX_SIZE", 0); envLogMaxSize != 0 {
		cfg.Log.Rotation.MaxSize = envLogMaxSize
	}
	if envLogMaxBackups := getEnvInt("LOG_MAX_BACKUPS", 0); envLogMaxBackups != 0 {
		cfg.Log.Rotation.MaxBackups = envLogMaxBackups
	}
	if envLogMaxAge := getEnvInt("LOG_MAX_AGE", 0); envLogMaxAge != 0 {
		cfg.Log.Rotation.MaxAge = envLogMaxAge
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}
	if c.Server.Workers < 1 {
		errs = append(errs, fmt.Sprintf("invalid worker count: %d", c.Server.Workers))
	}
	if c.Storage.Driver != "sqlite" {
		errs = append(errs, fmt.Sprintf("unsupported storage driver: %q", c.Storage.Driver))
	}
	if c.Storage.DSN == "" {
		errs = append(errs, "storage dsn is required")
	}
	if c.Payload.MaxBytes <= 0 {
		errs = append(errs, fmt.Sprintf("invalid payload max_bytes: %d", c.Payload.MaxBytes))
	}

	if c.Embedding.Enabled {
		if c.Embedding.APIKey == "" {
			errs = append(errs, "EMBEDDING_API_KEY is required when embeddings are enabled")
		}
		if c.Embedding.Model == "" {
			errs = append(errs, "embedding model is required")
		}
		if c.Embedding.BatchSize < 1 {
			errs = append(errs, fmt.Sprintf("invalid embedding batch_size: %d", c.Embedding.BatchSize))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Helper functions for reading environment variables

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
