// Package config provides unified configuration loading for the archive engine.
// Supports YAML files, .env files, environment variables and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the archive engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Storage       StorageConfig       `yaml:"storage"`
	Render        RenderConfig        `yaml:"render"`
	OCR           OCRConfig           `yaml:"ocr"`
	LLM           LLMConfig           `yaml:"llm"`
	Retry         RetryConfig         `yaml:"retry"`
	Cache         CacheConfig         `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	// MaxUploadMB caps a single source PDF upload.
	MaxUploadMB int64 `yaml:"max_upload_mb"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// StorageConfig describes where source PDFs and catalogue artifacts live.
type StorageConfig struct {
	// Root is the directory all client supplied paths are resolved against.
	Root string `yaml:"root"`
	// CatalogueMarker prefixes page labels in catalogue artifacts ("页码5").
	CatalogueMarker string `yaml:"catalogue_marker"`
}

// RenderConfig holds rasterization settings.
type RenderConfig struct {
	CatalogueDPI float64 `yaml:"catalogue_dpi"`
	SegmentDPI   float64 `yaml:"segment_dpi"`
}

// OCRConfig selects and tunes the OCR engine.
type OCRConfig struct {
	Engine      string              `yaml:"engine"` // tesseract or vision
	Workers     int                 `yaml:"workers"`
	CallTimeout time.Duration       `yaml:"call_timeout"`
	Languages   map[string][]string `yaml:"languages"`
	VisionModel string              `yaml:"vision_model"`
}

// LLMConfig holds the OpenAI-compatible completion endpoint settings.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RetryConfig bounds retries of external calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

// CacheConfig holds progress broadcast settings.
type CacheConfig struct {
	Driver string      `yaml:"driver"` // none or redis
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	PoolSize      int    `yaml:"pool_size"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads .env files, then the YAML file at path (if any), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	loadDotEnv()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads .env from the working directory and up to two parents.
// Variables already set in the environment win.
func loadDotEnv() {
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// DefaultConfig returns a configuration with development defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     10 * time.Minute,
			IdleTimeout:      120 * time.Second,
			RequestTimeout:   10 * time.Minute,
			GracefulShutdown: 15 * time.Second,
			AllowedOrigins:   []string{"*"},
			MaxUploadMB:      512,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "data/archive.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Storage: StorageConfig{
			Root:            ".",
			CatalogueMarker: "页码",
		},
		Render: RenderConfig{
			CatalogueDPI: 500,
			SegmentDPI:   500,
		},
		OCR: OCRConfig{
			Engine:      "tesseract",
			Workers:     runtime.NumCPU(),
			CallTimeout: 2 * time.Minute,
			Languages: map[string][]string{
				"中文": {"chi_sim", "eng"},
				"英文": {"eng"},
			},
			VisionModel: "gpt-4o-mini",
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0,
			Timeout:     2 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts: 2,
			Backoff:     2 * time.Second,
		},
		Cache: CacheConfig{
			Driver: "none",
			Redis: RedisConfig{
				Addr:          "localhost:6379",
				PoolSize:      10,
				ChannelPrefix: "archive:progress:",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "archive-engine",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("server.max_upload_mb must be >= 1, got %d", c.Server.MaxUploadMB)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres":
		if c.Database.Postgres.DSN == "" {
			return fmt.Errorf("postgres dsn is required")
		}
	default:
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Storage.CatalogueMarker == "" {
		return fmt.Errorf("catalogue marker must not be empty")
	}

	if c.Render.CatalogueDPI <= 0 || c.Render.SegmentDPI <= 0 {
		return fmt.Errorf("render dpi must be positive")
	}

	if c.OCR.Engine != "tesseract" && c.OCR.Engine != "vision" {
		return fmt.Errorf("invalid ocr engine: %s", c.OCR.Engine)
	}
	if c.OCR.Workers < 1 {
		return fmt.Errorf("ocr workers must be >= 1, got %d", c.OCR.Workers)
	}
	if len(c.OCR.Languages) == 0 {
		return fmt.Errorf("at least one ocr language must be configured")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be >= 1")
	}
	if c.Retry.Backoff < 0 {
		return fmt.Errorf("retry backoff must not be negative")
	}

	if c.Cache.Driver != "none" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	return nil
}

// DatabaseDSN returns the connection string for the configured driver.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// LanguageCodes returns the OCR language codes for a language tag such as
// "中文" and whether the tag is supported.
func (c *Config) LanguageCodes(tag string) ([]string, bool) {
	codes, ok := c.OCR.Languages[strings.TrimSpace(tag)]
	return codes, ok
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("ARCHIVE_ROOT"); v != "" {
		cfg.Storage.Root = v
	}

	if v := os.Getenv("OCR_ENGINE"); v != "" {
		cfg.OCR.Engine = v
	}

	if v := os.Getenv("OCR_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OCR.Workers = n
		}
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves path against baseDir unless it is absolute.
func ResolveRelativePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
