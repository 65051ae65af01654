// Package config provides YAML-based configuration with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when none is given.
const DefaultPath = "pneumoai.yaml"

// AppConfig represents the root configuration structure
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Inference InferenceConfig `yaml:"inference"`
	Storage   StorageConfig   `yaml:"storage"`
	Progress  ProgressConfig  `yaml:"progress"`
	Session   SessionConfig   `yaml:"session"`
	History   HistoryConfig   `yaml:"history"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `yaml:"port"`
	BindAddress  string `yaml:"bind_address"`
	EnableCORS   bool   `yaml:"enable_cors"`
	AllowOrigins string `yaml:"allow_origins"`
	ReadTimeout  int    `yaml:"read_timeout_seconds"`
	WriteTimeout int    `yaml:"write_timeout_seconds"`
	IdleTimeout  int    `yaml:"idle_timeout_seconds"`
	BodyLimit    string `yaml:"body_limit"`
}

// InferenceConfig locates the prediction and export service.
type InferenceConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// StorageConfig contains image storage settings
type StorageConfig struct {
	Backend          string      `yaml:"backend"` // local or minio
	DataDirectory    string      `yaml:"data_directory"`
	UploadsDirectory string      `yaml:"uploads_directory"`
	MaxUploadSizeMB  int         `yaml:"max_upload_size_mb"`
	Minio            MinioConfig `yaml:"minio"`
}

// MinioConfig contains S3-compatible bucket settings
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// ProgressConfig selects how analysis progress is reported
type ProgressConfig struct {
	Mode             string  `yaml:"mode"` // simulated or transfer
	ExpectedMillis   int     `yaml:"expected_duration_ms"`
	TickMillis       int     `yaml:"tick_interval_ms"`
	Cap              float64 `yaml:"cap"`
	FinishStep       float64 `yaml:"finish_step"`
	FinishIntervalMs int     `yaml:"finish_interval_ms"`
}

// SessionConfig contains session lifecycle settings
type SessionConfig struct {
	TimeoutMinutes         int `yaml:"timeout_minutes"`
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes"`
	MaxSessions            int `yaml:"max_sessions"`
	AnalysisTimeoutSeconds int `yaml:"analysis_timeout_seconds"`
}

// HistoryConfig selects the analysis archive
type HistoryConfig struct {
	Driver      string `yaml:"driver"` // duckdb, postgres or none
	DuckDBPath  string `yaml:"duckdb_path"`
	PostgresURL string `yaml:"postgres_url"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level             string `yaml:"level"`
	Format            string `yaml:"format"` // json or console
	EnableRequestLogs bool   `yaml:"enable_request_logging"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 120,
			IdleTimeout:  120,
			BodyLimit:    "25M",
		},
		Inference: InferenceConfig{
			BaseURL:        "http://localhost:8000",
			TimeoutSeconds: 120,
		},
		Storage: StorageConfig{
			Backend:          "local",
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			MaxUploadSizeMB:  20,
			Minio: MinioConfig{
				Bucket: "pneumoai",
				Prefix: "uploads",
			},
		},
		Progress: ProgressConfig{
			Mode:             "simulated",
			ExpectedMillis:   3000,
			TickMillis:       100,
			Cap:              90,
			FinishStep:       5,
			FinishIntervalMs: 20,
		},
		Session: SessionConfig{
			TimeoutMinutes:         30,
			CleanupIntervalMinutes: 5,
			MaxSessions:            100,
			AnalysisTimeoutSeconds: 120,
		},
		History: HistoryConfig{
			Driver:     "duckdb",
			DuckDBPath: "./data/history.duckdb",
		},
		Logging: LoggingConfig{
			Level:             "info",
			Format:            "json",
			EnableRequestLogs: true,
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file is created
// with defaults. A .env file next to it, if present, is loaded first.
func LoadConfig(configPath string) (*AppConfig, error) {
	return load(configPath, true)
}

// ReadConfig is LoadConfig without side effects: a missing file yields the
// defaults and nothing is written to disk.
func ReadConfig(configPath string) (*AppConfig, error) {
	return load(configPath, false)
}

func load(configPath string, createMissing bool) (*AppConfig, error) {
	configDir := filepath.Dir(configPath)
	if err := loadDotEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}

	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// If file doesn't exist, create default
		if createMissing {
			if err := config.Save(configPath); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(configDir)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// loadDotEnv loads KEY=VALUE pairs without overriding the real environment.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Save saves the configuration to a YAML file
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# PneumoAI gateway configuration\n# This file is auto-generated on first run\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR moves every default path along with it
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads")
		c.History.DuckDBPath = filepath.Join(dataDir, "history.duckdb")
	}

	setString(&c.Inference.BaseURL, "INFERENCE_BASE_URL")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")
	setString(&c.History.Driver, "HISTORY_DRIVER")
	setString(&c.History.PostgresURL, "HISTORY_POSTGRES_URL")
	setString(&c.Progress.Mode, "PROGRESS_MODE")
	setString(&c.Storage.Backend, "STORAGE_BACKEND")

	setString(&c.Storage.Minio.Endpoint, "MINIO_ENDPOINT")
	setString(&c.Storage.Minio.Region, "MINIO_REGION")
	setString(&c.Storage.Minio.Bucket, "MINIO_BUCKET")
	setString(&c.Storage.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.Storage.Minio.SecretKey, "MINIO_SECRET_KEY")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Storage.Minio.UseSSL = b
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.History.DuckDBPath,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// Validate checks values that have no sensible fallback.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Storage.MaxUploadSizeMB <= 0 {
		errs = append(errs, errors.New("storage.max_upload_size_mb must be positive"))
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "local", "":
	case "minio":
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			errs = append(errs, errors.New("storage.minio.endpoint and bucket are required for the minio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	switch strings.ToLower(c.Progress.Mode) {
	case "simulated", "transfer", "":
	default:
		errs = append(errs, fmt.Errorf("unknown progress.mode %q", c.Progress.Mode))
	}
	switch strings.ToLower(c.History.Driver) {
	case "duckdb", "none", "":
	case "postgres":
		if c.History.PostgresURL == "" {
			errs = append(errs, errors.New("history.postgres_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown history.driver %q", c.History.Driver))
	}
	return errors.Join(errs...)
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *AppConfig) MaxUploadBytes() int64 {
	return int64(c.Storage.MaxUploadSizeMB) * 1024 * 1024
}

// InferenceTimeout returns the request timeout for the inference client.
func (c *AppConfig) InferenceTimeout() time.Duration {
	return time.Duration(c.Inference.TimeoutSeconds) * time.Second
}

// SessionTimeout returns how long idle sessions are kept.
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutMinutes) * time.Minute
}

// CleanupInterval returns how often idle sessions are swept.
func (c *AppConfig) CleanupInterval() time.Duration {
	if c.Session.CleanupIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Session.CleanupIntervalMinutes) * time.Minute
}

// AnalysisTimeout bounds one analysis.
func (c *AppConfig) AnalysisTimeout() time.Duration {
	return time.Duration(c.Session.AnalysisTimeoutSeconds) * time.Second
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
	}
	if c.History.DuckDBPath != "" {
		dirs = append(dirs, filepath.Dir(c.History.DuckDBPath))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
