// Package config loads and validates ArchiveDB configuration.
// Configuration comes from an optional YAML file with environment variable
// overrides on top; every setting has a usable default so the server can run
// with no config file at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSecretKey is the development fallback signing key. Deployments must
// override it via the config file or the SECRET_KEY environment variable.
const DefaultSecretKey = "your-super-secret-key-change-this-32-chars-min!"

// Config holds all ArchiveDB configuration.
type Config struct {
	// HTTP server settings
	Server ServerConfig `yaml:"server"`

	// SQLite database settings
	Database DatabaseConfig `yaml:"database"`

	// Token and password authentication
	Auth AuthConfig `yaml:"auth"`

	// Uploaded file storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig configures JWT issuance and the browser session cookie.
type AuthConfig struct {
	SecretKey string `yaml:"secret_key"`
	TokenTTL  string `yaml:"token_ttl"`
}

// StorageConfig configures uploaded file storage.
type StorageConfig struct {
	UploadDir string `yaml:"upload_dir"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`

	// AuditDir enables the registry audit trail when set. One JSON lines
	// file per day is written into this directory.
	AuditDir string `yaml:"audit_dir"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     "30s",
			WriteTimeout:    "30s",
			ShutdownTimeout: "5s",
		},

		Database: DatabaseConfig{
			Path: "data/archivedb.db",
		},

		Auth: AuthConfig{
			SecretKey: DefaultSecretKey,
			TokenTTL:  "60m",
		},

		Storage: StorageConfig{
			UploadDir: "uploaded_files",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file is not an error;
// defaults plus environment overrides are returned instead.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Token signing key (same variable the archive service always used)
	if key := os.Getenv("SECRET_KEY"); key != "" {
		c.Auth.SecretKey = key
	}
	if mins := os.Getenv("ACCESS_TOKEN_EXPIRE_MINUTES"); mins != "" {
		if n, err := strconv.Atoi(mins); err == nil && n > 0 {
			c.Auth.TokenTTL = fmt.Sprintf("%dm", n)
		}
	}

	// Server bind address
	if host := os.Getenv("ARCHIVEDB_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("ARCHIVEDB_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			c.Server.Port = n
		}
	}

	// Storage paths
	if path := os.Getenv("ARCHIVEDB_DB"); path != "" {
		c.Database.Path = path
	}
	if dir := os.Getenv("ARCHIVEDB_UPLOAD_DIR"); dir != "" {
		c.Storage.UploadDir = dir
	}

	// Logging
	if level := os.Getenv("ARCHIVEDB_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if dir := os.Getenv("ARCHIVEDB_AUDIT_DIR"); dir != "" {
		c.Logging.AuditDir = dir
	}
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetTokenTTL returns the access token lifetime as a duration.
func (c *Config) GetTokenTTL() time.Duration {
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil {
		return 60 * time.Minute
	}
	return d
}

// GetReadTimeout returns the HTTP read timeout as a duration.
func (c *Config) GetReadTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ReadTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the HTTP write timeout as a duration.
func (c *Config) GetWriteTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.WriteTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetShutdownTimeout returns the graceful shutdown timeout as a duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// UsingDefaultSecret reports whether the development signing key is in use.
func (c *Config) UsingDefaultSecret() bool {
	return c.Auth.SecretKey == DefaultSecretKey
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Auth.SecretKey == "" {
		return fmt.Errorf("auth secret key not configured (set SECRET_KEY)")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path not configured")
	}
	if c.Storage.UploadDir == "" {
		return fmt.Errorf("upload directory not configured")
	}
	return nil
}
